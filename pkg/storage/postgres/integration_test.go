//go:build integration

package postgres

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/dungkhmt/serp-sub000/pkg/apperr"
	"github.com/dungkhmt/serp-sub000/pkg/outbox"
	"github.com/dungkhmt/serp-sub000/pkg/plans"
	"github.com/dungkhmt/serp-sub000/pkg/storage"
	"github.com/dungkhmt/serp-sub000/pkg/subscriptions"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupPostgres(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	provider, err := testcontainers.ProviderDocker.GetProvider()
	if err != nil {
		t.Skip("Docker/Podman not available, skipping integration tests")
	}
	defer provider.Close()

	container, err := tcpostgres.Run(ctx, "postgres:15-alpine",
		tcpostgres.WithDatabase("serp_test"),
		tcpostgres.WithUsername("serp"),
		tcpostgres.WithPassword("serp_test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Skipf("Failed to start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(cleanupCtx); err != nil {
			t.Errorf("Failed to terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := Open(ctx, ConnectionConfig{URL: connStr, MaxConns: 10, MinConns: 2})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger, _ := test.NewNullLogger()
	require.NoError(t, RunMigrations(ctx, db, logger))
	require.NoError(t, RunMigrations(ctx, db, logger), "migrations are idempotent")

	_, err = db.ExecContext(ctx, `
		INSERT INTO organizations (id, name, owner_id) VALUES (1, 'Acme', 100);
		INSERT INTO subscription_plans (id, code, name, monthly_price, yearly_price) VALUES (1, 'BASIC', 'Basic', 10, 100);
	`)
	require.NoError(t, err)
	return db
}

func activeRow() *subscriptions.Subscription {
	now := time.Now().UTC().Truncate(time.Second)
	return &subscriptions.Subscription{
		OrganizationID: 1,
		PlanID:         1,
		Status:         subscriptions.StatusActive,
		BillingCycle:   plans.Monthly,
		StartDate:      now,
		EndDate:        now.AddDate(0, 0, 30),
		TotalAmount:    decimal.NewFromInt(10),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestIntegrationPartialUniqueIndex(t *testing.T) {
	sqlDB := setupPostgres(t)
	db := New(sqlDB)
	ctx := context.Background()

	first := activeRow()
	require.NoError(t, db.Subscriptions().Create(ctx, first))

	err := db.Subscriptions().Create(ctx, activeRow())
	assert.ErrorIs(t, err, apperr.ErrActiveSubscriptionExists)

	first.Status = subscriptions.StatusExpired
	require.NoError(t, db.Subscriptions().Update(ctx, first))
	require.NoError(t, db.Subscriptions().Create(ctx, activeRow()), "expired rows do not count as current")
}

func TestIntegrationConcurrentUnitsOfWork(t *testing.T) {
	sqlDB := setupPostgres(t)
	db := New(sqlDB)
	ctx := context.Background()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := db.Do(ctx, 1, func(ctx context.Context, tx storage.Tx) error {
				if _, err := tx.Subscriptions().GetCurrent(ctx, 1); err == nil {
					return apperr.ErrActiveSubscriptionExists
				}
				sub := activeRow()
				if err := tx.Subscriptions().Create(ctx, sub); err != nil {
					return err
				}
				item := outbox.NewItem(outbox.KindGrantPlanModules, 1, sub.ID, outbox.Payload{PlanID: 1}, sub.CreatedAt)
				return tx.Outbox().Enqueue(ctx, item)
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	pending, err := db.Outbox().CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pending)
}

func TestIntegrationOutboxSkipLocked(t *testing.T) {
	sqlDB := setupPostgres(t)
	db := New(sqlDB)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		require.NoError(t, db.Outbox().Enqueue(ctx, outbox.NewItem(outbox.KindRevokePlanModules, 1, 1, outbox.Payload{PlanID: 1}, now)))
	}

	first, err := db.Outbox().ClaimDue(ctx, now, now.Add(time.Minute), 2)
	require.NoError(t, err)
	assert.Len(t, first, 2)

	second, err := db.Outbox().ClaimDue(ctx, now, now.Add(time.Minute), 2)
	require.NoError(t, err)
	assert.Len(t, second, 1, "leased items are not claimed again")
}
