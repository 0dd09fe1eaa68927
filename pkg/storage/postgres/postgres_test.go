package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dungkhmt/serp-sub000/pkg/apperr"
	"github.com/dungkhmt/serp-sub000/pkg/entitlements"
	"github.com/dungkhmt/serp-sub000/pkg/identity"
	"github.com/dungkhmt/serp-sub000/pkg/outbox"
	"github.com/dungkhmt/serp-sub000/pkg/plans"
	"github.com/dungkhmt/serp-sub000/pkg/storage"
	"github.com/dungkhmt/serp-sub000/pkg/subscriptions"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newMock(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return New(db), mock
}

var subscriptionCols = []string{
	"id", "organization_id", "plan_id", "previous_subscription_id", "status", "billing_cycle",
	"start_date", "end_date", "trial_ends_at", "is_auto_renew", "total_amount", "notes",
	"activated_by", "activated_at", "cancelled_by", "cancelled_at", "cancellation_reason",
	"created_by", "created_at", "updated_by", "updated_at",
}

func TestDoCommitsUnderOrganizationLock(t *testing.T) {
	db, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").WithArgs(int64(7)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE organizations SET current_subscription_id").
		WithArgs(int64(7), int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := db.Do(context.Background(), 7, func(ctx context.Context, tx storage.Tx) error {
		id := int64(42)
		return tx.Organizations().UpdateCurrentSubscriptionPointer(ctx, 7, &id)
	})
	require.NoError(t, err)
}

func TestDoRollsBackOnError(t *testing.T) {
	db, mock := newMock(t)
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").WithArgs(int64(7)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	err := db.Do(context.Background(), 7, func(ctx context.Context, tx storage.Tx) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestSubscriptionCreateMapsCurrentRowConflict(t *testing.T) {
	db, mock := newMock(t)

	mock.ExpectQuery("INSERT INTO organization_subscriptions").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "uq_org_current_subscription"})

	sub := &subscriptions.Subscription{
		OrganizationID: 1,
		PlanID:         2,
		Status:         subscriptions.StatusActive,
		BillingCycle:   plans.Monthly,
		StartDate:      t0,
		EndDate:        t0.AddDate(0, 0, 30),
		TotalAmount:    decimal.NewFromInt(10),
	}
	err := db.Subscriptions().Create(context.Background(), sub)
	assert.ErrorIs(t, err, apperr.ErrActiveSubscriptionExists)
	assert.Equal(t, apperr.KindStateConflict, apperr.KindOf(err))
}

func TestSubscriptionCreate(t *testing.T) {
	db, mock := newMock(t)

	mock.ExpectQuery("INSERT INTO organization_subscriptions").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(11)))

	sub := &subscriptions.Subscription{OrganizationID: 1, PlanID: 2, Status: subscriptions.StatusPending, BillingCycle: plans.Yearly}
	require.NoError(t, db.Subscriptions().Create(context.Background(), sub))
	assert.Equal(t, int64(11), sub.ID)
}

func TestSubscriptionGetCurrent(t *testing.T) {
	db, mock := newMock(t)
	trialEnds := t0.AddDate(0, 0, 14)

	rows := sqlmock.NewRows(subscriptionCols).AddRow(
		int64(5), int64(1), int64(2), int64(4), "ACTIVE", "MONTHLY",
		t0, trialEnds, trialEnds, true, "0.00", "",
		int64(9), t0, nil, nil, "",
		int64(9), t0, nil, t0,
	)
	mock.ExpectQuery("SELECT (.+) FROM organization_subscriptions").WithArgs(int64(1)).WillReturnRows(rows)

	sub, err := db.Subscriptions().GetCurrent(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, subscriptions.StatusActive, sub.Status)
	assert.Equal(t, plans.Monthly, sub.BillingCycle)
	require.NotNil(t, sub.PreviousSubscriptionID)
	assert.Equal(t, int64(4), *sub.PreviousSubscriptionID)
	require.NotNil(t, sub.TrialEndsAt)
	assert.True(t, trialEnds.Equal(*sub.TrialEndsAt))
	assert.Nil(t, sub.CancelledAt)
	assert.True(t, sub.TotalAmount.IsZero())
}

func TestSubscriptionGetByIDNotFound(t *testing.T) {
	db, mock := newMock(t)

	mock.ExpectQuery("SELECT (.+) FROM organization_subscriptions WHERE id").
		WithArgs(int64(99)).
		WillReturnRows(sqlmock.NewRows(subscriptionCols))

	_, err := db.Subscriptions().GetByID(context.Background(), 99)
	assert.ErrorIs(t, err, apperr.ErrSubscriptionNotFound)
}

func TestSubscriptionUpdateMissingRow(t *testing.T) {
	db, mock := newMock(t)

	mock.ExpectExec("UPDATE organization_subscriptions SET").WillReturnResult(sqlmock.NewResult(0, 0))

	err := db.Subscriptions().Update(context.Background(), &subscriptions.Subscription{ID: 3, Status: subscriptions.StatusExpired})
	assert.ErrorIs(t, err, apperr.ErrSubscriptionNotFound)
}

func TestPlanStore(t *testing.T) {
	db, mock := newMock(t)
	ctx := context.Background()

	cols := []string{"id", "code", "name", "monthly_price", "yearly_price", "trial_days", "max_users",
		"is_active", "is_custom", "organization_id", "display_order", "created_at", "updated_at"}
	mock.ExpectQuery("SELECT (.+) FROM subscription_plans WHERE code").
		WithArgs("PRO").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			int64(3), "PRO", "Professional", "49.00", "490.00", 14, int64(25),
			true, false, nil, 2, t0, t0,
		))

	plan, err := db.Plans().GetPlanByCode(ctx, "PRO")
	require.NoError(t, err)
	assert.True(t, plan.MonthlyPrice.Equal(decimal.NewFromInt(49)))
	require.NotNil(t, plan.MaxUsers)
	assert.Equal(t, 25, *plan.MaxUsers)
	assert.Nil(t, plan.OrganizationID)

	mock.ExpectQuery("INSERT INTO subscription_plans").WillReturnError(&pq.Error{Code: "23505", Constraint: "subscription_plans_code_key"})
	err = db.Plans().CreatePlan(ctx, &plans.Plan{Code: "PRO"})
	assert.ErrorIs(t, err, apperr.ErrDuplicate)

	mock.ExpectQuery("INSERT INTO plan_modules").
		WithArgs(int64(3), int64(8), true, "STANDARD", nil).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(70)))
	pm := &plans.PlanModule{PlanID: 3, ModuleID: 8, IsIncluded: true}
	require.NoError(t, db.Plans().UpsertPlanModule(ctx, pm))
	assert.Equal(t, int64(70), pm.ID)

	mock.ExpectQuery("SELECT (.+) FROM plan_modules").
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "plan_id", "module_id", "is_included", "license_type", "max_users_per_module"}).
			AddRow(int64(70), int64(3), int64(8), true, "PREMIUM", int64(5)).
			AddRow(int64(71), int64(3), int64(9), false, "STANDARD", nil))
	rows, err := db.Plans().ListPlanModules(ctx, 3)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, plans.LicensePremium, rows[0].LicenseType)
	assert.Equal(t, 5, *rows[0].MaxUsersPerModule)
	assert.Nil(t, rows[1].MaxUsersPerModule)
}

func TestOrganizationStore(t *testing.T) {
	db, mock := newMock(t)
	ctx := context.Background()

	mock.ExpectQuery("SELECT (.+) FROM organizations").
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "owner_id", "current_subscription_id", "is_active", "created_at", "updated_at"}).
			AddRow(int64(1), "Acme", int64(100), nil, true, t0, t0))
	org, err := db.Organizations().GetOrganizationByID(ctx, 1)
	require.NoError(t, err)
	assert.True(t, org.HasOwner())
	assert.Nil(t, org.CurrentSubscriptionID)

	mock.ExpectExec("UPDATE organizations").WillReturnResult(sqlmock.NewResult(0, 0))
	err = db.Organizations().UpdateCurrentSubscriptionPointer(ctx, 2, nil)
	assert.ErrorIs(t, err, apperr.ErrOrganizationNotFound)
}

var outboxCols = []string{"id", "idempotency_key", "kind", "organization_id", "subscription_id", "payload",
	"status", "attempts", "last_error", "available_at", "created_at", "processed_at"}

func TestOutboxClaimDue(t *testing.T) {
	db, mock := newMock(t)
	lease := t0.Add(time.Minute)

	mock.ExpectQuery("UPDATE entitlement_outbox SET available_at").
		WithArgs(t0, lease, 10).
		WillReturnRows(sqlmock.NewRows(outboxCols).
			AddRow(int64(8), "k8", "revoke_plan_modules", int64(1), int64(4), []byte(`{"plan_id":2}`), "pending", 0, "", lease, t0, nil).
			AddRow(int64(3), "k3", "grant_plan_modules", int64(1), int64(5), []byte(`{"plan_id":3,"previous_plan_id":2,"user_ids":[100]}`), "pending", 1, "timeout", lease, t0, nil))

	items, err := db.Outbox().ClaimDue(context.Background(), t0, lease, 10)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, int64(3), items[0].ID)
	assert.Equal(t, outbox.KindGrantPlanModules, items[0].Kind)
	require.NotNil(t, items[0].Payload.PreviousPlanID)
	assert.Equal(t, int64(2), *items[0].Payload.PreviousPlanID)
	assert.Equal(t, []int64{100}, items[0].Payload.UserIDs)
	assert.Equal(t, 1, items[0].Attempts)
}

func TestOutboxClaimNotClaimable(t *testing.T) {
	db, mock := newMock(t)

	mock.ExpectQuery("UPDATE entitlement_outbox SET available_at").
		WillReturnRows(sqlmock.NewRows(outboxCols))

	item, err := db.Outbox().Claim(context.Background(), 5, t0, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Nil(t, item)
}

func TestOutboxEnqueueAndMarkFailed(t *testing.T) {
	db, mock := newMock(t)
	ctx := context.Background()

	item := outbox.NewItem(outbox.KindGrantPlanModules, 1, 4, outbox.Payload{PlanID: 2}, t0)
	mock.ExpectQuery("INSERT INTO entitlement_outbox").
		WithArgs(item.Key, "grant_plan_modules", int64(1), int64(4), `{"plan_id":2}`, "pending", 0, "", t0, t0).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(12)))
	require.NoError(t, db.Outbox().Enqueue(ctx, item))
	assert.Equal(t, int64(12), item.ID)

	mock.ExpectExec("UPDATE entitlement_outbox SET status").
		WithArgs(int64(12), "dead", 8, "boom", t0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, db.Outbox().MarkFailed(ctx, 12, outbox.Failure{Attempts: 8, LastError: "boom", AvailableAt: t0, Dead: true}))
}

func TestAccessAtomicallyLocksModule(t *testing.T) {
	db, mock := newMock(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").WithArgs(int64(1), int64(5)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT COUNT").WithArgs(int64(5), int64(1)).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectQuery("INSERT INTO user_module_access").WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(30)))
	mock.ExpectCommit()

	err := db.Access().Atomically(ctx, 1, 5, func(tx entitlements.Store) error {
		n, err := tx.CountActive(ctx, 5, 1)
		if err != nil {
			return err
		}
		assert.Equal(t, 2, n)
		return tx.Insert(ctx, &entitlements.Access{UserID: 7, ModuleID: 5, OrganizationID: 1, IsActive: true, GrantedAt: t0})
	})
	require.NoError(t, err)
}

func TestAccessAtomicallyRollsBack(t *testing.T) {
	db, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	err := db.Access().Atomically(context.Background(), 1, 5, func(tx entitlements.Store) error {
		return apperr.ErrModuleCapacity
	})
	assert.ErrorIs(t, err, apperr.ErrModuleCapacity)
}

func TestAccessGetNotFound(t *testing.T) {
	db, mock := newMock(t)

	mock.ExpectQuery("SELECT (.+) FROM user_module_access").
		WithArgs(int64(7), int64(5), int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := db.Access().Get(context.Background(), 7, 5, 1)
	assert.ErrorIs(t, err, apperr.ErrGrantNotFound)
}

func TestModulesAndRoles(t *testing.T) {
	db, mock := newMock(t)
	ctx := context.Background()

	mock.ExpectQuery("SELECT EXISTS").WithArgs(int64(5)).WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	ok, err := db.Modules().ModuleIsAvailable(ctx, 5)
	require.NoError(t, err)
	assert.True(t, ok)

	mock.ExpectQuery("SELECT id, name, module_id FROM roles").
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "module_id"}).AddRow(int64(50), "crm-user", int64(5)))
	roles, err := db.Roles().GetRolesByModuleID(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, []identity.Role{{ID: 50, Name: "crm-user", ModuleID: 5}}, roles)

	mock.ExpectExec("INSERT INTO user_roles").
		WithArgs(int64(9), int64(1), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, db.Roles().AssignRolesToUser(ctx, 9, 1, roles))

	require.NoError(t, db.Roles().RemoveRolesFromUser(ctx, 9, 1, nil), "no roles issues no query")
}

func TestRunMigrationsAppliesPending(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()
	logger, hook := test.NewNullLogger()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS subscription_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT version FROM subscription_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(1).AddRow(2).AddRow(3).AddRow(4))
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS entitlement_outbox").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO subscription_migrations").
		WithArgs(5, "Create entitlement_outbox table").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, RunMigrations(context.Background(), sqlDB, logger))
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Len(t, hook.AllEntries(), 2)
}

func TestMigrationVersionsAreOrdered(t *testing.T) {
	migrations := GetMigrations()
	for i, m := range migrations {
		assert.Equal(t, i+1, m.Version)
		assert.NotEmpty(t, m.SQL)
	}
}
