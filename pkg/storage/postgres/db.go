// Package postgres is the PostgreSQL storage backend.
//
// The ledger is guarded twice: every unit of work takes
// pg_advisory_xact_lock(organization_id) before reading, and the partial
// unique index uq_org_current_subscription rejects a second ACTIVE or
// PENDING_UPGRADE row for one organization. Entitlement lock scopes use the
// two-key form pg_advisory_xact_lock(organization_id, module_id), whose key
// space does not overlap the single-key form.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dungkhmt/serp-sub000/pkg/orgs"
	"github.com/dungkhmt/serp-sub000/pkg/outbox"
	"github.com/dungkhmt/serp-sub000/pkg/plans"
	"github.com/dungkhmt/serp-sub000/pkg/storage"
	"github.com/dungkhmt/serp-sub000/pkg/subscriptions"
	"github.com/lib/pq"
)

const (
	uniqueViolation        = "23505"
	currentSubscriptionIdx = "uq_org_current_subscription"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// DB is the PostgreSQL backend.
type DB struct {
	db *sql.DB
}

// New wraps an open connection pool.
func New(db *sql.DB) *DB {
	return &DB{db: db}
}

var _ storage.UnitOfWork = (*DB)(nil)

// Do implements storage.UnitOfWork.
func (d *DB) Do(ctx context.Context, orgID int64, fn func(ctx context.Context, tx storage.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", orgID); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to lock organization %d: %w", orgID, err)
	}

	if err := fn(ctx, txStores{q: tx}); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type txStores struct {
	q querier
}

func (t txStores) Subscriptions() subscriptions.Store { return &SubscriptionStore{q: t.q} }
func (t txStores) Plans() plans.Store { return &PlanStore{q: t.q} }
func (t txStores) Organizations() orgs.Store { return &OrganizationStore{q: t.q} }
func (t txStores) Outbox() outbox.Store { return &OutboxStore{q: t.q} }

// Subscriptions returns the ledger store outside any unit of work.
func (d *DB) Subscriptions() *SubscriptionStore { return &SubscriptionStore{q: d.db} }

// Plans returns the plan store.
func (d *DB) Plans() *PlanStore { return &PlanStore{q: d.db} }

// Organizations returns the organization store.
func (d *DB) Organizations() *OrganizationStore { return &OrganizationStore{q: d.db} }

// Outbox returns the outbox store.
func (d *DB) Outbox() *OutboxStore { return &OutboxStore{q: d.db} }

// Access returns the entitlement store.
func (d *DB) Access() *AccessStore { return &AccessStore{q: d.db, db: d.db} }

// Modules returns the module catalog.
func (d *DB) Modules() *ModuleCatalog { return &ModuleCatalog{q: d.db} }

// Roles returns the role directory.
func (d *DB) Roles() *RoleStore { return &RoleStore{q: d.db} }

func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != uniqueViolation {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}

func nullInt64(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func nullInt(n sql.NullInt32) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int32)
	return &v
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
