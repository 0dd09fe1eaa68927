package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns the schema migrations in order.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create organizations, modules and roles tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS organizations (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					owner_id BIGINT,
					current_subscription_id BIGINT,
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS modules (
					id BIGSERIAL PRIMARY KEY,
					code VARCHAR(100) NOT NULL UNIQUE,
					name VARCHAR(255) NOT NULL,
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS roles (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					module_id BIGINT NOT NULL REFERENCES modules(id) ON DELETE CASCADE,
					UNIQUE(module_id, name)
				);

				CREATE TABLE IF NOT EXISTS user_roles (
					user_id BIGINT NOT NULL,
					organization_id BIGINT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
					role_id BIGINT NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
					granted_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					PRIMARY KEY (user_id, organization_id, role_id)
				);

				CREATE INDEX idx_roles_module_id ON roles(module_id);
			`,
		},
		{
			Version:     2,
			Description: "Create subscription_plans and plan_modules tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS subscription_plans (
					id BIGSERIAL PRIMARY KEY,
					code VARCHAR(100) NOT NULL UNIQUE,
					name VARCHAR(255) NOT NULL,
					monthly_price NUMERIC(12, 2) NOT NULL DEFAULT 0,
					yearly_price NUMERIC(12, 2) NOT NULL DEFAULT 0,
					trial_days INT NOT NULL DEFAULT 0,
					max_users INT,
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					is_custom BOOLEAN NOT NULL DEFAULT FALSE,
					organization_id BIGINT REFERENCES organizations(id) ON DELETE CASCADE,
					display_order INT NOT NULL DEFAULT 0,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS plan_modules (
					id BIGSERIAL PRIMARY KEY,
					plan_id BIGINT NOT NULL REFERENCES subscription_plans(id) ON DELETE CASCADE,
					module_id BIGINT NOT NULL REFERENCES modules(id) ON DELETE CASCADE,
					is_included BOOLEAN NOT NULL DEFAULT TRUE,
					license_type VARCHAR(32) NOT NULL DEFAULT 'STANDARD',
					max_users_per_module INT,
					UNIQUE(plan_id, module_id)
				);

				CREATE INDEX idx_subscription_plans_organization_id ON subscription_plans(organization_id);
				CREATE INDEX idx_plan_modules_plan_id ON plan_modules(plan_id);
			`,
		},
		{
			Version:     3,
			Description: "Create organization_subscriptions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS organization_subscriptions (
					id BIGSERIAL PRIMARY KEY,
					organization_id BIGINT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
					plan_id BIGINT NOT NULL REFERENCES subscription_plans(id),
					previous_subscription_id BIGINT REFERENCES organization_subscriptions(id),
					status VARCHAR(32) NOT NULL CHECK (status IN ('PENDING', 'ACTIVE', 'PENDING_UPGRADE', 'EXPIRED', 'CANCELLED')),
					billing_cycle VARCHAR(16) NOT NULL CHECK (billing_cycle IN ('MONTHLY', 'YEARLY')),
					start_date TIMESTAMPTZ NOT NULL,
					end_date TIMESTAMPTZ NOT NULL,
					trial_ends_at TIMESTAMPTZ,
					is_auto_renew BOOLEAN NOT NULL DEFAULT FALSE,
					total_amount NUMERIC(12, 2) NOT NULL DEFAULT 0,
					notes TEXT NOT NULL DEFAULT '',
					activated_by BIGINT,
					activated_at TIMESTAMPTZ,
					cancelled_by BIGINT,
					cancelled_at TIMESTAMPTZ,
					cancellation_reason TEXT NOT NULL DEFAULT '',
					created_by BIGINT,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_by BIGINT,
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE UNIQUE INDEX uq_org_current_subscription
					ON organization_subscriptions(organization_id)
					WHERE status IN ('ACTIVE', 'PENDING_UPGRADE');
				CREATE INDEX idx_org_subscriptions_org_created ON organization_subscriptions(organization_id, created_at DESC);
				CREATE INDEX idx_org_subscriptions_due ON organization_subscriptions(end_date) WHERE status = 'ACTIVE';
			`,
		},
		{
			Version:     4,
			Description: "Create user_module_access table",
			SQL: `
				CREATE TABLE IF NOT EXISTS user_module_access (
					id BIGSERIAL PRIMARY KEY,
					user_id BIGINT NOT NULL,
					module_id BIGINT NOT NULL REFERENCES modules(id) ON DELETE CASCADE,
					organization_id BIGINT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					granted_by BIGINT,
					granted_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					expires_at TIMESTAMPTZ,
					revoked_at TIMESTAMPTZ,
					description TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					UNIQUE(user_id, module_id, organization_id)
				);

				CREATE INDEX idx_user_module_access_org_module ON user_module_access(organization_id, module_id) WHERE is_active;
			`,
		},
		{
			Version:     5,
			Description: "Create entitlement_outbox table",
			SQL: `
				CREATE TABLE IF NOT EXISTS entitlement_outbox (
					id BIGSERIAL PRIMARY KEY,
					idempotency_key VARCHAR(64) NOT NULL UNIQUE,
					kind VARCHAR(64) NOT NULL,
					organization_id BIGINT NOT NULL,
					subscription_id BIGINT NOT NULL,
					payload JSONB NOT NULL DEFAULT '{}',
					status VARCHAR(16) NOT NULL DEFAULT 'pending',
					attempts INT NOT NULL DEFAULT 0,
					last_error TEXT NOT NULL DEFAULT '',
					available_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					processed_at TIMESTAMPTZ
				);

				CREATE INDEX idx_entitlement_outbox_due ON entitlement_outbox(available_at) WHERE status = 'pending';
			`,
		},
	}
}

// RunMigrations executes all pending migrations
func RunMigrations(ctx context.Context, db *sql.DB, logger logrus.FieldLogger) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS subscription_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM subscription_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}

	appliedVersions := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		appliedVersions[version] = true
	}
	rows.Close()

	for _, migration := range GetMigrations() {
		if appliedVersions[migration.Version] {
			continue
		}

		log := logger.WithFields(logrus.Fields{
			"version":     migration.Version,
			"description": migration.Description,
		})
		log.Info("running migration")

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO subscription_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}

		log.Info("migration completed")
	}

	return nil
}
