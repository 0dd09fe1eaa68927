package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dungkhmt/serp-sub000/pkg/apperr"
	"github.com/dungkhmt/serp-sub000/pkg/entitlements"
	"github.com/lib/pq"
)

const accessColumns = `id, user_id, module_id, organization_id, is_active, granted_by, granted_at,
	expires_at, revoked_at, description, created_at, updated_at`

// AccessStore implements entitlements.Store.
type AccessStore struct {
	q querier
	// db is nil when the store is bound to a transaction.
	db *sql.DB
}

var _ entitlements.Store = (*AccessStore)(nil)

func (s *AccessStore) Get(ctx context.Context, userID, moduleID, orgID int64) (*entitlements.Access, error) {
	query := `SELECT ` + accessColumns + `
		FROM user_module_access
		WHERE user_id = $1 AND module_id = $2 AND organization_id = $3`
	access, err := scanAccess(s.q.QueryRowContext(ctx, query, userID, moduleID, orgID))
	if err == sql.ErrNoRows {
		return nil, apperr.ErrGrantNotFound.Withf("user %d module %d organization %d", userID, moduleID, orgID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get module access: %w", err)
	}
	return access, nil
}

func (s *AccessStore) Insert(ctx context.Context, access *entitlements.Access) error {
	query := `
		INSERT INTO user_module_access (user_id, module_id, organization_id, is_active, granted_by, granted_at,
			expires_at, revoked_at, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`
	err := s.q.QueryRowContext(ctx, query,
		access.UserID,
		access.ModuleID,
		access.OrganizationID,
		access.IsActive,
		access.GrantedBy,
		access.GrantedAt,
		access.ExpiresAt,
		access.RevokedAt,
		access.Description,
		access.CreatedAt,
		access.UpdatedAt,
	).Scan(&access.ID)
	if err != nil {
		if isUniqueViolation(err, "") {
			return apperr.ErrDuplicate.Withf("user %d module %d organization %d",
				access.UserID, access.ModuleID, access.OrganizationID).Wrap(err)
		}
		return fmt.Errorf("failed to insert module access: %w", err)
	}
	return nil
}

func (s *AccessStore) Update(ctx context.Context, access *entitlements.Access) error {
	query := `
		UPDATE user_module_access SET
			is_active = $2, granted_by = $3, granted_at = $4, expires_at = $5,
			revoked_at = $6, description = $7, updated_at = $8
		WHERE id = $1
	`
	_, err := s.q.ExecContext(ctx, query,
		access.ID,
		access.IsActive,
		access.GrantedBy,
		access.GrantedAt,
		access.ExpiresAt,
		access.RevokedAt,
		access.Description,
		access.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update module access: %w", err)
	}
	return nil
}

func (s *AccessStore) CountActive(ctx context.Context, moduleID, orgID int64) (int, error) {
	var n int
	err := s.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM user_module_access WHERE module_id = $1 AND organization_id = $2 AND is_active",
		moduleID, orgID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count module access: %w", err)
	}
	return n, nil
}

func (s *AccessStore) ListActive(ctx context.Context, orgID int64, moduleIDs []int64) ([]*entitlements.Access, error) {
	query := `SELECT ` + accessColumns + `
		FROM user_module_access
		WHERE organization_id = $1 AND module_id = ANY($2) AND is_active
		ORDER BY id`
	rows, err := s.q.QueryContext(ctx, query, orgID, pq.Array(moduleIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to list module access: %w", err)
	}
	defer rows.Close()

	var out []*entitlements.Access
	for rows.Next() {
		access, err := scanAccess(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan module access: %w", err)
		}
		out = append(out, access)
	}
	return out, rows.Err()
}

// Atomically runs fn in a transaction holding the (organization, module)
// advisory lock. A store already bound to a transaction locks within it.
func (s *AccessStore) Atomically(ctx context.Context, orgID, moduleID int64, fn func(entitlements.Store) error) error {
	if s.db == nil {
		if err := lockModule(ctx, s.q, orgID, moduleID); err != nil {
			return err
		}
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	if err := lockModule(ctx, tx, orgID, moduleID); err != nil {
		tx.Rollback()
		return err
	}
	if err := fn(&AccessStore{q: tx}); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func lockModule(ctx context.Context, q querier, orgID, moduleID int64) error {
	if _, err := q.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1::int4, $2::int4)", int32(orgID), int32(moduleID)); err != nil {
		return fmt.Errorf("failed to lock module %d of organization %d: %w", moduleID, orgID, err)
	}
	return nil
}

func scanAccess(row scanner) (*entitlements.Access, error) {
	var (
		access               entitlements.Access
		grantedBy            sql.NullInt64
		expiresAt, revokedAt sql.NullTime
	)
	err := row.Scan(
		&access.ID,
		&access.UserID,
		&access.ModuleID,
		&access.OrganizationID,
		&access.IsActive,
		&grantedBy,
		&access.GrantedAt,
		&expiresAt,
		&revokedAt,
		&access.Description,
		&access.CreatedAt,
		&access.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	access.GrantedBy = nullInt64(grantedBy)
	access.ExpiresAt = nullTime(expiresAt)
	access.RevokedAt = nullTime(revokedAt)
	return &access, nil
}
