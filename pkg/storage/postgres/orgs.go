package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dungkhmt/serp-sub000/pkg/apperr"
	"github.com/dungkhmt/serp-sub000/pkg/orgs"
)

// OrganizationStore implements orgs.Store.
type OrganizationStore struct {
	q querier
}

var _ orgs.Store = (*OrganizationStore)(nil)

func (s *OrganizationStore) GetOrganizationByID(ctx context.Context, id int64) (*orgs.Organization, error) {
	query := `
		SELECT id, name, owner_id, current_subscription_id, is_active, created_at, updated_at
		FROM organizations
		WHERE id = $1
	`

	var (
		org              orgs.Organization
		ownerID, current sql.NullInt64
	)
	err := s.q.QueryRowContext(ctx, query, id).Scan(
		&org.ID,
		&org.Name,
		&ownerID,
		&current,
		&org.IsActive,
		&org.CreatedAt,
		&org.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, apperr.ErrOrganizationNotFound.Withf("organization %d", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	org.OwnerID = nullInt64(ownerID)
	org.CurrentSubscriptionID = nullInt64(current)
	return &org, nil
}

func (s *OrganizationStore) UpdateCurrentSubscriptionPointer(ctx context.Context, orgID int64, subscriptionID *int64) error {
	result, err := s.q.ExecContext(ctx,
		"UPDATE organizations SET current_subscription_id = $2, updated_at = NOW() WHERE id = $1",
		orgID, subscriptionID,
	)
	if err != nil {
		return fmt.Errorf("failed to update current subscription: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update current subscription: %w", err)
	}
	if n == 0 {
		return apperr.ErrOrganizationNotFound.Withf("organization %d", orgID)
	}
	return nil
}
