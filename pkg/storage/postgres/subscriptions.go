package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dungkhmt/serp-sub000/pkg/apperr"
	"github.com/dungkhmt/serp-sub000/pkg/plans"
	"github.com/dungkhmt/serp-sub000/pkg/subscriptions"
)

const subscriptionColumns = `id, organization_id, plan_id, previous_subscription_id, status, billing_cycle,
	start_date, end_date, trial_ends_at, is_auto_renew, total_amount, notes,
	activated_by, activated_at, cancelled_by, cancelled_at, cancellation_reason,
	created_by, created_at, updated_by, updated_at`

// SubscriptionStore implements subscriptions.Store.
type SubscriptionStore struct {
	q querier
}

var _ subscriptions.Store = (*SubscriptionStore)(nil)

// Create inserts a ledger row.
func (s *SubscriptionStore) Create(ctx context.Context, sub *subscriptions.Subscription) error {
	query := `
		INSERT INTO organization_subscriptions (
			organization_id, plan_id, previous_subscription_id, status, billing_cycle,
			start_date, end_date, trial_ends_at, is_auto_renew, total_amount, notes,
			activated_by, activated_at, cancelled_by, cancelled_at, cancellation_reason,
			created_by, created_at, updated_by, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		RETURNING id
	`

	err := s.q.QueryRowContext(ctx, query,
		sub.OrganizationID,
		sub.PlanID,
		sub.PreviousSubscriptionID,
		string(sub.Status),
		string(sub.BillingCycle),
		sub.StartDate,
		sub.EndDate,
		sub.TrialEndsAt,
		sub.IsAutoRenew,
		sub.TotalAmount,
		sub.Notes,
		sub.ActivatedBy,
		sub.ActivatedAt,
		sub.CancelledBy,
		sub.CancelledAt,
		sub.CancellationReason,
		sub.CreatedBy,
		sub.CreatedAt,
		sub.UpdatedBy,
		sub.UpdatedAt,
	).Scan(&sub.ID)
	if err != nil {
		if isUniqueViolation(err, currentSubscriptionIdx) {
			return apperr.ErrActiveSubscriptionExists.Withf("organization %d", sub.OrganizationID).Wrap(err)
		}
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	return nil
}

// Update writes every mutable column of a ledger row.
func (s *SubscriptionStore) Update(ctx context.Context, sub *subscriptions.Subscription) error {
	query := `
		UPDATE organization_subscriptions SET
			plan_id = $2, status = $3, billing_cycle = $4, start_date = $5, end_date = $6,
			trial_ends_at = $7, is_auto_renew = $8, total_amount = $9, notes = $10,
			activated_by = $11, activated_at = $12, cancelled_by = $13, cancelled_at = $14,
			cancellation_reason = $15, updated_by = $16, updated_at = $17
		WHERE id = $1
	`

	result, err := s.q.ExecContext(ctx, query,
		sub.ID,
		sub.PlanID,
		string(sub.Status),
		string(sub.BillingCycle),
		sub.StartDate,
		sub.EndDate,
		sub.TrialEndsAt,
		sub.IsAutoRenew,
		sub.TotalAmount,
		sub.Notes,
		sub.ActivatedBy,
		sub.ActivatedAt,
		sub.CancelledBy,
		sub.CancelledAt,
		sub.CancellationReason,
		sub.UpdatedBy,
		sub.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, currentSubscriptionIdx) {
			return apperr.ErrActiveSubscriptionExists.Withf("organization %d", sub.OrganizationID).Wrap(err)
		}
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	if n == 0 {
		return apperr.ErrSubscriptionNotFound.Withf("subscription %d", sub.ID)
	}
	return nil
}

func (s *SubscriptionStore) GetByID(ctx context.Context, id int64) (*subscriptions.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM organization_subscriptions WHERE id = $1`
	sub, err := scanSubscription(s.q.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, apperr.ErrSubscriptionNotFound.Withf("subscription %d", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return sub, nil
}

func (s *SubscriptionStore) GetCurrent(ctx context.Context, orgID int64) (*subscriptions.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + `
		FROM organization_subscriptions
		WHERE organization_id = $1 AND status IN ('ACTIVE', 'PENDING_UPGRADE')
		LIMIT 1`
	sub, err := scanSubscription(s.q.QueryRowContext(ctx, query, orgID))
	if err == sql.ErrNoRows {
		return nil, apperr.ErrSubscriptionNotFound.Withf("organization %d has no current subscription", orgID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get current subscription: %w", err)
	}
	return sub, nil
}

func (s *SubscriptionStore) GetLatest(ctx context.Context, orgID int64) (*subscriptions.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + `
		FROM organization_subscriptions
		WHERE organization_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1`
	sub, err := scanSubscription(s.q.QueryRowContext(ctx, query, orgID))
	if err == sql.ErrNoRows {
		return nil, apperr.ErrSubscriptionNotFound.Withf("organization %d has no subscription", orgID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest subscription: %w", err)
	}
	return sub, nil
}

func (s *SubscriptionStore) ListByOrganization(ctx context.Context, orgID int64) ([]*subscriptions.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + `
		FROM organization_subscriptions
		WHERE organization_id = $1
		ORDER BY created_at DESC, id DESC`
	return s.list(ctx, query, orgID)
}

func (s *SubscriptionStore) ListDueForExpiry(ctx context.Context, now time.Time, limit int) ([]*subscriptions.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + `
		FROM organization_subscriptions
		WHERE status = 'ACTIVE' AND end_date <= $1
		ORDER BY end_date, id
		LIMIT $2`
	return s.list(ctx, query, now, limit)
}

func (s *SubscriptionStore) list(ctx context.Context, query string, args ...interface{}) ([]*subscriptions.Subscription, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer rows.Close()

	var out []*subscriptions.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	return out, nil
}

func scanSubscription(row scanner) (*subscriptions.Subscription, error) {
	var (
		sub                                subscriptions.Subscription
		status, cycle                      string
		previousID, activatedBy            sql.NullInt64
		cancelledBy, createdBy, updatedBy  sql.NullInt64
		trialEndsAt, activatedAt, cancelAt sql.NullTime
	)
	err := row.Scan(
		&sub.ID,
		&sub.OrganizationID,
		&sub.PlanID,
		&previousID,
		&status,
		&cycle,
		&sub.StartDate,
		&sub.EndDate,
		&trialEndsAt,
		&sub.IsAutoRenew,
		&sub.TotalAmount,
		&sub.Notes,
		&activatedBy,
		&activatedAt,
		&cancelledBy,
		&cancelAt,
		&sub.CancellationReason,
		&createdBy,
		&sub.CreatedAt,
		&updatedBy,
		&sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	sub.Status = subscriptions.Status(status)
	sub.BillingCycle = plans.BillingCycle(cycle)
	sub.PreviousSubscriptionID = nullInt64(previousID)
	sub.TrialEndsAt = nullTime(trialEndsAt)
	sub.ActivatedBy = nullInt64(activatedBy)
	sub.ActivatedAt = nullTime(activatedAt)
	sub.CancelledBy = nullInt64(cancelledBy)
	sub.CancelledAt = nullTime(cancelAt)
	sub.CreatedBy = nullInt64(createdBy)
	sub.UpdatedBy = nullInt64(updatedBy)
	return &sub, nil
}
