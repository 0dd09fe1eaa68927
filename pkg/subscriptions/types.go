package subscriptions

import (
	"context"
	"time"

	"github.com/dungkhmt/serp-sub000/pkg/plans"
	"github.com/shopspring/decimal"
)

// Status is the state of a ledger row.
type Status string

const (
	StatusPending        Status = "PENDING"
	StatusActive         Status = "ACTIVE"
	StatusPendingUpgrade Status = "PENDING_UPGRADE"
	StatusExpired        Status = "EXPIRED"
	StatusCancelled      Status = "CANCELLED"
)

// IsTerminal reports whether no further transition is allowed.
func (s Status) IsTerminal() bool {
	return s == StatusExpired || s == StatusCancelled
}

// IsCurrent reports whether a row in this status counts as the organization's
// current subscription. At most one row per organization may be current.
func (s Status) IsCurrent() bool {
	return s == StatusActive || s == StatusPendingUpgrade
}

// Subscription is one ledger row. Rows are never deleted; history is kept by
// creating new rows. Fields change only through the transition functions.
type Subscription struct {
	ID                     int64              `json:"id"`
	OrganizationID         int64              `json:"organization_id"`
	PlanID                 int64              `json:"plan_id"`
	PreviousSubscriptionID *int64             `json:"previous_subscription_id,omitempty"`
	Status                 Status             `json:"status"`
	BillingCycle           plans.BillingCycle `json:"billing_cycle"`
	StartDate              time.Time          `json:"start_date"`
	EndDate                time.Time          `json:"end_date"`
	TrialEndsAt            *time.Time         `json:"trial_ends_at,omitempty"`
	IsAutoRenew            bool               `json:"is_auto_renew"`
	TotalAmount            decimal.Decimal    `json:"total_amount"`
	Notes                  string             `json:"notes,omitempty"`
	ActivatedBy            *int64             `json:"activated_by,omitempty"`
	ActivatedAt            *time.Time         `json:"activated_at,omitempty"`
	CancelledBy            *int64             `json:"cancelled_by,omitempty"`
	CancelledAt            *time.Time         `json:"cancelled_at,omitempty"`
	CancellationReason     string             `json:"cancellation_reason,omitempty"`
	CreatedBy              *int64             `json:"created_by,omitempty"`
	CreatedAt              time.Time          `json:"created_at"`
	UpdatedBy              *int64             `json:"updated_by,omitempty"`
	UpdatedAt              time.Time          `json:"updated_at"`
}

// InTrial reports whether the row's trial is still running at now.
func (s *Subscription) InTrial(now time.Time) bool {
	return s.TrialEndsAt != nil && s.TrialEndsAt.After(now)
}

// Store persists ledger rows.
//
// Create and Update return apperr.ErrActiveSubscriptionExists when the write
// would leave two current rows for one organization. Lookups return
// apperr.ErrSubscriptionNotFound when nothing matches.
type Store interface {
	Create(ctx context.Context, sub *Subscription) error
	Update(ctx context.Context, sub *Subscription) error
	GetByID(ctx context.Context, id int64) (*Subscription, error)
	// GetCurrent returns the organization's ACTIVE or PENDING_UPGRADE row.
	GetCurrent(ctx context.Context, orgID int64) (*Subscription, error)
	// GetLatest returns the organization's most recently created row.
	GetLatest(ctx context.Context, orgID int64) (*Subscription, error)
	// ListByOrganization returns every row of the organization, newest first.
	ListByOrganization(ctx context.Context, orgID int64) ([]*Subscription, error)
	// ListDueForExpiry returns ACTIVE rows whose end date is not after now.
	ListDueForExpiry(ctx context.Context, now time.Time, limit int) ([]*Subscription, error)
}

// PlanSource resolves plans for price and trial checks.
type PlanSource interface {
	GetPlan(ctx context.Context, id int64) (*plans.Plan, error)
}

// Prorator computes the credit for unused time on the current plan.
type Prorator interface {
	CalculateProration(sub *Subscription, current, next *plans.Plan, now time.Time) decimal.Decimal
}
