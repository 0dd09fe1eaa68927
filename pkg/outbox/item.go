package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Kind names the cascade an item performs.
type Kind string

const (
	// KindGrantPlanModules grants a plan's included modules to users and
	// revokes modules dropped from the previous plan.
	KindGrantPlanModules Kind = "grant_plan_modules"
	// KindRevokePlanModules revokes a plan's included modules from every holder
	// in the organization.
	KindRevokePlanModules Kind = "revoke_plan_modules"
)

// Status is the processing state of an item.
type Status string

const (
	StatusPending Status = "pending"
	StatusDone    Status = "done"
	StatusDead    Status = "dead"
)

// Payload carries the cascade parameters. A grant always reaches the
// organization owner; UserIDs adds recipients and IncludeHolders adds every
// user already holding one of the plan's modules.
type Payload struct {
	PlanID         int64      `json:"plan_id"`
	PreviousPlanID *int64     `json:"previous_plan_id,omitempty"`
	UserIDs        []int64    `json:"user_ids,omitempty"`
	IncludeHolders bool       `json:"include_holders,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	ActorID        *int64     `json:"actor_id,omitempty"`
}

// Item is a pending entitlement cascade recorded with the ledger write.
type Item struct {
	ID             int64      `json:"id"`
	Key            string     `json:"key"`
	Kind           Kind       `json:"kind"`
	OrganizationID int64      `json:"organization_id"`
	SubscriptionID int64      `json:"subscription_id"`
	Payload        Payload    `json:"payload"`
	Status         Status     `json:"status"`
	Attempts       int        `json:"attempts"`
	LastError      string     `json:"last_error,omitempty"`
	AvailableAt    time.Time  `json:"available_at"`
	CreatedAt      time.Time  `json:"created_at"`
	ProcessedAt    *time.Time `json:"processed_at,omitempty"`
}

// NewItem creates a pending item available immediately.
func NewItem(kind Kind, orgID, subscriptionID int64, payload Payload, now time.Time) *Item {
	return &Item{
		Key:            uuid.NewString(),
		Kind:           kind,
		OrganizationID: orgID,
		SubscriptionID: subscriptionID,
		Payload:        payload,
		Status:         StatusPending,
		AvailableAt:    now,
		CreatedAt:      now,
	}
}

// Failure records a failed attempt.
type Failure struct {
	Attempts    int
	LastError   string
	AvailableAt time.Time
	Dead        bool
}

// Store persists outbox items.
//
// ClaimDue and Claim lease items by pushing AvailableAt to leaseUntil, so a
// concurrent claimer skips them while they are processed. Claim returns nil
// when the item is not pending or is leased elsewhere.
type Store interface {
	Enqueue(ctx context.Context, item *Item) error
	ClaimDue(ctx context.Context, now, leaseUntil time.Time, limit int) ([]*Item, error)
	Claim(ctx context.Context, id int64, now, leaseUntil time.Time) (*Item, error)
	MarkDone(ctx context.Context, id int64, at time.Time) error
	MarkFailed(ctx context.Context, id int64, f Failure) error
	CountPending(ctx context.Context) (int, error)
}
