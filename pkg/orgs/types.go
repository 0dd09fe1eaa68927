// Package orgs is the organization collaborator seen by the subscription
// engine: who owns an organization and which ledger row is current.
package orgs

import (
	"context"
	"time"
)

// Organization is the subset of an organization record the engine needs.
type Organization struct {
	ID                    int64     `json:"id"`
	Name                  string    `json:"name"`
	OwnerID               *int64    `json:"owner_id,omitempty"`
	CurrentSubscriptionID *int64    `json:"current_subscription_id,omitempty"`
	IsActive              bool      `json:"is_active"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// HasOwner reports whether the organization has an owner to receive grants.
func (o *Organization) HasOwner() bool {
	return o.OwnerID != nil && *o.OwnerID > 0
}

// PointsAt reports whether the current-subscription pointer is subscriptionID.
func (o *Organization) PointsAt(subscriptionID int64) bool {
	return o.CurrentSubscriptionID != nil && *o.CurrentSubscriptionID == subscriptionID
}

// Store reads organizations and maintains their current-subscription pointer.
// GetOrganizationByID returns apperr.ErrOrganizationNotFound for unknown ids.
type Store interface {
	GetOrganizationByID(ctx context.Context, id int64) (*Organization, error)
	UpdateCurrentSubscriptionPointer(ctx context.Context, orgID int64, subscriptionID *int64) error
}
