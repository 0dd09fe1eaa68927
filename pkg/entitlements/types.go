package entitlements

import (
	"context"
	"fmt"
	"time"

	"github.com/dungkhmt/serp-sub000/pkg/apperr"
)

// Access is a user's grant to a module within an organization. There is at
// most one record per (user, module, organization); revoking deactivates it.
type Access struct {
	ID             int64      `json:"id"`
	UserID         int64      `json:"user_id"`
	ModuleID       int64      `json:"module_id"`
	OrganizationID int64      `json:"organization_id"`
	IsActive       bool       `json:"is_active"`
	GrantedBy      *int64     `json:"granted_by,omitempty"`
	GrantedAt      time.Time  `json:"granted_at"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	RevokedAt      *time.Time `json:"revoked_at,omitempty"`
	Description    string     `json:"description,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Effective reports whether the grant allows access at now.
func (a *Access) Effective(now time.Time) bool {
	if !a.IsActive {
		return false
	}
	return a.ExpiresAt == nil || a.ExpiresAt.After(now)
}

// CapacityError reports that a module's per-organization user limit is full.
type CapacityError struct {
	ModuleID       int64
	OrganizationID int64
	Current        int
	Limit          int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("module %d in organization %d allows %d users, %d active",
		e.ModuleID, e.OrganizationID, e.Limit, e.Current)
}

// Unwrap ties CapacityError to apperr.ErrModuleCapacity.
func (e *CapacityError) Unwrap() error {
	return apperr.ErrModuleCapacity
}

// Store persists access records.
//
// Get returns apperr.ErrGrantNotFound when no record exists. Atomically runs
// fn with a store that holds an exclusive lock on (orgID, moduleID) for the
// duration of fn, so a seat count and the write that follows cannot race.
type Store interface {
	Get(ctx context.Context, userID, moduleID, orgID int64) (*Access, error)
	Insert(ctx context.Context, access *Access) error
	Update(ctx context.Context, access *Access) error
	CountActive(ctx context.Context, moduleID, orgID int64) (int, error)
	ListActive(ctx context.Context, orgID int64, moduleIDs []int64) ([]*Access, error)
	Atomically(ctx context.Context, orgID, moduleID int64, fn func(Store) error) error
}
