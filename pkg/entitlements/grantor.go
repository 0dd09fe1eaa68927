package entitlements

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dungkhmt/serp-sub000/pkg/apperr"
	"github.com/dungkhmt/serp-sub000/pkg/identity"
	"github.com/sirupsen/logrus"
)

// Grantor grants and revokes module access and keeps module roles in step.
type Grantor struct {
	store  Store
	roles  identity.RoleLookup
	assign identity.RoleAssigner
	logger logrus.FieldLogger
	now    func() time.Time
}

// NewGrantor creates a Grantor.
func NewGrantor(store Store, roles identity.RoleLookup, assign identity.RoleAssigner, logger logrus.FieldLogger) *Grantor {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Grantor{
		store:  store,
		roles:  roles,
		assign: assign,
		logger: logger,
		now:    time.Now,
	}
}

// WithClock overrides the clock.
func (g *Grantor) WithClock(now func() time.Time) *Grantor {
	cp := *g
	cp.now = now
	return &cp
}

// GrantRequest grants one user access to a module.
type GrantRequest struct {
	UserID         int64
	ModuleID       int64
	OrganizationID int64
	GrantedBy      *int64
	ExpiresAt      *time.Time
	// MaxUsers is the plan module's user limit; nil means unlimited.
	MaxUsers    *int
	Description string
}

func (r GrantRequest) validate() error {
	if r.UserID <= 0 || r.ModuleID <= 0 || r.OrganizationID <= 0 {
		return apperr.ErrInvalidRequest.Withf("user, module and organization ids are required")
	}
	return nil
}

// Grant gives a user access to a module. An active grant is refreshed without
// taking a new seat; an inactive one is reactivated. Taking a seat checks the
// module's user limit first. The module's roles are assigned afterwards.
func (g *Grantor) Grant(ctx context.Context, req GrantRequest) (*Access, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	var access *Access
	err := g.store.Atomically(ctx, req.OrganizationID, req.ModuleID, func(tx Store) error {
		var err error
		access, err = g.grantLocked(ctx, tx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := g.assignRoles(ctx, req.UserID, req.ModuleID, req.OrganizationID); err != nil {
		return access, err
	}
	return access, nil
}

func (g *Grantor) grantLocked(ctx context.Context, tx Store, req GrantRequest) (*Access, error) {
	now := g.now()
	existing, err := tx.Get(ctx, req.UserID, req.ModuleID, req.OrganizationID)
	if err != nil && !errors.Is(err, apperr.ErrGrantNotFound) {
		return nil, fmt.Errorf("failed to load module access: %w", err)
	}

	if existing != nil && existing.IsActive {
		existing.ExpiresAt = req.ExpiresAt
		existing.GrantedBy = req.GrantedBy
		if req.Description != "" {
			existing.Description = req.Description
		}
		existing.UpdatedAt = now
		if err := tx.Update(ctx, existing); err != nil {
			return nil, fmt.Errorf("failed to refresh module access: %w", err)
		}
		return existing, nil
	}

	if err := g.checkCapacity(ctx, tx, req); err != nil {
		return nil, err
	}

	if existing != nil {
		existing.IsActive = true
		existing.GrantedBy = req.GrantedBy
		existing.GrantedAt = now
		existing.ExpiresAt = req.ExpiresAt
		existing.RevokedAt = nil
		if req.Description != "" {
			existing.Description = req.Description
		}
		existing.UpdatedAt = now
		if err := tx.Update(ctx, existing); err != nil {
			return nil, fmt.Errorf("failed to reactivate module access: %w", err)
		}
		return existing, nil
	}

	access := &Access{
		UserID:         req.UserID,
		ModuleID:       req.ModuleID,
		OrganizationID: req.OrganizationID,
		IsActive:       true,
		GrantedBy:      req.GrantedBy,
		GrantedAt:      now,
		ExpiresAt:      req.ExpiresAt,
		Description:    req.Description,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := tx.Insert(ctx, access); err != nil {
		return nil, fmt.Errorf("failed to insert module access: %w", err)
	}
	return access, nil
}

func (g *Grantor) checkCapacity(ctx context.Context, tx Store, req GrantRequest) error {
	if req.MaxUsers == nil {
		return nil
	}
	count, err := tx.CountActive(ctx, req.ModuleID, req.OrganizationID)
	if err != nil {
		return fmt.Errorf("failed to count module access: %w", err)
	}
	if count >= *req.MaxUsers {
		return &CapacityError{
			ModuleID:       req.ModuleID,
			OrganizationID: req.OrganizationID,
			Current:        count,
			Limit:          *req.MaxUsers,
		}
	}
	return nil
}

// RevokeRequest removes one user's access to a module.
type RevokeRequest struct {
	UserID         int64
	ModuleID       int64
	OrganizationID int64
}

// Revoke deactivates a grant and removes the module's roles from the user.
// Revoking an inactive grant changes nothing but still removes the roles.
func (g *Grantor) Revoke(ctx context.Context, req RevokeRequest) (*Access, error) {
	if req.UserID <= 0 || req.ModuleID <= 0 || req.OrganizationID <= 0 {
		return nil, apperr.ErrInvalidRequest.Withf("user, module and organization ids are required")
	}
	var access *Access
	err := g.store.Atomically(ctx, req.OrganizationID, req.ModuleID, func(tx Store) error {
		existing, err := tx.Get(ctx, req.UserID, req.ModuleID, req.OrganizationID)
		if err != nil {
			return err
		}
		access = existing
		if !existing.IsActive {
			return nil
		}
		now := g.now()
		existing.IsActive = false
		existing.RevokedAt = &now
		existing.UpdatedAt = now
		if err := tx.Update(ctx, existing); err != nil {
			return fmt.Errorf("failed to revoke module access: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := g.removeRoles(ctx, req.UserID, req.ModuleID, req.OrganizationID); err != nil {
		return access, err
	}
	return access, nil
}

// BulkGrantRequest grants several users access to one module.
type BulkGrantRequest struct {
	UserIDs        []int64
	ModuleID       int64
	OrganizationID int64
	GrantedBy      *int64
	ExpiresAt      *time.Time
	MaxUsers       *int
	Description    string
}

// BulkFailure is one user a bulk grant could not serve.
type BulkFailure struct {
	UserID int64
	Err    error
}

// BulkResult lists the outcome of each user in a bulk grant.
type BulkResult struct {
	Granted []*Access
	Failed  []BulkFailure
}

// BulkGrant grants each user in isolation under one lock. A user rejected by
// the capacity check or by validation is recorded in Failed and the rest still
// proceed. Storage failures abort the batch.
func (g *Grantor) BulkGrant(ctx context.Context, req BulkGrantRequest) (*BulkResult, error) {
	if req.ModuleID <= 0 || req.OrganizationID <= 0 {
		return nil, apperr.ErrInvalidRequest.Withf("module and organization ids are required")
	}
	result := &BulkResult{}
	seen := make(map[int64]bool, len(req.UserIDs))
	err := g.store.Atomically(ctx, req.OrganizationID, req.ModuleID, func(tx Store) error {
		for _, userID := range req.UserIDs {
			if seen[userID] {
				continue
			}
			seen[userID] = true
			access, err := g.grantLocked(ctx, tx, GrantRequest{
				UserID:         userID,
				ModuleID:       req.ModuleID,
				OrganizationID: req.OrganizationID,
				GrantedBy:      req.GrantedBy,
				ExpiresAt:      req.ExpiresAt,
				MaxUsers:       req.MaxUsers,
				Description:    req.Description,
			})
			if err != nil {
				if !apperr.IsDomain(err) {
					return err
				}
				g.logger.WithFields(logrus.Fields{
					"user_id":         userID,
					"module_id":       req.ModuleID,
					"organization_id": req.OrganizationID,
				}).WithError(err).Warn("bulk grant skipped user")
				result.Failed = append(result.Failed, BulkFailure{UserID: userID, Err: err})
				continue
			}
			result.Granted = append(result.Granted, access)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, access := range result.Granted {
		if err := g.assignRoles(ctx, access.UserID, req.ModuleID, req.OrganizationID); err != nil {
			return result, err
		}
	}
	return result, nil
}

// HasAccess reports whether a user currently holds an effective grant.
func (g *Grantor) HasAccess(ctx context.Context, userID, moduleID, orgID int64) (bool, error) {
	access, err := g.store.Get(ctx, userID, moduleID, orgID)
	if err != nil {
		if errors.Is(err, apperr.ErrGrantNotFound) {
			return false, nil
		}
		return false, err
	}
	return access.Effective(g.now()), nil
}

// ListActive returns active grants in orgID for moduleIDs.
func (g *Grantor) ListActive(ctx context.Context, orgID int64, moduleIDs []int64) ([]*Access, error) {
	if len(moduleIDs) == 0 {
		return nil, nil
	}
	return g.store.ListActive(ctx, orgID, moduleIDs)
}

func (g *Grantor) assignRoles(ctx context.Context, userID, moduleID, orgID int64) error {
	roles, err := g.roles.GetRolesByModuleID(ctx, moduleID)
	if err != nil {
		return fmt.Errorf("failed to look up roles for module %d: %w", moduleID, err)
	}
	if len(roles) == 0 {
		return nil
	}
	if err := g.assign.AssignRolesToUser(ctx, userID, orgID, roles); err != nil {
		return fmt.Errorf("failed to assign module %d roles to user %d: %w", moduleID, userID, err)
	}
	return nil
}

func (g *Grantor) removeRoles(ctx context.Context, userID, moduleID, orgID int64) error {
	roles, err := g.roles.GetRolesByModuleID(ctx, moduleID)
	if err != nil {
		return fmt.Errorf("failed to look up roles for module %d: %w", moduleID, err)
	}
	if len(roles) == 0 {
		return nil
	}
	if err := g.assign.RemoveRolesFromUser(ctx, userID, orgID, roles); err != nil {
		return fmt.Errorf("failed to remove module %d roles from user %d: %w", moduleID, userID, err)
	}
	return nil
}
