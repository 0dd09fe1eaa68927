// Package identity is the role collaborator. Each module carries a set of
// roles that users receive together with access to the module.
package identity

import "context"

// Role is a role attached to a module.
type Role struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	ModuleID int64  `json:"module_id"`
}

// RoleLookup lists the roles attached to a module.
type RoleLookup interface {
	GetRolesByModuleID(ctx context.Context, moduleID int64) ([]Role, error)
}

// RoleAssigner assigns and removes roles for a user within an organization.
// Both operations are idempotent.
type RoleAssigner interface {
	AssignRolesToUser(ctx context.Context, userID, orgID int64, roles []Role) error
	RemoveRolesFromUser(ctx context.Context, userID, orgID int64, roles []Role) error
}

// Directory combines lookup and assignment.
type Directory interface {
	RoleLookup
	RoleAssigner
}
