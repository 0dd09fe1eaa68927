package memory

import (
	"context"
	"sort"

	"github.com/dungkhmt/serp-sub000/pkg/identity"
	"github.com/dungkhmt/serp-sub000/pkg/modules"
)

// ModuleCatalog implements modules.Catalog.
type ModuleCatalog struct {
	h handle
}

var _ modules.Catalog = (*ModuleCatalog)(nil)

// GetModulesByIDs returns the modules that exist; unknown ids are omitted.
func (c *ModuleCatalog) GetModulesByIDs(ctx context.Context, ids []int64) ([]*modules.Module, error) {
	var out []*modules.Module
	c.h.read(func(d *dataset) {
		for _, id := range ids {
			if m, ok := d.modules[id]; ok {
				out = append(out, &m)
			}
		}
	})
	return out, nil
}

func (c *ModuleCatalog) ModuleIsAvailable(ctx context.Context, id int64) (bool, error) {
	var available bool
	c.h.read(func(d *dataset) {
		m, ok := d.modules[id]
		available = ok && m.IsActive
	})
	return available, nil
}

// AddModule seeds a module.
func (db *DB) AddModule(m modules.Module) {
	db.txMu.Lock()
	defer db.txMu.Unlock()
	db.mu.Lock()
	defer db.mu.Unlock()
	db.data.modules[m.ID] = m
}

// SetModuleActive toggles a module's availability.
func (db *DB) SetModuleActive(id int64, active bool) {
	db.txMu.Lock()
	defer db.txMu.Unlock()
	db.mu.Lock()
	defer db.mu.Unlock()
	if m, ok := db.data.modules[id]; ok {
		m.IsActive = active
		db.data.modules[id] = m
	}
}

// RemoveModule deletes a module from the catalog.
func (db *DB) RemoveModule(id int64) {
	db.txMu.Lock()
	defer db.txMu.Unlock()
	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.data.modules, id)
}

// RoleDirectory implements identity.Directory.
type RoleDirectory struct {
	h handle
}

var _ identity.Directory = (*RoleDirectory)(nil)

func (r *RoleDirectory) GetRolesByModuleID(ctx context.Context, moduleID int64) ([]identity.Role, error) {
	var out []identity.Role
	r.h.read(func(d *dataset) {
		out = append(out, d.roles[moduleID]...)
	})
	return out, nil
}

func (r *RoleDirectory) AssignRolesToUser(ctx context.Context, userID, orgID int64, roles []identity.Role) error {
	return r.h.write(func(d *dataset) error {
		key := userOrg{userID: userID, orgID: orgID}
		set := d.userRoles[key]
		if set == nil {
			set = make(map[int64]bool)
			d.userRoles[key] = set
		}
		for _, role := range roles {
			set[role.ID] = true
		}
		return nil
	})
}

func (r *RoleDirectory) RemoveRolesFromUser(ctx context.Context, userID, orgID int64, roles []identity.Role) error {
	return r.h.write(func(d *dataset) error {
		set := d.userRoles[userOrg{userID: userID, orgID: orgID}]
		for _, role := range roles {
			delete(set, role.ID)
		}
		return nil
	})
}

// UserRoles returns the role ids a user holds in an organization.
func (r *RoleDirectory) UserRoles(userID, orgID int64) []int64 {
	var out []int64
	r.h.read(func(d *dataset) {
		for id := range d.userRoles[userOrg{userID: userID, orgID: orgID}] {
			out = append(out, id)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// AddRole seeds a role tied to a module.
func (db *DB) AddRole(role identity.Role) {
	db.txMu.Lock()
	defer db.txMu.Unlock()
	db.mu.Lock()
	defer db.mu.Unlock()
	db.data.roles[role.ModuleID] = append(db.data.roles[role.ModuleID], role)
}
