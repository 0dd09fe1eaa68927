// Package modules describes the functional modules a plan can bundle and the
// catalog collaborator that resolves them.
package modules

import (
	"context"
	"time"
)

// Module is a functional area of the platform that can be licensed per user.
type Module struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// Catalog resolves modules. Unknown ids are omitted from GetModulesByIDs.
type Catalog interface {
	GetModulesByIDs(ctx context.Context, ids []int64) ([]*Module, error)
	ModuleIsAvailable(ctx context.Context, id int64) (bool, error)
}

// IndexByID maps modules by id.
func IndexByID(mods []*Module) map[int64]*Module {
	out := make(map[int64]*Module, len(mods))
	for _, m := range mods {
		out[m.ID] = m
	}
	return out
}
