package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/dungkhmt/serp-sub000/pkg/apperr"
	"github.com/dungkhmt/serp-sub000/pkg/entitlements"
)

// AccessStore implements entitlements.Store.
type AccessStore struct {
	h handle
}

var _ entitlements.Store = (*AccessStore)(nil)

func (s *AccessStore) Get(ctx context.Context, userID, moduleID, orgID int64) (*entitlements.Access, error) {
	var (
		access entitlements.Access
		ok     bool
	)
	s.h.read(func(d *dataset) {
		access, ok = d.access[accessKey{userID: userID, moduleID: moduleID, orgID: orgID}]
	})
	if !ok {
		return nil, apperr.ErrGrantNotFound.Withf("user %d module %d organization %d", userID, moduleID, orgID)
	}
	return &access, nil
}

func (s *AccessStore) Insert(ctx context.Context, access *entitlements.Access) error {
	return s.h.write(func(d *dataset) error {
		key := accessKey{userID: access.UserID, moduleID: access.ModuleID, orgID: access.OrganizationID}
		if _, ok := d.access[key]; ok {
			return apperr.ErrDuplicate.Withf("user %d module %d organization %d", access.UserID, access.ModuleID, access.OrganizationID)
		}
		access.ID = d.next("access")
		d.access[key] = *access
		return nil
	})
}

func (s *AccessStore) Update(ctx context.Context, access *entitlements.Access) error {
	return s.h.write(func(d *dataset) error {
		key := accessKey{userID: access.UserID, moduleID: access.ModuleID, orgID: access.OrganizationID}
		if _, ok := d.access[key]; !ok {
			return fmt.Errorf("module access %d not found", access.ID)
		}
		d.access[key] = *access
		return nil
	})
}

func (s *AccessStore) CountActive(ctx context.Context, moduleID, orgID int64) (int, error) {
	n := 0
	s.h.read(func(d *dataset) {
		for key, access := range d.access {
			if key.moduleID == moduleID && key.orgID == orgID && access.IsActive {
				n++
			}
		}
	})
	return n, nil
}

func (s *AccessStore) ListActive(ctx context.Context, orgID int64, moduleIDs []int64) ([]*entitlements.Access, error) {
	want := make(map[int64]bool, len(moduleIDs))
	for _, id := range moduleIDs {
		want[id] = true
	}
	var out []*entitlements.Access
	s.h.read(func(d *dataset) {
		for key, access := range d.access {
			if key.orgID == orgID && want[key.moduleID] && access.IsActive {
				access := access
				out = append(out, &access)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Atomically serializes fn with every other unit of work and lock scope.
func (s *AccessStore) Atomically(ctx context.Context, orgID, moduleID int64, fn func(entitlements.Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.h.db.atomically(s.h.inTx, func(h handle) error {
		return fn(&AccessStore{h: h})
	})
}
