package memory

import (
	"context"

	"github.com/dungkhmt/serp-sub000/pkg/apperr"
	"github.com/dungkhmt/serp-sub000/pkg/orgs"
)

// OrganizationStore implements orgs.Store.
type OrganizationStore struct {
	h handle
}

var _ orgs.Store = (*OrganizationStore)(nil)

func (s *OrganizationStore) GetOrganizationByID(ctx context.Context, id int64) (*orgs.Organization, error) {
	var (
		org orgs.Organization
		ok  bool
	)
	s.h.read(func(d *dataset) {
		org, ok = d.orgs[id]
	})
	if !ok {
		return nil, apperr.ErrOrganizationNotFound.Withf("organization %d", id)
	}
	return &org, nil
}

func (s *OrganizationStore) UpdateCurrentSubscriptionPointer(ctx context.Context, orgID int64, subscriptionID *int64) error {
	return s.h.write(func(d *dataset) error {
		org, ok := d.orgs[orgID]
		if !ok {
			return apperr.ErrOrganizationNotFound.Withf("organization %d", orgID)
		}
		if subscriptionID != nil {
			id := *subscriptionID
			subscriptionID = &id
		}
		org.CurrentSubscriptionID = subscriptionID
		d.orgs[orgID] = org
		return nil
	})
}

// AddOrganization seeds an organization.
func (db *DB) AddOrganization(org orgs.Organization) {
	db.txMu.Lock()
	defer db.txMu.Unlock()
	db.mu.Lock()
	defer db.mu.Unlock()
	db.data.orgs[org.ID] = org
}
