package memory

import (
	"context"
	"sort"
	"time"

	"github.com/dungkhmt/serp-sub000/pkg/apperr"
	"github.com/dungkhmt/serp-sub000/pkg/subscriptions"
)

// SubscriptionStore implements subscriptions.Store.
type SubscriptionStore struct {
	h handle
}

var _ subscriptions.Store = (*SubscriptionStore)(nil)

func (s *SubscriptionStore) Create(ctx context.Context, sub *subscriptions.Subscription) error {
	return s.h.write(func(d *dataset) error {
		if err := checkCurrent(d, sub); err != nil {
			return err
		}
		sub.ID = d.next("subscriptions")
		d.subs[sub.ID] = *sub
		return nil
	})
}

func (s *SubscriptionStore) Update(ctx context.Context, sub *subscriptions.Subscription) error {
	return s.h.write(func(d *dataset) error {
		if _, ok := d.subs[sub.ID]; !ok {
			return apperr.ErrSubscriptionNotFound.Withf("subscription %d", sub.ID)
		}
		if err := checkCurrent(d, sub); err != nil {
			return err
		}
		d.subs[sub.ID] = *sub
		return nil
	})
}

// checkCurrent enforces one current row per organization.
func checkCurrent(d *dataset, sub *subscriptions.Subscription) error {
	if !sub.Status.IsCurrent() {
		return nil
	}
	for id, other := range d.subs {
		if id != sub.ID && other.OrganizationID == sub.OrganizationID && other.Status.IsCurrent() {
			return apperr.ErrActiveSubscriptionExists.Withf("subscription %d is %s", id, other.Status)
		}
	}
	return nil
}

func (s *SubscriptionStore) GetByID(ctx context.Context, id int64) (*subscriptions.Subscription, error) {
	var (
		sub subscriptions.Subscription
		ok  bool
	)
	s.h.read(func(d *dataset) {
		sub, ok = d.subs[id]
	})
	if !ok {
		return nil, apperr.ErrSubscriptionNotFound.Withf("subscription %d", id)
	}
	return &sub, nil
}

func (s *SubscriptionStore) GetCurrent(ctx context.Context, orgID int64) (*subscriptions.Subscription, error) {
	rows := s.byOrganization(orgID)
	for _, sub := range rows {
		if sub.Status.IsCurrent() {
			return sub, nil
		}
	}
	return nil, apperr.ErrSubscriptionNotFound.Withf("organization %d has no current subscription", orgID)
}

func (s *SubscriptionStore) GetLatest(ctx context.Context, orgID int64) (*subscriptions.Subscription, error) {
	rows := s.byOrganization(orgID)
	if len(rows) == 0 {
		return nil, apperr.ErrSubscriptionNotFound.Withf("organization %d has no subscription", orgID)
	}
	return rows[0], nil
}

func (s *SubscriptionStore) ListByOrganization(ctx context.Context, orgID int64) ([]*subscriptions.Subscription, error) {
	return s.byOrganization(orgID), nil
}

func (s *SubscriptionStore) ListDueForExpiry(ctx context.Context, now time.Time, limit int) ([]*subscriptions.Subscription, error) {
	var due []*subscriptions.Subscription
	s.h.read(func(d *dataset) {
		for _, sub := range d.subs {
			if sub.Status == subscriptions.StatusActive && !sub.EndDate.After(now) {
				sub := sub
				due = append(due, &sub)
			}
		}
	})
	sort.Slice(due, func(i, j int) bool {
		if !due[i].EndDate.Equal(due[j].EndDate) {
			return due[i].EndDate.Before(due[j].EndDate)
		}
		return due[i].ID < due[j].ID
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// byOrganization returns the organization's rows newest first.
func (s *SubscriptionStore) byOrganization(orgID int64) []*subscriptions.Subscription {
	var rows []*subscriptions.Subscription
	s.h.read(func(d *dataset) {
		for _, sub := range d.subs {
			if sub.OrganizationID == orgID {
				sub := sub
				rows = append(rows, &sub)
			}
		}
	})
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			return rows[i].CreatedAt.After(rows[j].CreatedAt)
		}
		return rows[i].ID > rows[j].ID
	})
	return rows
}
