package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/dungkhmt/serp-sub000/pkg/outbox"
)

// OutboxStore implements outbox.Store.
type OutboxStore struct {
	h handle
}

var _ outbox.Store = (*OutboxStore)(nil)

func (s *OutboxStore) Enqueue(ctx context.Context, item *outbox.Item) error {
	return s.h.write(func(d *dataset) error {
		for _, existing := range d.outbox {
			if existing.Key == item.Key {
				return fmt.Errorf("outbox key %s already enqueued", item.Key)
			}
		}
		item.ID = d.next("outbox")
		d.outbox[item.ID] = copyItem(*item)
		return nil
	})
}

func (s *OutboxStore) ClaimDue(ctx context.Context, now, leaseUntil time.Time, limit int) ([]*outbox.Item, error) {
	var claimed []*outbox.Item
	err := s.h.write(func(d *dataset) error {
		due := make([]outbox.Item, 0)
		for _, item := range d.outbox {
			if item.Status == outbox.StatusPending && !item.AvailableAt.After(now) {
				due = append(due, item)
			}
		}
		sort.Slice(due, func(i, j int) bool { return due[i].ID < due[j].ID })
		if limit > 0 && len(due) > limit {
			due = due[:limit]
		}
		for _, item := range due {
			item.AvailableAt = leaseUntil
			d.outbox[item.ID] = item
			cp := copyItem(item)
			claimed = append(claimed, &cp)
		}
		return nil
	})
	return claimed, err
}

func (s *OutboxStore) Claim(ctx context.Context, id int64, now, leaseUntil time.Time) (*outbox.Item, error) {
	var claimed *outbox.Item
	err := s.h.write(func(d *dataset) error {
		item, ok := d.outbox[id]
		if !ok || item.Status != outbox.StatusPending || item.AvailableAt.After(now) {
			return nil
		}
		item.AvailableAt = leaseUntil
		d.outbox[id] = item
		cp := copyItem(item)
		claimed = &cp
		return nil
	})
	return claimed, err
}

func (s *OutboxStore) MarkDone(ctx context.Context, id int64, at time.Time) error {
	return s.h.write(func(d *dataset) error {
		item, ok := d.outbox[id]
		if !ok {
			return fmt.Errorf("outbox item %d not found", id)
		}
		item.Status = outbox.StatusDone
		item.ProcessedAt = &at
		d.outbox[id] = item
		return nil
	})
}

func (s *OutboxStore) MarkFailed(ctx context.Context, id int64, f outbox.Failure) error {
	return s.h.write(func(d *dataset) error {
		item, ok := d.outbox[id]
		if !ok {
			return fmt.Errorf("outbox item %d not found", id)
		}
		item.Attempts = f.Attempts
		item.LastError = f.LastError
		item.AvailableAt = f.AvailableAt
		if f.Dead {
			item.Status = outbox.StatusDead
		}
		d.outbox[id] = item
		return nil
	})
}

func (s *OutboxStore) CountPending(ctx context.Context) (int, error) {
	n := 0
	s.h.read(func(d *dataset) {
		for _, item := range d.outbox {
			if item.Status == outbox.StatusPending {
				n++
			}
		}
	})
	return n, nil
}

// Items returns every outbox item ordered by id.
func (s *OutboxStore) Items() []outbox.Item {
	var out []outbox.Item
	s.h.read(func(d *dataset) {
		for _, item := range d.outbox {
			out = append(out, copyItem(item))
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func copyItem(item outbox.Item) outbox.Item {
	item.Payload.UserIDs = append([]int64(nil), item.Payload.UserIDs...)
	return item
}
