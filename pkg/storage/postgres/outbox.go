package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/dungkhmt/serp-sub000/pkg/outbox"
)

const outboxColumns = `id, idempotency_key, kind, organization_id, subscription_id, payload,
	status, attempts, last_error, available_at, created_at, processed_at`

// OutboxStore implements outbox.Store.
type OutboxStore struct {
	q querier
}

var _ outbox.Store = (*OutboxStore)(nil)

func (s *OutboxStore) Enqueue(ctx context.Context, item *outbox.Item) error {
	payload, err := json.Marshal(item.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal outbox payload: %w", err)
	}

	query := `
		INSERT INTO entitlement_outbox (idempotency_key, kind, organization_id, subscription_id, payload,
			status, attempts, last_error, available_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`
	err = s.q.QueryRowContext(ctx, query,
		item.Key,
		string(item.Kind),
		item.OrganizationID,
		item.SubscriptionID,
		string(payload),
		string(item.Status),
		item.Attempts,
		item.LastError,
		item.AvailableAt,
		item.CreatedAt,
	).Scan(&item.ID)
	if err != nil {
		return fmt.Errorf("failed to enqueue outbox item: %w", err)
	}
	return nil
}

// ClaimDue leases up to limit due items. Rows locked by a concurrent claimer
// are skipped.
func (s *OutboxStore) ClaimDue(ctx context.Context, now, leaseUntil time.Time, limit int) ([]*outbox.Item, error) {
	query := `
		UPDATE entitlement_outbox SET available_at = $2
		WHERE id IN (
			SELECT id FROM entitlement_outbox
			WHERE status = 'pending' AND available_at <= $1
			ORDER BY id
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + outboxColumns

	rows, err := s.q.QueryContext(ctx, query, now, leaseUntil, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim outbox items: %w", err)
	}
	defer rows.Close()

	var items []*outbox.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan outbox item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to claim outbox items: %w", err)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (s *OutboxStore) Claim(ctx context.Context, id int64, now, leaseUntil time.Time) (*outbox.Item, error) {
	query := `
		UPDATE entitlement_outbox SET available_at = $3
		WHERE id = $1 AND status = 'pending' AND available_at <= $2
		RETURNING ` + outboxColumns

	item, err := scanItem(s.q.QueryRowContext(ctx, query, id, now, leaseUntil))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim outbox item %d: %w", id, err)
	}
	return item, nil
}

func (s *OutboxStore) MarkDone(ctx context.Context, id int64, at time.Time) error {
	_, err := s.q.ExecContext(ctx,
		"UPDATE entitlement_outbox SET status = 'done', processed_at = $2 WHERE id = $1",
		id, at,
	)
	if err != nil {
		return fmt.Errorf("failed to mark outbox item %d done: %w", id, err)
	}
	return nil
}

func (s *OutboxStore) MarkFailed(ctx context.Context, id int64, f outbox.Failure) error {
	status := outbox.StatusPending
	if f.Dead {
		status = outbox.StatusDead
	}
	_, err := s.q.ExecContext(ctx,
		"UPDATE entitlement_outbox SET status = $2, attempts = $3, last_error = $4, available_at = $5 WHERE id = $1",
		id, string(status), f.Attempts, f.LastError, f.AvailableAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record outbox failure %d: %w", id, err)
	}
	return nil
}

func (s *OutboxStore) CountPending(ctx context.Context) (int, error) {
	var n int
	if err := s.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM entitlement_outbox WHERE status = 'pending'").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count outbox items: %w", err)
	}
	return n, nil
}

func scanItem(row scanner) (*outbox.Item, error) {
	var (
		item         outbox.Item
		kind, status string
		payload      []byte
		processedAt  sql.NullTime
	)
	err := row.Scan(
		&item.ID,
		&item.Key,
		&kind,
		&item.OrganizationID,
		&item.SubscriptionID,
		&payload,
		&status,
		&item.Attempts,
		&item.LastError,
		&item.AvailableAt,
		&item.CreatedAt,
		&processedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload, &item.Payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal outbox payload: %w", err)
	}
	item.Kind = outbox.Kind(kind)
	item.Status = outbox.Status(status)
	item.ProcessedAt = nullTime(processedAt)
	return &item, nil
}
