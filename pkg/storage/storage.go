package storage

import (
	"context"

	"github.com/dungkhmt/serp-sub000/pkg/orgs"
	"github.com/dungkhmt/serp-sub000/pkg/outbox"
	"github.com/dungkhmt/serp-sub000/pkg/plans"
	"github.com/dungkhmt/serp-sub000/pkg/subscriptions"
)

// Tx exposes stores bound to one unit of work.
type Tx interface {
	Subscriptions() subscriptions.Store
	Plans() plans.Store
	Organizations() orgs.Store
	Outbox() outbox.Store
}

// UnitOfWork runs fn in a transaction holding the organization's lock. The
// transaction commits when fn returns nil and rolls back otherwise.
type UnitOfWork interface {
	Do(ctx context.Context, orgID int64, fn func(ctx context.Context, tx Tx) error) error
}
