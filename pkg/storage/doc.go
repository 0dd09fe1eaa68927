// Package storage defines the unit of work shared by the persistence backends.
//
// # Overview
//
// Every ledger mutation runs inside one unit of work: a transaction that holds
// a per-organization lock for its whole duration. Within it, the caller gets
// transaction-bound stores for the ledger, the plan catalog, organizations
// and the entitlement outbox:
//
//	err := uow.Do(ctx, orgID, func(ctx context.Context, tx storage.Tx) error {
//		sub, err := lifecycle.WithStore(tx.Subscriptions()).Activate(ctx, id, by)
//		if err != nil {
//			return err
//		}
//		return tx.Outbox().Enqueue(ctx, item)
//	})
//
// Returning an error from fn rolls back every write made through tx.
//
// # Backends
//
//   - postgres: database/sql over lib/pq. The organization lock is
//     pg_advisory_xact_lock; a partial unique index backs the one current
//     subscription rule.
//   - memory: an in-process backend used by tests and local runs. Units of
//     work are serialized and rolled back from a snapshot.
//
// Entitlement records are written outside the ledger unit of work by the
// outbox worker, each (organization, module) pair under its own lock.
package storage
