// Package orchestrator runs the public subscription operations.
//
// Each mutating operation authorizes the request context, then performs one
// unit of work holding the organization's lock: the ledger transition, the
// organization's current-subscription pointer and the entitlement cascade
// recorded in the outbox all commit together. Once committed, the cascade is
// dispatched right away; when that fails the outbox worker retries it.
//
// Cascades:
//
//   - grant_plan_modules follows activation, trial start, upgrade and trial
//     extension. Each included module of the plan is granted to the owner and
//     any extra recipients, expiring with the subscription. Modules of the
//     previous plan that the new plan drops are revoked from every holder.
//   - revoke_plan_modules follows expiration of any non-terminal row, pending
//     rows included. Modules still covered by the organization's current plan
//     are kept.
//
// Domain errors are returned unchanged. Anything else is logged and surfaced
// as apperr.ErrInternal.
package orchestrator
