// Package subscriptions implements the organization subscription ledger.
//
// Each ledger row moves through PENDING, ACTIVE, PENDING_UPGRADE, EXPIRED and
// CANCELLED. EXPIRED and CANCELLED are terminal. Transitions are plain
// functions that take a row and return an updated copy or a typed error from
// package apperr; Lifecycle loads rows, applies those functions and writes the
// result through a Store.
//
// At most one row per organization is current (ACTIVE or PENDING_UPGRADE).
// Lifecycle checks this before writing and every Store implementation rejects
// a write that would break it.
//
// Upgrades take effect immediately and are charged the new price less a
// proration credit. Downgrades are deferred: the new row starts when the
// current period ends.
package subscriptions
