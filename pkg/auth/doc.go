// Package auth carries the explicit tenant and requester identity that every
// orchestrator operation receives.
//
// Identity is never looked up ambiently. Callers build a RequestContext from
// whatever authenticated the request and pass it alongside the arguments:
//
//	rc := auth.RequestContext{OrganizationID: 12, UserID: 7, RequestID: reqID}
//	sub, err := svc.Subscribe(ctx, rc, orchestrator.SubscribeRequest{...})
//
// Background jobs use System, which bypasses tenant checks and records no
// actor on ledger rows.
package auth
