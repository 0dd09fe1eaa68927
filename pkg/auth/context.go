package auth

import (
	"context"

	"github.com/google/uuid"

	"github.com/dungkhmt/serp-sub000/pkg/apperr"
	"github.com/dungkhmt/serp-sub000/pkg/contextkeys"
)

// RequestContext identifies who is acting, and on behalf of which organization.
type RequestContext struct {
	OrganizationID  int64
	UserID          int64
	RequestID       string
	IsPlatformAdmin bool
	IsSystem        bool
}

// System returns the context used by scheduled jobs and the outbox worker.
func System() RequestContext {
	return RequestContext{
		RequestID:       uuid.NewString(),
		IsPlatformAdmin: true,
		IsSystem:        true,
	}
}

// Validate checks that a requester and tenant are present.
func (rc RequestContext) Validate() error {
	if rc.IsSystem {
		return nil
	}
	if rc.UserID <= 0 {
		return apperr.ErrMissingContext.Withf("requester is required")
	}
	if rc.OrganizationID <= 0 && !rc.IsPlatformAdmin {
		return apperr.ErrMissingContext.Withf("tenant is required")
	}
	return nil
}

// Authorize checks that the requester may act on orgID.
func (rc RequestContext) Authorize(orgID int64) error {
	if err := rc.Validate(); err != nil {
		return err
	}
	if rc.IsPlatformAdmin || rc.OrganizationID == orgID {
		return nil
	}
	return apperr.ErrTenantMismatch.Withf("organization %d", orgID)
}

// Actor returns the user id recorded on ledger rows, or nil for system work.
func (rc RequestContext) Actor() *int64 {
	if rc.IsSystem || rc.UserID <= 0 {
		return nil
	}
	id := rc.UserID
	return &id
}

// NewContext returns ctx carrying rc.
func NewContext(ctx context.Context, rc RequestContext) context.Context {
	ctx = context.WithValue(ctx, contextkeys.RequestContextKey, rc)
	if rc.RequestID != "" {
		ctx = context.WithValue(ctx, contextkeys.RequestIDKey, rc.RequestID)
	}
	return ctx
}

// FromContext extracts the request context stored by NewContext.
func FromContext(ctx context.Context) (RequestContext, bool) {
	rc, ok := ctx.Value(contextkeys.RequestContextKey).(RequestContext)
	return rc, ok
}
