// Package apperr defines the domain error taxonomy shared by the subscription
// and entitlement packages.
//
// Every domain failure is an *Error carrying a Kind and a stable Code. Errors
// compare by code, so a wrapped or detailed copy still matches its sentinel:
//
//	if errors.Is(err, apperr.ErrActiveSubscriptionExists) { ... }
//
// Anything that is not an *Error is treated as internal by KindOf.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a domain error.
type Kind string

const (
	KindValidation    Kind = "VALIDATION"
	KindStateConflict Kind = "STATE_CONFLICT"
	KindNotFound      Kind = "NOT_FOUND"
	KindAuthorization Kind = "AUTHORIZATION"
	KindInternal      Kind = "INTERNAL"
)

// Error is a typed domain failure with a stable code.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

// New creates a new domain error.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Withf returns a copy of e with detail appended to the message.
func (e *Error) Withf(format string, args ...interface{}) *Error {
	cp := *e
	cp.Message = e.Message + ": " + fmt.Sprintf(format, args...)
	return &cp
}

// Wrap returns a copy of e carrying cause.
func (e *Error) Wrap(cause error) *Error {
	cp := *e
	cp.Err = cause
	return &cp
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the code of the first *Error in err's chain.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrInternal.Code
}

// IsDomain reports whether err should be surfaced to callers as-is.
func IsDomain(err error) bool {
	if err == nil {
		return false
	}
	return KindOf(err) != KindInternal
}

// Validation
var (
	ErrInvalidRequest       = New(KindValidation, "INVALID_REQUEST", "invalid request")
	ErrInvalidCycle         = New(KindValidation, "INVALID_BILLING_CYCLE", "billing cycle must be MONTHLY or YEARLY")
	ErrPlanUnavailable      = New(KindValidation, "PLAN_UNAVAILABLE", "plan is not available")
	ErrModuleNotFound       = New(KindValidation, "MODULE_NOT_FOUND", "module not found")
	ErrModuleUnavailable    = New(KindValidation, "MODULE_UNAVAILABLE", "module is not available")
	ErrNoNewModules         = New(KindValidation, "NO_NEW_MODULES", "all requested modules are already in the plan")
	ErrTrialNotOffered      = New(KindValidation, "TRIAL_NOT_OFFERED", "plan does not offer a trial")
	ErrInvalidTrialDays     = New(KindValidation, "INVALID_TRIAL_EXTENSION", "additional trial days must be positive")
	ErrOrganizationInactive = New(KindValidation, "ORGANIZATION_INACTIVE", "organization is not active")
)

// State conflicts
var (
	ErrActiveSubscriptionExists = New(KindStateConflict, "ACTIVE_SUBSCRIPTION_EXISTS", "organization already has an active or pending-upgrade subscription")
	ErrNoActiveSubscription     = New(KindStateConflict, "NO_ACTIVE_SUBSCRIPTION", "organization has no active subscription")
	ErrNotPending               = New(KindStateConflict, "SUBSCRIPTION_NOT_PENDING", "subscription is not pending")
	ErrAlreadyActive            = New(KindStateConflict, "SUBSCRIPTION_ALREADY_ACTIVE", "subscription is already active")
	ErrNotActive                = New(KindStateConflict, "SUBSCRIPTION_NOT_ACTIVE", "subscription is not active")
	ErrNotInTrial               = New(KindStateConflict, "SUBSCRIPTION_NOT_IN_TRIAL", "subscription is not in trial")
	ErrNotRenewable             = New(KindStateConflict, "SUBSCRIPTION_NOT_RENEWABLE", "subscription is not renewable")
	ErrTerminal                 = New(KindStateConflict, "SUBSCRIPTION_TERMINAL", "subscription is expired or cancelled")
	ErrPriceOrder               = New(KindStateConflict, "PRICE_ORDER_VIOLATION", "plan price does not allow this change")
	ErrSamePlan                 = New(KindStateConflict, "SAME_PLAN", "subscription is already on this plan")
	ErrModuleCapacity           = New(KindStateConflict, "MODULE_CAPACITY_EXCEEDED", "module user limit reached")
	ErrNotCustomPlan            = New(KindStateConflict, "NOT_CUSTOM_PLAN", "plan is not a custom plan")
	ErrDuplicate                = New(KindStateConflict, "DUPLICATE", "record already exists")
)

// Not found
var (
	ErrPlanNotFound         = New(KindNotFound, "PLAN_NOT_FOUND", "plan not found")
	ErrSubscriptionNotFound = New(KindNotFound, "SUBSCRIPTION_NOT_FOUND", "subscription not found")
	ErrOrganizationNotFound = New(KindNotFound, "ORGANIZATION_NOT_FOUND", "organization not found")
	ErrGrantNotFound        = New(KindNotFound, "MODULE_ACCESS_NOT_FOUND", "module access grant not found")
	ErrModuleNotInPlan      = New(KindNotFound, "MODULE_NOT_IN_PLAN", "module is not part of the plan")
)

// Authorization
var (
	ErrMissingContext = New(KindAuthorization, "MISSING_REQUEST_CONTEXT", "requester or tenant context is missing")
	ErrTenantMismatch = New(KindAuthorization, "TENANT_MISMATCH", "requester may not act on this organization")
)

// ErrInternal is the generic error surfaced for unexpected failures.
var ErrInternal = New(KindInternal, "INTERNAL_ERROR", "internal error")
