package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dungkhmt/serp-sub000/pkg/apperr"
	"github.com/dungkhmt/serp-sub000/pkg/plans"
	"github.com/shopspring/decimal"
)

// Lifecycle applies state transitions to the ledger.
type Lifecycle struct {
	store    Store
	plans    PlanSource
	prorator Prorator
	now      func() time.Time
}

// Option configures a Lifecycle.
type Option func(*Lifecycle)

// WithClock overrides the clock.
func WithClock(now func() time.Time) Option {
	return func(l *Lifecycle) { l.now = now }
}

// NewLifecycle creates a Lifecycle.
func NewLifecycle(store Store, planSource PlanSource, prorator Prorator, opts ...Option) *Lifecycle {
	l := &Lifecycle{
		store:    store,
		plans:    planSource,
		prorator: prorator,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// WithStore returns a Lifecycle writing through store, typically bound to a
// transaction.
func (l *Lifecycle) WithStore(store Store) *Lifecycle {
	cp := *l
	cp.store = store
	return &cp
}

// Now returns the lifecycle clock's current time.
func (l *Lifecycle) Now() time.Time {
	return l.now()
}

// SubscribeRequest opens a PENDING subscription.
type SubscribeRequest struct {
	OrganizationID int64
	PlanID         int64
	Cycle          plans.BillingCycle
	AutoRenew      bool
	Notes          string
	By             *int64
}

// Change is the outcome of a transition that replaces the current row.
type Change struct {
	Previous     *Subscription
	Next         *Subscription
	PreviousPlan *plans.Plan
	Plan         *plans.Plan
	Credit       decimal.Decimal
}

// Subscribe creates a PENDING row for an organization with no current row.
func (l *Lifecycle) Subscribe(ctx context.Context, req SubscribeRequest) (*Subscription, error) {
	if err := l.ensureNoCurrent(ctx, req.OrganizationID); err != nil {
		return nil, err
	}
	plan, err := l.availablePlan(ctx, req.PlanID)
	if err != nil {
		return nil, err
	}
	if !req.Cycle.Valid() {
		return nil, apperr.ErrInvalidCycle.Withf("%q", req.Cycle)
	}

	now := l.now()
	sub, err := NewPending(NewRow{
		OrganizationID: req.OrganizationID,
		Plan:           plan,
		Cycle:          req.Cycle,
		Start:          now,
		AutoRenew:      req.AutoRenew,
		Notes:          req.Notes,
		Amount:         plan.PriceFor(req.Cycle),
		By:             req.By,
		Now:            now,
	})
	if err != nil {
		return nil, err
	}
	if err := l.store.Create(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// StartTrial creates an ACTIVE trial row.
func (l *Lifecycle) StartTrial(ctx context.Context, orgID, planID int64, by *int64) (*Subscription, *plans.Plan, error) {
	if err := l.ensureNoCurrent(ctx, orgID); err != nil {
		return nil, nil, err
	}
	plan, err := l.availablePlan(ctx, planID)
	if err != nil {
		return nil, nil, err
	}

	now := l.now()
	sub, err := NewTrial(NewRow{
		OrganizationID: orgID,
		Plan:           plan,
		Cycle:          plans.Monthly,
		Start:          now,
		By:             by,
		Now:            now,
	})
	if err != nil {
		return nil, nil, err
	}
	if err := l.store.Create(ctx, sub); err != nil {
		return nil, nil, err
	}
	return sub, plan, nil
}

// Activate activates a PENDING or PENDING_UPGRADE row. A PENDING row can only
// be activated while the organization has no other current row.
func (l *Lifecycle) Activate(ctx context.Context, id int64, by *int64) (*Subscription, error) {
	sub, err := l.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	next, err := Activate(sub, by, l.now())
	if err != nil {
		return nil, err
	}
	if sub.Status == StatusPending {
		current, err := l.store.GetCurrent(ctx, sub.OrganizationID)
		switch {
		case err == nil && current.ID != sub.ID:
			return nil, apperr.ErrActiveSubscriptionExists.Withf("subscription %d is current", current.ID)
		case err != nil && !errors.Is(err, apperr.ErrSubscriptionNotFound):
			return nil, err
		}
	}
	if err := l.store.Update(ctx, next); err != nil {
		return nil, err
	}
	return next, nil
}

// Reject cancels a PENDING row.
func (l *Lifecycle) Reject(ctx context.Context, id int64, reason string, by *int64) (*Subscription, error) {
	sub, err := l.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	next, err := Reject(sub, reason, by, l.now())
	if err != nil {
		return nil, err
	}
	if err := l.store.Update(ctx, next); err != nil {
		return nil, err
	}
	return next, nil
}

// UpgradeRequest moves an organization to a more expensive plan.
type UpgradeRequest struct {
	OrganizationID int64
	PlanID         int64
	// Cycle defaults to the current row's cycle.
	Cycle plans.BillingCycle
	By    *int64
}

// Upgrade expires the ACTIVE row and replaces it with an ACTIVE row on the new
// plan, charged the new price less the proration credit.
func (l *Lifecycle) Upgrade(ctx context.Context, req UpgradeRequest) (*Change, error) {
	current, currentPlan, newPlan, err := l.prepareChange(ctx, req.OrganizationID, req.PlanID)
	if err != nil {
		return nil, err
	}
	cycle := req.Cycle
	if cycle == "" {
		cycle = current.BillingCycle
	}
	if !cycle.Valid() {
		return nil, apperr.ErrInvalidCycle.Withf("%q", cycle)
	}

	currentPrice := currentPlan.PriceFor(current.BillingCycle)
	newPrice := newPlan.PriceFor(current.BillingCycle)
	if !currentPlan.IsFree() && !newPrice.GreaterThan(currentPrice) {
		return nil, apperr.ErrPriceOrder.Withf("upgrade requires a price above %s, plan %s costs %s",
			currentPrice.StringFixed(2), newPlan.Code, newPrice.StringFixed(2))
	}

	now := l.now()
	credit := l.prorator.CalculateProration(current, currentPlan, newPlan, now)
	total := newPlan.PriceFor(cycle).Sub(credit)
	if total.IsNegative() {
		total = decimal.Zero
	}

	expired, err := Expire(current, req.By, now)
	if err != nil {
		return nil, err
	}
	next, err := NewActive(NewRow{
		OrganizationID: req.OrganizationID,
		Plan:           newPlan,
		Cycle:          cycle,
		Start:          now,
		AutoRenew:      current.IsAutoRenew,
		Amount:         total,
		Previous:       current,
		By:             req.By,
		Now:            now,
	})
	if err != nil {
		return nil, err
	}
	if err := l.store.Update(ctx, expired); err != nil {
		return nil, err
	}
	if err := l.store.Create(ctx, next); err != nil {
		return nil, err
	}
	return &Change{Previous: expired, Next: next, PreviousPlan: currentPlan, Plan: newPlan, Credit: credit}, nil
}

// DowngradeRequest moves an organization to a cheaper plan at period end.
type DowngradeRequest struct {
	OrganizationID int64
	PlanID         int64
	By             *int64
}

// Downgrade expires the ACTIVE row and creates a PENDING row on the new plan
// starting when the expired row's period would have ended.
func (l *Lifecycle) Downgrade(ctx context.Context, req DowngradeRequest) (*Change, error) {
	current, currentPlan, newPlan, err := l.prepareChange(ctx, req.OrganizationID, req.PlanID)
	if err != nil {
		return nil, err
	}

	cycle := current.BillingCycle
	currentPrice := currentPlan.PriceFor(cycle)
	newPrice := newPlan.PriceFor(cycle)
	if !newPlan.IsFree() && !newPrice.LessThan(currentPrice) {
		return nil, apperr.ErrPriceOrder.Withf("downgrade requires a price below %s, plan %s costs %s",
			currentPrice.StringFixed(2), newPlan.Code, newPrice.StringFixed(2))
	}

	now := l.now()
	expired, err := Expire(current, req.By, now)
	if err != nil {
		return nil, err
	}
	next, err := NewPending(NewRow{
		OrganizationID: req.OrganizationID,
		Plan:           newPlan,
		Cycle:          cycle,
		Start:          current.EndDate,
		AutoRenew:      current.IsAutoRenew,
		Amount:         newPrice,
		Previous:       current,
		By:             req.By,
		Now:            now,
	})
	if err != nil {
		return nil, err
	}
	// Deferred rows never start a trial.
	next.TrialEndsAt = nil
	if err := l.store.Update(ctx, expired); err != nil {
		return nil, err
	}
	if err := l.store.Create(ctx, next); err != nil {
		return nil, err
	}
	return &Change{Previous: expired, Next: next, PreviousPlan: currentPlan, Plan: newPlan}, nil
}

// Renew starts a new PENDING period on the plan and cycle of the latest row.
// The latest row must be EXPIRED or ACTIVE; an ACTIVE row is expired.
func (l *Lifecycle) Renew(ctx context.Context, orgID int64, by *int64) (*Change, error) {
	latest, err := l.store.GetLatest(ctx, orgID)
	if err != nil {
		if errors.Is(err, apperr.ErrSubscriptionNotFound) {
			return nil, apperr.ErrNotRenewable.Withf("organization %d has no subscription", orgID)
		}
		return nil, err
	}
	if latest.Status != StatusExpired && latest.Status != StatusActive {
		return nil, apperr.ErrNotRenewable.Withf("subscription %d is %s", latest.ID, latest.Status)
	}
	plan, err := l.availablePlan(ctx, latest.PlanID)
	if err != nil {
		return nil, err
	}

	now := l.now()
	previous := latest
	if latest.Status == StatusActive {
		if previous, err = Expire(latest, by, now); err != nil {
			return nil, err
		}
	}
	next, err := NewPending(NewRow{
		OrganizationID: orgID,
		Plan:           plan,
		Cycle:          latest.BillingCycle,
		Start:          now,
		AutoRenew:      latest.IsAutoRenew,
		Amount:         plan.PriceFor(latest.BillingCycle),
		Previous:       latest,
		By:             by,
		Now:            now,
	})
	if err != nil {
		return nil, err
	}
	next.TrialEndsAt = nil
	if previous != latest {
		if err := l.store.Update(ctx, previous); err != nil {
			return nil, err
		}
	}
	if err := l.store.Create(ctx, next); err != nil {
		return nil, err
	}
	return &Change{Previous: previous, Next: next, PreviousPlan: plan, Plan: plan}, nil
}

// Cancel cancels the organization's ACTIVE row.
func (l *Lifecycle) Cancel(ctx context.Context, orgID int64, reason string, by *int64) (*Subscription, error) {
	current, err := l.activeRow(ctx, orgID)
	if err != nil {
		return nil, err
	}
	next, err := Cancel(current, reason, by, l.now())
	if err != nil {
		return nil, err
	}
	if err := l.store.Update(ctx, next); err != nil {
		return nil, err
	}
	return next, nil
}

// ExtendTrial adds days to a row's running trial.
func (l *Lifecycle) ExtendTrial(ctx context.Context, id int64, days int, by *int64) (*Subscription, error) {
	sub, err := l.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	next, err := ExtendTrial(sub, days, by, l.now())
	if err != nil {
		return nil, err
	}
	if err := l.store.Update(ctx, next); err != nil {
		return nil, err
	}
	return next, nil
}

// Expire expires a non-terminal row.
func (l *Lifecycle) Expire(ctx context.Context, id int64, by *int64) (*Subscription, error) {
	sub, err := l.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	next, err := Expire(sub, by, l.now())
	if err != nil {
		return nil, err
	}
	if err := l.store.Update(ctx, next); err != nil {
		return nil, err
	}
	return next, nil
}

// MarkPendingUpgrade moves the current row onto planID awaiting approval.
func (l *Lifecycle) MarkPendingUpgrade(ctx context.Context, orgID, planID int64, by *int64) (*Subscription, error) {
	current, err := l.Current(ctx, orgID)
	if err != nil {
		return nil, err
	}
	next, err := MarkPendingUpgrade(current, planID, by, l.now())
	if err != nil {
		return nil, err
	}
	if err := l.store.Update(ctx, next); err != nil {
		return nil, err
	}
	return next, nil
}

// Current returns the organization's ACTIVE or PENDING_UPGRADE row.
func (l *Lifecycle) Current(ctx context.Context, orgID int64) (*Subscription, error) {
	sub, err := l.store.GetCurrent(ctx, orgID)
	if err != nil {
		if errors.Is(err, apperr.ErrSubscriptionNotFound) {
			return nil, apperr.ErrNoActiveSubscription.Withf("organization %d", orgID)
		}
		return nil, err
	}
	return sub, nil
}

// Get returns a row by id.
func (l *Lifecycle) Get(ctx context.Context, id int64) (*Subscription, error) {
	return l.store.GetByID(ctx, id)
}

// History returns every row of the organization, newest first.
func (l *Lifecycle) History(ctx context.Context, orgID int64) ([]*Subscription, error) {
	return l.store.ListByOrganization(ctx, orgID)
}

// DueForExpiry returns ACTIVE rows whose period has ended.
func (l *Lifecycle) DueForExpiry(ctx context.Context, limit int) ([]*Subscription, error) {
	return l.store.ListDueForExpiry(ctx, l.now(), limit)
}

func (l *Lifecycle) ensureNoCurrent(ctx context.Context, orgID int64) error {
	if orgID <= 0 {
		return apperr.ErrInvalidRequest.Withf("organization id is required")
	}
	current, err := l.store.GetCurrent(ctx, orgID)
	if err == nil {
		return apperr.ErrActiveSubscriptionExists.Withf("subscription %d is %s", current.ID, current.Status)
	}
	if errors.Is(err, apperr.ErrSubscriptionNotFound) {
		return nil
	}
	return err
}

func (l *Lifecycle) activeRow(ctx context.Context, orgID int64) (*Subscription, error) {
	current, err := l.Current(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if current.Status != StatusActive {
		return nil, apperr.ErrNotActive.Withf("subscription %d is %s", current.ID, current.Status)
	}
	return current, nil
}

func (l *Lifecycle) availablePlan(ctx context.Context, planID int64) (*plans.Plan, error) {
	plan, err := l.plans.GetPlan(ctx, planID)
	if err != nil {
		if errors.Is(err, apperr.ErrPlanNotFound) {
			return nil, apperr.ErrPlanUnavailable.Withf("plan %d does not exist", planID).Wrap(err)
		}
		return nil, fmt.Errorf("failed to load plan %d: %w", planID, err)
	}
	if !plan.IsActive {
		return nil, apperr.ErrPlanUnavailable.Withf("plan %s", plan.Code)
	}
	return plan, nil
}

func (l *Lifecycle) prepareChange(ctx context.Context, orgID, planID int64) (*Subscription, *plans.Plan, *plans.Plan, error) {
	current, err := l.activeRow(ctx, orgID)
	if err != nil {
		return nil, nil, nil, err
	}
	if current.PlanID == planID {
		return nil, nil, nil, apperr.ErrSamePlan.Withf("plan %d", planID)
	}
	currentPlan, err := l.plans.GetPlan(ctx, current.PlanID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load current plan %d: %w", current.PlanID, err)
	}
	newPlan, err := l.availablePlan(ctx, planID)
	if err != nil {
		return nil, nil, nil, err
	}
	return current, currentPlan, newPlan, nil
}
