package subscriptions

import (
	"time"

	"github.com/dungkhmt/serp-sub000/pkg/apperr"
	"github.com/dungkhmt/serp-sub000/pkg/plans"
	"github.com/shopspring/decimal"
)

// NewRow describes a ledger row about to be created.
type NewRow struct {
	OrganizationID int64
	Plan           *plans.Plan
	Cycle          plans.BillingCycle
	Start          time.Time
	AutoRenew      bool
	Notes          string
	Amount         decimal.Decimal
	Previous       *Subscription
	By             *int64
	Now            time.Time
}

func (r NewRow) validate() error {
	if r.OrganizationID <= 0 {
		return apperr.ErrInvalidRequest.Withf("organization id is required")
	}
	if r.Plan == nil {
		return apperr.ErrInvalidRequest.Withf("plan is required")
	}
	if !r.Cycle.Valid() {
		return apperr.ErrInvalidCycle.Withf("%q", r.Cycle)
	}
	return nil
}

func (r NewRow) build(status Status) *Subscription {
	sub := &Subscription{
		OrganizationID: r.OrganizationID,
		PlanID:         r.Plan.ID,
		Status:         status,
		BillingCycle:   r.Cycle,
		StartDate:      r.Start,
		EndDate:        r.Cycle.End(r.Start),
		IsAutoRenew:    r.AutoRenew,
		TotalAmount:    r.Amount,
		Notes:          r.Notes,
		CreatedBy:      r.By,
		CreatedAt:      r.Now,
		UpdatedBy:      r.By,
		UpdatedAt:      r.Now,
	}
	if r.Previous != nil {
		prev := r.Previous.ID
		sub.PreviousSubscriptionID = &prev
	}
	return sub
}

// NewPending creates a PENDING row awaiting activation. A plan with trial days
// records when the trial would end.
func NewPending(r NewRow) (*Subscription, error) {
	if err := r.validate(); err != nil {
		return nil, err
	}
	sub := r.build(StatusPending)
	if r.Plan.OffersTrial() {
		trialEnd := r.Start.AddDate(0, 0, r.Plan.TrialDays)
		sub.TrialEndsAt = &trialEnd
	}
	return sub, nil
}

// NewTrial creates an ACTIVE trial row that ends with the trial.
func NewTrial(r NewRow) (*Subscription, error) {
	if err := r.validate(); err != nil {
		return nil, err
	}
	if !r.Plan.OffersTrial() {
		return nil, apperr.ErrTrialNotOffered.Withf("plan %s", r.Plan.Code)
	}
	sub := r.build(StatusActive)
	trialEnd := r.Start.AddDate(0, 0, r.Plan.TrialDays)
	sub.EndDate = trialEnd
	sub.TrialEndsAt = &trialEnd
	sub.TotalAmount = decimal.Zero
	markActivated(sub, r.By, r.Now)
	return sub, nil
}

// NewActive creates a row that is ACTIVE from the start, used by upgrades.
func NewActive(r NewRow) (*Subscription, error) {
	if err := r.validate(); err != nil {
		return nil, err
	}
	sub := r.build(StatusActive)
	markActivated(sub, r.By, r.Now)
	return sub, nil
}

// Activate moves a PENDING or PENDING_UPGRADE row to ACTIVE.
func Activate(sub *Subscription, by *int64, now time.Time) (*Subscription, error) {
	switch {
	case sub.Status == StatusActive:
		return nil, apperr.ErrAlreadyActive.Withf("subscription %d", sub.ID)
	case sub.Status.IsTerminal():
		return nil, apperr.ErrTerminal.Withf("subscription %d is %s", sub.ID, sub.Status)
	}
	next := *sub
	next.Status = StatusActive
	markActivated(&next, by, now)
	touch(&next, by, now)
	return &next, nil
}

// Reject cancels a PENDING row before it was ever activated.
func Reject(sub *Subscription, reason string, by *int64, now time.Time) (*Subscription, error) {
	if sub.Status != StatusPending {
		return nil, apperr.ErrNotPending.Withf("subscription %d is %s", sub.ID, sub.Status)
	}
	next := *sub
	next.Status = StatusCancelled
	markCancelled(&next, reason, by, now)
	touch(&next, by, now)
	return &next, nil
}

// Expire moves any non-terminal row to EXPIRED.
func Expire(sub *Subscription, by *int64, now time.Time) (*Subscription, error) {
	if sub.Status.IsTerminal() {
		return nil, apperr.ErrTerminal.Withf("subscription %d is %s", sub.ID, sub.Status)
	}
	next := *sub
	next.Status = StatusExpired
	touch(&next, by, now)
	return &next, nil
}

// Cancel cancels an ACTIVE row. Access granted under it is left in place.
func Cancel(sub *Subscription, reason string, by *int64, now time.Time) (*Subscription, error) {
	if sub.Status != StatusActive {
		return nil, apperr.ErrNotActive.Withf("subscription %d is %s", sub.ID, sub.Status)
	}
	next := *sub
	next.Status = StatusCancelled
	markCancelled(&next, reason, by, now)
	touch(&next, by, now)
	return &next, nil
}

// ExtendTrial pushes the trial end of a row that is still in trial. A row whose
// period ends with the trial has its end date moved too.
func ExtendTrial(sub *Subscription, days int, by *int64, now time.Time) (*Subscription, error) {
	if days <= 0 {
		return nil, apperr.ErrInvalidTrialDays.Withf("got %d", days)
	}
	if sub.Status.IsTerminal() {
		return nil, apperr.ErrTerminal.Withf("subscription %d is %s", sub.ID, sub.Status)
	}
	if !sub.InTrial(now) {
		return nil, apperr.ErrNotInTrial.Withf("subscription %d", sub.ID)
	}
	next := *sub
	trialEnd := sub.TrialEndsAt.AddDate(0, 0, days)
	if sub.EndDate.Equal(*sub.TrialEndsAt) {
		next.EndDate = trialEnd
	}
	next.TrialEndsAt = &trialEnd
	touch(&next, by, now)
	return &next, nil
}

// MarkPendingUpgrade points a current row at planID and holds it for approval.
func MarkPendingUpgrade(sub *Subscription, planID int64, by *int64, now time.Time) (*Subscription, error) {
	if !sub.Status.IsCurrent() {
		return nil, apperr.ErrNotActive.Withf("subscription %d is %s", sub.ID, sub.Status)
	}
	next := *sub
	next.Status = StatusPendingUpgrade
	next.PlanID = planID
	touch(&next, by, now)
	return &next, nil
}

func markActivated(sub *Subscription, by *int64, now time.Time) {
	at := now
	sub.ActivatedAt = &at
	sub.ActivatedBy = by
}

func markCancelled(sub *Subscription, reason string, by *int64, now time.Time) {
	at := now
	sub.CancelledAt = &at
	sub.CancelledBy = by
	sub.CancellationReason = reason
}

func touch(sub *Subscription, by *int64, now time.Time) {
	sub.UpdatedAt = now
	sub.UpdatedBy = by
}
