package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/dungkhmt/serp-sub000/pkg/apperr"
	"github.com/dungkhmt/serp-sub000/pkg/auth"
	"github.com/dungkhmt/serp-sub000/pkg/outbox"
	"github.com/dungkhmt/serp-sub000/pkg/plans"
	"github.com/dungkhmt/serp-sub000/pkg/subscriptions"
	"github.com/shopspring/decimal"
)

// SubscribeInput opens a paid subscription awaiting activation.
type SubscribeInput struct {
	OrganizationID int64
	PlanID         int64
	Cycle          plans.BillingCycle
	AutoRenew      bool
	Notes          string
}

// Subscribe creates a PENDING row. Nothing is granted until it is activated.
func (s *Service) Subscribe(ctx context.Context, rc auth.RequestContext, in SubscribeInput) (*subscriptions.Subscription, error) {
	var out *subscriptions.Subscription
	err := s.execute(ctx, rc, "subscribe", in.OrganizationID, execOptions{requireActive: true}, func(ctx context.Context, u *unit) error {
		sub, err := u.lifecycle.Subscribe(ctx, subscriptions.SubscribeRequest{
			OrganizationID: in.OrganizationID,
			PlanID:         in.PlanID,
			Cycle:          in.Cycle,
			AutoRenew:      in.AutoRenew,
			Notes:          in.Notes,
			By:             u.actor,
		})
		if err != nil {
			return err
		}
		out = sub
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// StartTrial opens an ACTIVE trial and grants the plan's modules to the owner
// and the requesting user.
func (s *Service) StartTrial(ctx context.Context, rc auth.RequestContext, orgID, planID int64) (*subscriptions.Subscription, error) {
	var out *subscriptions.Subscription
	err := s.execute(ctx, rc, "start_trial", orgID, execOptions{requireActive: true}, func(ctx context.Context, u *unit) error {
		sub, _, err := u.lifecycle.StartTrial(ctx, orgID, planID, u.actor)
		if err != nil {
			return err
		}
		if err := u.point(ctx, sub); err != nil {
			return err
		}
		payload := outbox.Payload{PlanID: sub.PlanID, ExpiresAt: endOf(sub)}
		if u.actor != nil {
			payload.UserIDs = []int64{*u.actor}
		}
		if err := u.enqueue(ctx, outbox.KindGrantPlanModules, sub, payload); err != nil {
			return err
		}
		out = sub
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ActivateSubscription activates a PENDING or PENDING_UPGRADE row and grants
// its plan's modules. When the row follows one on a different plan, modules
// the new plan drops are revoked.
func (s *Service) ActivateSubscription(ctx context.Context, rc auth.RequestContext, subscriptionID int64) (*subscriptions.Subscription, error) {
	var out *subscriptions.Subscription
	err := s.executeOn(ctx, rc, "activate", subscriptionID, execOptions{requireActive: true}, func(ctx context.Context, u *unit) error {
		sub, err := u.lifecycle.Activate(ctx, subscriptionID, u.actor)
		if err != nil {
			return err
		}
		if err := u.point(ctx, sub); err != nil {
			return err
		}
		payload := outbox.Payload{PlanID: sub.PlanID, ExpiresAt: endOf(sub)}
		if sub.PreviousSubscriptionID != nil {
			prev, err := u.lifecycle.Get(ctx, *sub.PreviousSubscriptionID)
			if err != nil && !errors.Is(err, apperr.ErrSubscriptionNotFound) {
				return err
			}
			if prev != nil && prev.PlanID != sub.PlanID {
				planID := prev.PlanID
				payload.PreviousPlanID = &planID
			}
		}
		if err := u.enqueue(ctx, outbox.KindGrantPlanModules, sub, payload); err != nil {
			return err
		}
		out = sub
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RejectSubscription cancels a PENDING row.
func (s *Service) RejectSubscription(ctx context.Context, rc auth.RequestContext, subscriptionID int64, reason string) (*subscriptions.Subscription, error) {
	var out *subscriptions.Subscription
	err := s.executeOn(ctx, rc, "reject", subscriptionID, execOptions{}, func(ctx context.Context, u *unit) error {
		sub, err := u.lifecycle.Reject(ctx, subscriptionID, reason, u.actor)
		if err != nil {
			return err
		}
		if err := u.release(ctx, sub); err != nil {
			return err
		}
		out = sub
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ChangeInput moves an organization to another plan. Cycle applies to
// upgrades only and defaults to the current cycle.
type ChangeInput struct {
	OrganizationID int64
	PlanID         int64
	Cycle          plans.BillingCycle
}

// ChangeResult is the outcome of a plan change.
type ChangeResult struct {
	Previous *subscriptions.Subscription
	Next     *subscriptions.Subscription
	// Credit is the proration credit applied to an upgrade.
	Credit decimal.Decimal
}

// UpgradeSubscription replaces the ACTIVE row with an ACTIVE row on a more
// expensive plan, charged net of the proration credit. The new plan's modules
// are granted and modules it drops are revoked.
func (s *Service) UpgradeSubscription(ctx context.Context, rc auth.RequestContext, in ChangeInput) (*ChangeResult, error) {
	var out *ChangeResult
	err := s.execute(ctx, rc, "upgrade", in.OrganizationID, execOptions{requireActive: true}, func(ctx context.Context, u *unit) error {
		change, err := u.lifecycle.Upgrade(ctx, subscriptions.UpgradeRequest{
			OrganizationID: in.OrganizationID,
			PlanID:         in.PlanID,
			Cycle:          in.Cycle,
			By:             u.actor,
		})
		if err != nil {
			return err
		}
		if err := u.point(ctx, change.Next); err != nil {
			return err
		}
		previousPlanID := change.PreviousPlan.ID
		payload := outbox.Payload{
			PlanID:         change.Plan.ID,
			PreviousPlanID: &previousPlanID,
			ExpiresAt:      endOf(change.Next),
		}
		if err := u.enqueue(ctx, outbox.KindGrantPlanModules, change.Next, payload); err != nil {
			return err
		}
		out = &ChangeResult{Previous: change.Previous, Next: change.Next, Credit: change.Credit}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DowngradeSubscription expires the ACTIVE row and queues a PENDING row on a
// cheaper plan starting at the old period end. Existing grants run out at
// their own expiry; modules the cheaper plan drops are revoked when the
// PENDING row is activated.
func (s *Service) DowngradeSubscription(ctx context.Context, rc auth.RequestContext, in ChangeInput) (*ChangeResult, error) {
	var out *ChangeResult
	err := s.execute(ctx, rc, "downgrade", in.OrganizationID, execOptions{requireActive: true}, func(ctx context.Context, u *unit) error {
		change, err := u.lifecycle.Downgrade(ctx, subscriptions.DowngradeRequest{
			OrganizationID: in.OrganizationID,
			PlanID:         in.PlanID,
			By:             u.actor,
		})
		if err != nil {
			return err
		}
		if err := u.release(ctx, change.Previous); err != nil {
			return err
		}
		out = &ChangeResult{Previous: change.Previous, Next: change.Next, Credit: decimal.Zero}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CancelSubscription cancels the organization's ACTIVE row. Grants are kept
// until they expire.
func (s *Service) CancelSubscription(ctx context.Context, rc auth.RequestContext, orgID int64, reason string) (*subscriptions.Subscription, error) {
	var out *subscriptions.Subscription
	err := s.execute(ctx, rc, "cancel", orgID, execOptions{}, func(ctx context.Context, u *unit) error {
		sub, err := u.lifecycle.Cancel(ctx, orgID, reason, u.actor)
		if err != nil {
			return err
		}
		if err := u.release(ctx, sub); err != nil {
			return err
		}
		out = sub
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RenewSubscription opens a PENDING period on the latest row's plan and cycle,
// expiring the latest row first when it is still ACTIVE.
func (s *Service) RenewSubscription(ctx context.Context, rc auth.RequestContext, orgID int64) (*ChangeResult, error) {
	var out *ChangeResult
	err := s.execute(ctx, rc, "renew", orgID, execOptions{requireActive: true}, func(ctx context.Context, u *unit) error {
		change, err := u.lifecycle.Renew(ctx, orgID, u.actor)
		if err != nil {
			return err
		}
		if err := u.release(ctx, change.Previous); err != nil {
			return err
		}
		out = &ChangeResult{Previous: change.Previous, Next: change.Next, Credit: decimal.Zero}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ExtendTrial adds days to a running trial. Grants of the trial's modules are
// refreshed to the new end date for the owner and every current holder.
func (s *Service) ExtendTrial(ctx context.Context, rc auth.RequestContext, subscriptionID int64, days int) (*subscriptions.Subscription, error) {
	var out *subscriptions.Subscription
	err := s.executeOn(ctx, rc, "extend_trial", subscriptionID, execOptions{requireActive: true}, func(ctx context.Context, u *unit) error {
		sub, err := u.lifecycle.ExtendTrial(ctx, subscriptionID, days, u.actor)
		if err != nil {
			return err
		}
		if sub.Status.IsCurrent() {
			payload := outbox.Payload{PlanID: sub.PlanID, IncludeHolders: true, ExpiresAt: endOf(sub)}
			if err := u.enqueue(ctx, outbox.KindGrantPlanModules, sub, payload); err != nil {
				return err
			}
		}
		out = sub
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ExpireSubscription expires a non-terminal row and revokes its plan's
// modules in the organization. Modules still covered by another current row
// are kept.
func (s *Service) ExpireSubscription(ctx context.Context, rc auth.RequestContext, subscriptionID int64) (*subscriptions.Subscription, error) {
	var out *subscriptions.Subscription
	err := s.executeOn(ctx, rc, "expire", subscriptionID, execOptions{}, func(ctx context.Context, u *unit) error {
		sub, err := u.lifecycle.Expire(ctx, subscriptionID, u.actor)
		if err != nil {
			return err
		}
		if err := u.release(ctx, sub); err != nil {
			return err
		}
		if err := u.enqueue(ctx, outbox.KindRevokePlanModules, sub, outbox.Payload{PlanID: sub.PlanID}); err != nil {
			return err
		}
		out = sub
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RequestMoreModules asks for modules beyond the current plan. The modules are
// added to the organization's custom plan, created from the current plan when
// there is none yet, and the current row is held as PENDING_UPGRADE on that
// plan until an administrator activates it.
func (s *Service) RequestMoreModules(ctx context.Context, rc auth.RequestContext, orgID int64, moduleIDs []int64) (*subscriptions.Subscription, error) {
	var out *subscriptions.Subscription
	err := s.execute(ctx, rc, "request_more_modules", orgID, execOptions{requireActive: true}, func(ctx context.Context, u *unit) error {
		if len(moduleIDs) == 0 {
			return apperr.ErrInvalidRequest.Withf("at least one module is required")
		}
		current, err := u.lifecycle.Current(ctx, orgID)
		if err != nil {
			return err
		}
		plan, err := u.catalog.GetPlan(ctx, current.PlanID)
		if err != nil {
			return err
		}
		included, err := u.catalog.IncludedModules(ctx, plan.ID)
		if err != nil {
			return err
		}
		added := missingModules(included, moduleIDs)
		if len(added) == 0 {
			return apperr.ErrNoNewModules.Withf("plan %s", plan.Code)
		}

		target := plan
		if plan.BelongsTo(orgID) {
			if err := u.catalog.AddModulesToCustomPlan(ctx, plan, added); err != nil {
				return err
			}
		} else {
			if target, err = u.catalog.CreateCustomPlan(ctx, orgID, plan, added); err != nil {
				return err
			}
		}
		u.invalidate = append(u.invalidate, target.ID)

		sub, err := u.lifecycle.MarkPendingUpgrade(ctx, orgID, target.ID, u.actor)
		if err != nil {
			return err
		}
		out = sub
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetActiveSubscription returns the organization's ACTIVE or PENDING_UPGRADE
// row.
func (s *Service) GetActiveSubscription(ctx context.Context, rc auth.RequestContext, orgID int64) (*subscriptions.Subscription, error) {
	var out *subscriptions.Subscription
	err := s.read(ctx, rc, "get_active", orgID, func(ctx context.Context) error {
		sub, err := s.lifecycle.Current(ctx, orgID)
		out = sub
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetSubscriptionHistory returns every row of the organization, newest first.
func (s *Service) GetSubscriptionHistory(ctx context.Context, rc auth.RequestContext, orgID int64) ([]*subscriptions.Subscription, error) {
	var out []*subscriptions.Subscription
	err := s.read(ctx, rc, "get_history", orgID, func(ctx context.Context) error {
		rows, err := s.lifecycle.History(ctx, orgID)
		out = rows
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetSubscriptionByID returns one row of an organization the requester may
// act on.
func (s *Service) GetSubscriptionByID(ctx context.Context, rc auth.RequestContext, subscriptionID int64) (sub *subscriptions.Subscription, err error) {
	ctx, finish := s.begin(ctx, rc, "get_by_id", 0)
	defer func() { err = finish(err) }()

	if err := rc.Validate(); err != nil {
		return nil, err
	}
	if subscriptionID <= 0 {
		return nil, apperr.ErrInvalidRequest.Withf("subscription id is required")
	}
	sub, err = s.lifecycle.Get(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if err := rc.Authorize(sub.OrganizationID); err != nil {
		return nil, err
	}
	return sub, nil
}

func endOf(sub *subscriptions.Subscription) *time.Time {
	end := sub.EndDate
	return &end
}

// missingModules returns the requested ids not already included, in request
// order and without duplicates.
func missingModules(included []*plans.PlanModule, requested []int64) []int64 {
	have := make(map[int64]bool, len(included))
	for _, pm := range included {
		have[pm.ModuleID] = true
	}
	var out []int64
	for _, id := range requested {
		if have[id] {
			continue
		}
		have[id] = true
		out = append(out, id)
	}
	return out
}
