package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/dungkhmt/serp-sub000/pkg/apperr"
	"github.com/dungkhmt/serp-sub000/pkg/entitlements"
	"github.com/dungkhmt/serp-sub000/pkg/modules"
	"github.com/dungkhmt/serp-sub000/pkg/orgs"
	"github.com/dungkhmt/serp-sub000/pkg/outbox"
	"github.com/dungkhmt/serp-sub000/pkg/plans"
	"github.com/dungkhmt/serp-sub000/pkg/subscriptions"
	"github.com/sirupsen/logrus"
)

// Cascade applies outbox items to module access. It is safe to run an item
// more than once: grants refresh in place and revoking twice is a no-op.
type Cascade struct {
	catalog       *plans.Catalog
	modules       modules.Catalog
	grantor       *entitlements.Grantor
	organizations orgs.Store
	subscriptions subscriptions.Store
	logger        logrus.FieldLogger
}

// NewCascade creates a Cascade.
func NewCascade(catalog *plans.Catalog, mods modules.Catalog, grantor *entitlements.Grantor, organizations orgs.Store, subs subscriptions.Store, logger logrus.FieldLogger) *Cascade {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Cascade{
		catalog:       catalog,
		modules:       mods,
		grantor:       grantor,
		organizations: organizations,
		subscriptions: subs,
		logger:        logger,
	}
}

var _ outbox.Handler = (*Cascade)(nil)

// Handle runs one item. Domain failures cannot succeed on retry, so they are
// logged and the item is considered handled; anything else is returned for
// the worker to retry.
func (c *Cascade) Handle(ctx context.Context, item *outbox.Item) error {
	log := c.logger.WithFields(logrus.Fields{
		"outbox_id":       item.ID,
		"outbox_kind":     item.Kind,
		"organization_id": item.OrganizationID,
		"subscription_id": item.SubscriptionID,
		"plan_id":         item.Payload.PlanID,
	})

	var err error
	switch item.Kind {
	case outbox.KindGrantPlanModules:
		err = c.grant(ctx, log, item)
	case outbox.KindRevokePlanModules:
		err = c.revoke(ctx, log, item)
	default:
		log.Error("unknown outbox item kind")
		return nil
	}
	if err != nil && apperr.IsDomain(err) {
		log.WithError(err).Warn("cascade abandoned")
		return nil
	}
	return err
}

func (c *Cascade) grant(ctx context.Context, log logrus.FieldLogger, item *outbox.Item) error {
	sub, err := c.subscriptions.GetByID(ctx, item.SubscriptionID)
	if err != nil {
		return err
	}
	if sub.Status.IsTerminal() {
		log.WithField("status", sub.Status).Info("subscription no longer live, grant skipped")
		return nil
	}
	org, err := c.organizations.GetOrganizationByID(ctx, item.OrganizationID)
	if err != nil {
		return err
	}

	included, err := c.catalog.IncludedModules(ctx, item.Payload.PlanID)
	if err != nil {
		return err
	}
	grantable, err := c.availableModules(ctx, log, included)
	if err != nil {
		return err
	}

	recipients, err := c.recipients(ctx, org, item.Payload, grantable)
	if err != nil {
		return err
	}
	if len(recipients) == 0 {
		log.Warn("organization has no owner or recipients, nothing granted")
	}

	var errs []error
	for _, pm := range grantable {
		if len(recipients) == 0 {
			break
		}
		res, err := c.grantor.BulkGrant(ctx, entitlements.BulkGrantRequest{
			UserIDs:        recipients,
			ModuleID:       pm.ModuleID,
			OrganizationID: item.OrganizationID,
			GrantedBy:      item.Payload.ActorID,
			ExpiresAt:      item.Payload.ExpiresAt,
			MaxUsers:       pm.MaxUsersPerModule,
			Description:    fmt.Sprintf("granted by plan %d", item.Payload.PlanID),
		})
		if err != nil {
			log.WithField("module_id", pm.ModuleID).WithError(err).Error("failed to grant module")
			errs = append(errs, err)
			continue
		}
		if len(res.Failed) > 0 {
			log.WithFields(logrus.Fields{
				"module_id": pm.ModuleID,
				"rejected":  len(res.Failed),
			}).Warn("module granted to some recipients only")
		}
	}

	if item.Payload.PreviousPlanID != nil {
		if err := c.revokeDropped(ctx, log, item.OrganizationID, *item.Payload.PreviousPlanID, included); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// availableModules drops plan modules that no longer exist or are disabled.
func (c *Cascade) availableModules(ctx context.Context, log logrus.FieldLogger, included []*plans.PlanModule) ([]*plans.PlanModule, error) {
	if len(included) == 0 {
		return nil, nil
	}
	found, err := c.modules.GetModulesByIDs(ctx, moduleIDs(included))
	if err != nil {
		return nil, fmt.Errorf("failed to look up plan modules: %w", err)
	}
	byID := modules.IndexByID(found)
	out := make([]*plans.PlanModule, 0, len(included))
	for _, pm := range included {
		m, ok := byID[pm.ModuleID]
		switch {
		case !ok:
			log.WithField("module_id", pm.ModuleID).Warn("plan module not found, skipped")
		case !m.IsActive:
			log.WithField("module_id", pm.ModuleID).Warn("plan module unavailable, skipped")
		default:
			out = append(out, pm)
		}
	}
	return out, nil
}

// recipients lists the users a grant reaches, owner first, without duplicates.
func (c *Cascade) recipients(ctx context.Context, org *orgs.Organization, payload outbox.Payload, grantable []*plans.PlanModule) ([]int64, error) {
	seen := make(map[int64]bool)
	var out []int64
	add := func(id int64) {
		if id <= 0 || seen[id] {
			return
		}
		seen[id] = true
		out = append(out, id)
	}
	if org.HasOwner() {
		add(*org.OwnerID)
	}
	for _, id := range payload.UserIDs {
		add(id)
	}
	if payload.IncludeHolders && len(grantable) > 0 {
		holders, err := c.grantor.ListActive(ctx, org.ID, moduleIDs(grantable))
		if err != nil {
			return nil, fmt.Errorf("failed to list module holders: %w", err)
		}
		for _, a := range holders {
			add(a.UserID)
		}
	}
	return out, nil
}

// revokeDropped revokes modules of previousPlanID that kept does not include.
func (c *Cascade) revokeDropped(ctx context.Context, log logrus.FieldLogger, orgID, previousPlanID int64, kept []*plans.PlanModule) error {
	previous, err := c.catalog.IncludedModules(ctx, previousPlanID)
	if err != nil {
		if apperr.IsDomain(err) {
			log.WithField("previous_plan_id", previousPlanID).WithError(err).Warn("previous plan unavailable, nothing revoked")
			return nil
		}
		return err
	}
	dropped := subtract(moduleIDs(previous), moduleIDs(kept))
	if len(dropped) == 0 {
		return nil
	}
	log.WithField("modules", dropped).Info("revoking modules dropped by plan change")
	return c.revokeAll(ctx, log, orgID, dropped)
}

func (c *Cascade) revoke(ctx context.Context, log logrus.FieldLogger, item *outbox.Item) error {
	included, err := c.catalog.IncludedModules(ctx, item.Payload.PlanID)
	if err != nil {
		return err
	}
	ids := moduleIDs(included)

	current, err := c.subscriptions.GetCurrent(ctx, item.OrganizationID)
	switch {
	case err == nil && current.ID != item.SubscriptionID:
		covered, err := c.catalog.IncludedModules(ctx, current.PlanID)
		if err != nil {
			return err
		}
		ids = subtract(ids, moduleIDs(covered))
	case err != nil && !errors.Is(err, apperr.ErrSubscriptionNotFound):
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	return c.revokeAll(ctx, log, item.OrganizationID, ids)
}

// revokeAll revokes every active grant of ids in the organization. It carries
// on past individual failures and reports them together.
func (c *Cascade) revokeAll(ctx context.Context, log logrus.FieldLogger, orgID int64, ids []int64) error {
	grants, err := c.grantor.ListActive(ctx, orgID, ids)
	if err != nil {
		return fmt.Errorf("failed to list module holders: %w", err)
	}
	var errs []error
	for _, a := range grants {
		_, err := c.grantor.Revoke(ctx, entitlements.RevokeRequest{
			UserID:         a.UserID,
			ModuleID:       a.ModuleID,
			OrganizationID: orgID,
		})
		switch {
		case err == nil:
		case apperr.IsDomain(err):
			log.WithFields(logrus.Fields{"user_id": a.UserID, "module_id": a.ModuleID}).WithError(err).Info("revoke skipped")
		default:
			log.WithFields(logrus.Fields{"user_id": a.UserID, "module_id": a.ModuleID}).WithError(err).Error("failed to revoke module")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func moduleIDs(pms []*plans.PlanModule) []int64 {
	out := make([]int64, 0, len(pms))
	for _, pm := range pms {
		out = append(out, pm.ModuleID)
	}
	return out
}

// subtract returns the ids of a not in b.
func subtract(a, b []int64) []int64 {
	drop := make(map[int64]bool, len(b))
	for _, id := range b {
		drop[id] = true
	}
	var out []int64
	for _, id := range a {
		if !drop[id] {
			out = append(out, id)
		}
	}
	return out
}
