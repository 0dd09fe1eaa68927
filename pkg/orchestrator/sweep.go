package orchestrator

import (
	"context"
	"fmt"

	"github.com/dungkhmt/serp-sub000/pkg/auth"
	"github.com/dungkhmt/serp-sub000/pkg/observability"
	"github.com/dungkhmt/serp-sub000/pkg/outbox"
	"github.com/sirupsen/logrus"
)

// SweepResult counts the rows handled by one expiry sweep.
type SweepResult struct {
	Expired     int
	Renewed     int
	Failed      int
	RenewFailed int
}

// ExpireDueSubscriptions expires up to limit ACTIVE rows whose period has
// ended, each in its own unit of work. Rows flagged for auto-renewal get a new
// PENDING period afterwards. A failing row is logged and the sweep moves on.
func (s *Service) ExpireDueSubscriptions(ctx context.Context, limit int) (SweepResult, error) {
	var res SweepResult
	due, err := s.lifecycle.DueForExpiry(ctx, limit)
	if err != nil {
		return res, fmt.Errorf("failed to list subscriptions due for expiry: %w", err)
	}

	rc := auth.System()
	log := observability.FromContext(auth.NewContext(ctx, rc), s.logger)
	for _, sub := range due {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		entry := log.WithFields(logrus.Fields{
			"subscription_id": sub.ID,
			"organization_id": sub.OrganizationID,
		})
		if _, err := s.ExpireSubscription(ctx, rc, sub.ID); err != nil {
			res.Failed++
			s.metrics.RecordExpiry("failed")
			entry.WithError(err).Warn("failed to expire subscription")
			continue
		}
		res.Expired++
		s.metrics.RecordExpiry("expired")

		if !sub.IsAutoRenew {
			continue
		}
		if _, err := s.RenewSubscription(ctx, rc, sub.OrganizationID); err != nil {
			res.RenewFailed++
			s.metrics.RecordExpiry("renew_failed")
			entry.WithError(err).Warn("failed to auto-renew subscription")
			continue
		}
		res.Renewed++
	}
	if len(due) > 0 {
		log.WithFields(logrus.Fields{
			"expired":      res.Expired,
			"renewed":      res.Renewed,
			"failed":       res.Failed,
			"renew_failed": res.RenewFailed,
		}).Info("expiry sweep finished")
	}
	return res, nil
}

// DrainOutbox processes every due cascade item.
func (s *Service) DrainOutbox(ctx context.Context) (outbox.DrainResult, error) {
	return s.worker.Drain(ctx)
}
