package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/dungkhmt/serp-sub000/pkg/apperr"
	"github.com/dungkhmt/serp-sub000/pkg/auth"
	"github.com/dungkhmt/serp-sub000/pkg/observability"
	"github.com/dungkhmt/serp-sub000/pkg/orgs"
	"github.com/dungkhmt/serp-sub000/pkg/outbox"
	"github.com/dungkhmt/serp-sub000/pkg/plans"
	"github.com/dungkhmt/serp-sub000/pkg/storage"
	"github.com/dungkhmt/serp-sub000/pkg/subscriptions"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("serp/orchestrator")

// Dependencies wires a Service.
type Dependencies struct {
	UnitOfWork storage.UnitOfWork
	// Subscriptions reads the ledger outside a unit of work, to resolve the
	// organization of an operation addressed by subscription id.
	Subscriptions subscriptions.Store
	Catalog       *plans.Catalog
	Lifecycle     *subscriptions.Lifecycle
	Worker        *outbox.Worker
	Logger        logrus.FieldLogger
	Metrics       *observability.Metrics
}

// Service is the lifecycle orchestrator.
type Service struct {
	uow       storage.UnitOfWork
	subs      subscriptions.Store
	catalog   *plans.Catalog
	lifecycle *subscriptions.Lifecycle
	worker    *outbox.Worker
	logger    logrus.FieldLogger
	metrics   *observability.Metrics
}

// NewService creates a Service. Metrics may be nil.
func NewService(deps Dependencies) (*Service, error) {
	switch {
	case deps.UnitOfWork == nil:
		return nil, errors.New("orchestrator: unit of work is required")
	case deps.Subscriptions == nil:
		return nil, errors.New("orchestrator: subscription store is required")
	case deps.Catalog == nil:
		return nil, errors.New("orchestrator: plan catalog is required")
	case deps.Lifecycle == nil:
		return nil, errors.New("orchestrator: lifecycle is required")
	case deps.Worker == nil:
		return nil, errors.New("orchestrator: outbox worker is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Service{
		uow:       deps.UnitOfWork,
		subs:      deps.Subscriptions,
		catalog:   deps.Catalog,
		lifecycle: deps.Lifecycle,
		worker:    deps.Worker,
		logger:    logger,
		metrics:   deps.Metrics,
	}, nil
}

// unit is the state of one unit of work.
type unit struct {
	tx         storage.Tx
	lifecycle  *subscriptions.Lifecycle
	catalog    *plans.Catalog
	org        *orgs.Organization
	actor      *int64
	now        time.Time
	items      []int64
	invalidate []int64
}

// enqueue records a cascade in the outbox.
func (u *unit) enqueue(ctx context.Context, kind outbox.Kind, sub *subscriptions.Subscription, payload outbox.Payload) error {
	payload.ActorID = u.actor
	item := outbox.NewItem(kind, sub.OrganizationID, sub.ID, payload, u.now)
	if err := u.tx.Outbox().Enqueue(ctx, item); err != nil {
		return err
	}
	u.items = append(u.items, item.ID)
	return nil
}

// point moves the organization's current-subscription pointer.
func (u *unit) point(ctx context.Context, sub *subscriptions.Subscription) error {
	id := sub.ID
	if err := u.tx.Organizations().UpdateCurrentSubscriptionPointer(ctx, u.org.ID, &id); err != nil {
		return err
	}
	u.org.CurrentSubscriptionID = &id
	return nil
}

// release clears the pointer when it names sub.
func (u *unit) release(ctx context.Context, sub *subscriptions.Subscription) error {
	if !u.org.PointsAt(sub.ID) {
		return nil
	}
	if err := u.tx.Organizations().UpdateCurrentSubscriptionPointer(ctx, u.org.ID, nil); err != nil {
		return err
	}
	u.org.CurrentSubscriptionID = nil
	return nil
}

type execOptions struct {
	// requireActive rejects inactive organizations.
	requireActive bool
}

// execute runs fn in a unit of work for orgID and dispatches the cascades it
// enqueued once the unit committed.
func (s *Service) execute(ctx context.Context, rc auth.RequestContext, op string, orgID int64, opts execOptions, fn func(ctx context.Context, u *unit) error) (err error) {
	ctx, finish := s.begin(ctx, rc, op, orgID)
	defer func() { err = finish(err) }()
	return s.run(ctx, rc, orgID, opts, fn)
}

// executeOn is execute for operations addressed by subscription id.
func (s *Service) executeOn(ctx context.Context, rc auth.RequestContext, op string, subscriptionID int64, opts execOptions, fn func(ctx context.Context, u *unit) error) (err error) {
	ctx, finish := s.begin(ctx, rc, op, 0)
	defer func() { err = finish(err) }()

	orgID, err := s.organizationOf(ctx, subscriptionID)
	if err != nil {
		return err
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.Int64("organization.id", orgID))
	return s.run(ctx, rc, orgID, opts, fn)
}

func (s *Service) run(ctx context.Context, rc auth.RequestContext, orgID int64, opts execOptions, fn func(ctx context.Context, u *unit) error) error {
	if err := rc.Authorize(orgID); err != nil {
		return err
	}

	var committed *unit
	err := s.uow.Do(ctx, orgID, func(ctx context.Context, tx storage.Tx) error {
		org, err := tx.Organizations().GetOrganizationByID(ctx, orgID)
		if err != nil {
			return err
		}
		if opts.requireActive && !org.IsActive {
			return apperr.ErrOrganizationInactive.Withf("organization %d", orgID)
		}
		u := &unit{
			tx:        tx,
			lifecycle: s.lifecycle.WithStore(tx.Subscriptions()),
			catalog:   s.catalog.WithStore(tx.Plans()),
			org:       org,
			actor:     rc.Actor(),
			now:       s.lifecycle.Now(),
		}
		if err := fn(ctx, u); err != nil {
			return err
		}
		committed = u
		return nil
	})
	if err != nil {
		return err
	}

	for _, planID := range committed.invalidate {
		s.catalog.Invalidate(planID)
	}
	if len(committed.items) > 0 {
		s.worker.Dispatch(ctx, committed.items...)
	}
	return nil
}

// read runs a read-only operation for orgID.
func (s *Service) read(ctx context.Context, rc auth.RequestContext, op string, orgID int64, fn func(ctx context.Context) error) (err error) {
	ctx, finish := s.begin(ctx, rc, op, orgID)
	defer func() { err = finish(err) }()

	if err := rc.Authorize(orgID); err != nil {
		return err
	}
	return fn(ctx)
}

// begin starts the span of an operation and returns the function that ends
// it, records metrics and maps infrastructure errors.
func (s *Service) begin(ctx context.Context, rc auth.RequestContext, op string, orgID int64) (context.Context, func(error) error) {
	start := time.Now()
	ctx = auth.NewContext(ctx, rc)
	ctx, span := tracer.Start(ctx, "orchestrator."+op, trace.WithAttributes(
		attribute.Int64("user.id", rc.UserID),
		attribute.Bool("system", rc.IsSystem),
	))
	log := observability.FromContext(ctx, s.logger).WithField("operation", op)
	if orgID > 0 {
		span.SetAttributes(attribute.Int64("organization.id", orgID))
		log = log.WithField("organization_id", orgID)
	}

	return ctx, func(err error) error {
		defer span.End()
		result := "ok"
		switch {
		case err == nil:
			log.Debug("operation completed")
		case apperr.IsDomain(err):
			result = apperr.CodeOf(err)
			span.SetAttributes(attribute.String("error.code", result))
			log.WithError(err).Info("operation rejected")
		default:
			result = apperr.ErrInternal.Code
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			log.WithError(err).Error("operation failed")
			err = apperr.ErrInternal.Wrap(err)
		}
		s.metrics.RecordTransition(op, result, time.Since(start))
		return err
	}
}

// organizationOf resolves the organization owning a subscription. Lookup
// failures are returned as-is so an unknown id reads as not found.
func (s *Service) organizationOf(ctx context.Context, subscriptionID int64) (int64, error) {
	if subscriptionID <= 0 {
		return 0, apperr.ErrInvalidRequest.Withf("subscription id is required")
	}
	sub, err := s.subs.GetByID(ctx, subscriptionID)
	if err != nil {
		return 0, err
	}
	return sub.OrganizationID, nil
}
