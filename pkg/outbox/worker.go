package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/dungkhmt/serp-sub000/pkg/observability"
	"github.com/sirupsen/logrus"
)

// Handler performs the cascade described by an item. Handlers must be
// idempotent; a failed item is handed to the handler again.
type Handler interface {
	Handle(ctx context.Context, item *Item) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, item *Item) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, item *Item) error {
	return f(ctx, item)
}

// Config tunes retries.
type Config struct {
	BatchSize   int
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	Lease       time.Duration
}

// DefaultConfig returns the worker defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:   50,
		MaxAttempts: 8,
		BaseBackoff: 5 * time.Second,
		MaxBackoff:  30 * time.Minute,
		Lease:       2 * time.Minute,
	}
}

// Worker drains the outbox.
type Worker struct {
	store   Store
	handler Handler
	config  Config
	logger  logrus.FieldLogger
	metrics *observability.Metrics
	now     func() time.Time
}

// NewWorker creates a Worker. metrics may be nil.
func NewWorker(store Store, handler Handler, config Config, logger logrus.FieldLogger, metrics *observability.Metrics) *Worker {
	def := DefaultConfig()
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = def.MaxAttempts
	}
	if config.BaseBackoff <= 0 {
		config.BaseBackoff = def.BaseBackoff
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = def.MaxBackoff
	}
	if config.Lease <= 0 {
		config.Lease = def.Lease
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Worker{
		store:   store,
		handler: handler,
		config:  config,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// WithClock overrides the clock.
func (w *Worker) WithClock(now func() time.Time) *Worker {
	cp := *w
	cp.now = now
	return &cp
}

// DrainResult counts the outcomes of one drain.
type DrainResult struct {
	Processed int
	Retried   int
	Dead      int
}

// Drain processes due items batch by batch until none are left or ctx is done.
func (w *Worker) Drain(ctx context.Context) (DrainResult, error) {
	var res DrainResult
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		now := w.now()
		items, err := w.store.ClaimDue(ctx, now, now.Add(w.config.Lease), w.config.BatchSize)
		if err != nil {
			return res, fmt.Errorf("failed to claim outbox items: %w", err)
		}
		if len(items) == 0 {
			break
		}
		for _, item := range items {
			switch w.process(ctx, item) {
			case outcomeDone:
				res.Processed++
			case outcomeRetry:
				res.Retried++
			case outcomeDead:
				res.Dead++
			}
		}
		if len(items) < w.config.BatchSize {
			break
		}
	}
	if pending, err := w.store.CountPending(ctx); err == nil {
		w.metrics.SetOutboxPending(pending)
	}
	return res, nil
}

// Dispatch processes the given items right away, typically just after the
// transaction that enqueued them committed. Items another worker holds are
// skipped; failures are left to Drain.
func (w *Worker) Dispatch(ctx context.Context, ids ...int64) {
	for _, id := range ids {
		now := w.now()
		item, err := w.store.Claim(ctx, id, now, now.Add(w.config.Lease))
		if err != nil {
			w.logger.WithField("outbox_id", id).WithError(err).Warn("failed to claim outbox item for dispatch")
			continue
		}
		if item == nil {
			continue
		}
		w.process(ctx, item)
	}
}

type outcome int

const (
	outcomeDone outcome = iota
	outcomeRetry
	outcomeDead
)

func (w *Worker) process(ctx context.Context, item *Item) outcome {
	log := w.logger.WithFields(logrus.Fields{
		"outbox_id":       item.ID,
		"outbox_kind":     item.Kind,
		"organization_id": item.OrganizationID,
		"subscription_id": item.SubscriptionID,
		"attempt":         item.Attempts + 1,
	})

	err := w.handler.Handle(ctx, item)
	if err == nil {
		if markErr := w.store.MarkDone(ctx, item.ID, w.now()); markErr != nil {
			log.WithError(markErr).Error("failed to mark outbox item done")
			return outcomeRetry
		}
		w.metrics.RecordCascade(string(item.Kind), "done")
		log.Debug("outbox item processed")
		return outcomeDone
	}

	attempts := item.Attempts + 1
	failure := Failure{
		Attempts:    attempts,
		LastError:   err.Error(),
		AvailableAt: w.now().Add(Backoff(w.config.BaseBackoff, w.config.MaxBackoff, attempts)),
		Dead:        attempts >= w.config.MaxAttempts,
	}
	if markErr := w.store.MarkFailed(ctx, item.ID, failure); markErr != nil {
		log.WithError(markErr).Error("failed to record outbox failure")
	}
	if failure.Dead {
		w.metrics.RecordCascade(string(item.Kind), "dead")
		log.WithError(err).Error("outbox item exhausted retries")
		return outcomeDead
	}
	w.metrics.RecordCascade(string(item.Kind), "retry")
	log.WithError(err).WithField("retry_at", failure.AvailableAt).Warn("outbox item failed, will retry")
	return outcomeRetry
}

// Backoff returns base doubled for each attempt after the first, capped at max.
func Backoff(base, max time.Duration, attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := base
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
