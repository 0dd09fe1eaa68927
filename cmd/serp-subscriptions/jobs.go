package main

import (
	"context"
	"time"

	"github.com/dungkhmt/serp-sub000/pkg/lock"
	"github.com/dungkhmt/serp-sub000/pkg/observability"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// job is a scheduled task run by at most one instance at a time.
type job struct {
	name     string
	schedule string
	run      func(ctx context.Context) error
}

type scheduler struct {
	cron    *cron.Cron
	locker  lock.Locker
	ttl     time.Duration
	logger  logrus.FieldLogger
	metrics *observability.Metrics
}

func newScheduler(locker lock.Locker, ttl time.Duration, logger logrus.FieldLogger, metrics *observability.Metrics) *scheduler {
	return &scheduler{
		cron:    cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger))),
		locker:  locker,
		ttl:     ttl,
		logger:  logger,
		metrics: metrics,
	}
}

// add schedules j. Runs are bound to ctx.
func (s *scheduler) add(ctx context.Context, j job) error {
	_, err := s.cron.AddFunc(j.schedule, func() {
		_ = s.runJob(ctx, j)
	})
	return err
}

func (s *scheduler) start() {
	s.cron.Start()
}

// stop stops scheduling and returns a context done once running jobs finish.
func (s *scheduler) stop() context.Context {
	return s.cron.Stop()
}

// runJob runs j under its lock and records the outcome.
func (s *scheduler) runJob(ctx context.Context, j job) error {
	log := s.logger.WithField("job", j.name)
	start := time.Now()

	ran, err := lock.RunExclusive(ctx, s.locker, j.name, s.ttl, j.run)
	switch {
	case err != nil:
		s.metrics.RecordJob(j.name, "failed")
		log.WithError(err).Error("job failed")
	case !ran:
		s.metrics.RecordJob(j.name, "skipped")
		log.Debug("job running elsewhere, skipped")
	default:
		s.metrics.RecordJob(j.name, "ok")
		log.WithField("duration", time.Since(start)).Debug("job finished")
	}
	return err
}
