package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/dungkhmt/serp-sub000/pkg/config"
	"github.com/dungkhmt/serp-sub000/pkg/entitlements"
	"github.com/dungkhmt/serp-sub000/pkg/lock"
	"github.com/dungkhmt/serp-sub000/pkg/observability"
	"github.com/dungkhmt/serp-sub000/pkg/orchestrator"
	"github.com/dungkhmt/serp-sub000/pkg/outbox"
	"github.com/dungkhmt/serp-sub000/pkg/plans"
	"github.com/dungkhmt/serp-sub000/pkg/proration"
	"github.com/dungkhmt/serp-sub000/pkg/storage/postgres"
	"github.com/dungkhmt/serp-sub000/pkg/subscriptions"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var (
	configPath = flag.String("config", "", "Path to a YAML config file (overrides SERP_CONFIG_FILE)")
	runOnce    = flag.Bool("run-once", false, "Drain the outbox and run the expiry sweep once, then exit")
)

func main() {
	flag.Parse()

	if *configPath != "" {
		os.Setenv("SERP_CONFIG_FILE", *configPath)
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.Log, os.Stdout)
	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("service stopped")
	}
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Open(ctx, cfg.Database.Connection())
	if err != nil {
		return err
	}
	if cfg.Database.RunMigrations {
		if err := postgres.RunMigrations(ctx, db, logger); err != nil {
			db.Close()
			return err
		}
	}

	var (
		redisClient *redis.Client
		locker      lock.Locker = lock.NewLocalLocker()
	)
	if cfg.Redis.Enabled() {
		redisClient, err = lock.NewRedisClient(ctx, cfg.Redis.Options())
		if err != nil {
			db.Close()
			return err
		}
		locker = lock.NewRedisLocker(redisClient, cfg.Redis.KeyPrefix)
	} else {
		logger.Warn("no redis configured, job locks are local to this instance")
	}

	tp, err := observability.InitTracing(ctx, cfg.Observability.Tracing, logger)
	if err != nil {
		logger.WithError(err).Warn("tracing unavailable, continuing without export")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	store := postgres.New(db)
	svc, err := newService(cfg, store, logger, metrics)
	if err != nil {
		return err
	}

	jobs := []job{
		{name: "outbox_drain", schedule: cfg.Worker.OutboxSchedule, run: func(ctx context.Context) error {
			_, err := svc.DrainOutbox(ctx)
			return err
		}},
		{name: "expiry_sweep", schedule: cfg.Worker.ExpirySchedule, run: func(ctx context.Context) error {
			_, err := svc.ExpireDueSubscriptions(ctx, cfg.Worker.ExpiryBatch)
			return err
		}},
	}

	sched := newScheduler(locker, cfg.Worker.LockTTL, logger, metrics)
	if *runOnce {
		for _, j := range jobs {
			if err := sched.runJob(ctx, j); err != nil {
				return fmt.Errorf("%s failed: %w", j.name, err)
			}
		}
		if tp != nil {
			_ = tp.Shutdown(ctx)
		}
		if redisClient != nil {
			redisClient.Close()
		}
		return db.Close()
	}
	for _, j := range jobs {
		if err := sched.add(ctx, j); err != nil {
			return err
		}
		logger.WithFields(logrus.Fields{"job": j.name, "schedule": j.schedule}).Info("job scheduled")
	}
	sched.start()

	router := mux.NewRouter()
	probes := []observability.Probe{
		observability.DatabaseProbe(db),
		observability.BacklogProbe(store.Outbox().CountPending, cfg.Worker.BacklogLimit),
	}
	if redisClient != nil {
		probes = append(probes, observability.RedisProbe(redisClient))
	}
	observability.RegisterHealthRoutes(router, observability.NewHealthChecker(probes...))
	if metrics != nil {
		router.Handle("/metrics", observability.Handler(registry)).Methods(http.MethodGet)
	}
	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      otelhttp.NewHandler(router, "serp-subscriptions"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	shutdown.Register("scheduler", func(ctx context.Context) error {
		select {
		case <-sched.stop().Done():
			return nil
		case <-ctx.Done():
			return fmt.Errorf("running jobs did not finish: %w", ctx.Err())
		}
	})
	if tp != nil {
		shutdown.Register("tracing", tp.Shutdown)
	}
	if redisClient != nil {
		shutdown.Register("redis", func(context.Context) error { return redisClient.Close() })
	}
	shutdown.Register("database", func(context.Context) error { return db.Close() })

	serverErr := make(chan error, 1)
	go func() {
		logger.WithField("addr", server.Addr).Info("serving health and metrics")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down gracefully")
	case err := <-serverErr:
		logger.WithError(err).Error("http server failed")
	}
	return shutdown.Shutdown()
}

// newService wires the engine over the Postgres stores.
func newService(cfg *config.Config, store *postgres.DB, logger *logrus.Logger, metrics *observability.Metrics) (*orchestrator.Service, error) {
	catalog := plans.NewCatalog(store.Plans(), store.Modules(), cfg.Catalog.Cache())
	lifecycle := subscriptions.NewLifecycle(store.Subscriptions(), catalog, proration.NewCalculator())
	grantor := entitlements.NewGrantor(store.Access(), store.Roles(), store.Roles(), logger)
	cascade := orchestrator.NewCascade(catalog, store.Modules(), grantor, store.Organizations(), store.Subscriptions(), logger)
	worker := outbox.NewWorker(store.Outbox(), cascade, cfg.Worker.Outbox(), logger, metrics)

	return orchestrator.NewService(orchestrator.Dependencies{
		UnitOfWork:    store,
		Subscriptions: store.Subscriptions(),
		Catalog:       catalog,
		Lifecycle:     lifecycle,
		Worker:        worker,
		Logger:        logger,
		Metrics:       metrics,
	})
}
