// Package observability provides structured logging, Prometheus metrics,
// health probes and graceful shutdown for the subscription worker.
//
// # Logging
//
//	logger := observability.NewLogger(observability.LogConfig{Level: "info", Format: "json"}, os.Stdout)
//	observability.FromContext(ctx, logger).Info("subscription activated")
//
// FromContext adds request_id, organization_id and user_id when ctx carries an
// auth.RequestContext.
//
// # Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.RecordTransition("activate", "ok", time.Since(start))
//
// Every recording method is safe to call on a nil *Metrics.
//
// # Tracing
//
// InitTracing installs a global OTLP/gRPC tracer provider when enabled. Shut
// the returned provider down on exit to flush pending spans.
//
// # Health
//
//	checker := observability.NewHealthChecker(
//		observability.DatabaseProbe(db),
//		observability.RedisProbe(redisClient),
//	)
//	observability.RegisterHealthRoutes(router, checker)
package observability
