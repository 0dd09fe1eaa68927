// Package config loads the service configuration.
//
// Values start from Default, are overlaid by the YAML file named in
// SERP_CONFIG_FILE, then by SERP_* environment variables, and are validated
// last. Cron schedules use the standard five-field syntax or descriptors such
// as "@every 30s".
//
// Example file:
//
//	server:
//	  addr: ":8080"
//	database:
//	  url: postgres://serp:secret@db:5432/serp?sslmode=disable
//	  max_conns: 20
//	redis:
//	  url: redis://redis:6379/0
//	worker:
//	  outbox_schedule: "@every 15s"
//	  expiry_schedule: "0 * * * *"
//	  base_backoff: 10s
//	observability:
//	  log:
//	    level: debug
//	    format: text
//
// Environment variables:
//
//	SERP_HTTP_ADDR, SERP_SHUTDOWN_TIMEOUT
//	SERP_POSTGRES_URL, SERP_POSTGRES_MAX_CONNS, SERP_RUN_MIGRATIONS
//	SERP_REDIS_URL, SERP_REDIS_PASSWORD, SERP_REDIS_DB
//	SERP_OUTBOX_SCHEDULE, SERP_EXPIRY_SCHEDULE, SERP_OUTBOX_MAX_ATTEMPTS
//	SERP_PLAN_CACHE_SIZE, SERP_PLAN_CACHE_TTL
//	SERP_LOG_LEVEL, SERP_LOG_FORMAT, SERP_METRICS_ENABLED
package config
