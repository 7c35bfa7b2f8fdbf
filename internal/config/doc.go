// Package config handles configuration loading for coven-hub.
//
// # Overview
//
// Configuration is loaded from a YAML or TOML file on top of Default(), so a
// file only needs the fields it changes.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${COVEN_JWT_SECRET}"
//
// COVEN_DB_PATH and COVEN_JWT_SECRET also override their fields directly
// when set. Per-agent secrets (AGENT1_SECRET and so on) are read by the
// agent registry, not here.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax and must be positive:
//
//	messaging:
//	  delivery_interval: "5s"
//	quality:
//	  run_interval: "2h"
//
// # Configuration Sections
//
//	server:      http_addr, grpc_addr (empty disables gRPC)
//	database:    path (":memory:" allowed)
//	auth:        jwt_secret, token_ttl, bcrypt_cost, login_rate, login_burst
//	messaging:   delivery_interval, idempotency_ttl
//	scheduler:   timezone, daily_standup, weekly_review, quality_check,
//	             conflict_sweep, progress_check, stale_after
//	conflicts:   detection_probability
//	quality:     run_interval
//	persistence: timeout
//	logging:     level, format (json or text)
//	metrics:     enabled, path
//	events:      nats_url, subject_prefix
//
// Cadences are standard five-field cron expressions.
package config
