/*
Package config loads jobflow configuration.

# Overview

Config wraps a decoded YAML or JSON document and exposes typed accessors
that return a default when a key is missing or has the wrong type. Keys may
be dotted paths into nested maps:

	cfg, err := config.FromFile("jobflow.yaml")
	addr := cfg.String("redis.addr", "localhost:6379")
	workers := cfg.Int("worker.concurrency", 1)
	delay := cfg.Duration("worker.base_delay", 10*time.Second) // "10s" or 10

Settings is the typed view used to build a runtime:

	settings, err := config.LoadSettings("jobflow.yaml")

# Environment

FromFile expands ${VAR} references before parsing. LoadSettings then lets
JOBFLOW_* variables override individual keys; JOBFLOW_REDIS_ADDR replaces
redis.addr. Combined with a .env file loaded at startup this keeps secrets
out of the YAML.

# Example file

	transport: redis
	result_ttl: 1h
	redis:
	  addr: ${REDIS_ADDR}
	  prefix: jobflow
	worker:
	  concurrency: 4
	  max_retries: 3
	  base_delay: 10s
	events:
	  mode: async
	routes:
	  verify_account_email: verify_account_email

# Thread Safety

Config is safe for concurrent reads. The underlying map is never modified.
*/
package config
