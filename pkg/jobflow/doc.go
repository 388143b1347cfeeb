/*
Package jobflow wires the event and job dispatch layers into one runtime.

# Overview

jobflow has two delivery paths for domain events:

  - In-process dispatch: event.Dispatcher hands an event to every handler
    registered for its type, synchronously or on a bounded worker pool.
  - Durable jobs: job.Dispatcher serializes a payload and submits it to a
    broker under a task name; a worker.Worker reserves it, runs the task and
    settles the outcome (complete, retry later, or fail).

Runtime builds both from config.Settings with every singleton constructed
explicitly:

	settings, err := config.LoadSettings("jobflow.yaml")
	rt, err := jobflow.New(ctx, settings, jobflow.WithLogger(logger))
	defer rt.Close(context.Background())

	reg, err := rt.Accounts.Register(ctx, "u@x.com") // producer side
	err = rt.Run(ctx)                                // worker side

# Packages

  - event: domain events, codec, sync and async dispatchers
  - job: job names, routing and submission
  - broker: memory, Redis, SQLite and NATS JetStream transports
  - worker: task execution, retry policy, dead letters
  - accounts: the account-registration domain
  - config: YAML/JSON configuration and typed settings
  - observability: slog helpers, OpenTelemetry metrics and tracing
  - errors: transient/permanent categories and in-process retry
  - registry: copy-on-write registration tables
*/
package jobflow
