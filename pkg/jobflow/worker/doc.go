// Package worker executes tasks reserved from a broker.
//
// A Worker owns a table of named TaskFuncs. Each reserved delivery is run
// through its task, the returned value or error is turned into a typed
// Outcome by the task's RetryPolicy, and the outcome is settled on the
// broker:
//
//	Success -> broker.Complete(value)
//	Retry   -> broker.Retry(after)   // delay scheduled by the broker
//	Fail    -> broker.Fail(reason)   // optionally recorded as a DeadLetter
//
// Whether an error is retried depends only on its category (see
// pkg/jobflow/errors): wrap errors with errors.Transient to request a retry,
// anything else fails the task.
//
// Basic usage:
//
//	w := worker.New(b, worker.Config{Concurrency: 4})
//	w.Register("verify_account_email", task, worker.WithRetry(worker.DefaultRetryPolicy))
//	err := w.Run(ctx) // until ctx is cancelled or the broker closes
package worker
