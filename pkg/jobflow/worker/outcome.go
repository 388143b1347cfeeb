package worker

import (
	"fmt"
	"time"

	ferrors "github.com/randalmurphal/jobflow/pkg/jobflow/errors"
)

// Kind names the three ways a task execution can end.
type Kind int

const (
	KindSuccess Kind = iota
	KindRetry
	KindFail
)

// String returns the label used in logs and metrics.
func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindRetry:
		return "retry"
	case KindFail:
		return "failure"
	default:
		return "unknown"
	}
}

// Outcome is the typed result of one execution: Success, Retry or Fail.
type Outcome interface {
	Kind() Kind
}

// Success carries the task's return value.
type Success struct {
	Value any
}

// Kind implements Outcome.
func (Success) Kind() Kind { return KindSuccess }

// Retry asks the broker to redeliver the task after a delay.
type Retry struct {
	After time.Duration
	Err   error
}

// Kind implements Outcome.
func (Retry) Kind() Kind { return KindRetry }

// Fail ends the task for good.
type Fail struct {
	Reason string
	Err    error
}

// Kind implements Outcome.
func (Fail) Kind() Kind { return KindFail }

// RetryPolicy controls how often and how late a transient failure is retried.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first execution.
	MaxRetries int

	// BaseDelay is the delay before the first retry. It doubles per retry.
	BaseDelay time.Duration

	// MaxDelay caps the delay when positive.
	MaxDelay time.Duration
}

// DefaultRetryPolicy retries three times, 10s apart and doubling.
var DefaultRetryPolicy = RetryPolicy{
	MaxRetries: 3,
	BaseDelay:  10 * time.Second,
}

// NoRetryPolicy fails on the first error.
var NoRetryPolicy = RetryPolicy{}

// Delay returns BaseDelay * 2^attempt, capped by MaxDelay.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	return ferrors.ExponentialDelay(p.BaseDelay, attempt, p.MaxDelay)
}

// Decide turns a task's return into an Outcome.
func (p RetryPolicy) Decide(attempt int, value any, err error) Outcome {
	if err == nil {
		return Success{Value: value}
	}
	if !ferrors.IsRetryable(err) {
		return Fail{Reason: err.Error(), Err: err}
	}
	if attempt < p.MaxRetries {
		return Retry{After: p.Delay(attempt), Err: err}
	}
	return Fail{
		Reason: fmt.Sprintf("retries exhausted after %d attempts: %s", attempt+1, err.Error()),
		Err:    err,
	}
}
