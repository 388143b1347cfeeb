// Package errors sorts failures into the two buckets the dispatch layers act
// on: transient failures are retried with backoff, permanent ones end the
// task.
//
// The bucket travels with the error value, never with its message. An error
// is transient when something in its wrap chain says so, either a
// *CategorizedError built with Transient or any error type that implements
//
//	Transient() bool
//
// A context deadline counts as transient. Everything else, including plain
// errors.New values, is permanent.
package errors

import (
	"context"
	"errors"
)

// Category is the retry bucket of an error.
type Category uint8

const (
	// CategoryPermanent failures repeat on every attempt: a malformed
	// payload, an unknown task, a rejected address.
	CategoryPermanent Category = iota

	// CategoryTransient failures may clear up: a mail relay that is down,
	// a broker round trip that timed out.
	CategoryTransient
)

var categoryNames = [...]string{
	CategoryPermanent: "permanent",
	CategoryTransient: "transient",
}

func (c Category) String() string {
	if int(c) < len(categoryNames) {
		return categoryNames[c]
	}
	return "unknown"
}

// CategorizedError tags Err with the bucket a retry loop should use.
type CategorizedError struct {
	Err      error
	Category Category

	// Attempts counts the executions that ended in Err. Zero when the
	// error did not come out of a retry loop.
	Attempts int

	// Context names the failed operation and prefixes the message.
	Context string
}

func (e *CategorizedError) Error() string {
	msg := "<nil>"
	if e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Context == "" {
		return msg
	}
	return e.Context + ": " + msg
}

func (e *CategorizedError) Unwrap() error { return e.Err }

// Transient reports whether the error sits in the transient bucket.
func (e *CategorizedError) Transient() bool { return e.Category == CategoryTransient }

// NewCategorized wraps err in the given bucket.
func NewCategorized(err error, category Category, context string) *CategorizedError {
	return &CategorizedError{Err: err, Category: category, Context: context}
}

// Transient marks err as worth retrying.
func Transient(err error, context string) *CategorizedError {
	return NewCategorized(err, CategoryTransient, context)
}

// Permanent marks err as final.
func Permanent(err error, context string) *CategorizedError {
	return NewCategorized(err, CategoryPermanent, context)
}

type transienter interface {
	Transient() bool
}

// Categorize returns the bucket of err. The outermost error in the chain
// that declares itself wins, so Permanent(Transient(x)) is permanent.
func Categorize(err error) Category {
	if err == nil {
		return CategoryPermanent
	}
	var t transienter
	if errors.As(err, &t) {
		if t.Transient() {
			return CategoryTransient
		}
		return CategoryPermanent
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTransient
	}
	return CategoryPermanent
}

// IsRetryable reports whether err is transient.
func IsRetryable(err error) bool {
	return Categorize(err) == CategoryTransient
}

// IsPermanent reports whether err is non-nil and permanent.
func IsPermanent(err error) bool {
	return err != nil && Categorize(err) == CategoryPermanent
}
