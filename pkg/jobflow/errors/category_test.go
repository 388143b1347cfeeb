package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCategoryString(t *testing.T) {
	assert.Equal(t, "transient", CategoryTransient.String())
	assert.Equal(t, "permanent", CategoryPermanent.String())
	assert.Equal(t, "unknown", Category(99).String())
}

func TestCategorize(t *testing.T) {
	smtpDown := errors.New("smtp unavailable")
	badAddr := errors.New("invalid address")

	tests := []struct {
		name string
		err  error
		want Category
	}{
		{"nil", nil, CategoryPermanent},
		{"transient", Transient(smtpDown, "send"), CategoryTransient},
		{"permanent", Permanent(badAddr, "send"), CategoryPermanent},
		{"wrapped transient", fmt.Errorf("task: %w", Transient(smtpDown, "send")), CategoryTransient},
		{"deadline", context.DeadlineExceeded, CategoryTransient},
		{"wrapped deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), CategoryTransient},
		{"uncategorized", errors.New("boom"), CategoryPermanent},
		{"canceled", context.Canceled, CategoryPermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Categorize(tt.err))
		})
	}
}

func TestCategorizeIgnoresMessageText(t *testing.T) {
	// A message that reads like a transient failure is still permanent.
	err := errors.New("temporary failure, please retry")
	assert.False(t, IsRetryable(err))
	assert.True(t, IsPermanent(err))
}

func TestIsPermanentNil(t *testing.T) {
	assert.False(t, IsPermanent(nil))
	assert.False(t, IsRetryable(nil))
}

func TestCategorizedErrorMessage(t *testing.T) {
	err := Transient(errors.New("timeout"), "send email")
	assert.Equal(t, "send email: timeout", err.Error())

	bare := &CategorizedError{Err: errors.New("x"), Category: CategoryPermanent, Attempts: 2}
	assert.Equal(t, "x", bare.Error())

	assert.Equal(t, "op: <nil>", (&CategorizedError{Context: "op"}).Error())
}

type relayDown struct{}

func (relayDown) Error() string   { return "relay down" }
func (relayDown) Transient() bool { return true }

func TestCategorizeSelfDeclaredTransient(t *testing.T) {
	assert.True(t, IsRetryable(relayDown{}))
	assert.True(t, IsRetryable(fmt.Errorf("send: %w", relayDown{})))

	// The outermost declaration wins.
	assert.True(t, IsPermanent(Permanent(relayDown{}, "send")))
	assert.True(t, IsRetryable(Transient(Permanent(errors.New("x"), ""), "")))
	assert.True(t, IsPermanent(Permanent(context.DeadlineExceeded, "")))
}

func TestCategorizedErrorUnwrap(t *testing.T) {
	base := errors.New("base")
	err := Permanent(base, "ctx")
	assert.ErrorIs(t, err, base)

	var ce *CategorizedError
	assert.ErrorAs(t, fmt.Errorf("outer: %w", err), &ce)
	assert.Equal(t, "ctx", ce.Context)
}
