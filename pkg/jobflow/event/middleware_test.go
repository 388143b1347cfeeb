package event_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/jobflow/pkg/jobflow/event"
)

func TestRecoveryMiddleware(t *testing.T) {
	h := event.ChainMiddleware(
		event.Named("mailer", event.HandlerFunc(func(context.Context, event.Event) error {
			panic("kaboom")
		})),
		event.RecoveryMiddleware(),
	)

	err := h.Handle(context.Background(), event.NewAccountCreated("a1", "u@x.com"))
	var he *event.HandlerError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, "mailer", he.Handler)
	assert.Equal(t, "kaboom", he.Panic)
	assert.Contains(t, he.Error(), "panicked")
}

func TestLoggingMiddleware(t *testing.T) {
	logger, logs := newTestLogger()
	h := event.ChainMiddleware(
		event.Named("audit", event.HandlerFunc(func(context.Context, event.Event) error { return nil })),
		event.LoggingMiddleware(logger),
	)

	require.NoError(t, h.Handle(context.Background(), event.NewAccountCreated("a1", "u@x.com")))
	assert.True(t, logs.Contains(`"msg":"event handled"`))
	assert.True(t, logs.Contains(`"handler":"audit"`))
}

func TestMetricsMiddleware(t *testing.T) {
	var gotType string
	var gotErr error
	h := event.ChainMiddleware(
		event.HandlerFunc(func(context.Context, event.Event) error { return errors.New("x") }),
		event.MetricsMiddleware(func(eventType string, _ time.Duration, err error) {
			gotType, gotErr = eventType, err
		}),
	)

	_ = h.Handle(context.Background(), event.NewAccountCreated("a1", "u@x.com"))
	assert.Equal(t, event.TypeAccountCreated, gotType)
	assert.EqualError(t, gotErr, "x")
}

func TestFilterMiddleware(t *testing.T) {
	d := event.NewSyncDispatcher(event.SyncConfig{})
	d.Use(event.FilterMiddleware(func(evt event.Event) bool {
		return evt.(event.AccountCreated).Email() != ""
	}))
	rec := &recorder{}
	d.Register(event.TypeAccountCreated, rec.handler("verify"))

	require.NoError(t, d.Dispatch(context.Background(), event.NewAccountCreated("a1", "")))
	require.NoError(t, d.Dispatch(context.Background(), event.NewAccountCreated("a2", "u@x.com")))
	assert.Equal(t, []string{"verify"}, rec.Calls())
}

func TestTypedHandler(t *testing.T) {
	var seen string
	h := event.Typed(func(_ context.Context, evt event.AccountCreated) error {
		seen = evt.Email()
		return nil
	})

	require.NoError(t, h.Handle(context.Background(), event.NewAccountCreated("a1", "u@x.com")))
	assert.Equal(t, "u@x.com", seen)

	err := h.Handle(context.Background(), passwordReset{Meta: event.NewMeta()})
	assert.Error(t, err)
}

func TestNamedHandlerInErrors(t *testing.T) {
	var got string
	d := event.NewSyncDispatcher(event.SyncConfig{OnError: func(_ event.Event, handler string, _ error) { got = handler }})
	d.Register(event.TypeAccountCreated, event.Named("send_verification", event.HandlerFunc(func(context.Context, event.Event) error {
		return errors.New("x")
	})))

	require.NoError(t, d.Dispatch(context.Background(), event.NewAccountCreated("a1", "u@x.com")))
	assert.Equal(t, "send_verification", got)
}
