package broker_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/jobflow/pkg/jobflow/broker"
)

// contractFactory builds a fresh broker driven by the given fake clock.
type contractFactory func(t *testing.T, clock *clockwork.FakeClock) broker.Broker

type contractOptions struct {
	// reserveTimesOut is false for backends where an abandoned blocking pop
	// could still claim a later task on the server side.
	reserveTimesOut bool

	// retryDelay replaces the 10s delay of the retry check. Backends that
	// schedule redelivery on the server's own clock use a short real delay,
	// for which advancing the fake clock is a no-op.
	retryDelay time.Duration
}

func reserveWithin(t *testing.T, b broker.Broker, d time.Duration) broker.Delivery {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	del, err := b.Reserve(ctx)
	require.NoError(t, err)
	return del
}

func runBrokerContract(t *testing.T, factory contractFactory, opts contractOptions) {
	ctx := context.Background()
	payload := map[string]any{"account_id": "a1", "email": "u@x.com"}

	t.Run("submit reserve complete", func(t *testing.T) {
		b := factory(t, clockwork.NewFakeClock())

		id, err := b.Submit(ctx, "verify_account_email", []any{payload})
		require.NoError(t, err)
		require.NotEmpty(t, id)

		res, err := b.Poll(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, broker.StatusPending, res.Status)
		assert.False(t, res.Done())

		d := reserveWithin(t, b, 2*time.Second)
		assert.Equal(t, id, d.ID)
		assert.Equal(t, "verify_account_email", d.TaskName)
		assert.Equal(t, 0, d.Attempt)
		require.Len(t, d.Args, 1)

		var got map[string]any
		require.NoError(t, json.Unmarshal(d.Args[0], &got))
		assert.Equal(t, payload, got)

		res, err = b.Poll(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, broker.StatusPending, res.Status, "running tasks poll as pending")

		require.NoError(t, b.Complete(ctx, id, map[string]string{"status": "sent", "message_id": "m1"}))

		res, err = b.Poll(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, broker.StatusSuccess, res.Status)
		assert.True(t, res.Done())
		assert.JSONEq(t, `{"status":"sent","message_id":"m1"}`, string(res.Value))
	})

	t.Run("fifo order", func(t *testing.T) {
		b := factory(t, clockwork.NewFakeClock())

		first, err := b.Submit(ctx, "a", []any{1})
		require.NoError(t, err)
		second, err := b.Submit(ctx, "b", []any{2})
		require.NoError(t, err)

		assert.Equal(t, first, reserveWithin(t, b, 2*time.Second).ID)
		assert.Equal(t, second, reserveWithin(t, b, 2*time.Second).ID)
	})

	retryDelay := opts.retryDelay
	if retryDelay == 0 {
		retryDelay = 10 * time.Second
	}

	t.Run("retry is delayed", func(t *testing.T) {
		clock := clockwork.NewFakeClock()
		b := factory(t, clock)

		id, err := b.Submit(ctx, "flaky", []any{payload})
		require.NoError(t, err)
		d := reserveWithin(t, b, 2*time.Second)

		require.NoError(t, b.Retry(ctx, d.ID, retryDelay))

		res, err := b.Poll(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, broker.StatusPending, res.Status)

		if opts.reserveTimesOut {
			early, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
			_, err = b.Reserve(early)
			cancel()
			assert.ErrorIs(t, err, context.DeadlineExceeded, "task must not be deliverable before its delay")
		}

		clock.Advance(retryDelay)

		d = reserveWithin(t, b, 2*time.Second)
		assert.Equal(t, id, d.ID)
		assert.Equal(t, 1, d.Attempt)
	})

	t.Run("fail is terminal", func(t *testing.T) {
		b := factory(t, clockwork.NewFakeClock())

		id, err := b.Submit(ctx, "verify_account_email", []any{payload})
		require.NoError(t, err)
		d := reserveWithin(t, b, 2*time.Second)

		require.NoError(t, b.Fail(ctx, d.ID, "invalid address"))

		res, err := b.Poll(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, broker.StatusFailure, res.Status)
		assert.Equal(t, "invalid address", res.Error)
		assert.JSONEq(t, `{"status":"failed","error":"invalid address"}`, string(res.Value))
	})

	t.Run("unknown ids", func(t *testing.T) {
		b := factory(t, clockwork.NewFakeClock())

		_, err := b.Poll(ctx, "missing")
		assert.ErrorIs(t, err, broker.ErrTaskNotFound)
		assert.ErrorIs(t, b.Complete(ctx, "missing", nil), broker.ErrTaskNotFound)
		assert.ErrorIs(t, b.Fail(ctx, "missing", "x"), broker.ErrTaskNotFound)
		assert.ErrorIs(t, b.Retry(ctx, "missing", time.Second), broker.ErrTaskNotFound)
	})

	t.Run("rejects non json args", func(t *testing.T) {
		b := factory(t, clockwork.NewFakeClock())

		_, err := b.Submit(ctx, "task", []any{make(chan int)})
		require.Error(t, err)
		assert.False(t, broker.IsUnavailable(err))

		_, err = b.Submit(ctx, "", []any{1})
		assert.Error(t, err)
	})

	if opts.reserveTimesOut {
		t.Run("reserve honors context", func(t *testing.T) {
			b := factory(t, clockwork.NewFakeClock())

			cctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
			defer cancel()
			_, err := b.Reserve(cctx)
			assert.ErrorIs(t, err, context.DeadlineExceeded)
		})
	}

	t.Run("closed broker", func(t *testing.T) {
		b := factory(t, clockwork.NewFakeClock())
		require.NoError(t, b.Close())

		_, err := b.Submit(ctx, "task", []any{1})
		require.Error(t, err)
		assert.True(t, broker.IsUnavailable(err))

		rctx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		_, err = b.Reserve(rctx)
		assert.ErrorIs(t, err, broker.ErrClosed)
	})
}
