package event_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/jobflow/pkg/jobflow/event"
)

func closeDispatcher(t *testing.T, d *event.AsyncDispatcher) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, d.Close(ctx))
}

func TestAsyncDispatcherDeliversToAllHandlers(t *testing.T) {
	var errCount atomic.Int32
	d := event.NewAsyncDispatcher(event.AsyncConfig{
		Workers: 4,
		OnError: func(event.Event, string, error) { errCount.Add(1) },
	})

	var wg sync.WaitGroup
	wg.Add(3)
	var ok atomic.Int32

	d.Register(event.TypeAccountCreated, event.HandlerFunc(func(context.Context, event.Event) error {
		defer wg.Done()
		return errors.New("fails")
	}))
	d.Register(event.TypeAccountCreated, event.HandlerFunc(func(context.Context, event.Event) error {
		defer wg.Done()
		panic("boom")
	}))
	d.Register(event.TypeAccountCreated, event.HandlerFunc(func(context.Context, event.Event) error {
		defer wg.Done()
		ok.Add(1)
		return nil
	}))

	require.NoError(t, d.Dispatch(context.Background(), event.NewAccountCreated("a1", "u@x.com")))
	wg.Wait()
	closeDispatcher(t, d)

	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(2), errCount.Load())
}

func TestAsyncDispatcherReturnsImmediately(t *testing.T) {
	d := event.NewAsyncDispatcher(event.AsyncConfig{Workers: 1})
	release := make(chan struct{})
	var done atomic.Bool

	d.Register(event.TypeAccountCreated, event.HandlerFunc(func(context.Context, event.Event) error {
		<-release
		done.Store(true)
		return nil
	}))

	require.NoError(t, d.Dispatch(context.Background(), event.NewAccountCreated("a1", "u@x.com")))
	assert.False(t, done.Load(), "dispatch must not wait for handlers")

	close(release)
	closeDispatcher(t, d)
	assert.True(t, done.Load())
}

func TestAsyncDispatcherDetachesCallerCancellation(t *testing.T) {
	d := event.NewAsyncDispatcher(event.AsyncConfig{Workers: 1})
	result := make(chan error, 1)

	d.Register(event.TypeAccountCreated, event.HandlerFunc(func(ctx context.Context, _ event.Event) error {
		result <- ctx.Err()
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, d.Dispatch(ctx, event.NewAccountCreated("a1", "u@x.com")))
	cancel()

	closeDispatcher(t, d)
	assert.NoError(t, <-result)
}

func TestAsyncDispatcherDropsWhenFull(t *testing.T) {
	var dropped atomic.Int32
	logger, logs := newTestLogger()
	d := event.NewAsyncDispatcher(event.AsyncConfig{
		Workers:   1,
		QueueSize: 1,
		Logger:    logger,
		OnDrop:    func(event.Event, string) { dropped.Add(1) },
	})

	started := make(chan struct{}, 1)
	release := make(chan struct{})
	d.Register(event.TypeAccountCreated, event.HandlerFunc(func(context.Context, event.Event) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return nil
	}))

	evt := event.NewAccountCreated("a1", "u@x.com")
	require.NoError(t, d.Dispatch(context.Background(), evt))
	<-started // the only worker is busy

	require.NoError(t, d.Dispatch(context.Background(), evt)) // fills the queue
	require.NoError(t, d.Dispatch(context.Background(), evt)) // dropped

	assert.Equal(t, int32(1), dropped.Load())
	assert.Equal(t, 1, d.Pending())
	assert.True(t, logs.Contains("event invocation dropped"))

	close(release)
	closeDispatcher(t, d)
}

func TestAsyncDispatcherOnDropMayClose(t *testing.T) {
	var d *event.AsyncDispatcher
	closed := make(chan error, 1)
	d = event.NewAsyncDispatcher(event.AsyncConfig{
		Workers:   1,
		QueueSize: 1,
		OnDrop: func(event.Event, string) {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
			defer cancel()
			closed <- d.Close(ctx)
		},
	})

	started := make(chan struct{}, 1)
	release := make(chan struct{})
	d.Register(event.TypeAccountCreated, event.HandlerFunc(func(context.Context, event.Event) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return nil
	}))

	evt := event.NewAccountCreated("a1", "u@x.com")
	require.NoError(t, d.Dispatch(context.Background(), evt))
	<-started
	require.NoError(t, d.Dispatch(context.Background(), evt))

	done := make(chan error, 1)
	go func() { done <- d.Dispatch(context.Background(), evt) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch blocked while OnDrop closed the dispatcher")
	}
	assert.ErrorIs(t, <-closed, context.DeadlineExceeded)
	assert.ErrorIs(t, d.Dispatch(context.Background(), evt), event.ErrDispatcherClosed)

	close(release)
	closeDispatcher(t, d)
}

func TestAsyncDispatcherRejectsAfterClose(t *testing.T) {
	d := event.NewAsyncDispatcher(event.AsyncConfig{})
	closeDispatcher(t, d)

	err := d.Dispatch(context.Background(), event.NewAccountCreated("a1", "u@x.com"))
	assert.ErrorIs(t, err, event.ErrDispatcherClosed)

	// Close is idempotent.
	closeDispatcher(t, d)
}

func TestAsyncDispatcherCloseDrainsQueue(t *testing.T) {
	d := event.NewAsyncDispatcher(event.AsyncConfig{Workers: 1, QueueSize: 16})
	var count atomic.Int32

	d.Register(event.TypeAccountCreated, event.HandlerFunc(func(context.Context, event.Event) error {
		time.Sleep(time.Millisecond)
		count.Add(1)
		return nil
	}))

	for i := 0; i < 10; i++ {
		require.NoError(t, d.Dispatch(context.Background(), event.NewAccountCreated("a1", "u@x.com")))
	}
	closeDispatcher(t, d)

	assert.Equal(t, int32(10), count.Load())
}

func TestAsyncDispatcherCloseTimeout(t *testing.T) {
	d := event.NewAsyncDispatcher(event.AsyncConfig{Workers: 1})
	release := make(chan struct{})
	defer close(release)

	started := make(chan struct{})
	d.Register(event.TypeAccountCreated, event.HandlerFunc(func(context.Context, event.Event) error {
		close(started)
		<-release
		return nil
	}))

	require.NoError(t, d.Dispatch(context.Background(), event.NewAccountCreated("a1", "u@x.com")))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Close(ctx), context.DeadlineExceeded)
}

func TestAsyncDispatcherNoHandler(t *testing.T) {
	logger, logs := newTestLogger()
	d := event.NewAsyncDispatcher(event.AsyncConfig{Logger: logger})
	defer closeDispatcher(t, d)

	require.NoError(t, d.Dispatch(context.Background(), event.NewAccountCreated("a1", "u@x.com")))
	assert.True(t, logs.Contains("no handler registered for event"))
}

func TestAsyncDispatcherConcurrentDispatchAndClose(t *testing.T) {
	d := event.NewAsyncDispatcher(event.AsyncConfig{Workers: 4, QueueSize: 8})
	d.Register(event.TypeAccountCreated, event.HandlerFunc(func(context.Context, event.Event) error { return nil }))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				err := d.Dispatch(context.Background(), event.NewAccountCreated("a1", "u@x.com"))
				if err != nil {
					assert.ErrorIs(t, err, event.ErrDispatcherClosed)
					return
				}
			}
		}()
	}

	closeDispatcher(t, d)
	wg.Wait()
}
