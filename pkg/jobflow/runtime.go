package jobflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/randalmurphal/jobflow/pkg/jobflow/accounts"
	"github.com/randalmurphal/jobflow/pkg/jobflow/broker"
	"github.com/randalmurphal/jobflow/pkg/jobflow/config"
	"github.com/randalmurphal/jobflow/pkg/jobflow/event"
	"github.com/randalmurphal/jobflow/pkg/jobflow/job"
	"github.com/randalmurphal/jobflow/pkg/jobflow/observability"
	"github.com/randalmurphal/jobflow/pkg/jobflow/worker"
)

// Option customizes New.
type Option func(*options)

type options struct {
	logger  *slog.Logger
	metrics observability.MetricsRecorder
	spans   observability.SpanManager
	clock   clockwork.Clock
	broker  broker.Broker
	mailer  accounts.Mailer
}

// WithLogger sets the logger shared by every component.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMetrics overrides the metrics recorder chosen by Settings.Telemetry.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(o *options) { o.metrics = m }
}

// WithSpans overrides the span manager chosen by Settings.Telemetry.
func WithSpans(s observability.SpanManager) Option {
	return func(o *options) { o.spans = s }
}

// WithClock sets the clock used for retry scheduling and polling.
func WithClock(c clockwork.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithBroker uses b instead of opening the transport named in Settings.
// The runtime takes ownership and closes it.
func WithBroker(b broker.Broker) Option {
	return func(o *options) { o.broker = b }
}

// WithMailer sets the mailer behind the verification email task.
// Default: a LogMailer.
func WithMailer(m accounts.Mailer) Option {
	return func(o *options) { o.mailer = m }
}

// Runtime holds the explicitly constructed jobflow singletons.
type Runtime struct {
	Settings    config.Settings
	Codec       *event.Codec
	Events      event.Dispatcher
	Jobs        *job.Dispatcher
	Broker      broker.Broker
	Worker      *worker.Worker
	DeadLetters *worker.MemoryDLQ
	Accounts    *accounts.Service

	async  *event.AsyncDispatcher
	logger *slog.Logger
	clock  clockwork.Clock
}

// New builds a runtime from settings. The broker named by
// settings.Transport is opened unless WithBroker supplies one.
func New(ctx context.Context, settings config.Settings, opts ...Option) (*Runtime, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.clock == nil {
		o.clock = clockwork.NewRealClock()
	}
	if o.metrics == nil {
		if settings.Telemetry {
			o.metrics = observability.NewMetricsRecorder()
		} else {
			o.metrics = observability.NoopMetrics{}
		}
	}
	if o.spans == nil {
		if settings.Telemetry {
			o.spans = observability.NewSpanManager()
		} else {
			o.spans = observability.NoopSpanManager{}
		}
	}
	if o.mailer == nil {
		o.mailer = accounts.NewLogMailer(o.logger, o.clock)
	}

	b := o.broker
	if b == nil {
		var err error
		if b, err = OpenBroker(ctx, settings, o.logger, o.clock); err != nil {
			return nil, err
		}
	}

	rt := &Runtime{
		Settings:    settings,
		Codec:       event.NewDefaultCodec(),
		Broker:      b,
		DeadLetters: worker.NewMemoryDLQ(worker.DefaultDLQConfig),
		logger:      o.logger,
		clock:       o.clock,
	}

	switch settings.Events.Mode {
	case config.DispatchAsync:
		rt.async = event.NewAsyncDispatcher(event.AsyncConfig{
			Workers:   settings.Events.Workers,
			QueueSize: settings.Events.QueueSize,
			Logger:    o.logger,
			Metrics:   o.metrics,
		})
		rt.Events = rt.async
	default:
		rt.Events = event.NewSyncDispatcher(event.SyncConfig{
			Logger:  o.logger,
			Metrics: o.metrics,
			Spans:   o.spans,
		})
	}
	accounts.RegisterHandlers(rt.Events, o.logger, o.metrics)

	rt.Jobs = job.NewDispatcher(b, job.Config{
		Logger:  o.logger,
		Metrics: o.metrics,
		Spans:   o.spans,
		Clock:   o.clock,
	})
	rt.Jobs.Register(accounts.JobVerifyEmail, accounts.JobVerifyEmail)
	for jobName, taskName := range settings.Routes {
		rt.Jobs.Register(jobName, taskName)
	}

	rt.Worker = worker.New(b, worker.Config{
		Concurrency: settings.Worker.Concurrency,
		DeadLetters: rt.DeadLetters,
		Logger:      o.logger,
		Metrics:     o.metrics,
		Spans:       o.spans,
		Clock:       o.clock,
	})
	accounts.RegisterTasks(rt.Worker, rt.Jobs.TaskName(accounts.JobVerifyEmail), rt.Codec, o.mailer, o.logger,
		worker.WithRetry(RetryPolicy(settings.Worker)))

	rt.Accounts = accounts.NewService(rt.Events, rt.Jobs, o.logger)
	return rt, nil
}

// RetryPolicy converts worker settings into a task retry policy.
func RetryPolicy(s config.WorkerSettings) worker.RetryPolicy {
	return worker.RetryPolicy{
		MaxRetries: s.MaxRetries,
		BaseDelay:  s.BaseDelay,
		MaxDelay:   s.MaxDelay,
	}
}

// OpenBroker opens the transport named by settings.Transport.
func OpenBroker(ctx context.Context, settings config.Settings, logger *slog.Logger, clock clockwork.Clock) (broker.Broker, error) {
	switch settings.Transport {
	case config.TransportMemory:
		return broker.NewMemoryBroker(clock), nil

	case config.TransportRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     settings.Redis.Addr,
			Password: settings.Redis.Password,
			DB:       settings.Redis.DB,
		})
		b := broker.NewRedisBroker(client, broker.RedisOptions{
			Prefix:    settings.Redis.Prefix,
			ResultTTL: settings.ResultTTL,
			Clock:     clock,
			Logger:    logger,
		})
		if err := b.Ping(ctx); err != nil {
			_ = b.Close()
			return nil, err
		}
		return b, nil

	case config.TransportSQLite:
		return broker.NewSQLiteStore(settings.SQLite.Path, broker.SQLiteOptions{
			PollInterval: settings.SQLite.PollInterval,
			Clock:        clock,
		})

	case config.TransportNATS:
		conn, js, err := broker.ConnectNATS(settings.NATS.URL, logger)
		if err != nil {
			return nil, err
		}
		b, err := broker.NewNATSBroker(ctx, js, conn, broker.NATSOptions{
			Prefix:    settings.NATS.Prefix,
			Stream:    settings.NATS.Stream,
			Bucket:    settings.NATS.Bucket,
			ResultTTL: settings.ResultTTL,
			Logger:    logger,
		})
		if err != nil {
			conn.Close()
			return nil, err
		}
		return b, nil

	default:
		return nil, fmt.Errorf("jobflow: unknown transport %q", settings.Transport)
	}
}

// recoverer is implemented by brokers that can requeue in-flight tasks.
type recoverer interface {
	Recover(ctx context.Context) (int, error)
}

// purger is implemented by brokers that keep settled tasks until purged.
type purger interface {
	Purge(ctx context.Context, cutoff time.Time) (int, error)
}

// Run executes tasks until ctx is cancelled or the broker closes. Brokers
// that keep settled results are purged every ResultTTL.
func (r *Runtime) Run(ctx context.Context) error {
	if r.Settings.Worker.RecoverOnStart {
		if rec, ok := r.Broker.(recoverer); ok {
			n, err := rec.Recover(ctx)
			if err != nil {
				return fmt.Errorf("recover in-flight tasks: %w", err)
			}
			if n > 0 {
				r.logger.Info("requeued in-flight tasks", slog.Int("count", n))
			}
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// The worker also stops when the broker closes; take the purge
		// loop down with it.
		defer cancel()
		return r.Worker.Run(ctx)
	})
	if p, ok := r.Broker.(purger); ok {
		g.Go(func() error {
			r.purgeLoop(ctx, p)
			return nil
		})
	}
	return g.Wait()
}

func (r *Runtime) purgeLoop(ctx context.Context, p purger) {
	ttl := r.Settings.ResultTTL
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.clock.After(ttl):
		}
		n, err := p.Purge(ctx, r.clock.Now().Add(-ttl))
		switch {
		case err != nil && ctx.Err() == nil:
			r.logger.Warn("purge settled tasks failed", slog.String("error", err.Error()))
		case n > 0:
			r.logger.Debug("purged settled tasks", slog.Int("count", n))
		}
	}
}

// Close drains the async dispatcher, if any, and closes the broker.
func (r *Runtime) Close(ctx context.Context) error {
	var errs []error
	if r.async != nil {
		if err := r.async.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close event dispatcher: %w", err))
		}
	}
	if err := r.Broker.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close broker: %w", err))
	}
	return errors.Join(errs...)
}
