package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSOptions configures a NATSBroker.
type NATSOptions struct {
	// Prefix is the subject prefix; tasks publish to <Prefix>.tasks.<name>.
	// Default: "jobflow"
	Prefix string

	// Stream is the work-queue stream name. Default: "JOBFLOW_TASKS"
	Stream string

	// Bucket is the KV bucket holding results. Default: "jobflow_results"
	Bucket string

	// Consumer is the durable consumer shared by all workers.
	// Default: "jobflow-worker"
	Consumer string

	// AckWait is how long a reserved task may run before JetStream
	// redelivers it. Default: 5m
	AckWait time.Duration

	// ResultTTL bounds how long results stay in the bucket. Default: 1h
	ResultTTL time.Duration

	// FetchWait bounds each pull so Reserve can observe ctx. Default: 1s
	FetchWait time.Duration

	Logger *slog.Logger
}

func (o *NATSOptions) applyDefaults() {
	if o.Prefix == "" {
		o.Prefix = "jobflow"
	}
	if o.Stream == "" {
		o.Stream = "JOBFLOW_TASKS"
	}
	if o.Bucket == "" {
		o.Bucket = "jobflow_results"
	}
	if o.Consumer == "" {
		o.Consumer = "jobflow-worker"
	}
	if o.AckWait <= 0 {
		o.AckWait = 5 * time.Minute
	}
	if o.ResultTTL <= 0 {
		o.ResultTTL = time.Hour
	}
	if o.FetchWait <= 0 {
		o.FetchWait = time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

func (o NATSOptions) subject(taskName string) string {
	return o.Prefix + ".tasks." + taskName
}

// NATSBroker publishes tasks to a JetStream work-queue stream and keeps
// results in a KV bucket. Retries use NakWithDelay and failures Term, so
// JetStream owns redelivery timing.
type NATSBroker struct {
	js       jetstream.JetStream
	consumer jetstream.Consumer
	results  jetstream.KeyValue
	opts     NATSOptions
	conn     *nats.Conn // closed by Close when set

	mu       sync.Mutex
	inflight map[string]jetstream.Msg
}

var _ Broker = (*NATSBroker)(nil)

// ConnectNATS dials url with reconnect handling and returns a JetStream
// context.
func ConnectNATS(url string, logger *slog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts := []nats.Option{
		nats.Name("jobflow"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			logger.Error("NATS error", slog.String("error", err.Error()))
		}),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, nil, unavailable("nats", "connect", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("create JetStream context: %w", err)
	}
	return nc, js, nil
}

// NewNATSBroker ensures the stream, consumer and result bucket exist.
// conn may be nil; when set, Close closes it.
func NewNATSBroker(ctx context.Context, js jetstream.JetStream, conn *nats.Conn, opts NATSOptions) (*NATSBroker, error) {
	opts.applyDefaults()

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        opts.Stream,
		Description: "jobflow task queue",
		Subjects:    []string{opts.Prefix + ".tasks.>"},
		Retention:   jetstream.WorkQueuePolicy,
		Storage:     jetstream.FileStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("create stream: %w", err)
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       opts.Consumer,
		Description:   "jobflow workers",
		FilterSubject: opts.Prefix + ".tasks.>",
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       opts.AckWait,
		MaxDeliver:    -1,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("create consumer: %w", err)
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      opts.Bucket,
		Description: "jobflow task results",
		TTL:         opts.ResultTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("create result bucket: %w", err)
	}

	return &NATSBroker{
		js:       js,
		consumer: consumer,
		results:  kv,
		opts:     opts,
		conn:     conn,
		inflight: make(map[string]jetstream.Msg),
	}, nil
}

// Submit implements Transport.
func (b *NATSBroker) Submit(ctx context.Context, taskName string, args []any) (string, error) {
	env, err := newEnvelope(taskName, args, time.Now())
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("broker: encode task: %w", err)
	}

	if err := b.putResult(ctx, env.ID, Result{Status: StatusPending}); err != nil {
		return "", unavailable("nats", "submit", err)
	}
	if _, err := b.js.Publish(ctx, b.opts.subject(taskName), data, jetstream.WithMsgID(env.ID)); err != nil {
		return "", unavailable("nats", "submit", err)
	}
	return env.ID, nil
}

// Poll implements Transport.
func (b *NATSBroker) Poll(ctx context.Context, id string) (Result, error) {
	entry, err := b.results.Get(ctx, id)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return Result{}, ErrTaskNotFound
	}
	if err != nil {
		return Result{}, unavailable("nats", "poll", err)
	}
	var res Result
	if err := json.Unmarshal(entry.Value(), &res); err != nil {
		return Result{}, fmt.Errorf("broker: decode result of %s: %w", id, err)
	}
	return res, nil
}

// Reserve implements Broker.
func (b *NATSBroker) Reserve(ctx context.Context) (Delivery, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Delivery{}, err
		}

		batch, err := b.consumer.Fetch(1, jetstream.FetchMaxWait(b.opts.FetchWait))
		if err != nil {
			if errors.Is(err, nats.ErrConnectionClosed) {
				return Delivery{}, ErrClosed
			}
			return Delivery{}, unavailable("nats", "reserve", err)
		}

		for msg := range batch.Messages() {
			d, err := b.accept(msg)
			if err != nil {
				b.opts.Logger.Error("discarding undecodable task",
					slog.String("subject", msg.Subject()),
					slog.String("error", err.Error()))
				_ = msg.Term()
				continue
			}
			return d, nil
		}
		if err := batch.Error(); err != nil && !errors.Is(err, nats.ErrTimeout) {
			b.opts.Logger.Warn("fetch ended with error", slog.String("error", err.Error()))
		}
	}
}

func (b *NATSBroker) accept(msg jetstream.Msg) (Delivery, error) {
	var env envelope
	if err := json.Unmarshal(msg.Data(), &env); err != nil {
		return Delivery{}, fmt.Errorf("decode task: %w", err)
	}
	if md, err := msg.Metadata(); err == nil && md.NumDelivered > 0 {
		env.Attempt = int(md.NumDelivered) - 1
	}

	b.mu.Lock()
	b.inflight[env.ID] = msg
	b.mu.Unlock()
	return env.delivery(), nil
}

func (b *NATSBroker) take(id string) (jetstream.Msg, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	msg, ok := b.inflight[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	delete(b.inflight, id)
	return msg, nil
}

// Complete implements Broker.
func (b *NATSBroker) Complete(ctx context.Context, id string, value any) error {
	raw, err := marshalValue(value)
	if err != nil {
		return err
	}
	msg, err := b.take(id)
	if err != nil {
		return err
	}
	if err := b.putResult(ctx, id, Result{Status: StatusSuccess, Value: raw}); err != nil {
		_ = msg.Nak()
		return unavailable("nats", "complete", err)
	}
	return msg.Ack()
}

// Fail implements Broker.
func (b *NATSBroker) Fail(ctx context.Context, id string, reason string) error {
	msg, err := b.take(id)
	if err != nil {
		return err
	}
	if err := b.putResult(ctx, id, failureResult(reason)); err != nil {
		_ = msg.Nak()
		return unavailable("nats", "fail", err)
	}
	return msg.Term()
}

// Retry implements Broker.
func (b *NATSBroker) Retry(_ context.Context, id string, after time.Duration) error {
	msg, err := b.take(id)
	if err != nil {
		return err
	}
	return msg.NakWithDelay(after)
}

func (b *NATSBroker) putResult(ctx context.Context, id string, res Result) error {
	data, err := json.Marshal(res)
	if err != nil {
		return err
	}
	_, err = b.results.Put(ctx, id, data)
	return err
}

// Close implements Broker. Unsettled tasks are redelivered after AckWait.
func (b *NATSBroker) Close() error {
	if b.conn != nil {
		b.conn.Close()
	}
	return nil
}
