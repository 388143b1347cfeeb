package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
)

// RedisOptions configures a RedisBroker.
type RedisOptions struct {
	// Prefix namespaces every key. Default: "jobflow"
	Prefix string

	// ResultTTL is how long settled task hashes are kept. Default: 1h
	ResultTTL time.Duration

	// BlockTimeout bounds each blocking pop so Reserve can promote due
	// retries and observe ctx. Redis has one-second granularity.
	// Default: 1s
	BlockTimeout time.Duration

	// Clock scores delayed retries. Default: real clock.
	Clock clockwork.Clock

	Logger *slog.Logger
}

// Task hash fields.
const (
	fieldTask      = "task"
	fieldArgs      = "args"
	fieldAttempt   = "attempt"
	fieldStatus    = "status"
	fieldResult    = "result"
	fieldError     = "error"
	fieldSubmitted = "submitted_at"
)

// RedisBroker stores each task in a hash and moves ids between a ready
// list, an in-flight list and a delayed sorted set. Reserve uses BRPOPLPUSH
// so a task stays in the in-flight list until it is settled.
type RedisBroker struct {
	client *redis.Client
	opts   RedisOptions
}

var _ Broker = (*RedisBroker)(nil)

// NewRedisBroker wraps an existing client. The broker owns the client and
// closes it in Close.
func NewRedisBroker(client *redis.Client, opts RedisOptions) *RedisBroker {
	if opts.Prefix == "" {
		opts.Prefix = "jobflow"
	}
	if opts.ResultTTL <= 0 {
		opts.ResultTTL = time.Hour
	}
	if opts.BlockTimeout < time.Second {
		opts.BlockTimeout = time.Second
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &RedisBroker{client: client, opts: opts}
}

func (b *RedisBroker) taskKey(id string) string { return b.opts.Prefix + ":task:" + id }
func (b *RedisBroker) queueKey() string         { return b.opts.Prefix + ":queue" }
func (b *RedisBroker) processingKey() string    { return b.opts.Prefix + ":processing" }
func (b *RedisBroker) delayedKey() string       { return b.opts.Prefix + ":delayed" }

// Ping checks connectivity.
func (b *RedisBroker) Ping(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return unavailable("redis", "ping", err)
	}
	return nil
}

// Submit implements Transport.
func (b *RedisBroker) Submit(ctx context.Context, taskName string, args []any) (string, error) {
	env, err := newEnvelope(taskName, args, b.opts.Clock.Now())
	if err != nil {
		return "", err
	}
	argsJSON, err := json.Marshal(env.Args)
	if err != nil {
		return "", fmt.Errorf("broker: encode args: %w", err)
	}

	_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, b.taskKey(env.ID),
			fieldTask, env.Task,
			fieldArgs, string(argsJSON),
			fieldAttempt, 0,
			fieldStatus, string(StatusPending),
			fieldSubmitted, env.SubmittedAt.Format(time.RFC3339Nano),
		)
		pipe.LPush(ctx, b.queueKey(), env.ID)
		return nil
	})
	if err != nil {
		return "", unavailable("redis", "submit", err)
	}
	return env.ID, nil
}

// Poll implements Transport.
func (b *RedisBroker) Poll(ctx context.Context, id string) (Result, error) {
	vals, err := b.client.HMGet(ctx, b.taskKey(id), fieldStatus, fieldResult, fieldError).Result()
	if err != nil {
		return Result{}, unavailable("redis", "poll", err)
	}
	status, ok := vals[0].(string)
	if !ok {
		return Result{}, ErrTaskNotFound
	}
	res := Result{Status: Status(status)}
	if v, ok := vals[1].(string); ok && v != "" {
		res.Value = json.RawMessage(v)
	}
	if v, ok := vals[2].(string); ok {
		res.Error = v
	}
	return res, nil
}

// Reserve implements Broker.
func (b *RedisBroker) Reserve(ctx context.Context) (Delivery, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Delivery{}, err
		}
		if _, err := b.promoteDue(ctx); err != nil {
			if ctx.Err() != nil {
				return Delivery{}, ctx.Err()
			}
			if errors.Is(err, redis.ErrClosed) {
				return Delivery{}, ErrClosed
			}
			return Delivery{}, err
		}

		id, err := b.client.BRPopLPush(ctx, b.queueKey(), b.processingKey(), b.opts.BlockTimeout).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return Delivery{}, ctx.Err()
			}
			if errors.Is(err, redis.ErrClosed) {
				return Delivery{}, ErrClosed
			}
			return Delivery{}, unavailable("redis", "reserve", err)
		}

		d, err := b.load(ctx, id)
		if errors.Is(err, ErrTaskNotFound) {
			// Hash expired or was removed; drop the orphaned id.
			b.client.LRem(ctx, b.processingKey(), 1, id)
			b.opts.Logger.Warn("dropping orphaned task id", slog.String("task_id", id))
			continue
		}
		if errors.Is(err, errCorruptArgs) {
			// Redelivery cannot fix the payload; settle it as failed.
			if ferr := b.Fail(ctx, id, err.Error()); ferr != nil {
				return Delivery{}, ferr
			}
			b.opts.Logger.Warn("failing task with undecodable args",
				slog.String("task_id", id), slog.String("error", err.Error()))
			continue
		}
		if err != nil {
			return Delivery{}, err
		}
		return d, nil
	}
}

func (b *RedisBroker) load(ctx context.Context, id string) (Delivery, error) {
	vals, err := b.client.HGetAll(ctx, b.taskKey(id)).Result()
	if err != nil {
		return Delivery{}, unavailable("redis", "load", err)
	}
	if len(vals) == 0 {
		return Delivery{}, ErrTaskNotFound
	}
	var args []json.RawMessage
	if err := json.Unmarshal([]byte(vals[fieldArgs]), &args); err != nil {
		return Delivery{}, fmt.Errorf("%w of %s: %v", errCorruptArgs, id, err)
	}
	attempt, _ := strconv.Atoi(vals[fieldAttempt])
	return Delivery{ID: id, TaskName: vals[fieldTask], Args: args, Attempt: attempt}, nil
}

// promoteDue moves retries whose delay has elapsed back to the ready list.
func (b *RedisBroker) promoteDue(ctx context.Context) (int, error) {
	now := b.opts.Clock.Now()
	ids, err := b.client.ZRangeByScore(ctx, b.delayedKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: 100,
	}).Result()
	if err != nil {
		return 0, unavailable("redis", "promote", err)
	}

	promoted := 0
	for _, id := range ids {
		// ZREM decides which worker wins the promotion.
		removed, err := b.client.ZRem(ctx, b.delayedKey(), id).Result()
		if err != nil {
			return promoted, unavailable("redis", "promote", err)
		}
		if removed == 0 {
			continue
		}
		if err := b.client.LPush(ctx, b.queueKey(), id).Err(); err != nil {
			return promoted, unavailable("redis", "promote", err)
		}
		promoted++
	}
	return promoted, nil
}

// Complete implements Broker.
func (b *RedisBroker) Complete(ctx context.Context, id string, value any) error {
	raw, err := marshalValue(value)
	if err != nil {
		return err
	}
	return b.finish(ctx, id, Result{Status: StatusSuccess, Value: raw})
}

// Fail implements Broker.
func (b *RedisBroker) Fail(ctx context.Context, id string, reason string) error {
	return b.finish(ctx, id, failureResult(reason))
}

func (b *RedisBroker) finish(ctx context.Context, id string, res Result) error {
	if err := b.exists(ctx, id); err != nil {
		return err
	}
	key := b.taskKey(id)
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			fieldStatus, string(res.Status),
			fieldResult, string(res.Value),
			fieldError, res.Error,
		)
		pipe.Expire(ctx, key, b.opts.ResultTTL)
		pipe.LRem(ctx, b.processingKey(), 1, id)
		return nil
	})
	if err != nil {
		return unavailable("redis", "settle", err)
	}
	return nil
}

// Retry implements Broker.
func (b *RedisBroker) Retry(ctx context.Context, id string, after time.Duration) error {
	if err := b.exists(ctx, id); err != nil {
		return err
	}
	runAt := b.opts.Clock.Now().Add(after)
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HIncrBy(ctx, b.taskKey(id), fieldAttempt, 1)
		pipe.LRem(ctx, b.processingKey(), 1, id)
		pipe.ZAdd(ctx, b.delayedKey(), redis.Z{Score: float64(runAt.UnixMilli()), Member: id})
		return nil
	})
	if err != nil {
		return unavailable("redis", "retry", err)
	}
	return nil
}

func (b *RedisBroker) exists(ctx context.Context, id string) error {
	n, err := b.client.Exists(ctx, b.taskKey(id)).Result()
	if err != nil {
		return unavailable("redis", "lookup", err)
	}
	if n == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// Recover moves every in-flight task back to the ready list. Call it at
// startup, before any worker of this queue is running, to redeliver tasks
// orphaned by a crashed worker.
func (b *RedisBroker) Recover(ctx context.Context) (int, error) {
	n := 0
	for {
		_, err := b.client.RPopLPush(ctx, b.processingKey(), b.queueKey()).Result()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return n, unavailable("redis", "recover", err)
		}
		n++
	}
	if n > 0 {
		b.opts.Logger.Info("recovered in-flight tasks", slog.Int("count", n))
	}
	return n, nil
}

// Len returns the number of ready tasks.
func (b *RedisBroker) Len(ctx context.Context) (int64, error) {
	n, err := b.client.LLen(ctx, b.queueKey()).Result()
	if err != nil {
		return 0, unavailable("redis", "len", err)
	}
	return n, nil
}

// Close implements Broker.
func (b *RedisBroker) Close() error {
	if err := b.client.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		return err
	}
	return nil
}
