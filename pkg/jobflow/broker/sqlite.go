package broker

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteOptions configures a SQLiteStore.
type SQLiteOptions struct {
	// PollInterval is how long Reserve waits between empty claims when no
	// local Submit wakes it. Default: 500ms
	PollInterval time.Duration

	// Clock drives run_at scheduling. Default: real clock.
	Clock clockwork.Clock
}

// sqliteTimeLayout is fixed width so stored timestamps sort as text.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Task states stored in the status column.
const (
	sqliteQueued  = "queued"
	sqliteRunning = "running"
)

// SQLiteStore persists tasks to a SQLite database. It is suitable for a
// single host; several worker processes may share the file.
type SQLiteStore struct {
	db     *sql.DB
	opts   SQLiteOptions
	notify chan struct{}
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
}

var _ Broker = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the task table at path. Use ":memory:"
// for tests.
func NewSQLiteStore(path string, opts SQLiteOptions) (*SQLiteStore, error) {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection serializes writers and keeps ":memory:" a single database.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			task TEXT NOT NULL,
			args TEXT NOT NULL,
			attempt INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			run_at INTEGER NOT NULL,
			result TEXT,
			error TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_tasks_ready
		ON tasks(status, run_at)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create index: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		opts:   opts,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}, nil
}

func (s *SQLiteStore) now() string {
	return s.opts.Clock.Now().UTC().Format(sqliteTimeLayout)
}

// Submit implements Transport.
func (s *SQLiteStore) Submit(ctx context.Context, taskName string, args []any) (string, error) {
	env, err := newEnvelope(taskName, args, s.opts.Clock.Now())
	if err != nil {
		return "", err
	}
	argsJSON, err := json.Marshal(env.Args)
	if err != nil {
		return "", fmt.Errorf("broker: encode args: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return "", unavailable("sqlite", "submit", ErrClosed)
	}

	now := s.now()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, task, args, attempt, status, run_at, created_at, updated_at)
		VALUES (?, ?, ?, 0, ?, ?, ?, ?)
	`, env.ID, env.Task, string(argsJSON), sqliteQueued, env.SubmittedAt.UnixNano(), now, now)
	if err != nil {
		return "", unavailable("sqlite", "submit", err)
	}

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return env.ID, nil
}

// Poll implements Transport.
func (s *SQLiteStore) Poll(ctx context.Context, id string) (Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Result{}, ErrClosed
	}

	var status string
	var result, errMsg sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT status, result, error FROM tasks WHERE id = ?
	`, id).Scan(&status, &result, &errMsg)
	if errors.Is(err, sql.ErrNoRows) {
		return Result{}, ErrTaskNotFound
	}
	if err != nil {
		return Result{}, fmt.Errorf("poll task: %w", err)
	}

	res := Result{Error: errMsg.String}
	switch status {
	case string(StatusSuccess), string(StatusFailure):
		res.Status = Status(status)
	default:
		res.Status = StatusPending
	}
	if result.Valid && result.String != "" {
		res.Value = json.RawMessage(result.String)
	}
	return res, nil
}

// Reserve implements Broker.
func (s *SQLiteStore) Reserve(ctx context.Context) (Delivery, error) {
	for {
		d, ok, err := s.claim(ctx)
		if err != nil {
			return Delivery{}, err
		}
		if ok {
			return d, nil
		}

		select {
		case <-s.notify:
		case <-s.opts.Clock.After(s.opts.PollInterval):
		case <-ctx.Done():
			return Delivery{}, ctx.Err()
		case <-s.done:
			return Delivery{}, ErrClosed
		}
	}
}

// claim atomically marks the oldest due task as running.
func (s *SQLiteStore) claim(ctx context.Context) (Delivery, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Delivery{}, false, ErrClosed
	}

	var d Delivery
	var args string
	err := s.db.QueryRowContext(ctx, `
		UPDATE tasks SET status = ?, updated_at = ?
		WHERE id = (
			SELECT id FROM tasks
			WHERE status = ? AND run_at <= ?
			ORDER BY run_at, rowid
			LIMIT 1
		)
		RETURNING id, task, args, attempt
	`, sqliteRunning, s.now(), sqliteQueued, s.opts.Clock.Now().UnixNano()).Scan(&d.ID, &d.TaskName, &args, &d.Attempt)
	if errors.Is(err, sql.ErrNoRows) {
		return Delivery{}, false, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return Delivery{}, false, ctx.Err()
		}
		return Delivery{}, false, fmt.Errorf("claim task: %w", err)
	}
	if err := json.Unmarshal([]byte(args), &d.Args); err != nil {
		return Delivery{}, false, fmt.Errorf("broker: decode args of %s: %w", d.ID, err)
	}
	return d, true, nil
}

// Complete implements Broker.
func (s *SQLiteStore) Complete(ctx context.Context, id string, value any) error {
	raw, err := marshalValue(value)
	if err != nil {
		return err
	}
	return s.finish(ctx, id, Result{Status: StatusSuccess, Value: raw})
}

// Fail implements Broker.
func (s *SQLiteStore) Fail(ctx context.Context, id string, reason string) error {
	return s.finish(ctx, id, failureResult(reason))
}

func (s *SQLiteStore) finish(ctx context.Context, id string, res Result) error {
	return s.update(ctx, "settle task", `
		UPDATE tasks SET status = ?, result = ?, error = ?, updated_at = ?
		WHERE id = ?
	`, string(res.Status), string(res.Value), res.Error, s.now(), id)
}

// Retry implements Broker.
func (s *SQLiteStore) Retry(ctx context.Context, id string, after time.Duration) error {
	runAt := s.opts.Clock.Now().Add(after).UnixNano()
	return s.update(ctx, "retry task", `
		UPDATE tasks SET status = ?, attempt = attempt + 1, run_at = ?, updated_at = ?
		WHERE id = ?
	`, sqliteQueued, runAt, s.now(), id)
}

func (s *SQLiteStore) update(ctx context.Context, op, query string, args ...any) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// Recover requeues tasks left running by a worker that died.
func (s *SQLiteStore) Recover(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrClosed
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, updated_at = ? WHERE status = ?
	`, sqliteQueued, s.now(), sqliteRunning)
	if err != nil {
		return 0, fmt.Errorf("recover tasks: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Purge deletes settled tasks last updated before cutoff.
func (s *SQLiteStore) Purge(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrClosed
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM tasks WHERE status IN (?, ?) AND updated_at < ?
	`, string(StatusSuccess), string(StatusFailure), cutoff.UTC().Format(sqliteTimeLayout))
	if err != nil {
		return 0, fmt.Errorf("purge tasks: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Close implements Broker.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)
	return s.db.Close()
}
