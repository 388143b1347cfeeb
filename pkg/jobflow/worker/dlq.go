package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"
)

var (
	// ErrDeadLetterNotFound is returned for an unknown task id.
	ErrDeadLetterNotFound = errors.New("dead letter not found")

	// ErrDeadLetterQueueFull is returned when the queue is at capacity.
	ErrDeadLetterQueueFull = errors.New("dead letter queue is full")
)

// DeadLetter is a task that failed permanently.
type DeadLetter struct {
	TaskID   string
	TaskName string
	Args     []json.RawMessage
	Attempts int
	Reason   string
	FailedAt time.Time
}

// DeadLetterQueue stores permanently failed tasks for inspection and
// requeue.
type DeadLetterQueue interface {
	// Add records a dead letter. Adding the same task id twice replaces it.
	Add(ctx context.Context, dl DeadLetter) error

	// List returns up to limit dead letters, oldest first. limit <= 0 means
	// all of them.
	List(ctx context.Context, limit int) ([]DeadLetter, error)

	// Remove deletes and returns a dead letter.
	Remove(ctx context.Context, taskID string) (DeadLetter, error)

	// Len returns the number of stored dead letters.
	Len(ctx context.Context) (int, error)
}

// DLQConfig configures the in-memory dead letter queue.
type DLQConfig struct {
	// MaxSize limits the number of stored dead letters.
	// Default: 10000
	MaxSize int

	// OnAdd is called after a dead letter is stored.
	OnAdd func(DeadLetter)
}

// DefaultDLQConfig provides reasonable defaults.
var DefaultDLQConfig = DLQConfig{
	MaxSize: 10000,
}

// DLQStats provides statistics about the dead letter queue.
type DLQStats struct {
	Size    int   // Current size
	Added   int64 // Total dead letters added
	Removed int64 // Total dead letters removed
}

// MemoryDLQ is an in-memory DeadLetterQueue.
// Suitable for testing and single-instance deployments.
type MemoryDLQ struct {
	mu      sync.RWMutex
	letters map[string]DeadLetter
	order   []string
	cfg     DLQConfig

	added   int64
	removed int64
}

var _ DeadLetterQueue = (*MemoryDLQ)(nil)

// NewMemoryDLQ creates an in-memory dead letter queue.
func NewMemoryDLQ(cfg DLQConfig) *MemoryDLQ {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultDLQConfig.MaxSize
	}
	return &MemoryDLQ{
		letters: make(map[string]DeadLetter),
		cfg:     cfg,
	}
}

// Add implements DeadLetterQueue.
func (d *MemoryDLQ) Add(_ context.Context, dl DeadLetter) error {
	d.mu.Lock()
	if _, exists := d.letters[dl.TaskID]; !exists {
		if len(d.letters) >= d.cfg.MaxSize {
			d.mu.Unlock()
			return ErrDeadLetterQueueFull
		}
		d.order = append(d.order, dl.TaskID)
	}
	d.letters[dl.TaskID] = dl
	d.added++
	d.mu.Unlock()

	if d.cfg.OnAdd != nil {
		d.cfg.OnAdd(dl)
	}
	return nil
}

// List implements DeadLetterQueue.
func (d *MemoryDLQ) List(_ context.Context, limit int) ([]DeadLetter, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if limit <= 0 || limit > len(d.order) {
		limit = len(d.order)
	}
	out := make([]DeadLetter, 0, limit)
	for _, id := range d.order[:limit] {
		out = append(out, d.letters[id])
	}
	return out, nil
}

// Remove implements DeadLetterQueue.
func (d *MemoryDLQ) Remove(_ context.Context, taskID string) (DeadLetter, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	dl, ok := d.letters[taskID]
	if !ok {
		return DeadLetter{}, ErrDeadLetterNotFound
	}
	delete(d.letters, taskID)
	for i, id := range d.order {
		if id == taskID {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
	d.removed++
	return dl, nil
}

// Len implements DeadLetterQueue.
func (d *MemoryDLQ) Len(_ context.Context) (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.letters), nil
}

// Stats returns queue statistics.
func (d *MemoryDLQ) Stats() DLQStats {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return DLQStats{
		Size:    len(d.letters),
		Added:   d.added,
		Removed: d.removed,
	}
}
