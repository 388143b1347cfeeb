package broker

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

type memState int

const (
	memQueued memState = iota
	memDelayed
	memRunning
	memDone
)

type memTask struct {
	env    envelope
	state  memState
	result Result
	timer  clockwork.Timer
}

// MemoryBroker keeps tasks in process memory. Delayed retries are timers on
// its clock, so tests can drive them with a fake clock.
type MemoryBroker struct {
	clock clockwork.Clock

	mu     sync.Mutex
	tasks  map[string]*memTask
	ready  []string
	closed bool

	notify chan struct{}
	done   chan struct{}
}

var _ Broker = (*MemoryBroker)(nil)

// NewMemoryBroker creates a broker using clock for delays. A nil clock means
// the real clock.
func NewMemoryBroker(clock clockwork.Clock) *MemoryBroker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryBroker{
		clock:  clock,
		tasks:  make(map[string]*memTask),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Submit implements Transport.
func (m *MemoryBroker) Submit(_ context.Context, taskName string, args []any) (string, error) {
	env, err := newEnvelope(taskName, args, m.clock.Now())
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", unavailable("memory", "submit", ErrClosed)
	}
	m.tasks[env.ID] = &memTask{env: env, state: memQueued, result: Result{Status: StatusPending}}
	m.pushLocked(env.ID)
	return env.ID, nil
}

// Poll implements Transport.
func (m *MemoryBroker) Poll(_ context.Context, id string) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return Result{}, ErrTaskNotFound
	}
	return t.result, nil
}

// Reserve implements Broker.
func (m *MemoryBroker) Reserve(ctx context.Context) (Delivery, error) {
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return Delivery{}, ErrClosed
		}
		if len(m.ready) > 0 {
			id := m.ready[0]
			m.ready = m.ready[1:]
			t := m.tasks[id]
			t.state = memRunning
			d := t.env.delivery()
			if len(m.ready) > 0 {
				m.signal()
			}
			m.mu.Unlock()
			return d, nil
		}
		m.mu.Unlock()

		select {
		case <-m.notify:
		case <-ctx.Done():
			return Delivery{}, ctx.Err()
		case <-m.done:
			return Delivery{}, ErrClosed
		}
	}
}

// Complete implements Broker.
func (m *MemoryBroker) Complete(_ context.Context, id string, value any) error {
	raw, err := marshalValue(value)
	if err != nil {
		return err
	}
	return m.settle(id, Result{Status: StatusSuccess, Value: raw})
}

// Fail implements Broker.
func (m *MemoryBroker) Fail(_ context.Context, id string, reason string) error {
	return m.settle(id, failureResult(reason))
}

func (m *MemoryBroker) settle(id string, result Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	t.state = memDone
	t.result = result
	return nil
}

// Retry implements Broker.
func (m *MemoryBroker) Retry(_ context.Context, id string, after time.Duration) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	t, ok := m.tasks[id]
	if !ok {
		m.mu.Unlock()
		return ErrTaskNotFound
	}
	t.env.Attempt++
	if after <= 0 {
		t.state = memQueued
		m.pushLocked(id)
		m.mu.Unlock()
		return nil
	}
	t.state = memDelayed
	m.mu.Unlock()

	// The timer is created without holding mu; its callback takes mu.
	timer := m.clock.AfterFunc(after, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.closed || t.state != memDelayed {
			return
		}
		t.state = memQueued
		t.timer = nil
		m.pushLocked(id)
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		timer.Stop()
	} else if t.state == memDelayed {
		t.timer = timer
	}
	return nil
}

// Len returns the number of tasks ready for delivery.
func (m *MemoryBroker) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ready)
}

// Close implements Broker. Pending delayed retries are cancelled.
func (m *MemoryBroker) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for _, t := range m.tasks {
		if t.timer != nil {
			t.timer.Stop()
		}
	}
	close(m.done)
	return nil
}

// Snapshot returns the stored result of every task, keyed by id.
func (m *MemoryBroker) Snapshot() map[string]Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Result, len(m.tasks))
	for id, t := range m.tasks {
		out[id] = Result{Status: t.result.Status, Value: append(json.RawMessage(nil), t.result.Value...), Error: t.result.Error}
	}
	return out
}

func (m *MemoryBroker) pushLocked(id string) {
	m.ready = append(m.ready, id)
	m.signal()
}

func (m *MemoryBroker) signal() {
	select {
	case m.notify <- struct{}{}:
	default:
	}
}
