package config

import (
	"errors"
	"fmt"
	"time"
)

// EnvPrefix prefixes every environment override, e.g. JOBFLOW_TRANSPORT.
const EnvPrefix = "JOBFLOW"

// Transport selects the broker backend.
type Transport string

const (
	TransportMemory Transport = "memory"
	TransportRedis  Transport = "redis"
	TransportSQLite Transport = "sqlite"
	TransportNATS   Transport = "nats"
)

// DispatchMode selects the in-process event dispatcher.
type DispatchMode string

const (
	DispatchSync  DispatchMode = "sync"
	DispatchAsync DispatchMode = "async"
)

// RedisSettings configures the Redis broker.
type RedisSettings struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// SQLiteSettings configures the SQLite broker.
type SQLiteSettings struct {
	Path         string
	PollInterval time.Duration
}

// NATSSettings configures the JetStream broker.
type NATSSettings struct {
	URL    string
	Prefix string
	Stream string
	Bucket string
}

// WorkerSettings configures task execution.
type WorkerSettings struct {
	Concurrency int
	MaxRetries  int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// RecoverOnStart requeues tasks left in flight by a crashed worker.
	// Only safe when no other worker shares the broker at startup.
	RecoverOnStart bool
}

// EventSettings configures the in-process event dispatcher.
type EventSettings struct {
	Mode      DispatchMode
	Workers   int
	QueueSize int
}

// Settings is the typed configuration of a jobflow process.
type Settings struct {
	Transport Transport
	ResultTTL time.Duration
	Redis     RedisSettings
	SQLite    SQLiteSettings
	NATS      NATSSettings
	Worker    WorkerSettings
	Events    EventSettings

	// Routes maps job names to task names.
	Routes map[string]string

	// Telemetry enables the OpenTelemetry recorders. When false the no-op
	// implementations are used.
	Telemetry bool
}

// DefaultSettings returns the settings used for missing keys.
func DefaultSettings() Settings {
	return Settings{
		Transport: TransportMemory,
		ResultTTL: time.Hour,
		Redis: RedisSettings{
			Addr:   "localhost:6379",
			Prefix: "jobflow",
		},
		SQLite: SQLiteSettings{
			Path:         "jobflow.db",
			PollInterval: 500 * time.Millisecond,
		},
		NATS: NATSSettings{
			URL:    "nats://localhost:4222",
			Prefix: "jobflow",
			Stream: "JOBFLOW_TASKS",
			Bucket: "jobflow_results",
		},
		Worker: WorkerSettings{
			Concurrency: 1,
			MaxRetries:  3,
			BaseDelay:   10 * time.Second,
		},
		Events: EventSettings{
			Mode:      DispatchSync,
			Workers:   16,
			QueueSize: 256,
		},
		Routes: map[string]string{},
	}
}

// settingsKeys lists every key that can be overridden from the environment.
var settingsKeys = []string{
	"transport",
	"result_ttl",
	"telemetry",
	"redis.addr",
	"redis.password",
	"redis.db",
	"redis.prefix",
	"sqlite.path",
	"sqlite.poll_interval",
	"nats.url",
	"nats.prefix",
	"nats.stream",
	"nats.bucket",
	"worker.concurrency",
	"worker.max_retries",
	"worker.base_delay",
	"worker.max_delay",
	"worker.recover_on_start",
	"events.mode",
	"events.workers",
	"events.queue_size",
}

// ParseSettings reads Settings from c, falling back to DefaultSettings for
// missing keys, and validates the result.
func ParseSettings(c Config) (Settings, error) {
	d := DefaultSettings()
	s := Settings{
		Transport: Transport(c.String("transport", string(d.Transport))),
		ResultTTL: c.Duration("result_ttl", d.ResultTTL),
		Telemetry: c.Bool("telemetry", d.Telemetry),
		Redis: RedisSettings{
			Addr:     c.String("redis.addr", d.Redis.Addr),
			Password: c.String("redis.password", d.Redis.Password),
			DB:       c.Int("redis.db", d.Redis.DB),
			Prefix:   c.String("redis.prefix", d.Redis.Prefix),
		},
		SQLite: SQLiteSettings{
			Path:         c.String("sqlite.path", d.SQLite.Path),
			PollInterval: c.Duration("sqlite.poll_interval", d.SQLite.PollInterval),
		},
		NATS: NATSSettings{
			URL:    c.String("nats.url", d.NATS.URL),
			Prefix: c.String("nats.prefix", d.NATS.Prefix),
			Stream: c.String("nats.stream", d.NATS.Stream),
			Bucket: c.String("nats.bucket", d.NATS.Bucket),
		},
		Worker: WorkerSettings{
			Concurrency: c.Int("worker.concurrency", d.Worker.Concurrency),
			MaxRetries:  c.Int("worker.max_retries", d.Worker.MaxRetries),
			BaseDelay:   c.Duration("worker.base_delay", d.Worker.BaseDelay),
			MaxDelay:    c.Duration("worker.max_delay", d.Worker.MaxDelay),

			RecoverOnStart: c.Bool("worker.recover_on_start", d.Worker.RecoverOnStart),
		},
		Events: EventSettings{
			Mode:      DispatchMode(c.String("events.mode", string(d.Events.Mode))),
			Workers:   c.Int("events.workers", d.Events.Workers),
			QueueSize: c.Int("events.queue_size", d.Events.QueueSize),
		},
		Routes: c.StringMap("routes", d.Routes),
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// LoadSettings reads settings from path with environment overrides applied.
// An empty path reads only the environment.
func LoadSettings(path string) (Settings, error) {
	c := New(nil)
	if path != "" {
		var err error
		if c, err = FromFile(path); err != nil {
			return Settings{}, err
		}
	}
	return ParseSettings(WithEnv(c, EnvPrefix, settingsKeys...))
}

// Validate reports every invalid field at once.
func (s Settings) Validate() error {
	var errs []error
	switch s.Transport {
	case TransportMemory, TransportRedis, TransportSQLite, TransportNATS:
	default:
		errs = append(errs, fmt.Errorf("transport: unknown value %q", s.Transport))
	}
	switch s.Events.Mode {
	case DispatchSync, DispatchAsync:
	default:
		errs = append(errs, fmt.Errorf("events.mode: unknown value %q", s.Events.Mode))
	}
	if s.Worker.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("worker.concurrency: must be at least 1, got %d", s.Worker.Concurrency))
	}
	if s.Worker.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("worker.max_retries: must not be negative, got %d", s.Worker.MaxRetries))
	}
	if s.Worker.BaseDelay < 0 {
		errs = append(errs, fmt.Errorf("worker.base_delay: must not be negative, got %s", s.Worker.BaseDelay))
	}
	if s.ResultTTL <= 0 {
		errs = append(errs, fmt.Errorf("result_ttl: must be positive, got %s", s.ResultTTL))
	}
	if s.Events.Mode == DispatchAsync && (s.Events.Workers < 1 || s.Events.QueueSize < 1) {
		errs = append(errs, errors.New("events: async mode needs positive workers and queue_size"))
	}
	for job, task := range s.Routes {
		if job == "" || task == "" {
			errs = append(errs, fmt.Errorf("routes: empty job or task name (%q -> %q)", job, task))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid settings: %w", errors.Join(errs...))
	}
	return nil
}
