package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/randalmurphal/jobflow/pkg/jobflow/config"
)

func TestNew(t *testing.T) {
	assert.NotNil(t, config.New(nil).Raw())
	assert.Equal(t, "v", config.New(map[string]any{"k": "v"}).String("k", ""))
}

func TestString(t *testing.T) {
	tests := []struct {
		name       string
		data       map[string]any
		key        string
		defaultVal string
		want       string
	}{
		{"key exists", map[string]any{"name": "alice"}, "name", "default", "alice"},
		{"key missing", map[string]any{"other": "value"}, "name", "default", "default"},
		{"empty string", map[string]any{"name": ""}, "name", "default", ""},
		{"wrong type", map[string]any{"name": 123}, "name", "default", "default"},
		{"dotted path", map[string]any{"redis": map[string]any{"addr": "r:6379"}}, "redis.addr", "", "r:6379"},
		{"legacy yaml map", map[string]any{"redis": map[any]any{"addr": "r:6379"}}, "redis.addr", "", "r:6379"},
		{"literal dotted key wins", map[string]any{"a.b": "flat", "a": map[string]any{"b": "nested"}}, "a.b", "", "flat"},
		{"path through scalar", map[string]any{"redis": "oops"}, "redis.addr", "default", "default"},
		{"nil map", nil, "name", "default", "default"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, config.New(tt.data).String(tt.key, tt.defaultVal))
		})
	}
}

func TestDuration(t *testing.T) {
	tests := []struct {
		name string
		val  any
		want time.Duration
	}{
		{"string", "1m30s", 90 * time.Second},
		{"int seconds", 10, 10 * time.Second},
		{"int64 seconds", int64(5), 5 * time.Second},
		{"float seconds", 1.5, 1500 * time.Millisecond},
		{"duration", 3 * time.Millisecond, 3 * time.Millisecond},
		{"bad string", "soon", time.Hour},
		{"wrong type", true, time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.New(map[string]any{"d": tt.val})
			assert.Equal(t, tt.want, cfg.Duration("d", time.Hour))
		})
	}
	assert.Equal(t, time.Hour, config.New(nil).Duration("d", time.Hour))
}

func TestInt(t *testing.T) {
	tests := []struct {
		name string
		val  any
		want int
	}{
		{"int", 4, 4},
		{"int64", int64(8), 8},
		{"whole float", 3.0, 3},
		{"fractional float", 3.5, -1},
		{"numeric string", "12", 12},
		{"bad string", "twelve", -1},
		{"wrong type", []string{"1"}, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.New(map[string]any{"n": tt.val})
			assert.Equal(t, tt.want, cfg.Int("n", -1))
		})
	}
}

func TestBool(t *testing.T) {
	tests := []struct {
		name string
		val  any
		want bool
	}{
		{"true", true, true},
		{"false", false, false},
		{"string true", "true", true},
		{"string 0", "0", false},
		{"bad string", "maybe", true},
		{"wrong type", 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.New(map[string]any{"b": tt.val})
			assert.Equal(t, tt.want, cfg.Bool("b", true))
		})
	}
}

func TestStringSlice(t *testing.T) {
	cfg := config.New(map[string]any{
		"typed": []string{"a", "b"},
		"any":   []any{"c", "d"},
		"mixed": []any{"e", 1},
	})

	assert.Equal(t, []string{"a", "b"}, cfg.StringSlice("typed", nil))
	assert.Equal(t, []string{"c", "d"}, cfg.StringSlice("any", nil))
	assert.Equal(t, []string{"x"}, cfg.StringSlice("mixed", []string{"x"}))
	assert.Nil(t, cfg.StringSlice("missing", nil))
}

func TestStringMap(t *testing.T) {
	cfg := config.New(map[string]any{
		"routes": map[string]any{"verify_account_email": "verify_v2"},
		"bad":    map[string]any{"a": 1},
		"scalar": "nope",
	})

	assert.Equal(t, map[string]string{"verify_account_email": "verify_v2"}, cfg.StringMap("routes", nil))
	assert.Nil(t, cfg.StringMap("bad", nil))
	assert.Nil(t, cfg.StringMap("scalar", nil))
	assert.Nil(t, cfg.StringMap("missing", nil))
}

func TestSection(t *testing.T) {
	cfg := config.New(map[string]any{
		"worker": map[string]any{"concurrency": 4},
		"scalar": 1,
	})

	assert.Equal(t, 4, cfg.Section("worker").Int("concurrency", 0))
	assert.Empty(t, cfg.Section("scalar").Raw())
	assert.Empty(t, cfg.Section("missing").Raw())
}

func TestHas(t *testing.T) {
	cfg := config.New(map[string]any{"a": nil, "b": map[string]any{"c": 1}})

	assert.True(t, cfg.Has("a"))
	assert.True(t, cfg.Has("b.c"))
	assert.False(t, cfg.Has("b.d"))
	assert.False(t, cfg.Has("z"))
}
