package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// FromFile loads configuration from a file, auto-detecting format by
// extension (.yaml, .yml, .json). ${VAR} references in the file are
// expanded from the environment before parsing.
func FromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	data = []byte(os.ExpandEnv(string(data)))

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		return FromYAML(data)
	case ".json":
		return FromJSON(data)
	default:
		return Config{}, fmt.Errorf("unsupported config file extension: %s", ext)
	}
}

// FromYAML parses YAML data into a Config.
func FromYAML(data []byte) (Config, error) {
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Config{}, fmt.Errorf("parse yaml: %w", err)
	}
	return New(m), nil
}

// FromJSON parses JSON data into a Config.
func FromJSON(data []byte) (Config, error) {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return Config{}, fmt.Errorf("parse json: %w", err)
	}
	return New(m), nil
}

// EnvName returns the environment variable consulted for key:
// prefix "JOBFLOW" and key "redis.addr" give JOBFLOW_REDIS_ADDR.
func EnvName(prefix, key string) string {
	name := strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(key))
	if prefix == "" {
		return name
	}
	return strings.ToUpper(prefix) + "_" + name
}

// WithEnv returns a copy of c where each of keys is replaced by its
// environment variable, when set. Values stay strings; the typed accessors
// of Settings parse them.
func WithEnv(c Config, prefix string, keys ...string) Config {
	out := clone(c.data)
	for _, key := range keys {
		if v, ok := os.LookupEnv(EnvName(prefix, key)); ok {
			set(out, key, v)
		}
	}
	return New(out)
}

// set stores v at the dotted path key, creating intermediate maps.
func set(m map[string]any, key string, v any) {
	parts := strings.Split(key, ".")
	for _, part := range parts[:len(parts)-1] {
		next, ok := asMap(m[part])
		if !ok {
			next = make(map[string]any)
		}
		m[part] = next
		m = next
	}
	m[parts[len(parts)-1]] = v
}

func clone(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if nested, ok := asMap(v); ok {
			v = clone(nested)
		}
		out[k] = v
	}
	return out
}
