package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/okian/ecovision/internal/domain/model"
)

const (
	envPrefix  = "ECOVISION_"
	envFileVar = "ECOVISION_CONFIG"
)

// listKeys are split on commas when they come from the environment.
var listKeys = map[string]bool{"labels": true}

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New)
//  2. file (YAML) if ECOVISION_CONFIG is set
//  3. env (prefix ECOVISION_)
func Load(_ context.Context) (*Config, error) {
	cfg := New()
	k := koanf.New(".")

	if path := os.Getenv(envFileVar); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: read %s: %w", ErrLoadConfig, path, err)
		}
	}

	// ECOVISION_SYNC_BASE_DELAY -> sync_base_delay. Underscores are kept so
	// that keys stay flat and match the koanf tags.
	envProvider := env.ProviderWithValue(envPrefix, ".", func(key, value string) (string, interface{}) {
		key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
		if key == "config" {
			return "", nil
		}
		if listKeys[key] {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			return key, parts
		}
		return key, value
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: environment: %w", ErrLoadConfig, err)
	}

	// Overridden lists replace the defaults instead of merging into them.
	for key := range listKeys {
		if k.Exists(key) {
			cfg.Labels = nil
		}
	}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: decode: %w", ErrLoadConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every field and returns the first problem found.
func (c *Config) Validate() error {
	invalid := func(format string, args ...interface{}) error {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
	}

	switch {
	case c.Addr == "":
		return invalid("addr must not be empty")
	case c.LogFormat != "text" && c.LogFormat != "json":
		return invalid("log_format must be text or json, got %q", c.LogFormat)
	case c.ModelPath == "":
		return invalid("model_path must not be empty")
	case c.Threads < 0:
		return invalid("threads must not be negative")
	case c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1:
		return invalid("confidence_threshold must be within [0, 1], got %v", c.ConfidenceThreshold)
	case c.MaxSyncRetries < 0:
		return invalid("max_sync_retries must not be negative")
	case c.SyncBaseDelay <= 0 || c.SyncMaxDelay < c.SyncBaseDelay:
		return invalid("sync delays need 0 < sync_base_delay <= sync_max_delay")
	case c.SyncTimeout <= 0:
		return invalid("sync_timeout must be positive")
	case c.SyncQueueSize <= 0:
		return invalid("sync_queue_size must be positive")
	case c.SyncWorkerCount <= 0:
		return invalid("sync_worker_count must be positive")
	case c.CacheTTL <= 0 || c.CacheSweepInterval <= 0:
		return invalid("cache_ttl and cache_sweep_interval must be positive")
	}

	switch c.ConflictPolicy {
	case "remote_wins", "local_wins", "merged":
	default:
		return invalid("unknown conflict_policy %q", c.ConflictPolicy)
	}

	switch c.CacheBackend {
	case CacheMemory:
	case CacheRedis:
		if c.RedisAddr == "" {
			return invalid("redis_addr is required for the redis cache")
		}
	default:
		return invalid("cache_backend must be memory or redis, got %q", c.CacheBackend)
	}

	switch model.Normalization(c.InputNormalization) {
	case model.NormalizeZeroToOne, model.NormalizeMinusOneToOne, model.NormalizeNone:
	default:
		return invalid("unknown input_normalization %q", c.InputNormalization)
	}

	if u, err := url.Parse(c.BackendBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return invalid("backend_base_url %q is not an absolute URL", c.BackendBaseURL)
	}

	if (c.BackendUsername == "") != (c.BackendPassword == "") {
		return invalid("backend_username and backend_password must be set together")
	}

	if err := c.Contract().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}
