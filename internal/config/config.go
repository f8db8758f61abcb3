// Package config defines process configuration and how it is loaded.
//
// Conventions:
//   - New returns a Config holding every default.
//   - Load layers an optional YAML file and ECOVISION_ environment variables
//     over the defaults and validates the result.
//   - Errors wrap ErrInvalidConfig or ErrLoadConfig.
package config

import (
	"time"

	"github.com/okian/ecovision/internal/domain/model"
)

// Cache backends.
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat is text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// ModelPath is the .tflite or .onnx classifier artifact.
	ModelPath string `koanf:"model_path"`
	// ORTLibraryPath points at the ONNX Runtime shared library.
	ORTLibraryPath string `koanf:"ort_library_path"`
	// Threads is the runtime intra-op thread count; 0 lets the runtime decide.
	Threads int `koanf:"threads"`
	// UseGPU requests the accelerated backend when the artifact supports it.
	UseGPU bool `koanf:"use_gpu"`

	Labels             []string `koanf:"labels"`
	InputSize          int      `koanf:"input_size"`
	InputLayout        string   `koanf:"input_layout"`
	InputType          string   `koanf:"input_type"`
	InputNormalization string   `koanf:"input_normalization"`
	OutputKind         string   `koanf:"output_kind"`

	// ConfidenceThreshold is the minimum top score for a non-Unknown label.
	ConfidenceThreshold float64 `koanf:"confidence_threshold"`

	MaxSyncRetries  int           `koanf:"max_sync_retries"`
	SyncBaseDelay   time.Duration `koanf:"sync_base_delay"`
	SyncMaxDelay    time.Duration `koanf:"sync_max_delay"`
	SyncTimeout     time.Duration `koanf:"sync_timeout"`
	SyncQueueSize   int           `koanf:"sync_queue_size"`
	SyncWorkerCount int           `koanf:"sync_worker_count"`
	// ConflictPolicy is remote_wins, local_wins or merged.
	ConflictPolicy string `koanf:"conflict_policy"`
	// StartOnline is the connectivity assumed before the shell reports any.
	StartOnline bool `koanf:"start_online"`

	CacheTTL           time.Duration `koanf:"cache_ttl"`
	CacheSweepInterval time.Duration `koanf:"cache_sweep_interval"`
	// CacheBackend is memory or redis.
	CacheBackend   string `koanf:"cache_backend"`
	RedisAddr      string `koanf:"redis_addr"`
	RedisMaxIdle   int    `koanf:"redis_max_idle"`
	RedisKeyPrefix string `koanf:"redis_key_prefix"`

	BackendBaseURL string `koanf:"backend_base_url"`
	BackendToken   string `koanf:"backend_token"`
	// BackendUsername and BackendPassword let sync re-validate the account
	// after an unauthorized upload. Both or neither.
	BackendUsername string `koanf:"backend_username"`
	BackendPassword string `koanf:"backend_password"`
}

// New creates a Config holding the defaults.
func New() *Config {
	return &Config{
		LogLevel:            "info",
		LogFormat:           "text",
		Addr:                ":9080",
		ModelPath:           "model.tflite",
		UseGPU:              true,
		Labels:              append([]string(nil), model.DefaultLabels...),
		InputSize:           224,
		InputLayout:         string(model.LayoutNHWC),
		InputType:           string(model.ElementFloat32),
		InputNormalization:  string(model.NormalizeZeroToOne),
		OutputKind:          string(model.OutputProbabilities),
		ConfidenceThreshold: 0.5,
		MaxSyncRetries:      3,
		SyncBaseDelay:       500 * time.Millisecond,
		SyncMaxDelay:        10 * time.Second,
		SyncTimeout:         5 * time.Second,
		SyncQueueSize:       1024,
		SyncWorkerCount:     2,
		ConflictPolicy:      "remote_wins",
		StartOnline:         true,
		CacheTTL:            7 * 24 * time.Hour,
		CacheSweepInterval:  10 * time.Minute,
		CacheBackend:        CacheMemory,
		RedisAddr:           "127.0.0.1:6379",
		RedisMaxIdle:        8,
		RedisKeyPrefix:      "ecovision",
		BackendBaseURL:      "https://ecovision.bsite.net/api",
	}
}

// Contract returns the tensor contract described by the configuration.
func (c *Config) Contract() model.Contract {
	return model.Contract{
		InputSize:     c.InputSize,
		Channels:      3,
		Layout:        model.Layout(c.InputLayout),
		InputType:     model.ElementType(c.InputType),
		Normalization: model.Normalization(c.InputNormalization),
		OutputKind:    model.OutputKind(c.OutputKind),
		Labels:        append([]string(nil), c.Labels...),
	}
}
