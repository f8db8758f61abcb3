package service

import (
	"time"

	"github.com/okian/ecovision/internal/adapters/repository"
	"github.com/okian/ecovision/internal/adapters/runtime"
	"github.com/okian/ecovision/internal/app/syncer"
	"github.com/okian/ecovision/internal/domain/model"
	"github.com/okian/ecovision/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithRuntime sets how Start loads the model artifact. The contract in opts
// is also used by the preprocessing and decision stages.
func WithRuntime(opts runtime.Options) Option {
	return func(s *Service) {
		s.runtimeOpts = opts
	}
}

// WithPredictor uses p instead of loading a model artifact.
func WithPredictor(p Predictor) Option {
	return func(s *Service) {
		s.predictor = p
	}
}

// WithThreshold sets the confidence threshold below which results are Unknown.
func WithThreshold(t float64) Option {
	return func(s *Service) {
		if t >= 0 && t <= 1 {
			s.threshold = t
		}
	}
}

// WithStore sets the result cache. Defaults to an in-memory store.
func WithStore(st repository.Store) Option {
	return func(s *Service) {
		if st != nil {
			s.store = st
		}
	}
}

// WithUploader sets the backend client used by the sync workers.
func WithUploader(u syncer.Uploader) Option {
	return func(s *Service) {
		if u != nil {
			s.uploader = u
		}
	}
}

// WithAccounts sets the backend account manager. When the default backend
// client is used it also manages accounts.
func WithAccounts(a Accounts) Option {
	return func(s *Service) {
		if a != nil {
			s.accounts = a
		}
	}
}

// WithQueueSize sets the sync queue capacity.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithWorkerCount sets the number of sync workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithConflictPolicy sets how conflicting backend answers are applied.
func WithConflictPolicy(p syncer.Policy) Option {
	return func(s *Service) {
		if p != "" {
			s.policy = p
		}
	}
}

// WithStartOnline sets the connectivity assumed at start.
func WithStartOnline(online bool) Option {
	return func(s *Service) {
		s.startOnline = online
	}
}

// WithCacheRetention sets how long results are kept and how often the
// janitor sweeps.
func WithCacheRetention(ttl, sweep time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.cacheTTL = ttl
		}
		if sweep > 0 {
			s.sweepInterval = sweep
		}
	}
}

// WithClock overrides time.Now for result timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func defaultRuntimeOptions() runtime.Options {
	return runtime.Options{
		ModelPath: "model.tflite",
		Contract:  model.DefaultContract(),
		UseGPU:    true,
	}
}
