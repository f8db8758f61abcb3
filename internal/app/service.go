// Package service wires the inference pipeline, the result cache and the sync
// workers together and exposes the operations the HTTP API needs.
package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/ecovision/internal/adapters/backend"
	"github.com/okian/ecovision/internal/adapters/mq/queue"
	"github.com/okian/ecovision/internal/adapters/mq/worker"
	"github.com/okian/ecovision/internal/adapters/repository"
	"github.com/okian/ecovision/internal/adapters/runtime"
	"github.com/okian/ecovision/internal/app/syncer"
	"github.com/okian/ecovision/internal/domain/decision"
	"github.com/okian/ecovision/internal/domain/model"
	"github.com/okian/ecovision/internal/domain/preprocess"
	"github.com/okian/ecovision/pkg/logger"
	"github.com/okian/ecovision/pkg/metrics"
)

// Default service configuration constants.
const (
	defaultThreshold     = 0.5
	defaultQueueSize     = 1024
	defaultWorkerCount   = 2
	defaultCacheTTL      = 7 * 24 * time.Hour
	defaultSweepInterval = 10 * time.Minute
)

// Predictor runs the classifier on a prepared tensor.
type Predictor interface {
	Predict(ctx context.Context, in model.Tensor) (model.Tensor, error)
	Contract() model.Contract
	Accelerated() bool
	Close() error
}

// Accounts manages the backend account that uploads are made under.
type Accounts interface {
	Register(ctx context.Context, reg backend.Registration) error
	Login(ctx context.Context, creds backend.Credentials) error
	Revalidate(ctx context.Context) error
}

// Service orchestrates capture -> preprocess -> cache -> inference -> decision
// -> cache -> sync.
type Service struct {
	mu sync.RWMutex

	// processMu allows a single inference at a time.
	processMu sync.Mutex

	// Core components
	predictor   Predictor
	ownsModel   bool
	prep        *preprocess.Preprocessor
	decider     *decision.Decider
	store       repository.Store
	uploader    syncer.Uploader
	accounts    Accounts
	jobs        *queue.InMemoryQueue
	coordinator *syncer.Coordinator
	pool        *worker.Pool

	// Configuration
	runtimeOpts   runtime.Options
	threshold     float64
	queueSize     int
	workerCount   int
	policy        syncer.Policy
	startOnline   bool
	cacheTTL      time.Duration
	sweepInterval time.Duration
	now           func() time.Time

	// State
	started bool
	// running mirrors started for Process, which must not take mu.
	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	// Logging
	logger logger.Logger
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		runtimeOpts:   defaultRuntimeOptions(),
		threshold:     defaultThreshold,
		queueSize:     defaultQueueSize,
		workerCount:   defaultWorkerCount,
		policy:        syncer.PolicyRemoteWins,
		startOnline:   true,
		cacheTTL:      defaultCacheTTL,
		sweepInterval: defaultSweepInterval,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start loads the model and starts the sync workers and the cache janitor.
// A model that cannot be loaded returns an error wrapping ErrModelLoad.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	s.logger.Info(ctx, "starting ecovision service...")

	if s.predictor == nil {
		opts := s.runtimeOpts
		if opts.Logger == nil {
			opts.Logger = s.logger
		}
		adapter, err := runtime.Load(ctx, opts)
		if err != nil {
			return err
		}
		s.predictor = adapter
		s.ownsModel = true
	}

	contract := s.predictor.Contract()
	prep, err := preprocess.New(contract)
	if err != nil {
		return fmt.Errorf("preprocess: %w", err)
	}
	decider, err := decision.New(contract, decision.WithThreshold(s.threshold))
	if err != nil {
		return fmt.Errorf("decision: %w", err)
	}
	s.prep, s.decider = prep, decider

	if s.store == nil {
		s.store = repository.NewMemoryStore()
	}
	if s.uploader == nil {
		client := backend.New(backend.WithLogger(s.logger))
		s.uploader = client
		if s.accounts == nil {
			s.accounts = client
		}
	}

	coordOpts := []syncer.Option{
		syncer.WithPolicy(s.policy),
		syncer.WithOnline(s.startOnline),
	}
	if s.accounts != nil {
		coordOpts = append(coordOpts, syncer.WithAuthenticator(s.accounts))
	}
	s.jobs = queue.NewInMemoryQueue(queue.WithCapacity(s.queueSize))
	s.coordinator = syncer.New(s.store, s.jobs, s.uploader, coordOpts...)
	s.pool = worker.NewPool(s.workerCount, s.jobs, s.coordinator)

	// Background loops outlive the start request; Stop ends them.
	runCtx := context.WithoutCancel(ctx)
	s.pool.Start(runCtx)

	s.stopCh = make(chan struct{})
	s.wg.Add(1)
	go s.janitor(runCtx, s.stopCh)

	// Results left Local by a previous run are picked up straight away.
	if err := s.coordinator.Requeue(runCtx); err != nil {
		s.logger.Warn(ctx, "requeue of local results incomplete", logger.Error(err))
	}

	s.started = true
	s.running.Store(true)
	s.logger.Info(ctx, "ecovision service started",
		logger.Bool("accelerated", s.predictor.Accelerated()),
		logger.Int("workers", s.workerCount),
		logger.Int("queueSize", s.queueSize),
		logger.String("policy", string(s.policy)),
	)
	return nil
}

// Stop shuts down the workers, cancelling in-flight sync attempts, then
// releases the model and the cache.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	ctx := context.Background()
	s.running.Store(false)
	s.logger.Info(ctx, "stopping ecovision service...")

	if err := s.pool.Shutdown(ctx); err != nil {
		s.logger.Warn(ctx, "worker pool shutdown", logger.Error(err))
	}

	close(s.stopCh)
	s.wg.Wait()

	// Wait for an inference that is still running before closing the model.
	// A predictor passed in with WithPredictor belongs to the caller.
	s.processMu.Lock()
	if s.ownsModel {
		if err := s.predictor.Close(); err != nil {
			s.logger.Warn(ctx, "closing model", logger.Error(err))
		}
		s.predictor, s.ownsModel = nil, false
	}
	s.processMu.Unlock()

	if err := s.store.Close(); err != nil {
		s.logger.Warn(ctx, "closing cache", logger.Error(err))
	}

	s.started = false
	s.logger.Info(ctx, "ecovision service stopped")
}

// Process classifies one captured sample. A sample whose preprocessed tensor
// was seen before returns the cached result without running the model.
// Sync failures never affect the returned result.
func (s *Service) Process(ctx context.Context, sample model.InputSample) (model.InferenceResult, error) {
	s.processMu.Lock()
	defer s.processMu.Unlock()

	if !s.running.Load() {
		return model.InferenceResult{}, ErrNotStarted
	}

	tensor, err := s.prep.Prepare(sample)
	if err != nil {
		metrics.RecordPreprocessError()
		return model.InferenceResult{}, err
	}
	fp := preprocess.Fingerprint(tensor)

	cached, ok, err := s.store.Get(ctx, fp)
	switch {
	case err != nil:
		s.logger.Warn(ctx, "cache lookup failed, running inference",
			logger.String("fingerprint", string(fp)), logger.Error(err))
	case ok:
		metrics.RecordCacheHit()
		metrics.RecordSampleProcessed()
		return cached, nil
	}
	metrics.RecordCacheMiss()

	out, err := s.predictor.Predict(ctx, tensor)
	if err != nil {
		return model.InferenceResult{}, err
	}

	r := s.decider.Decide(out)
	r.Fingerprint = fp
	r.Timestamp = s.now()
	r.SyncState = model.SyncLocal

	metrics.RecordSampleProcessed()
	metrics.RecordPrediction(r.Label)

	// The cache write precedes any sync read of this fingerprint.
	if _, err := s.store.Put(ctx, fp, r); err != nil {
		s.logger.Error(ctx, "caching result failed, sync skipped",
			logger.String("fingerprint", string(fp)), logger.Error(err))
		return r, nil
	}
	if err := s.coordinator.Schedule(ctx, fp); err != nil {
		s.logger.Debug(ctx, "sync not scheduled", logger.String("fingerprint", string(fp)), logger.Error(err))
	}

	s.logger.Debug(ctx, "sample classified",
		logger.String("fingerprint", string(fp)),
		logger.String("label", r.Label),
		logger.Float64("confidence", r.Confidence))
	return r, nil
}

// Status returns the cached result for fp with its sync bookkeeping.
func (s *Service) Status(ctx context.Context, fp model.Fingerprint) (syncer.Status, error) {
	c, err := s.syncer()
	if err != nil {
		return syncer.Status{}, err
	}
	return c.Status(ctx, fp)
}

// SetConnectivity forwards a connectivity event to the sync coordinator.
func (s *Service) SetConnectivity(ctx context.Context, online bool) error {
	c, err := s.syncer()
	if err != nil {
		return err
	}
	return c.SetConnectivity(ctx, online)
}

// Register creates a backend account.
func (s *Service) Register(ctx context.Context, reg backend.Registration) error {
	a, _, err := s.account()
	if err != nil {
		return err
	}
	return a.Register(ctx, reg)
}

// Login validates creds with the backend. On success uploads use the account
// and results left Local are queued again.
func (s *Service) Login(ctx context.Context, creds backend.Credentials) error {
	a, c, err := s.account()
	if err != nil {
		return err
	}
	if err := a.Login(ctx, creds); err != nil {
		return err
	}
	if err := c.Requeue(ctx); err != nil {
		s.logger.Warn(ctx, "requeue after login incomplete", logger.Error(err))
	}
	return nil
}

func (s *Service) account() (Accounts, *syncer.Coordinator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return nil, nil, ErrNotStarted
	}
	if s.accounts == nil {
		return nil, nil, ErrNoAccounts
	}
	return s.accounts, s.coordinator, nil
}

func (s *Service) syncer() (*syncer.Coordinator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return nil, ErrNotStarted
	}
	return s.coordinator, nil
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats(ctx context.Context) map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"started":     s.started,
		"workerCount": s.workerCount,
		"queueSize":   s.queueSize,
		"threshold":   s.threshold,
		"policy":      string(s.policy),
	}
	if !s.started {
		return stats
	}

	stats["accelerated"] = s.predictor.Accelerated()
	stats["online"] = s.coordinator.Online()
	stats["queueLength"] = s.jobs.Len(ctx)
	stats["syncInFlight"] = s.coordinator.InFlight()
	stats["activeWorkers"] = s.pool.Active()
	if n, err := s.store.Count(ctx); err == nil {
		stats["cachedResults"] = n
		metrics.UpdateCacheEntries(n)
	}
	return stats
}

// janitor evicts results older than the cache TTL on every sweep.
func (s *Service) janitor(ctx context.Context, stop <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Service) sweep(ctx context.Context) {
	n, err := s.store.EvictOlderThan(ctx, s.cacheTTL)
	if err != nil {
		s.logger.Warn(ctx, "cache sweep failed", logger.Error(err))
		return
	}
	if n > 0 {
		s.logger.Info(ctx, "evicted expired results", logger.Int("count", n))
	}
}
