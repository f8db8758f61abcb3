// Package syncer reconciles locally cached inference results with the backend.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/ecovision/internal/adapters/backend"
	"github.com/okian/ecovision/internal/adapters/mq/queue"
	"github.com/okian/ecovision/internal/adapters/repository"
	"github.com/okian/ecovision/internal/domain/dedupe"
	"github.com/okian/ecovision/internal/domain/model"
	"github.com/okian/ecovision/pkg/logger"
	"github.com/okian/ecovision/pkg/metrics"
)

// Job reasons.
const (
	ReasonProcessed = "processed"
	ReasonReconnect = "reconnect"
)

// Uploader sends a result to the backend and returns its authoritative answer.
// Retries happen inside Upload.
type Uploader interface {
	Upload(ctx context.Context, r model.InferenceResult) (model.Authoritative, error)
}

// Authenticator re-validates the backend account after an upload is rejected
// as unauthorized.
type Authenticator interface {
	Revalidate(ctx context.Context) error
}

// Enqueuer accepts sync jobs.
type Enqueuer interface {
	Enqueue(ctx context.Context, j queue.Job) error
}

// Status is the sync view of one fingerprint.
type Status struct {
	Result    model.InferenceResult `json:"result"`
	Record    *model.SyncRecord     `json:"record,omitempty"`
	LastError string                `json:"last_error,omitempty"`
	InFlight  bool                  `json:"in_flight"`
}

// errSkip aborts the Local -> Pending update when the entry is not Local.
var errSkip = errors.New("entry not local")

// Coordinator owns every SyncState change after a result is created.
type Coordinator struct {
	store    repository.Store
	jobs     Enqueuer
	uploader Uploader
	auth     Authenticator
	inflight dedupe.Tracker
	policy   Policy
	online   atomic.Bool
	now      func() time.Time

	mu      sync.RWMutex
	records map[model.Fingerprint]model.SyncRecord
	errs    map[model.Fingerprint]error

	logger logger.Logger
}

// New creates a coordinator. It starts online unless WithOnline(false) is given.
func New(store repository.Store, jobs Enqueuer, uploader Uploader, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:    store,
		jobs:     jobs,
		uploader: uploader,
		inflight: dedupe.NewInMemoryTracker(),
		policy:   PolicyRemoteWins,
		now:      time.Now,
		records:  make(map[model.Fingerprint]model.SyncRecord),
		errs:     make(map[model.Fingerprint]error),
		logger:   logger.Get().Named("syncer"),
	}
	c.online.Store(true)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Online reports the current connectivity.
func (c *Coordinator) Online() bool { return c.online.Load() }

// InFlight returns the number of attempts in progress.
func (c *Coordinator) InFlight() int64 { return c.inflight.Size() }

// Schedule asks for fp to be synced. Offline it does nothing and the entry
// stays Local until connectivity returns.
func (c *Coordinator) Schedule(ctx context.Context, fp model.Fingerprint) error {
	if !c.online.Load() {
		c.logger.Debug(ctx, "offline, sync deferred", logger.String("fingerprint", string(fp)))
		return nil
	}
	return c.enqueue(ctx, fp, ReasonProcessed)
}

// SetConnectivity records a connectivity change. Going from offline to online
// enqueues every Local entry.
func (c *Coordinator) SetConnectivity(ctx context.Context, online bool) error {
	was := c.online.Swap(online)
	if was || !online {
		if was != online {
			c.logger.Info(ctx, "connectivity changed", logger.Bool("online", online))
		}
		return nil
	}

	c.logger.Info(ctx, "connectivity restored")
	return c.requeue(ctx)
}

// Requeue enqueues every Local entry when online. It is a no-op offline.
func (c *Coordinator) Requeue(ctx context.Context) error {
	if !c.online.Load() {
		return nil
	}
	return c.requeue(ctx)
}

func (c *Coordinator) requeue(ctx context.Context) error {
	local, err := c.store.List(ctx, model.SyncLocal)
	if err != nil {
		return fmt.Errorf("list local results: %w", err)
	}

	var failed int
	for i := range local {
		if err := c.enqueue(ctx, local[i].Fingerprint, ReasonReconnect); err != nil {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("enqueue %d of %d local results: %w", failed, len(local), queue.ErrFull)
	}
	if len(local) > 0 {
		c.logger.Info(ctx, "local results queued for sync", logger.Int("count", len(local)))
	}
	return nil
}

func (c *Coordinator) enqueue(ctx context.Context, fp model.Fingerprint, reason string) error {
	err := c.jobs.Enqueue(ctx, queue.Job{Fingerprint: fp, Reason: reason})
	if err != nil {
		c.logger.Warn(ctx, "sync job not queued",
			logger.String("fingerprint", string(fp)),
			logger.String("reason", reason),
			logger.Error(err))
	}
	return err
}

// Status returns the cached result for fp with its sync bookkeeping.
func (c *Coordinator) Status(ctx context.Context, fp model.Fingerprint) (Status, error) {
	r, ok, err := c.store.Get(ctx, fp)
	if err != nil {
		return Status{}, err
	}
	if !ok {
		return Status{}, repository.ErrNotFound
	}

	st := Status{Result: r, InFlight: c.inflight.Held(ctx, string(fp))}
	c.mu.RLock()
	if rec, ok := c.records[fp]; ok {
		st.Record = &rec
	}
	if e := c.errs[fp]; e != nil {
		st.LastError = e.Error()
	}
	c.mu.RUnlock()
	return st, nil
}

// Handle runs one sync attempt for the job's fingerprint. A job whose
// fingerprint already has an attempt in flight is dropped.
func (c *Coordinator) Handle(ctx context.Context, j queue.Job) error {
	key := string(j.Fingerprint)
	if !c.inflight.Claim(ctx, key) {
		c.logger.Debug(ctx, "sync already in flight", logger.String("fingerprint", key))
		return nil
	}
	metrics.UpdateSyncInFlight(c.inflight.Size())
	defer func() {
		c.inflight.Release(ctx, key)
		metrics.UpdateSyncInFlight(c.inflight.Size())
	}()

	if !c.online.Load() {
		return nil
	}

	local, err := c.store.Update(ctx, j.Fingerprint, func(r *model.InferenceResult) error {
		if r.SyncState != model.SyncLocal {
			return errSkip
		}
		return r.Transition(model.SyncPending)
	})
	switch {
	case errors.Is(err, errSkip), errors.Is(err, repository.ErrNotFound):
		return nil
	case err != nil:
		return fmt.Errorf("mark pending: %w", err)
	}

	start := time.Now()
	remote, err := c.uploader.Upload(ctx, local)
	if errors.Is(err, backend.ErrUnauthorized) && c.auth != nil && ctx.Err() == nil {
		remote, err = c.reauthenticate(ctx, local, err)
	}
	metrics.RecordSyncLatency(float64(time.Since(start).Microseconds()) / 1000)

	// A response that lands after cancellation is discarded.
	if ctx.Err() != nil {
		c.rollback(ctx, j.Fingerprint, metrics.SyncOutcomeCancelled, fmt.Errorf("%w: %w", ErrCancelled, ctx.Err()))
		return ctx.Err()
	}
	if err != nil {
		outcome := metrics.SyncOutcomeRejected
		var se *backend.SyncError
		if errors.As(err, &se) && se.Retryable() {
			outcome = metrics.SyncOutcomeExhausted
		}
		c.rollback(ctx, j.Fingerprint, outcome, err)
		return err
	}

	return c.settle(ctx, j.Fingerprint, remote)
}

// reauthenticate re-validates the account and, if that succeeds, uploads once
// more. A failed re-validation keeps the original rejection.
func (c *Coordinator) reauthenticate(ctx context.Context, local model.InferenceResult, cause error) (model.Authoritative, error) {
	if err := c.auth.Revalidate(ctx); err != nil {
		c.logger.Warn(ctx, "credential re-validation failed",
			logger.String("fingerprint", string(local.Fingerprint)),
			logger.Error(err))
		return model.Authoritative{}, cause
	}
	c.logger.Info(ctx, "credentials re-validated, retrying upload",
		logger.String("fingerprint", string(local.Fingerprint)))
	return c.uploader.Upload(ctx, local)
}

func (c *Coordinator) settle(ctx context.Context, fp model.Fingerprint, remote model.Authoritative) error {
	var (
		resolution model.Resolution
		before     model.InferenceResult
	)
	after, err := c.store.Update(ctx, fp, func(r *model.InferenceResult) error {
		before = r.Clone()
		res, err := c.policy.resolve(r, remote)
		resolution = res
		return err
	})
	if err != nil {
		// Still Pending in the cache; put it back so a later event retries.
		c.rollback(ctx, fp, metrics.SyncOutcomeRejected, fmt.Errorf("apply authoritative result: %w", err))
		return err
	}

	rec := model.SyncRecord{
		Fingerprint: fp,
		Local:       before,
		Remote:      &remote,
		Resolution:  resolution,
		CompletedAt: c.now(),
	}
	c.mu.Lock()
	c.records[fp] = rec
	delete(c.errs, fp)
	c.mu.Unlock()

	if after.SyncState == model.SyncConflict {
		metrics.RecordSyncConflict()
		metrics.RecordSyncAttempt(metrics.SyncOutcomeConflict)
		c.logger.Info(ctx, "sync conflict",
			logger.String("fingerprint", string(fp)),
			logger.String("local", before.Label),
			logger.String("remote", remote.Label),
			logger.String("resolution", string(resolution)))
		return nil
	}
	metrics.RecordSyncAttempt(metrics.SyncOutcomeSynced)
	c.logger.Debug(ctx, "synced", logger.String("fingerprint", string(fp)))
	return nil
}

// rollback returns a Pending entry to Local and remembers why. It uses a
// detached context so that cancellation cannot leave the entry Pending.
func (c *Coordinator) rollback(ctx context.Context, fp model.Fingerprint, outcome string, cause error) {
	metrics.RecordSyncAttempt(outcome)

	c.mu.Lock()
	c.errs[fp] = cause
	c.mu.Unlock()

	_, err := c.store.Update(context.WithoutCancel(ctx), fp, func(r *model.InferenceResult) error {
		if r.SyncState != model.SyncPending {
			return errSkip
		}
		return r.Transition(model.SyncLocal)
	})
	if err != nil && !errors.Is(err, errSkip) {
		c.logger.Error(ctx, "rollback to local failed",
			logger.String("fingerprint", string(fp)), logger.Error(err))
	}
	c.logger.Warn(ctx, "sync attempt abandoned",
		logger.String("fingerprint", string(fp)),
		logger.String("outcome", outcome),
		logger.Error(cause))
}
