package repository

import (
	"context"
	"sync"
	"time"

	"github.com/okian/ecovision/internal/domain/model"
	"github.com/okian/ecovision/pkg/metrics"
)

// MemoryStore is an in-process Store: a map for lookups plus a treap time
// index for oldest-first eviction.
type MemoryStore struct {
	settings

	mu    sync.RWMutex
	root  *node
	byFP  map[model.Fingerprint]model.InferenceResult
	locks *keyLocks
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	s := &MemoryStore{
		settings: defaultSettings(),
		byFP:     make(map[model.Fingerprint]model.InferenceResult),
		locks:    newKeyLocks(),
	}
	for _, opt := range opts {
		opt(&s.settings)
	}
	return s
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, fp model.Fingerprint) (model.InferenceResult, bool, error) {
	s.mu.RLock()
	r, ok := s.byFP[fp]
	s.mu.RUnlock()
	if !ok {
		return model.InferenceResult{}, false, nil
	}
	return r.Clone(), true, nil
}

// Put implements Store.
func (s *MemoryStore) Put(_ context.Context, fp model.Fingerprint, r model.InferenceResult) (bool, error) {
	r, err := prepare(fp, r)
	if err != nil {
		return false, err
	}

	unlock := s.locks.lock(fp)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.byFP[fp]; ok {
		if !shouldReplace(existing, r) {
			return false, nil
		}
		s.root = deleteNode(s.root, keyOf(existing))
	}
	s.byFP[fp] = r
	s.root = insert(s.root, keyOf(r))
	metrics.UpdateCacheEntries(len(s.byFP))
	return true, nil
}

// Update implements Store.
func (s *MemoryStore) Update(_ context.Context, fp model.Fingerprint, fn UpdateFunc) (model.InferenceResult, error) {
	unlock := s.locks.lock(fp)
	defer unlock()

	s.mu.RLock()
	existing, ok := s.byFP[fp]
	s.mu.RUnlock()
	if !ok {
		return model.InferenceResult{}, ErrNotFound
	}

	next := existing.Clone()
	if err := fn(&next); err != nil {
		return existing.Clone(), err
	}
	next.Fingerprint = fp

	s.mu.Lock()
	s.root = deleteNode(s.root, keyOf(existing))
	s.byFP[fp] = next
	s.root = insert(s.root, keyOf(next))
	s.mu.Unlock()
	return next.Clone(), nil
}

// EvictOlderThan implements Store.
func (s *MemoryStore) EvictOlderThan(_ context.Context, age time.Duration) (int, error) {
	cutoff := s.now().Add(-age).UnixNano()

	s.mu.RLock()
	var candidates []timeKey
	collectBefore(s.root, cutoff, &candidates)
	s.mu.RUnlock()

	evicted := 0
	for _, k := range candidates {
		if s.evict(k.fp, cutoff) {
			evicted++
		}
	}

	s.mu.RLock()
	metrics.UpdateCacheEntries(len(s.byFP))
	s.mu.RUnlock()
	metrics.RecordCacheEvictions(evicted)
	return evicted, nil
}

// evict removes fp if it is still older than cutoff and not mid-sync.
func (s *MemoryStore) evict(fp model.Fingerprint, cutoff int64) bool {
	unlock := s.locks.lock(fp)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byFP[fp]
	if !ok || r.Timestamp.UnixNano() >= cutoff || r.SyncState == model.SyncPending {
		return false
	}
	delete(s.byFP, fp)
	s.root = deleteNode(s.root, keyOf(r))
	return true
}

// List implements Store.
func (s *MemoryStore) List(_ context.Context, state model.SyncState) ([]model.InferenceResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]timeKey, 0, len(s.byFP))
	collectAll(s.root, &keys)

	out := make([]model.InferenceResult, 0)
	for _, k := range keys {
		if r := s.byFP[k.fp]; r.SyncState == state {
			out = append(out, r.Clone())
		}
	}
	return out, nil
}

// Count implements Store.
func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byFP), nil
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }

func keyOf(r model.InferenceResult) timeKey {
	return timeKey{at: r.Timestamp.UnixNano(), fp: r.Fingerprint}
}
