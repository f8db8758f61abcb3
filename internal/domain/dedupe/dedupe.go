// Package dedupe tracks in-flight work per key so that at most one attempt
// for a key runs at any time.
package dedupe

import (
	"context"
	"sync"
	"sync/atomic"
)

// Tracker records claimed keys.
type Tracker interface {
	// Claim atomically claims key. It returns false if the key is already
	// claimed or the tracker is at capacity.
	Claim(ctx context.Context, key string) bool

	// Release gives up a claim. Releasing an unclaimed key is a no-op.
	Release(ctx context.Context, key string)

	// Held reports whether key is currently claimed.
	Held(ctx context.Context, key string) bool

	Size() int64
}

// inMemoryTracker implements Tracker with a mutex-guarded set.
type inMemoryTracker struct {
	mu      sync.Mutex
	claimed map[string]struct{}
	maxSize int // 0 or negative = unbounded
	size    atomic.Int64
}

// NewInMemoryTracker creates a new tracker with configuration options.
func NewInMemoryTracker(opts ...Option) Tracker {
	t := &inMemoryTracker{
		claimed: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Claim atomically claims key.
func (t *inMemoryTracker) Claim(_ context.Context, key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, held := t.claimed[key]; held {
		return false
	}
	if t.maxSize > 0 && len(t.claimed) >= t.maxSize {
		return false
	}
	t.claimed[key] = struct{}{}
	t.size.Add(1)
	return true
}

// Release gives up a claim.
func (t *inMemoryTracker) Release(_ context.Context, key string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, held := t.claimed[key]; held {
		delete(t.claimed, key)
		t.size.Add(-1)
	}
}

// Held reports whether key is claimed.
func (t *inMemoryTracker) Held(_ context.Context, key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, held := t.claimed[key]
	return held
}

// Size returns the number of outstanding claims.
func (t *inMemoryTracker) Size() int64 {
	return t.size.Load()
}
