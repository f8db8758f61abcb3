package syncer

import (
	"time"

	"github.com/okian/ecovision/internal/domain/dedupe"
	"github.com/okian/ecovision/pkg/logger"
)

// Option applies a configuration option to the Coordinator.
type Option func(*Coordinator)

// WithPolicy sets the conflict policy. Defaults to PolicyRemoteWins.
func WithPolicy(p Policy) Option {
	return func(c *Coordinator) {
		if p != "" {
			c.policy = p
		}
	}
}

// WithOnline sets the initial connectivity.
func WithOnline(online bool) Option {
	return func(c *Coordinator) {
		c.online.Store(online)
	}
}

// WithAuthenticator enables one credential re-validation and upload retry
// when the backend answers unauthorized.
func WithAuthenticator(a Authenticator) Option {
	return func(c *Coordinator) {
		if a != nil {
			c.auth = a
		}
	}
}

// WithTracker replaces the in-flight tracker.
func WithTracker(t dedupe.Tracker) Option {
	return func(c *Coordinator) {
		if t != nil {
			c.inflight = t
		}
	}
}

// WithClock overrides time.Now for SyncRecord timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets a custom logger for the coordinator.
func WithLogger(l logger.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}
