package repository

import "time"

// Option applies a configuration option to a store.
type Option func(*settings)

type settings struct {
	now    func() time.Time
	prefix string
}

func defaultSettings() settings {
	return settings{
		now:    time.Now,
		prefix: "ecovision",
	}
}

// WithClock overrides the clock used to compute eviction cutoffs.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

// WithKeyPrefix sets the key namespace used by the Redis store.
func WithKeyPrefix(prefix string) Option {
	return func(s *settings) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}
