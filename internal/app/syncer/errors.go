package syncer

import "errors"

var (
	// ErrUnknownPolicy is returned when a conflict policy name is not recognised.
	ErrUnknownPolicy = errors.New("unknown conflict policy")
	// ErrCancelled marks an attempt abandoned because its context ended.
	ErrCancelled = errors.New("sync attempt cancelled")
)
