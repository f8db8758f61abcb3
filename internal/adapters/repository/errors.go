package repository

import "errors"

// Sentinel kinds for cache errors.
var (
	ErrNotFound            = errors.New("result not found")
	ErrCache               = errors.New("result cache failure")
	ErrEmptyFingerprint    = errors.New("empty fingerprint")
	ErrFingerprintMismatch = errors.New("result fingerprint does not match key")
)
