// Package repository stores inference results keyed by sample fingerprint.
package repository

import (
	"context"
	"time"

	"github.com/okian/ecovision/internal/domain/model"
)

// UpdateFunc mutates a stored result in place. Returning an error aborts the
// update and leaves the entry untouched.
type UpdateFunc func(r *model.InferenceResult) error

// Store is the local result cache. Every mutation of one fingerprint is
// serialized; Update gives callers an atomic read-modify-write.
type Store interface {
	// Get returns the result for fp and whether it exists.
	Get(ctx context.Context, fp model.Fingerprint) (model.InferenceResult, bool, error)

	// Put stores r under fp. It returns false when nothing changed: the
	// content is identical, or the entry has already left Local and r is a
	// fresh Local result.
	Put(ctx context.Context, fp model.Fingerprint, r model.InferenceResult) (bool, error)

	// Update applies fn to the entry for fp under its lock and returns the
	// stored value. Returns ErrNotFound if fp is unknown.
	Update(ctx context.Context, fp model.Fingerprint, fn UpdateFunc) (model.InferenceResult, error)

	// EvictOlderThan removes entries whose timestamp is older than age,
	// oldest first, and returns how many were removed. Entries with a sync
	// attempt in progress are kept.
	EvictOlderThan(ctx context.Context, age time.Duration) (int, error)

	// List returns entries in the given sync state, oldest first.
	List(ctx context.Context, state model.SyncState) ([]model.InferenceResult, error)

	// Count returns the number of cached results.
	Count(ctx context.Context) (int, error)

	Close() error
}

// shouldReplace decides whether incoming may overwrite existing.
func shouldReplace(existing, incoming model.InferenceResult) bool {
	if existing.SyncState != model.SyncLocal && incoming.SyncState == model.SyncLocal {
		return false
	}
	return !existing.SameContent(incoming)
}

func prepare(fp model.Fingerprint, r model.InferenceResult) (model.InferenceResult, error) {
	if fp == "" {
		return r, ErrEmptyFingerprint
	}
	if r.Fingerprint != "" && r.Fingerprint != fp {
		return r, ErrFingerprintMismatch
	}
	r = r.Clone()
	r.Fingerprint = fp
	if r.SyncState == "" {
		r.SyncState = model.SyncLocal
	}
	return r, nil
}
