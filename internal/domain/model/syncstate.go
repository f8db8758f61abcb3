package model

import (
	"errors"
	"fmt"
)

// SyncState is the per-fingerprint reconciliation state.
type SyncState string

const (
	SyncLocal    SyncState = "local"
	SyncPending  SyncState = "pending"
	SyncSynced   SyncState = "synced"
	SyncConflict SyncState = "conflict"
)

// ErrIllegalTransition is returned by Transition for edges the state machine forbids.
var ErrIllegalTransition = errors.New("illegal sync state transition")

// Terminal reports whether no further transition is allowed.
func (s SyncState) Terminal() bool {
	return s == SyncSynced || s == SyncConflict
}

// Valid reports whether s is one of the known states.
func (s SyncState) Valid() bool {
	switch s {
	case SyncLocal, SyncPending, SyncSynced, SyncConflict:
		return true
	}
	return false
}

// CanTransition is the single definition of the sync state machine.
//
//	Local   -> Pending
//	Pending -> Synced | Conflict
//	Pending -> Local   (attempt abandoned; the upload never landed)
//
// Synced and Conflict are terminal.
func CanTransition(from, to SyncState) bool {
	switch from {
	case SyncLocal:
		return to == SyncPending
	case SyncPending:
		return to == SyncSynced || to == SyncConflict || to == SyncLocal
	default:
		return false
	}
}

// Transition moves r to state to, or returns ErrIllegalTransition and leaves r untouched.
func (r *InferenceResult) Transition(to SyncState) error {
	if !CanTransition(r.SyncState, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, r.SyncState, to)
	}
	r.SyncState = to
	return nil
}
