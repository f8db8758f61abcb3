package model

import (
	"math"
	"time"
)

// UnknownLabel is reported when the top score is below the confidence threshold.
const UnknownLabel = "Unknown"

// confidenceEpsilon is the tolerance used when comparing confidences from
// different sources (local float32 vs. backend JSON float64).
const confidenceEpsilon = 1e-6

// Fingerprint is the hex SHA-256 of a preprocessed tensor.
type Fingerprint string

// LabelScore is one entry of the ranked label set.
type LabelScore struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Guidance tells the user what to do with the classified item.
type Guidance struct {
	Bin    string `json:"bin"`
	Advice string `json:"advice"`
}

// InferenceResult is the outcome of classifying one sample.
// Only the sync coordinator changes SyncState after creation.
type InferenceResult struct {
	Fingerprint Fingerprint  `json:"fingerprint"`
	Label       string       `json:"label"`
	Confidence  float64      `json:"confidence"`
	Ranked      []LabelScore `json:"ranked,omitempty"`
	Guidance    Guidance     `json:"guidance"`
	Timestamp   time.Time    `json:"timestamp"`
	SyncState   SyncState    `json:"sync_state"`
	Backend     string       `json:"backend,omitempty"`
}

// SameContent reports whether two results carry the same classification and state.
// Timestamps are ignored so that re-processing an unchanged input compares equal.
func (r InferenceResult) SameContent(o InferenceResult) bool {
	if r.Fingerprint != o.Fingerprint || r.Label != o.Label || r.SyncState != o.SyncState {
		return false
	}
	if !SameConfidence(r.Confidence, o.Confidence) || len(r.Ranked) != len(o.Ranked) {
		return false
	}
	for i := range r.Ranked {
		if r.Ranked[i].Label != o.Ranked[i].Label || !SameConfidence(r.Ranked[i].Score, o.Ranked[i].Score) {
			return false
		}
	}
	return true
}

// SameConfidence compares confidences with a small tolerance.
func SameConfidence(a, b float64) bool {
	return math.Abs(a-b) <= confidenceEpsilon
}

// Clone returns a copy that shares no slices with r.
func (r InferenceResult) Clone() InferenceResult {
	c := r
	if r.Ranked != nil {
		c.Ranked = append([]LabelScore(nil), r.Ranked...)
	}
	return c
}

// Authoritative is the backend's accepted classification for a fingerprint.
type Authoritative struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Matches reports whether the authoritative result agrees with r.
func (a Authoritative) Matches(r InferenceResult) bool {
	return a.Label == r.Label && SameConfidence(a.Confidence, r.Confidence)
}

// Resolution records how a sync attempt settled.
type Resolution string

const (
	ResolutionLocalWins  Resolution = "local_wins"
	ResolutionRemoteWins Resolution = "remote_wins"
	ResolutionMerged     Resolution = "merged"
)

// SyncRecord is created when a sync attempt completes. It is terminal once
// Resolution is set.
type SyncRecord struct {
	Fingerprint Fingerprint     `json:"fingerprint"`
	Local       InferenceResult `json:"local"`
	Remote      *Authoritative  `json:"remote,omitempty"`
	Resolution  Resolution      `json:"resolution"`
	CompletedAt time.Time       `json:"completed_at"`
}
