package syncer

import (
	"fmt"

	"github.com/okian/ecovision/internal/domain/decision"
	"github.com/okian/ecovision/internal/domain/model"
)

// Policy decides what a conflicting entry keeps.
type Policy string

const (
	PolicyRemoteWins Policy = "remote_wins"
	PolicyLocalWins  Policy = "local_wins"
	PolicyMerged     Policy = "merged"
)

// ParsePolicy returns the policy named s.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case PolicyRemoteWins, PolicyLocalWins, PolicyMerged:
		return p, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
}

// resolve applies the authoritative answer to r, which must be Pending, and
// returns the resolution that was recorded.
func (p Policy) resolve(r *model.InferenceResult, remote model.Authoritative) (model.Resolution, error) {
	if remote.Matches(*r) {
		return model.ResolutionLocalWins, r.Transition(model.SyncSynced)
	}
	if err := r.Transition(model.SyncConflict); err != nil {
		return "", err
	}

	switch p {
	case PolicyLocalWins:
		return model.ResolutionLocalWins, nil
	case PolicyMerged:
		if remote.Confidence > r.Confidence {
			adopt(r, remote)
		}
		return model.ResolutionMerged, nil
	default:
		adopt(r, remote)
		return model.ResolutionRemoteWins, nil
	}
}

func adopt(r *model.InferenceResult, remote model.Authoritative) {
	r.Label = remote.Label
	r.Confidence = remote.Confidence
	r.Guidance = decision.GuidanceFor(remote.Label)
}
