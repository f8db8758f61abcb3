// Package decision maps raw model output to a ranked, thresholded result.
package decision

import (
	"sort"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"

	"github.com/okian/ecovision/internal/domain/model"
)

// DefaultThreshold is the confidence below which the top label is reported as Unknown.
const DefaultThreshold = 0.5

// defaultTopK bounds the ranked list attached to each result.
const defaultTopK = 3

// Option applies a configuration option to the Decider.
type Option func(*Decider)

// WithThreshold sets the confidence threshold. Values outside [0,1] are ignored.
func WithThreshold(threshold float64) Option {
	return func(d *Decider) {
		if threshold >= 0 && threshold <= 1 {
			d.threshold = threshold
		}
	}
}

// WithTopK sets how many ranked labels are attached to a result.
func WithTopK(k int) Option {
	return func(d *Decider) {
		if k > 0 {
			d.topK = k
		}
	}
}

// Decider applies the confidence policy for one label vocabulary.
type Decider struct {
	labels     []string
	outputKind model.OutputKind
	threshold  float64
	topK       int
}

// New creates a Decider for the contract's labels and output kind.
func New(contract model.Contract, opts ...Option) (*Decider, error) {
	if len(contract.Labels) == 0 {
		return nil, errors.New("decision: empty label vocabulary")
	}
	d := &Decider{
		labels:     append([]string(nil), contract.Labels...),
		outputKind: contract.OutputKind,
		threshold:  DefaultThreshold,
		topK:       defaultTopK,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Threshold returns the configured threshold.
func (d *Decider) Threshold() float64 { return d.threshold }

// Decide always returns a result. Outputs shorter than the vocabulary score
// the missing labels as zero; extra values are ignored.
func (d *Decider) Decide(out model.Tensor) model.InferenceResult {
	scores := d.scores(out.Data)

	ranked := make([]model.LabelScore, len(d.labels))
	for i, l := range d.labels {
		ranked[i] = model.LabelScore{Label: l, Score: float64(scores[i])}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Label < ranked[j].Label
	})

	top := ranked[0]
	label := top.Label
	if top.Score < d.threshold {
		label = model.UnknownLabel
	}
	if len(ranked) > d.topK {
		ranked = ranked[:d.topK]
	}

	return model.InferenceResult{
		Label:      label,
		Confidence: top.Score,
		Ranked:     ranked,
		Guidance:   GuidanceFor(label),
		SyncState:  model.SyncLocal,
	}
}

func (d *Decider) scores(raw []float32) []float32 {
	s := make([]float32, len(d.labels))
	copy(s, raw)
	for i, v := range s {
		switch {
		case math32.IsNaN(v):
			s[i] = 0
		case math32.IsInf(v, 1):
			s[i] = math32.MaxFloat32
		case math32.IsInf(v, -1):
			s[i] = -math32.MaxFloat32
		}
	}
	if d.outputKind == model.OutputLogits {
		return softmax(s)
	}
	for i, v := range s {
		s[i] = clamp01(v)
	}
	return s
}

func softmax(x []float32) []float32 {
	maxV := x[0]
	for _, v := range x[1:] {
		if v > maxV {
			maxV = v
		}
	}
	var sum float32
	out := make([]float32, len(x))
	for i, v := range x {
		out[i] = math32.Exp(v - maxV)
		sum += out[i]
	}
	// degenerate output scores every label zero, which decides Unknown
	if sum <= 0 || math32.IsInf(sum, 0) || math32.IsNaN(sum) {
		return make([]float32, len(x))
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

func clamp01(v float32) float32 {
	return math32.Max(0, math32.Min(1, v))
}
