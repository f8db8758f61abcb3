package model

import (
	"fmt"
	"strings"
)

// Layout is the memory order of an image tensor.
type Layout string

const (
	LayoutNHWC Layout = "nhwc" // TFLite default
	LayoutNCHW Layout = "nchw" // common for ONNX exports
)

// ElementType is the element type the model consumes or produces.
type ElementType string

const (
	ElementFloat32 ElementType = "float32"
	ElementUint8   ElementType = "uint8"
)

// Normalization maps 8-bit pixel values into the model's input range.
type Normalization string

const (
	NormalizeZeroToOne     Normalization = "zero_to_one"     // v/255
	NormalizeMinusOneToOne Normalization = "minus_one_to_one" // v/127.5-1
	NormalizeNone          Normalization = "none"            // 0..255
)

// OutputKind tells the decision stage how to read the output vector.
type OutputKind string

const (
	OutputProbabilities OutputKind = "probabilities"
	OutputLogits        OutputKind = "logits"
)

// Contract is the fixed tensor I/O agreement between preprocessing, the model
// artifact and postprocessing. A model whose declared shapes disagree with
// the contract is rejected at load time.
type Contract struct {
	InputSize     int
	Channels      int
	Layout        Layout
	InputType     ElementType
	Normalization Normalization
	OutputKind    OutputKind
	Labels        []string
}

// DefaultLabels is the waste vocabulary of the bundled classifier.
var DefaultLabels = []string{"plastic", "paper", "glass", "metal", "cardboard", "trash"}

// DefaultContract is a 224x224 RGB float classifier over DefaultLabels.
func DefaultContract() Contract {
	return Contract{
		InputSize:     224,
		Channels:      3,
		Layout:        LayoutNHWC,
		InputType:     ElementFloat32,
		Normalization: NormalizeZeroToOne,
		OutputKind:    OutputProbabilities,
		Labels:        append([]string(nil), DefaultLabels...),
	}
}

// InputShape returns the batch-1 input shape for the contract's layout.
func (c Contract) InputShape() []int64 {
	s, ch := int64(c.InputSize), int64(c.Channels)
	if c.Layout == LayoutNCHW {
		return []int64{1, ch, s, s}
	}
	return []int64{1, s, s, ch}
}

// OutputShape returns the expected [1, labels] output shape.
func (c Contract) OutputShape() []int64 {
	return []int64{1, int64(len(c.Labels))}
}

// Validate checks the contract for internal consistency.
func (c Contract) Validate() error {
	switch {
	case c.InputSize <= 0:
		return fmt.Errorf("input size must be positive, got %d", c.InputSize)
	case c.Channels != 3:
		return fmt.Errorf("only 3-channel RGB input is supported, got %d", c.Channels)
	case c.Layout != LayoutNHWC && c.Layout != LayoutNCHW:
		return fmt.Errorf("unknown layout %q", c.Layout)
	case c.InputType != ElementFloat32 && c.InputType != ElementUint8:
		return fmt.Errorf("unknown input type %q", c.InputType)
	case c.OutputKind != OutputProbabilities && c.OutputKind != OutputLogits:
		return fmt.Errorf("unknown output kind %q", c.OutputKind)
	case len(c.Labels) == 0:
		return fmt.Errorf("label vocabulary is empty")
	}
	seen := make(map[string]struct{}, len(c.Labels))
	for _, l := range c.Labels {
		if strings.TrimSpace(l) == "" {
			return fmt.Errorf("empty label in vocabulary")
		}
		if strings.EqualFold(l, UnknownLabel) {
			return fmt.Errorf("label %q is reserved", l)
		}
		if _, dup := seen[l]; dup {
			return fmt.Errorf("duplicate label %q", l)
		}
		seen[l] = struct{}{}
	}
	return nil
}
