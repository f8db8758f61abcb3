package runtime

import (
	"github.com/okian/ecovision/internal/domain/model"
	"github.com/okian/ecovision/pkg/logger"
)

// Options configures Load.
type Options struct {
	// ModelPath is a .onnx or .tflite artifact.
	ModelPath string
	// LibraryPath points at the ONNX Runtime shared library. Empty uses the
	// runtime's default search.
	LibraryPath string
	Contract    model.Contract
	// UseGPU requests the accelerated backend when the artifact supports it.
	UseGPU bool
	// Threads is the intra-op thread count; 0 lets the runtime decide.
	Threads int
	Logger  logger.Logger
}

// Option applies a configuration option to the Adapter.
type Option func(*Adapter)

// WithLogger sets the logger used for fallback and lifecycle messages.
func WithLogger(l logger.Logger) Option {
	return func(a *Adapter) {
		if l != nil {
			a.logger = l
		}
	}
}
