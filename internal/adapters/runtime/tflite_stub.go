//go:build notflite

package runtime

import (
	"github.com/pkg/errors"

	"github.com/okian/ecovision/internal/domain/model"
	"github.com/okian/ecovision/pkg/logger"
)

// Builds tagged notflite carry no TensorFlow Lite library; only ONNX artifacts load.
func newTFLiteBackend(path string, _ model.Contract, _ int, _ logger.Logger) (Backend, error) {
	return nil, errors.Errorf("tflite support not compiled in, cannot load %q", path)
}
