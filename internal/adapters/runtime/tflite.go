//go:build !notflite

package runtime

import (
	"context"

	"github.com/mattn/go-tflite"
	"github.com/pkg/errors"

	"github.com/okian/ecovision/internal/domain/model"
	"github.com/okian/ecovision/pkg/logger"
)

// tfliteBackend runs a TensorFlow Lite flatbuffer on the CPU. The interpreter
// is not re-entrant; the Adapter serializes calls.
type tfliteBackend struct {
	model      *tflite.Model
	options    *tflite.InterpreterOptions
	interp     *tflite.Interpreter
	inputType  tflite.TensorType
	outputType tflite.TensorType
}

func newTFLiteBackend(path string, contract model.Contract, threads int, log logger.Logger) (*tfliteBackend, error) {
	m := tflite.NewModelFromFile(path)
	if m == nil {
		return nil, errors.Errorf("cannot read tflite model %q", path)
	}

	options := tflite.NewInterpreterOptions()
	if threads > 0 {
		options.SetNumThread(threads)
	}
	options.SetErrorReporter(func(msg string, _ interface{}) {
		log.Warn(context.Background(), "tflite", logger.String("message", msg))
	}, nil)

	b := &tfliteBackend{model: m, options: options}
	b.interp = tflite.NewInterpreter(m, options)
	if b.interp == nil {
		_ = b.Close()
		return nil, errors.New("cannot create tflite interpreter")
	}
	if status := b.interp.AllocateTensors(); status != tflite.OK {
		_ = b.Close()
		return nil, errors.Errorf("allocate tensors: status %v", status)
	}
	if b.interp.GetInputTensorCount() != 1 || b.interp.GetOutputTensorCount() != 1 {
		_ = b.Close()
		return nil, errors.Wrapf(ErrShapeMismatch, "model has %d inputs and %d outputs, want 1 and 1",
			b.interp.GetInputTensorCount(), b.interp.GetOutputTensorCount())
	}

	input := b.interp.GetInputTensor(0)
	output := b.interp.GetOutputTensor(0)
	if err := checkShape(tensorShape(input), contract.InputShape()); err != nil {
		_ = b.Close()
		return nil, errors.Wrapf(err, "input %q", input.Name())
	}
	if err := checkShape(tensorShape(output), contract.OutputShape()); err != nil {
		_ = b.Close()
		return nil, errors.Wrapf(err, "output %q", output.Name())
	}

	b.inputType = input.Type()
	b.outputType = output.Type()
	switch {
	case contract.InputType == model.ElementFloat32 && b.inputType == tflite.Float32:
	case contract.InputType == model.ElementUint8 && b.inputType == tflite.UInt8:
	default:
		_ = b.Close()
		return nil, errors.Wrapf(ErrShapeMismatch, "input element type %v, contract wants %s", b.inputType, contract.InputType)
	}
	if b.outputType != tflite.Float32 && b.outputType != tflite.UInt8 {
		_ = b.Close()
		return nil, errors.Wrapf(ErrShapeMismatch, "unsupported output element type %v", b.outputType)
	}
	return b, nil
}

func tensorShape(t *tflite.Tensor) []int64 {
	shape := make([]int64, t.NumDims())
	for i := range shape {
		shape[i] = int64(t.Dim(i))
	}
	return shape
}

func (b *tfliteBackend) Name() string      { return "tflite-cpu" }
func (b *tfliteBackend) Accelerated() bool { return false }
func (b *tfliteBackend) Concurrent() bool  { return false }

func (b *tfliteBackend) Predict(ctx context.Context, in model.Tensor) (model.Tensor, error) {
	if err := ctx.Err(); err != nil {
		return model.Tensor{}, err
	}

	input := b.interp.GetInputTensor(0)
	if b.inputType == tflite.UInt8 {
		copy(input.UInt8s(), quantize(in.Data))
	} else {
		copy(input.Float32s(), in.Data)
	}

	if status := b.interp.Invoke(); status != tflite.OK {
		return model.Tensor{}, errors.Errorf("tflite invoke: status %v", status)
	}

	output := b.interp.GetOutputTensor(0)
	out := model.NewTensor(tensorShape(output)...)
	if b.outputType == tflite.UInt8 {
		copy(out.Data, dequantize(output.UInt8s()))
	} else {
		copy(out.Data, output.Float32s())
	}
	return out, nil
}

func (b *tfliteBackend) Close() error {
	if b.interp != nil {
		b.interp.Delete()
		b.interp = nil
	}
	if b.options != nil {
		b.options.Delete()
		b.options = nil
	}
	if b.model != nil {
		b.model.Delete()
		b.model = nil
	}
	return nil
}
