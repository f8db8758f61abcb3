package runtime

import (
	"context"
	"strconv"
	"sync"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/okian/ecovision/internal/domain/model"
)

var (
	ortOnce    sync.Once
	ortInitErr error
)

// initONNXRuntime initializes the process-wide ONNX Runtime environment once.
func initONNXRuntime(libraryPath string) error {
	ortOnce.Do(func() {
		if ort.IsInitialized() {
			return
		}
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			ortInitErr = errors.Wrap(err, "initialize onnx runtime")
		}
	})
	return ortInitErr
}

// onnxBackend runs an ONNX model through a dynamic session so every call gets
// its own input/output tensors and calls may overlap.
type onnxBackend struct {
	name        string
	accelerated bool
	session     *ort.DynamicAdvancedSession
	inputShape  ort.Shape
	outputShape ort.Shape
	inputType   ort.TensorElementDataType
	outputType  ort.TensorElementDataType
}

func newONNXBackend(path string, contract model.Contract, cuda bool, threads int) (*onnxBackend, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, errors.Wrap(err, "read model inputs and outputs")
	}
	if len(inputs) != 1 || len(outputs) != 1 {
		return nil, errors.Wrapf(ErrShapeMismatch, "model has %d inputs and %d outputs, want 1 and 1", len(inputs), len(outputs))
	}
	in, out := inputs[0], outputs[0]

	if err := checkShape(in.Dimensions, contract.InputShape()); err != nil {
		return nil, errors.Wrapf(err, "input %q", in.Name)
	}
	if err := checkShape(out.Dimensions, contract.OutputShape()); err != nil {
		return nil, errors.Wrapf(err, "output %q", out.Name)
	}
	if err := checkElementType(in.DataType, contract.InputType); err != nil {
		return nil, errors.Wrapf(err, "input %q", in.Name)
	}
	if out.DataType != ort.TensorElementDataTypeFloat && out.DataType != ort.TensorElementDataTypeUint8 {
		return nil, errors.Wrapf(ErrShapeMismatch, "output %q has unsupported element type %v", out.Name, out.DataType)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, errors.Wrap(err, "create session options")
	}
	defer options.Destroy()

	if threads > 0 {
		if err := options.SetIntraOpNumThreads(threads); err != nil {
			return nil, errors.Wrap(err, "set intra-op threads")
		}
	}
	if err := options.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableExtended); err != nil {
		return nil, errors.Wrap(err, "set graph optimization level")
	}

	name := "onnx-cpu"
	if cuda {
		name = "onnx-cuda"
		cudaOptions, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return nil, errors.Wrap(err, "create cuda provider options")
		}
		defer cudaOptions.Destroy()
		if err := cudaOptions.Update(map[string]string{"device_id": strconv.Itoa(0)}); err != nil {
			return nil, errors.Wrap(err, "configure cuda provider")
		}
		if err := options.AppendExecutionProviderCUDA(cudaOptions); err != nil {
			return nil, errors.Wrap(err, "enable cuda execution provider")
		}
	}

	session, err := ort.NewDynamicAdvancedSession(path, []string{in.Name}, []string{out.Name}, options)
	if err != nil {
		return nil, errors.Wrap(err, "create session")
	}

	return &onnxBackend{
		name:        name,
		accelerated: cuda,
		session:     session,
		inputShape:  ort.NewShape(contract.InputShape()...),
		outputShape: ort.NewShape(contract.OutputShape()...),
		inputType:   in.DataType,
		outputType:  out.DataType,
	}, nil
}

func checkElementType(declared ort.TensorElementDataType, want model.ElementType) error {
	switch {
	case want == model.ElementFloat32 && declared == ort.TensorElementDataTypeFloat:
		return nil
	case want == model.ElementUint8 && declared == ort.TensorElementDataTypeUint8:
		return nil
	}
	return errors.Wrapf(ErrShapeMismatch, "element type %v, contract wants %s", declared, want)
}

func (b *onnxBackend) Name() string      { return b.name }
func (b *onnxBackend) Accelerated() bool { return b.accelerated }
func (b *onnxBackend) Concurrent() bool  { return true }

func (b *onnxBackend) Predict(ctx context.Context, in model.Tensor) (model.Tensor, error) {
	if err := ctx.Err(); err != nil {
		return model.Tensor{}, err
	}

	var input ort.Value
	var err error
	if b.inputType == ort.TensorElementDataTypeUint8 {
		input, err = ort.NewTensor(b.inputShape, quantize(in.Data))
	} else {
		input, err = ort.NewTensor(b.inputShape, in.Data)
	}
	if err != nil {
		return model.Tensor{}, errors.Wrap(err, "create input tensor")
	}
	defer input.Destroy()

	out := model.NewTensor(b.outputShape...)
	if b.outputType == ort.TensorElementDataTypeUint8 {
		output, err := ort.NewEmptyTensor[uint8](b.outputShape)
		if err != nil {
			return model.Tensor{}, errors.Wrap(err, "create output tensor")
		}
		defer output.Destroy()
		if err := b.session.Run([]ort.Value{input}, []ort.Value{output}); err != nil {
			return model.Tensor{}, errors.Wrapf(err, "%s run", b.name)
		}
		copy(out.Data, dequantize(output.GetData()))
		return out, nil
	}

	output, err := ort.NewEmptyTensor[float32](b.outputShape)
	if err != nil {
		return model.Tensor{}, errors.Wrap(err, "create output tensor")
	}
	defer output.Destroy()
	if err := b.session.Run([]ort.Value{input}, []ort.Value{output}); err != nil {
		return model.Tensor{}, errors.Wrapf(err, "%s run", b.name)
	}
	copy(out.Data, output.GetData())
	return out, nil
}

func (b *onnxBackend) Close() error {
	if b.session == nil {
		return nil
	}
	err := b.session.Destroy()
	b.session = nil
	return err
}
