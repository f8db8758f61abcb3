package runtime

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/okian/ecovision/internal/domain/model"
	"github.com/okian/ecovision/pkg/logger"
	"github.com/okian/ecovision/pkg/metrics"
)

// Adapter runs inference through an optional accelerated backend and a
// mandatory CPU backend. A failed accelerated call is retried once on the CPU.
type Adapter struct {
	contract model.Contract
	gpu      Backend
	cpu      Backend
	logger   logger.Logger
}

// NewAdapter assembles an Adapter from already created backends. gpu may be nil.
// Backends that are not safe for concurrent use are wrapped in a
// single-goroutine executor.
func NewAdapter(contract model.Contract, cpu, gpu Backend, opts ...Option) (*Adapter, error) {
	if err := contract.Validate(); err != nil {
		return nil, loadError(nil, err)
	}
	if cpu == nil {
		return nil, loadError(nil, errors.New("a cpu backend is required"))
	}

	a := &Adapter{
		contract: contract,
		cpu:      wrap(cpu),
		logger:   logger.Get().Named("runtime"),
	}
	if gpu != nil {
		a.gpu = wrap(gpu)
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

func wrap(b Backend) Backend {
	if b.Concurrent() {
		return b
	}
	return serialize(b)
}

// Load opens the artifact at opts.ModelPath, checks its declared shapes
// against opts.Contract and prepares the backends. Failures wrap ErrModelLoad.
func Load(ctx context.Context, opts Options) (*Adapter, error) {
	if err := opts.Contract.Validate(); err != nil {
		return nil, loadError(nil, err)
	}
	if _, err := os.Stat(opts.ModelPath); err != nil {
		return nil, loadError(nil, err)
	}
	log := opts.Logger
	if log == nil {
		log = logger.Get().Named("runtime")
	}

	var cpu, gpu Backend
	switch ext := strings.ToLower(filepath.Ext(opts.ModelPath)); ext {
	case ".onnx":
		if err := initONNXRuntime(opts.LibraryPath); err != nil {
			return nil, loadError(nil, err)
		}
		b, err := newONNXBackend(opts.ModelPath, opts.Contract, false, opts.Threads)
		if err != nil {
			return nil, loadError(nil, err)
		}
		cpu = b
		if opts.UseGPU {
			g, err := newONNXBackend(opts.ModelPath, opts.Contract, true, opts.Threads)
			if err != nil {
				if errors.Is(err, ErrShapeMismatch) {
					_ = cpu.Close()
					return nil, loadError(nil, err)
				}
				log.Warn(ctx, "accelerated backend unavailable, running on cpu only", logger.Error(err))
			} else {
				gpu = g
			}
		}
	case ".tflite":
		b, err := newTFLiteBackend(opts.ModelPath, opts.Contract, opts.Threads, log)
		if err != nil {
			return nil, loadError(nil, err)
		}
		cpu = b
		if opts.UseGPU {
			log.Info(ctx, "tflite artifacts run on cpu only", logger.String("model", opts.ModelPath))
		}
	default:
		return nil, loadError(nil, errors.Errorf("unsupported model format %q", ext))
	}

	a, err := NewAdapter(opts.Contract, cpu, gpu, WithLogger(log))
	if err != nil {
		_ = cpu.Close()
		if gpu != nil {
			_ = gpu.Close()
		}
		return nil, err
	}

	fields := []logger.Field{
		logger.String("model", opts.ModelPath),
		logger.String("cpu", cpu.Name()),
		logger.Int("labels", len(opts.Contract.Labels)),
	}
	if gpu != nil {
		fields = append(fields, logger.String("gpu", gpu.Name()))
	}
	log.Info(ctx, "model loaded", fields...)
	return a, nil
}

// Contract returns the contract the model was validated against.
func (a *Adapter) Contract() model.Contract { return a.contract }

// Accelerated reports whether an accelerated backend is attached.
func (a *Adapter) Accelerated() bool { return a.gpu != nil }

// Predict runs the model on in. The accelerated backend is tried first; on
// failure the same input is run once on the CPU. Errors wrap ErrInference.
func (a *Adapter) Predict(ctx context.Context, in model.Tensor) (model.Tensor, error) {
	if !equalShape(in.Shape, a.contract.InputShape()) || !in.Valid() {
		return model.Tensor{}, inferenceError(ErrShapeMismatch,
			errors.Errorf("input shape %v, want %v", in.Shape, a.contract.InputShape()))
	}
	if err := ctx.Err(); err != nil {
		return model.Tensor{}, inferenceError(nil, err)
	}

	if a.gpu != nil {
		out, err := a.run(ctx, a.gpu, in)
		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil {
			return model.Tensor{}, inferenceError(nil, err)
		}
		metrics.RecordGPUFallback()
		a.logger.Warn(ctx, "accelerated inference failed, falling back to cpu",
			logger.String("backend", a.gpu.Name()), logger.Error(err))
	}

	out, err := a.run(ctx, a.cpu, in)
	if err != nil {
		metrics.RecordInferenceError()
		a.logger.Error(ctx, "cpu inference failed", logger.String("backend", a.cpu.Name()), logger.Error(err))
		if errors.Is(err, ErrShapeMismatch) {
			return model.Tensor{}, inferenceError(ErrShapeMismatch, err)
		}
		return model.Tensor{}, inferenceError(nil, err)
	}
	return out, nil
}

func (a *Adapter) run(ctx context.Context, b Backend, in model.Tensor) (model.Tensor, error) {
	start := time.Now()
	out, err := b.Predict(ctx, in)
	if err != nil {
		return model.Tensor{}, err
	}
	if !equalShape(out.Shape, a.contract.OutputShape()) || !out.Valid() {
		return model.Tensor{}, errors.Wrapf(ErrShapeMismatch, "%s returned shape %v, want %v",
			b.Name(), out.Shape, a.contract.OutputShape())
	}
	metrics.RecordInferenceLatency(b.Name(), float64(time.Since(start).Microseconds())/1000)
	return out, nil
}

// Close releases both backends.
func (a *Adapter) Close() error {
	var firstErr error
	if a.gpu != nil {
		if err := a.gpu.Close(); err != nil {
			firstErr = err
		}
	}
	if err := a.cpu.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
