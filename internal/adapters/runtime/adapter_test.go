package runtime

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okian/ecovision/internal/domain/model"
	"github.com/okian/ecovision/pkg/logger"
)

func TestMain(m *testing.M) {
	if err := logger.Init(); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

type fakeBackend struct {
	name        string
	accelerated bool
	concurrent  bool
	err         error
	out         model.Tensor
	delay       time.Duration

	calls     atomic.Int32
	active    atomic.Int32
	maxActive atomic.Int32
	closed    atomic.Bool
}

func (f *fakeBackend) Name() string      { return f.name }
func (f *fakeBackend) Accelerated() bool { return f.accelerated }
func (f *fakeBackend) Concurrent() bool  { return f.concurrent }

func (f *fakeBackend) Predict(ctx context.Context, _ model.Tensor) (model.Tensor, error) {
	f.calls.Add(1)
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		m := f.maxActive.Load()
		if n <= m || f.maxActive.CompareAndSwap(m, n) {
			break
		}
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return model.Tensor{}, ctx.Err()
		}
	}
	if f.err != nil {
		return model.Tensor{}, f.err
	}
	return f.out.Clone(), nil
}

func (f *fakeBackend) Close() error {
	f.closed.Store(true)
	return nil
}

func smallContract() model.Contract {
	c := model.DefaultContract()
	c.InputSize = 4
	return c
}

func outputFor(c model.Contract, scores ...float32) model.Tensor {
	out := model.NewTensor(c.OutputShape()...)
	copy(out.Data, scores)
	return out
}

func TestPredictPrefersAcceleratedBackend(t *testing.T) {
	c := smallContract()
	gpu := &fakeBackend{name: "gpu", accelerated: true, concurrent: true, out: outputFor(c, 0.9, 0.1)}
	cpu := &fakeBackend{name: "cpu", concurrent: true, out: outputFor(c, 0.1, 0.9)}

	a, err := NewAdapter(c, cpu, gpu)
	require.NoError(t, err)
	assert.True(t, a.Accelerated())

	out, err := a.Predict(context.Background(), model.NewTensor(c.InputShape()...))
	require.NoError(t, err)
	assert.InDelta(t, 0.9, out.Data[0], 1e-6)
	assert.EqualValues(t, 1, gpu.calls.Load())
	assert.EqualValues(t, 0, cpu.calls.Load())
}

func TestPredictFallsBackToCPUOnce(t *testing.T) {
	c := smallContract()
	gpu := &fakeBackend{name: "gpu", accelerated: true, concurrent: true, err: errors.New("device lost")}
	cpu := &fakeBackend{name: "cpu", concurrent: true, out: outputFor(c, 0.2, 0.8)}

	a, err := NewAdapter(c, cpu, gpu)
	require.NoError(t, err)

	out, err := a.Predict(context.Background(), model.NewTensor(c.InputShape()...))
	require.NoError(t, err)
	assert.InDelta(t, 0.8, out.Data[1], 1e-6)
	assert.EqualValues(t, 1, gpu.calls.Load())
	assert.EqualValues(t, 1, cpu.calls.Load())
}

func TestPredictFallsBackOnBadAcceleratedOutput(t *testing.T) {
	c := smallContract()
	gpu := &fakeBackend{name: "gpu", accelerated: true, concurrent: true, out: model.NewTensor(1, 2)}
	cpu := &fakeBackend{name: "cpu", concurrent: true, out: outputFor(c, 0.7)}

	a, err := NewAdapter(c, cpu, gpu)
	require.NoError(t, err)

	_, err = a.Predict(context.Background(), model.NewTensor(c.InputShape()...))
	require.NoError(t, err)
	assert.EqualValues(t, 1, cpu.calls.Load())
}

func TestPredictFailsWhenEveryBackendFails(t *testing.T) {
	c := smallContract()
	gpu := &fakeBackend{name: "gpu", accelerated: true, concurrent: true, err: errors.New("device lost")}
	cpu := &fakeBackend{name: "cpu", concurrent: true, err: errors.New("oom")}

	a, err := NewAdapter(c, cpu, gpu)
	require.NoError(t, err)

	_, err = a.Predict(context.Background(), model.NewTensor(c.InputShape()...))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInference)
}

func TestPredictCPUOnly(t *testing.T) {
	c := smallContract()
	cpu := &fakeBackend{name: "cpu", concurrent: true, out: outputFor(c, 1)}

	a, err := NewAdapter(c, cpu, nil)
	require.NoError(t, err)
	assert.False(t, a.Accelerated())

	_, err = a.Predict(context.Background(), model.NewTensor(c.InputShape()...))
	require.NoError(t, err)
	assert.EqualValues(t, 1, cpu.calls.Load())
}

func TestPredictRejectsWrongInputShape(t *testing.T) {
	c := smallContract()
	cpu := &fakeBackend{name: "cpu", concurrent: true, out: outputFor(c, 1)}

	a, err := NewAdapter(c, cpu, nil)
	require.NoError(t, err)

	_, err = a.Predict(context.Background(), model.NewTensor(1, 8, 8, 3))
	assert.ErrorIs(t, err, ErrInference)
	assert.ErrorIs(t, err, ErrShapeMismatch)
	assert.EqualValues(t, 0, cpu.calls.Load())
}

func TestPredictRejectsWrongOutputShape(t *testing.T) {
	c := smallContract()
	cpu := &fakeBackend{name: "cpu", concurrent: true, out: model.NewTensor(1, 3)}

	a, err := NewAdapter(c, cpu, nil)
	require.NoError(t, err)

	_, err = a.Predict(context.Background(), model.NewTensor(c.InputShape()...))
	assert.ErrorIs(t, err, ErrInference)
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestPredictHonoursCancellation(t *testing.T) {
	c := smallContract()
	gpu := &fakeBackend{name: "gpu", accelerated: true, concurrent: true, delay: time.Second, out: outputFor(c, 1)}
	cpu := &fakeBackend{name: "cpu", concurrent: true, out: outputFor(c, 1)}

	a, err := NewAdapter(c, cpu, gpu)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = a.Predict(ctx, model.NewTensor(c.InputShape()...))
	assert.ErrorIs(t, err, ErrInference)
	assert.EqualValues(t, 0, cpu.calls.Load(), "a cancelled call must not fall back")
}

func TestNonConcurrentBackendIsSerialized(t *testing.T) {
	c := smallContract()
	cpu := &fakeBackend{name: "cpu", concurrent: false, delay: 5 * time.Millisecond, out: outputFor(c, 1)}

	a, err := NewAdapter(c, cpu, nil)
	require.NoError(t, err)
	defer func() { require.NoError(t, a.Close()) }()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := a.Predict(context.Background(), model.NewTensor(c.InputShape()...))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 8, cpu.calls.Load())
	assert.EqualValues(t, 1, cpu.maxActive.Load())
}

func TestCloseReleasesBackends(t *testing.T) {
	c := smallContract()
	gpu := &fakeBackend{name: "gpu", accelerated: true, concurrent: true}
	cpu := &fakeBackend{name: "cpu", concurrent: false}

	a, err := NewAdapter(c, cpu, gpu)
	require.NoError(t, err)
	require.NoError(t, a.Close())
	assert.True(t, gpu.closed.Load())
	assert.True(t, cpu.closed.Load())

	_, err = a.Predict(context.Background(), model.NewTensor(c.InputShape()...))
	assert.ErrorIs(t, err, ErrInference)
}

func TestNewAdapterValidation(t *testing.T) {
	_, err := NewAdapter(smallContract(), nil, nil)
	assert.ErrorIs(t, err, ErrModelLoad)

	bad := smallContract()
	bad.Labels = nil
	_, err = NewAdapter(bad, &fakeBackend{concurrent: true}, nil)
	assert.ErrorIs(t, err, ErrModelLoad)
}

func TestLoadRejectsMissingAndUnknownArtifacts(t *testing.T) {
	ctx := context.Background()

	_, err := Load(ctx, Options{ModelPath: filepath.Join(t.TempDir(), "missing.onnx"), Contract: smallContract()})
	assert.ErrorIs(t, err, ErrModelLoad)

	path := filepath.Join(t.TempDir(), "model.pt")
	require.NoError(t, os.WriteFile(path, []byte("weights"), 0o600))
	_, err = Load(ctx, Options{ModelPath: path, Contract: smallContract()})
	assert.ErrorIs(t, err, ErrModelLoad)
}

func TestCheckShape(t *testing.T) {
	want := []int64{1, 224, 224, 3}

	assert.NoError(t, checkShape([]int64{1, 224, 224, 3}, want))
	assert.NoError(t, checkShape([]int64{-1, 224, 224, 3}, want), "dynamic batch matches")
	assert.ErrorIs(t, checkShape([]int64{1, 3, 224, 224}, want), ErrShapeMismatch)
	assert.ErrorIs(t, checkShape([]int64{1, 224, 224}, want), ErrShapeMismatch)
}

func TestQuantizeRoundTrip(t *testing.T) {
	q := quantize([]float32{-3, 0, 127.4, 127.6, 300})
	assert.Equal(t, []uint8{0, 0, 127, 128, 255}, q)

	d := dequantize([]uint8{0, 255})
	assert.InDelta(t, 0, d[0], 1e-6)
	assert.InDelta(t, 1, d[1], 1e-6)
}
