// Package runtime loads a classification model and runs it on an
// accelerated backend with a CPU fallback.
package runtime

import (
	"context"
	"sync"

	"github.com/okian/ecovision/internal/domain/model"
)

// Backend runs a loaded model on one kind of hardware.
type Backend interface {
	// Name identifies the backend in logs and metrics, e.g. "onnx-cuda".
	Name() string
	// Accelerated reports whether the backend runs on a GPU.
	Accelerated() bool
	// Concurrent reports whether Predict may be called from several goroutines.
	Concurrent() bool
	Predict(ctx context.Context, in model.Tensor) (model.Tensor, error)
	Close() error
}

type request struct {
	ctx   context.Context
	in    model.Tensor
	reply chan response
}

type response struct {
	out model.Tensor
	err error
}

// serialBackend funnels calls to a non re-entrant backend through a single
// executor goroutine.
type serialBackend struct {
	Backend

	reqs      chan request
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func serialize(b Backend) *serialBackend {
	s := &serialBackend{
		Backend: b,
		reqs:    make(chan request),
		done:    make(chan struct{}),
	}
	s.wg.Add(1)
	go s.loop()
	return s
}

func (s *serialBackend) loop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case req := <-s.reqs:
			if err := req.ctx.Err(); err != nil {
				req.reply <- response{err: err}
				continue
			}
			out, err := s.Backend.Predict(req.ctx, req.in)
			req.reply <- response{out: out, err: err}
		}
	}
}

func (s *serialBackend) Concurrent() bool { return true }

func (s *serialBackend) Predict(ctx context.Context, in model.Tensor) (model.Tensor, error) {
	reply := make(chan response, 1)
	select {
	case s.reqs <- request{ctx: ctx, in: in, reply: reply}:
	case <-ctx.Done():
		return model.Tensor{}, ctx.Err()
	case <-s.done:
		return model.Tensor{}, ErrClosed
	}

	select {
	case r := <-reply:
		return r.out, r.err
	case <-ctx.Done():
		return model.Tensor{}, ctx.Err()
	}
}

func (s *serialBackend) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.wg.Wait()
		err = s.Backend.Close()
	})
	return err
}
