package backend

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/mil-ad/kbdctl/internal/daemon"
)

var (
	// ErrSuperseded means a newer request for the same slot replaced this
	// one before it reached the hardware.
	ErrSuperseded = errors.New("request superseded")
	// ErrClosed means the worker stopped before running the request.
	ErrClosed = errors.New("backend closed")
)

type result struct {
	value any
	err   error
}

type request struct {
	slot      *slot
	run       func(t *Thread) (any, error)
	cancelled atomic.Bool
	done      chan result
}

func newRequest(s *slot, run func(t *Thread) (any, error)) *request {
	return &request{slot: s, run: run, done: make(chan result, 1)}
}

func (r *request) finish(value any, err error) {
	r.done <- result{value: value, err: err}
}

func daemonCall(fn func(d daemon.Daemon) error) func(*Thread) (any, error) {
	return func(t *Thread) (any, error) {
		return nil, fn(t.daemon)
	}
}

// Pending is the completion of one queued request.
type Pending[T any] struct {
	req *request
}

// Wait blocks until the request has run, been superseded, or ctx is done.
func (p Pending[T]) Wait(ctx context.Context) (T, error) {
	var zero T
	select {
	case res := <-p.req.done:
		// keep the result observable to a second Wait
		p.req.done <- res
		if res.err != nil {
			return zero, res.err
		}
		if res.value == nil {
			return zero, nil
		}
		v, ok := res.value.(T)
		if !ok {
			panic(fmt.Sprintf("request returned %T, want %T", res.value, zero))
		}
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
