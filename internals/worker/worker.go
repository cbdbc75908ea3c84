// Package worker runs interactive requests off the caller's goroutine. The
// caller submits on one channel and reads results from another; at most one
// request is in flight.
package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/Oudwins/clawd/internals/schemas"
)

var ErrBusy = errors.New("a request is already in flight")

var ErrStopped = errors.New("worker stopped")

type Executor interface {
	Execute(ctx context.Context, req schemas.ExecutionRequest) (*schemas.ExecutionResult, error)
}

type Response struct {
	Request schemas.ExecutionRequest
	Result  *schemas.ExecutionResult
	Err     error
}

type Worker struct {
	executor  Executor
	requests  chan schemas.ExecutionRequest
	responses chan Response
	busy      atomic.Bool
	stopped   atomic.Bool
	logger    *slog.Logger
}

func New(executor Executor, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Worker{
		executor:  executor,
		requests:  make(chan schemas.ExecutionRequest, 1),
		responses: make(chan Response, 1),
		logger:    logger.With(slog.String("component", "worker")),
	}
}

// Submit queues req without blocking. It fails with ErrBusy until the
// response to the previous request has been produced.
func (w *Worker) Submit(req schemas.ExecutionRequest) error {
	if w.stopped.Load() {
		return ErrStopped
	}
	if !w.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	w.requests <- req
	return nil
}

func (w *Worker) Busy() bool {
	return w.busy.Load()
}

func (w *Worker) Responses() <-chan Response {
	return w.responses
}

// Run serves requests until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	defer w.stopped.Store(true)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-w.requests:
			w.logger.Debug("request received", slog.String("correlation_id", req.CorrelationID))
			result, err := w.executor.Execute(ctx, req)
			if result == nil {
				message := "no result"
				if err != nil {
					message = err.Error()
				}
				result = schemas.Failure(message)
			}
			w.busy.Store(false)
			select {
			case w.responses <- Response{Request: req, Result: result, Err: err}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
