package runner

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	flowpilot "github.com/goliatone/go-flowpilot"
)

type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

type Handler struct {
	mu sync.Mutex

	logger        Logger
	errorHandler  func(error)
	doneHandler   func(r *Handler)
	retryStrategy RetryStrategy
	panicLogger   flowpilot.PanicLogger

	EntryID        int
	runs           int
	successfulRuns int

	maxRuns     int
	maxRetries  int
	timeout     time.Duration
	deadline    time.Time
	runOnce     bool
	exitOnError bool
}

// NewHandler constructs a Handler from various options, applying defaults if unset.
func NewHandler(opts ...Option) *Handler {
	r := &Handler{
		errorHandler: func(err error) {
			log.Printf("runner error: %v\n", err)
		},
		doneHandler: func(r *Handler) {
			log.Printf("runner done: %d\n", r.EntryID)
		},
		retryStrategy: NoDelayStrategy{},
		panicLogger:   flowpilot.DefaultPanicLogger,
	}
	for _, o := range opts {
		if o != nil {
			o(r)
		}
	}
	return r
}

// Run executes fn under the configured timeout, deadline and retry
// policy, returning the final error once attempts are exhausted.
func (h *Handler) Run(ctx context.Context, fn func(context.Context) error) error {
	h.mu.Lock()

	if h.runOnce && h.successfulRuns >= 1 {
		h.mu.Unlock()
		return nil
	}

	if h.successfulRuns >= h.maxRuns && h.maxRuns > 0 {
		h.mu.Unlock()
		return nil
	}

	maxRetries := h.maxRetries
	strategy := h.retryStrategy
	exitOnError := h.exitOnError
	h.mu.Unlock()

	ctx, cancel := h.contextWithSettings(ctx)
	defer cancel()

	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = h.attempt(ctx, fn)
		if err == nil {
			break
		}

		if exitOnError {
			break
		}

		if attempt < maxRetries {
			h.handleError(flowpilot.WrapError(
				"Run Failed",
				fmt.Sprintf("Runner failed, attempt %d of %d",
					attempt+1,
					maxRetries+1,
				),
				err,
			))

			if strategy != nil {
				delay := strategy.SleepDuration(attempt, err)
				if delay > 0 {
					time.Sleep(delay)
				}
			}
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.runs++

	if err == nil {
		h.successfulRuns++
	} else {
		h.handleError(flowpilot.WrapError(
			"Run Failed",
			fmt.Sprintf("Runner failed after %d attempts",
				h.maxRetries+1,
			),
			err,
		))
	}

	if h.maxRuns > 0 && h.successfulRuns >= h.maxRuns {
		h.done()
	}
	return err
}

// attempt runs one execution, converting handler panics into errors so
// the retry loop and error handlers see them like any other failure.
func (h *Handler) attempt(ctx context.Context, fn func(context.Context) error) (err error) {
	defer flowpilot.RecoverToError(h.panicLogger, "runner.Handler", &err)
	return fn(ctx)
}

func (h *Handler) handleError(err error) {
	h.logError("runner error: %v", err)
	h.errorHandler(err)
}

func (h *Handler) logError(format string, args ...any) {
	if h.logger != nil {
		h.logger.Error(format, args...)
	}
}

func (h *Handler) done() {
	h.doneHandler(h)
}

func (h *Handler) contextWithSettings(parent context.Context) (context.Context, context.CancelFunc) {
	switch {
	case h.timeout != 0 && !h.deadline.IsZero():
		ctx, cancelTimeout := context.WithTimeout(parent, h.timeout)
		ctxDeadline, cancelDeadline := context.WithDeadline(ctx, h.deadline)
		return ctxDeadline, func() {
			cancelDeadline()
			cancelTimeout()
		}
	case h.timeout != 0:
		return context.WithTimeout(parent, h.timeout)
	case !h.deadline.IsZero():
		return context.WithDeadline(parent, h.deadline)
	default:
		return parent, func() {}
	}
}

func RunCommand[T any](ctx context.Context, h *Handler, c flowpilot.Commander[T], msg T) error {
	return h.Run(ctx, func(ctx context.Context) error {
		return c.Execute(ctx, msg)
	})
}

func RunQuery[T any, R any](ctx context.Context, h *Handler, q flowpilot.Querier[T, R], msg T) (R, error) {
	var result R
	err := h.Run(ctx, func(ctx context.Context) error {
		var err error
		result, err = q.Query(ctx, msg)
		return err
	})
	return result, err
}
