package runner

import (
	"context"
	"errors"
	"sync"
)

// ErrExecutionCanceled is the cause recorded when a control is canceled
// without an explicit reason.
var ErrExecutionCanceled = errors.New("execution canceled")

// ExecutionControl lets a long-running handler cooperate with outside
// pause and cancel requests between units of work. Implementations must
// be safe for concurrent use.
type ExecutionControl interface {
	// WaitIfPaused blocks while the control is paused. It returns nil
	// once execution may proceed, the cancel cause once the control is
	// done, or the context error when ctx expires first.
	WaitIfPaused(ctx context.Context) error

	// Done is closed when the control has been canceled. Controls that
	// never cancel may return nil, which blocks forever in a select.
	Done() <-chan struct{}

	// CancelCause reports why the control was canceled, nil otherwise.
	CancelCause() error
}

// ManualExecutionControl is an ExecutionControl driven by explicit
// Pause, Resume and Cancel calls, typically from an operator-facing
// surface while a handler streams work. All methods tolerate a nil
// receiver, in which case the control behaves as permanently running.
type ManualExecutionControl struct {
	mu     sync.Mutex
	paused bool
	resume chan struct{}
	done   chan struct{}
	cause  error
}

// NewManualExecutionControl returns a running, unpaused control.
func NewManualExecutionControl() *ManualExecutionControl {
	return &ManualExecutionControl{
		resume: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// snapshot returns the channels and state needed by WaitIfPaused under
// a single lock acquisition.
func (c *ManualExecutionControl) snapshot() (paused bool, resume, done chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused, c.resume, c.done
}

func (c *ManualExecutionControl) WaitIfPaused(ctx context.Context) error {
	if c == nil {
		return ctx.Err()
	}
	for {
		paused, resume, done := c.snapshot()

		select {
		case <-done:
			return c.CancelCause()
		default:
		}

		if !paused {
			return ctx.Err()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
			return c.CancelCause()
		case <-resume:
		}
	}
}

func (c *ManualExecutionControl) Done() <-chan struct{} {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

func (c *ManualExecutionControl) CancelCause() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cause
}

// Paused reports whether the control currently holds waiters.
func (c *ManualExecutionControl) Paused() bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// Pause makes subsequent WaitIfPaused calls block until Resume or
// Cancel. Pausing an already paused or canceled control is a no-op.
func (c *ManualExecutionControl) Pause() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused || c.canceledLocked() {
		return
	}
	c.paused = true
	c.resume = make(chan struct{})
}

// Resume releases waiters blocked by a previous Pause.
func (c *ManualExecutionControl) Resume() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.paused {
		return
	}
	c.paused = false
	close(c.resume)
}

// Cancel terminates the control, releasing any paused waiters. The
// first call wins; a nil cause is recorded as ErrExecutionCanceled.
func (c *ManualExecutionControl) Cancel(cause error) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.canceledLocked() {
		return
	}
	if cause == nil {
		cause = ErrExecutionCanceled
	}
	c.cause = cause
	if c.paused {
		c.paused = false
		close(c.resume)
	}
	close(c.done)
}

func (c *ManualExecutionControl) canceledLocked() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
