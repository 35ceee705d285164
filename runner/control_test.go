package runner

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestManualControlPauseResume(t *testing.T) {
	ctl := NewManualExecutionControl()

	if err := ctl.WaitIfPaused(context.Background()); err != nil {
		t.Fatalf("running control should not block: %v", err)
	}

	ctl.Pause()
	if !ctl.Paused() {
		t.Fatal("expected control to report paused")
	}

	released := make(chan error, 1)
	go func() {
		released <- ctl.WaitIfPaused(context.Background())
	}()

	select {
	case err := <-released:
		t.Fatalf("waiter released while paused: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	ctl.Resume()
	select {
	case err := <-released:
		if err != nil {
			t.Fatalf("resumed waiter returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter never released after resume")
	}
}

func TestManualControlCancelReleasesWaiter(t *testing.T) {
	ctl := NewManualExecutionControl()
	cause := errors.New("operator stop")

	ctl.Pause()
	released := make(chan error, 1)
	go func() {
		released <- ctl.WaitIfPaused(context.Background())
	}()

	ctl.Cancel(cause)
	select {
	case err := <-released:
		if !errors.Is(err, cause) {
			t.Fatalf("expected cancel cause, got: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter never released after cancel")
	}

	select {
	case <-ctl.Done():
	default:
		t.Fatal("expected Done channel to be closed")
	}
	if !errors.Is(ctl.CancelCause(), cause) {
		t.Fatalf("unexpected cause: %v", ctl.CancelCause())
	}
}

func TestManualControlCancelDefaultsCause(t *testing.T) {
	ctl := NewManualExecutionControl()
	ctl.Cancel(nil)

	if !errors.Is(ctl.CancelCause(), ErrExecutionCanceled) {
		t.Fatalf("unexpected cause: %v", ctl.CancelCause())
	}
	if err := ctl.WaitIfPaused(context.Background()); !errors.Is(err, ErrExecutionCanceled) {
		t.Fatalf("expected canceled control to surface cause, got: %v", err)
	}

	// second Cancel must not overwrite the cause or double-close
	ctl.Cancel(errors.New("later"))
	if !errors.Is(ctl.CancelCause(), ErrExecutionCanceled) {
		t.Fatalf("cause overwritten: %v", ctl.CancelCause())
	}
}

func TestManualControlContextExpiry(t *testing.T) {
	ctl := NewManualExecutionControl()
	ctl.Pause()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := ctl.WaitIfPaused(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error, got: %v", err)
	}
}

func TestManualControlNilReceiver(t *testing.T) {
	var ctl *ManualExecutionControl

	if err := ctl.WaitIfPaused(context.Background()); err != nil {
		t.Fatalf("nil control should pass through: %v", err)
	}
	if ctl.Done() != nil {
		t.Fatal("nil control should report no done channel")
	}
	ctl.Pause()
	ctl.Resume()
	ctl.Cancel(nil)
	if ctl.CancelCause() != nil {
		t.Fatalf("nil control should have no cause: %v", ctl.CancelCause())
	}
}
