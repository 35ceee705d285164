package flowpilot

import (
	"errors"
	"fmt"
	"testing"
)

func TestNewFetchFailure(t *testing.T) {
	source := errors.New("connection refused")
	err := NewFetchFailure("engine returned 502", source, map[string]any{"status": 502})

	if err.Message != "engine returned 502" {
		t.Errorf("expected message override, got %q", err.Message)
	}
	if !IsFetchFailure(err) {
		t.Error("expected IsFetchFailure to match")
	}
	if err.Source != source {
		t.Error("expected source error to be retained")
	}
	if err.Metadata["status"] != 502 {
		t.Errorf("expected metadata to carry status, got %v", err.Metadata)
	}
}

func TestNewFetchFailure_EmptyMessageKeepsDefault(t *testing.T) {
	err := NewFetchFailure("  ", nil, nil)
	if err.Message != "fetch failed" {
		t.Errorf("expected default message, got %q", err.Message)
	}
}

func TestNewMissingSession(t *testing.T) {
	err := NewMissingSession("tok-123")
	if !IsMissingSession(err) {
		t.Error("expected IsMissingSession to match")
	}
	if err.Metadata["session_id"] != "tok-123" {
		t.Errorf("expected token in metadata, got %v", err.Metadata)
	}
}

func TestErrorCode(t *testing.T) {
	if code := ErrorCode(NewMissingSession("")); code != ErrCodeMissingSession {
		t.Errorf("expected %q, got %q", ErrCodeMissingSession, code)
	}
	if code := ErrorCode(errors.New("plain")); code != "" {
		t.Errorf("expected empty code for plain errors, got %q", code)
	}
	wrapped := fmt.Errorf("context: %w", NewFetchFailure("bad gateway", nil, nil))
	if code := ErrorCode(wrapped); code != ErrCodeFetchFailed {
		t.Errorf("expected %q through wrapping, got %q", ErrCodeFetchFailed, code)
	}
	if ErrorCode(nil) != "" {
		t.Error("expected empty code for nil")
	}
}

func TestCloneDoesNotMutateSentinel(t *testing.T) {
	_ = NewMissingSession("tok-1")
	if ErrMissingSession.Metadata != nil {
		t.Error("sentinel must stay metadata-free after constructor use")
	}
}
