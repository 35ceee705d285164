package flowpilot

import (
	"testing"

	"github.com/goliatone/go-errors"
)

type stubMessage struct {
	valid bool
}

func (m *stubMessage) Type() string { return "stub" }

func (m *stubMessage) Validate() error {
	if !m.valid {
		return errors.New("stub invalid", errors.CategoryValidation)
	}
	return nil
}

func TestIsNilMessage(t *testing.T) {
	if !IsNilMessage(nil) {
		t.Error("nil interface should be nil message")
	}
	var typed *stubMessage
	if !IsNilMessage(typed) {
		t.Error("typed nil pointer should be nil message")
	}
	if IsNilMessage(&stubMessage{}) {
		t.Error("non-nil pointer should not be nil message")
	}
	if IsNilMessage(stubMessage{}) {
		t.Error("value message should not be nil message")
	}
}

func TestMessageHandlerValidateMessage(t *testing.T) {
	h := &MessageHandler[*stubMessage]{}

	if err := h.ValidateMessage(&stubMessage{valid: true}); err != nil {
		t.Errorf("expected valid message to pass, got %v", err)
	}

	err := h.ValidateMessage(&stubMessage{valid: false})
	if err == nil {
		t.Fatal("expected validation failure")
	}
	if code := ErrorCode(err); code != "VALIDATION_FAILED" {
		t.Errorf("expected VALIDATION_FAILED code, got %q", code)
	}

	var nilMsg *stubMessage
	err = h.ValidateMessage(nilMsg)
	if err == nil {
		t.Fatal("expected nil message rejection")
	}
	if code := ErrorCode(err); code != "INVALID_MESSAGE" {
		t.Errorf("expected INVALID_MESSAGE code, got %q", code)
	}
}
