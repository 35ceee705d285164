package flowpilot

import (
	stderrors "errors"
	"fmt"
	"strings"

	apperrors "github.com/goliatone/go-errors"
)

// MessageError is a custom error type wrapping context around dispatch failures
type MessageError struct {
	Type    string
	Message string
	Err     error
}

func (e *MessageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *MessageError) Unwrap() error {
	return e.Err
}

// WrapError is a helper to create wrapped errors using MessageError
func WrapError(errType, msg string, err error) *MessageError {
	return &MessageError{
		Type:    errType,
		Message: msg,
		Err:     err,
	}
}

const (
	ErrCodeFetchFailed    = "FETCH_FAILED"
	ErrCodeMissingSession = "MISSING_SESSION"
)

var (
	// ErrFetchFailure marks non-2xx or non-JSON responses from the engine
	// or the viewer fetch layer.
	ErrFetchFailure = apperrors.New("fetch failed", apperrors.CategoryExternal).
			WithTextCode(ErrCodeFetchFailed)
	// ErrMissingSession marks lookups with no or unknown session token.
	ErrMissingSession = apperrors.New("missing session", apperrors.CategoryBadInput).
				WithTextCode(ErrCodeMissingSession)
)

// NewFetchFailure builds a FetchFailure carrying the upstream detail.
func NewFetchFailure(message string, source error, metadata map[string]any) *apperrors.Error {
	err := ErrFetchFailure.Clone()
	if text := strings.TrimSpace(message); text != "" {
		err.Message = text
	}
	if source != nil {
		err.Source = source
	}
	if len(metadata) > 0 {
		err = err.WithMetadata(metadata)
	}
	return err
}

// NewMissingSession builds a MissingSession error for the given token.
func NewMissingSession(token string) *apperrors.Error {
	err := ErrMissingSession.Clone()
	if token != "" {
		err = err.WithMetadata(map[string]any{"session_id": token})
	}
	return err
}

// ErrorCode returns the text code for go-errors values, or "".
func ErrorCode(err error) string {
	var ge *apperrors.Error
	if stderrors.As(err, &ge) {
		return ge.TextCode
	}
	return ""
}

func IsFetchFailure(err error) bool {
	return ErrorCode(err) == ErrCodeFetchFailed
}

func IsMissingSession(err error) bool {
	return ErrorCode(err) == ErrCodeMissingSession
}
