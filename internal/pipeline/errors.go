package pipeline

import (
	"errors"
	"fmt"
)

// Sentinel errors forming the pipeline's failure taxonomy. All stage failures
// wrap one of these (plus the underlying cause) inside a [StageError], so
// callers can match with errors.Is at either level.
var (
	// ErrEmptyInput is returned when the session has no utterances to analyse.
	ErrEmptyInput = errors.New("pipeline: session has no utterances")

	// ErrNotConfigured is returned when no classification provider (or its
	// credential) is configured. Checked before any network call.
	ErrNotConfigured = errors.New("pipeline: classifier is not configured")

	// ErrUpstream is returned when the classification service call fails with
	// a transport error or non-success status.
	ErrUpstream = errors.New("pipeline: classification service call failed")

	// ErrResponseParse is returned when the classification payload is not
	// well-formed structured data after normalization.
	ErrResponseParse = errors.New("pipeline: malformed classification response")

	// ErrUnknownStage is returned by RunStage for an unrecognised stage name.
	ErrUnknownStage = errors.New("pipeline: unknown stage")
)

// StageError wraps a stage failure with the context a caller needs to retry
// that specific stage: the session id, the stage name, and the cause.
type StageError struct {
	SessionID string
	Stage     Stage
	Err       error
}

// Error implements the error interface.
func (e *StageError) Error() string {
	return fmt.Sprintf("pipeline: stage %s for session %s: %v", e.Stage, e.SessionID, e.Err)
}

// Unwrap returns the underlying cause.
func (e *StageError) Unwrap() error { return e.Err }
