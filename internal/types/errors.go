package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies pipeline failures for reporting on the progress
// channel and for HTTP error payloads.
type ErrorKind string

const (
	KindInvalidManifest    ErrorKind = "invalid_manifest"
	KindUnavailableQuality ErrorKind = "unavailable_quality"
	KindKeyUnavailable     ErrorKind = "key_unavailable"
	KindAllSegmentsInvalid ErrorKind = "all_segments_invalid"
	KindMuxFailed          ErrorKind = "mux_failed"
	KindCancelled          ErrorKind = "cancelled"
	KindTimeout            ErrorKind = "timeout"
)

// PipelineError is the error type carried across pipeline stages. Per-segment
// fetch failures are absorbed locally and never surface as a PipelineError;
// everything else aborts the job with one of these.
type PipelineError struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *PipelineError) Unwrap() error { return e.Cause }

// NewError returns a PipelineError with no underlying cause.
func NewError(kind ErrorKind, message string) *PipelineError {
	return &PipelineError{Kind: kind, Message: message}
}

// WrapError returns a PipelineError wrapping cause.
func WrapError(kind ErrorKind, message string, cause error) *PipelineError {
	return &PipelineError{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the ErrorKind from err, or "" when err is not a
// PipelineError.
func KindOf(err error) ErrorKind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// ErrCancelled is the sentinel used by cancellation checkpoints.
var ErrCancelled = NewError(KindCancelled, "download cancelled")
