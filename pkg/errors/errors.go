// Package errors provides the domain error types for meetmem.
//
// Sentinel errors identify the failure classes a caller can act on. Each
// component wraps them with fmt.Errorf("...: %w", ...) so errors.Is checks
// work across package boundaries.
//
// Usage:
//
//	import mmerrors "github.com/otherjamesbrown/meetmem/pkg/errors"
//
//	if mmerrors.IsSourceNotFound(err) {
//	    // the audio path does not exist
//	}
package errors

import (
	"errors"
	"fmt"
)

// Domain errors.
var (
	// ErrSourceNotFound indicates the input audio or artifact path does not exist.
	ErrSourceNotFound = errors.New("source not found")

	// ErrMalformedSegment indicates a raw transcription segment is missing a required field.
	ErrMalformedSegment = errors.New("malformed segment")

	// ErrExtractionTaskFailure indicates one extraction task produced no valid output.
	ErrExtractionTaskFailure = errors.New("extraction task failure")

	// ErrIndexUnavailable indicates the memory store or embedding collaborator failed.
	ErrIndexUnavailable = errors.New("index unavailable")

	// ErrWriteFailed indicates a stage artifact could not be written.
	ErrWriteFailed = errors.New("artifact write failed")

	// ErrValidation indicates invalid input or configuration.
	ErrValidation = errors.New("validation error")

	// ErrNotFound indicates the requested record or credential was not found.
	ErrNotFound = errors.New("not found")
)

// IsSourceNotFound reports whether any error in err's chain is ErrSourceNotFound.
func IsSourceNotFound(err error) bool {
	return errors.Is(err, ErrSourceNotFound)
}

// IsMalformedSegment reports whether any error in err's chain is ErrMalformedSegment.
func IsMalformedSegment(err error) bool {
	return errors.Is(err, ErrMalformedSegment)
}

// IsExtractionTaskFailure reports whether any error in err's chain is ErrExtractionTaskFailure.
func IsExtractionTaskFailure(err error) bool {
	return errors.Is(err, ErrExtractionTaskFailure)
}

// IsIndexUnavailable reports whether any error in err's chain is ErrIndexUnavailable.
func IsIndexUnavailable(err error) bool {
	return errors.Is(err, ErrIndexUnavailable)
}

// IsValidation reports whether any error in err's chain is ErrValidation.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsNotFound reports whether any error in err's chain is ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// MalformedSegmentError identifies the offending segment of a raw transcription.
type MalformedSegmentError struct {
	Index int
	Field string
}

func (e *MalformedSegmentError) Error() string {
	return fmt.Sprintf("%s: segment %d missing %q", ErrMalformedSegment, e.Index, e.Field)
}

func (e *MalformedSegmentError) Unwrap() error {
	return ErrMalformedSegment
}

// TaskError records which extraction task failed and why.
type TaskError struct {
	Task  string
	Cause error
}

func (e *TaskError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", ErrExtractionTaskFailure, e.Task)
	}
	return fmt.Sprintf("%s: %s: %v", ErrExtractionTaskFailure, e.Task, e.Cause)
}

// Unwrap exposes both the sentinel and the underlying cause.
func (e *TaskError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrExtractionTaskFailure}
	}
	return []error{ErrExtractionTaskFailure, e.Cause}
}

// IndexError wraps a collaborator failure as ErrIndexUnavailable.
func IndexError(op string, cause error) error {
	if cause == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrIndexUnavailable, op, cause)
}
