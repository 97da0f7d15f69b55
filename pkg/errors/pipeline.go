package errors

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
)

// ErrorCode represents a classified pipeline error.
type ErrorCode string

const (
	ErrCodeSourceNotFound    ErrorCode = "source_not_found"
	ErrCodeMalformedSegment  ErrorCode = "malformed_segment"
	ErrCodeExtractionFailure ErrorCode = "extraction_failure"
	ErrCodeIndexUnavailable  ErrorCode = "index_unavailable"
	ErrCodeTimeout           ErrorCode = "timeout"
	ErrCodeContextCancelled  ErrorCode = "context_cancelled"
	ErrCodeRateLimit         ErrorCode = "rate_limit"
	ErrCodeModelUnavailable  ErrorCode = "model_unavailable"
	ErrCodeWriteFailed       ErrorCode = "write_failed"
	ErrCodeProcessingError   ErrorCode = "processing_error"
)

// PipelineError is a structured error for a failed pipeline stage. Path is
// the last artifact durably written before the failure, which is the input a
// retry of the failed stage should start from.
type PipelineError struct {
	Code    ErrorCode
	Stage   string
	Path    string
	Message string
	Cause   error
}

func (e *PipelineError) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Stage, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// ClassifyError inspects an error and returns a *PipelineError with the appropriate code.
// Domain sentinels take precedence over message patterns.
func ClassifyError(err error, stage string) *PipelineError {
	if err == nil {
		return nil
	}

	pe := &PipelineError{
		Stage:   stage,
		Message: err.Error(),
		Cause:   err,
	}

	switch {
	case errors.Is(err, ErrWriteFailed):
		pe.Code = ErrCodeWriteFailed
		return pe
	case errors.Is(err, ErrSourceNotFound), errors.Is(err, fs.ErrNotExist):
		pe.Code = ErrCodeSourceNotFound
		return pe
	case errors.Is(err, ErrMalformedSegment):
		pe.Code = ErrCodeMalformedSegment
		return pe
	case errors.Is(err, ErrExtractionTaskFailure):
		pe.Code = ErrCodeExtractionFailure
		return pe
	case errors.Is(err, ErrIndexUnavailable):
		pe.Code = ErrCodeIndexUnavailable
		return pe
	case errors.Is(err, context.DeadlineExceeded):
		pe.Code = ErrCodeTimeout
		pe.Message = "operation timed out"
		return pe
	case errors.Is(err, context.Canceled):
		pe.Code = ErrCodeContextCancelled
		pe.Message = "operation cancelled"
		return pe
	}

	lower := strings.ToLower(pe.Message)

	if strings.Contains(lower, "rate limit") || strings.Contains(lower, "429") || strings.Contains(lower, "too many requests") || strings.Contains(lower, "quota exceeded") {
		pe.Code = ErrCodeRateLimit
		return pe
	}

	if strings.Contains(lower, "connection refused") || strings.Contains(lower, "unavailable") || strings.Contains(lower, "503") || strings.Contains(lower, "no such host") {
		pe.Code = ErrCodeModelUnavailable
		return pe
	}

	pe.Code = ErrCodeProcessingError
	return pe
}

// StageFailed builds a PipelineError for stage, keeping the classified code
// and recording the artifact path a retry should start from.
func StageFailed(err error, stage, path string) *PipelineError {
	pe := ClassifyError(err, stage)
	if pe == nil {
		return nil
	}
	pe.Path = path
	return pe
}

// IsErrorRetryable returns true if the error is likely transient and worth retrying.
func IsErrorRetryable(err error) bool {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return IsRetryable(pe.Code)
	}
	return false
}

// CodeOf returns the classified code of err, or ErrCodeProcessingError.
func CodeOf(err error) ErrorCode {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Code
	}
	if c := ClassifyError(err, ""); c != nil {
		return c.Code
	}
	return ErrCodeProcessingError
}
