package errors

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"testing"
)

func TestClassifyError_Nil(t *testing.T) {
	if result := ClassifyError(nil, "transcribe"); result != nil {
		t.Errorf("Expected nil for nil error, got %v", result)
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"source sentinel", fmt.Errorf("stat x.wav: %w", ErrSourceNotFound), ErrCodeSourceNotFound},
		{"fs not exist", fmt.Errorf("open: %w", fs.ErrNotExist), ErrCodeSourceNotFound},
		{"malformed segment", &MalformedSegmentError{Index: 0, Field: "text"}, ErrCodeMalformedSegment},
		{"task failure", &TaskError{Task: "summary"}, ErrCodeExtractionFailure},
		{"index", IndexError("search", errors.New("boom")), ErrCodeIndexUnavailable},
		{"write failed", fmt.Errorf("%w: %w", ErrWriteFailed, fs.ErrNotExist), ErrCodeWriteFailed},
		{"deadline", context.DeadlineExceeded, ErrCodeTimeout},
		{"cancelled", context.Canceled, ErrCodeContextCancelled},
		{"rate limit", errors.New("HTTP 429 Too Many Requests"), ErrCodeRateLimit},
		{"unavailable", errors.New("dial tcp: connection refused"), ErrCodeModelUnavailable},
		{"other", errors.New("something odd"), ErrCodeProcessingError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pe := ClassifyError(tt.err, "stage")
			if pe == nil {
				t.Fatal("Expected non-nil PipelineError")
			}
			if pe.Code != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, pe.Code)
			}
			if pe.Stage != "stage" {
				t.Errorf("Expected stage 'stage', got %s", pe.Stage)
			}
			if !errors.Is(pe, tt.err) {
				t.Error("Expected cause to be preserved")
			}
		})
	}
}

func TestStageFailed(t *testing.T) {
	pe := StageFailed(IndexError("add", errors.New("down")), "index", "/out/standup_analysis.json")

	if pe.Path != "/out/standup_analysis.json" {
		t.Errorf("Expected artifact path, got %q", pe.Path)
	}
	if pe.Code != ErrCodeIndexUnavailable {
		t.Errorf("Expected index_unavailable, got %s", pe.Code)
	}
	if !IsErrorRetryable(pe) {
		t.Error("Expected index_unavailable to be retryable")
	}
	if StageFailed(nil, "index", "") != nil {
		t.Error("Expected nil for nil error")
	}
}

func TestPipelineError_Error(t *testing.T) {
	pe := &PipelineError{Code: ErrCodeWriteFailed, Stage: "write_transcript", Message: "disk full"}
	if pe.Error() != "write_failed: write_transcript: disk full" {
		t.Errorf("unexpected message %q", pe.Error())
	}

	pe = &PipelineError{Code: ErrCodeProcessingError, Message: "odd"}
	if pe.Error() != "processing_error: odd" {
		t.Errorf("unexpected message %q", pe.Error())
	}
}

func TestCodeOf(t *testing.T) {
	if got := CodeOf(&PipelineError{Code: ErrCodeWriteFailed}); got != ErrCodeWriteFailed {
		t.Errorf("Expected write_failed, got %s", got)
	}
	if got := CodeOf(context.Canceled); got != ErrCodeContextCancelled {
		t.Errorf("Expected context_cancelled, got %s", got)
	}
}
