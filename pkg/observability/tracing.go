package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// TracerName is the name of the tracer for meetmem operations.
	TracerName = "meetmem"
)

// Span attribute keys
const (
	AttrRunID        = "run_id"
	AttrMeetingID    = "meeting_id"
	AttrSourcePath   = "source_path"
	AttrStage        = "stage"
	AttrTask         = "task"
	AttrModel        = "model"
	AttrOperation    = "operation"
	AttrInputTokens  = "input_tokens"
	AttrOutputTokens = "output_tokens"
	AttrRecords      = "records"
	AttrErrorCode    = "error_code"
)

// Span names
const (
	SpanProcessMeeting = "meetmem.process_meeting"
	SpanAnalyze        = "meetmem.analyze"
)

// Tracer provides tracing for pipeline stages, extraction tasks and index operations.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a tracer from the global OpenTelemetry provider.
func NewTracer() *Tracer {
	return &Tracer{tracer: otel.Tracer(TracerName)}
}

// NewTracerWithProvider creates a tracer from an explicit provider.
func NewTracerWithProvider(tp trace.TracerProvider) *Tracer {
	return &Tracer{tracer: tp.Tracer(TracerName)}
}

func (t *Tracer) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if t == nil || t.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// StartRunSpan starts the root span for processing one recording.
func (t *Tracer) StartRunSpan(ctx context.Context, runID, sourcePath string) (context.Context, trace.Span) {
	return t.start(ctx, SpanProcessMeeting,
		attribute.String(AttrRunID, runID),
		attribute.String(AttrSourcePath, sourcePath),
	)
}

// StartStageSpan starts a span for a pipeline stage.
func (t *Tracer) StartStageSpan(ctx context.Context, stage string) (context.Context, trace.Span) {
	return t.start(ctx, fmt.Sprintf("meetmem.stage.%s", stage), attribute.String(AttrStage, stage))
}

// StartAnalyzeSpan starts the span that parents the extraction tasks.
func (t *Tracer) StartAnalyzeSpan(ctx context.Context, model string) (context.Context, trace.Span) {
	return t.start(ctx, SpanAnalyze, attribute.String(AttrModel, model))
}

// StartTaskSpan starts a span for one extraction task.
func (t *Tracer) StartTaskSpan(ctx context.Context, task, model string) (context.Context, trace.Span) {
	return t.start(ctx, fmt.Sprintf("meetmem.task.%s", task),
		attribute.String(AttrTask, task),
		attribute.String(AttrModel, model),
	)
}

// StartIndexSpan starts a span for a memory index operation.
func (t *Tracer) StartIndexSpan(ctx context.Context, op string) (context.Context, trace.Span) {
	return t.start(ctx, fmt.Sprintf("meetmem.memory.%s", op), attribute.String(AttrOperation, op))
}

// SpanHelper provides convenient methods for working with a span.
type SpanHelper struct {
	span trace.Span
}

// NewSpanHelper creates a new span helper for the given span.
func NewSpanHelper(span trace.Span) *SpanHelper {
	return &SpanHelper{span: span}
}

// SetMeeting sets the meeting id attribute.
func (h *SpanHelper) SetMeeting(meetingID string) {
	h.span.SetAttributes(attribute.String(AttrMeetingID, meetingID))
}

// SetUsage sets token usage attributes.
func (h *SpanHelper) SetUsage(inputTokens, outputTokens int) {
	h.span.SetAttributes(
		attribute.Int(AttrInputTokens, inputTokens),
		attribute.Int(AttrOutputTokens, outputTokens),
	)
}

// SetRecords sets the number of records touched.
func (h *SpanHelper) SetRecords(n int) {
	h.span.SetAttributes(attribute.Int(AttrRecords, n))
}

// SetError records an error on the span.
func (h *SpanHelper) SetError(err error, code string) {
	h.span.SetStatus(codes.Error, err.Error())
	if code != "" {
		h.span.SetAttributes(attribute.String(AttrErrorCode, code))
	}
	h.span.RecordError(err)
}

// SetSuccess marks the span as successful.
func (h *SpanHelper) SetSuccess() {
	h.span.SetStatus(codes.Ok, "")
}

// End ends the span.
func (h *SpanHelper) End() {
	h.span.End()
}
