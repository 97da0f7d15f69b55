package analysis

import (
	"context"
	"errors"
	"sync"
	"time"

	mmerrors "github.com/otherjamesbrown/meetmem/pkg/errors"
	"github.com/otherjamesbrown/meetmem/pkg/llm"
	"github.com/otherjamesbrown/meetmem/pkg/logging"
	"github.com/otherjamesbrown/meetmem/pkg/observability"
	"github.com/otherjamesbrown/meetmem/pkg/transcript"
)

// Defaults for the extraction tasks.
const (
	DefaultTemperature      = 0.1
	DefaultMaxContextTokens = 6000
)

// Orchestrator runs the extraction tasks against a transcript and assembles
// their outputs into a Result.
type Orchestrator struct {
	gen              llm.Generator
	tasks            []Task
	model            string
	temperature      float64
	maxContextTokens int
	tokens           *llm.TokenCounter
	logger           logging.Logger
	metrics          *observability.Metrics
	tracer           *observability.Tracer
	now              func() time.Time
}

// Option configures the orchestrator.
type Option func(*Orchestrator)

// WithTasks replaces the default tasks.
func WithTasks(tasks []Task) Option {
	return func(o *Orchestrator) {
		o.tasks = tasks
	}
}

// WithModel sets the generation model.
func WithModel(model string) Option {
	return func(o *Orchestrator) {
		if model != "" {
			o.model = model
		}
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(o *Orchestrator) {
		o.temperature = t
	}
}

// WithTokenBudget sets the prompt size above which a warning is logged, and
// the counter used to measure it.
func WithTokenBudget(maxTokens int, counter *llm.TokenCounter) Option {
	return func(o *Orchestrator) {
		o.maxContextTokens = maxTokens
		o.tokens = counter
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger logging.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithTracer sets the tracer.
func WithTracer(t *observability.Tracer) Option {
	return func(o *Orchestrator) {
		o.tracer = t
	}
}

// WithClock sets the time source for the result timestamp.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// NewOrchestrator creates an orchestrator around a generation collaborator.
func NewOrchestrator(gen llm.Generator, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		gen:              gen,
		tasks:            DefaultTasks(),
		model:            llm.DefaultModel,
		temperature:      DefaultTemperature,
		maxContextTokens: DefaultMaxContextTokens,
		logger:           logging.NewNopLogger(),
		now:              time.Now,
	}

	for _, opt := range opts {
		opt(o)
	}

	o.logger = o.logger.With(logging.F("component", "analysis"))
	return o
}

type taskOutcome struct {
	output Output
	err    error
}

// Analyze runs every task concurrently with identical context. A task whose
// output fails validation leaves its section empty and is recorded in
// Result.Failures; siblings are unaffected. Analyze only returns an error
// for a nil transcript or a cancelled context.
func (o *Orchestrator) Analyze(ctx context.Context, t *transcript.Transcript) (*Result, error) {
	if t == nil {
		return nil, errors.New("analyze: transcript is nil")
	}

	ctx, span := o.tracer.StartAnalyzeSpan(ctx, o.model)
	defer span.End()

	contextJSON, err := NewTaskContext(t).JSON()
	if err != nil {
		return nil, err
	}

	log := o.logger.WithContext(ctx)
	log.Info("Starting analysis",
		logging.F("model", o.model),
		logging.F("tasks", len(o.tasks)),
		logging.F("segments", len(t.Segments)))

	outcomes := make([]taskOutcome, len(o.tasks))
	var wg sync.WaitGroup
	for i, task := range o.tasks {
		wg.Add(1)
		go func(i int, task Task) {
			defer wg.Done()
			out, err := o.runTask(ctx, task, contextJSON)
			outcomes[i] = taskOutcome{output: out, err: err}
		}(i, task)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &Result{
		Timestamp:   o.now(),
		Decisions:   []Decision{},
		ActionItems: []ActionItem{},
		FollowUps:   []FollowUp{},
	}

	for i, task := range o.tasks {
		oc := outcomes[i]
		if oc.err != nil {
			log.Warn("Extraction task failed, section left empty",
				logging.F("task", string(task.Kind)),
				logging.Err(oc.err))
			result.Failures = append(result.Failures, TaskFailure{Kind: task.Kind, Err: oc.err})
			continue
		}
		switch task.Kind {
		case KindSummary:
			result.Summary = oc.output.Summary
		case KindDecisions:
			result.Decisions = oc.output.Decisions
		case KindActionItems:
			result.ActionItems = oc.output.ActionItems
		case KindFollowUps:
			result.FollowUps = oc.output.FollowUps
		}
	}

	aligned := alignTimestamps(t, result)

	log.Info("Analysis complete",
		logging.F("decisions", len(result.Decisions)),
		logging.F("action_items", len(result.ActionItems)),
		logging.F("follow_ups", len(result.FollowUps)),
		logging.F("aligned", aligned),
		logging.F("failed_tasks", len(result.Failures)))

	return result, nil
}

func (o *Orchestrator) runTask(ctx context.Context, task Task, contextJSON string) (out Output, err error) {
	start := time.Now()
	ctx, span := o.tracer.StartTaskSpan(ctx, string(task.Kind), o.model)
	sh := observability.NewSpanHelper(span)
	defer func() {
		status := observability.StatusOK
		if err != nil {
			status = observability.StatusFailed
			sh.SetError(err, string(mmerrors.ErrCodeExtractionFailure))
		} else {
			sh.SetSuccess()
		}
		o.metrics.RecordTask(string(task.Kind), status, time.Since(start))
		sh.End()
	}()

	system, err := task.SystemPrompt()
	if err != nil {
		return Output{}, &mmerrors.TaskError{Task: string(task.Kind), Cause: err}
	}
	prompt, err := task.Prompt(contextJSON)
	if err != nil {
		return Output{}, &mmerrors.TaskError{Task: string(task.Kind), Cause: err}
	}

	tokens := o.tokens.Count(system + prompt)
	o.metrics.RecordPromptTokens(string(task.Kind), tokens)
	if o.maxContextTokens > 0 && tokens > o.maxContextTokens {
		o.logger.Warn("Prompt exceeds token budget",
			logging.F("task", string(task.Kind)),
			logging.F("tokens", tokens),
			logging.F("budget", o.maxContextTokens))
	}

	resp, err := o.gen.Complete(ctx, &llm.CompletionRequest{
		Model:       o.model,
		System:      system,
		Prompt:      prompt,
		Temperature: o.temperature,
	})
	if err != nil {
		return Output{}, &mmerrors.TaskError{Task: string(task.Kind), Cause: err}
	}
	sh.SetUsage(resp.InputTokens, resp.OutputTokens)
	o.metrics.RecordUsage(string(task.Kind), resp.InputTokens, resp.OutputTokens)

	out, err = task.Parse(resp.Content)
	if err != nil {
		return Output{}, &mmerrors.TaskError{Task: string(task.Kind), Cause: err}
	}
	return out, nil
}

// alignTimestamps attaches the time range of the first segment containing
// each decision or action item text. It returns how many items were aligned.
func alignTimestamps(t *transcript.Transcript, r *Result) int {
	n := 0
	for i := range r.Decisions {
		if span, ok := transcript.Align(t, r.Decisions[i].Decision); ok {
			r.Decisions[i].StartTime = span.StartTime
			r.Decisions[i].EndTime = span.EndTime
			n++
		}
	}
	for i := range r.ActionItems {
		if span, ok := transcript.Align(t, r.ActionItems[i].Task); ok {
			r.ActionItems[i].StartTime = span.StartTime
			r.ActionItems[i].EndTime = span.EndTime
			n++
		}
	}
	return n
}
