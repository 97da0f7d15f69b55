// Package pipeline sequences one recording through transcription,
// formatting, analysis and indexing. Each stage writes its artifact before
// the next stage starts, and the first failure halts the run.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/otherjamesbrown/meetmem/pkg/analysis"
	"github.com/otherjamesbrown/meetmem/pkg/artifact"
	"github.com/otherjamesbrown/meetmem/pkg/asr"
	mmerrors "github.com/otherjamesbrown/meetmem/pkg/errors"
	"github.com/otherjamesbrown/meetmem/pkg/logging"
	"github.com/otherjamesbrown/meetmem/pkg/observability"
	"github.com/otherjamesbrown/meetmem/pkg/transcript"
)

// Stage names, used in errors, metrics and spans.
const (
	StageTranscribe = "transcribe"
	StageFormat     = "format"
	StageAnalyze    = "analyze"
	StageIndex      = "index"
)

// DefaultOutputDir is where artifacts are written when no directory is set.
const DefaultOutputDir = "output"

// Analyzer produces an analysis from a transcript.
type Analyzer interface {
	Analyze(ctx context.Context, t *transcript.Transcript) (*analysis.Result, error)
}

// Indexer stores an analysis in the memory index and returns the meeting id
// it was stored under.
type Indexer interface {
	Add(ctx context.Context, r analysis.Result, meetingID string) (string, error)
}

// ProcessOptions controls a single run.
type ProcessOptions struct {
	// MeetingID overrides the id synthesized by the indexer.
	MeetingID string
}

// Outcome describes a run. On failure it holds whatever was completed.
type Outcome struct {
	RunID          string        `json:"run_id"`
	AudioPath      string        `json:"audio_path"`
	MeetingID      string        `json:"meeting_id,omitempty"`
	TranscriptPath string        `json:"transcript_path,omitempty"`
	AnalysisPath   string        `json:"analysis_path,omitempty"`
	FailedTasks    []string      `json:"failed_tasks,omitempty"`
	Duration       time.Duration `json:"duration"`
}

// Pipeline runs recordings through every stage.
type Pipeline struct {
	transcriber asr.Transcriber
	analyzer    Analyzer
	indexer     Indexer
	outputDir   string
	logger      logging.Logger
	metrics     *observability.Metrics
	tracer      *observability.Tracer
	newRunID    func() string
}

// Option configures the pipeline.
type Option func(*Pipeline)

// WithOutputDir sets the artifact directory.
func WithOutputDir(dir string) Option {
	return func(p *Pipeline) {
		if dir != "" {
			p.outputDir = dir
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger logging.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// WithTracer sets the tracer.
func WithTracer(t *observability.Tracer) Option {
	return func(p *Pipeline) {
		p.tracer = t
	}
}

// New creates a pipeline. A nil indexer stops runs after the analysis
// artifact is written.
func New(transcriber asr.Transcriber, analyzer Analyzer, indexer Indexer, opts ...Option) *Pipeline {
	p := &Pipeline{
		transcriber: transcriber,
		analyzer:    analyzer,
		indexer:     indexer,
		outputDir:   DefaultOutputDir,
		logger:      logging.NewNopLogger(),
		newRunID:    func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(logging.F("component", "pipeline"))
	return p
}

// OutputDir returns the artifact directory.
func (p *Pipeline) OutputDir() string { return p.outputDir }

// Process runs audioPath through every stage. A failure is returned as a
// *errors.PipelineError whose Path is the last artifact written, which is
// the input for retrying the failed stage. Artifacts from completed stages
// are never removed.
func (p *Pipeline) Process(ctx context.Context, audioPath string, opts ProcessOptions) (*Outcome, error) {
	start := time.Now()
	out := &Outcome{RunID: p.newRunID(), AudioPath: audioPath}

	ctx = logging.ContextWithRunID(ctx, out.RunID)
	ctx, span := p.tracer.StartRunSpan(ctx, out.RunID, audioPath)
	sh := observability.NewSpanHelper(span)
	defer sh.End()

	log := p.logger.WithContext(ctx)
	log.Info("Processing recording", logging.F("audio", audioPath))

	err := p.run(ctx, audioPath, opts, out)
	out.Duration = time.Since(start)
	if err != nil {
		code := mmerrors.CodeOf(err)
		sh.SetError(err, string(code))
		p.metrics.RecordRun(observability.StatusFailed)
		log.Error("Pipeline halted",
			logging.F("code", string(code)),
			logging.F("suggested_action", mmerrors.GetSuggestedAction(code)),
			logging.Err(err))
		return out, err
	}

	sh.SetMeeting(out.MeetingID)
	sh.SetSuccess()
	p.metrics.RecordRun(observability.StatusOK)
	log.Info("Pipeline complete",
		logging.F("meeting_id", out.MeetingID),
		logging.F("analysis", out.AnalysisPath),
		logging.F("duration", out.Duration))
	return out, nil
}

func (p *Pipeline) run(ctx context.Context, audioPath string, opts ProcessOptions, out *Outcome) error {
	var raw *transcript.RawTranscription
	err := p.stage(ctx, StageTranscribe, audioPath, func(ctx context.Context) error {
		if !artifact.Exists(audioPath) {
			return fmt.Errorf("%w: %s", mmerrors.ErrSourceNotFound, audioPath)
		}
		var err error
		raw, err = p.transcriber.Transcribe(ctx, audioPath)
		return err
	})
	if err != nil {
		return err
	}

	transcriptPath := artifact.TranscriptPath(p.outputDir, audioPath)
	var tr *transcript.Transcript
	err = p.stage(ctx, StageFormat, audioPath, func(context.Context) error {
		var err error
		if tr, err = transcript.Format(*raw); err != nil {
			return err
		}
		if err := transcript.Save(transcriptPath, tr); err != nil {
			return fmt.Errorf("%w: %w", mmerrors.ErrWriteFailed, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	out.TranscriptPath = transcriptPath

	analysisPath := artifact.AnalysisPath(p.outputDir, audioPath)
	var result *analysis.Result
	err = p.stage(ctx, StageAnalyze, transcriptPath, func(ctx context.Context) error {
		var err error
		if result, err = p.analyzer.Analyze(ctx, tr); err != nil {
			return err
		}
		if err := analysis.Save(analysisPath, result); err != nil {
			return fmt.Errorf("%w: %w", mmerrors.ErrWriteFailed, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	out.AnalysisPath = analysisPath
	for _, f := range result.Failures {
		out.FailedTasks = append(out.FailedTasks, string(f.Kind))
	}

	if p.indexer == nil {
		out.MeetingID = opts.MeetingID
		return nil
	}
	return p.stage(ctx, StageIndex, analysisPath, func(ctx context.Context) error {
		id, err := p.indexer.Add(ctx, *result, opts.MeetingID)
		if err != nil {
			return err
		}
		out.MeetingID = id
		return nil
	})
}

// stage runs fn under a span and records its duration. A failure is
// classified and tagged with retryPath.
func (p *Pipeline) stage(ctx context.Context, name, retryPath string, fn func(context.Context) error) error {
	ctx, span := p.tracer.StartStageSpan(ctx, name)
	sh := observability.NewSpanHelper(span)
	defer sh.End()

	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)

	if err != nil {
		pe := mmerrors.StageFailed(err, name, retryPath)
		p.metrics.RecordStage(name, elapsed, string(pe.Code))
		sh.SetError(err, string(pe.Code))
		return pe
	}

	p.metrics.RecordStage(name, elapsed, "")
	sh.SetSuccess()
	p.logger.WithContext(ctx).Debug("Stage complete",
		logging.F("stage", name),
		logging.F("elapsed_ms", elapsed.Milliseconds()))
	return nil
}
