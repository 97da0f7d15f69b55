package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/meetmem/pkg/analysis"
	"github.com/otherjamesbrown/meetmem/pkg/asr"
	mmerrors "github.com/otherjamesbrown/meetmem/pkg/errors"
	"github.com/otherjamesbrown/meetmem/pkg/llm"
	"github.com/otherjamesbrown/meetmem/pkg/memory"
	"github.com/otherjamesbrown/meetmem/pkg/observability"
	"github.com/otherjamesbrown/meetmem/pkg/transcript"
)

type analyzerFunc func(ctx context.Context, t *transcript.Transcript) (*analysis.Result, error)

func (f analyzerFunc) Analyze(ctx context.Context, t *transcript.Transcript) (*analysis.Result, error) {
	return f(ctx, t)
}

type indexerFunc func(ctx context.Context, r analysis.Result, meetingID string) (string, error)

func (f indexerFunc) Add(ctx context.Context, r analysis.Result, meetingID string) (string, error) {
	return f(ctx, r, meetingID)
}

// hashEmbedder gives every text a vector derived from its length.
type hashEmbedder struct{}

func (hashEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	return out, nil
}

func (hashEmbedder) Model() string { return "test" }

func aliceBobTranscriber() asr.Transcriber {
	return asr.TranscriberFunc(func(context.Context, string) (*transcript.RawTranscription, error) {
		return &transcript.RawTranscription{
			Segments: []transcript.RawSegment{
				transcript.NewRawSegment("Alice", 0, 2.4, "We decided to ship Friday"),
				transcript.NewRawSegment("Bob", 2.4, 5.1, "I'll write the release notes"),
			},
			Speakers: []string{"Alice", "Bob"},
			Text:     "We decided to ship Friday I'll write the release notes",
		}, nil
	})
}

func stubGenerator() llm.Generator {
	return llm.GeneratorFunc(func(_ context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
		switch {
		case strings.Contains(req.System, "Decision Extractor"):
			return &llm.CompletionResponse{Content: `[{"decision": "ship Friday", "made_by": "Alice", "context": "release timing"}]`}, nil
		case strings.Contains(req.System, "Action Item Tracker"):
			return &llm.CompletionResponse{Content: `[{"task": "write release notes", "owner": "Bob"}]`}, nil
		case strings.Contains(req.System, "Follow-up Analyzer"):
			return &llm.CompletionResponse{Content: `[]`}, nil
		default:
			return &llm.CompletionResponse{Content: ""}, nil
		}
	})
}

func writeAudio(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("RIFF"), 0o644))
	return path
}

func okAnalyzer() Analyzer {
	return analyzerFunc(func(context.Context, *transcript.Transcript) (*analysis.Result, error) {
		return &analysis.Result{Summary: "Shipping Friday."}, nil
	})
}

func TestProcess_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	outDir := filepath.Join(dir, "out")
	audio := writeAudio(t, dir, "standup.wav")

	store := memory.NewMemoryStore()
	index := memory.New(store, hashEmbedder{}, stubGenerator())
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	p := New(aliceBobTranscriber(), analysis.NewOrchestrator(stubGenerator()), index,
		WithOutputDir(outDir), WithMetrics(metrics))

	out, err := p.Process(context.Background(), audio, ProcessOptions{MeetingID: "standup_1"})
	require.NoError(t, err)

	assert.NotEmpty(t, out.RunID)
	assert.Equal(t, "standup_1", out.MeetingID)
	assert.Equal(t, filepath.Join(outDir, "standup_transcript.json"), out.TranscriptPath)
	assert.Equal(t, filepath.Join(outDir, "standup_analysis.json"), out.AnalysisPath)
	assert.Equal(t, []string{"summary"}, out.FailedTasks)

	tr, err := transcript.Load(out.TranscriptPath)
	require.NoError(t, err)
	assert.Equal(t, "We decided to ship Friday I'll write the release notes", tr.FullText)
	assert.Equal(t, "0:00:02", tr.Segments[0].EndTime)

	saved, err := analysis.Load(out.AnalysisPath)
	require.NoError(t, err)
	require.Len(t, saved.Decisions, 1)
	require.Len(t, saved.ActionItems, 1)
	assert.Equal(t, "", saved.Summary)

	records, err := store.Where(context.Background(), memory.Filter{MeetingID: "standup_1"})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, memory.Section("decisions"), records[0].Metadata.Section)
	assert.Equal(t, memory.Section("action_items"), records[1].Metadata.Section)
	assert.Equal(t, "Bob", records[1].Metadata.Speaker)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RunsTotal.WithLabelValues(observability.StatusOK)))
	assert.Equal(t, 4, testutil.CollectAndCount(metrics.StageSeconds))
}

func TestProcess_Failures(t *testing.T) {
	malformed := asr.TranscriberFunc(func(context.Context, string) (*transcript.RawTranscription, error) {
		text := "hello"
		return &transcript.RawTranscription{Segments: []transcript.RawSegment{{Text: &text}}}, nil
	})
	asrDown := asr.TranscriberFunc(func(context.Context, string) (*transcript.RawTranscription, error) {
		return nil, errors.New("whisperx: dial tcp: connection refused")
	})
	analyzeFails := analyzerFunc(func(context.Context, *transcript.Transcript) (*analysis.Result, error) {
		return nil, context.DeadlineExceeded
	})
	indexDown := indexerFunc(func(context.Context, analysis.Result, string) (string, error) {
		return "", mmerrors.IndexError("add", errors.New("embedding service down"))
	})
	okIndexer := indexerFunc(func(_ context.Context, _ analysis.Result, id string) (string, error) {
		return id, nil
	})

	tests := []struct {
		name           string
		missingAudio   bool
		transcriber    asr.Transcriber
		analyzer       Analyzer
		indexer        Indexer
		wantStage      string
		wantCode       mmerrors.ErrorCode
		wantPath       string
		wantTranscript bool
		wantAnalysis   bool
	}{
		{
			name:         "missing audio",
			missingAudio: true,
			transcriber:  aliceBobTranscriber(),
			analyzer:     okAnalyzer(),
			indexer:      okIndexer,
			wantStage:    StageTranscribe,
			wantCode:     mmerrors.ErrCodeSourceNotFound,
			wantPath:     "audio",
		},
		{
			name:        "transcription service down",
			transcriber: asrDown,
			analyzer:    okAnalyzer(),
			indexer:     okIndexer,
			wantStage:   StageTranscribe,
			wantCode:    mmerrors.ErrCodeModelUnavailable,
			wantPath:    "audio",
		},
		{
			name:        "malformed segment",
			transcriber: malformed,
			analyzer:    okAnalyzer(),
			indexer:     okIndexer,
			wantStage:   StageFormat,
			wantCode:    mmerrors.ErrCodeMalformedSegment,
			wantPath:    "audio",
		},
		{
			name:           "analysis times out",
			transcriber:    aliceBobTranscriber(),
			analyzer:       analyzeFails,
			indexer:        okIndexer,
			wantStage:      StageAnalyze,
			wantCode:       mmerrors.ErrCodeTimeout,
			wantPath:       "transcript",
			wantTranscript: true,
		},
		{
			name:           "index unavailable",
			transcriber:    aliceBobTranscriber(),
			analyzer:       okAnalyzer(),
			indexer:        indexDown,
			wantStage:      StageIndex,
			wantCode:       mmerrors.ErrCodeIndexUnavailable,
			wantPath:       "analysis",
			wantTranscript: true,
			wantAnalysis:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			outDir := filepath.Join(dir, "out")
			audio := filepath.Join(dir, "retro.m4a")
			if !tt.missingAudio {
				writeAudio(t, dir, "retro.m4a")
			}
			metrics := observability.NewMetrics(prometheus.NewRegistry())

			p := New(tt.transcriber, tt.analyzer, tt.indexer, WithOutputDir(outDir), WithMetrics(metrics))
			out, err := p.Process(context.Background(), audio, ProcessOptions{MeetingID: "m"})
			require.Error(t, err)
			require.NotNil(t, out)

			var pe *mmerrors.PipelineError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tt.wantStage, pe.Stage)
			assert.Equal(t, tt.wantCode, pe.Code)

			paths := map[string]string{
				"audio":      audio,
				"transcript": filepath.Join(outDir, "retro_transcript.json"),
				"analysis":   filepath.Join(outDir, "retro_analysis.json"),
			}
			assert.Equal(t, paths[tt.wantPath], pe.Path)

			_, statErr := os.Stat(paths["transcript"])
			assert.Equal(t, tt.wantTranscript, statErr == nil, "transcript artifact")
			_, statErr = os.Stat(paths["analysis"])
			assert.Equal(t, tt.wantAnalysis, statErr == nil, "analysis artifact")

			assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RunsTotal.WithLabelValues(observability.StatusFailed)))
			assert.Equal(t, 1.0, testutil.ToFloat64(metrics.StageFailuresTotal.WithLabelValues(tt.wantStage, string(tt.wantCode))))
		})
	}
}

func TestProcess_RetryAfterIndexFailureKeepsArtifacts(t *testing.T) {
	dir := t.TempDir()
	audio := writeAudio(t, dir, "sync.wav")

	calls := 0
	flaky := indexerFunc(func(_ context.Context, _ analysis.Result, id string) (string, error) {
		calls++
		if calls == 1 {
			return "", mmerrors.IndexError("add", errors.New("down"))
		}
		return id, nil
	})
	p := New(aliceBobTranscriber(), okAnalyzer(), flaky, WithOutputDir(dir))

	_, err := p.Process(context.Background(), audio, ProcessOptions{MeetingID: "sync"})
	require.Error(t, err)
	assert.True(t, mmerrors.IsErrorRetryable(err))

	var pe *mmerrors.PipelineError
	require.ErrorAs(t, err, &pe)
	result, err := analysis.Load(pe.Path)
	require.NoError(t, err)

	id, err := flaky.Add(context.Background(), *result, "sync")
	require.NoError(t, err)
	assert.Equal(t, "sync", id)
}

func TestProcess_NilIndexerStopsAfterAnalysis(t *testing.T) {
	dir := t.TempDir()
	audio := writeAudio(t, dir, "demo.mp3")

	p := New(aliceBobTranscriber(), okAnalyzer(), nil, WithOutputDir(dir))
	out, err := p.Process(context.Background(), audio, ProcessOptions{})
	require.NoError(t, err)
	assert.FileExists(t, out.AnalysisPath)
	assert.Empty(t, out.MeetingID)
}

func TestNew_Defaults(t *testing.T) {
	p := New(aliceBobTranscriber(), okAnalyzer(), nil)
	assert.Equal(t, DefaultOutputDir, p.OutputDir())

	p = New(aliceBobTranscriber(), okAnalyzer(), nil, WithOutputDir(""))
	assert.Equal(t, DefaultOutputDir, p.OutputDir())
}
