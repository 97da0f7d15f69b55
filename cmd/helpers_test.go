package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/meetmem/config"
	"github.com/otherjamesbrown/meetmem/credentials"
	"github.com/otherjamesbrown/meetmem/pkg/asr"
	"github.com/otherjamesbrown/meetmem/pkg/llm"
	"github.com/otherjamesbrown/meetmem/pkg/logging"
	"github.com/otherjamesbrown/meetmem/pkg/memory"
	"github.com/otherjamesbrown/meetmem/pkg/memory/embedcache"
	"github.com/otherjamesbrown/meetmem/pkg/observability"
)

// testEncryptionKey is a valid 32-byte (64 hex chars) encryption key for testing.
const testEncryptionKey = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

const standupTXT = `00:00 : Alice : We decided to ship Friday
00:03 : Bob : I'll write the release notes
`

// fakeLLM answers each analysis task by its role and embeds texts by length.
type fakeLLM struct {
	calls int
}

func (f *fakeLLM) Complete(_ context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.calls++
	switch {
	case strings.Contains(req.System, "Meeting Summarizer"):
		return &llm.CompletionResponse{Content: "Shipping Friday."}, nil
	case strings.Contains(req.System, "Decision Extractor"):
		return &llm.CompletionResponse{Content: `[{"decision": "ship Friday", "made_by": "Alice", "context": "release timing"}]`}, nil
	case strings.Contains(req.System, "Action Item Tracker"):
		return &llm.CompletionResponse{Content: `[{"task": "write release notes", "owner": "Bob"}]`}, nil
	case strings.Contains(req.System, "Follow-up Analyzer"):
		return &llm.CompletionResponse{Content: `[]`}, nil
	default:
		return &llm.CompletionResponse{Content: "Alice decided to ship Friday."}, nil
	}
}

func (f *fakeLLM) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	return out, nil
}

func (f *fakeLLM) Model() string { return "test-embed" }

// testEnv is an isolated workspace with fake collaborators behind Deps.
type testEnv struct {
	dir    string
	outDir string
	format config.OutputFormat
	store  *memory.MemoryStore
	llm    *fakeLLM
	deps   *Deps
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	t.Setenv(config.EnvConfigDir, dir)
	t.Setenv(credentials.EnvEncryptionKey, testEncryptionKey)
	t.Setenv(credentials.EnvPassphrase, "")
	for _, env := range credentials.ProviderEnv {
		t.Setenv(env, "")
	}

	env := &testEnv{
		dir:    dir,
		outDir: filepath.Join(dir, "out"),
		format: config.OutputFormatText,
		store:  memory.NewMemoryStore(),
		llm:    &fakeLLM{},
	}
	env.deps = &Deps{
		LoadConfig: func() (*config.Config, error) {
			cfg := config.DefaultConfig()
			cfg.OutputDir = env.outDir
			cfg.OutputFormat = env.format
			cfg.Memory.Backend = config.BackendMemory
			cfg.ASR.Transcriber = config.TranscriberFile
			return cfg, nil
		},
		NewLogger:       func(*config.Config) logging.Logger { return logging.NewNopLogger() },
		OpenCredentials: credentials.NewStore,
		NewTranscriber: func(cfg *config.Config, _ string, logger logging.Logger) (asr.Transcriber, error) {
			return asr.NewFileTranscriber(asr.WithFileLogger(logger)), nil
		},
		NewLLM: func(*config.Config, string) (LLM, error) { return env.llm, nil },
		OpenStore: func(context.Context, *config.Config, logging.Logger, prometheus.Registerer) (memory.Store, error) {
			return env.store, nil
		},
		OpenCache: func(context.Context, *config.Config) (embedcache.KV, func() error, error) {
			return nil, nil, nil
		},
		Registry: prometheus.NewRegistry(),
		Tracer:   observability.NewTracer(),
	}
	return env
}

// writeRecording writes an audio placeholder with a transcript sidecar.
func (e *testEnv) writeRecording(t *testing.T, name string) string {
	t.Helper()
	audio := filepath.Join(e.dir, name+".wav")
	require.NoError(t, os.WriteFile(audio, []byte("RIFF"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(e.dir, name+".txt"), []byte(standupTXT), 0o644))
	return audio
}

func execute(t *testing.T, c *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	c.SetArgs(args)
	c.SetOut(&out)
	c.SetErr(&out)
	c.SetIn(strings.NewReader(""))
	err := c.ExecuteContext(context.Background())
	return out.String(), err
}
