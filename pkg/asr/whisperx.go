package asr

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/otherjamesbrown/meetmem/pkg/artifact"
	"github.com/otherjamesbrown/meetmem/pkg/logging"
	"github.com/otherjamesbrown/meetmem/pkg/transcript"
)

const (
	whisperXCommand        = "uvx"
	whisperXPackage        = "whisperx"
	whisperXOutputFormat   = "json"
	whisperXBatchSize      = "16"
	whisperXCPUComputeType = "float32"
)

type commandRunner func(ctx context.Context, name string, args ...string) error

// WhisperX runs the whisperx CLI through uvx and reads its JSON output.
type WhisperX struct {
	model       string
	device      string
	language    string
	hfToken     string
	minSpeakers int
	maxSpeakers int
	run         commandRunner
	logger      logging.Logger
}

var _ Transcriber = (*WhisperX)(nil)

// Option configures WhisperX.
type Option func(*WhisperX)

// WithModel sets the Whisper model name.
func WithModel(model string) Option {
	return func(w *WhisperX) {
		if model != "" {
			w.model = model
		}
	}
}

// WithDevice sets the inference device; empty detects one.
func WithDevice(device string) Option {
	return func(w *WhisperX) {
		w.device = device
	}
}

// WithLanguage sets the spoken language.
func WithLanguage(lang string) Option {
	return func(w *WhisperX) {
		if lang != "" {
			w.language = lang
		}
	}
}

// WithHFToken sets the Hugging Face token used for diarization.
func WithHFToken(token string) Option {
	return func(w *WhisperX) {
		w.hfToken = strings.TrimSpace(token)
	}
}

// WithSpeakerBounds sets the diarization speaker range.
func WithSpeakerBounds(minSpeakers, maxSpeakers int) Option {
	return func(w *WhisperX) {
		if minSpeakers > 0 {
			w.minSpeakers = minSpeakers
		}
		if maxSpeakers >= w.minSpeakers {
			w.maxSpeakers = maxSpeakers
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger logging.Logger) Option {
	return func(w *WhisperX) {
		w.logger = logger
	}
}

// WithCommandRunner replaces process execution, for tests.
func WithCommandRunner(run func(ctx context.Context, name string, args ...string) error) Option {
	return func(w *WhisperX) {
		w.run = run
	}
}

// NewWhisperX creates a WhisperX transcriber.
func NewWhisperX(opts ...Option) *WhisperX {
	w := &WhisperX{
		model:       DefaultModel,
		language:    DefaultLanguage,
		minSpeakers: MinSpeakers,
		maxSpeakers: MaxSpeakers,
		run:         defaultCommandRunner,
		logger:      logging.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.device == "" {
		w.device = DetectDevice()
	}
	w.logger = w.logger.With(logging.F("component", "asr"))
	return w
}

// Device returns the inference device in use.
func (w *WhisperX) Device() string { return w.device }

// Ready reports whether the uvx launcher is on PATH.
func (w *WhisperX) Ready() error {
	if _, err := exec.LookPath(whisperXCommand); err != nil {
		return fmt.Errorf("could not find %q on PATH: %w", whisperXCommand, err)
	}
	return nil
}

func (w *WhisperX) buildArgs(source, outputDir string) []string {
	args := []string{
		whisperXPackage,
		source,
		"--model", w.model,
		"--batch_size", whisperXBatchSize,
		"--output_dir", outputDir,
		"--output_format", whisperXOutputFormat,
	}
	if w.hfToken != "" {
		args = append(args,
			"--diarize",
			"--min_speakers", strconv.Itoa(w.minSpeakers),
			"--max_speakers", strconv.Itoa(w.maxSpeakers),
			"--hf_token", w.hfToken,
		)
	}
	if w.language != "" {
		args = append(args, "--language", w.language)
	}
	if w.device == DeviceCUDA {
		args = append(args, "--device", DeviceCUDA)
	} else {
		args = append(args, "--device", DeviceCPU, "--compute_type", whisperXCPUComputeType)
	}
	return args
}

// Transcribe implements Transcriber. Without a Hugging Face token the
// audio is still transcribed but segments carry no speaker.
func (w *WhisperX) Transcribe(ctx context.Context, audioPath string) (*transcript.RawTranscription, error) {
	if err := checkSource(audioPath); err != nil {
		return nil, err
	}
	if w.hfToken == "" {
		w.logger.Warn("No Hugging Face token found, transcribing without diarization",
			logging.F("audio", audioPath))
	}

	outDir, err := os.MkdirTemp("", "meetmem-whisperx-")
	if err != nil {
		return nil, fmt.Errorf("create whisperx output dir: %w", err)
	}
	defer os.RemoveAll(outDir)

	start := time.Now()
	w.logger.Info("Transcribing",
		logging.F("audio", audioPath),
		logging.F("model", w.model),
		logging.F("device", w.device))

	if err := w.run(ctx, whisperXCommand, w.buildArgs(audioPath, outDir)...); err != nil {
		return nil, fmt.Errorf("whisperx: %w", err)
	}

	jsonPath := filepath.Join(outDir, artifact.Stem(audioPath)+".json")
	raw, err := readWhisperXJSON(jsonPath)
	if err != nil {
		return nil, err
	}

	w.logger.Info("Transcription complete",
		logging.F("segments", len(raw.Segments)),
		logging.F("speakers", len(raw.Speakers)),
		logging.F("elapsed_ms", time.Since(start).Milliseconds()))
	return raw, nil
}

type whisperXSegment struct {
	Start   *float64 `json:"start"`
	End     *float64 `json:"end"`
	Text    *string  `json:"text"`
	Speaker string   `json:"speaker"`
}

type whisperXPayload struct {
	Segments []whisperXSegment `json:"segments"`
	Language string            `json:"language"`
}

func readWhisperXJSON(path string) (*transcript.RawTranscription, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read whisperx output: %w", err)
	}
	var payload whisperXPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("decode whisperx output: %w", err)
	}

	raw := &transcript.RawTranscription{
		Segments: make([]transcript.RawSegment, 0, len(payload.Segments)),
		Language: payload.Language,
	}
	seen := make(map[string]bool)
	texts := make([]string, 0, len(payload.Segments))
	for _, s := range payload.Segments {
		raw.Segments = append(raw.Segments, transcript.RawSegment{
			Start:   s.Start,
			End:     s.End,
			Text:    s.Text,
			Speaker: s.Speaker,
		})
		if s.Text != nil {
			if t := strings.TrimSpace(*s.Text); t != "" {
				texts = append(texts, t)
			}
		}
		if s.Speaker != "" && !seen[s.Speaker] {
			seen[s.Speaker] = true
			raw.Speakers = append(raw.Speakers, s.Speaker)
		}
	}
	raw.Text = strings.Join(texts, " ")
	return raw, nil
}

func defaultCommandRunner(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	var stderr strings.Builder
	cmd.Stdout = io.Discard
	cmd.Stderr = &stderr

	if os.Getenv("TORCH_FORCE_NO_WEIGHTS_ONLY_LOAD") == "" {
		cmd.Env = append(os.Environ(), "TORCH_FORCE_NO_WEIGHTS_ONLY_LOAD=1")
	}

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			return fmt.Errorf("%s %s: %w: %s", name, redactArgs(args), err, lastLine(detail))
		}
		return fmt.Errorf("%s %s: %w", name, redactArgs(args), err)
	}
	return nil
}

// redactArgs joins args for error messages with the token value masked.
func redactArgs(args []string) string {
	out := make([]string, len(args))
	copy(out, args)
	for i := 0; i < len(out)-1; i++ {
		if out[i] == "--hf_token" {
			out[i+1] = "***"
		}
	}
	return strings.Join(out, " ")
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
