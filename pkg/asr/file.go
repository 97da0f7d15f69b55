package asr

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	mmerrors "github.com/otherjamesbrown/meetmem/pkg/errors"
	"github.com/otherjamesbrown/meetmem/pkg/logging"
	"github.com/otherjamesbrown/meetmem/pkg/transcript"
)

// sidecarExts are tried in order next to the audio file.
var sidecarExts = []string{".json", ".vtt", ".txt"}

// FileTranscriber reads an existing transcription instead of running a
// model. Given an audio file it looks for a sidecar with the same stem; a
// transcript file passed directly is parsed as is.
type FileTranscriber struct {
	dir    string
	logger logging.Logger
}

var _ Transcriber = (*FileTranscriber)(nil)

// FileOption configures a FileTranscriber.
type FileOption func(*FileTranscriber)

// WithSidecarDir looks for sidecars in dir instead of next to the audio.
func WithSidecarDir(dir string) FileOption {
	return func(f *FileTranscriber) {
		f.dir = dir
	}
}

// WithFileLogger sets a custom logger.
func WithFileLogger(logger logging.Logger) FileOption {
	return func(f *FileTranscriber) {
		f.logger = logger
	}
}

// NewFileTranscriber creates a FileTranscriber.
func NewFileTranscriber(opts ...FileOption) *FileTranscriber {
	f := &FileTranscriber{logger: logging.NewNopLogger()}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = f.logger.With(logging.F("component", "asr"))
	return f
}

// Transcribe implements Transcriber.
func (f *FileTranscriber) Transcribe(_ context.Context, audioPath string) (*transcript.RawTranscription, error) {
	if err := checkSource(audioPath); err != nil {
		return nil, err
	}
	if isTranscriptFile(audioPath) {
		return ReadTranscript(audioPath)
	}

	dir := f.dir
	if dir == "" {
		dir = filepath.Dir(audioPath)
	}
	base := filepath.Base(audioPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	for _, ext := range sidecarExts {
		candidate := filepath.Join(dir, stem+ext)
		if _, err := os.Stat(candidate); err != nil {
			continue
		}
		f.logger.Debug("Using sidecar transcript", logging.F("path", candidate))
		return ReadTranscript(candidate)
	}
	return nil, fmt.Errorf("%w: no transcript next to %s", mmerrors.ErrSourceNotFound, audioPath)
}

func isTranscriptFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range sidecarExts {
		if ext == e {
			return true
		}
	}
	return false
}

// ReadTranscript parses a raw transcription from a .json, .vtt or .txt
// file, chosen by extension.
func ReadTranscript(path string) (*transcript.RawTranscription, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		return transcript.LoadRaw(path)
	}

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", mmerrors.ErrSourceNotFound, path)
		}
		return nil, err
	}
	defer file.Close()

	var parse func(io.Reader) (*transcript.RawTranscription, error)
	switch ext {
	case ".vtt":
		parse = transcript.ParseVTT
	case ".txt":
		parse = transcript.ParseTXT
	default:
		return nil, fmt.Errorf("%w: unsupported transcript format %q", mmerrors.ErrValidation, ext)
	}
	raw, err := parse(file)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return raw, nil
}
