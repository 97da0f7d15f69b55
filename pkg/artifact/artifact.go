// Package artifact reads and writes the JSON files each pipeline stage leaves
// on disk. Writes go to a temp file in the target directory and are renamed
// into place, so a reader never sees a partial artifact.
package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	mmerrors "github.com/otherjamesbrown/meetmem/pkg/errors"
)

// Artifact file suffixes, appended to the audio file stem.
const (
	RawSuffix        = "_raw.json"
	TranscriptSuffix = "_transcript.json"
	AnalysisSuffix   = "_analysis.json"
)

var suffixes = []string{RawSuffix, TranscriptSuffix, AnalysisSuffix}

// WriteJSON indent-encodes v and atomically replaces path with it.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("chmod temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// ReadJSON decodes the JSON file at path into v. A missing file is reported
// as ErrSourceNotFound.
func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", mmerrors.ErrSourceNotFound, path)
		}
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return nil
}

// Stem returns the file name of path without directory or extension. An
// artifact path yields the stem of the recording it came from.
func Stem(path string) string {
	base := filepath.Base(path)
	for _, suffix := range suffixes {
		if stem, ok := strings.CutSuffix(base, suffix); ok && stem != "" {
			return stem
		}
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// RawPath returns the raw transcription artifact path for an audio file.
func RawPath(outputDir, audioPath string) string {
	return filepath.Join(outputDir, Stem(audioPath)+RawSuffix)
}

// TranscriptPath returns the transcript artifact path for an audio file.
func TranscriptPath(outputDir, audioPath string) string {
	return filepath.Join(outputDir, Stem(audioPath)+TranscriptSuffix)
}

// AnalysisPath returns the analysis artifact path for an audio file.
func AnalysisPath(outputDir, audioPath string) string {
	return filepath.Join(outputDir, Stem(audioPath)+AnalysisSuffix)
}

// Exists reports whether path names an existing regular file.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
