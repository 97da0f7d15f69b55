package artifact

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mmerrors "github.com/otherjamesbrown/meetmem/pkg/errors"
)

type sample struct {
	Name  string   `json:"name"`
	Items []string `json:"items"`
}

func TestWriteJSON_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "standup_transcript.json")

	require.NoError(t, WriteJSON(path, sample{Name: "standup", Items: []string{"a"}}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "{\n  \"name\""), "expected indented JSON, got %s", data)

	var got sample
	require.NoError(t, ReadJSON(path, &got))
	assert.Equal(t, "standup", got.Name)
	assert.Equal(t, []string{"a"}, got.Items)
}

func TestWriteJSON_LeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a_analysis.json")

	require.NoError(t, WriteJSON(path, sample{Name: "first"}))
	require.NoError(t, WriteJSON(path, sample{Name: "second"}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a_analysis.json", entries[0].Name())

	var got sample
	require.NoError(t, ReadJSON(path, &got))
	assert.Equal(t, "second", got.Name)
}

func TestWriteJSON_UnencodableValue(t *testing.T) {
	dir := t.TempDir()
	err := WriteJSON(filepath.Join(dir, "bad.json"), map[string]any{"ch": make(chan int)})
	require.Error(t, err)
	assert.False(t, Exists(filepath.Join(dir, "bad.json")))
}

func TestReadJSON_Missing(t *testing.T) {
	var got sample
	err := ReadJSON(filepath.Join(t.TempDir(), "missing.json"), &got)
	assert.True(t, mmerrors.IsSourceNotFound(err))
}

func TestPaths(t *testing.T) {
	assert.Equal(t, "weekly-sync", Stem("/audio/weekly-sync.m4a"))
	assert.Equal(t, filepath.Join("out", "weekly-sync_transcript.json"), TranscriptPath("out", "/audio/weekly-sync.m4a"))
	assert.Equal(t, filepath.Join("out", "weekly-sync_analysis.json"), AnalysisPath("out", "weekly-sync.wav"))
	assert.Equal(t, filepath.Join("out", "weekly-sync_raw.json"), RawPath("out", "weekly-sync.wav"))
}

func TestStem_ArtifactSuffixes(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"out/standup_raw.json", "standup"},
		{"out/standup_transcript.json", "standup"},
		{"out/standup_analysis.json", "standup"},
		{"standup.json", "standup"},
		{"_raw.json", "_raw"},
		{"notes.v2.wav", "notes.v2"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, Stem(tt.path))
		})
	}
	assert.Equal(t, filepath.Join("out", "standup_transcript.json"), TranscriptPath("out", "out/standup_raw.json"))
	assert.Equal(t, filepath.Join("out", "standup_analysis.json"), AnalysisPath("out", "out/standup_transcript.json"))
}
