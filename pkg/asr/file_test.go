package asr

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mmerrors "github.com/otherjamesbrown/meetmem/pkg/errors"
)

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestFileTranscriber_Sidecars(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		speaker string
	}{
		{
			name:    "json",
			file:    "call.json",
			content: `{"segments":[{"start":0,"end":2,"text":"Ship it.","speaker":"SPEAKER_00"}],"text":"Ship it."}`,
			speaker: "SPEAKER_00",
		},
		{
			name:    "vtt",
			file:    "call.vtt",
			content: "WEBVTT\n\n00:00.000 --> 00:02.000\n<v Alice>Ship it.\n",
			speaker: "Alice",
		},
		{
			name:    "txt",
			file:    "call.txt",
			content: "0:00 : Alice : Ship it.\n",
			speaker: "Alice",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			audio := filepath.Join(dir, "call.m4a")
			write(t, audio, "audio")
			write(t, filepath.Join(dir, tt.file), tt.content)

			raw, err := NewFileTranscriber().Transcribe(context.Background(), audio)
			require.NoError(t, err)
			require.Len(t, raw.Segments, 1)
			assert.Equal(t, tt.speaker, raw.Segments[0].Speaker)
			assert.Equal(t, "Ship it.", *raw.Segments[0].Text)
		})
	}
}

func TestFileTranscriber_PrefersJSON(t *testing.T) {
	dir := t.TempDir()
	audio := filepath.Join(dir, "call.m4a")
	write(t, audio, "audio")
	write(t, filepath.Join(dir, "call.json"), `{"segments":[{"start":0,"end":1,"text":"from json"}]}`)
	write(t, filepath.Join(dir, "call.txt"), "0:00 : Bob : from txt\n")

	raw, err := NewFileTranscriber().Transcribe(context.Background(), audio)
	require.NoError(t, err)
	assert.Equal(t, "from json", *raw.Segments[0].Text)
}

func TestFileTranscriber_SidecarDir(t *testing.T) {
	audioDir, sideDir := t.TempDir(), t.TempDir()
	audio := filepath.Join(audioDir, "call.wav")
	write(t, audio, "audio")
	write(t, filepath.Join(sideDir, "call.txt"), "0:05 : Carol : Hello.\n")

	raw, err := NewFileTranscriber(WithSidecarDir(sideDir)).Transcribe(context.Background(), audio)
	require.NoError(t, err)
	assert.Equal(t, []string{"Carol"}, raw.Speakers)
}

func TestFileTranscriber_DirectTranscript(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.TXT")
	write(t, path, "0:00 : Dana : Direct.\n")

	raw, err := NewFileTranscriber().Transcribe(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "Direct.", *raw.Segments[0].Text)
}

func TestFileTranscriber_NoSidecar(t *testing.T) {
	audio := filepath.Join(t.TempDir(), "call.wav")
	write(t, audio, "audio")

	_, err := NewFileTranscriber().Transcribe(context.Background(), audio)
	assert.True(t, mmerrors.IsSourceNotFound(err))

	_, err = NewFileTranscriber().Transcribe(context.Background(), filepath.Join(t.TempDir(), "gone.wav"))
	assert.True(t, mmerrors.IsSourceNotFound(err))
}

func TestReadTranscript_Unsupported(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.srt")
	write(t, path, "1\n")
	_, err := ReadTranscript(path)
	assert.True(t, mmerrors.IsValidation(err))
}
