package cmd

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/meetmem/config"
)

func TestWriteOutput(t *testing.T) {
	v := addResult{MeetingID: "standup_1", Records: 3}
	textFn := func(w io.Writer) error {
		_, err := io.WriteString(w, "text\n")
		return err
	}

	tests := []struct {
		format config.OutputFormat
		want   string
	}{
		{config.OutputFormatJSON, "{\n  \"meeting_id\": \"standup_1\",\n  \"records\": 3\n}\n"},
		{config.OutputFormatYAML, "meeting_id: standup_1\nrecords: 3\n"},
		{config.OutputFormatText, "text\n"},
		{"", "text\n"},
	}

	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, writeOutput(&buf, tt.format, v, textFn))
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestWriteOutput_TextFallback(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteOutput(&buf, config.OutputFormatText, "meetmem 1.0"))
	assert.Equal(t, "meetmem 1.0\n", buf.String())
}

func TestRenderTable(t *testing.T) {
	out := renderTable(
		[]string{"Section", "Items"},
		[][]string{{"decisions", "2"}, {"follow_ups"}},
		[]columnAlignment{alignLeft, alignRight},
	)

	lines := strings.Split(out, "\n")
	require.NotEmpty(t, lines)
	assert.True(t, strings.HasPrefix(lines[0], "╭"), "rounded style: %q", lines[0])
	assert.Contains(t, out, "SECTION")
	assert.Contains(t, out, "decisions")
	assert.Contains(t, out, "follow_ups")

	assert.Empty(t, renderTable(nil, nil, nil))
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"short", "ship Friday", 20, "ship Friday"},
		{"collapses whitespace", "ship\n  Friday", 20, "ship Friday"},
		{"cut", "write the release notes", 10, "write t..."},
		{"tiny limit", "abcdef", 2, "ab"},
		{"multibyte", "ünïcödé text", 6, "ünï..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, truncate(tt.in, tt.max))
		})
	}
}

func TestOrDash(t *testing.T) {
	assert.Equal(t, "-", orDash(""))
	assert.Equal(t, "x", orDash("x"))
}
