package transcript

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAlign(t *testing.T) {
	tr := &Transcript{Segments: []Segment{
		{Speaker: "Alice", StartTime: "0:00:00", EndTime: "0:00:04", Text: "We decided to SHIP FRIDAY after review."},
		{Speaker: "Bob", StartTime: "0:00:04", EndTime: "0:00:09", Text: "I'll write the release notes."},
		{Speaker: "Alice", StartTime: "0:00:09", EndTime: "0:00:12", Text: "Ship Friday, confirmed."},
	}}

	tests := []struct {
		name   string
		text   string
		want   Span
		wantOK bool
	}{
		{"case insensitive first match", "ship friday", Span{Speaker: "Alice", StartTime: "0:00:00", EndTime: "0:00:04"}, true},
		{"second segment", "Release Notes", Span{Speaker: "Bob", StartTime: "0:00:04", EndTime: "0:00:09"}, true},
		{"no match", "budget approval", Span{}, false},
		{"paraphrase does not match", "Bob writes release notes", Span{}, false},
		{"empty", "   ", Span{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Align(tr, tt.text)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAlign_UnicodeFolding(t *testing.T) {
	tr := &Transcript{Segments: []Segment{
		{Speaker: "Jörg", StartTime: "0:00:01", EndTime: "0:00:02", Text: "L'ÉQUIPE valide le budget"},
	}}
	_, ok := Align(tr, "l'équipe valide")
	assert.True(t, ok)
}

func TestAlign_NilTranscript(t *testing.T) {
	_, ok := Align(nil, "anything")
	assert.False(t, ok)
}
