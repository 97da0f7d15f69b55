package transcript

import (
	"fmt"
	"math"
	"strings"

	"github.com/otherjamesbrown/meetmem/pkg/artifact"
	mmerrors "github.com/otherjamesbrown/meetmem/pkg/errors"
)

// FormatTime renders seconds as H:MM:SS, truncating fractional seconds.
// Hours are not bounded; values past the int64 range saturate.
func FormatTime(seconds float64) string {
	if math.IsNaN(seconds) || seconds < 0 {
		seconds = 0
	}
	var total int64 = math.MaxInt64
	if seconds < math.MaxInt64 {
		total = int64(seconds)
	}
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	return fmt.Sprintf("%d:%02d:%02d", h, m, s)
}

// Format converts a raw transcription into a Transcript. Segment order is
// kept and segments are never merged. A segment missing start, end or text
// rejects the whole transcription with a *MalformedSegmentError.
func Format(raw RawTranscription) (*Transcript, error) {
	segments := make([]Segment, 0, len(raw.Segments))

	for i, rs := range raw.Segments {
		switch {
		case rs.Start == nil:
			return nil, &mmerrors.MalformedSegmentError{Index: i, Field: "start"}
		case rs.End == nil:
			return nil, &mmerrors.MalformedSegmentError{Index: i, Field: "end"}
		case rs.Text == nil:
			return nil, &mmerrors.MalformedSegmentError{Index: i, Field: "text"}
		}

		speaker := rs.Speaker
		if speaker == "" {
			speaker = UnknownSpeaker
		}

		segments = append(segments, Segment{
			Speaker:   speaker,
			StartTime: FormatTime(*rs.Start),
			EndTime:   FormatTime(*rs.End),
			Text:      strings.TrimSpace(*rs.Text),
		})
	}

	speakers := raw.Speakers
	if len(speakers) == 0 {
		speakers = distinctSpeakers(segments)
	}

	return &Transcript{
		Segments: segments,
		FullText: raw.Text,
		Speakers: append([]string{}, speakers...),
	}, nil
}

func distinctSpeakers(segments []Segment) []string {
	seen := make(map[string]bool)
	speakers := make([]string, 0)
	for _, s := range segments {
		if s.Speaker == UnknownSpeaker || seen[s.Speaker] {
			continue
		}
		seen[s.Speaker] = true
		speakers = append(speakers, s.Speaker)
	}
	return speakers
}

// RenderText returns a readable one-line-per-segment rendering.
func RenderText(t *Transcript) string {
	if t == nil {
		return ""
	}
	var b strings.Builder
	for _, s := range t.Segments {
		fmt.Fprintf(&b, "[%s - %s] %s: %s\n", s.StartTime, s.EndTime, s.Speaker, s.Text)
	}
	return b.String()
}

// Save writes t to path as indented JSON, atomically.
func Save(path string, t *Transcript) error {
	return artifact.WriteJSON(path, t)
}

// Load reads a transcript written by Save.
func Load(path string) (*Transcript, error) {
	var t Transcript
	if err := artifact.ReadJSON(path, &t); err != nil {
		return nil, err
	}
	if t.Segments == nil {
		t.Segments = []Segment{}
	}
	if t.Speakers == nil {
		t.Speakers = []string{}
	}
	return &t, nil
}

// LoadRaw reads a raw transcription JSON file.
func LoadRaw(path string) (*RawTranscription, error) {
	var raw RawTranscription
	if err := artifact.ReadJSON(path, &raw); err != nil {
		return nil, err
	}
	return &raw, nil
}
