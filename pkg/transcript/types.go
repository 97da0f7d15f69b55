// Package transcript normalizes raw speech-recognition output into the
// canonical transcript every later stage reads.
package transcript

// UnknownSpeaker is assigned to segments the diarizer could not attribute.
const UnknownSpeaker = "UNKNOWN"

// RawSegment is one segment as produced by the transcription collaborator.
// Start, End and Text are pointers so a missing field is distinguishable
// from a zero value.
type RawSegment struct {
	Start   *float64 `json:"start"`
	End     *float64 `json:"end"`
	Text    *string  `json:"text"`
	Speaker string   `json:"speaker,omitempty"`
}

// RawTranscription is the transcription collaborator's output.
type RawTranscription struct {
	Segments []RawSegment `json:"segments"`
	Speakers []string     `json:"speakers,omitempty"`
	Text     string       `json:"text"`
	Language string       `json:"language,omitempty"`
}

// Segment is a normalized, speaker-attributed span of speech.
type Segment struct {
	Speaker   string `json:"speaker"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Text      string `json:"text"`
}

// Transcript is the canonical transcript of one meeting.
type Transcript struct {
	Segments []Segment `json:"segments"`
	FullText string    `json:"full_text"`
	Speakers []string  `json:"speakers"`
}

// NewRawSegment builds a RawSegment with all required fields set.
func NewRawSegment(speaker string, start, end float64, text string) RawSegment {
	return RawSegment{Start: &start, End: &end, Text: &text, Speaker: speaker}
}
