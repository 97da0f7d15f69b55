package transcript

import (
	"strings"

	"golang.org/x/text/cases"
)

// Span is the time range of the segment an extracted item was found in.
type Span struct {
	Speaker   string
	StartTime string
	EndTime   string
}

// Align finds the first segment whose text contains text, ignoring case.
// It reports false when no segment matches; callers treat that as "no
// timestamp available".
func Align(t *Transcript, text string) (Span, bool) {
	if t == nil {
		return Span{}, false
	}
	fold := cases.Fold()
	needle := strings.TrimSpace(fold.String(text))
	if needle == "" {
		return Span{}, false
	}
	for _, seg := range t.Segments {
		if strings.Contains(fold.String(seg.Text), needle) {
			return Span{Speaker: seg.Speaker, StartTime: seg.StartTime, EndTime: seg.EndTime}, true
		}
	}
	return Span{}, false
}
