package transcript

import (
	"bufio"
	"io"
	"regexp"
	"strconv"
	"strings"
)

// Matches: 0:11 : Speaker Name : text, or 1:02:45 : Speaker Name (she/her) : text
var txtTranscriptLineRegex = regexp.MustCompile(`^(?:(\d+):)?(\d+):(\d{2})\s*:\s*([^:]+?)\s*:\s*(.+)$`)

// ParseTXT reads a plain text "timestamp : speaker : text" transcript. Lines
// that do not match are skipped. The format has no end times, so each
// segment ends where the next one starts; the last segment ends at its start.
func ParseTXT(r io.Reader) (*RawTranscription, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	type line struct {
		speaker string
		start   float64
		text    string
	}
	var lines []line
	speakers := newSpeakerSet()

	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		m := txtTranscriptLineRegex.FindStringSubmatch(text)
		if m == nil {
			continue
		}

		hours := 0
		if m[1] != "" {
			hours, _ = strconv.Atoi(m[1])
		}
		minutes, _ := strconv.Atoi(m[2])
		seconds, _ := strconv.Atoi(m[3])
		speaker := strings.TrimSpace(m[4])

		lines = append(lines, line{
			speaker: speaker,
			start:   float64(hours*3600 + minutes*60 + seconds),
			text:    strings.TrimSpace(m[5]),
		})
		speakers.add(speaker)
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	result := &RawTranscription{
		Segments: make([]RawSegment, 0, len(lines)),
		Speakers: speakers.list,
	}
	texts := make([]string, 0, len(lines))
	for i, l := range lines {
		end := l.start
		if i+1 < len(lines) && lines[i+1].start > l.start {
			end = lines[i+1].start
		}
		result.Segments = append(result.Segments, NewRawSegment(l.speaker, l.start, end, l.text))
		texts = append(texts, l.text)
	}
	result.Text = strings.Join(texts, " ")

	return result, nil
}
