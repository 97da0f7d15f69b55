package transcript

import (
	"bufio"
	"io"
	"regexp"
	"strconv"
	"strings"
)

var (
	// Matches a Teams-style cue header: 1 "Speaker Name" (speaker_id) or 1 "" (0)
	vttSegmentHeaderRegex = regexp.MustCompile(`^\d+\s+"([^"]*)"(?:\s+\((\d+)\))?`)

	// Matches a cue timing line: 00:00:05.579 --> 00:00:06.858 (hours optional)
	vttTimestampRegex = regexp.MustCompile(`^((?:\d+:)?\d{2}:\d{2}\.\d{3})\s+-->\s+((?:\d+:)?\d{2}:\d{2}\.\d{3})`)

	// Matches a WebVTT voice span: <v Speaker Name>text
	vttVoiceRegex = regexp.MustCompile(`^<v(?:\.[^ >]+)*\s+([^>]+)>(.*)$`)

	vttTagRegex = regexp.MustCompile(`</?[^>]+>`)
)

// ParseVTT reads a WebVTT transcript into a RawTranscription. Speakers come
// from Teams-style cue headers or <v> voice spans.
func ParseVTT(r io.Reader) (*RawTranscription, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	result := &RawTranscription{Segments: make([]RawSegment, 0)}
	speakers := newSpeakerSet()
	var texts []string

	var cur *vttCue
	flush := func() {
		if cur == nil || !cur.timed || len(cur.lines) == 0 {
			cur = nil
			return
		}
		text := strings.Join(cur.lines, " ")
		result.Segments = append(result.Segments, NewRawSegment(cur.speaker, cur.start, cur.end, text))
		speakers.add(cur.speaker)
		texts = append(texts, text)
		cur = nil
	}

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if line == "" {
			flush()
			continue
		}
		if strings.HasPrefix(line, "WEBVTT") || strings.HasPrefix(line, "NOTE") {
			continue
		}

		if m := vttSegmentHeaderRegex.FindStringSubmatch(line); m != nil {
			flush()
			cur = &vttCue{speaker: m[1]}
			continue
		}

		if m := vttTimestampRegex.FindStringSubmatch(line); m != nil {
			if cur == nil || cur.timed {
				flush()
				cur = &vttCue{}
			}
			cur.start = parseVTTTimestamp(m[1])
			cur.end = parseVTTTimestamp(m[2])
			cur.timed = true
			continue
		}

		if cur == nil || !cur.timed {
			// Bare cue identifier line.
			continue
		}

		if m := vttVoiceRegex.FindStringSubmatch(line); m != nil {
			cur.speaker = strings.TrimSpace(m[1])
			line = m[2]
		}
		line = strings.TrimSpace(vttTagRegex.ReplaceAllString(line, ""))
		if line != "" {
			cur.lines = append(cur.lines, line)
		}
	}
	flush()

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	result.Speakers = speakers.list
	result.Text = strings.Join(texts, " ")
	return result, nil
}

type vttCue struct {
	speaker string
	start   float64
	end     float64
	timed   bool
	lines   []string
}

// parseVTTTimestamp parses [HH:]MM:SS.mmm to seconds.
func parseVTTTimestamp(ts string) float64 {
	parts := strings.Split(ts, ":")
	if len(parts) == 2 {
		parts = append([]string{"0"}, parts...)
	}
	if len(parts) != 3 {
		return 0
	}

	hours, _ := strconv.Atoi(parts[0])
	minutes, _ := strconv.Atoi(parts[1])
	seconds, _ := strconv.ParseFloat(parts[2], 64)

	return float64(hours*3600+minutes*60) + seconds
}

type speakerSet struct {
	seen map[string]bool
	list []string
}

func newSpeakerSet() *speakerSet {
	return &speakerSet{seen: make(map[string]bool), list: make([]string, 0)}
}

func (s *speakerSet) add(name string) {
	if name == "" || s.seen[name] {
		return
	}
	s.seen[name] = true
	s.list = append(s.list, name)
}
