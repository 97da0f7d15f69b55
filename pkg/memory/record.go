// Package memory stores analysis fragments as addressable records behind a
// semantic and structured index, and synthesizes narratives across them.
package memory

import (
	"fmt"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/otherjamesbrown/meetmem/pkg/analysis"
)

// Section identifies which analysis section a record came from.
type Section = analysis.Kind

// GeneralSpeaker attributes records that carry no owner.
const GeneralSpeaker = "general"

// idBuckets bounds the hash component of a record id. Distinct documents in
// the same meeting and section that land in the same bucket overwrite each
// other.
const idBuckets = 100000

// Metadata is the structured, filterable part of a record.
type Metadata struct {
	MeetingID string  `json:"meeting_id"`
	Section   Section `json:"section"`
	Speaker   string  `json:"speaker"`
	Timestamp string  `json:"timestamp"`
}

// Record is one indexed analysis fragment.
type Record struct {
	ID        string    `json:"id"`
	Document  string    `json:"document"`
	Metadata  Metadata  `json:"metadata"`
	Embedding []float32 `json:"-"`
	// Score is the similarity to the query; set only by searches.
	Score float64 `json:"score,omitempty"`
}

// Hasher maps a document to a 64-bit hash.
type Hasher func(string) uint64

// RecordID derives the record id for a document.
func RecordID(meetingID string, section Section, document string, hash Hasher) string {
	if hash == nil {
		hash = xxhash.Sum64String
	}
	return fmt.Sprintf("%s_%s_%d", meetingID, section, hash(document)%idBuckets)
}

// MeetingID returns an id for a meeting added at t, with whole-second
// granularity. Two meetings added in the same second share an id.
func MeetingID(t time.Time) string {
	return "meeting_" + t.Format("20060102_150405")
}

// Decompose splits an analysis into one record per list element plus one for
// a non-empty summary. Embeddings are left unset.
func Decompose(r *analysis.Result, meetingID string, added time.Time, hash Hasher) []Record {
	ts := added.Format(time.RFC3339Nano)
	var out []Record
	add := func(section Section, speaker, doc string) {
		out = append(out, Record{
			ID:       RecordID(meetingID, section, doc, hash),
			Document: doc,
			Metadata: Metadata{
				MeetingID: meetingID,
				Section:   section,
				Speaker:   speaker,
				Timestamp: ts,
			},
		})
	}

	if strings.TrimSpace(r.Summary) != "" {
		add(analysis.KindSummary, GeneralSpeaker, r.Summary)
	}
	for _, d := range r.Decisions {
		add(analysis.KindDecisions, GeneralSpeaker, decisionDocument(d))
	}
	for _, a := range r.ActionItems {
		speaker := a.Owner
		if speaker == "" {
			speaker = GeneralSpeaker
		}
		add(analysis.KindActionItems, speaker, actionItemDocument(a))
	}
	for _, f := range r.FollowUps {
		add(analysis.KindFollowUps, GeneralSpeaker, followUpDocument(f))
	}
	return out
}

type docBuilder struct {
	strings.Builder
}

func (b *docBuilder) line(label, value string) {
	if value == "" {
		return
	}
	if b.Len() > 0 {
		b.WriteByte('\n')
	}
	b.WriteString(label)
	b.WriteString(": ")
	b.WriteString(value)
}

func decisionDocument(d analysis.Decision) string {
	var b docBuilder
	b.line("Decision", d.Decision)
	b.line("Made by", d.MadeBy)
	b.line("Context", d.Context)
	b.line("Conditions", d.Conditions)
	return b.String()
}

func actionItemDocument(a analysis.ActionItem) string {
	var b docBuilder
	b.line("Task", a.Task)
	b.line("Owner", a.Owner)
	b.line("Deadline", a.Deadline)
	b.line("Dependencies", strings.Join(a.Dependencies, ", "))
	b.line("Priority", a.Priority)
	return b.String()
}

func followUpDocument(f analysis.FollowUp) string {
	var b docBuilder
	b.line("Topic", f.Topic)
	b.line("Reason", f.Reason)
	b.line("Participants", strings.Join(f.Participants, ", "))
	b.line("Urgency", f.Urgency)
	b.line("Points to address", strings.Join(f.PointsToAddress, ", "))
	return b.String()
}
