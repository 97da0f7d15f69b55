// Package analysis extracts a summary, decisions, action items and follow-ups
// from a transcript by running one extraction task per section concurrently.
package analysis

import (
	"encoding/json"
	"time"

	"github.com/otherjamesbrown/meetmem/pkg/artifact"
)

// Kind names an extraction task and the analysis section it fills.
type Kind string

const (
	KindSummary     Kind = "summary"
	KindDecisions   Kind = "decisions"
	KindActionItems Kind = "action_items"
	KindFollowUps   Kind = "follow_ups"
)

// Kinds lists the sections in assembly order.
var Kinds = []Kind{KindSummary, KindDecisions, KindActionItems, KindFollowUps}

// StringList decodes from either a JSON array of strings or a single string.
type StringList []string

// UnmarshalJSON implements json.Unmarshaler.
func (l *StringList) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		if one == "" {
			*l = nil
		} else {
			*l = StringList{one}
		}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*l = many
	return nil
}

// Decision is a choice recorded during the meeting.
type Decision struct {
	Decision   string `json:"decision"`
	MadeBy     string `json:"made_by"`
	Context    string `json:"context"`
	Conditions string `json:"conditions,omitempty"`
	StartTime  string `json:"start_time,omitempty"`
	EndTime    string `json:"end_time,omitempty"`
}

// ActionItem is a task someone took on.
type ActionItem struct {
	Task         string     `json:"task"`
	Owner        string     `json:"owner"`
	Deadline     string     `json:"deadline,omitempty"`
	Dependencies StringList `json:"dependencies,omitempty"`
	Priority     string     `json:"priority,omitempty"`
	StartTime    string     `json:"start_time,omitempty"`
	EndTime      string     `json:"end_time,omitempty"`
}

// FollowUp is a topic that needs further discussion.
type FollowUp struct {
	Topic           string     `json:"topic"`
	Reason          string     `json:"reason"`
	Participants    StringList `json:"participants"`
	Urgency         string     `json:"urgency,omitempty"`
	PointsToAddress StringList `json:"points_to_address,omitempty"`
}

// TaskFailure records an extraction task whose section fell back to empty.
type TaskFailure struct {
	Kind Kind
	Err  error
}

// Result is the assembled analysis of one transcript.
type Result struct {
	Timestamp   time.Time     `json:"timestamp"`
	Summary     string        `json:"summary"`
	Decisions   []Decision    `json:"decisions"`
	ActionItems []ActionItem  `json:"action_items"`
	FollowUps   []FollowUp    `json:"follow_ups"`
	Failures    []TaskFailure `json:"-"`
}

// Failed reports whether the task for kind fell back to its empty value.
func (r *Result) Failed(kind Kind) bool {
	for _, f := range r.Failures {
		if f.Kind == kind {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of r so callers cannot mutate shared slices.
func (r *Result) Clone() Result {
	out := *r
	out.Decisions = append([]Decision{}, r.Decisions...)
	out.ActionItems = make([]ActionItem, len(r.ActionItems))
	for i, a := range r.ActionItems {
		a.Dependencies = cloneList(a.Dependencies)
		out.ActionItems[i] = a
	}
	out.FollowUps = make([]FollowUp, len(r.FollowUps))
	for i, f := range r.FollowUps {
		f.Participants = cloneList(f.Participants)
		f.PointsToAddress = cloneList(f.PointsToAddress)
		out.FollowUps[i] = f
	}
	out.Failures = append([]TaskFailure{}, r.Failures...)
	return out
}

func cloneList(l StringList) StringList {
	if l == nil {
		return nil
	}
	return append(StringList{}, l...)
}

func (r *Result) normalize() {
	if r.Decisions == nil {
		r.Decisions = []Decision{}
	}
	if r.ActionItems == nil {
		r.ActionItems = []ActionItem{}
	}
	if r.FollowUps == nil {
		r.FollowUps = []FollowUp{}
	}
	for i := range r.FollowUps {
		if r.FollowUps[i].Participants == nil {
			r.FollowUps[i].Participants = StringList{}
		}
	}
}

// Save writes r to path as indented JSON, atomically.
func Save(path string, r *Result) error {
	r.normalize()
	return artifact.WriteJSON(path, r)
}

// Load reads an analysis written by Save.
func Load(path string) (*Result, error) {
	var r Result
	if err := artifact.ReadJSON(path, &r); err != nil {
		return nil, err
	}
	r.normalize()
	return &r, nil
}
