package analysis

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTasks_Order(t *testing.T) {
	tasks := DefaultTasks()
	require.Len(t, tasks, 4)
	for i, kind := range Kinds {
		assert.Equal(t, kind, tasks[i].Kind)
	}
	assert.Empty(t, tasks[0].Fields, "summary is narrative text")
}

func TestTask_Prompts(t *testing.T) {
	task := taskFor(t, KindFollowUps)

	system, err := task.SystemPrompt()
	require.NoError(t, err)
	assert.Contains(t, system, "You are the Follow-up Analyzer.")
	assert.Contains(t, system, "recognizing unresolved issues")

	prompt, err := task.Prompt(`{"full_text": "hi"}`)
	require.NoError(t, err)
	assert.Contains(t, prompt, "identify topics that need follow-up")
	assert.Contains(t, prompt, `- "participants" (list of strings): who should be involved`)
	assert.Contains(t, prompt, `- "urgency" (optional, omit when not mentioned)`)
	assert.Contains(t, prompt, "Respond with a JSON array only.")
	assert.Contains(t, prompt, "Transcript:\n{\"full_text\": \"hi\"}")
}

func TestTask_SummaryPromptHasNoSchema(t *testing.T) {
	prompt, err := taskFor(t, KindSummary).Prompt("{}")
	require.NoError(t, err)
	assert.NotContains(t, prompt, "JSON array")
	assert.Contains(t, prompt, "markdown format")
}

func TestResult_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "standup_analysis.json")
	r := &Result{
		Timestamp: time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC),
		Summary:   "s",
		FollowUps: []FollowUp{{Topic: "t", Reason: "r"}},
	}

	require.NoError(t, Save(path, r))

	got, err := Load(path)
	require.NoError(t, err)
	assert.True(t, r.Timestamp.Equal(got.Timestamp))
	assert.Equal(t, []Decision{}, got.Decisions)
	assert.Equal(t, []ActionItem{}, got.ActionItems)
	assert.Equal(t, StringList{}, got.FollowUps[0].Participants)
}

func TestResult_Clone(t *testing.T) {
	r := Result{
		ActionItems: []ActionItem{{Task: "a", Owner: "o", Dependencies: StringList{"x"}}},
		FollowUps:   []FollowUp{{Topic: "t", Participants: StringList{"p"}}},
	}
	c := r.Clone()
	c.ActionItems[0].Dependencies[0] = "changed"
	c.FollowUps[0].Participants[0] = "changed"

	assert.Equal(t, "x", r.ActionItems[0].Dependencies[0])
	assert.Equal(t, "p", r.FollowUps[0].Participants[0])
}
