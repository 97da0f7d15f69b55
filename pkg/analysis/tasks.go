package analysis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"text/template"

	"github.com/otherjamesbrown/meetmem/pkg/transcript"
)

// Field describes one key of a list task's output objects.
type Field struct {
	Name     string
	List     bool
	Required bool
	Describe string
}

// Task defines one extraction task.
type Task struct {
	Kind           Kind
	Role           string
	Goal           string
	Backstory      string
	Instructions   string
	ExpectedOutput string
	// Fields is empty for the narrative summary task.
	Fields []Field
}

// Output is a validated task result. Only the member matching the task kind is set.
type Output struct {
	Summary     string
	Decisions   []Decision
	ActionItems []ActionItem
	FollowUps   []FollowUp
}

// DefaultTasks returns the four extraction tasks in assembly order.
func DefaultTasks() []Task {
	return []Task{
		{
			Kind:      KindSummary,
			Role:      "Meeting Summarizer",
			Goal:      "Create concise and comprehensive summaries of meeting transcripts",
			Backstory: "You are an expert at analyzing meeting transcripts and creating clear, structured summaries that capture the key points and main discussion topics. You have years of experience in business communication and meeting facilitation.",
			Instructions: `Analyze this meeting transcript and create a comprehensive summary.
Focus on:
1. Main topics discussed
2. Key points raised by each speaker
3. Overall meeting flow and progression
4. Important context and background information`,
			ExpectedOutput: "A well-structured summary of the meeting in markdown format",
		},
		{
			Kind:      KindDecisions,
			Role:      "Decision Extractor",
			Goal:      "Identify and extract all decisions made during meetings",
			Backstory: "You are an expert at analyzing meeting discussions and identifying explicit and implicit decisions made by participants. You have a keen eye for spotting when consensus is reached or when key choices are made.",
			Instructions: `Analyze this meeting transcript and extract all decisions made.
For each decision, identify:
1. The specific decision made
2. Who made the decision
3. The context and reasoning behind it
4. Any conditions or caveats attached`,
			ExpectedOutput: "A list of decision objects in JSON format",
			Fields: []Field{
				{Name: "decision", Required: true, Describe: "the specific decision made, quoting the transcript wording where possible"},
				{Name: "made_by", Required: true, Describe: "who made the decision"},
				{Name: "context", Required: true, Describe: "the context and reasoning behind it"},
				{Name: "conditions", Describe: "any conditions or caveats attached"},
			},
		},
		{
			Kind:      KindActionItems,
			Role:      "Action Item Tracker",
			Goal:      "Identify and track all action items assigned during meetings",
			Backstory: "You are an expert at identifying action items and tasks assigned during meetings. You excel at recognizing both explicit assignments and implicit responsibilities, and can determine clear owners and deadlines.",
			Instructions: `Analyze this meeting transcript and extract all action items.
For each action item, identify:
1. The specific task or action required
2. Who is responsible for it
3. Any mentioned deadlines or timeframes
4. Dependencies or prerequisites
5. Priority level (if mentioned)`,
			ExpectedOutput: "A list of action item objects in JSON format",
			Fields: []Field{
				{Name: "task", Required: true, Describe: "the specific task or action required, quoting the transcript wording where possible"},
				{Name: "owner", Required: true, Describe: "who is responsible for it"},
				{Name: "deadline", Describe: "any mentioned deadline or timeframe"},
				{Name: "dependencies", List: true, Describe: "dependencies or prerequisites"},
				{Name: "priority", Describe: "priority level, if mentioned"},
			},
		},
		{
			Kind:      KindFollowUps,
			Role:      "Follow-up Analyzer",
			Goal:      "Identify topics that need follow-up discussion or clarification",
			Backstory: "You are an expert at analyzing meeting discussions and identifying topics that need further discussion, clarification, or follow-up. You excel at recognizing unresolved issues and areas that require additional attention.",
			Instructions: `Analyze this meeting transcript and identify topics that need follow-up.
For each follow-up item, identify:
1. The topic or issue that needs follow-up
2. Why it needs follow-up (e.g., unresolved, needs clarification)
3. Who should be involved in the follow-up
4. Suggested timing or urgency
5. Any specific questions or points to address`,
			ExpectedOutput: "A list of follow-up item objects in JSON format",
			Fields: []Field{
				{Name: "topic", Required: true, Describe: "the topic or issue that needs follow-up"},
				{Name: "reason", Required: true, Describe: "why it needs follow-up"},
				{Name: "participants", List: true, Required: true, Describe: "who should be involved"},
				{Name: "urgency", Describe: "suggested timing or urgency"},
				{Name: "points_to_address", List: true, Describe: "specific questions or points to address"},
			},
		},
	}
}

var systemTemplate = template.Must(template.New("system").Parse(
	`You are the {{.Role}}. Your goal: {{.Goal}}.
{{.Backstory}}`))

var promptTemplate = template.Must(template.New("prompt").Parse(`{{.Task.Instructions}}
{{if .Task.Fields}}
Format each item as a JSON object with these fields:
{{range .Task.Fields}}- "{{.Name}}"{{if .List}} (list of strings){{end}}{{if not .Required}} (optional, omit when not mentioned){{end}}: {{.Describe}}
{{end}}
Respond with a JSON array only. Respond with [] when there are none.
{{end}}
Expected output: {{.Task.ExpectedOutput}}

Transcript:
{{.Context}}
`))

// TaskContext is the input every task receives.
type TaskContext struct {
	FullText string               `json:"full_text"`
	Speakers []string             `json:"speakers"`
	Segments []transcript.Segment `json:"segments"`
}

// NewTaskContext builds the shared task input from a transcript.
func NewTaskContext(t *transcript.Transcript) TaskContext {
	tc := TaskContext{FullText: t.FullText, Speakers: t.Speakers, Segments: t.Segments}
	if tc.Speakers == nil {
		tc.Speakers = []string{}
	}
	if tc.Segments == nil {
		tc.Segments = []transcript.Segment{}
	}
	return tc
}

// JSON renders the context as indented JSON for inclusion in prompts.
func (tc TaskContext) JSON() (string, error) {
	data, err := json.MarshalIndent(tc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode task context: %w", err)
	}
	return string(data), nil
}

// SystemPrompt renders the task's system message.
func (t Task) SystemPrompt() (string, error) {
	var buf bytes.Buffer
	if err := systemTemplate.Execute(&buf, t); err != nil {
		return "", fmt.Errorf("failed to execute system template: %w", err)
	}
	return buf.String(), nil
}

// Prompt renders the task's user message around the shared context.
func (t Task) Prompt(contextJSON string) (string, error) {
	var buf bytes.Buffer
	data := struct {
		Task    Task
		Context string
	}{Task: t, Context: contextJSON}
	if err := promptTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute prompt template: %w", err)
	}
	return buf.String(), nil
}
