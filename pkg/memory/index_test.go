package memory

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/meetmem/pkg/analysis"
	mmerrors "github.com/otherjamesbrown/meetmem/pkg/errors"
	"github.com/otherjamesbrown/meetmem/pkg/llm"
	"github.com/otherjamesbrown/meetmem/pkg/observability"
	"github.com/otherjamesbrown/meetmem/pkg/transcript"
)

const vocabSize = 512

// bagEmbedder maps each distinct lowercase word to its own dimension, so
// documents sharing no words are orthogonal.
type bagEmbedder struct {
	mu    sync.Mutex
	vocab map[string]int
	calls int
	err   error
}

func newBagEmbedder() *bagEmbedder {
	return &bagEmbedder{vocab: make(map[string]int)}
}

func (e *bagEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v := make([]float32, vocabSize)
		words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
			return !unicode.IsLetter(r)
		})
		for _, w := range words {
			if isLabel(w) {
				continue
			}
			idx, ok := e.vocab[w]
			if !ok {
				idx = len(e.vocab) % vocabSize
				e.vocab[w] = idx
			}
			v[idx]++
		}
		out[i] = v
	}
	return out, nil
}

func (e *bagEmbedder) Model() string { return "bag-of-words" }

// isLabel skips the field labels every rendered document carries.
func isLabel(w string) bool {
	switch w {
	case "decision", "made", "by", "context", "task", "owner", "deadline", "priority", "topic", "reason", "participants":
		return true
	}
	return false
}

type recordingGenerator struct {
	mu       sync.Mutex
	requests []*llm.CompletionRequest
	content  string
	err      error
}

func (g *recordingGenerator) Complete(_ context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	if g.err != nil {
		return nil, g.err
	}
	return &llm.CompletionResponse{Content: g.content}, nil
}

func fixedNow() time.Time {
	return time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
}

func newTestIndex(t *testing.T, opts ...Option) (*Index, *MemoryStore, *recordingGenerator) {
	t.Helper()
	store := NewMemoryStore()
	gen := &recordingGenerator{content: "narrative"}
	opts = append([]Option{WithClock(fixedNow)}, opts...)
	return New(store, newBagEmbedder(), gen, opts...), store, gen
}

func TestAdd_DecomposesSections(t *testing.T) {
	ix, store, _ := newTestIndex(t)
	ctx := context.Background()

	id, err := ix.Add(ctx, analysis.Result{
		Summary:     "Release planning.",
		Decisions:   []analysis.Decision{{Decision: "ship Friday", MadeBy: "Alice", Context: "release"}},
		ActionItems: []analysis.ActionItem{{Task: "write release notes", Owner: "Bob"}, {Task: "book room"}},
		FollowUps:   []analysis.FollowUp{{Topic: "budget", Reason: "open", Participants: analysis.StringList{"Alice"}}},
	}, "")
	require.NoError(t, err)
	assert.Equal(t, "meeting_20240301_093000", id)

	records, err := store.Where(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, records, 5)

	var sections []Section
	for _, r := range records {
		sections = append(sections, r.Metadata.Section)
		assert.Equal(t, id, r.Metadata.MeetingID)
		assert.True(t, strings.HasPrefix(r.ID, id+"_"+string(r.Metadata.Section)+"_"))
		assert.NotEmpty(t, r.Embedding)
		assert.Equal(t, "2024-03-01T09:30:00Z", r.Metadata.Timestamp)
	}
	assert.Equal(t, []Section{"summary", "decisions", "action_items", "action_items", "follow_ups"}, sections)
	assert.Equal(t, "general", records[0].Metadata.Speaker)
	assert.Equal(t, "Bob", records[2].Metadata.Speaker)
	assert.Equal(t, "general", records[3].Metadata.Speaker)
	assert.Equal(t, "Decision: ship Friday\nMade by: Alice\nContext: release", records[1].Document)
}

func TestAdd_EmptyResultIndexesNothing(t *testing.T) {
	ix, store, _ := newTestIndex(t)

	id, err := ix.Add(context.Background(), analysis.Result{}, "m1")
	require.NoError(t, err)
	assert.Equal(t, "m1", id)

	n, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestAdd_HashBucketCollisionOverwrites(t *testing.T) {
	ix, store, _ := newTestIndex(t, WithHasher(func(string) uint64 { return 100042 }))
	ctx := context.Background()

	_, err := ix.Add(ctx, analysis.Result{Decisions: []analysis.Decision{
		{Decision: "adopt the new vendor", MadeBy: "Alice", Context: "procurement"},
		{Decision: "freeze hiring", MadeBy: "Carol", Context: "budget"},
	}}, "m1")
	require.NoError(t, err)

	records, err := store.Where(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "m1_decisions_42", records[0].ID)
	assert.Contains(t, records[0].Document, "freeze hiring")

	_, err = ix.Add(ctx, analysis.Result{Decisions: []analysis.Decision{
		{Decision: "cancel the offsite", MadeBy: "Dan", Context: "travel"},
	}}, "m1")
	require.NoError(t, err)

	records, err = store.Where(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Contains(t, records[0].Document, "cancel the offsite")
}

func TestAdd_SameDocumentIsIdempotent(t *testing.T) {
	ix, store, _ := newTestIndex(t)
	ctx := context.Background()
	r := analysis.Result{Decisions: []analysis.Decision{{Decision: "ship", MadeBy: "A", Context: "c"}}}

	for i := 0; i < 3; i++ {
		_, err := ix.Add(ctx, r, "m1")
		require.NoError(t, err)
	}
	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestAdd_ConcurrentMeetings(t *testing.T) {
	ix, store, _ := newTestIndex(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, id := range []string{"a", "b", "c", "d"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := ix.Add(ctx, analysis.Result{
				Summary:   "summary " + id,
				Decisions: []analysis.Decision{{Decision: "d " + id, MadeBy: "x", Context: "y"}},
			}, id)
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 8, n)
}

func TestGetByMeeting_Isolation(t *testing.T) {
	ix, _, _ := newTestIndex(t)
	ctx := context.Background()

	_, err := ix.Add(ctx, analysis.Result{
		Summary:   "first meeting",
		Decisions: []analysis.Decision{{Decision: "ship", MadeBy: "Alice", Context: "c"}},
	}, "meeting_a")
	require.NoError(t, err)
	_, err = ix.Add(ctx, analysis.Result{
		Summary:     "second meeting",
		ActionItems: []analysis.ActionItem{{Task: "t", Owner: "Bob"}},
	}, "meeting_b")
	require.NoError(t, err)

	got, err := ix.GetByMeeting(ctx, "meeting_a")
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, r := range got {
		assert.Equal(t, "meeting_a", r.Metadata.MeetingID)
	}

	got, err = ix.GetByMeeting(ctx, "meeting_missing")
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = ix.GetByMeeting(ctx, "")
	assert.True(t, mmerrors.IsValidation(err))
}

func TestGetBySpeaker(t *testing.T) {
	ix, _, _ := newTestIndex(t)
	ctx := context.Background()

	_, err := ix.Add(ctx, analysis.Result{ActionItems: []analysis.ActionItem{
		{Task: "notes", Owner: "Bob"}, {Task: "room", Owner: "Alice"},
	}}, "m1")
	require.NoError(t, err)
	_, err = ix.Add(ctx, analysis.Result{ActionItems: []analysis.ActionItem{{Task: "deploy", Owner: "Bob"}}}, "m2")
	require.NoError(t, err)

	got, err := ix.GetBySpeaker(ctx, "Bob")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "m1", got[0].Metadata.MeetingID)
	assert.Equal(t, "m2", got[1].Metadata.MeetingID)
}

func TestSearch_RanksOnTopicFirst(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	ix, _, _ := newTestIndex(t, WithMetrics(metrics))
	ctx := context.Background()

	_, err := ix.Add(ctx, analysis.Result{
		Decisions: []analysis.Decision{{Decision: "Budget approval granted for the new servers", MadeBy: "Alice", Context: "Quarterly budget review"}},
		ActionItems: []analysis.ActionItem{
			{Task: "Update the onboarding wiki", Owner: "Bob"},
			{Task: "Schedule the team lunch", Owner: "Carol"},
			{Task: "Fix the flaky login test", Owner: "Dan"},
			{Task: "Rotate staging certificates", Owner: "Erin"},
		},
	}, "m1")
	require.NoError(t, err)

	results, err := ix.Search(ctx, "budget approval", 3)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, Section("decisions"), results[0].Metadata.Section)
	assert.Greater(t, results[0].Score, results[1].Score)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.RecordsIndexedTotal.WithLabelValues("decisions")))
	assert.Equal(t, float64(4), testutil.ToFloat64(metrics.RecordsIndexedTotal.WithLabelValues("action_items")))
}

func TestSearch_DefaultK(t *testing.T) {
	ix, _, _ := newTestIndex(t)
	ctx := context.Background()

	var items []analysis.ActionItem
	for _, task := range []string{"a one", "b two", "c three", "d four", "e five", "f six", "g seven"} {
		items = append(items, analysis.ActionItem{Task: task, Owner: "o"})
	}
	_, err := ix.Add(ctx, analysis.Result{ActionItems: items}, "m1")
	require.NoError(t, err)

	results, err := ix.Search(ctx, "anything", 0)
	require.NoError(t, err)
	assert.Len(t, results, DefaultK)
}

func TestIndex_CollaboratorFailuresAreIndexUnavailable(t *testing.T) {
	store := NewMemoryStore()
	embedder := newBagEmbedder()
	embedder.err = errors.New("connection refused")
	gen := &recordingGenerator{err: errors.New("503")}
	ix := New(store, embedder, gen)
	ctx := context.Background()

	_, err := ix.Add(ctx, analysis.Result{Summary: "s"}, "m1")
	assert.True(t, mmerrors.IsIndexUnavailable(err))

	_, err = ix.Search(ctx, "q", 3)
	assert.True(t, mmerrors.IsIndexUnavailable(err))

	require.NoError(t, store.Upsert(ctx, []Record{{ID: "x", Document: "doc", Metadata: Metadata{Speaker: "Bob"}}}))
	_, err = ix.SynthesizeAll(ctx)
	assert.True(t, mmerrors.IsIndexUnavailable(err))
	assert.Contains(t, err.Error(), "503")
}

func TestSynthesize_EmptySentinels(t *testing.T) {
	ix, _, gen := newTestIndex(t)
	ctx := context.Background()

	text, err := ix.SynthesizeAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, "No meetings found in memory.", text)

	text, err = ix.SynthesizeSpeaker(ctx, "Alice")
	require.NoError(t, err)
	assert.Equal(t, "No contributions found for Alice.", text)

	assert.Empty(t, gen.requests)
}

func TestSynthesize_Prompts(t *testing.T) {
	ix, _, gen := newTestIndex(t)
	ctx := context.Background()

	_, err := ix.Add(ctx, analysis.Result{
		Summary:     "Kickoff.",
		ActionItems: []analysis.ActionItem{{Task: "draft plan", Owner: "Bob"}},
	}, "m1")
	require.NoError(t, err)

	text, err := ix.SynthesizeAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, "narrative", text)

	text, err = ix.SynthesizeSpeaker(ctx, "Bob")
	require.NoError(t, err)
	assert.Equal(t, "narrative", text)

	require.Len(t, gen.requests, 2)
	all := gen.requests[0]
	assert.Equal(t, "gpt-4", all.Model)
	assert.Equal(t, 0.3, all.Temperature)
	assert.Equal(t, "Summarize the following meeting content:\nKickoff.\nTask: draft plan\nOwner: Bob", all.Prompt)

	speaker := gen.requests[1]
	assert.Contains(t, speaker.System, "Bob's contributions across all meetings")
	assert.Equal(t, "Summarize the following contributions:\nTask: draft plan\nOwner: Bob", speaker.Prompt)
}

func TestEndToEnd_AnalyzeThenAdd(t *testing.T) {
	tr, err := transcript.Format(transcript.RawTranscription{
		Segments: []transcript.RawSegment{
			transcript.NewRawSegment("Alice", 0, 2.4, "We decided to ship Friday"),
			transcript.NewRawSegment("Bob", 2.4, 5.1, "I'll write the release notes"),
		},
		Speakers: []string{"Alice", "Bob"},
		Text:     "We decided to ship Friday I'll write the release notes",
	})
	require.NoError(t, err)

	stub := llm.GeneratorFunc(func(_ context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
		switch {
		case strings.Contains(req.System, "Decision Extractor"):
			return &llm.CompletionResponse{Content: `[{"decision": "ship Friday", "made_by": "Alice", "context": "release timing"}]`}, nil
		case strings.Contains(req.System, "Action Item Tracker"):
			return &llm.CompletionResponse{Content: `[{"task": "write release notes", "owner": "Bob"}]`}, nil
		case strings.Contains(req.System, "Follow-up Analyzer"):
			return &llm.CompletionResponse{Content: `[]`}, nil
		default:
			return &llm.CompletionResponse{Content: ""}, nil
		}
	})

	result, err := analysis.NewOrchestrator(stub).Analyze(context.Background(), tr)
	require.NoError(t, err)
	require.Len(t, result.Decisions, 1)
	assert.Equal(t, "ship Friday", result.Decisions[0].Decision)
	assert.Equal(t, "Alice", result.Decisions[0].MadeBy)
	require.Len(t, result.ActionItems, 1)
	assert.Equal(t, "write release notes", result.ActionItems[0].Task)
	assert.Equal(t, "Bob", result.ActionItems[0].Owner)

	ix, store, _ := newTestIndex(t)
	id, err := ix.Add(context.Background(), *result, "")
	require.NoError(t, err)

	records, err := store.Where(context.Background(), Filter{MeetingID: id})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, Section("decisions"), records[0].Metadata.Section)
	assert.Equal(t, Section("action_items"), records[1].Metadata.Section)
}
