package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/otherjamesbrown/meetmem/pkg/analysis"
	mmerrors "github.com/otherjamesbrown/meetmem/pkg/errors"
	"github.com/otherjamesbrown/meetmem/pkg/llm"
	"github.com/otherjamesbrown/meetmem/pkg/logging"
	"github.com/otherjamesbrown/meetmem/pkg/observability"
)

// Defaults for synthesis.
const (
	DefaultK                    = 5
	DefaultSynthesisTemperature = 0.3

	NoMeetingsMessage = "No meetings found in memory."
)

const lockStripes = 64

const (
	allSystemPrompt = "You are a meeting analyst. Create a comprehensive summary of the following meeting content, highlighting key decisions, action items, and important discussions."
	allUserPrompt   = "Summarize the following meeting content:\n"

	speakerSystemPrompt = "You are a meeting analyst. Create a comprehensive summary of %s's contributions across all meetings, highlighting their key decisions, action items, and important discussions."
	speakerUserPrompt   = "Summarize the following contributions:\n"
)

// NoContributionsMessage is returned by SynthesizeSpeaker when the speaker
// has no records.
func NoContributionsMessage(speaker string) string {
	return fmt.Sprintf("No contributions found for %s.", speaker)
}

// Index is the meeting memory: it decomposes analyses into records, embeds
// them and answers similarity, meeting and speaker queries.
type Index struct {
	store       Store
	embedder    llm.Embedder
	gen         llm.Generator
	model       string
	temperature float64
	hash        Hasher
	now         func() time.Time
	locks       [lockStripes]sync.Mutex
	logger      logging.Logger
	metrics     *observability.Metrics
	tracer      *observability.Tracer
}

// Option configures the index.
type Option func(*Index)

// WithModel sets the generation model used for synthesis.
func WithModel(model string) Option {
	return func(ix *Index) {
		if model != "" {
			ix.model = model
		}
	}
}

// WithHasher replaces the document hash used in record ids.
func WithHasher(h Hasher) Option {
	return func(ix *Index) {
		ix.hash = h
	}
}

// WithClock sets the time source for synthesized meeting ids and record
// timestamps.
func WithClock(now func() time.Time) Option {
	return func(ix *Index) {
		ix.now = now
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger logging.Logger) Option {
	return func(ix *Index) {
		ix.logger = logger
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(ix *Index) {
		ix.metrics = m
	}
}

// WithTracer sets the tracer.
func WithTracer(t *observability.Tracer) Option {
	return func(ix *Index) {
		ix.tracer = t
	}
}

// New creates an index over store using embedder for vectors and gen for
// synthesis.
func New(store Store, embedder llm.Embedder, gen llm.Generator, opts ...Option) *Index {
	ix := &Index{
		store:       store,
		embedder:    embedder,
		gen:         gen,
		model:       llm.DefaultModel,
		temperature: DefaultSynthesisTemperature,
		hash:        xxhash.Sum64String,
		now:         time.Now,
		logger:      logging.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(ix)
	}
	ix.logger = ix.logger.With(logging.F("component", "memory"))
	return ix
}

// Add indexes a snapshot of r under meetingID, synthesizing an id from the
// current time when meetingID is empty. It returns the meeting id.
func (ix *Index) Add(ctx context.Context, r analysis.Result, meetingID string) (id string, err error) {
	start := time.Now()
	ctx, span := ix.tracer.StartIndexSpan(ctx, "add")
	sh := observability.NewSpanHelper(span)
	defer func() {
		ix.finish(sh, "add", start, err)
	}()

	snapshot := r.Clone()
	now := ix.now()
	if meetingID == "" {
		meetingID = MeetingID(now)
	}
	sh.SetMeeting(meetingID)

	records := dedupe(Decompose(&snapshot, meetingID, now, ix.hash))
	if len(records) == 0 {
		ix.logger.Info("Nothing to index", logging.F("meeting_id", meetingID))
		return meetingID, nil
	}

	docs := make([]string, len(records))
	for i, rec := range records {
		docs[i] = rec.Document
	}
	vectors, err := ix.embedder.Embed(ctx, docs)
	if err != nil {
		return "", mmerrors.IndexError("embed", err)
	}
	if len(vectors) != len(records) {
		return "", mmerrors.IndexError("embed", fmt.Errorf("got %d embeddings for %d documents", len(vectors), len(records)))
	}
	for i := range records {
		records[i].Embedding = vectors[i]
	}

	unlock := ix.lock(records)
	err = ix.store.Upsert(ctx, records)
	unlock()
	if err != nil {
		return "", mmerrors.IndexError("upsert", err)
	}

	counts := make(map[Section]int)
	for _, rec := range records {
		counts[rec.Metadata.Section]++
	}
	for section, n := range counts {
		ix.metrics.RecordIndexed(string(section), n)
	}
	sh.SetRecords(len(records))

	ix.logger.Info("Added meeting to memory",
		logging.F("meeting_id", meetingID),
		logging.F("records", len(records)))
	return meetingID, nil
}

// Search returns at most k records nearest to query, best first. k <= 0
// means DefaultK.
func (ix *Index) Search(ctx context.Context, query string, k int) (out []Record, err error) {
	start := time.Now()
	ctx, span := ix.tracer.StartIndexSpan(ctx, "search")
	sh := observability.NewSpanHelper(span)
	defer func() {
		sh.SetRecords(len(out))
		ix.finish(sh, "search", start, err)
	}()

	if k <= 0 {
		k = DefaultK
	}
	vectors, err := ix.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, mmerrors.IndexError("embed query", err)
	}
	if len(vectors) != 1 {
		return nil, mmerrors.IndexError("embed query", errors.New("no embedding returned"))
	}
	out, err = ix.store.Query(ctx, vectors[0], k)
	if err != nil {
		return nil, mmerrors.IndexError("query", err)
	}
	return out, nil
}

// GetByMeeting returns every record of a meeting in store order.
func (ix *Index) GetByMeeting(ctx context.Context, meetingID string) ([]Record, error) {
	if meetingID == "" {
		return nil, fmt.Errorf("%w: meeting id is required", mmerrors.ErrValidation)
	}
	return ix.where(ctx, "get_by_meeting", Filter{MeetingID: meetingID})
}

// GetBySpeaker returns every record attributed to speaker in store order.
func (ix *Index) GetBySpeaker(ctx context.Context, speaker string) ([]Record, error) {
	if speaker == "" {
		return nil, fmt.Errorf("%w: speaker is required", mmerrors.ErrValidation)
	}
	return ix.where(ctx, "get_by_speaker", Filter{Speaker: speaker})
}

func (ix *Index) where(ctx context.Context, op string, f Filter) (out []Record, err error) {
	start := time.Now()
	ctx, span := ix.tracer.StartIndexSpan(ctx, op)
	sh := observability.NewSpanHelper(span)
	defer func() {
		sh.SetRecords(len(out))
		ix.finish(sh, op, start, err)
	}()

	out, err = ix.store.Where(ctx, f)
	if err != nil {
		return nil, mmerrors.IndexError(op, err)
	}
	return out, nil
}

// SynthesizeAll asks the generator for one narrative across every stored
// document. It returns NoMeetingsMessage when the index is empty.
func (ix *Index) SynthesizeAll(ctx context.Context) (string, error) {
	records, err := ix.where(ctx, "list", Filter{})
	if err != nil {
		return "", err
	}
	if len(records) == 0 {
		return NoMeetingsMessage, nil
	}
	return ix.synthesize(ctx, "synthesize_all", allSystemPrompt, allUserPrompt+joinDocuments(records))
}

// SynthesizeSpeaker summarizes one speaker's contributions across meetings.
func (ix *Index) SynthesizeSpeaker(ctx context.Context, speaker string) (string, error) {
	records, err := ix.GetBySpeaker(ctx, speaker)
	if err != nil {
		return "", err
	}
	if len(records) == 0 {
		return NoContributionsMessage(speaker), nil
	}
	system := fmt.Sprintf(speakerSystemPrompt, speaker)
	return ix.synthesize(ctx, "synthesize_speaker", system, speakerUserPrompt+joinDocuments(records))
}

func (ix *Index) synthesize(ctx context.Context, op, system, prompt string) (text string, err error) {
	start := time.Now()
	ctx, span := ix.tracer.StartIndexSpan(ctx, op)
	sh := observability.NewSpanHelper(span)
	defer func() {
		ix.finish(sh, op, start, err)
	}()

	resp, err := ix.gen.Complete(ctx, &llm.CompletionRequest{
		Model:       ix.model,
		System:      system,
		Prompt:      prompt,
		Temperature: ix.temperature,
	})
	if err != nil {
		return "", mmerrors.IndexError(op, err)
	}
	sh.SetUsage(resp.InputTokens, resp.OutputTokens)
	return resp.Content, nil
}

// Count returns the number of stored records.
func (ix *Index) Count(ctx context.Context) (int, error) {
	n, err := ix.store.Count(ctx)
	if err != nil {
		return 0, mmerrors.IndexError("count", err)
	}
	return n, nil
}

// Close flushes and closes the backing store.
func (ix *Index) Close() error {
	if err := ix.store.Close(); err != nil {
		ix.logger.Warn("Closing memory store failed", logging.Err(err))
		return err
	}
	return nil
}

func (ix *Index) finish(sh *observability.SpanHelper, op string, start time.Time, err error) {
	ix.metrics.RecordIndexOp(op, time.Since(start), err)
	if err != nil {
		sh.SetError(err, string(mmerrors.ErrCodeIndexUnavailable))
	} else {
		sh.SetSuccess()
	}
	sh.End()
}

// lock acquires the stripe locks covering the records' ids in ascending
// order and returns a function releasing them.
func (ix *Index) lock(records []Record) func() {
	seen := make(map[int]bool)
	var stripes []int
	for _, r := range records {
		s := int(xxhash.Sum64String(r.ID) % lockStripes)
		if !seen[s] {
			seen[s] = true
			stripes = append(stripes, s)
		}
	}
	sort.Ints(stripes)
	for _, s := range stripes {
		ix.locks[s].Lock()
	}
	return func() {
		for i := len(stripes) - 1; i >= 0; i-- {
			ix.locks[stripes[i]].Unlock()
		}
	}
}

// dedupe collapses records sharing an id, keeping the last writer's content
// at the first occurrence's position.
func dedupe(records []Record) []Record {
	pos := make(map[string]int, len(records))
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if i, ok := pos[r.ID]; ok {
			out[i] = r
			continue
		}
		pos[r.ID] = len(out)
		out = append(out, r)
	}
	return out
}

func joinDocuments(records []Record) string {
	docs := make([]string, len(records))
	for i, r := range records {
		docs[i] = r.Document
	}
	return strings.Join(docs, "\n")
}
