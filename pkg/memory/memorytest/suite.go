// Package memorytest holds a behavioural test suite every memory.Store
// implementation must pass.
package memorytest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/meetmem/pkg/memory"
)

// Record builds a record with a small embedding.
func Record(id, meetingID string, section memory.Section, speaker, doc string, vec ...float32) memory.Record {
	return memory.Record{
		ID:       id,
		Document: doc,
		Metadata: memory.Metadata{
			MeetingID: meetingID,
			Section:   section,
			Speaker:   speaker,
			Timestamp: "2024-03-01T09:30:00Z",
		},
		Embedding: vec,
	}
}

// RunStoreSuite exercises store semantics against stores created by open.
// Each subtest gets a fresh, empty store.
func RunStoreSuite(t *testing.T, open func(t *testing.T) memory.Store) {
	t.Run("upsert overwrites by id and keeps order", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		require.NoError(t, s.Upsert(ctx, []memory.Record{
			Record("m1_decisions_1", "m1", "decisions", "general", "first", 1, 0),
			Record("m1_decisions_2", "m1", "decisions", "general", "second", 0, 1),
		}))
		require.NoError(t, s.Upsert(ctx, []memory.Record{
			Record("m1_decisions_1", "m1", "decisions", "general", "replaced", 1, 1),
			Record("m1_summary_3", "m1", "summary", "general", "third", 0, 1),
		}))

		n, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		all, err := s.Where(ctx, memory.Filter{})
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, []string{"replaced", "second", "third"}, []string{all[0].Document, all[1].Document, all[2].Document})
		assert.Equal(t, []float32{1, 1}, all[0].Embedding)
		assert.Equal(t, memory.Section("decisions"), all[0].Metadata.Section)
		assert.Equal(t, "2024-03-01T09:30:00Z", all[0].Metadata.Timestamp)
	})

	t.Run("where filters exactly", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		require.NoError(t, s.Upsert(ctx, []memory.Record{
			Record("a_1", "meeting_a", "action_items", "Bob", "a1", 1),
			Record("b_1", "meeting_b", "action_items", "Bob", "b1", 1),
			Record("a_2", "meeting_a", "summary", "general", "a2", 1),
		}))

		got, err := s.Where(ctx, memory.Filter{MeetingID: "meeting_a"})
		require.NoError(t, err)
		assert.Equal(t, []string{"a_1", "a_2"}, ids(got))

		got, err = s.Where(ctx, memory.Filter{Speaker: "Bob"})
		require.NoError(t, err)
		assert.Equal(t, []string{"a_1", "b_1"}, ids(got))

		got, err = s.Where(ctx, memory.Filter{MeetingID: "meeting_b", Speaker: "general"})
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("query ranks by cosine similarity", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		require.NoError(t, s.Upsert(ctx, []memory.Record{
			Record("x", "m", "decisions", "general", "x", 0, 1, 0),
			Record("y", "m", "decisions", "general", "y", 1, 0, 0),
			Record("z", "m", "decisions", "general", "z", 1, 1, 0),
		}))

		got, err := s.Query(ctx, []float32{1, 0, 0}, 2)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, []string{"y", "z"}, ids(got))
		assert.InDelta(t, 1.0, got[0].Score, 1e-6)
	})

	t.Run("empty store", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		n, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)

		got, err := s.Query(ctx, []float32{1}, 5)
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func ids(records []memory.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}
