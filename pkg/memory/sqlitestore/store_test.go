package sqlitestore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/meetmem/pkg/memory"
	"github.com/otherjamesbrown/meetmem/pkg/memory/memorytest"
)

func TestStore_Suite(t *testing.T) {
	memorytest.RunStoreSuite(t, func(t *testing.T) memory.Store {
		s, err := Open(filepath.Join(t.TempDir(), "memory.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "memory.db")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Upsert(ctx, []memory.Record{
		memorytest.Record("m1_summary_1", "m1", "summary", "general", "kept", 0.5, 0.25),
	}))
	require.NoError(t, s.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Where(ctx, memory.Filter{MeetingID: "m1"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "kept", got[0].Document)
	assert.Equal(t, []float32{0.5, 0.25}, got[0].Embedding)
	assert.Equal(t, path, reopened.Path())
}

func TestStore_NilClose(t *testing.T) {
	var s *Store
	assert.NoError(t, s.Close())
}
