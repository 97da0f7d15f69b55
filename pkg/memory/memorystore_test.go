package memory_test

import (
	"testing"

	"github.com/otherjamesbrown/meetmem/pkg/memory"
	"github.com/otherjamesbrown/meetmem/pkg/memory/memorytest"
)

func TestMemoryStore_Suite(t *testing.T) {
	memorytest.RunStoreSuite(t, func(*testing.T) memory.Store {
		return memory.NewMemoryStore()
	})
}
