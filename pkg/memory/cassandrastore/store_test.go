package cassandrastore

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/meetmem/pkg/memory"
	"github.com/otherjamesbrown/meetmem/pkg/memory/memorytest"
)

// openTestStore connects to MEETMEM_TEST_CASSANDRA_HOSTS (comma separated)
// or skips the test.
func openTestStore(t *testing.T) *Store {
	t.Helper()

	hosts := os.Getenv("MEETMEM_TEST_CASSANDRA_HOSTS")
	if hosts == "" {
		t.Skip("MEETMEM_TEST_CASSANDRA_HOSTS not set")
	}

	s, err := Open(Config{Hosts: strings.Split(hosts, ","), Keyspace: "meetmem_test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Truncate(context.Background()))
	return s
}

func TestStore_Suite(t *testing.T) {
	memorytest.RunStoreSuite(t, func(t *testing.T) memory.Store {
		return openTestStore(t)
	})
}

func TestOpen_RequiresHosts(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, []string{"127.0.0.1"}, cfg.Hosts)
	assert.Equal(t, "meetmem", cfg.Keyspace)
	assert.Equal(t, 1, cfg.ReplicationFactor)
}
