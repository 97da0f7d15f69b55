package cmd

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/meetmem/pkg/logging"
)

func TestNewWatchCommand(t *testing.T) {
	cmd := NewWatchCommand(nil)
	require.NotNil(t, cmd)

	assert.Equal(t, "watch", cmd.Name())
	for _, f := range []string{"interval", "metrics-addr", "no-index", "output-dir", "model", "device"} {
		assert.NotNil(t, cmd.Flags().Lookup(f), "missing --%s", f)
	}
	assert.Nil(t, cmd.Flags().Lookup("output"), "watch writes several artifacts per recording")
	assert.Error(t, cmd.Args(cmd, []string{"a", "b"}))
}

func TestWatch_RequiresDirectory(t *testing.T) {
	env := newTestEnv(t)

	_, err := execute(t, NewWatchCommand(env.deps))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "audio_dir is not configured")
}

func TestMetricsMux(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(metricsMux(env.deps))
	defer srv.Close()

	t.Run("version", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/version")
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		var info map[string]string
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
		assert.Equal(t, "meetmem", info["component"])
	})

	t.Run("metrics", func(t *testing.T) {
		env.deps.Metrics().RunsTotal.WithLabelValues("ok").Inc()

		resp, err := http.Get(srv.URL + "/metrics")
		require.NoError(t, err)
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, string(body), "meetmem_")
	})
}

func TestStartMetricsServer(t *testing.T) {
	env := newTestEnv(t)

	srv, err := startMetricsServer(t.Context(), "127.0.0.1:0", env.deps, logging.NewNopLogger())
	require.NoError(t, err)
	shutdownServer(srv, logging.NewNopLogger())

	// Registering the runtime collectors twice is tolerated.
	srv, err = startMetricsServer(t.Context(), "127.0.0.1:0", env.deps, logging.NewNopLogger())
	require.NoError(t, err)
	shutdownServer(srv, logging.NewNopLogger())
}
