package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/meetmem/pkg/buildinfo"
	"github.com/otherjamesbrown/meetmem/pkg/logging"
	"github.com/otherjamesbrown/meetmem/pkg/pipeline"
)

// NewWatchCommand creates the 'watch' command.
func NewWatchCommand(deps *Deps) *cobra.Command {
	if deps == nil {
		deps = DefaultDeps()
	}
	var (
		o           overrides
		interval    time.Duration
		metricsAddr string
		noIndex     bool
	)

	cmd := &cobra.Command{
		Use:   "watch [dir]",
		Short: "Process new recordings as they appear in a directory",
		Long: `Poll a directory and run every new recording through the pipeline.

A recording is new when it has no analysis artifact in the output directory.
A recording that fails is skipped until the file changes. Only one watcher
may run per directory; a lock file in the directory enforces it.

With --metrics-addr the watcher serves Prometheus metrics on /metrics and
build information on /version.

The directory defaults to audio_dir from the config file.

Examples:
  meetmem watch ~/Recordings
  meetmem watch ~/Recordings --interval 1m --metrics-addr :9464`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := ""
			if len(args) == 1 {
				dir = args[0]
			}
			return runWatch(cmd, deps, o, dir, interval, metricsAddr, !noIndex)
		},
	}
	stageFlags(cmd, &o, false, true, true)
	cmd.Flags().DurationVar(&interval, "interval", 0, "Polling interval (default from config: 30s)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve /metrics and /version on this address")
	cmd.Flags().BoolVar(&noIndex, "no-index", false, "Stop each run after writing the analysis")
	return cmd
}

func runWatch(cmd *cobra.Command, deps *Deps, o overrides, dir string, interval time.Duration, metricsAddr string, index bool) error {
	s, err := deps.open(o)
	if err != nil {
		return err
	}
	defer s.Close()

	if dir == "" {
		dir = s.cfg.AudioDir
	}
	if dir == "" {
		return errors.New("no directory given and audio_dir is not configured")
	}
	if interval <= 0 {
		interval = s.cfg.WatchInterval
	}
	if metricsAddr == "" {
		metricsAddr = s.cfg.MetricsAddr
	}

	p, err := s.newPipeline(cmd.Context(), index)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if metricsAddr != "" {
		srv, err := startMetricsServer(ctx, metricsAddr, deps, s.logger)
		if err != nil {
			return err
		}
		defer shutdownServer(srv, s.logger)
	}

	w := pipeline.NewWatcher(p, dir,
		pipeline.WithInterval(interval),
		pipeline.WithWatchLogger(s.logger))
	return w.Run(ctx)
}

// metricsMux serves the command's metrics registry and build information.
func metricsMux(deps *Deps) *http.ServeMux {
	deps.Metrics()
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/version", buildinfo.Handler("meetmem"))
	return mux
}

func startMetricsServer(ctx context.Context, addr string, deps *Deps, logger logging.Logger) (*http.Server, error) {
	// Process and Go runtime collectors may already be registered when the
	// registry is shared.
	for _, c := range []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := deps.Registry.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return nil, fmt.Errorf("registering collector: %w", err)
			}
		}
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:           metricsMux(deps),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", logging.Err(err))
		}
	}()
	logger.Info("Serving metrics", logging.F("addr", ln.Addr().String()))
	return srv, nil
}

func shutdownServer(srv *http.Server, logger logging.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("Metrics server shutdown failed", logging.Err(err))
	}
}
