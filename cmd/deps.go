// Package cmd provides CLI commands for the meetmem tool.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/otherjamesbrown/meetmem/config"
	"github.com/otherjamesbrown/meetmem/credentials"
	"github.com/otherjamesbrown/meetmem/pkg/analysis"
	"github.com/otherjamesbrown/meetmem/pkg/asr"
	"github.com/otherjamesbrown/meetmem/pkg/llm"
	"github.com/otherjamesbrown/meetmem/pkg/logging"
	"github.com/otherjamesbrown/meetmem/pkg/memory"
	"github.com/otherjamesbrown/meetmem/pkg/memory/cassandrastore"
	"github.com/otherjamesbrown/meetmem/pkg/memory/embedcache"
	"github.com/otherjamesbrown/meetmem/pkg/memory/pgstore"
	"github.com/otherjamesbrown/meetmem/pkg/memory/sqlitestore"
	"github.com/otherjamesbrown/meetmem/pkg/observability"
	"github.com/otherjamesbrown/meetmem/pkg/pipeline"
)

// LLM is a client that both generates text and embeds it.
type LLM interface {
	llm.Generator
	llm.Embedder
}

// Deps holds the dependencies shared by every meetmem command. Tests swap
// the factories for fakes.
type Deps struct {
	LoadConfig      func() (*config.Config, error)
	NewLogger       func(cfg *config.Config) logging.Logger
	OpenCredentials func() (*credentials.Store, error)
	NewTranscriber  func(cfg *config.Config, hfToken string, logger logging.Logger) (asr.Transcriber, error)
	NewLLM          func(cfg *config.Config, apiKey string) (LLM, error)
	OpenStore       func(ctx context.Context, cfg *config.Config, logger logging.Logger, reg prometheus.Registerer) (memory.Store, error)
	// OpenCache returns the embedding cache backend, or nil when caching is
	// disabled.
	OpenCache func(ctx context.Context, cfg *config.Config) (embedcache.KV, func() error, error)

	Registry *prometheus.Registry
	Tracer   *observability.Tracer

	metricsOnce sync.Once
	metrics     *observability.Metrics
}

// DefaultDeps returns the dependencies for production use.
func DefaultDeps() *Deps {
	return &Deps{
		LoadConfig:      config.LoadConfig,
		NewLogger:       newLogger,
		OpenCredentials: credentials.NewStore,
		NewTranscriber:  newTranscriber,
		NewLLM:          newLLM,
		OpenStore:       openStore,
		OpenCache:       openCache,
		Registry:        prometheus.NewRegistry(),
		Tracer:          observability.NewTracer(),
	}
}

// Metrics returns the metrics registered on d.Registry.
func (d *Deps) Metrics() *observability.Metrics {
	d.metricsOnce.Do(func() {
		if d.Registry == nil {
			d.Registry = prometheus.NewRegistry()
		}
		d.metrics = observability.NewMetrics(d.Registry)
	})
	return d.metrics
}

func newLogger(cfg *config.Config) logging.Logger {
	lc := logging.DefaultConfig()
	lc.Format = logging.ParseFormat(cfg.LogFormat)
	if cfg.Debug {
		lc.Level = logging.LevelDebug
	}
	return logging.NewLogger(lc)
}

func newTranscriber(cfg *config.Config, hfToken string, logger logging.Logger) (asr.Transcriber, error) {
	switch cfg.ASR.Transcriber {
	case config.TranscriberFile:
		return asr.NewFileTranscriber(
			asr.WithSidecarDir(cfg.ASR.SidecarDir),
			asr.WithFileLogger(logger),
		), nil
	case config.TranscriberWhisperX, "":
		device, err := asr.ResolveDevice(cfg.ASR.Device)
		if err != nil {
			return nil, err
		}
		w := asr.NewWhisperX(
			asr.WithModel(cfg.ASR.Model),
			asr.WithDevice(device),
			asr.WithLanguage(cfg.ASR.Language),
			asr.WithSpeakerBounds(cfg.ASR.MinSpeakers, cfg.ASR.MaxSpeakers),
			asr.WithHFToken(hfToken),
			asr.WithLogger(logger),
		)
		if err := w.Ready(); err != nil {
			return nil, err
		}
		return w, nil
	default:
		return nil, fmt.Errorf("unknown transcriber %q", cfg.ASR.Transcriber)
	}
}

func newLLM(cfg *config.Config, apiKey string) (LLM, error) {
	opts := []llm.Option{
		llm.WithModel(cfg.LLM.Model),
		llm.WithEmbeddingModel(cfg.LLM.EmbeddingModel),
	}
	if cfg.LLM.BaseURL != "" {
		opts = append(opts, llm.WithBaseURL(cfg.LLM.BaseURL))
	}
	client, err := llm.NewOpenAI(apiKey, opts...)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func openStore(ctx context.Context, cfg *config.Config, logger logging.Logger, reg prometheus.Registerer) (memory.Store, error) {
	switch cfg.Memory.Backend {
	case config.BackendSQLite:
		return sqlitestore.Open(cfg.Memory.SQLitePath)
	case config.BackendPostgres:
		return pgstore.Open(ctx, cfg.Memory.Postgres,
			pgstore.WithLogger(logger),
			pgstore.WithRegisterer(reg))
	case config.BackendCassandra:
		return cassandrastore.Open(cfg.Memory.Cassandra)
	case config.BackendMemory:
		logger.Warn("Using the in-process memory store; records are lost on exit")
		return memory.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown memory backend %q", cfg.Memory.Backend)
	}
}

func openCache(ctx context.Context, cfg *config.Config) (embedcache.KV, func() error, error) {
	if !cfg.Cache.Enabled() {
		return nil, nil, nil
	}
	client, err := embedcache.Connect(ctx, cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Cache.RedisAddr, err)
	}
	return embedcache.NewRedisKV(client), client.Close, nil
}

// session is the per-invocation state built from Deps and the loaded config.
type session struct {
	deps    *Deps
	cfg     *config.Config
	logger  logging.Logger
	store   *credentials.Store
	closers []func() error
}

// overrides carries the per-command flags that adjust the loaded config.
type overrides struct {
	outputDir  string
	outputFile string
	model      string
	device    string
}

func (o overrides) apply(cfg *config.Config) {
	if o.outputDir != "" {
		cfg.OutputDir = o.outputDir
	}
	if o.model != "" {
		cfg.LLM.Model = o.model
	}
	if o.device != "" {
		cfg.ASR.Device = o.device
	}
}

// artifactPath returns the --output file when one was given, else def.
func (o overrides) artifactPath(def string) string {
	if o.outputFile != "" {
		return o.outputFile
	}
	return def
}

// open loads the configuration and starts a session.
func (d *Deps) open(o overrides) (*session, error) {
	if d.LoadConfig == nil {
		return nil, errors.New("no configuration loader")
	}
	cfg, err := d.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	o.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	newLog := d.NewLogger
	if newLog == nil {
		newLog = newLogger
	}
	return &session{deps: d, cfg: cfg, logger: newLog(cfg)}, nil
}

// Close releases every resource opened during the session.
func (s *session) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// secret resolves a provider credential from the environment or, failing
// that, the encrypted store. A secret that cannot be found is returned empty
// and the collaborator that needs it reports the problem.
func (s *session) secret(provider string) string {
	if v := strings.TrimSpace(os.Getenv(credentials.ProviderEnv[provider])); v != "" {
		return v
	}
	if s.store == nil {
		if s.deps.OpenCredentials == nil {
			return ""
		}
		store, err := s.deps.OpenCredentials()
		if err != nil {
			s.logger.Debug("Credential store unavailable", logging.F("provider", provider), logging.Err(err))
			return ""
		}
		s.store = store
	}
	secret, _, err := credentials.Resolve(s.store, provider)
	if err != nil {
		s.logger.Debug("No stored credential", logging.F("provider", provider), logging.Err(err))
		return ""
	}
	return secret
}

func (s *session) transcriber() (asr.Transcriber, error) {
	var token string
	if s.cfg.ASR.Transcriber != config.TranscriberFile {
		token = s.secret(credentials.ProviderHuggingFace)
	}
	return s.deps.NewTranscriber(s.cfg, token, s.logger)
}

func (s *session) client() (LLM, error) {
	return s.deps.NewLLM(s.cfg, s.secret(credentials.ProviderOpenAI))
}

func (s *session) orchestrator(gen llm.Generator) *analysis.Orchestrator {
	return analysis.NewOrchestrator(gen,
		analysis.WithModel(s.cfg.LLM.Model),
		analysis.WithTemperature(s.cfg.LLM.Temperature),
		analysis.WithTokenBudget(s.cfg.LLM.MaxContextTokens, llm.NewTokenCounter(s.cfg.LLM.Model)),
		analysis.WithLogger(s.logger),
		analysis.WithMetrics(s.deps.Metrics()),
		analysis.WithTracer(s.deps.Tracer),
	)
}

// index opens the configured store, wrapping the embedder with the Redis
// cache when one is configured.
func (s *session) index(ctx context.Context, client LLM) (*memory.Index, error) {
	s.deps.Metrics()
	store, err := s.deps.OpenStore(ctx, s.cfg, s.logger, s.deps.Registry)
	if err != nil {
		return nil, fmt.Errorf("opening %s memory store: %w", s.cfg.Memory.Backend, err)
	}
	s.closers = append(s.closers, store.Close)

	var embedder llm.Embedder = client
	if s.deps.OpenCache != nil {
		kv, closeKV, err := s.deps.OpenCache(ctx, s.cfg)
		if err != nil {
			s.logger.Warn("Embedding cache unavailable, continuing without it", logging.Err(err))
		} else if kv != nil {
			if closeKV != nil {
				s.closers = append(s.closers, closeKV)
			}
			embedder = embedcache.New(client, kv,
				embedcache.WithTTL(s.cfg.Cache.TTL),
				embedcache.WithLogger(s.logger))
		}
	}

	return memory.New(store, embedder, client,
		memory.WithModel(s.cfg.LLM.Model),
		memory.WithLogger(s.logger),
		memory.WithMetrics(s.deps.Metrics()),
		memory.WithTracer(s.deps.Tracer),
	), nil
}

// newPipeline wires every collaborator into a Pipeline. With index false the
// run stops after the analysis artifact.
func (s *session) newPipeline(ctx context.Context, index bool) (*pipeline.Pipeline, error) {
	tr, err := s.transcriber()
	if err != nil {
		return nil, err
	}
	client, err := s.client()
	if err != nil {
		return nil, err
	}

	var indexer pipeline.Indexer
	if index {
		ix, err := s.index(ctx, client)
		if err != nil {
			return nil, err
		}
		indexer = ix
	}

	return pipeline.New(tr, s.orchestrator(client), indexer,
		pipeline.WithOutputDir(s.cfg.OutputDir),
		pipeline.WithLogger(s.logger),
		pipeline.WithMetrics(s.deps.Metrics()),
		pipeline.WithTracer(s.deps.Tracer),
	), nil
}
