// Package config provides configuration management for the meetmem
// command-line tool. Settings come from defaults, then the YAML file, then
// MEETMEM_* environment variables; command-line flags are applied last by
// the caller.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/otherjamesbrown/meetmem/pkg/analysis"
	"github.com/otherjamesbrown/meetmem/pkg/asr"
	"github.com/otherjamesbrown/meetmem/pkg/db"
	mmerrors "github.com/otherjamesbrown/meetmem/pkg/errors"
	"github.com/otherjamesbrown/meetmem/pkg/llm"
	"github.com/otherjamesbrown/meetmem/pkg/logging"
	"github.com/otherjamesbrown/meetmem/pkg/memory"
	"github.com/otherjamesbrown/meetmem/pkg/memory/cassandrastore"
	"github.com/otherjamesbrown/meetmem/pkg/memory/embedcache"
	"github.com/otherjamesbrown/meetmem/pkg/pipeline"
)

// OutputFormat defines the supported output formats for command results.
type OutputFormat string

const (
	// OutputFormatText renders tables and plain text.
	OutputFormatText OutputFormat = "text"
	// OutputFormatJSON is JSON output for machine processing.
	OutputFormatJSON OutputFormat = "json"
	// OutputFormatYAML is YAML output for machine processing.
	OutputFormatYAML OutputFormat = "yaml"
)

// Memory backends.
const (
	BackendSQLite    = "sqlite"
	BackendPostgres  = "postgres"
	BackendCassandra = "cassandra"
	BackendMemory    = "memory"
)

// Transcriber kinds.
const (
	TranscriberWhisperX = "whisperx"
	TranscriberFile     = "file"
)

// Default configuration values.
const (
	DefaultConfigDir    = ".meetmem"
	DefaultConfigFile   = "config.yaml"
	DefaultSQLiteFile   = "memory.db"
	DefaultOutputFormat = OutputFormatText
	DefaultBackend      = BackendSQLite
)

// EnvConfigDir overrides the configuration directory.
const EnvConfigDir = "MEETMEM_CONFIG_DIR"

// LLMConfig configures text generation and embeddings.
type LLMConfig struct {
	Model            string  `yaml:"model"`
	BaseURL          string  `yaml:"base_url,omitempty"`
	Temperature      float64 `yaml:"temperature"`
	MaxContextTokens int     `yaml:"max_context_tokens"`
	EmbeddingModel   string  `yaml:"embedding_model"`
}

// ASRConfig configures transcription.
type ASRConfig struct {
	// Transcriber is "whisperx" or "file" (sidecar transcripts).
	Transcriber string `yaml:"transcriber"`
	Model       string `yaml:"model"`
	// Device is "cuda", "cpu" or empty to detect.
	Device      string `yaml:"device,omitempty"`
	Language    string `yaml:"language"`
	MinSpeakers int    `yaml:"min_speakers"`
	MaxSpeakers int    `yaml:"max_speakers"`
	SidecarDir  string `yaml:"sidecar_dir,omitempty"`
}

// MemoryConfig selects and configures the memory store.
type MemoryConfig struct {
	Backend    string                `yaml:"backend"`
	SQLitePath string                `yaml:"sqlite_path,omitempty"`
	Postgres   *db.Config            `yaml:"postgres,omitempty"`
	Cassandra  cassandrastore.Config `yaml:"cassandra"`
	SearchK    int                   `yaml:"search_k"`
}

// CacheConfig configures the Redis embedding cache. An empty address
// disables it.
type CacheConfig struct {
	RedisAddr     string        `yaml:"redis_addr,omitempty"`
	RedisPassword string        `yaml:"-"`
	RedisDB       int           `yaml:"redis_db,omitempty"`
	TTL           time.Duration `yaml:"ttl"`
}

// Enabled reports whether a Redis address is set.
func (c CacheConfig) Enabled() bool {
	return c.RedisAddr != ""
}

// Config holds all meetmem settings.
type Config struct {
	OutputDir     string        `yaml:"output_dir"`
	AudioDir      string        `yaml:"audio_dir,omitempty"`
	OutputFormat  OutputFormat  `yaml:"output_format"`
	Debug         bool          `yaml:"debug,omitempty"`
	LogFormat     string        `yaml:"log_format"`
	MetricsAddr   string        `yaml:"metrics_addr,omitempty"`
	WatchInterval time.Duration `yaml:"watch_interval"`

	LLM    LLMConfig    `yaml:"llm"`
	ASR    ASRConfig    `yaml:"asr"`
	Memory MemoryConfig `yaml:"memory"`
	Cache  CacheConfig  `yaml:"cache"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		OutputDir:     pipeline.DefaultOutputDir,
		OutputFormat:  DefaultOutputFormat,
		LogFormat:     string(logging.FormatAuto),
		WatchInterval: pipeline.DefaultWatchInterval,
		LLM: LLMConfig{
			Model:            llm.DefaultModel,
			Temperature:      analysis.DefaultTemperature,
			MaxContextTokens: analysis.DefaultMaxContextTokens,
			EmbeddingModel:   llm.DefaultEmbeddingModel,
		},
		ASR: ASRConfig{
			Transcriber: TranscriberWhisperX,
			Model:       asr.DefaultModel,
			Language:    asr.DefaultLanguage,
			MinSpeakers: asr.MinSpeakers,
			MaxSpeakers: asr.MaxSpeakers,
		},
		Memory: MemoryConfig{
			Backend:   DefaultBackend,
			Postgres:  db.DefaultConfig(),
			Cassandra: cassandrastore.DefaultConfig(),
			SearchK:   memory.DefaultK,
		},
		Cache: CacheConfig{
			TTL: embedcache.DefaultTTL,
		},
	}
}

// ConfigDir returns $MEETMEM_CONFIG_DIR, or ~/.meetmem.
func ConfigDir() (string, error) {
	if dir := os.Getenv(EnvConfigDir); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, DefaultConfigDir), nil
}

// ConfigPath returns the full path to the default configuration file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DefaultConfigFile), nil
}

// LoadConfig loads the default configuration file when it exists.
func LoadConfig() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, fmt.Errorf("getting config path: %w", err)
	}
	return Load(path, false)
}

// Load builds the configuration from defaults, the file at path and the
// environment, then validates it. When required is false a missing file is
// skipped.
func Load(path string, required bool) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); err == nil {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	} else if required {
		return nil, fmt.Errorf("%w: config file %s", mmerrors.ErrSourceNotFound, path)
	}

	loadFromEnv(cfg)

	if err := cfg.resolvePaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	return nil
}

// loadFromEnv overlays environment variables onto the configuration.
func loadFromEnv(cfg *Config) {
	setString(&cfg.OutputDir, "MEETMEM_OUTPUT_DIR")
	setString(&cfg.AudioDir, "MEETMEM_AUDIO_DIR")
	if v := os.Getenv("MEETMEM_OUTPUT_FORMAT"); v != "" {
		cfg.OutputFormat = OutputFormat(v)
	}
	if v := os.Getenv("MEETMEM_DEBUG"); v == "true" || v == "1" {
		cfg.Debug = true
	}
	setString(&cfg.LogFormat, "MEETMEM_LOG_FORMAT")
	setString(&cfg.MetricsAddr, "MEETMEM_METRICS_ADDR")
	if v := os.Getenv("MEETMEM_WATCH_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.WatchInterval = d
		}
	}

	setString(&cfg.LLM.Model, "MEETMEM_LLM_MODEL")
	setString(&cfg.LLM.BaseURL, "MEETMEM_LLM_BASE_URL")
	setString(&cfg.LLM.EmbeddingModel, "MEETMEM_EMBEDDING_MODEL")
	if v := os.Getenv("MEETMEM_LLM_TEMPERATURE"); v != "" {
		if t, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.LLM.Temperature = t
		}
	}

	setString(&cfg.ASR.Transcriber, "MEETMEM_ASR_TRANSCRIBER")
	setString(&cfg.ASR.Model, "MEETMEM_ASR_MODEL")
	setString(&cfg.ASR.Device, "MEETMEM_ASR_DEVICE")
	setString(&cfg.ASR.Language, "MEETMEM_ASR_LANGUAGE")

	setString(&cfg.Memory.Backend, "MEETMEM_MEMORY_BACKEND")
	setString(&cfg.Memory.SQLitePath, "MEETMEM_SQLITE_PATH")
	if v := os.Getenv("MEETMEM_CASSANDRA_HOSTS"); v != "" {
		cfg.Memory.Cassandra.Hosts = splitList(v)
	}
	setString(&cfg.Memory.Cassandra.Keyspace, "MEETMEM_CASSANDRA_KEYSPACE")
	if cfg.Memory.Postgres == nil {
		cfg.Memory.Postgres = db.DefaultConfig()
	}
	cfg.Memory.Postgres.ApplyEnv()

	setString(&cfg.Cache.RedisAddr, "MEETMEM_REDIS_ADDR")
	setString(&cfg.Cache.RedisPassword, "MEETMEM_REDIS_PASSWORD")
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) resolvePaths() error {
	var err error
	if c.OutputDir, err = ExpandPath(c.OutputDir); err != nil {
		return err
	}
	if c.AudioDir, err = ExpandPath(c.AudioDir); err != nil {
		return err
	}
	if c.ASR.SidecarDir, err = ExpandPath(c.ASR.SidecarDir); err != nil {
		return err
	}
	if c.Memory.SQLitePath == "" {
		dir, err := ConfigDir()
		if err != nil {
			return err
		}
		c.Memory.SQLitePath = filepath.Join(dir, DefaultSQLiteFile)
	}
	c.Memory.SQLitePath, err = ExpandPath(c.Memory.SQLitePath)
	return err
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.OutputDir == "" {
		add("output_dir is required")
	}
	if !c.OutputFormat.IsValid() {
		add("invalid output_format: %q (must be text, json, or yaml)", c.OutputFormat)
	}
	switch logging.Format(c.LogFormat) {
	case logging.FormatAuto, logging.FormatJSON, logging.FormatConsole:
	default:
		add("invalid log_format: %q (must be auto, json, or console)", c.LogFormat)
	}
	if c.WatchInterval <= 0 {
		add("watch_interval must be positive")
	}

	if c.LLM.Model == "" {
		add("llm.model is required")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		add("llm.temperature must be between 0 and 2, got %g", c.LLM.Temperature)
	}
	if c.LLM.MaxContextTokens < 0 {
		add("llm.max_context_tokens must not be negative")
	}

	switch c.ASR.Transcriber {
	case TranscriberWhisperX, TranscriberFile:
	default:
		add("invalid asr.transcriber: %q (must be whisperx or file)", c.ASR.Transcriber)
	}
	switch c.ASR.Device {
	case "", asr.DeviceCUDA, asr.DeviceCPU:
	default:
		add("invalid asr.device: %q (must be cuda or cpu)", c.ASR.Device)
	}
	if c.ASR.MinSpeakers < 1 || c.ASR.MaxSpeakers < c.ASR.MinSpeakers {
		add("asr speaker bounds must satisfy 1 <= min_speakers <= max_speakers, got %d..%d",
			c.ASR.MinSpeakers, c.ASR.MaxSpeakers)
	}

	switch c.Memory.Backend {
	case BackendSQLite, BackendMemory:
	case BackendPostgres:
		if c.Memory.Postgres == nil {
			add("memory.postgres is required for the postgres backend")
		} else if err := c.Memory.Postgres.Validate(); err != nil {
			add("memory.postgres: %v", err)
		}
	case BackendCassandra:
		if len(c.Memory.Cassandra.Hosts) == 0 {
			add("memory.cassandra.hosts is required for the cassandra backend")
		}
	default:
		add("invalid memory.backend: %q (must be sqlite, postgres, cassandra, or memory)", c.Memory.Backend)
	}
	if c.Memory.SearchK <= 0 {
		add("memory.search_k must be positive")
	}
	if c.Cache.TTL < 0 {
		add("cache.ttl must not be negative")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", mmerrors.ErrValidation, strings.Join(problems, "; "))
	}
	return nil
}

// IsValid checks if the output format is valid.
func (f OutputFormat) IsValid() bool {
	switch f {
	case OutputFormatText, OutputFormatJSON, OutputFormatYAML:
		return true
	default:
		return false
	}
}

// String returns the string representation of the output format.
func (f OutputFormat) String() string {
	return string(f)
}

// SaveConfig writes cfg to path with owner-only permissions.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, path[1:]), nil
}
