package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/otherjamesbrown/meetmem/pkg/artifact"
	"github.com/otherjamesbrown/meetmem/pkg/logging"
)

// DefaultWatchInterval is the polling period of a Watcher.
const DefaultWatchInterval = 30 * time.Second

const watchLockName = ".meetmem-watch.lock"

// AudioExtensions are the file types a Watcher picks up.
var AudioExtensions = []string{".wav", ".mp3", ".m4a", ".flac", ".ogg", ".webm", ".mp4"}

// ErrWatcherRunning is returned when another watcher holds the lock.
var ErrWatcherRunning = errors.New("another meetmem watcher is already running for this directory")

// Watcher polls a directory and processes recordings that have no analysis
// artifact yet. Only one watcher per directory runs at a time.
type Watcher struct {
	pipeline *Pipeline
	dir      string
	interval time.Duration
	lockPath string
	lock     *flock.Flock
	exts     map[string]struct{}
	failed   map[string]time.Time
	logger   logging.Logger
}

// WatchOption configures a Watcher.
type WatchOption func(*Watcher)

// WithInterval sets the polling interval.
func WithInterval(d time.Duration) WatchOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithLockPath overrides the lock file location.
func WithLockPath(path string) WatchOption {
	return func(w *Watcher) {
		w.lockPath = path
	}
}

// WithWatchLogger sets a custom logger.
func WithWatchLogger(logger logging.Logger) WatchOption {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// NewWatcher creates a watcher over dir.
func NewWatcher(p *Pipeline, dir string, opts ...WatchOption) *Watcher {
	w := &Watcher{
		pipeline: p,
		dir:      dir,
		interval: DefaultWatchInterval,
		lockPath: filepath.Join(dir, watchLockName),
		exts:     make(map[string]struct{}, len(AudioExtensions)),
		failed:   make(map[string]time.Time),
		logger:   logging.NewNopLogger(),
	}
	for _, ext := range AudioExtensions {
		w.exts[ext] = struct{}{}
	}
	for _, opt := range opts {
		opt(w)
	}
	w.lock = flock.New(w.lockPath)
	w.logger = w.logger.With(logging.F("component", "watcher"), logging.F("dir", dir))
	return w
}

// Run acquires the directory lock and scans until ctx is done. A cancelled
// context ends Run without error.
func (w *Watcher) Run(ctx context.Context) error {
	ok, err := w.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return ErrWatcherRunning
	}
	defer func() {
		if err := w.lock.Unlock(); err != nil {
			w.logger.Warn("Failed to release watch lock", logging.Err(err))
		}
	}()

	w.logger.Info("Watching for recordings",
		logging.F("interval", w.interval),
		logging.F("lock", w.lockPath))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if _, err := w.Scan(ctx); err != nil && ctx.Err() == nil {
			w.logger.Error("Scan failed", logging.Err(err))
		}
		select {
		case <-ctx.Done():
			w.logger.Info("Watcher stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Pending lists recordings in the directory that have no analysis artifact
// and did not fail in their current version.
func (w *Watcher) Pending() ([]string, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, fmt.Errorf("read watch dir: %w", err)
	}

	var pending []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if _, ok := w.exts[strings.ToLower(filepath.Ext(e.Name()))]; !ok {
			continue
		}
		path := filepath.Join(w.dir, e.Name())
		if artifact.Exists(artifact.AnalysisPath(w.pipeline.OutputDir(), path)) {
			continue
		}
		if failedAt, ok := w.failed[path]; ok {
			info, err := e.Info()
			if err != nil || !info.ModTime().After(failedAt) {
				continue
			}
			delete(w.failed, path)
		}
		pending = append(pending, path)
	}
	sort.Strings(pending)
	return pending, nil
}

// Scan processes every pending recording once, in name order, indexing each
// under its file stem. Failed recordings are skipped on later scans until the
// file changes.
func (w *Watcher) Scan(ctx context.Context) ([]*Outcome, error) {
	pending, err := w.Pending()
	if err != nil {
		return nil, err
	}

	var done []*Outcome
	for _, path := range pending {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		out, err := w.pipeline.Process(ctx, path, ProcessOptions{MeetingID: artifact.Stem(path)})
		if err != nil {
			if ctx.Err() != nil {
				return done, ctx.Err()
			}
			w.failed[path] = time.Now()
			w.logger.Warn("Recording failed, skipping until it changes",
				logging.F("audio", path),
				logging.Err(err))
			continue
		}
		done = append(done, out)
	}
	return done, nil
}
