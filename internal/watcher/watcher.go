// Package watcher reloads settings when the config file changes on disk.
package watcher

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"diskmesh/internal/config"
	"diskmesh/internal/logging"
	"diskmesh/internal/topology"
)

// Watcher watches a file for changes
type Watcher struct {
	path     string
	onChange func(ctx context.Context)
	debounce time.Duration
	log      logging.Logger
}

// New creates a new file watcher
func New(path string, onChange func(ctx context.Context), log logging.Logger) *Watcher {
	if log == nil {
		log = logging.Noop()
	}
	return &Watcher{
		path:     path,
		onChange: onChange,
		debounce: 500 * time.Millisecond,
		log:      log,
	}
}

// WithDebounce sets the debounce duration
func (w *Watcher) WithDebounce(d time.Duration) *Watcher {
	w.debounce = d
	return w
}

// Watch blocks until ctx is cancelled. Bursts of writes within the debounce
// window produce one callback, run on the watching goroutine.
func (w *Watcher) Watch(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	// Watch the directory so editors that replace the file are still seen.
	dir := filepath.Dir(w.path)
	filename := filepath.Base(w.path)
	if err := fw.Add(dir); err != nil {
		return err
	}
	w.log.Info(ctx, "watching file for changes", logging.String("path", w.path))

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != filename {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				timer.Reset(w.debounce)
			}

		case <-timer.C:
			w.log.Info(ctx, "file changed", logging.String("path", w.path))
			w.onChange(ctx)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn(ctx, "watcher error", logging.Err(err))

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ReloadLimits returns a callback that re-reads the config at path and
// applies its topology bounds. A config that fails to load leaves the
// current bounds in place.
func ReloadLimits(path string, limits *topology.Limits, log logging.Logger) func(ctx context.Context) {
	if log == nil {
		log = logging.Noop()
	}
	return func(ctx context.Context) {
		cfg, _, err := config.LoadFromPath(path)
		if err != nil {
			log.Warn(ctx, "config reload failed, keeping current limits", logging.Err(err))
			return
		}
		if cfg.Topology.MaxCables == limits.MaxCables() && cfg.Topology.MaxScanNodes == limits.MaxScanNodes() {
			return
		}
		limits.Set(cfg.Topology.MaxCables, cfg.Topology.MaxScanNodes)
		log.Info(ctx, "topology limits reloaded",
			logging.Int("max_cables", cfg.Topology.MaxCables),
			logging.Int("max_scan_nodes", cfg.Topology.MaxScanNodes))
	}
}
