package tle

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a locally-maintained TLE catalog file into the store
// whenever it changes. Used for deployments that sync catalog files
// out-of-band instead of fetching from a remote source.
type Watcher struct {
	path   string
	store  *Store
	logger *slog.Logger
}

// NewWatcher creates a Watcher for the given catalog file.
func NewWatcher(path string, store *Store, logger *slog.Logger) *Watcher {
	return &Watcher{path: path, store: store, logger: logger}
}

// Run loads the file once, then blocks watching for writes until ctx is
// cancelled. Reload failures keep the previous catalog in place.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.reload(); err != nil {
		w.logger.Warn("initial catalog load failed", "path", w.path, "error", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: editors and sync tools replace files rather than
	// writing in place.
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(w.path), err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Name != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if err := w.reload(); err != nil {
				w.logger.Warn("catalog reload failed", "path", w.path, "error", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("catalog watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload() error {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return fmt.Errorf("reading catalog file: %w", err)
	}

	sats, err := Parse(bytes.NewReader(data), w.logger)
	if err != nil {
		return err
	}
	if len(sats) == 0 {
		return fmt.Errorf("catalog file %s contained no valid entries", w.path)
	}

	w.store.Lock()
	defer w.store.Unlock()
	w.store.Set(BuildCatalog("file:"+w.path, time.Now(), sats))

	w.logger.Info("catalog reloaded", "path", w.path, "satellites", len(sats))
	return nil
}
