// Package watch rebuilds binding modules when their sources change
package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce batches the burst of events an editor save produces
const DefaultDebounce = 300 * time.Millisecond

// RebuildFunc rebuilds the named modules
type RebuildFunc func(ctx context.Context, modules []string) error

// Watcher maps source file events to the modules that compile them
type Watcher struct {
	fs       *fsnotify.Watcher
	sources  map[string][]string
	debounce time.Duration
	log      *zap.Logger
}

// New watches the directories holding every file of sources, which maps a
// module name to its input files
func New(sources map[string][]string, debounce time.Duration, log *zap.Logger) (*Watcher, error) {
	if log == nil {
		log = zap.NewNop()
	}

	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	w := &Watcher{
		fs:       fw,
		sources:  make(map[string][]string),
		debounce: debounce,
		log:      log.Named("watch"),
	}

	dirs := make(map[string]bool)
	for _, module := range sortedKeys(sources) {
		for _, path := range sources[module] {
			abs, err := filepath.Abs(path)
			if err != nil {
				_ = fw.Close()
				return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
			}

			w.sources[abs] = append(w.sources[abs], module)
			dirs[filepath.Dir(abs)] = true
		}
	}

	// Editors replace files on save, so the parent directories are watched
	for _, dir := range sortedKeys(dirs) {
		if err := fw.Add(dir); err != nil {
			_ = fw.Close()
			return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
		}

		w.log.Debug("watching directory", zap.String("dir", dir))
	}

	return w, nil
}

// Affected returns the modules compiling path, sorted
func (w *Watcher) Affected(path string) []string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil
	}

	mods := append([]string(nil), w.sources[abs]...)
	sort.Strings(mods)

	return mods
}

// Run calls rebuild with the affected modules once events settle, until ctx
// is done. Rebuild errors are logged and watching continues.
func (w *Watcher) Run(ctx context.Context, rebuild RebuildFunc) error {
	pending := make(map[string]bool)

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.fs.Events:
			if !ok {
				return nil
			}

			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			mods := w.Affected(event.Name)
			if len(mods) == 0 {
				continue
			}

			w.log.Debug("source changed", zap.String("path", event.Name), zap.Strings("modules", mods))

			for _, m := range mods {
				pending[m] = true
			}

			timer.Reset(w.debounce)

		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}

			w.log.Warn("watch error", zap.Error(err))

		case <-timer.C:
			mods := sortedKeys(pending)
			clear(pending)

			w.log.Info("rebuilding", zap.Strings("modules", mods))

			if err := rebuild(ctx, mods); err != nil {
				w.log.Error("rebuild failed", zap.Error(err))
			}
		}
	}
}

// Close stops watching
func (w *Watcher) Close() error {
	return w.fs.Close()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}
