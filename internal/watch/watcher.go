// Package watch feeds filesystem events into the sync engine. The watcher
// observes the media root recursively via fsnotify, batches events with a
// debounce window, and reconciles each touched path with SyncPath. The sync
// semantics are the same lazy reconciliation the request path performs; the
// watcher only changes when it happens.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"pictor/internal/config"
	"pictor/internal/pictor"
)

// flushLimit forces a flush when a burst of events outruns the debounce
// window, bounding memory during bulk imports.
const flushLimit = 256

// Watcher drives sync from filesystem events.
type Watcher struct {
	engine   *pictor.SyncEngine
	resolver *pictor.Resolver
	logger   pictor.Logger
	debounce time.Duration
	ready    chan struct{}
}

// New creates a Watcher over the engine's media root. A non-positive
// debounce falls back to 500ms.
func New(engine *pictor.SyncEngine, resolver *pictor.Resolver, cfg config.WatchConfig, logger pictor.Logger) *Watcher {
	debounce := time.Duration(cfg.DebounceMS) * time.Millisecond
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &Watcher{
		engine:   engine,
		resolver: resolver,
		logger:   logger,
		debounce: debounce,
		ready:    make(chan struct{}),
	}
}

// Ready is closed once the initial watch registration is complete. Events
// occurring before that point are not observed.
func (w *Watcher) Ready() <-chan struct{} { return w.ready }

// Run watches until ctx is canceled. It may be called once per Watcher.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating filesystem watcher: %w", err)
	}
	defer fw.Close()

	root := w.resolver.Root()
	if err := w.addTree(fw, root); err != nil {
		return fmt.Errorf("registering watches under %s: %w", root, err)
	}
	w.logger.Info("watching media root", "root", root, "debounce", w.debounce)
	close(w.ready)

	pending := make(map[string]struct{})
	timer := time.NewTimer(w.debounce)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			rel, ok := w.eventPath(event)
			if !ok {
				continue
			}
			if event.Has(fsnotify.Create) {
				w.extendWatch(fw, event.Name)
			}
			pending[rel] = struct{}{}
			if len(pending) >= flushLimit {
				w.flush(ctx, pending)
				pending = make(map[string]struct{})
				timer.Stop()
				continue
			}
			timer.Reset(w.debounce)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("filesystem watcher error", "error", err)

		case <-timer.C:
			w.flush(ctx, pending)
			pending = make(map[string]struct{})
		}
	}
}

// eventPath filters an event down to the normalized path it concerns.
func (w *Watcher) eventPath(event fsnotify.Event) (string, bool) {
	relevant := event.Has(fsnotify.Create) || event.Has(fsnotify.Write) ||
		event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)
	if !relevant {
		return "", false
	}
	rel, ok := RelPath(w.resolver.Root(), event.Name)
	if !ok || Ignored(rel) {
		return "", false
	}
	return rel, true
}

// flush reconciles every pending path. Failures are logged and skipped so
// one bad path cannot stall the watch loop.
func (w *Watcher) flush(ctx context.Context, pending map[string]struct{}) {
	if len(pending) == 0 {
		return
	}
	paths := make([]string, 0, len(pending))
	for p := range pending {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, p := range paths {
		img, folder, err := w.engine.SyncPath(ctx, p, pictor.SyncOptions{RecordHistory: true})
		if err != nil {
			w.logger.Warn("syncing observed change failed", "path", p, "error", err)
			continue
		}
		switch {
		case img != nil:
			w.logger.Debug("synced observed image", "src", img.Src, "status", img.Status)
		case folder != nil:
			w.logger.Debug("synced observed folder", "path", folder.Path, "status", folder.Status)
		}
	}
	w.logger.Info("synced observed changes", "paths", len(paths))
}

// addTree registers watches for dir and every directory below it. fsnotify
// watches are non-recursive, so each level is added explicitly.
func (w *Watcher) addTree(fw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if rel, ok := RelPath(w.resolver.Root(), p); ok && Ignored(rel) {
			return filepath.SkipDir
		}
		if err := fw.Add(p); err != nil {
			return fmt.Errorf("watching %s: %w", p, err)
		}
		return nil
	})
}

// extendWatch covers directories created after startup. A directory created
// with children (mkdir -p, archive extraction) is walked so nested
// directories are covered too.
func (w *Watcher) extendWatch(fw *fsnotify.Watcher, abs string) {
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return
	}
	if err := w.addTree(fw, abs); err != nil {
		w.logger.Warn("extending watch failed", "path", abs, "error", err)
	}
}

// RelPath maps an absolute host path inside root onto its normalized
// root-relative form.
func RelPath(root, abs string) (string, bool) {
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return "", false
	}
	if rel == "." {
		return "/", true
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return "/" + filepath.ToSlash(rel), true
}

// Ignored reports whether a normalized path is outside the watcher's
// interest. Hidden files and anything under a hidden directory are left
// alone; editors and sync tools litter those while writing.
func Ignored(rel string) bool {
	for _, part := range strings.Split(strings.TrimPrefix(rel, "/"), "/") {
		if strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
}
