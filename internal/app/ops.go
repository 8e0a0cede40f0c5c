package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"pictor/internal/cache"
	"pictor/internal/metrics"
	"pictor/internal/model"
	"pictor/internal/params"
	"pictor/internal/pictor"
	"pictor/internal/watch"
)

// SyncReport summarizes a reconciliation pass.
type SyncReport struct {
	Images  int
	Folders int
}

// Sync reconciles the subtree at rawPath with the catalog: files and
// directories on disk are registered, records whose files vanished are
// retired. force re-runs page extraction for eligible sources.
func (a *App) Sync(ctx context.Context, rawPath string, force bool) (SyncReport, error) {
	var report SyncReport
	path, err := a.resolver.Normalize(rawPath)
	if err != nil {
		return report, err
	}

	opts := pictor.SyncOptions{RecordHistory: true, ForceBurst: force}
	img, folder, err := a.engine.SyncPath(ctx, path, opts)
	if err != nil {
		return report, err
	}
	if img != nil {
		report.Images++
		return report, nil
	}
	if folder == nil {
		return report, nil
	}
	report.Folders++
	if folder.Status != model.StatusActive {
		// A vanished directory: the scheduled cascade handles the subtree.
		return report, nil
	}

	seen := make(map[string]struct{})
	if err := a.syncTree(ctx, path, opts, seen, &report); err != nil {
		return report, err
	}

	// Retire recorded images whose files were not seen on the walk.
	known, err := a.records.ListImagesUnder(ctx, nil, path, false)
	if err != nil {
		return report, fmt.Errorf("listing recorded images under %s: %w", path, err)
	}
	for _, rec := range known {
		if _, ok := seen[rec.Src]; ok {
			continue
		}
		if _, err := a.engine.SyncImage(ctx, rec.Src, opts); err != nil {
			return report, fmt.Errorf("reconciling %s: %w", rec.Src, err)
		}
		report.Images++
	}

	a.logger.Info("sync complete", "path", path, "images", report.Images, "folders", report.Folders)
	return report, nil
}

// syncTree walks the directory at path depth-first, reconciling every entry
// and recording each file src it saw.
func (a *App) syncTree(ctx context.Context, path string, opts pictor.SyncOptions, seen map[string]struct{}, report *SyncReport) error {
	entries, err := a.files.List(path, pictor.ListOptions{IncludeFolders: true})
	if err != nil {
		return fmt.Errorf("listing %s: %w", path, err)
	}
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if entry.IsDir {
			if _, err := a.engine.SyncFolder(ctx, entry.Path, opts); err != nil {
				return fmt.Errorf("syncing folder %s: %w", entry.Path, err)
			}
			report.Folders++
			if err := a.syncTree(ctx, entry.Path, opts, seen, report); err != nil {
				return err
			}
			continue
		}
		if _, err := a.engine.SyncImage(ctx, entry.Path, opts); err != nil {
			return fmt.Errorf("syncing %s: %w", entry.Path, err)
		}
		seen[entry.Path] = struct{}{}
		report.Images++
	}
	return nil
}

// List returns the directory listing at rawPath, reconciling the folder
// record first so the catalog matches what the listing shows.
func (a *App) List(ctx context.Context, rawPath string, opts pictor.ListOptions) ([]pictor.ListEntry, error) {
	path, err := a.resolver.Normalize(rawPath)
	if err != nil {
		return nil, err
	}
	if _, err := a.engine.SyncFolder(ctx, path, pictor.SyncOptions{RecordHistory: true}); err != nil {
		return nil, err
	}
	return a.files.List(path, opts)
}

// MkDir creates the folder at rawPath, including missing parents.
func (a *App) MkDir(ctx context.Context, rawPath, actor string) (*model.Folder, error) {
	return a.orch.CreateFolder(ctx, rawPath, actor)
}

// Move moves a file or a folder from rawSrc to rawDst. What lives at the
// source on disk decides which; a vanished source falls through to the file
// path, whose sync-first contract reports it missing.
func (a *App) Move(ctx context.Context, rawSrc, rawDst, actor string) error {
	src, err := a.resolver.Normalize(rawSrc)
	if err != nil {
		return err
	}
	isDir, err := a.files.DirExists(src)
	if err != nil {
		return fmt.Errorf("checking %s: %w", src, err)
	}
	if isDir {
		_, err = a.orch.MoveFolder(ctx, rawSrc, rawDst, actor)
		return err
	}
	_, err = a.orch.MoveFile(ctx, rawSrc, rawDst, actor)
	return err
}

// Remove deletes the file at rawSrc and retires its record.
func (a *App) Remove(ctx context.Context, rawSrc, actor string) (*model.Image, error) {
	return a.orch.DeleteFile(ctx, rawSrc, actor)
}

// RemoveDir deletes the folder at rawPath with its whole subtree.
func (a *App) RemoveDir(ctx context.Context, rawPath, actor string) (*model.Folder, error) {
	return a.orch.DeleteFolder(ctx, rawPath, actor)
}

// Edit updates image metadata. A nil title or description leaves that field
// unchanged.
func (a *App) Edit(ctx context.Context, rawSrc string, title, description *string, actor string) (*model.Image, error) {
	return a.orch.EditImage(ctx, rawSrc, title, description, actor)
}

// Purge hard-deletes DELETED records at and below rawPath, history included.
func (a *App) Purge(ctx context.Context, rawPath string) (int64, error) {
	path, err := a.resolver.Normalize(rawPath)
	if err != nil {
		return 0, err
	}
	n, err := a.records.PurgeDeletedUnder(ctx, nil, path)
	if err != nil {
		return 0, fmt.Errorf("purging records under %s: %w", path, err)
	}
	a.logger.Info("purged deleted records", "path", path, "records", n)
	return n, nil
}

// Warm renders the derivative of the image at rawSrc described by t,
// populating the cache, and returns its entry.
func (a *App) Warm(ctx context.Context, rawSrc string, t params.Transform) (*cache.Entry, error) {
	img, err := a.activeImage(ctx, rawSrc)
	if err != nil {
		return nil, err
	}
	entry, _, err := a.cache.Derivative(ctx, img, t)
	return entry, err
}

// CacheStats summarizes the derivative cache contents.
func (a *App) CacheStats(ctx context.Context) (cache.Stats, error) {
	return a.cache.Stats(ctx)
}

// CacheInvalidate drops cached derivatives: all of them, or those of the
// image at rawSrc. Deleted images qualify; their derivatives are exactly
// what invalidation is for. Returns the number of entries removed.
func (a *App) CacheInvalidate(ctx context.Context, rawSrc string, all bool) (int, error) {
	if all {
		return a.cache.InvalidateAll(ctx)
	}
	img, err := a.imageRecord(ctx, rawSrc)
	if err != nil {
		return 0, err
	}
	return a.cache.InvalidateSource(ctx, img.ID)
}

// Tasks returns the queue's known tasks, oldest first.
func (a *App) Tasks(ctx context.Context) ([]*model.Task, error) {
	return a.queue.Snapshot(ctx)
}

// History returns the audit trail of the image at rawSrc, newest first.
// A limit of 0 means no limit.
func (a *App) History(ctx context.Context, rawSrc string, limit int) ([]*model.ImageHistory, error) {
	img, err := a.imageRecord(ctx, rawSrc)
	if err != nil {
		return nil, err
	}
	return a.records.ListImageHistory(ctx, nil, img.ID, limit)
}

// SignedURL renders a time-limited signed derivative URL for the image at
// rawSrc. It requires a signing secret in config.
func (a *App) SignedURL(ctx context.Context, rawSrc string, t params.Transform, ttl time.Duration) (string, error) {
	if a.signer == nil {
		return "", fmt.Errorf("no signing secret configured")
	}
	if err := t.Validate(); err != nil {
		return "", fmt.Errorf("invalid transform: %w", err)
	}
	img, err := a.activeImage(ctx, rawSrc)
	if err != nil {
		return "", err
	}
	return a.signer.URL(img.Src, t, a.clock.Now().Add(ttl)), nil
}

// Watch runs the filesystem watcher until ctx is canceled, serving metrics
// when an address is configured.
func (a *App) Watch(ctx context.Context) error {
	a.ServeMetrics(ctx)
	w := watch.New(a.engine, a.resolver, a.cfg.Watch, a.logger)
	return w.Run(ctx)
}

// ServeMetrics starts the /metrics listener when an address is configured.
// It returns immediately; the listener stops when ctx is canceled.
func (a *App) ServeMetrics(ctx context.Context) {
	addr := a.cfg.Metrics.Addr
	if addr == "" || !metrics.IsEnabled() {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("metrics server failed", "addr", addr, "error", err)
		}
	}()
	a.logger.Info("serving metrics", "addr", addr)
}

// activeImage reconciles rawSrc and returns its ACTIVE image record.
func (a *App) activeImage(ctx context.Context, rawSrc string) (*model.Image, error) {
	src, err := a.resolver.Normalize(rawSrc)
	if err != nil {
		return nil, err
	}
	img, err := a.engine.SyncImage(ctx, src, pictor.SyncOptions{RecordHistory: true})
	if err != nil {
		return nil, err
	}
	if img == nil || img.Status != model.StatusActive {
		return nil, pictor.E(pictor.CodeNotFound, "image not found", src)
	}
	return img, nil
}

// imageRecord returns the image record at rawSrc regardless of status.
func (a *App) imageRecord(ctx context.Context, rawSrc string) (*model.Image, error) {
	src, err := a.resolver.Normalize(rawSrc)
	if err != nil {
		return nil, err
	}
	return a.records.GetImageBySrc(ctx, nil, src)
}
