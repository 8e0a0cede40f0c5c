package pictor

import (
	"context"
	"encoding/json"
	"fmt"

	"pictor/internal/metrics"
	"pictor/internal/model"
)

// SyncOptions tune a reconciliation pass.
type SyncOptions struct {
	// RecordHistory appends audit rows for changes made by this pass.
	RecordHistory bool

	// Actor is recorded in history rows. Empty means system-initiated.
	Actor string

	// ForceBurst re-runs page extraction even when the derived folder
	// already exists.
	ForceBurst bool
}

func (o SyncOptions) actor() *string {
	if o.Actor == "" {
		return nil
	}
	a := o.Actor
	return &a
}

// SyncEngine reconciles the physical filesystem with the record store. The
// filesystem is authoritative: records are created for files that appear,
// soft-deleted for files that vanish, and resurrected under their original
// ID when a file reappears at a previously known path.
//
// Reads never block on reconciliation of unrelated paths; a missing folder
// only schedules an asynchronous cascade delete for its subtree.
type SyncEngine struct {
	records  RecordStore
	files    FileStore
	resolver *Resolver
	renderer Renderer
	queue    TaskQueue
	burster  Burster // optional, nil disables page extraction
	logger   Logger
	clock    Clock
	metrics  metrics.SyncMetrics
}

// NewSyncEngine creates a SyncEngine with the provided dependencies.
// burster may be nil when page extraction is disabled.
func NewSyncEngine(records RecordStore, files FileStore, resolver *Resolver, renderer Renderer, queue TaskQueue, burster Burster, logger Logger, clock Clock) *SyncEngine {
	return &SyncEngine{
		records:  records,
		files:    files,
		resolver: resolver,
		renderer: renderer,
		queue:    queue,
		burster:  burster,
		logger:   logger,
		clock:    clock,
		metrics:  metrics.NewSyncMetrics(),
	}
}

// SyncImage reconciles the file at rawSrc with its image record and returns
// the resulting record. It returns (nil, nil) when neither a file nor a
// record exists. The path is validated before any filesystem or record
// access.
func (e *SyncEngine) SyncImage(ctx context.Context, rawSrc string, opts SyncOptions) (*model.Image, error) {
	src, err := e.resolver.Normalize(rawSrc)
	if err != nil {
		return nil, err
	}

	exists, err := e.files.FileExists(src)
	if err != nil {
		return nil, fmt.Errorf("checking file %s: %w", src, err)
	}
	img, err := e.findImage(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("loading image record for %s: %w", src, err)
	}

	switch {
	case exists && img == nil:
		return e.createImage(ctx, src, opts)
	case exists && img.Status == model.StatusActive:
		if opts.ForceBurst {
			e.maybeBurst(ctx, img, opts)
		}
		e.metrics.RecordImage(metrics.SyncUnchanged)
		return img, nil
	case exists:
		return e.resurrectImage(ctx, img, opts)
	case img == nil:
		// Neither file nor record: nothing to reconcile.
		return nil, nil
	case img.Status == model.StatusActive:
		return e.retireImage(ctx, img, opts)
	default:
		// Missing file, record already DELETED: consistent.
		return img, nil
	}
}

// SyncFolder reconciles the directory at rawPath with its folder record.
// It returns (nil, nil) when neither a directory nor a record exists. A
// vanished directory is handled optimistically: the record is reported
// DELETED immediately while a deduplicated cascade-delete task updates the
// subtree in the background.
func (e *SyncEngine) SyncFolder(ctx context.Context, rawPath string, opts SyncOptions) (*model.Folder, error) {
	path, err := e.resolver.Normalize(rawPath)
	if err != nil {
		return nil, err
	}

	exists, err := e.files.DirExists(path)
	if err != nil {
		return nil, fmt.Errorf("checking directory %s: %w", path, err)
	}
	rec, err := e.findFolder(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("loading folder record for %s: %w", path, err)
	}

	switch {
	case exists && rec == nil:
		return e.ensureFolder(ctx, path)
	case exists && rec.Status == model.StatusActive:
		e.metrics.RecordFolder(metrics.SyncUnchanged)
		return rec, nil
	case exists:
		return e.ensureFolder(ctx, path)
	case rec == nil:
		if path == "/" {
			return nil, E(CodeInternal, "media root does not exist on disk", "/")
		}
		return nil, nil
	case rec.Status == model.StatusActive:
		return e.retireFolder(ctx, rec)
	default:
		return rec, nil
	}
}

// SyncPath reconciles whatever lives at rawPath. It prefers the physical
// state to decide between file and directory handling and falls back to
// existing records when nothing is on disk, so vanished entries of either
// kind are retired correctly.
func (e *SyncEngine) SyncPath(ctx context.Context, rawPath string, opts SyncOptions) (*model.Image, *model.Folder, error) {
	path, err := e.resolver.Normalize(rawPath)
	if err != nil {
		return nil, nil, err
	}

	if isDir, err := e.files.DirExists(path); err != nil {
		return nil, nil, fmt.Errorf("checking directory %s: %w", path, err)
	} else if isDir {
		folder, err := e.SyncFolder(ctx, path, opts)
		return nil, folder, err
	}
	if isFile, err := e.files.FileExists(path); err != nil {
		return nil, nil, fmt.Errorf("checking file %s: %w", path, err)
	} else if isFile {
		img, err := e.SyncImage(ctx, path, opts)
		return img, nil, err
	}

	// Nothing on disk: retire whichever record matches.
	if img, err := e.findImage(ctx, path); err != nil {
		return nil, nil, err
	} else if img != nil {
		img, err = e.SyncImage(ctx, path, opts)
		return img, nil, err
	}
	folder, err := e.SyncFolder(ctx, path, opts)
	return nil, folder, err
}

// createImage registers a newly discovered file. Ancestor folder records
// are ensured first, then the image record is created with probed
// dimensions and an audit row in a single transaction.
func (e *SyncEngine) createImage(ctx context.Context, src string, opts SyncOptions) (*model.Image, error) {
	folder, err := e.ensureFolder(ctx, ParentPath(src))
	if err != nil {
		return nil, fmt.Errorf("ensuring parent folder of %s: %w", src, err)
	}

	width, height := e.probe(ctx, src)

	tx, err := e.records.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	img, created, err := e.records.GetOrCreateImage(ctx, tx, src, folder.ID, func(m *model.Image) error {
		m.Width = width
		m.Height = height
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("creating image record: %w", err)
	}
	if created && opts.RecordHistory {
		if err := e.addHistory(ctx, tx, img.ID, opts.actor(), model.ActionCreated, "discovered at "+src); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing image creation: %w", err)
	}

	if created {
		e.logger.Info("image registered", "src", src)
		e.metrics.RecordImage(metrics.SyncCreated)
		e.maybeBurst(ctx, img, opts)
	}
	return img, nil
}

// resurrectImage flips a DELETED record back to ACTIVE after its file
// reappeared. The record keeps its ID; dimensions are re-probed because the
// new content may differ from what was there before.
func (e *SyncEngine) resurrectImage(ctx context.Context, img *model.Image, opts SyncOptions) (*model.Image, error) {
	if _, err := e.ensureFolder(ctx, ParentPath(img.Src)); err != nil {
		return nil, fmt.Errorf("ensuring parent folder of %s: %w", img.Src, err)
	}

	img.Width, img.Height = e.probe(ctx, img.Src)
	img.Status = model.StatusActive
	img.UpdatedAt = e.clock.Now()

	tx, err := e.records.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := e.records.SaveImage(ctx, tx, img); err != nil {
		return nil, fmt.Errorf("resurrecting image record: %w", err)
	}
	if opts.RecordHistory {
		if err := e.addHistory(ctx, tx, img.ID, opts.actor(), model.ActionReplaced, "file reappeared at "+img.Src); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing image resurrection: %w", err)
	}

	e.logger.Info("image resurrected", "src", img.Src)
	e.metrics.RecordImage(metrics.SyncResurrected)
	e.maybeBurst(ctx, img, opts)
	return img, nil
}

// retireImage soft-deletes the record of a vanished file, schedules cache
// invalidation, and checks whether the parent directory vanished with it.
func (e *SyncEngine) retireImage(ctx context.Context, img *model.Image, opts SyncOptions) (*model.Image, error) {
	tx, err := e.records.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := e.records.SoftDeleteImage(ctx, tx, img.ID); err != nil {
		return nil, fmt.Errorf("soft-deleting image record: %w", err)
	}
	if opts.RecordHistory {
		if err := e.addHistory(ctx, tx, img.ID, opts.actor(), model.ActionDeleted, "source file missing at "+img.Src); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing image retirement: %w", err)
	}
	img.Status = model.StatusDeleted
	e.logger.Info("image retired", "src", img.Src)
	e.metrics.RecordImage(metrics.SyncRetired)

	e.enqueueInvalidate(ctx, []string{img.ID})

	// The file may have vanished because its directory did.
	if parent := ParentPath(img.Src); parent != "" {
		exists, err := e.files.DirExists(parent)
		if err == nil && !exists {
			if _, err := e.SyncFolder(ctx, parent, opts); err != nil {
				e.logger.Warn("syncing parent of retired image failed", "path", parent, "error", err)
			}
		}
	}
	return img, nil
}

// retireFolder schedules a cascade delete for a vanished directory. The
// record update happens in the background task; the returned copy is marked
// DELETED so callers observe consistent state immediately.
func (e *SyncEngine) retireFolder(ctx context.Context, rec *model.Folder) (*model.Folder, error) {
	if rec.IsRoot() {
		return nil, E(CodeInternal, "media root does not exist on disk", "/")
	}

	task, err := e.queue.Enqueue(ctx, TaskFolderCascadeDelete, CascadeDeleteParams{FolderID: rec.ID})
	if err != nil {
		return nil, fmt.Errorf("scheduling cascade delete for %s: %w", rec.Path, err)
	}
	rec.Status = model.StatusDeleted
	if task != nil {
		e.logger.Info("folder missing, cascade delete scheduled", "path", rec.Path, "task", task.ID)
		e.metrics.RecordFolder(metrics.SyncRetired)
	}
	return rec, nil
}

// ensureFolder walks the ancestor chain from the root down to path,
// creating missing folder records and resurrecting DELETED ones whose
// directories exist. It returns the folder at path.
func (e *SyncEngine) ensureFolder(ctx context.Context, path string) (*model.Folder, error) {
	var parent *model.Folder
	for _, p := range append(Ancestors(path), path) {
		f, err := e.syncOneFolder(ctx, p, parent)
		if err != nil {
			return nil, err
		}
		parent = f
	}
	return parent, nil
}

func (e *SyncEngine) syncOneFolder(ctx context.Context, path string, parent *model.Folder) (*model.Folder, error) {
	var parentID *string
	if parent != nil {
		parentID = &parent.ID
	}

	f, created, err := e.records.GetOrCreateFolder(ctx, nil, path, parentID, func(m *model.Folder) error {
		// The directory may vanish between the existence check and the
		// insert; abort the creation rather than record a phantom.
		exists, err := e.files.DirExists(path)
		if err != nil {
			return err
		}
		if !exists {
			return E(CodeNotFound, "directory vanished during sync", path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("creating folder record for %s: %w", path, err)
	}
	if created {
		e.logger.Info("folder registered", "path", path)
		e.metrics.RecordFolder(metrics.SyncCreated)
		return f, nil
	}
	if f.Status == model.StatusDeleted {
		f.Status = model.StatusActive
		f.UpdatedAt = e.clock.Now()
		if err := e.records.SaveFolder(ctx, nil, f); err != nil {
			return nil, fmt.Errorf("resurrecting folder record for %s: %w", path, err)
		}
		e.logger.Info("folder resurrected", "path", path)
		e.metrics.RecordFolder(metrics.SyncResurrected)
	}
	return f, nil
}

// HandleCascadeDelete is the folder:cascade_delete task handler. It
// soft-deletes the folder's subtree records and schedules cache
// invalidation for the affected images. The handler is idempotent: a
// missing folder record or a directory that reappeared before the task ran
// are both no-ops.
func (e *SyncEngine) HandleCascadeDelete(ctx context.Context, payload []byte) error {
	var p CascadeDeleteParams
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decoding cascade delete params: %w", err)
	}

	folder, err := e.records.GetFolderByID(ctx, nil, p.FolderID)
	if IsNotFound(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading folder %s: %w", p.FolderID, err)
	}

	// The directory may have reappeared since the task was scheduled.
	exists, err := e.files.DirExists(folder.Path)
	if err != nil {
		return fmt.Errorf("checking directory %s: %w", folder.Path, err)
	}
	if exists {
		e.logger.Info("directory reappeared, cascade delete skipped", "path", folder.Path)
		return nil
	}

	tx, err := e.records.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	imageIDs, err := e.records.SoftDeleteFolder(ctx, tx, folder.ID, true)
	if err != nil {
		return fmt.Errorf("cascade-deleting folder %s: %w", folder.Path, err)
	}
	for _, id := range imageIDs {
		if err := e.addHistory(ctx, tx, id, nil, model.ActionDeleted, "folder removed: "+folder.Path); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing cascade delete: %w", err)
	}

	e.logger.Info("cascade delete complete", "path", folder.Path, "images", len(imageIDs))
	if len(imageIDs) > 0 {
		e.enqueueInvalidate(ctx, imageIDs)
	}
	return nil
}

// maybeBurst schedules page extraction for an eligible image. Extraction is
// skipped while the derived folder exists, unless forced; a forced sync of
// an unchanged file re-bursts it.
func (e *SyncEngine) maybeBurst(ctx context.Context, img *model.Image, opts SyncOptions) {
	if e.burster == nil || !e.burster.Eligible(img.Src) {
		return
	}
	if !opts.ForceBurst {
		derived := e.burster.DerivedFolder(img.Src)
		exists, err := e.files.DirExists(derived)
		if err != nil || exists {
			return
		}
	}
	if _, err := e.queue.Enqueue(ctx, TaskImageBurst, BurstParams{ImageID: img.ID, Src: img.Src, Force: opts.ForceBurst}); err != nil {
		e.logger.Warn("scheduling page extraction failed", "src", img.Src, "error", err)
	}
}

// probe best-effort reads the pixel dimensions of a source. Failures are
// normal for non-raster sources and leave the dimensions unset.
func (e *SyncEngine) probe(ctx context.Context, src string) (*int, *int) {
	rc, err := e.files.Open(src)
	if err != nil {
		e.logger.Warn("opening source for probe failed", "src", src, "error", err)
		return nil, nil
	}
	defer rc.Close()

	w, h, err := e.renderer.Dimensions(ctx, rc)
	if err != nil {
		e.logger.Debug("dimension probe failed", "src", src, "error", err)
		return nil, nil
	}
	return &w, &h
}

func (e *SyncEngine) addHistory(ctx context.Context, tx Tx, imageID string, actor *string, action model.HistoryAction, info string) error {
	h := &model.ImageHistory{
		ImageID:   imageID,
		Actor:     actor,
		Action:    action,
		Info:      info,
		CreatedAt: e.clock.Now(),
	}
	if err := e.records.AddImageHistory(ctx, tx, h); err != nil {
		return fmt.Errorf("appending image history: %w", err)
	}
	return nil
}

func (e *SyncEngine) enqueueInvalidate(ctx context.Context, imageIDs []string) {
	if _, err := e.queue.Enqueue(ctx, TaskCacheInvalidate, InvalidateParams{ImageIDs: imageIDs}); err != nil {
		e.logger.Warn("scheduling cache invalidation failed", "error", err)
	}
}

func (e *SyncEngine) findImage(ctx context.Context, src string) (*model.Image, error) {
	img, err := e.records.GetImageBySrc(ctx, nil, src)
	if IsNotFound(err) {
		return nil, nil
	}
	return img, err
}

func (e *SyncEngine) findFolder(ctx context.Context, path string) (*model.Folder, error) {
	f, err := e.records.GetFolderByPath(ctx, nil, path)
	if IsNotFound(err) {
		return nil, nil
	}
	return f, err
}
