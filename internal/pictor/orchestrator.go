package pictor

import (
	"context"
	"fmt"

	"pictor/internal/model"
)

// MutationOrchestrator coordinates user-initiated writes: folder creation,
// moves, deletes and metadata edits. Every operation follows the same
// shape: validate paths, reconcile current state through the sync engine,
// check permissions, perform the physical change, then commit the record
// change and schedule cache invalidation.
//
// Physical and record changes are not atomic with each other. Each
// operation orders its steps so that an interruption leaves a state the
// next sync pass converges from, and the one long-running step (moving a
// folder subtree) happens before any record is touched.
type MutationOrchestrator struct {
	records  RecordStore
	files    FileStore
	resolver *Resolver
	perms    PermissionChecker
	queue    TaskQueue
	sync     *SyncEngine
	logger   Logger
	clock    Clock
}

// NewMutationOrchestrator creates a MutationOrchestrator with the provided
// dependencies.
func NewMutationOrchestrator(records RecordStore, files FileStore, resolver *Resolver, perms PermissionChecker, queue TaskQueue, sync *SyncEngine, logger Logger, clock Clock) *MutationOrchestrator {
	return &MutationOrchestrator{
		records:  records,
		files:    files,
		resolver: resolver,
		perms:    perms,
		queue:    queue,
		sync:     sync,
		logger:   logger,
		clock:    clock,
	}
}

// CreateFolder creates a directory at rawPath, including missing parents,
// and registers folder records for the new chain. The actor needs
// CreateFolder permission on the nearest ancestor that already exists.
func (o *MutationOrchestrator) CreateFolder(ctx context.Context, rawPath, actor string) (*model.Folder, error) {
	path, err := o.resolver.Normalize(rawPath)
	if err != nil {
		return nil, err
	}
	if path == "/" {
		return nil, E(CodeExists, "folder already exists", "/")
	}

	if err := o.ensureVacant(path); err != nil {
		return nil, err
	}

	anchor, err := o.nearestExistingDir(path)
	if err != nil {
		return nil, err
	}
	// Every component created below the anchor gets a fresh name check.
	for _, p := range append(Ancestors(path), path) {
		if p == anchor || IsDescendant(anchor, p) || p == "/" {
			continue
		}
		if err := ValidateName(BaseName(p)); err != nil {
			return nil, err
		}
	}

	anchorFolder, err := o.sync.SyncFolder(ctx, anchor, SyncOptions{})
	if err != nil {
		return nil, fmt.Errorf("syncing anchor folder %s: %w", anchor, err)
	}
	if err := o.perms.EnsurePermitted(ctx, anchorFolder, model.LevelCreateFolder, actor); err != nil {
		return nil, err
	}

	if err := o.files.MakeDirs(path); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", path, err)
	}
	folder, err := o.sync.SyncFolder(ctx, path, SyncOptions{})
	if err != nil {
		return nil, fmt.Errorf("registering created folder %s: %w", path, err)
	}

	o.logger.Info("folder created", "path", path, "actor", actor)
	return folder, nil
}

// MoveFile moves or renames a single file. The actor needs Upload
// permission on the destination folder and, unless this is a rename within
// one folder, Delete permission on the source folder. If the record update
// fails after the physical move, the file is moved back.
func (o *MutationOrchestrator) MoveFile(ctx context.Context, rawSrc, rawDst, actor string) (*model.Image, error) {
	src, err := o.resolver.Normalize(rawSrc)
	if err != nil {
		return nil, err
	}
	dst, err := o.resolver.Normalize(rawDst)
	if err != nil {
		return nil, err
	}
	if src == "/" || dst == "/" {
		return nil, E(CodeConflict, "root is not a file", "/")
	}
	if err := ValidateName(BaseName(dst)); err != nil {
		return nil, err
	}

	img, err := o.sync.SyncImage(ctx, src, SyncOptions{RecordHistory: true, Actor: actor})
	if err != nil {
		return nil, err
	}
	if img == nil || img.Status != model.StatusActive {
		return nil, E(CodeNotFound, "file does not exist", src)
	}

	if err := o.ensureVacant(dst); err != nil {
		return nil, err
	}
	dstParent := ParentPath(dst)
	if exists, err := o.files.DirExists(dstParent); err != nil {
		return nil, fmt.Errorf("checking target folder %s: %w", dstParent, err)
	} else if !exists {
		return nil, E(CodeNotFound, "target folder does not exist", dstParent)
	}
	dstFolder, err := o.sync.SyncFolder(ctx, dstParent, SyncOptions{})
	if err != nil {
		return nil, fmt.Errorf("syncing target folder %s: %w", dstParent, err)
	}
	srcFolder, err := o.records.GetFolderByID(ctx, nil, img.FolderID)
	if err != nil {
		return nil, fmt.Errorf("loading source folder: %w", err)
	}

	if err := o.perms.EnsurePermitted(ctx, dstFolder, model.LevelUpload, actor); err != nil {
		return nil, err
	}
	// A pure rename stays within one folder and needs no delete right.
	if srcFolder.ID != dstFolder.ID {
		if err := o.perms.EnsurePermitted(ctx, srcFolder, model.LevelDelete, actor); err != nil {
			return nil, err
		}
	}

	// A DELETED record may still occupy the target src from an earlier
	// life of that path; purge it so the unique index does not collide.
	if err := o.records.PurgeDeletedImageAt(ctx, nil, dst); err != nil {
		return nil, fmt.Errorf("purging stale record at %s: %w", dst, err)
	}

	if err := o.files.Move(src, dst); err != nil {
		return nil, fmt.Errorf("moving file %s to %s: %w", src, dst, err)
	}

	if err := o.commitFileMove(ctx, img, src, dst, dstFolder.ID, actor); err != nil {
		// Compensate: put the file back where its record points.
		if backErr := o.files.Move(dst, src); backErr != nil {
			o.logger.Error("move compensation failed, file and record diverge until next sync",
				"src", src, "dst", dst, "error", backErr)
		}
		return nil, err
	}

	o.logger.Info("file moved", "src", src, "dst", dst, "actor", actor)
	o.invalidate(ctx, []string{img.ID})
	return img, nil
}

func (o *MutationOrchestrator) commitFileMove(ctx context.Context, img *model.Image, src, dst, dstFolderID, actor string) error {
	tx, err := o.records.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	img.Src = dst
	img.FolderID = dstFolderID
	img.UpdatedAt = o.clock.Now()
	if err := o.records.SaveImage(ctx, tx, img); err != nil {
		img.Src = src
		return fmt.Errorf("updating image record: %w", err)
	}
	if err := o.addHistory(ctx, tx, img.ID, actor, model.ActionMoved, "moved from "+src+" to "+dst); err != nil {
		img.Src = src
		return err
	}
	if err := tx.Commit(); err != nil {
		img.Src = src
		return fmt.Errorf("committing file move: %w", err)
	}
	return nil
}

// DeleteFile removes a file and soft-deletes its record. The actor needs
// Delete permission on the containing folder. Deleting an already deleted
// file is a no-op.
func (o *MutationOrchestrator) DeleteFile(ctx context.Context, rawSrc, actor string) (*model.Image, error) {
	src, err := o.resolver.Normalize(rawSrc)
	if err != nil {
		return nil, err
	}

	img, err := o.sync.SyncImage(ctx, src, SyncOptions{RecordHistory: true, Actor: actor})
	if err != nil {
		return nil, err
	}
	if img == nil {
		return nil, E(CodeNotFound, "file does not exist", src)
	}
	if img.Status == model.StatusDeleted {
		return img, nil
	}

	folder, err := o.records.GetFolderByID(ctx, nil, img.FolderID)
	if err != nil {
		return nil, fmt.Errorf("loading containing folder: %w", err)
	}
	if err := o.perms.EnsurePermitted(ctx, folder, model.LevelDelete, actor); err != nil {
		return nil, err
	}

	if err := o.files.Delete(src); err != nil {
		return nil, fmt.Errorf("deleting file %s: %w", src, err)
	}

	tx, err := o.records.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()
	if err := o.records.SoftDeleteImage(ctx, tx, img.ID); err != nil {
		return nil, fmt.Errorf("soft-deleting image record: %w", err)
	}
	if err := o.addHistory(ctx, tx, img.ID, actor, model.ActionDeleted, "deleted "+src); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing file deletion: %w", err)
	}
	img.Status = model.StatusDeleted

	o.logger.Info("file deleted", "src", src, "actor", actor)
	o.invalidate(ctx, []string{img.ID})
	return img, nil
}

// MoveFolder moves or renames a whole subtree. The actor needs
// CreateFolder permission on the destination parent and, unless this is a
// rename in place, DeleteFolder permission on the source parent.
//
// Moving the physical subtree is the one step that can take long. It runs
// before any record is rewritten and is not compensated: if the record
// rewrite fails afterwards, the tree stays at the destination and a later
// sync reconverges the records.
func (o *MutationOrchestrator) MoveFolder(ctx context.Context, rawSrc, rawDst, actor string) (*model.Folder, error) {
	src, err := o.resolver.Normalize(rawSrc)
	if err != nil {
		return nil, err
	}
	dst, err := o.resolver.Normalize(rawDst)
	if err != nil {
		return nil, err
	}
	if src == "/" {
		return nil, E(CodeSecurity, "root folder cannot be moved", "/")
	}
	if dst == "/" {
		return nil, E(CodeExists, "target already exists", "/")
	}
	if src == dst || IsDescendant(dst, src) {
		return nil, E(CodeConflict, "cannot move a folder into itself", dst)
	}
	if err := ValidateName(BaseName(dst)); err != nil {
		return nil, err
	}

	folder, err := o.sync.SyncFolder(ctx, src, SyncOptions{})
	if err != nil {
		return nil, err
	}
	if folder == nil || folder.Status != model.StatusActive {
		return nil, E(CodeNotFound, "folder does not exist", src)
	}

	if err := o.ensureVacant(dst); err != nil {
		return nil, err
	}
	dstParent := ParentPath(dst)
	if exists, err := o.files.DirExists(dstParent); err != nil {
		return nil, fmt.Errorf("checking target folder %s: %w", dstParent, err)
	} else if !exists {
		return nil, E(CodeNotFound, "target folder does not exist", dstParent)
	}
	dstParentFolder, err := o.sync.SyncFolder(ctx, dstParent, SyncOptions{})
	if err != nil {
		return nil, fmt.Errorf("syncing target folder %s: %w", dstParent, err)
	}

	rename := folder.ParentID != nil && *folder.ParentID == dstParentFolder.ID
	if err := o.perms.EnsurePermitted(ctx, dstParentFolder, model.LevelCreateFolder, actor); err != nil {
		return nil, err
	}
	if !rename && folder.ParentID != nil {
		srcParent, err := o.records.GetFolderByID(ctx, nil, *folder.ParentID)
		if err != nil {
			return nil, fmt.Errorf("loading source parent folder: %w", err)
		}
		if err := o.perms.EnsurePermitted(ctx, srcParent, model.LevelDeleteFolder, actor); err != nil {
			return nil, err
		}
	}

	// Purge DELETED leftovers at and under the target path so the subtree
	// rename does not collide with unique indexes.
	if err := o.records.PurgeDeletedFolderAt(ctx, nil, dst); err != nil {
		return nil, fmt.Errorf("purging stale records at %s: %w", dst, err)
	}

	// Collect affected images before paths change; IDs survive the move.
	affected, err := o.records.ListImagesUnder(ctx, nil, src, false)
	if err != nil {
		return nil, fmt.Errorf("listing images under %s: %w", src, err)
	}

	if err := o.files.Move(src, dst); err != nil {
		return nil, fmt.Errorf("moving folder %s to %s: %w", src, dst, err)
	}

	moved, err := o.commitFolderMove(ctx, src, dst, dstParentFolder.ID, actor, affected)
	if err != nil {
		o.logger.Error("folder moved on disk but record rewrite failed, run a sync to reconverge",
			"src", src, "dst", dst, "error", err)
		return nil, err
	}

	o.logger.Info("folder moved", "src", src, "dst", dst, "images", len(affected), "actor", actor)
	if len(affected) > 0 {
		ids := make([]string, len(affected))
		for i, img := range affected {
			ids[i] = img.ID
		}
		o.invalidate(ctx, ids)
	}
	return moved, nil
}

func (o *MutationOrchestrator) commitFolderMove(ctx context.Context, src, dst, dstParentID, actor string, affected []*model.Image) (*model.Folder, error) {
	tx, err := o.records.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := o.records.RenameSubtree(ctx, tx, src, dst); err != nil {
		return nil, fmt.Errorf("rewriting record paths: %w", err)
	}
	moved, err := o.records.GetFolderByPath(ctx, tx, dst)
	if err != nil {
		return nil, fmt.Errorf("loading moved folder record: %w", err)
	}
	moved.ParentID = &dstParentID
	moved.UpdatedAt = o.clock.Now()
	if err := o.records.SaveFolder(ctx, tx, moved); err != nil {
		return nil, fmt.Errorf("updating moved folder record: %w", err)
	}
	for _, img := range affected {
		if err := o.addHistory(ctx, tx, img.ID, actor, model.ActionMoved, "folder moved from "+src+" to "+dst); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing folder move: %w", err)
	}
	return moved, nil
}

// DeleteFolder removes a directory subtree and soft-deletes its records.
// The actor needs DeleteFolder permission on the folder itself. The root
// folder is never deleted.
func (o *MutationOrchestrator) DeleteFolder(ctx context.Context, rawPath, actor string) (*model.Folder, error) {
	path, err := o.resolver.Normalize(rawPath)
	if err != nil {
		return nil, err
	}
	if path == "/" {
		return nil, E(CodeSecurity, "root folder cannot be deleted", "/")
	}

	folder, err := o.sync.SyncFolder(ctx, path, SyncOptions{})
	if err != nil {
		return nil, err
	}
	if folder == nil {
		return nil, E(CodeNotFound, "folder does not exist", path)
	}
	if folder.Status == model.StatusDeleted {
		return folder, nil
	}
	if err := o.perms.EnsurePermitted(ctx, folder, model.LevelDeleteFolder, actor); err != nil {
		return nil, err
	}

	if err := o.files.DeleteDir(path, true); err != nil {
		return nil, fmt.Errorf("deleting directory %s: %w", path, err)
	}

	tx, err := o.records.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()
	imageIDs, err := o.records.SoftDeleteFolder(ctx, tx, folder.ID, true)
	if err != nil {
		return nil, fmt.Errorf("soft-deleting folder records: %w", err)
	}
	for _, id := range imageIDs {
		if err := o.addHistory(ctx, tx, id, actor, model.ActionDeleted, "folder deleted: "+path); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing folder deletion: %w", err)
	}
	folder.Status = model.StatusDeleted

	o.logger.Info("folder deleted", "path", path, "images", len(imageIDs), "actor", actor)
	if len(imageIDs) > 0 {
		o.invalidate(ctx, imageIDs)
	}
	return folder, nil
}

// EditImage updates an image's title and description. Nil fields are left
// unchanged. The actor needs Edit permission on the containing folder.
// Derivatives are not invalidated: metadata does not affect pixels.
func (o *MutationOrchestrator) EditImage(ctx context.Context, rawSrc string, title, description *string, actor string) (*model.Image, error) {
	src, err := o.resolver.Normalize(rawSrc)
	if err != nil {
		return nil, err
	}

	img, err := o.sync.SyncImage(ctx, src, SyncOptions{RecordHistory: true, Actor: actor})
	if err != nil {
		return nil, err
	}
	if img == nil || img.Status != model.StatusActive {
		return nil, E(CodeNotFound, "file does not exist", src)
	}

	folder, err := o.records.GetFolderByID(ctx, nil, img.FolderID)
	if err != nil {
		return nil, fmt.Errorf("loading containing folder: %w", err)
	}
	if err := o.perms.EnsurePermitted(ctx, folder, model.LevelEdit, actor); err != nil {
		return nil, err
	}

	if title == nil && description == nil {
		return img, nil
	}
	if title != nil {
		img.Title = *title
	}
	if description != nil {
		img.Description = *description
	}
	img.UpdatedAt = o.clock.Now()

	tx, err := o.records.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()
	if err := o.records.SaveImage(ctx, tx, img); err != nil {
		return nil, fmt.Errorf("updating image record: %w", err)
	}
	if err := o.addHistory(ctx, tx, img.ID, actor, model.ActionEdited, "metadata updated"); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing image edit: %w", err)
	}

	o.logger.Info("image edited", "src", src, "actor", actor)
	return img, nil
}

// ensureVacant fails with CodeExists when anything occupies path on disk.
func (o *MutationOrchestrator) ensureVacant(path string) error {
	if exists, err := o.files.FileExists(path); err != nil {
		return fmt.Errorf("checking target %s: %w", path, err)
	} else if exists {
		return E(CodeExists, "target already exists", path)
	}
	if exists, err := o.files.DirExists(path); err != nil {
		return fmt.Errorf("checking target %s: %w", path, err)
	} else if exists {
		return E(CodeExists, "target already exists", path)
	}
	return nil
}

// nearestExistingDir walks up from path to the deepest ancestor that exists
// on disk. The root always exists.
func (o *MutationOrchestrator) nearestExistingDir(path string) (string, error) {
	for p := ParentPath(path); p != ""; p = ParentPath(p) {
		exists, err := o.files.DirExists(p)
		if err != nil {
			return "", fmt.Errorf("checking ancestor %s: %w", p, err)
		}
		if exists {
			return p, nil
		}
	}
	return "/", nil
}

func (o *MutationOrchestrator) addHistory(ctx context.Context, tx Tx, imageID, actor string, action model.HistoryAction, info string) error {
	var actorRef *string
	if actor != "" {
		actorRef = &actor
	}
	h := &model.ImageHistory{
		ImageID:   imageID,
		Actor:     actorRef,
		Action:    action,
		Info:      info,
		CreatedAt: o.clock.Now(),
	}
	if err := o.records.AddImageHistory(ctx, tx, h); err != nil {
		return fmt.Errorf("appending image history: %w", err)
	}
	return nil
}

func (o *MutationOrchestrator) invalidate(ctx context.Context, imageIDs []string) {
	if _, err := o.queue.Enqueue(ctx, TaskCacheInvalidate, InvalidateParams{ImageIDs: imageIDs}); err != nil {
		o.logger.Warn("scheduling cache invalidation failed", "error", err)
	}
}
