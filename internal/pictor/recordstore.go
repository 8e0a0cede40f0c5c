package pictor

import (
	"context"

	"pictor/internal/model"
)

// Tx is an open record store transaction.
type Tx interface {
	Commit() error
	Rollback() error
}

// RecordStore provides metadata storage for folders, images, image history
// and purge bookkeeping.
//
// Every operation takes an optional transaction. When tx is nil the method
// manages its own transaction (or runs as a single atomic statement); when a
// transaction obtained from Begin is supplied, the operation joins it and the
// caller owns commit and rollback. This lets the sync engine compose
// multi-step flows (create record + append history) atomically while keeping
// single-step callers simple.
type RecordStore interface {
	// Begin opens a transaction for composing multiple operations.
	Begin(ctx context.Context) (Tx, error)

	// Folder operations

	// GetFolderByPath returns the folder with an exact path match,
	// regardless of status. Returns a CodeNotFound error when absent.
	GetFolderByPath(ctx context.Context, tx Tx, path string) (*model.Folder, error)

	// GetFolderByID returns a folder by ID, regardless of status.
	GetFolderByID(ctx context.Context, tx Tx, id string) (*model.Folder, error)

	// GetOrCreateFolder returns the folder at path, creating it when no
	// record exists. The creation is written with insert-or-ignore
	// semantics followed by a re-read, so concurrent creators converge on
	// a single record. When onCreate is non-nil it runs on the candidate
	// record before the insert; an error from it aborts the creation.
	// The returned bool reports whether this call created the record.
	GetOrCreateFolder(ctx context.Context, tx Tx, path string, parentID *string, onCreate func(*model.Folder) error) (*model.Folder, bool, error)

	// SaveFolder persists changes to an existing folder record.
	SaveFolder(ctx context.Context, tx Tx, folder *model.Folder) error

	// SoftDeleteFolder marks the folder DELETED. With cascade it also
	// marks every descendant folder and image DELETED, returning the IDs
	// of images that were still active.
	SoftDeleteFolder(ctx context.Context, tx Tx, id string, cascade bool) ([]string, error)

	// RenameSubtree rewrites the path prefix of the folder at oldPath and
	// of every record below it to newPath. Record IDs are preserved.
	RenameSubtree(ctx context.Context, tx Tx, oldPath, newPath string) error

	// Image operations

	// GetImageBySrc returns the image with an exact src match, regardless
	// of status. Returns a CodeNotFound error when absent.
	GetImageBySrc(ctx context.Context, tx Tx, src string) (*model.Image, error)

	// GetImageByID returns an image by ID, regardless of status.
	GetImageByID(ctx context.Context, tx Tx, id string) (*model.Image, error)

	// GetOrCreateImage returns the image at src, creating it under the
	// given folder when no record exists. Creation follows the same
	// insert-or-ignore contract as GetOrCreateFolder.
	GetOrCreateImage(ctx context.Context, tx Tx, src, folderID string, onCreate func(*model.Image) error) (*model.Image, bool, error)

	// SaveImage persists changes to an existing image record.
	SaveImage(ctx context.Context, tx Tx, image *model.Image) error

	// SoftDeleteImage marks the image DELETED.
	SoftDeleteImage(ctx context.Context, tx Tx, id string) error

	// ListFolderImages returns the images directly inside a folder,
	// ordered by src. Deleted images are excluded unless includeDeleted.
	ListFolderImages(ctx context.Context, tx Tx, folderID string, includeDeleted bool) ([]*model.Image, error)

	// ListImagesUnder returns every image whose src is at or below path,
	// ordered by src.
	ListImagesUnder(ctx context.Context, tx Tx, path string, includeDeleted bool) ([]*model.Image, error)

	// History operations

	// AddImageHistory appends a row to an image's audit trail.
	AddImageHistory(ctx context.Context, tx Tx, h *model.ImageHistory) error

	// ListImageHistory returns an image's audit trail, newest first.
	// A limit of 0 means no limit.
	ListImageHistory(ctx context.Context, tx Tx, imageID string, limit int) ([]*model.ImageHistory, error)

	// Purge operations

	// PurgeDeletedUnder hard-deletes every DELETED record at or below
	// path, including their history. Returns the number of purged folder
	// and image records.
	PurgeDeletedUnder(ctx context.Context, tx Tx, path string) (int64, error)

	// PurgeDeletedImageAt hard-deletes a stale DELETED image record at
	// exactly src, if one exists. Active records are left alone.
	PurgeDeletedImageAt(ctx context.Context, tx Tx, src string) error

	// PurgeDeletedFolderAt hard-deletes a stale DELETED folder record at
	// exactly path, if one exists, along with DELETED records below it.
	PurgeDeletedFolderAt(ctx context.Context, tx Tx, path string) error

	// Close closes the underlying connection.
	Close() error
}
