package pictor

import (
	"context"
	"time"

	"pictor/internal/model"
)

// Task names understood by the worker side of the queue.
const (
	TaskFolderCascadeDelete = "folder:cascade_delete"
	TaskCacheInvalidate     = "cache:invalidate"
	TaskImageBurst          = "image:burst"
)

// CascadeDeleteParams are the parameters of a folder:cascade_delete task.
type CascadeDeleteParams struct {
	FolderID string `json:"folder_id"`
}

// InvalidateParams are the parameters of a cache:invalidate task.
type InvalidateParams struct {
	ImageIDs []string `json:"image_ids"`
}

// BurstParams are the parameters of an image:burst task.
type BurstParams struct {
	ImageID string `json:"image_id"`
	Src     string `json:"src"`
	Force   bool   `json:"force"`
}

// TaskQueue runs background work with identity-based deduplication. The
// task identity is derived from the task name and its canonicalized
// parameters, so enqueueing work that is already pending or running returns
// the queue's existing task instead of scheduling it twice.
type TaskQueue interface {
	// Enqueue schedules the named task. It returns (nil, nil) when an
	// identical task is already pending or running.
	Enqueue(ctx context.Context, name string, taskParams any) (*model.Task, error)

	// WaitFor blocks until the task reaches a terminal status or the
	// timeout elapses, returning the task's latest snapshot either way.
	// A timeout is not an error; the task keeps running and the caller
	// inspects the returned status.
	WaitFor(ctx context.Context, id string, timeout time.Duration) (*model.Task, error)

	// Snapshot returns the queue's known tasks, oldest first.
	Snapshot(ctx context.Context) ([]*model.Task, error)

	// Close stops the queue. Pending tasks are abandoned.
	Close() error
}
