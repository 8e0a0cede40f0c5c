package model

import "time"

// Status is the lifecycle state of a folder or image record. Records are
// never hard-deleted during normal operation; they are flipped to
// StatusDeleted and may later be resurrected under the same ID.
type Status string

const (
	StatusActive  Status = "active"
	StatusDeleted Status = "deleted"
)

// Folder mirrors a physical directory under the media root.
type Folder struct {
	ID        string  // UUID
	Path      string  // Root-relative path, "/" separated, leading "/" ("/" is the root)
	ParentID  *string // Foreign key to parent Folder, nil for the root
	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsRoot reports whether the folder is the media root.
func (f *Folder) IsRoot() bool {
	return f.Path == "/"
}

// Image mirrors a physical source file under the media root.
type Image struct {
	ID          string // UUID
	Src         string // Root-relative path, unique among images
	FolderID    string // Foreign key to containing Folder
	Status      Status
	Width       *int // Pixel width, nil when probing was unavailable
	Height      *int // Pixel height
	Title       string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// HistoryAction identifies the kind of change an ImageHistory row records.
type HistoryAction string

const (
	ActionCreated  HistoryAction = "created"
	ActionReplaced HistoryAction = "replaced"
	ActionEdited   HistoryAction = "edited"
	ActionMoved    HistoryAction = "moved"
	ActionDeleted  HistoryAction = "deleted"
)

// ImageHistory is one row of an image's append-only audit trail.
type ImageHistory struct {
	ID        int64
	ImageID   string
	Actor     *string // nil when the change was system-initiated
	Action    HistoryAction
	Info      string
	CreatedAt time.Time
}

// TaskStatus is the lifecycle state of a background task.
type TaskStatus string

const (
	TaskQueued   TaskStatus = "queued"
	TaskRunning  TaskStatus = "running"
	TaskComplete TaskStatus = "complete"
	TaskFailed   TaskStatus = "failed"
)

// Terminal reports whether the status is a final state.
func (s TaskStatus) Terminal() bool {
	return s == TaskComplete || s == TaskFailed
}

// Task is a deduplicated unit of background work. The ID is derived from the
// task name and its canonicalized parameters, so enqueueing the same work
// twice while a task is still pending yields a single task.
type Task struct {
	ID         string
	Name       string
	Params     []byte // Canonical JSON parameters
	Status     TaskStatus
	Error      string // Failure message, empty unless Status is TaskFailed
	EnqueuedAt time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
}
