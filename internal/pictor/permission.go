package pictor

import (
	"context"

	"pictor/internal/model"
)

// PermissionChecker decides whether an actor may perform an operation on a
// folder. Permission levels are totally ordered, so implementations answer
// "does the actor hold at least this level here".
type PermissionChecker interface {
	// EnsurePermitted returns nil when the actor holds the required level
	// on the folder, and a CodeSecurity error otherwise. The empty actor
	// denotes system-initiated work, which is always permitted.
	EnsurePermitted(ctx context.Context, folder *model.Folder, required model.Level, actor string) error
}
