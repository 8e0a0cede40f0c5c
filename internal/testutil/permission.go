package testutil

import (
	"context"
	"sync"

	"pictor/internal/model"
	"pictor/internal/pictor"
)

// PermCheck records one permission check.
type PermCheck struct {
	Path     string
	Required model.Level
	Actor    string
}

// PermLog is a PermissionChecker that records every check and permits
// everything unless Deny decides otherwise.
type PermLog struct {
	// Deny, when set, rejects a check by returning true.
	Deny func(path string, required model.Level, actor string) bool

	mu     sync.Mutex
	checks []PermCheck
}

var _ pictor.PermissionChecker = (*PermLog)(nil)

func NewPermLog() *PermLog { return &PermLog{} }

func (p *PermLog) EnsurePermitted(ctx context.Context, folder *model.Folder, required model.Level, actor string) error {
	p.mu.Lock()
	p.checks = append(p.checks, PermCheck{Path: folder.Path, Required: required, Actor: actor})
	p.mu.Unlock()

	if p.Deny != nil && p.Deny(folder.Path, required, actor) {
		return pictor.E(pictor.CodeSecurity, "permission denied", folder.Path)
	}
	return nil
}

// Checks returns the recorded checks in order.
func (p *PermLog) Checks() []PermCheck {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PermCheck, len(p.checks))
	copy(out, p.checks)
	return out
}
