// Package permission implements the static, config-driven PermissionChecker.
// Rules grant an actor a level at a folder prefix; resolution picks the most
// specific matching prefix, with an exact actor match beating a wildcard at
// equal specificity. Anything not covered by a rule falls back to the
// configured default level.
package permission

import (
	"context"
	"fmt"
	"strings"

	"pictor/internal/config"
	"pictor/internal/model"
	"pictor/internal/pictor"
)

// Rule grants an actor a level at and below a folder prefix. Actor "*"
// matches every actor.
type Rule struct {
	Prefix string
	Actor  string
	Level  model.Level
}

// Checker answers permission queries from an in-memory rule list.
type Checker struct {
	defaultLevel model.Level
	rules        []Rule
}

var _ pictor.PermissionChecker = (*Checker)(nil)

// NewChecker builds a checker over rules. Later rules win exact ties.
func NewChecker(defaultLevel model.Level, rules []Rule) *Checker {
	normalized := make([]Rule, 0, len(rules))
	for _, r := range rules {
		r.Prefix = normalizePrefix(r.Prefix)
		if r.Actor == "" {
			r.Actor = "*"
		}
		normalized = append(normalized, r)
	}
	return &Checker{defaultLevel: defaultLevel, rules: normalized}
}

// NewFromConfig creates a Checker from the permissions config. An empty
// default level means all access, which suits single-operator deployments.
func NewFromConfig(cfg config.PermissionsConfig) (*Checker, error) {
	defaultLevel := model.LevelAll
	if cfg.Default != "" {
		parsed, err := model.ParseLevel(cfg.Default)
		if err != nil {
			return nil, fmt.Errorf("default permission level: %w", err)
		}
		defaultLevel = parsed
	}

	rules := make([]Rule, 0, len(cfg.Rules))
	for _, rc := range cfg.Rules {
		level, err := model.ParseLevel(rc.Level)
		if err != nil {
			return nil, fmt.Errorf("permission rule for %q: %w", rc.Prefix, err)
		}
		rules = append(rules, Rule{Prefix: rc.Prefix, Actor: rc.Actor, Level: level})
	}
	return NewChecker(defaultLevel, rules), nil
}

func (c *Checker) EnsurePermitted(ctx context.Context, folder *model.Folder, required model.Level, actor string) error {
	// The empty actor is system-initiated work.
	if actor == "" {
		return nil
	}
	granted := c.LevelFor(folder.Path, actor)
	if !granted.Permits(required) {
		return pictor.E(pictor.CodeSecurity,
			fmt.Sprintf("actor %s holds %s, needs %s", actor, granted, required), folder.Path)
	}
	return nil
}

// LevelFor resolves the level an actor holds at a folder path.
func (c *Checker) LevelFor(path, actor string) model.Level {
	best := -1
	bestExact := false
	level := c.defaultLevel

	for _, r := range c.rules {
		if !covers(r.Prefix, path) {
			continue
		}
		exact := r.Actor == actor
		if !exact && r.Actor != "*" {
			continue
		}
		if len(r.Prefix) < best {
			continue
		}
		if len(r.Prefix) == best && bestExact && !exact {
			continue
		}
		best = len(r.Prefix)
		bestExact = exact
		level = r.Level
	}
	return level
}

// covers reports whether prefix contains path, treating prefixes as folder
// boundaries: "/a" covers "/a" and "/a/b" but not "/ab".
func covers(prefix, path string) bool {
	if prefix == "/" {
		return true
	}
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

func normalizePrefix(p string) string {
	p = strings.TrimSpace(p)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
	}
	if p == "" {
		p = "/"
	}
	return p
}
