package pictor

import (
	"path"
	"path/filepath"
	"strings"
)

// Resolver maps raw client-supplied paths onto the media root. It is the
// single security boundary for path handling: every path must pass through
// Normalize before any filesystem or record lookup, and everything past the
// resolver trusts its output.
//
// Normalized paths are "/" separated with a leading "/", independent of the
// host separator; "/" denotes the media root itself.
type Resolver struct {
	root string
}

// NewResolver creates a Resolver over the given media root, which must be
// an absolute host path.
func NewResolver(root string) (*Resolver, error) {
	if root == "" {
		return nil, E(CodeInternal, "media root is not configured", "")
	}
	if !filepath.IsAbs(root) {
		return nil, E(CodeInternal, "media root must be an absolute path", root)
	}
	return &Resolver{root: filepath.Clean(root)}, nil
}

// Root returns the absolute host path of the media root.
func (r *Resolver) Root() string { return r.root }

// Normalize validates a raw path and returns its canonical root-relative
// form. Leading separators are stripped, so "/a/b" and "a/b" resolve to the
// same path, and the empty string resolves to the root. Segments named ".."
// and hidden segments (a "." prefix) are rejected outright, before any
// lookup happens.
func (r *Resolver) Normalize(raw string) (string, error) {
	if strings.ContainsRune(raw, 0) {
		return "", E(CodeSecurity, "path contains a NUL byte", "")
	}
	trimmed := strings.TrimLeft(raw, "/")
	if trimmed == "" {
		return "/", nil
	}
	for _, seg := range strings.Split(trimmed, "/") {
		switch {
		case seg == "" || seg == ".":
			// Collapsed by Clean below.
		case seg == "..":
			return "", E(CodeSecurity, "path escapes the media root", raw)
		case strings.HasPrefix(seg, "."):
			return "", E(CodeSecurity, "path contains a hidden component", raw)
		}
	}
	cleaned := path.Clean(trimmed)
	if cleaned == "." {
		return "/", nil
	}
	return "/" + cleaned, nil
}

// Abs validates a raw path and returns the absolute host path it denotes.
func (r *Resolver) Abs(raw string) (string, error) {
	rel, err := r.Normalize(raw)
	if err != nil {
		return "", err
	}
	if rel == "/" {
		return r.root, nil
	}
	return filepath.Join(r.root, filepath.FromSlash(rel[1:])), nil
}

// ParentPath returns the normalized parent of a normalized path, or "" for
// the root, which has no parent.
func ParentPath(rel string) string {
	if rel == "/" {
		return ""
	}
	parent := path.Dir(rel)
	return parent
}

// BaseName returns the last component of a normalized path, or "" for the
// root.
func BaseName(rel string) string {
	if rel == "/" {
		return ""
	}
	return path.Base(rel)
}

// Ancestors returns the chain of ancestor paths of a normalized path, from
// the root down to the immediate parent. The root has no ancestors.
func Ancestors(rel string) []string {
	if rel == "/" || rel == "" {
		return nil
	}
	var chain []string
	for p := ParentPath(rel); p != ""; p = ParentPath(p) {
		chain = append(chain, p)
	}
	// Reverse so the root comes first.
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

// IsDescendant reports whether rel sits strictly below ancestor. Both paths
// must already be normalized.
func IsDescendant(rel, ancestor string) bool {
	if ancestor == "/" {
		return rel != "/"
	}
	return strings.HasPrefix(rel, ancestor+"/")
}

// JoinPath joins a normalized folder path and a name into a normalized
// child path.
func JoinPath(folder, name string) string {
	if folder == "/" {
		return "/" + name
	}
	return folder + "/" + name
}
