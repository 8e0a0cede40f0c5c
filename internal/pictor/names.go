package pictor

import (
	"strings"
	"unicode"
)

const maxNameLength = 255

// ValidateName checks a single path component that a mutation is about to
// create. Sync never applies this check: files that already exist on disk
// are registered whatever they are called, but new names created through
// the API are held to stricter rules.
func ValidateName(name string) error {
	switch {
	case name == "":
		return E(CodeSecurity, "name must not be empty", "")
	case name == "." || name == "..":
		return E(CodeSecurity, "name is reserved", name)
	case strings.HasPrefix(name, "."):
		return E(CodeSecurity, "name must not start with a dot", name)
	case len(name) > maxNameLength:
		return E(CodeSecurity, "name is too long", name)
	case strings.ContainsRune(name, '/'):
		return E(CodeSecurity, "name must not contain a path separator", name)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return E(CodeSecurity, "name must not contain control characters", name)
		}
	}
	if strings.TrimSpace(name) != name {
		return E(CodeSecurity, "name must not start or end with whitespace", name)
	}
	return nil
}
