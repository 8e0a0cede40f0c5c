package testutil

import (
	"strings"

	"pictor/internal/pictor"
)

// StubBurster marks sources with a given extension as burstable and derives
// the page folder by suffixing the source path.
type StubBurster struct {
	Ext    string // eligible extension, e.g. ".pdf"
	Suffix string // derived folder suffix, e.g. ".pages"
}

var _ pictor.Burster = (*StubBurster)(nil)

func (b *StubBurster) Eligible(src string) bool {
	return strings.HasSuffix(strings.ToLower(src), b.Ext)
}

func (b *StubBurster) DerivedFolder(src string) string {
	return src + b.Suffix
}
