package pictor

// Burster decides whether a source file can be burst into per-page images.
// The sync engine consults it after creating or resurrecting an image and
// enqueues an image:burst task when extraction applies; the extraction
// itself runs in the background.
type Burster interface {
	// Eligible reports whether the source at src supports page
	// extraction.
	Eligible(src string) bool

	// DerivedFolder returns the folder path that extracted pages of src
	// are written to. Extraction is skipped while this folder exists,
	// unless forced.
	DerivedFolder(src string) string
}
