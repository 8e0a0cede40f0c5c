package pictor

import (
	"context"
	"io"

	"pictor/internal/params"
)

// RenderInfo describes a rendered derivative.
type RenderInfo struct {
	Width  int
	Height int
	Format string
}

// Renderer produces derivative images. Implementations wrap an image
// processing backend; the engine and cache treat rendering as opaque.
type Renderer interface {
	// Dimensions probes the pixel dimensions of a source without
	// rendering it.
	Dimensions(ctx context.Context, source io.Reader) (width, height int, err error)

	// Render applies a transform to source content and returns the
	// encoded result.
	Render(ctx context.Context, source io.Reader, t params.Transform) ([]byte, RenderInfo, error)
}
