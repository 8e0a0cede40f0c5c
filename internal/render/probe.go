// Package render provides the Renderer implementations. The probe renderer
// only reads image dimensions with the standard library decoders; the exec
// renderer delegates pixel work to an external command, keeping the image
// processing toolchain out of this process.
package render

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"

	"pictor/internal/params"
	"pictor/internal/pictor"
)

// ProbeRenderer measures source dimensions and nothing else. It is the
// default renderer: syncing works out of the box, derivatives need an
// exec renderer.
type ProbeRenderer struct{}

var _ pictor.Renderer = (*ProbeRenderer)(nil)

func NewProbeRenderer() *ProbeRenderer { return &ProbeRenderer{} }

func (r *ProbeRenderer) Dimensions(ctx context.Context, source io.Reader) (int, int, error) {
	cfg, _, err := image.DecodeConfig(source)
	if err != nil {
		return 0, 0, fmt.Errorf("probing image dimensions: %w", err)
	}
	return cfg.Width, cfg.Height, nil
}

func (r *ProbeRenderer) Render(ctx context.Context, source io.Reader, t params.Transform) ([]byte, pictor.RenderInfo, error) {
	return nil, pictor.RenderInfo{}, fmt.Errorf("probe renderer cannot produce derivatives: configure an exec renderer")
}
