package testutil

import (
	"context"
	"fmt"
	"io"
	"sync"

	"pictor/internal/params"
	"pictor/internal/pictor"
)

// StubRenderer is a Renderer that reports fixed dimensions and produces a
// deterministic rendering of its input. It counts calls so tests can assert
// when probing and rendering happen.
type StubRenderer struct {
	// Width and Height are returned by Dimensions. Zero values report a
	// 640x480 source.
	Width  int
	Height int

	// DimErr makes Dimensions fail, as for a non-raster source.
	DimErr error

	// RenderErr makes Render fail.
	RenderErr error

	mu         sync.Mutex
	dimCalls   int
	renderCall int
}

var _ pictor.Renderer = (*StubRenderer)(nil)

func (r *StubRenderer) Dimensions(ctx context.Context, source io.Reader) (int, int, error) {
	r.mu.Lock()
	r.dimCalls++
	r.mu.Unlock()

	if r.DimErr != nil {
		return 0, 0, r.DimErr
	}
	w, h := r.Width, r.Height
	if w == 0 {
		w, h = 640, 480
	}
	return w, h, nil
}

func (r *StubRenderer) Render(ctx context.Context, source io.Reader, t params.Transform) ([]byte, pictor.RenderInfo, error) {
	r.mu.Lock()
	r.renderCall++
	r.mu.Unlock()

	if r.RenderErr != nil {
		return nil, pictor.RenderInfo{}, r.RenderErr
	}
	in, err := io.ReadAll(source)
	if err != nil {
		return nil, pictor.RenderInfo{}, err
	}
	out := fmt.Sprintf("rendered[%d:%s]", len(in), params.Signature(t))
	w := t.Width
	if w == 0 {
		w = r.Width
	}
	return []byte(out), pictor.RenderInfo{Width: w, Height: t.Height, Format: "png"}, nil
}

// DimensionCalls reports how often Dimensions was invoked.
func (r *StubRenderer) DimensionCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dimCalls
}

// RenderCalls reports how often Render was invoked.
func (r *StubRenderer) RenderCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.renderCall
}
