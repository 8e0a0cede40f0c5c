// Package params models derivative rendering parameters and their canonical
// cache signatures. Two parameter sets that produce pixel-identical output
// must canonicalize to the same signature, so equivalent requests made with
// different spellings share one cache entry.
package params

import (
	"fmt"
	"math"
	"strings"
)

// Transform describes how a derivative is produced from a source image.
// The zero value of most fields means "renderer default"; Default returns
// a Transform with the non-zero defaults (full crop, opaque overlay) set.
type Transform struct {
	// Scaling bounds in pixels. Zero means unconstrained.
	Width  int `schema:"w" json:"w,omitempty"`
	Height int `schema:"h" json:"h,omitempty"`

	// Fill is a background color applied when padding to an exact
	// Width x Height box. It only takes effect when both bounds are set.
	Fill string `schema:"fill" json:"fill,omitempty"`

	// Crop window as fractions of the source dimensions.
	CropX0 float64 `schema:"cx0" json:"cx0,omitempty"`
	CropY0 float64 `schema:"cy0" json:"cy0,omitempty"`
	CropX1 float64 `schema:"cx1" json:"cx1,omitempty"`
	CropY1 float64 `schema:"cy1" json:"cy1,omitempty"`

	// Rotate is a clockwise rotation in degrees.
	Rotate float64 `schema:"rot" json:"rot,omitempty"`

	FlipH bool `schema:"flh" json:"flh,omitempty"`
	FlipV bool `schema:"flv" json:"flv,omitempty"`

	// Format is the output encoding ("jpeg", "png", "webp", ...). Empty
	// keeps the source format.
	Format string `schema:"fmt" json:"fmt,omitempty"`

	// Quality is the lossy encoding quality, 1-100. Zero means renderer
	// default.
	Quality int `schema:"q" json:"q,omitempty"`

	// Page selects a page of a multi-page source, 1-based.
	Page int `schema:"page" json:"page,omitempty"`

	Colorspace string  `schema:"cs" json:"cs,omitempty"`
	ICCProfile string  `schema:"icc" json:"icc,omitempty"`
	Sharpen    float64 `schema:"sharp" json:"sharp,omitempty"`

	// StripMeta removes EXIF and other embedded metadata from the output.
	StripMeta bool `schema:"strip" json:"strip,omitempty"`

	// Overlay watermarking. The overlay is identified by its source path;
	// size and position are fractions of the rendered output.
	OverlaySrc     string  `schema:"osrc" json:"osrc,omitempty"`
	OverlayOpacity float64 `schema:"oop" json:"oop,omitempty"`
	OverlaySize    float64 `schema:"osize" json:"osize,omitempty"`
	OverlayX       float64 `schema:"ox" json:"ox,omitempty"`
	OverlayY       float64 `schema:"oy" json:"oy,omitempty"`

	// Tiling cuts the rendered image into a TileCols x TileRows grid and
	// returns the (TileCol, TileRow) cell, 0-based.
	TileCol  int `schema:"tc" json:"tc,omitempty"`
	TileRow  int `schema:"tr" json:"tr,omitempty"`
	TileCols int `schema:"tgc" json:"tgc,omitempty"`
	TileRows int `schema:"tgr" json:"tgr,omitempty"`
}

// Default returns a Transform with the documented defaults: a full crop
// window and a fully opaque overlay.
func Default() Transform {
	return Transform{
		CropX1:         1,
		CropY1:         1,
		OverlayOpacity: 1,
	}
}

// Tiled reports whether the transform selects a tile of a grid.
func (t Transform) Tiled() bool {
	return t.TileCols > 0 && t.TileRows > 0
}

// OverlayActive reports whether the overlay contributes to the output.
// An overlay with an opacity or size that rounds to zero is invisible and
// treated as absent.
func (t Transform) OverlayActive() bool {
	return t.OverlaySrc != "" && round5(t.OverlayOpacity) > 0 && round5(t.OverlaySize) > 0
}

// FullCrop reports whether the crop window covers the whole source after
// rounding.
func (t Transform) FullCrop() bool {
	return round5(t.CropX0) == 0 && round5(t.CropY0) == 0 &&
		round5(t.CropX1) == 1 && round5(t.CropY1) == 1
}

// Canonical returns the transform with every parameter in canonical form:
// floats rounded to five decimal places, strings lowercased and trimmed,
// rotation normalized into [0, 360), and parameter groups that have no
// visible effect (invisible overlays, fill without a full box, full crops,
// page one, incomplete tile grids) reset to their defaults. Two transforms
// that produce identical output have identical canonical forms.
func (t Transform) Canonical() Transform {
	c := t

	c.Fill = lower(t.Fill)
	if t.Width <= 0 || t.Height <= 0 {
		// Fill pads to an exact box, which needs both bounds.
		c.Fill = ""
	}

	if t.FullCrop() {
		c.CropX0, c.CropY0, c.CropX1, c.CropY1 = 0, 0, 1, 1
	} else {
		c.CropX0, c.CropY0 = round5(t.CropX0), round5(t.CropY0)
		c.CropX1, c.CropY1 = round5(t.CropX1), round5(t.CropY1)
	}

	c.Rotate = round5(mod360(t.Rotate))
	c.Format = lower(t.Format)
	if t.Page <= 1 {
		// Page one is what an unpaged render shows.
		c.Page = 0
	}
	c.Colorspace = lower(t.Colorspace)
	c.ICCProfile = lower(t.ICCProfile)
	c.Sharpen = round5(t.Sharpen)

	if t.OverlayActive() {
		c.OverlaySrc = lower(t.OverlaySrc)
		c.OverlayOpacity = round5(t.OverlayOpacity)
		c.OverlaySize = round5(t.OverlaySize)
		c.OverlayX, c.OverlayY = round5(t.OverlayX), round5(t.OverlayY)
	} else {
		c.OverlaySrc = ""
		c.OverlayOpacity = 1
		c.OverlaySize, c.OverlayX, c.OverlayY = 0, 0, 0
	}

	if !t.Tiled() {
		c.TileCol, c.TileRow, c.TileCols, c.TileRows = 0, 0, 0, 0
	}
	return c
}

// Validate checks field ranges. It does not canonicalize; Signature handles
// equivalence.
func (t Transform) Validate() error {
	if t.Width < 0 || t.Height < 0 {
		return fmt.Errorf("width and height must not be negative")
	}
	if t.Quality < 0 || t.Quality > 100 {
		return fmt.Errorf("quality must be between 0 and 100")
	}
	if t.Page < 0 {
		return fmt.Errorf("page must not be negative")
	}
	if t.CropX0 < 0 || t.CropY0 < 0 || t.CropX1 > 1 || t.CropY1 > 1 {
		return fmt.Errorf("crop bounds must be within [0, 1]")
	}
	if t.CropX0 >= t.CropX1 || t.CropY0 >= t.CropY1 {
		return fmt.Errorf("crop window is empty")
	}
	if t.Sharpen < 0 {
		return fmt.Errorf("sharpen must not be negative")
	}
	if t.OverlayOpacity < 0 || t.OverlayOpacity > 1 {
		return fmt.Errorf("overlay opacity must be between 0 and 1")
	}
	if t.OverlaySize < 0 || t.OverlaySize > 1 {
		return fmt.Errorf("overlay size must be between 0 and 1")
	}
	if t.OverlayX < 0 || t.OverlayX > 1 || t.OverlayY < 0 || t.OverlayY > 1 {
		return fmt.Errorf("overlay position must be between 0 and 1")
	}
	if t.TileCols < 0 || t.TileRows < 0 || t.TileCol < 0 || t.TileRow < 0 {
		return fmt.Errorf("tile fields must not be negative")
	}
	if (t.TileCols > 0) != (t.TileRows > 0) {
		return fmt.Errorf("tile grid requires both column and row counts")
	}
	if t.Tiled() && (t.TileCol >= t.TileCols || t.TileRow >= t.TileRows) {
		return fmt.Errorf("tile index is outside the grid")
	}
	return nil
}

// round5 rounds to five decimal places, half away from zero. Float
// parameters are compared and emitted at this precision so that values
// differing only by representation noise canonicalize identically.
func round5(v float64) float64 {
	return math.Round(v*1e5) / 1e5
}

// mod360 normalizes a rotation into [0, 360).
func mod360(deg float64) float64 {
	m := math.Mod(deg, 360)
	if m < 0 {
		m += 360
	}
	return m
}

func lower(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
