package cache

import (
	"math"

	badger "github.com/dgraph-io/badger/v4"

	"pictor/internal/params"
)

// findBase searches the source's cached derivatives for one the requested
// transform can be produced from by narrowing alone. It returns the chosen
// base and the residual transform that turns the base output into the
// requested output.
func (c *Cache) findBase(sourceID string, req params.Transform) (*Entry, params.Transform, bool) {
	var candidates []*Entry
	err := c.index.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = sourcePrefix(sourceID)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				e, err := decodeEntry(val)
				if err != nil {
					return err
				}
				candidates = append(candidates, e)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		c.logger.Warn("scanning base candidates failed", "source", sourceID, "error", err)
		return nil, params.Transform{}, false
	}
	return pickBase(candidates, req)
}

// pickBase selects the cheapest usable base among candidates: the smallest
// one whose width is still sufficient for the request, so downscale cost is
// minimal.
func pickBase(candidates []*Entry, req params.Transform) (*Entry, params.Transform, bool) {
	var (
		best         *Entry
		bestResidual params.Transform
		bestWidth    int
	)
	for _, cand := range candidates {
		residual, ok := reusableAs(cand.Params, req)
		if !ok {
			continue
		}
		w := effectiveWidth(cand.Params)
		if best == nil || w < bestWidth {
			best, bestResidual, bestWidth = cand, residual, w
		}
	}
	if best == nil {
		return nil, params.Transform{}, false
	}
	return best, bestResidual, true
}

// effectiveWidth ranks candidates for the smallest-sufficient choice. An
// unconstrained base renders at source resolution and ranks last.
func effectiveWidth(t params.Transform) int {
	if t.Width > 0 {
		return t.Width
	}
	return math.MaxInt
}

// reusableAs reports whether a derivative rendered with base can serve as
// the input for req, and if so returns the residual transform to apply to
// the base output.
//
// Reuse is narrowing-only: the base must match the request on every
// parameter that cannot be undone or tightened and must be at least as
// large, with a crop window containing the request's. Tiles are the special
// case: a full render at the exact target parameters can serve any tile cut
// from it, and a tile at the same grid cell is directly reusable when
// everything but metadata stripping matches.
func reusableAs(base, req params.Transform) (params.Transform, bool) {
	base = base.Canonical()
	req = req.Canonical()

	// A cached tile is a fragment; only the identical tile can reuse it.
	if base.Tiled() {
		return tileFromTile(base, req)
	}
	if req.Tiled() {
		return tileFromFull(base, req)
	}
	return narrowed(base, req)
}

// tileFromFull reuses a full render as the base for a tile cut from it. The
// full render must match the request on everything except the tile fields.
func tileFromFull(base, req params.Transform) (params.Transform, bool) {
	full := req
	full.TileCol, full.TileRow, full.TileCols, full.TileRows = 0, 0, 0, 0
	if params.Signature(base) != params.Signature(full) {
		return params.Transform{}, false
	}

	residual := params.Default()
	residual.Format = req.Format
	residual.Quality = req.Quality
	residual.StripMeta = req.StripMeta
	residual.TileCol, residual.TileRow = req.TileCol, req.TileRow
	residual.TileCols, residual.TileRows = req.TileCols, req.TileRows
	return residual, true
}

// tileFromTile reuses a tile at the same grid cell. Metadata stripping is
// the sole parameter allowed to differ, and only in the narrowing
// direction.
func tileFromTile(base, req params.Transform) (params.Transform, bool) {
	if !req.Tiled() {
		return params.Transform{}, false
	}
	if base.TileCol != req.TileCol || base.TileRow != req.TileRow ||
		base.TileCols != req.TileCols || base.TileRows != req.TileRows {
		return params.Transform{}, false
	}
	if base.StripMeta && !req.StripMeta {
		return params.Transform{}, false
	}

	a, b := base, req
	a.StripMeta, b.StripMeta = false, false
	if params.Signature(a) != params.Signature(b) {
		return params.Transform{}, false
	}

	residual := params.Default()
	residual.Format = req.Format
	residual.Quality = req.Quality
	residual.StripMeta = req.StripMeta
	return residual, true
}

// narrowed handles the general case: a larger or equal derivative scaled,
// cropped, stripped or overlaid down to the request.
func narrowed(base, req params.Transform) (params.Transform, bool) {
	// Compositing cannot be undone, so an overlaid base never serves a
	// different output.
	if base.OverlayActive() {
		return params.Transform{}, false
	}
	// Sharpening is resolution-dependent on both sides: a sharpened base
	// does not survive rescaling, and a sharpen request needs the final
	// resolution from the start.
	if base.Sharpen != 0 || req.Sharpen != 0 {
		return params.Transform{}, false
	}

	// Baked-in parameters must match exactly.
	if base.Format != req.Format ||
		base.Quality != req.Quality ||
		base.Page != req.Page ||
		base.Rotate != req.Rotate ||
		base.FlipH != req.FlipH ||
		base.FlipV != req.FlipV ||
		base.Colorspace != req.Colorspace ||
		base.ICCProfile != req.ICCProfile ||
		base.Fill != req.Fill {
		return params.Transform{}, false
	}
	// An active fill pads to an exact box, so only that exact box reuses
	// it.
	if base.Fill != "" && (base.Width != req.Width || base.Height != req.Height) {
		return params.Transform{}, false
	}

	// Metadata stripping only narrows.
	if base.StripMeta && !req.StripMeta {
		return params.Transform{}, false
	}

	// Each scaling bound must be no tighter on the base: unconstrained, or
	// at least as large as the request's.
	if !axisSufficient(base.Width, req.Width) || !axisSufficient(base.Height, req.Height) {
		return params.Transform{}, false
	}

	// The base crop window must contain the request's.
	if base.CropX0 > req.CropX0 || base.CropY0 > req.CropY0 ||
		base.CropX1 < req.CropX1 || base.CropY1 < req.CropY1 {
		return params.Transform{}, false
	}

	residual := params.Default()
	residual.Width = req.Width
	residual.Height = req.Height
	residual.Fill = req.Fill
	residual.Format = req.Format
	residual.Quality = req.Quality
	residual.StripMeta = req.StripMeta
	residual.CropX0, residual.CropY0, residual.CropX1, residual.CropY1 = remapCrop(base, req)
	residual.OverlaySrc = req.OverlaySrc
	residual.OverlayOpacity = req.OverlayOpacity
	residual.OverlaySize = req.OverlaySize
	residual.OverlayX, residual.OverlayY = req.OverlayX, req.OverlayY
	return residual, true
}

// axisSufficient reports whether a base scaling bound can serve a requested
// one. An unconstrained base serves anything; a constrained base serves
// only requests at most as large.
func axisSufficient(base, req int) bool {
	if base == 0 {
		return true
	}
	return req > 0 && base >= req
}

// remapCrop translates the request's crop window, expressed in source
// fractions, into the base output's coordinate space.
func remapCrop(base, req params.Transform) (x0, y0, x1, y1 float64) {
	bw := base.CropX1 - base.CropX0
	bh := base.CropY1 - base.CropY0
	x0 = (req.CropX0 - base.CropX0) / bw
	y0 = (req.CropY0 - base.CropY0) / bh
	x1 = (req.CropX1 - base.CropX0) / bw
	y1 = (req.CropY1 - base.CropY0) / bh
	return x0, y0, x1, y1
}
