package params

import "strconv"

// Signature returns the canonical parameter signature of a transform.
//
// The signature is a comma-separated list of code=value pairs in a fixed
// order, built from the Canonical form: parameters at their default value
// are omitted entirely, float values are rounded to five decimal places and
// printed without trailing zeros, and string values are lowercased. A
// transform with no effective parameters has the empty signature.
func Signature(t Transform) string {
	c := t.Canonical()

	var pairs []string
	add := func(code, value string) {
		pairs = append(pairs, code+"="+value)
	}

	if c.Width > 0 {
		add("w", strconv.Itoa(c.Width))
	}
	if c.Height > 0 {
		add("h", strconv.Itoa(c.Height))
	}
	if c.Fill != "" {
		add("fill", c.Fill)
	}
	if !c.FullCrop() {
		add("c", fmtFloat(c.CropX0)+":"+fmtFloat(c.CropY0)+":"+fmtFloat(c.CropX1)+":"+fmtFloat(c.CropY1))
	}
	if c.Rotate != 0 {
		add("r", fmtFloat(c.Rotate))
	}
	if c.FlipH {
		add("flh", "1")
	}
	if c.FlipV {
		add("flv", "1")
	}
	if c.Format != "" {
		add("fmt", c.Format)
	}
	if c.Quality > 0 {
		add("q", strconv.Itoa(c.Quality))
	}
	if c.Page > 0 {
		add("page", strconv.Itoa(c.Page))
	}
	if c.Colorspace != "" {
		add("cs", c.Colorspace)
	}
	if c.ICCProfile != "" {
		add("icc", c.ICCProfile)
	}
	if c.Sharpen != 0 {
		add("sharp", fmtFloat(c.Sharpen))
	}
	if c.StripMeta {
		add("strip", "1")
	}
	if c.OverlaySrc != "" {
		add("o", c.OverlaySrc)
		if c.OverlayOpacity != 1 {
			add("oop", fmtFloat(c.OverlayOpacity))
		}
		add("osize", fmtFloat(c.OverlaySize))
		if c.OverlayX != 0 {
			add("ox", fmtFloat(c.OverlayX))
		}
		if c.OverlayY != 0 {
			add("oy", fmtFloat(c.OverlayY))
		}
	}
	if c.Tiled() {
		add("t", strconv.Itoa(c.TileCol)+":"+strconv.Itoa(c.TileRow)+":"+
			strconv.Itoa(c.TileCols)+":"+strconv.Itoa(c.TileRows))
	}

	out := ""
	for i, p := range pairs {
		if i > 0 {
			out += ","
		}
		out += p
	}
	return out
}

// CacheKey returns the full cache key for a derivative of the given source.
// A transform with an empty signature keys the re-encoded original.
func CacheKey(sourceID string, t Transform) string {
	sig := Signature(t)
	if sig == "" {
		sig = "orig"
	}
	return sourceID + ":" + sig
}

func fmtFloat(v float64) string {
	return strconv.FormatFloat(round5(v), 'f', -1, 64)
}
