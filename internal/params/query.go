package params

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/gorilla/schema"
)

var queryDecoder = newQueryDecoder()

func newQueryDecoder() *schema.Decoder {
	d := schema.NewDecoder()
	d.IgnoreUnknownKeys(true)
	return d
}

// FromQuery decodes a transform from URL query values. Unknown keys are
// ignored so transform parameters can share a query string with signing and
// pagination parameters. The result is validated.
func FromQuery(values url.Values) (Transform, error) {
	t := Default()
	if err := queryDecoder.Decode(&t, values); err != nil {
		return Transform{}, fmt.Errorf("decoding transform parameters: %w", err)
	}
	if err := t.Validate(); err != nil {
		return Transform{}, err
	}
	return t, nil
}

// FromQueryString decodes a transform from a raw query string.
func FromQueryString(raw string) (Transform, error) {
	values, err := url.ParseQuery(raw)
	if err != nil {
		return Transform{}, fmt.Errorf("parsing query string: %w", err)
	}
	return FromQuery(values)
}

// ToQuery encodes a transform's canonical form as URL query values, omitting
// parameters at their defaults. FromQuery(ToQuery(t)) reproduces t's
// canonical form.
func ToQuery(t Transform) url.Values {
	c := t.Canonical()
	v := url.Values{}

	if c.Width > 0 {
		v.Set("w", strconv.Itoa(c.Width))
	}
	if c.Height > 0 {
		v.Set("h", strconv.Itoa(c.Height))
	}
	if c.Fill != "" {
		v.Set("fill", c.Fill)
	}
	if !c.FullCrop() {
		v.Set("cx0", fmtFloat(c.CropX0))
		v.Set("cy0", fmtFloat(c.CropY0))
		v.Set("cx1", fmtFloat(c.CropX1))
		v.Set("cy1", fmtFloat(c.CropY1))
	}
	if c.Rotate != 0 {
		v.Set("rot", fmtFloat(c.Rotate))
	}
	if c.FlipH {
		v.Set("flh", "1")
	}
	if c.FlipV {
		v.Set("flv", "1")
	}
	if c.Format != "" {
		v.Set("fmt", c.Format)
	}
	if c.Quality > 0 {
		v.Set("q", strconv.Itoa(c.Quality))
	}
	if c.Page > 0 {
		v.Set("page", strconv.Itoa(c.Page))
	}
	if c.Colorspace != "" {
		v.Set("cs", c.Colorspace)
	}
	if c.ICCProfile != "" {
		v.Set("icc", c.ICCProfile)
	}
	if c.Sharpen != 0 {
		v.Set("sharp", fmtFloat(c.Sharpen))
	}
	if c.StripMeta {
		v.Set("strip", "1")
	}
	if c.OverlaySrc != "" {
		v.Set("osrc", c.OverlaySrc)
		if c.OverlayOpacity != 1 {
			v.Set("oop", fmtFloat(c.OverlayOpacity))
		}
		v.Set("osize", fmtFloat(c.OverlaySize))
		if c.OverlayX != 0 {
			v.Set("ox", fmtFloat(c.OverlayX))
		}
		if c.OverlayY != 0 {
			v.Set("oy", fmtFloat(c.OverlayY))
		}
	}
	if c.Tiled() {
		v.Set("tc", strconv.Itoa(c.TileCol))
		v.Set("tr", strconv.Itoa(c.TileRow))
		v.Set("tgc", strconv.Itoa(c.TileCols))
		v.Set("tgr", strconv.Itoa(c.TileRows))
	}
	return v
}
