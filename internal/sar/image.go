package sar

import (
	"errors"
	"fmt"

	"github.com/rkm/sarwatch/internal/geogrid"
	"github.com/rkm/sarwatch/internal/raster"
)

// Image is one decoded channel: its raster, the geolocation grid of the full
// product and the frame the raster occupies within the product. Images are
// never modified after construction; Crop returns a new Image.
type Image struct {
	buf   raster.Buffer
	grid  *geogrid.Grid
	meta  Metadata
	frame raster.Frame
}

// NewImage pairs a full-product raster with its grid.
func NewImage(buf raster.Buffer, grid *geogrid.Grid, meta Metadata) (*Image, error) {
	if buf == nil {
		return nil, errors.New("sar: nil raster")
	}
	if grid == nil {
		return nil, errors.New("sar: nil geolocation grid")
	}
	meta.Rows, meta.Cols = buf.Rows(), buf.Cols()
	return &Image{buf: buf, grid: grid, meta: meta, frame: raster.FullFrame(buf)}, nil
}

// Raster returns the pixel buffer. Callers must not modify it.
func (im *Image) Raster() raster.Buffer { return im.buf }

// Grid returns the product geolocation grid.
func (im *Image) Grid() *geogrid.Grid { return im.grid }

// Metadata returns the channel annotation.
func (im *Image) Metadata() Metadata { return im.meta }

// Frame returns where this image sits in the full product.
func (im *Image) Frame() raster.Frame { return im.frame }

// Geolocate returns lat, lon and incidence for the local pixel (x, y).
func (im *Image) Geolocate(x, y float64) geogrid.Point {
	return im.grid.Forward(x+float64(im.frame.OffsetX), y+float64(im.frame.OffsetY))
}

// IncidenceAngle returns the incidence angle in degrees at (x, y).
func (im *Image) IncidenceAngle(x, y float64) float64 {
	return im.Geolocate(x, y).Inc
}

// ToPixel finds the local pixel nearest (lat, lon), searching from the centre
// of the full product. Non-convergence is returned as a
// *geogrid.ConvergenceError together with the best pixel found.
func (im *Image) ToPixel(lat, lon float64) (raster.Pixel, error) {
	return im.ToPixelWith(lat, lon, geogrid.InverseOptions{})
}

// ToPixelWith is ToPixel with explicit solver options. The seed is given in
// full product pixels; a nil seed starts at the product centre. A zero span
// defaults to the product size.
func (im *Image) ToPixelWith(lat, lon float64, opts geogrid.InverseOptions) (raster.Pixel, error) {
	if opts.SpanX == 0 && opts.SpanY == 0 {
		opts.SpanX, opts.SpanY = float64(im.meta.Cols), float64(im.meta.Rows)
	}
	x, y, err := im.grid.Inverse(lat, lon, opts)
	return im.frame.ToLocal(raster.Pixel{X: x, Y: y}), err
}

// Crop copies the region f, given in this image's coordinates.
func (im *Image) Crop(f raster.Frame) (*Image, error) {
	buf, err := raster.Crop(im.buf, f)
	if err != nil {
		return nil, fmt.Errorf("crop %s: %w", f, err)
	}
	return &Image{buf: buf, grid: im.grid, meta: im.meta, frame: im.frame.Compose(f)}, nil
}
