// Package raster holds decoded SAR sample buffers and the pixel frames used to
// move between a full image and a cropped region of it.
package raster

import (
	"errors"
	"fmt"
	"slices"
)

// ErrOutOfBounds is returned when a frame or row range falls outside a buffer.
var ErrOutOfBounds = errors.New("region outside raster bounds")

// Kind identifies the sample representation of a Buffer.
type Kind uint8

const (
	// KindReal holds real-valued intensity samples.
	KindReal Kind = iota + 1
	// KindComplex holds complex int16 (re, im) samples.
	KindComplex
)

func (k Kind) String() string {
	switch k {
	case KindReal:
		return "real"
	case KindComplex:
		return "complex"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Buffer is a row-major 2-D sample array.
type Buffer interface {
	Rows() int
	Cols() int
	Kind() Kind
}

// Real is a row-major float32 raster.
type Real struct {
	rows, cols int
	Data       []float32
}

// NewReal allocates a zeroed rows x cols raster.
func NewReal(rows, cols int) *Real {
	return &Real{rows: rows, cols: cols, Data: make([]float32, rows*cols)}
}

// RealFrom wraps data without copying.
func RealFrom(rows, cols int, data []float32) (*Real, error) {
	if rows < 0 || cols < 0 || len(data) != rows*cols {
		return nil, fmt.Errorf("raster: %d samples for %dx%d", len(data), rows, cols)
	}
	return &Real{rows: rows, cols: cols, Data: data}, nil
}

func (r *Real) Rows() int  { return r.rows }
func (r *Real) Cols() int  { return r.cols }
func (r *Real) Kind() Kind { return KindReal }

// At returns the sample at column x, row y.
func (r *Real) At(x, y int) float32 { return r.Data[y*r.cols+x] }

// Set stores v at column x, row y.
func (r *Real) Set(x, y int, v float32) { r.Data[y*r.cols+x] = v }

// Row returns row y as a slice sharing the buffer.
func (r *Real) Row(y int) []float32 { return r.Data[y*r.cols : (y+1)*r.cols] }

// Clone returns a deep copy.
func (r *Real) Clone() *Real {
	return &Real{rows: r.rows, cols: r.cols, Data: append([]float32(nil), r.Data...)}
}

// Crop copies the pixels inside f into a new raster.
func (r *Real) Crop(f Frame) (*Real, error) {
	if !f.Within(r.rows, r.cols) {
		return nil, fmt.Errorf("%w: %s in %dx%d", ErrOutOfBounds, f, r.rows, r.cols)
	}
	out := NewReal(f.Height, f.Width)
	for y := 0; y < f.Height; y++ {
		src := r.Data[(f.OffsetY+y)*r.cols+f.OffsetX:]
		copy(out.Row(y), src[:f.Width])
	}
	return out, nil
}

// CInt16 is one complex sample stored as signed 16-bit parts.
type CInt16 struct {
	Re int16
	Im int16
}

// Power returns re² + im².
func (c CInt16) Power() float32 {
	re, im := float32(c.Re), float32(c.Im)
	return re*re + im*im
}

// Complex is a row-major complex int16 raster.
type Complex struct {
	rows, cols int
	Data       []CInt16
}

// NewComplex allocates a zeroed rows x cols complex raster.
func NewComplex(rows, cols int) *Complex {
	return &Complex{rows: rows, cols: cols, Data: make([]CInt16, rows*cols)}
}

func (c *Complex) Rows() int  { return c.rows }
func (c *Complex) Cols() int  { return c.cols }
func (c *Complex) Kind() Kind { return KindComplex }

// At returns the sample at column x, row y.
func (c *Complex) At(x, y int) CInt16 { return c.Data[y*c.cols+x] }

// Row returns row y as a slice sharing the buffer.
func (c *Complex) Row(y int) []CInt16 { return c.Data[y*c.cols : (y+1)*c.cols] }

// Truncate keeps the first n rows.
func (c *Complex) Truncate(n int) error {
	if n < 0 || n > c.rows {
		return fmt.Errorf("%w: truncate to %d of %d rows", ErrOutOfBounds, n, c.rows)
	}
	c.rows = n
	c.Data = c.Data[:n*c.cols]
	return nil
}

// Grow reserves capacity for n more rows without changing the shape.
func (c *Complex) Grow(n int) {
	c.Data = slices.Grow(c.Data, n*c.cols)
}

// AppendRows copies rows [from, to) of src onto the end of c.
func (c *Complex) AppendRows(src *Complex, from, to int) error {
	if src.cols != c.cols {
		return fmt.Errorf("raster: append %d columns onto %d", src.cols, c.cols)
	}
	if from < 0 || to > src.rows || from > to {
		return fmt.Errorf("%w: rows [%d, %d) of %d", ErrOutOfBounds, from, to, src.rows)
	}
	c.Data = append(c.Data, src.Data[from*src.cols:to*src.cols]...)
	c.rows += to - from
	return nil
}

// Crop copies the pixels inside f into a new raster.
func (c *Complex) Crop(f Frame) (*Complex, error) {
	if !f.Within(c.rows, c.cols) {
		return nil, fmt.Errorf("%w: %s in %dx%d", ErrOutOfBounds, f, c.rows, c.cols)
	}
	out := NewComplex(f.Height, f.Width)
	for y := 0; y < f.Height; y++ {
		src := c.Data[(f.OffsetY+y)*c.cols+f.OffsetX:]
		copy(out.Row(y), src[:f.Width])
	}
	return out, nil
}

// Crop copies the region f of any buffer.
func Crop(b Buffer, f Frame) (Buffer, error) {
	switch v := b.(type) {
	case *Real:
		return v.Crop(f)
	case *Complex:
		return v.Crop(f)
	default:
		return nil, fmt.Errorf("raster: cannot crop %T", b)
	}
}

// Intensity returns the real intensity of b. Real buffers are returned as is;
// complex buffers are converted sample by sample to re² + im².
func Intensity(b Buffer) (*Real, error) {
	switch v := b.(type) {
	case *Real:
		return v, nil
	case *Complex:
		out := NewReal(v.rows, v.cols)
		for i, s := range v.Data {
			out.Data[i] = s.Power()
		}
		return out, nil
	default:
		return nil, fmt.Errorf("raster: no intensity for %T", b)
	}
}
