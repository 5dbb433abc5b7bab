package raster

import (
	"fmt"
	"strconv"
	"strings"
)

// Pixel is an integer image coordinate: X is the column, Y the row.
type Pixel struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Frame is a rectangular sub-window of a raster, given by its offset in the
// parent image and its size.
type Frame struct {
	OffsetX int `json:"offset_x"`
	OffsetY int `json:"offset_y"`
	Width   int `json:"width"`
	Height  int `json:"height"`
}

// FullFrame covers every pixel of b.
func FullFrame(b Buffer) Frame {
	return Frame{Width: b.Cols(), Height: b.Rows()}
}

// ToLocal converts a parent image pixel into frame coordinates.
func (f Frame) ToLocal(p Pixel) Pixel {
	return Pixel{X: p.X - f.OffsetX, Y: p.Y - f.OffsetY}
}

// ToGlobal converts a frame pixel into parent image coordinates.
func (f Frame) ToGlobal(p Pixel) Pixel {
	return Pixel{X: p.X + f.OffsetX, Y: p.Y + f.OffsetY}
}

// CenterLocal is the frame centre in frame coordinates.
func (f Frame) CenterLocal() Pixel {
	return Pixel{X: f.Width / 2, Y: f.Height / 2}
}

// CenterGlobal is the frame centre in parent image coordinates.
func (f Frame) CenterGlobal() Pixel {
	return f.ToGlobal(f.CenterLocal())
}

// Within reports whether the frame is non-empty and fits a rows x cols image.
// Sizes are compared against the remaining extent so huge offsets cannot
// overflow.
func (f Frame) Within(rows, cols int) bool {
	return f.Width > 0 && f.Height > 0 &&
		f.OffsetX >= 0 && f.OffsetY >= 0 &&
		f.OffsetX <= cols && f.OffsetY <= rows &&
		f.Width <= cols-f.OffsetX && f.Height <= rows-f.OffsetY
}

// Compose places g, given in f's coordinates, into f's parent coordinates.
func (f Frame) Compose(g Frame) Frame {
	return Frame{OffsetX: f.OffsetX + g.OffsetX, OffsetY: f.OffsetY + g.OffsetY, Width: g.Width, Height: g.Height}
}

func (f Frame) String() string {
	return fmt.Sprintf("frame(%d, %d, %d, %d)", f.OffsetX, f.OffsetY, f.Width, f.Height)
}

// ParseFrame reads "x,y,width,height".
func ParseFrame(s string) (Frame, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return Frame{}, fmt.Errorf("frame %q: want x,y,width,height", s)
	}
	var v [4]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return Frame{}, fmt.Errorf("frame %q: %w", s, err)
		}
		v[i] = n
	}
	if v[2] <= 0 || v[3] <= 0 {
		return Frame{}, fmt.Errorf("frame %q: width and height must be positive", s)
	}
	return Frame{OffsetX: v[0], OffsetY: v[1], Width: v[2], Height: v[3]}, nil
}
