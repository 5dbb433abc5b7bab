// Package sartest provides an in-memory sar.Sensor for tests.
package sartest

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/paulmach/orb"

	"github.com/rkm/sarwatch/internal/geogrid"
	"github.com/rkm/sarwatch/internal/raster"
	"github.com/rkm/sarwatch/internal/sar"
)

// Scale is the degrees per pixel of the synthetic grid: pixel (x, y) sits at
// lon x*Scale, lat y*Scale.
const Scale = 0.001

// Sensor is a single-product sensor with detected channels of uniform noise
// around 100 and bright 3x3 targets.
type Sensor struct {
	Rows, Cols int
	Channels   []string
	Targets    []raster.Pixel
}

var (
	_ sar.Sensor    = (*Sensor)(nil)
	_ sar.Describer = (*Sensor)(nil)
)

// New returns a rows x cols sensor with one "vv" channel.
func New(rows, cols int, targets ...raster.Pixel) *Sensor {
	return &Sensor{Rows: rows, Cols: cols, Channels: []string{"test.vv"}, Targets: targets}
}

func (s *Sensor) Name() string             { return "Synthetic" }
func (s *Sensor) NumChannels() int         { return len(s.Channels) }
func (s *Sensor) ImageType() sar.ImageType { return sar.Detected }

func (s *Sensor) ChannelName(ch int) (string, error) {
	if ch < 0 || ch >= len(s.Channels) {
		return "", sar.ChannelError(ch, len(s.Channels))
	}
	return s.Channels[ch], nil
}

func (s *Sensor) Metadata(ch int) (sar.Metadata, error) {
	if ch < 0 || ch >= len(s.Channels) {
		return sar.Metadata{}, sar.ChannelError(ch, len(s.Channels))
	}
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	w, h := float64(s.Cols-1)*Scale, float64(s.Rows-1)*Scale
	return sar.Metadata{
		Mission:             "SYN",
		Mode:                "SM",
		ProductType:         "GRD",
		Polarization:        "VV",
		Rows:                s.Rows,
		Cols:                s.Cols,
		RowSpacing:          10,
		ColSpacing:          10,
		AzimuthStart:        start,
		AzimuthStop:         start.Add(time.Duration(s.Rows) * time.Millisecond),
		AzimuthTimeInterval: 1e-3,
		RangeFirst:          5e-3,
		RangeLast:           5e-3 + float64(s.Cols)*1e-8,
		CalibrationConstant: 1,
		Corners:             []orb.Point{{0, 0}, {w, 0}, {w, h}, {0, h}},
	}, nil
}

// Grid returns the linear grid used by every channel.
func (s *Sensor) Grid() *geogrid.Grid {
	rows, cols := float64(s.Rows-1), float64(s.Cols-1)
	g, err := geogrid.New(
		geogrid.Axis{Ticks: []float64{0, rows}, Scale: 1},
		geogrid.Axis{Ticks: []float64{0, cols}, Scale: 1},
		[]geogrid.Point{
			{Lat: 0, Lon: 0, Inc: 30},
			{Lat: 0, Lon: cols * Scale, Inc: 40},
			{Lat: rows * Scale, Lon: 0, Inc: 30},
			{Lat: rows * Scale, Lon: cols * Scale, Inc: 40},
		},
	)
	if err != nil {
		panic(err)
	}
	return g
}

func (s *Sensor) Image(ctx context.Context, ch int) (*sar.Image, error) {
	meta, err := s.Metadata(ch)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewPCG(uint64(ch)+1, 7))
	r := raster.NewReal(s.Rows, s.Cols)
	for i := range r.Data {
		r.Data[i] = float32(95 + 10*rng.Float64())
	}
	for _, t := range s.Targets {
		for y := t.Y - 1; y <= t.Y+1; y++ {
			for x := t.X - 1; x <= t.X+1; x++ {
				if x >= 0 && y >= 0 && x < s.Cols && y < s.Rows {
					r.Set(x, y, 10000)
				}
			}
		}
	}
	img, err := sar.NewImage(r, s.Grid(), meta)
	if err != nil {
		return nil, fmt.Errorf("synthetic image: %w", err)
	}
	return img, nil
}
