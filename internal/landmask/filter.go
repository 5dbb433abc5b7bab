package landmask

import (
	"context"
	"log/slog"
	"math"
	"runtime"

	"github.com/paulmach/orb"
	"golang.org/x/sync/errgroup"

	"github.com/rkm/sarwatch/internal/geogrid"
	"github.com/rkm/sarwatch/internal/raster"
)

// DefaultBuffer is the probe distance in pixels.
const DefaultBuffer = 500

// probes are the probe directions, tested in this order.
var probes = [8][2]float64{
	{-1, -1}, {-1, 1}, {1, -1}, {1, 1},
	{-1, 0}, {1, 0}, {0, -1}, {0, 1},
}

// Geolocator maps a pixel of the detection raster to the ground.
type Geolocator interface {
	Geolocate(x, y float64) geogrid.Point
}

// Filter drops detections with land within Buffer pixels.
type Filter struct {
	Buffer  float64
	Workers int
	logger  *slog.Logger
}

// NewFilter returns a filter probing buffer pixels away. Non-positive values
// select the defaults.
func NewFilter(buffer float64, workers int) *Filter {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Filter{Buffer: buffer, Workers: workers, logger: slog.Default()}
}

// WithLogger sets the filter logger.
func (f *Filter) WithLogger(logger *slog.Logger) *Filter {
	f.logger = logger
	return f
}

// verdict is the outcome for one detection.
type verdict uint8

const (
	keep verdict = iota
	land
	invalid
)

// Apply returns the detections whose eight probe points all geolocate over
// water, in input order. A detection is dropped at the first probe found over
// land, or when a probe does not geolocate to finite coordinates.
func (f *Filter) Apply(ctx context.Context, geo Geolocator, mask Mask, dets []raster.Pixel) ([]raster.Pixel, error) {
	verdicts := make([]verdict, len(dets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.Workers)
	for i, d := range dets {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			verdicts[i] = f.check(geo, mask, d)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	kept := make([]raster.Pixel, 0, len(dets))
	var onLand, bad int
	for i, v := range verdicts {
		switch v {
		case keep:
			kept = append(kept, dets[i])
		case land:
			onLand++
		case invalid:
			bad++
			f.logger.Warn("detection dropped: probe did not geolocate",
				slog.Int("x", dets[i].X),
				slog.Int("y", dets[i].Y),
			)
		}
	}
	f.logger.Debug("land filter",
		slog.Int("detections", len(dets)),
		slog.Int("kept", len(kept)),
		slog.Int("land", onLand),
		slog.Int("invalid", bad),
	)
	return kept, nil
}

func (f *Filter) check(geo Geolocator, mask Mask, d raster.Pixel) verdict {
	for _, p := range probes {
		loc := geo.Geolocate(float64(d.X)+p[0]*f.Buffer, float64(d.Y)+p[1]*f.Buffer)
		if !finite(loc.Lat) || !finite(loc.Lon) {
			return invalid
		}
		if mask.IsLand(orb.Point{loc.Lon, loc.Lat}) {
			return land
		}
	}
	return keep
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
