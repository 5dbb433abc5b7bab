package cfar

import (
	"context"
	"errors"
	"log/slog"
	"math"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"github.com/rkm/sarwatch/internal/raster"
)

// ErrEmptyRaster is returned when Detect is given a raster with no pixels.
var ErrEmptyRaster = errors.New("cfar: empty raster")

// Detector runs CFAR detection. A Detector is safe for concurrent use.
type Detector struct {
	cfg        Config
	background *convolver
	target     *convolver
	logger     *slog.Logger
}

// Stats describes one detection run.
type Stats struct {
	Mean       float64
	StdDev     float64
	Candidates int
	Components int
}

// New validates cfg and builds its kernels.
func New(cfg Config) (*Detector, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Detector{
		cfg:        cfg,
		background: newConvolver(backgroundProfile(cfg.Window, cfg.Guard), cfg.Workers),
		target:     newConvolver(targetProfile(cfg.Window, cfg.Target), cfg.Workers),
		logger:     slog.Default(),
	}, nil
}

// WithLogger sets the detector logger.
func (d *Detector) WithLogger(logger *slog.Logger) *Detector {
	d.logger = logger
	return d
}

// Config returns the effective parameters.
func (d *Detector) Config() Config { return d.cfg }

// Detect returns one pixel per connected group of threshold crossings, in
// the order the groups are first met scanning rows top to bottom.
func (d *Detector) Detect(ctx context.Context, r *raster.Real) ([]raster.Pixel, error) {
	dets, _, err := d.DetectStats(ctx, r)
	return dets, err
}

// DetectStats is Detect that also reports run statistics.
func (d *Detector) DetectStats(ctx context.Context, r *raster.Real) ([]raster.Pixel, Stats, error) {
	var st Stats
	if r == nil || r.Rows() == 0 || r.Cols() == 0 {
		return nil, st, ErrEmptyRaster
	}

	img := newField(r.Rows(), r.Cols())
	for i, v := range r.Data {
		img.data[i] = float64(v)
	}
	st.Mean, st.StdDev = stat.PopMeanStdDev(img.data, nil)

	clip := d.cfg.ClipFactor * st.Mean
	bg := newField(img.rows, img.cols)
	for i, v := range img.data {
		bg.data[i] = math.Min(v, clip)
	}

	border := d.cfg.Border()
	var localMean, localDev, target *field
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		m, err := d.background.apply(gctx, bg)
		if err != nil {
			return err
		}
		m.clearBorder(border)
		abs := newField(bg.rows, bg.cols)
		for i, v := range bg.data {
			abs.data[i] = math.Abs(v - m.data[i])
		}
		dev, err := d.background.apply(gctx, abs)
		if err != nil {
			return err
		}
		dev.clearBorder(border)
		localMean, localDev = m, dev
		return nil
	})
	g.Go(func() error {
		t, err := d.target.apply(gctx, img)
		if err != nil {
			return err
		}
		t.clearBorder(border)
		target = t
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, st, err
	}

	mask := make([]bool, len(img.data))
	floor := st.Mean / d.cfg.GlobalDivisor
	for i := range mask {
		if target.data[i] > floor+localMean.data[i]+d.cfg.ThresholdScale*localDev.data[i] {
			mask[i] = true
			st.Candidates++
		}
	}

	dets := label(mask, img)
	st.Components = len(dets)
	d.logger.Debug("cfar run",
		slog.Int("rows", img.rows),
		slog.Int("cols", img.cols),
		slog.Float64("mean", st.Mean),
		slog.Float64("std", st.StdDev),
		slog.Int("candidates", st.Candidates),
		slog.Int("detections", st.Components),
	)
	return dets, st, nil
}

// label groups mask pixels into 8-connected components and returns the
// intensity-weighted centroid of each, rounded to the nearest pixel.
func label(mask []bool, img *field) []raster.Pixel {
	var dets []raster.Pixel
	seen := make([]bool, len(mask))
	var stack []int
	for start, on := range mask {
		if !on || seen[start] {
			continue
		}
		var sw, sx, sy, n, ux, uy float64
		seen[start] = true
		stack = append(stack[:0], start)
		for len(stack) > 0 {
			i := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			x, y := i%img.cols, i/img.cols
			w := img.data[i]
			sw += w
			sx += w * float64(x)
			sy += w * float64(y)
			ux += float64(x)
			uy += float64(y)
			n++
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					nx, ny := x+dx, y+dy
					if nx < 0 || ny < 0 || nx >= img.cols || ny >= img.rows {
						continue
					}
					j := ny*img.cols + nx
					if mask[j] && !seen[j] {
						seen[j] = true
						stack = append(stack, j)
					}
				}
			}
		}
		cx, cy := ux/n, uy/n
		if sw > 0 {
			cx, cy = sx/sw, sy/sw
		}
		dets = append(dets, raster.Pixel{X: int(math.Round(cx)), Y: int(math.Round(cy))})
	}
	return dets
}
