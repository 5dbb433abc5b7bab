// Package pipeline runs detection over one product channel: decode, optional
// crop, CFAR detection, land filtering and geolocation.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/rkm/sarwatch/internal/cfar"
	"github.com/rkm/sarwatch/internal/landmask"
	"github.com/rkm/sarwatch/internal/observability"
	"github.com/rkm/sarwatch/internal/raster"
	"github.com/rkm/sarwatch/internal/sar"
)

// Options selects what a single run does.
type Options struct {
	// ROI restricts detection to a frame of the full product. Nil means the
	// whole channel.
	ROI *raster.Frame
	// Land enables the land filter. It needs a coastline on the Runner.
	Land bool
	// FillBelow, when positive, flattens intensities not above it before
	// detection.
	FillBelow float32
}

// Detection is one target, in full-product pixel coordinates.
type Detection struct {
	ID        string       `json:"id"`
	Pixel     raster.Pixel `json:"pixel"`
	Lat       float64      `json:"lat"`
	Lon       float64      `json:"lon"`
	Incidence float64      `json:"incidence"`
	Intensity float32      `json:"intensity"`
}

// Result is the outcome of one run.
type Result struct {
	RunID      string        `json:"run_id"`
	Sensor     string        `json:"sensor"`
	Channel    string        `json:"channel"`
	Frame      raster.Frame  `json:"frame"`
	Raw        int           `json:"raw"`
	Land       bool          `json:"land_filtered"`
	Stats      cfar.Stats    `json:"stats"`
	Started    time.Time     `json:"started"`
	Elapsed    time.Duration `json:"elapsed"`
	Detections []Detection   `json:"detections"`
}

// ErrNoCoastline is returned when the land filter is requested without a
// coastline index.
var ErrNoCoastline = errors.New("pipeline: land filter requested without a coastline")

// Runner holds the shared detection stages. A Runner is safe for concurrent
// use.
type Runner struct {
	detector  *cfar.Detector
	filter    *landmask.Filter
	coastline *landmask.Index
	metrics   *observability.Collector
	tracer    trace.Tracer
	logger    *slog.Logger
}

// NewRunner builds a runner around detector. Land filtering is unavailable
// until WithCoastline is called.
func NewRunner(detector *cfar.Detector, filter *landmask.Filter) *Runner {
	if filter == nil {
		filter = landmask.NewFilter(0, 0)
	}
	return &Runner{
		detector: detector,
		filter:   filter,
		tracer:   observability.Tracer(),
		logger:   slog.Default(),
	}
}

// WithCoastline sets the land polygons used by the land filter.
func (r *Runner) WithCoastline(idx *landmask.Index) *Runner {
	r.coastline = idx
	return r
}

// WithMetrics sets the metrics collector.
func (r *Runner) WithMetrics(m *observability.Collector) *Runner {
	r.metrics = m
	return r
}

// WithTracer overrides the global tracer.
func (r *Runner) WithTracer(t trace.Tracer) *Runner {
	r.tracer = t
	return r
}

// WithLogger sets the logger.
func (r *Runner) WithLogger(logger *slog.Logger) *Runner {
	r.logger = logger
	r.filter.WithLogger(logger)
	return r
}

// HasCoastline reports whether the land filter can run.
func (r *Runner) HasCoastline() bool {
	return r.coastline != nil
}

// Run detects targets in one channel of s.
func (r *Runner) Run(ctx context.Context, s sar.Sensor, channel int, opts Options) (res *Result, err error) {
	ctx, span := r.tracer.Start(ctx, "pipeline.Run", trace.WithAttributes(
		attribute.String("sensor", s.Name()),
		attribute.Int("channel", channel),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		raw, kept := 0, 0
		if res != nil {
			raw, kept = res.Raw, len(res.Detections)
		}
		r.metrics.PipelineRun(s.Name(), raw, kept, err)
	}()

	if opts.Land && r.coastline == nil {
		return nil, ErrNoCoastline
	}
	name, err := sar.ChannelName(s, channel)
	if err != nil {
		return nil, err
	}
	res = &Result{
		RunID:   uuid.NewString(),
		Sensor:  s.Name(),
		Channel: name,
		Land:    opts.Land,
		Started: time.Now().UTC(),
	}
	log := r.logger.With(
		slog.String("run_id", res.RunID),
		slog.String("channel", name),
	)

	img, err := r.decode(ctx, s, channel)
	if err != nil {
		return nil, err
	}
	if opts.ROI != nil {
		start := time.Now()
		img, err = img.Crop(*opts.ROI)
		r.metrics.ObserveStage(observability.StageCrop, start)
		if err != nil {
			return nil, err
		}
	}
	res.Frame = img.Frame()

	intensity, err := intensityOf(img, opts.FillBelow)
	if err != nil {
		return nil, err
	}

	dets, err := r.detect(ctx, intensity, res)
	if err != nil {
		return nil, err
	}
	res.Raw = len(dets)

	if opts.Land {
		dets, err = r.land(ctx, img, dets)
		if err != nil {
			return nil, err
		}
	}

	res.Detections = r.locate(ctx, img, intensity, dets)
	res.Elapsed = time.Since(res.Started)
	log.Info("detection run complete",
		slog.String("frame", res.Frame.String()),
		slog.Int("raw", res.Raw),
		slog.Int("kept", len(res.Detections)),
		slog.Duration("elapsed", res.Elapsed),
	)
	return res, nil
}

// RunChannels runs every listed channel concurrently, at most workers at a
// time. Results keep the channel order.
func (r *Runner) RunChannels(ctx context.Context, s sar.Sensor, channels []int, opts Options, workers int) ([]*Result, error) {
	if workers <= 0 {
		workers = 1
	}
	out := make([]*Result, len(channels))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, ch := range channels {
		g.Go(func() error {
			res, err := r.Run(gctx, s, ch, opts)
			if err != nil {
				return fmt.Errorf("channel %d: %w", ch, err)
			}
			out[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Runner) decode(ctx context.Context, s sar.Sensor, channel int) (*sar.Image, error) {
	ctx, span := r.tracer.Start(ctx, "pipeline.decode")
	defer span.End()
	start := time.Now()
	img, err := s.Image(ctx, channel)
	r.metrics.ObserveStage(observability.StageDecode, start)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("decode channel %d: %w", channel, err)
	}
	span.SetAttributes(
		attribute.Int("rows", img.Metadata().Rows),
		attribute.Int("cols", img.Metadata().Cols),
	)
	return img, nil
}

func (r *Runner) detect(ctx context.Context, intensity *raster.Real, res *Result) ([]raster.Pixel, error) {
	ctx, span := r.tracer.Start(ctx, "pipeline.detect")
	defer span.End()
	start := time.Now()
	dets, stats, err := r.detector.DetectStats(ctx, intensity)
	r.metrics.ObserveStage(observability.StageDetect, start)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("detect: %w", err)
	}
	res.Stats = stats
	span.SetAttributes(attribute.Int("detections", len(dets)))
	return dets, nil
}

func (r *Runner) land(ctx context.Context, img *sar.Image, dets []raster.Pixel) ([]raster.Pixel, error) {
	ctx, span := r.tracer.Start(ctx, "pipeline.land")
	defer span.End()
	start := time.Now()
	mask := r.coastline.Narrow(probeBound(img, r.filter.Buffer))
	kept, err := r.filter.Apply(ctx, img, mask, dets)
	r.metrics.ObserveStage(observability.StageLand, start)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("land filter: %w", err)
	}
	span.SetAttributes(
		attribute.Int("polygons", mask.Len()),
		attribute.Int("kept", len(kept)),
	)
	return kept, nil
}

func (r *Runner) locate(ctx context.Context, img *sar.Image, intensity *raster.Real, dets []raster.Pixel) []Detection {
	_, span := r.tracer.Start(ctx, "pipeline.geolocate")
	defer span.End()
	start := time.Now()
	defer r.metrics.ObserveStage(observability.StageLocate, start)

	frame := img.Frame()
	out := make([]Detection, 0, len(dets))
	for _, d := range dets {
		p := img.Geolocate(float64(d.X), float64(d.Y))
		out = append(out, Detection{
			ID:        uuid.NewString(),
			Pixel:     frame.ToGlobal(d),
			Lat:       p.Lat,
			Lon:       p.Lon,
			Incidence: p.Inc,
			Intensity: intensity.At(d.X, d.Y),
		})
	}
	return out
}

// intensityOf converts img to intensity. Real rasters are copied before
// filling so the decoded image stays untouched.
func intensityOf(img *sar.Image, fillBelow float32) (*raster.Real, error) {
	buf := img.Raster()
	out, err := raster.Intensity(buf)
	if err != nil {
		return nil, err
	}
	if fillBelow > 0 {
		if buf.Kind() == raster.KindReal {
			out = out.Clone()
		}
		raster.FillBelow(out, fillBelow)
	}
	return out, nil
}

// probeBound is the lon/lat bound of the image frame grown by buffer pixels on
// every side, covering every point the land filter can probe.
func probeBound(img *sar.Image, buffer float64) orb.Bound {
	f := img.Frame()
	w, h := float64(f.Width), float64(f.Height)
	var mp orb.MultiPoint
	for _, c := range [][2]float64{
		{-buffer, -buffer}, {w + buffer, -buffer}, {w + buffer, h + buffer}, {-buffer, h + buffer},
		{w / 2, -buffer}, {w / 2, h + buffer}, {-buffer, h / 2}, {w + buffer, h / 2},
	} {
		p := img.Geolocate(c[0], c[1])
		mp = append(mp, orb.Point{p.Lon, p.Lat})
	}
	return mp.Bound()
}
