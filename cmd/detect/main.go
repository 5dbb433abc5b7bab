// Command detect runs ship detection on one product and prints the
// detections as a GeoJSON FeatureCollection.
//
// Detector parameters come from the same CFAR_, LAND_, WORKER_ and
// PROFILE_PATH variables as the server.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/rkm/sarwatch/internal/catalog"
	"github.com/rkm/sarwatch/internal/cfar"
	"github.com/rkm/sarwatch/internal/config"
	"github.com/rkm/sarwatch/internal/landmask"
	"github.com/rkm/sarwatch/internal/pipeline"
	"github.com/rkm/sarwatch/internal/raster"
	"github.com/rkm/sarwatch/internal/sar"
)

type options struct {
	product   string
	channel   int
	roi       string
	coastline string
	land      bool
	snapshot  string
	fgb       string
	verbose   bool
}

func main() {
	var opts options
	flag.StringVar(&opts.product, "product", "", "product directory (SAFE or TerraSAR-X level 1b)")
	flag.IntVar(&opts.channel, "channel", 0, "channel index; -1 runs every channel")
	flag.StringVar(&opts.roi, "roi", "", "region of interest as x,y,width,height")
	flag.StringVar(&opts.coastline, "coastline", "", "land polygons (.fgb, .geojson)")
	flag.BoolVar(&opts.land, "land", true, "drop detections near land when a coastline is given")
	flag.StringVar(&opts.snapshot, "snapshot", "", "write the decoded channel raster to this file")
	flag.StringVar(&opts.fgb, "fgb", "", "also write detections as FlatGeobuf to this file")
	flag.BoolVar(&opts.verbose, "v", false, "debug logging")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, out io.Writer) error {
	if opts.product == "" {
		return errors.New("-product is required")
	}

	level := slog.LevelInfo
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := config.LoadDetection()
	if err != nil {
		return err
	}

	var roi *raster.Frame
	if opts.roi != "" {
		f, err := raster.ParseFrame(opts.roi)
		if err != nil {
			return err
		}
		roi = &f
	}

	sensor, err := catalog.Open(opts.product)
	if err != nil {
		return fmt.Errorf("open product: %w", err)
	}
	logger.Info("opened product",
		slog.String("product", opts.product),
		slog.String("sensor", sensor.Name()),
		slog.Int("channels", sensor.NumChannels()),
	)

	channels := []int{opts.channel}
	if opts.channel < 0 {
		channels = channels[:0]
		for ch := range sensor.NumChannels() {
			channels = append(channels, ch)
		}
	}

	if opts.snapshot != "" {
		if err := writeSnapshot(ctx, sensor, channels[0], roi, opts.snapshot); err != nil {
			return err
		}
		logger.Info("wrote snapshot", slog.String("path", opts.snapshot), slog.Int("channel", channels[0]))
	}

	detector, err := cfar.New(cfg.Detector())
	if err != nil {
		return err
	}
	detector.WithLogger(logger)
	runner := pipeline.NewRunner(detector, landmask.NewFilter(cfg.Land.Buffer, cfg.Worker.Count)).
		WithLogger(logger)

	land := false
	if opts.coastline != "" && opts.land {
		idx, err := landmask.Load(opts.coastline, orb.Bound{})
		if err != nil {
			return err
		}
		runner.WithCoastline(idx)
		land = true
		logger.Info("loaded coastline", slog.String("path", opts.coastline), slog.Int("polygons", idx.Len()))
	}

	results, err := runner.RunChannels(ctx, sensor, channels, pipeline.Options{
		ROI:       roi,
		Land:      land,
		FillBelow: cfg.Land.FillBelow,
	}, cfg.Worker.Runs)
	if err != nil {
		return err
	}

	fc := geojson.NewFeatureCollection()
	var points []orb.Geometry
	for _, res := range results {
		logger.Info("detection finished",
			slog.String("channel", res.Channel),
			slog.Int("raw", res.Raw),
			slog.Int("kept", len(res.Detections)),
			slog.Duration("elapsed", res.Elapsed),
		)
		fc.Features = append(fc.Features, res.FeatureCollection().Features...)
		points = append(points, res.Points()...)
	}

	if opts.fgb != "" {
		if err := writeFlatGeobuf(opts.fgb, points); err != nil {
			return err
		}
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(fc)
}

// writeSnapshot stores the decoded raster of one channel, cropped to roi
// when given.
func writeSnapshot(ctx context.Context, s sar.Sensor, channel int, roi *raster.Frame, path string) error {
	img, err := s.Image(ctx, channel)
	if err != nil {
		return err
	}
	if roi != nil {
		if img, err = img.Crop(*roi); err != nil {
			return err
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}
	if err := raster.WriteSnapshot(f, img.Raster()); err != nil {
		f.Close()
		return fmt.Errorf("write snapshot: %w", err)
	}
	return f.Close()
}

func writeFlatGeobuf(path string, points []orb.Geometry) error {
	if len(points) == 0 {
		return nil
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create flatgeobuf: %w", err)
	}
	if err := landmask.WriteFlatGeobuf(f, "detections", points); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
