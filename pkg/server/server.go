// Package server provides a public API for embedding the sarwatch service.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/paulmach/orb"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rkm/sarwatch/internal/api"
	"github.com/rkm/sarwatch/internal/catalog"
	"github.com/rkm/sarwatch/internal/cfar"
	"github.com/rkm/sarwatch/internal/config"
	"github.com/rkm/sarwatch/internal/landmask"
	"github.com/rkm/sarwatch/internal/observability"
	"github.com/rkm/sarwatch/internal/pipeline"
	"github.com/rkm/sarwatch/internal/stac"
)

// Options configures the sarwatch server.
type Options struct {
	// BaseURL is the public-facing URL for self-referential links (required).
	// Example: "https://api.example.com/sar" or "http://localhost:8080"
	BaseURL string

	// DataDir is the directory scanned for products (required).
	DataDir string

	// RescanInterval is how often Start rescans DataDir.
	// Default: 5m
	RescanInterval time.Duration

	// CoastlinePath names a FlatGeobuf or GeoJSON file of land polygons.
	// Default: "" (land filter unavailable)
	CoastlinePath string

	// Detector holds the CFAR parameters.
	// Default: cfar.DefaultConfig()
	Detector *cfar.Config

	// LandBuffer is the land filter probe distance in pixels.
	// Default: 500
	LandBuffer float64

	// FillBelow flattens intensities not above it before detection.
	// Default: 0 (disabled)
	FillBelow float32

	// Workers bounds goroutines per pipeline stage.
	// Default: 0 (GOMAXPROCS)
	Workers int

	// Runs bounds concurrent detection runs.
	// Default: 2
	Runs int

	// CacheTTL is how long detection results are reused.
	// Default: 15m
	CacheTTL time.Duration

	// CacheCleanupInterval is how often expired results are dropped.
	// Default: 1m
	CacheCleanupInterval time.Duration

	// Title is the STAC API title.
	// Default: "sarwatch"
	Title string

	// Description is the STAC API description.
	// Default: "SAR products and ship detections"
	Description string

	// Registerer receives the service metrics.
	// Default: prometheus.DefaultRegisterer
	Registerer prometheus.Registerer

	// Logger is the slog logger to use.
	// Default: slog.Default()
	Logger *slog.Logger
}

// FromConfig builds Options from a loaded service configuration.
func FromConfig(cfg *config.Config) Options {
	detector := cfg.Detector()
	return Options{
		BaseURL:              cfg.STAC.BaseURL,
		DataDir:              cfg.Data.Dir,
		RescanInterval:       cfg.Data.RescanInterval,
		CoastlinePath:        cfg.Coastline.Path,
		Detector:             &detector,
		LandBuffer:           cfg.Land.Buffer,
		FillBelow:            cfg.Land.FillBelow,
		Workers:              cfg.Worker.Count,
		Runs:                 cfg.Worker.Runs,
		CacheTTL:             cfg.Cache.TTL,
		CacheCleanupInterval: cfg.Cache.CleanupInterval,
		Title:                cfg.STAC.Title,
		Description:          cfg.STAC.Description,
	}
}

// Server is a sarwatch server that can be embedded in another application.
type Server struct {
	router  chi.Router
	catalog *catalog.Catalog
	results *stac.MemoryResultStore[*pipeline.Result]
	rescan  time.Duration
}

// New creates a new sarwatch server with the given options. The catalog is
// empty until Start runs.
func New(opts Options) (*Server, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if opts.DataDir == "" {
		return nil, fmt.Errorf("data directory is required")
	}
	if opts.RescanInterval == 0 {
		opts.RescanInterval = 5 * time.Minute
	}
	if opts.Detector == nil {
		d := cfar.DefaultConfig()
		d.Workers = opts.Workers
		opts.Detector = &d
	}
	if opts.LandBuffer == 0 {
		opts.LandBuffer = 500
	}
	if opts.Runs == 0 {
		opts.Runs = 2
	}
	if opts.CacheTTL == 0 {
		opts.CacheTTL = 15 * time.Minute
	}
	if opts.CacheCleanupInterval == 0 {
		opts.CacheCleanupInterval = time.Minute
	}
	if opts.Title == "" {
		opts.Title = "sarwatch"
	}
	if opts.Description == "" {
		opts.Description = "SAR products and ship detections"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	cfg := &config.Config{
		STAC: config.STACConfig{
			Version:     "1.0.0",
			BaseURL:     opts.BaseURL,
			Title:       opts.Title,
			Description: opts.Description,
		},
		Land:   config.LandConfig{Buffer: opts.LandBuffer, FillBelow: opts.FillBelow},
		Worker: config.WorkerConfig{Count: opts.Workers, Runs: opts.Runs},
	}

	metrics, err := observability.NewCollector(opts.Registerer)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	detector, err := cfar.New(*opts.Detector)
	if err != nil {
		return nil, fmt.Errorf("detector: %w", err)
	}
	detector.WithLogger(opts.Logger)

	filter := landmask.NewFilter(opts.LandBuffer, opts.Workers)
	runner := pipeline.NewRunner(detector, filter).
		WithMetrics(metrics).
		WithLogger(opts.Logger)

	if opts.CoastlinePath != "" {
		idx, err := landmask.Load(opts.CoastlinePath, orb.Bound{})
		if err != nil {
			return nil, fmt.Errorf("load coastline: %w", err)
		}
		runner.WithCoastline(idx)
		opts.Logger.Info("loaded coastline",
			slog.String("path", opts.CoastlinePath),
			slog.Int("polygons", idx.Len()),
		)
	}

	cat := catalog.New(opts.DataDir).
		WithWorkers(opts.Workers).
		WithMetrics(metrics).
		WithLogger(opts.Logger)

	results := stac.NewMemoryResultStore[*pipeline.Result](opts.CacheTTL, opts.CacheCleanupInterval)

	handlers := api.NewHandlers(cfg, cat, runner, opts.Logger).
		WithResultStore(results)

	return &Server{
		router:  api.NewRouter(handlers, metrics, opts.Logger),
		catalog: cat,
		results: results,
		rescan:  opts.RescanInterval,
	}, nil
}

// Start scans the data directory once and keeps rescanning until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	if err := s.catalog.Scan(ctx); err != nil {
		return fmt.Errorf("initial catalog scan: %w", err)
	}
	go s.catalog.Watch(ctx, s.rescan)
	return nil
}

// Router returns the chi.Router for mounting in another application.
func (s *Server) Router() chi.Router {
	return s.router
}

// Catalog returns the product catalog.
func (s *Server) Catalog() *catalog.Catalog {
	return s.catalog
}

// Close stops background goroutines (result cache cleanup).
func (s *Server) Close() {
	if s.results != nil {
		s.results.Stop()
	}
}
