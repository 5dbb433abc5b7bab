// Package config provides configuration management for the sarwatch service
// and CLI.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"

	"github.com/rkm/sarwatch/internal/cfar"
	"github.com/rkm/sarwatch/internal/observability"
)

// Config holds the complete application configuration loaded from environment variables.
type Config struct {
	Server    ServerConfig    `envPrefix:"SERVER_"`
	STAC      STACConfig      `envPrefix:"STAC_"`
	Data      DataConfig      `envPrefix:"DATA_"`
	Coastline CoastlineConfig `envPrefix:"COASTLINE_"`
	CFAR      CFARConfig      `envPrefix:"CFAR_"`
	Land      LandConfig      `envPrefix:"LAND_"`
	Worker    WorkerConfig    `envPrefix:"WORKER_"`
	Cache     CacheConfig     `envPrefix:"CACHE_"`
	Trace     TraceConfig     `envPrefix:"TRACE_"`
	Logging   LoggingConfig   `envPrefix:"LOG_"`

	// ProfilePath names an optional YAML detection profile overlaying the
	// CFAR and land settings.
	ProfilePath string `env:"PROFILE_PATH" envDefault:""`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Host            string        `env:"HOST" envDefault:"0.0.0.0"`
	Port            int           `env:"PORT" envDefault:"8080"`
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"30s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"300s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// STACConfig contains STAC API metadata configuration.
type STACConfig struct {
	Version     string `env:"VERSION" envDefault:"1.0.0"`
	BaseURL     string `env:"BASE_URL"` // Public-facing URL (required)
	Title       string `env:"TITLE" envDefault:"sarwatch"`
	Description string `env:"DESCRIPTION" envDefault:"SAR products and ship detections"`
}

// DataConfig locates the product archive.
type DataConfig struct {
	Dir            string        `env:"DIR" envDefault:"data"`
	RescanInterval time.Duration `env:"RESCAN_INTERVAL" envDefault:"5m"`
}

// CoastlineConfig locates the land polygons. An empty path disables the land
// filter.
type CoastlineConfig struct {
	Path string `env:"PATH" envDefault:""`
}

// CFARConfig mirrors cfar.Config.
type CFARConfig struct {
	Window         int     `env:"WINDOW" envDefault:"64" yaml:"window"`
	Guard          int     `env:"GUARD" envDefault:"0" yaml:"guard"`
	Target         int     `env:"TARGET" envDefault:"6" yaml:"target"`
	ClipFactor     float64 `env:"CLIP_FACTOR" envDefault:"5" yaml:"clip_factor"`
	ThresholdScale float64 `env:"THRESHOLD_SCALE" envDefault:"10" yaml:"threshold_scale"`
	GlobalDivisor  float64 `env:"GLOBAL_DIVISOR" envDefault:"10" yaml:"global_divisor"`
}

// LandConfig contains land filter settings.
type LandConfig struct {
	Buffer float64 `env:"BUFFER" envDefault:"500" yaml:"buffer"`
	// FillBelow flattens intensities not above it before detection; zero
	// disables it.
	FillBelow float32 `env:"FILL_BELOW" envDefault:"0" yaml:"fill_below"`
}

// WorkerConfig bounds concurrency.
type WorkerConfig struct {
	// Count bounds the goroutines per stage; zero means GOMAXPROCS.
	Count int `env:"COUNT" envDefault:"0"`
	// Runs bounds concurrent pipeline runs.
	Runs int `env:"RUNS" envDefault:"2"`
}

// CacheConfig controls the detection result cache.
type CacheConfig struct {
	TTL             time.Duration `env:"TTL" envDefault:"15m"`
	CleanupInterval time.Duration `env:"CLEANUP_INTERVAL" envDefault:"1m"`
}

// TraceConfig controls OpenTelemetry tracing.
type TraceConfig struct {
	Enabled     bool    `env:"ENABLED" envDefault:"false"`
	Exporter    string  `env:"EXPORTER" envDefault:"stdout"`
	ServiceName string  `env:"SERVICE_NAME" envDefault:"sarwatch"`
	SampleRatio float64 `env:"SAMPLE_RATIO" envDefault:"1"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `env:"LEVEL" envDefault:"info"`
	Format string `env:"FORMAT" envDefault:"json"`
}

// Load parses configuration from environment variables, applies the detection
// profile when one is named and validates the result.
func Load() (*Config, error) {
	cfg := &Config{}

	opts := env.Options{
		RequiredIfNoDef: true,
	}

	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	if cfg.ProfilePath != "" {
		if err := cfg.ApplyProfile(cfg.ProfilePath); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadDetection parses only what offline detection needs: the server and
// STAC groups may be unset.
func LoadDetection() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	if cfg.ProfilePath != "" {
		if err := cfg.ApplyProfile(cfg.ProfilePath); err != nil {
			return nil, err
		}
	}

	if err := cfg.ValidateDetection(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// ValidateDetection checks the detector, land filter and worker settings.
func (c *Config) ValidateDetection() error {
	if err := c.Detector().Validate(); err != nil {
		return fmt.Errorf("cfar: %w", err)
	}

	if c.Land.Buffer <= 0 {
		return fmt.Errorf("land buffer must be positive, got %v", c.Land.Buffer)
	}

	if c.Land.FillBelow < 0 {
		return fmt.Errorf("fill threshold must not be negative, got %v", c.Land.FillBelow)
	}

	if c.Worker.Count < 0 {
		return fmt.Errorf("worker count must not be negative, got %d", c.Worker.Count)
	}

	return nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server read timeout must be positive, got %s", c.Server.ReadTimeout)
	}

	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server write timeout must be positive, got %s", c.Server.WriteTimeout)
	}

	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server shutdown timeout must be positive, got %s", c.Server.ShutdownTimeout)
	}

	if c.STAC.BaseURL == "" {
		return fmt.Errorf("STAC base URL is required")
	}

	if c.STAC.Version == "" {
		return fmt.Errorf("STAC version is required")
	}

	if c.Data.Dir == "" {
		return fmt.Errorf("data directory is required")
	}

	if c.Data.RescanInterval <= 0 {
		return fmt.Errorf("data rescan interval must be positive, got %s", c.Data.RescanInterval)
	}

	if err := c.ValidateDetection(); err != nil {
		return err
	}

	if c.Worker.Runs < 1 {
		return fmt.Errorf("concurrent runs must be at least 1, got %d", c.Worker.Runs)
	}

	if c.Cache.TTL <= 0 || c.Cache.CleanupInterval <= 0 {
		return fmt.Errorf("cache TTL and cleanup interval must be positive, got %s and %s", c.Cache.TTL, c.Cache.CleanupInterval)
	}

	if c.Trace.SampleRatio < 0 || c.Trace.SampleRatio > 1 {
		return fmt.Errorf("trace sample ratio must be in [0, 1], got %v", c.Trace.SampleRatio)
	}

	validExporters := map[string]bool{
		"stdout": true,
		"none":   true,
	}
	if !validExporters[c.Trace.Exporter] {
		return fmt.Errorf("invalid trace exporter %q, must be one of: stdout, none", c.Trace.Exporter)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level %q, must be one of: debug, info, warn, error", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format %q, must be one of: json, text", c.Logging.Format)
	}

	return nil
}

// Address returns the server listen address in the format "host:port".
func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Detector returns the CFAR parameters with the configured worker bound.
func (c *Config) Detector() cfar.Config {
	return cfar.Config{
		Window:         c.CFAR.Window,
		Guard:          c.CFAR.Guard,
		Target:         c.CFAR.Target,
		ClipFactor:     c.CFAR.ClipFactor,
		ThresholdScale: c.CFAR.ThresholdScale,
		GlobalDivisor:  c.CFAR.GlobalDivisor,
		Workers:        c.Worker.Count,
	}
}

// Tracing returns the tracing setup.
func (c *Config) Tracing() observability.TracingConfig {
	return observability.TracingConfig{
		Enabled:     c.Trace.Enabled,
		ServiceName: c.Trace.ServiceName,
		Exporter:    c.Trace.Exporter,
		SampleRatio: c.Trace.SampleRatio,
	}
}
