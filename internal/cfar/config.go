// Package cfar finds point targets in SAR intensity rasters with a constant
// false alarm rate detector.
package cfar

import (
	"errors"
	"fmt"
	"runtime"
)

// Config holds the detector parameters.
type Config struct {
	// Window is the side of the background and target kernels.
	Window int `yaml:"window"`
	// Guard is the width of the plus-shaped hole in the background kernel.
	// Zero means Window/3.
	Guard int `yaml:"guard"`
	// Target is the side of the centred square of ones in the target kernel.
	Target int `yaml:"target"`
	// ClipFactor caps background pixels at ClipFactor times the global mean.
	ClipFactor float64 `yaml:"clip_factor"`
	// ThresholdScale multiplies the local deviation in the threshold.
	ThresholdScale float64 `yaml:"threshold_scale"`
	// GlobalDivisor divides the global mean in the threshold.
	GlobalDivisor float64 `yaml:"global_divisor"`
	// Workers bounds the goroutines used by the convolutions.
	Workers int `yaml:"workers"`
}

// DefaultConfig returns the standard detector parameters.
func DefaultConfig() Config {
	return Config{
		Window:         64,
		Target:         6,
		ClipFactor:     5,
		ThresholdScale: 10,
		GlobalDivisor:  10,
		Workers:        runtime.GOMAXPROCS(0),
	}
}

// withDefaults fills derived values.
func (c Config) withDefaults() Config {
	if c.Guard == 0 {
		c.Guard = c.Window / 3
	}
	if c.Workers <= 0 {
		c.Workers = runtime.GOMAXPROCS(0)
	}
	return c
}

// Border is the width of the edge band where no detection can start.
func (c Config) Border() int {
	return c.Window / 2
}

// Validate checks the parameters.
func (c Config) Validate() error {
	if c.Window < 3 {
		return fmt.Errorf("window must be at least 3, got %d", c.Window)
	}
	if c.Guard < 0 || c.Guard >= c.Window {
		return fmt.Errorf("guard must be in [0, %d), got %d", c.Window, c.Guard)
	}
	if c.Target <= 0 || c.Target >= c.Window {
		return fmt.Errorf("target must be in (0, %d), got %d", c.Window, c.Target)
	}
	if c.Target < 2 {
		return errors.New("target must be at least 2 so the target kernel is not empty")
	}
	if c.ClipFactor <= 0 {
		return fmt.Errorf("clip factor must be positive, got %v", c.ClipFactor)
	}
	if c.ThresholdScale < 0 {
		return fmt.Errorf("threshold scale must not be negative, got %v", c.ThresholdScale)
	}
	if c.GlobalDivisor <= 0 {
		return fmt.Errorf("global divisor must be positive, got %v", c.GlobalDivisor)
	}
	return nil
}
