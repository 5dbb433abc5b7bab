package geogrid

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidGrid is returned when tie points do not form a usable grid.
	ErrInvalidGrid = errors.New("invalid geolocation grid")

	// ErrNoConvergence is returned when the inverse solver misses its tolerance.
	ErrNoConvergence = errors.New("inverse geolocation did not converge")
)

// ConvergenceError describes a failed inverse geolocation. The best pixel
// found is still reported so callers may decide whether to use it.
type ConvergenceError struct {
	Lat, Lon   float64
	X, Y       float64
	Residual   float64
	Iterations int
}

func (e *ConvergenceError) Error() string {
	return fmt.Sprintf("inverse geolocation of (%.6f, %.6f) stopped at pixel (%.2f, %.2f) with residual %.3g after %d iterations",
		e.Lat, e.Lon, e.X, e.Y, e.Residual, e.Iterations)
}

func (e *ConvergenceError) Unwrap() error {
	return ErrNoConvergence
}
