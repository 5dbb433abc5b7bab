package geogrid

import (
	"math"

	"gonum.org/v1/gonum/optimize"
)

// Inverse defaults.
const (
	DefaultTolerance     = 1e-10
	DefaultMaxIterations = 1000
	defaultSimplexSize   = 0.05
)

// Seed is the pixel an inverse solve starts from.
type Seed struct {
	X, Y float64
}

// InverseOptions controls a single inverse solve.
type InverseOptions struct {
	// Seed is the starting pixel. Nil starts at the centre of the span.
	Seed *Seed
	// SpanX, SpanY scale the search space, normally the image size. The
	// initial simplex covers a few percent of it.
	SpanX, SpanY float64
	// Tolerance is the largest accepted squared lat/lon residual in deg².
	Tolerance float64
	// MaxIterations bounds the optimizer's major iterations.
	MaxIterations int
}

func (o InverseOptions) withDefaults() InverseOptions {
	if o.Tolerance <= 0 {
		o.Tolerance = DefaultTolerance
	}
	if o.MaxIterations <= 0 {
		o.MaxIterations = DefaultMaxIterations
	}
	if o.SpanX <= 0 {
		o.SpanX = 1
	}
	if o.SpanY <= 0 {
		o.SpanY = 1
	}
	if o.Seed == nil {
		o.Seed = &Seed{X: o.SpanX / 2, Y: o.SpanY / 2}
	}
	return o
}

// Inverse finds the pixel whose forward geolocation is nearest (lat, lon) with
// a Nelder-Mead search started at the seed. The result is rounded to the
// nearest pixel. A solve that ends above the tolerance returns a
// *ConvergenceError and the rounded best guess.
func (g *Grid) Inverse(lat, lon float64, opts InverseOptions) (int, int, error) {
	opts = opts.withDefaults()
	seed := *opts.Seed

	toPixel := func(u []float64) (float64, float64) {
		return seed.X + u[0]*opts.SpanX, seed.Y + u[1]*opts.SpanY
	}
	problem := optimize.Problem{
		Func: func(u []float64) float64 {
			x, y := toPixel(u)
			p := g.Forward(x, y)
			dLat, dLon := lat-p.Lat, lon-p.Lon
			return dLat*dLat + dLon*dLon
		},
	}
	settings := &optimize.Settings{
		MajorIterations: opts.MaxIterations,
		Converger: &optimize.FunctionConverge{
			Absolute:   opts.Tolerance * 1e-6,
			Iterations: 50,
		},
	}

	result, err := optimize.Minimize(problem, []float64{0, 0}, settings, &optimize.NelderMead{SimplexSize: defaultSimplexSize})
	if result == nil {
		return 0, 0, &ConvergenceError{Lat: lat, Lon: lon, X: seed.X, Y: seed.Y, Residual: math.Inf(1)}
	}

	x, y := toPixel(result.X)
	px, py := int(math.Round(x)), int(math.Round(y))
	if err != nil || math.IsNaN(result.F) || result.F > opts.Tolerance {
		return px, py, &ConvergenceError{
			Lat:        lat,
			Lon:        lon,
			X:          x,
			Y:          y,
			Residual:   result.F,
			Iterations: result.Stats.MajorIterations,
		}
	}
	return px, py, nil
}
