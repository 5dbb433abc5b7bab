package cfar

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/rkm/sarwatch/internal/raster"
)

// noise returns a raster of uniform values in [100-5, 100+5).
func noise(rows, cols int, seed uint64) *raster.Real {
	rng := rand.New(rand.NewPCG(seed, 7))
	r := raster.NewReal(rows, cols)
	for i := range r.Data {
		r.Data[i] = float32(95 + 10*rng.Float64())
	}
	return r
}

func plant(r *raster.Real, cx, cy int, v float32) {
	for y := cy - 1; y <= cy+1; y++ {
		for x := cx - 1; x <= cx+1; x++ {
			r.Set(x, y, v)
		}
	}
}

func detector(t *testing.T, cfg Config) *Detector {
	t.Helper()
	d, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d
}

func TestDetectPlantedTarget(t *testing.T) {
	r := noise(200, 200, 1)
	plant(r, 100, 100, 10000)

	d := detector(t, DefaultConfig())
	dets, st, err := d.DetectStats(context.Background(), r)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(dets) != 1 {
		t.Fatalf("detections = %v, want exactly one", dets)
	}
	if dx, dy := dets[0].X-100, dets[0].Y-100; dx*dx+dy*dy > 1 {
		t.Errorf("centroid = %+v, want within 1 px of (100,100)", dets[0])
	}
	if st.Candidates < 9 || st.Components != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestDetectSuppressesBorder(t *testing.T) {
	r := noise(200, 200, 2)
	plant(r, 10, 10, 10000)
	plant(r, 190, 100, 10000)
	plant(r, 100, 195, 10000)
	plant(r, 100, 100, 10000)

	d := detector(t, DefaultConfig())
	dets, err := d.Detect(context.Background(), r)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	b := d.Config().Border()
	for _, p := range dets {
		if p.X < b || p.Y < b || p.X >= 200-b || p.Y >= 200-b {
			t.Errorf("detection %+v inside the %d px border", p, b)
		}
	}
	if len(dets) != 1 {
		t.Errorf("detections = %v, want only the centre target", dets)
	}
}

func TestDetectBackgroundOnly(t *testing.T) {
	d := detector(t, DefaultConfig())
	dets, err := d.Detect(context.Background(), noise(160, 140, 3))
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(dets) != 0 {
		t.Errorf("detections = %v, want none", dets)
	}
}

func TestDetectOrdersByScan(t *testing.T) {
	r := noise(200, 200, 4)
	plant(r, 140, 60, 10000)
	plant(r, 60, 140, 10000)

	dets, err := detector(t, DefaultConfig()).Detect(context.Background(), r)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(dets) != 2 || dets[0].Y > dets[1].Y {
		t.Fatalf("detections = %v, want the upper target first", dets)
	}
}

func TestDetectEmptyAndCanceled(t *testing.T) {
	d := detector(t, DefaultConfig())
	if _, err := d.Detect(context.Background(), raster.NewReal(0, 0)); !errors.Is(err, ErrEmptyRaster) {
		t.Errorf("empty raster error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := d.Detect(ctx, noise(80, 80, 5)); !errors.Is(err, context.Canceled) {
		t.Errorf("canceled error = %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name string
		edit func(*Config)
	}{
		{"small window", func(c *Config) { c.Window = 2 }},
		{"guard too wide", func(c *Config) { c.Guard = 64 }},
		{"target too wide", func(c *Config) { c.Target = 64 }},
		{"target one", func(c *Config) { c.Target = 1 }},
		{"clip", func(c *Config) { c.ClipFactor = 0 }},
		{"divisor", func(c *Config) { c.GlobalDivisor = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.edit(&cfg)
			if _, err := New(cfg); err == nil {
				t.Fatal("New accepted invalid config")
			}
		})
	}
	if got := DefaultConfig().withDefaults().Guard; got != 21 {
		t.Errorf("default guard = %d, want 21", got)
	}
}

func TestBackgroundKernelIsPlusShaped(t *testing.T) {
	k := Kernel(backgroundProfile(64, 21))
	at := func(y, x int) float64 { return k[y*64+x] }
	// guard band is [22, 42) on both axes
	cases := []struct {
		y, x int
		want float64
	}{
		{0, 0, 1}, {21, 21, 1}, {22, 0, 0}, {0, 41, 0}, {32, 32, 0}, {42, 42, 1}, {63, 10, 1},
	}
	for _, c := range cases {
		if got := at(c.y, c.x); got != c.want {
			t.Errorf("kernel[%d][%d] = %v, want %v", c.y, c.x, got, c.want)
		}
	}
	tk := Kernel(targetProfile(64, 6))
	ones := 0
	for _, v := range tk {
		ones += int(v)
	}
	if ones != 36 || tk[29*64+29] != 1 || tk[35*64+35] != 0 {
		t.Errorf("target kernel has %d ones", ones)
	}
}

// direct is the textbook same-size convolution of in with the normalized
// kernel k of side n.
func direct(in *field, k []float64, n int) *field {
	sum := 0.0
	for _, v := range k {
		sum += v
	}
	c := (n - 1) / 2
	out := newField(in.rows, in.cols)
	for i := 0; i < in.rows; i++ {
		for j := 0; j < in.cols; j++ {
			acc := 0.0
			for a := 0; a < n; a++ {
				for b := 0; b < n; b++ {
					y, x := i+c-a, j+c-b
					if y < 0 || x < 0 || y >= in.rows || x >= in.cols {
						continue
					}
					acc += k[a*n+b] * in.data[y*in.cols+x]
				}
			}
			out.data[i*in.cols+j] = acc / sum
		}
	}
	return out
}

func TestSeparableMatchesDirect(t *testing.T) {
	rng := rand.New(rand.NewPCG(9, 9))
	in := newField(13, 17)
	for i := range in.data {
		in.data[i] = rng.Float64() * 50
	}
	for _, profile := range [][]float64{
		backgroundProfile(8, 3),
		targetProfile(8, 2),
		backgroundProfile(7, 2),
	} {
		got, err := newConvolver(profile, 3).apply(context.Background(), in)
		if err != nil {
			t.Fatalf("apply: %v", err)
		}
		want := direct(in, Kernel(profile), len(profile))
		for i := range want.data {
			if math.Abs(got.data[i]-want.data[i]) > 1e-9 {
				t.Fatalf("profile %v: sample %d = %v, direct %v", profile, i, got.data[i], want.data[i])
			}
		}
	}
}

func TestClearBorder(t *testing.T) {
	f := newField(6, 5)
	for i := range f.data {
		f.data[i] = 1
	}
	f.clearBorder(2)
	nonzero := 0
	for _, v := range f.data {
		if v != 0 {
			nonzero++
		}
	}
	// rows 2..3, column 2
	if nonzero != 2 || f.data[2*5+2] != 1 || f.data[3*5+2] != 1 {
		t.Errorf("clearBorder left %d non-zero samples", nonzero)
	}
}
