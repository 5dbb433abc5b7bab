package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/rkm/sarwatch/internal/cfar"
	"github.com/rkm/sarwatch/internal/landmask"
	"github.com/rkm/sarwatch/internal/observability"
	"github.com/rkm/sarwatch/internal/raster"
	"github.com/rkm/sarwatch/internal/sar"
	"github.com/rkm/sarwatch/internal/sar/sartest"
)

func runner(t *testing.T) *Runner {
	t.Helper()
	d, err := cfar.New(cfar.DefaultConfig())
	if err != nil {
		t.Fatalf("cfar.New: %v", err)
	}
	return NewRunner(d, landmask.NewFilter(5, 2))
}

func square(minX, minY, maxX, maxY float64) orb.Polygon {
	return orb.Polygon{orb.Ring{
		{minX, minY}, {maxX, minY}, {maxX, maxY}, {minX, maxY}, {minX, minY},
	}}
}

func near(a, b raster.Pixel) bool {
	return math.Abs(float64(a.X-b.X)) <= 1 && math.Abs(float64(a.Y-b.Y)) <= 1
}

func TestRunDetects(t *testing.T) {
	s := sartest.New(200, 200, raster.Pixel{X: 60, Y: 60}, raster.Pixel{X: 140, Y: 140})
	res, err := runner(t).Run(context.Background(), s, 0, Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Raw != 2 || len(res.Detections) != 2 {
		t.Fatalf("raw %d kept %d, want 2 and 2", res.Raw, len(res.Detections))
	}
	if !near(res.Detections[0].Pixel, raster.Pixel{X: 60, Y: 60}) {
		t.Errorf("first detection at %v", res.Detections[0].Pixel)
	}
	d := res.Detections[1]
	if math.Abs(d.Lat-0.14) > 0.0011 || math.Abs(d.Lon-0.14) > 0.0011 {
		t.Errorf("geolocated to (%v, %v), want about (0.14, 0.14)", d.Lat, d.Lon)
	}
	if d.Intensity != 10000 || d.ID == "" {
		t.Errorf("detection = %+v", d)
	}
	if res.Channel != "test.vv" || res.Sensor != "Synthetic" || res.RunID == "" {
		t.Errorf("result header = %+v", res)
	}
	if res.Frame != (raster.Frame{Width: 200, Height: 200}) {
		t.Errorf("frame = %v", res.Frame)
	}
}

func TestRunROIReportsGlobalPixels(t *testing.T) {
	s := sartest.New(200, 200, raster.Pixel{X: 60, Y: 60}, raster.Pixel{X: 140, Y: 140})
	roi := raster.Frame{OffsetX: 100, OffsetY: 100, Width: 100, Height: 100}
	res, err := runner(t).Run(context.Background(), s, 0, Options{ROI: &roi})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Detections) != 1 {
		t.Fatalf("detections = %d, want 1", len(res.Detections))
	}
	if !near(res.Detections[0].Pixel, raster.Pixel{X: 140, Y: 140}) {
		t.Errorf("pixel = %v, want global (140, 140)", res.Detections[0].Pixel)
	}
	if res.Frame != roi {
		t.Errorf("frame = %v", res.Frame)
	}
	if math.Abs(res.Detections[0].Lat-0.14) > 0.0011 {
		t.Errorf("lat = %v", res.Detections[0].Lat)
	}
}

func TestRunLandFilter(t *testing.T) {
	s := sartest.New(200, 200, raster.Pixel{X: 60, Y: 60}, raster.Pixel{X: 140, Y: 140})
	r := runner(t).WithCoastline(landmask.NewIndex(square(0.13, 0.13, 0.15, 0.15)))

	res, err := r.Run(context.Background(), s, 0, Options{Land: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Raw != 2 || len(res.Detections) != 1 {
		t.Fatalf("raw %d kept %d, want 2 and 1", res.Raw, len(res.Detections))
	}
	if !near(res.Detections[0].Pixel, raster.Pixel{X: 60, Y: 60}) {
		t.Errorf("kept %v", res.Detections[0].Pixel)
	}
	if !res.Land {
		t.Error("result not marked land filtered")
	}
}

func TestRunErrors(t *testing.T) {
	s := sartest.New(100, 100)
	r := runner(t)

	if _, err := r.Run(context.Background(), s, 0, Options{Land: true}); !errors.Is(err, ErrNoCoastline) {
		t.Errorf("land without coastline: %v", err)
	}
	if _, err := r.Run(context.Background(), s, 3, Options{}); !errors.Is(err, sar.ErrChannelOutOfRange) {
		t.Errorf("bad channel: %v", err)
	}
	roi := raster.Frame{OffsetX: 90, OffsetY: 0, Width: 20, Height: 20}
	if _, err := r.Run(context.Background(), s, 0, Options{ROI: &roi}); !errors.Is(err, sar.ErrOutOfBounds) {
		t.Errorf("bad roi: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.Run(ctx, s, 0, Options{}); err == nil {
		t.Error("canceled context ignored")
	}
}

func TestRunRecordsMetrics(t *testing.T) {
	m, err := observability.NewCollector(prometheus.NewRegistry())
	if err != nil {
		t.Fatal(err)
	}
	s := sartest.New(200, 200, raster.Pixel{X: 100, Y: 100})
	r := runner(t).WithMetrics(m)
	if _, err := r.Run(context.Background(), s, 0, Options{}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := r.Run(context.Background(), s, 9, Options{}); err == nil {
		t.Fatal("expected channel error")
	}
	if got := testutil.ToFloat64(m.PipelineRuns.WithLabelValues("Synthetic", "ok")); got != 1 {
		t.Errorf("ok runs = %v", got)
	}
	if got := testutil.ToFloat64(m.PipelineRuns.WithLabelValues("Synthetic", "error")); got != 1 {
		t.Errorf("failed runs = %v", got)
	}
	if got := testutil.ToFloat64(m.Detections.WithLabelValues("kept")); got != 1 {
		t.Errorf("kept = %v", got)
	}
}

func TestFillBelowLeavesImageUntouched(t *testing.T) {
	s := sartest.New(100, 100)
	img, err := s.Image(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	before := img.Raster().(*raster.Real).At(5, 5)
	out, err := intensityOf(img, 1000)
	if err != nil {
		t.Fatal(err)
	}
	if img.Raster().(*raster.Real).At(5, 5) != before {
		t.Error("fill modified the decoded raster")
	}
	// Nothing exceeds the threshold so nothing is replaced.
	if out.At(5, 5) != before {
		t.Errorf("filled value = %v, want %v", out.At(5, 5), before)
	}
}

func TestRunChannels(t *testing.T) {
	s := sartest.New(200, 200, raster.Pixel{X: 100, Y: 100})
	s.Channels = []string{"a.hh", "a.hv", "a.vv"}
	res, err := runner(t).RunChannels(context.Background(), s, []int{2, 0}, Options{}, 2)
	if err != nil {
		t.Fatalf("RunChannels: %v", err)
	}
	if len(res) != 2 || res[0].Channel != "a.vv" || res[1].Channel != "a.hh" {
		t.Fatalf("results out of order: %v, %v", res[0].Channel, res[1].Channel)
	}
	if _, err := runner(t).RunChannels(context.Background(), s, []int{0, 7}, Options{}, 2); err == nil {
		t.Error("expected error for bad channel")
	}
}

func TestExport(t *testing.T) {
	s := sartest.New(200, 200, raster.Pixel{X: 60, Y: 60}, raster.Pixel{X: 140, Y: 140})
	res, err := runner(t).Run(context.Background(), s, 0, Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	fc := res.FeatureCollection()
	if len(fc.Features) != 2 {
		t.Fatalf("features = %d", len(fc.Features))
	}
	f := fc.Features[0]
	if f.ID != res.Detections[0].ID || f.Properties["channel"] != "test.vv" {
		t.Errorf("feature = %+v", f)
	}
	data, err := json.Marshal(fc)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(data, []byte(`"land_filtered":false`)) {
		t.Errorf("missing run members: %s", data)
	}

	var buf bytes.Buffer
	if err := res.WriteFlatGeobuf(&buf); err != nil {
		t.Fatalf("WriteFlatGeobuf: %v", err)
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte("fgb")) {
		t.Error("output is not flatgeobuf")
	}
}
