package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/rkm/sarwatch/internal/catalog"
	"github.com/rkm/sarwatch/internal/cfar"
	"github.com/rkm/sarwatch/internal/config"
	"github.com/rkm/sarwatch/internal/landmask"
	"github.com/rkm/sarwatch/internal/observability"
	"github.com/rkm/sarwatch/internal/pipeline"
	"github.com/rkm/sarwatch/internal/raster"
	"github.com/rkm/sarwatch/internal/sar"
	"github.com/rkm/sarwatch/internal/sar/sartest"
	"github.com/rkm/sarwatch/internal/stac"
)

const (
	productID = "S1A_IW_GRDH_1SDV_TEST"
	archiveID = "S1A_IW_GRDH_1SDV_ARCH"
)

// testEnv is a router over a catalog with one synthetic product and one
// archive. The product has targets at pixels (60, 60) and (140, 140).
type testEnv struct {
	router  http.Handler
	metrics *observability.Collector
}

func createTestConfig() *config.Config {
	return &config.Config{
		STAC: config.STACConfig{
			Version:     "1.0.0",
			BaseURL:     "http://test.example.com",
			Title:       "sarwatch test",
			Description: "test",
		},
		Worker: config.WorkerConfig{Runs: 1},
	}
}

func newTestEnv(t *testing.T, coastline bool) *testEnv {
	t.Helper()
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, productID+".SAFE"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, archiveID+".zip"), nil, 0o644); err != nil {
		t.Fatal(err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics, err := observability.NewCollector(prometheus.NewRegistry())
	if err != nil {
		t.Fatal(err)
	}

	cat := catalog.New(dir).
		WithLogger(logger).
		WithOpener(func(path string, kind catalog.Kind) (sar.Sensor, error) {
			return sartest.New(200, 200, raster.Pixel{X: 60, Y: 60}, raster.Pixel{X: 140, Y: 140}), nil
		})
	if err := cat.Scan(context.Background()); err != nil {
		t.Fatalf("Scan: %v", err)
	}

	detector, err := cfar.New(cfar.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	runner := pipeline.NewRunner(detector, landmask.NewFilter(5, 2)).WithLogger(logger).WithMetrics(metrics)
	if coastline {
		land := orb.Polygon{orb.Ring{{0.13, 0.13}, {0.15, 0.13}, {0.15, 0.15}, {0.13, 0.15}, {0.13, 0.13}}}
		runner.WithCoastline(landmask.NewIndex(land))
	}

	store := stac.NewMemoryResultStore[*pipeline.Result](time.Minute, time.Minute)
	t.Cleanup(store.Stop)

	h := NewHandlers(createTestConfig(), cat, runner, logger).WithResultStore(store)
	return &testEnv{router: NewRouter(h, metrics, logger), metrics: metrics}
}

func (e *testEnv) get(t *testing.T, target string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) STACError {
	t.Helper()
	var e STACError
	if err := json.Unmarshal(w.Body.Bytes(), &e); err != nil {
		t.Fatalf("error body %q: %v", w.Body.String(), err)
	}
	return e
}

func decodeFeatures(t *testing.T, w *httptest.ResponseRecorder) *geojson.FeatureCollection {
	t.Helper()
	fc, err := geojson.UnmarshalFeatureCollection(w.Body.Bytes())
	if err != nil {
		t.Fatalf("feature collection %q: %v", w.Body.String(), err)
	}
	return fc
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, false)
	w := env.get(t, "/health")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" || body["products"] != float64(2) || body["coastline"] != false {
		t.Errorf("health = %v", body)
	}
	if w.Header().Get(RequestIDHeader) == "" {
		t.Error("missing request id header")
	}
}

func TestLandingPage(t *testing.T) {
	env := newTestEnv(t, false)
	w := env.get(t, "/")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var landing stac.LandingPage
	if err := json.Unmarshal(w.Body.Bytes(), &landing); err != nil {
		t.Fatal(err)
	}
	if landing.Type != "Catalog" || landing.StacVersion != "1.0.0" {
		t.Errorf("landing = %+v", landing)
	}
	var found bool
	for _, l := range landing.Links {
		if l.Rel == "items" && l.Href == "http://test.example.com/products" {
			found = true
		}
	}
	if !found {
		t.Errorf("no items link in %v", landing.Links)
	}
}

func TestConformanceAndQueryables(t *testing.T) {
	env := newTestEnv(t, false)
	if w := env.get(t, "/conformance"); w.Code != http.StatusOK || !strings.Contains(w.Body.String(), stac.ConformanceCore) {
		t.Errorf("conformance = %d %s", w.Code, w.Body.String())
	}
	w := env.get(t, "/queryables")
	if w.Code != http.StatusOK {
		t.Fatalf("queryables status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"Synthetic"`) || !strings.Contains(w.Body.String(), `"Sentinel-1"`) {
		t.Errorf("sensor enum missing: %s", w.Body.String())
	}
}

func TestProducts(t *testing.T) {
	env := newTestEnv(t, false)

	tests := []struct {
		name     string
		target   string
		returned int
		matched  int
		next     bool
	}{
		{"all", "/products", 2, 2, false},
		{"paged", "/products?limit=1", 1, 2, true},
		{"last page", "/products?limit=1&page=2", 1, 2, false},
		{"by sensor", "/products?sensor=synthetic", 1, 1, false},
		{"disjoint bbox", "/products?bbox=10,10,11,11", 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.get(t, tt.target)
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d: %s", w.Code, w.Body.String())
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/geo+json" {
				t.Errorf("content type = %s", ct)
			}
			var body struct {
				Features      []json.RawMessage `json:"features"`
				NumberMatched int               `json:"numberMatched"`
				Links         []*stac.Link      `json:"links"`
			}
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatal(err)
			}
			if len(body.Features) != tt.returned || body.NumberMatched != tt.matched {
				t.Errorf("returned %d of %d, want %d of %d", len(body.Features), body.NumberMatched, tt.returned, tt.matched)
			}
			var next bool
			for _, l := range body.Links {
				if l.Rel == "next" {
					next = true
					if !strings.Contains(l.Href, "page=2") {
						t.Errorf("next href = %s", l.Href)
					}
				}
			}
			if next != tt.next {
				t.Errorf("next link = %v, want %v", next, tt.next)
			}
		})
	}
}

func TestProductsInvalidQuery(t *testing.T) {
	env := newTestEnv(t, false)
	for _, target := range []string{"/products?bbox=1,2,3", "/products?limit=0", "/products?datetime=yesterday"} {
		w := env.get(t, target)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d", target, w.Code)
			continue
		}
		if e := decodeError(t, w); e.Code != ErrCodeInvalidParameter {
			t.Errorf("%s: code = %s", target, e.Code)
		}
	}
}

func TestProduct(t *testing.T) {
	env := newTestEnv(t, false)
	w := env.get(t, "/products/"+productID)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var item stac.Item
	if err := json.Unmarshal(w.Body.Bytes(), &item); err != nil {
		t.Fatal(err)
	}
	if item.Id != productID {
		t.Errorf("id = %s", item.Id)
	}
	if _, ok := item.Assets["detections-0"]; !ok {
		t.Errorf("assets = %v", item.Assets)
	}

	w = env.get(t, "/products/missing")
	if w.Code != http.StatusNotFound || decodeError(t, w).Code != ErrCodeNotFound {
		t.Errorf("missing product: %d %s", w.Code, w.Body.String())
	}
}

func TestDetections(t *testing.T) {
	env := newTestEnv(t, false)
	target := "/products/" + productID + "/detections"

	w := env.get(t, target)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if w.Header().Get("X-Cache") != "miss" || w.Header().Get("X-Run-ID") == "" {
		t.Errorf("headers = %v", w.Header())
	}
	fc := decodeFeatures(t, w)
	if len(fc.Features) != 2 {
		t.Fatalf("features = %d, want 2", len(fc.Features))
	}
	if fc.Features[0].Properties["channel"] != "test.vv" {
		t.Errorf("properties = %v", fc.Features[0].Properties)
	}

	again := env.get(t, target)
	if again.Header().Get("X-Cache") != "hit" || again.Header().Get("X-Run-ID") != w.Header().Get("X-Run-ID") {
		t.Errorf("second request not served from cache: %v", again.Header())
	}
	if got := testutil.ToFloat64(env.metrics.PipelineRuns.WithLabelValues("Synthetic", "ok")); got != 1 {
		t.Errorf("pipeline runs = %v, want 1", got)
	}

	w = env.get(t, target+"?x=100&y=100&width=100&height=100")
	if w.Code != http.StatusOK {
		t.Fatalf("roi status = %d: %s", w.Code, w.Body.String())
	}
	fc = decodeFeatures(t, w)
	if len(fc.Features) != 1 {
		t.Fatalf("roi features = %d, want 1", len(fc.Features))
	}
	if x := fc.Features[0].Properties["x"].(float64); x < 139 || x > 141 {
		t.Errorf("roi detection x = %v, want global 140", x)
	}
}

func TestDetectionsFormats(t *testing.T) {
	env := newTestEnv(t, false)
	target := "/products/" + productID + "/detections"

	w := env.get(t, target+"?format=json")
	if w.Code != http.StatusOK {
		t.Fatalf("json status = %d", w.Code)
	}
	var res pipeline.Result
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if res.Raw != 2 || len(res.Detections) != 2 || res.Sensor != "Synthetic" {
		t.Errorf("result = %+v", res)
	}

	w = env.get(t, target+"?format=fgb")
	if w.Code != http.StatusOK {
		t.Fatalf("fgb status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != stac.MediaTypeFGB {
		t.Errorf("content type = %s", ct)
	}
	if !bytes.HasPrefix(w.Body.Bytes(), []byte("fgb")) {
		t.Errorf("body is not flatgeobuf: % x", w.Body.Bytes()[:min(8, w.Body.Len())])
	}

	w = env.get(t, target+"?format=fgb&x=0&y=0&width=20&height=20")
	if w.Code != http.StatusNoContent {
		t.Errorf("empty fgb status = %d", w.Code)
	}
}

func TestDetectionsLandFilter(t *testing.T) {
	env := newTestEnv(t, true)
	target := "/products/" + productID + "/detections"

	fc := decodeFeatures(t, env.get(t, target))
	if len(fc.Features) != 1 {
		t.Fatalf("land-filtered features = %d, want 1", len(fc.Features))
	}
	if fc.ExtraMembers["land_filtered"] != true {
		t.Errorf("extra members = %v", fc.ExtraMembers)
	}

	fc = decodeFeatures(t, env.get(t, target+"?land=false"))
	if len(fc.Features) != 2 {
		t.Errorf("unfiltered features = %d, want 2", len(fc.Features))
	}
}

func TestDetectionsErrors(t *testing.T) {
	env := newTestEnv(t, false)
	base := "/products/" + productID + "/detections"

	tests := []struct {
		name   string
		target string
		status int
		code   string
	}{
		{"unknown product", "/products/missing/detections", http.StatusNotFound, ErrCodeNotFound},
		{"archive", "/products/" + archiveID + "/detections", http.StatusConflict, ErrCodeUnsupported},
		{"bad channel", base + "?channel=x", http.StatusBadRequest, ErrCodeInvalidParameter},
		{"channel out of range", base + "?channel=3", http.StatusBadRequest, ErrCodeInvalidParameter},
		{"partial roi", base + "?x=1&y=1", http.StatusBadRequest, ErrCodeInvalidParameter},
		{"roi outside", base + "?x=150&y=0&width=100&height=10", http.StatusBadRequest, ErrCodeInvalidParameter},
		{"roi offset overflows", base + "?x=9223372036854775807&y=0&width=1&height=1", http.StatusBadRequest, ErrCodeInvalidParameter},
		{"no coastline", base + "?land=true", http.StatusBadRequest, ErrCodeInvalidParameter},
		{"bad land", base + "?land=maybe", http.StatusBadRequest, ErrCodeInvalidParameter},
		{"bad format", base + "?format=kml", http.StatusBadRequest, ErrCodeInvalidParameter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.get(t, tt.target)
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.status, w.Body.String())
			}
			if e := decodeError(t, w); e.Code != tt.code {
				t.Errorf("code = %s, want %s", e.Code, tt.code)
			}
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, false)
	env.get(t, "/products/"+productID)

	w := env.get(t, "/metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{
		"sarwatch_http_requests_total",
		`route="/products/{productId}"`,
		"sarwatch_catalog_products",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %s", want)
		}
	}
}

func TestNotFoundRoute(t *testing.T) {
	env := newTestEnv(t, false)
	w := env.get(t, "/collections")
	if w.Code != http.StatusNotFound || decodeError(t, w).Code != ErrCodeNotFound {
		t.Errorf("unknown route: %d %s", w.Code, w.Body.String())
	}
}
