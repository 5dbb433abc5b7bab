package observability

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}

	c.ProductOpened("Sentinel-1", nil)
	c.ProductOpened("Sentinel-1", errors.New("boom"))
	c.PipelineRun("TerraSAR-X", 5, 2, nil)
	c.PipelineRun("TerraSAR-X", 9, 9, errors.New("boom"))
	c.SetCatalogSize(3)
	c.ObserveStage(StageDetect, time.Now().Add(-time.Second))

	if got := testutil.ToFloat64(c.ProductsOpened.WithLabelValues("Sentinel-1", "ok")); got != 1 {
		t.Errorf("opened ok = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.ProductsOpened.WithLabelValues("Sentinel-1", "error")); got != 1 {
		t.Errorf("opened error = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.Detections.WithLabelValues("raw")); got != 5 {
		t.Errorf("raw detections = %v, want 5", got)
	}
	if got := testutil.ToFloat64(c.Detections.WithLabelValues("kept")); got != 2 {
		t.Errorf("kept detections = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.PipelineRuns.WithLabelValues("TerraSAR-X", "error")); got != 1 {
		t.Errorf("failed runs = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.CatalogSize); got != 3 {
		t.Errorf("catalog size = %v, want 3", got)
	}
	if n := testutil.CollectAndCount(c.StageDurations); n != 1 {
		t.Errorf("stage series = %d, want 1", n)
	}
}

func TestCollectorReusesRegistered(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	b, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	a.SetCatalogSize(7)
	if got := testutil.ToFloat64(b.CatalogSize); got != 7 {
		t.Errorf("second collector sees %v, want 7", got)
	}
}

func TestNilCollector(t *testing.T) {
	var c *Collector
	c.ProductOpened("x", nil)
	c.PipelineRun("x", 1, 1, nil)
	c.SetCatalogSize(1)
	c.ObserveStage(StageLand, time.Now())

	h := c.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestMiddlewareAndHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}
	r := chi.NewRouter()
	r.Use(c.Middleware)
	r.Get("/products/{productId}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Handle("/metrics", c.Handler())

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/products/abc", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	got := testutil.ToFloat64(c.HTTPRequests.WithLabelValues(http.MethodGet, "/products/{productId}", "404"))
	if got != 1 {
		t.Errorf("requests = %v, want 1", got)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "sarwatch_http_requests_total") {
		t.Error("metrics output missing request counter")
	}
}

func TestInitTracingDisabled(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), TracingConfig{}, nil)
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

func TestInitTracingStdout(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := InitTracing(context.Background(), TracingConfig{
		Enabled:     true,
		ServiceName: "sarwatch-test",
		Exporter:    "stdout",
		SampleRatio: 1,
		Writer:      &buf,
	}, nil)
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	_, span := Tracer().Start(context.Background(), "unit")
	span.End()
	ShutdownWithTimeout(context.Background(), shutdown, nil)
	if !strings.Contains(buf.String(), `"Name": "unit"`) {
		t.Errorf("exported spans missing: %s", buf.String())
	}
	// Restore a noop provider for other tests.
	if _, err := InitTracing(context.Background(), TracingConfig{}, nil); err != nil {
		t.Fatal(err)
	}
}

func TestInitTracingUnknownExporter(t *testing.T) {
	_, err := InitTracing(context.Background(), TracingConfig{Enabled: true, Exporter: "zipkin"}, nil)
	if err == nil {
		t.Fatal("expected error for unknown exporter")
	}
}
