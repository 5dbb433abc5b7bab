// Package observability holds the Prometheus metrics and OpenTelemetry
// tracing setup shared by the server and the CLI.
package observability

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pipeline stages timed by StageDurations.
const (
	StageDecode  = "decode"
	StageCrop    = "crop"
	StageDetect  = "detect"
	StageLand    = "land"
	StageLocate  = "geolocate"
	StageCatalog = "catalog"
)

// Collector bundles the service metrics. A nil *Collector records nothing.
type Collector struct {
	gatherer prometheus.Gatherer

	ProductsOpened *prometheus.CounterVec
	PipelineRuns   *prometheus.CounterVec
	Detections     *prometheus.CounterVec
	StageDurations *prometheus.HistogramVec
	CatalogSize    prometheus.Gauge

	HTTPRequests  *prometheus.CounterVec
	HTTPDurations *prometheus.HistogramVec
}

// NewCollector registers the metrics against reg, defaulting to the global
// Prometheus registry when nil. Metrics already registered are reused.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	opened, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sarwatch_products_opened_total",
		Help: "Products opened, labeled by sensor and result.",
	}, []string{"sensor", "result"}), "sarwatch_products_opened_total")
	if err != nil {
		return nil, err
	}
	runs, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sarwatch_pipeline_runs_total",
		Help: "Detection pipeline runs, labeled by sensor and result.",
	}, []string{"sensor", "result"}), "sarwatch_pipeline_runs_total")
	if err != nil {
		return nil, err
	}
	detections, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sarwatch_detections_total",
		Help: "Detections produced, labeled by stage (raw before the land filter, kept after).",
	}, []string{"stage"}), "sarwatch_detections_total")
	if err != nil {
		return nil, err
	}
	stages, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sarwatch_stage_duration_seconds",
		Help:    "Pipeline stage latency in seconds.",
		Buckets: []float64{0.001, 0.005, 0.025, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"stage"}), "sarwatch_stage_duration_seconds")
	if err != nil {
		return nil, err
	}
	catalog, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sarwatch_catalog_products",
		Help: "Products currently listed in the catalog.",
	}), "sarwatch_catalog_products")
	if err != nil {
		return nil, err
	}
	requests, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sarwatch_http_requests_total",
		Help: "HTTP requests, labeled by method, route pattern and status code.",
	}, []string{"method", "route", "code"}), "sarwatch_http_requests_total")
	if err != nil {
		return nil, err
	}
	durations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sarwatch_http_request_duration_seconds",
		Help:    "HTTP request latency in seconds.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"method", "route"}), "sarwatch_http_request_duration_seconds")
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:       gatherer,
		ProductsOpened: opened,
		PipelineRuns:   runs,
		Detections:     detections,
		StageDurations: stages,
		CatalogSize:    catalog,
		HTTPRequests:   requests,
		HTTPDurations:  durations,
	}, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ObserveStage records the time since start for stage.
func (c *Collector) ObserveStage(stage string, start time.Time) {
	if c == nil {
		return
	}
	c.StageDurations.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// ProductOpened counts a product open attempt.
func (c *Collector) ProductOpened(sensor string, err error) {
	if c == nil {
		return
	}
	c.ProductsOpened.WithLabelValues(sensor, result(err)).Inc()
}

// PipelineRun counts a finished pipeline run and its detections.
func (c *Collector) PipelineRun(sensor string, raw, kept int, err error) {
	if c == nil {
		return
	}
	c.PipelineRuns.WithLabelValues(sensor, result(err)).Inc()
	if err != nil {
		return
	}
	c.Detections.WithLabelValues("raw").Add(float64(raw))
	c.Detections.WithLabelValues("kept").Add(float64(kept))
}

// SetCatalogSize sets the catalog gauge.
func (c *Collector) SetCatalogSize(n int) {
	if c == nil {
		return
	}
	c.CatalogSize.Set(float64(n))
}

// Middleware records request counts and durations by chi route pattern.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c == nil {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		c.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		c.HTTPDurations.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
