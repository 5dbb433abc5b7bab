package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/semaphore"

	"github.com/rkm/sarwatch/internal/catalog"
	"github.com/rkm/sarwatch/internal/config"
	"github.com/rkm/sarwatch/internal/pipeline"
	"github.com/rkm/sarwatch/internal/raster"
	"github.com/rkm/sarwatch/internal/stac"
)

// Handlers contains all HTTP handlers for the API.
type Handlers struct {
	cfg     *config.Config
	catalog *catalog.Catalog
	runner  *pipeline.Runner
	results stac.ResultStore[*pipeline.Result]
	runs    *semaphore.Weighted
	logger  *slog.Logger
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(cfg *config.Config, cat *catalog.Catalog, runner *pipeline.Runner, logger *slog.Logger) *Handlers {
	runs := cfg.Worker.Runs
	if runs < 1 {
		runs = 1
	}
	return &Handlers{
		cfg:     cfg,
		catalog: cat,
		runner:  runner,
		runs:    semaphore.NewWeighted(int64(runs)),
		logger:  logger,
	}
}

// WithResultStore caches detection results between identical requests.
func (h *Handlers) WithResultStore(store stac.ResultStore[*pipeline.Result]) *Handlers {
	h.results = store
	return h
}

func (h *Handlers) baseURL() string {
	return strings.TrimRight(h.cfg.STAC.BaseURL, "/")
}

// LandingPage returns the STAC API landing page (root catalog).
// GET /
func (h *Handlers) LandingPage(w http.ResponseWriter, r *http.Request) {
	baseURL := h.baseURL()

	landing := stac.NewLandingPage(
		"sarwatch",
		h.cfg.STAC.Title,
		h.cfg.STAC.Description,
		h.cfg.STAC.Version,
		stac.DefaultConformance(),
	)

	landing.AddLink("self", baseURL+"/", stac.MediaTypeJSON)
	landing.AddLink("root", baseURL+"/", stac.MediaTypeJSON)
	landing.AddLink("conformance", baseURL+"/conformance", stac.MediaTypeJSON)
	landing.AddLink("items", baseURL+"/products", stac.MediaTypeGeoJSON)
	landing.AddLink("http://www.opengis.net/def/rel/ogc/1.0/queryables", baseURL+"/queryables", "application/schema+json")
	landing.AddLink("metrics", baseURL+"/metrics", "text/plain")

	WriteJSON(w, http.StatusOK, landing)
}

// Conformance returns the conformance classes supported by this API.
// GET /conformance
func (h *Handlers) Conformance(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, &stac.Conformance{ConformsTo: stac.DefaultConformance()})
}

// Queryables describes the product listing filters.
// GET /queryables
func (h *Handlers) Queryables(w http.ResponseWriter, r *http.Request) {
	var sensors []string
	products, _ := h.catalog.List(nil, 0, h.catalog.Len())
	seen := make(map[string]bool)
	for _, p := range products {
		if !seen[p.Sensor] {
			seen[p.Sensor] = true
			sensors = append(sensors, p.Sensor)
		}
	}

	sensor := map[string]any{
		"description": "Sensor name, case-insensitive",
		"type":        "string",
	}
	if len(sensors) > 0 {
		sensor["enum"] = sensors
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"$schema": "https://json-schema.org/draft/2019-09/schema",
		"$id":     h.baseURL() + "/queryables",
		"type":    "object",
		"title":   "Queryables for " + h.cfg.STAC.Title,
		"properties": map[string]any{
			"bbox": map[string]any{
				"description": "Bounding box [west, south, east, north]",
				"type":        "array",
				"minItems":    4,
				"maxItems":    4,
				"items":       map[string]any{"type": "number"},
			},
			"datetime": map[string]any{
				"description": "Datetime or datetime range",
				"type":        "string",
				"format":      "date-time",
			},
			"sensor": sensor,
		},
		"additionalProperties": false,
	})
}

// Products lists catalog products as a paged ItemCollection.
// GET /products
func (h *Handlers) Products(w http.ResponseWriter, r *http.Request) {
	q, err := stac.ParseProductQuery(r)
	if err != nil {
		WriteInvalidParameter(w, fmt.Sprintf("invalid query parameters: %v", err))
		return
	}

	products, total := h.catalog.List(q, q.Offset(), q.Limit)
	items := make([]*stac.Item, 0, len(products))
	for _, p := range products {
		items = append(items, p.Item(h.baseURL(), h.cfg.STAC.Version))
	}

	collection := stac.NewItemCollection(items)
	collection.SetContext(len(items), q.Limit, &total)

	baseURL := h.baseURL()
	selfURL := baseURL + "/products"
	collection.AddLink("self", selfURL, stac.MediaTypeGeoJSON)
	collection.AddLink("root", baseURL+"/", stac.MediaTypeJSON)
	collection.Links = append(collection.Links, stac.BuildPaginationLinks(stac.PaginationInfo{
		BaseURL:       selfURL,
		CurrentPage:   q.Page,
		Limit:         q.Limit,
		TotalCount:    &total,
		ReturnedCount: len(items),
		QueryParams:   r.URL.Query(),
	})...)

	WriteGeoJSON(w, http.StatusOK, collection)
}

// Product returns one product as a STAC Item.
// GET /products/{productId}
func (h *Handlers) Product(w http.ResponseWriter, r *http.Request) {
	p, err := h.catalog.Get(chi.URLParam(r, "productId"))
	if err != nil {
		WriteRunError(w, r, err)
		return
	}
	WriteGeoJSON(w, http.StatusOK, p.Item(h.baseURL(), h.cfg.STAC.Version))
}

// Result formats.
const (
	FormatGeoJSON    = "geojson"
	FormatJSON       = "json"
	FormatFlatGeobuf = "fgb"
)

// detectionRequest is the parsed query of a detection run.
type detectionRequest struct {
	Channel int
	ROI     *raster.Frame
	Land    bool
	Format  string
}

// cacheKey identifies a run on a given product version. Format is left out
// since every format renders the same result.
func (d detectionRequest) cacheKey(p *catalog.Product) string {
	roi := "full"
	if d.ROI != nil {
		roi = d.ROI.String()
	}
	return fmt.Sprintf("%s@%s/%d/%s/land=%t", p.ID, p.Version(), d.Channel, roi, d.Land)
}

// parseDetectionRequest reads channel, x, y, width, height, land and format.
// The ROI fields must be given together. land defaults to whether a
// coastline is loaded.
func parseDetectionRequest(query url.Values, landDefault bool) (detectionRequest, error) {
	req := detectionRequest{Land: landDefault, Format: FormatGeoJSON}

	if s := query.Get("channel"); s != "" {
		ch, err := strconv.Atoi(s)
		if err != nil || ch < 0 {
			return req, fmt.Errorf("channel must be a non-negative integer, got %q", s)
		}
		req.Channel = ch
	}

	roiKeys := []string{"x", "y", "width", "height"}
	var given int
	for _, k := range roiKeys {
		if query.Has(k) {
			given++
		}
	}
	switch given {
	case 0:
	case len(roiKeys):
		frame, err := raster.ParseFrame(strings.Join([]string{
			query.Get("x"), query.Get("y"), query.Get("width"), query.Get("height"),
		}, ","))
		if err != nil {
			return req, err
		}
		if frame.OffsetX < 0 || frame.OffsetY < 0 {
			return req, fmt.Errorf("region offsets must not be negative")
		}
		req.ROI = &frame
	default:
		return req, fmt.Errorf("x, y, width and height must be given together")
	}

	if s := query.Get("land"); s != "" {
		land, err := strconv.ParseBool(s)
		if err != nil {
			return req, fmt.Errorf("land must be a boolean, got %q", s)
		}
		req.Land = land
	}

	if s := query.Get("format"); s != "" {
		switch s {
		case FormatGeoJSON, FormatJSON, FormatFlatGeobuf:
			req.Format = s
		default:
			return req, fmt.Errorf("format must be one of: geojson, json, fgb, got %q", s)
		}
	}

	return req, nil
}

// Detections runs the detection pipeline on one product channel.
// GET /products/{productId}/detections
func (h *Handlers) Detections(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, err := h.catalog.Get(chi.URLParam(r, "productId"))
	if err != nil {
		WriteRunError(w, r, err)
		return
	}

	req, err := parseDetectionRequest(r.URL.Query(), h.runner.HasCoastline())
	if err != nil {
		WriteInvalidParameter(w, err.Error())
		return
	}
	if req.Land && !h.runner.HasCoastline() {
		WriteInvalidParameter(w, "land filtering requested but no coastline is loaded")
		return
	}

	sensor, err := p.Open()
	if err != nil {
		WriteRunError(w, r, err)
		return
	}

	key := req.cacheKey(p)
	if h.results != nil {
		if res, err := h.results.Get(key); err == nil {
			w.Header().Set("X-Cache", "hit")
			h.writeResult(w, res, req.Format)
			return
		}
	}

	if err := h.runs.Acquire(ctx, 1); err != nil {
		WriteError(w, http.StatusServiceUnavailable, ErrCodeBusy, "request ended while waiting for a detection slot")
		return
	}
	defer h.runs.Release(1)

	res, err := h.runner.Run(ctx, sensor, req.Channel, pipeline.Options{
		ROI:       req.ROI,
		Land:      req.Land,
		FillBelow: h.cfg.Land.FillBelow,
	})
	if err != nil {
		status, _ := classifyError(err)
		level := slog.LevelWarn
		if status == http.StatusInternalServerError {
			level = slog.LevelError
		}
		h.logger.LogAttrs(ctx, level, "detection run failed",
			slog.String("request_id", GetRequestID(ctx)),
			slog.String("product_id", p.ID),
			slog.Int("channel", req.Channel),
			slog.String("error", err.Error()),
		)
		WriteRunError(w, r, err)
		return
	}

	if h.results != nil {
		h.results.Put(key, res)
	}
	w.Header().Set("X-Cache", "miss")
	h.writeResult(w, res, req.Format)
}

func (h *Handlers) writeResult(w http.ResponseWriter, res *pipeline.Result, format string) {
	w.Header().Set("X-Run-ID", res.RunID)
	switch format {
	case FormatJSON:
		WriteJSON(w, http.StatusOK, res)
	case FormatFlatGeobuf:
		// FlatGeobuf cannot encode an empty layer.
		if len(res.Detections) == 0 {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Header().Set("Content-Type", stac.MediaTypeFGB)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", res.RunID+".fgb"))
		w.WriteHeader(http.StatusOK)
		if err := res.WriteFlatGeobuf(w); err != nil {
			h.logger.Error("failed to write flatgeobuf response",
				slog.String("run_id", res.RunID),
				slog.String("error", err.Error()),
			)
		}
	default:
		WriteGeoJSON(w, http.StatusOK, res.FeatureCollection())
	}
}

// Health returns the health status of the service.
// GET /health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	response := map[string]any{
		"status":    "ok",
		"products":  h.catalog.Len(),
		"coastline": h.runner.HasCoastline(),
	}
	if scanned := h.catalog.Scanned(); !scanned.IsZero() {
		response["scanned"] = scanned.UTC().Format(time.RFC3339)
	}

	WriteJSON(w, http.StatusOK, response)
}
