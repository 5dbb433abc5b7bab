package stac

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
)

// Query limits.
const (
	DefaultLimit = 10
	MaxLimit     = 250
)

// ProductQuery filters the product listing.
type ProductQuery struct {
	// BBox is [west, south, east, north]; nil matches everything.
	BBox []float64
	// DateTime is the raw interval; Start and End are its parsed bounds.
	DateTime string
	Start    *time.Time
	End      *time.Time
	// Sensor matches the platform name case-insensitively.
	Sensor string
	Limit  int
	Page   int
}

// ParseProductQuery reads a product query from GET parameters.
func ParseProductQuery(r *http.Request) (*ProductQuery, error) {
	query := r.URL.Query()
	q := &ProductQuery{Limit: DefaultLimit, Page: 1}

	if bboxStr := query.Get("bbox"); bboxStr != "" {
		parts := strings.Split(bboxStr, ",")
		bbox := make([]float64, len(parts))
		for i, part := range parts {
			val, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
			if err != nil {
				return nil, fmt.Errorf("invalid bbox coordinate at position %d: %w", i, err)
			}
			bbox[i] = val
		}
		if err := ValidateBBox(bbox); err != nil {
			return nil, fmt.Errorf("invalid bbox: %w", err)
		}
		q.BBox = bbox
	}

	if dt := query.Get("datetime"); dt != "" {
		start, end, err := ParseDatetime(dt)
		if err != nil {
			return nil, fmt.Errorf("invalid datetime: %w", err)
		}
		q.DateTime, q.Start, q.End = dt, start, end
	}

	q.Sensor = strings.TrimSpace(query.Get("sensor"))

	if limitStr := query.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return nil, fmt.Errorf("invalid limit parameter: %w", err)
		}
		if limit < 1 || limit > MaxLimit {
			return nil, fmt.Errorf("limit must be between 1 and %d, got %d", MaxLimit, limit)
		}
		q.Limit = limit
	}

	if pageStr := query.Get("page"); pageStr != "" {
		page, err := strconv.Atoi(pageStr)
		if err != nil {
			return nil, fmt.Errorf("invalid page parameter: %w", err)
		}
		if page < 1 {
			return nil, fmt.Errorf("page must be at least 1, got %d", page)
		}
		q.Page = page
	}

	return q, nil
}

// Matches reports whether a product with the given footprint bound, sensor
// and acquisition window passes the filters.
func (q *ProductQuery) Matches(b orb.Bound, sensor string, start, stop time.Time) bool {
	if q.Sensor != "" && !strings.EqualFold(q.Sensor, sensor) {
		return false
	}
	if len(q.BBox) == 4 {
		qb := orb.Bound{Min: orb.Point{q.BBox[0], q.BBox[1]}, Max: orb.Point{q.BBox[2], q.BBox[3]}}
		if !qb.Intersects(b) {
			return false
		}
	}
	if q.Start != nil && stop.Before(*q.Start) {
		return false
	}
	if q.End != nil && start.After(*q.End) {
		return false
	}
	return true
}

// Offset is the index of the first item on the requested page.
func (q *ProductQuery) Offset() int {
	return (q.Page - 1) * q.Limit
}

// ValidateBBox validates a 2D bounding box [west, south, east, north].
func ValidateBBox(bbox []float64) error {
	if len(bbox) != 4 {
		return fmt.Errorf("bbox must have 4 coordinates, got %d", len(bbox))
	}
	west, south, east, north := bbox[0], bbox[1], bbox[2], bbox[3]

	if west < -180 || west > 180 {
		return fmt.Errorf("west longitude must be between -180 and 180, got %f", west)
	}
	if east < -180 || east > 180 {
		return fmt.Errorf("east longitude must be between -180 and 180, got %f", east)
	}
	if south < -90 || south > 90 {
		return fmt.Errorf("south latitude must be between -90 and 90, got %f", south)
	}
	if north < -90 || north > 90 {
		return fmt.Errorf("north latitude must be between -90 and 90, got %f", north)
	}
	if west > east {
		return fmt.Errorf("west longitude (%f) must be less than or equal to east longitude (%f)", west, east)
	}
	if south > north {
		return fmt.Errorf("south latitude (%f) must be less than or equal to north latitude (%f)", south, north)
	}
	return nil
}

// ParseDatetime parses an RFC 3339 instant or interval. Supported forms:
//   - "2023-01-01T00:00:00Z" (instant, start == end)
//   - "2023-01-01T00:00:00Z/2023-12-31T23:59:59Z" (closed interval)
//   - "2023-01-01T00:00:00Z/.." (start time only)
//   - "../2023-12-31T23:59:59Z" (end time only)
//   - ".." or "../.." (open interval, both nil)
func ParseDatetime(dt string) (start, end *time.Time, err error) {
	if dt == "" {
		return nil, nil, fmt.Errorf("datetime cannot be empty")
	}
	if dt == ".." || dt == "../.." {
		return nil, nil, nil
	}

	if !strings.Contains(dt, "/") {
		t, err := time.Parse(time.RFC3339, dt)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid datetime format, expected RFC 3339: %w", err)
		}
		return &t, &t, nil
	}

	parts := strings.Split(dt, "/")
	if len(parts) != 2 {
		return nil, nil, fmt.Errorf("invalid datetime interval format, expected 'start/end', got: %s", dt)
	}
	startStr := strings.TrimSpace(parts[0])
	endStr := strings.TrimSpace(parts[1])

	if startStr != "" && startStr != ".." {
		t, err := time.Parse(time.RFC3339, startStr)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid start datetime: %w", err)
		}
		start = &t
	}
	if endStr != "" && endStr != ".." {
		t, err := time.Parse(time.RFC3339, endStr)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid end datetime: %w", err)
		}
		end = &t
	}

	if start != nil && end != nil && start.After(*end) {
		return nil, nil, fmt.Errorf("start datetime (%s) must be before or equal to end datetime (%s)", start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	return start, end, nil
}
