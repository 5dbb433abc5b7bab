// Package catalog discovers SAR products under a data directory and keeps
// them open for detection requests.
package catalog

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"golang.org/x/sync/errgroup"

	"github.com/rkm/sarwatch/internal/observability"
	"github.com/rkm/sarwatch/internal/sar"
	"github.com/rkm/sarwatch/internal/sar/sentinel"
	"github.com/rkm/sarwatch/internal/sar/terrasar"
)

var (
	// ErrNotFound is returned for unknown product ids.
	ErrNotFound = errors.New("product not found")

	// ErrArchive is returned when a zipped product is asked for pixels.
	ErrArchive = fmt.Errorf("%w: zipped product must be extracted first", sar.ErrUnsupported)
)

// Kind is the layout of a product on disk.
type Kind int

const (
	KindUnknown Kind = iota
	KindSentinel
	KindTerraSAR
	KindArchive
)

func (k Kind) String() string {
	switch k {
	case KindSentinel:
		return "sentinel-safe"
	case KindTerraSAR:
		return "terrasar-level1b"
	case KindArchive:
		return "archive"
	default:
		return "unknown"
	}
}

// Classify tells which driver can open the entry at path.
func Classify(path string, info fs.FileInfo) Kind {
	name := info.Name()
	if info.IsDir() {
		if ok, _ := filepath.Match("S1?_*.SAFE", name); ok {
			return KindSentinel
		}
		if _, err := os.Stat(terrasar.MainFile(path)); err == nil {
			return KindTerraSAR
		}
		return KindUnknown
	}
	if ok, _ := filepath.Match("S1?_*.zip", name); ok {
		return KindArchive
	}
	return KindUnknown
}

// Open opens the product directory at path with the driver Classify picks.
func Open(path string) (sar.Sensor, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, sar.IOError(path, err)
	}
	return open(path, Classify(path, info))
}

func open(path string, kind Kind) (sar.Sensor, error) {
	switch kind {
	case KindSentinel:
		return sentinel.Open(path)
	case KindTerraSAR:
		return terrasar.Open(path)
	case KindArchive:
		return nil, ErrArchive
	default:
		return nil, fmt.Errorf("%w: %s", sar.ErrUnsupported, path)
	}
}

// Opener opens one classified product.
type Opener func(path string, kind Kind) (sar.Sensor, error)

// Channel summarizes one product channel.
type Channel struct {
	Index    int
	Name     string
	Metadata sar.Metadata
}

// Product is one catalog entry. Archives carry no channels.
type Product struct {
	ID        string
	Path      string
	Kind      Kind
	Sensor    string
	ImageType sar.ImageType
	Channels  []Channel
	Footprint orb.Geometry
	Bound     orb.Bound
	Start     time.Time
	Stop      time.Time

	modTime time.Time
	sensor  sar.Sensor
}

// Version changes whenever the product on disk does.
func (p *Product) Version() string {
	return strconv.FormatInt(p.modTime.UnixNano(), 36)
}

// Open returns the opened sensor.
func (p *Product) Open() (sar.Sensor, error) {
	if p.Kind == KindArchive || p.sensor == nil {
		return nil, ErrArchive
	}
	return p.sensor, nil
}

// Catalog is the set of products found by the last scan. It is safe for
// concurrent use.
type Catalog struct {
	dir     string
	opener  Opener
	workers int
	metrics *observability.Collector
	logger  *slog.Logger

	mu       sync.RWMutex
	products map[string]*Product
	order    []*Product
	scanned  time.Time
}

// New returns an empty catalog over dir. Call Scan to populate it.
func New(dir string) *Catalog {
	return &Catalog{
		dir:      dir,
		opener:   open,
		workers:  runtime.GOMAXPROCS(0),
		logger:   slog.Default(),
		products: make(map[string]*Product),
	}
}

// WithOpener replaces the product drivers.
func (c *Catalog) WithOpener(o Opener) *Catalog {
	c.opener = o
	return c
}

// WithWorkers bounds concurrent product opens.
func (c *Catalog) WithWorkers(n int) *Catalog {
	if n > 0 {
		c.workers = n
	}
	return c
}

// WithMetrics sets the metrics collector.
func (c *Catalog) WithMetrics(m *observability.Collector) *Catalog {
	c.metrics = m
	return c
}

// WithLogger sets the logger.
func (c *Catalog) WithLogger(logger *slog.Logger) *Catalog {
	c.logger = logger
	return c
}

// Dir returns the scanned directory.
func (c *Catalog) Dir() string { return c.dir }

// Scan lists the data directory and opens new or changed products. Products
// that fail to open are logged and left out; only an unreadable directory is
// an error.
func (c *Catalog) Scan(ctx context.Context) error {
	start := time.Now()
	defer c.metrics.ObserveStage(observability.StageCatalog, start)

	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return sar.IOError(c.dir, err)
	}

	c.mu.RLock()
	previous := c.products
	c.mu.RUnlock()

	found := make([]*Product, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for i, e := range entries {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			path := filepath.Join(c.dir, e.Name())
			info, err := e.Info()
			if err != nil {
				c.logger.Warn("skipping unreadable entry", slog.String("path", path), slog.String("error", err.Error()))
				return nil
			}
			kind := Classify(path, info)
			if kind == KindUnknown {
				return nil
			}
			id := productID(e.Name())
			if old, ok := previous[id]; ok && old.Path == path && old.modTime.Equal(info.ModTime()) {
				found[i] = old
				return nil
			}
			p, err := c.load(gctx, id, path, kind, info.ModTime())
			if err != nil {
				c.logger.Warn("skipping product", slog.String("path", path), slog.String("error", err.Error()))
				return nil
			}
			found[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	products := make(map[string]*Product, len(found))
	order := make([]*Product, 0, len(found))
	for _, p := range found {
		if p == nil {
			continue
		}
		if dup, ok := products[p.ID]; ok {
			// A SAFE directory and its zip share an id; keep the opened one.
			if dup.Kind != KindArchive {
				continue
			}
			order = slices.DeleteFunc(order, func(q *Product) bool { return q == dup })
		}
		products[p.ID] = p
		order = append(order, p)
	}
	slices.SortFunc(order, func(a, b *Product) int {
		if n := b.Start.Compare(a.Start); n != 0 {
			return n
		}
		return cmp.Compare(a.ID, b.ID)
	})

	c.mu.Lock()
	c.products = products
	c.order = order
	c.scanned = time.Now()
	c.mu.Unlock()

	c.metrics.SetCatalogSize(len(order))
	c.logger.Info("catalog scanned",
		slog.String("dir", c.dir),
		slog.Int("products", len(order)),
		slog.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// load opens one product and summarizes its channels.
func (c *Catalog) load(ctx context.Context, id, path string, kind Kind, modTime time.Time) (*Product, error) {
	p := &Product{ID: id, Path: path, Kind: kind, modTime: modTime}
	if kind == KindArchive {
		p.Sensor = sentinel.SensorName
		return p, nil
	}

	s, err := c.opener(path, kind)
	c.metrics.ProductOpened(kind.String(), err)
	if err != nil {
		return nil, err
	}
	p.sensor = s
	p.Sensor = s.Name()
	p.ImageType = s.ImageType()

	var polys orb.MultiPolygon
	for ch := range s.NumChannels() {
		name, err := sar.ChannelName(s, ch)
		if err != nil {
			return nil, err
		}
		meta, err := sar.Describe(ctx, s, ch)
		if err != nil {
			return nil, err
		}
		p.Channels = append(p.Channels, Channel{Index: ch, Name: name, Metadata: meta})

		if p.Start.IsZero() || meta.AzimuthStart.Before(p.Start) {
			p.Start = meta.AzimuthStart
		}
		if meta.AzimuthStop.After(p.Stop) {
			p.Stop = meta.AzimuthStop
		}
		if fp := meta.Footprint(); fp != nil && !containsPolygon(polys, fp) {
			polys = append(polys, fp)
		}
	}
	switch len(polys) {
	case 0:
	case 1:
		p.Footprint = polys[0]
		p.Bound = polys[0].Bound()
	default:
		p.Footprint = polys
		p.Bound = polys.Bound()
	}
	return p, nil
}

func containsPolygon(mp orb.MultiPolygon, p orb.Polygon) bool {
	for _, q := range mp {
		if q.Equal(p) {
			return true
		}
	}
	return false
}

// productID strips the container extension from a product entry name.
func productID(name string) string {
	for _, ext := range []string{".SAFE", ".zip"} {
		if strings.HasSuffix(name, ext) {
			return strings.TrimSuffix(name, ext)
		}
	}
	return name
}

// Watch rescans every interval until ctx is done.
func (c *Catalog) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Scan(ctx); err != nil && ctx.Err() == nil {
				c.logger.Error("catalog rescan failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Get returns the product with the given id.
func (c *Catalog) Get(id string) (*Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.products[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return p, nil
}

// Len returns the number of products.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.order)
}

// Scanned returns the time of the last successful scan.
func (c *Catalog) Scanned() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.scanned
}

// Filter selects products.
type Filter interface {
	Matches(b orb.Bound, sensor string, start, stop time.Time) bool
}

// List returns the products passing f, newest first, skipping offset and
// returning at most limit, plus the number matched. A nil f matches all.
func (c *Catalog) List(f Filter, offset, limit int) ([]*Product, int) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var matched []*Product
	for _, p := range c.order {
		if f == nil || f.Matches(p.Bound, p.Sensor, p.Start, p.Stop) {
			matched = append(matched, p)
		}
	}
	total := len(matched)
	if offset >= total {
		return nil, total
	}
	end := min(offset+limit, total)
	return matched[offset:end], total
}
