package terrasar

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/rkm/sarwatch/internal/decode"
	"github.com/rkm/sarwatch/internal/geogrid"
	"github.com/rkm/sarwatch/internal/raster"
	"github.com/rkm/sarwatch/internal/sar"
)

// SensorName is returned by Sensor.Name.
const SensorName = "TerraSAR-X"

// GeoRefFile is the geolocation annotation path inside a product directory.
var GeoRefFile = filepath.Join("ANNOTATION", "GEOREF.xml")

// Sensor is an opened level 1b product directory.
type Sensor struct {
	dir     string
	name    string
	product *Product
	georef  *GeoRef
	grid    *geogrid.Grid
	logger  *slog.Logger
}

var (
	_ sar.Sensor    = (*Sensor)(nil)
	_ sar.Describer = (*Sensor)(nil)
)

// MainFile returns the product annotation path of dir, <dir>/<base>.xml.
func MainFile(dir string) string {
	return filepath.Join(dir, filepath.Base(dir)+".xml")
}

// Open parses the product and geolocation annotations of dir.
func Open(dir string) (*Sensor, error) {
	mainPath := MainFile(dir)
	pr, err := ParseProduct(mainPath)
	if err != nil {
		return nil, err
	}
	georefPath := filepath.Join(dir, GeoRefFile)
	ref, err := ParseGeoRef(georefPath)
	if err != nil {
		return nil, err
	}
	grid, err := ref.Grid(georefPath, pr)
	if err != nil {
		return nil, err
	}
	if pr.Format == FormatCOSAR && pr.DataType != "COMPLEX" {
		return nil, sar.NewFormatError(mainPath, "imageDataInfo/imageDataType",
			fmt.Errorf("COSAR layers must be COMPLEX, got %q", pr.DataType))
	}
	return &Sensor{
		dir:     dir,
		name:    filepath.Base(dir),
		product: pr,
		georef:  ref,
		grid:    grid,
		logger:  slog.Default(),
	}, nil
}

// WithLogger sets the logger used while decoding.
func (s *Sensor) WithLogger(logger *slog.Logger) *Sensor {
	s.logger = logger
	return s
}

func (s *Sensor) Name() string     { return SensorName }
func (s *Sensor) NumChannels() int { return len(s.product.Layers) }

// Product returns the parsed product annotation.
func (s *Sensor) Product() *Product { return s.product }

// GeoRef returns the parsed geolocation annotation.
func (s *Sensor) GeoRef() *GeoRef { return s.georef }

// ImageType is Complex for COMPLEX data and Detected otherwise.
func (s *Sensor) ImageType() sar.ImageType {
	if s.product.DataType == "COMPLEX" {
		return sar.Complex
	}
	return sar.Detected
}

// ChannelName returns "<product>.<pol>".
func (s *Sensor) ChannelName(ch int) (string, error) {
	if ch < 0 || ch >= len(s.product.Layers) {
		return "", sar.ChannelError(ch, len(s.product.Layers))
	}
	return s.name + "." + strings.ToLower(s.product.Layers[ch].Polarization), nil
}

// Metadata returns the normalized annotation of channel ch.
func (s *Sensor) Metadata(ch int) (sar.Metadata, error) {
	if ch < 0 || ch >= len(s.product.Layers) {
		return sar.Metadata{}, sar.ChannelError(ch, len(s.product.Layers))
	}
	return s.product.Metadata(s.product.Layers[ch]), nil
}

// Image decodes the layer of channel ch.
func (s *Sensor) Image(ctx context.Context, ch int) (*sar.Image, error) {
	if ch < 0 || ch >= len(s.product.Layers) {
		return nil, sar.ChannelError(ch, len(s.product.Layers))
	}
	layer := s.product.Layers[ch]
	p := filepath.Join(s.dir, filepath.FromSlash(layer.File))

	var (
		buf raster.Buffer
		err error
	)
	switch s.product.Format {
	case FormatCOSAR:
		buf, err = decode.OpenCOS(ctx, p)
	default:
		buf, err = decode.OpenTIFF(ctx, p)
	}
	if err != nil {
		return nil, err
	}
	s.logger.Debug("layer decoded",
		slog.String("product", s.name),
		slog.String("polarization", layer.Polarization),
		slog.Int("rows", buf.Rows()),
		slog.Int("cols", buf.Cols()),
	)
	return sar.NewImage(buf, s.grid, s.product.Metadata(layer))
}
