package sentinel

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/rkm/sarwatch/internal/decode"
	"github.com/rkm/sarwatch/internal/raster"
	"github.com/rkm/sarwatch/internal/sar"
)

// SensorName is returned by Sensor.Name.
const SensorName = "Sentinel-1"

type channel struct {
	id          string
	files       channelFiles
	annotation  *Annotation
	calibration float64
}

// Sensor is an opened SAFE product.
type Sensor struct {
	dir       string
	imageType sar.ImageType
	channels  []channel
	logger    *slog.Logger
}

var (
	_ sar.Sensor    = (*Sensor)(nil)
	_ sar.Describer = (*Sensor)(nil)
)

// Open parses the manifest, every annotation and every calibration file of
// the SAFE directory. Rasters are decoded later by Image.
func Open(dir string) (*Sensor, error) {
	manifestPath := filepath.Join(dir, ManifestFile)
	m, err := ParseManifest(manifestPath)
	if err != nil {
		return nil, err
	}
	files, err := m.channels(manifestPath)
	if err != nil {
		return nil, err
	}

	s := &Sensor{dir: dir, logger: slog.Default()}
	safeName := strings.TrimSuffix(filepath.Base(dir), ".SAFE")
	for i, cf := range files {
		a, err := ParseAnnotation(filepath.Join(dir, filepath.FromSlash(cf.Annotation)))
		if err != nil {
			return nil, err
		}
		cal, err := ParseCalibration(filepath.Join(dir, filepath.FromSlash(cf.Calibration)))
		if err != nil {
			return nil, err
		}
		t := sar.Detected
		if a.ProductType == ProductSLC {
			t = sar.Complex
		}
		if i == 0 {
			s.imageType = t
		} else if t != s.imageType {
			return nil, sar.NewFormatError(cf.Annotation, "adsHeader/productType",
				fmt.Errorf("channel %d is %s, channel 0 is %s", i, t, s.imageType))
		}
		s.channels = append(s.channels, channel{
			id:          channelID(safeName, cf.Annotation),
			files:       cf,
			annotation:  a,
			calibration: cal,
		})
	}
	return s, nil
}

// WithLogger sets the logger used for deburst diagnostics.
func (s *Sensor) WithLogger(logger *slog.Logger) *Sensor {
	s.logger = logger
	return s
}

func (s *Sensor) Name() string             { return SensorName }
func (s *Sensor) NumChannels() int         { return len(s.channels) }
func (s *Sensor) ImageType() sar.ImageType { return s.imageType }

// ChannelName returns "<safe>.<mission>-<swath>-<type>-<pol>".
func (s *Sensor) ChannelName(ch int) (string, error) {
	if ch < 0 || ch >= len(s.channels) {
		return "", sar.ChannelError(ch, len(s.channels))
	}
	return s.channels[ch].id, nil
}

// Metadata returns the normalized annotation of channel ch.
func (s *Sensor) Metadata(ch int) (sar.Metadata, error) {
	if ch < 0 || ch >= len(s.channels) {
		return sar.Metadata{}, sar.ChannelError(ch, len(s.channels))
	}
	c := s.channels[ch]
	grid, err := c.annotation.Grid(c.files.Annotation)
	if err != nil {
		return sar.Metadata{}, err
	}
	return c.annotation.Metadata(grid, c.calibration), nil
}

// Image decodes the measurement of channel ch. SLC bursts are stitched
// before the image is returned.
func (s *Sensor) Image(ctx context.Context, ch int) (*sar.Image, error) {
	if ch < 0 || ch >= len(s.channels) {
		return nil, sar.ChannelError(ch, len(s.channels))
	}
	c := s.channels[ch]
	a := c.annotation

	grid, err := a.Grid(c.files.Annotation)
	if err != nil {
		return nil, err
	}

	measurement := filepath.Join(s.dir, filepath.FromSlash(c.files.Measurement))
	buf, err := decode.OpenTIFF(ctx, measurement)
	if err != nil {
		return nil, err
	}

	if cplx, ok := buf.(*raster.Complex); ok && a.ProductType == ProductSLC && len(a.Bursts) > 0 {
		stitched, report, err := Deburst(cplx, a.Bursts, a.LinesPerBurst, a.AzimuthTimeInterval)
		if err != nil {
			return nil, fmt.Errorf("deburst %s: %w", c.id, err)
		}
		if len(report.Clamped) > 0 {
			s.logger.Warn("deburst cut clamped",
				slog.String("channel", c.id),
				slog.Any("bursts", report.Clamped),
			)
		}
		s.logger.Debug("deburst complete",
			slog.String("channel", c.id),
			slog.Int("bursts", len(a.Bursts)),
			slog.Int("rows_in", cplx.Rows()),
			slog.Int("rows_out", stitched.Rows()),
		)
		buf = stitched
	}

	return sar.NewImage(buf, grid, a.Metadata(grid, c.calibration))
}
