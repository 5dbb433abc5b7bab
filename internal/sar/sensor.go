// Package sar defines the platform-neutral view of a SAR product: a sensor
// exposing one or more channels, each decoding into an Image that pairs a
// raster with its geolocation grid.
package sar

import (
	"context"
	"fmt"
	"strings"
)

// ImageType tells whether a sensor's rasters are complex or detected.
type ImageType int

const (
	// Complex products hold single-look complex samples.
	Complex ImageType = iota + 1
	// Detected products hold ground-range intensity.
	Detected
)

func (t ImageType) String() string {
	switch t {
	case Complex:
		return "complex"
	case Detected:
		return "detected"
	default:
		return fmt.Sprintf("ImageType(%d)", int(t))
	}
}

// Sensor is one opened product. Implementations parse annotation at open
// time and decode rasters lazily per channel.
type Sensor interface {
	// Name returns the platform name, e.g. "Sentinel-1" or "TerraSAR-X".
	Name() string

	// NumChannels returns how many channels Image accepts.
	NumChannels() int

	// ImageType returns the sample type of every channel.
	ImageType() ImageType

	// Image decodes channel. It fails with ErrChannelOutOfRange when channel
	// is not in [0, NumChannels).
	Image(ctx context.Context, channel int) (*Image, error)
}

// Describer is implemented by sensors that can name and annotate a channel
// without decoding its raster.
type Describer interface {
	// ChannelName returns a stable identifier for channel.
	ChannelName(channel int) (string, error)

	// Metadata returns channel annotation.
	Metadata(channel int) (Metadata, error)
}

// ChannelName returns the identifier of channel. Sensors that are not
// Describers get "<name>.<channel>".
func ChannelName(s Sensor, channel int) (string, error) {
	if d, ok := s.(Describer); ok {
		return d.ChannelName(channel)
	}
	if channel < 0 || channel >= s.NumChannels() {
		return "", ChannelError(channel, s.NumChannels())
	}
	return fmt.Sprintf("%s.%d", strings.ToLower(s.Name()), channel), nil
}

// Describe returns the annotation of channel, decoding the raster only when
// s is not a Describer.
func Describe(ctx context.Context, s Sensor, channel int) (Metadata, error) {
	if d, ok := s.(Describer); ok {
		return d.Metadata(channel)
	}
	im, err := s.Image(ctx, channel)
	if err != nil {
		return Metadata{}, err
	}
	return im.Metadata(), nil
}
