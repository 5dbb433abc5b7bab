package catalog

import (
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/paulmach/orb/geojson"

	"github.com/rkm/sarwatch/internal/sar/sentinel"
	"github.com/rkm/sarwatch/internal/sar/terrasar"
	"github.com/rkm/sarwatch/internal/stac"
)

// Item renders the product as a STAC Item. baseURL is the public API root.
func (p *Product) Item(baseURL, stacVersion string) *stac.Item {
	item := stac.NewItem(p.ID, collectionID(p.Sensor), stacVersion)

	if p.Footprint != nil {
		item.Geometry = geojson.NewGeometry(p.Footprint)
		item.Bbox = []float64{p.Bound.Min[0], p.Bound.Min[1], p.Bound.Max[0], p.Bound.Max[1]}
	}

	// STAC requires either datetime or start_datetime/end_datetime
	item.Properties["datetime"] = nil
	if !p.Start.IsZero() {
		item.Properties["start_datetime"] = p.Start
		item.Properties["end_datetime"] = p.Stop
	}

	item.Properties["constellation"] = strings.ToLower(p.Sensor)
	item.Properties["sarwatch:kind"] = p.Kind.String()

	if len(p.Channels) > 0 {
		meta := p.Channels[0].Metadata
		if platform := platformName(p.Sensor, meta.Mission); platform != "" {
			item.Properties["platform"] = platform
		}
		item.Properties["sar:instrument_mode"] = meta.Mode
		item.Properties["sar:product_type"] = meta.ProductType
		if band := frequencyBand(p.Sensor); band != "" {
			item.Properties["sar:frequency_band"] = band
		}
		rng, az := meta.PixelSpacing()
		item.Properties["sar:pixel_spacing_range"] = rng
		item.Properties["sar:pixel_spacing_azimuth"] = az
		item.Properties["sar:polarizations"] = polarizations(p.Channels)
		item.Properties["sarwatch:image_type"] = p.ImageType.String()
	}

	self := strings.TrimRight(baseURL, "/") + "/products/" + url.PathEscape(p.ID)
	for _, ch := range p.Channels {
		title := ch.Metadata.Polarization
		if ch.Metadata.Swath != "" {
			title = ch.Metadata.Swath + " " + title
		}
		item.Assets[fmt.Sprintf("detections-%d", ch.Index)] = &stac.Asset{
			Href:  fmt.Sprintf("%s/detections?channel=%d", self, ch.Index),
			Title: fmt.Sprintf("Detections %s (%s)", strings.TrimSpace(title), ch.Name),
			Type:  stac.MediaTypeGeoJSON,
			Roles: []string{"data"},
		}
	}

	item.Links = append(item.Links,
		&stac.Link{Rel: "self", Href: self, Type: stac.MediaTypeGeoJSON},
		&stac.Link{Rel: "parent", Href: strings.TrimRight(baseURL, "/") + "/products", Type: stac.MediaTypeGeoJSON},
		&stac.Link{Rel: "root", Href: strings.TrimRight(baseURL, "/") + "/", Type: stac.MediaTypeJSON},
	)
	return item
}

func collectionID(sensor string) string {
	return strings.ToLower(sensor)
}

// platformName maps a mission code to the STAC platform name.
func platformName(sensor, mission string) string {
	m := strings.ToUpper(strings.TrimSpace(mission))
	switch sensor {
	case sentinel.SensorName:
		// "S1A" -> "sentinel-1a"
		if strings.HasPrefix(m, "S1") && len(m) == 3 {
			return "sentinel-1" + strings.ToLower(m[2:])
		}
	case terrasar.SensorName:
		switch {
		case strings.HasPrefix(m, "TSX"):
			return "terrasar-x"
		case strings.HasPrefix(m, "TDX"):
			return "tandem-x"
		}
	}
	return strings.ToLower(m)
}

func frequencyBand(sensor string) string {
	switch sensor {
	case sentinel.SensorName:
		return "C"
	case terrasar.SensorName:
		return "X"
	}
	return ""
}

func polarizations(chs []Channel) []string {
	var out []string
	for _, ch := range chs {
		pol := strings.ToUpper(ch.Metadata.Polarization)
		if pol != "" && !slices.Contains(out, pol) {
			out = append(out, pol)
		}
	}
	return out
}
