// Package sentinel opens Sentinel-1 SAFE products.
package sentinel

import (
	"encoding/xml"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/rkm/sarwatch/internal/sar"
)

// Manifest representation IDs of the data objects used here.
const (
	RepProduct     = "s1Level1ProductSchema"
	RepMeasurement = "s1Level1MeasurementSchema"
	RepCalibration = "s1Level1CalibrationSchema"
	RepQuickLook   = "s1Level1QuickLookSchema"
)

// ManifestFile is the SAFE manifest name inside a product directory.
const ManifestFile = "manifest.safe"

type manifestXML struct {
	XMLName     xml.Name `xml:"XFDU"`
	DataObjects []struct {
		ID         string `xml:"ID,attr"`
		RepID      string `xml:"repID,attr"`
		ByteStream struct {
			FileLocation struct {
				Href string `xml:"href,attr"`
			} `xml:"fileLocation"`
		} `xml:"byteStream"`
	} `xml:"dataObjectSection>dataObject"`
}

// Manifest lists the product files by representation ID, in manifest order.
type Manifest struct {
	Files map[string][]string
}

// ParseManifest reads the manifest at p.
func ParseManifest(p string) (*Manifest, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, sar.IOError(p, err)
	}
	var doc manifestXML
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, sar.NewFormatError(p, "XFDU", err)
	}
	m := &Manifest{Files: make(map[string][]string)}
	for _, obj := range doc.DataObjects {
		href := strings.TrimSpace(obj.ByteStream.FileLocation.Href)
		if obj.RepID == "" || href == "" {
			continue
		}
		m.Files[obj.RepID] = append(m.Files[obj.RepID], path.Clean(href))
	}
	if len(m.Files[RepProduct]) == 0 {
		return nil, sar.NewFormatError(p, "dataObject[@repID="+RepProduct+"]", nil)
	}
	return m, nil
}

// channelFiles are the files belonging to one swath/polarization.
type channelFiles struct {
	Annotation  string
	Measurement string
	Calibration string
}

// channels pairs annotation, measurement and calibration objects by their
// position in the manifest.
func (m *Manifest) channels(manifestPath string) ([]channelFiles, error) {
	products := m.Files[RepProduct]
	measurements := m.Files[RepMeasurement]
	calibrations := m.Files[RepCalibration]
	if len(measurements) != len(products) {
		return nil, sar.NewFormatError(manifestPath, RepMeasurement,
			fmt.Errorf("%d measurements for %d annotations", len(measurements), len(products)))
	}
	if len(calibrations) != len(products) {
		return nil, sar.NewFormatError(manifestPath, RepCalibration,
			fmt.Errorf("%d calibrations for %d annotations", len(calibrations), len(products)))
	}
	out := make([]channelFiles, len(products))
	for i := range products {
		out[i] = channelFiles{Annotation: products[i], Measurement: measurements[i], Calibration: calibrations[i]}
	}
	return out, nil
}

// channelID names a channel after the SAFE directory and the first four
// dash-separated parts of its annotation file, e.g. "<safe>.s1a-iw1-slc-vv".
func channelID(safeName, annotation string) string {
	parts := strings.SplitN(path.Base(annotation), "-", 5)
	if len(parts) > 4 {
		parts = parts[:4]
	}
	return safeName + "." + strings.Join(parts, "-")
}
