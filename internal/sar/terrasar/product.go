// Package terrasar opens TerraSAR-X level 1b products.
package terrasar

import (
	"encoding/xml"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/paulmach/orb"

	"github.com/rkm/sarwatch/internal/sar"
)

// Image data formats listed in imageDataInfo.
const (
	FormatCOSAR   = "COSAR"
	FormatGeoTIFF = "GEOTIFF"
)

type productXML struct {
	XMLName    xml.Name `xml:"level1Product"`
	Components []struct {
		LayerIndex string `xml:"layerIndex,attr"`
		PolLayer   string `xml:"polLayer"`
		Path       string `xml:"file>location>path"`
		Filename   string `xml:"file>location>filename"`
	} `xml:"productComponents>imageData"`
	Info struct {
		Mission     string `xml:"missionInfo>mission"`
		Mode        string `xml:"acquisitionInfo>imagingMode"`
		ProductType string `xml:"productVariantInfo>productType"`
		DataInfo    struct {
			Format string `xml:"imageDataFormat"`
			Type   string `xml:"imageDataType"`
			Raster struct {
				Rows                  string `xml:"numberOfRows"`
				Cols                  string `xml:"numberOfColumns"`
				RowSpacing            string `xml:"rowSpacing"`
				ColSpacing            string `xml:"columnSpacing"`
				GroundRangeResolution string `xml:"groundRangeResolution"`
				AzimuthResolution     string `xml:"azimuthResolution"`
				AzimuthLooks          string `xml:"azimuthLooks"`
				RangeLooks            string `xml:"rangeLooks"`
			} `xml:"imageRaster"`
		} `xml:"imageDataInfo"`
		Scene struct {
			Start      string `xml:"start>timeUTC"`
			Stop       string `xml:"stop>timeUTC"`
			FirstPixel string `xml:"rangeTime>firstPixel"`
			LastPixel  string `xml:"rangeTime>lastPixel"`
			CenterTime string `xml:"sceneCenterCoord>azimuthTimeUTC"`
			Corners    []struct {
				RefRow    string `xml:"refRow"`
				RefColumn string `xml:"refColumn"`
				Lat       string `xml:"lat"`
				Lon       string `xml:"lon"`
			} `xml:"sceneCornerCoord"`
		} `xml:"sceneInfo"`
	} `xml:"productInfo"`
	CalFactor string `xml:"calibration>calibrationConstant>calFactor"`
}

// Layer is one polarization layer of the product.
type Layer struct {
	Index        int
	Polarization string
	// File is relative to the product directory.
	File string
}

// Product is a parsed level1Product annotation.
type Product struct {
	Mission     string
	Mode        string
	ProductType string
	Format      string
	DataType    string

	Rows, Cols             int
	RowSpacing, ColSpacing float64

	GroundRangeResolution float64
	AzimuthResolution     float64
	AzimuthLooks          float64
	RangeLooks            float64

	Start, Stop time.Time
	CenterTime  time.Time
	RangeFirst  float64
	RangeLast   float64
	CalFactor   float64
	Corners     []orb.Point
	Layers      []Layer
}

// ParseProduct reads the main product annotation at p.
func ParseProduct(p string) (*Product, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, sar.IOError(p, err)
	}
	return parseProduct(p, data)
}

func parseProduct(p string, data []byte) (*Product, error) {
	var doc productXML
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, sar.NewFormatError(p, "level1Product", err)
	}

	f := &sar.Fields{Path: p}
	optional := func(field, s string) float64 {
		if strings.TrimSpace(s) == "" {
			return 0
		}
		return f.Float(field, s)
	}
	info := doc.Info
	ras := info.DataInfo.Raster
	pr := &Product{
		Mission:               f.String("missionInfo/mission", info.Mission),
		Mode:                  strings.TrimSpace(info.Mode),
		ProductType:           f.String("productVariantInfo/productType", info.ProductType),
		Format:                strings.ToUpper(f.String("imageDataInfo/imageDataFormat", info.DataInfo.Format)),
		DataType:              strings.ToUpper(f.String("imageDataInfo/imageDataType", info.DataInfo.Type)),
		Rows:                  f.Positive("imageRaster/numberOfRows", ras.Rows),
		Cols:                  f.Positive("imageRaster/numberOfColumns", ras.Cols),
		RowSpacing:            f.Float("imageRaster/rowSpacing", ras.RowSpacing),
		ColSpacing:            f.Float("imageRaster/columnSpacing", ras.ColSpacing),
		GroundRangeResolution: optional("imageRaster/groundRangeResolution", ras.GroundRangeResolution),
		AzimuthResolution:     optional("imageRaster/azimuthResolution", ras.AzimuthResolution),
		AzimuthLooks:          optional("imageRaster/azimuthLooks", ras.AzimuthLooks),
		RangeLooks:            optional("imageRaster/rangeLooks", ras.RangeLooks),
		Start:                 f.Time("sceneInfo/start/timeUTC", info.Scene.Start),
		Stop:                  f.Time("sceneInfo/stop/timeUTC", info.Scene.Stop),
		RangeFirst:            f.Float("sceneInfo/rangeTime/firstPixel", info.Scene.FirstPixel),
		RangeLast:             f.Float("sceneInfo/rangeTime/lastPixel", info.Scene.LastPixel),
		CalFactor:             f.Float("calibrationConstant/calFactor", doc.CalFactor),
	}
	if strings.TrimSpace(info.Scene.CenterTime) != "" {
		pr.CenterTime = f.Time("sceneCenterCoord/azimuthTimeUTC", info.Scene.CenterTime)
	}
	f.Check("imageDataInfo/imageDataFormat", pr.Format == FormatCOSAR || pr.Format == FormatGeoTIFF,
		"unsupported image format %q", pr.Format)
	f.Check("sceneInfo/stop/timeUTC", pr.Stop.After(pr.Start), "stop %s not after start %s", pr.Stop, pr.Start)
	f.Check("sceneInfo/rangeTime/lastPixel", pr.RangeLast > pr.RangeFirst,
		"last pixel time %v not after first %v", pr.RangeLast, pr.RangeFirst)

	type corner struct {
		row, col int
		pt       orb.Point
	}
	var corners []corner
	for i, c := range info.Scene.Corners {
		field := fmt.Sprintf("sceneCornerCoord[%d]", i)
		corners = append(corners, corner{
			row: f.Int(field+"/refRow", c.RefRow),
			col: f.Int(field+"/refColumn", c.RefColumn),
			pt:  orb.Point{f.Float(field+"/lon", c.Lon), f.Float(field+"/lat", c.Lat)},
		})
	}
	f.Check("sceneCornerCoord", len(corners) == 4, "need 4 scene corners, got %d", len(corners))
	if len(corners) == 4 {
		sort.Slice(corners, func(i, j int) bool {
			if corners[i].row != corners[j].row {
				return corners[i].row < corners[j].row
			}
			return corners[i].col < corners[j].col
		})
		// first row left to right, then last row right to left
		for _, i := range []int{0, 1, 3, 2} {
			pr.Corners = append(pr.Corners, corners[i].pt)
		}
	}

	f.Check("productComponents/imageData", len(doc.Components) > 0, "no image layers")
	for i, c := range doc.Components {
		field := fmt.Sprintf("imageData[%d]", i)
		dir := f.String(field+"/file/location/path", c.Path)
		name := f.String(field+"/file/location/filename", c.Filename)
		pr.Layers = append(pr.Layers, Layer{
			Index:        f.Int(field+"/@layerIndex", c.LayerIndex),
			Polarization: f.String(field+"/polLayer", c.PolLayer),
			File:         dir + "/" + name,
		})
	}
	sort.SliceStable(pr.Layers, func(i, j int) bool { return pr.Layers[i].Index < pr.Layers[j].Index })

	if err := f.Err(); err != nil {
		return nil, err
	}
	return pr, nil
}

// AzimuthTimeInterval is the time between lines in seconds.
func (p *Product) AzimuthTimeInterval() float64 {
	return p.Stop.Sub(p.Start).Seconds() / float64(p.Rows)
}

// RangeTimeInterval is the slant range time between columns in seconds.
func (p *Product) RangeTimeInterval() float64 {
	return (p.RangeLast - p.RangeFirst) / float64(p.Cols)
}

// Metadata normalizes the annotation for one layer.
func (p *Product) Metadata(layer Layer) sar.Metadata {
	return sar.Metadata{
		Mission:             p.Mission,
		Mode:                p.Mode,
		ProductType:         p.ProductType,
		Polarization:        layer.Polarization,
		Rows:                p.Rows,
		Cols:                p.Cols,
		RowSpacing:          p.RowSpacing,
		ColSpacing:          p.ColSpacing,
		AzimuthStart:        p.Start,
		AzimuthStop:         p.Stop,
		AzimuthTimeInterval: p.AzimuthTimeInterval(),
		RangeFirst:          p.RangeFirst,
		RangeLast:           p.RangeLast,
		CalibrationConstant: p.CalFactor,
		Corners:             append([]orb.Point(nil), p.Corners...),
	}
}
