package sentinel

import (
	"encoding/xml"
	"fmt"
	"os"
	"time"

	"github.com/paulmach/orb"

	"github.com/rkm/sarwatch/internal/geogrid"
	"github.com/rkm/sarwatch/internal/sar"
)

// Product types accepted by ParseAnnotation.
const (
	ProductSLC = "SLC"
	ProductGRD = "GRD"
)

type annotationXML struct {
	XMLName xml.Name `xml:"product"`
	Header  struct {
		Mission      string `xml:"missionId"`
		ProductType  string `xml:"productType"`
		Polarisation string `xml:"polarisation"`
		Mode         string `xml:"mode"`
		Swath        string `xml:"swath"`
	} `xml:"adsHeader"`
	ProductInformation struct {
		RangeSamplingRate string `xml:"rangeSamplingRate"`
	} `xml:"generalAnnotation>productInformation"`
	ImageInformation struct {
		FirstLineTime       string `xml:"productFirstLineUtcTime"`
		LastLineTime        string `xml:"productLastLineUtcTime"`
		SlantRangeTime      string `xml:"slantRangeTime"`
		RangePixelSpacing   string `xml:"rangePixelSpacing"`
		AzimuthPixelSpacing string `xml:"azimuthPixelSpacing"`
		AzimuthTimeInterval string `xml:"azimuthTimeInterval"`
		NumberOfSamples     string `xml:"numberOfSamples"`
		NumberOfLines       string `xml:"numberOfLines"`
	} `xml:"imageAnnotation>imageInformation"`
	SwathTiming struct {
		LinesPerBurst   string `xml:"linesPerBurst"`
		SamplesPerBurst string `xml:"samplesPerBurst"`
		Bursts          []struct {
			AzimuthTime      string `xml:"azimuthTime"`
			FirstValidSample string `xml:"firstValidSample"`
			LastValidSample  string `xml:"lastValidSample"`
		} `xml:"burstList>burst"`
	} `xml:"swathTiming"`
	GridPoints []struct {
		AzimuthTime    string `xml:"azimuthTime"`
		SlantRangeTime string `xml:"slantRangeTime"`
		Line           string `xml:"line"`
		Pixel          string `xml:"pixel"`
		Latitude       string `xml:"latitude"`
		Longitude      string `xml:"longitude"`
		Height         string `xml:"height"`
		IncidenceAngle string `xml:"incidenceAngle"`
	} `xml:"geolocationGrid>geolocationGridPointList>geolocationGridPoint"`
}

// Burst is the timing of one SLC burst.
type Burst struct {
	AzimuthTime      time.Time
	FirstValidSample []int
	LastValidSample  []int
}

// GridPoint is one geolocation tie point.
type GridPoint struct {
	AzimuthTime    time.Time
	SlantRangeTime float64
	Line           int
	Pixel          int
	Lat, Lon       float64
	Height         float64
	Incidence      float64
}

// Annotation is a parsed product annotation file.
type Annotation struct {
	Mission      string
	ProductType  string
	Polarization string
	Mode         string
	Swath        string

	Lines   int
	Samples int

	RangePixelSpacing   float64
	AzimuthPixelSpacing float64
	AzimuthTimeInterval float64
	SlantRangeTime      float64
	RangeSamplingRate   float64
	FirstLineTime       time.Time
	LastLineTime        time.Time

	LinesPerBurst   int
	SamplesPerBurst int
	Bursts          []Burst

	GridPoints []GridPoint
}

// ParseAnnotation reads a product annotation file. Every field used for
// geolocation or deburst is required.
func ParseAnnotation(p string) (*Annotation, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, sar.IOError(p, err)
	}
	return parseAnnotation(p, data)
}

func parseAnnotation(p string, data []byte) (*Annotation, error) {
	var doc annotationXML
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, sar.NewFormatError(p, "product", err)
	}

	f := &sar.Fields{Path: p}
	info := doc.ImageInformation
	a := &Annotation{
		Mission:             f.String("adsHeader/missionId", doc.Header.Mission),
		ProductType:         f.String("adsHeader/productType", doc.Header.ProductType),
		Polarization:        f.String("adsHeader/polarisation", doc.Header.Polarisation),
		Mode:                f.String("adsHeader/mode", doc.Header.Mode),
		Swath:               f.String("adsHeader/swath", doc.Header.Swath),
		Lines:               f.Positive("imageInformation/numberOfLines", info.NumberOfLines),
		Samples:             f.Positive("imageInformation/numberOfSamples", info.NumberOfSamples),
		RangePixelSpacing:   f.Float("imageInformation/rangePixelSpacing", info.RangePixelSpacing),
		AzimuthPixelSpacing: f.Float("imageInformation/azimuthPixelSpacing", info.AzimuthPixelSpacing),
		AzimuthTimeInterval: f.Float("imageInformation/azimuthTimeInterval", info.AzimuthTimeInterval),
		SlantRangeTime:      f.Float("imageInformation/slantRangeTime", info.SlantRangeTime),
		RangeSamplingRate:   f.Float("productInformation/rangeSamplingRate", doc.ProductInformation.RangeSamplingRate),
		FirstLineTime:       f.Time("imageInformation/productFirstLineUtcTime", info.FirstLineTime),
		LastLineTime:        f.Time("imageInformation/productLastLineUtcTime", info.LastLineTime),
	}
	f.Check("adsHeader/productType", a.ProductType == ProductSLC || a.ProductType == ProductGRD,
		"unsupported product type %q", a.ProductType)
	f.Check("imageInformation/azimuthTimeInterval", a.AzimuthTimeInterval > 0,
		"must be positive, got %v", a.AzimuthTimeInterval)

	if a.ProductType == ProductSLC && len(doc.SwathTiming.Bursts) > 0 {
		a.LinesPerBurst = f.Positive("swathTiming/linesPerBurst", doc.SwathTiming.LinesPerBurst)
		a.SamplesPerBurst = f.Positive("swathTiming/samplesPerBurst", doc.SwathTiming.SamplesPerBurst)
		for i, b := range doc.SwathTiming.Bursts {
			field := fmt.Sprintf("burstList/burst[%d]", i)
			a.Bursts = append(a.Bursts, Burst{
				AzimuthTime:      f.Time(field+"/azimuthTime", b.AzimuthTime),
				FirstValidSample: f.Ints(field+"/firstValidSample", b.FirstValidSample),
				LastValidSample:  f.Ints(field+"/lastValidSample", b.LastValidSample),
			})
		}
	}

	f.Check("geolocationGridPointList", len(doc.GridPoints) >= 4, "need at least 4 grid points, got %d", len(doc.GridPoints))
	for i, g := range doc.GridPoints {
		field := fmt.Sprintf("geolocationGridPoint[%d]", i)
		a.GridPoints = append(a.GridPoints, GridPoint{
			AzimuthTime:    f.Time(field+"/azimuthTime", g.AzimuthTime),
			SlantRangeTime: f.Float(field+"/slantRangeTime", g.SlantRangeTime),
			Line:           f.Int(field+"/line", g.Line),
			Pixel:          f.Int(field+"/pixel", g.Pixel),
			Lat:            f.Float(field+"/latitude", g.Latitude),
			Lon:            f.Float(field+"/longitude", g.Longitude),
			Height:         f.Float(field+"/height", g.Height),
			Incidence:      f.Float(field+"/incidenceAngle", g.IncidenceAngle),
		})
	}

	if err := f.Err(); err != nil {
		return nil, err
	}
	return a, nil
}

// Grid builds the geolocation grid. Azimuth ticks are seconds after the first
// line, so a row maps to FirstLineTime + row*AzimuthTimeInterval; range ticks
// are pixel indices. The row length is found where the pixel index of the
// first point repeats.
func (a *Annotation) Grid(p string) (*geogrid.Grid, error) {
	period := 0
	for i := 1; i < len(a.GridPoints); i++ {
		if a.GridPoints[i].Pixel == a.GridPoints[0].Pixel {
			period = i
			break
		}
	}
	if period < 2 || len(a.GridPoints)%period != 0 {
		return nil, sar.NewFormatError(p, "geolocationGridPointList",
			fmt.Errorf("%d points do not form a rectangular grid (row length %d)", len(a.GridPoints), period))
	}
	rows := len(a.GridPoints) / period

	rng := geogrid.Axis{Ticks: make([]float64, period), Scale: 1}
	for j := 0; j < period; j++ {
		rng.Ticks[j] = float64(a.GridPoints[j].Pixel)
	}
	az := geogrid.Axis{Ticks: make([]float64, rows), Scale: a.AzimuthTimeInterval}
	for i := 0; i < rows; i++ {
		az.Ticks[i] = a.GridPoints[i*period].AzimuthTime.Sub(a.FirstLineTime).Seconds()
	}

	points := make([]geogrid.Point, len(a.GridPoints))
	for i, g := range a.GridPoints {
		points[i] = geogrid.Point{Lat: g.Lat, Lon: g.Lon, Inc: g.Incidence}
	}
	grid, err := geogrid.New(az, rng, points)
	if err != nil {
		return nil, sar.NewFormatError(p, "geolocationGridPointList", err)
	}
	return grid, nil
}

// Metadata normalizes the annotation. Corners come from the outer grid
// points.
func (a *Annotation) Metadata(grid *geogrid.Grid, calibration float64) sar.Metadata {
	ring := grid.Footprint()[0]
	rangeLast := a.SlantRangeTime
	if a.RangeSamplingRate > 0 {
		rangeLast += float64(a.Samples-1) / a.RangeSamplingRate
	}
	return sar.Metadata{
		Mission:             a.Mission,
		Mode:                a.Mode,
		ProductType:         a.ProductType,
		Polarization:        a.Polarization,
		Swath:               a.Swath,
		Rows:                a.Lines,
		Cols:                a.Samples,
		RowSpacing:          a.AzimuthPixelSpacing,
		ColSpacing:          a.RangePixelSpacing,
		AzimuthStart:        a.FirstLineTime,
		AzimuthStop:         a.LastLineTime,
		AzimuthTimeInterval: a.AzimuthTimeInterval,
		RangeFirst:          a.SlantRangeTime,
		RangeLast:           rangeLast,
		CalibrationConstant: calibration,
		Corners:             append([]orb.Point(nil), ring[:len(ring)-1]...),
	}
}

type calibrationXML struct {
	XMLName  xml.Name `xml:"calibration"`
	Constant string   `xml:"calibrationInformation>absoluteCalibrationConstant"`
}

// ParseCalibration reads the absolute calibration constant.
func ParseCalibration(p string) (float64, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return 0, sar.IOError(p, err)
	}
	var doc calibrationXML
	if err := xml.Unmarshal(data, &doc); err != nil {
		return 0, sar.NewFormatError(p, "calibration", err)
	}
	f := &sar.Fields{Path: p}
	v := f.Float("calibrationInformation/absoluteCalibrationConstant", doc.Constant)
	return v, f.Err()
}
