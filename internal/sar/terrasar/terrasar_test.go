package terrasar

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rkm/sarwatch/internal/raster"
	"github.com/rkm/sarwatch/internal/sar"
)

const productName = "TSX1_SAR__SSC______SM_S_SRA_20240101T000000_20240101T000006"

const productDoc = `<?xml version="1.0" encoding="UTF-8"?>
<level1Product>
  <productComponents>
    <imageData layerIndex="2">
      <polLayer>VV</polLayer>
      <file><location><host>.</host><path>IMAGEDATA</path><filename>IMAGE_VV_SRA_strip_001.cos</filename></location></file>
    </imageData>
    <imageData layerIndex="1">
      <polLayer>HH</polLayer>
      <file><location><host>.</host><path>IMAGEDATA</path><filename>IMAGE_HH_SRA_strip_001.cos</filename></location></file>
    </imageData>
  </productComponents>
  <productInfo>
    <missionInfo><mission>TSX-1</mission></missionInfo>
    <acquisitionInfo><imagingMode>SM</imagingMode></acquisitionInfo>
    <productVariantInfo><productType>SSC</productType></productVariantInfo>
    <imageDataInfo>
      <imageDataFormat>COSAR</imageDataFormat>
      <imageDataType>COMPLEX</imageDataType>
      <imageRaster>
        <numberOfRows>6</numberOfRows>
        <numberOfColumns>4</numberOfColumns>
        <rowSpacing units="s">1.0</rowSpacing>
        <columnSpacing units="s">0.1</columnSpacing>
        <groundRangeResolution>2.5</groundRangeResolution>
        <azimuthResolution>3.3</azimuthResolution>
        <azimuthLooks>1</azimuthLooks>
        <rangeLooks>1</rangeLooks>
      </imageRaster>
    </imageDataInfo>
    <sceneInfo>
      <start><timeUTC>2024-01-01T00:00:00.000000Z</timeUTC></start>
      <stop><timeUTC>2024-01-01T00:00:06.000000Z</timeUTC></stop>
      <rangeTime><firstPixel>1.0</firstPixel><lastPixel>1.4</lastPixel></rangeTime>
      <sceneCenterCoord><lat>50.3</lat><lon>8.2</lon><azimuthTimeUTC>2024-01-01T00:00:03.000000Z</azimuthTimeUTC></sceneCenterCoord>
      <sceneCornerCoord><refRow>6</refRow><refColumn>4</refColumn><lat>50.6</lat><lon>8.4</lon></sceneCornerCoord>
      <sceneCornerCoord><refRow>1</refRow><refColumn>1</refColumn><lat>50.0</lat><lon>8.0</lon></sceneCornerCoord>
      <sceneCornerCoord><refRow>6</refRow><refColumn>1</refColumn><lat>50.6</lat><lon>8.0</lon></sceneCornerCoord>
      <sceneCornerCoord><refRow>1</refRow><refColumn>4</refColumn><lat>50.0</lat><lon>8.4</lon></sceneCornerCoord>
    </sceneInfo>
  </productInfo>
  <calibration><calibrationConstant><calFactor>1.2e-5</calFactor></calibrationConstant></calibration>
</level1Product>
`

// georefDoc is a 2x2 grid spaced 6 s in azimuth and 0.4 s in range.
const georefDoc = `<?xml version="1.0" encoding="UTF-8"?>
<georeference>
  <geolocationGrid>
    <numberOfGridPoints><azimuth>2</azimuth><range>2</range><total>4</total></numberOfGridPoints>
    <spacingOfGridPoints><azimuth>6</azimuth><range>0.4</range></spacingOfGridPoints>
    <gridReferenceTime><tReferenceTimeUTC>2024-01-01T00:00:00.000000Z</tReferenceTimeUTC><tauReferenceTime>1.0</tauReferenceTime></gridReferenceTime>
    <gridPoint iaz="1" irg="1"><t>0</t><tau>0</tau><lat>50.0</lat><lon>8.0</lon><inc>20</inc><elev>0</elev><height>0</height></gridPoint>
    <gridPoint iaz="1" irg="2"><t>0</t><tau>0.4</tau><lat>50.0</lat><lon>8.4</lon><inc>22</inc><elev>0</elev><height>0</height></gridPoint>
    <gridPoint iaz="2" irg="1"><t>6</t><tau>0</tau><lat>50.6</lat><lon>8.0</lon><inc>20</inc><elev>0</elev><height>0</height></gridPoint>
    <gridPoint iaz="2" irg="2"><t>6</t><tau>0.4</tau><lat>50.6</lat><lon>8.4</lon><inc>22</inc><elev>0</elev><height>0</height></gridPoint>
  </geolocationGrid>
</georeference>
`

// cosFile encodes bursts of 4 range samples; sample values are (row, col).
func cosFile(burstRows ...int) []byte {
	const rs = 4
	width := rs + 2
	var buf bytes.Buffer
	row := 0
	for i, rows := range burstRows {
		header := make([]byte, 4*width*4)
		for k, v := range []int32{int32(width * 4 * rows), 1, rs, int32(rows), int32(i + 1)} {
			binary.BigEndian.PutUint32(header[4*k:], uint32(v))
		}
		buf.Write(header)
		for y := 0; y < rows; y++ {
			for x := 0; x < width; x++ {
				binary.Write(&buf, binary.BigEndian, [2]int16{int16(row), int16(x)})
			}
			row++
		}
	}
	return buf.Bytes()
}

func writeProduct(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), productName)
	for _, sub := range []string{"ANNOTATION", "IMAGEDATA"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	files := map[string][]byte{
		productName + ".xml": []byte(productDoc),
		GeoRefFile:           []byte(georefDoc),
		filepath.Join("IMAGEDATA", "IMAGE_HH_SRA_strip_001.cos"): cosFile(3, 3),
		filepath.Join("IMAGEDATA", "IMAGE_VV_SRA_strip_001.cos"): cosFile(2, 4),
	}
	for name, data := range files {
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestParseProduct(t *testing.T) {
	pr, err := parseProduct("p.xml", []byte(productDoc))
	if err != nil {
		t.Fatalf("parseProduct: %v", err)
	}
	if pr.Rows != 6 || pr.Cols != 4 || pr.Format != FormatCOSAR || pr.DataType != "COMPLEX" {
		t.Errorf("product = %+v", pr)
	}
	if pr.AzimuthTimeInterval() != 1 {
		t.Errorf("AzimuthTimeInterval = %v", pr.AzimuthTimeInterval())
	}
	if math.Abs(pr.RangeTimeInterval()-0.1) > 1e-12 {
		t.Errorf("RangeTimeInterval = %v", pr.RangeTimeInterval())
	}
	if pr.GroundRangeResolution != 2.5 || pr.AzimuthResolution != 3.3 {
		t.Errorf("resolutions = %v, %v", pr.GroundRangeResolution, pr.AzimuthResolution)
	}
	// Layers are ordered by layerIndex.
	if len(pr.Layers) != 2 || pr.Layers[0].Polarization != "HH" || pr.Layers[0].File != "IMAGEDATA/IMAGE_HH_SRA_strip_001.cos" {
		t.Errorf("layers = %+v", pr.Layers)
	}
	// Corners form a ring starting at the first row and column.
	want := [][2]float64{{8.0, 50.0}, {8.4, 50.0}, {8.4, 50.6}, {8.0, 50.6}}
	for i, c := range pr.Corners {
		if c[0] != want[i][0] || c[1] != want[i][1] {
			t.Errorf("corner %d = %v, want %v", i, c, want[i])
		}
	}
}

func TestParseProductMissingField(t *testing.T) {
	tests := []struct {
		name  string
		drop  string
		field string
	}{
		{"rows", "<numberOfRows>6</numberOfRows>", "imageRaster/numberOfRows"},
		{"start", "<start><timeUTC>2024-01-01T00:00:00.000000Z</timeUTC></start>", "sceneInfo/start/timeUTC"},
		{"cal factor", "<calFactor>1.2e-5</calFactor>", "calibrationConstant/calFactor"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseProduct("p.xml", []byte(strings.Replace(productDoc, tt.drop, "", 1)))
			var fe *sar.FormatError
			if !errors.As(err, &fe) {
				t.Fatalf("error = %v, want FormatError", err)
			}
			if fe.Field != tt.field {
				t.Errorf("field = %q, want %q", fe.Field, tt.field)
			}
		})
	}
}

func TestParseGeoRefRejectsBadIndex(t *testing.T) {
	doc := strings.Replace(georefDoc, `iaz="2" irg="2"`, `iaz="3" irg="2"`, 1)
	if _, err := parseGeoRef("g.xml", []byte(doc)); !errors.Is(err, sar.ErrFormat) {
		t.Fatalf("error = %v, want ErrFormat", err)
	}
	doc = strings.Replace(georefDoc, `iaz="2" irg="2"`, `iaz="2" irg="1"`, 1)
	if _, err := parseGeoRef("g.xml", []byte(doc)); !errors.Is(err, sar.ErrFormat) {
		t.Fatalf("duplicate index error = %v, want ErrFormat", err)
	}
}

func TestGeoRefGrid(t *testing.T) {
	pr, err := parseProduct("p.xml", []byte(productDoc))
	if err != nil {
		t.Fatal(err)
	}
	ref, err := parseGeoRef("g.xml", []byte(georefDoc))
	if err != nil {
		t.Fatalf("parseGeoRef: %v", err)
	}
	g, err := ref.Grid("g.xml", pr)
	if err != nil {
		t.Fatalf("Grid: %v", err)
	}
	p := g.Forward(2, 3)
	if math.Abs(p.Lat-50.3) > 1e-9 || math.Abs(p.Lon-8.2) > 1e-9 || math.Abs(p.Inc-21) > 1e-9 {
		t.Errorf("Forward(2, 3) = %+v", p)
	}
	if p := g.Forward(4, 6); math.Abs(p.Lat-50.6) > 1e-9 || math.Abs(p.Lon-8.4) > 1e-9 {
		t.Errorf("Forward(4, 6) = %+v", p)
	}
}

func TestOpenProduct(t *testing.T) {
	s, err := Open(writeProduct(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if s.Name() != SensorName || s.NumChannels() != 2 || s.ImageType() != sar.Complex {
		t.Fatalf("sensor = %s, %d channels, %s", s.Name(), s.NumChannels(), s.ImageType())
	}
	if name, _ := s.ChannelName(1); name != productName+".vv" {
		t.Errorf("ChannelName(1) = %q", name)
	}
	if _, err := s.Image(context.Background(), 2); !errors.Is(err, sar.ErrChannelOutOfRange) {
		t.Errorf("Image(2) error = %v", err)
	}

	img, err := s.Image(context.Background(), 0)
	if err != nil {
		t.Fatalf("Image: %v", err)
	}
	c, ok := img.Raster().(*raster.Complex)
	if !ok {
		t.Fatalf("raster is %T", img.Raster())
	}
	// Two bursts of 3 lines, 4 samples plus 2 annotation samples per line.
	if c.Rows() != 6 || c.Cols() != 6 {
		t.Fatalf("shape = %dx%d, want 6x6", c.Rows(), c.Cols())
	}
	if got := c.At(5, 4); got != (raster.CInt16{Re: 4, Im: 5}) {
		t.Errorf("sample (5,4) = %v", got)
	}
	if p := img.Geolocate(0, 0); p.Lat != 50 || p.Lon != 8 {
		t.Errorf("Geolocate(0, 0) = %+v", p)
	}
	meta := img.Metadata()
	if meta.Polarization != "HH" || meta.CalibrationConstant != 1.2e-5 || len(meta.Corners) != 4 {
		t.Errorf("metadata = %+v", meta)
	}
}

func TestOpenMissingGeoRef(t *testing.T) {
	dir := writeProduct(t)
	if err := os.Remove(filepath.Join(dir, GeoRefFile)); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(dir); !errors.Is(err, sar.ErrIO) {
		t.Fatalf("error = %v, want ErrIO", err)
	}
}
