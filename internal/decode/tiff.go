package decode

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"os"

	"golang.org/x/image/tiff"

	"github.com/rkm/sarwatch/internal/raster"
	"github.com/rkm/sarwatch/internal/sar"
)

// TIFF tags read directly for complex rasters.
const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagStripOffsets    = 273
	tagSamplesPerPixel = 277
	tagRowsPerStrip    = 278
	tagStripByteCounts = 279
	tagTileWidth       = 322
	tagTileOffsets     = 324
	tagTileByteCounts  = 325
	tagSampleFormat    = 339

	sampleFormatInt        = 2
	sampleFormatComplexInt = 5

	compressionNone = 1
)

// maxTIFFInflation bounds how many decoded bytes a compressed TIFF may
// declare per stored byte.
const maxTIFFInflation = 4096

type tiffLayout struct {
	fileSize        int64
	order           binary.ByteOrder
	width, height   int
	bitsPerSample   int
	samplesPerPixel int
	sampleFormat    int
	compression     int
	tiled           bool
	stripOffsets    []int64
	stripByteCounts []int64
	tileOffsets     []int64
	tileByteCounts  []int64
}

// complexInt16 reports whether every pixel is an (re, im) int16 pair.
func (l *tiffLayout) complexInt16() bool {
	switch {
	case l.sampleFormat == sampleFormatComplexInt && l.samplesPerPixel == 1 && l.bitsPerSample == 32:
		return true
	case l.sampleFormat == sampleFormatInt && l.samplesPerPixel == 2 && l.bitsPerSample == 16:
		return true
	}
	return false
}

// OpenTIFF reads band 1 of the measurement TIFF at path. Complex int16
// rasters become *raster.Complex; grayscale rasters become *raster.Real.
func OpenTIFF(ctx context.Context, path string) (raster.Buffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, sar.IOError(path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, sar.IOError(path, err)
	}
	layout, err := readTIFFLayout(f, info.Size())
	if err != nil {
		return nil, sar.NewFormatError(path, "tiff header", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if layout.complexInt16() {
		out, err := readComplexStrips(ctx, f, layout)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			return nil, sar.NewFormatError(path, "tiff strips", err)
		}
		return out, nil
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, sar.IOError(path, err)
	}
	img, err := tiff.Decode(f)
	if err != nil {
		return nil, sar.NewFormatError(path, "tiff image", err)
	}
	return grayToReal(img), nil
}

func grayToReal(img image.Image) *raster.Real {
	b := img.Bounds()
	out := raster.NewReal(b.Dy(), b.Dx())
	switch v := img.(type) {
	case *image.Gray16:
		for y := 0; y < b.Dy(); y++ {
			row := out.Row(y)
			for x := range row {
				row[x] = float32(v.Gray16At(b.Min.X+x, b.Min.Y+y).Y)
			}
		}
	case *image.Gray:
		for y := 0; y < b.Dy(); y++ {
			row := out.Row(y)
			for x := range row {
				row[x] = float32(v.GrayAt(b.Min.X+x, b.Min.Y+y).Y)
			}
		}
	default:
		for y := 0; y < b.Dy(); y++ {
			row := out.Row(y)
			for x := range row {
				g := color.Gray16Model.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray16)
				row[x] = float32(g.Y)
			}
		}
	}
	return out
}

// readTIFFLayout parses the first IFD of a TIFF holding size bytes. Every
// size the header declares is checked against size before it is allocated.
func readTIFFLayout(r io.ReaderAt, size int64) (*tiffLayout, error) {
	var hdr [8]byte
	if _, err := r.ReadAt(hdr[:], 0); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	l := &tiffLayout{fileSize: size, samplesPerPixel: 1, compression: compressionNone, sampleFormat: 1}
	switch string(hdr[:2]) {
	case "II":
		l.order = binary.LittleEndian
	case "MM":
		l.order = binary.BigEndian
	default:
		return nil, fmt.Errorf("bad byte order mark %q", hdr[:2])
	}
	if l.order.Uint16(hdr[2:]) != 42 {
		return nil, errors.New("not a classic TIFF")
	}
	ifd := int64(l.order.Uint32(hdr[4:]))

	var cnt [2]byte
	if _, err := r.ReadAt(cnt[:], ifd); err != nil {
		return nil, fmt.Errorf("read IFD: %w", err)
	}
	n := int(l.order.Uint16(cnt[:]))
	if !l.holds(ifd+2, int64(12*n)) {
		return nil, fmt.Errorf("IFD of %d entries at %d exceeds file size %d", n, ifd, size)
	}
	entries := make([]byte, 12*n)
	if _, err := r.ReadAt(entries, ifd+2); err != nil {
		return nil, fmt.Errorf("read IFD entries: %w", err)
	}

	for i := 0; i < n; i++ {
		e := entries[12*i : 12*(i+1)]
		tag := l.order.Uint16(e[0:])
		vals, err := l.values(r, e)
		if err != nil {
			return nil, fmt.Errorf("tag %d: %w", tag, err)
		}
		if len(vals) == 0 {
			continue
		}
		switch tag {
		case tagImageWidth:
			l.width = int(vals[0])
		case tagImageLength:
			l.height = int(vals[0])
		case tagBitsPerSample:
			l.bitsPerSample = int(vals[0])
		case tagCompression:
			l.compression = int(vals[0])
		case tagStripOffsets:
			l.stripOffsets = vals
		case tagSamplesPerPixel:
			l.samplesPerPixel = int(vals[0])
		case tagStripByteCounts:
			l.stripByteCounts = vals
		case tagTileWidth:
			l.tiled = true
		case tagTileOffsets:
			l.tileOffsets = vals
		case tagTileByteCounts:
			l.tileByteCounts = vals
		case tagSampleFormat:
			l.sampleFormat = int(vals[0])
		}
	}
	if l.width <= 0 || l.height <= 0 {
		return nil, fmt.Errorf("image size %dx%d", l.width, l.height)
	}
	limit := size
	if l.compression != compressionNone {
		limit = size * maxTIFFInflation
	}
	if !l.fits(limit) {
		return nil, fmt.Errorf("image size %dx%d at %d bits exceeds what %d file bytes can hold", l.width, l.height, l.bitsPerSample*l.samplesPerPixel, size)
	}
	if err := l.checkSegments("strip", l.stripOffsets, l.stripByteCounts); err != nil {
		return nil, err
	}
	if err := l.checkSegments("tile", l.tileOffsets, l.tileByteCounts); err != nil {
		return nil, err
	}
	return l, nil
}

// checkSegments verifies that every strip or tile lies inside the file.
func (l *tiffLayout) checkSegments(kind string, offsets, counts []int64) error {
	for i := range min(len(offsets), len(counts)) {
		if !l.holds(offsets[i], counts[i]) {
			return fmt.Errorf("%s %d of %d bytes at %d exceeds file size %d", kind, i, counts[i], offsets[i], l.fileSize)
		}
	}
	return nil
}

// holds reports whether n bytes starting at off lie inside the file.
func (l *tiffLayout) holds(off, n int64) bool {
	return off >= 0 && n >= 0 && off <= l.fileSize && n <= l.fileSize-off
}

// fits reports whether the decoded image takes at most limit bytes.
func (l *tiffLayout) fits(limit int64) bool {
	pixelBytes := (int64(l.bitsPerSample)*int64(l.samplesPerPixel) + 7) / 8
	if pixelBytes < 1 {
		pixelBytes = 1
	}
	rowBytes := int64(l.width) * pixelBytes
	return rowBytes <= limit && int64(l.height) <= limit/rowBytes
}

// tiffTypeSize is the byte width of each TIFF field type.
var tiffTypeSize = map[uint16]int64{
	1: 1, 2: 1, 3: 2, 4: 4, 5: 8, 6: 1, 7: 1, 8: 2, 9: 4, 10: 8, 11: 4, 12: 8,
}

// values decodes the SHORT or LONG values of one IFD entry. Entries of other
// types are only checked to lie inside the file.
func (l *tiffLayout) values(r io.ReaderAt, e []byte) ([]int64, error) {
	typ := l.order.Uint16(e[2:])
	count := int64(l.order.Uint32(e[4:]))
	size, ok := tiffTypeSize[typ]
	if !ok {
		return nil, nil
	}
	raw := e[8:12]
	if n := count * size; n > 4 {
		off := int64(l.order.Uint32(e[8:]))
		if !l.holds(off, n) {
			return nil, fmt.Errorf("%d values at %d exceed file size %d", count, off, l.fileSize)
		}
		if typ != 3 && typ != 4 {
			return nil, nil
		}
		raw = make([]byte, n)
		if _, err := r.ReadAt(raw, off); err != nil {
			return nil, err
		}
	} else if typ != 3 && typ != 4 {
		return nil, nil
	}
	out := make([]int64, count)
	for i := range out {
		if size == 2 {
			out[i] = int64(l.order.Uint16(raw[2*i:]))
		} else {
			out[i] = int64(l.order.Uint32(raw[4*i:]))
		}
	}
	return out, nil
}

func readComplexStrips(ctx context.Context, r io.ReaderAt, l *tiffLayout) (*raster.Complex, error) {
	if l.compression != compressionNone {
		return nil, fmt.Errorf("compression %d not supported for complex rasters", l.compression)
	}
	if l.tiled {
		return nil, errors.New("tiled complex rasters not supported")
	}
	if len(l.stripOffsets) == 0 || len(l.stripOffsets) != len(l.stripByteCounts) {
		return nil, fmt.Errorf("%d strip offsets for %d byte counts", len(l.stripOffsets), len(l.stripByteCounts))
	}

	out := raster.NewComplex(l.height, l.width)
	want := int64(len(out.Data)) * 4
	var got int64
	for i, off := range l.stripOffsets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n := l.stripByteCounts[i]
		if n%4 != 0 || got+n > want || !l.holds(off, n) {
			return nil, fmt.Errorf("strip %d has %d bytes at %d", i, n, off)
		}
		buf := make([]byte, n)
		if _, err := r.ReadAt(buf, off); err != nil {
			return nil, fmt.Errorf("strip %d: %w", i, err)
		}
		base := int(got / 4)
		for j := 0; j < len(buf)/4; j++ {
			out.Data[base+j] = raster.CInt16{
				Re: int16(l.order.Uint16(buf[4*j:])),
				Im: int16(l.order.Uint16(buf[4*j+2:])),
			}
		}
		got += n
	}
	if got != want {
		return nil, fmt.Errorf("strips hold %d bytes, image needs %d", got, want)
	}
	return out, nil
}
