// Package decode reads raw SAR measurement files into raster buffers.
package decode

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rkm/sarwatch/internal/raster"
	"github.com/rkm/sarwatch/internal/sar"
)

// cosAnnotationLines is the number of range lines occupied by each burst
// header block.
const cosAnnotationLines = 4

// cosPrefixSamples is the count of per-line annotation samples preceding the
// image samples of every range line.
const cosPrefixSamples = 2

// maxCOSRangeSamples bounds the range width a burst header may declare before
// any line buffer is sized from it.
const maxCOSRangeSamples = 1 << 20

// COSHeader is the leading record of a COSAR burst.
type COSHeader struct {
	BytesInBurst     int32
	RangeSampleIndex int32
	RangeSamples     int32
	AzimuthSamples   int32
	BurstIndex       int32
}

// LineSamples is the width of one stored range line.
func (h COSHeader) LineSamples() int {
	return int(h.RangeSamples) + cosPrefixSamples
}

// COSReader streams bursts out of a COSAR file one at a time. The burst
// layout is fixed by the first header; later headers must agree on the range
// sample count.
//
// When the source can report its size, a burst declaring more bytes than
// remain is rejected before anything is allocated. Otherwise the burst raster
// grows one line at a time as data arrives.
type COSReader struct {
	r         *bufio.Reader
	path      string
	first     *COSHeader
	bursts    int
	line      []byte
	remaining int64
}

// NewCOSReader wraps r; path is used only in error messages.
func NewCOSReader(r io.Reader, path string) *COSReader {
	return &COSReader{r: bufio.NewReaderSize(r, 1<<20), path: path, remaining: unreadSize(r)}
}

// unreadSize returns how many bytes r still holds, or -1 when r cannot tell.
func unreadSize(r io.Reader) int64 {
	switch v := r.(type) {
	case interface{ Len() int }:
		return int64(v.Len())
	case *os.File:
		info, err := v.Stat()
		if err != nil || !info.Mode().IsRegular() {
			return -1
		}
		pos, err := v.Seek(0, io.SeekCurrent)
		if err != nil {
			return -1
		}
		return info.Size() - pos
	}
	return -1
}

func (c *COSReader) consume(n int64) {
	if c.remaining >= 0 {
		c.remaining -= n
	}
}

// Bursts returns how many bursts have been read.
func (c *COSReader) Bursts() int { return c.bursts }

// Next reads the next burst. It returns io.EOF after the last burst.
func (c *COSReader) Next() (*raster.Complex, COSHeader, error) {
	var h COSHeader
	if err := binary.Read(c.r, binary.BigEndian, &h); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, h, io.EOF
		}
		return nil, h, c.formatError("burst header", err)
	}
	headerSize := int64(binary.Size(h))
	c.consume(headerSize)
	if h.RangeSamples <= 0 || h.AzimuthSamples <= 0 {
		return nil, h, c.formatError("burst header", fmt.Errorf("burst %d has %d range and %d azimuth samples", c.bursts, h.RangeSamples, h.AzimuthSamples))
	}
	if h.RangeSamples > maxCOSRangeSamples {
		return nil, h, c.formatError("burst header", fmt.Errorf("burst %d has %d range samples, limit is %d", c.bursts, h.RangeSamples, maxCOSRangeSamples))
	}
	if c.first != nil && h.RangeSamples != c.first.RangeSamples {
		return nil, h, c.formatError("burst header", fmt.Errorf("burst %d has %d range samples, first burst has %d", c.bursts, h.RangeSamples, c.first.RangeSamples))
	}

	lineBytes := int64(h.LineSamples()) * 4
	// The header record sits at the start of a block of annotation lines.
	skip := cosAnnotationLines*lineBytes - headerSize
	need := skip + int64(h.AzimuthSamples)*lineBytes
	if c.remaining >= 0 && need > c.remaining {
		return nil, h, c.formatError("burst header", fmt.Errorf("burst %d declares %d bytes, %d remain", c.bursts, need, c.remaining))
	}
	if c.first == nil {
		first := h
		c.first = &first
		c.line = make([]byte, lineBytes)
	}

	if _, err := io.CopyN(io.Discard, c.r, skip); err != nil {
		return nil, h, c.formatError("burst annotation", truncated(err))
	}
	c.consume(skip)

	width := h.LineSamples()
	rows := int(h.AzimuthSamples)
	out := raster.NewComplex(0, width)
	if c.remaining >= 0 {
		out.Grow(rows)
	}
	scratch := raster.NewComplex(1, width)
	for y := range rows {
		if _, err := io.ReadFull(c.r, c.line); err != nil {
			return nil, h, c.formatError("burst samples", fmt.Errorf("burst %d line %d: %w", c.bursts, y, truncated(err)))
		}
		c.consume(lineBytes)
		row := scratch.Row(0)
		for x := range row {
			o := x * 4
			row[x] = raster.CInt16{
				Re: int16(binary.BigEndian.Uint16(c.line[o:])),
				Im: int16(binary.BigEndian.Uint16(c.line[o+2:])),
			}
		}
		if err := out.AppendRows(scratch, 0, 1); err != nil {
			return nil, h, err
		}
	}
	c.bursts++
	return out, h, nil
}

func (c *COSReader) formatError(field string, err error) error {
	return sar.NewFormatError(c.path, field, err)
}

func truncated(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

// DecodeCOS reads every burst of r and stacks them vertically. The context is
// checked between bursts.
func DecodeCOS(ctx context.Context, r io.Reader, path string) (*raster.Complex, error) {
	cr := NewCOSReader(r, path)
	var out *raster.Complex
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		burst, _, err := cr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if out == nil {
			out = burst
			continue
		}
		if err := out.AppendRows(burst, 0, burst.Rows()); err != nil {
			return nil, err
		}
	}
	if out == nil {
		return nil, sar.NewFormatError(path, "burst header", errors.New("no bursts"))
	}
	return out, nil
}

// OpenCOS decodes the COSAR file at path.
func OpenCOS(ctx context.Context, path string) (*raster.Complex, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, sar.IOError(path, err)
	}
	defer f.Close()
	return DecodeCOS(ctx, f, path)
}
