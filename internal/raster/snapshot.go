package raster

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

const snapshotMagic = "SARSNAP1"

// maxSnapshotSamples guards allocation when reading an untrusted header.
const maxSnapshotSamples = 1 << 31

// ErrSnapshot is returned for unreadable snapshot streams.
var ErrSnapshot = errors.New("invalid raster snapshot")

type snapshotHeader struct {
	Magic [8]byte
	Kind  uint8
	_     [3]byte
	Rows  uint32
	Cols  uint32
}

// WriteSnapshot stores b as a zstd-compressed little-endian sample dump that
// ReadSnapshot restores exactly.
func WriteSnapshot(w io.Writer, b Buffer) error {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return fmt.Errorf("create zstd writer: %w", err)
	}

	h := snapshotHeader{Kind: uint8(b.Kind()), Rows: uint32(b.Rows()), Cols: uint32(b.Cols())}
	copy(h.Magic[:], snapshotMagic)
	if err := binary.Write(enc, binary.LittleEndian, h); err != nil {
		enc.Close()
		return fmt.Errorf("write snapshot header: %w", err)
	}

	switch v := b.(type) {
	case *Real:
		err = binary.Write(enc, binary.LittleEndian, v.Data)
	case *Complex:
		err = binary.Write(enc, binary.LittleEndian, v.Data)
	default:
		err = fmt.Errorf("unsupported buffer %T", b)
	}
	if err != nil {
		enc.Close()
		return fmt.Errorf("write snapshot samples: %w", err)
	}
	return enc.Close()
}

// ReadSnapshot restores a buffer written by WriteSnapshot.
func ReadSnapshot(r io.Reader) (Buffer, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("create zstd reader: %w", err)
	}
	defer dec.Close()

	var h snapshotHeader
	if err := binary.Read(dec, binary.LittleEndian, &h); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrSnapshot, err)
	}
	if string(h.Magic[:]) != snapshotMagic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrSnapshot, h.Magic[:])
	}
	n := uint64(h.Rows) * uint64(h.Cols)
	if n > maxSnapshotSamples {
		return nil, fmt.Errorf("%w: %dx%d too large", ErrSnapshot, h.Rows, h.Cols)
	}
	rows, cols := int(h.Rows), int(h.Cols)

	switch Kind(h.Kind) {
	case KindReal:
		out := NewReal(rows, cols)
		if err := binary.Read(dec, binary.LittleEndian, out.Data); err != nil {
			return nil, fmt.Errorf("%w: samples: %v", ErrSnapshot, err)
		}
		return out, nil
	case KindComplex:
		out := NewComplex(rows, cols)
		if err := binary.Read(dec, binary.LittleEndian, out.Data); err != nil {
			return nil, fmt.Errorf("%w: samples: %v", ErrSnapshot, err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %d", ErrSnapshot, h.Kind)
	}
}
