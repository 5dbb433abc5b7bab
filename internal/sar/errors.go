package sar

import (
	"errors"
	"fmt"

	"github.com/rkm/sarwatch/internal/raster"
)

var (
	// ErrFormat is returned when a product file is missing a required field
	// or its binary layout is inconsistent.
	ErrFormat = errors.New("malformed product")

	// ErrChannelOutOfRange is returned for a channel outside [0, NumChannels).
	ErrChannelOutOfRange = errors.New("channel out of range")

	// ErrOutOfBounds is returned for crop frames outside the raster.
	ErrOutOfBounds = raster.ErrOutOfBounds

	// ErrIO wraps failures reading product files.
	ErrIO = errors.New("product i/o failure")

	// ErrUnsupported is returned for product layouts no sensor handles.
	ErrUnsupported = errors.New("unsupported product")
)

// FormatError reports a missing or malformed field in a product file.
type FormatError struct {
	Path  string
	Field string
	Err   error
}

// NewFormatError builds a FormatError; a nil err means the field was absent.
func NewFormatError(path, field string, err error) *FormatError {
	return &FormatError{Path: path, Field: field, Err: err}
}

func (e *FormatError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s: missing", e.Path, e.Field)
	}
	return fmt.Sprintf("%s: %s: %v", e.Path, e.Field, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

// Is matches ErrFormat so callers need not know the concrete type.
func (e *FormatError) Is(target error) bool { return target == ErrFormat }

// IOError wraps an underlying file error with ErrIO.
func IOError(path string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrIO, path, err)
}

// ChannelError reports an invalid channel index.
func ChannelError(channel, n int) error {
	return fmt.Errorf("%w: %d not in [0, %d)", ErrChannelOutOfRange, channel, n)
}
