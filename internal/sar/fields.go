package sar

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Time layouts found in product annotation files. Values carry no zone and
// are always read as UTC.
var productTimeLayouts = []string{
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05.999999Z",
	"2006-01-02T15:04:05.999999999",
	time.RFC3339Nano,
}

// ParseTime parses a product timestamp in UTC.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time string")
	}
	var lastErr error
	for _, layout := range productTimeLayouts {
		t, err := time.ParseInLocation(layout, s, time.UTC)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, fmt.Errorf("parse time %q: %w", s, lastErr)
}

// Fields converts required XML text values, remembering the first failure so
// a parser can read every field and check once.
type Fields struct {
	Path string
	err  error
}

func (f *Fields) fail(field string, err error) {
	if f.err == nil {
		f.err = NewFormatError(f.Path, field, err)
	}
}

// String returns the trimmed value, failing when it is empty.
func (f *Fields) String(field, s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		f.fail(field, nil)
	}
	return s
}

// Float parses a required float.
func (f *Fields) Float(field, s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		f.fail(field, nil)
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		f.fail(field, err)
	}
	return v
}

// Int parses a required integer.
func (f *Fields) Int(field, s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		f.fail(field, nil)
		return 0
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		f.fail(field, err)
	}
	return v
}

// Positive parses a required integer greater than zero.
func (f *Fields) Positive(field, s string) int {
	v := f.Int(field, s)
	if f.err == nil && v <= 0 {
		f.fail(field, fmt.Errorf("must be positive, got %d", v))
	}
	return v
}

// Time parses a required product timestamp.
func (f *Fields) Time(field, s string) time.Time {
	if strings.TrimSpace(s) == "" {
		f.fail(field, nil)
		return time.Time{}
	}
	t, err := ParseTime(s)
	if err != nil {
		f.fail(field, err)
	}
	return t
}

// Ints parses a required space-separated integer list.
func (f *Fields) Ints(field, s string) []int {
	parts := strings.Fields(s)
	if len(parts) == 0 {
		f.fail(field, nil)
		return nil
	}
	out := make([]int, len(parts))
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil {
			f.fail(field, err)
			return nil
		}
		out[i] = v
	}
	return out
}

// Check records a failure for field when ok is false.
func (f *Fields) Check(field string, ok bool, format string, args ...any) {
	if !ok {
		f.fail(field, fmt.Errorf(format, args...))
	}
}

// Err returns the first failure, or nil.
func (f *Fields) Err() error { return f.err }
