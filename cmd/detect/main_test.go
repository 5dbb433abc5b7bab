package main

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/rkm/sarwatch/internal/sar"
)

func TestRunArguments(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		opts options
		want error
	}{
		{"missing product", options{}, nil},
		{"bad roi", options{product: dir, roi: "1,2"}, nil},
		{"unsupported product", options{product: dir}, sar.ErrUnsupported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			err := run(context.Background(), tt.opts, &out)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
			if out.Len() != 0 {
				t.Errorf("unexpected output %q", out.String())
			}
		})
	}
}
