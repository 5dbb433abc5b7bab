package cfar

import (
	"context"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
)

// Both kernels are outer products of a 1-D profile with itself, so each 2-D
// convolution runs as a row pass followed by a column pass.

// backgroundProfile is one everywhere except the central guard band
// [w/2-g/2, w/2+g/2).
func backgroundProfile(w, g int) []float64 {
	p := make([]float64, w)
	for i := range p {
		p[i] = 1
	}
	for i := w/2 - g/2; i < w/2+g/2; i++ {
		p[i] = 0
	}
	return p
}

// targetProfile is one on the central band [w/2-t/2, w/2+t/2) and zero
// elsewhere.
func targetProfile(w, t int) []float64 {
	p := make([]float64, w)
	for i := w/2 - t/2; i < w/2+t/2; i++ {
		p[i] = 1
	}
	return p
}

// Kernel expands a profile into its square kernel, row-major.
func Kernel(profile []float64) []float64 {
	n := len(profile)
	k := make([]float64, n*n)
	for i, a := range profile {
		for j, b := range profile {
			k[i*n+j] = a * b
		}
	}
	return k
}

// field is a row-major float64 plane.
type field struct {
	rows, cols int
	data       []float64
}

func newField(rows, cols int) *field {
	return &field{rows: rows, cols: cols, data: make([]float64, rows*cols)}
}

// clearBorder zeroes a band of width b along every edge.
func (f *field) clearBorder(b int) {
	if b <= 0 {
		return
	}
	for y := 0; y < f.rows; y++ {
		row := f.data[y*f.cols : (y+1)*f.cols]
		if y < b || y >= f.rows-b {
			clear(row)
			continue
		}
		clear(row[:min(b, f.cols)])
		clear(row[max(f.cols-b, 0):])
	}
}

// convolver computes same-size linear convolutions with a separable,
// normalized kernel. Output sample i of a line of n samples is
// sum_k p[k]*in[i+c-k] for c = (len(p)-1)/2, with zeros outside the line.
type convolver struct {
	rev     []float64
	left    int
	workers int
}

func newConvolver(profile []float64, workers int) *convolver {
	n := len(profile)
	sum := floats.Sum(profile)
	rev := make([]float64, n)
	for k, v := range profile {
		rev[n-1-k] = v / sum
	}
	return &convolver{rev: rev, left: n - 1 - (n-1)/2, workers: workers}
}

// line convolves src into dst, using pad as scratch of len(src)+len(rev)-1.
func (c *convolver) line(dst, src, pad []float64) {
	clear(pad)
	copy(pad[c.left:], src)
	k := len(c.rev)
	for i := range dst {
		dst[i] = floats.Dot(c.rev, pad[i:i+k])
	}
}

// apply returns the 2-D convolution of in.
func (c *convolver) apply(ctx context.Context, in *field) (*field, error) {
	tmp := newField(in.rows, in.cols)
	out := newField(in.rows, in.cols)
	k := len(c.rev)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for y := 0; y < in.rows; y++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			pad := make([]float64, in.cols+k-1)
			c.line(tmp.data[y*in.cols:(y+1)*in.cols], in.data[y*in.cols:(y+1)*in.cols], pad)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for x := 0; x < in.cols; x++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			src := make([]float64, in.rows)
			dst := make([]float64, in.rows)
			pad := make([]float64, in.rows+k-1)
			for y := range src {
				src[y] = tmp.data[y*in.cols+x]
			}
			c.line(dst, src, pad)
			for y, v := range dst {
				out.data[y*in.cols+x] = v
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
