package sentinel

import (
	"fmt"
	"math"
	"time"

	"github.com/rkm/sarwatch/internal/raster"
	"github.com/rkm/sarwatch/internal/sar"
)

// DeburstReport describes how the bursts were stitched.
type DeburstReport struct {
	// Contributed holds the rows each burst supplies to the stitched image,
	// after later bursts have overwritten any overlap.
	Contributed []int
	// Clamped lists bursts whose cut row fell outside the stitched image and
	// was clamped to it.
	Clamped []int
}

// Deburst joins the stacked bursts of an SLC raster into one continuous
// image. Burst 0 is kept whole. Each later burst drops its leading invalid
// lines (firstValidSample == -1); the stitched image is truncated at the row
// matching the time of its first valid line and the burst's valid rows are
// appended. Row times are measured from the start of burst 0.
//
// A cut row past the end of the stitched image is clamped to its length, and
// a negative cut to zero; both are listed in the report.
func Deburst(img *raster.Complex, bursts []Burst, linesPerBurst int, interval float64) (*raster.Complex, DeburstReport, error) {
	var report DeburstReport
	if len(bursts) == 0 {
		return img, report, nil
	}
	if linesPerBurst <= 0 || interval <= 0 {
		return nil, report, fmt.Errorf("%w: deburst needs positive lines per burst and interval", sar.ErrFormat)
	}
	if need := len(bursts) * linesPerBurst; img.Rows() < need {
		return nil, report, fmt.Errorf("%w: %d bursts of %d lines need %d rows, raster has %d",
			sar.ErrFormat, len(bursts), linesPerBurst, need, img.Rows())
	}

	out := raster.NewComplex(0, img.Cols())
	if err := out.AppendRows(img, 0, linesPerBurst); err != nil {
		return nil, report, err
	}
	report.Contributed = append(report.Contributed, linesPerBurst)
	origin := bursts[0].AzimuthTime

	for i := 1; i < len(bursts); i++ {
		invalid := leadingInvalid(bursts[i].FirstValidSample)
		if invalid > linesPerBurst {
			invalid = linesPerBurst
		}
		validStart := bursts[i].AzimuthTime.Add(time.Duration(float64(invalid) * interval * float64(time.Second)))

		cut := int(math.Round(validStart.Sub(origin).Seconds() / interval))
		switch {
		case cut > out.Rows():
			cut = out.Rows()
			report.Clamped = append(report.Clamped, i)
		case cut < 0:
			cut = 0
			report.Clamped = append(report.Clamped, i)
		}
		if err := out.Truncate(cut); err != nil {
			return nil, report, err
		}
		report.trim(cut)

		start := i*linesPerBurst + invalid
		if err := out.AppendRows(img, start, (i+1)*linesPerBurst); err != nil {
			return nil, report, err
		}
		report.Contributed = append(report.Contributed, linesPerBurst-invalid)
	}
	return out, report, nil
}

// trim drops rows from the most recent contributions until they sum to rows.
func (r *DeburstReport) trim(rows int) {
	total := 0
	for _, n := range r.Contributed {
		total += n
	}
	for i := len(r.Contributed) - 1; i >= 0 && total > rows; i-- {
		drop := min(r.Contributed[i], total-rows)
		r.Contributed[i] -= drop
		total -= drop
	}
}

func leadingInvalid(firstValid []int) int {
	n := 0
	for _, v := range firstValid {
		if v != -1 {
			break
		}
		n++
	}
	return n
}
