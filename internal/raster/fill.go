package raster

// FillBelow replaces every sample not above th with the mean of the samples
// above it, flattening dark regions before detection. It returns the number
// of samples replaced; nothing changes when no sample exceeds th.
func FillBelow(r *Real, th float32) int {
	var sum float64
	var n int
	for _, v := range r.Data {
		if v > th {
			sum += float64(v)
			n++
		}
	}
	if n == 0 {
		return 0
	}
	mean := float32(sum / float64(n))

	replaced := 0
	for i, v := range r.Data {
		if !(v > th) {
			r.Data[i] = mean
			replaced++
		}
	}
	return replaced
}
