// Package texture estimates local intensity variance and classifies how
// textured an image is overall.
package texture

import (
	"fmt"
	"image"
	"math"
	"sort"

	"gocv.io/x/gocv"

	"moldscope/internal/opencv/safe"
)

// Percentile bounds used to suppress outliers before rescaling the
// multi-scale map to 8 bits.
const (
	ClipLowPercentile  = 1.0
	ClipHighPercentile = 99.5
)

// Map is a dense float variance map in row-major order.
type Map struct {
	Width  int
	Height int
	Values []float32
}

// LocalVariance computes E[X²] − E[X]² over a window×window box for every
// pixel, using OpenCV's default reflect-101 border. Window sizes are used as
// given; callers coerce them with SanitizeScales first.
func LocalVariance(gray *safe.Mat, window int) (*Map, error) {
	if err := safe.ValidateChannels(gray, 1, "local variance"); err != nil {
		return nil, err
	}
	if window < 1 {
		return nil, fmt.Errorf("window size must be positive, got %d", window)
	}

	src := gray.GetMat()

	f := gocv.NewMat()
	defer f.Close()
	src.ConvertTo(&f, gocv.MatTypeCV32F)

	sq := gocv.NewMat()
	defer sq.Close()
	if err := gocv.Multiply(f, f, &sq); err != nil {
		return nil, fmt.Errorf("square: %w", err)
	}

	ksize := image.Point{X: window, Y: window}

	mean := gocv.NewMat()
	defer mean.Close()
	if err := gocv.BoxFilter(f, &mean, -1, ksize); err != nil {
		return nil, fmt.Errorf("box filter mean: %w", err)
	}

	sqMean := gocv.NewMat()
	defer sqMean.Close()
	if err := gocv.BoxFilter(sq, &sqMean, -1, ksize); err != nil {
		return nil, fmt.Errorf("box filter square mean: %w", err)
	}

	m, err := mean.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("mean buffer: %w", err)
	}
	s, err := sqMean.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("square mean buffer: %w", err)
	}
	if len(m) != len(s) || len(m) != gray.Rows()*gray.Cols() {
		return nil, fmt.Errorf("unexpected box filter output size %d/%d", len(m), len(s))
	}

	values := make([]float32, len(m))
	for i := range values {
		// Rounding can leave tiny negative residue on flat regions.
		values[i] = max(0, s[i]-m[i]*m[i])
	}

	return &Map{Width: gray.Cols(), Height: gray.Rows(), Values: values}, nil
}

// CombinedVariance returns the pixel-wise maximum of LocalVariance across all
// scales, so a pixel counts as textured if it is textured at any scale.
func CombinedVariance(gray *safe.Mat, scales []int) (*Map, error) {
	if len(scales) == 0 {
		return nil, fmt.Errorf("at least one scale is required")
	}

	var combined *Map
	for _, k := range scales {
		v, err := LocalVariance(gray, k)
		if err != nil {
			return nil, fmt.Errorf("scale %d: %w", k, err)
		}
		if combined == nil {
			combined = v
			continue
		}
		for i, x := range v.Values {
			combined.Values[i] = max(combined.Values[i], x)
		}
	}

	return combined, nil
}

// MultiScaleVariance combines variance across scales, clips to the
// [1st, 99.5th] percentile range and rescales linearly to 0..255. A map with
// no spread after clipping becomes all zeros.
func MultiScaleVariance(gray *safe.Mat, scales []int) (*safe.Mat, error) {
	combined, err := CombinedVariance(gray, scales)
	if err != nil {
		return nil, err
	}

	out := Normalize(combined.Values)
	return safe.NewMatFromBytes(combined.Height, combined.Width, gocv.MatTypeCV8UC1, out)
}

// Normalize clips values to the configured percentile band and maps the
// clipped range onto 0..255 with truncation.
func Normalize(values []float32) []byte {
	out := make([]byte, len(values))
	if len(values) == 0 {
		return out
	}

	sorted := make([]float64, len(values))
	for i, v := range values {
		sorted[i] = float64(v)
	}
	sort.Float64s(sorted)

	lo := rankPercentile(sorted, ClipLowPercentile)
	hi := rankPercentile(sorted, ClipHighPercentile)

	// Min and max of the clipped data, as a min-max normalization sees them.
	minV := max(sorted[0], lo)
	maxV := min(sorted[len(sorted)-1], hi)
	span := maxV - minV
	if span <= 1e-12 {
		return out
	}

	for i, v := range values {
		x := min(max(float64(v), lo), hi)
		out[i] = byte(min(max((x-minV)*255/span, 0), 255))
	}

	return out
}

// rankPercentile interpolates linearly between the two order statistics
// around rank p/100*(n-1). sorted must be ascending and non-empty.
func rankPercentile(sorted []float64, p float64) float64 {
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	if lo >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	if lo < 0 {
		return sorted[0]
	}
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}
