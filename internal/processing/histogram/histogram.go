// Package histogram builds 256-bin intensity histograms over 8-bit maps and
// answers order-statistic queries against them.
package histogram

import (
	"fmt"
	"math"

	"gocv.io/x/gocv"

	"moldscope/internal/opencv/safe"
)

const Bins = 256

// Counts is a 256-bin histogram of an 8-bit single-channel image
type Counts [Bins]int

// Build computes the histogram of an 8-bit single-channel Mat with OpenCV.
func Build(src *safe.Mat) (Counts, error) {
	var counts Counts

	if err := safe.ValidateChannels(src, 1, "histogram"); err != nil {
		return counts, err
	}
	if src.Type() != gocv.MatTypeCV8UC1 {
		return counts, fmt.Errorf("histogram requires CV_8UC1, got type %d", int(src.Type()))
	}

	hist := gocv.NewMat()
	defer hist.Close()
	mask := gocv.NewMat()
	defer mask.Close()

	err := gocv.CalcHist([]gocv.Mat{src.GetMat()}, []int{0}, mask, &hist, []int{Bins}, []float64{0, Bins}, false)
	if err != nil {
		return counts, fmt.Errorf("calc hist: %w", err)
	}

	values, err := hist.DataPtrFloat32()
	if err != nil {
		return counts, fmt.Errorf("histogram buffer: %w", err)
	}
	if len(values) != Bins {
		return counts, fmt.Errorf("unexpected histogram length %d", len(values))
	}

	for i, v := range values {
		counts[i] = int(math.Round(float64(v)))
	}
	return counts, nil
}

// FromBytes counts raw 8-bit samples.
func FromBytes(data []byte) Counts {
	var counts Counts
	for _, v := range data {
		counts[v]++
	}
	return counts
}

// Total returns the number of samples in the histogram
func (c *Counts) Total() int {
	total := 0
	for _, n := range c {
		total += n
	}
	return total
}

// Above counts samples strictly greater than th
func (c *Counts) Above(th float64) int {
	n := 0
	for v, count := range c {
		if float64(v) > th {
			n += count
		}
	}
	return n
}

// Percentile returns the p-th percentile (0..100) of the samples, linearly
// interpolating between the two nearest ranks. An empty histogram yields 0.
func (c *Counts) Percentile(p float64) float64 {
	values := make([]float64, Bins)
	for i := range values {
		values[i] = float64(i)
	}
	return WeightedPercentile(values, c[:], p)
}

// WeightedPercentile treats counts[i] as the multiplicity of values[i] and
// returns the p-th percentile of the expanded sample. values must be sorted
// ascending. The rank is p/100·(n−1), interpolated between neighbouring ranks.
func WeightedPercentile(values []float64, counts []int, p float64) float64 {
	total := 0
	for _, n := range counts {
		total += n
	}
	if total == 0 {
		return 0
	}

	p = min(max(p, 0), 100)
	rank := p / 100 * float64(total-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))

	vLo := valueAtRank(values, counts, lo)
	if hi == lo {
		return vLo
	}
	vHi := valueAtRank(values, counts, hi)
	return vLo + (rank-float64(lo))*(vHi-vLo)
}

func valueAtRank(values []float64, counts []int, rank int) float64 {
	seen := 0
	for i, n := range counts {
		seen += n
		if rank < seen {
			return values[i]
		}
	}
	return values[len(values)-1]
}
