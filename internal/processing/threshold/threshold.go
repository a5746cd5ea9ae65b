// Package threshold turns an 8-bit texture map into a binary candidate mask.
package threshold

import (
	"context"
	"fmt"
	"math"
	"sort"

	"gocv.io/x/gocv"

	"moldscope/internal/models"
	"moldscope/internal/opencv/safe"
	"moldscope/internal/processing/histogram"
)

const (
	// MADScale makes the median absolute deviation a consistent estimator of
	// the standard deviation for normally distributed data.
	MADScale = 1.4826
	// MADFloor keeps the z-score threshold finite on flat maps.
	MADFloor = 1e-6

	MinPercentile = 50.0
	MaxPercentile = 99.5
)

// Policy is the subset of detection parameters the threshold engine reads
type Policy struct {
	Mode       models.ThresholdMode
	Fixed      uint8
	ZScoreK    float64
	Percentile float64
}

// PolicyFrom extracts the threshold policy from a detection parameter record
func PolicyFrom(p models.DetectParams) Policy {
	return Policy{
		Mode:       p.ThresholdMode,
		Fixed:      p.FixedThreshold,
		ZScoreK:    p.ZScoreK,
		Percentile: p.Percentile,
	}
}

// ClampPercentile bounds p to [MinPercentile, MaxPercentile].
func ClampPercentile(p float64) float64 {
	return min(max(p, MinPercentile), MaxPercentile)
}

// Compute derives the scalar threshold for a histogram of the texture map.
func Compute(counts histogram.Counts, policy Policy) (float64, error) {
	switch policy.Mode {
	case models.ThresholdFixed:
		return float64(policy.Fixed), nil
	case models.ThresholdZScore:
		med, mad := MedianMAD(counts)
		return med + policy.ZScoreK*MADScale*(mad+MADFloor), nil
	case models.ThresholdPercentile:
		return counts.Percentile(ClampPercentile(policy.Percentile)), nil
	default:
		return 0, fmt.Errorf("unknown threshold mode %q", policy.Mode)
	}
}

// MedianMAD returns the median and the median absolute deviation of the
// histogram's samples. An empty histogram yields zeros.
func MedianMAD(counts histogram.Counts) (float64, float64) {
	if counts.Total() == 0 {
		return 0, 0
	}

	med := counts.Percentile(50)

	// Deviations from a possibly fractional median, merged by value.
	byDev := make(map[float64]int, histogram.Bins)
	for v, n := range counts {
		if n > 0 {
			byDev[math.Abs(float64(v)-med)] += n
		}
	}

	devs := make([]float64, 0, len(byDev))
	for d := range byDev {
		devs = append(devs, d)
	}
	sort.Float64s(devs)

	weights := make([]int, len(devs))
	for i, d := range devs {
		weights[i] = byDev[d]
	}

	return med, histogram.WeightedPercentile(devs, weights, 50)
}

// Apply marks every pixel strictly above th with 255.
func Apply(textureMap *safe.Mat, th float64) (*safe.Mat, error) {
	if err := safe.ValidateChannels(textureMap, 1, "threshold"); err != nil {
		return nil, err
	}

	data, err := textureMap.Bytes()
	if err != nil {
		return nil, err
	}

	mask := make([]byte, len(data))
	for i, v := range data {
		if float64(v) > th {
			mask[i] = 255
		}
	}

	return safe.NewMatFromBytes(textureMap.Rows(), textureMap.Cols(), gocv.MatTypeCV8UC1, mask)
}

// Engine is a chain step that thresholds a texture map with a fixed policy.
// The most recent threshold is kept for diagnostics.
type Engine struct {
	policy Policy
	last   float64
}

func NewEngine(policy Policy) *Engine {
	return &Engine{policy: policy}
}

func (e *Engine) Name() string {
	return "threshold_engine"
}

func (e *Engine) ShouldExecute() bool {
	return true
}

func (e *Engine) Apply(ctx context.Context, input *safe.Mat) (*safe.Mat, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	counts, err := histogram.Build(input)
	if err != nil {
		return nil, err
	}

	th, err := Compute(counts, e.policy)
	if err != nil {
		return nil, err
	}
	e.last = th

	return Apply(input, th)
}

// LastThreshold returns the threshold used by the most recent Apply call
func (e *Engine) LastThreshold() float64 {
	return e.last
}
