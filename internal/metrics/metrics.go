// Package metrics scores predicted masks against ground truth.
package metrics

import (
	"fmt"
	"image"

	"gonum.org/v1/gonum/stat"
)

// Confusion holds pixel counts of a binary mask comparison. Any nonzero
// sample is foreground.
type Confusion struct {
	TruePositive  int
	FalsePositive int
	FalseNegative int
	TrueNegative  int
}

// Compare counts agreement between a prediction and a ground-truth mask of
// the same size.
func Compare(pred, truth *image.Gray) (Confusion, error) {
	var c Confusion
	if pred == nil || truth == nil {
		return c, fmt.Errorf("masks must not be nil")
	}

	pb, tb := pred.Bounds(), truth.Bounds()
	if pb.Dx() != tb.Dx() || pb.Dy() != tb.Dy() {
		return c, fmt.Errorf("mask sizes differ: %dx%d vs %dx%d", pb.Dx(), pb.Dy(), tb.Dx(), tb.Dy())
	}

	for y := 0; y < pb.Dy(); y++ {
		for x := 0; x < pb.Dx(); x++ {
			p := pred.GrayAt(pb.Min.X+x, pb.Min.Y+y).Y > 0
			t := truth.GrayAt(tb.Min.X+x, tb.Min.Y+y).Y > 0

			switch {
			case p && t:
				c.TruePositive++
			case p:
				c.FalsePositive++
			case t:
				c.FalseNegative++
			default:
				c.TrueNegative++
			}
		}
	}

	return c, nil
}

// IoU is intersection over union. Two empty masks agree perfectly.
func (c Confusion) IoU() float64 {
	union := c.TruePositive + c.FalsePositive + c.FalseNegative
	if union == 0 {
		return 1.0
	}
	return float64(c.TruePositive) / float64(union)
}

// Dice is the Sørensen–Dice coefficient, 1.0 for two empty masks.
func (c Confusion) Dice() float64 {
	denom := 2*c.TruePositive + c.FalsePositive + c.FalseNegative
	if denom == 0 {
		return 1.0
	}
	return 2 * float64(c.TruePositive) / float64(denom)
}

// Misclassification is the fraction of pixels on which the masks disagree
func (c Confusion) Misclassification() float64 {
	total := c.TruePositive + c.FalsePositive + c.FalseNegative + c.TrueNegative
	if total == 0 {
		return 0
	}
	return float64(c.FalsePositive+c.FalseNegative) / float64(total)
}

// IoU compares two masks and returns their intersection over union.
func IoU(pred, truth *image.Gray) (float64, error) {
	c, err := Compare(pred, truth)
	if err != nil {
		return 0, err
	}
	return c.IoU(), nil
}

// Summary aggregates per-image scores
type Summary struct {
	N    int     `json:"n"`
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
}

// Summarize computes the mean and population standard deviation of scores.
func Summarize(scores []float64) Summary {
	if len(scores) == 0 {
		return Summary{}
	}

	mean, std := stat.PopMeanStdDev(scores, nil)
	s := Summary{N: len(scores), Mean: mean, Std: std, Min: scores[0], Max: scores[0]}
	for _, v := range scores[1:] {
		s.Min = min(s.Min, v)
		s.Max = max(s.Max, v)
	}
	return s
}
