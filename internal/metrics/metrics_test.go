package metrics

import (
	"image"
	"math"
	"testing"
)

func mask(w, h int, on ...image.Point) *image.Gray {
	m := image.NewGray(image.Rect(0, 0, w, h))
	for _, p := range on {
		m.Pix[m.PixOffset(p.X, p.Y)] = 255
	}
	return m
}

func TestIoUEdgeCases(t *testing.T) {
	tests := []struct {
		name  string
		pred  *image.Gray
		truth *image.Gray
		want  float64
	}{
		{"both empty", mask(4, 4), mask(4, 4), 1.0},
		{"empty truth, positive prediction", mask(4, 4, image.Pt(1, 1)), mask(4, 4), 0.0},
		{"empty prediction, positive truth", mask(4, 4), mask(4, 4, image.Pt(2, 2)), 0.0},
		{"identical", mask(4, 4, image.Pt(0, 0), image.Pt(3, 3)), mask(4, 4, image.Pt(0, 0), image.Pt(3, 3)), 1.0},
		{"half overlap", mask(4, 4, image.Pt(0, 0), image.Pt(1, 0)), mask(4, 4, image.Pt(1, 0), image.Pt(2, 0)), 1.0 / 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := IoU(tt.pred, tt.truth)
			if err != nil {
				t.Fatal(err)
			}
			if math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("IoU = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAnyNonzeroIsForeground(t *testing.T) {
	pred := mask(2, 1)
	pred.Pix[0] = 1
	truth := mask(2, 1)
	truth.Pix[0] = 200

	c, err := Compare(pred, truth)
	if err != nil {
		t.Fatal(err)
	}
	if c.TruePositive != 1 || c.TrueNegative != 1 {
		t.Errorf("confusion = %+v", c)
	}
}

func TestDiceAndMisclassification(t *testing.T) {
	c := Confusion{TruePositive: 2, FalsePositive: 1, FalseNegative: 1, TrueNegative: 4}
	if got := c.Dice(); math.Abs(got-4.0/6) > 1e-12 {
		t.Errorf("Dice = %v", got)
	}
	if got := c.Misclassification(); got != 0.25 {
		t.Errorf("Misclassification = %v", got)
	}
	if (Confusion{}).Dice() != 1 || (Confusion{}).Misclassification() != 0 {
		t.Error("empty confusion edge cases")
	}
}

func TestCompareRejectsSizeMismatch(t *testing.T) {
	if _, err := Compare(mask(2, 2), mask(3, 2)); err == nil {
		t.Error("size mismatch accepted")
	}
	if _, err := Compare(nil, mask(1, 1)); err == nil {
		t.Error("nil mask accepted")
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize([]float64{0.2, 0.4, 0.6, 0.8})
	if s.N != 4 || math.Abs(s.Mean-0.5) > 1e-9 {
		t.Errorf("summary = %+v", s)
	}
	if math.Abs(s.Std-math.Sqrt(0.05)) > 1e-9 {
		t.Errorf("population std = %v, want %v", s.Std, math.Sqrt(0.05))
	}
	if s.Min != 0.2 || s.Max != 0.8 {
		t.Errorf("range = [%v, %v]", s.Min, s.Max)
	}
	if (Summarize(nil) != Summary{}) {
		t.Error("empty summary is not zero")
	}
}
