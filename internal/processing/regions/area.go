package regions

import (
	"context"
	"fmt"

	"gocv.io/x/gocv"

	"moldscope/internal/opencv/safe"
)

// AreaBounds returns the inclusive pixel-count band for a mask of total
// pixels.
func AreaBounds(total int, minRatio, maxRatio float64) (float64, float64) {
	return minRatio * float64(total), maxRatio * float64(total)
}

// FilterByArea keeps components whose area lies in
// [minRatio·A, maxRatio·A], A being the mask's pixel count.
func FilterByArea(mask *safe.Mat, minRatio, maxRatio float64) (*safe.Mat, error) {
	if minRatio < 0 || maxRatio > 1 || minRatio >= maxRatio {
		return nil, fmt.Errorf("invalid area ratio band [%v, %v]", minRatio, maxRatio)
	}

	l, err := LabelMat(mask)
	if err != nil {
		return nil, err
	}

	lo, hi := AreaBounds(l.Width*l.Height, minRatio, maxRatio)
	out := l.Render(func(c Component) bool {
		area := float64(c.Area)
		return area >= lo && area <= hi
	})

	return safe.NewMatFromBytes(l.Height, l.Width, gocv.MatTypeCV8UC1, out)
}

// AreaFilter is the chain step form of FilterByArea
type AreaFilter struct {
	minRatio float64
	maxRatio float64
}

func NewAreaFilter(minRatio, maxRatio float64) *AreaFilter {
	return &AreaFilter{minRatio: minRatio, maxRatio: maxRatio}
}

func (a *AreaFilter) Name() string {
	return "area_filter"
}

func (a *AreaFilter) ShouldExecute() bool {
	return true
}

func (a *AreaFilter) Apply(ctx context.Context, input *safe.Mat) (*safe.Mat, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	return FilterByArea(input, a.minRatio, a.maxRatio)
}
