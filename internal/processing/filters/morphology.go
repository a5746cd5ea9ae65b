package filters

import (
	"context"
	"fmt"
	"image"

	"gocv.io/x/gocv"
	"moldscope/internal/opencv/safe"
)

// OddSize returns the smallest odd integer >= max(3, k). Kernels with an even
// size have no center pixel and are never passed to OpenCV.
func OddSize(k int) int {
	k = max(3, k)
	if k%2 == 0 {
		k++
	}
	return k
}

// MorphologyFilter closes then opens a binary mask with an elliptical element
type MorphologyFilter struct {
	elementSize     int
	openIterations  int
	closeIterations int
}

func NewMorphologyFilter(elementSize, openIterations, closeIterations int) *MorphologyFilter {
	return &MorphologyFilter{
		elementSize:     elementSize,
		openIterations:  openIterations,
		closeIterations: closeIterations,
	}
}

func (m *MorphologyFilter) Name() string {
	return "morphology_filter"
}

func (m *MorphologyFilter) ShouldExecute() bool {
	return m.openIterations > 0 || m.closeIterations > 0
}

func (m *MorphologyFilter) Apply(ctx context.Context, input *safe.Mat) (*safe.Mat, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	return Refine(input, m.elementSize, m.openIterations, m.closeIterations)
}

// Refine runs one closing with closeIters iterations followed by one opening
// with openIters iterations. An n-iteration closing dilates n times before it
// erodes n times, so it bridges gaps that n single closings leave open.
func Refine(mask *safe.Mat, elementSize, openIters, closeIters int) (*safe.Mat, error) {
	if err := safe.ValidateChannels(mask, 1, "morphological refine"); err != nil {
		return nil, err
	}

	if openIters < 0 || closeIters < 0 {
		return nil, fmt.Errorf("iteration counts must be non-negative: open=%d close=%d", openIters, closeIters)
	}

	size := OddSize(elementSize)
	kernel := gocv.GetStructuringElement(gocv.MorphEllipse, image.Point{X: size, Y: size})
	defer kernel.Close()

	srcMat := mask.GetMat()
	current := srcMat.Clone()

	stages := []struct {
		op    gocv.MorphType
		iters int
	}{
		{gocv.MorphClose, closeIters},
		{gocv.MorphOpen, openIters},
	}

	for _, stage := range stages {
		if stage.iters == 0 {
			continue
		}
		next := gocv.NewMat()
		err := gocv.MorphologyExWithParams(current, &next, stage.op, kernel, stage.iters, gocv.BorderConstant)
		current.Close()
		if err != nil {
			next.Close()
			return nil, fmt.Errorf("morphology op %d: %w", int(stage.op), err)
		}
		if next.Empty() {
			next.Close()
			return nil, fmt.Errorf("morphology op %d produced an empty Mat", int(stage.op))
		}
		current = next
	}

	return safe.Wrap(current, "refined_mask")
}
