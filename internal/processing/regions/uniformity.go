package regions

import (
	"context"
	"fmt"

	"gocv.io/x/gocv"

	"moldscope/internal/opencv/safe"
)

// PatternDescriptor assigns a local texture code to every pixel of a
// grayscale image and decides which codes count as uniform.
type PatternDescriptor interface {
	Name() string
	Describe(gray *safe.Mat) ([]int, error)
	IsUniform(code int) bool
}

// UniformityFilter drops candidate components whose local pattern is mostly
// uniform. Built without a descriptor it passes masks through unchanged.
type UniformityFilter struct {
	descriptor PatternDescriptor
	threshold  float64
}

// NewUniformityFilter binds the filter to a descriptor. A nil descriptor
// yields the pass-through variant.
func NewUniformityFilter(descriptor PatternDescriptor, threshold float64) *UniformityFilter {
	return &UniformityFilter{descriptor: descriptor, threshold: threshold}
}

// NewPassthroughUniformityFilter returns the variant used when no pattern
// descriptor is available.
func NewPassthroughUniformityFilter() *UniformityFilter {
	return &UniformityFilter{}
}

// Available reports whether the filter can actually reject components
func (u *UniformityFilter) Available() bool {
	return u != nil && u.descriptor != nil
}

// Refine removes every component of mask whose fraction of uniform pattern
// codes exceeds the threshold. gray and mask must have the same size.
func (u *UniformityFilter) Refine(gray, mask *safe.Mat) (*safe.Mat, error) {
	if !u.Available() {
		return mask.Clone()
	}

	if err := safe.ValidateSameSize(gray, mask, "uniformity filter"); err != nil {
		return nil, err
	}

	l, err := LabelMat(mask)
	if err != nil {
		return nil, err
	}
	if len(l.Components) == 0 {
		return mask.Clone()
	}

	codes, err := u.descriptor.Describe(gray)
	if err != nil {
		return nil, fmt.Errorf("%s descriptor: %w", u.descriptor.Name(), err)
	}
	if len(codes) != len(l.Labels) {
		return nil, fmt.Errorf("descriptor returned %d codes for %d pixels", len(codes), len(l.Labels))
	}

	uniform := make([]int, len(l.Components)+1)
	for i, label := range l.Labels {
		if label != 0 && u.descriptor.IsUniform(codes[i]) {
			uniform[label]++
		}
	}

	out := l.Render(func(c Component) bool {
		return UniformRatio(uniform[c.Label], c.Area) <= u.threshold
	})

	return safe.NewMatFromBytes(l.Height, l.Width, gocv.MatTypeCV8UC1, out)
}

// UniformRatio is uniform/area, or 0 for an empty component.
func UniformRatio(uniform, area int) float64 {
	if area == 0 {
		return 0
	}
	return float64(uniform) / float64(area)
}

// UniformityStep adapts the filter to a mask-only chain by binding the
// grayscale it reads patterns from.
type UniformityStep struct {
	filter  *UniformityFilter
	gray    *safe.Mat
	enabled bool
}

func NewUniformityStep(filter *UniformityFilter, gray *safe.Mat, enabled bool) *UniformityStep {
	return &UniformityStep{filter: filter, gray: gray, enabled: enabled}
}

func (s *UniformityStep) Name() string {
	return "uniformity_filter"
}

func (s *UniformityStep) ShouldExecute() bool {
	return s.enabled && s.filter.Available()
}

func (s *UniformityStep) Apply(ctx context.Context, input *safe.Mat) (*safe.Mat, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	return s.filter.Refine(s.gray, input)
}
