package texture

import (
	"fmt"

	"moldscope/internal/models"
	"moldscope/internal/opencv/safe"
)

// Texture level classification constants. The sample map is computed at a
// single window and pixels brighter than LevelIntensityCut count toward the
// tail ratio.
const (
	LevelSampleWindow = 9
	LevelIntensityCut = 60
	LowTailRatio      = 0.01
	MidTailRatio      = 0.04
)

var defaultScales = map[models.TextureLevel][]int{
	models.TextureLow:  {5, 9, 13},
	models.TextureMid:  {7, 11, 15},
	models.TextureHigh: {9, 15, 21},
}

// Level classifies the image as low, mid or high texture and returns the
// tail ratio it was derived from.
func Level(gray *safe.Mat) (models.TextureLevel, float64, error) {
	sample, err := MultiScaleVariance(gray, []int{LevelSampleWindow})
	if err != nil {
		return "", 0, fmt.Errorf("texture sample: %w", err)
	}
	defer sample.Close()

	data, err := sample.Bytes()
	if err != nil {
		return "", 0, err
	}

	tail := TailRatio(data, LevelIntensityCut)
	return Classify(tail), tail, nil
}

// TailRatio is the fraction of samples strictly above cut.
func TailRatio(data []byte, cut byte) float64 {
	if len(data) == 0 {
		return 0
	}

	above := 0
	for _, v := range data {
		if v > cut {
			above++
		}
	}
	return float64(above) / float64(len(data))
}

func Classify(tail float64) models.TextureLevel {
	switch {
	case tail < LowTailRatio:
		return models.TextureLow
	case tail < MidTailRatio:
		return models.TextureMid
	default:
		return models.TextureHigh
	}
}

// ScalesFor returns the default window sizes for a texture level. Unknown
// levels fall back to the high-texture scales.
func ScalesFor(level models.TextureLevel) []int {
	scales, ok := defaultScales[level]
	if !ok {
		scales = defaultScales[models.TextureHigh]
	}
	return append([]int(nil), scales...)
}

// SanitizeScales coerces every window to an odd size of at least 3.
func SanitizeScales(scales []int) []int {
	out := make([]int, len(scales))
	for i, k := range scales {
		k = max(3, k)
		if k%2 == 0 {
			k++
		}
		out[i] = k
	}
	return out
}

// ResolveScales prefers caller-supplied scales and otherwise derives them
// from the texture level.
func ResolveScales(requested []int, level models.TextureLevel) []int {
	if len(requested) > 0 {
		return SanitizeScales(requested)
	}
	return ScalesFor(level)
}
