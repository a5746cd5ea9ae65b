// Package algorithms holds the detection strategies and resolves a flat
// parameter record into exactly one of them.
package algorithms

import (
	"context"
	"fmt"

	apperrors "moldscope/internal/errors"
	"moldscope/internal/models"
	"moldscope/internal/opencv/safe"
	"moldscope/internal/processing/lbp"
	"moldscope/internal/processing/regions"
	"moldscope/internal/processing/threshold"
)

// Detector is a closed set of detection strategies: Variance, VarLBP,
// Adaptive, Edge and Saturation. Each variant carries only the parameters it
// reads.
type Detector interface {
	Method() models.DetectMethod
	Detect(ctx context.Context, in Input) (Result, error)

	isDetector()
}

// PatternSource builds a texture pattern descriptor for the uniformity
// filter. A nil source means no descriptor is available and the filter
// degrades to a pass-through.
type PatternSource func(radius, points int) (regions.PatternDescriptor, error)

// LBPPatterns is the PatternSource backed by uniform local binary patterns
func LBPPatterns(radius, points int) (regions.PatternDescriptor, error) {
	d, err := lbp.New(float64(radius), points)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Input is everything a detector may read. Gray is the preprocessed
// grayscale and Original the color image at the same resolution.
type Input struct {
	Gray     *safe.Mat
	Original *safe.Mat
	Texture  models.TextureLevel
	Patterns PatternSource
}

// Result is a binary mask at the resolution of the input plus diagnostics.
// The caller owns Mask.
type Result struct {
	Method    models.DetectMethod
	Mask      *safe.Mat
	Threshold float64
	Scales    []int

	// UniformityRequested is set when the variant asked for the uniformity
	// filter and UniformityApplied when a descriptor was available to run it.
	UniformityRequested bool
	UniformityApplied   bool
}

// AreaBand bounds component area as a fraction of the image
type AreaBand struct {
	MinRatio float64
	MaxRatio float64
}

// Morphology is the close/open refinement applied to a raw mask
type Morphology struct {
	ElementSize     int
	OpenIterations  int
	CloseIterations int
}

// UniformityParams configures the pattern-uniformity filter
type UniformityParams struct {
	Radius    int
	Points    int
	Threshold float64
}

// TextureCore is the parameter subset shared by both variance detectors
type TextureCore struct {
	Threshold  threshold.Policy
	Scales     []int
	Area       AreaBand
	Morphology Morphology
}

// AutoMethod picks a detector from the image's texture level.
func AutoMethod(level models.TextureLevel) models.DetectMethod {
	switch level {
	case models.TextureLow:
		return models.MethodVariance
	case models.TextureMid:
		return models.MethodVarLBP
	default:
		return models.MethodSaturation
	}
}

// Resolve validates a parameter record and narrows it to the variant its
// Method field names.
func Resolve(p models.DetectParams) (Detector, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	core := TextureCore{
		Threshold: threshold.PolicyFrom(p),
		Scales:    append([]int(nil), p.Scales...),
		Area:      AreaBand{MinRatio: p.MinAreaRatio, MaxRatio: p.MaxAreaRatio},
		Morphology: Morphology{
			ElementSize:     p.ElementSize,
			OpenIterations:  p.OpenIterations,
			CloseIterations: p.CloseIterations,
		},
	}
	uniformity := UniformityParams{
		Radius:    p.UniformityRadius,
		Points:    p.UniformityPoints,
		Threshold: p.UniformityThreshold,
	}

	switch p.Method {
	case models.MethodVariance:
		return Variance{TextureCore: core, UseUniformity: p.UseUniformity, Uniformity: uniformity}, nil
	case models.MethodVarLBP:
		return VarLBP{TextureCore: core, Uniformity: uniformity}, nil
	case models.MethodAdaptive:
		return Adaptive{BlockSize: p.AdaptiveBlockSize, C: p.AdaptiveC, ElementSize: p.ElementSize}, nil
	case models.MethodEdge:
		return Edge{
			Low:              p.EdgeLow,
			High:             p.EdgeHigh,
			Kernel:           p.EdgeKernel,
			DensityThreshold: p.EdgeDensityThreshold,
			ElementSize:      p.ElementSize,
		}, nil
	case models.MethodSaturation:
		return Saturation{Threshold: p.EdgeDensityThreshold, ElementSize: p.ElementSize}, nil
	default:
		return nil, apperrors.NewConfigurationError(fmt.Sprintf("unknown detection method %q", p.Method), nil)
	}
}

func checkInput(in Input, needGray, needColor bool) error {
	if needGray {
		if in.Gray == nil || in.Gray.Empty() {
			return apperrors.NewInputError("detection requires a preprocessed grayscale", nil)
		}
		if err := safe.ValidateChannels(in.Gray, 1, "detection"); err != nil {
			return apperrors.NewInputError("grayscale has the wrong shape", err)
		}
	}
	if needColor {
		if in.Original == nil || in.Original.Empty() {
			return apperrors.NewInputError("detection requires the original image", nil)
		}
		if err := safe.ValidateChannels(in.Original, 3, "detection"); err != nil {
			return apperrors.NewInputError("original image has the wrong shape", err)
		}
	}
	return nil
}
