package algorithms

import (
	"context"
	"fmt"

	"moldscope/internal/models"
	"moldscope/internal/opencv/safe"
	"moldscope/internal/processing/chain"
	"moldscope/internal/processing/filters"
	"moldscope/internal/processing/histogram"
	"moldscope/internal/processing/regions"
	"moldscope/internal/processing/texture"
	"moldscope/internal/processing/threshold"
)

// Variance thresholds the multi-scale texture map. The uniformity filter is
// optional.
type Variance struct {
	TextureCore
	UseUniformity bool
	Uniformity    UniformityParams
}

func (Variance) isDetector() {}

func (Variance) Method() models.DetectMethod {
	return models.MethodVariance
}

func (v Variance) Detect(ctx context.Context, in Input) (Result, error) {
	return v.TextureCore.run(ctx, in, models.MethodVariance, v.UseUniformity, v.Uniformity)
}

// VarLBP is the variance detector with the uniformity filter always on.
type VarLBP struct {
	TextureCore
	Uniformity UniformityParams
}

func (VarLBP) isDetector() {}

func (VarLBP) Method() models.DetectMethod {
	return models.MethodVarLBP
}

func (v VarLBP) Detect(ctx context.Context, in Input) (Result, error) {
	return v.TextureCore.run(ctx, in, models.MethodVarLBP, true, v.Uniformity)
}

// run executes texture map → threshold → area filter → uniformity →
// morphology.
func (c TextureCore) run(ctx context.Context, in Input, method models.DetectMethod, useUniformity bool, up UniformityParams) (Result, error) {
	if err := checkInput(in, true, false); err != nil {
		return Result{}, err
	}

	scales := texture.ResolveScales(c.Scales, in.Texture)

	varMap, err := texture.MultiScaleVariance(in.Gray, scales)
	if err != nil {
		return Result{}, fmt.Errorf("texture map: %w", err)
	}
	defer varMap.Close()

	filter, err := buildUniformityFilter(in.Patterns, useUniformity, up)
	if err != nil {
		return Result{}, err
	}

	engine := threshold.NewEngine(c.Threshold)
	pipeline := chain.NewProcessingChain(
		engine,
		regions.NewAreaFilter(c.Area.MinRatio, c.Area.MaxRatio),
		regions.NewUniformityStep(filter, in.Gray, useUniformity),
		filters.NewMorphologyFilter(c.Morphology.ElementSize, c.Morphology.OpenIterations, c.Morphology.CloseIterations),
	)

	mask, err := pipeline.Execute(ctx, varMap)
	if err != nil {
		return Result{}, err
	}

	return Result{
		Method:              method,
		Mask:                mask,
		Threshold:           engine.LastThreshold(),
		Scales:              scales,
		UniformityRequested: useUniformity,
		UniformityApplied:   useUniformity && filter.Available(),
	}, nil
}

func buildUniformityFilter(source PatternSource, enabled bool, up UniformityParams) (*regions.UniformityFilter, error) {
	if !enabled || source == nil {
		return regions.NewPassthroughUniformityFilter(), nil
	}

	descriptor, err := source(up.Radius, up.Points)
	if err != nil {
		return nil, fmt.Errorf("pattern descriptor: %w", err)
	}
	return regions.NewUniformityFilter(descriptor, up.Threshold), nil
}

// VarianceHistogram bins the texture map the variance detectors would
// threshold and returns the threshold their policy would pick on it.
func VarianceHistogram(gray *safe.Mat, core TextureCore, level models.TextureLevel) (histogram.Counts, float64, error) {
	if err := checkInput(Input{Gray: gray}, true, false); err != nil {
		return histogram.Counts{}, 0, err
	}

	scales := texture.ResolveScales(core.Scales, level)

	varMap, err := texture.MultiScaleVariance(gray, scales)
	if err != nil {
		return histogram.Counts{}, 0, fmt.Errorf("texture map: %w", err)
	}
	defer varMap.Close()

	counts, err := histogram.Build(varMap)
	if err != nil {
		return histogram.Counts{}, 0, err
	}

	th, err := threshold.Compute(counts, core.Threshold)
	if err != nil {
		return histogram.Counts{}, 0, err
	}
	return counts, th, nil
}
