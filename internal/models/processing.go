package models

import (
	"fmt"
	"strings"

	apperrors "moldscope/internal/errors"
)

// GrayMethod selects the color-to-intensity formula
type GrayMethod string

const (
	GrayWeighted   GrayMethod = "weighted"
	GrayAverage    GrayMethod = "average"
	GrayMax        GrayMethod = "max"
	GrayMin        GrayMethod = "min"
	GrayLuminosity GrayMethod = "luminosity"
)

// GrayMethods lists every supported grayscale formula
var GrayMethods = []GrayMethod{GrayWeighted, GrayAverage, GrayMax, GrayMin, GrayLuminosity}

// DetectMethod names a detector variant
type DetectMethod string

const (
	MethodVariance   DetectMethod = "variance"
	MethodVarLBP     DetectMethod = "var_lbp"
	MethodAdaptive   DetectMethod = "adaptive"
	MethodEdge       DetectMethod = "edge"
	MethodSaturation DetectMethod = "saturation"
)

// DetectMethods lists every detector variant
var DetectMethods = []DetectMethod{MethodVariance, MethodVarLBP, MethodAdaptive, MethodEdge, MethodSaturation}

// ThresholdMode selects how the variance map threshold is derived
type ThresholdMode string

const (
	ThresholdPercentile ThresholdMode = "percentile"
	ThresholdZScore     ThresholdMode = "zscore"
	ThresholdFixed      ThresholdMode = "fixed"
)

// ThresholdModes lists every threshold policy
var ThresholdModes = []ThresholdMode{ThresholdPercentile, ThresholdZScore, ThresholdFixed}

// TextureLevel classifies how much high-variance texture an image carries
type TextureLevel string

const (
	TextureLow  TextureLevel = "low"
	TextureMid  TextureLevel = "mid"
	TextureHigh TextureLevel = "high"
)

// ParseGrayMethod resolves a method name, failing on unknown values
func ParseGrayMethod(name string) (GrayMethod, error) {
	m := GrayMethod(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range GrayMethods {
		if m == known {
			return m, nil
		}
	}
	return "", apperrors.NewConfigurationError(fmt.Sprintf("unknown grayscale method %q", name), nil)
}

// ParseDetectMethod resolves a detector name, failing on unknown values
func ParseDetectMethod(name string) (DetectMethod, error) {
	m := DetectMethod(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range DetectMethods {
		if m == known {
			return m, nil
		}
	}
	return "", apperrors.NewConfigurationError(fmt.Sprintf("unknown detection method %q", name), nil)
}

// ParseThresholdMode resolves a threshold policy name, failing on unknown values
func ParseThresholdMode(name string) (ThresholdMode, error) {
	m := ThresholdMode(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range ThresholdModes {
		if m == known {
			return m, nil
		}
	}
	return "", apperrors.NewConfigurationError(fmt.Sprintf("unknown threshold mode %q", name), nil)
}

// PreprocessParams controls grayscale reduction and optional CLAHE
type PreprocessParams struct {
	GrayMethod GrayMethod `yaml:"gray_method" json:"gray_method"`
	UseCLAHE   bool       `yaml:"use_clahe" json:"use_clahe"`
	CLAHEClip  float64    `yaml:"clahe_clip" json:"clahe_clip"`
	CLAHEGrid  int        `yaml:"clahe_grid" json:"clahe_grid"`
}

// DefaultPreprocessParams returns the reset values for preprocessing
func DefaultPreprocessParams() PreprocessParams {
	return PreprocessParams{
		GrayMethod: GrayWeighted,
		UseCLAHE:   false,
		CLAHEClip:  2.0,
		CLAHEGrid:  8,
	}
}

// Validate checks the preprocessing parameters
func (p PreprocessParams) Validate() error {
	if _, err := ParseGrayMethod(string(p.GrayMethod)); err != nil {
		return err
	}
	if p.UseCLAHE {
		if p.CLAHEClip <= 0 {
			return apperrors.NewConfigurationError(fmt.Sprintf("clahe clip limit must be positive, got %v", p.CLAHEClip), nil)
		}
		if p.CLAHEGrid < 2 {
			return apperrors.NewConfigurationError(fmt.Sprintf("clahe grid must be at least 2, got %d", p.CLAHEGrid), nil)
		}
	}
	return nil
}

// DetectParams is the flat parameter record shared by every detector.
// algorithms.Resolve narrows it to the subset a single variant reads.
type DetectParams struct {
	Method DetectMethod `yaml:"method" json:"method"`

	ThresholdMode  ThresholdMode `yaml:"threshold_mode" json:"threshold_mode"`
	FixedThreshold uint8         `yaml:"fixed_threshold" json:"fixed_threshold"`
	ZScoreK        float64       `yaml:"zscore_k" json:"zscore_k"`
	Percentile     float64       `yaml:"percentile" json:"percentile"`

	UseUniformity       bool    `yaml:"use_uniformity" json:"use_uniformity"`
	UniformityRadius    int     `yaml:"uniformity_radius" json:"uniformity_radius"`
	UniformityPoints    int     `yaml:"uniformity_points" json:"uniformity_points"`
	UniformityThreshold float64 `yaml:"uniformity_threshold" json:"uniformity_threshold"`

	MinAreaRatio float64 `yaml:"min_area_ratio" json:"min_area_ratio"`
	MaxAreaRatio float64 `yaml:"max_area_ratio" json:"max_area_ratio"`
	Scales       []int   `yaml:"scales" json:"scales,omitempty"`

	ElementSize     int `yaml:"element_size" json:"element_size"`
	OpenIterations  int `yaml:"open_iterations" json:"open_iterations"`
	CloseIterations int `yaml:"close_iterations" json:"close_iterations"`

	AdaptiveBlockSize int `yaml:"adaptive_block_size" json:"adaptive_block_size"`
	AdaptiveC         int `yaml:"adaptive_c" json:"adaptive_c"`

	EdgeLow              uint8 `yaml:"edge_low" json:"edge_low"`
	EdgeHigh             uint8 `yaml:"edge_high" json:"edge_high"`
	EdgeKernel           int   `yaml:"edge_kernel" json:"edge_kernel"`
	EdgeDensityThreshold uint8 `yaml:"edge_density_threshold" json:"edge_density_threshold"`
}

// DefaultDetectParams returns the reset values for detection
func DefaultDetectParams() DetectParams {
	return DetectParams{
		Method:               MethodVariance,
		ThresholdMode:        ThresholdPercentile,
		FixedThreshold:       120,
		ZScoreK:              3.0,
		Percentile:           85,
		UseUniformity:        false,
		UniformityRadius:     2,
		UniformityPoints:     16,
		UniformityThreshold:  0.8,
		MinAreaRatio:         0.0005,
		MaxAreaRatio:         0.35,
		ElementSize:          7,
		OpenIterations:       1,
		CloseIterations:      1,
		AdaptiveBlockSize:    31,
		AdaptiveC:            5,
		EdgeLow:              50,
		EdgeHigh:             150,
		EdgeKernel:           9,
		EdgeDensityThreshold: 20,
	}
}

// Validate rejects parameter records no detector can run with.
// Sizes are not checked here because every consumer coerces them to odd values.
func (p DetectParams) Validate() error {
	if _, err := ParseDetectMethod(string(p.Method)); err != nil {
		return err
	}
	if _, err := ParseThresholdMode(string(p.ThresholdMode)); err != nil {
		return err
	}

	switch {
	case p.ZScoreK < 0:
		return configErrorf("zscore k must be non-negative, got %v", p.ZScoreK)
	case p.MinAreaRatio < 0 || p.MinAreaRatio >= 1:
		return configErrorf("min area ratio must be in [0,1), got %v", p.MinAreaRatio)
	case p.MaxAreaRatio <= 0 || p.MaxAreaRatio > 1:
		return configErrorf("max area ratio must be in (0,1], got %v", p.MaxAreaRatio)
	case p.MinAreaRatio >= p.MaxAreaRatio:
		return configErrorf("min area ratio %v must be below max area ratio %v", p.MinAreaRatio, p.MaxAreaRatio)
	case p.UniformityThreshold < 0 || p.UniformityThreshold > 1:
		return configErrorf("uniformity threshold must be in [0,1], got %v", p.UniformityThreshold)
	case p.UniformityRadius < 1:
		return configErrorf("uniformity radius must be at least 1, got %d", p.UniformityRadius)
	case p.UniformityPoints < 4:
		return configErrorf("uniformity points must be at least 4, got %d", p.UniformityPoints)
	case p.OpenIterations < 0 || p.CloseIterations < 0:
		return configErrorf("morphology iterations must be non-negative, got open=%d close=%d", p.OpenIterations, p.CloseIterations)
	case p.EdgeHigh < p.EdgeLow:
		return configErrorf("edge high threshold %d is below low threshold %d", p.EdgeHigh, p.EdgeLow)
	}

	return nil
}

func configErrorf(format string, args ...interface{}) error {
	return apperrors.NewConfigurationError(fmt.Sprintf(format, args...), nil)
}
