package algorithms

import (
	"context"
	"fmt"

	apperrors "moldscope/internal/errors"
	"moldscope/internal/models"
	"moldscope/internal/opencv/safe"
	"moldscope/internal/processing/histogram"
	"moldscope/internal/processing/threshold"
)

// MethodInfo describes a registered detector for listings
type MethodInfo struct {
	Method      models.DetectMethod `json:"method"`
	Description string              `json:"description"`
	Input       string              `json:"input"`
}

var methodInfo = map[models.DetectMethod]MethodInfo{
	models.MethodVariance: {
		Method:      models.MethodVariance,
		Description: "multi-scale local variance with robust thresholding and area filtering",
		Input:       "grayscale",
	},
	models.MethodVarLBP: {
		Method:      models.MethodVarLBP,
		Description: "variance detector that also rejects regions with uniform local binary patterns",
		Input:       "grayscale",
	},
	models.MethodAdaptive: {
		Method:      models.MethodAdaptive,
		Description: "Gaussian adaptive threshold flagging pixels darker than their neighborhood",
		Input:       "grayscale",
	},
	models.MethodEdge: {
		Method:      models.MethodEdge,
		Description: "local density of Canny edges",
		Input:       "grayscale",
	},
	models.MethodSaturation: {
		Method:      models.MethodSaturation,
		Description: "low HSV saturation regions of the color image",
		Input:       "color",
	},
}

// Manager is the detector registry. It holds the pattern descriptor
// capability, resolved once at construction.
type Manager struct {
	patterns PatternSource
}

// NewManager builds a registry. Pass nil patterns when no texture pattern
// descriptor should be used; the uniformity filter then passes masks through.
func NewManager(patterns PatternSource) *Manager {
	return &Manager{patterns: patterns}
}

// PatternsAvailable reports whether the uniformity filter can reject regions
func (m *Manager) PatternsAvailable() bool {
	return m.patterns != nil
}

// Methods lists every detector in a stable order
func (m *Manager) Methods() []MethodInfo {
	out := make([]MethodInfo, 0, len(models.DetectMethods))
	for _, method := range models.DetectMethods {
		out = append(out, methodInfo[method])
	}
	return out
}

// GetMethod looks up a detector by name
func (m *Manager) GetMethod(name string) (MethodInfo, error) {
	method, err := models.ParseDetectMethod(name)
	if err != nil {
		return MethodInfo{}, err
	}
	info, ok := methodInfo[method]
	if !ok {
		return MethodInfo{}, apperrors.NewNotFoundError(fmt.Sprintf("detector %q is not registered", name), nil)
	}
	return info, nil
}

// Detect resolves params to a detector variant and runs it.
func (m *Manager) Detect(ctx context.Context, params models.DetectParams, gray, original *safe.Mat, level models.TextureLevel) (Result, error) {
	detector, err := Resolve(params)
	if err != nil {
		return Result{}, err
	}

	return detector.Detect(ctx, Input{
		Gray:     gray,
		Original: original,
		Texture:  level,
		Patterns: m.patterns,
	})
}

// VarianceHistogram is VarianceHistogram with the texture core taken from params
func (m *Manager) VarianceHistogram(params models.DetectParams, gray *safe.Mat, level models.TextureLevel) (histogram.Counts, float64, error) {
	if err := params.Validate(); err != nil {
		return histogram.Counts{}, 0, err
	}

	core := TextureCore{
		Threshold: threshold.PolicyFrom(params),
		Scales:    params.Scales,
	}
	return VarianceHistogram(gray, core, level)
}
