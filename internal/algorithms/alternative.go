package algorithms

import (
	"context"
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"moldscope/internal/models"
	"moldscope/internal/opencv/conversion"
	"moldscope/internal/opencv/safe"
	"moldscope/internal/processing/filters"
)

// Refinement used by every alternative detector
const (
	alternativeOpenIterations  = 1
	alternativeCloseIterations = 1
)

// Adaptive flags pixels darker than their Gaussian-weighted neighborhood
// mean minus C.
type Adaptive struct {
	BlockSize   int
	C           int
	ElementSize int
}

func (Adaptive) isDetector() {}

func (Adaptive) Method() models.DetectMethod {
	return models.MethodAdaptive
}

func (a Adaptive) Detect(ctx context.Context, in Input) (Result, error) {
	if err := checkInput(in, true, false); err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	block := filters.OddSize(a.BlockSize)

	raw := gocv.NewMat()
	if err := gocv.AdaptiveThreshold(in.Gray.GetMat(), &raw, 255, gocv.AdaptiveThresholdGaussian, gocv.ThresholdBinaryInv, block, float32(a.C)); err != nil {
		raw.Close()
		return Result{}, fmt.Errorf("adaptive threshold: %w", err)
	}

	mask, err := safe.Wrap(raw, "adaptive_mask")
	if err != nil {
		return Result{}, fmt.Errorf("adaptive threshold: %w", err)
	}

	return refineAlternative(models.MethodAdaptive, mask, a.ElementSize, float64(a.C))
}

// Edge flags neighborhoods with a high density of Canny edges.
type Edge struct {
	Low              uint8
	High             uint8
	Kernel           int
	DensityThreshold uint8
	ElementSize      int
}

func (Edge) isDetector() {}

func (Edge) Method() models.DetectMethod {
	return models.MethodEdge
}

func (e Edge) Detect(ctx context.Context, in Input) (Result, error) {
	if err := checkInput(in, true, false); err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	edges := gocv.NewMat()
	defer edges.Close()
	if err := gocv.Canny(in.Gray.GetMat(), &edges, float32(e.Low), float32(e.High)); err != nil {
		return Result{}, fmt.Errorf("canny: %w", err)
	}

	edgesF := gocv.NewMat()
	defer edgesF.Close()
	edges.ConvertTo(&edgesF, gocv.MatTypeCV32F)

	k := filters.OddSize(e.Kernel)
	kernel := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(1, 0, 0, 0), k, k, gocv.MatTypeCV32F)
	defer kernel.Close()

	density := gocv.NewMat()
	defer density.Close()
	if err := gocv.Filter2D(edgesF, &density, gocv.MatTypeCV32F, kernel, image.Point{X: -1, Y: -1}, 0, gocv.BorderDefault); err != nil {
		return Result{}, fmt.Errorf("edge density: %w", err)
	}

	values, err := density.DataPtrFloat32()
	if err != nil {
		return Result{}, fmt.Errorf("edge density buffer: %w", err)
	}

	th := float32(e.DensityThreshold)
	data := make([]byte, len(values))
	for i, v := range values {
		if v > th {
			data[i] = 255
		}
	}

	mask, err := safe.NewMatFromBytes(in.Gray.Rows(), in.Gray.Cols(), gocv.MatTypeCV8UC1, data)
	if err != nil {
		return Result{}, err
	}

	return refineAlternative(models.MethodEdge, mask, e.ElementSize, float64(e.DensityThreshold))
}

// Saturation flags washed-out pixels whose HSV saturation is at or below
// Threshold. It reads the color original rather than the grayscale.
type Saturation struct {
	Threshold   uint8
	ElementSize int
}

func (Saturation) isDetector() {}

func (Saturation) Method() models.DetectMethod {
	return models.MethodSaturation
}

func (s Saturation) Detect(ctx context.Context, in Input) (Result, error) {
	if err := checkInput(in, false, true); err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	hsv, err := conversion.ConvertBGRToHSV(in.Original)
	if err != nil {
		return Result{}, err
	}
	defer hsv.Close()

	sat, err := conversion.ExtractChannel(hsv, conversion.ChannelSaturation)
	if err != nil {
		return Result{}, err
	}
	defer sat.Close()

	values, err := sat.Bytes()
	if err != nil {
		return Result{}, err
	}

	data := make([]byte, len(values))
	for i, v := range values {
		if v <= s.Threshold {
			data[i] = 255
		}
	}

	mask, err := safe.NewMatFromBytes(sat.Rows(), sat.Cols(), gocv.MatTypeCV8UC1, data)
	if err != nil {
		return Result{}, err
	}

	return refineAlternative(models.MethodSaturation, mask, s.ElementSize, float64(s.Threshold))
}

func refineAlternative(method models.DetectMethod, raw *safe.Mat, elementSize int, th float64) (Result, error) {
	defer raw.Close()

	mask, err := filters.Refine(raw, elementSize, alternativeOpenIterations, alternativeCloseIterations)
	if err != nil {
		return Result{}, fmt.Errorf("refine %s mask: %w", method, err)
	}

	return Result{Method: method, Mask: mask, Threshold: th}, nil
}
