package conversion

import (
	"fmt"
	"image"

	"moldscope/internal/opencv/safe"

	"gocv.io/x/gocv"
)

// ResizeMat resizes Mat to new dimensions using specified interpolation
func ResizeMat(src *safe.Mat, newWidth, newHeight int, interpolation gocv.InterpolationFlags) (*safe.Mat, error) {
	if err := safe.ValidateMatForOperation(src, "Mat resizing"); err != nil {
		return nil, err
	}

	if err := safe.ValidateDimensions(newWidth, newHeight, "Mat resizing"); err != nil {
		return nil, err
	}

	dst, err := safe.NewMat(newHeight, newWidth, src.Type())
	if err != nil {
		return nil, err
	}

	srcMat := src.GetMat()
	dstMat := dst.GetMat()

	if err := gocv.Resize(srcMat, &dstMat, image.Point{X: newWidth, Y: newHeight}, 0, 0, interpolation); err != nil {
		dst.Close()
		return nil, fmt.Errorf("resize to %dx%d failed: %w", newWidth, newHeight, err)
	}

	return dst, nil
}

// ScaleToMaxDimension bounds the long edge to maxDim with area interpolation.
// Images already within bounds are cloned, never upscaled.
func ScaleToMaxDimension(src *safe.Mat, maxDim int) (*safe.Mat, error) {
	if err := safe.ValidateMatForOperation(src, "scale to max dimension"); err != nil {
		return nil, err
	}

	if maxDim <= 0 {
		return nil, fmt.Errorf("max dimension must be positive, got %d", maxDim)
	}

	width, height := ScaledSize(src.Cols(), src.Rows(), maxDim)
	if width == src.Cols() && height == src.Rows() {
		return src.Clone()
	}

	return ResizeMat(src, width, height, gocv.InterpolationArea)
}

// ScaledSize returns the dimensions after bounding the long edge to maxDim.
func ScaledSize(width, height, maxDim int) (int, int) {
	long := max(width, height)
	if long <= maxDim {
		return width, height
	}

	scale := float64(maxDim) / float64(long)
	if width >= height {
		return maxDim, max(1, int(float64(height)*scale))
	}
	return max(1, int(float64(width)*scale)), maxDim
}
