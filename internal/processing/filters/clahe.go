package filters

import (
	"context"
	"fmt"
	"image"

	"moldscope/internal/opencv/safe"

	"gocv.io/x/gocv"
)

type CLAHEFilter struct {
	enabled   bool
	clipLimit float64
	tileSize  int
}

func NewCLAHEFilter(enabled bool, clipLimit float64, tileSize int) *CLAHEFilter {
	return &CLAHEFilter{
		enabled:   enabled,
		clipLimit: clipLimit,
		tileSize:  tileSize,
	}
}

func (c *CLAHEFilter) Name() string {
	return "clahe_filter"
}

func (c *CLAHEFilter) ShouldExecute() bool {
	return c.enabled
}

func (c *CLAHEFilter) Apply(ctx context.Context, input *safe.Mat) (*safe.Mat, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	return EqualizeLocalContrast(input, c.clipLimit, c.tileSize)
}

// EqualizeLocalContrast runs tile-based CLAHE on an 8-bit grayscale image.
func EqualizeLocalContrast(gray *safe.Mat, clipLimit float64, tileSize int) (*safe.Mat, error) {
	if err := safe.ValidateChannels(gray, 1, "CLAHE"); err != nil {
		return nil, err
	}

	if clipLimit <= 0 || tileSize < 2 {
		return nil, fmt.Errorf("invalid CLAHE parameters: clip=%v grid=%d", clipLimit, tileSize)
	}

	dst, err := safe.NewMat(gray.Rows(), gray.Cols(), gray.Type())
	if err != nil {
		return nil, fmt.Errorf("failed to create destination Mat: %w", err)
	}

	clahe := gocv.NewCLAHEWithParams(clipLimit, image.Point{X: tileSize, Y: tileSize})
	defer clahe.Close()

	srcMat := gray.GetMat()
	dstMat := dst.GetMat()
	clahe.Apply(srcMat, &dstMat)

	return dst, nil
}
