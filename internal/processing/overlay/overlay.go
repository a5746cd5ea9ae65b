// Package overlay composites a detection mask onto the source image.
package overlay

import (
	"fmt"

	"github.com/lucasb-eyer/go-colorful"
	"gocv.io/x/gocv"

	"moldscope/internal/opencv/conversion"
	"moldscope/internal/opencv/safe"
)

// DefaultOpacity is the weight of the tint layer in the blend
const DefaultOpacity = 0.3

// DefaultTintHex is the overlay color used when none is configured
const DefaultTintHex = "#ff0000"

// Tint is an overlay color in OpenCV channel order
type Tint struct {
	B, G, R uint8
}

// DefaultTint is pure red
var DefaultTint = Tint{B: 0, G: 0, R: 255}

// ParseTint reads a "#rrggbb" color.
func ParseTint(hex string) (Tint, error) {
	c, err := colorful.Hex(hex)
	if err != nil {
		return Tint{}, fmt.Errorf("invalid overlay color %q: %w", hex, err)
	}
	r, g, b := c.RGB255()
	return Tint{B: b, G: g, R: r}, nil
}

// Hex formats the tint as "#rrggbb"
func (t Tint) Hex() string {
	return colorful.Color{R: float64(t.R) / 255, G: float64(t.G) / 255, B: float64(t.B) / 255}.Hex()
}

func (t Tint) scalar() gocv.Scalar {
	return gocv.NewScalar(float64(t.B), float64(t.G), float64(t.R), 0)
}

// Blend returns the value a channel takes under the tint at the given opacity.
func Blend(original, tint uint8, opacity float64) float64 {
	return (1-opacity)*float64(original) + opacity*float64(tint)
}

// ApplyMask tints mask-positive pixels of original and leaves every other
// pixel untouched. A mask of a different size is first resized to the
// original with nearest-neighbor sampling.
func ApplyMask(original, mask *safe.Mat, tint Tint, opacity float64) (*safe.Mat, error) {
	if err := safe.ValidateChannels(original, 3, "overlay"); err != nil {
		return nil, err
	}
	if err := safe.ValidateChannels(mask, 1, "overlay mask"); err != nil {
		return nil, err
	}
	if opacity < 0 || opacity > 1 {
		return nil, fmt.Errorf("overlay opacity must be in [0,1], got %v", opacity)
	}

	fitted := mask
	if mask.Rows() != original.Rows() || mask.Cols() != original.Cols() {
		resized, err := conversion.ResizeMat(mask, original.Cols(), original.Rows(), gocv.InterpolationNearestNeighbor)
		if err != nil {
			return nil, fmt.Errorf("resize mask: %w", err)
		}
		defer resized.Close()
		fitted = resized
	}

	src := original.GetMat()

	layer := gocv.NewMatWithSizeFromScalar(tint.scalar(), original.Rows(), original.Cols(), gocv.MatTypeCV8UC3)
	defer layer.Close()

	blended := gocv.NewMat()
	defer blended.Close()
	if err := gocv.AddWeighted(src, 1-opacity, layer, opacity, 0, &blended); err != nil {
		return nil, fmt.Errorf("blend tint: %w", err)
	}

	result, err := original.Clone()
	if err != nil {
		return nil, fmt.Errorf("clone original: %w", err)
	}

	dst := result.GetMat()
	blended.CopyToWithMask(&dst, fitted.GetMat())

	return result, nil
}
