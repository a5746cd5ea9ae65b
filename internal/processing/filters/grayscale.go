package filters

import (
	"context"
	"fmt"

	apperrors "moldscope/internal/errors"
	"moldscope/internal/models"
	"moldscope/internal/opencv/conversion"
	"moldscope/internal/opencv/safe"

	"gocv.io/x/gocv"
)

// AutoSaturationThreshold is the mean HSV saturation above which automatic
// selection prefers perceptual luma over the luminosity formula.
const AutoSaturationThreshold = 60.0

// Luminosity formula weights.
const (
	luminosityR = 0.21
	luminosityG = 0.72
	luminosityB = 0.07
)

// GrayscaleReducer converts BGR images to a single intensity channel
type GrayscaleReducer struct {
	method models.GrayMethod
}

func NewGrayscaleReducer(method models.GrayMethod) *GrayscaleReducer {
	return &GrayscaleReducer{method: method}
}

func (g *GrayscaleReducer) Name() string {
	return "grayscale_" + string(g.method)
}

func (g *GrayscaleReducer) ShouldExecute() bool {
	return true
}

func (g *GrayscaleReducer) Apply(ctx context.Context, input *safe.Mat) (*safe.Mat, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	return Reduce(input, g.method)
}

// Reduce applies one of the fixed grayscale formulas to a BGR image.
func Reduce(src *safe.Mat, method models.GrayMethod) (*safe.Mat, error) {
	if err := safe.ValidateChannels(src, 3, "grayscale reduction"); err != nil {
		return nil, apperrors.NewInputError("grayscale reduction needs a BGR image", err)
	}

	var pixel func(b, g, r byte) byte

	switch method {
	case models.GrayWeighted:
		return conversion.ConvertBGRToGray(src)
	case models.GrayAverage:
		pixel = func(b, g, r byte) byte {
			return byte((int(b) + int(g) + int(r)) / 3)
		}
	case models.GrayMax:
		pixel = func(b, g, r byte) byte {
			return max(b, g, r)
		}
	case models.GrayMin:
		pixel = func(b, g, r byte) byte {
			return min(b, g, r)
		}
	case models.GrayLuminosity:
		pixel = func(b, g, r byte) byte {
			v := luminosityR*float64(r) + luminosityG*float64(g) + luminosityB*float64(b)
			return byte(min(v, 255))
		}
	default:
		return nil, apperrors.NewConfigurationError(fmt.Sprintf("unknown grayscale method %q", method), nil)
	}

	data, err := src.Bytes()
	if err != nil {
		return nil, err
	}

	out := make([]byte, len(data)/3)
	for i := range out {
		j := i * 3
		out[i] = pixel(data[j], data[j+1], data[j+2])
	}

	return safe.NewMatFromBytes(src.Rows(), src.Cols(), gocv.MatTypeCV8UC1, out)
}

// AutoGrayMethod picks weighted luma for clearly colored surfaces and the
// luminosity formula otherwise.
func AutoGrayMethod(src *safe.Mat) (models.GrayMethod, float64, error) {
	meanSat, err := conversion.MeanSaturation(src)
	if err != nil {
		return "", 0, fmt.Errorf("mean saturation: %w", err)
	}

	if meanSat > AutoSaturationThreshold {
		return models.GrayWeighted, meanSat, nil
	}
	return models.GrayLuminosity, meanSat, nil
}
