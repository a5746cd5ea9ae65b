package conversion

import (
	"fmt"

	"moldscope/internal/opencv/safe"

	"gocv.io/x/gocv"
)

// HSV channel indices in OpenCV's 8-bit HSV layout.
const (
	ChannelHue        = 0
	ChannelSaturation = 1
	ChannelValue      = 2
)

// ConvertBGRToHSV converts BGR image to HSV color space
func ConvertBGRToHSV(src *safe.Mat) (*safe.Mat, error) {
	return convert(src, gocv.ColorBGRToHSV, gocv.MatTypeCV8UC3)
}

// ConvertBGRToGray applies OpenCV's perceptual luma conversion
func ConvertBGRToGray(src *safe.Mat) (*safe.Mat, error) {
	return convert(src, gocv.ColorBGRToGray, gocv.MatTypeCV8UC1)
}

// ExtractChannel copies one channel of an interleaved 8-bit Mat into a
// single-channel Mat.
func ExtractChannel(src *safe.Mat, channel int) (*safe.Mat, error) {
	if err := safe.ValidateMatForOperation(src, "channel extraction"); err != nil {
		return nil, err
	}

	channels := src.Channels()
	if err := safe.ValidateChannel(channel, channels, "channel extraction"); err != nil {
		return nil, err
	}

	data, err := src.Bytes()
	if err != nil {
		return nil, err
	}

	out := make([]byte, src.Rows()*src.Cols())
	for i := range out {
		out[i] = data[i*channels+channel]
	}

	return safe.NewMatFromBytes(src.Rows(), src.Cols(), gocv.MatTypeCV8UC1, out)
}

// MeanSaturation returns the mean HSV saturation of a BGR image on the
// 0..255 scale.
func MeanSaturation(src *safe.Mat) (float64, error) {
	hsv, err := ConvertBGRToHSV(src)
	if err != nil {
		return 0, err
	}
	defer hsv.Close()

	data, err := hsv.Bytes()
	if err != nil {
		return 0, err
	}

	var sum uint64
	for i := ChannelSaturation; i < len(data); i += 3 {
		sum += uint64(data[i])
	}

	return float64(sum) / float64(len(data)/3), nil
}

func convert(src *safe.Mat, code gocv.ColorConversionCode, dstType gocv.MatType) (*safe.Mat, error) {
	if err := safe.ValidateColorConversion(src, code); err != nil {
		return nil, err
	}

	dst, err := safe.NewMat(src.Rows(), src.Cols(), dstType)
	if err != nil {
		return nil, err
	}

	srcMat := src.GetMat()
	dstMat := dst.GetMat()
	if err := gocv.CvtColor(srcMat, &dstMat, code); err != nil {
		dst.Close()
		return nil, fmt.Errorf("color conversion %d failed: %w", int(code), err)
	}

	return dst, nil
}
