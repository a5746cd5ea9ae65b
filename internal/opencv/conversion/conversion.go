package conversion

import (
	"fmt"
	"image"

	"moldscope/internal/opencv/safe"

	"gocv.io/x/gocv"
)

// MatToImage converts a 1- or 3-channel 8-bit Mat into a standard Go image.
// Single-channel Mats become *image.Gray, BGR Mats become *image.NRGBA.
func MatToImage(src *safe.Mat) (image.Image, error) {
	if err := safe.ValidateMatForOperation(src, "Mat to image conversion"); err != nil {
		return nil, err
	}

	switch src.Channels() {
	case 1:
		return MatToGray(src)
	case 3:
		return bgrToNRGBA(src)
	default:
		return nil, fmt.Errorf("unsupported channel count: %d", src.Channels())
	}
}

// MatToGray copies a single-channel Mat into an *image.Gray.
func MatToGray(src *safe.Mat) (*image.Gray, error) {
	if err := safe.ValidateChannels(src, 1, "Mat to gray conversion"); err != nil {
		return nil, err
	}

	data, err := src.Bytes()
	if err != nil {
		return nil, err
	}

	rows, cols := src.Rows(), src.Cols()
	if len(data) != rows*cols {
		return nil, fmt.Errorf("unexpected buffer length %d for %dx%d gray Mat", len(data), cols, rows)
	}

	img := image.NewGray(image.Rect(0, 0, cols, rows))
	copy(img.Pix, data)

	return img, nil
}

// ImageToMat converts any Go image into a BGR Mat, dropping alpha.
func ImageToMat(img image.Image) (*safe.Mat, error) {
	if img == nil {
		return nil, fmt.Errorf("input image is nil")
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if err := safe.ValidateDimensions(width, height, "image to Mat conversion"); err != nil {
		return nil, err
	}

	data := make([]byte, 0, width*height*3)

	switch typed := img.(type) {
	case *image.NRGBA:
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			for x := bounds.Min.X; x < bounds.Max.X; x++ {
				i := typed.PixOffset(x, y)
				data = append(data, typed.Pix[i+2], typed.Pix[i+1], typed.Pix[i])
			}
		}
	default:
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			for x := bounds.Min.X; x < bounds.Max.X; x++ {
				r, g, b, _ := img.At(x, y).RGBA()
				data = append(data, uint8(b>>8), uint8(g>>8), uint8(r>>8))
			}
		}
	}

	return safe.NewMatFromBytes(height, width, gocv.MatTypeCV8UC3, data)
}

// GrayToMat converts an *image.Gray into a single-channel Mat.
func GrayToMat(img *image.Gray) (*safe.Mat, error) {
	if img == nil {
		return nil, fmt.Errorf("input image is nil")
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	data := make([]byte, 0, width*height)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		start := img.PixOffset(bounds.Min.X, y)
		data = append(data, img.Pix[start:start+width]...)
	}

	return safe.NewMatFromBytes(height, width, gocv.MatTypeCV8UC1, data)
}

func bgrToNRGBA(src *safe.Mat) (*image.NRGBA, error) {
	data, err := src.Bytes()
	if err != nil {
		return nil, err
	}

	rows, cols := src.Rows(), src.Cols()
	if len(data) != rows*cols*3 {
		return nil, fmt.Errorf("unexpected buffer length %d for %dx%d BGR Mat", len(data), cols, rows)
	}

	img := image.NewNRGBA(image.Rect(0, 0, cols, rows))
	for i, j := 0, 0; i < len(data); i, j = i+3, j+4 {
		img.Pix[j] = data[i+2]
		img.Pix[j+1] = data[i+1]
		img.Pix[j+2] = data[i]
		img.Pix[j+3] = 255
	}

	return img, nil
}
