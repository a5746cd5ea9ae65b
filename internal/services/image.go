package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"gocv.io/x/gocv"

	apperrors "moldscope/internal/errors"
	"moldscope/internal/logger"
	"moldscope/internal/models"
	"moldscope/internal/opencv/conversion"
	"moldscope/internal/opencv/safe"
)

// DefaultMaxDimension bounds the long edge of every loaded image
const DefaultMaxDimension = 1024

// SupportedExtensions lists the raster formats LoadAndScale accepts
var SupportedExtensions = []string{".png", ".jpg", ".jpeg"}

// ImageService handles image loading, scaling and saving
type ImageService struct {
	maxDimension int
	preprocess   models.PreprocessParams
	detect       models.DetectParams
	logger       logger.Logger
}

// NewImageService creates an image service. A non-positive maxDimension
// selects DefaultMaxDimension.
func NewImageService(maxDimension int, log logger.Logger) *ImageService {
	if maxDimension <= 0 {
		maxDimension = DefaultMaxDimension
	}
	return &ImageService{
		maxDimension: maxDimension,
		preprocess:   models.DefaultPreprocessParams(),
		detect:       models.DefaultDetectParams(),
		logger:       log,
	}
}

// WithParams sets the parameters every new state starts from
func (is *ImageService) WithParams(pre models.PreprocessParams, det models.DetectParams) *ImageService {
	is.preprocess = pre
	is.detect = det
	is.detect.Scales = append([]int(nil), det.Scales...)
	return is
}

// NewState wraps a decoded image in an auto-mode state carrying the
// service's parameters.
func (is *ImageService) NewState(path string, original *safe.Mat) models.ImageState {
	st := models.NewImageState(path, original)
	st.PreprocessParams = is.preprocess
	st.DetectParams = is.detect
	st.DetectParams.Scales = append([]int(nil), is.detect.Scales...)
	return st
}

// MaxDimension returns the long-edge bound applied on load
func (is *ImageService) MaxDimension() int {
	return is.maxDimension
}

// IsSupported reports whether path has an accepted image extension
func IsSupported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, known := range SupportedExtensions {
		if ext == known {
			return true
		}
	}
	return false
}

// LoadAndScale decodes the image at path and bounds its long edge.
func (is *ImageService) LoadAndScale(ctx context.Context, path string) (*safe.Mat, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	if !IsSupported(path) {
		return nil, apperrors.NewInputError(fmt.Sprintf("unsupported image extension %q", filepath.Ext(path)), nil)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperrors.NewNotFoundError(fmt.Sprintf("image %s does not exist", path), err)
		}
		return nil, apperrors.NewInputError(fmt.Sprintf("failed to read %s", path), err)
	}

	mat, err := is.DecodeAndScale(data)
	if err != nil {
		return nil, err
	}

	is.logger.Debug("ImageService", "image loaded", map[string]interface{}{
		"path":   path,
		"width":  mat.Cols(),
		"height": mat.Rows(),
		"bytes":  len(data),
	})

	return mat, nil
}

// DecodeAndScale decodes an encoded raster image into a BGR Mat and bounds
// its long edge.
func (is *ImageService) DecodeAndScale(data []byte) (*safe.Mat, error) {
	if len(data) == 0 {
		return nil, apperrors.NewDecodeError("empty image data", nil)
	}

	decoded, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		decoded.Close()
		return nil, apperrors.NewDecodeError("failed to decode image", err)
	}

	mat, err := safe.Wrap(decoded, "decoded_image")
	if err != nil {
		return nil, apperrors.NewDecodeError("data is not a supported raster image", err)
	}
	defer mat.Close()

	scaled, err := conversion.ScaleToMaxDimension(mat, is.maxDimension)
	if err != nil {
		return nil, apperrors.NewProcessingError("failed to scale image", err)
	}
	return scaled, nil
}

// LoadState loads an image into a fresh state in automatic mode
func (is *ImageService) LoadState(ctx context.Context, path string) (models.ImageState, error) {
	mat, err := is.LoadAndScale(ctx, path)
	if err != nil {
		return models.ImageState{}, err
	}
	return is.NewState(path, mat), nil
}

// EncodePNG writes a Mat as PNG
func (is *ImageService) EncodePNG(w io.Writer, m *safe.Mat) error {
	img, err := conversion.MatToImage(m)
	if err != nil {
		return apperrors.NewProcessingError("failed to convert image", err)
	}
	if err := imaging.Encode(w, img, imaging.PNG); err != nil {
		return fmt.Errorf("encode png: %w", err)
	}
	return nil
}

// SaveImage writes a Mat to path as PNG regardless of the path's extension.
func (is *ImageService) SaveImage(ctx context.Context, m *safe.Mat, path string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if m == nil || m.Empty() {
		return apperrors.NewInputError("no image to save", nil)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	if err := is.EncodePNG(f, m); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}

	is.logger.Debug("ImageService", "image saved", map[string]interface{}{
		"path": path,
	})
	return nil
}
