// Package validation scores automatic detection against a numbered dataset
// of images and ground-truth masks.
package validation

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/anthonynsimon/bild/imgio"
	"github.com/anthonynsimon/bild/segment"
	"github.com/disintegration/imaging"

	apperrors "moldscope/internal/errors"
	"moldscope/internal/logger"
	"moldscope/internal/metrics"
	"moldscope/internal/opencv/conversion"
	"moldscope/internal/opencv/safe"
	"moldscope/internal/processing/overlay"
	"moldscope/internal/services"
)

// Triptych panel colors
const (
	TruthTintHex      = "#ff0000"
	PredictionTintHex = "#00ff00"
)

// Options selects the dataset slice to evaluate. Image i is read from
// ImageDir/{i}{ImageExt} and its mask from MaskDir/{i}{MaskExt}.
type Options struct {
	ImageDir string
	MaskDir  string
	Start    int
	End      int
	ImageExt string
	MaskExt  string

	// VisualizeDir, when set, receives an image | truth | prediction PNG per
	// sample. Only sample VisualizeIndex is written when it is nonzero.
	VisualizeDir   string
	VisualizeIndex int
}

// DefaultOptions mirrors the layout of the reference dataset
func DefaultOptions() Options {
	return Options{
		ImageDir: "./data",
		MaskDir:  "./gt_masks",
		Start:    1,
		End:      15,
		ImageExt: ".png",
		MaskExt:  ".png",
	}
}

func (o Options) validate() error {
	if o.ImageDir == "" || o.MaskDir == "" {
		return apperrors.NewConfigurationError("image and mask directories are required", nil)
	}
	if o.Start > o.End {
		return apperrors.NewConfigurationError(fmt.Sprintf("start index %d is after end index %d", o.Start, o.End), nil)
	}
	return nil
}

// Score is the result for one sample
type Score struct {
	Index  int     `json:"index"`
	Image  string  `json:"image"`
	Mask   string  `json:"mask"`
	Method string  `json:"method"`
	IoU    float64 `json:"iou"`
	Dice   float64 `json:"dice"`
}

// Report is the evaluation of a dataset slice
type Report struct {
	Scores  []Score         `json:"scores"`
	Summary metrics.Summary `json:"summary"`
}

// Validator runs automatic detection over a dataset and compares the result
// with ground truth
type Validator struct {
	images     *services.ImageService
	processing *services.ProcessingService
	logger     logger.Logger
}

func NewValidator(images *services.ImageService, processing *services.ProcessingService, log logger.Logger) *Validator {
	return &Validator{images: images, processing: processing, logger: log}
}

// Evaluate scores samples Start..End inclusive and stops at the first error.
func (v *Validator) Evaluate(ctx context.Context, opts Options) (Report, error) {
	if err := opts.validate(); err != nil {
		return Report{}, err
	}

	var report Report
	ious := make([]float64, 0, opts.End-opts.Start+1)

	for i := opts.Start; i <= opts.End; i++ {
		select {
		case <-ctx.Done():
			return report, ctx.Err()
		default:
		}

		score, err := v.evaluateOne(ctx, opts, i)
		if err != nil {
			return report, fmt.Errorf("sample %d: %w", i, err)
		}

		v.logger.Info("Validator", "sample scored", map[string]interface{}{
			"index":  i,
			"method": score.Method,
			"iou":    score.IoU,
			"dice":   score.Dice,
		})

		report.Scores = append(report.Scores, score)
		ious = append(ious, score.IoU)
	}

	report.Summary = metrics.Summarize(ious)
	v.logger.Info("Validator", "dataset scored", map[string]interface{}{
		"samples":  report.Summary.N,
		"mean_iou": report.Summary.Mean,
		"std_iou":  report.Summary.Std,
	})

	return report, nil
}

func (v *Validator) evaluateOne(ctx context.Context, opts Options, i int) (Score, error) {
	imagePath := filepath.Join(opts.ImageDir, fmt.Sprintf("%d%s", i, opts.ImageExt))
	maskPath := filepath.Join(opts.MaskDir, fmt.Sprintf("%d%s", i, opts.MaskExt))

	st, err := v.images.LoadState(ctx, imagePath)
	if err != nil {
		return Score{}, err
	}

	result, err := v.processing.Run(ctx, st)
	if err != nil {
		st.Close()
		return Score{}, err
	}
	defer result.Close()

	if result.Mask == nil {
		return Score{}, apperrors.NewProcessingError("detection produced no mask", nil)
	}

	pred, err := conversion.MatToGray(result.Mask)
	if err != nil {
		return Score{}, err
	}

	truth, err := LoadMask(maskPath, pred.Bounds().Dx(), pred.Bounds().Dy())
	if err != nil {
		return Score{}, err
	}

	c, err := metrics.Compare(pred, truth)
	if err != nil {
		return Score{}, err
	}

	if opts.VisualizeDir != "" && (opts.VisualizeIndex == 0 || opts.VisualizeIndex == i) {
		out := filepath.Join(opts.VisualizeDir, fmt.Sprintf("%d_triptych.png", i))
		if err := WriteTriptych(result.Original, truth, result.Mask, out); err != nil {
			return Score{}, fmt.Errorf("triptych: %w", err)
		}
	}

	return Score{
		Index:  i,
		Image:  imagePath,
		Mask:   maskPath,
		Method: result.Info,
		IoU:    c.IoU(),
		Dice:   c.Dice(),
	}, nil
}

// LoadMask reads a ground-truth mask, binarizes it at any nonzero intensity
// and resizes it to w×h with nearest-neighbor sampling when needed.
func LoadMask(path string, w, h int) (*image.Gray, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperrors.NewNotFoundError(fmt.Sprintf("mask %s does not exist", path), err)
		}
		return nil, apperrors.NewInputError(fmt.Sprintf("cannot access mask %s", path), err)
	}

	img, err := imgio.Open(path)
	if err != nil {
		return nil, apperrors.NewDecodeError(fmt.Sprintf("cannot decode mask %s", path), err)
	}

	binary := segment.Threshold(img, 1)
	if b := binary.Bounds(); b.Dx() == w && b.Dy() == h {
		return binary, nil
	}

	return binarize(imaging.Resize(binary, w, h, imaging.NearestNeighbor)), nil
}

func binarize(img image.Image) *image.Gray {
	b := img.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			if r|g|bl != 0 {
				out.Pix[out.PixOffset(x, y)] = 255
			}
		}
	}
	return out
}

// WriteTriptych saves the image, the ground truth overlay and the prediction
// overlay side by side.
func WriteTriptych(original *safe.Mat, truth *image.Gray, pred *safe.Mat, path string) error {
	truthTint, err := overlay.ParseTint(TruthTintHex)
	if err != nil {
		return err
	}
	predTint, err := overlay.ParseTint(PredictionTintHex)
	if err != nil {
		return err
	}

	truthMat, err := conversion.GrayToMat(truth)
	if err != nil {
		return err
	}
	defer truthMat.Close()

	truthOverlay, err := overlay.ApplyMask(original, truthMat, truthTint, overlay.DefaultOpacity)
	if err != nil {
		return err
	}
	defer truthOverlay.Close()

	predOverlay, err := overlay.ApplyMask(original, pred, predTint, overlay.DefaultOpacity)
	if err != nil {
		return err
	}
	defer predOverlay.Close()

	w, h := original.Cols(), original.Rows()
	canvas := imaging.New(3*w, h, color.Black)
	for i, m := range []*safe.Mat{original, truthOverlay, predOverlay} {
		panel, err := conversion.MatToImage(m)
		if err != nil {
			return err
		}
		canvas = imaging.Paste(canvas, panel, image.Pt(i*w, 0))
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return imaging.Save(canvas, path)
}
