package validation

import (
	"context"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/disintegration/imaging"

	"moldscope/internal/algorithms"
	apperrors "moldscope/internal/errors"
	"moldscope/internal/logger"
	"moldscope/internal/services"
)

func writeGray(t *testing.T, path string, w, h int, fill func(x, y int) uint8) {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: fill(x, y)})
		}
	}
	if err := imaging.Save(img, path); err != nil {
		t.Fatalf("save %s: %v", path, err)
	}
}

func newValidator() *Validator {
	log := logger.NewNop()
	opts := services.DefaultProcessingOptions()
	opts.Workers = 1
	return NewValidator(
		services.NewImageService(services.DefaultMaxDimension, log),
		services.NewProcessingService(algorithms.NewManager(algorithms.LBPPatterns), opts, log),
		log,
	)
}

// dataset writes count flat gray images, each paired with an empty mask.
func dataset(t *testing.T, count int) Options {
	t.Helper()
	dir := t.TempDir()
	opts := DefaultOptions()
	opts.ImageDir = filepath.Join(dir, "data")
	opts.MaskDir = filepath.Join(dir, "gt")
	opts.End = count
	for _, d := range []string{opts.ImageDir, opts.MaskDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	for i := 1; i <= count; i++ {
		name := strconv.Itoa(i) + ".png"
		writeGray(t, filepath.Join(opts.ImageDir, name), 64, 48, func(x, y int) uint8 { return 128 })
		writeGray(t, filepath.Join(opts.MaskDir, name), 64, 48, func(x, y int) uint8 { return 0 })
	}
	return opts
}

func TestEvaluateFlatDataset(t *testing.T) {
	opts := dataset(t, 3)

	report, err := newValidator().Evaluate(context.Background(), opts)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	if len(report.Scores) != 3 {
		t.Fatalf("got %d scores, want 3", len(report.Scores))
	}
	for i, s := range report.Scores {
		if s.Index != i+1 {
			t.Errorf("score %d has index %d", i, s.Index)
		}
		if s.IoU != 1 || s.Dice != 1 {
			t.Errorf("sample %d: IoU %v Dice %v, want 1 for two empty masks", s.Index, s.IoU, s.Dice)
		}
		if s.Method != "Auto: variance" {
			t.Errorf("sample %d: method %q", s.Index, s.Method)
		}
	}
	if report.Summary.N != 3 || report.Summary.Mean != 1 || report.Summary.Std != 0 {
		t.Errorf("summary = %+v", report.Summary)
	}
}

func TestEvaluateMissingMask(t *testing.T) {
	opts := dataset(t, 2)
	if err := os.Remove(filepath.Join(opts.MaskDir, "2.png")); err != nil {
		t.Fatal(err)
	}

	report, err := newValidator().Evaluate(context.Background(), opts)
	if !apperrors.IsType(err, apperrors.ErrorTypeNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
	if len(report.Scores) != 1 {
		t.Errorf("scores before failure = %d, want 1", len(report.Scores))
	}
}

func TestEvaluateRejectsInvertedRange(t *testing.T) {
	opts := DefaultOptions()
	opts.Start, opts.End = 5, 2

	_, err := newValidator().Evaluate(context.Background(), opts)
	if !apperrors.IsType(err, apperrors.ErrorTypeConfiguration) {
		t.Errorf("err = %v, want configuration error", err)
	}
}

func TestEvaluateCancelled(t *testing.T) {
	opts := dataset(t, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := newValidator().Evaluate(ctx, opts); err != context.Canceled {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestEvaluateWritesTriptych(t *testing.T) {
	opts := dataset(t, 2)
	opts.VisualizeDir = filepath.Join(t.TempDir(), "viz")
	opts.VisualizeIndex = 2

	if _, err := newValidator().Evaluate(context.Background(), opts); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	if _, err := os.Stat(filepath.Join(opts.VisualizeDir, "1_triptych.png")); !os.IsNotExist(err) {
		t.Errorf("triptych for sample 1 written despite VisualizeIndex=2")
	}

	img, err := imaging.Open(filepath.Join(opts.VisualizeDir, "2_triptych.png"))
	if err != nil {
		t.Fatalf("open triptych: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 3*64 || b.Dy() != 48 {
		t.Errorf("triptych size = %dx%d, want 192x48", b.Dx(), b.Dy())
	}
}

func TestLoadMask(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mask.png")
	// Left half set with a mid intensity, right half empty.
	writeGray(t, path, 8, 4, func(x, y int) uint8 {
		if x < 4 {
			return 200
		}
		return 0
	})

	t.Run("same size binarizes", func(t *testing.T) {
		m, err := LoadMask(path, 8, 4)
		if err != nil {
			t.Fatalf("LoadMask: %v", err)
		}
		for y := 0; y < 4; y++ {
			for x := 0; x < 8; x++ {
				want := uint8(0)
				if x < 4 {
					want = 255
				}
				if got := m.GrayAt(x, y).Y; got != want {
					t.Fatalf("(%d,%d) = %d, want %d", x, y, got, want)
				}
			}
		}
	})

	t.Run("resized to prediction size", func(t *testing.T) {
		m, err := LoadMask(path, 16, 8)
		if err != nil {
			t.Fatalf("LoadMask: %v", err)
		}
		if b := m.Bounds(); b.Dx() != 16 || b.Dy() != 8 {
			t.Fatalf("size = %dx%d", b.Dx(), b.Dy())
		}
		if m.GrayAt(0, 0).Y != 255 || m.GrayAt(15, 7).Y != 0 {
			t.Errorf("corners = %d/%d, want 255/0", m.GrayAt(0, 0).Y, m.GrayAt(15, 7).Y)
		}
		for _, v := range m.Pix {
			if v != 0 && v != 255 {
				t.Fatalf("non-binary value %d after resize", v)
			}
		}
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadMask(filepath.Join(dir, "absent.png"), 8, 4)
		if !apperrors.IsType(err, apperrors.ErrorTypeNotFound) {
			t.Errorf("err = %v, want not found", err)
		}
	})

	t.Run("undecodable file", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.png")
		if err := os.WriteFile(bad, []byte("not an image"), 0o644); err != nil {
			t.Fatal(err)
		}
		_, err := LoadMask(bad, 8, 4)
		if !apperrors.IsType(err, apperrors.ErrorTypeDecode) {
			t.Errorf("err = %v, want decode error", err)
		}
	})
}
