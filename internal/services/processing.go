package services

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"moldscope/internal/algorithms"
	apperrors "moldscope/internal/errors"
	"moldscope/internal/logger"
	"moldscope/internal/models"
	"moldscope/internal/opencv/safe"
	"moldscope/internal/processing/chain"
	"moldscope/internal/processing/filters"
	"moldscope/internal/processing/histogram"
	"moldscope/internal/processing/overlay"
	"moldscope/internal/processing/texture"
)

// ProcessingService runs preprocessing and detection over image states.
// It never mutates a state it is given; every operation returns a new one.
type ProcessingService struct {
	detectors  *algorithms.Manager
	tint       overlay.Tint
	opacity    float64
	logger     logger.Logger
	workerPool chan struct{}
}

// ProcessingOptions configures a ProcessingService
type ProcessingOptions struct {
	Tint    overlay.Tint
	Opacity float64
	Workers int
}

// DefaultProcessingOptions returns a red 30% overlay processed sequentially
func DefaultProcessingOptions() ProcessingOptions {
	return ProcessingOptions{
		Tint:    overlay.DefaultTint,
		Opacity: overlay.DefaultOpacity,
		Workers: 1,
	}
}

// NewProcessingService creates the detection orchestrator
func NewProcessingService(detectors *algorithms.Manager, opts ProcessingOptions, log logger.Logger) *ProcessingService {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	pool := make(chan struct{}, workers)
	for i := 0; i < workers; i++ {
		pool <- struct{}{}
	}

	return &ProcessingService{
		detectors:  detectors,
		tint:       opts.Tint,
		opacity:    opts.Opacity,
		logger:     log,
		workerPool: pool,
	}
}

// Detectors exposes the detector registry
func (ps *ProcessingService) Detectors() *algorithms.Manager {
	return ps.detectors
}

// Preprocess reduces the original to grayscale, optionally equalizes it and
// classifies its texture level. The returned state has no mask or overlay,
// since both were derived from the previous grayscale.
func (ps *ProcessingService) Preprocess(ctx context.Context, st models.ImageState) (models.ImageState, error) {
	if st.Original == nil || st.Original.Empty() {
		return st, apperrors.NewInputError("image has no pixel data", nil)
	}

	params := st.PreprocessParams
	if err := params.Validate(); err != nil {
		return st, err
	}

	method := params.GrayMethod
	if !st.Custom {
		auto, saturation, err := filters.AutoGrayMethod(st.Original)
		if err != nil {
			return st, apperrors.NewProcessingError("grayscale selection failed", err)
		}
		ps.logger.Debug("ProcessingService", "grayscale method selected", map[string]interface{}{
			"image_id":        st.ID,
			"method":          string(auto),
			"mean_saturation": saturation,
		})
		method = auto
	}

	start := time.Now()

	reduce := chain.NewProcessingChain(
		filters.NewGrayscaleReducer(method),
		filters.NewCLAHEFilter(params.UseCLAHE, params.CLAHEClip, params.CLAHEGrid),
	)
	gray, err := reduce.Execute(ctx, st.Original)
	if err != nil {
		return st, wrapProcessing("preprocessing failed", err)
	}

	level, tail, err := texture.Level(gray)
	if err != nil {
		gray.Close()
		return st, wrapProcessing("texture classification failed", err)
	}

	out := st
	out.Preprocessed = &models.PreprocessedImage{Gray: gray, Texture: level, GrayMethod: method}
	out.Mask = nil
	out.Detected = nil
	out.Info = ""

	ps.logger.Info("ProcessingService", "image preprocessed", map[string]interface{}{
		"image_id":    st.ID,
		"gray_method": string(method),
		"clahe":       params.UseCLAHE,
		"texture":     string(level),
		"tail_ratio":  tail,
		"duration_ms": time.Since(start).Milliseconds(),
	})

	return out, nil
}

// EffectiveParams returns the detection parameters a Detect call on st would
// use. Auto mode keeps the stored parameters and only replaces the method
// with the one chosen from the texture level.
func EffectiveParams(st models.ImageState) models.DetectParams {
	params := st.DetectParams
	if st.Custom {
		return params
	}

	params.Scales = append([]int(nil), st.DetectParams.Scales...)
	if st.Preprocessed != nil {
		params.Method = algorithms.AutoMethod(st.Preprocessed.Texture)
	}
	return params
}

// Detect runs the resolved detector and composites the overlay. Without a
// preprocessed grayscale it logs a warning and returns st unchanged.
func (ps *ProcessingService) Detect(ctx context.Context, st models.ImageState) (models.ImageState, error) {
	if !st.Preprocessed.Ready() {
		ps.logger.Warning("ProcessingService", "detect skipped: image is not preprocessed", map[string]interface{}{
			"image_id": st.ID,
		})
		return st, nil
	}

	params := EffectiveParams(st)
	info := "Auto: " + string(params.Method)
	if st.Custom {
		info = "Manual: " + string(params.Method)
	}

	start := time.Now()

	res, err := ps.detectors.Detect(ctx, params, st.Preprocessed.Gray, st.Original, st.Preprocessed.Texture)
	if err != nil {
		return st, wrapProcessing(fmt.Sprintf("%s detection failed", params.Method), err)
	}

	if res.UniformityRequested && !res.UniformityApplied {
		ps.logger.Warning("ProcessingService", "pattern descriptor unavailable, uniformity filter skipped", map[string]interface{}{
			"image_id": st.ID,
			"method":   string(res.Method),
		})
	}

	detected, err := overlay.ApplyMask(st.Original, res.Mask, ps.tint, ps.opacity)
	if err != nil {
		res.Mask.Close()
		return st, wrapProcessing("overlay failed", err)
	}

	out := st
	out.Mask = res.Mask
	out.Detected = detected
	out.Info = info

	coverage, _ := maskCoverage(res.Mask)
	ps.logger.Info("ProcessingService", "detection complete", map[string]interface{}{
		"image_id":    st.ID,
		"method":      string(res.Method),
		"mode":        modeName(st.Custom),
		"threshold":   res.Threshold,
		"scales":      res.Scales,
		"coverage":    coverage,
		"duration_ms": time.Since(start).Milliseconds(),
	})

	return out, nil
}

// Run preprocesses and then detects
func (ps *ProcessingService) Run(ctx context.Context, st models.ImageState) (models.ImageState, error) {
	pre, err := ps.Preprocess(ctx, st)
	if err != nil {
		return st, err
	}

	out, err := ps.Detect(ctx, pre)
	if err != nil {
		pre.ReleaseReplaced(st)
		return st, err
	}
	return out, nil
}

// VarianceHistogram returns the 256-bin histogram of the texture map the
// variance detectors would threshold, and the threshold they would use. A
// positive window replaces the resolved scales with that single window.
func (ps *ProcessingService) VarianceHistogram(ctx context.Context, st models.ImageState, window int) (histogram.Counts, float64, error) {
	if err := ctx.Err(); err != nil {
		return histogram.Counts{}, 0, err
	}
	if !st.Preprocessed.Ready() {
		return histogram.Counts{}, 0, apperrors.NewInputError("image is not preprocessed", nil)
	}

	params := EffectiveParams(st)
	if window > 0 {
		params.Scales = texture.SanitizeScales([]int{window})
	}

	counts, th, err := ps.detectors.VarianceHistogram(params, st.Preprocessed.Gray, st.Preprocessed.Texture)
	if err != nil {
		return counts, th, wrapProcessing("variance histogram failed", err)
	}
	return counts, th, nil
}

// ProcessAll runs Run over every state concurrently, bounded by the worker
// pool. Results and errors are returned in input order and failures are
// logged in input order once all work has finished. A failed entry keeps its
// input state.
func (ps *ProcessingService) ProcessAll(ctx context.Context, states []models.ImageState) ([]models.ImageState, []error) {
	results := make([]models.ImageState, len(states))
	errs := make([]error, len(states))

	var wg sync.WaitGroup
	for i, st := range states {
		wg.Add(1)
		go func(i int, st models.ImageState) {
			defer wg.Done()

			select {
			case <-ps.workerPool:
				defer func() { ps.workerPool <- struct{}{} }()
			case <-ctx.Done():
				results[i], errs[i] = st, ctx.Err()
				return
			}

			results[i], errs[i] = ps.Run(ctx, st)
		}(i, st)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			ps.logger.Error("ProcessingService", err, map[string]interface{}{
				"index":    i,
				"image_id": states[i].ID,
				"path":     states[i].Path,
			})
		}
	}

	return results, errs
}

func maskCoverage(mask *safe.Mat) (float64, error) {
	data, err := mask.Bytes()
	if err != nil || len(data) == 0 {
		return 0, err
	}
	set := 0
	for _, v := range data {
		if v != 0 {
			set++
		}
	}
	return float64(set) / float64(len(data)), nil
}

func modeName(custom bool) string {
	if custom {
		return "manual"
	}
	return "auto"
}

// wrapProcessing keeps typed errors and cancellation as they are and
// classifies the rest as processing failures.
func wrapProcessing(message string, err error) error {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return apperrors.NewProcessingError(message, err)
}
