package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	apperrors "moldscope/internal/errors"
	"moldscope/internal/logger"
	"moldscope/internal/models"
	"moldscope/internal/processing/threshold"
	"moldscope/internal/services"
	"moldscope/internal/shutdown"
	"moldscope/internal/transport"
	"moldscope/internal/validation"
)

func newFlagSet(name string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(AppName+" "+name, flag.ContinueOnError)
	cfgPath := fs.String("config", "", "path to a YAML configuration file")
	return fs, cfgPath
}

// detectFlags holds manual-mode overrides. Only flags given on the command
// line replace configured values.
type detectFlags struct {
	method        string
	thresholdMode string
	percentile    float64
	zscoreK       float64
	fixed         uint
	uniformity    bool
	gray          string
	clahe         bool
}

func (d *detectFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&d.method, "method", "", "detection method (variance, var_lbp, adaptive, edge, saturation)")
	fs.StringVar(&d.thresholdMode, "threshold-mode", "", "threshold policy (percentile, zscore, fixed)")
	fs.Float64Var(&d.percentile, "percentile", 0, "percentile for the percentile policy")
	fs.Float64Var(&d.zscoreK, "zscore-k", 0, "MAD multiplier for the zscore policy")
	fs.UintVar(&d.fixed, "fixed", 0, "threshold for the fixed policy (0-255)")
	fs.BoolVar(&d.uniformity, "uniformity", false, "reject regions with uniform texture patterns")
	fs.StringVar(&d.gray, "gray", "", "grayscale method (weighted, average, max, min, luminosity)")
	fs.BoolVar(&d.clahe, "clahe", false, "equalize the grayscale with CLAHE")
}

// apply copies every flag set on fs into the parameter records
func (d *detectFlags) apply(fs *flag.FlagSet, pre *models.PreprocessParams, det *models.DetectParams) error {
	var err error
	fs.Visit(func(f *flag.Flag) {
		if err != nil {
			return
		}
		switch f.Name {
		case "method":
			det.Method, err = models.ParseDetectMethod(d.method)
		case "threshold-mode":
			det.ThresholdMode, err = models.ParseThresholdMode(d.thresholdMode)
		case "percentile":
			det.Percentile = d.percentile
		case "zscore-k":
			det.ZScoreK = d.zscoreK
		case "fixed":
			if d.fixed > 255 {
				err = apperrors.NewConfigurationError(fmt.Sprintf("fixed threshold must be in [0,255], got %d", d.fixed), nil)
				return
			}
			det.FixedThreshold = uint8(d.fixed)
		case "uniformity":
			det.UseUniformity = d.uniformity
		case "gray":
			pre.GrayMethod, err = models.ParseGrayMethod(d.gray)
		case "clahe":
			pre.UseCLAHE = d.clahe
		}
	})
	return err
}

// manualState switches st to manual mode and applies the command-line
// overrides on top of the configured parameters it was loaded with.
func manualState(st models.ImageState, fs *flag.FlagSet, d *detectFlags) (models.ImageState, error) {
	st.Custom = true

	if err := d.apply(fs, &st.PreprocessParams, &st.DetectParams); err != nil {
		return st, err
	}
	if err := st.PreprocessParams.Validate(); err != nil {
		return st, err
	}
	return st, st.DetectParams.Validate()
}

// overlayPath derives "<dir>/<name>_overlay.png" for an input image
func overlayPath(dir, input string) string {
	base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	return filepath.Join(dir, base+"_overlay.png")
}

func runDetect(ctx context.Context, args []string, stdout io.Writer) error {
	fs, cfgPath := newFlagSet("detect")
	in := fs.String("in", "", "input image (.png, .jpg, .jpeg)")
	out := fs.String("out", "", "overlay output path (default <name>_overlay.png next to the input)")
	maskOut := fs.String("mask", "", "also write the binary mask to this path")
	custom := fs.Bool("custom", false, "manual mode: use configured parameters and the flags below")
	var d detectFlags
	d.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" {
		return apperrors.NewInputError("-in is required", nil)
	}

	app, err := NewApplication(*cfgPath)
	if err != nil {
		return err
	}

	st, err := app.images.LoadState(ctx, *in)
	if err != nil {
		return err
	}
	if *custom {
		if st, err = manualState(st, fs, &d); err != nil {
			st.Close()
			return err
		}
	}

	result, err := app.processing.Run(ctx, st)
	if err != nil {
		st.Close()
		return err
	}
	defer result.Close()

	target := *out
	if target == "" {
		target = overlayPath(filepath.Dir(*in), *in)
	}
	if err := app.images.SaveImage(ctx, result.Detected, target); err != nil {
		return err
	}
	if *maskOut != "" {
		if err := app.images.SaveImage(ctx, result.Mask, *maskOut); err != nil {
			return err
		}
	}

	fmt.Fprintf(stdout, "%s: %s (texture %s) -> %s\n", *in, result.Info, result.Preprocessed.Texture, target)
	return nil
}

func runBatch(ctx context.Context, args []string, stdout io.Writer) error {
	fs, cfgPath := newFlagSet("batch")
	inDir := fs.String("in", "", "input directory")
	outDir := fs.String("out", "", "output directory for <name>_overlay.png files")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *inDir == "" || *outDir == "" {
		return apperrors.NewInputError("-in and -out are required", nil)
	}

	app, err := NewApplication(*cfgPath)
	if err != nil {
		return err
	}

	paths, err := listImages(*inDir)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return apperrors.NewInputError(fmt.Sprintf("no supported images in %s", *inDir), nil)
	}

	states := make([]models.ImageState, 0, len(paths))
	failed := 0
	for _, p := range paths {
		st, err := app.images.LoadState(ctx, p)
		if err != nil {
			app.logger.Error("Batch", err, map[string]interface{}{"path": p})
			failed++
			continue
		}
		states = append(states, st)
	}

	results, errs := app.processing.ProcessAll(ctx, states)
	for i, res := range results {
		if errs[i] != nil {
			failed++
			states[i].Close()
			continue
		}

		target := overlayPath(*outDir, res.Path)
		if err := app.images.SaveImage(ctx, res.Detected, target); err != nil {
			app.logger.Error("Batch", err, map[string]interface{}{"path": target})
			failed++
		} else {
			fmt.Fprintf(stdout, "%s: %s -> %s\n", res.Path, res.Info, target)
		}
		res.Close()
	}

	fmt.Fprintf(stdout, "processed %d of %d images\n", len(paths)-failed, len(paths))
	if failed > 0 {
		return fmt.Errorf("%d of %d images failed", failed, len(paths))
	}
	return nil
}

func listImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperrors.NewNotFoundError(fmt.Sprintf("directory %s does not exist", dir), err)
		}
		return nil, apperrors.NewInputError(fmt.Sprintf("cannot read directory %s", dir), err)
	}

	var paths []string
	for _, e := range entries {
		if !e.IsDir() && services.IsSupported(e.Name()) {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

type histogramReport struct {
	Image      string              `json:"image"`
	Texture    models.TextureLevel `json:"texture"`
	Method     models.DetectMethod `json:"method"`
	Threshold  float64             `json:"threshold"`
	Total      int                 `json:"total"`
	Above      int                 `json:"above"`
	Median     float64             `json:"median"`
	MAD        float64             `json:"mad"`
	Percentile map[string]float64  `json:"percentiles"`
	Counts     []int               `json:"counts"`
}

func runHistogram(ctx context.Context, args []string, stdout io.Writer) error {
	fs, cfgPath := newFlagSet("histogram")
	in := fs.String("in", "", "input image")
	window := fs.Int("window", 0, "single variance window; 0 uses the texture-level scales")
	asJSON := fs.Bool("json", false, "print the full report as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" {
		return apperrors.NewInputError("-in is required", nil)
	}

	app, err := NewApplication(*cfgPath)
	if err != nil {
		return err
	}

	st, err := app.images.LoadState(ctx, *in)
	if err != nil {
		return err
	}
	pre, err := app.processing.Preprocess(ctx, st)
	if err != nil {
		st.Close()
		return err
	}
	defer pre.Close()

	counts, th, err := app.processing.VarianceHistogram(ctx, pre, *window)
	if err != nil {
		return err
	}

	med, mad := threshold.MedianMAD(counts)
	report := histogramReport{
		Image:     *in,
		Texture:   pre.Preprocessed.Texture,
		Method:    services.EffectiveParams(pre).Method,
		Threshold: th,
		Total:     counts.Total(),
		Above:     counts.Above(th),
		Median:    med,
		MAD:       mad,
		Percentile: map[string]float64{
			"p50": counts.Percentile(50),
			"p90": counts.Percentile(90),
			"p99": counts.Percentile(99),
		},
		Counts: counts[:],
	}

	if *asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	fmt.Fprintf(stdout, "image:     %s\n", report.Image)
	fmt.Fprintf(stdout, "texture:   %s (method %s)\n", report.Texture, report.Method)
	fmt.Fprintf(stdout, "threshold: %.2f (%d of %d pixels above)\n", report.Threshold, report.Above, report.Total)
	fmt.Fprintf(stdout, "median:    %.2f  MAD: %.2f\n", report.Median, report.MAD)
	fmt.Fprintf(stdout, "p50/p90/p99: %.1f / %.1f / %.1f\n\n", report.Percentile["p50"], report.Percentile["p90"], report.Percentile["p99"])
	writeBars(stdout, report.Counts, 16, 50)
	return nil
}

// writeBars prints the histogram folded into buckets, scaled to width columns
func writeBars(w io.Writer, counts []int, buckets, width int) {
	size := len(counts) / buckets
	sums := make([]int, buckets)
	peak := 0
	for i, n := range counts {
		b := min(i/size, buckets-1)
		sums[b] += n
		peak = max(peak, sums[b])
	}

	for b, n := range sums {
		bar := 0
		if peak > 0 {
			bar = n * width / peak
		}
		fmt.Fprintf(w, "%3d-%3d |%-*s| %d\n", b*size, (b+1)*size-1, width, strings.Repeat("#", bar), n)
	}
}

func runValidate(ctx context.Context, args []string, stdout io.Writer) error {
	fs, cfgPath := newFlagSet("validate")
	defaults := validation.DefaultOptions()
	opts := defaults
	fs.StringVar(&opts.ImageDir, "images", defaults.ImageDir, "directory of numbered images")
	fs.StringVar(&opts.MaskDir, "masks", defaults.MaskDir, "directory of numbered ground-truth masks")
	fs.IntVar(&opts.Start, "start", defaults.Start, "first sample index")
	fs.IntVar(&opts.End, "end", defaults.End, "last sample index (inclusive)")
	fs.StringVar(&opts.ImageExt, "ext", defaults.ImageExt, "image file extension")
	fs.StringVar(&opts.MaskExt, "mask-ext", defaults.MaskExt, "mask file extension")
	fs.StringVar(&opts.VisualizeDir, "visualize", "", "write image | truth | prediction PNGs to this directory")
	fs.IntVar(&opts.VisualizeIndex, "visualize-index", 0, "only visualize this sample (0 for all)")
	asJSON := fs.Bool("json", false, "print the report as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	app, err := NewApplication(*cfgPath)
	if err != nil {
		return err
	}

	report, err := validation.NewValidator(app.images, app.processing, app.logger).Evaluate(ctx, opts)
	if err != nil {
		return err
	}

	if *asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "INDEX\tMETHOD\tIOU\tDICE")
	for _, s := range report.Scores {
		fmt.Fprintf(tw, "%d\t%s\t%.4f\t%.4f\n", s.Index, s.Method, s.IoU, s.Dice)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "\nmean IoU %.4f ± %.4f over %d images (min %.4f, max %.4f)\n",
		report.Summary.Mean, report.Summary.Std, report.Summary.N, report.Summary.Min, report.Summary.Max)
	return nil
}

func runServe(ctx context.Context, args []string, stdout io.Writer) error {
	fs, cfgPath := newFlagSet("serve")
	host := fs.String("host", "", "listen host (overrides configuration)")
	port := fs.String("port", "", "listen port (overrides configuration)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	app, err := NewApplication(*cfgPath)
	if err != nil {
		return err
	}
	if *host != "" {
		app.cfg.Server.Host = *host
	}
	if *port != "" {
		app.cfg.Server.Port = *port
		if err := app.cfg.Validate(); err != nil {
			return err
		}
	}

	if level, _ := logger.ParseLevel(app.cfg.Log.Level); level != zerolog.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}
	transport.Version = AppVersion

	handler := transport.NewHandler(app.images, app.processing, app.cfg, app.logger)
	server := transport.NewServer(app.cfg, handler, app.logger)

	manager := shutdown.NewManager(app.logger, shutdown.DefaultTimeout)
	manager.Register(server)
	manager.Watch(ctx)

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.ListenAndServe() }()

	select {
	case err := <-serveErr:
		if err != nil {
			manager.Shutdown()
			return fmt.Errorf("server on %s: %w", server.Addr(), err)
		}
	case <-manager.Done():
	}

	return manager.Shutdown()
}

func runMethods(ctx context.Context, args []string, stdout io.Writer) error {
	fs, cfgPath := newFlagSet("methods")
	if err := fs.Parse(args); err != nil {
		return err
	}

	app, err := NewApplication(*cfgPath)
	if err != nil {
		return err
	}

	detectors := app.processing.Detectors()
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "METHOD\tINPUT\tDESCRIPTION")
	for _, m := range detectors.Methods() {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", m.Method, m.Input, m.Description)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	status := "unavailable"
	if detectors.PatternsAvailable() {
		status = "available"
	}
	fmt.Fprintf(stdout, "\nuniformity filter: %s\n", status)
	return nil
}

func runVersion(ctx context.Context, args []string, stdout io.Writer) error {
	fs, _ := newFlagSet("version")
	if err := fs.Parse(args); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s %s (%s %s/%s)\n", AppName, AppVersion, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	return nil
}
