package main

import (
	"os"
	"runtime"

	"moldscope/internal/algorithms"
	"moldscope/internal/config"
	"moldscope/internal/logger"
	"moldscope/internal/services"
)

// Application wires configuration, logging and services for one command
type Application struct {
	cfg        *config.Config
	logger     logger.Logger
	images     *services.ImageService
	processing *services.ProcessingService
}

// NewApplication loads configuration from cfgPath (optional) and builds the
// service graph.
func NewApplication(cfgPath string) (*Application, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	return newApplicationFromConfig(cfg)
}

func newApplicationFromConfig(cfg *config.Config) (*Application, error) {
	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}

	var log logger.Logger
	if cfg.Log.Console {
		log = logger.NewConsoleLogger(level)
	} else {
		log = logger.NewZerolog(os.Stderr, level)
	}

	tint, err := cfg.Tint()
	if err != nil {
		return nil, err
	}

	detectors := algorithms.NewManager(cfg.Patterns())
	app := &Application{
		cfg:    cfg,
		logger: log,
		images: services.NewImageService(cfg.Processing.MaxDimension, log).WithParams(cfg.Preprocess, cfg.Detect),
		processing: services.NewProcessingService(detectors, services.ProcessingOptions{
			Tint:    tint,
			Opacity: cfg.Overlay.Opacity,
			Workers: cfg.Processing.Workers,
		}, log),
	}

	log.Debug("Application", "application initialized", map[string]interface{}{
		"version":            AppVersion,
		"go_version":         runtime.Version(),
		"num_cpu":            runtime.NumCPU(),
		"log_level":          cfg.Log.Level,
		"max_dimension":      cfg.Processing.MaxDimension,
		"workers":            cfg.Processing.Workers,
		"pattern_descriptor": cfg.Processing.PatternDescriptor,
		"patterns_available": detectors.PatternsAvailable(),
	})

	return app, nil
}
