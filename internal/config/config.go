// Package config loads moldscope settings from defaults, an optional YAML
// file and the environment, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"moldscope/internal/algorithms"
	apperrors "moldscope/internal/errors"
	"moldscope/internal/logger"
	"moldscope/internal/models"
	"moldscope/internal/processing/overlay"
)

// Pattern descriptor names accepted by processing.pattern_descriptor
const (
	DescriptorLBP  = "lbp"
	DescriptorNone = "none"
)

const (
	MinMaxDimension = 16
	MaxMaxDimension = 8192
)

type Config struct {
	Log        LogConfig               `yaml:"log"`
	Processing ProcessingConfig        `yaml:"processing"`
	Overlay    OverlayConfig           `yaml:"overlay"`
	Server     ServerConfig            `yaml:"server"`
	Preprocess models.PreprocessParams `yaml:"preprocess"`
	Detect     models.DetectParams     `yaml:"detect"`
}

type LogConfig struct {
	Level   string `yaml:"level"`
	Console bool   `yaml:"console"`
}

type ProcessingConfig struct {
	MaxDimension      int    `yaml:"max_dimension"`
	Workers           int    `yaml:"workers"`
	PatternDescriptor string `yaml:"pattern_descriptor"`
}

type OverlayConfig struct {
	Color   string  `yaml:"color"`
	Opacity float64 `yaml:"opacity"`
}

type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           string        `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes"`
}

// ServerAddress joins host and port for net/http
func (c *Config) ServerAddress() string {
	return net.JoinHostPort(strings.TrimSpace(c.Server.Host), strings.TrimSpace(c.Server.Port))
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:   "info",
			Console: true,
		},
		Processing: ProcessingConfig{
			MaxDimension:      1024,
			Workers:           1,
			PatternDescriptor: DescriptorLBP,
		},
		Overlay: OverlayConfig{
			Color:   overlay.DefaultTintHex,
			Opacity: overlay.DefaultOpacity,
		},
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           "8080",
			RequestTimeout: 30 * time.Second,
			MaxUploadBytes: 20 * 1024 * 1024,
		},
		Preprocess: models.DefaultPreprocessParams(),
		Detect:     models.DefaultDetectParams(),
	}
}

// Load layers the YAML file at path (if any) and the environment over the
// defaults and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, apperrors.NewNotFoundError(fmt.Sprintf("config file %s does not exist", path), err)
			}
			return nil, apperrors.NewConfigurationError(fmt.Sprintf("cannot read config file %s", path), err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, apperrors.NewConfigurationError(fmt.Sprintf("cannot parse config file %s", path), err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	// Generic switches first so the prefixed variable wins.
	if os.Getenv("DEBUG") == "1" {
		c.Log.Level = "debug"
	}
	c.Log.Level = getEnvOrDefault("LOG_LEVEL", c.Log.Level)
	c.Log.Level = getEnvOrDefault("MOLDSCOPE_LOG_LEVEL", c.Log.Level)

	c.Processing.MaxDimension = parseIntOrDefault("MOLDSCOPE_MAX_DIMENSION", c.Processing.MaxDimension)
	c.Processing.Workers = parseIntOrDefault("MOLDSCOPE_WORKERS", c.Processing.Workers)
	c.Processing.PatternDescriptor = getEnvOrDefault("MOLDSCOPE_PATTERN_DESCRIPTOR", c.Processing.PatternDescriptor)
	c.Overlay.Color = getEnvOrDefault("MOLDSCOPE_OVERLAY_COLOR", c.Overlay.Color)
	c.Server.Host = getEnvOrDefault("MOLDSCOPE_HOST", c.Server.Host)
	c.Server.Port = getEnvOrDefault("MOLDSCOPE_PORT", c.Server.Port)
}

// Validate reports the first invalid setting as a configuration error
func (c *Config) Validate() error {
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return apperrors.NewConfigurationError("invalid log level", err)
	}

	p := c.Processing
	if p.MaxDimension < MinMaxDimension || p.MaxDimension > MaxMaxDimension {
		return apperrors.NewConfigurationError(fmt.Sprintf("max dimension must be in [%d,%d], got %d", MinMaxDimension, MaxMaxDimension, p.MaxDimension), nil)
	}
	if p.Workers < 1 {
		return apperrors.NewConfigurationError(fmt.Sprintf("workers must be at least 1, got %d", p.Workers), nil)
	}
	switch strings.ToLower(p.PatternDescriptor) {
	case DescriptorLBP, DescriptorNone:
	default:
		return apperrors.NewConfigurationError(fmt.Sprintf("unknown pattern descriptor %q", p.PatternDescriptor), nil)
	}

	if _, err := overlay.ParseTint(c.Overlay.Color); err != nil {
		return apperrors.NewConfigurationError(fmt.Sprintf("invalid overlay color %q", c.Overlay.Color), err)
	}
	if c.Overlay.Opacity <= 0 || c.Overlay.Opacity >= 1 {
		return apperrors.NewConfigurationError(fmt.Sprintf("overlay opacity must be in (0,1), got %v", c.Overlay.Opacity), nil)
	}

	port, err := strconv.Atoi(strings.TrimSpace(c.Server.Port))
	if err != nil || port < 1 || port > 65535 {
		return apperrors.NewConfigurationError(fmt.Sprintf("invalid port %q", c.Server.Port), err)
	}
	if c.Server.RequestTimeout <= 0 {
		return apperrors.NewConfigurationError(fmt.Sprintf("request timeout must be positive, got %s", c.Server.RequestTimeout), nil)
	}
	if c.Server.MaxUploadBytes <= 0 {
		return apperrors.NewConfigurationError(fmt.Sprintf("max upload size must be positive, got %d", c.Server.MaxUploadBytes), nil)
	}

	if err := c.Preprocess.Validate(); err != nil {
		return err
	}
	return c.Detect.Validate()
}

// Tint returns the parsed overlay color
func (c *Config) Tint() (overlay.Tint, error) {
	return overlay.ParseTint(c.Overlay.Color)
}

// Patterns returns the pattern descriptor source selected by the
// configuration, or nil when uniformity filtering is disabled.
func (c *Config) Patterns() algorithms.PatternSource {
	if strings.ToLower(c.Processing.PatternDescriptor) == DescriptorNone {
		return nil
	}
	return algorithms.LBPPatterns
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return intValue
		}
	}
	return defaultValue
}
