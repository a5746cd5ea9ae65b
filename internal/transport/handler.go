// Package transport exposes detection over HTTP.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"moldscope/internal/algorithms"
	"moldscope/internal/config"
	apperrors "moldscope/internal/errors"
	"moldscope/internal/logger"
	"moldscope/internal/models"
	"moldscope/internal/services"
)

const (
	RequestIDHeader = "X-Request-ID"
	InfoHeader      = "X-Moldscope-Info"
	TextureHeader   = "X-Moldscope-Texture"

	imageField = "image"
)

// Version is reported by the health endpoint
var Version = "dev"

type ErrorResponse struct {
	Error     string `json:"error"`
	Type      string `json:"type,omitempty"`
	Message   string `json:"message,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

type HistogramResponse struct {
	RequestID string              `json:"request_id"`
	Texture   models.TextureLevel `json:"texture"`
	Method    models.DetectMethod `json:"method"`
	Threshold float64             `json:"threshold"`
	Total     int                 `json:"total"`
	Counts    []int               `json:"counts"`
}

type MethodsResponse struct {
	Methods           []algorithms.MethodInfo `json:"methods"`
	PatternsAvailable bool                    `json:"patterns_available"`
}

type handler struct {
	images     *services.ImageService
	processing *services.ProcessingService
	cfg        *config.Config
	logger     logger.Logger
}

// NewHandler builds the gin router for the detection API
func NewHandler(images *services.ImageService, processing *services.ProcessingService, cfg *config.Config, log logger.Logger) http.Handler {
	h := &handler{images: images, processing: processing, cfg: cfg, logger: log}

	r := gin.New()
	r.Use(
		gin.Recovery(),
		requestID(),
		h.requestLogger(),
		requestSizeLimiter(cfg.Server.MaxUploadBytes),
	)

	r.GET("/health", healthCheck)

	api := r.Group("/api/v1")
	api.GET("/methods", h.methods)
	api.POST("/detect", h.detect)
	api.POST("/histogram", h.histogram)

	return r
}

func (h *handler) detect(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.cfg.Server.RequestTimeout)
	defer cancel()

	st, err := h.loadState(c)
	if err != nil {
		h.respondError(c, err)
		return
	}

	out, err := h.processing.Run(ctx, st)
	if err != nil {
		st.Close()
		h.respondError(c, err)
		return
	}
	defer out.Close()

	result := out.Detected
	if c.PostForm("output") == "mask" {
		result = out.Mask
	}

	var buf bytes.Buffer
	if err := h.images.EncodePNG(&buf, result); err != nil {
		h.respondError(c, err)
		return
	}

	c.Header(InfoHeader, out.Info)
	c.Header(TextureHeader, string(out.Preprocessed.Texture))
	c.Data(http.StatusOK, "image/png", buf.Bytes())
}

func (h *handler) histogram(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.cfg.Server.RequestTimeout)
	defer cancel()

	window := 0
	if raw := c.PostForm("window"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			h.respondError(c, apperrors.NewConfigurationError(fmt.Sprintf("invalid window %q", raw), err))
			return
		}
		window = v
	}

	st, err := h.loadState(c)
	if err != nil {
		h.respondError(c, err)
		return
	}

	pre, err := h.processing.Preprocess(ctx, st)
	if err != nil {
		st.Close()
		h.respondError(c, err)
		return
	}
	defer pre.Close()

	counts, th, err := h.processing.VarianceHistogram(ctx, pre, window)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, HistogramResponse{
		RequestID: c.GetString("request_id"),
		Texture:   pre.Preprocessed.Texture,
		Method:    services.EffectiveParams(pre).Method,
		Threshold: th,
		Total:     counts.Total(),
		Counts:    counts[:],
	})
}

func (h *handler) methods(c *gin.Context) {
	detectors := h.processing.Detectors()
	c.JSON(http.StatusOK, MethodsResponse{
		Methods:           detectors.Methods(),
		PatternsAvailable: detectors.PatternsAvailable(),
	})
}

func healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "available",
		"version": Version,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// loadState decodes the uploaded image and applies the form parameters
func (h *handler) loadState(c *gin.Context) (models.ImageState, error) {
	fh, err := c.FormFile(imageField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return models.ImageState{}, apperrors.NewTooLargeError(fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit), err)
		}
		return models.ImageState{}, apperrors.NewInputError(fmt.Sprintf("multipart field %q is required", imageField), err)
	}

	f, err := fh.Open()
	if err != nil {
		return models.ImageState{}, apperrors.NewInputError("cannot open upload", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return models.ImageState{}, apperrors.NewInputError("cannot read upload", err)
	}

	mat, err := h.images.DecodeAndScale(data)
	if err != nil {
		return models.ImageState{}, err
	}

	st := h.images.NewState(fh.Filename, mat)
	st, err = applyForm(c, st)
	if err != nil {
		st.Close()
		return models.ImageState{}, err
	}
	return st, nil
}

// applyForm switches the state to manual mode when custom=true and overrides
// any parameter field present in the form.
func applyForm(c *gin.Context, st models.ImageState) (models.ImageState, error) {
	custom, err := formBool(c, "custom", false)
	if err != nil || !custom {
		return st, err
	}

	st.Custom = true

	p := &st.DetectParams
	if v := c.PostForm("method"); v != "" {
		if p.Method, err = models.ParseDetectMethod(v); err != nil {
			return st, err
		}
	}
	if v := c.PostForm("threshold_mode"); v != "" {
		if p.ThresholdMode, err = models.ParseThresholdMode(v); err != nil {
			return st, err
		}
	}
	if p.Percentile, err = formFloat(c, "percentile", p.Percentile); err != nil {
		return st, err
	}
	if p.ZScoreK, err = formFloat(c, "zscore_k", p.ZScoreK); err != nil {
		return st, err
	}
	if v := c.PostForm("fixed_threshold"); v != "" {
		n, err := strconv.ParseUint(v, 10, 8)
		if err != nil {
			return st, apperrors.NewConfigurationError(fmt.Sprintf("invalid fixed_threshold %q", v), err)
		}
		p.FixedThreshold = uint8(n)
	}
	if p.UseUniformity, err = formBool(c, "use_uniformity", p.UseUniformity); err != nil {
		return st, err
	}

	if v := c.PostForm("gray_method"); v != "" {
		if st.PreprocessParams.GrayMethod, err = models.ParseGrayMethod(v); err != nil {
			return st, err
		}
	}
	if st.PreprocessParams.UseCLAHE, err = formBool(c, "use_clahe", st.PreprocessParams.UseCLAHE); err != nil {
		return st, err
	}

	return st, nil
}

func formBool(c *gin.Context, key string, def bool) (bool, error) {
	v := c.PostForm(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, apperrors.NewConfigurationError(fmt.Sprintf("invalid %s %q", key, v), err)
	}
	return b, nil
}

func formFloat(c *gin.Context, key string, def float64) (float64, error) {
	v := c.PostForm(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def, apperrors.NewConfigurationError(fmt.Sprintf("invalid %s %q", key, v), err)
	}
	return f, nil
}

// Middleware and helper functions

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

func (h *handler) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		h.logger.Info("HTTP", "request handled", map[string]interface{}{
			"request_id":  c.GetString("request_id"),
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"status":      c.Writer.Status(),
			"ip":          c.ClientIP(),
			"duration_ms": time.Since(start).Milliseconds(),
		})
	}
}

func requestSizeLimiter(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

func determineStatusCode(err error) int {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return apperrors.GetStatusCode(err)
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return 499
	default:
		return http.StatusInternalServerError
	}
}

func (h *handler) respondError(c *gin.Context, err error) {
	code := determineStatusCode(err)
	requestID := c.GetString("request_id")

	h.logger.Error("HTTP", err, map[string]interface{}{
		"request_id":  requestID,
		"status_code": code,
		"path":        c.Request.URL.Path,
	})

	resp := ErrorResponse{
		Error:     http.StatusText(code),
		Message:   err.Error(),
		RequestID: requestID,
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		resp.Type = string(appErr.Type)
		resp.Message = appErr.Message
	}
	if resp.Error == "" {
		resp.Error = "Client Closed Request"
	}

	c.AbortWithStatusJSON(code, resp)
}
