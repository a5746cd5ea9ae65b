package transport

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"moldscope/internal/algorithms"
	"moldscope/internal/config"
	"moldscope/internal/logger"
	"moldscope/internal/services"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestHandler() http.Handler {
	return newTestHandlerWith(config.Default())
}

func newTestHandlerWith(cfg *config.Config) http.Handler {
	log := logger.NewNop()
	return NewHandler(
		services.NewImageService(cfg.Processing.MaxDimension, log).WithParams(cfg.Preprocess, cfg.Detect),
		services.NewProcessingService(algorithms.NewManager(cfg.Patterns()), services.DefaultProcessingOptions(), log),
		cfg,
		log,
	)
}

func flatPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := imaging.New(w, h, color.NRGBA{R: 128, G: 128, B: 128, A: 255})
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

// upload builds a multipart request with an optional image and form fields.
func upload(t *testing.T, path string, img []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if img != nil {
		part, err := mw.CreateFormFile("image", "sample.png")
		if err != nil {
			t.Fatal(err)
		}
		part.Write(img)
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("error body %q: %v", rec.Body.String(), err)
	}
	return resp
}

func TestHealth(t *testing.T) {
	rec := serve(newTestHandler(), httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "available" {
		t.Errorf("body = %v", body)
	}
	if _, err := uuid.Parse(rec.Header().Get(RequestIDHeader)); err != nil {
		t.Errorf("request id %q is not a uuid", rec.Header().Get(RequestIDHeader))
	}
}

func TestRequestIDPassthrough(t *testing.T) {
	id := uuid.NewString()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, id)

	if got := serve(newTestHandler(), req).Header().Get(RequestIDHeader); got != id {
		t.Errorf("request id = %q, want %q", got, id)
	}
}

func TestMethods(t *testing.T) {
	rec := serve(newTestHandler(), httptest.NewRequest(http.MethodGet, "/api/v1/methods", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp MethodsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Methods) != 5 || resp.Methods[0].Method != "variance" {
		t.Errorf("methods = %+v", resp.Methods)
	}
	if !resp.PatternsAvailable {
		t.Error("patterns reported unavailable with lbp descriptor")
	}
}

func TestDetectAuto(t *testing.T) {
	rec := serve(newTestHandler(), upload(t, "/api/v1/detect", flatPNG(t, 60, 40), nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("content type = %q", ct)
	}
	if got := rec.Header().Get(InfoHeader); got != "Auto: variance" {
		t.Errorf("info = %q", got)
	}
	if got := rec.Header().Get(TextureHeader); got != "low" {
		t.Errorf("texture = %q", got)
	}

	img, err := imaging.Decode(bytes.NewReader(rec.Body.Bytes()))
	if err != nil {
		t.Fatalf("decode overlay: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 60 || b.Dy() != 40 {
		t.Errorf("overlay size = %dx%d", b.Dx(), b.Dy())
	}
}

func TestDetectMaskOutput(t *testing.T) {
	rec := serve(newTestHandler(), upload(t, "/api/v1/detect", flatPNG(t, 30, 30), map[string]string{"output": "mask"}))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	img, err := imaging.Decode(bytes.NewReader(rec.Body.Bytes()))
	if err != nil {
		t.Fatalf("decode mask: %v", err)
	}
	gray, ok := img.(*image.Gray)
	if !ok {
		t.Fatalf("mask decoded as %T, want *image.Gray", img)
	}
	for i, v := range gray.Pix {
		if v != 0 {
			t.Fatalf("mask pixel %d = %d on a flat image", i, v)
		}
	}
}

func TestDetectManual(t *testing.T) {
	fields := map[string]string{"custom": "true", "method": "edge"}
	rec := serve(newTestHandler(), upload(t, "/api/v1/detect", flatPNG(t, 40, 40), fields))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get(InfoHeader); got != "Manual: edge" {
		t.Errorf("info = %q", got)
	}
}

func TestDetectErrors(t *testing.T) {
	tests := []struct {
		name     string
		req      func(t *testing.T) *http.Request
		wantCode int
		wantType string
	}{
		{
			name:     "missing image",
			req:      func(t *testing.T) *http.Request { return upload(t, "/api/v1/detect", nil, nil) },
			wantCode: http.StatusBadRequest,
			wantType: "input",
		},
		{
			name:     "undecodable image",
			req:      func(t *testing.T) *http.Request { return upload(t, "/api/v1/detect", []byte("not a png"), nil) },
			wantCode: http.StatusUnprocessableEntity,
			wantType: "decode",
		},
		{
			name: "unknown method",
			req: func(t *testing.T) *http.Request {
				return upload(t, "/api/v1/detect", flatPNG(t, 20, 20), map[string]string{"custom": "true", "method": "magic"})
			},
			wantCode: http.StatusBadRequest,
			wantType: "configuration",
		},
		{
			name: "bad percentile",
			req: func(t *testing.T) *http.Request {
				return upload(t, "/api/v1/detect", flatPNG(t, 20, 20), map[string]string{"custom": "true", "percentile": "high"})
			},
			wantCode: http.StatusBadRequest,
			wantType: "configuration",
		},
		{
			name: "bad custom flag",
			req: func(t *testing.T) *http.Request {
				return upload(t, "/api/v1/detect", flatPNG(t, 20, 20), map[string]string{"custom": "maybe"})
			},
			wantCode: http.StatusBadRequest,
			wantType: "configuration",
		},
	}

	h := newTestHandler()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(h, tt.req(t))
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantCode, rec.Body.String())
			}
			resp := decodeError(t, rec)
			if resp.Type != tt.wantType {
				t.Errorf("type = %q, want %q", resp.Type, tt.wantType)
			}
			if resp.RequestID == "" {
				t.Error("error response has no request id")
			}
		})
	}
}

func TestUploadLimit(t *testing.T) {
	tests := []struct {
		name     string
		limit    int64
		wantCode int
	}{
		{"under limit", 1 << 20, http.StatusOK},
		{"over limit", 64, http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Server.MaxUploadBytes = tt.limit

			rec := serve(newTestHandlerWith(cfg), upload(t, "/api/v1/detect", flatPNG(t, 64, 64), nil))
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantCode, rec.Body.String())
			}
			if tt.wantCode == http.StatusOK {
				return
			}
			if resp := decodeError(t, rec); resp.Type != "payload_too_large" {
				t.Errorf("type = %q, want payload_too_large", resp.Type)
			}
		})
	}
}

func TestHistogram(t *testing.T) {
	rec := serve(newTestHandler(), upload(t, "/api/v1/histogram", flatPNG(t, 32, 24), map[string]string{"window": "5"}))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp HistogramResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Counts) != 256 {
		t.Fatalf("got %d bins", len(resp.Counts))
	}
	if resp.Total != 32*24 || resp.Counts[0] != 32*24 {
		t.Errorf("total = %d, zero bin = %d, want %d", resp.Total, resp.Counts[0], 32*24)
	}
	if resp.Texture != "low" || resp.Method != "variance" {
		t.Errorf("texture/method = %q/%q", resp.Texture, resp.Method)
	}
}

func TestHistogramBadWindow(t *testing.T) {
	rec := serve(newTestHandler(), upload(t, "/api/v1/histogram", flatPNG(t, 16, 16), map[string]string{"window": "wide"}))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if resp := decodeError(t, rec); resp.Type != "configuration" {
		t.Errorf("type = %q", resp.Type)
	}
}
