package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestIsTypeFollowsWrapping(t *testing.T) {
	base := NewConfigurationError("unknown grayscale method \"sepia\"", nil)
	wrapped := fmt.Errorf("preprocess: %w", base)

	if !IsType(wrapped, ErrorTypeConfiguration) {
		t.Fatal("wrapped configuration error not recognized")
	}
	if IsType(wrapped, ErrorTypeInput) {
		t.Fatal("configuration error misreported as input error")
	}
	if IsType(stderrors.New("plain"), ErrorTypeConfiguration) {
		t.Fatal("plain error reported as AppError")
	}
}

func TestGetStatusCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"configuration", NewConfigurationError("x", nil), http.StatusBadRequest},
		{"input", NewInputError("x", nil), http.StatusBadRequest},
		{"not found", fmt.Errorf("load: %w", NewNotFoundError("x", nil)), http.StatusNotFound},
		{"decode", NewDecodeError("x", nil), http.StatusUnprocessableEntity},
		{"processing", NewProcessingError("x", nil), http.StatusInternalServerError},
		{"too large", fmt.Errorf("upload: %w", NewTooLargeError("x", nil)), http.StatusRequestEntityTooLarge},
		{"plain", stderrors.New("x"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetStatusCode(tt.err); got != tt.want {
				t.Errorf("GetStatusCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestAppErrorUnwrap(t *testing.T) {
	cause := stderrors.New("no such file")
	err := NewNotFoundError("image missing", cause)

	if !stderrors.Is(err, cause) {
		t.Fatal("cause not reachable through Unwrap")
	}
	if got := err.Error(); got != "not_found: image missing (caused by: no such file)" {
		t.Errorf("Error() = %q", got)
	}
}
