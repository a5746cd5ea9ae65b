package models

import (
	"github.com/google/uuid"

	"moldscope/internal/opencv/safe"
)

// PreprocessedImage is the grayscale artifact detection runs on
type PreprocessedImage struct {
	Gray       *safe.Mat
	Texture    TextureLevel
	GrayMethod GrayMethod
}

// Ready reports whether a usable grayscale is present
func (p *PreprocessedImage) Ready() bool {
	return p != nil && p.Gray != nil && !p.Gray.Empty()
}

// ImageState is the per-image record passed through the orchestrator.
//
// States are values: the orchestrator never mutates its input and returns a
// new state instead. Mats are treated as immutable once attached, so a new
// state may share them with the state it was derived from.
type ImageState struct {
	ID   string
	Path string

	Original     *safe.Mat
	Preprocessed *PreprocessedImage
	Mask         *safe.Mat
	Detected     *safe.Mat

	Custom           bool
	PreprocessParams PreprocessParams
	DetectParams     DetectParams

	Info string
}

// NewImageState wraps a loaded image with default parameters in auto mode
func NewImageState(path string, original *safe.Mat) ImageState {
	return ImageState{
		ID:               uuid.NewString(),
		Path:             path,
		Original:         original,
		PreprocessParams: DefaultPreprocessParams(),
		DetectParams:     DefaultDetectParams(),
	}
}

// HasDetection reports whether an overlay has been computed
func (s ImageState) HasDetection() bool {
	return s.Detected != nil
}

// ResetParams restores default preprocessing and detection parameters
func (s ImageState) ResetParams() ImageState {
	s.PreprocessParams = DefaultPreprocessParams()
	s.DetectParams = DefaultDetectParams()
	return s
}

// Close releases every Mat reachable from the state. Call it only on the
// last state derived from a load, since earlier states share the same Mats.
func (s ImageState) Close() {
	for _, m := range s.mats() {
		m.Close()
	}
}

// ReleaseReplaced closes the Mats of s that next no longer references. Use it
// when next supersedes s and s will not be read again.
func (s ImageState) ReleaseReplaced(next ImageState) {
	kept := map[*safe.Mat]bool{}
	for _, m := range next.mats() {
		kept[m] = true
	}
	for _, m := range s.mats() {
		if !kept[m] {
			m.Close()
		}
	}
}

func (s ImageState) mats() []*safe.Mat {
	var out []*safe.Mat
	for _, m := range []*safe.Mat{s.Original, s.Mask, s.Detected} {
		if m != nil {
			out = append(out, m)
		}
	}
	if s.Preprocessed != nil && s.Preprocessed.Gray != nil {
		out = append(out, s.Preprocessed.Gray)
	}
	return out
}
