package conversion

import (
	"image"
	"image/color"
	"testing"

	"gocv.io/x/gocv"

	"moldscope/internal/opencv/safe"
)

func TestImageToMatRoundTrip(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 3, 2))
	src.SetNRGBA(0, 0, color.NRGBA{R: 200, G: 10, B: 30, A: 255})
	src.SetNRGBA(2, 1, color.NRGBA{R: 5, G: 250, B: 90, A: 255})

	mat, err := ImageToMat(src)
	if err != nil {
		t.Fatalf("ImageToMat: %v", err)
	}
	defer mat.Close()

	if mat.Channels() != 3 || mat.Rows() != 2 || mat.Cols() != 3 {
		t.Fatalf("shape = %dx%dx%d", mat.Rows(), mat.Cols(), mat.Channels())
	}

	b, _ := mat.GetUCharAt3(0, 0, 0)
	r, _ := mat.GetUCharAt3(0, 0, 2)
	if b != 30 || r != 200 {
		t.Errorf("BGR order broken: b=%d r=%d", b, r)
	}

	back, err := MatToImage(mat)
	if err != nil {
		t.Fatalf("MatToImage: %v", err)
	}
	got := back.(*image.NRGBA).NRGBAAt(2, 1)
	if got != (color.NRGBA{R: 5, G: 250, B: 90, A: 255}) {
		t.Errorf("pixel (2,1) = %v", got)
	}
}

func TestGrayRoundTrip(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 4, 3))
	for i := range src.Pix {
		src.Pix[i] = uint8(i * 10)
	}

	mat, err := GrayToMat(src)
	if err != nil {
		t.Fatalf("GrayToMat: %v", err)
	}
	defer mat.Close()

	back, err := MatToGray(mat)
	if err != nil {
		t.Fatalf("MatToGray: %v", err)
	}
	for i := range src.Pix {
		if back.Pix[i] != src.Pix[i] {
			t.Fatalf("pix[%d] = %d, want %d", i, back.Pix[i], src.Pix[i])
		}
	}
}

func TestMeanSaturation(t *testing.T) {
	tests := []struct {
		name    string
		bgr     [3]byte
		wantMin float64
		wantMax float64
	}{
		{"neutral gray", [3]byte{128, 128, 128}, 0, 0},
		{"pure red", [3]byte{0, 0, 255}, 255, 255},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mat := solidBGR(t, 8, 8, tt.bgr)
			defer mat.Close()

			got, err := MeanSaturation(mat)
			if err != nil {
				t.Fatalf("MeanSaturation: %v", err)
			}
			if got < tt.wantMin || got > tt.wantMax {
				t.Errorf("MeanSaturation = %v, want [%v,%v]", got, tt.wantMin, tt.wantMax)
			}
		})
	}
}

func TestExtractChannel(t *testing.T) {
	mat := solidBGR(t, 2, 2, [3]byte{1, 2, 3})
	defer mat.Close()

	ch, err := ExtractChannel(mat, 2)
	if err != nil {
		t.Fatalf("ExtractChannel: %v", err)
	}
	defer ch.Close()

	data, _ := ch.Bytes()
	for i, v := range data {
		if v != 3 {
			t.Fatalf("sample %d = %d, want 3", i, v)
		}
	}

	if _, err := ExtractChannel(mat, 3); err == nil {
		t.Error("out-of-range channel accepted")
	}
}

func TestScaledSize(t *testing.T) {
	tests := []struct {
		w, h, max    int
		wantW, wantH int
	}{
		{800, 600, 1024, 800, 600},
		{2048, 1024, 1024, 1024, 512},
		{1000, 3000, 1024, 341, 1024},
		{1024, 1024, 1024, 1024, 1024},
	}

	for _, tt := range tests {
		w, h := ScaledSize(tt.w, tt.h, tt.max)
		if w != tt.wantW || h != tt.wantH {
			t.Errorf("ScaledSize(%d,%d,%d) = %dx%d, want %dx%d", tt.w, tt.h, tt.max, w, h, tt.wantW, tt.wantH)
		}
	}
}

func TestScaleToMaxDimensionNeverUpscales(t *testing.T) {
	small := solidBGR(t, 10, 20, [3]byte{9, 9, 9})
	defer small.Close()

	out, err := ScaleToMaxDimension(small, 1024)
	if err != nil {
		t.Fatalf("ScaleToMaxDimension: %v", err)
	}
	defer out.Close()
	if out.Rows() != 10 || out.Cols() != 20 {
		t.Errorf("small image resized to %dx%d", out.Cols(), out.Rows())
	}

	down, err := ScaleToMaxDimension(small, 10)
	if err != nil {
		t.Fatalf("ScaleToMaxDimension: %v", err)
	}
	defer down.Close()
	if down.Rows() != 5 || down.Cols() != 10 {
		t.Errorf("downscaled to %dx%d, want 10x5", down.Cols(), down.Rows())
	}
}

func solidBGR(t *testing.T, rows, cols int, bgr [3]byte) *safe.Mat {
	t.Helper()
	data := make([]byte, rows*cols*3)
	for i := 0; i < len(data); i += 3 {
		copy(data[i:], bgr[:])
	}
	mat, err := safe.NewMatFromBytes(rows, cols, gocv.MatTypeCV8UC3, data)
	if err != nil {
		t.Fatalf("NewMatFromBytes: %v", err)
	}
	return mat
}
