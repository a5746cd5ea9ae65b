package safe

import (
	"bytes"
	"testing"

	"gocv.io/x/gocv"
)

func TestNewMatFromBytesDetachesBuffer(t *testing.T) {
	data := []byte{1, 2, 3, 4, 5, 6}
	mat, err := NewMatFromBytes(2, 3, gocv.MatTypeCV8UC1, data)
	if err != nil {
		t.Fatalf("NewMatFromBytes: %v", err)
	}
	defer mat.Close()

	data[0] = 99

	got, err := mat.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	if !bytes.Equal(got, []byte{1, 2, 3, 4, 5, 6}) {
		t.Errorf("Bytes() = %v, want original samples", got)
	}
	if mat.Rows() != 2 || mat.Cols() != 3 || mat.Channels() != 1 {
		t.Errorf("shape = %dx%dx%d", mat.Rows(), mat.Cols(), mat.Channels())
	}
}

func TestCloseInvalidates(t *testing.T) {
	mat, err := NewMat(4, 4, gocv.MatTypeCV8UC3)
	if err != nil {
		t.Fatalf("NewMat: %v", err)
	}

	mat.Close()
	mat.Close()

	if mat.IsValid() {
		t.Fatal("Mat still valid after Close")
	}
	if !mat.Empty() || mat.Rows() != 0 {
		t.Error("closed Mat should report empty and zero rows")
	}
	if _, err := mat.Clone(); err == nil {
		t.Error("Clone of closed Mat should fail")
	}
	if err := ValidateMatForOperation(mat, "test"); err == nil {
		t.Error("validation should reject closed Mat")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	src, err := NewMatFromBytes(1, 2, gocv.MatTypeCV8UC1, []byte{10, 20})
	if err != nil {
		t.Fatalf("NewMatFromBytes: %v", err)
	}
	defer src.Close()

	clone, err := src.Clone()
	if err != nil {
		t.Fatalf("Clone: %v", err)
	}
	src.Close()

	v, err := clone.GetUCharAt(0, 1)
	if err != nil || v != 20 {
		t.Fatalf("clone GetUCharAt = %d, %v; want 20", v, err)
	}
	clone.Close()
}

func TestValidators(t *testing.T) {
	if err := ValidateDimensions(0, 10, "op"); err == nil {
		t.Error("zero width accepted")
	}
	if err := ValidateDimensions(maxDimension+1, 10, "op"); err == nil {
		t.Error("oversized width accepted")
	}
	if err := ValidateCoordinates(2, 0, 2, 2, "op"); err == nil {
		t.Error("row out of range accepted")
	}
	if err := ValidateChannel(3, 3, "op"); err == nil {
		t.Error("channel out of range accepted")
	}

	gray, err := NewMat(3, 3, gocv.MatTypeCV8UC1)
	if err != nil {
		t.Fatalf("NewMat: %v", err)
	}
	defer gray.Close()

	if err := ValidateChannels(gray, 3, "op"); err == nil {
		t.Error("single channel accepted as BGR")
	}
	if err := ValidateColorConversion(gray, gocv.ColorBGRToHSV); err == nil {
		t.Error("HSV conversion of gray accepted")
	}

	other, err := NewMat(3, 4, gocv.MatTypeCV8UC1)
	if err != nil {
		t.Fatalf("NewMat: %v", err)
	}
	defer other.Close()

	if err := ValidateSameSize(gray, other, "op"); err == nil {
		t.Error("size mismatch accepted")
	}
}
