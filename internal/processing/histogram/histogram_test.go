package histogram

import (
	"math"
	"testing"

	"gocv.io/x/gocv"

	"moldscope/internal/opencv/safe"
)

func TestBuildMatchesFromBytes(t *testing.T) {
	data := make([]byte, 30*20)
	for i := range data {
		data[i] = byte((i * 7) % 256)
	}
	m, err := safe.NewMatFromBytes(30, 20, gocv.MatTypeCV8UC1, data)
	if err != nil {
		t.Fatalf("NewMatFromBytes: %v", err)
	}
	defer m.Close()

	got, err := Build(m)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	want := FromBytes(data)
	if got != want {
		t.Errorf("Build and FromBytes disagree")
	}
	if got.Total() != len(data) {
		t.Errorf("Total = %d, want %d", got.Total(), len(data))
	}
}

func TestBuildRejectsColor(t *testing.T) {
	m, err := safe.NewMat(2, 2, gocv.MatTypeCV8UC3)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	if _, err := Build(m); err == nil {
		t.Error("3-channel input accepted")
	}
}

func TestPercentile(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		p    float64
		want float64
	}{
		{"empty", nil, 50, 0},
		{"single", []byte{42}, 90, 42},
		{"even median averages", []byte{1, 2, 3, 4}, 50, 2.5},
		{"odd median", []byte{9, 1, 5}, 50, 5},
		{"min", []byte{3, 8, 10}, 0, 3},
		{"max", []byte{3, 8, 10}, 100, 10},
		{"interpolated", []byte{0, 10}, 25, 2.5},
		{"repeated values", []byte{0, 0, 0, 0, 100}, 80, 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := FromBytes(tt.data)
			if got := c.Percentile(tt.p); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Percentile(%v) = %v, want %v", tt.p, got, tt.want)
			}
		})
	}
}

func TestAbove(t *testing.T) {
	c := FromBytes([]byte{0, 10, 10, 11, 255})
	if got := c.Above(10); got != 2 {
		t.Errorf("Above(10) = %d, want 2", got)
	}
	if got := c.Above(-1); got != 5 {
		t.Errorf("Above(-1) = %d, want 5", got)
	}
}
