// Package lbp computes rotation-invariant uniform local binary patterns.
//
// Each pixel is compared against P samples on a circle of radius R. Samples
// falling between pixels are bilinearly interpolated and samples outside the
// image read as zero. A pattern with at most two 0/1 transitions along the
// sample sequence is uniform and coded by its number of set bits (0..P);
// every other pattern gets the code P+1.
package lbp

import (
	"fmt"
	"math"

	"moldscope/internal/opencv/safe"
)

// Uniform is the riu2 local binary pattern descriptor
type Uniform struct {
	Radius float64
	Points int

	offsets [][2]float64
}

// New builds a descriptor sampling points neighbors at the given radius.
func New(radius float64, points int) (*Uniform, error) {
	if radius <= 0 {
		return nil, fmt.Errorf("lbp radius must be positive, got %v", radius)
	}
	if points < 1 {
		return nil, fmt.Errorf("lbp needs at least one sample point, got %d", points)
	}

	offsets := make([][2]float64, points)
	for p := range offsets {
		angle := 2 * math.Pi * float64(p) / float64(points)
		offsets[p] = [2]float64{
			round5(-radius * math.Sin(angle)),
			round5(radius * math.Cos(angle)),
		}
	}

	return &Uniform{Radius: radius, Points: points, offsets: offsets}, nil
}

func (u *Uniform) Name() string {
	return fmt.Sprintf("lbp_uniform_r%g_p%d", u.Radius, u.Points)
}

// IsUniform reports whether code labels a uniform pattern
func (u *Uniform) IsUniform(code int) bool {
	return code <= u.Points
}

// Describe returns one code per pixel of an 8-bit grayscale Mat in row-major order.
func (u *Uniform) Describe(gray *safe.Mat) ([]int, error) {
	if err := safe.ValidateChannels(gray, 1, "local binary pattern"); err != nil {
		return nil, err
	}
	data, err := gray.Bytes()
	if err != nil {
		return nil, err
	}
	return u.Codes(data, gray.Cols(), gray.Rows())
}

// Codes computes the pattern code of every pixel in a row-major 8-bit image.
func (u *Uniform) Codes(data []byte, w, h int) ([]int, error) {
	if len(data) != w*h {
		return nil, fmt.Errorf("image buffer length %d does not match %dx%d", len(data), w, h)
	}

	codes := make([]int, w*h)
	bits := make([]bool, u.Points)

	for r := 0; r < h; r++ {
		for c := 0; c < w; c++ {
			center := float64(data[r*w+c])

			for p, off := range u.offsets {
				sample := bilinear(data, w, h, float64(r)+off[0], float64(c)+off[1])
				bits[p] = sample-center >= 0
			}

			codes[r*w+c] = u.code(bits)
		}
	}

	return codes, nil
}

func (u *Uniform) code(bits []bool) int {
	changes := 0
	for i := 0; i < len(bits)-1; i++ {
		if bits[i] != bits[i+1] {
			changes++
		}
	}
	if changes > 2 {
		return u.Points + 1
	}

	set := 0
	for _, b := range bits {
		if b {
			set++
		}
	}
	return set
}

func bilinear(data []byte, w, h int, r, c float64) float64 {
	minR, minC := math.Floor(r), math.Floor(c)
	maxR, maxC := math.Ceil(r), math.Ceil(c)
	dr, dc := r-minR, c-minC

	topLeft := pixel(data, w, h, int(minR), int(minC))
	topRight := pixel(data, w, h, int(minR), int(maxC))
	bottomLeft := pixel(data, w, h, int(maxR), int(minC))
	bottomRight := pixel(data, w, h, int(maxR), int(maxC))

	top := (1-dc)*topLeft + dc*topRight
	bottom := (1-dc)*bottomLeft + dc*bottomRight
	return (1-dr)*top + dr*bottom
}

func pixel(data []byte, w, h, r, c int) float64 {
	if r < 0 || r >= h || c < 0 || c >= w {
		return 0
	}
	return float64(data[r*w+c])
}

func round5(v float64) float64 {
	return math.Round(v*1e5) / 1e5
}
