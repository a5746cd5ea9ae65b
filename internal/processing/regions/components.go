// Package regions labels connected components in binary masks and filters
// them by area and texture uniformity.
package regions

import (
	"fmt"

	"moldscope/internal/opencv/safe"
)

// Component summarizes one 8-connected foreground region
type Component struct {
	Label int
	Area  int
	MinX  int
	MinY  int
	MaxX  int
	MaxY  int
	sumX  int
	sumY  int
}

// Centroid returns the mean pixel position of the component
func (c Component) Centroid() (float64, float64) {
	if c.Area == 0 {
		return 0, 0
	}
	return float64(c.sumX) / float64(c.Area), float64(c.sumY) / float64(c.Area)
}

// Labeling is a label image plus per-component statistics. Label 0 is
// background; component i has label i+1.
type Labeling struct {
	Width      int
	Height     int
	Labels     []int
	Components []Component
}

// Largest returns the component with the most pixels, or false if there are none
func (l *Labeling) Largest() (Component, bool) {
	if len(l.Components) == 0 {
		return Component{}, false
	}
	best := l.Components[0]
	for _, c := range l.Components[1:] {
		if c.Area > best.Area {
			best = c
		}
	}
	return best, true
}

var neighbors8 = [8][2]int{
	{-1, -1}, {0, -1}, {1, -1},
	{-1, 0}, {1, 0},
	{-1, 1}, {0, 1}, {1, 1},
}

// Label finds 8-connected components of nonzero pixels in a row-major mask.
func Label(mask []byte, w, h int) (*Labeling, error) {
	if w <= 0 || h <= 0 || len(mask) != w*h {
		return nil, fmt.Errorf("mask length %d does not match %dx%d", len(mask), w, h)
	}

	l := &Labeling{Width: w, Height: h, Labels: make([]int, w*h)}
	queue := make([]int, 0, 64)

	for start, v := range mask {
		if v == 0 || l.Labels[start] != 0 {
			continue
		}

		label := len(l.Components) + 1
		sx, sy := start%w, start/w
		c := Component{Label: label, MinX: sx, MinY: sy, MaxX: sx, MaxY: sy}

		l.Labels[start] = label
		queue = append(queue[:0], start)

		for len(queue) > 0 {
			ci := queue[len(queue)-1]
			queue = queue[:len(queue)-1]
			cx, cy := ci%w, ci/w

			c.Area++
			c.sumX += cx
			c.sumY += cy
			c.MinX, c.MaxX = min(c.MinX, cx), max(c.MaxX, cx)
			c.MinY, c.MaxY = min(c.MinY, cy), max(c.MaxY, cy)

			for _, d := range neighbors8 {
				nx, ny := cx+d[0], cy+d[1]
				if nx < 0 || nx >= w || ny < 0 || ny >= h {
					continue
				}
				ni := ny*w + nx
				if mask[ni] != 0 && l.Labels[ni] == 0 {
					l.Labels[ni] = label
					queue = append(queue, ni)
				}
			}
		}

		l.Components = append(l.Components, c)
	}

	return l, nil
}

// LabelMat labels the foreground of a single-channel mask Mat
func LabelMat(mask *safe.Mat) (*Labeling, error) {
	if err := safe.ValidateChannels(mask, 1, "connected components"); err != nil {
		return nil, err
	}
	data, err := mask.Bytes()
	if err != nil {
		return nil, err
	}
	return Label(data, mask.Cols(), mask.Rows())
}

// Render writes 255 for every pixel whose component is kept.
func (l *Labeling) Render(keep func(Component) bool) []byte {
	kept := make([]bool, len(l.Components)+1)
	for _, c := range l.Components {
		kept[c.Label] = keep(c)
	}

	out := make([]byte, len(l.Labels))
	for i, label := range l.Labels {
		if label != 0 && kept[label] {
			out[i] = 255
		}
	}
	return out
}
