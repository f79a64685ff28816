package stats

import "fmt"

// DefaultHistorySize matches the chart window.
const DefaultHistorySize = 21

// Point is one chart sample.
type Point struct {
	Label      string  `json:"label"`
	BurnedArea float64 `json:"burned_area_ha"`
	Perimeter  float64 `json:"perimeter"`
}

// History is a bounded window of chart points; the oldest point drops first.
type History struct {
	points []Point
	max    int
}

// NewHistory creates a window holding at most size points.
func NewHistory(size int) *History {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &History{max: size}
}

// Push appends a point, dropping the oldest when full.
func (h *History) Push(p Point) {
	if len(h.points) >= h.max {
		copy(h.points, h.points[1:])
		h.points = h.points[:len(h.points)-1]
	}
	h.points = append(h.points, p)
}

// Record pushes a statistics sample labelled with the simulated minutes.
func (h *History) Record(minutes int, r Record) {
	h.Push(Point{Label: ChartLabel(minutes), BurnedArea: r.BurnedArea, Perimeter: r.Perimeter})
}

// Points returns a copy of the window, oldest first.
func (h *History) Points() []Point {
	return append([]Point(nil), h.points...)
}

// Len returns the number of points held.
func (h *History) Len() int { return len(h.points) }

// Reset empties the window.
func (h *History) Reset() { h.points = h.points[:0] }

// ChartLabel formats minutes as "45m", "60m", "1h5m" or "2h".
func ChartLabel(minutes int) string {
	if minutes <= 60 {
		return fmt.Sprintf("%dm", minutes)
	}
	h, m := minutes/60, minutes%60
	if m == 0 {
		return fmt.Sprintf("%dh", h)
	}
	return fmt.Sprintf("%dh%dm", h, m)
}
