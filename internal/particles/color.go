package particles

import (
	colorful "github.com/lucasb-eyer/go-colorful"
)

// TemperatureColor maps a temperature in Celsius to a flame colour band, from
// deep red below 600 to yellow-white above 1200.
func TemperatureColor(celsius float64) colorful.Color {
	switch {
	case celsius < 600:
		return colorful.Hsl(0, 1, 0.3)
	case celsius < 800:
		return colorful.Hsl(0.05*360, 1, 0.5)
	case celsius < 1000:
		return colorful.Hsl(0.08*360, 1, 0.6)
	case celsius < 1200:
		return colorful.Hsl(0.12*360, 1, 0.7)
	default:
		return colorful.Hsl(0.15*360, 0.8, 0.8)
	}
}

// Point is a flattened particle for snapshots.
type Point struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z"`
	Size  float64 `json:"size"`
	Color string  `json:"color"`
}

// Snapshot is a read-only copy of one pool.
type Snapshot struct {
	Kind    string  `json:"kind"`
	Opacity float64 `json:"opacity"`
	Points  []Point `json:"points"`
}

// Snapshot copies every pool into render-ready records.
func (s *Set) Snapshot() []Snapshot {
	out := make([]Snapshot, 0, len(Kinds))
	for _, k := range Kinds {
		pool := &s.pools[k]
		snap := Snapshot{Kind: k.String(), Opacity: pool.Opacity, Points: make([]Point, len(pool.Particles))}
		for i, p := range pool.Particles {
			snap.Points[i] = Point{
				X:     p.Position.X(),
				Y:     p.Position.Y(),
				Z:     p.Position.Z(),
				Size:  p.Size,
				Color: p.Color.Clamped().Hex(),
			}
		}
		out = append(out, snap)
	}
	return out
}
