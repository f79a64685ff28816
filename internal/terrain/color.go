package terrain

import (
	colorful "github.com/lucasb-eyer/go-colorful"
)

// RGB is an 8-bit colour.
type RGB struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

// FromColorful converts a clamped colorful.Color to RGB.
func FromColorful(c colorful.Color) RGB {
	r, g, b := c.Clamped().RGB255()
	return RGB{R: r, G: g, B: b}
}

// hsl takes hue as a fraction of a full turn, like most 3D toolkits.
func hsl(h, s, l float64) colorful.Color {
	return colorful.Hsl(h*360, s, l)
}

// BaseColor is the unburned colour of a cell.
func BaseColor(c Cell) colorful.Color {
	switch {
	case c.Height > 8:
		// Rock and snow.
		return hsl(0, 0, 0.8+c.Tint*0.15)
	case c.Moisture < 0.3:
		return hsl(0.1, 0.6, 0.4+c.Tint*0.2)
	case c.Vegetation > 0.7:
		// Dense forest.
		return hsl(0.25+c.Tint*0.1, 0.8, 0.2+c.Moisture*0.3)
	case c.Vegetation > 0.4:
		return hsl(0.2+c.Tint*0.15, 0.7, 0.3+c.Moisture*0.2)
	default:
		// Grassland.
		return hsl(0.15+c.Tint*0.1, 0.5, 0.5+c.Moisture*0.2)
	}
}

// Burn shades.
var (
	scorched = colorful.Color{R: 0.2, G: 0.1, B: 0.1}
	charred  = colorful.Color{R: 0.1, G: 0.05, B: 0.05}
)

// CellColor is the displayed colour: the base colour until more than 10% of
// the fuel is gone, then scorched shades.
func CellColor(c Cell) colorful.Color {
	ratio := c.BurnRatio()
	if ratio <= 0.1 {
		return BaseColor(c)
	}
	if ratio < 0.8 {
		return scorched
	}
	return charred
}

// Colors returns the displayed colour of every cell.
func (g *Grid) Colors() []RGB {
	out := make([]RGB, len(g.cells))
	for i, c := range g.cells {
		out[i] = FromColorful(CellColor(c))
	}
	return out
}
