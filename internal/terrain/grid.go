// Package terrain provides the static field grid the 3D fire engine burns
// across: per-cell height, moisture, vegetation and fuel, plus world-space
// lookups and slope helpers.
package terrain

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// InvalidIndex is returned by lookups that fall outside the grid.
const InvalidIndex = -1

// fuelEpsilon snaps float residue after repeated consumption to zero.
const fuelEpsilon = 1e-9

// Cell is one grid cell.
type Cell struct {
	Height      float64 `json:"height"`
	Moisture    float64 `json:"moisture"`     // 0-1, fixed at generation
	Vegetation  float64 `json:"vegetation"`   // 0-1, fixed at generation
	Fuel        float64 `json:"fuel"`         // 0-1, only ever decreases
	InitialFuel float64 `json:"initial_fuel"` // generation-time fuel
	Tint        float64 `json:"-"`            // colour variation in [0,1]
}

// Burned reports whether the cell lost more than 10% of its original fuel.
func (c Cell) Burned() bool {
	return c.InitialFuel > 0 && c.Fuel < 0.9*c.InitialFuel
}

// BurnRatio is the fraction of original fuel consumed.
func (c Cell) BurnRatio() float64 {
	if c.InitialFuel <= 0 {
		return 0
	}
	return clamp01(1 - c.Fuel/c.InitialFuel)
}

// Grid holds the terrain cells in row-major order (row = z, col = x).
type Grid struct {
	cfg      Config
	cellSize float64
	surface  func(x, z float64) float64
	cells    []Cell
}

func newGrid(cfg Config, surface func(x, z float64) float64) *Grid {
	return &Grid{
		cfg:      cfg,
		cellSize: cfg.WorldSize / float64(cfg.Width),
		surface:  surface,
		cells:    make([]Cell, cfg.Width*cfg.Height),
	}
}

// Config returns the generation config, including the resolved seed.
func (g *Grid) Config() Config { return g.cfg }

// Len returns the number of cells.
func (g *Grid) Len() int { return len(g.cells) }

// Half returns half the world size; the grid spans [-Half, Half) on both axes.
func (g *Grid) Half() float64 { return g.cfg.WorldSize / 2 }

// Index maps a world position to a cell index, or InvalidIndex outside the grid.
func (g *Grid) Index(x, z float64) int {
	if math.IsNaN(x) || math.IsNaN(z) || math.IsInf(x, 0) || math.IsInf(z, 0) {
		return InvalidIndex
	}
	half := g.Half()
	col := int(math.Floor((x + half) * float64(g.cfg.Width) / g.cfg.WorldSize))
	row := int(math.Floor((z + half) * float64(g.cfg.Height) / g.cfg.WorldSize))
	if col < 0 || col >= g.cfg.Width || row < 0 || row >= g.cfg.Height {
		return InvalidIndex
	}
	return row*g.cfg.Width + col
}

// CellCenter returns the world position of the centre of cell (col, row).
func (g *Grid) CellCenter(col, row int) (x, z float64) {
	half := g.Half()
	sz := g.cfg.WorldSize / float64(g.cfg.Height)
	return -half + (float64(col)+0.5)*g.cellSize, -half + (float64(row)+0.5)*sz
}

// Position returns the world position of the centre of cell idx.
func (g *Grid) Position(idx int) (x, z float64) {
	if !g.valid(idx) {
		return math.NaN(), math.NaN()
	}
	return g.CellCenter(idx%g.cfg.Width, idx/g.cfg.Width)
}

// At returns the cell at idx.
func (g *Grid) At(idx int) (Cell, bool) {
	if !g.valid(idx) {
		return Cell{}, false
	}
	return g.cells[idx], true
}

// Fuel returns the remaining fuel at idx, or 0 for an invalid index.
func (g *Grid) Fuel(idx int) float64 {
	if !g.valid(idx) {
		return 0
	}
	return g.cells[idx].Fuel
}

// Moisture returns the moisture at idx, or 0 for an invalid index.
func (g *Grid) Moisture(idx int) float64 {
	if !g.valid(idx) {
		return 0
	}
	return g.cells[idx].Moisture
}

// Consume removes up to amount of fuel from idx, floored at zero, and returns
// the amount actually removed. Invalid indices and non-positive amounts are
// no-ops.
func (g *Grid) Consume(idx int, amount float64) float64 {
	if !g.valid(idx) || !(amount > 0) {
		return 0
	}
	c := &g.cells[idx]
	removed := math.Min(amount, c.Fuel)
	c.Fuel -= removed
	if c.Fuel < fuelEpsilon {
		removed += c.Fuel
		c.Fuel = 0
	}
	return removed
}

// Reset restores every cell's fuel to its generation-time value. Moisture,
// vegetation and height never change, so this is a full reinitialization.
func (g *Grid) Reset() {
	for i := range g.cells {
		g.cells[i].Fuel = g.cells[i].InitialFuel
	}
}

// Fuels returns a copy of every cell's fuel.
func (g *Grid) Fuels() []float64 {
	out := make([]float64, len(g.cells))
	for i, c := range g.cells {
		out[i] = c.Fuel
	}
	return out
}

// Cells returns a copy of the cells.
func (g *Grid) Cells() []Cell {
	return append([]Cell(nil), g.cells...)
}

// BurnedCount returns how many cells lost more than 10% of their fuel.
func (g *Grid) BurnedCount() int {
	n := 0
	for _, c := range g.cells {
		if c.Burned() {
			n++
		}
	}
	return n
}

// HeightAt returns the surface height at a world position.
func (g *Grid) HeightAt(x, z float64) float64 {
	return g.surface(x, z)
}

// Gradient returns the forward-difference height gradient (dh/dx, dh/dz).
func (g *Grid) Gradient(x, z float64) (dx, dz float64) {
	h := g.surface(x, z)
	return g.surface(x+1, z) - h, g.surface(x, z+1) - h
}

// SlopeFactor is 1 + |gradient| * 2; fire runs faster uphill.
func (g *Grid) SlopeFactor(x, z float64) float64 {
	dx, dz := g.Gradient(x, z)
	return 1 + math.Hypot(dx, dz)*2
}

// SlopeVector returns the normalised uphill direction in the xz plane, or the
// zero vector on flat ground.
func (g *Grid) SlopeVector(x, z float64) mgl64.Vec3 {
	dx, dz := g.Gradient(x, z)
	v := mgl64.Vec3{dx, 0, dz}
	if v.LenSqr() < 1e-18 {
		return mgl64.Vec3{}
	}
	return v.Normalize()
}

func (g *Grid) valid(idx int) bool {
	return idx >= 0 && idx < len(g.cells)
}
