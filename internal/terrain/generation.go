// Terrain generation: layered trigonometric height, water- and elevation-driven
// moisture, banded vegetation and the fuel load derived from both.
package terrain

import (
	"math"
	"math/rand"

	opensimplex "github.com/ojrac/opensimplex-go"
)

// Config holds terrain generation parameters.
type Config struct {
	Width     int     // Cells along x
	Height    int     // Cells along z
	WorldSize float64 // World units covered by the grid on each axis
	Seed      int64   // Perturbation seed (0 = random)
	Relief    float64 // Extra simplex relief amplitude added to the trig surface
}

// DefaultConfig returns the reference 120x120 grid over a 100-unit world.
func DefaultConfig() Config {
	return Config{
		Width:     120,
		Height:    120,
		WorldSize: 100,
	}
}

// SmallTestConfig returns a tiny grid for fast tests.
func SmallTestConfig() Config {
	return Config{
		Width:     24,
		Height:    24,
		WorldSize: 20,
		Seed:      42,
		Relief:    16,
	}
}

// Water features that feed moisture.
var (
	riverPoint = [2]float64{0, 20}
	lakePoint  = [2]float64{30, -15}
)

type octave struct {
	scale, amp, px, pz float64
}

var octaves = [...]octave{
	{0.02, 2, 0, 0},
	{0.008, 4, 1.7, 2.3},
	{0.004, 2, 3.1, 4.7},
	{0.001, 8, 5.9, 6.1},
}

// SurfaceHeight returns the trigonometric terrain elevation at world position
// (x, z), clamped to be non-negative.
func SurfaceHeight(x, z float64) float64 {
	return math.Max(0, trigHeight(x, z))
}

func trigHeight(x, z float64) float64 {
	h := 0.0
	for _, o := range octaves {
		h += math.Sin(x*o.scale+o.px) * math.Cos(z*o.scale+o.pz) * o.amp
	}
	// Ridges and valleys.
	h += math.Abs(math.Sin(x*0.01)*math.Cos(z*0.01)) * 3
	return h
}

// surfaceFunc builds the height surface for a config. With zero relief it is
// exactly SurfaceHeight.
func surfaceFunc(cfg Config) func(x, z float64) float64 {
	if cfg.Relief <= 0 {
		return SurfaceHeight
	}
	relief := opensimplex.NewNormalized(cfg.Seed + 2)
	amp := cfg.Relief
	return func(x, z float64) float64 {
		return math.Max(0, trigHeight(x, z)+octaveNoise(relief, x, z, 4, 0.03, 0.5)*amp)
	}
}

func octaveNoise(noise opensimplex.Noise, x, y float64, octaves int, frequency, persistence float64) float64 {
	total := 0.0
	amplitude := 1.0
	maxVal := 0.0

	for i := 0; i < octaves; i++ {
		total += noise.Eval2(x*frequency, y*frequency) * amplitude
		maxVal += amplitude
		amplitude *= persistence
		frequency *= 2
	}

	return total / maxVal
}

// WaterDistance returns the distance to the nearer water feature.
func WaterDistance(x, z float64) float64 {
	river := math.Hypot(x-riverPoint[0], z-riverPoint[1])
	lake := math.Hypot(x-lakePoint[0], z-lakePoint[1])
	return math.Min(river, lake)
}

// Moisture derives cell moisture. variation is the per-cell perturbation in [0.8, 1.2].
func Moisture(x, z, height, variation float64) float64 {
	elevationFactor := math.Max(0, 1-height/12)
	distanceFactor := math.Max(0.1, 1-WaterDistance(x, z)/40)
	return clamp01(elevationFactor * distanceFactor * variation)
}

// Vegetation derives vegetation density from elevation band, moisture and clustering.
func Vegetation(x, z, height, moisture float64) float64 {
	band := 0.3
	switch {
	case height < 2:
		band = 1
	case height < 6:
		band = 0.8
	}
	cluster := (math.Sin(x*0.05)+math.Cos(z*0.05))*0.3 + 0.7
	return clamp01(band * moisture * 1.2 * cluster)
}

// FuelLoad derives burnable fuel from vegetation and dryness.
func FuelLoad(vegetation, moisture float64) float64 {
	dryness := 1 - moisture
	return clamp01(vegetation * 0.8 * (0.5 + dryness*0.5))
}

// Generate creates a terrain grid. Identical seeds yield identical fields.
func Generate(cfg Config) *Grid {
	cfg = normalize(cfg)
	if cfg.Seed == 0 {
		cfg.Seed = rand.Int63()
	}

	// Independent noise for the moisture perturbation and the colour tint.
	varNoise := opensimplex.NewNormalized(cfg.Seed)
	tintNoise := opensimplex.NewNormalized(cfg.Seed + 1)

	surface := surfaceFunc(cfg)
	g := newGrid(cfg, surface)
	for row := 0; row < cfg.Height; row++ {
		for col := 0; col < cfg.Width; col++ {
			x, z := g.CellCenter(col, row)
			h := surface(x, z)

			variation := 0.8 + 0.4*varNoise.Eval2(x*0.37, z*0.37)
			m := Moisture(x, z, h, variation)
			v := Vegetation(x, z, h, m)
			f := FuelLoad(v, m)

			g.cells[row*cfg.Width+col] = Cell{
				Height:      h,
				Moisture:    m,
				Vegetation:  v,
				Fuel:        f,
				InitialFuel: f,
				Tint:        tintNoise.Eval2(x*0.21, z*0.21),
			}
		}
	}
	return g
}

// Uniform creates a flat grid where every cell carries the given fields.
// Fuel and InitialFuel are both taken from c.Fuel.
func Uniform(cfg Config, c Cell) *Grid {
	cfg = normalize(cfg)
	c.Moisture = clamp01(c.Moisture)
	c.Vegetation = clamp01(c.Vegetation)
	c.Fuel = clamp01(c.Fuel)
	c.InitialFuel = c.Fuel

	h := c.Height
	g := newGrid(cfg, func(x, z float64) float64 { return h })
	for i := range g.cells {
		g.cells[i] = c
	}
	return g
}

func normalize(cfg Config) Config {
	d := DefaultConfig()
	if cfg.Width <= 0 {
		cfg.Width = d.Width
	}
	if cfg.Height <= 0 {
		cfg.Height = d.Height
	}
	if cfg.WorldSize <= 0 || math.IsNaN(cfg.WorldSize) || math.IsInf(cfg.WorldSize, 0) {
		cfg.WorldSize = d.WorldSize
	}
	return cfg
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
