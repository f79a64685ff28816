// Package stats provides read-only summary metrics of the fire engines:
// burned area, a circular-equivalent perimeter, spread rate, source counts and
// exposure of the fixed settlements. Nothing here feeds back into the model.
package stats

import (
	"math"

	"github.com/talgya/firesim/internal/fire"
)

// CellHectares is the area one terrain cell stands for.
const CellHectares = 0.01

// Record is one statistics sample.
type Record struct {
	Engine         fire.EngineKind `json:"engine"`
	Tick           uint64          `json:"tick"`
	SimHours       float64         `json:"sim_hours"`
	BurnedArea     float64         `json:"burned_area_ha"`
	Perimeter      float64         `json:"perimeter"`
	SpreadRate     float64         `json:"spread_rate_ha_per_hour"`
	ActiveSources  int             `json:"active_sources"`
	BurnedRecords  int             `json:"burned_records"`
	VillagesAtRisk int             `json:"villages_at_risk"`
	Infrastructure string          `json:"infrastructure"`
}

// Village is a settlement on the terrain whose exposure is reported.
type Village struct {
	Name string  `json:"name"`
	X    float64 `json:"x"`
	Z    float64 `json:"z"`
}

// Villages on the reference terrain.
var Villages = []Village{
	{Name: "Mountain Village", X: -20, Z: -15},
	{Name: "Forest Camp", X: 25, Z: 10},
	{Name: "Research Station", X: -10, Z: 30},
}

// Perimeter estimates the perimeter of a burned area as the circumference of
// the circle of equal area, scaled as sqrt(area*pi)*2*pi.
func Perimeter(area float64) float64 {
	if !(area > 0) {
		return 0
	}
	return math.Sqrt(area*math.Pi) * 2 * math.Pi
}

// VillagesAtRisk counts villages whose distance from the origin is less than
// sqrt(area) plus a 10-unit buffer.
func VillagesAtRisk(area float64) int {
	radius := math.Sqrt(math.Max(0, area))
	n := 0
	for _, v := range Villages {
		if math.Hypot(v.X, v.Z) < radius+10 {
			n++
		}
	}
	return n
}

// Infrastructure labels what is threatened at a given burned area.
func Infrastructure(area float64) string {
	switch {
	case area > 50:
		return "Roads, Buildings, Infrastructure"
	case area > 10:
		return "Local Roads"
	default:
		return "None"
	}
}

// FromTerrain samples the terrain engine. Burned area counts cells that lost
// more than 10% of their original fuel.
func FromTerrain(st *fire.TerrainState) Record {
	area := float64(st.Grid.BurnedCount()) * CellHectares
	return Record{
		Engine:         fire.EngineTerrain,
		Tick:           st.Tick,
		SimHours:       st.SimHours,
		BurnedArea:     area,
		Perimeter:      Perimeter(area),
		SpreadRate:     area / math.Max(1, st.SimHours),
		ActiveSources:  len(st.Sources),
		BurnedRecords:  len(st.Burned),
		VillagesAtRisk: VillagesAtRisk(area),
		Infrastructure: Infrastructure(area),
	}
}

// FromMap samples the map engine. Burned area is the total of the burn
// circles in hectares, including circles already evicted from the map.
func FromMap(st *fire.MapState) Record {
	m2 := st.EvictedArea
	for _, s := range st.Sources {
		m2 += math.Pi * s.Radius * s.Radius
	}
	area := m2 / 10000
	hours := float64(st.Minutes) / 60

	rate := 0.0
	if hours > 0 {
		rate = area / hours
	}
	return Record{
		Engine:         fire.EngineMap,
		Tick:           st.Tick,
		SimHours:       hours,
		BurnedArea:     area,
		Perimeter:      Perimeter(area),
		SpreadRate:     rate,
		ActiveSources:  len(st.Sources),
		Infrastructure: Infrastructure(area),
	}
}
