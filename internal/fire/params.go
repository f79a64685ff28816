package fire

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/talgya/firesim/internal/particles"
)

// Bounds is a lat/lng rectangle in degrees.
type Bounds struct {
	MinLat float64 `json:"min_lat"`
	MaxLat float64 `json:"max_lat"`
	MinLng float64 `json:"min_lng"`
	MaxLng float64 `json:"max_lng"`
}

// Contains reports whether (lat, lng) lies inside the rectangle.
func (b Bounds) Contains(lat, lng float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lng >= b.MinLng && lng <= b.MaxLng
}

// Params holds every tunable constant of both engines.
type Params struct {
	// Terrain engine.
	BaseSpreadRate      float64 // spread attempts per second before factors
	BurnRate            float64 // fuel consumed per second
	SourceIntensity     float64
	SourceTemperature   float64
	SourceRadius        float64
	SpreadDistanceMin   float64
	SpreadDistanceMax   float64
	WindSpreadWeight    float64
	IgnitionFuelCost    float64 // fuel taken from a cell when a child ignites there
	MinSeparation       float64
	EmberSeparation     float64
	EmberIgnitionChance float64
	EmberMinFuel        float64
	MaxActiveSources    int
	ExtinguishDecay     float64
	ExtinguishThreshold float64
	WindSpeedScale      float64 // km/h per unit of wind strength
	WindDriftStrength   float64
	WindDriftHeading    float64
	FastForwardHours    float64
	Particles           particles.Capacities

	// Map engine.
	MapBaseDistance      float64 // degrees
	MapSpreadChance      float64
	MapSpreadCone        float64 // full cone width in radians
	MaxSpreadsPerTick    int
	MapSourcesConsidered int
	MapEvictThreshold    int
	MapEvictCount        int
	MapMinSeparation     float64 // degrees
	MapOriginRadius      float64 // metres
	MapBurnRadiusMin     float64 // metres
	MapBurnRadiusMax     float64 // metres
	MapBounds            Bounds
}

// DefaultParams returns the reference tuning.
func DefaultParams() Params {
	return Params{
		BaseSpreadRate:      0.1,
		BurnRate:            0.1,
		SourceIntensity:     1,
		SourceTemperature:   800,
		SourceRadius:        2,
		SpreadDistanceMin:   3,
		SpreadDistanceMax:   8,
		WindSpreadWeight:    3,
		IgnitionFuelCost:    0.3,
		MinSeparation:       4,
		EmberSeparation:     8,
		EmberIgnitionChance: 0.05,
		EmberMinFuel:        0.3,
		MaxActiveSources:    200,
		ExtinguishDecay:     0.95,
		ExtinguishThreshold: 0.1,
		WindSpeedScale:      30,
		WindDriftStrength:   0.1,
		WindDriftHeading:    0.2,
		FastForwardHours:    5,
		Particles:           particles.DefaultCapacities(),

		MapBaseDistance:      0.005,
		MapSpreadChance:      0.4,
		MapSpreadCone:        math.Pi / 3,
		MaxSpreadsPerTick:    3,
		MapSourcesConsidered: 10,
		MapEvictThreshold:    50,
		MapEvictCount:        10,
		MapMinSeparation:     0.0005,
		MapOriginRadius:      200,
		MapBurnRadiusMin:     100,
		MapBurnRadiusMax:     150,
		MapBounds:            Bounds{MinLat: 28.7, MaxLat: 31.5, MinLng: 77.5, MaxLng: 81.1},
	}
}

// floatFields maps override keys to their fields.
func (p *Params) floatFields() map[string]*float64 {
	return map[string]*float64{
		"base_spread_rate":      &p.BaseSpreadRate,
		"burn_rate":             &p.BurnRate,
		"source_intensity":      &p.SourceIntensity,
		"source_temperature":    &p.SourceTemperature,
		"source_radius":         &p.SourceRadius,
		"spread_distance_min":   &p.SpreadDistanceMin,
		"spread_distance_max":   &p.SpreadDistanceMax,
		"wind_spread_weight":    &p.WindSpreadWeight,
		"ignition_fuel_cost":    &p.IgnitionFuelCost,
		"min_separation":        &p.MinSeparation,
		"ember_separation":      &p.EmberSeparation,
		"ember_ignition_chance": &p.EmberIgnitionChance,
		"ember_min_fuel":        &p.EmberMinFuel,
		"extinguish_decay":      &p.ExtinguishDecay,
		"extinguish_threshold":  &p.ExtinguishThreshold,
		"wind_speed_scale":      &p.WindSpeedScale,
		"wind_drift_strength":   &p.WindDriftStrength,
		"wind_drift_heading":    &p.WindDriftHeading,
		"fast_forward_hours":    &p.FastForwardHours,
		"map_base_distance":     &p.MapBaseDistance,
		"map_spread_chance":     &p.MapSpreadChance,
		"map_spread_cone":       &p.MapSpreadCone,
		"map_min_separation":    &p.MapMinSeparation,
		"map_origin_radius":     &p.MapOriginRadius,
		"map_burn_radius_min":   &p.MapBurnRadiusMin,
		"map_burn_radius_max":   &p.MapBurnRadiusMax,
	}
}

func (p *Params) intFields() map[string]*int {
	return map[string]*int{
		"max_active_sources":     &p.MaxActiveSources,
		"max_spreads_per_tick":   &p.MaxSpreadsPerTick,
		"map_sources_considered": &p.MapSourcesConsidered,
		"map_evict_threshold":    &p.MapEvictThreshold,
		"map_evict_count":        &p.MapEvictCount,
		"particles_flame":        &p.Particles.Flame,
		"particles_smoke":        &p.Particles.Smoke,
		"particles_ember":        &p.Particles.Ember,
	}
}

// ParamKeys lists every key accepted by ParamsFromMap, sorted.
func ParamKeys() []string {
	var p Params
	keys := make([]string, 0, 40)
	for k := range p.floatFields() {
		keys = append(keys, k)
	}
	for k := range p.intFields() {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ParamsFromMap applies string overrides (flag-style key/value pairs) on top
// of base. Unknown keys and malformed or negative numbers are errors.
func ParamsFromMap(base Params, overrides map[string]string) (Params, error) {
	p := base
	floats := p.floatFields()
	ints := p.intFields()
	for key, raw := range overrides {
		key = strings.ReplaceAll(strings.ToLower(strings.TrimSpace(key)), "-", "_")
		raw = strings.TrimSpace(raw)
		if f, ok := floats[key]; ok {
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil || v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
				return base, fmt.Errorf("param %s: invalid value %q", key, raw)
			}
			*f = v
			continue
		}
		if n, ok := ints[key]; ok {
			v, err := strconv.Atoi(raw)
			if err != nil || v < 0 {
				return base, fmt.Errorf("param %s: invalid value %q", key, raw)
			}
			*n = v
			continue
		}
		return base, fmt.Errorf("unknown param %q", key)
	}
	if p.SpreadDistanceMax < p.SpreadDistanceMin {
		p.SpreadDistanceMax = p.SpreadDistanceMin
	}
	if p.MapBurnRadiusMax < p.MapBurnRadiusMin {
		p.MapBurnRadiusMax = p.MapBurnRadiusMin
	}
	return p, nil
}
