package fire

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/talgya/firesim/internal/env"
)

// Factors are the raw local conditions feeding the spread rate.
type Factors struct {
	Fuel         float64 // fuel load at the source cell
	Moisture     float64 // moisture at the source cell
	WindStrength float64
	Gradient     float64 // |height gradient| at the source
	Temperature  float64 // source temperature in Celsius
}

// MoistureFactor is max(0.1, 1 - moisture).
func (f Factors) MoistureFactor() float64 { return math.Max(0.1, 1-f.Moisture) }

// WindFactor is 1 + strength*2.
func (f Factors) WindFactor() float64 { return 1 + f.WindStrength*2 }

// SlopeFactor is 1 + |gradient|*2; fire runs faster uphill.
func (f Factors) SlopeFactor() float64 { return 1 + math.Abs(f.Gradient)*2 }

// TemperatureFactor is min(2, temperature/500).
func (f Factors) TemperatureFactor() float64 { return math.Min(2, f.Temperature/500) }

// SpreadRate returns the per-second spread probability, always in [0, 1].
// Negative or non-finite products clamp to 0.
func SpreadRate(base float64, f Factors) float64 {
	rate := base * f.Fuel * f.MoistureFactor() * f.WindFactor() * f.SlopeFactor() * f.TemperatureFactor()
	if math.IsNaN(rate) || rate < 0 {
		return 0
	}
	if rate > 1 {
		return 1
	}
	return rate
}

// Wind is the terrain engine's wind: a unit xz direction and a strength.
type Wind struct {
	Direction mgl64.Vec3 `json:"direction"`
	Strength  float64    `json:"strength"`
}

// windDrift accumulates random variation on top of the environment's wind.
type windDrift struct {
	strength float64
	heading  float64 // radians
}

const (
	minWindStrength = 0.1
	maxWindStrength = 2.0
)

// windFor combines the environment reading with the accumulated drift.
func windFor(e env.State, p Params, d windDrift) Wind {
	scale := p.WindSpeedScale
	if scale <= 0 {
		scale = 30
	}
	strength := clamp(e.WindSpeed/scale+d.strength, minWindStrength, maxWindStrength)
	heading := e.WindDirection.Angle() + d.heading
	return Wind{
		Direction: mgl64.Vec3{math.Sin(heading), 0, -math.Cos(heading)},
		Strength:  strength,
	}
}

// drift applies one step of random wind variation.
func (d *windDrift) drift(e env.State, p Params, dt float64, rnd func() float64) {
	scale := p.WindSpeedScale
	if scale <= 0 {
		scale = 30
	}
	base := e.WindSpeed / scale
	d.strength += (rnd() - 0.5) * p.WindDriftStrength * dt
	// Keep the offset inside the range the clamp allows.
	d.strength = clamp(base+d.strength, minWindStrength, maxWindStrength) - base
	d.heading += (rnd() - 0.5) * p.WindDriftHeading * dt
	d.heading = math.Mod(d.heading, 2*math.Pi)
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
