// Package particles provides the fixed-capacity flame, smoke and ember pools
// attached to each 3D fire source. Slots are recycled in place when they age
// out; nothing is allocated after a Set is created.
package particles

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	colorful "github.com/lucasb-eyer/go-colorful"

	"github.com/talgya/firesim/internal/entropy"
)

// Force-model constants.
const (
	Gravity     = -9.81
	Buoyancy    = 12.0
	ThermalRise = 8.0
)

// Kind identifies a particle pool.
type Kind uint8

const (
	Flame Kind = iota
	Smoke
	Ember
	numKinds
)

// Kinds lists every pool kind in update order.
var Kinds = [...]Kind{Flame, Smoke, Ember}

func (k Kind) String() string {
	switch k {
	case Flame:
		return "flame"
	case Smoke:
		return "smoke"
	case Ember:
		return "ember"
	default:
		return "unknown"
	}
}

// MaxAge is the age in seconds after which a slot is recycled.
func (k Kind) MaxAge() float64 {
	switch k {
	case Flame:
		return 2
	case Smoke:
		return 8
	default:
		return 5
	}
}

// Capacities sets the pool sizes of a Set.
type Capacities struct {
	Flame int
	Smoke int
	Ember int
}

// DefaultCapacities returns the reference pool sizes.
func DefaultCapacities() Capacities {
	return Capacities{Flame: 800, Smoke: 400, Ember: 150}
}

func (c Capacities) of(k Kind) int {
	switch k {
	case Flame:
		return c.Flame
	case Smoke:
		return c.Smoke
	default:
		return c.Ember
	}
}

// Particle is one pooled slot.
type Particle struct {
	Position mgl64.Vec3
	Velocity mgl64.Vec3
	Age      float64
	Size     float64
	Color    colorful.Color
}

// Pool is a fixed arena of particles of one kind.
type Pool struct {
	Kind      Kind
	Particles []Particle
	Opacity   float64
}

// Emitter describes the owning source and the wind acting on its particles.
// Wind is a unit direction in the xz plane.
type Emitter struct {
	Origin       mgl64.Vec3
	Radius       float64
	Intensity    float64
	Temperature  float64
	Wind         mgl64.Vec3
	WindStrength float64
}

// Ground returns terrain height at a world position.
type Ground func(x, z float64) float64

// Set holds the three pools owned by a single fire source.
type Set struct {
	pools [numKinds]Pool
}

var smokeColor = colorful.Color{R: 0.2, G: 0.2, B: 0.2}

// NewSet allocates and seeds every slot around the emitter.
func NewSet(caps Capacities, em Emitter, rng entropy.Source) *Set {
	s := &Set{}
	for _, k := range Kinds {
		n := caps.of(k)
		if n < 0 {
			n = 0
		}
		p := Pool{Kind: k, Particles: make([]Particle, n), Opacity: initialOpacity(k)}
		for i := range p.Particles {
			spawn(&p.Particles[i], k, em, rng)
		}
		s.pools[k] = p
	}
	return s
}

func initialOpacity(k Kind) float64 {
	switch k {
	case Smoke:
		return 0.6
	case Ember:
		return 0.9
	default:
		return 1
	}
}

// spawn fills a fresh slot; initial ages are spread so pools do not pulse.
func spawn(p *Particle, k Kind, em Emitter, rng entropy.Source) {
	angle := rng.Float() * 2 * math.Pi
	switch k {
	case Flame:
		r := rng.Float() * em.Radius
		p.Position = em.Origin.Add(mgl64.Vec3{math.Cos(angle) * r, rng.Float() * 2, math.Sin(angle) * r})
		p.Velocity = launchVelocity(k, em, rng)
		p.Age = rng.Float() * 2
		p.Color = TemperatureColor(500 + rng.Float()*600)
		p.Size = 1 + rng.Float()*3
	case Smoke:
		r := rng.Float() * (em.Radius + 2)
		p.Position = em.Origin.Add(mgl64.Vec3{math.Cos(angle) * r, 3 + rng.Float()*5, math.Sin(angle) * r})
		p.Velocity = launchVelocity(k, em, rng)
		p.Age = rng.Float() * 5
		p.Color = smokeColor
		p.Size = 2 + rng.Float()*6
	case Ember:
		r := rng.Float() * em.Radius
		p.Position = em.Origin.Add(mgl64.Vec3{math.Cos(angle) * r, rng.Float() * 3, math.Sin(angle) * r})
		p.Velocity = launchVelocity(k, em, rng)
		p.Age = rng.Float() * 3
		p.Color = TemperatureColor(600)
		p.Size = 0.3 + rng.Float()*0.7
	}
}

// recycle resets an expired or landed slot near the source.
func recycle(p *Particle, k Kind, em Emitter, rng entropy.Source) {
	angle := rng.Float() * 2 * math.Pi
	r := rng.Float() * em.Radius
	p.Position = em.Origin.Add(mgl64.Vec3{math.Cos(angle) * r, rng.Float() * 2, math.Sin(angle) * r})
	p.Age = rng.Float() * 0.5
	p.Velocity = launchVelocity(k, em, rng)
	if k == Flame {
		p.Color = TemperatureColor(500 + rng.Float()*600)
	}
}

func launchVelocity(k Kind, em Emitter, rng entropy.Source) mgl64.Vec3 {
	w := em.Wind
	switch k {
	case Flame:
		return mgl64.Vec3{
			w.X()*em.WindStrength + entropy.Jitter(rng)*2,
			ThermalRise + rng.Float()*5,
			w.Z()*em.WindStrength + entropy.Jitter(rng)*2,
		}
	case Smoke:
		return mgl64.Vec3{
			w.X()*em.WindStrength*2 + entropy.Jitter(rng),
			ThermalRise*0.3 + rng.Float()*2,
			w.Z()*em.WindStrength*2 + entropy.Jitter(rng),
		}
	default:
		speed := 5 + rng.Float()*10
		return mgl64.Vec3{
			w.X()*speed + entropy.Jitter(rng)*3,
			ThermalRise*0.5 + rng.Float()*8,
			w.Z()*speed + entropy.Jitter(rng)*3,
		}
	}
}

// Pool returns the pool of kind k.
func (s *Set) Pool(k Kind) *Pool {
	if k >= numKinds {
		return nil
	}
	return &s.pools[k]
}

// Len returns the total number of slots across all pools.
func (s *Set) Len() int {
	n := 0
	for i := range s.pools {
		n += len(s.pools[i].Particles)
	}
	return n
}

// Update advances every slot by dt seconds. It returns the xz positions of
// embers that touched the ground this step; those slots are already recycled.
func (s *Set) Update(dt float64, em Emitter, ground Ground, rng entropy.Source) []mgl64.Vec3 {
	if !(dt > 0) {
		return nil
	}
	var landings []mgl64.Vec3
	for _, k := range Kinds {
		pool := &s.pools[k]
		maxAge := k.MaxAge()
		for i := range pool.Particles {
			p := &pool.Particles[i]
			p.Age += dt
			if p.Age > maxAge {
				recycle(p, k, em, rng)
				continue
			}
			switch k {
			case Flame:
				updateFlame(p, dt, em, rng)
			case Smoke:
				updateSmoke(p, dt, em, rng)
			case Ember:
				updateEmber(p, dt, em)
				if ground != nil && p.Position.Y() <= ground(p.Position.X(), p.Position.Z())+1 {
					landings = append(landings, mgl64.Vec3{p.Position.X(), 0, p.Position.Z()})
					recycle(p, k, em, rng)
				}
			}
		}
		pool.fade()
	}
	return landings
}

func (p *Pool) fade() {
	var rate float64
	switch p.Kind {
	case Smoke:
		rate = 0.995
	case Ember:
		rate = 0.998
	default:
		return
	}
	if p.Opacity > 0.1 {
		p.Opacity *= rate
	}
}

func updateFlame(p *Particle, dt float64, em Emitter, rng entropy.Source) {
	// Thermal updraft weakens as the flame ages.
	lift := Buoyancy * (2 - p.Age) * em.Intensity
	p.Velocity[1] += lift * dt

	p.Velocity[0] += em.Wind.X() * em.WindStrength * dt * 2
	p.Velocity[2] += em.Wind.Z() * em.WindStrength * dt * 2

	const turbulence = 3.0
	p.Velocity[0] += entropy.Jitter(rng) * turbulence * dt
	p.Velocity[1] += entropy.Jitter(rng) * turbulence * dt * 0.5
	p.Velocity[2] += entropy.Jitter(rng) * turbulence * dt

	p.Velocity = p.Velocity.Mul(0.98)
	p.Position = p.Position.Add(p.Velocity.Mul(dt))

	p.Color = TemperatureColor(em.Temperature * (1 - p.Age/2))
}

func updateSmoke(p *Particle, dt float64, em Emitter, rng entropy.Source) {
	lift := ThermalRise * 0.3 * (8 - p.Age) / 8
	p.Velocity[1] += lift * dt

	p.Velocity[0] += em.Wind.X() * em.WindStrength * dt * 3
	p.Velocity[2] += em.Wind.Z() * em.WindStrength * dt * 3

	expansion := p.Age * 0.5
	p.Velocity[0] += entropy.Jitter(rng) * expansion * dt
	p.Velocity[2] += entropy.Jitter(rng) * expansion * dt

	p.Velocity = p.Velocity.Mul(0.95)
	p.Position = p.Position.Add(p.Velocity.Mul(dt))
}

func updateEmber(p *Particle, dt float64, em Emitter) {
	p.Velocity[1] += Gravity * dt

	p.Velocity[0] += em.Wind.X() * em.WindStrength * dt * 4
	p.Velocity[2] += em.Wind.Z() * em.WindStrength * dt * 4

	p.Velocity = p.Velocity.Mul(0.99)
	p.Position = p.Position.Add(p.Velocity.Mul(dt))

	glow := math.Max(0, 1-p.Age/5)
	p.Color = TemperatureColor(600 * glow)
}
