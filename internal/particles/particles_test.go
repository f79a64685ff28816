package particles

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/talgya/firesim/internal/entropy"
)

func testEmitter() Emitter {
	return Emitter{
		Origin:       mgl64.Vec3{0, 0, 0},
		Radius:       2,
		Intensity:    1,
		Temperature:  800,
		Wind:         mgl64.Vec3{math.Sqrt2 / 2, 0, -math.Sqrt2 / 2},
		WindStrength: 0.5,
	}
}

func flatGround(x, z float64) float64 { return 0 }

func TestPoolsKeepCapacity(t *testing.T) {
	rng := entropy.NewSeeded(9)
	caps := Capacities{Flame: 40, Smoke: 20, Ember: 10}
	s := NewSet(caps, testEmitter(), rng)
	if s.Len() != 70 {
		t.Fatalf("set holds %d slots, want 70", s.Len())
	}

	for i := 0; i < 600; i++ {
		s.Update(1.0/30, testEmitter(), flatGround, rng)
	}

	for _, k := range Kinds {
		p := s.Pool(k)
		if len(p.Particles) != caps.of(k) {
			t.Fatalf("%s pool resized to %d", k, len(p.Particles))
		}
		for i, part := range p.Particles {
			if part.Age > k.MaxAge() {
				t.Fatalf("%s slot %d age %f exceeds max %f", k, i, part.Age, k.MaxAge())
			}
		}
	}
}

func TestEmbersLandAndRecycle(t *testing.T) {
	rng := entropy.Constant(0)
	s := NewSet(Capacities{Ember: 5}, testEmitter(), rng)

	landings := s.Update(0.01, testEmitter(), flatGround, rng)
	if len(landings) != 5 {
		t.Fatalf("got %d landings, want 5", len(landings))
	}
	for _, l := range landings {
		if l.Y() != 0 {
			t.Fatalf("landing should be reported in the xz plane, got %v", l)
		}
	}
	for _, p := range s.Pool(Ember).Particles {
		if p.Age != 0 {
			t.Fatalf("landed ember not recycled, age %f", p.Age)
		}
	}
}

func TestFlamesRise(t *testing.T) {
	rng := entropy.Constant(0.5)
	s := NewSet(Capacities{Flame: 3}, testEmitter(), rng)
	before := s.Pool(Flame).Particles[0].Position.Y()

	s.Update(0.1, testEmitter(), flatGround, rng)
	after := s.Pool(Flame).Particles[0]
	if after.Position.Y() <= before {
		t.Fatalf("flame did not rise: %f -> %f", before, after.Position.Y())
	}
	if after.Velocity.Y() <= ThermalRise {
		t.Fatalf("buoyancy should accelerate flames, vy = %f", after.Velocity.Y())
	}
}

func TestOpacityFadesToFloor(t *testing.T) {
	rng := entropy.NewSeeded(1)
	s := NewSet(Capacities{Flame: 1, Smoke: 1, Ember: 1}, testEmitter(), rng)

	s.Update(0.016, testEmitter(), nil, rng)
	if got := s.Pool(Smoke).Opacity; math.Abs(got-0.6*0.995) > 1e-12 {
		t.Fatalf("smoke opacity = %f", got)
	}
	if got := s.Pool(Ember).Opacity; math.Abs(got-0.9*0.998) > 1e-12 {
		t.Fatalf("ember opacity = %f", got)
	}
	if got := s.Pool(Flame).Opacity; got != 1 {
		t.Fatalf("flame opacity should not fade, got %f", got)
	}

	for i := 0; i < 5000; i++ {
		s.Update(0.016, testEmitter(), nil, rng)
	}
	if got := s.Pool(Smoke).Opacity; got > 0.1 || got < 0.1*0.995 {
		t.Fatalf("smoke opacity should settle at the floor, got %f", got)
	}
}

func TestZeroDeltaIsNoop(t *testing.T) {
	rng := entropy.NewSeeded(3)
	s := NewSet(Capacities{Flame: 4, Smoke: 4, Ember: 4}, testEmitter(), rng)
	before := append([]Particle(nil), s.Pool(Flame).Particles...)
	if l := s.Update(0, testEmitter(), flatGround, rng); l != nil {
		t.Fatal("zero dt should report nothing")
	}
	for i, p := range s.Pool(Flame).Particles {
		if p != before[i] {
			t.Fatal("zero dt moved a particle")
		}
	}
}

func TestTemperatureBands(t *testing.T) {
	temps := []float64{500, 700, 900, 1100, 1300}
	var prevL float64
	for i, temp := range temps {
		_, _, l := TemperatureColor(temp).Hsl()
		if i > 0 && l <= prevL {
			t.Fatalf("band at %.0f should be brighter than the one below", temp)
		}
		prevL = l
	}
	c := TemperatureColor(0)
	if c.R < 0.5 || c.G > 0.01 {
		t.Fatalf("cold band should be deep red, got %+v", c)
	}
}

func TestSnapshot(t *testing.T) {
	s := NewSet(Capacities{Flame: 2, Smoke: 3, Ember: 1}, testEmitter(), entropy.NewSeeded(4))
	snaps := s.Snapshot()
	if len(snaps) != 3 {
		t.Fatalf("got %d pools", len(snaps))
	}
	if snaps[1].Kind != "smoke" || len(snaps[1].Points) != 3 {
		t.Fatalf("smoke snapshot = %+v", snaps[1])
	}
	if len(snaps[0].Points[0].Color) != 7 {
		t.Fatalf("colour should be a hex string, got %q", snaps[0].Points[0].Color)
	}
}
