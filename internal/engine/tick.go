// Package engine provides the simulation controller and the loops that drive
// it: a frame loop for the terrain engine and particles, and an interval tick
// loop for the map engine.
package engine

import (
	"context"
	"log/slog"
	"time"
)

// Loop timing.
const (
	DefaultFPS      = 30
	MaxFrameDelta   = 0.25 // seconds; longer frames are clamped
	MapTickBase     = 2 * time.Second
	MinMapTickDelay = 500 * time.Millisecond
)

// MapTickInterval is the delay between map ticks at a speed multiplier.
func MapTickInterval(speed float64) time.Duration {
	if !(speed > 0) {
		speed = 1
	}
	return max(MinMapTickDelay, time.Duration(float64(MapTickBase)/speed))
}

// FrameLoop calls Simulation.Frame at a target frame rate with the measured
// elapsed time. Blocks until ctx is cancelled.
func FrameLoop(ctx context.Context, sim *Simulation, fps int) {
	if fps <= 0 {
		fps = DefaultFPS
	}
	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	slog.Info("frame loop started", "fps", fps)
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			slog.Info("frame loop stopped", "tick", sim.TerrainTick())
			return
		case now := <-ticker.C:
			dt := now.Sub(last).Seconds()
			last = now
			sim.Frame(dt)
		}
	}
}

// TickLoop advances the map engine while it is playing, re-reading the speed
// after every tick. Blocks until ctx is cancelled.
func TickLoop(ctx context.Context, sim *Simulation) {
	slog.Info("map tick loop started", "interval", MapTickInterval(sim.Speed()))
	timer := time.NewTimer(MapTickInterval(sim.Speed()))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("map tick loop stopped", "tick", sim.MapTick())
			return
		case <-timer.C:
			sim.StepMap()
			timer.Reset(MapTickInterval(sim.Speed()))
		}
	}
}
