package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Engine drives a Simulation forward one generation at a time, pacing
// generations against the wall clock. Stop and SetSpeed may be called from
// other goroutines; the simulation itself is only touched by Run.
type Engine struct {
	Sim      *Simulation
	Interval time.Duration // Pause between generations at speed 1

	// MaxGenerations caps the run. 0 runs until stopped.
	MaxGenerations int

	// StopWhenSaturated ends the run once every agent is informed.
	StopWhenSaturated bool

	// OnGeneration runs on the engine goroutine after each generation.
	OnGeneration func(r GenerationResult)

	mu      sync.Mutex
	speed   float64
	running bool
	stopped bool
}

// NewEngine creates an engine for sim with default pacing.
func NewEngine(sim *Simulation) *Engine {
	return &Engine{
		Sim:      sim,
		Interval: 200 * time.Millisecond,
		speed:    1.0,
	}
}

// Speed returns the pace multiplier. 0 means paused.
func (e *Engine) Speed() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.speed
}

// SetSpeed changes the pace multiplier. Negative values pause.
func (e *Engine) SetSpeed(speed float64) {
	if speed < 0 {
		speed = 0
	}
	e.mu.Lock()
	e.speed = speed
	e.mu.Unlock()
}

// Running reports whether Run is in progress.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Stop asks Run to return after the current generation. A Stop that
// arrives before Run starts makes Run return immediately.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.running = false
	e.stopped = true
	e.mu.Unlock()
}

// Run steps the simulation until the cap, saturation (if enabled), Stop, or
// ctx cancellation. Returns the history accumulated so far.
func (e *Engine) Run(ctx context.Context) []int {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		slog.Info("simulation engine stopped before start", "generation", e.Sim.CurrentGeneration())
		return e.Sim.History()
	}
	e.running = true
	e.mu.Unlock()

	slog.Info("simulation engine started",
		"generation", e.Sim.CurrentGeneration(),
		"population", e.Sim.TotalPopulation(),
		"speed", e.Speed(),
	)

	for e.Running() && ctx.Err() == nil {
		if e.MaxGenerations > 0 && e.Sim.CurrentGeneration() >= e.MaxGenerations {
			break
		}
		if e.StopWhenSaturated && e.Sim.Saturated() {
			slog.Info("population saturated", "generation", e.Sim.CurrentGeneration())
			break
		}

		speed := e.Speed()
		if speed <= 0 {
			// Paused; sleep briefly and check again.
			sleepCtx(ctx, 100*time.Millisecond)
			continue
		}

		start := time.Now()

		r := e.Sim.Step()
		if e.OnGeneration != nil {
			e.OnGeneration(r)
		}

		// Sleep for the remainder of the interval, adjusted for speed.
		elapsed := time.Since(start)
		target := time.Duration(float64(e.Interval) / speed)
		if elapsed < target {
			sleepCtx(ctx, target-elapsed)
		}
	}

	e.mu.Lock()
	e.running = false
	e.mu.Unlock()
	slog.Info("simulation engine stopped",
		"generation", e.Sim.CurrentGeneration(),
		"informed", e.Sim.InformedCount(),
	)
	return e.Sim.History()
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
