// Package engine runs the rumor simulation: the per-generation update rule,
// the simulation that owns the population and its history, and the paced
// loop that drives it.
package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/talgya/rumor-grid/internal/agents"
	"github.com/talgya/rumor-grid/internal/config"
	"github.com/talgya/rumor-grid/internal/entropy"
	"github.com/talgya/rumor-grid/internal/world"
)

// Simulation owns the grid, the agents, the generation counter, and the
// per-generation history. It is not safe for concurrent use; readers on
// other goroutines should work from Snapshot copies.
type Simulation struct {
	Config config.SimulationConfig
	Grid   *world.Grid[agents.Agent]
	Agents []*agents.Agent

	rng        entropy.Source
	generation int
	informed   int

	history []int     // Newly informed per generation
	rates   []float64 // Rejection rate per generation
	results []GenerationResult
}

// NewSimulation validates cfg and spawns the population from rng. No
// simulation is returned unless initialization fully succeeded; errors wrap
// config.ErrConfiguration or config.ErrCapacity.
func NewSimulation(cfg config.SimulationConfig, rng entropy.Source) (*Simulation, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	pop, err := agents.NewSpawner(rng).Spawn(agents.SpawnConfigFrom(cfg))
	if err != nil {
		return nil, fmt.Errorf("spawn population: %w", err)
	}

	sim := &Simulation{
		Config:   cfg,
		Grid:     pop.Grid,
		Agents:   pop.Agents,
		rng:      rng,
		informed: 1,
	}
	if err := sim.CheckPlacement(); err != nil {
		panic(err)
	}

	slog.Debug("population spawned",
		"name", cfg.Name,
		"grid", pop.Grid.Dims.String(),
		"agents", len(pop.Agents),
		"seed_agent", pop.Seed.ID,
		"seed_position", pop.Seed.Position,
	)
	return sim, nil
}

// TotalPopulation returns the fixed number of agents.
func (s *Simulation) TotalPopulation() int {
	return len(s.Agents)
}

// CurrentGeneration returns the number of completed generations.
func (s *Simulation) CurrentGeneration() int {
	return s.generation
}

// InformedCount returns how many agents are informed.
func (s *Simulation) InformedCount() int {
	return s.informed
}

// Saturated reports whether every agent is informed.
func (s *Simulation) Saturated() bool {
	return s.informed == len(s.Agents)
}

// History returns a copy of the newly-informed count of every completed
// generation, in order.
func (s *Simulation) History() []int {
	out := make([]int, len(s.history))
	copy(out, s.history)
	return out
}

// Rates returns a copy of the per-generation rejection rate series.
func (s *Simulation) Rates() []float64 {
	out := make([]float64, len(s.rates))
	copy(out, s.rates)
	return out
}

// Results returns a copy of the full per-generation metrics.
func (s *Simulation) Results() []GenerationResult {
	out := make([]GenerationResult, len(s.results))
	copy(out, s.results)
	return out
}

// Run steps until maxGenerations generations have completed (0 means no
// cap), ctx is cancelled, or stop returns true for a result. Cancellation is
// only observed between generations. Returns the history so far.
func (s *Simulation) Run(ctx context.Context, maxGenerations int, stop func(GenerationResult) bool) []int {
	for maxGenerations <= 0 || s.generation < maxGenerations {
		if ctx.Err() != nil {
			break
		}
		r := s.Step()
		if stop != nil && stop(r) {
			break
		}
	}
	return s.History()
}

// CheckPlacement verifies that every agent owns exactly the cell it records
// and that the grid holds nothing else.
func (s *Simulation) CheckPlacement() error {
	if s.Grid.Count() != len(s.Agents) {
		return fmt.Errorf("grid holds %d occupants for %d agents", s.Grid.Count(), len(s.Agents))
	}
	for _, a := range s.Agents {
		if got := s.Grid.At(a.Position); got != a {
			return fmt.Errorf("agent %d records %v but the cell does not hold it", a.ID, a.Position)
		}
	}
	return nil
}
