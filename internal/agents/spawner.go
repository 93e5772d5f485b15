// Agent spawning: places the initial population on the grid, assigns
// skepticism tiers, and designates the single seed spreader.
package agents

import (
	"fmt"
	"math"

	"github.com/talgya/rumor-grid/internal/config"
	"github.com/talgya/rumor-grid/internal/entropy"
	"github.com/talgya/rumor-grid/internal/world"
)

// SpawnConfig controls initial population generation.
type SpawnConfig struct {
	Dims      world.Dims
	Density   float64
	Weights   [NumTiers]float64 // Indexed by tier-1
	Mode      config.Mode
	Placement config.Placement
	Noise     world.NoiseConfig // Only used with PlacementNoise
}

// SpawnConfigFrom builds a SpawnConfig from run parameters.
func SpawnConfigFrom(s config.SimulationConfig) SpawnConfig {
	return SpawnConfig{
		Dims:      world.Dims{Rows: s.Rows, Cols: s.Cols},
		Density:   s.PopulationDensity,
		Weights:   s.Weights(),
		Mode:      s.Mode,
		Placement: s.Placement,
		Noise:     world.DefaultNoiseConfig(),
	}
}

// Population is a fully placed set of agents.
type Population struct {
	Grid   *world.Grid[Agent]
	Agents []*Agent // Creation order
	Seed   *Agent   // The one agent informed at generation 0
}

// Spawner creates agents for the simulation. All of its draws come from the
// injected source.
type Spawner struct {
	rng    entropy.Source
	nextID AgentID
}

// NewSpawner creates an agent spawner drawing from rng.
func NewSpawner(rng entropy.Source) *Spawner {
	return &Spawner{
		rng:    rng,
		nextID: 1,
	}
}

// Spawn populates a fresh grid. Nothing is returned unless the whole
// population was built; errors wrap config.ErrConfiguration or
// config.ErrCapacity.
func (s *Spawner) Spawn(cfg SpawnConfig) (*Population, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	capacity := cfg.Dims.Cells()
	n := int(float64(capacity) * cfg.Density)
	if n > capacity {
		return nil, fmt.Errorf("%w: %d agents on %d cells", config.ErrCapacity, n, capacity)
	}
	if n < 1 {
		return nil, fmt.Errorf("%w: density %v yields no agents", config.ErrConfiguration, cfg.Density)
	}

	var cells []int
	switch cfg.Placement {
	case config.PlacementNoise:
		cells = world.SampleCellsNoise(s.rng, cfg.Dims, n, cfg.Noise)
	default:
		cells = world.SampleCells(s.rng, capacity, n)
	}

	tiers, seedIdx, err := s.assignTiers(cfg, n)
	if err != nil {
		return nil, err
	}

	pop := &Population{
		Grid:   world.NewGrid[Agent](cfg.Dims),
		Agents: make([]*Agent, 0, n),
	}
	for i, cell := range cells {
		a := New(s.nextID, cfg.Dims.ToCoordinates(cell), tiers[i])
		s.nextID++
		if err := pop.Grid.Place(a.Position, a); err != nil {
			// Sampling is without replacement, so a collision is a bug.
			panic(fmt.Sprintf("spawn: %v", err))
		}
		if i == seedIdx {
			a.Inform(0)
			pop.Seed = a
		}
		pop.Agents = append(pop.Agents, a)
	}

	return pop, nil
}

func (cfg SpawnConfig) validate() error {
	if cfg.Dims.Rows <= 0 || cfg.Dims.Cols <= 0 {
		return fmt.Errorf("%w: grid must be at least 1x1, got %v", config.ErrConfiguration, cfg.Dims)
	}
	if math.IsNaN(cfg.Density) || cfg.Density <= 0 || cfg.Density > 1 {
		return fmt.Errorf("%w: density must be in (0, 1], got %v", config.ErrConfiguration, cfg.Density)
	}
	sum := 0.0
	for i, w := range cfg.Weights {
		if math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
			return fmt.Errorf("%w: s%d must be a non-negative number, got %v", config.ErrConfiguration, i+1, w)
		}
		sum += w
	}
	if math.IsInf(sum, 0) {
		return fmt.Errorf("%w: tier weights %v overflow", config.ErrConfiguration, cfg.Weights)
	}
	if !cfg.Mode.Valid() {
		return fmt.Errorf("%w: invalid mode: %q", config.ErrConfiguration, cfg.Mode)
	}
	if cfg.Placement != "" && !cfg.Placement.Valid() {
		return fmt.Errorf("%w: invalid placement: %q", config.ErrConfiguration, cfg.Placement)
	}
	return nil
}

// assignTiers returns the tier for each of the n sampled cells and the index
// of the seed among them. In default mode every cell draws from all four
// tiers and the seed is uniform over all cells. Fast mode reserves the first
// floor(n*s1) cells as tier 1 and puts the seed among them; the rest draw
// from {2,3,4}. Slow mode does the same anchored on tier 3, the rest drawing
// from {1,2,4}. An empty reserved range leaves the seed uniform over all.
func (s *Spawner) assignTiers(cfg SpawnConfig, n int) ([]Tier, int, error) {
	w := cfg.Weights
	tiers := make([]Tier, n)

	if cfg.Mode == config.ModeDefault {
		seedIdx := s.rng.Intn(n)
		all := []Tier{TierCredulous, TierOpen, TierWary, TierSkeptic}
		for i := range tiers {
			t, err := s.weightedTier(all, w[:])
			if err != nil {
				return nil, 0, err
			}
			tiers[i] = t
		}
		return tiers, seedIdx, nil
	}

	var anchor Tier
	var rest []Tier
	var restWeights []float64
	switch cfg.Mode {
	case config.ModeFast:
		anchor = TierCredulous
		rest = []Tier{TierOpen, TierWary, TierSkeptic}
		restWeights = []float64{w[1], w[2], w[3]}
	case config.ModeSlow:
		anchor = TierWary
		rest = []Tier{TierCredulous, TierOpen, TierSkeptic}
		restWeights = []float64{w[0], w[1], w[3]}
	}

	reserved := n
	if f := float64(n) * w[anchor-1]; f < float64(n) {
		reserved = int(f)
	}

	var seedIdx int
	if reserved > 0 {
		seedIdx = s.rng.Intn(reserved)
	} else {
		seedIdx = s.rng.Intn(n)
	}

	for i := range tiers {
		if i < reserved {
			tiers[i] = anchor
			continue
		}
		t, err := s.weightedTier(rest, restWeights)
		if err != nil {
			return nil, 0, err
		}
		tiers[i] = t
	}
	return tiers, seedIdx, nil
}

// weightedTier picks one of tiers with probability proportional to weights.
func (s *Spawner) weightedTier(tiers []Tier, weights []float64) (Tier, error) {
	total := 0.0
	for _, w := range weights {
		total += w
	}
	if total <= 0 {
		return 0, fmt.Errorf("%w: tier weights %v admit no draw", config.ErrConfiguration, weights)
	}

	r := s.rng.Float64() * total
	cum := 0.0
	last := tiers[0]
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		cum += w
		last = tiers[i]
		if r < cum {
			return tiers[i], nil
		}
	}
	// Floating point slack at the top of the range.
	return last, nil
}
