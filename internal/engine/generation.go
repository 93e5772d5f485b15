// Generation update rule: exposure tally, spreading, cooldown, reset.
package engine

import (
	"github.com/talgya/rumor-grid/internal/agents"
	"github.com/talgya/rumor-grid/internal/world"
)

// GenerationResult holds the metrics of one completed generation.
type GenerationResult struct {
	Generation    int `json:"generation"`     // 0-based index of the generation
	NewlyInformed int `json:"newly_informed"` // Agents informed during it
	Informed      int `json:"informed"`       // Informed total after it
	Spreaders     int `json:"spreaders"`      // Agents that took a spreading turn
	Attempts      int `json:"attempts"`       // Spread attempts, including at informed targets

	// Contacts counts (off-cooldown informed agent, neighbor uninformed at
	// generation start) pairs; Rejected is the share of them that did not
	// end in a new informed agent.
	Contacts      int     `json:"contacts"`
	Rejected      int     `json:"rejected"`
	RejectionRate float64 `json:"rejection_rate"`
}

// Step advances the population by exactly one generation and records it.
//
// Phase A tallies exposure for every neighbor of every agent informed at the
// start of the generation; a second contact lowers the neighbor's tier for
// the rest of the generation. Phase B lets the same set of agents spread,
// consulting tiers as Phase A left them. Agents informed during Phase B do
// not spread until the next generation. Phase C restores tiers and clears
// exposure.
func (s *Simulation) Step() GenerationResult {
	gen := s.generation
	res := GenerationResult{Generation: gen}

	active := make([]*agents.Agent, 0, s.informed)
	for _, a := range s.Agents {
		if a.IsInformed() {
			active = append(active, a)
		}
	}
	neighbors := make([][]world.Coord, len(active))
	for i, a := range active {
		neighbors[i] = s.Grid.OccupiedNeighbors(a.Position)
	}

	// Phase A: exposure tally.
	for i := range active {
		for _, c := range neighbors[i] {
			s.Grid.At(c).Expose()
		}
	}

	// Phase B: spreading.
	cooldown := s.Config.LGeneration
	justSpread := make(map[agents.AgentID]bool)
	for i, a := range active {
		if !a.CanSpread() {
			continue
		}
		attempted := false
		for _, c := range neighbors[i] {
			target := s.Grid.At(c)
			fresh := !target.IsInformed() || target.InformedAt == gen
			if fresh {
				res.Contacts++
			}
			if !s.attempts(a.Tier) {
				continue
			}
			attempted = true
			res.Attempts++
			if target.Inform(gen) {
				res.NewlyInformed++
			}
		}
		if attempted {
			a.Cooldown = cooldown
			justSpread[a.ID] = true
			res.Spreaders++
		}
	}

	// Cooldown decay for everyone that did not just spread, then Phase C.
	for _, a := range s.Agents {
		if !justSpread[a.ID] {
			a.DecayCooldown()
		}
		a.ResetGeneration()
	}

	s.informed += res.NewlyInformed
	res.Informed = s.informed
	res.Rejected = res.Contacts - res.NewlyInformed
	if res.Contacts > 0 {
		res.RejectionRate = float64(res.Rejected) / float64(res.Contacts)
	}

	s.generation++
	s.history = append(s.history, res.NewlyInformed)
	s.rates = append(s.rates, res.RejectionRate)
	s.results = append(s.results, res)
	return res
}

// attempts decides whether an agent of tier t tries to spread to one
// neighbor. Tiers 2 and 3 consume one draw from {1,2,3} per neighbor.
func (s *Simulation) attempts(t agents.Tier) bool {
	switch t {
	case agents.TierCredulous:
		return true
	case agents.TierOpen:
		return s.rng.Intn(3)+1 == 1
	case agents.TierWary:
		return s.rng.Intn(3)+1 <= 2
	default:
		return false
	}
}
