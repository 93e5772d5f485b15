// Package agents provides the agent data model and population spawning.
package agents

import (
	"github.com/talgya/rumor-grid/internal/world"
)

// AgentID is a unique identifier for an agent.
type AgentID uint64

// State is an agent's informational state.
type State uint8

const (
	Uninformed State = 0
	Informed   State = 1
)

// String returns the state label used in output.
func (s State) String() string {
	if s == Informed {
		return "Informed"
	}
	return "Uninformed"
}

// Tier is a skepticism level. Lower tiers spread more readily.
type Tier uint8

const (
	TierCredulous Tier = 1 // Always spreads
	TierOpen      Tier = 2 // Spreads to a neighbor with probability 1/3
	TierWary      Tier = 3 // Spreads to a neighbor with probability 2/3
	TierSkeptic   Tier = 4 // Never spreads
)

// NumTiers is the number of skepticism tiers.
const NumTiers = 4

// Valid reports whether t is one of the four tiers.
func (t Tier) Valid() bool {
	return t >= TierCredulous && t <= TierSkeptic
}

// Agent is one person on the grid. Position never changes after spawning;
// only the informational state and per-generation counters do.
type Agent struct {
	ID       AgentID     `json:"id"`
	Position world.Coord `json:"position"`
	State    State       `json:"state"`

	// Tier may be lowered within a generation by social proof and is
	// restored to OriginalTier when the generation ends.
	Tier         Tier `json:"tier"`
	OriginalTier Tier `json:"original_tier"`

	// Cooldown counts down to zero before the agent may spread again.
	Cooldown int `json:"cooldown"`

	// Exposure counts informed neighbors that contacted this agent in the
	// current generation.
	Exposure int `json:"exposure"`

	// InformedAt is the generation in which the agent became informed,
	// or -1 while uninformed.
	InformedAt int `json:"informed_at"`
}

// New creates an uninformed agent.
func New(id AgentID, pos world.Coord, tier Tier) *Agent {
	return &Agent{
		ID:           id,
		Position:     pos,
		State:        Uninformed,
		Tier:         tier,
		OriginalTier: tier,
		InformedAt:   -1,
	}
}

// IsInformed reports whether the agent has heard the rumor.
func (a *Agent) IsInformed() bool {
	return a.State == Informed
}

// Inform marks the agent informed at generation gen. Returns true if this
// changed its state; an informed agent never reverts.
func (a *Agent) Inform(gen int) bool {
	if a.State == Informed {
		return false
	}
	a.State = Informed
	a.InformedAt = gen
	return true
}

// Expose records one contact from an informed neighbor. The second contact
// within a generation lowers the tier one step, floored at TierCredulous.
func (a *Agent) Expose() {
	a.Exposure++
	if a.Exposure == 2 {
		a.LowerTier()
	}
}

// LowerTier softens skepticism by one step for the current generation.
func (a *Agent) LowerTier() {
	if a.Tier > TierCredulous {
		a.Tier--
	}
}

// CanSpread reports whether the agent is informed and off cooldown.
func (a *Agent) CanSpread() bool {
	return a.State == Informed && a.Cooldown == 0
}

// DecayCooldown lowers the cooldown by one, never below zero.
func (a *Agent) DecayCooldown() {
	if a.Cooldown > 0 {
		a.Cooldown--
	}
}

// ResetGeneration undoes the per-generation adjustments.
func (a *Agent) ResetGeneration() {
	a.Tier = a.OriginalTier
	a.Exposure = 0
}
