package engine

import (
	"github.com/talgya/rumor-grid/internal/agents"
	"github.com/talgya/rumor-grid/internal/world"
)

// AgentView is the read-only part of an agent a renderer needs.
type AgentView struct {
	ID       agents.AgentID `json:"id"`
	Position world.Coord    `json:"position"`
	State    agents.State   `json:"state"`
	Tier     agents.Tier    `json:"tier"`
}

// Snapshot is a value copy of the grid state between generations. It shares
// no memory with the simulation.
type Snapshot struct {
	Name       string      `json:"name"`
	Dims       world.Dims  `json:"dims"`
	Generation int         `json:"generation"`
	Population int         `json:"population"`
	Informed   int         `json:"informed"`
	Agents     []AgentView `json:"agents"`
}

// Snapshot copies the current agent positions and states.
func (s *Simulation) Snapshot() Snapshot {
	views := make([]AgentView, len(s.Agents))
	for i, a := range s.Agents {
		views[i] = AgentView{
			ID:       a.ID,
			Position: a.Position,
			State:    a.State,
			Tier:     a.OriginalTier,
		}
	}
	return Snapshot{
		Name:       s.Config.Name,
		Dims:       s.Grid.Dims,
		Generation: s.generation,
		Population: len(s.Agents),
		Informed:   s.informed,
		Agents:     views,
	}
}
