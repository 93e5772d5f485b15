// Package render draws simulation snapshots as PNG frames, MJPEG video and
// terminal text.
package render

import (
	"image/color"

	"github.com/crazy3lf/colorconv"

	"github.com/talgya/rumor-grid/internal/agents"
	"github.com/talgya/rumor-grid/internal/engine"
)

const (
	hueInformed   = 0.0   // red
	hueUninformed = 120.0 // green
)

// Palette maps agent state and tier to a colour. Lower tiers are brighter.
type Palette struct {
	Informed   [agents.NumTiers]color.RGBA
	Uninformed [agents.NumTiers]color.RGBA
	Empty      color.RGBA
}

// NewPalette builds the default red/green palette.
func NewPalette() Palette {
	var p Palette
	for i := 0; i < agents.NumTiers; i++ {
		v := 1.0 - 0.18*float64(i)
		p.Informed[i] = hsv(hueInformed, 0.85, v)
		p.Uninformed[i] = hsv(hueUninformed, 0.75, v)
	}
	p.Empty = color.RGBA{255, 255, 255, 255}
	return p
}

// Color returns the colour for an agent.
func (p Palette) Color(a engine.AgentView) color.RGBA {
	i := int(a.Tier) - 1
	if i < 0 || i >= agents.NumTiers {
		i = 0
	}
	if a.State == agents.Informed {
		return p.Informed[i]
	}
	return p.Uninformed[i]
}

func hsv(h, s, v float64) color.RGBA {
	r, g, b, err := colorconv.HSVToRGB(h, s, v)
	if err != nil {
		return color.RGBA{0, 0, 0, 255}
	}
	return color.RGBA{r, g, b, 255}
}
