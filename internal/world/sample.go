// Cell sampling: picks which grid cells receive an agent.
package world

import (
	"math"
	"sort"

	opensimplex "github.com/ojrac/opensimplex-go"

	"github.com/talgya/rumor-grid/internal/entropy"
)

// SampleCells draws n distinct cell indices uniformly from [0, total) using a
// partial Fisher–Yates shuffle. Order of the result is the draw order.
func SampleCells(rng entropy.Source, total, n int) []int {
	if n > total {
		n = total
	}
	idx := make([]int, total)
	for i := range idx {
		idx[i] = i
	}
	for i := 0; i < n; i++ {
		j := i + rng.Intn(total-i)
		idx[i], idx[j] = idx[j], idx[i]
	}
	out := make([]int, n)
	copy(out, idx[:n])
	return out
}

// NoiseConfig shapes the density field used by SampleCellsNoise.
type NoiseConfig struct {
	Octaves     int
	Frequency   float64
	Persistence float64
}

// DefaultNoiseConfig gives blob-sized clusters on a 100×100 grid.
func DefaultNoiseConfig() NoiseConfig {
	return NoiseConfig{
		Octaves:     3,
		Frequency:   0.06,
		Persistence: 0.5,
	}
}

// SampleCellsNoise draws n distinct cells without replacement, weighting each
// cell by a simplex noise field so the population forms clusters instead of a
// uniform scatter. The noise seed is taken from rng, so the layout is still
// reproducible from the run seed.
func SampleCellsNoise(rng entropy.Source, d Dims, n int, cfg NoiseConfig) []int {
	total := d.Cells()
	if n > total {
		n = total
	}
	noise := opensimplex.NewNormalized(rng.Int63())

	// Weighted sampling without replacement: key = u^(1/w), keep the n largest.
	type keyed struct {
		index int
		key   float64
	}
	keys := make([]keyed, total)
	for i := 0; i < total; i++ {
		c := d.ToCoordinates(i)
		w := octaveNoise(noise, float64(c.Col), float64(c.Row), cfg.Octaves, cfg.Frequency, cfg.Persistence)
		w = w*w + 0.01
		u := rng.Float64()
		keys[i] = keyed{index: i, key: math.Pow(u, 1/w)}
	}
	sort.SliceStable(keys, func(i, j int) bool {
		return keys[i].key > keys[j].key
	})

	out := make([]int, n)
	for i := 0; i < n; i++ {
		out[i] = keys[i].index
	}
	return out
}

// octaveNoise generates fractal noise by layering multiple frequencies.
func octaveNoise(noise opensimplex.Noise, x, y float64, octaves int, frequency, persistence float64) float64 {
	total := 0.0
	amplitude := 1.0
	maxVal := 0.0

	for i := 0; i < octaves; i++ {
		total += noise.Eval2(x*frequency, y*frequency) * amplitude
		maxVal += amplitude
		amplitude *= persistence
		frequency *= 2
	}

	if maxVal == 0 {
		return 0
	}
	return total / maxVal
}
