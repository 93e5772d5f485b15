// Package world provides the toroidal grid agents live on: coordinates,
// Moore-neighborhood topology with wraparound, cell ownership, and the
// sampling used to pick which cells get populated.
package world

import (
	"errors"
	"fmt"
)

var (
	ErrOutOfBounds  = errors.New("cell out of bounds")
	ErrCellOccupied = errors.New("cell already occupied")
)

// Coord is a (row, col) position on the grid.
type Coord struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

// Dims describes a Rows×Cols grid whose edges wrap on both axes.
type Dims struct {
	Rows int `json:"rows"`
	Cols int `json:"cols"`
}

// Cells returns the grid capacity.
func (d Dims) Cells() int {
	return d.Rows * d.Cols
}

// ToCoordinates maps a linear cell index in [0, Cells()) to its position.
func (d Dims) ToCoordinates(index int) Coord {
	return Coord{Row: index / d.Cols, Col: index % d.Cols}
}

// Index is the inverse of ToCoordinates.
func (d Dims) Index(c Coord) int {
	return c.Row*d.Cols + c.Col
}

// InBounds returns true if c lies inside the grid without wrapping.
func (d Dims) InBounds(c Coord) bool {
	return c.Row >= 0 && c.Row < d.Rows && c.Col >= 0 && c.Col < d.Cols
}

// Wrap folds an arbitrary coordinate back onto the torus.
func (d Dims) Wrap(c Coord) Coord {
	return Coord{Row: mod(c.Row, d.Rows), Col: mod(c.Col, d.Cols)}
}

// NeighborOffsets are the eight Moore-neighborhood offsets. The order is
// fixed: spreading iterates neighbors in this order, so reproducibility under
// a fixed seed depends on it.
var NeighborOffsets = [8]Coord{
	{Row: -1, Col: -1},
	{Row: -1, Col: 0},
	{Row: -1, Col: 1},
	{Row: 0, Col: -1},
	{Row: 0, Col: 1},
	{Row: 1, Col: -1},
	{Row: 1, Col: 0},
	{Row: 1, Col: 1},
}

// Neighbors returns the eight toroidal neighbors of c in offset order.
func (d Dims) Neighbors(c Coord) [8]Coord {
	var result [8]Coord
	for i, off := range NeighborOffsets {
		result[i] = d.Wrap(Coord{Row: c.Row + off.Row, Col: c.Col + off.Col})
	}
	return result
}

// String returns a summary of the dimensions.
func (d Dims) String() string {
	return fmt.Sprintf("%dx%d", d.Rows, d.Cols)
}

func mod(a, n int) int {
	return ((a % n) + n) % n
}

// Grid owns the cells of a torus. Each cell is empty (nil) or holds exactly
// one occupant. Cells are never vacated once placed.
type Grid[T any] struct {
	Dims
	cells []*T
	count int
}

// NewGrid creates an empty grid.
func NewGrid[T any](d Dims) *Grid[T] {
	return &Grid[T]{
		Dims:  d,
		cells: make([]*T, d.Cells()),
	}
}

// At returns the occupant of c, or nil if the cell is empty or out of bounds.
func (g *Grid[T]) At(c Coord) *T {
	if !g.InBounds(c) {
		return nil
	}
	return g.cells[g.Index(c)]
}

// Occupied reports whether c holds an occupant.
func (g *Grid[T]) Occupied(c Coord) bool {
	return g.At(c) != nil
}

// Place puts v at c. A cell can only be claimed once.
func (g *Grid[T]) Place(c Coord, v *T) error {
	if !g.InBounds(c) {
		return fmt.Errorf("place at %v on %v grid: %w", c, g.Dims, ErrOutOfBounds)
	}
	idx := g.Index(c)
	if g.cells[idx] != nil {
		return fmt.Errorf("place at %v: %w", c, ErrCellOccupied)
	}
	g.cells[idx] = v
	g.count++
	return nil
}

// Count returns the number of occupied cells.
func (g *Grid[T]) Count() int {
	return g.count
}

// OccupiedNeighbors returns the neighbors of c that hold an occupant, in
// offset order. On grids narrower than three cells an offset can wrap back
// onto c itself; those are skipped since an agent is not its own neighbor.
// Distinct offsets that wrap onto the same cell are kept.
func (g *Grid[T]) OccupiedNeighbors(c Coord) []Coord {
	var out []Coord
	for _, n := range g.Neighbors(c) {
		if n == c {
			continue
		}
		if g.cells[g.Index(n)] != nil {
			out = append(out, n)
		}
	}
	return out
}
