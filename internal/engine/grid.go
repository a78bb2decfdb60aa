// Package engine simulates outer-totalistic rules on a toroidal grid.
package engine

import "fmt"

// Grid is a fixed-size toroidal boolean matrix. Cells are stored row-major
// as 0/1 bytes so a snapshot serializes without copying. A Grid is mutable
// only inside a single simulation run and is never shared across runs.
type Grid struct {
	h, w  int
	cells []uint8
}

// NewGrid allocates an all-dead grid. Dimensions must be positive.
func NewGrid(height, width int) (*Grid, error) {
	if height <= 0 || width <= 0 {
		return nil, fmt.Errorf("grid dimensions %dx%d: must be positive", height, width)
	}
	return &Grid{h: height, w: width, cells: make([]uint8, height*width)}, nil
}

// Height returns the number of rows.
func (g *Grid) Height() int { return g.h }

// Width returns the number of columns.
func (g *Grid) Width() int { return g.w }

// Get returns the cell at (row, col). Coordinates wrap toroidally.
func (g *Grid) Get(row, col int) uint8 {
	return g.cells[g.wrap(row, col)]
}

// Set assigns the cell at (row, col) to v (any non-zero v counts as live).
// Coordinates wrap toroidally.
func (g *Grid) Set(row, col int, v uint8) {
	if v != 0 {
		v = 1
	}
	g.cells[g.wrap(row, col)] = v
}

func (g *Grid) wrap(row, col int) int {
	row = ((row % g.h) + g.h) % g.h
	col = ((col % g.w) + g.w) % g.w
	return row*g.w + col
}

// Population returns the number of live cells.
func (g *Grid) Population() int {
	n := 0
	for _, c := range g.cells {
		n += int(c)
	}
	return n
}

// Density returns the live fraction in [0,1].
func (g *Grid) Density() float64 {
	return float64(g.Population()) / float64(len(g.cells))
}

// Bytes returns the raw row-major cell buffer. The slice aliases the grid;
// callers must not modify it.
func (g *Grid) Bytes() []byte {
	return g.cells
}

// Clone returns an independent copy.
func (g *Grid) Clone() *Grid {
	c := &Grid{h: g.h, w: g.w, cells: make([]uint8, len(g.cells))}
	copy(c.cells, g.cells)
	return c
}

// Equal reports whether two grids have identical dimensions and cells.
func (g *Grid) Equal(o *Grid) bool {
	if g.h != o.h || g.w != o.w {
		return false
	}
	for i, c := range g.cells {
		if c != o.cells[i] {
			return false
		}
	}
	return true
}

// Trajectory is the ordered snapshot history of one simulation run,
// steps+1 grids long. It is owned by the caller that requested it and is
// meant to be discarded once telemetry has been extracted.
type Trajectory struct {
	snapshots []*Grid
}

// Len returns the number of snapshots (steps + 1).
func (t *Trajectory) Len() int { return len(t.snapshots) }

// At returns the snapshot after i steps.
func (t *Trajectory) At(i int) *Grid { return t.snapshots[i] }

// Final returns the last snapshot.
func (t *Trajectory) Final() *Grid { return t.snapshots[len(t.snapshots)-1] }

// Slice returns a view of snapshots [from, to). The snapshots are shared
// with the parent trajectory, not copied.
func (t *Trajectory) Slice(from, to int) *Trajectory {
	return &Trajectory{snapshots: t.snapshots[from:to]}
}

// Populations returns the live-cell count at every snapshot.
func (t *Trajectory) Populations() []int {
	out := make([]int, len(t.snapshots))
	for i, g := range t.snapshots {
		out[i] = g.Population()
	}
	return out
}
