package engine

import (
	"fmt"

	"github.com/nvandessel/rulemap/internal/rule"
)

// InitKind selects how the initial grid is populated.
type InitKind string

const (
	// InitRandom fills cells independently live with probability Density,
	// drawn from a source seeded with Seed.
	InitRandom InitKind = "random"
	// InitSingleCell places one live cell at the grid center.
	InitSingleCell InitKind = "single-cell"
	// InitPattern copies an explicit pattern grid.
	InitPattern InitKind = "pattern"
)

// Init specifies an initial condition. The zero value is invalid; use the
// constructors so every field needed by the kind is set.
type Init struct {
	Kind    InitKind
	Density float64
	Seed    uint64
	Pattern *Grid
}

// RandomInit seeds each cell live with probability density.
func RandomInit(density float64, seed uint64) Init {
	return Init{Kind: InitRandom, Density: density, Seed: seed}
}

// SingleCellInit places a single live cell at the center.
func SingleCellInit() Init {
	return Init{Kind: InitSingleCell}
}

// PatternInit starts from an explicit pattern. The pattern's dimensions must
// match the simulation dimensions.
func PatternInit(p *Grid) Init {
	return Init{Kind: InitPattern, Pattern: p}
}

// Config holds the fixed parameters of one simulation run.
type Config struct {
	Height int
	Width  int
	Steps  int
	Init   Init
}

func (c Config) validate() error {
	if c.Height <= 0 || c.Width <= 0 {
		return fmt.Errorf("grid dimensions %dx%d: must be positive", c.Height, c.Width)
	}
	if c.Steps < 0 {
		return fmt.Errorf("steps %d: must be non-negative", c.Steps)
	}
	switch c.Init.Kind {
	case InitRandom:
		if c.Init.Density < 0 || c.Init.Density > 1 {
			return fmt.Errorf("init density %g: must be in [0,1]", c.Init.Density)
		}
	case InitSingleCell:
	case InitPattern:
		p := c.Init.Pattern
		if p == nil {
			return fmt.Errorf("pattern init: pattern is nil")
		}
		if p.h != c.Height || p.w != c.Width {
			return fmt.Errorf("pattern init: pattern is %dx%d, simulation is %dx%d",
				p.h, p.w, c.Height, c.Width)
		}
	default:
		return fmt.Errorf("unknown init kind %q", c.Init.Kind)
	}
	return nil
}

// initGrid builds the step-0 grid for cfg.
func initGrid(cfg Config) *Grid {
	g := &Grid{h: cfg.Height, w: cfg.Width, cells: make([]uint8, cfg.Height*cfg.Width)}
	switch cfg.Init.Kind {
	case InitRandom:
		rng := rule.NewSource(cfg.Init.Seed)
		for i := range g.cells {
			if rng.Float64() < cfg.Init.Density {
				g.cells[i] = 1
			}
		}
	case InitSingleCell:
		g.cells[(cfg.Height/2)*cfg.Width+cfg.Width/2] = 1
	case InitPattern:
		copy(g.cells, cfg.Init.Pattern.cells)
	}
	return g
}

// Step advances src by one generation into dst, which must have the same
// dimensions. Neighbor counts are accumulated with the separable two-pass
// scheme: per-row horizontal triple sums first, then vertical triple sums
// across whole rows, with toroidal wraparound in both passes.
func Step(d rule.Descriptor, src, dst *Grid, horiz []uint8) {
	h, w := src.h, src.w
	if horiz == nil || len(horiz) < h*w {
		horiz = make([]uint8, h*w)
	}

	// Pass 1: horiz[i][j] = src[i][j-1] + src[i][j] + src[i][j+1], wrapped.
	for i := 0; i < h; i++ {
		row := src.cells[i*w : (i+1)*w]
		out := horiz[i*w : (i+1)*w]
		if w == 1 {
			out[0] = 3 * row[0]
			continue
		}
		out[0] = row[w-1] + row[0] + row[1]
		for j := 1; j < w-1; j++ {
			out[j] = row[j-1] + row[j] + row[j+1]
		}
		out[w-1] = row[w-2] + row[w-1] + row[0]
	}

	// Pass 2: count = horiz above + here + below, minus the cell itself.
	for i := 0; i < h; i++ {
		up := ((i - 1) + h) % h
		down := (i + 1) % h
		rowUp := horiz[up*w : up*w+w]
		rowHere := horiz[i*w : i*w+w]
		rowDown := horiz[down*w : down*w+w]
		cur := src.cells[i*w : i*w+w]
		out := dst.cells[i*w : i*w+w]
		for j := 0; j < w; j++ {
			count := int(rowUp[j]) + int(rowHere[j]) + int(rowDown[j]) - int(cur[j])
			if cur[j] == 0 {
				if d.Born(count) {
					out[j] = 1
				} else {
					out[j] = 0
				}
			} else {
				if d.Survives(count) {
					out[j] = 1
				} else {
					out[j] = 0
				}
			}
		}
	}
}

// Simulate runs cfg.Steps generations of d and returns the full trajectory,
// cfg.Steps+1 snapshots long. Identical inputs produce bit-identical
// trajectories.
func Simulate(d rule.Descriptor, cfg Config) (*Trajectory, error) {
	t := &Trajectory{snapshots: make([]*Grid, 0, cfg.Steps+1)}
	err := Run(d, cfg, func(_ int, g *Grid) bool {
		t.snapshots = append(t.snapshots, g.Clone())
		return true
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Run streams snapshots to visit without materializing a trajectory: visit
// is called with step 0 (the initial grid) through step cfg.Steps, in order.
// The grid passed to visit is reused between calls; visit must clone it to
// retain it. Returning false from visit stops the run early.
func Run(d rule.Descriptor, cfg Config, visit func(step int, g *Grid) bool) error {
	if err := cfg.validate(); err != nil {
		return err
	}

	cur := initGrid(cfg)
	if !visit(0, cur) {
		return nil
	}

	next := &Grid{h: cfg.Height, w: cfg.Width, cells: make([]uint8, cfg.Height*cfg.Width)}
	horiz := make([]uint8, cfg.Height*cfg.Width)
	for s := 1; s <= cfg.Steps; s++ {
		Step(d, cur, next, horiz)
		cur, next = next, cur
		if !visit(s, cur) {
			return nil
		}
	}
	return nil
}

// FinalSnapshot runs the simulation and returns only the last grid. It is
// the snapshot-on-demand path for analyzers that do not need full history.
func FinalSnapshot(d rule.Descriptor, cfg Config) (*Grid, error) {
	var last *Grid
	err := Run(d, cfg, func(step int, g *Grid) bool {
		if step == cfg.Steps {
			last = g.Clone()
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return last, nil
}
