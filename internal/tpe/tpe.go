// Package tpe measures a trajectory's expansion/contraction balance.
// Toroidal (T) captures outward, divergent activity; poloidal (P) captures
// inward, convergent activity; their product times their imbalance is the
// emergence score, maximized when structure and change coexist.
package tpe

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/nvandessel/rulemap/internal/engine"
)

// Mode labels which tendency dominates.
type Mode string

const (
	ModeToroidal Mode = "toroidal-dominant"
	ModePoloidal Mode = "poloidal-dominant"
	ModeBalanced Mode = "balanced"
)

// Config tunes the analyzer.
type Config struct {
	// Warmup is the number of leading steps excluded from the T/P means
	// while the initial transient settles.
	Warmup int `yaml:"warmup"`

	// BalanceTol: |T-P| below this (with both sides active) reads as
	// balanced.
	BalanceTol float64 `yaml:"balance_tol"`

	// ActivityFloor is the minimum T and P for the balanced mode; below it
	// the dominant side wins even when the difference is small.
	ActivityFloor float64 `yaml:"activity_floor"`
}

// DefaultConfig mirrors the trajectory budgets of the other analyzers.
func DefaultConfig() Config {
	return Config{
		Warmup:        30,
		BalanceTol:    0.15,
		ActivityFloor: 0.10,
	}
}

// Metrics is the result of one analysis.
type Metrics struct {
	Toroidal float64 `json:"toroidal"`
	Poloidal float64 `json:"poloidal"`

	// Emergence = (T*P) * |T-P|.
	Emergence float64 `json:"emergence"`

	// Stability is the fraction of the early population still present at
	// the end of the run, capped at 1.
	Stability float64 `json:"stability"`

	Mode Mode `json:"mode"`
}

// Analyzer computes Metrics from trajectories.
type Analyzer struct {
	cfg Config
}

// NewAnalyzer validates cfg.
func NewAnalyzer(cfg Config) (*Analyzer, error) {
	if cfg.Warmup < 0 {
		return nil, fmt.Errorf("warmup %d: must be non-negative", cfg.Warmup)
	}
	if cfg.BalanceTol <= 0 {
		return nil, fmt.Errorf("balance tolerance %g: must be positive", cfg.BalanceTol)
	}
	return &Analyzer{cfg: cfg}, nil
}

// Analyze measures T, P, emergence, and stability over the trajectory.
func (a *Analyzer) Analyze(t *engine.Trajectory) (Metrics, error) {
	if t.Len() < 2 {
		return Metrics{}, fmt.Errorf("trajectory of %d snapshots: need at least 2", t.Len())
	}

	tCurve := make([]float64, 0, t.Len()-1)
	pCurve := make([]float64, 0, t.Len()-1)
	for i := 1; i < t.Len(); i++ {
		prev, cur := t.At(i-1), t.At(i)
		tCurve = append(tCurve, toroidalStep(prev, cur))
		pCurve = append(pCurve, poloidalStep(prev, cur))
	}

	warm := a.cfg.Warmup
	if warm >= len(tCurve) {
		warm = 0
	}
	tMean := stat.Mean(tCurve[warm:], nil)
	pMean := stat.Mean(pCurve[warm:], nil)

	m := Metrics{
		Toroidal:  tMean,
		Poloidal:  pMean,
		Emergence: tMean * pMean * math.Abs(tMean-pMean),
		Stability: stability(t, a.cfg.Warmup),
	}
	switch {
	case math.Abs(tMean-pMean) <= a.cfg.BalanceTol &&
		tMean >= a.cfg.ActivityFloor && pMean >= a.cfg.ActivityFloor:
		m.Mode = ModeBalanced
	case tMean >= pMean:
		m.Mode = ModeToroidal
	default:
		m.Mode = ModePoloidal
	}
	return m, nil
}

// toroidalStep scores outward activity for one transition: population
// growth, spatial dispersion from the grid center, and fragmentation into
// many components.
func toroidalStep(prev, cur *engine.Grid) float64 {
	popPrev, popCur := prev.Population(), cur.Population()

	growth := 0.0
	if popPrev > 0 && popCur > popPrev {
		growth = float64(popCur-popPrev) / float64(popPrev)
		if growth > 1 {
			growth = 1
		}
	}

	dispersion := 0.0
	if popCur > 0 {
		h, w := cur.Height(), cur.Width()
		cy, cx := float64(h)/2, float64(w)/2
		sum := 0.0
		for row := 0; row < h; row++ {
			for col := 0; col < w; col++ {
				if cur.Get(row, col) != 0 {
					dy, dx := float64(row)-cy, float64(col)-cx
					sum += math.Sqrt(dy*dy + dx*dx)
				}
			}
		}
		dispersion = sum / float64(popCur) / (float64(h) / 2)
		if dispersion > 1 {
			dispersion = 1
		}
	}

	fragmentation := float64(componentCount(cur)) / 50
	if fragmentation > 1 {
		fragmentation = 1
	}

	return clamp01(0.3*growth + 0.4*dispersion + 0.3*fragmentation)
}

// poloidalStep scores inward activity for one transition: population
// stability, mass concentration into large components, and local structure
// (live/dead interfaces).
func poloidalStep(prev, cur *engine.Grid) float64 {
	popPrev, popCur := prev.Population(), cur.Population()

	stab := 0.0
	if popPrev > 0 {
		stab = 1 - math.Abs(float64(popCur-popPrev))/float64(popPrev)
		if stab < 0 {
			stab = 0
		}
	}

	clustering := 0.0
	if popCur > 0 {
		if n := componentCount(cur); n > 0 {
			clustering = float64(popCur) / float64(n) / 20
			if clustering > 1 {
				clustering = 1
			}
		}
	}

	structure := 10 * interfaceDensity(cur)
	if structure > 1 {
		structure = 1
	}

	return clamp01(0.3*stab + 0.4*clustering + 0.3*structure)
}

// stability compares an early snapshot's population with the final one.
func stability(t *engine.Trajectory, warmup int) float64 {
	start := warmup
	if start > t.Len()-2 {
		start = 0
	}
	early := t.At(start).Population()
	late := t.Final().Population()
	if early == 0 {
		if late == 0 {
			return 0
		}
		return 1
	}
	s := float64(late) / float64(early)
	if s > 1 {
		s = 1
	}
	return s
}

// interfaceDensity returns the fraction of horizontal and vertical neighbor
// pairs whose endpoints disagree, a cheap local-structure proxy.
func interfaceDensity(g *engine.Grid) float64 {
	h, w := g.Height(), g.Width()
	disagree := 0
	for row := 0; row < h; row++ {
		for col := 0; col < w; col++ {
			v := g.Get(row, col)
			if g.Get(row, col+1) != v {
				disagree++
			}
			if g.Get(row+1, col) != v {
				disagree++
			}
		}
	}
	return float64(disagree) / float64(2*h*w)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// componentCount counts 4-connected live components without wraparound.
func componentCount(g *engine.Grid) int {
	h, w := g.Height(), g.Width()
	visited := make([]bool, h*w)
	var stack []int
	count := 0

	for start := 0; start < h*w; start++ {
		if visited[start] || g.Bytes()[start] == 0 {
			continue
		}
		count++
		stack = append(stack[:0], start)
		visited[start] = true
		for len(stack) > 0 {
			idx := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			row, col := idx/w, idx%w
			for _, d := range [4][2]int{{0, 1}, {0, -1}, {1, 0}, {-1, 0}} {
				nr, nc := row+d[0], col+d[1]
				if nr < 0 || nr >= h || nc < 0 || nc >= w {
					continue
				}
				nidx := nr*w + nc
				if !visited[nidx] && g.Bytes()[nidx] != 0 {
					visited[nidx] = true
					stack = append(stack, nidx)
				}
			}
		}
	}
	return count
}
