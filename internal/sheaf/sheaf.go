// Package sheaf analyzes grid snapshots through a local-consistency
// operator: a signed incidence matrix over the simulation's neighbor
// relation whose kernel is the "harmonic" subspace of configurations with
// zero local inconsistency. The analyzer reports how strongly a state
// aligns with that subspace, the low end of the Laplacian spectrum, and a
// cycle-sampled monodromy estimate.
//
// Everything operates on sparse representations; only the few smallest
// eigenpairs are ever computed, via Lanczos iteration.
package sheaf

import (
	"errors"
	"fmt"
	"sync"

	"gonum.org/v1/gonum/floats"

	"github.com/nvandessel/rulemap/internal/engine"
	"github.com/nvandessel/rulemap/internal/rule"
)

// ErrDisconnected is returned when the kernel dimension says the grid graph
// is not connected. The toroidal topology should never produce this; a
// caller sees it only when something upstream is broken, and must degrade
// to unknown rather than trust the analysis.
var ErrDisconnected = errors.New("sheaf: grid graph is disconnected")

// Config tunes the spectral analyzer.
type Config struct {
	// EigenPairs is how many of the smallest Laplacian eigenpairs to extract.
	EigenPairs int `yaml:"eigen_pairs"`

	// LanczosIters caps the Krylov dimension of the eigensolver.
	LanczosIters int `yaml:"lanczos_iters"`

	// KernelTol: eigenvalues below this belong to the harmonic subspace.
	KernelTol float64 `yaml:"kernel_tol"`

	// ResidualTol bounds the accepted eigenpair residual before the solver
	// reports non-convergence.
	ResidualTol float64 `yaml:"residual_tol"`

	// MonodromySamples is the number of elementary 4-cycles sampled for the
	// monodromy estimate.
	MonodromySamples int `yaml:"monodromy_samples"`

	// Seed drives the Lanczos start vector and the cycle sampler.
	Seed uint64 `yaml:"seed"`
}

// DefaultConfig returns solver settings that converge on grids up to a few
// hundred cells per side.
func DefaultConfig() Config {
	return Config{
		EigenPairs:       6,
		LanczosIters:     80,
		KernelTol:        1e-6,
		ResidualTol:      1e-4,
		MonodromySamples: 256,
		Seed:             42,
	}
}

// Analysis is the spectral summary of one snapshot.
type Analysis struct {
	// HarmonicOverlap is the normalized alignment of the state with the
	// harmonic subspace, in [0,1]. It is undefined (OverlapDefined false)
	// when the state or its projection has zero norm.
	HarmonicOverlap float64 `json:"harmonic_overlap"`
	OverlapDefined  bool    `json:"overlap_defined"`

	// Monodromy is the mean signed transport around sampled 4-cycles,
	// in [-1,1]. Near +1: reinforcing feedback. Near -1: opposing feedback.
	Monodromy float64 `json:"monodromy"`

	// HarmonicDim estimates dim ker(L), the count of eigenvalues under the
	// kernel tolerance.
	HarmonicDim int `json:"harmonic_dimension_estimate"`

	// SpectralGap is the smallest nonzero eigenvalue.
	SpectralGap float64 `json:"spectral_gap"`

	// EffectiveResistance is the sum of 1/lambda over the computed nonzero
	// eigenvalues.
	EffectiveResistance float64 `json:"effective_resistance"`

	// SheafType labels the regime: "resonant-frozen", "resonant-active",
	// "tense", or "mixed".
	SheafType string `json:"sheaf_type"`
}

// Analyzer computes Analysis values. Operators are cached per grid size;
// the analyzer is safe for concurrent use.
type Analyzer struct {
	cfg Config

	mu    sync.Mutex
	cache map[[2]int]*gridOperators
}

// NewAnalyzer validates cfg and returns an analyzer.
func NewAnalyzer(cfg Config) (*Analyzer, error) {
	if cfg.EigenPairs < 2 {
		return nil, fmt.Errorf("eigen pairs %d: need at least 2 (kernel plus gap)", cfg.EigenPairs)
	}
	if cfg.LanczosIters < cfg.EigenPairs {
		return nil, fmt.Errorf("lanczos iters %d: fewer than eigen pairs %d", cfg.LanczosIters, cfg.EigenPairs)
	}
	if cfg.MonodromySamples <= 0 {
		return nil, fmt.Errorf("monodromy samples %d: must be positive", cfg.MonodromySamples)
	}
	return &Analyzer{cfg: cfg, cache: make(map[[2]int]*gridOperators)}, nil
}

func (a *Analyzer) operators(h, w int) *gridOperators {
	a.mu.Lock()
	defer a.mu.Unlock()
	key := [2]int{h, w}
	ops, ok := a.cache[key]
	if !ok {
		ops = buildOperators(h, w)
		a.cache[key] = ops
	}
	return ops
}

// Analyze runs the full spectral analysis on one snapshot. It returns
// ErrNotConverged when the eigensolver cannot stabilize and ErrDisconnected
// when the kernel dimension contradicts a connected graph.
func (a *Analyzer) Analyze(g *engine.Grid) (Analysis, error) {
	ops := a.operators(g.Height(), g.Width())

	eigRng := rule.NewSource(a.cfg.Seed)
	pairs, err := smallestEigenpairs(ops.laplacian, ops.lambdaMax,
		a.cfg.EigenPairs, a.cfg.LanczosIters, a.cfg.ResidualTol, eigRng)
	if err != nil {
		return Analysis{}, err
	}

	harmonicDim := 0
	for _, p := range pairs {
		if p.value < a.cfg.KernelTol {
			harmonicDim++
		}
	}
	if harmonicDim == 0 {
		// A connected graph Laplacian always has the constant kernel vector;
		// missing it means the solver drifted.
		return Analysis{}, ErrNotConverged
	}
	if harmonicDim > 1 {
		return Analysis{}, ErrDisconnected
	}

	spectralGap := 0.0
	effectiveResistance := 0.0
	for _, p := range pairs {
		if p.value < a.cfg.KernelTol {
			continue
		}
		if spectralGap == 0 || p.value < spectralGap {
			spectralGap = p.value
		}
		effectiveResistance += 1 / p.value
	}

	overlap, defined := a.harmonicOverlap(g, pairs)

	monoRng := rule.NewSource(a.cfg.Seed ^ 0xa5a5a5a5a5a5a5a5)
	mono := monodromy(g, a.cfg.MonodromySamples, monoRng)

	return Analysis{
		HarmonicOverlap:     overlap,
		OverlapDefined:      defined,
		Monodromy:           mono,
		HarmonicDim:         harmonicDim,
		SpectralGap:         spectralGap,
		EffectiveResistance: effectiveResistance,
		SheafType:           classify(mono, overlap, defined),
	}, nil
}

// harmonicOverlap projects the state onto the harmonic subspace and returns
// |<f, Pf>| / (||f|| * ||Pf||), clamped to [0,1]. Undefined when either
// norm is zero.
func (a *Analyzer) harmonicOverlap(g *engine.Grid, pairs []eigenPair) (float64, bool) {
	n := g.Height() * g.Width()
	f := make([]float64, n)
	for i, c := range g.Bytes() {
		f[i] = float64(c)
	}
	fNorm := floats.Norm(f, 2)
	if fNorm == 0 {
		return 0, false
	}

	projection := make([]float64, n)
	for _, p := range pairs {
		if p.value >= a.cfg.KernelTol {
			continue
		}
		coeff := floats.Dot(p.vector, f)
		floats.AddScaled(projection, coeff, p.vector)
	}
	pNorm := floats.Norm(projection, 2)
	if pNorm == 0 {
		return 0, false
	}

	// <f, Pf> = ||Pf||^2 for an orthogonal projection, so the normalized
	// overlap reduces to ||Pf|| / ||f||.
	overlap := pNorm / fNorm
	if overlap > 1 {
		overlap = 1
	}
	return overlap, true
}

func classify(mono, overlap float64, defined bool) string {
	switch {
	case mono > 0.5 && defined && overlap > 0.8:
		return "resonant-frozen"
	case mono > 0.5:
		return "resonant-active"
	case mono < -0.5:
		return "tense"
	default:
		return "mixed"
	}
}
