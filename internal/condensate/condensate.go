// Package condensate classifies a rule's spatial phase by running seeded
// simulations from three initial conditions: a single live cell tests
// whether the vacuum expands, while sparse and dense random seeds are
// compared on the density they relax to. Localized "particle" structures
// leave the grid mostly empty from either random start; a condensate fills
// the grid toward one characteristic density regardless of seeding.
package condensate

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/nvandessel/rulemap/internal/engine"
	"github.com/nvandessel/rulemap/internal/rule"
)

// Phase is the detected spatial regime.
type Phase string

const (
	PhaseParticle     Phase = "particle"
	PhaseCondensate   Phase = "condensate"
	PhaseUndetermined Phase = "undetermined"
)

// Config tunes the detector. Every tolerance the comparisons use lives
// here; nothing is baked into the code.
type Config struct {
	Height int `yaml:"height"`
	Width  int `yaml:"width"`
	Steps  int `yaml:"steps"`

	// SparseDensity and DenseDensity seed the low- and high-density runs.
	SparseDensity float64 `yaml:"sparse_density"`
	DenseDensity  float64 `yaml:"dense_density"`

	// NoiseFloor is the live-cell count the single-cell run must exceed for
	// its growth to count as condensate expansion.
	NoiseFloor int `yaml:"noise_floor"`

	// AgreementTol is the maximum spread between the sparse- and dense-run
	// equilibrium densities for the phase to be reported as definite. The
	// single-cell run never enters this comparison; it only tests vacuum
	// expansion.
	AgreementTol float64 `yaml:"agreement_tol"`

	// TrailingFraction is the portion of each run (from the end) used for
	// equilibrium statistics.
	TrailingFraction float64 `yaml:"trailing_fraction"`

	// ParticleCeiling is the highest agreed density still consistent with a
	// particle phase.
	ParticleCeiling float64 `yaml:"particle_ceiling"`

	// Seed drives the random initial conditions.
	Seed uint64 `yaml:"seed"`
}

// DefaultConfig returns budgets matching the reference scenarios.
func DefaultConfig() Config {
	return Config{
		Height:           64,
		Width:            64,
		Steps:            200,
		SparseDensity:    0.05,
		DenseDensity:     0.40,
		NoiseFloor:       10,
		AgreementTol:     0.10,
		TrailingFraction: 0.20,
		ParticleCeiling:  0.15,
		Seed:             42,
	}
}

// Analysis is the outcome of one phase detection.
type Analysis struct {
	IsCondensate bool `json:"is_condensate"`

	// EquilibriumDensity is the mean trailing density of the sparse and
	// dense runs. DensityDefined is false when those runs disagreed beyond
	// tolerance, in which case the value is indicative only.
	EquilibriumDensity float64 `json:"equilibrium_density"`
	DensityDefined     bool    `json:"density_defined"`

	// ExpansionFactor is the single-cell run's final population over its
	// initial population of one.
	ExpansionFactor float64 `json:"expansion_factor"`

	// StabilityVariance is the mean trailing density variance; near zero
	// signals a settled membrane.
	StabilityVariance float64 `json:"stability_variance"`

	Phase Phase `json:"phase"`

	// RelaxationTime is the step at which the sparse run first reached 90%
	// of its equilibrium density.
	RelaxationTime int `json:"relaxation_time"`

	// CriticalDensity is the binary-searched boundary between initial
	// densities that grow and ones that decay.
	CriticalDensity float64 `json:"critical_density"`
}

// Detector runs phase detection. Safe for concurrent use; each call owns
// its own grids.
type Detector struct {
	cfg Config
}

// NewDetector validates cfg.
func NewDetector(cfg Config) (*Detector, error) {
	if cfg.Height <= 0 || cfg.Width <= 0 {
		return nil, fmt.Errorf("grid dimensions %dx%d: must be positive", cfg.Height, cfg.Width)
	}
	if cfg.Steps < 10 {
		return nil, fmt.Errorf("steps %d: too few to reach equilibrium", cfg.Steps)
	}
	if cfg.TrailingFraction <= 0 || cfg.TrailingFraction > 1 {
		return nil, fmt.Errorf("trailing fraction %g: must be in (0,1]", cfg.TrailingFraction)
	}
	if cfg.AgreementTol <= 0 {
		return nil, fmt.Errorf("agreement tolerance %g: must be positive", cfg.AgreementTol)
	}
	return &Detector{cfg: cfg}, nil
}

// runStats summarizes one simulation run.
type runStats struct {
	densities       []float64 // density at every snapshot
	trailingMean    float64
	trailingVar     float64
	finalPopulation int
}

func (d *Detector) run(r rule.Descriptor, init engine.Init) (runStats, error) {
	cfg := engine.Config{Height: d.cfg.Height, Width: d.cfg.Width, Steps: d.cfg.Steps, Init: init}
	var rs runStats
	err := engine.Run(r, cfg, func(_ int, g *engine.Grid) bool {
		rs.densities = append(rs.densities, g.Density())
		rs.finalPopulation = g.Population()
		return true
	})
	if err != nil {
		return runStats{}, err
	}

	trail := int(float64(len(rs.densities)) * d.cfg.TrailingFraction)
	if trail < 2 {
		trail = 2
	}
	tail := rs.densities[len(rs.densities)-trail:]
	rs.trailingMean = stat.Mean(tail, nil)
	rs.trailingVar = stat.Variance(tail, nil)
	return rs, nil
}

// Analyze performs the three-run protocol for r.
func (d *Detector) Analyze(r rule.Descriptor) (Analysis, error) {
	single, err := d.run(r, engine.SingleCellInit())
	if err != nil {
		return Analysis{}, fmt.Errorf("single-cell run: %w", err)
	}
	sparse, err := d.run(r, engine.RandomInit(d.cfg.SparseDensity, d.cfg.Seed))
	if err != nil {
		return Analysis{}, fmt.Errorf("sparse run: %w", err)
	}
	dense, err := d.run(r, engine.RandomInit(d.cfg.DenseDensity, d.cfg.Seed+1))
	if err != nil {
		return Analysis{}, fmt.Errorf("dense run: %w", err)
	}

	isCondensate := single.finalPopulation > d.cfg.NoiseFloor && single.finalPopulation > 1

	// Only the random seeds are comparable: a particle rule's single-cell
	// run dies to zero while its dense run keeps a thin ash, and that gap
	// says nothing about whether the random starts found one attractor.
	spread := math.Abs(sparse.trailingMean - dense.trailingMean)
	agree := spread <= d.cfg.AgreementTol
	equilibrium := (sparse.trailingMean + dense.trailingMean) / 2

	phase := PhaseUndetermined
	switch {
	case !agree:
	case isCondensate:
		phase = PhaseCondensate
	case single.finalPopulation <= d.cfg.NoiseFloor && equilibrium < d.cfg.ParticleCeiling:
		phase = PhaseParticle
	}

	critical, err := d.criticalDensity(r, equilibrium)
	if err != nil {
		return Analysis{}, fmt.Errorf("critical density search: %w", err)
	}

	return Analysis{
		IsCondensate:       isCondensate,
		EquilibriumDensity: equilibrium,
		DensityDefined:     agree,
		ExpansionFactor:    float64(single.finalPopulation),
		StabilityVariance:  (sparse.trailingVar + dense.trailingVar) / 2,
		Phase:              phase,
		RelaxationTime:     relaxationTime(sparse.densities),
		CriticalDensity:    critical,
	}, nil
}

// relaxationTime returns the first step at which the density reaches 90%
// of its final value.
func relaxationTime(densities []float64) int {
	target := 0.9 * densities[len(densities)-1]
	for i, d := range densities {
		if d >= target {
			return i
		}
	}
	return len(densities) - 1
}

// criticalDensity binary-searches the initial density separating growth
// from decay over short bisection runs.
func (d *Detector) criticalDensity(r rule.Descriptor, equilibrium float64) (float64, error) {
	low, high := 0.01, 0.5
	if e := equilibrium * 2; e > 0.01 && e < high {
		high = e
	}
	steps := d.cfg.Steps / 4
	if steps < 10 {
		steps = 10
	}

	for iter := 0; iter < 8; iter++ {
		mid := (low + high) / 2
		cfg := engine.Config{
			Height: d.cfg.Height,
			Width:  d.cfg.Width,
			Steps:  steps,
			Init:   engine.RandomInit(mid, d.cfg.Seed+2+uint64(iter)),
		}
		var first, last int
		err := engine.Run(r, cfg, func(step int, g *engine.Grid) bool {
			if step == 0 {
				first = g.Population()
			}
			last = g.Population()
			return true
		})
		if err != nil {
			return 0, err
		}
		if first == 0 || last > first {
			low = mid
		} else {
			high = mid
		}
	}
	return (low + high) / 2, nil
}
