// Package compress estimates a rule's dynamical regime from the
// compressibility trend of its trajectory. Snapshot windows are bit-packed,
// run through a lossless compressor, and the ratio curve's level and slope
// are mapped to a Wolfram class and a navigator signal.
package compress

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
	"gonum.org/v1/gonum/stat"

	"github.com/nvandessel/rulemap/internal/engine"
)

// Signal is the qualitative verdict of a flow analysis.
type Signal string

const (
	// SignalBoredom marks frozen or periodic dynamics: nothing left to learn.
	SignalBoredom Signal = "boredom"
	// SignalFrustration marks chaotic dynamics: nothing learnable.
	SignalFrustration Signal = "frustration"
	// SignalCuriosity marks complex dynamics: the encoding keeps improving
	// as structure accumulates.
	SignalCuriosity Signal = "curiosity"
	// SignalInsufficientData means the trajectory was too short to classify.
	SignalInsufficientData Signal = "insufficient-data"
)

// WolframClass is the estimated complexity class. ClassUnknown (0) means
// no classification was possible.
type WolframClass int

const (
	ClassUnknown  WolframClass = 0
	ClassFrozen   WolframClass = 1
	ClassPeriodic WolframClass = 2
	ClassChaotic  WolframClass = 3
	ClassComplex  WolframClass = 4
)

// Config tunes the flow analyzer. All thresholds compare against
// compression ratios in [0,1].
type Config struct {
	// WindowSize is the number of consecutive snapshots compressed together
	// per ratio sample.
	WindowSize int `yaml:"window_size"`

	// MinWindows is the minimum number of ratio samples required for a
	// classification. Fewer samples yields SignalInsufficientData.
	MinWindows int `yaml:"min_windows"`

	// ChaosThreshold: final ratio above this reads as incompressible.
	ChaosThreshold float64 `yaml:"chaos_threshold"`

	// FrozenThreshold: final ratio below this reads as trivially compressible.
	FrozenThreshold float64 `yaml:"frozen_threshold"`

	// FlowThreshold: ratio-curve slopes with magnitude above this count as a
	// sustained trend rather than noise.
	FlowThreshold float64 `yaml:"flow_threshold"`

	// FluidEnabled turns on the secondary prediction-loss estimator. It only
	// refines confidence; classification never depends on it.
	FluidEnabled bool `yaml:"fluid_enabled"`
}

// DefaultConfig returns thresholds tuned against the reference rules on
// 64x64 grids with bit-packed serialization.
func DefaultConfig() Config {
	return Config{
		WindowSize:      20,
		MinWindows:      3,
		ChaosThreshold:  0.80,
		FrozenThreshold: 0.05,
		FlowThreshold:   1e-3,
	}
}

// Telemetry is the result of one flow analysis.
type Telemetry struct {
	// RatioSamples is the per-window compression ratio curve, each in [0,1].
	RatioSamples []float64 `json:"ratio_samples"`
	MeanRatio    float64   `json:"mean_ratio"`
	FinalRatio   float64   `json:"final_ratio"`

	// Slope is the linear-regression slope of the second half of the ratio
	// curve, per window.
	Slope float64 `json:"slope"`

	Class  WolframClass `json:"wolfram_class"`
	Signal Signal       `json:"signal"`

	// IntrinsicReward scores how promising the rule is for further
	// exploration: positive only under curiosity, scaled by the distance
	// from both extremes and the flow magnitude.
	IntrinsicReward float64 `json:"intrinsic_reward"`

	// FluidSlope is the prediction-loss trend of the fluid estimator, zero
	// when the estimator is disabled.
	FluidSlope float64 `json:"fluid_slope,omitempty"`

	// Confidence is 1.0 for a rigid-only verdict, raised or lowered by at
	// most 0.2 when the fluid estimator agrees or disagrees.
	Confidence float64 `json:"confidence"`
}

// Analyzer computes Telemetry from trajectories. Safe for concurrent use.
type Analyzer struct {
	cfg Config
	enc *zstd.Encoder
}

// NewAnalyzer validates cfg and builds the compressor.
func NewAnalyzer(cfg Config) (*Analyzer, error) {
	if cfg.WindowSize <= 0 {
		return nil, fmt.Errorf("window size %d: must be positive", cfg.WindowSize)
	}
	if cfg.MinWindows < 2 {
		return nil, fmt.Errorf("min windows %d: need at least 2 samples for a slope", cfg.MinWindows)
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return nil, fmt.Errorf("create compressor: %w", err)
	}
	return &Analyzer{cfg: cfg, enc: enc}, nil
}

// Analyze splits the trajectory into windows, samples the compression ratio
// of each, fits the ratio slope, and classifies. Trajectories with fewer
// than MinWindows full windows yield SignalInsufficientData.
func (a *Analyzer) Analyze(t *engine.Trajectory) Telemetry {
	numWindows := t.Len() / a.cfg.WindowSize
	samples := make([]float64, 0, numWindows)
	for i := 0; i < numWindows; i++ {
		start := i * a.cfg.WindowSize
		samples = append(samples, a.windowRatio(t, start, start+a.cfg.WindowSize))
	}

	if len(samples) < a.cfg.MinWindows {
		return Telemetry{
			RatioSamples: samples,
			Class:        ClassUnknown,
			Signal:       SignalInsufficientData,
		}
	}

	mean := stat.Mean(samples, nil)
	final := samples[len(samples)-1]
	slope := halfSlope(samples)

	signal, class := a.classify(final, slope)
	tel := Telemetry{
		RatioSamples: samples,
		MeanRatio:    mean,
		FinalRatio:   final,
		Slope:        slope,
		Class:        class,
		Signal:       signal,
		Confidence:   1.0,
	}
	tel.IntrinsicReward = a.reward(mean, slope, signal)

	if a.cfg.FluidEnabled {
		tel.FluidSlope = fluidLossSlope(t)
		tel.Confidence = adjustConfidence(tel.Confidence, signal, tel.FluidSlope, a.cfg.FlowThreshold)
	}
	return tel
}

// AnalyzeWindow analyzes a caller-selected slice [from, to) of the
// trajectory's snapshots.
func (a *Analyzer) AnalyzeWindow(t *engine.Trajectory, from, to int) (Telemetry, error) {
	if from < 0 || to > t.Len() || from >= to {
		return Telemetry{}, fmt.Errorf("window [%d,%d) out of range 0..%d", from, to, t.Len())
	}
	return a.Analyze(t.Slice(from, to)), nil
}

// windowRatio bit-packs snapshots [from, to) and returns
// compressed/raw size, clamped to [0,1].
func (a *Analyzer) windowRatio(t *engine.Trajectory, from, to int) float64 {
	raw := packWindow(t, from, to)
	if len(raw) == 0 {
		return 0
	}
	compressed := a.enc.EncodeAll(raw, make([]byte, 0, len(raw)))
	ratio := float64(len(compressed)) / float64(len(raw))
	if ratio > 1 {
		ratio = 1
	}
	return ratio
}

// packWindow serializes snapshots 8 cells per byte so the ratio reflects
// information content rather than the 0/1-byte encoding overhead.
func packWindow(t *engine.Trajectory, from, to int) []byte {
	var bits int
	for i := from; i < to; i++ {
		g := t.At(i)
		bits += g.Height() * g.Width()
	}
	out := make([]byte, 0, (bits+7)/8)

	var acc byte
	var n uint
	for i := from; i < to; i++ {
		for _, c := range t.At(i).Bytes() {
			acc = acc<<1 | c
			n++
			if n == 8 {
				out = append(out, acc)
				acc, n = 0, 0
			}
		}
	}
	if n > 0 {
		out = append(out, acc<<(8-n))
	}
	return out
}

// halfSlope fits a least-squares line to the second half of the curve,
// skipping the warmup transient.
func halfSlope(curve []float64) float64 {
	half := curve[len(curve)/2:]
	if len(half) < 2 {
		half = curve
	}
	xs := make([]float64, len(half))
	for i := range xs {
		xs[i] = float64(i)
	}
	_, slope := stat.LinearRegression(xs, half, nil, false)
	return slope
}

func (a *Analyzer) classify(final, slope float64) (Signal, WolframClass) {
	sustained := slope < -a.cfg.FlowThreshold

	if final > a.cfg.ChaosThreshold {
		if sustained {
			return SignalCuriosity, ClassComplex
		}
		return SignalFrustration, ClassChaotic
	}
	if final < a.cfg.FrozenThreshold {
		return SignalBoredom, ClassFrozen
	}
	if sustained {
		return SignalCuriosity, ClassComplex
	}
	return SignalBoredom, ClassPeriodic
}

// reward scores curiosity strength: distance from both extremes, amplified
// by flow magnitude. Boredom and frustration repel mildly so explorers
// move on.
func (a *Analyzer) reward(mean, slope float64, signal Signal) float64 {
	switch signal {
	case SignalCuriosity:
		goldilocks := min(a.cfg.ChaosThreshold-mean, mean-a.cfg.FrozenThreshold)
		if goldilocks < 0 {
			goldilocks = 0
		}
		return goldilocks * (1 + 1000*abs(slope))
	case SignalFrustration:
		return -0.1
	case SignalBoredom:
		return -0.05
	default:
		return 0
	}
}

func adjustConfidence(base float64, signal Signal, fluidSlope, flowThreshold float64) float64 {
	fluidLearning := fluidSlope < -flowThreshold
	switch {
	case signal == SignalCuriosity && fluidLearning:
		return min(1.0, base+0.2)
	case signal == SignalCuriosity && !fluidLearning:
		return base - 0.2
	default:
		return base
	}
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
