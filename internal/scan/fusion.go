package scan

import (
	"github.com/nvandessel/rulemap/internal/atlas"
	"github.com/nvandessel/rulemap/internal/compress"
	"github.com/nvandessel/rulemap/internal/condensate"
)

// fuse fills the fused verdict fields of rec from whichever analyzer
// sections survived. The rule is fixed and deterministic:
//
//   - final_phase is the condensate detector's phase. When that is
//     undetermined (or the detector failed), the compression signal is
//     consulted, but no signal can assert a phase on its own: boredom and
//     frustration say the dynamics are inconclusive, and curiosity alone
//     says nothing about spatial structure. The fallback therefore always
//     lands on undetermined; it exists so the decision is explicit.
//   - final_class is the compression analyzer's Wolfram class.
//   - interesting requires a curiosity signal and a harmonic overlap inside
//     the configured Goldilocks band.
func (a *Aggregator) fuse(rec *atlas.Record) {
	rec.FinalPhase = condensate.PhaseUndetermined
	if rec.Condensate != nil && rec.Condensate.Phase != condensate.PhaseUndetermined {
		rec.FinalPhase = rec.Condensate.Phase
	} else if rec.Compression != nil {
		switch rec.Compression.Signal {
		case compress.SignalBoredom, compress.SignalFrustration,
			compress.SignalCuriosity, compress.SignalInsufficientData:
			rec.FinalPhase = condensate.PhaseUndetermined
		}
	}

	rec.FinalClass = compress.ClassUnknown
	if rec.Compression != nil {
		rec.FinalClass = rec.Compression.Class
	}

	rec.Interesting = rec.Compression != nil &&
		rec.Compression.Signal == compress.SignalCuriosity &&
		rec.Spectral != nil && rec.Spectral.OverlapDefined &&
		rec.Spectral.HarmonicOverlap >= a.cfg.Fusion.GoldilocksLow &&
		rec.Spectral.HarmonicOverlap <= a.cfg.Fusion.GoldilocksHigh
}
