// Package scan orchestrates the analyzer battery for rules and fuses their
// outputs into persisted records. Analyses of distinct rules share nothing
// mutable and run embarrassingly parallel; a single analyzer failure
// degrades its fields to unknown and never aborts a batch.
package scan

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nvandessel/rulemap/internal/atlas"
	"github.com/nvandessel/rulemap/internal/compress"
	"github.com/nvandessel/rulemap/internal/condensate"
	"github.com/nvandessel/rulemap/internal/config"
	"github.com/nvandessel/rulemap/internal/engine"
	"github.com/nvandessel/rulemap/internal/rule"
	"github.com/nvandessel/rulemap/internal/sheaf"
	"github.com/nvandessel/rulemap/internal/tpe"
)

// Aggregator runs the full analysis pipeline for single rules and batches.
// The persistence handle is injected; the aggregator never opens its own.
type Aggregator struct {
	cfg    config.Config
	store  atlas.Store
	logger *slog.Logger

	flow       *compress.Analyzer
	spectral   *sheaf.Analyzer
	condensate *condensate.Detector
	tpeMeter   *tpe.Analyzer
}

// New builds an aggregator from validated configuration.
func New(cfg config.Config, store atlas.Store, logger *slog.Logger) (*Aggregator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, fmt.Errorf("aggregator: store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	flow, err := compress.NewAnalyzer(cfg.Compression)
	if err != nil {
		return nil, fmt.Errorf("aggregator: %w", err)
	}
	spectral, err := sheaf.NewAnalyzer(cfg.Spectral)
	if err != nil {
		return nil, fmt.Errorf("aggregator: %w", err)
	}
	det, err := condensate.NewDetector(cfg.Condensate)
	if err != nil {
		return nil, fmt.Errorf("aggregator: %w", err)
	}
	meter, err := tpe.NewAnalyzer(cfg.TPE)
	if err != nil {
		return nil, fmt.Errorf("aggregator: %w", err)
	}

	return &Aggregator{
		cfg:        cfg,
		store:      store,
		logger:     logger,
		flow:       flow,
		spectral:   spectral,
		condensate: det,
		tpeMeter:   meter,
	}, nil
}

// Analyze runs every analyzer for d and returns the fused record without
// persisting it. Analyzer failures are logged and leave the corresponding
// section nil.
func (a *Aggregator) Analyze(d rule.Descriptor) atlas.Record {
	rec := atlas.Record{Rule: d.String()}

	traj, err := engine.Simulate(d, engine.Config{
		Height: a.cfg.Grid.Height,
		Width:  a.cfg.Grid.Width,
		Steps:  a.cfg.Grid.Steps,
		Init:   engine.RandomInit(a.cfg.Grid.Density, a.cfg.Grid.Seed),
	})
	if err != nil {
		// Dimensions and density were validated up front; reaching this
		// means the per-rule input itself is bad.
		rec.InputError = err.Error()
		rec.FinalPhase = condensate.PhaseUndetermined
		return rec
	}

	tel := a.flow.Analyze(traj)
	rec.Compression = &tel

	if spec, err := a.spectral.Analyze(traj.Final()); err != nil {
		a.logger.Warn("spectral analysis degraded", "rule", rec.Rule, "error", err)
	} else {
		rec.Spectral = &spec
	}

	if cond, err := a.condensate.Analyze(d); err != nil {
		a.logger.Warn("condensate analysis degraded", "rule", rec.Rule, "error", err)
	} else {
		rec.Condensate = &cond
	}

	if metrics, err := a.tpeMeter.Analyze(traj); err != nil {
		a.logger.Warn("expansion/contraction analysis degraded", "rule", rec.Rule, "error", err)
	} else {
		rec.TPE = &metrics
	}

	a.fuse(&rec)
	return rec
}

// AnalyzeAndStore analyzes d and upserts the record under its canonical
// rule key.
func (a *Aggregator) AnalyzeAndStore(ctx context.Context, d rule.Descriptor) (atlas.Record, error) {
	rec := a.Analyze(d)
	if err := a.store.Upsert(ctx, rec); err != nil {
		return rec, fmt.Errorf("persist %s: %w", rec.Rule, err)
	}
	a.logger.Debug("rule analyzed",
		"rule", rec.Rule,
		"class", int(rec.FinalClass),
		"phase", string(rec.FinalPhase),
		"interesting", rec.Interesting)
	return rec, nil
}

// RecordInputError persists a record marking a rule string that failed
// validation before analysis.
func (a *Aggregator) RecordInputError(ctx context.Context, ruleStr string, inputErr error) error {
	rec := atlas.Record{
		Rule:       ruleStr,
		FinalPhase: condensate.PhaseUndetermined,
		InputError: inputErr.Error(),
	}
	if err := a.store.Upsert(ctx, rec); err != nil {
		return fmt.Errorf("persist input error for %q: %w", ruleStr, err)
	}
	return nil
}
