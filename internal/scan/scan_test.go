package scan

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/nvandessel/rulemap/internal/atlas"
	"github.com/nvandessel/rulemap/internal/compress"
	"github.com/nvandessel/rulemap/internal/condensate"
	"github.com/nvandessel/rulemap/internal/config"
	"github.com/nvandessel/rulemap/internal/rule"
	"github.com/nvandessel/rulemap/internal/sheaf"
)

// testConfig shrinks the grids and step budgets so a full analyzer battery
// stays fast under `go test`.
func testConfig() config.Config {
	cfg := config.Default()
	cfg.Grid.Height = 16
	cfg.Grid.Width = 16
	cfg.Grid.Steps = 80
	cfg.Condensate.Height = 16
	cfg.Condensate.Width = 16
	cfg.Condensate.Steps = 60
	cfg.Scan.Workers = 2
	return cfg
}

func newAggregator(t *testing.T, store atlas.Store) *Aggregator {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := New(testConfig(), store, logger)
	if err != nil {
		t.Fatalf("new aggregator: %v", err)
	}
	return a
}

func TestNewRejectsBadInputs(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	if _, err := New(testConfig(), nil, logger); err == nil {
		t.Error("nil store should be rejected")
	}

	bad := testConfig()
	bad.Grid.Height = 0
	if _, err := New(bad, atlas.NewMemoryStore(), logger); err == nil {
		t.Error("invalid config should be rejected")
	}
}

func TestAnalyzePopulatesAllSections(t *testing.T) {
	a := newAggregator(t, atlas.NewMemoryStore())

	rec := a.Analyze(rule.MustParse("B3/S23"))
	if rec.Rule != "B3/S23" {
		t.Errorf("got rule %q, want canonical B3/S23", rec.Rule)
	}
	if rec.InputError != "" {
		t.Fatalf("unexpected input error: %s", rec.InputError)
	}
	if rec.Compression == nil {
		t.Error("compression section missing")
	}
	if rec.Spectral == nil {
		t.Error("spectral section missing")
	}
	if rec.Condensate == nil {
		t.Error("condensate section missing")
	}
	if rec.TPE == nil {
		t.Error("expansion metrics section missing")
	}
	if rec.FinalPhase == "" {
		t.Error("fused phase not set")
	}
}

func TestAnalyzeIsDeterministic(t *testing.T) {
	a := newAggregator(t, atlas.NewMemoryStore())
	b := newAggregator(t, atlas.NewMemoryStore())

	d := rule.MustParse("B36/S23")
	ra, rb := a.Analyze(d), b.Analyze(d)
	if ra.FinalPhase != rb.FinalPhase || ra.FinalClass != rb.FinalClass {
		t.Errorf("verdicts diverge: %s/%d vs %s/%d",
			ra.FinalPhase, ra.FinalClass, rb.FinalPhase, rb.FinalClass)
	}
	if ra.Compression.FinalRatio != rb.Compression.FinalRatio {
		t.Error("compression telemetry diverges between identical runs")
	}
}

func TestFusePhaseVerdict(t *testing.T) {
	a := newAggregator(t, atlas.NewMemoryStore())

	tests := []struct {
		name string
		rec  atlas.Record
		want condensate.Phase
	}{
		{
			name: "condensate phase wins",
			rec: atlas.Record{
				Condensate:  &condensate.Analysis{Phase: condensate.PhaseCondensate},
				Compression: &compress.Telemetry{Signal: compress.SignalBoredom},
			},
			want: condensate.PhaseCondensate,
		},
		{
			name: "undetermined detector falls back to undetermined",
			rec: atlas.Record{
				Condensate:  &condensate.Analysis{Phase: condensate.PhaseUndetermined},
				Compression: &compress.Telemetry{Signal: compress.SignalCuriosity},
			},
			want: condensate.PhaseUndetermined,
		},
		{
			name: "missing detector stays undetermined",
			rec: atlas.Record{
				Compression: &compress.Telemetry{Signal: compress.SignalFrustration},
			},
			want: condensate.PhaseUndetermined,
		},
		{
			name: "empty record stays undetermined",
			rec:  atlas.Record{},
			want: condensate.PhaseUndetermined,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a.fuse(&tt.rec)
			if tt.rec.FinalPhase != tt.want {
				t.Errorf("got phase %s, want %s", tt.rec.FinalPhase, tt.want)
			}
		})
	}
}

func TestFuseInteresting(t *testing.T) {
	a := newAggregator(t, atlas.NewMemoryStore())
	curious := func(overlap float64, defined bool) atlas.Record {
		return atlas.Record{
			Compression: &compress.Telemetry{Signal: compress.SignalCuriosity},
			Spectral:    &sheaf.Analysis{HarmonicOverlap: overlap, OverlapDefined: defined},
		}
	}

	tests := []struct {
		name string
		rec  atlas.Record
		want bool
	}{
		{"curious inside band", curious(0.45, true), true},
		{"curious at low edge", curious(0.3, true), true},
		{"curious above band", curious(0.75, true), false},
		{"curious below band", curious(0.1, true), false},
		{"overlap undefined", curious(0.45, false), false},
		{"no spectral section", atlas.Record{
			Compression: &compress.Telemetry{Signal: compress.SignalCuriosity},
		}, false},
		{"bored inside band", atlas.Record{
			Compression: &compress.Telemetry{Signal: compress.SignalBoredom},
			Spectral:    &sheaf.Analysis{HarmonicOverlap: 0.45, OverlapDefined: true},
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a.fuse(&tt.rec)
			if tt.rec.Interesting != tt.want {
				t.Errorf("interesting = %v, want %v", tt.rec.Interesting, tt.want)
			}
		})
	}
}

// The reference verdicts below run the full battery under the shipped
// defaults (64x64 grids, 300-step primary run) rather than the shrunken
// test config, since the expected classifications are calibrated to them.

func TestLifeReferenceVerdict(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := New(config.Default(), atlas.NewMemoryStore(), logger)
	if err != nil {
		t.Fatal(err)
	}

	rec := a.Analyze(rule.MustParse("B3/S23"))
	if rec.FinalClass != compress.ClassComplex {
		t.Errorf("final class = %d, want %d", rec.FinalClass, compress.ClassComplex)
	}
	if rec.Compression == nil || rec.Compression.Signal != compress.SignalCuriosity {
		t.Errorf("compression = %+v, want curiosity signal", rec.Compression)
	}
	if rec.FinalPhase != condensate.PhaseParticle {
		t.Errorf("final phase = %s, want %s", rec.FinalPhase, condensate.PhaseParticle)
	}
	if c := rec.Condensate; c == nil {
		t.Error("condensate section missing")
	} else if !c.DensityDefined || c.EquilibriumDensity >= 0.10 {
		t.Errorf("equilibrium density = %g (defined=%v), want defined and < 0.10",
			c.EquilibriumDensity, c.DensityDefined)
	}
}

func TestBornZeroReferenceVerdict(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := New(config.Default(), atlas.NewMemoryStore(), logger)
	if err != nil {
		t.Fatal(err)
	}

	rec := a.Analyze(rule.MustParse("B0/S058"))
	if c := rec.Condensate; c == nil {
		t.Fatal("condensate section missing")
	} else {
		if !c.IsCondensate {
			t.Error("a Born-0 rule expands from a single cell; is_condensate should hold")
		}
		if c.EquilibriumDensity <= 0.18 {
			t.Errorf("equilibrium density = %g, want > 0.18", c.EquilibriumDensity)
		}
	}
	if rec.FinalPhase != condensate.PhaseCondensate {
		t.Errorf("final phase = %s, want %s", rec.FinalPhase, condensate.PhaseCondensate)
	}
}

func TestAnalyzeAndStorePersists(t *testing.T) {
	store := atlas.NewMemoryStore()
	a := newAggregator(t, store)

	rec, err := a.AnalyzeAndStore(context.Background(), rule.MustParse("B3/S23"))
	if err != nil {
		t.Fatalf("analyze and store: %v", err)
	}

	got, err := store.Get(context.Background(), rec.Rule)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("record not persisted")
	}
	if got.FinalClass != rec.FinalClass || got.FinalPhase != rec.FinalPhase {
		t.Error("persisted verdict differs from returned record")
	}
}

func TestRecordInputError(t *testing.T) {
	store := atlas.NewMemoryStore()
	a := newAggregator(t, store)

	if err := a.RecordInputError(context.Background(), "Q9/Z1", errors.New("unrecognized descriptor")); err != nil {
		t.Fatalf("record input error: %v", err)
	}

	got, err := store.Get(context.Background(), "Q9/Z1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("input-error record not persisted")
	}
	if got.InputError == "" {
		t.Error("input error text missing")
	}
	if got.FinalPhase != condensate.PhaseUndetermined {
		t.Errorf("got phase %s, want undetermined", got.FinalPhase)
	}
}

func TestScanBatch(t *testing.T) {
	store := atlas.NewMemoryStore()
	a := newAggregator(t, store)

	rules := []rule.Descriptor{
		rule.MustParse("B3/S23"),
		rule.MustParse("B36/S23"),
		rule.MustParse("B2/S"),
		rule.MustParse("B/S"),
	}
	sum := a.Scan(context.Background(), rules)
	if sum.Analyzed != len(rules) {
		t.Errorf("analyzed %d rules, want %d", sum.Analyzed, len(rules))
	}
	if sum.InputErrors != 0 || sum.StoreErrors != 0 || sum.Skipped != 0 {
		t.Errorf("unexpected failure counts: %+v", sum)
	}

	all, err := store.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != len(rules) {
		t.Errorf("store holds %d records, want %d", len(all), len(rules))
	}
}

func TestScanCancelledContext(t *testing.T) {
	store := atlas.NewMemoryStore()
	a := newAggregator(t, store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rules := []rule.Descriptor{rule.MustParse("B3/S23"), rule.MustParse("B2/S")}
	sum := a.Scan(ctx, rules)
	if sum.Skipped != len(rules) {
		t.Errorf("skipped %d rules, want %d", sum.Skipped, len(rules))
	}
	if sum.Analyzed != 0 {
		t.Errorf("analyzed %d rules under a cancelled context, want 0", sum.Analyzed)
	}
}

func TestScanStrings(t *testing.T) {
	store := atlas.NewMemoryStore()
	a := newAggregator(t, store)

	sum := a.ScanStrings(context.Background(), []string{"b3/s23", "garbage", "B2/S"})
	if sum.Analyzed != 2 {
		t.Errorf("analyzed %d rules, want 2", sum.Analyzed)
	}
	if sum.InputErrors != 1 {
		t.Errorf("got %d input errors, want 1", sum.InputErrors)
	}

	bad, err := store.Get(context.Background(), "garbage")
	if err != nil {
		t.Fatal(err)
	}
	if bad == nil || bad.InputError == "" {
		t.Error("malformed rule should persist an input-error record")
	}

	canon, err := store.Get(context.Background(), "B3/S23")
	if err != nil {
		t.Fatal(err)
	}
	if canon == nil {
		t.Error("lowercase input should persist under its canonical key")
	}
}
