package tpe

import (
	"math"
	"testing"

	"github.com/nvandessel/rulemap/internal/engine"
	"github.com/nvandessel/rulemap/internal/rule"
)

func simulate(t *testing.T, ruleStr string, cfg engine.Config) *engine.Trajectory {
	t.Helper()
	traj, err := engine.Simulate(rule.MustParse(ruleStr), cfg)
	if err != nil {
		t.Fatal(err)
	}
	return traj
}

func TestNewAnalyzerValidation(t *testing.T) {
	if _, err := NewAnalyzer(Config{Warmup: -1, BalanceTol: 0.15}); err == nil {
		t.Error("negative warmup should be rejected")
	}
	if _, err := NewAnalyzer(Config{Warmup: 0, BalanceTol: 0}); err == nil {
		t.Error("zero balance tolerance should be rejected")
	}
	if _, err := NewAnalyzer(DefaultConfig()); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestAnalyzeTooShort(t *testing.T) {
	a, err := NewAnalyzer(DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	traj := simulate(t, "B3/S23", engine.Config{
		Height: 8, Width: 8, Steps: 0, Init: engine.RandomInit(0.3, 1),
	})
	if _, err := a.Analyze(traj); err == nil {
		t.Error("single-snapshot trajectory should be rejected")
	}
}

func TestMetricBounds(t *testing.T) {
	a, err := NewAnalyzer(DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}

	rules := []string{"B3/S23", "B36/S23", "B/S", "B2/S"}
	for _, rs := range rules {
		t.Run(rs, func(t *testing.T) {
			traj := simulate(t, rs, engine.Config{
				Height: 32, Width: 32, Steps: 60, Init: engine.RandomInit(0.3, 9),
			})
			m, err := a.Analyze(traj)
			if err != nil {
				t.Fatal(err)
			}
			if m.Toroidal < 0 || m.Toroidal > 1 {
				t.Errorf("toroidal = %g, out of [0,1]", m.Toroidal)
			}
			if m.Poloidal < 0 || m.Poloidal > 1 {
				t.Errorf("poloidal = %g, out of [0,1]", m.Poloidal)
			}
			if m.Stability < 0 || m.Stability > 1 {
				t.Errorf("stability = %g, out of [0,1]", m.Stability)
			}
			if m.Emergence < 0 || m.Emergence > 1 {
				t.Errorf("emergence = %g, out of [0,1]", m.Emergence)
			}
			want := m.Toroidal * m.Poloidal * math.Abs(m.Toroidal-m.Poloidal)
			if math.Abs(m.Emergence-want) > 1e-12 {
				t.Errorf("emergence = %g, want T*P*|T-P| = %g", m.Emergence, want)
			}
			if m.Mode != ModeToroidal && m.Mode != ModePoloidal && m.Mode != ModeBalanced {
				t.Errorf("unknown mode %q", m.Mode)
			}
		})
	}
}

func TestDeadRuleIsInert(t *testing.T) {
	a, err := NewAnalyzer(DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}

	// Everything dies in one step: no growth, no dispersion, no structure.
	traj := simulate(t, "B/S", engine.Config{
		Height: 32, Width: 32, Steps: 60, Init: engine.RandomInit(0.3, 4),
	})
	m, err := a.Analyze(traj)
	if err != nil {
		t.Fatal(err)
	}
	if m.Toroidal > 0.1 {
		t.Errorf("toroidal = %g, want near 0 for a dead grid", m.Toroidal)
	}
	if m.Poloidal > 0.1 {
		t.Errorf("poloidal = %g, want near 0 for a dead grid", m.Poloidal)
	}
	if m.Mode == ModeBalanced {
		t.Error("a dead grid is below the activity floor and must not read as balanced")
	}
	if m.Stability != 0 {
		t.Errorf("stability = %g, want 0 when the population vanished", m.Stability)
	}
}

func TestStillLifeIsPoloidalDominant(t *testing.T) {
	a, err := NewAnalyzer(Config{Warmup: 0, BalanceTol: 0.15, ActivityFloor: 0.10})
	if err != nil {
		t.Fatal(err)
	}

	// A block is perfectly stable: full persistence, one tight component.
	g, err := engine.NewGrid(16, 16)
	if err != nil {
		t.Fatal(err)
	}
	for _, rc := range [][2]int{{7, 7}, {7, 8}, {8, 7}, {8, 8}} {
		g.Set(rc[0], rc[1], 1)
	}
	traj := simulate(t, "B3/S23", engine.Config{
		Height: 16, Width: 16, Steps: 20, Init: engine.PatternInit(g),
	})

	m, err := a.Analyze(traj)
	if err != nil {
		t.Fatal(err)
	}
	if m.Mode != ModePoloidal {
		t.Errorf("mode = %s, want %s for a still life", m.Mode, ModePoloidal)
	}
	if m.Stability != 1 {
		t.Errorf("stability = %g, want 1 for a still life", m.Stability)
	}
	if m.Poloidal <= m.Toroidal {
		t.Errorf("P=%g should exceed T=%g for a still life", m.Poloidal, m.Toroidal)
	}
}

func TestWarmupLongerThanTrajectory(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Warmup = 1000
	a, err := NewAnalyzer(cfg)
	if err != nil {
		t.Fatal(err)
	}

	traj := simulate(t, "B3/S23", engine.Config{
		Height: 16, Width: 16, Steps: 10, Init: engine.RandomInit(0.3, 2),
	})
	// Falls back to the whole curve instead of an empty slice.
	if _, err := a.Analyze(traj); err != nil {
		t.Fatalf("Analyze with oversized warmup: %v", err)
	}
}

func TestComponentCount(t *testing.T) {
	g, err := engine.NewGrid(8, 8)
	if err != nil {
		t.Fatal(err)
	}
	if componentCount(g) != 0 {
		t.Error("empty grid should have 0 components")
	}

	// Two diagonal cells are separate under 4-connectivity.
	g.Set(1, 1, 1)
	g.Set(2, 2, 1)
	if got := componentCount(g); got != 2 {
		t.Errorf("diagonal cells: %d components, want 2", got)
	}

	// Joining them merges the components.
	g.Set(1, 2, 1)
	if got := componentCount(g); got != 1 {
		t.Errorf("joined cells: %d components, want 1", got)
	}
}

func TestInterfaceDensity(t *testing.T) {
	empty, err := engine.NewGrid(8, 8)
	if err != nil {
		t.Fatal(err)
	}
	if d := interfaceDensity(empty); d != 0 {
		t.Errorf("empty grid interface density = %g, want 0", d)
	}

	// A checkerboard disagrees across every neighbor pair.
	checker, err := engine.NewGrid(8, 8)
	if err != nil {
		t.Fatal(err)
	}
	for row := 0; row < 8; row++ {
		for col := 0; col < 8; col++ {
			checker.Set(row, col, uint8((row+col)%2))
		}
	}
	if d := interfaceDensity(checker); d != 1 {
		t.Errorf("checkerboard interface density = %g, want 1", d)
	}
}

func TestClamp01(t *testing.T) {
	if clamp01(-0.5) != 0 || clamp01(1.5) != 1 || clamp01(0.3) != 0.3 {
		t.Error("clamp01 should clip to [0,1]")
	}
}
