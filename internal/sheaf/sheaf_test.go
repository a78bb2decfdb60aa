package sheaf

import (
	"math"
	"testing"

	"github.com/nvandessel/rulemap/internal/engine"
	"github.com/nvandessel/rulemap/internal/rule"
)

func fillGrid(t *testing.T, h, w int, cell func(row, col int) uint8) *engine.Grid {
	t.Helper()
	g, err := engine.NewGrid(h, w)
	if err != nil {
		t.Fatal(err)
	}
	for row := 0; row < h; row++ {
		for col := 0; col < w; col++ {
			g.Set(row, col, cell(row, col))
		}
	}
	return g
}

func testAnalyzer(t *testing.T) *Analyzer {
	t.Helper()
	a, err := NewAnalyzer(DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func TestNewAnalyzerValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"one eigen pair", Config{EigenPairs: 1, LanczosIters: 80, MonodromySamples: 256}},
		{"iters below pairs", Config{EigenPairs: 6, LanczosIters: 4, MonodromySamples: 256}},
		{"zero samples", Config{EigenPairs: 6, LanczosIters: 80, MonodromySamples: 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewAnalyzer(tt.cfg); err == nil {
				t.Error("expected config error")
			}
		})
	}
}

func TestAnalyzeUniformGrid(t *testing.T) {
	a := testAnalyzer(t)
	g := fillGrid(t, 8, 8, func(row, col int) uint8 { return 1 })

	res, err := a.Analyze(g)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	if !res.OverlapDefined {
		t.Fatal("overlap should be defined for a uniform live grid")
	}
	// The all-ones state is exactly the Laplacian kernel.
	if res.HarmonicOverlap < 0.99 {
		t.Errorf("overlap = %g, want ~1 for the constant state", res.HarmonicOverlap)
	}
	if res.HarmonicDim != 1 {
		t.Errorf("harmonic dimension = %d, want 1 for a connected torus", res.HarmonicDim)
	}
	// Every sampled edge agrees.
	if res.Monodromy != 1 {
		t.Errorf("monodromy = %g, want +1 for a uniform grid", res.Monodromy)
	}
	if res.SheafType != "resonant-frozen" {
		t.Errorf("sheaf type = %q, want resonant-frozen", res.SheafType)
	}
	if res.SpectralGap <= 0 {
		t.Errorf("spectral gap = %g, want positive", res.SpectralGap)
	}
	if res.EffectiveResistance <= 0 {
		t.Errorf("effective resistance = %g, want positive", res.EffectiveResistance)
	}
}

func TestAnalyzeEmptyGrid(t *testing.T) {
	a := testAnalyzer(t)
	g := fillGrid(t, 8, 8, func(row, col int) uint8 { return 0 })

	res, err := a.Analyze(g)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.OverlapDefined {
		t.Error("overlap should be undefined for the zero state")
	}
	if res.Monodromy != 1 {
		t.Errorf("monodromy = %g, want +1 (all cells agree)", res.Monodromy)
	}
	// Monodromy is reinforcing but the overlap is undefined.
	if res.SheafType != "resonant-active" {
		t.Errorf("sheaf type = %q, want resonant-active", res.SheafType)
	}
}

func TestAnalyzeCheckerboard(t *testing.T) {
	a := testAnalyzer(t)
	g := fillGrid(t, 8, 8, func(row, col int) uint8 {
		return uint8((row + col) % 2)
	})

	res, err := a.Analyze(g)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	// Every horizontal and vertical plaquette edge disagrees, so every
	// sampled cycle transports negatively.
	if res.Monodromy != -1 {
		t.Errorf("monodromy = %g, want -1 for a checkerboard", res.Monodromy)
	}
	if res.SheafType != "tense" {
		t.Errorf("sheaf type = %q, want tense", res.SheafType)
	}

	// Projection of a half-live state onto the constant kernel vector.
	if !res.OverlapDefined {
		t.Fatal("overlap should be defined")
	}
	want := math.Sqrt(2) / 2
	if math.Abs(res.HarmonicOverlap-want) > 0.01 {
		t.Errorf("overlap = %g, want ~%g", res.HarmonicOverlap, want)
	}
}

func TestAnalyzeOverlapBounds(t *testing.T) {
	a := testAnalyzer(t)

	traj, err := engine.Simulate(rule.MustParse("B36/S23"), engine.Config{
		Height: 16, Width: 16, Steps: 30, Init: engine.RandomInit(0.4, 5),
	})
	if err != nil {
		t.Fatal(err)
	}

	res, err := a.Analyze(traj.Final())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.OverlapDefined && (res.HarmonicOverlap < 0 || res.HarmonicOverlap > 1) {
		t.Errorf("overlap = %g, out of [0,1]", res.HarmonicOverlap)
	}
	if res.Monodromy < -1 || res.Monodromy > 1 {
		t.Errorf("monodromy = %g, out of [-1,1]", res.Monodromy)
	}
}

func TestAnalyzeDeterministic(t *testing.T) {
	a := testAnalyzer(t)
	g := fillGrid(t, 12, 12, func(row, col int) uint8 {
		return uint8((row * col) % 3 % 2)
	})

	first, err := a.Analyze(g)
	if err != nil {
		t.Fatal(err)
	}
	second, err := a.Analyze(g)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Error("repeated analyses with the same seed should be identical")
	}
}

func TestOperatorDimensions(t *testing.T) {
	ops := buildOperators(6, 5)
	if ops.n != 30 {
		t.Errorf("vertices = %d, want 30", ops.n)
	}
	// Four undirected Moore edges per cell on a torus.
	if ops.m != 4*30 {
		t.Errorf("edges = %d, want %d", ops.m, 4*30)
	}

	rows, cols := ops.laplacian.Dims()
	if rows != 30 || cols != 30 {
		t.Errorf("laplacian is %dx%d, want 30x30", rows, cols)
	}
	// Moore degree is 8, so Gershgorin gives at most 16.
	if ops.lambdaMax <= 0 || ops.lambdaMax > 16.5 {
		t.Errorf("lambda max bound = %g, want in (0, 16.5]", ops.lambdaMax)
	}
}

func TestLaplacianAnnihilatesConstants(t *testing.T) {
	ops := buildOperators(5, 5)
	ones := make([]float64, ops.n)
	for i := range ones {
		ones[i] = 1
	}
	out := make([]float64, ops.n)
	mulVec(ops.laplacian, ones, out)
	for i, v := range out {
		if math.Abs(v) > 1e-12 {
			t.Fatalf("L*1 should vanish, component %d = %g", i, v)
		}
	}
}

func TestLaplacianIsIncidenceGram(t *testing.T) {
	ops := buildOperators(6, 5)
	rng := rule.NewSource(7)

	x := make([]float64, ops.n)
	for i := range x {
		x[i] = rng.Float64()*2 - 1
	}

	// y = delta x, then z = delta^T y.
	y := make([]float64, ops.m)
	mulVec(ops.incidence, x, y)
	z := make([]float64, ops.n)
	ops.incidence.DoNonZero(func(i, j int, v float64) {
		z[j] += v * y[i]
	})

	lx := make([]float64, ops.n)
	mulVec(ops.laplacian, x, lx)
	for i := range lx {
		if math.Abs(z[i]-lx[i]) > 1e-12 {
			t.Fatalf("(delta^T delta x)[%d] = %g, (L x)[%d] = %g", i, z[i], i, lx[i])
		}
	}

	// The Dirichlet identity ||delta x||^2 = x^T L x follows and pins the
	// sign convention.
	var energy, quad float64
	for _, v := range y {
		energy += v * v
	}
	for i := range x {
		quad += x[i] * lx[i]
	}
	if math.Abs(energy-quad) > 1e-9 {
		t.Errorf("||delta x||^2 = %g, x^T L x = %g", energy, quad)
	}
}

func TestSmallestEigenpairs(t *testing.T) {
	ops := buildOperators(6, 6)
	rng := rule.NewSource(42)

	pairs, err := smallestEigenpairs(ops.laplacian, ops.lambdaMax, 4, 80, 1e-4, rng)
	if err != nil {
		t.Fatalf("smallestEigenpairs: %v", err)
	}
	if len(pairs) == 0 {
		t.Fatal("no eigenpairs returned")
	}

	// Smallest eigenvalue of a connected Laplacian is zero.
	if math.Abs(pairs[0].value) > 1e-6 {
		t.Errorf("smallest eigenvalue = %g, want ~0", pairs[0].value)
	}
	for i := 1; i < len(pairs); i++ {
		if pairs[i].value < pairs[i-1].value-1e-9 {
			t.Errorf("eigenvalues out of order at %d: %g < %g", i, pairs[i].value, pairs[i-1].value)
		}
	}
}

func TestMonodromyZeroSamples(t *testing.T) {
	g := fillGrid(t, 4, 4, func(row, col int) uint8 { return 1 })
	if m := monodromy(g, 0, rule.NewSource(1)); m != 0 {
		t.Errorf("monodromy with zero samples = %g, want 0", m)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		mono    float64
		overlap float64
		defined bool
		want    string
	}{
		{"frozen resonance", 0.9, 0.9, true, "resonant-frozen"},
		{"active resonance", 0.9, 0.3, true, "resonant-active"},
		{"resonance undefined overlap", 0.9, 0, false, "resonant-active"},
		{"tension", -0.8, 0.5, true, "tense"},
		{"neither", 0.1, 0.5, true, "mixed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classify(tt.mono, tt.overlap, tt.defined); got != tt.want {
				t.Errorf("classify(%g, %g, %v) = %q, want %q",
					tt.mono, tt.overlap, tt.defined, got, tt.want)
			}
		})
	}
}
