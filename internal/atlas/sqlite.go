package atlas

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nvandessel/rulemap/internal/compress"
	"github.com/nvandessel/rulemap/internal/condensate"
	"github.com/nvandessel/rulemap/internal/rule"
	"github.com/nvandessel/rulemap/internal/sheaf"
	"github.com/nvandessel/rulemap/internal/tpe"
)

const schema = `
CREATE TABLE IF NOT EXISTS rules (
	rule TEXT PRIMARY KEY,
	born TEXT NOT NULL,
	survive TEXT NOT NULL,

	-- compression telemetry (NULL signal = analyzer failed)
	signal TEXT,
	wolfram_class INTEGER,
	mean_ratio REAL,
	final_ratio REAL,
	ratio_slope REAL,
	intrinsic_reward REAL,
	fluid_slope REAL,
	confidence REAL,
	ratio_samples TEXT,

	-- spectral analysis (NULL sheaf_type = analyzer failed)
	sheaf_type TEXT,
	harmonic_overlap REAL,
	monodromy REAL,
	harmonic_dim INTEGER,
	spectral_gap REAL,
	effective_resistance REAL,

	-- condensate analysis (NULL phase = analyzer failed)
	phase TEXT,
	is_condensate INTEGER,
	equilibrium_density REAL,
	expansion_factor REAL,
	stability_variance REAL,
	relaxation_time INTEGER,
	critical_density REAL,

	-- expansion/contraction metrics (NULL tpe_mode = analyzer failed)
	tpe_mode TEXT,
	toroidal REAL,
	poloidal REAL,
	emergence REAL,
	tpe_stability REAL,

	-- fused verdict
	final_phase TEXT NOT NULL,
	final_class INTEGER NOT NULL,
	interesting INTEGER NOT NULL,
	input_error TEXT
);
CREATE INDEX IF NOT EXISTS idx_rules_final_phase ON rules(final_phase);
CREATE INDEX IF NOT EXISTS idx_rules_final_class ON rules(final_class);
CREATE INDEX IF NOT EXISTS idx_rules_overlap ON rules(harmonic_overlap);
`

// SQLiteStore implements Store on a SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the atlas database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create atlas directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open atlas database: %w", err)
	}
	// Single writer keeps SQLite happy and makes same-key upserts serialize.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize atlas schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Upsert writes rec atomically under its rule key.
func (s *SQLiteStore) Upsert(ctx context.Context, rec Record) error {
	// Input-error records carry the raw, unparseable rule string; canonical
	// rules get their digit sets split out for querying.
	key := rec.Rule
	born, survive := "", ""
	if d, err := rule.Parse(rec.Rule); err == nil {
		key = d.String()
		born = digits(d.BornCounts())
		survive = digits(d.SurviveCounts())
	} else if rec.InputError == "" {
		return fmt.Errorf("upsert %q: %w", rec.Rule, err)
	}

	var (
		signal, sheafType, phase, tpeMode sql.NullString
		wolframClass, harmonicDim         sql.NullInt64
		isCondensate, relaxationTime      sql.NullInt64
		meanRatio, finalRatio, ratioSlope sql.NullFloat64
		intrinsicReward                   sql.NullFloat64
		fluidSlope, confidence            sql.NullFloat64
		ratioSamples                      sql.NullString
		harmonicOverlap, mono             sql.NullFloat64
		spectralGap, effResistance        sql.NullFloat64
		eqDensity, expansion, stability   sql.NullFloat64
		criticalDensity                   sql.NullFloat64
		toroidal, poloidal, emergence     sql.NullFloat64
		tpeStability                      sql.NullFloat64
		inputError                        sql.NullString
	)

	if c := rec.Compression; c != nil {
		signal = sql.NullString{String: string(c.Signal), Valid: true}
		wolframClass = sql.NullInt64{Int64: int64(c.Class), Valid: true}
		meanRatio = sql.NullFloat64{Float64: c.MeanRatio, Valid: true}
		finalRatio = sql.NullFloat64{Float64: c.FinalRatio, Valid: true}
		ratioSlope = sql.NullFloat64{Float64: c.Slope, Valid: true}
		intrinsicReward = sql.NullFloat64{Float64: c.IntrinsicReward, Valid: true}
		fluidSlope = sql.NullFloat64{Float64: c.FluidSlope, Valid: true}
		confidence = sql.NullFloat64{Float64: c.Confidence, Valid: true}
		samples, err := json.Marshal(c.RatioSamples)
		if err != nil {
			return fmt.Errorf("upsert %q: encode ratio samples: %w", rec.Rule, err)
		}
		ratioSamples = sql.NullString{String: string(samples), Valid: true}
	}
	if sp := rec.Spectral; sp != nil {
		sheafType = sql.NullString{String: sp.SheafType, Valid: true}
		if sp.OverlapDefined {
			harmonicOverlap = sql.NullFloat64{Float64: sp.HarmonicOverlap, Valid: true}
		}
		mono = sql.NullFloat64{Float64: sp.Monodromy, Valid: true}
		harmonicDim = sql.NullInt64{Int64: int64(sp.HarmonicDim), Valid: true}
		spectralGap = sql.NullFloat64{Float64: sp.SpectralGap, Valid: true}
		effResistance = sql.NullFloat64{Float64: sp.EffectiveResistance, Valid: true}
	}
	if c := rec.Condensate; c != nil {
		phase = sql.NullString{String: string(c.Phase), Valid: true}
		isCondensate = sql.NullInt64{Int64: boolInt(c.IsCondensate), Valid: true}
		if c.DensityDefined {
			eqDensity = sql.NullFloat64{Float64: c.EquilibriumDensity, Valid: true}
		}
		expansion = sql.NullFloat64{Float64: c.ExpansionFactor, Valid: true}
		stability = sql.NullFloat64{Float64: c.StabilityVariance, Valid: true}
		relaxationTime = sql.NullInt64{Int64: int64(c.RelaxationTime), Valid: true}
		criticalDensity = sql.NullFloat64{Float64: c.CriticalDensity, Valid: true}
	}
	if m := rec.TPE; m != nil {
		tpeMode = sql.NullString{String: string(m.Mode), Valid: true}
		toroidal = sql.NullFloat64{Float64: m.Toroidal, Valid: true}
		poloidal = sql.NullFloat64{Float64: m.Poloidal, Valid: true}
		emergence = sql.NullFloat64{Float64: m.Emergence, Valid: true}
		tpeStability = sql.NullFloat64{Float64: m.Stability, Valid: true}
	}
	if rec.InputError != "" {
		inputError = sql.NullString{String: rec.InputError, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rules (
			rule, born, survive,
			signal, wolfram_class, mean_ratio, final_ratio, ratio_slope, intrinsic_reward, fluid_slope, confidence, ratio_samples,
			sheaf_type, harmonic_overlap, monodromy, harmonic_dim, spectral_gap, effective_resistance,
			phase, is_condensate, equilibrium_density, expansion_factor, stability_variance, relaxation_time, critical_density,
			tpe_mode, toroidal, poloidal, emergence, tpe_stability,
			final_phase, final_class, interesting, input_error
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(rule) DO UPDATE SET
			born=excluded.born, survive=excluded.survive,
			signal=excluded.signal, wolfram_class=excluded.wolfram_class,
			mean_ratio=excluded.mean_ratio, final_ratio=excluded.final_ratio,
			ratio_slope=excluded.ratio_slope, intrinsic_reward=excluded.intrinsic_reward,
			fluid_slope=excluded.fluid_slope, confidence=excluded.confidence,
			ratio_samples=excluded.ratio_samples,
			sheaf_type=excluded.sheaf_type, harmonic_overlap=excluded.harmonic_overlap,
			monodromy=excluded.monodromy, harmonic_dim=excluded.harmonic_dim,
			spectral_gap=excluded.spectral_gap, effective_resistance=excluded.effective_resistance,
			phase=excluded.phase, is_condensate=excluded.is_condensate,
			equilibrium_density=excluded.equilibrium_density, expansion_factor=excluded.expansion_factor,
			stability_variance=excluded.stability_variance, relaxation_time=excluded.relaxation_time,
			critical_density=excluded.critical_density,
			tpe_mode=excluded.tpe_mode, toroidal=excluded.toroidal, poloidal=excluded.poloidal,
			emergence=excluded.emergence, tpe_stability=excluded.tpe_stability,
			final_phase=excluded.final_phase, final_class=excluded.final_class,
			interesting=excluded.interesting, input_error=excluded.input_error`,
		key, born, survive,
		signal, wolframClass, meanRatio, finalRatio, ratioSlope, intrinsicReward, fluidSlope, confidence, ratioSamples,
		sheafType, harmonicOverlap, mono, harmonicDim, spectralGap, effResistance,
		phase, isCondensate, eqDensity, expansion, stability, relaxationTime, criticalDensity,
		tpeMode, toroidal, poloidal, emergence, tpeStability,
		string(rec.FinalPhase), int(rec.FinalClass), boolInt(rec.Interesting), inputError,
	)
	if err != nil {
		return fmt.Errorf("upsert %q: %w", rec.Rule, err)
	}
	return nil
}

const selectColumns = `
	rule,
	signal, wolfram_class, mean_ratio, final_ratio, ratio_slope, intrinsic_reward, fluid_slope, confidence, ratio_samples,
	sheaf_type, harmonic_overlap, monodromy, harmonic_dim, spectral_gap, effective_resistance,
	phase, is_condensate, equilibrium_density, expansion_factor, stability_variance, relaxation_time, critical_density,
	tpe_mode, toroidal, poloidal, emergence, tpe_stability,
	final_phase, final_class, interesting, input_error`

func scanRecord(row interface{ Scan(...any) error }) (Record, error) {
	var (
		rec                               Record
		signal, sheafType, phase, tpeMode sql.NullString
		wolframClass, harmonicDim         sql.NullInt64
		isCondensate, relaxationTime      sql.NullInt64
		meanRatio, finalRatio, ratioSlope sql.NullFloat64
		intrinsicReward                   sql.NullFloat64
		fluidSlope, confidence            sql.NullFloat64
		ratioSamples                      sql.NullString
		harmonicOverlap, mono             sql.NullFloat64
		spectralGap, effResistance        sql.NullFloat64
		eqDensity, expansion, stability   sql.NullFloat64
		criticalDensity                   sql.NullFloat64
		toroidal, poloidal, emergence     sql.NullFloat64
		tpeStability                      sql.NullFloat64
		finalPhase                        string
		finalClass                        int
		interesting                       int
		inputError                        sql.NullString
	)
	err := row.Scan(
		&rec.Rule,
		&signal, &wolframClass, &meanRatio, &finalRatio, &ratioSlope, &intrinsicReward, &fluidSlope, &confidence, &ratioSamples,
		&sheafType, &harmonicOverlap, &mono, &harmonicDim, &spectralGap, &effResistance,
		&phase, &isCondensate, &eqDensity, &expansion, &stability, &relaxationTime, &criticalDensity,
		&tpeMode, &toroidal, &poloidal, &emergence, &tpeStability,
		&finalPhase, &finalClass, &interesting, &inputError,
	)
	if err != nil {
		return Record{}, err
	}

	if signal.Valid {
		tel := &compress.Telemetry{
			Signal:          compress.Signal(signal.String),
			Class:           compress.WolframClass(wolframClass.Int64),
			MeanRatio:       meanRatio.Float64,
			FinalRatio:      finalRatio.Float64,
			Slope:           ratioSlope.Float64,
			IntrinsicReward: intrinsicReward.Float64,
			FluidSlope:      fluidSlope.Float64,
			Confidence:      confidence.Float64,
		}
		if ratioSamples.Valid {
			if err := json.Unmarshal([]byte(ratioSamples.String), &tel.RatioSamples); err != nil {
				return Record{}, fmt.Errorf("decode ratio samples for %q: %w", rec.Rule, err)
			}
		}
		rec.Compression = tel
	}
	if sheafType.Valid {
		rec.Spectral = &sheaf.Analysis{
			SheafType:           sheafType.String,
			HarmonicOverlap:     harmonicOverlap.Float64,
			OverlapDefined:      harmonicOverlap.Valid,
			Monodromy:           mono.Float64,
			HarmonicDim:         int(harmonicDim.Int64),
			SpectralGap:         spectralGap.Float64,
			EffectiveResistance: effResistance.Float64,
		}
	}
	if phase.Valid {
		rec.Condensate = &condensate.Analysis{
			Phase:              condensate.Phase(phase.String),
			IsCondensate:       isCondensate.Int64 != 0,
			EquilibriumDensity: eqDensity.Float64,
			DensityDefined:     eqDensity.Valid,
			ExpansionFactor:    expansion.Float64,
			StabilityVariance:  stability.Float64,
			RelaxationTime:     int(relaxationTime.Int64),
			CriticalDensity:    criticalDensity.Float64,
		}
	}
	if tpeMode.Valid {
		rec.TPE = &tpe.Metrics{
			Mode:      tpe.Mode(tpeMode.String),
			Toroidal:  toroidal.Float64,
			Poloidal:  poloidal.Float64,
			Emergence: emergence.Float64,
			Stability: tpeStability.Float64,
		}
	}
	rec.FinalPhase = condensate.Phase(finalPhase)
	rec.FinalClass = compress.WolframClass(finalClass)
	rec.Interesting = interesting != 0
	rec.InputError = inputError.String
	return rec, nil
}

// Get returns the record for ruleStr, or nil when absent.
func (s *SQLiteStore) Get(ctx context.Context, ruleStr string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT`+selectColumns+` FROM rules WHERE rule = ?`, ruleStr)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %q: %w", ruleStr, err)
	}
	return &rec, nil
}

func (s *SQLiteStore) query(ctx context.Context, where string, args ...any) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT`+selectColumns+` FROM rules `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// List returns all records ordered by rule string.
func (s *SQLiteStore) List(ctx context.Context) ([]Record, error) {
	return s.query(ctx, `ORDER BY rule`)
}

// ByPhase returns records whose fused phase matches.
func (s *SQLiteStore) ByPhase(ctx context.Context, phase condensate.Phase) ([]Record, error) {
	return s.query(ctx, `WHERE final_phase = ? ORDER BY rule`, string(phase))
}

// ByClass returns records whose fused class matches.
func (s *SQLiteStore) ByClass(ctx context.Context, class compress.WolframClass) ([]Record, error) {
	return s.query(ctx, `WHERE final_class = ? ORDER BY rule`, int(class))
}

// Goldilocks returns records with harmonic overlap in [lo, hi].
func (s *SQLiteStore) Goldilocks(ctx context.Context, lo, hi float64) ([]Record, error) {
	return s.query(ctx, `WHERE harmonic_overlap BETWEEN ? AND ? ORDER BY harmonic_overlap, rule`, lo, hi)
}

// Stats returns summary statistics over the atlas.
func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN final_class = 4 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN is_condensate = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN interesting = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(AVG(harmonic_overlap), 0),
			COALESCE(AVG(monodromy), 0)
		FROM rules`)
	var st Stats
	if err := row.Scan(&st.Total, &st.Class4, &st.Condensates, &st.Interesting,
		&st.MeanOverlap, &st.MeanMonodromy); err != nil {
		return Stats{}, fmt.Errorf("atlas stats: %w", err)
	}
	return st, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func digits(counts []int) string {
	b := make([]byte, len(counts))
	for i, n := range counts {
		b[i] = byte('0' + n)
	}
	return string(b)
}
