// Package atlas persists one classification record per rule. The store is
// an explicit handle injected into the aggregator; there is no process-wide
// singleton. Records are keyed by the canonical rule string and upserted
// idempotently: re-recording identical analysis output leaves the stored
// row byte-identical.
package atlas

import (
	"context"

	"github.com/nvandessel/rulemap/internal/compress"
	"github.com/nvandessel/rulemap/internal/condensate"
	"github.com/nvandessel/rulemap/internal/sheaf"
	"github.com/nvandessel/rulemap/internal/tpe"
)

// Record is the persisted classification of one rule. Analyzer sections are
// nil when that analyzer failed for the run; the fused fields always carry
// a value ("undetermined"/unknown when nothing could be asserted).
type Record struct {
	// Rule is the canonical descriptor string, the record key.
	Rule string `json:"rule"`

	Compression *compress.Telemetry  `json:"compression,omitempty"`
	Spectral    *sheaf.Analysis      `json:"spectral,omitempty"`
	Condensate  *condensate.Analysis `json:"condensate,omitempty"`
	TPE         *tpe.Metrics         `json:"tpe,omitempty"`

	FinalPhase  condensate.Phase      `json:"final_phase"`
	FinalClass  compress.WolframClass `json:"final_class"`
	Interesting bool                  `json:"interesting"`

	// InputError carries the parse/validation failure for rules that never
	// reached the analyzers; all analysis sections are nil in that case.
	InputError string `json:"input_error,omitempty"`
}

// Stats summarizes the atlas contents.
type Stats struct {
	Total         int     `json:"total"`
	Class4        int     `json:"class_4"`
	Condensates   int     `json:"condensates"`
	Interesting   int     `json:"interesting"`
	MeanOverlap   float64 `json:"mean_overlap"`
	MeanMonodromy float64 `json:"mean_monodromy"`
}

// Store is the persistence contract for rule records.
type Store interface {
	// Upsert writes the record under its canonical rule key. The write is
	// atomic: concurrent upserts to the same key apply last-write-wins,
	// never a partial row.
	Upsert(ctx context.Context, rec Record) error

	// Get returns the record for the canonical rule string, or nil when the
	// rule has not been analyzed.
	Get(ctx context.Context, ruleStr string) (*Record, error)

	// List returns all records ordered by rule string.
	List(ctx context.Context) ([]Record, error)

	// ByPhase returns records whose fused phase matches.
	ByPhase(ctx context.Context, phase condensate.Phase) ([]Record, error)

	// ByClass returns records whose fused class matches.
	ByClass(ctx context.Context, class compress.WolframClass) ([]Record, error)

	// Goldilocks returns records whose harmonic overlap lies in [lo, hi],
	// ordered by overlap.
	Goldilocks(ctx context.Context, lo, hi float64) ([]Record, error)

	// Stats returns summary statistics over all records.
	Stats(ctx context.Context) (Stats, error)

	Close() error
}
