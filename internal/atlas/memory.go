package atlas

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/nvandessel/rulemap/internal/compress"
	"github.com/nvandessel/rulemap/internal/condensate"
	"github.com/nvandessel/rulemap/internal/rule"
)

// MemoryStore implements Store in memory. It is primarily for tests and
// ephemeral scans; semantics match SQLiteStore.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

// Upsert stores rec under its canonical rule key, replacing any previous
// record. As with SQLiteStore, input-error records keep their raw key and
// any other unparseable key is rejected.
func (s *MemoryStore) Upsert(_ context.Context, rec Record) error {
	key := rec.Rule
	if d, err := rule.Parse(rec.Rule); err == nil {
		key = d.String()
		rec.Rule = key
	} else if rec.InputError == "" {
		return fmt.Errorf("upsert %q: %w", rec.Rule, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key] = rec
	return nil
}

// Get returns the record for ruleStr, or nil when absent.
func (s *MemoryStore) Get(_ context.Context, ruleStr string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[ruleStr]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *MemoryStore) filter(keep func(Record) bool) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Record
	for _, rec := range s.records {
		if keep(rec) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rule < out[j].Rule })
	return out
}

// List returns all records ordered by rule string.
func (s *MemoryStore) List(_ context.Context) ([]Record, error) {
	return s.filter(func(Record) bool { return true }), nil
}

// ByPhase returns records whose fused phase matches.
func (s *MemoryStore) ByPhase(_ context.Context, phase condensate.Phase) ([]Record, error) {
	return s.filter(func(r Record) bool { return r.FinalPhase == phase }), nil
}

// ByClass returns records whose fused class matches.
func (s *MemoryStore) ByClass(_ context.Context, class compress.WolframClass) ([]Record, error) {
	return s.filter(func(r Record) bool { return r.FinalClass == class }), nil
}

// Goldilocks returns records with a defined harmonic overlap in [lo, hi].
func (s *MemoryStore) Goldilocks(_ context.Context, lo, hi float64) ([]Record, error) {
	out := s.filter(func(r Record) bool {
		return r.Spectral != nil && r.Spectral.OverlapDefined &&
			r.Spectral.HarmonicOverlap >= lo && r.Spectral.HarmonicOverlap <= hi
	})
	sort.Slice(out, func(i, j int) bool {
		oi, oj := out[i].Spectral.HarmonicOverlap, out[j].Spectral.HarmonicOverlap
		if oi != oj {
			return oi < oj
		}
		return out[i].Rule < out[j].Rule
	})
	return out, nil
}

// Stats returns summary statistics over all records.
func (s *MemoryStore) Stats(_ context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var st Stats
	var overlapSum, monoSum float64
	var overlapN, monoN int
	for _, rec := range s.records {
		st.Total++
		if rec.FinalClass == compress.ClassComplex {
			st.Class4++
		}
		if rec.Condensate != nil && rec.Condensate.IsCondensate {
			st.Condensates++
		}
		if rec.Interesting {
			st.Interesting++
		}
		if rec.Spectral != nil {
			if rec.Spectral.OverlapDefined {
				overlapSum += rec.Spectral.HarmonicOverlap
				overlapN++
			}
			monoSum += rec.Spectral.Monodromy
			monoN++
		}
	}
	if overlapN > 0 {
		st.MeanOverlap = overlapSum / float64(overlapN)
	}
	if monoN > 0 {
		st.MeanMonodromy = monoSum / float64(monoN)
	}
	return st, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }
