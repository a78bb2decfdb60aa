package atlas

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
)

// Export writes every record as a JSON array, ordered by rule string, for
// downstream plotting and reporting.
func Export(ctx context.Context, s Store, w io.Writer) error {
	records, err := s.List(ctx)
	if err != nil {
		return fmt.Errorf("export atlas: %w", err)
	}
	if records == nil {
		records = []Record{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return fmt.Errorf("export atlas: %w", err)
	}
	return nil
}

// Import reads a JSON array of records (as produced by Export) and upserts
// each into the store. Returns the number of records imported.
func Import(ctx context.Context, s Store, r io.Reader) (int, error) {
	var records []Record
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return 0, fmt.Errorf("import atlas: %w", err)
	}
	for i, rec := range records {
		if rec.Rule == "" {
			return i, fmt.Errorf("import atlas: record %d has no rule key", i)
		}
		if err := s.Upsert(ctx, rec); err != nil {
			return i, fmt.Errorf("import atlas: %w", err)
		}
	}
	return len(records), nil
}
