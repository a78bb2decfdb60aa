package scan

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/nvandessel/rulemap/internal/rule"
)

// Summary is the outcome of a batch scan: every dispatched rule lands in
// exactly one counter.
type Summary struct {
	Analyzed    int // fully or partially populated records persisted
	Interesting int // analyzed records flagged interesting
	InputErrors int // rules persisted as input-error records
	StoreErrors int // records that could not be persisted
	Skipped     int // rules not dispatched because the batch was cancelled
}

// ScanStrings parses each rule string and scans the valid ones; malformed
// strings are persisted as input-error records, never aborting the batch.
func (a *Aggregator) ScanStrings(ctx context.Context, ruleStrs []string) Summary {
	var sum Summary
	descriptors := make([]rule.Descriptor, 0, len(ruleStrs))
	for _, s := range ruleStrs {
		d, err := rule.Parse(s)
		if err != nil {
			a.logger.Warn("skipping malformed rule", "rule", s, "error", err)
			if perr := a.RecordInputError(ctx, s, err); perr != nil {
				a.logger.Error("could not persist input error", "rule", s, "error", perr)
				sum.StoreErrors++
			} else {
				sum.InputErrors++
			}
			continue
		}
		descriptors = append(descriptors, d)
	}
	batch := a.Scan(ctx, descriptors)
	sum.Analyzed = batch.Analyzed
	sum.Interesting = batch.Interesting
	sum.StoreErrors += batch.StoreErrors
	sum.Skipped = batch.Skipped
	return sum
}

// Scan analyzes every rule with a bounded worker pool. Each worker owns its
// grids and trajectories; only the store is shared, and it serializes
// same-key writes. Cancelling ctx stops dispatching new rules promptly but
// lets in-flight analyses finish and persist cleanly: workers upsert with a
// context detached from the cancellation.
func (a *Aggregator) Scan(ctx context.Context, rules []rule.Descriptor) Summary {
	workers := a.cfg.Scan.Workers
	if workers < 1 {
		workers = 1
	}

	var (
		mu  sync.Mutex
		sum Summary
	)
	persistCtx := context.WithoutCancel(ctx)

	var g errgroup.Group
	g.SetLimit(workers)
	for i, d := range rules {
		if ctx.Err() != nil {
			sum.Skipped = len(rules) - i
			break
		}
		g.Go(func() error {
			rec, err := a.AnalyzeAndStore(persistCtx, d)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				a.logger.Error("scan worker failed", "rule", d.String(), "error", err)
				sum.StoreErrors++
			case rec.InputError != "":
				sum.InputErrors++
			default:
				sum.Analyzed++
				if rec.Interesting {
					sum.Interesting++
				}
			}
			return nil
		})
	}
	_ = g.Wait() // workers never return errors; failures are counted above
	return sum
}
