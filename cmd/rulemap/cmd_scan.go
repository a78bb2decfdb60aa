package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nvandessel/rulemap/internal/logging"
	"github.com/nvandessel/rulemap/internal/rule"
	"github.com/nvandessel/rulemap/internal/scan"
)

func newScanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan a batch of rules and populate the atlas",
		Long: `Analyze many rules with a bounded worker pool and upsert every
result into the atlas. Re-scanning a rule overwrites its record, so
interrupted scans can simply be rerun.

Modes:
  quick       random rules with Life-like digit probabilities (default)
  exhaustive  enumerate a contiguous region of the 2^18 rule space
  condensate  random rules biased toward low-count birth/survival

Examples:
  rulemap scan --limit 200
  rulemap scan --mode exhaustive --start 0 --limit 1000
  rulemap scan --mode condensate --limit 50 --seed 7 --workers 8`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			mode, _ := cmd.Flags().GetString("mode")
			limit, _ := cmd.Flags().GetInt("limit")
			start, _ := cmd.Flags().GetInt("start")
			seed, _ := cmd.Flags().GetUint64("seed")

			if limit <= 0 {
				return fmt.Errorf("limit %d: must be positive", limit)
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("workers") {
				workers, _ := cmd.Flags().GetInt("workers")
				cfg.Scan.Workers = workers
			}
			if cmd.Flags().Changed("seed") {
				cfg.ApplySeed(seed)
			}

			rules, err := selectRules(mode, start, limit, seed)
			if err != nil {
				return err
			}

			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			logger := newLogger(cfg)
			tracer := logging.NewTraceLogger(".rulemap", cfg.Logging.Level)
			defer tracer.Close()

			agg, err := scan.New(cfg, store, logger)
			if err != nil {
				return err
			}

			logger.Info("scan starting",
				"mode", mode, "rules", len(rules), "workers", cfg.Scan.Workers)
			sum := agg.Scan(cmd.Context(), rules)
			tracer.Log(logging.ScanEvent{
				Event:       "scan",
				Mode:        mode,
				Rules:       len(rules),
				Analyzed:    sum.Analyzed,
				Interesting: sum.Interesting,
				InputErrors: sum.InputErrors,
				StoreErrors: sum.StoreErrors,
				Skipped:     sum.Skipped,
			})

			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]any{
					"mode":         mode,
					"analyzed":     sum.Analyzed,
					"interesting":  sum.Interesting,
					"input_errors": sum.InputErrors,
					"store_errors": sum.StoreErrors,
					"skipped":      sum.Skipped,
				})
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Scan complete (%s mode):\n", mode)
			fmt.Fprintf(out, "  analyzed:    %d\n", sum.Analyzed)
			fmt.Fprintf(out, "  interesting: %d\n", sum.Interesting)
			if sum.StoreErrors > 0 {
				fmt.Fprintf(out, "  store errors: %d\n", sum.StoreErrors)
			}
			if sum.Skipped > 0 {
				fmt.Fprintf(out, "  skipped (cancelled): %d\n", sum.Skipped)
			}
			return nil
		},
	}

	cmd.Flags().String("mode", "quick", "Scan mode: quick, exhaustive, condensate")
	cmd.Flags().Int("limit", 100, "Number of rules to scan")
	cmd.Flags().Int("start", 0, "Region start index (exhaustive mode)")
	cmd.Flags().Uint64("seed", 42, "Rule generation seed (also re-seeds analyzers when set)")
	cmd.Flags().Int("workers", 0, "Concurrent analyses (0 = config default)")

	return cmd
}

// selectRules builds the scan batch for a mode. Random modes deduplicate
// within the batch so limit means distinct rules.
func selectRules(mode string, start, limit int, seed uint64) ([]rule.Descriptor, error) {
	switch mode {
	case "exhaustive":
		if start < 0 || start >= rule.SpaceSize {
			return nil, fmt.Errorf("start %d: must be in [0, %d)", start, rule.SpaceSize)
		}
		if limit > rule.SpaceSize {
			limit = rule.SpaceSize
		}
		return rule.EnumerateRegion(start, limit), nil

	case "quick", "condensate":
		rng := rule.NewSource(seed)
		seen := make(map[string]bool, limit)
		rules := make([]rule.Descriptor, 0, limit)
		for attempts := 0; len(rules) < limit && attempts < limit*100; attempts++ {
			var d rule.Descriptor
			if mode == "condensate" {
				d = rule.RandomCondensate(rng, 0.3, 0.4)
			} else {
				d = rule.Random(rng, 0.25, 0.35)
			}
			key := d.String()
			if seen[key] {
				continue
			}
			seen[key] = true
			rules = append(rules, d)
		}
		return rules, nil

	default:
		return nil, fmt.Errorf("mode %q: must be quick, exhaustive, or condensate", mode)
	}
}
