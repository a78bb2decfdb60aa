package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nvandessel/rulemap/internal/atlas"
	"github.com/nvandessel/rulemap/internal/condensate"
	"github.com/nvandessel/rulemap/internal/rule"
	"github.com/nvandessel/rulemap/internal/scan"
)

func newAnalyzeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze <rule>...",
		Short: "Analyze one or more rules and store the results",
		Long: `Run the full analyzer battery on the given rules and upsert the
fused records into the atlas.

Rules use B/S notation with digits 0-8, e.g. B3/S23 (Conway's Life).
Malformed rule strings are recorded as input errors, not fatal.

Examples:
  rulemap analyze B3/S23
  rulemap analyze B36/S23 B2/S --seed 7`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("seed") {
				seed, _ := cmd.Flags().GetUint64("seed")
				cfg.ApplySeed(seed)
			}

			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			agg, err := scan.New(cfg, store, newLogger(cfg))
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			var records []atlas.Record
			for _, s := range args {
				d, perr := rule.Parse(s)
				if perr != nil {
					if err := agg.RecordInputError(ctx, s, perr); err != nil {
						return err
					}
					records = append(records, atlas.Record{
						Rule:       s,
						FinalPhase: condensate.PhaseUndetermined,
						InputError: perr.Error(),
					})
					continue
				}
				rec, err := agg.AnalyzeAndStore(ctx, d)
				if err != nil {
					return err
				}
				records = append(records, rec)
			}

			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(records)
			}
			for _, rec := range records {
				printRecord(cmd, rec)
			}
			return nil
		},
	}

	cmd.Flags().Uint64("seed", 0, "Override all analyzer seeds")

	return cmd
}

func printRecord(cmd *cobra.Command, rec atlas.Record) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s\n", rec.Rule)

	if rec.InputError != "" {
		fmt.Fprintf(out, "  input error: %s\n\n", rec.InputError)
		return
	}

	fmt.Fprintf(out, "  class: %d  phase: %s", int(rec.FinalClass), rec.FinalPhase)
	if rec.Interesting {
		fmt.Fprintf(out, "  [interesting]")
	}
	fmt.Fprintln(out)

	if c := rec.Compression; c != nil {
		fmt.Fprintf(out, "  compression: signal=%s ratio=%.3f slope=%+.2e reward=%.3f\n",
			c.Signal, c.FinalRatio, c.Slope, c.IntrinsicReward)
	}
	if s := rec.Spectral; s != nil {
		if s.OverlapDefined {
			fmt.Fprintf(out, "  spectral: overlap=%.3f monodromy=%+.3f gap=%.3f type=%s\n",
				s.HarmonicOverlap, s.Monodromy, s.SpectralGap, s.SheafType)
		} else {
			fmt.Fprintf(out, "  spectral: overlap=undefined monodromy=%+.3f\n", s.Monodromy)
		}
	}
	if c := rec.Condensate; c != nil {
		if c.DensityDefined {
			fmt.Fprintf(out, "  condensate: phase=%s density=%.3f expansion=%.1f relax=%d\n",
				c.Phase, c.EquilibriumDensity, c.ExpansionFactor, c.RelaxationTime)
		} else {
			fmt.Fprintf(out, "  condensate: phase=%s\n", c.Phase)
		}
	}
	if t := rec.TPE; t != nil {
		fmt.Fprintf(out, "  balance: T=%.3f P=%.3f E=%.4f mode=%s\n",
			t.Toroidal, t.Poloidal, t.Emergence, t.Mode)
	}
	fmt.Fprintln(out)
}
