package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nvandessel/rulemap/internal/atlas"
	"github.com/nvandessel/rulemap/internal/compress"
	"github.com/nvandessel/rulemap/internal/condensate"
)

func newListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List analyzed rules in the atlas",
		Long: `List atlas records, optionally filtered.

Examples:
  rulemap list
  rulemap list --phase condensate
  rulemap list --class 4
  rulemap list --goldilocks`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			phase, _ := cmd.Flags().GetString("phase")
			class, _ := cmd.Flags().GetInt("class")
			goldilocks, _ := cmd.Flags().GetBool("goldilocks")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()
			var records []atlas.Record
			switch {
			case goldilocks:
				records, err = store.Goldilocks(ctx, cfg.Fusion.GoldilocksLow, cfg.Fusion.GoldilocksHigh)
			case phase != "":
				records, err = store.ByPhase(ctx, condensate.Phase(phase))
			case cmd.Flags().Changed("class"):
				records, err = store.ByClass(ctx, compress.WolframClass(class))
			default:
				records, err = store.List(ctx)
			}
			if err != nil {
				return err
			}

			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]any{
					"records": records,
					"count":   len(records),
				})
			}

			out := cmd.OutOrStdout()
			if len(records) == 0 {
				fmt.Fprintln(out, "No matching rules in the atlas.")
				fmt.Fprintln(out, "\nUse 'rulemap analyze' or 'rulemap scan' to populate it.")
				return nil
			}

			fmt.Fprintf(out, "Rules (%d):\n\n", len(records))
			for _, rec := range records {
				if rec.InputError != "" {
					fmt.Fprintf(out, "  %-16s input error: %s\n", rec.Rule, rec.InputError)
					continue
				}
				overlap := "     -"
				if rec.Spectral != nil && rec.Spectral.OverlapDefined {
					overlap = fmt.Sprintf("%6.3f", rec.Spectral.HarmonicOverlap)
				}
				mark := " "
				if rec.Interesting {
					mark = "*"
				}
				fmt.Fprintf(out, "%s %-16s class=%d phase=%-12s overlap=%s\n",
					mark, rec.Rule, int(rec.FinalClass), rec.FinalPhase, overlap)
			}
			return nil
		},
	}

	cmd.Flags().String("phase", "", "Filter by phase: particle, condensate, undetermined")
	cmd.Flags().Int("class", 0, "Filter by Wolfram class (1-4)")
	cmd.Flags().Bool("goldilocks", false, "Only rules inside the harmonic-overlap band")

	return cmd
}
