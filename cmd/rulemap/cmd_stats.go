package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarize the atlas contents",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			stats, err := store.Stats(cmd.Context())
			if err != nil {
				return err
			}

			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(stats)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Atlas statistics:\n")
			fmt.Fprintf(out, "  rules analyzed:  %d\n", stats.Total)
			fmt.Fprintf(out, "  class 4:         %d\n", stats.Class4)
			fmt.Fprintf(out, "  condensates:     %d\n", stats.Condensates)
			fmt.Fprintf(out, "  interesting:     %d\n", stats.Interesting)
			if stats.Total > 0 {
				fmt.Fprintf(out, "  mean overlap:    %.3f\n", stats.MeanOverlap)
				fmt.Fprintf(out, "  mean monodromy:  %+.3f\n", stats.MeanMonodromy)
			}
			return nil
		},
	}
}
