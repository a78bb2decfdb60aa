package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/nvandessel/rulemap/internal/atlas"
	"github.com/nvandessel/rulemap/internal/config"
	"github.com/nvandessel/rulemap/internal/logging"
)

var version = "0.1.0-dev"

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "rulemap",
		Short: "Rule-space phase analyzer for 2D outer-totalistic cellular automata",
		Long: `rulemap classifies cellular automaton rules by running several
independent analyses on their trajectories:

  compression flow   Wolfram class and activity signal from zstd ratio curves
  spectral           harmonic overlap and monodromy of the final configuration
  condensate         particle vs condensate phase from multi-density runs
  expansion balance  toroidal/poloidal tendency and emergence score

Results are fused per rule and persisted in a local SQLite atlas.`,
	}

	// Global flags
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")
	rootCmd.PersistentFlags().String("config", "", "Config file path (YAML)")
	rootCmd.PersistentFlags().String("atlas", "", "Atlas database path (overrides config)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: info, debug, trace (overrides config)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newAnalyzeCmd(),
		newScanCmd(),
		newListCmd(),
		newStatsCmd(),
		newExportCmd(),
		newImportCmd(),
	)

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]string{"version": version})
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "rulemap version %s\n", version)
			}
		},
	}
}

// loadConfig resolves the effective configuration for a command invocation:
// config file (if any), then flag overrides.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}

	if atlasPath, _ := cmd.Flags().GetString("atlas"); atlasPath != "" {
		cfg.Scan.AtlasPath = atlasPath
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}

	return cfg, nil
}

func newLogger(cfg config.Config) *slog.Logger {
	return logging.NewLogger(cfg.Logging.Level, os.Stderr)
}

// openStore opens the SQLite atlas at the configured path.
func openStore(cfg config.Config) (atlas.Store, error) {
	store, err := atlas.NewSQLiteStore(cfg.Scan.AtlasPath)
	if err != nil {
		return nil, fmt.Errorf("open atlas %s: %w", cfg.Scan.AtlasPath, err)
	}
	return store, nil
}
