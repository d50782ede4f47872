package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/tissueworks/bioflux/internal/config"
	"github.com/tissueworks/bioflux/internal/geometry"
	"github.com/tissueworks/bioflux/internal/logging"
	"github.com/tissueworks/bioflux/internal/store"
)

var version = "0.1.0-dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "bioflux",
		Short: "Bioelectric tissue simulator",
		Long: `bioflux simulates the bioelectric and biochemical state of a 2D cell
cluster: ion electrodiffusion through membrane channels and pumps,
gap-junction coupling, the extracellular environment, and an optional
gene/reaction network.

A run proceeds in phases: seed builds the cluster, init settles it to
electrochemical steady state, sim runs the transient simulation from
the settled state. Results persist to a SQLite run store and export to
CSV and plots.`,
	}

	// Global flags
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")
	rootCmd.PersistentFlags().StringP("config", "c", "", "Config file (YAML); defaults apply when empty")
	rootCmd.PersistentFlags().StringP("outdir", "o", ".bioflux", "Output directory for the run store and exports")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: info, debug, or trace (overrides config)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newSeedCmd(),
		newInitCmd(),
		newSimCmd(),
		newExportCmd(),
		newStatusCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig loads and validates the configuration selected by the
// persistent flags, with --log-level taking precedence over the file.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.Logging.Level = lvl
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// buildCluster constructs the cell cluster and environment grid from the
// world settings.
func buildCluster(cfg *config.Config) (*geometry.Cluster, error) {
	return geometry.Build(geometry.Params{
		CellRadius:    cfg.World.CellRadius,
		ClusterRadius: cfg.World.ClusterRadius,
		WorldSize:     cfg.World.WorldSize,
		GridN:         cfg.World.GridN,
		Thickness:     cfg.World.Thickness,
	})
}

// openStore opens the run store under the configured output directory.
func openStore(cmd *cobra.Command) (*store.Store, string, error) {
	outdir, _ := cmd.Flags().GetString("outdir")
	s, err := store.Open(outdir)
	if err != nil {
		return nil, "", err
	}
	return s, outdir, nil
}

func newRunLogger(cfg *config.Config) *slog.Logger {
	return logging.NewLogger(cfg.Logging.Level, os.Stderr)
}

// signalContext derives a context cancelled on SIGINT/SIGTERM, so a long
// engine run stops cleanly between steps.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	ch := make(chan os.Signal, 1)
	notifySignals(ch)
	go func() {
		select {
		case <-ch:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(ch)
	}()
	return ctx, cancel
}

// findOrCreateRun reuses the newest run with a matching config fingerprint
// so the init and sim phases of the same config land on one run record.
func findOrCreateRun(ctx context.Context, s *store.Store, cfg *config.Config, log *slog.Logger) (int64, error) {
	id, ok, err := s.LatestRun(ctx, cfg.Fingerprint())
	if err != nil {
		return 0, err
	}
	if ok {
		log.Debug("reusing existing run", "run_id", id)
		return id, nil
	}
	id, err = s.CreateRun(ctx, cfg)
	if err != nil {
		return 0, err
	}
	log.Debug("created run", "run_id", id)
	return id, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				json.NewEncoder(os.Stdout).Encode(map[string]string{"version": version})
			} else {
				fmt.Printf("bioflux version %s\n", version)
			}
		},
	}
}
