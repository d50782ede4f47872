package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Build the cell cluster and register the run",
		Long: `Seed validates the configuration, builds the hexagonal cell cluster and
environment grid it describes, and registers a run in the store. It is a
dry run of the geometry: init and sim rebuild the same cluster from the
stored config.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cluster, err := buildCluster(cfg)
			if err != nil {
				return fmt.Errorf("failed to build cluster: %w", err)
			}

			s, outdir, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			log := newRunLogger(cfg)
			runID, err := findOrCreateRun(context.Background(), s, cfg, log)
			if err != nil {
				return err
			}

			var boundary int
			for mi := range cluster.Mems {
				if cluster.Mems[mi].Boundary {
					boundary++
				}
			}

			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				return json.NewEncoder(os.Stdout).Encode(map[string]any{
					"run_id":        runID,
					"fingerprint":   cfg.Fingerprint(),
					"cells":         len(cluster.Cells),
					"membranes":     len(cluster.Mems),
					"boundary_mems": boundary,
					"junctions":     len(cluster.Junctions),
					"env_nodes":     len(cluster.Env),
					"store":         outdir,
				})
			}
			fmt.Printf("Run %d seeded (fingerprint %.12s)\n", runID, cfg.Fingerprint())
			fmt.Printf("  cells:      %d\n", len(cluster.Cells))
			fmt.Printf("  membranes:  %d (%d boundary)\n", len(cluster.Mems), boundary)
			fmt.Printf("  junctions:  %d\n", len(cluster.Junctions))
			fmt.Printf("  env nodes:  %d\n", len(cluster.Env))
			return nil
		},
	}
}
