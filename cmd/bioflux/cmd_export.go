package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tissueworks/bioflux/internal/engine"
	"github.com/tissueworks/bioflux/internal/export"
)

func newExportCmd() *cobra.Command {
	var (
		runID int64
		phase string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a stored phase state to CSV tables and plots",
		Long: `Export renders a persisted phase state into the output directory: a
per-cell table (position, voltage, concentrations), a per-node
environment table, and one concentration heatmap per ion.

The run is selected by --run, or by the fingerprint of the current
config when --run is not given. The cluster is rebuilt from the config
the run was created with, so exports stay valid after config edits.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			s, outdir, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			if runID == 0 {
				cfg, err := loadConfig(cmd)
				if err != nil {
					return err
				}
				id, ok, err := s.LatestRun(ctx, cfg.Fingerprint())
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("no run matches the current config; seed and run it first, or pass --run")
				}
				runID = id
			}

			cfg, err := s.LoadConfig(ctx, runID)
			if err != nil {
				return err
			}
			cluster, err := buildCluster(cfg)
			if err != nil {
				return fmt.Errorf("failed to build cluster: %w", err)
			}

			if phase != string(engine.PhaseInit) && phase != string(engine.PhaseSim) {
				return fmt.Errorf("invalid phase %q (valid: init, sim)", phase)
			}
			st, status, err := s.LoadState(ctx, runID, engine.Phase(phase))
			if err != nil {
				return err
			}

			var netSpecies []string
			for _, sp := range cfg.Network.Species {
				netSpecies = append(netSpecies, sp.Name)
			}

			var written []string
			write := func(name string, fn func(io.Writer) error) error {
				path := filepath.Join(outdir, name)
				if err := export.WriteFile(path, fn); err != nil {
					return err
				}
				written = append(written, path)
				return nil
			}

			if err := write("cells.csv", func(w io.Writer) error {
				return export.WriteCellCSV(w, cluster, st, cfg.Ions, netSpecies)
			}); err != nil {
				return err
			}
			if err := write("env.csv", func(w io.Writer) error {
				return export.WriteEnvCSV(w, cluster, st, cfg.Ions)
			}); err != nil {
				return err
			}
			cellPlot := filepath.Join(outdir, "cells_vm.png")
			if err := export.PlotCellVm(cellPlot, cluster, st); err != nil {
				return err
			}
			written = append(written, cellPlot)
			for i, name := range cfg.Ions {
				path := filepath.Join(outdir, fmt.Sprintf("env_%s.png", name))
				if err := export.PlotEnvHeatmap(path, name, cluster, st, i); err != nil {
					return err
				}
				written = append(written, path)
			}

			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				return json.NewEncoder(os.Stdout).Encode(map[string]any{
					"run_id": runID,
					"phase":  phase,
					"status": status,
					"step":   st.Step,
					"files":  written,
				})
			}
			fmt.Printf("Exported run %d %s state (status %s, step %d):\n", runID, phase, status, st.Step)
			for _, f := range written {
				fmt.Printf("  %s\n", f)
			}
			return nil
		},
	}

	cmd.Flags().Int64Var(&runID, "run", 0, "Run id to export (default: newest run matching the config)")
	cmd.Flags().StringVar(&phase, "phase", string(engine.PhaseSim), "Phase state to export: init or sim")
	return cmd
}
