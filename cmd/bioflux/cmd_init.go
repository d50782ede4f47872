package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tissueworks/bioflux/internal/engine"
	"github.com/tissueworks/bioflux/internal/logging"
)

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Settle the cluster to electrochemical steady state",
		Long: `Init runs the quasi-static settling phase: the cluster steps with the
coarse init timestep and the environment field solve until the state
change stays below tolerance. The converged state is persisted and
becomes the starting point of the sim phase.

An interrupted run saves its last committed state; re-running init
starts the settling over from the baseline.`,
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
			trace := logging.NewStepTraceLogger(outdir, cfg.Logging.Level)
			defer trace.Close()

			ctx, cancel := signalContext(context.Background())
			defer cancel()

			runID, err := findOrCreateRun(ctx, s, cfg, log)
			if err != nil {
				return err
			}

			eng, err := engine.New(cfg, cluster, engine.PhaseInit, log, engine.WithTrace(trace))
			if err != nil {
				return err
			}

			runErr := eng.Run(ctx)
			st := eng.State()
			if err := s.SaveState(context.Background(), runID, engine.PhaseInit, eng.Status(), st); err != nil {
				return err
			}

			if errors.Is(runErr, context.Canceled) {
				log.Warn("init interrupted", "step", st.Step)
				return fmt.Errorf("init interrupted at step %d (state saved)", st.Step)
			}
			if runErr != nil {
				return fmt.Errorf("init failed: %w", runErr)
			}

			mean, min, max := st.VmStats()
			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				return json.NewEncoder(os.Stdout).Encode(map[string]any{
					"run_id":     runID,
					"status":     eng.Status().String(),
					"steps":      st.Step,
					"time_s":     st.Time,
					"vm_mean_mv": mean * 1e3,
					"vm_min_mv":  min * 1e3,
					"vm_max_mv":  max * 1e3,
				})
			}
			fmt.Printf("Run %d converged after %d steps (%.3g s simulated)\n", runID, st.Step, st.Time)
			fmt.Printf("  Vm mean %.3f mV  (min %.3f, max %.3f)\n", mean*1e3, min*1e3, max*1e3)
			return nil
		},
	}
}
