package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tissueworks/bioflux/internal/engine"
	"github.com/tissueworks/bioflux/internal/export"
	"github.com/tissueworks/bioflux/internal/logging"
)

func newSimCmd() *cobra.Command {
	var skipInit bool

	cmd := &cobra.Command{
		Use:   "sim",
		Short: "Run the transient simulation",
		Long: `Sim runs the fine-timestep transient phase from the settled state saved
by init, matched through the config fingerprint. The final state is
persisted, and the sampled Vm trace is written to the output directory
as CSV and plot.

With --skip-init the simulation starts from the unsettled baseline
instead, which is mainly useful for quick perturbation studies.`,
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

			opts := []engine.Option{engine.WithTrace(trace)}
			if !skipInit {
				st, status, err := s.LoadState(context.Background(), runID, engine.PhaseInit)
				if err != nil {
					return err
				}
				if status != engine.StatusConverged.String() {
					return fmt.Errorf("run %d init status is %q, not converged; re-run init", runID, status)
				}
				opts = append(opts, engine.WithState(st))
			}

			var reports []engine.Report
			opts = append(opts, engine.WithObserver(func(r engine.Report) {
				reports = append(reports, r)
			}))

			eng, err := engine.New(cfg, cluster, engine.PhaseSim, log, opts...)
			if err != nil {
				return err
			}

			runErr := eng.Run(ctx)
			st := eng.State()
			if err := s.SaveState(context.Background(), runID, engine.PhaseSim, eng.Status(), st); err != nil {
				return err
			}

			if len(reports) > 0 {
				tracePath := filepath.Join(outdir, "trace.csv")
				if err := export.WriteFile(tracePath, func(w io.Writer) error {
					return export.WriteTraceCSV(w, reports)
				}); err != nil {
					log.Warn("failed to write trace CSV", "error", err)
				}
				if err := export.PlotVmTrace(filepath.Join(outdir, "vm_trace.png"), reports); err != nil {
					log.Warn("failed to plot Vm trace", "error", err)
				}
			}

			if errors.Is(runErr, context.Canceled) {
				log.Warn("sim interrupted", "step", st.Step)
				return fmt.Errorf("sim interrupted at step %d (state saved)", st.Step)
			}
			if runErr != nil {
				return fmt.Errorf("sim failed: %w", runErr)
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
					"underflows": st.Underflows,
				})
			}
			fmt.Printf("Run %d completed %d steps (%.3g s simulated)\n", runID, st.Step, st.Time)
			fmt.Printf("  Vm mean %.3f mV  (min %.3f, max %.3f)\n", mean*1e3, min*1e3, max*1e3)
			if st.Underflows > 0 {
				fmt.Printf("  reaction underflow clamps: %d\n", st.Underflows)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&skipInit, "skip-init", false, "Start from the unsettled baseline instead of the init state")
	return cmd
}
