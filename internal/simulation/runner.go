package simulation

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/tissueworks/bioflux/internal/config"
	"github.com/tissueworks/bioflux/internal/engine"
	"github.com/tissueworks/bioflux/internal/geometry"
	"github.com/tissueworks/bioflux/internal/store"
)

// Runner executes scenarios against a real engine and an isolated SQLite
// run store.
type Runner struct {
	t     *testing.T
	store *store.Store
	log   *slog.Logger
}

// NewRunner creates a runner with a per-test store under t.TempDir().
func NewRunner(t *testing.T) *Runner {
	t.Helper()
	s, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("NewRunner: failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	return &Runner{
		t:     t,
		store: s,
		log:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// Run executes the scenario's init/sim sequence and returns the collected
// results. Setup errors fail the test; a sim-phase divergence is reported
// through Result.SimErr so scenarios can assert on it.
func (r *Runner) Run(sc Scenario) Result {
	r.t.Helper()
	ctx := context.Background()

	cfg := config.Default()
	if sc.Mutate != nil {
		sc.Mutate(cfg)
	}
	if err := cfg.Validate(); err != nil {
		r.t.Fatalf("scenario %q: config: %v", sc.Name, err)
	}

	cluster, err := geometry.Build(geometry.Params{
		CellRadius:    cfg.World.CellRadius,
		ClusterRadius: cfg.World.ClusterRadius,
		WorldSize:     cfg.World.WorldSize,
		GridN:         cfg.World.GridN,
		Thickness:     cfg.World.Thickness,
	})
	if err != nil {
		r.t.Fatalf("scenario %q: geometry: %v", sc.Name, err)
	}

	runID, err := r.store.CreateRun(ctx, cfg)
	if err != nil {
		r.t.Fatalf("scenario %q: create run: %v", sc.Name, err)
	}

	res := Result{
		Config:  cfg,
		Cluster: cluster,
		Store:   r.store,
		RunID:   runID,
	}

	var simOpts []engine.Option
	if !sc.SkipInit {
		settle, err := engine.New(cfg, cluster, engine.PhaseInit, r.log)
		if err != nil {
			r.t.Fatalf("scenario %q: init engine: %v", sc.Name, err)
		}
		if err := settle.Run(ctx); err != nil {
			r.t.Fatalf("scenario %q: init did not settle: %v", sc.Name, err)
		}
		res.InitState = settle.State()
		if err := r.store.SaveState(ctx, runID, engine.PhaseInit, settle.Status(), res.InitState); err != nil {
			r.t.Fatalf("scenario %q: save init state: %v", sc.Name, err)
		}
		simOpts = append(simOpts, engine.WithState(res.InitState))
	}

	simOpts = append(simOpts, engine.WithObserver(func(rep engine.Report) {
		res.Reports = append(res.Reports, rep)
	}))

	sim, err := engine.New(cfg, cluster, engine.PhaseSim, r.log, simOpts...)
	if err != nil {
		r.t.Fatalf("scenario %q: sim engine: %v", sc.Name, err)
	}
	if sc.Perturb != nil {
		sc.Perturb(cluster, sim.State())
	}

	res.SimErr = sim.Run(ctx)
	res.SimStatus = sim.Status()
	res.FinalState = sim.State()

	if err := r.store.SaveState(ctx, runID, engine.PhaseSim, sim.Status(), res.FinalState); err != nil {
		r.t.Fatalf("scenario %q: save sim state: %v", sc.Name, err)
	}
	return res
}

// CellTotals sums each ion over all cells in moles.
func CellTotals(c *geometry.Cluster, st *engine.State, nIons int) []float64 {
	totals := make([]float64, nIons)
	for ci := range st.ConcCell {
		vol := c.Cells[ci].Volume
		for i := 0; i < nIons; i++ {
			totals[i] += st.ConcCell[ci][i] * vol
		}
	}
	return totals
}
