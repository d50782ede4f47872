package simulation_test

import (
	"math"
	"testing"

	"github.com/tissueworks/bioflux/internal/config"
	"github.com/tissueworks/bioflux/internal/engine"
	"github.com/tissueworks/bioflux/internal/geometry"
	"github.com/tissueworks/bioflux/internal/simulation"
)

// TestJunctionTransportConservesMass perturbs one cell of a junction-only
// cluster and checks that redistribution through the gap junctions moves
// ions between cells without creating or destroying any.
func TestJunctionTransportConservesMass(t *testing.T) {
	r := simulation.NewRunner(t)

	var before []float64
	res := r.Run(simulation.Scenario{
		Name: "gj-conservation",
		Mutate: func(cfg *config.Config) {
			quiet(cfg)
			cfg.Numerics.Steps = 200
			cfg.Numerics.Dt = 1e-2
		},
		SkipInit: true,
		Perturb: func(c *geometry.Cluster, st *engine.State) {
			for i := range st.ConcCell[0] {
				st.ConcCell[0][i] *= 1.5
			}
			before = simulation.CellTotals(c, st, len(st.ConcEnv))
		},
	})

	if res.SimErr != nil {
		t.Fatalf("sim: %v", res.SimErr)
	}

	after := simulation.CellTotals(res.Cluster, res.FinalState, len(res.FinalState.ConcEnv))
	for i := range before {
		if math.Abs(after[i]-before[i]) > 1e-9*math.Abs(before[i]) {
			t.Errorf("ion %d total drifted: %g -> %g", i, before[i], after[i])
		}
	}

	// The perturbed cell must have shed part of its excess to neighbors.
	kIdx := 1
	if res.FinalState.ConcCell[0][kIdx] >= 139.0*1.5 {
		t.Errorf("perturbed cell did not relax: K = %g", res.FinalState.ConcCell[0][kIdx])
	}
}

// TestJunctionGatingStaysBounded drives a transjunctional voltage spread
// and checks every junction's open fraction respects [MinOpen, 1].
func TestJunctionGatingStaysBounded(t *testing.T) {
	r := simulation.NewRunner(t)

	res := r.Run(simulation.Scenario{
		Name: "gj-gating-bounds",
		Mutate: func(cfg *config.Config) {
			quiet(cfg)
			cfg.Junctions.VoltageGated = true
			cfg.Numerics.Steps = 50
		},
		SkipInit: true,
		Perturb: func(c *geometry.Cluster, st *engine.State) {
			// A strong membrane charge asymmetry produces junction
			// voltages across the whole gating range.
			for mi := range st.QMem {
				if mi%3 == 0 {
					st.QMem[mi] = -5e-3
				}
				st.Vm[mi] = st.QMem[mi] / 0.05
			}
		},
	})

	if res.SimErr != nil {
		t.Fatalf("sim: %v", res.SimErr)
	}
	minOpen := res.Config.Junctions.MinOpen
	for ji, open := range res.FinalState.GJOpen {
		if open < minOpen || open > 1 {
			t.Errorf("junction %d open = %g outside [%g, 1]", ji, open, minOpen)
		}
	}
}
