package simulation

import (
	"github.com/tissueworks/bioflux/internal/config"
	"github.com/tissueworks/bioflux/internal/engine"
	"github.com/tissueworks/bioflux/internal/geometry"
	"github.com/tissueworks/bioflux/internal/store"
)

// Scenario defines one simulation experiment.
type Scenario struct {
	Name string

	// Mutate adjusts the default config before validation. Nil runs the
	// defaults unchanged.
	Mutate func(*config.Config)

	// SkipInit starts the sim phase directly from the unsettled baseline
	// state instead of running the init phase first.
	SkipInit bool

	// Perturb, when non-nil, edits the state the sim phase starts from
	// (after init, or the baseline when SkipInit is set).
	Perturb func(c *geometry.Cluster, st *engine.State)
}

// Result collects everything a scenario produced.
type Result struct {
	Config  *config.Config
	Cluster *geometry.Cluster
	Store   *store.Store
	RunID   int64

	// InitState is the settled state the sim phase started from; nil when
	// the scenario skipped the init phase.
	InitState *engine.State

	// FinalState is the last committed sim state, valid even on divergence.
	FinalState *engine.State

	// Reports are the sampled sim-phase observer reports.
	Reports []engine.Report

	// SimErr is the sim phase's terminal error, nil on normal completion.
	// Divergence scenarios inspect it rather than failing the run.
	SimErr error

	// SimStatus is the sim engine's final status.
	SimStatus engine.Status
}
