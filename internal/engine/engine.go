// Package engine owns the simulation state vector and the time-stepping
// controller. Each step reads an immutable snapshot of the prior state,
// evaluates the membrane, junction, environment, field, and reaction
// components into a fresh accumulator, and commits the result atomically.
// Any component failure moves the controller to a sticky Diverged status
// with the last valid state preserved.
package engine

import (
	"fmt"
	"log/slog"

	"github.com/tissueworks/bioflux/internal/channel"
	"github.com/tissueworks/bioflux/internal/config"
	"github.com/tissueworks/bioflux/internal/field"
	"github.com/tissueworks/bioflux/internal/geometry"
	"github.com/tissueworks/bioflux/internal/ion"
	"github.com/tissueworks/bioflux/internal/junction"
	"github.com/tissueworks/bioflux/internal/logging"
	"github.com/tissueworks/bioflux/internal/reaction"
)

// Report is the per-step summary delivered to the observer.
type Report struct {
	Step       int
	Phase      Phase
	Time       float64
	VmMean     float64 // [V]
	VmMin      float64
	VmMax      float64
	DeltaNorm  float64 // mean per-entry |change| of vm and cell concs
	Underflows int     // reaction clamps this step
}

// Option configures an Engine.
type Option func(*Engine)

// WithObserver registers a per-sample report callback. Reports are
// delivered every Numerics.SampleEvery steps and on the final step.
func WithObserver(fn func(Report)) Option {
	return func(e *Engine) { e.observer = fn }
}

// WithTrace attaches a step trace logger.
func WithTrace(tl *logging.StepTraceLogger) Option {
	return func(e *Engine) { e.trace = tl }
}

// WithState resumes from a previously committed state (the init-to-sim
// phase handoff). The state must come from the same config and cluster.
func WithState(st *State) Option {
	return func(e *Engine) { e.resume = st }
}

// Engine is the time-stepping controller for one phase of one run.
type Engine struct {
	cfg     *config.Config
	cluster *geometry.Cluster
	log     *slog.Logger
	trace   *logging.StepTraceLogger

	phase  Phase
	status Status
	state  *State
	resume *State
	steady int
	runErr error

	observer func(Report)

	species  []ion.Species
	channels []*channel.Channel
	pumps    []*channel.Pump
	gating   junction.Gating
	net      *reaction.Network
	poisson  *field.PoissonSolver
	dt       float64
}

// New builds an engine for the given validated config and cluster.
func New(cfg *config.Config, cluster *geometry.Cluster, phase Phase, log *slog.Logger, opts ...Option) (*Engine, error) {
	if err := cluster.Validate(); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	e := &Engine{
		cfg:     cfg,
		cluster: cluster,
		log:     log,
		phase:   phase,
		status:  StatusUninitialized,
	}
	for _, opt := range opts {
		opt(e)
	}

	e.dt = cfg.Numerics.Dt
	if phase == PhaseInit {
		e.dt = cfg.Numerics.InitDt
	}

	for _, name := range cfg.Ions {
		sp, err := ion.ByName(name)
		if err != nil {
			return nil, fmt.Errorf("engine: %w", err)
		}
		e.species = append(e.species, sp)
	}

	if err := e.buildChannels(); err != nil {
		return nil, err
	}
	if err := e.buildPumps(); err != nil {
		return nil, err
	}

	e.gating = junction.Gating{
		VoltageGated: cfg.Junctions.VoltageGated,
		VThresh:      cfg.Junctions.VThresh,
		VGrad:        cfg.Junctions.VGrad,
		MinOpen:      cfg.Junctions.MinOpen,
	}

	net, err := reaction.Compile(cfg.Network, cfg.Ions)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	e.net = net

	if phase == PhaseInit {
		e.poisson, err = field.NewPoissonSolver(cluster)
		if err != nil {
			return nil, fmt.Errorf("engine: %w", err)
		}
	}

	if e.resume != nil {
		if err := e.checkResume(e.resume); err != nil {
			return nil, err
		}
		e.state = e.resume.Clone()
		e.state.Step = 0
		e.state.Time = 0
	} else {
		e.state = e.initialState()
	}
	return e, nil
}

// ionIndex returns the enabled-set index for the species name.
func (e *Engine) ionIndex(name string) (ion.Index, error) {
	for i, name2 := range e.cfg.Ions {
		if name2 == name {
			return ion.Index(i), nil
		}
	}
	return 0, fmt.Errorf("engine: ion %q is not enabled", name)
}

// targetMems resolves a channel/pump placement selector.
func (e *Engine) targetMems(target string) []int {
	var out []int
	for mi := range e.cluster.Mems {
		m := &e.cluster.Mems[mi]
		switch target {
		case "boundary":
			if !m.Boundary {
				continue
			}
		case "interior":
			if m.Junction == geometry.None {
				continue
			}
		}
		out = append(out, mi)
	}
	return out
}

func (e *Engine) buildChannels() error {
	for _, cc := range e.cfg.Channels {
		kind, err := channel.ParseKind(cc.Kind)
		if err != nil {
			return fmt.Errorf("engine: %w", err)
		}
		idx, err := e.ionIndex(kind.Ion())
		if err != nil {
			return err
		}
		e.channels = append(e.channels, &channel.Channel{
			Kind: kind,
			Ion:  idx,
			DMem: cc.Strength * e.species[idx].DMem,
			Mems: e.targetMems(cc.Target),
		})
	}
	return nil
}

func (e *Engine) buildPumps() error {
	for _, pc := range e.cfg.Pumps {
		kind, err := channel.ParsePumpKind(pc.Kind)
		if err != nil {
			return fmt.Errorf("engine: %w", err)
		}
		p := &channel.Pump{
			Kind:    kind,
			RateMax: pc.RateMax,
			Mems:    e.targetMems(pc.Target),
		}
		switch kind {
		case channel.PumpNaK:
			if p.IonA, err = e.ionIndex("Na"); err != nil {
				return err
			}
			if p.IonB, err = e.ionIndex("K"); err != nil {
				return err
			}
		case channel.PumpCa:
			if p.IonA, err = e.ionIndex("Ca"); err != nil {
				return err
			}
		}
		e.pumps = append(e.pumps, p)
	}
	return nil
}

// initialState builds the pre-settling state: baseline concentrations
// everywhere, zero membrane charge, gates at their zero-voltage steady
// state, junctions at their zero-voltage open fraction.
func (e *Engine) initialState() *State {
	c := e.cluster
	nIons := len(e.species)
	netInit := reaction.InitConcs(e.cfg.Network)

	st := &State{
		ConcCell: make([][]float64, len(c.Cells)),
		ConcEnv:  make([][]float64, nIons),
		QMem:     make([]float64, len(c.Mems)),
		Vm:       make([]float64, len(c.Mems)),
		Phi:      make([]float64, len(c.Env)),
		GJOpen:   make([]float64, len(c.Junctions)),
	}
	for ci := range c.Cells {
		vec := make([]float64, nIons+len(netInit))
		for i, sp := range e.species {
			vec[i] = sp.CellConc
		}
		copy(vec[nIons:], netInit)
		st.ConcCell[ci] = vec
	}
	for i, sp := range e.species {
		grid := make([]float64, len(c.Env))
		for n := range grid {
			grid[n] = sp.EnvConc
		}
		st.ConcEnv[i] = grid
	}
	for ji := range st.GJOpen {
		st.GJOpen[ji] = e.gating.Open(0)
	}
	st.Gates = make([][]channel.Gate, len(e.channels))
	for i, ch := range e.channels {
		gates := make([]channel.Gate, len(ch.Mems))
		for g := range gates {
			gates[g] = ch.Kind.InitGate(0)
		}
		st.Gates[i] = gates
	}
	return st
}

// checkResume verifies a persisted state matches this engine's shape.
func (e *Engine) checkResume(st *State) error {
	c := e.cluster
	if len(st.ConcCell) != len(c.Cells) ||
		len(st.Vm) != len(c.Mems) ||
		len(st.QMem) != len(c.Mems) ||
		len(st.GJOpen) != len(c.Junctions) ||
		len(st.ConcEnv) != len(e.species) ||
		len(st.Gates) != len(e.channels) {
		return fmt.Errorf("engine: resumed state does not match cluster/config shape")
	}
	for i := range st.ConcEnv {
		if len(st.ConcEnv[i]) != len(c.Env) {
			return fmt.Errorf("engine: resumed state env grid mismatch")
		}
	}
	return nil
}

// Status returns the controller status.
func (e *Engine) Status() Status { return e.status }

// State returns the last committed state. Never nil after New.
func (e *Engine) State() *State { return e.state }

// Err returns the terminal error, if the engine diverged.
func (e *Engine) Err() error { return e.runErr }
