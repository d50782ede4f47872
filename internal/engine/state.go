package engine

import (
	"github.com/tissueworks/bioflux/internal/channel"
)

// Phase identifies what kind of run the engine performs.
type Phase string

const (
	// PhaseInit settles the cluster to electrochemical steady state with
	// the large quasi-static step.
	PhaseInit Phase = "init"

	// PhaseSim runs the transient simulation at the fine step.
	PhaseSim Phase = "sim"
)

// Status is the controller state. Terminal states are sticky: once reached,
// further Run calls return without stepping.
type Status int

const (
	StatusUninitialized Status = iota
	StatusStepping
	StatusConverged // init phase reached steady state
	StatusCompleted // sim phase finished its configured steps
	StatusDiverged
)

func (s Status) String() string {
	switch s {
	case StatusUninitialized:
		return "uninitialized"
	case StatusStepping:
		return "stepping"
	case StatusConverged:
		return "converged"
	case StatusCompleted:
		return "completed"
	case StatusDiverged:
		return "diverged"
	}
	return "unknown"
}

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusConverged || s == StatusCompleted || s == StatusDiverged
}

// State is one committed simulation state. Steps read from an immutable
// prior State and commit a fresh one, so a held pointer is never mutated.
type State struct {
	Step int     `json:"step"`
	Time float64 `json:"time"`

	// ConcCell holds per-cell concentration vectors [mol/m3], laid out as
	// the enabled ions followed by the network species.
	ConcCell [][]float64 `json:"conc_cell"`

	// ConcEnv holds per-ion environment grids [mol/m3], indexed
	// [ion][env node].
	ConcEnv [][]float64 `json:"conc_env"`

	// QMem is the membrane surface charge density [C/m2]; Vm derives
	// from it through the membrane capacitance.
	QMem []float64 `json:"q_mem"`

	// Vm is the membrane voltage [V] per membrane patch.
	Vm []float64 `json:"vm"`

	// Phi is the environment potential [V] per env node. The init phase
	// refreshes it from the Poisson solve every step; the sim phase keeps
	// whatever the resumed state carried (the settled init potential, or
	// zeros for a cold start) frozen as the Vm reference.
	Phi []float64 `json:"phi"`

	// Gates holds HH gating state per channel instance, aligned with the
	// instance's membrane list.
	Gates [][]channel.Gate `json:"gates"`

	// GJOpen is the junction open fraction per edge.
	GJOpen []float64 `json:"gj_open"`

	// Underflows counts reaction clamps over the whole run so far.
	Underflows int `json:"underflows"`
}

// Clone returns a deep copy.
func (s *State) Clone() *State {
	n := &State{
		Step:       s.Step,
		Time:       s.Time,
		Underflows: s.Underflows,
		ConcCell:   clone2(s.ConcCell),
		ConcEnv:    clone2(s.ConcEnv),
		QMem:       clone1(s.QMem),
		Vm:         clone1(s.Vm),
		Phi:        clone1(s.Phi),
		GJOpen:     clone1(s.GJOpen),
	}
	n.Gates = make([][]channel.Gate, len(s.Gates))
	for i, g := range s.Gates {
		n.Gates[i] = make([]channel.Gate, len(g))
		copy(n.Gates[i], g)
	}
	return n
}

func clone1(xs []float64) []float64 {
	out := make([]float64, len(xs))
	copy(out, xs)
	return out
}

func clone2(xs [][]float64) [][]float64 {
	out := make([][]float64, len(xs))
	for i, x := range xs {
		out[i] = clone1(x)
	}
	return out
}

// VmStats returns mean, min, and max membrane voltage [V].
func (s *State) VmStats() (mean, min, max float64) {
	if len(s.Vm) == 0 {
		return 0, 0, 0
	}
	min, max = s.Vm[0], s.Vm[0]
	var sum float64
	for _, v := range s.Vm {
		sum += v
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return sum / float64(len(s.Vm)), min, max
}
