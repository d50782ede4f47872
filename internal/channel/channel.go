// Package channel implements the membrane channel and pump models: the
// Hodgkin-Huxley-style gating kinetics of voltage-gated channels, passive
// leak channels, and the thermodynamically limited ATPase pumps.
//
// Channel kinds form a closed set resolved once at engine setup; per-step
// evaluation dispatches through the bound Channel instance without any
// dynamic lookup. Gating state lives in the engine's state vector; the
// structures here are read-only during stepping.
package channel

import (
	"errors"
	"fmt"
	"math"

	"github.com/tissueworks/bioflux/internal/ion"
)

// ErrNonFinite reports a kinetic evaluation that produced NaN or Inf.
// The engine promotes it to a numerical divergence naming the component.
var ErrNonFinite = errors.New("non-finite value in kinetic evaluation")

// Kind identifies a channel model.
type Kind int

const (
	KindNaV Kind = iota // voltage-gated Na+ (Nav1.2, Hammil 1991)
	KindKV              // voltage-gated K+ (Kv1.2)
	KindKLeak
	KindNaLeak
	KindClLeak
)

var kindNames = map[Kind]string{
	KindNaV:    "NaV",
	KindKV:     "KV",
	KindKLeak:  "KLeak",
	KindNaLeak: "NaLeak",
	KindClLeak: "ClLeak",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind maps a config kind name to a Kind.
func ParseKind(name string) (Kind, error) {
	for k, s := range kindNames {
		if s == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown channel kind: %q", name)
}

// Ion returns the name of the species the kind conducts.
func (k Kind) Ion() string {
	switch k {
	case KindNaV, KindNaLeak:
		return "Na"
	case KindKV, KindKLeak:
		return "K"
	case KindClLeak:
		return "Cl"
	}
	return ""
}

// Gated reports whether the kind carries HH gating state.
func (k Kind) Gated() bool {
	return k == KindNaV || k == KindKV
}

// Gate holds the HH gating variables of one channel population on one
// membrane patch. Ungated kinds keep both at 1.
type Gate struct {
	M float64 `json:"m"`
	H float64 `json:"h"`
}

// Channel binds one configured channel population to its membranes.
// Read-only during simulation.
type Channel struct {
	Kind Kind

	// Ion is the conducted species index in the engine's enabled set.
	Ion ion.Index

	// DMem is the effective membrane diffusion constant at full open
	// state [m2/s] (config strength times the species baseline).
	DMem float64

	// Mems are the host membrane indices.
	Mems []int
}

// expLin evaluates x / (1 - exp(-x/s)) with its limit s at x -> 0, the
// standard guard for HH alpha/beta rate singularities.
func expLin(x, s float64) float64 {
	if math.Abs(x/s) < 1e-7 {
		return s
	}
	return x / (1 - math.Exp(-x/s))
}

// sigmoid is the logistic function.
func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// kinetics returns the steady-state values and time constants of the m and
// h gates at membrane voltage vm [V]. Time constants are in seconds;
// the literature closed forms operate in mV and ms.
func (k Kind) kinetics(vm float64) (mInf, mTau, hInf, hTau float64) {
	V := vm * 1e3 // mV
	switch k {
	case KindNaV:
		// Nav1.2 (Hammil et al. 1991, rat neocortex).
		mAlpha := 0.182 * expLin((V-10)+35, 9)
		mBeta := 0.124 * expLin(-(V-10)-35, 9)
		mInf = mAlpha / (mAlpha + mBeta)
		mTau = 1 / (mAlpha + mBeta)
		hInf = sigmoid(-(V + 55) / 6.2)
		hTau = 1 / (0.024*expLin((V-10)+50, 5) + 0.0091*expLin(-(V-10)-75.000123, 5))
	case KindKV:
		// Kv1.2 delayed rectifier.
		mInf = sigmoid((V + 21) / 11.3943)
		mTau = 150 / (1 + math.Exp((V+67.56)/34.1479))
		hInf = sigmoid(-(V + 22) / 11.3943)
		hTau = 15000 / (1 + math.Exp(-(V+46.56)/44.1479))
	default:
		return 1, 1, 1, 1
	}
	// ms -> s
	mTau *= 1e-3
	hTau *= 1e-3
	return mInf, mTau, hInf, hTau
}

// InitGate returns the steady-state gate values at voltage vm.
func (k Kind) InitGate(vm float64) Gate {
	if !k.Gated() {
		return Gate{M: 1, H: 1}
	}
	mInf, _, hInf, _ := k.kinetics(vm)
	return Gate{M: mInf, H: hInf}
}

// AdvanceGate integrates dm/dt = (mInf - m)/mTau over dt [s] by exponential
// Euler, which keeps the gates inside [0,1] for any step size. It returns
// ErrNonFinite if the kinetics produce a non-finite value.
func (k Kind) AdvanceGate(g Gate, vm, dt float64) (Gate, error) {
	if !k.Gated() {
		return Gate{M: 1, H: 1}, nil
	}
	mInf, mTau, hInf, hTau := k.kinetics(vm)
	m := mInf + (g.M-mInf)*math.Exp(-dt/mTau)
	h := hInf + (g.H-hInf)*math.Exp(-dt/hTau)
	if !finite(m) || !finite(h) {
		return g, fmt.Errorf("%s gate at vm=%g: %w", k, vm, ErrNonFinite)
	}
	return Gate{M: clamp01(m), H: clamp01(h)}, nil
}

// OpenFraction is the channel open probability m^p * h^q for the kind's
// gate powers (Nav: m3h1, Kv: m1h1, leaks: 1).
func (k Kind) OpenFraction(g Gate) float64 {
	switch k {
	case KindNaV:
		return g.M * g.M * g.M * g.H
	case KindKV:
		return g.M * g.H
	default:
		return 1
	}
}

// Flux evaluates the channel's molar flux into the cell [mol/(m2 s)] at the
// given gate state, outer/inner concentrations, membrane voltage, membrane
// thickness d, valence z, and temperature T.
func (ch *Channel) Flux(g Gate, cOut, cIn, vm, d, z, T float64) (float64, error) {
	open := ch.Kind.OpenFraction(g)
	f := ion.Electroflux(cOut, cIn, ch.DMem*open, d, z, vm, T)
	if !finite(f) {
		return 0, fmt.Errorf("%s flux at vm=%g cOut=%g cIn=%g: %w", ch.Kind, vm, cOut, cIn, ErrNonFinite)
	}
	return f, nil
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
