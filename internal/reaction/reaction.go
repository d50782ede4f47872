// Package reaction integrates the per-cell biochemical network: regulated
// species with Hill-modulated production and first-order decay, plus
// mass-action reactions whose stoichiometry may include the tracked ions.
//
// The network operates on one cell's concentration vector at a time. The
// vector is laid out as the simulation's ion concentrations followed by the
// network species, so reactions can consume and produce ions and the engine
// sees those deltas in the same step.
package reaction

import (
	"errors"
	"fmt"
	"math"
)

// ErrNonFinite reports a derivative evaluation that produced NaN or Inf.
var ErrNonFinite = errors.New("non-finite value in network derivative")

// Substeps are chosen so that the fastest local rate advances concentration
// by at most this fraction per substep.
const maxRelChange = 0.1

// SignalKind selects what a modulator reads.
type SignalKind int

const (
	// SignalConc reads an entry of the concentration vector (ion or species).
	SignalConc SignalKind = iota
	// SignalVmem reads the cell-averaged membrane voltage, in mV.
	SignalVmem
)

// Modulator is one Hill term regulating a species' production.
type Modulator struct {
	Kind  SignalKind
	Index int // concentration vector index for SignalConc
	Km    float64
	N     float64
}

// Species is one regulated network species.
type Species struct {
	Name       string
	Index      int // position in the concentration vector
	GrowthMax  float64
	Decay      float64
	Activators []Modulator
	Inhibitors []Modulator
}

// Term is one stoichiometric entry of a mass-action reaction.
type Term struct {
	Index int
	Coeff float64
}

// Reaction is one mass-action reaction with a fixed rate constant.
type Reaction struct {
	Name      string
	Rate      float64
	Reactants []Term
	Products  []Term
}

// Network is the compiled reaction system. Read-only during simulation.
type Network struct {
	Species   []Species
	Reactions []Reaction

	// VecLen is the full concentration vector length (ions + species).
	VecLen int
}

// Empty reports whether the network has nothing to integrate.
func (n *Network) Empty() bool {
	return n == nil || (len(n.Species) == 0 && len(n.Reactions) == 0)
}

// hill evaluates the Hill saturation x^n / (x^n + km^n) with negative
// signals clamped to zero.
func hill(x, km, n float64) float64 {
	if x <= 0 {
		return 0
	}
	xn := math.Pow(x, n)
	return xn / (xn + math.Pow(km, n))
}

// deriv writes the network derivative of conc into dst. vmemMV is the
// cell-averaged membrane voltage in mV.
func (n *Network) deriv(dst, conc []float64, vmemMV float64) {
	for i := range dst {
		dst[i] = 0
	}

	signal := func(m Modulator) float64 {
		if m.Kind == SignalVmem {
			return vmemMV
		}
		return conc[m.Index]
	}

	for si := range n.Species {
		sp := &n.Species[si]
		rate := sp.GrowthMax
		for _, m := range sp.Activators {
			rate *= hill(signal(m), m.Km, m.N)
		}
		for _, m := range sp.Inhibitors {
			rate *= 1 - hill(signal(m), m.Km, m.N)
		}
		dst[sp.Index] += rate - sp.Decay*conc[sp.Index]
	}

	for ri := range n.Reactions {
		rx := &n.Reactions[ri]
		v := rx.Rate
		for _, t := range rx.Reactants {
			c := conc[t.Index]
			if c <= 0 {
				v = 0
				break
			}
			v *= math.Pow(c, t.Coeff)
		}
		if v == 0 {
			continue
		}
		for _, t := range rx.Reactants {
			dst[t.Index] -= t.Coeff * v
		}
		for _, t := range rx.Products {
			dst[t.Index] += t.Coeff * v
		}
	}
}

// substeps estimates how many RK4 substeps keep the fastest relative rate
// of change under the per-substep budget, capped at max.
func (n *Network) substeps(conc, d []float64, dt float64, max int) int {
	var lambda float64
	for i, di := range d {
		scale := conc[i]
		if scale < 1e-9 {
			scale = 1e-9
		}
		if r := math.Abs(di) / scale; r > lambda {
			lambda = r
		}
	}
	need := dt * lambda / maxRelChange
	if max > 0 && need >= float64(max) {
		return max
	}
	sub := int(math.Ceil(need))
	if sub < 1 {
		sub = 1
	}
	return sub
}

// Step advances one cell's concentration vector in place over dt [s] by
// classical RK4, sub-stepped when the outer step exceeds the local
// stability estimate. Negative results are clamped to zero and counted;
// the count is reported to the caller and is never an error. A non-finite
// derivative aborts with ErrNonFinite and leaves conc unspecified.
func (n *Network) Step(conc []float64, vmemMV, dt float64, maxSubsteps int) (underflows int, err error) {
	if n.Empty() {
		return 0, nil
	}
	if len(conc) != n.VecLen {
		return 0, fmt.Errorf("reaction: vector has %d entries, network compiled for %d", len(conc), n.VecLen)
	}

	k1 := make([]float64, n.VecLen)
	k2 := make([]float64, n.VecLen)
	k3 := make([]float64, n.VecLen)
	k4 := make([]float64, n.VecLen)
	tmp := make([]float64, n.VecLen)

	n.deriv(k1, conc, vmemMV)
	sub := n.substeps(conc, k1, dt, maxSubsteps)
	h := dt / float64(sub)

	for s := 0; s < sub; s++ {
		n.deriv(k1, conc, vmemMV)
		for i := range tmp {
			tmp[i] = conc[i] + 0.5*h*k1[i]
		}
		n.deriv(k2, tmp, vmemMV)
		for i := range tmp {
			tmp[i] = conc[i] + 0.5*h*k2[i]
		}
		n.deriv(k3, tmp, vmemMV)
		for i := range tmp {
			tmp[i] = conc[i] + h*k3[i]
		}
		n.deriv(k4, tmp, vmemMV)

		for i := range conc {
			next := conc[i] + (h/6)*(k1[i]+2*k2[i]+2*k3[i]+k4[i])
			if math.IsNaN(next) || math.IsInf(next, 0) {
				return underflows, fmt.Errorf("reaction: index %d at substep %d: %w", i, s, ErrNonFinite)
			}
			if next < 0 {
				next = 0
				underflows++
			}
			conc[i] = next
		}
	}
	return underflows, nil
}
