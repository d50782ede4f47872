// Package junction models transport along the cluster's edges: gap-junction
// electrodiffusion between coupled cells, with optional voltage-dependent
// gating of the junction, and diffusive exchange along the extracellular
// grid links.
//
// All fluxes here are directed A to B along the edge as the geometry package
// orders it. The engine applies each value with opposite signs to the two
// sides, so conservation across an edge is exact by construction.
package junction

import (
	"math"

	"github.com/tissueworks/bioflux/internal/ion"
)

// Gating describes the voltage sensitivity of the gap-junction population.
type Gating struct {
	// VoltageGated selects dynamic gating; when false junctions stay at
	// full open state.
	VoltageGated bool

	// VThresh and VGrad set the center and width of the closing sigmoids
	// [mV of transjunctional voltage].
	VThresh float64
	VGrad   float64

	// MinOpen is the residual open fraction at saturating voltage.
	MinOpen float64
}

// Open returns the junction open fraction at transjunctional voltage
// vj [V]. The response is a smooth symmetric double sigmoid: near-maximal
// at small |Vj|, relaxing toward MinOpen as |Vj| moves past VThresh over a
// width of VGrad. The result is clamped to [MinOpen, 1].
func (g Gating) Open(vj float64) float64 {
	if !g.VoltageGated {
		return 1
	}
	mv := vj * 1e3
	open := g.MinOpen +
		1/(1+math.Exp((mv-g.VThresh)/g.VGrad)) -
		1/(1+math.Exp((mv+g.VThresh)/g.VGrad))
	if open < g.MinOpen {
		return g.MinOpen
	}
	if open > 1 {
		return 1
	}
	return open
}

// Flux returns the molar flux through one gap junction, directed A to B
// [mol/(m2 s)]. cA and cB are the coupled cells' concentrations [mol/m3],
// vA and vB their membrane voltages [V], d the effective junction diffusion
// constant (species DGJ scaled by surface fraction and open state), length
// the junctional gap, z the valence, and T the temperature.
func Flux(cA, cB, vA, vB, d, length, z, T float64) float64 {
	// The transjunctional voltage drives electrodiffusion exactly like a
	// membrane potential, with side B playing the inner compartment.
	return ion.Electroflux(cA, cB, d, length, z, vB-vA, T)
}

// LinkFlux returns the molar flux along one extracellular grid link,
// directed A to B [mol/(m2 s)]. phiA and phiB are the environment
// potentials at the two nodes [V]; for an unpolarized environment both are
// zero and the law reduces to Fickian diffusion over the grid spacing.
func LinkFlux(cA, cB, phiA, phiB, dFree, dist, z, T float64) float64 {
	return ion.Electroflux(cA, cB, dFree, dist, z, phiB-phiA, T)
}
