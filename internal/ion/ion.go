// Package ion defines the ion species table and the scalar electrochemistry
// used by the channel, junction, and field packages: Nernst potentials and
// the Goldman flux (GHK) electrodiffusion law.
package ion

import (
	"fmt"
	"math"
)

// Physical constants (SI).
const (
	Faraday  = 96485.33212 // C/mol
	GasConst = 8.314462618 // J/(mol K)
)

// ConcFloor is the smallest concentration [mol/m3] used when evaluating
// logarithmic driving forces. Concentrations below the floor are clamped
// before the log/exp terms so the flux laws stay defined.
const ConcFloor = 1e-12

// Index identifies an ion species within a simulation's enabled set.
type Index int

// Species is a static ion descriptor. Read-only during simulation;
// fixed at configuration time.
type Species struct {
	// Name is the config-facing identifier ("Na", "K", "Cl", "Ca", "M", "P").
	Name string

	// Valence is the signed charge number.
	Valence float64

	// DMem is the baseline membrane diffusion constant [m2/s]. Channel
	// conductances scale this value per membrane patch.
	DMem float64

	// DFree is the free diffusion constant in water [m2/s], used for
	// extracellular transport.
	DFree float64

	// DGJ is the gap-junction diffusion constant [m2/s] at full open state.
	DGJ float64

	// CellConc and EnvConc are baseline intracellular and environmental
	// concentrations [mol/m3 == mM].
	CellConc float64
	EnvConc  float64
}

// Defaults returns the built-in species table, in canonical order.
// Baseline values follow mammalian cytosol/interstitium conditions.
func Defaults() []Species {
	return []Species{
		{Name: "Na", Valence: 1, DMem: 1.0e-18, DFree: 1.33e-9, DGJ: 1.33e-17, CellConc: 10.0, EnvConc: 145.0},
		{Name: "K", Valence: 1, DMem: 15.0e-18, DFree: 1.96e-9, DGJ: 1.96e-17, CellConc: 139.0, EnvConc: 4.5},
		{Name: "Cl", Valence: -1, DMem: 2.0e-18, DFree: 2.03e-9, DGJ: 2.03e-17, CellConc: 4.0, EnvConc: 115.0},
		{Name: "Ca", Valence: 2, DMem: 1.0e-19, DFree: 0.79e-9, DGJ: 0.79e-17, CellConc: 1.0e-4, EnvConc: 2.0},
		// M is the aggregate impermeant-ish anion balancing cytosolic charge.
		{Name: "M", Valence: -1, DMem: 1.0e-18, DFree: 1.0e-9, DGJ: 1.0e-17, CellConc: 135.0, EnvConc: 29.5},
		// P is the anionic cytosolic protein fraction; membrane impermeant.
		{Name: "P", Valence: -1, DMem: 0, DFree: 0, DGJ: 1.0e-18, CellConc: 10.0, EnvConc: 9.0},
	}
}

// ByName returns the default descriptor for name.
func ByName(name string) (Species, error) {
	for _, s := range Defaults() {
		if s.Name == name {
			return s, nil
		}
	}
	return Species{}, fmt.Errorf("unknown ion species: %q", name)
}

// ClampConc returns c clamped to the concentration floor.
func ClampConc(c float64) float64 {
	if c < ConcFloor {
		return ConcFloor
	}
	return c
}

// Nernst returns the reversal potential [V] for a species with valence z at
// temperature T [K], given outside and inside concentrations [mol/m3].
// Both concentrations are clamped to the floor before the log.
func Nernst(cOut, cIn, z, T float64) float64 {
	cOut = ClampConc(cOut)
	cIn = ClampConc(cIn)
	return (GasConst * T / (z * Faraday)) * math.Log(cOut/cIn)
}

// Electroflux evaluates the Goldman flux equation for electrodiffusion
// between two compartments separated by distance d [m]:
//
//	flux = -(D*alpha/d) * (cIn - cOut*exp(-alpha)) / (-expm1(-alpha))
//	alpha = z*vm*F/(R*T)
//
// cOut is the concentration on the outer side, cIn on the inner side
// [mol/m3], and vm is the potential of the inner side relative to the outer
// [V]. A positive return value is a flux into the inner compartment
// [mol/(m2 s)]. For vm == 0 the law reduces to ordinary Fickian diffusion.
func Electroflux(cOut, cIn, D, d, z, vm, T float64) float64 {
	cOut = ClampConc(cOut)
	cIn = ClampConc(cIn)

	alpha := z * vm * Faraday / (GasConst * T)
	if math.Abs(alpha) < 1e-9 {
		// Diffusion limit; the full expression is 0/0 here.
		return -(D / d) * (cIn - cOut)
	}

	expAlpha := math.Exp(-alpha)
	deno := -math.Expm1(-alpha)
	return -((D * alpha) / d) * (cIn - cOut*expAlpha) / deno
}

// ChargeFlux converts a molar flux [mol/(m2 s)] for a species of valence z
// into a current density [A/m2].
func ChargeFlux(flux, z float64) float64 {
	return Faraday * z * flux
}
