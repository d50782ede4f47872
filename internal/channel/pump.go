package channel

import (
	"fmt"
	"math"

	"github.com/tissueworks/bioflux/internal/ion"
)

// PumpKind identifies an active-transport model.
type PumpKind int

const (
	PumpNaK PumpKind = iota // Na,K-ATPase (3 Na out, 2 K in per ATP)
	PumpCa                  // plasma-membrane Ca-ATPase
)

var pumpNames = map[PumpKind]string{
	PumpNaK: "NaK-ATPase",
	PumpCa:  "Ca-ATPase",
}

func (k PumpKind) String() string {
	if s, ok := pumpNames[k]; ok {
		return s
	}
	return fmt.Sprintf("PumpKind(%d)", int(k))
}

// ParsePumpKind maps a config pump name to a PumpKind.
func ParsePumpKind(name string) (PumpKind, error) {
	for k, s := range pumpNames {
		if s == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown pump kind: %q", name)
}

// Ions returns the species names the kind transports.
func (k PumpKind) Ions() []string {
	switch k {
	case PumpNaK:
		return []string{"Na", "K"}
	case PumpCa:
		return []string{"Ca"}
	}
	return nil
}

// Metabolic pool held fixed over a run [mM] and the ATP hydrolysis free
// energy [J/mol]. The pools enter the reaction quotient in molar units.
const (
	concATP   = 1.5
	concADP   = 0.1
	concPi    = 0.1
	deltaGATP = -37000.0
)

// Michaelis constants [mM], except KmCaPump in mM of free Ca2+.
const (
	kmNaKNa  = 12.0
	kmNaKK   = 0.2
	kmNaKATP = 0.5
	kmCaPump = 1.0e-3
	kmCaATP  = 0.5
)

// Pump binds one configured ATPase population to its membranes.
// Read-only during simulation.
type Pump struct {
	Kind PumpKind

	// RateMax is the maximum turnover [mol/(m2 s)].
	RateMax float64

	// IonA is the primary transported species index (Na or Ca); IonB is the
	// counter-transported species (K for the Na,K pump, unused otherwise).
	IonA ion.Index
	IonB ion.Index

	// Mems are the host membrane indices.
	Mems []int
}

// NaKFlux evaluates the Na,K-ATPase transport rates at membrane voltage
// vm [V] and temperature T [K]. Concentrations are mol/m3 (mM). It returns
// molar fluxes into the cell for Na and K [mol/(m2 s)]: fNa is negative
// (extrusion) and fK = -(2/3) fNa under normal conditions. The rate law is
// Michaelis-Menten forward kinetics scaled by the displacement from the
// thermodynamic equilibrium of ATP hydrolysis at the given voltage.
func (p *Pump) NaKFlux(naIn, naOut, kIn, kOut, vm, T float64) (fNa, fK float64, err error) {
	naIn = ion.ClampConc(naIn)
	naOut = ion.ClampConc(naOut)
	kIn = ion.ClampConc(kIn)
	kOut = ion.ClampConc(kOut)

	rt := ion.GasConst * T

	// Reaction quotient in molar units; one net charge crosses per cycle.
	qNumo := (1e-3 * concADP) * (1e-3 * concPi) * math.Pow(1e-3*naOut, 3) * math.Pow(1e-3*kIn, 2)
	qDenomo := (1e-3 * concATP) * math.Pow(1e-3*naIn, 3) * math.Pow(1e-3*kOut, 2)
	q := qNumo / qDenomo

	keq := math.Exp(-(deltaGATP/rt - (ion.Faraday*vm)/rt))

	fwd := (naIn / (kmNaKNa + naIn)) * (kOut / (kmNaKK + kOut)) * (concATP / (kmNaKATP + concATP))

	fNa = -3 * p.RateMax * fwd * (1 - q/keq)
	fK = -(2.0 / 3.0) * fNa

	if !finite(fNa) || !finite(fK) {
		return 0, 0, fmt.Errorf("%s at vm=%g: %w", p.Kind, vm, ErrNonFinite)
	}
	return fNa, fK, nil
}

// CaFlux evaluates the Ca-ATPase extrusion rate at membrane voltage vm [V]
// and temperature T [K], returning the molar Ca flux into the cell
// [mol/(m2 s)] (negative under normal conditions). Two charges cross per
// cycle, so the voltage term in the equilibrium constant is doubled.
func (p *Pump) CaFlux(caIn, caOut, vm, T float64) (float64, error) {
	caIn = ion.ClampConc(caIn)
	caOut = ion.ClampConc(caOut)

	rt := ion.GasConst * T

	q := ((1e-3 * concADP) * (1e-3 * concPi) * (1e-3 * caOut)) /
		((1e-3 * concATP) * (1e-3 * caIn))

	keq := math.Exp(-(deltaGATP/rt - (2*ion.Faraday*vm)/rt))

	fwd := (caIn / (kmCaPump + caIn)) * (concATP / (kmCaATP + concATP))

	f := -p.RateMax * fwd * (1 - q/keq)
	if !finite(f) {
		return 0, fmt.Errorf("%s at vm=%g: %w", p.Kind, vm, ErrNonFinite)
	}
	return f, nil
}
