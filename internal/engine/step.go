package engine

import (
	"errors"
	"fmt"
	"math"

	"github.com/tissueworks/bioflux/internal/channel"
	"github.com/tissueworks/bioflux/internal/field"
	"github.com/tissueworks/bioflux/internal/geometry"
	"github.com/tissueworks/bioflux/internal/ion"
	"github.com/tissueworks/bioflux/internal/junction"
)

// envConc returns the extracellular concentration a membrane faces: its
// bound env node when it has one, the fixed bath baseline otherwise
// (interior clefts are not resolved by the grid).
func (e *Engine) envConc(st *State, ionIdx int, m *geometry.Membrane) float64 {
	if m.Env != geometry.None {
		return st.ConcEnv[ionIdx][m.Env]
	}
	return e.species[ionIdx].EnvConc
}

// diverged wraps a component failure and parks the controller.
func (e *Engine) diverged(component string, step int, class, err error) error {
	de := &DivergenceError{
		Component: component,
		Step:      step,
		Err:       fmt.Errorf("%w: %v", class, err),
	}
	e.status = StatusDiverged
	e.runErr = de
	return de
}

// step advances one dt: membrane channels and pumps, junction and
// environment transport, the field update, and the reaction network, all
// reading from the prior committed state and writing into its clone, which
// becomes the new committed state only if every component succeeds.
func (e *Engine) step() (Report, error) {
	prev := e.state
	next := prev.Clone()
	next.Step = prev.Step + 1
	next.Time = prev.Time + e.dt

	c := e.cluster
	nIons := len(e.species)
	T := e.cfg.World.Temperature
	memD := e.cfg.World.MembraneThickness
	cm := e.cfg.World.MembraneCap

	// Accumulators: inward molar flux density [mol/(m2 s)] per (ion,
	// membrane), molar rates [mol/s] per env node, inward charge flux
	// density [A/m2] per membrane.
	memFlux := make([][]float64, nIons)
	for i := range memFlux {
		memFlux[i] = make([]float64, len(c.Mems))
	}
	envRate := make([][]float64, nIons)
	for i := range envRate {
		envRate[i] = make([]float64, len(c.Env))
	}
	jMem := make([]float64, len(c.Mems))

	// Membrane channels: advance gating from the snapshot voltage, then
	// accumulate the GHK flux through the open fraction.
	for chIdx, ch := range e.channels {
		z := e.species[ch.Ion].Valence
		for pos, mi := range ch.Mems {
			m := &c.Mems[mi]
			vm := prev.Vm[mi]

			g, err := ch.Kind.AdvanceGate(prev.Gates[chIdx][pos], vm, e.dt)
			if err != nil {
				return Report{}, e.diverged("channel", next.Step, ErrNumericalDivergence,
					fmt.Errorf("%s at membrane %d: %w", ch.Kind, mi, err))
			}
			next.Gates[chIdx][pos] = g

			cIn := prev.ConcCell[m.Cell][ch.Ion]
			cOut := e.envConc(prev, int(ch.Ion), m)
			f, err := ch.Flux(g, cOut, cIn, vm, memD, z, T)
			if err != nil {
				return Report{}, e.diverged("channel", next.Step, ErrNumericalDivergence,
					fmt.Errorf("%s at membrane %d: %w", ch.Kind, mi, err))
			}

			memFlux[ch.Ion][mi] += f
			jMem[mi] += ion.ChargeFlux(f, z)
			if m.Env != geometry.None {
				envRate[ch.Ion][m.Env] -= f * m.Area
			}
		}
	}

	// ATPase pumps.
	for _, p := range e.pumps {
		for _, mi := range p.Mems {
			m := &c.Mems[mi]
			vm := prev.Vm[mi]
			switch p.Kind {
			case channel.PumpNaK:
				naIn := prev.ConcCell[m.Cell][p.IonA]
				kIn := prev.ConcCell[m.Cell][p.IonB]
				naOut := e.envConc(prev, int(p.IonA), m)
				kOut := e.envConc(prev, int(p.IonB), m)
				fNa, fK, err := p.NaKFlux(naIn, naOut, kIn, kOut, vm, T)
				if err != nil {
					return Report{}, e.diverged("pump", next.Step, ErrNumericalDivergence,
						fmt.Errorf("%s at membrane %d: %w", p.Kind, mi, err))
				}
				memFlux[p.IonA][mi] += fNa
				memFlux[p.IonB][mi] += fK
				jMem[mi] += ion.ChargeFlux(fNa, e.species[p.IonA].Valence) +
					ion.ChargeFlux(fK, e.species[p.IonB].Valence)
				if m.Env != geometry.None {
					envRate[p.IonA][m.Env] -= fNa * m.Area
					envRate[p.IonB][m.Env] -= fK * m.Area
				}
			case channel.PumpCa:
				caIn := prev.ConcCell[m.Cell][p.IonA]
				caOut := e.envConc(prev, int(p.IonA), m)
				fCa, err := p.CaFlux(caIn, caOut, vm, T)
				if err != nil {
					return Report{}, e.diverged("pump", next.Step, ErrNumericalDivergence,
						fmt.Errorf("%s at membrane %d: %w", p.Kind, mi, err))
				}
				memFlux[p.IonA][mi] += fCa
				jMem[mi] += ion.ChargeFlux(fCa, e.species[p.IonA].Valence)
				if m.Env != geometry.None {
					envRate[p.IonA][m.Env] -= fCa * m.Area
				}
			}
		}
	}

	// Gap junctions: one flux value per (edge, ion), applied with opposite
	// signs to the two facing patches. The patches share one area by
	// construction, so the pair conserves moles exactly.
	surface := e.cfg.Junctions.SurfaceFraction
	for ji := range c.Junctions {
		j := &c.Junctions[ji]
		vA, vB := prev.Vm[j.MemA], prev.Vm[j.MemB]
		open := e.gating.Open(vB - vA)
		next.GJOpen[ji] = open

		for i, sp := range e.species {
			d := sp.DGJ * surface * open
			if d == 0 {
				continue
			}
			cA := prev.ConcCell[j.CellA][i]
			cB := prev.ConcCell[j.CellB][i]
			f := junction.Flux(cA, cB, vA, vB, d, j.Length, sp.Valence, T)

			memFlux[i][j.MemA] -= f
			memFlux[i][j.MemB] += f
			jMem[j.MemA] -= ion.ChargeFlux(f, sp.Valence)
			jMem[j.MemB] += ion.ChargeFlux(f, sp.Valence)
		}
	}

	// Extracellular diffusion along the grid links.
	crossArea := c.Delta * e.cfg.World.Thickness
	for li := range c.EnvLinks {
		l := &c.EnvLinks[li]
		phiA, phiB := prev.Phi[l.A], prev.Phi[l.B]
		for i, sp := range e.species {
			if sp.DFree == 0 {
				continue
			}
			f := junction.LinkFlux(prev.ConcEnv[i][l.A], prev.ConcEnv[i][l.B],
				phiA, phiB, sp.DFree, l.Dist, sp.Valence, T)
			envRate[i][l.A] -= f * crossArea
			envRate[i][l.B] += f * crossArea
		}
	}

	// Apply transport to the concentration fields. The cell-side source is
	// the divergence of the per-membrane fluxes.
	for i := 0; i < nIons; i++ {
		div := field.CellDivergence(c, memFlux[i])
		for ci := range c.Cells {
			v := next.ConcCell[ci][i] + div[ci]*e.dt
			if v < 0 {
				v = 0
			}
			next.ConcCell[ci][i] = v
		}
	}
	for i := 0; i < nIons; i++ {
		bath := e.species[i].EnvConc
		for n := range c.Env {
			if c.Env[n].Boundary {
				// Open boundary: the bath holds the periphery fixed.
				next.ConcEnv[i][n] = bath
				continue
			}
			v := next.ConcEnv[i][n] + envRate[i][n]*e.dt/c.Env[n].Volume
			if v < 0 {
				v = 0
			}
			next.ConcEnv[i][n] = v
		}
	}

	// Field update: membrane surface charge integrates the net current;
	// voltage derives from it capacitively. The init phase additionally
	// resolves the environment potential from the grid Poisson system.
	for mi := range c.Mems {
		next.QMem[mi] = prev.QMem[mi] + jMem[mi]*e.dt
	}
	if e.phase == PhaseInit {
		if err := e.solveEnvPotential(next); err != nil {
			return Report{}, err
		}
	}
	for mi := range c.Mems {
		m := &c.Mems[mi]
		phiAdj := 0.0
		if m.Env != geometry.None {
			phiAdj = next.Phi[m.Env]
		}
		next.Vm[mi] = field.VmFromCharge(next.QMem[mi], cm, phiAdj)
	}

	// Reaction network, with same-step ion feedback through the shared
	// concentration vector.
	var underflows int
	if !e.net.Empty() {
		for ci := range c.Cells {
			var vmSum float64
			for _, mi := range c.Cells[ci].Mems {
				vmSum += prev.Vm[mi]
			}
			vmemMV := vmSum / float64(len(c.Cells[ci].Mems)) * 1e3
			u, err := e.net.Step(next.ConcCell[ci], vmemMV, e.dt, e.cfg.Numerics.MaxSubsteps)
			if err != nil {
				return Report{}, e.diverged("reaction", next.Step, ErrNumericalDivergence, err)
			}
			underflows += u
		}
	}
	if underflows > 0 {
		e.log.Debug("reaction underflow clamped", "step", next.Step, "count", underflows)
	}
	next.Underflows += underflows

	// Commit checks: a non-finite field anywhere rejects the step.
	if !field.Finite(next.Vm) || !field.Finite(next.QMem) || !field.Finite(next.Phi) {
		return Report{}, e.diverged("field", next.Step, ErrNumericalDivergence,
			errors.New("non-finite membrane state"))
	}
	for ci := range next.ConcCell {
		if !field.Finite(next.ConcCell[ci]) {
			return Report{}, e.diverged("transport", next.Step, ErrNumericalDivergence,
				fmt.Errorf("non-finite concentration in cell %d", ci))
		}
	}
	for i := range next.ConcEnv {
		if !field.Finite(next.ConcEnv[i]) {
			return Report{}, e.diverged("transport", next.Step, ErrNumericalDivergence,
				fmt.Errorf("non-finite %s environment field", e.species[i].Name))
		}
	}

	delta := e.deltaNorm(prev, next)
	e.state = next

	mean, min, max := next.VmStats()
	return Report{
		Step:       next.Step,
		Phase:      e.phase,
		Time:       next.Time,
		VmMean:     mean,
		VmMin:      min,
		VmMax:      max,
		DeltaNorm:  delta,
		Underflows: underflows,
	}, nil
}

// relaxedTolFloor bounds the retried solve tolerance from below at a
// relative residual a refined direct solve attains in double precision.
const relaxedTolFloor = 1e-10

// solveEnvPotential computes the quasi-static environment potential from
// the excess charge density of the env grid. A convergence failure earns
// one relaxed retry when configured, then becomes fatal.
func (e *Engine) solveEnvPotential(next *State) error {
	c := e.cluster
	val := make([]float64, len(e.species))
	for i, sp := range e.species {
		val[i] = sp.Valence
	}

	// The source is the excess over the electroneutral bath, so a resting
	// grid carries no charge.
	rho := make([]float64, len(c.Env))
	dev := make([]float64, len(e.species))
	for n := range c.Env {
		for i, sp := range e.species {
			dev[i] = next.ConcEnv[i][n] - sp.EnvConc
		}
		rho[n] = field.ChargeDensity(dev, val)
	}

	tol := e.cfg.Numerics.Tolerance
	phi, err := e.poisson.Solve(rho, tol, e.cfg.Numerics.MaxFieldIters)
	if errors.Is(err, field.ErrConvergence) && e.cfg.Numerics.RelaxOnFailure {
		relaxed := tol * 100
		if relaxed < relaxedTolFloor {
			relaxed = relaxedTolFloor
		}
		e.log.Warn("field solve missed tolerance, retrying relaxed",
			"step", next.Step, "tolerance", relaxed)
		phi, err = e.poisson.Solve(rho, relaxed, e.cfg.Numerics.MaxFieldIters)
	}
	if err != nil {
		return e.diverged("field", next.Step, ErrConvergenceFailure, err)
	}
	next.Phi = phi
	return nil
}

// deltaNorm measures the mean per-entry change of membrane voltage and
// cell concentrations between two states, the init convergence metric.
func (e *Engine) deltaNorm(prev, next *State) float64 {
	var sum float64
	var n int
	for mi := range next.Vm {
		sum += math.Abs(next.Vm[mi] - prev.Vm[mi])
		n++
	}
	for ci := range next.ConcCell {
		for i := range next.ConcCell[ci] {
			sum += math.Abs(next.ConcCell[ci][i] - prev.ConcCell[ci][i])
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
