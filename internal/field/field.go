// Package field computes the electrical state of the cluster: the discrete
// divergence operator over the cell complex, the quasi-static environment
// potential obtained from the grid Poisson equation, and the capacitive
// relation between membrane surface charge and voltage.
package field

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/tissueworks/bioflux/internal/geometry"
	"github.com/tissueworks/bioflux/internal/ion"
)

// ErrConvergence reports a potential solve that did not reach the requested
// residual tolerance within its iteration budget.
var ErrConvergence = errors.New("field solve failed to converge")

// Vacuum permittivity [F/m] and the relative permittivity of the aqueous
// environment.
const (
	Eps0   = 8.8541878128e-12
	EpsRel = 80.0
)

// CellDivergence accumulates per-cell net sources from per-membrane inward
// fluxes [mol/(m2 s) or A/m2]: sum of flux times patch area over the cell
// volume. The result has units of the flux per meter.
func CellDivergence(c *geometry.Cluster, memFlux []float64) []float64 {
	out := make([]float64, len(c.Cells))
	for mi := range c.Mems {
		m := &c.Mems[mi]
		out[m.Cell] += memFlux[mi] * m.Area / c.Cells[m.Cell].Volume
	}
	return out
}

// PoissonSolver solves the environment grid Poisson equation
//
//	-laplace(phi) = rho / eps
//
// with phi = 0 on the outer grid boundary (grounded bath). The five-point
// Laplacian over the interior nodes is factorized once at construction;
// Cholesky is attempted first and a dense LU kept as fallback for the
// non-SPD assemblies that appear under degenerate grid parameters.
type PoissonSolver struct {
	c *geometry.Cluster

	// row maps env node index to interior equation row, -1 for boundary.
	row []int
	n   int

	sym  *mat.SymDense
	chol *mat.Cholesky
	lu   *mat.LU
}

// NewPoissonSolver assembles and factorizes the interior Laplacian.
func NewPoissonSolver(c *geometry.Cluster) (*PoissonSolver, error) {
	s := &PoissonSolver{c: c, row: make([]int, len(c.Env))}
	for i := range c.Env {
		if c.Env[i].Boundary {
			s.row[i] = -1
			continue
		}
		s.row[i] = s.n
		s.n++
	}
	if s.n == 0 {
		return nil, fmt.Errorf("field: grid %dx%d has no interior nodes", c.GridN, c.GridN)
	}

	s.sym = mat.NewSymDense(s.n, nil)
	for i := range c.Env {
		r := s.row[i]
		if r < 0 {
			continue
		}
		s.sym.SetSym(r, r, 4)
	}
	for _, l := range c.EnvLinks {
		ra, rb := s.row[l.A], s.row[l.B]
		if ra < 0 || rb < 0 {
			continue
		}
		s.sym.SetSym(ra, rb, -1)
	}

	s.chol = new(mat.Cholesky)
	if !s.chol.Factorize(s.sym) {
		s.chol = nil
		s.lu = new(mat.LU)
		s.lu.Factorize(mat.DenseCopyOf(s.sym))
	}
	return s, nil
}

// Solve returns the environment potential per env node [V] for the given
// charge density rho [C/m3]. Boundary nodes stay at zero. The direct solve
// is polished by iterative refinement until the residual drops below tol
// relative to the source norm; exhausting maxIters returns ErrConvergence
// together with the best iterate.
func (s *PoissonSolver) Solve(rho []float64, tol float64, maxIters int) ([]float64, error) {
	if len(rho) != len(s.c.Env) {
		return nil, fmt.Errorf("field: rho has %d entries, grid has %d nodes", len(rho), len(s.c.Env))
	}

	eps := Eps0 * EpsRel
	h2 := s.c.Delta * s.c.Delta
	b := mat.NewVecDense(s.n, nil)
	for i := range s.c.Env {
		if r := s.row[i]; r >= 0 {
			b.SetVec(r, rho[i]*h2/eps)
		}
	}

	x := mat.NewVecDense(s.n, nil)
	bNorm := mat.Norm(b, 2)
	if bNorm == 0 {
		return s.scatter(x), nil
	}

	resid := mat.NewVecDense(s.n, nil)
	delta := mat.NewVecDense(s.n, nil)
	for iter := 0; iter < maxIters; iter++ {
		// resid = b - A x
		resid.MulVec(s.sym, x)
		resid.SubVec(b, resid)
		if mat.Norm(resid, 2) <= tol*bNorm {
			return s.scatter(x), nil
		}
		if err := s.solveVec(delta, resid); err != nil {
			return nil, fmt.Errorf("field: poisson solve: %w", err)
		}
		x.AddVec(x, delta)
	}

	resid.MulVec(s.sym, x)
	resid.SubVec(b, resid)
	if mat.Norm(resid, 2) <= tol*bNorm {
		return s.scatter(x), nil
	}
	return s.scatter(x), fmt.Errorf("field: residual %g after %d iterations: %w",
		mat.Norm(resid, 2)/bNorm, maxIters, ErrConvergence)
}

func (s *PoissonSolver) solveVec(dst, b *mat.VecDense) error {
	if s.chol != nil {
		return s.chol.SolveVecTo(dst, b)
	}
	return s.lu.SolveVecTo(dst, false, b)
}

// scatter expands the interior solution back onto the full grid.
func (s *PoissonSolver) scatter(x *mat.VecDense) []float64 {
	phi := make([]float64, len(s.c.Env))
	for i, r := range s.row {
		if r >= 0 {
			phi[i] = x.AtVec(r)
		}
	}
	return phi
}

// VmFromCharge returns the quasi-static membrane voltage for surface charge
// density q [C/m2] on a membrane of capacitance cm [F/m2], referenced to
// the adjacent environment potential phiAdj [V].
func VmFromCharge(q, cm, phiAdj float64) float64 {
	return q/cm - phiAdj
}

// ChargeDensity returns the volumetric charge density [C/m3] of a
// compartment from its per-species concentrations [mol/m3] and valences.
func ChargeDensity(concs, valences []float64) float64 {
	var rho float64
	for i, c := range concs {
		rho += ion.Faraday * valences[i] * c
	}
	return rho
}

// Finite reports whether every element of xs is a finite number. The engine
// uses it to detect a diverging voltage or concentration field at commit.
func Finite(xs []float64) bool {
	for _, x := range xs {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
