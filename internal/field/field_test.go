package field

import (
	"errors"
	"math"
	"testing"

	"github.com/tissueworks/bioflux/internal/geometry"
)

func testCluster(t *testing.T, gridN int) *geometry.Cluster {
	t.Helper()
	c, err := geometry.Build(geometry.Params{
		CellRadius:    5e-6,
		ClusterRadius: 25e-6,
		WorldSize:     150e-6,
		GridN:         gridN,
		Thickness:     15e-6,
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return c
}

func TestCellDivergenceUniformInflow(t *testing.T) {
	c := testCluster(t, 8)
	flux := make([]float64, len(c.Mems))
	for i := range flux {
		flux[i] = 2.0
	}
	div := CellDivergence(c, flux)
	// Every cell has identical membranes, so the divergence is uniform
	// and equals flux * totalArea / volume.
	want := 2.0 * float64(geometry.Sides) * c.Mems[0].Area / c.Cells[0].Volume
	for ci, d := range div {
		if math.Abs(d-want) > 1e-9*math.Abs(want) {
			t.Fatalf("cell %d divergence = %g, want %g", ci, d, want)
		}
	}
}

func TestPoissonZeroSource(t *testing.T) {
	c := testCluster(t, 9)
	s, err := NewPoissonSolver(c)
	if err != nil {
		t.Fatalf("NewPoissonSolver: %v", err)
	}
	phi, err := s.Solve(make([]float64, len(c.Env)), 1e-9, 10)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	for i, p := range phi {
		if p != 0 {
			t.Fatalf("phi[%d] = %g for zero source, want 0", i, p)
		}
	}
}

func TestPoissonPointSource(t *testing.T) {
	c := testCluster(t, 9)
	s, err := NewPoissonSolver(c)
	if err != nil {
		t.Fatalf("NewPoissonSolver: %v", err)
	}
	rho := make([]float64, len(c.Env))
	center := c.EnvAt(4, 4)
	rho[center] = 1e-3

	phi, err := s.Solve(rho, 1e-9, 20)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}

	// Positive charge gives a positive potential peaked at the source.
	if phi[center] <= 0 {
		t.Errorf("phi at source = %g, want positive", phi[center])
	}
	for i := range phi {
		if phi[i] > phi[center]+1e-15 {
			t.Fatalf("phi[%d] = %g exceeds source potential %g", i, phi[i], phi[center])
		}
	}
	// Grounded boundary.
	for i := range c.Env {
		if c.Env[i].Boundary && phi[i] != 0 {
			t.Fatalf("boundary phi[%d] = %g, want 0", i, phi[i])
		}
	}
	// Four-fold symmetry of the centered source.
	a, b := phi[c.EnvAt(3, 4)], phi[c.EnvAt(5, 4)]
	if math.Abs(a-b) > 1e-9*math.Abs(a) {
		t.Errorf("solution not symmetric: %g vs %g", a, b)
	}
}

func TestPoissonResidual(t *testing.T) {
	// The returned solution must satisfy the five-point stencil: for each
	// interior node, 4 phi_i - sum(phi_nbr) = rho_i h^2 / eps.
	c := testCluster(t, 9)
	s, err := NewPoissonSolver(c)
	if err != nil {
		t.Fatalf("NewPoissonSolver: %v", err)
	}
	rho := make([]float64, len(c.Env))
	for i := range rho {
		if !c.Env[i].Boundary {
			rho[i] = float64(i%5) * 1e-4
		}
	}
	phi, err := s.Solve(rho, 1e-10, 20)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}

	eps := Eps0 * EpsRel
	h2 := c.Delta * c.Delta
	n := c.GridN
	for iy := 1; iy < n-1; iy++ {
		for ix := 1; ix < n-1; ix++ {
			i := c.EnvAt(ix, iy)
			lhs := 4*phi[i] - phi[c.EnvAt(ix-1, iy)] - phi[c.EnvAt(ix+1, iy)] -
				phi[c.EnvAt(ix, iy-1)] - phi[c.EnvAt(ix, iy+1)]
			rhs := rho[i] * h2 / eps
			if math.Abs(lhs-rhs) > 1e-6*math.Max(math.Abs(rhs), 1e-30) {
				t.Fatalf("stencil violated at (%d,%d): lhs=%g rhs=%g", ix, iy, lhs, rhs)
			}
		}
	}
}

func TestPoissonBadInput(t *testing.T) {
	c := testCluster(t, 8)
	s, err := NewPoissonSolver(c)
	if err != nil {
		t.Fatalf("NewPoissonSolver: %v", err)
	}
	if _, err := s.Solve([]float64{1, 2, 3}, 1e-9, 10); err == nil {
		t.Error("Solve should reject a mis-sized source vector")
	}
}

func TestVmFromCharge(t *testing.T) {
	if got := VmFromCharge(-1.54e-3, 0.022, 0); math.Abs(got+0.070) > 1e-6 {
		t.Errorf("VmFromCharge = %g, want -0.070", got)
	}
	// The adjacent environment potential shifts the reading down.
	base := VmFromCharge(-1.54e-3, 0.022, 0)
	shifted := VmFromCharge(-1.54e-3, 0.022, 0.005)
	if math.Abs((base-shifted)-0.005) > 1e-12 {
		t.Errorf("phiAdj offset wrong: %g vs %g", base, shifted)
	}
}

func TestChargeDensityElectroneutral(t *testing.T) {
	// A charge-balanced mix has zero density.
	concs := []float64{10, 139, 4, 135, 10}
	zs := []float64{1, 1, -1, -1, -1}
	if rho := ChargeDensity(concs, zs); math.Abs(rho) > 1e-6 {
		t.Errorf("electroneutral mix rho = %g, want ~0", rho)
	}
	if rho := ChargeDensity([]float64{1}, []float64{1}); rho <= 0 {
		t.Errorf("cation excess rho = %g, want positive", rho)
	}
}

func TestFinite(t *testing.T) {
	if !Finite([]float64{0, -1, 3e300}) {
		t.Error("finite slice reported non-finite")
	}
	if Finite([]float64{0, math.NaN()}) {
		t.Error("NaN not detected")
	}
	if Finite([]float64{math.Inf(1)}) {
		t.Error("Inf not detected")
	}
}

func TestConvergenceErrorWrapped(t *testing.T) {
	// A zero iteration budget cannot reach any tolerance with a nonzero
	// source, and must surface ErrConvergence.
	c := testCluster(t, 8)
	s, err := NewPoissonSolver(c)
	if err != nil {
		t.Fatalf("NewPoissonSolver: %v", err)
	}
	rho := make([]float64, len(c.Env))
	rho[c.EnvAt(3, 3)] = 1e-3
	_, err = s.Solve(rho, 1e-12, 0)
	if !errors.Is(err, ErrConvergence) {
		t.Errorf("err = %v, want ErrConvergence", err)
	}
}
