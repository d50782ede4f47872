package junction

import (
	"math"
	"testing"
)

const bodyTemp = 310.0

func TestOpenUngatedIsFull(t *testing.T) {
	g := Gating{VoltageGated: false, VThresh: 40, VGrad: 30, MinOpen: 0.02}
	for _, vj := range []float64{-0.1, 0, 0.05} {
		if got := g.Open(vj); got != 1 {
			t.Errorf("ungated Open(%g) = %g, want 1", vj, got)
		}
	}
}

func TestOpenSymmetricInVoltage(t *testing.T) {
	g := Gating{VoltageGated: true, VThresh: 40, VGrad: 30, MinOpen: 0.02}
	for _, vj := range []float64{0.005, 0.02, 0.06, 0.1} {
		pos := g.Open(vj)
		neg := g.Open(-vj)
		if math.Abs(pos-neg) > 1e-12 {
			t.Errorf("Open(%g)=%g != Open(%g)=%g", vj, pos, -vj, neg)
		}
	}
}

func TestOpenClosesWithVoltage(t *testing.T) {
	g := Gating{VoltageGated: true, VThresh: 40, VGrad: 30, MinOpen: 0.02}
	prev := g.Open(0)
	for _, vj := range []float64{0.02, 0.04, 0.08, 0.15} {
		cur := g.Open(vj)
		if cur >= prev {
			t.Errorf("Open should fall with |Vj|: Open(%g)=%g >= %g", vj, cur, prev)
		}
		prev = cur
	}
	// Saturates at the residual fraction.
	if got := g.Open(1.0); math.Abs(got-g.MinOpen) > 1e-9 {
		t.Errorf("Open at saturating voltage = %g, want MinOpen %g", got, g.MinOpen)
	}
}

func TestOpenBounds(t *testing.T) {
	g := Gating{VoltageGated: true, VThresh: 15, VGrad: 5, MinOpen: 0.1}
	for vj := -0.2; vj <= 0.2; vj += 0.001 {
		open := g.Open(vj)
		if open < g.MinOpen || open > 1 {
			t.Fatalf("Open(%g) = %g outside [%g, 1]", vj, open, g.MinOpen)
		}
	}
}

func TestFluxAntisymmetry(t *testing.T) {
	// Swapping the two sides must negate the flux exactly.
	cA, cB := 12.0, 7.0
	vA, vB := -0.05, -0.02
	f := Flux(cA, cB, vA, vB, 1e-17, 2e-8, 1, bodyTemp)
	r := Flux(cB, cA, vB, vA, 1e-17, 2e-8, 1, bodyTemp)
	if math.Abs(f+r) > 1e-12*math.Abs(f) {
		t.Errorf("Flux not antisymmetric: %g vs %g", f, r)
	}
}

func TestFluxFollowsConcentrationGradient(t *testing.T) {
	// No voltage difference: pure diffusion from the rich side.
	f := Flux(10.0, 5.0, -0.05, -0.05, 1e-17, 2e-8, 1, bodyTemp)
	if f <= 0 {
		t.Errorf("flux A->B expected for cA > cB, got %g", f)
	}
	if back := Flux(5.0, 10.0, -0.05, -0.05, 1e-17, 2e-8, 1, bodyTemp); back >= 0 {
		t.Errorf("flux B->A expected for cA < cB, got %g", back)
	}
}

func TestFluxZeroAtEquilibrium(t *testing.T) {
	f := Flux(8.0, 8.0, -0.04, -0.04, 1e-17, 2e-8, 1, bodyTemp)
	if f != 0 {
		t.Errorf("flux = %g at identical sides, want 0", f)
	}
}

func TestFluxVoltageDrivesCations(t *testing.T) {
	// Equal concentrations, B more negative than A: cations flow A->B.
	f := Flux(8.0, 8.0, 0, -0.05, 1e-17, 2e-8, 1, bodyTemp)
	if f <= 0 {
		t.Errorf("cation flux toward negative side expected, got %g", f)
	}
	// Anions go the other way.
	fa := Flux(8.0, 8.0, 0, -0.05, 1e-17, 2e-8, -1, bodyTemp)
	if fa >= 0 {
		t.Errorf("anion flux away from negative side expected, got %g", fa)
	}
}

func TestLinkFluxFickianWithoutField(t *testing.T) {
	f := LinkFlux(145.0, 100.0, 0, 0, 1.33e-9, 1e-5, 1, bodyTemp)
	want := -(1.33e-9 / 1e-5) * (100.0 - 145.0)
	if math.Abs(f-want) > 1e-9*math.Abs(want) {
		t.Errorf("LinkFlux = %g, want Fickian %g", f, want)
	}
}
