package ion

import (
	"math"
	"testing"
)

const bodyTemp = 310.0

func TestNernstPotassium(t *testing.T) {
	// Classic K+ reversal near -92 mV at mammalian concentrations.
	v := Nernst(4.5, 139.0, 1, bodyTemp)
	if v > -0.085 || v < -0.100 {
		t.Errorf("K+ Nernst potential = %.4f V, want about -0.092 V", v)
	}
}

func TestNernstSignFollowsValence(t *testing.T) {
	vK := Nernst(4.5, 139.0, 1, bodyTemp)
	vCl := Nernst(115.0, 4.0, -1, bodyTemp)
	if vK >= 0 {
		t.Errorf("K+ potential should be negative, got %f", vK)
	}
	if vCl >= 0 {
		t.Errorf("Cl- potential should be negative, got %f", vCl)
	}
}

func TestElectrofluxDiffusionLimit(t *testing.T) {
	// Zero voltage must reduce to Fick's law.
	got := Electroflux(10.0, 2.0, 1e-9, 1e-6, 1, 0, bodyTemp)
	want := -(1e-9 / 1e-6) * (2.0 - 10.0)
	if math.Abs(got-want) > math.Abs(want)*1e-9 {
		t.Errorf("diffusion limit flux = %g, want %g", got, want)
	}
}

func TestElectrofluxContinuousAtZeroVoltage(t *testing.T) {
	// The small-alpha branch must join the full expression smoothly.
	f0 := Electroflux(10.0, 2.0, 1e-9, 1e-6, 1, 0, bodyTemp)
	fEps := Electroflux(10.0, 2.0, 1e-9, 1e-6, 1, 1e-9, bodyTemp)
	if math.Abs(f0-fEps) > math.Abs(f0)*1e-4 {
		t.Errorf("discontinuity at V=0: f(0)=%g f(1nV)=%g", f0, fEps)
	}
}

func TestElectrofluxZeroAtNernstEquilibrium(t *testing.T) {
	cOut, cIn := 145.0, 10.0
	vrev := Nernst(cOut, cIn, 1, bodyTemp)
	f := Electroflux(cOut, cIn, 1e-9, 1e-6, 1, vrev, bodyTemp)
	// At the reversal potential, net electrodiffusive flux vanishes.
	scale := Electroflux(cOut, cIn, 1e-9, 1e-6, 1, 0, bodyTemp)
	if math.Abs(f) > math.Abs(scale)*1e-6 {
		t.Errorf("flux at reversal potential = %g, want ~0 (scale %g)", f, scale)
	}
}

func TestElectrofluxClampsNonPositiveConcentrations(t *testing.T) {
	for _, c := range []float64{0, -5} {
		f := Electroflux(c, c, 1e-9, 1e-6, 1, -0.05, bodyTemp)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			t.Errorf("flux with conc %f is non-finite: %g", c, f)
		}
	}
}

func TestDefaultsElectroneutralityRoughlyHolds(t *testing.T) {
	var qCell, qEnv float64
	for _, s := range Defaults() {
		qCell += s.Valence * s.CellConc
		qEnv += s.Valence * s.EnvConc
	}
	if math.Abs(qCell) > 5.0 {
		t.Errorf("cytosolic baseline far from electroneutral: %f mM net charge", qCell)
	}
	if math.Abs(qEnv) > 5.0 {
		t.Errorf("environment baseline far from electroneutral: %f mM net charge", qEnv)
	}
}

func TestByName(t *testing.T) {
	s, err := ByName("Na")
	if err != nil {
		t.Fatalf("ByName(Na): %v", err)
	}
	if s.Valence != 1 {
		t.Errorf("Na valence = %f, want 1", s.Valence)
	}
	if _, err := ByName("Xe"); err == nil {
		t.Error("ByName(Xe) should fail")
	}
}
