package sqp

import (
	"math"
	"testing"
)

func TestPrimalInfUnconstrained(t *testing.T) {
	k := kktChecker{tolPr: 1e-6, tolDu: 1e-6}

	// No general constraints: only bound violations count.
	lbx := []float64{0, 0}
	ubx := []float64{1, 1}
	if v := k.primalInf([]float64{0.5, 0.5}, lbx, ubx, nil, nil, nil); v != 0 {
		t.Errorf("interior point infeasibility = %v, want 0", v)
	}
	if v, want := k.primalInf([]float64{-0.25, 1.5}, lbx, ubx, nil, nil, nil), 0.75; v != want {
		t.Errorf("bound infeasibility = %v, want %v", v, want)
	}
}

func TestPrimalInfEqualityConstraint(t *testing.T) {
	k := kktChecker{}

	// ubg == lbg: the residual counts with its absolute value, not as a
	// one-sided violation.
	lbg := []float64{1}
	ubg := []float64{1}
	if v, want := k.primalInf(nil, nil, nil, []float64{0.4}, lbg, ubg), 0.6; math.Abs(v-want) > 1e-15 {
		t.Errorf("equality residual = %v, want %v", v, want)
	}
	if v, want := k.primalInf(nil, nil, nil, []float64{1.4}, lbg, ubg), 0.4; math.Abs(v-want) > 1e-15 {
		t.Errorf("equality residual = %v, want %v", v, want)
	}
}

func TestPrimalInfInequalityConstraint(t *testing.T) {
	k := kktChecker{}
	lbg := []float64{0}
	ubg := []float64{2}
	if v := k.primalInf(nil, nil, nil, []float64{1}, lbg, ubg); v != 0 {
		t.Errorf("feasible constraint infeasibility = %v, want 0", v)
	}
	if v := k.primalInf(nil, nil, nil, []float64{-1}, lbg, ubg); v != 1 {
		t.Errorf("lower violation = %v, want 1", v)
	}
	if v := k.primalInf(nil, nil, nil, []float64{3}, lbg, ubg); v != 1 {
		t.Errorf("upper violation = %v, want 1", v)
	}
}

func TestDualInf(t *testing.T) {
	k := kktChecker{}
	if v := k.dualInf([]float64{1, -2, 0.5}); v != 3.5 {
		t.Errorf("dual infeasibility = %v, want 3.5", v)
	}
}

func TestConverged(t *testing.T) {
	k := kktChecker{tolPr: 1e-6, tolDu: 1e-6}
	if !k.converged(1e-7, 1e-7) {
		t.Errorf("tight iterate not accepted")
	}
	if k.converged(1e-5, 1e-7) {
		t.Errorf("primal-infeasible iterate accepted")
	}
	if k.converged(1e-7, 1e-5) {
		t.Errorf("dual-infeasible iterate accepted")
	}
}
