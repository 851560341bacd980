package sqp

import (
	"fmt"
	"math"
	"strings"
	"testing"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

func discardLog(string, ...interface{}) {}

func TestPowellDampInactive(t *testing.T) {
	// s'y well above 0.2*s'Bs: y passes through untouched.
	s := []float64{1, 0}
	y := []float64{1, 0}
	q := []float64{1, 0} // B = I
	yd := make([]float64, 2)
	omega := powellDamp(yd, s, y, q)
	if omega != 1 {
		t.Errorf("omega = %v, want 1", omega)
	}
	if !floats.Equal(yd, y) {
		t.Errorf("damped y = %v, want %v", yd, y)
	}
}

func TestPowellDampActive(t *testing.T) {
	// Negative curvature pair: damping must pull s'y back up to exactly
	// 0.2*s'Bs while keeping omega in (0, 1].
	s := []float64{1, 0}
	y := []float64{-0.5, 0}
	q := []float64{1, 0} // B = I, so s'Bs = 1
	yd := make([]float64, 2)
	omega := powellDamp(yd, s, y, q)
	if omega <= 0 || omega > 1 {
		t.Errorf("omega = %v, want within (0, 1]", omega)
	}
	sy := floats.Dot(s, yd)
	if math.Abs(sy-0.2) > 1e-12 {
		t.Errorf("damped s'y = %v, want 0.2*s'Bs = 0.2", sy)
	}
	if sy <= 0 {
		t.Errorf("damped s'y = %v, want positive for positive s'Bs", sy)
	}
}

func TestBFGSRestartCollapsesToDiagonal(t *testing.T) {
	hm := newHessianModel(2, false, false, nil, 2, discardLog)
	hm.b.SetSym(0, 0, 2)
	hm.b.SetSym(0, 1, 1)
	hm.b.SetSym(1, 1, 3)

	// iter 2 is a restart iteration: B collapses to diag(2, 3) before the
	// rank-2 update.  With s = y = e1 the collapsed q is (2, 0), no
	// damping triggers, and the update gives diag(2+1-2, 3).
	hm.update(2, []float64{1, 0}, []float64{1, 0})

	want := mat.NewSymDense(2, []float64{1, 0, 0, 3})
	if !mat.EqualApprox(hm.b, want, 1e-12) {
		t.Errorf("B after restart update =\n%v\nwant\n%v",
			mat.Formatted(hm.b), mat.Formatted(want))
	}
}

func TestBFGSUpdateNoRestart(t *testing.T) {
	hm := newHessianModel(2, false, false, nil, 10, discardLog)
	// B = I; s = e1, y = (2, 0): q = e1, s'y = 2, s'q = 1.
	hm.update(1, []float64{1, 0}, []float64{2, 0})

	// B + yy'/2 - qq'/1 = diag(1+2-1, 1)
	want := mat.NewSymDense(2, []float64{2, 0, 0, 1})
	if !mat.EqualApprox(hm.b, want, 1e-12) {
		t.Errorf("B = %v, want %v", mat.Formatted(hm.b), mat.Formatted(want))
	}
}

func TestBFGSSkipsVanishingDenominator(t *testing.T) {
	var logged strings.Builder
	logf := func(format string, args ...interface{}) {
		fmt.Fprintf(&logged, format+"\n", args...)
	}
	hm := newHessianModel(2, false, false, nil, 10, logf)

	hm.update(1, []float64{0, 0}, []float64{0, 0})

	want := mat.NewSymDense(2, []float64{1, 0, 0, 1})
	if !mat.EqualApprox(hm.b, want, 1e-15) {
		t.Errorf("B changed by a degenerate update: %v", mat.Formatted(hm.b))
	}
	if !strings.Contains(logged.String(), "skipped") {
		t.Errorf("degenerate update not logged; log: %q", logged.String())
	}
}

func TestGershgorinShift(t *testing.T) {
	hm := newHessianModel(2, true, true, nil, 10, discardLog)
	hm.b.SetSym(0, 0, 1)
	hm.b.SetSym(0, 1, -2)
	hm.b.SetSym(1, 1, 1)

	hm.shiftGershgorin()

	// tau = min(1-2, 1-2) = -1, so the diagonal moves up by 1.
	for i := 0; i < 2; i++ {
		radius := math.Abs(hm.b.At(i, 1-i))
		if lower := hm.b.At(i, i) - radius; lower < 0 {
			t.Errorf("row %v Gershgorin lower bound = %v, want >= 0", i, lower)
		}
	}
	if hm.b.At(0, 0) != 2 {
		t.Errorf("B[0,0] = %v, want 2", hm.b.At(0, 0))
	}
	if hm.b.At(0, 1) != -2 {
		t.Errorf("off-diagonal changed by regularization: %v", hm.b.At(0, 1))
	}
}

func TestGershgorinNoShiftWhenDiagonallyDominant(t *testing.T) {
	hm := newHessianModel(2, true, true, nil, 10, discardLog)
	hm.b.SetSym(0, 0, 3)
	hm.b.SetSym(0, 1, 1)
	hm.b.SetSym(1, 1, 2)

	hm.shiftGershgorin()

	want := mat.NewSymDense(2, []float64{3, 1, 1, 2})
	if !mat.EqualApprox(hm.b, want, 0) {
		t.Errorf("diagonally dominant B was shifted: %v", mat.Formatted(hm.b))
	}
}

func TestGainDetectsNegativeCurvature(t *testing.T) {
	hm := newHessianModel(2, false, false, nil, 10, discardLog)
	hm.b.SetSym(1, 1, -0.1)

	if g := hm.gain([]float64{0, 1}); g >= 0 {
		t.Errorf("gain = %v, want negative", g)
	}
	if g := hm.gain([]float64{1, 0}); g != 1 {
		t.Errorf("gain = %v, want 1", g)
	}
}
