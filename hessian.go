package sqp

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// denominator guard for the rank-2 update; divisions below this magnitude
// would overwhelm B with roundoff, so the update of that iteration is
// skipped and logged instead of applied.
const bfgsEps = 1e-30

// hessianModel maintains the Lagrangian Hessian approximation B.  It runs
// in one of two modes: exact, where B is recomputed from the user Hessian
// each iteration and optionally shifted so every Gershgorin disk is
// nonnegative, or damped BFGS, where B starts at the identity and absorbs
// (s, y) pairs with a periodic collapse to its diagonal.
type hessianModel struct {
	n          int
	exact      bool
	regularize bool
	hess       Hessianer
	restart    int
	b          *mat.SymDense
	logf       func(format string, args ...interface{})

	// scratch for the BFGS update
	q, yd []float64
}

func newHessianModel(n int, exact, regularize bool, hess Hessianer, restart int, logf func(string, ...interface{})) *hessianModel {
	hm := &hessianModel{
		n:          n,
		exact:      exact,
		regularize: regularize,
		hess:       hess,
		restart:    restart,
		b:          mat.NewSymDense(n, nil),
		logf:       logf,
		q:          make([]float64, n),
		yd:         make([]float64, n),
	}
	for i := 0; i < n; i++ {
		hm.b.SetSym(i, i, 1)
	}
	return hm
}

func (hm *hessianModel) matrix() *mat.SymDense { return hm.b }

// refresh recomputes B at (x, mu) in exact mode.  In BFGS mode B carries
// over from the previous iteration.
func (hm *hessianModel) refresh(x, mu []float64) error {
	if !hm.exact {
		return nil
	}
	if err := hm.hess.Hessian(hm.b, x, mu, 1); err != nil {
		return err
	}
	if hm.regularize {
		hm.shiftGershgorin()
	}
	return nil
}

// shiftGershgorin adds the smallest multiple of the identity that makes
// every Gershgorin disk of B nonnegative.  This is a sufficient bound for
// positive semidefiniteness, not the smallest possible shift.
func (hm *hessianModel) shiftGershgorin() {
	tau := 0.0
	for i := 0; i < hm.n; i++ {
		radius := 0.0
		for j := 0; j < hm.n; j++ {
			if j != i {
				radius += math.Abs(hm.b.At(i, j))
			}
		}
		if mineig := hm.b.At(i, i) - radius; mineig < tau {
			tau = mineig
		}
	}
	if tau < 0 {
		for i := 0; i < hm.n; i++ {
			hm.b.SetSym(i, i, hm.b.At(i, i)-tau)
		}
	}
}

// gain returns p'Bp, used to detect indefinite search directions.
func (hm *hessianModel) gain(p []float64) float64 {
	hm.mulVec(hm.q, p)
	return floats.Dot(p, hm.q)
}

func (hm *hessianModel) mulVec(dst, v []float64) {
	for i := 0; i < hm.n; i++ {
		d := 0.0
		for j := 0; j < hm.n; j++ {
			d += hm.b.At(i, j) * v[j]
		}
		dst[i] = d
	}
}

// powellDamp interpolates y toward q = Bs so that the BFGS update keeps
// positive definiteness, writing the damped vector into yd and returning
// the interpolation weight omega.  Powell's condition s'y >= 0.2*s'Bs
// leaves y untouched (omega = 1).
func powellDamp(yd, s, y, q []float64) (omega float64) {
	sy := floats.Dot(s, y)
	sq := floats.Dot(s, q)
	omega = 1.0
	if sy < 0.2*sq {
		omega = 0.8 * sq / (sq - sy)
	}
	for i := range yd {
		yd[i] = omega*y[i] + (1-omega)*q[i]
	}
	return omega
}

// update absorbs the pair s = x_new - x_old, y = gLag_new - gLag_old into
// B with Powell damping.  iter is the 1-indexed outer iteration; every
// restart-th iteration B is collapsed to its diagonal before the rank-2
// update of that iteration.  No-op in exact mode.
func (hm *hessianModel) update(iter int, s, y []float64) {
	if hm.exact {
		return
	}
	if iter%hm.restart == 0 {
		for i := 0; i < hm.n; i++ {
			for j := i + 1; j < hm.n; j++ {
				hm.b.SetSym(i, j, 0)
			}
		}
	}

	hm.mulVec(hm.q, s)
	powellDamp(hm.yd, s, y, hm.q)

	sy := floats.Dot(s, hm.yd)
	sq := floats.Dot(s, hm.q)
	if math.Abs(sy) < bfgsEps || math.Abs(sq) < bfgsEps {
		hm.logf("BFGS update skipped: vanishing curvature denominator (s'y=%v, s'Bs=%v)", sy, sq)
		return
	}
	if sy <= 0 {
		hm.logf("BFGS curvature condition violated after damping (s'y=%v)", sy)
	}

	yv := mat.NewVecDense(hm.n, hm.yd)
	qv := mat.NewVecDense(hm.n, hm.q)
	hm.b.SymRankOne(hm.b, 1/sy, yv)
	hm.b.SymRankOne(hm.b, -1/sq, qv)
}
