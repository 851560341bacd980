package sqp

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// eqTol is the bound gap below which a two-sided constraint is treated as
// an equality.
const eqTol = 1e-20

// kktChecker evaluates the first-order optimality of an iterate.
type kktChecker struct {
	tolPr, tolDu float64
}

// primalInf sums the violations of the general constraints and of the
// variable bounds.  Equality rows (upper-lower < eqTol) contribute their
// absolute residual.  The bound term is counted even for problems without
// general constraints.
func (k kktChecker) primalInf(x, lbx, ubx, g, lbg, ubg []float64) float64 {
	inf := 0.0
	for j := range g {
		switch {
		case ubg[j]-lbg[j] < eqTol:
			inf += math.Abs(g[j] - lbg[j])
		case lbg[j]-g[j] > 0:
			inf += lbg[j] - g[j]
		case g[j]-ubg[j] > 0:
			inf += g[j] - ubg[j]
		}
	}
	for i := range x {
		switch {
		case ubx[i]-lbx[i] < eqTol:
			inf += math.Abs(x[i] - lbx[i])
		case lbx[i]-x[i] > 0:
			inf += lbx[i] - x[i]
		case x[i]-ubx[i] > 0:
			inf += x[i] - ubx[i]
		}
	}
	return inf
}

// dualInf is the 1-norm of the Lagrangian gradient.
func (k kktChecker) dualInf(gLag []float64) float64 {
	return floats.Norm(gLag, 1)
}

// converged reports whether both infeasibilities are below tolerance.
func (k kktChecker) converged(prInf, duInf float64) bool {
	return prInf < k.tolPr && duInf < k.tolDu
}
