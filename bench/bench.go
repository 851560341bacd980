// Package bench provides benchmark nonlinear programs for exercising the
// sqp solver, with analytic gradients, Jacobians, and Lagrangian Hessians.
package bench

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/vruge/sqp"
)

// Problem is the common surface of a benchmark NLP.
type Problem interface {
	Name() string
	Objective() sqp.Func
	Start() []float64
}

var All = []Problem{
	Rosenbrock{},
	HS071{},
	IndefQuad{},
	LinEqQP{},
}

// Rosenbrock is the banana-valley function
//
//	f(x, y) = 100(y - x^2)^2 + (1 - x)^2
//
// unconstrained, with minimum 0 at (1, 1).
type Rosenbrock struct{}

func (Rosenbrock) Name() string { return "Rosenbrock" }

func (Rosenbrock) Start() []float64 { return []float64{-1.2, 1} }

func (Rosenbrock) Optimum() ([]float64, float64) { return []float64{1, 1}, 0 }

func (Rosenbrock) Objective() sqp.Func {
	return sqp.Objective{
		N: 2,
		F: func(x []float64) float64 {
			return 100*(x[1]-x[0]*x[0])*(x[1]-x[0]*x[0]) + (1-x[0])*(1-x[0])
		},
		Grad: func(grad, x []float64) {
			grad[0] = -400*x[0]*(x[1]-x[0]*x[0]) - 2*(1-x[0])
			grad[1] = 200 * (x[1] - x[0]*x[0])
		},
	}
}

func (Rosenbrock) Hessian() sqp.Hessianer {
	return sqp.LagHessian(func(dst *mat.SymDense, x, mu []float64, sigmaF float64) {
		dst.SetSym(0, 0, sigmaF*(1200*x[0]*x[0]-400*x[1]+2))
		dst.SetSym(0, 1, sigmaF*(-400*x[0]))
		dst.SetSym(1, 1, sigmaF*200)
	})
}

// HS071 is problem 71 from the Hock-Schittkowski collection:
//
//	min  x1*x4*(x1+x2+x3) + x3
//	s.t. x1*x2*x3*x4 >= 25
//	     x1^2 + x2^2 + x3^2 + x4^2 = 40
//	     1 <= x <= 5
//
// with optimum f* = 17.0140173 at (1, 4.74299963, 3.82114998, 1.37940829).
type HS071 struct{}

func (HS071) Name() string { return "HS071" }

func (HS071) Start() []float64 { return []float64{1, 5, 5, 1} }

func (HS071) Optimum() ([]float64, float64) {
	return []float64{1, 4.74299963, 3.82114998, 1.37940829}, 17.0140173
}

func (HS071) Bounds() (lbx, ubx []float64) {
	return []float64{1, 1, 1, 1}, []float64{5, 5, 5, 5}
}

func (HS071) ConstraintBounds() (lbg, ubg []float64) {
	return []float64{25, 40}, []float64{math.Inf(1), 40}
}

func (HS071) Objective() sqp.Func {
	return sqp.Objective{
		N: 4,
		F: func(x []float64) float64 {
			return x[0]*x[3]*(x[0]+x[1]+x[2]) + x[2]
		},
		Grad: func(grad, x []float64) {
			grad[0] = x[3] * (2*x[0] + x[1] + x[2])
			grad[1] = x[0] * x[3]
			grad[2] = x[0]*x[3] + 1
			grad[3] = x[0] * (x[0] + x[1] + x[2])
		},
	}
}

func (HS071) Constraints() sqp.Func {
	return sqp.Constraints{
		N: 4, M: 2,
		F: func(g, x []float64) {
			g[0] = x[0] * x[1] * x[2] * x[3]
			g[1] = x[0]*x[0] + x[1]*x[1] + x[2]*x[2] + x[3]*x[3]
		},
		Jac: func(dst *mat.Dense, x []float64) {
			dst.Set(0, 0, x[1]*x[2]*x[3])
			dst.Set(0, 1, x[0]*x[2]*x[3])
			dst.Set(0, 2, x[0]*x[1]*x[3])
			dst.Set(0, 3, x[0]*x[1]*x[2])
			dst.Set(1, 0, 2*x[0])
			dst.Set(1, 1, 2*x[1])
			dst.Set(1, 2, 2*x[2])
			dst.Set(1, 3, 2*x[3])
		},
	}
}

func (HS071) Hessian() sqp.Hessianer {
	return sqp.LagHessian(func(dst *mat.SymDense, x, mu []float64, sigmaF float64) {
		dst.SetSym(0, 0, sigmaF*2*x[3]+mu[1]*2)
		dst.SetSym(0, 1, sigmaF*x[3]+mu[0]*x[2]*x[3])
		dst.SetSym(0, 2, sigmaF*x[3]+mu[0]*x[1]*x[3])
		dst.SetSym(0, 3, sigmaF*(2*x[0]+x[1]+x[2])+mu[0]*x[1]*x[2])
		dst.SetSym(1, 1, mu[1]*2)
		dst.SetSym(1, 2, mu[0]*x[0]*x[3])
		dst.SetSym(1, 3, sigmaF*x[0]+mu[0]*x[0]*x[2])
		dst.SetSym(2, 2, mu[1]*2)
		dst.SetSym(2, 3, sigmaF*x[0]+mu[0]*x[0]*x[1])
		dst.SetSym(3, 3, mu[1]*2)
	})
}

// ConvexQuad is the strictly convex quadratic f(x) = 1/2 x'Qx - b'x,
// unconstrained, with minimum at Q^-1 b.
type ConvexQuad struct {
	Q *mat.SymDense
	B []float64
}

func (ConvexQuad) Name() string { return "ConvexQuad" }

func (q ConvexQuad) Start() []float64 { return make([]float64, len(q.B)) }

// Solution returns Q^-1 b.
func (q ConvexQuad) Solution() []float64 {
	n := len(q.B)
	var ch mat.Cholesky
	if !ch.Factorize(q.Q) {
		panic("bench: ConvexQuad Q is not positive definite")
	}
	out := mat.NewVecDense(n, nil)
	if err := ch.SolveVecTo(out, mat.NewVecDense(n, q.B)); err != nil {
		panic(err)
	}
	return out.RawVector().Data
}

func (q ConvexQuad) Objective() sqp.Func {
	n := len(q.B)
	return sqp.Objective{
		N: n,
		F: func(x []float64) float64 {
			v := 0.0
			for i := 0; i < n; i++ {
				for j := 0; j < n; j++ {
					v += 0.5 * x[i] * q.Q.At(i, j) * x[j]
				}
				v -= q.B[i] * x[i]
			}
			return v
		},
		Grad: func(grad, x []float64) {
			for i := 0; i < n; i++ {
				d := -q.B[i]
				for j := 0; j < n; j++ {
					d += q.Q.At(i, j) * x[j]
				}
				grad[i] = d
			}
		},
	}
}

func (q ConvexQuad) Hessian() sqp.Hessianer {
	return sqp.LagHessian(func(dst *mat.SymDense, x, mu []float64, sigmaF float64) {
		n := len(q.B)
		for i := 0; i < n; i++ {
			for j := i; j < n; j++ {
				dst.SetSym(i, j, sigmaF*q.Q.At(i, j))
			}
		}
	})
}

// IndefQuad is the indefinite quadratic
//
//	f(x) = 1/2 (x1^2 - 0.1 x2^2)   s.t.  x1 + x2 = 1
//
// used to trigger indefiniteness detection and regularization.
type IndefQuad struct{}

func (IndefQuad) Name() string { return "IndefQuad" }

func (IndefQuad) Start() []float64 { return []float64{1, 1} }

func (IndefQuad) Objective() sqp.Func {
	return sqp.Objective{
		N: 2,
		F: func(x []float64) float64 {
			return 0.5 * (x[0]*x[0] - 0.1*x[1]*x[1])
		},
		Grad: func(grad, x []float64) {
			grad[0] = x[0]
			grad[1] = -0.1 * x[1]
		},
	}
}

func (IndefQuad) Constraints() sqp.Func {
	return sqp.Constraints{
		N: 2, M: 1,
		F: func(g, x []float64) {
			g[0] = x[0] + x[1]
		},
		Jac: func(dst *mat.Dense, x []float64) {
			dst.Set(0, 0, 1)
			dst.Set(0, 1, 1)
		},
	}
}

func (IndefQuad) ConstraintBounds() (lbg, ubg []float64) {
	return []float64{1}, []float64{1}
}

func (IndefQuad) Hessian() sqp.Hessianer {
	return sqp.LagHessian(func(dst *mat.SymDense, x, mu []float64, sigmaF float64) {
		dst.SetSym(0, 0, sigmaF*1)
		dst.SetSym(0, 1, 0)
		dst.SetSym(1, 1, sigmaF*-0.1)
	})
}

// LinEqQP is a strictly convex quadratic with one linear equality
//
//	min  1/2 x'Qx - b'x   s.t.  x1 + x2 = 1
//
// with Q = [3 1; 1 2], b = (1, 1).  Its KKT system is linear, so exact
// SQP reproduces the solution in a single iteration.
type LinEqQP struct{}

func (LinEqQP) Name() string { return "LinEqQP" }

func (LinEqQP) Start() []float64 { return []float64{0, 0} }

func (LinEqQP) quad() ConvexQuad {
	return ConvexQuad{
		Q: mat.NewSymDense(2, []float64{3, 1, 1, 2}),
		B: []float64{1, 1},
	}
}

func (p LinEqQP) Objective() sqp.Func { return p.quad().Objective() }

func (p LinEqQP) Hessian() sqp.Hessianer { return p.quad().Hessian() }

func (LinEqQP) Constraints() sqp.Func {
	return sqp.Constraints{
		N: 2, M: 1,
		F: func(g, x []float64) {
			g[0] = x[0] + x[1]
		},
		Jac: func(dst *mat.Dense, x []float64) {
			dst.Set(0, 0, 1)
			dst.Set(0, 1, 1)
		},
	}
}

func (LinEqQP) ConstraintBounds() (lbg, ubg []float64) {
	return []float64{1}, []float64{1}
}

// Solution solves the KKT system [Q a'; a 0][x nu] = [b c] directly.
func (LinEqQP) Solution() []float64 {
	k := mat.NewDense(3, 3, []float64{
		3, 1, 1,
		1, 2, 1,
		1, 1, 0,
	})
	rhs := mat.NewVecDense(3, []float64{1, 1, 1})
	var lu mat.LU
	lu.Factorize(k)
	out := mat.NewVecDense(3, nil)
	if err := lu.SolveVecTo(out, false, rhs); err != nil {
		panic(err)
	}
	return []float64{out.AtVec(0), out.AtVec(1)}
}
