// Package boxqp provides a dense convex quadratic-programming solver for
// subproblems of the form
//
//	min  1/2 p'Hp + g'p
//	s.t. lba <= Ap <= uba
//	     lbx <= p  <= ubx
//
// solved by an infeasible-start primal-dual interior-point iteration on
// the slack form.  Two-sided rows whose bound gap is below 1e-20 are
// treated as equalities with a free multiplier.  The package satisfies
// the sqp QP subsolver contract, including the shifted-bounds convention
// and the multiplier sign convention Hp + g + A'lambdaA + lambdaX = 0.
package boxqp

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/vruge/sqp"
)

// ErrNotConverged is returned when the interior-point iteration exhausts
// its budget with residuals still far from tolerance.
var ErrNotConverged = errors.New("boxqp: interior point iteration did not converge")

const (
	eqTol     = 1e-20
	centering = 0.1
	stepScale = 0.995
	// residuals this loose after the full budget are a genuine failure
	// rather than slow tail convergence.
	acceptTol = 1e-6
)

// Solver is a dense primal-dual interior-point QP solver.  One instance is
// constructed per (Hessian, Jacobian) pattern pair and reused across
// solves; it holds no per-solve state.
type Solver struct {
	n, m    int
	maxIter int
	tol     float64
}

// New constructs a solver for the given Hessian and constraint patterns.
// It is an sqp.QPFactory.
func New(hsp, asp sqp.Sparsity) (sqp.QPSolver, error) {
	if hsp.Rows != hsp.Cols {
		return nil, fmt.Errorf("boxqp: Hessian pattern must be square, got %vx%v", hsp.Rows, hsp.Cols)
	}
	if asp.Cols != hsp.Cols {
		return nil, fmt.Errorf("boxqp: constraint pattern has %v columns, want %v", asp.Cols, hsp.Cols)
	}
	return &Solver{n: hsp.Cols, m: asp.Rows, maxIter: 100, tol: 1e-10}, nil
}

// SetOption accepts "maxiter" (int) and "tol" (float64).
func (s *Solver) SetOption(name string, value interface{}) error {
	switch name {
	case "maxiter":
		v, ok := value.(int)
		if !ok || v <= 0 {
			return fmt.Errorf("boxqp: maxiter wants a positive int, got %v", value)
		}
		s.maxIter = v
	case "tol":
		v, ok := value.(float64)
		if !ok || v <= 0 {
			return fmt.Errorf("boxqp: tol wants a positive float64, got %v", value)
		}
		s.tol = v
	default:
		return fmt.Errorf("boxqp: unknown option %q", name)
	}
	return nil
}

// row provenance, used to fold the one-sided multipliers back into the
// signed LambdaA/LambdaX outputs.
type rowKind int

const (
	conUpper rowKind = iota
	conLower
	bndUpper
	bndLower
)

type ineqRow struct {
	kind rowKind
	idx  int
	a    []float64
	d    float64
}

type eqRow struct {
	bound bool
	idx   int
	a     []float64
	b     float64
}

func bnd(b []float64, i int, def float64) float64 {
	if b == nil {
		return def
	}
	return b[i]
}

// Solve runs the interior-point iteration.  The returned multipliers are
// positive for active upper bounds and negative for active lower bounds;
// equality rows carry their free multiplier directly.
func (s *Solver) Solve(p *sqp.QPProblem) (*sqp.QPSolution, error) {
	n := s.n
	if p.H == nil || p.H.SymmetricDim() != n {
		return nil, fmt.Errorf("boxqp: Hessian must be %vx%v", n, n)
	}
	if len(p.G) != n {
		return nil, fmt.Errorf("boxqp: gradient has length %v, want %v", len(p.G), n)
	}
	m := 0
	if p.A != nil {
		r, c := p.A.Dims()
		if c != n {
			return nil, fmt.Errorf("boxqp: constraint matrix has %v columns, want %v", c, n)
		}
		m = r
	}

	var ineq []ineqRow
	var eq []eqRow
	for j := 0; j < m; j++ {
		aj := mat.Row(nil, j, p.A)
		lo, hi := p.LBA[j], p.UBA[j]
		if hi-lo < eqTol {
			eq = append(eq, eqRow{idx: j, a: aj, b: hi})
			continue
		}
		if !math.IsInf(hi, 1) {
			ineq = append(ineq, ineqRow{kind: conUpper, idx: j, a: aj, d: hi})
		}
		if !math.IsInf(lo, -1) {
			neg := make([]float64, n)
			floats.AddScaled(neg, -1, aj)
			ineq = append(ineq, ineqRow{kind: conLower, idx: j, a: neg, d: -lo})
		}
	}
	for i := 0; i < n; i++ {
		lo := bnd(p.LBX, i, math.Inf(-1))
		hi := bnd(p.UBX, i, math.Inf(1))
		if hi-lo < eqTol {
			ei := make([]float64, n)
			ei[i] = 1
			eq = append(eq, eqRow{bound: true, idx: i, a: ei, b: hi})
			continue
		}
		if !math.IsInf(hi, 1) {
			ei := make([]float64, n)
			ei[i] = 1
			ineq = append(ineq, ineqRow{kind: bndUpper, idx: i, a: ei, d: hi})
		}
		if !math.IsInf(lo, -1) {
			ei := make([]float64, n)
			ei[i] = -1
			ineq = append(ineq, ineqRow{kind: bndLower, idx: i, a: ei, d: -lo})
		}
	}
	mc, me := len(ineq), len(eq)

	z := make([]float64, n)
	if p.XInit != nil {
		copy(z, p.XInit)
	}
	nu := make([]float64, me)
	lam := make([]float64, mc)
	sl := make([]float64, mc)
	cz := make([]float64, mc)
	for i, r := range ineq {
		cz[i] = floats.Dot(r.a, z)
		sl[i] = math.Max(1, r.d-cz[i])
		lam[i] = 1
	}

	rd := make([]float64, n)
	rp := make([]float64, mc)
	re := make([]float64, me)
	w := make([]float64, mc)
	hz := make([]float64, n)
	dim := n + me
	kkt := mat.NewDense(dim, dim, nil)
	rhs := mat.NewVecDense(dim, nil)
	dzv := mat.NewVecDense(dim, nil)
	var lu mat.LU

	scale := 1 + floats.Norm(p.G, math.Inf(1))
	tol := s.tol * scale

	converged := false
	for it := 0; it < s.maxIter; it++ {
		// Residuals.
		for i := 0; i < n; i++ {
			d := 0.0
			for j := 0; j < n; j++ {
				d += p.H.At(i, j) * z[j]
			}
			hz[i] = d
		}
		copy(rd, hz)
		floats.Add(rd, p.G)
		for i, r := range ineq {
			cz[i] = floats.Dot(r.a, z)
			floats.AddScaled(rd, lam[i], r.a)
			rp[i] = cz[i] + sl[i] - r.d
		}
		for k, r := range eq {
			floats.AddScaled(rd, nu[k], r.a)
			re[k] = floats.Dot(r.a, z) - r.b
		}
		gap := 0.0
		if mc > 0 {
			gap = floats.Dot(lam, sl) / float64(mc)
		}
		if maxAbs(rd) < tol && maxAbs(re) < tol && maxAbs(rp) < tol && gap < tol {
			converged = true
			break
		}

		// Newton system on (dz, dnu) after eliminating (ds, dlam).
		mu := centering * gap
		kkt.Zero()
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				kkt.Set(i, j, p.H.At(i, j))
			}
		}
		for i, r := range ineq {
			di := lam[i] / sl[i]
			for a := 0; a < n; a++ {
				if r.a[a] == 0 {
					continue
				}
				for b := 0; b < n; b++ {
					if r.a[b] != 0 {
						kkt.Set(a, b, kkt.At(a, b)+di*r.a[a]*r.a[b])
					}
				}
			}
		}
		for k, r := range eq {
			for a := 0; a < n; a++ {
				kkt.Set(a, n+k, r.a[a])
				kkt.Set(n+k, a, r.a[a])
			}
		}
		for i := range ineq {
			rc := lam[i]*sl[i] - mu
			w[i] = (rc - lam[i]*rp[i]) / sl[i]
		}
		for a := 0; a < n; a++ {
			v := -rd[a]
			for i, r := range ineq {
				v += r.a[a] * w[i]
			}
			rhs.SetVec(a, v)
		}
		for k := range eq {
			rhs.SetVec(n+k, -re[k])
		}

		lu.Factorize(kkt)
		if err := lu.SolveVecTo(dzv, false, rhs); err != nil {
			return nil, fmt.Errorf("boxqp: singular KKT system: %w", err)
		}

		alpha := 1.0
		dlam := make([]float64, mc)
		dsl := make([]float64, mc)
		for i, r := range ineq {
			cdz := 0.0
			for a := 0; a < n; a++ {
				cdz += r.a[a] * dzv.AtVec(a)
			}
			dlam[i] = -w[i] + lam[i]/sl[i]*cdz
			dsl[i] = -rp[i] - cdz
			if dsl[i] < 0 {
				alpha = math.Min(alpha, -stepScale*sl[i]/dsl[i])
			}
			if dlam[i] < 0 {
				alpha = math.Min(alpha, -stepScale*lam[i]/dlam[i])
			}
		}

		for a := 0; a < n; a++ {
			z[a] += alpha * dzv.AtVec(a)
		}
		for k := range eq {
			nu[k] += alpha * dzv.AtVec(n+k)
		}
		for i := range ineq {
			lam[i] += alpha * dlam[i]
			sl[i] += alpha * dsl[i]
		}
	}

	if !converged {
		loose := acceptTol * scale
		gap := 0.0
		if mc > 0 {
			gap = floats.Dot(lam, sl) / float64(mc)
		}
		if maxAbs(rd) > loose || maxAbs(re) > loose || maxAbs(rp) > loose || gap > loose {
			return nil, ErrNotConverged
		}
	}

	out := &sqp.QPSolution{
		Primal:  z,
		LambdaA: make([]float64, m),
		LambdaX: make([]float64, n),
	}
	for i, r := range ineq {
		switch r.kind {
		case conUpper:
			out.LambdaA[r.idx] += lam[i]
		case conLower:
			out.LambdaA[r.idx] -= lam[i]
		case bndUpper:
			out.LambdaX[r.idx] += lam[i]
		case bndLower:
			out.LambdaX[r.idx] -= lam[i]
		}
	}
	for k, r := range eq {
		if r.bound {
			out.LambdaX[r.idx] = nu[k]
		} else {
			out.LambdaA[r.idx] = nu[k]
		}
	}
	return out, nil
}

func maxAbs(v []float64) float64 {
	max := 0.0
	for _, x := range v {
		if a := math.Abs(x); a > max {
			max = a
		}
	}
	return max
}
