// Package sqp solves smooth constrained nonlinear programs
//
//	minimize   f(x)
//	subject to lbg <= g(x) <= ubg
//	           lbx <=  x   <= ubx
//
// by sequential quadratic programming: at each iterate a quadratic model
// built on a Lagrangian Hessian model is solved by a pluggable QP
// subsolver, and the step is globalized by a
// nonmonotone l1 merit-function line search.  The Hessian model is either
// the exact Lagrangian Hessian with optional Gershgorin regularization or
// a Powell-damped BFGS approximation with periodic restart.
package sqp

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Problem holds the data of one solve.  Nil bound slices mean unbounded.
type Problem struct {
	X0       []float64
	LBX, UBX []float64
	LBG, UBG []float64
	// P is the static parameter of a parametric problem; it is latched
	// into the evaluators once at the start of Solve.
	P []float64
}

// Iterate is the per-iteration view passed to callbacks.  The slices alias
// solver-owned buffers and are only valid for the duration of the call.
type Iterate struct {
	Iter          int
	F             float64
	X, Mu, MuX, G []float64
	Sigma         float64
	Step          float64
}

// Callback is polled at the end of every iteration.  Returning true aborts
// the solve.
type Callback func(it *Iterate) bool

// Status describes how a solve terminated.
type Status int

const (
	Converged Status = iota
	MaxIterReached
	Aborted
)

func (s Status) String() string {
	switch s {
	case Converged:
		return "convergence achieved"
	case MaxIterReached:
		return "maximum number of iterations reached"
	case Aborted:
		return "aborted by callback"
	}
	return fmt.Sprintf("unknown status %v", int(s))
}

// Result holds the terminal iterate of a solve.
type Result struct {
	F             float64
	X, Mu, MuX, G []float64
	Status        Status
	IterCount     int
}

// Option configures a Solver.
type Option func(*Solver)

// QP selects the QP subsolver factory.  Required.
func QP(factory QPFactory) Option { return func(s *Solver) { s.qpFactory = factory } }

// QPOptions forwards settings to the QP solver instance, which must
// implement Configurable.
func QPOptions(opts map[string]interface{}) Option {
	return func(s *Solver) { s.qpOpts = opts }
}

// Exact selects exact-Hessian mode using h for the Lagrangian Hessian.
// The default mode is the damped BFGS approximation.
func Exact(h Hessianer) Option {
	return func(s *Solver) {
		s.exact = true
		s.hess = h
	}
}

// Regularize enables the Gershgorin diagonal shift in exact-Hessian mode.
func Regularize() Option { return func(s *Solver) { s.regularize = true } }

// MaxIter caps the number of outer iterations.  Default 50.
func MaxIter(n int) Option { return func(s *Solver) { s.maxIter = n } }

// MaxIterLS caps the number of line-search trials per iteration.  Default 3.
func MaxIterLS(n int) Option { return func(s *Solver) { s.maxIterLS = n } }

// TolPr sets the primal infeasibility tolerance.  Default 1e-6.
func TolPr(tol float64) Option { return func(s *Solver) { s.tolPr = tol } }

// TolDu sets the dual infeasibility tolerance.  Default 1e-6.
func TolDu(tol float64) Option { return func(s *Solver) { s.tolDu = tol } }

// C1 sets the Armijo sufficient-decrease coefficient.  Default 1e-4.
func C1(c float64) Option { return func(s *Solver) { s.c1 = c } }

// Beta sets the backtracking contraction ratio.  Default 0.8.
func Beta(b float64) Option { return func(s *Solver) { s.beta = b } }

// MeritMemory sets the nonmonotone merit window size.  Default 4.
func MeritMemory(k int) Option { return func(s *Solver) { s.meritMem = k } }

// LBFGSMemory sets the BFGS restart period.  Default 10.
func LBFGSMemory(k int) Option { return func(s *Solver) { s.lbfgsMem = k } }

// Monitor enables diagnostic dumps.  Recognized names: eval_f, eval_g,
// eval_jac_g, eval_grad_f, eval_h, qp, dx.
func Monitor(names ...string) Option {
	return func(s *Solver) {
		for _, n := range names {
			s.monitor[n] = true
		}
	}
}

// Log redirects the iteration log.  Default os.Stdout.
func Log(w io.Writer) Option { return func(s *Solver) { s.w = w } }

// DB attaches a database; every accepted iterate is recorded to the
// sqpiters table.
func DB(db *sql.DB) Option { return func(s *Solver) { s.db = db } }

// OnIterate installs a callback polled at the end of every iteration.
func OnIterate(cb Callback) Option { return func(s *Solver) { s.cb = cb } }

// Solver drives the SQP iteration.  Configure it with New and reuse it
// across solves; all per-solve state lives in Solve.
type Solver struct {
	f Func // objective, R^n -> R
	g Func // constraints, R^n -> R^m; nil when unconstrained
	n int
	m int

	jacg Jacobianer

	qpFactory QPFactory
	qpOpts    map[string]interface{}
	qp        QPSolver

	hess       Hessianer
	exact      bool
	regularize bool

	maxIter   int
	maxIterLS int
	tolPr     float64
	tolDu     float64
	c1        float64
	beta      float64
	meritMem  int
	lbfgsMem  int

	monitor map[string]bool
	w       io.Writer
	db      *sql.DB
	cb      Callback
}

// New builds a solver for objective f and constraint function g; pass a
// nil g for unconstrained problems.  The QP subsolver is constructed here,
// sized by the Hessian and Jacobian sparsity patterns.
func New(f Func, g Func, opts ...Option) (*Solver, error) {
	if f == nil {
		return nil, errors.New("sqp: objective function is required")
	}
	n, nf := f.Dims()
	if nf != 1 {
		return nil, fmt.Errorf("sqp: objective must be scalar valued, got output dimension %v", nf)
	}

	s := &Solver{
		f:         f,
		g:         g,
		n:         n,
		maxIter:   50,
		maxIterLS: 3,
		tolPr:     1e-6,
		tolDu:     1e-6,
		c1:        1e-4,
		beta:      0.8,
		meritMem:  4,
		lbfgsMem:  10,
		monitor:   map[string]bool{},
		w:         os.Stdout,
	}
	for _, opt := range opts {
		opt(s)
	}

	if g != nil {
		ng, m := g.Dims()
		if ng != n {
			return nil, fmt.Errorf("sqp: constraint function takes %v variables, objective takes %v", ng, n)
		}
		s.m = m
		jacg, ok := g.(Jacobianer)
		if !ok {
			return nil, errors.New("sqp: constraint function must provide a Jacobian")
		}
		s.jacg = jacg
	}
	if s.exact && s.hess == nil {
		return nil, errors.New("sqp: exact Hessian mode requested but no Hessian evaluator supplied")
	}
	if s.regularize && !s.exact {
		return nil, errors.New("sqp: regularization applies to exact Hessian mode only")
	}
	if s.qpFactory == nil {
		return nil, errors.New("sqp: no QP solver configured")
	}

	// The QP Hessian pattern always carries a full diagonal so the
	// regularization shift and the BFGS identity start stay structural.
	hsp := Dense(n, n)
	if s.exact {
		if sp, ok := s.hess.(SparsityPatterner); ok {
			hsp = sp.Sparsity()
		}
	}
	hsp = hsp.UnionDiag()

	asp := Sparsity{Rows: 0, Cols: n}
	if s.m > 0 {
		asp = Dense(s.m, n)
		if sp, ok := g.(SparsityPatterner); ok {
			asp = sp.Sparsity()
		}
	}

	qp, err := s.qpFactory(hsp, asp)
	if err != nil {
		return nil, fmt.Errorf("sqp: constructing QP solver: %w", err)
	}
	if len(s.qpOpts) > 0 {
		c, ok := qp.(Configurable)
		if !ok {
			return nil, errors.New("sqp: QP solver does not accept options")
		}
		for name, val := range s.qpOpts {
			if err := c.SetOption(name, val); err != nil {
				return nil, fmt.Errorf("sqp: QP solver option %q: %w", name, err)
			}
		}
	}
	s.qp = qp
	return s, nil
}

const logHeader = "   It.     obj           pr_inf        du_inf        corr_norm    stepsize     ls-trials\n"

func (s *Solver) logf(format string, args ...interface{}) {
	fmt.Fprintf(s.w, format+"\n", args...)
}

func (s *Solver) dumpVec(name string, v []float64) {
	fmt.Fprintf(s.w, "(main loop) %s = %v\n", name, v)
}

func (s *Solver) dumpMat(name string, m mat.Matrix) {
	fmt.Fprintf(s.w, "(main loop) %s =\n%v\n", name, mat.Formatted(m, mat.Prefix("  "), mat.Squeeze()))
}

// fullBound expands a possibly nil user bound to length n, filling missing
// entries with def.
func fullBound(b []float64, n int, def float64) ([]float64, error) {
	if b == nil {
		out := make([]float64, n)
		for i := range out {
			out[i] = def
		}
		return out, nil
	}
	if len(b) != n {
		return nil, fmt.Errorf("sqp: bound has length %v, want %v", len(b), n)
	}
	return append([]float64(nil), b...), nil
}

// lagGrad writes the Lagrangian gradient grad f(at) + Jg(at)'mu + muX into
// dst via one reverse pass of f and, for constrained problems, one adjoint
// pass of g seeded with mu.
func (s *Solver) lagGrad(dst, at, mu, muX []float64) error {
	_, vjp, err := s.f.Reverse(at, []float64{1})
	if err != nil {
		return err
	}
	copy(dst, vjp)
	if s.m > 0 {
		_, jtmu, err := s.g.Reverse(at, mu)
		if err != nil {
			return err
		}
		floats.Add(dst, jtmu)
	}
	floats.Add(dst, muX)
	return nil
}

// Solve runs the SQP iteration from p.X0 until convergence, the iteration
// cap, or a callback abort.  QP subsolver failures abort the solve and are
// returned; no recovery is attempted.
func (s *Solver) Solve(p *Problem) (*Result, error) {
	n, m := s.n, s.m
	if p == nil || len(p.X0) != n {
		return nil, fmt.Errorf("sqp: initial point must have length %v", n)
	}
	lbx, err := fullBound(p.LBX, n, math.Inf(-1))
	if err != nil {
		return nil, err
	}
	ubx, err := fullBound(p.UBX, n, math.Inf(1))
	if err != nil {
		return nil, err
	}
	lbg, err := fullBound(p.LBG, m, math.Inf(-1))
	if err != nil {
		return nil, err
	}
	ubg, err := fullBound(p.UBG, m, math.Inf(1))
	if err != nil {
		return nil, err
	}
	for i := range lbx {
		if lbx[i] > ubx[i] {
			return nil, fmt.Errorf("sqp: lower bound exceeds upper bound for variable %v", i)
		}
	}
	for j := range lbg {
		if lbg[j] > ubg[j] {
			return nil, fmt.Errorf("sqp: lower bound exceeds upper bound for constraint %v", j)
		}
	}

	if p.P != nil {
		for _, fn := range []interface{}{s.f, s.g, s.hess} {
			if pf, ok := fn.(Parametric); ok {
				pf.SetParam(p.P)
			}
		}
	}

	// Working buffers, allocated once and reused every iteration.
	x := append([]float64(nil), p.X0...)
	xOld := make([]float64, n)
	xCand := make([]float64, n)
	mu := make([]float64, m)
	muX := make([]float64, n)
	gLag := make([]float64, n)
	gLagOld := make([]float64, n)
	gk := make([]float64, m)
	gCand := make([]float64, m)
	grad := make([]float64, n)
	sk := make([]float64, n)
	yk := make([]float64, n)
	qlbx := make([]float64, n)
	qubx := make([]float64, n)
	qlba := make([]float64, m)
	quba := make([]float64, m)
	var jac *mat.Dense
	if m > 0 {
		jac = mat.NewDense(m, n, nil)
	}
	var pk []float64 // last QP step; nil until the first solve enables hot starts

	hm := newHessianModel(n, s.exact, s.regularize, s.hess, s.lbfgsMem, s.logf)
	mt := newMeritTracker(s.meritMem)
	ls := lineSearch{c1: s.c1, beta: s.beta, maxTrials: s.maxIterLS}
	kkt := kktChecker{tolPr: s.tolPr, tolDu: s.tolDu}

	var rec *recorder
	if s.db != nil {
		if rec, err = newRecorder(s.db, n); err != nil {
			return nil, err
		}
	}

	if s.monitor["eval_h"] {
		fmt.Fprintf(s.w, "(pre) B =\n%v\n", mat.Formatted(hm.matrix(), mat.Prefix("  "), mat.Squeeze()))
	}

	fmt.Fprint(s.w, logHeader)
	fk := 0.0
	var status Status
	iter := 1
	for {
		if iter%10 == 0 {
			fmt.Fprint(s.w, logHeader)
		}

		// Refresh the Hessian model at the current point.
		if err := hm.refresh(x, mu); err != nil {
			return nil, fmt.Errorf("sqp: Hessian evaluation failed: %w", err)
		}
		if s.monitor["eval_h"] {
			s.dumpMat("B", hm.matrix())
		}

		// Constraint value and Jacobian.
		if m > 0 {
			gv, err := s.g.Value(x)
			if err != nil {
				return nil, fmt.Errorf("sqp: constraint evaluation failed: %w", err)
			}
			copy(gk, gv)
			if s.monitor["eval_g"] {
				s.dumpVec("x", x)
				s.dumpVec("G", gk)
			}
			if err := s.jacg.Jacobian(jac, x); err != nil {
				return nil, fmt.Errorf("sqp: constraint Jacobian failed: %w", err)
			}
			if s.monitor["eval_jac_g"] {
				s.dumpVec("x", x)
				s.dumpMat("J", jac)
			}
		}

		// Objective value and gradient in one reverse pass.
		fv, vjp, err := s.f.Reverse(x, []float64{1})
		if err != nil {
			return nil, fmt.Errorf("sqp: objective evaluation failed: %w", err)
		}
		fk = fv[0]
		copy(grad, vjp)
		if s.monitor["eval_f"] {
			s.dumpVec("x", x)
			fmt.Fprintf(s.w, "(main loop) F = %v\n", fk)
		}
		if s.monitor["eval_grad_f"] {
			s.dumpVec("x", x)
			s.dumpVec("gradF", grad)
		}

		// Assemble the QP subproblem around x.  Bounds are shifted to step
		// coordinates; raw bounds never reach the subsolver.
		for i := 0; i < n; i++ {
			qlbx[i] = lbx[i] - x[i]
			qubx[i] = ubx[i] - x[i]
		}
		qpp := &QPProblem{
			H:   hm.matrix(),
			G:   grad,
			LBX: qlbx,
			UBX: qubx,
		}
		if m > 0 {
			for j := 0; j < m; j++ {
				qlba[j] = lbg[j] - gk[j]
				quba[j] = ubg[j] - gk[j]
			}
			qpp.A = jac
			qpp.LBA = qlba
			qpp.UBA = quba
		}
		if pk != nil {
			qpp.XInit = pk
		}
		if s.monitor["qp"] {
			s.dumpMat("QP_H", qpp.H)
			if qpp.A != nil {
				s.dumpMat("QP_A", qpp.A)
				s.dumpVec("QP_LBA", qpp.LBA)
				s.dumpVec("QP_UBA", qpp.UBA)
			}
			s.dumpVec("QP_G", qpp.G)
			s.dumpVec("QP_LBX", qpp.LBX)
			s.dumpVec("QP_UBX", qpp.UBX)
		}

		sol, err := s.qp.Solve(qpp)
		if err != nil {
			return nil, fmt.Errorf("sqp: QP subproblem failed at iteration %v: %w", iter, err)
		}
		pk = append(pk[:0], sol.Primal...)
		if s.monitor["dx"] {
			s.dumpVec("dx", pk)
		}
		if hm.gain(pk) < 0 {
			s.logf("Warning: Indefinite Hessian detected...")
		}
		muQP := sol.LambdaA
		muXQP := sol.LambdaX

		// Penalty update from the QP constraint multipliers, then the merit
		// data at the current point.
		mt.updateSigma(muQP)
		l1 := l1Infeas(gk, lbg, ubg)
		_, jv, err := s.f.Forward(x, pk)
		if err != nil {
			return nil, fmt.Errorf("sqp: objective directional derivative failed: %w", err)
		}
		d1 := jv[0] - mt.sigma*l1
		mt.push(fk + mt.sigma*l1)

		cand, err := ls.run(mt.reference(), d1, mt.sigma, func(t float64) (float64, float64, error) {
			for i := 0; i < n; i++ {
				xCand[i] = x[i] + t*pk[i]
			}
			fv, err := s.f.Value(xCand)
			if err != nil {
				return 0, 0, err
			}
			l1c := 0.0
			if m > 0 {
				gv, err := s.g.Value(xCand)
				if err != nil {
					return 0, 0, err
				}
				copy(gCand, gv)
				l1c = l1Infeas(gCand, lbg, ubg)
			}
			return fv[0], l1c, nil
		})
		if err != nil {
			return nil, fmt.Errorf("sqp: line search evaluation failed: %w", err)
		}

		// Commit the candidate; multipliers move by a convex combination
		// damped with the accepted stepsize.
		copy(xOld, x)
		copy(x, xCand)
		fk = cand.f
		copy(gk, gCand)
		for j := 0; j < m; j++ {
			mu[j] = cand.t*muQP[j] + (1-cand.t)*mu[j]
		}
		for i := 0; i < n; i++ {
			muX[i] = cand.t*muXQP[i] + (1-cand.t)*muX[i]
		}

		// Lagrangian gradients at the new and old point feed the BFGS pair.
		if err := s.lagGrad(gLag, x, mu, muX); err != nil {
			return nil, fmt.Errorf("sqp: Lagrangian gradient failed: %w", err)
		}
		if err := s.lagGrad(gLagOld, xOld, mu, muX); err != nil {
			return nil, fmt.Errorf("sqp: Lagrangian gradient failed: %w", err)
		}
		floats.SubTo(sk, x, xOld)
		floats.SubTo(yk, gLag, gLagOld)
		hm.update(iter, sk, yk)

		prInf := kkt.primalInf(x, lbx, ubx, gk, lbg, ubg)
		duInf := kkt.dualInf(gLag)

		lsMark := ' '
		if cand.failed {
			lsMark = 'F'
		}
		fmt.Fprintf(s.w, "  %3d     %-10.3e    %-10.3e    %-10.3e    %-9.3e    %-9.3e    %d%c\n",
			iter, fk, prInf, duInf, floats.Norm(pk, 1), cand.t, cand.trials, lsMark)
		if rec != nil {
			if err := rec.record(iter, fk, prInf, duInf, floats.Norm(pk, 1), cand.t, cand.trials, cand.failed, x); err != nil {
				return nil, err
			}
		}

		if s.cb != nil {
			abort := s.cb(&Iterate{
				Iter:  iter,
				F:     fk,
				X:     x,
				Mu:    mu,
				MuX:   muX,
				G:     gk,
				Sigma: mt.sigma,
				Step:  cand.t,
			})
			if abort {
				s.logf("SQP: aborted by callback...")
				status = Aborted
				break
			}
		}

		if kkt.converged(prInf, duInf) {
			s.logf("SQP: Convergence achieved after %d iterations.", iter)
			status = Converged
			break
		}
		if iter == s.maxIter {
			s.logf("SQP: Maximum number of iterations reached, quiting...")
			status = MaxIterReached
			break
		}
		iter++
	}

	return &Result{
		F:         fk,
		X:         append([]float64(nil), x...),
		Mu:        append([]float64(nil), mu...),
		MuX:       append([]float64(nil), muX...),
		G:         append([]float64(nil), gk...),
		Status:    status,
		IterCount: iter,
	}, nil
}
