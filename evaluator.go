package sqp

import (
	"crypto/sha1"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Func is a smooth vector function v = F(x) together with its directional
// derivatives.  Implementations return results; they never write into
// solver-owned buffers.  Returned slices must remain valid until the next
// call on the same Func.
type Func interface {
	// Dims reports the input and output dimensions of the function.
	Dims() (nx, nv int)

	// Value evaluates F(x).
	Value(x []float64) ([]float64, error)

	// Forward evaluates F(x) along with the forward directional derivative
	// J(x)*seed, where J is the Jacobian of F.
	Forward(x, seed []float64) (v, jv []float64, err error)

	// Reverse evaluates F(x) along with the adjoint product J(x)^T*seed.
	Reverse(x, seed []float64) (v, vjp []float64, err error)
}

// Jacobianer is the capability of producing a full Jacobian.  The solver
// requires it of the constraint function whenever the problem has general
// constraints.
type Jacobianer interface {
	Jacobian(dst *mat.Dense, x []float64) error
}

// Hessianer evaluates the Lagrangian Hessian
//
//	sigmaF*D2f(x) + sum_j mu[j]*D2g_j(x)
//
// into dst.  The solver always passes sigmaF = 1.
type Hessianer interface {
	Hessian(dst *mat.SymDense, x, mu []float64, sigmaF float64) error
}

// Parametric is implemented by evaluators of parametric problems.  The
// solver latches the problem parameter once at the start of Solve; it is
// never changed mid-iteration.
type Parametric interface {
	SetParam(p []float64)
}

// SparsityPatterner optionally reports the nonzero pattern of an
// evaluator's matrix output, used to size the QP solver at construction.
type SparsityPatterner interface {
	Sparsity() Sparsity
}

// Objective adapts a scalar function and its gradient to Func.  Reverse
// with seed 1 yields the gradient; Forward with seed p yields the
// directional derivative grad(x).p.
type Objective struct {
	N    int
	F    func(x []float64) float64
	Grad func(grad, x []float64)
}

func (o Objective) Dims() (int, int) { return o.N, 1 }

func (o Objective) Value(x []float64) ([]float64, error) {
	return []float64{o.F(x)}, nil
}

func (o Objective) Forward(x, seed []float64) (v, jv []float64, err error) {
	grad := make([]float64, o.N)
	o.Grad(grad, x)
	d := 0.0
	for i, gi := range grad {
		d += gi * seed[i]
	}
	return []float64{o.F(x)}, []float64{d}, nil
}

func (o Objective) Reverse(x, seed []float64) (v, vjp []float64, err error) {
	grad := make([]float64, o.N)
	o.Grad(grad, x)
	if seed[0] != 1 {
		for i := range grad {
			grad[i] *= seed[0]
		}
	}
	return []float64{o.F(x)}, grad, nil
}

// Constraints adapts a vector function and its dense Jacobian to Func and
// Jacobianer.
type Constraints struct {
	N, M int
	F    func(g, x []float64)
	Jac  func(dst *mat.Dense, x []float64)
}

func (c Constraints) Dims() (int, int) { return c.N, c.M }

func (c Constraints) Value(x []float64) ([]float64, error) {
	g := make([]float64, c.M)
	c.F(g, x)
	return g, nil
}

func (c Constraints) Jacobian(dst *mat.Dense, x []float64) error {
	c.Jac(dst, x)
	return nil
}

func (c Constraints) Forward(x, seed []float64) (v, jv []float64, err error) {
	jac := mat.NewDense(c.M, c.N, nil)
	c.Jac(jac, x)
	jv = make([]float64, c.M)
	for i := 0; i < c.M; i++ {
		d := 0.0
		for j := 0; j < c.N; j++ {
			d += jac.At(i, j) * seed[j]
		}
		jv[i] = d
	}
	g := make([]float64, c.M)
	c.F(g, x)
	return g, jv, nil
}

func (c Constraints) Reverse(x, seed []float64) (v, vjp []float64, err error) {
	jac := mat.NewDense(c.M, c.N, nil)
	c.Jac(jac, x)
	vjp = make([]float64, c.N)
	for j := 0; j < c.N; j++ {
		d := 0.0
		for i := 0; i < c.M; i++ {
			d += jac.At(i, j) * seed[i]
		}
		vjp[j] = d
	}
	g := make([]float64, c.M)
	c.F(g, x)
	return g, vjp, nil
}

// LagHessian adapts a closure to Hessianer.
type LagHessian func(dst *mat.SymDense, x, mu []float64, sigmaF float64)

func (h LagHessian) Hessian(dst *mat.SymDense, x, mu []float64, sigmaF float64) error {
	h(dst, x, mu, sigmaF)
	return nil
}

func hashVec(x []float64) [sha1.Size]byte {
	data := make([]byte, len(x)*8)
	for i, v := range x {
		binary.BigEndian.PutUint64(data[i*8:], math.Float64bits(v))
	}
	return sha1.Sum(data)
}

// CachedFunc wraps a Func and memoizes Value calls by the argument vector.
// Derivative calls pass through uncached.  Useful when the line search
// revisits points, or when value and derivative passes at the same point
// are split across calls.
type CachedFunc struct {
	fn    Func
	cache map[[sha1.Size]byte][]float64
}

func NewCachedFunc(fn Func) *CachedFunc {
	return &CachedFunc{
		fn:    fn,
		cache: map[[sha1.Size]byte][]float64{},
	}
}

func (c *CachedFunc) Dims() (int, int) { return c.fn.Dims() }

func (c *CachedFunc) Value(x []float64) ([]float64, error) {
	h := hashVec(x)
	if v, ok := c.cache[h]; ok {
		return v, nil
	}
	v, err := c.fn.Value(x)
	if err != nil {
		return v, err
	}
	stored := make([]float64, len(v))
	copy(stored, v)
	c.cache[h] = stored
	return stored, nil
}

func (c *CachedFunc) Forward(x, seed []float64) (v, jv []float64, err error) {
	return c.fn.Forward(x, seed)
}

func (c *CachedFunc) Reverse(x, seed []float64) (v, vjp []float64, err error) {
	return c.fn.Reverse(x, seed)
}

func (c *CachedFunc) Jacobian(dst *mat.Dense, x []float64) error {
	if j, ok := c.fn.(Jacobianer); ok {
		return j.Jacobian(dst, x)
	}
	return errors.New("sqp: wrapped function has no Jacobian")
}

// SetParam forwards the parameter and drops all cached values, which were
// computed under the previous parameter.
func (c *CachedFunc) SetParam(p []float64) {
	if pf, ok := c.fn.(Parametric); ok {
		pf.SetParam(p)
	}
	c.cache = map[[sha1.Size]byte][]float64{}
}

// TraceFunc wraps a Func and prints every Value evaluation with a running
// count.  The solver's eval_* monitors do not use it; they print their own
// dumps.
type TraceFunc struct {
	Func
	Name  string
	W     io.Writer
	Count int
}

func (tf *TraceFunc) Value(x []float64) ([]float64, error) {
	v, err := tf.Func.Value(x)
	tf.Count++
	fmt.Fprint(tf.W, tf.Name, " ", tf.Count, " ")
	for _, xi := range x {
		fmt.Fprint(tf.W, xi, " ")
	}
	fmt.Fprintln(tf.W, "   ", v)
	return v, err
}
