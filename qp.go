package sqp

import (
	"sort"

	"gonum.org/v1/gonum/mat"
)

// Sparsity describes a row-compressed nonzero pattern.  A nil Ptr means the
// matrix is dense.
type Sparsity struct {
	Rows, Cols int
	// Ptr has length Rows+1; Ind holds the column index of every nonzero,
	// row by row.
	Ptr, Ind []int
}

// Dense returns a fully dense pattern.
func Dense(rows, cols int) Sparsity {
	return Sparsity{Rows: rows, Cols: cols}
}

// IsDense reports whether every entry of the pattern is structurally
// nonzero.
func (sp Sparsity) IsDense() bool { return sp.Ptr == nil }

// Nnz returns the number of structural nonzeros.
func (sp Sparsity) Nnz() int {
	if sp.IsDense() {
		return sp.Rows * sp.Cols
	}
	return len(sp.Ind)
}

// UnionDiag returns the pattern with a full diagonal added, guaranteeing a
// structurally nonzero diagonal.
func (sp Sparsity) UnionDiag() Sparsity {
	if sp.IsDense() {
		return sp
	}
	out := Sparsity{Rows: sp.Rows, Cols: sp.Cols, Ptr: make([]int, 1, sp.Rows+1)}
	for i := 0; i < sp.Rows; i++ {
		row := append([]int{}, sp.Ind[sp.Ptr[i]:sp.Ptr[i+1]]...)
		if i < sp.Cols {
			found := false
			for _, j := range row {
				if j == i {
					found = true
					break
				}
			}
			if !found {
				row = append(row, i)
				sort.Ints(row)
			}
		}
		out.Ind = append(out.Ind, row...)
		out.Ptr = append(out.Ptr, len(out.Ind))
	}
	return out
}

// QPProblem is the input slot set of one quadratic subproblem
//
//	min  1/2 p'Hp + G'p
//	s.t. LBA <= Ap <= UBA
//	     LBX <= p  <= UBX
//
// The bounds arrive already shifted to the step coordinates; solvers must
// not re-shift them.
type QPProblem struct {
	H *mat.SymDense
	G []float64
	// A is nil when the problem has no general constraints.
	A        *mat.Dense
	LBA, UBA []float64
	LBX, UBX []float64
	// XInit is the primal hot start; nil on the first iteration.
	XInit []float64
	// LambdaInit is reserved.  Dual hot-starting is deferred.
	LambdaInit []float64
}

// QPSolution holds the output slots of a QP solve.  Multipliers are
// positive for active upper bounds and negative for active lower bounds,
// so that Hp + G + A'LambdaA + LambdaX = 0 at the solution.
type QPSolution struct {
	Primal  []float64
	LambdaA []float64
	LambdaX []float64
}

// QPSolver solves one quadratic subproblem per call.  The solver is owned
// exclusively by the driver for the duration of a solve and need not be
// reentrant.
type QPSolver interface {
	Solve(p *QPProblem) (*QPSolution, error)
}

// QPFactory constructs a QP solver sized for the given Hessian and
// constraint Jacobian patterns.  The constraint pattern has zero rows when
// the problem is unconstrained.
type QPFactory func(hsp, asp Sparsity) (QPSolver, error)

// Configurable QP solvers accept options forwarded from the driver's
// QPOptions setting.
type Configurable interface {
	SetOption(name string, value interface{}) error
}
