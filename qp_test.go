package sqp

import (
	"reflect"
	"testing"
)

func TestUnionDiagDense(t *testing.T) {
	sp := Dense(3, 3)
	if got := sp.UnionDiag(); !got.IsDense() {
		t.Errorf("dense pattern lost density: %+v", got)
	}
	if sp.Nnz() != 9 {
		t.Errorf("Nnz = %v, want 9", sp.Nnz())
	}
}

func TestUnionDiagSparse(t *testing.T) {
	// pattern {(0,1), (1,0)}: the diagonal is missing entirely
	sp := Sparsity{
		Rows: 2, Cols: 2,
		Ptr: []int{0, 1, 2},
		Ind: []int{1, 0},
	}
	got := sp.UnionDiag()
	wantPtr := []int{0, 2, 4}
	wantInd := []int{0, 1, 0, 1}
	if !reflect.DeepEqual(got.Ptr, wantPtr) || !reflect.DeepEqual(got.Ind, wantInd) {
		t.Errorf("UnionDiag = %+v, want Ptr %v Ind %v", got, wantPtr, wantInd)
	}
	if got.Nnz() != 4 {
		t.Errorf("Nnz = %v, want 4", got.Nnz())
	}
}

func TestUnionDiagKeepsExistingDiagonal(t *testing.T) {
	sp := Sparsity{
		Rows: 2, Cols: 2,
		Ptr: []int{0, 2, 3},
		Ind: []int{0, 1, 1},
	}
	got := sp.UnionDiag()
	if got.Nnz() != 3 {
		t.Errorf("Nnz = %v, want 3 (no duplicate diagonal entries)", got.Nnz())
	}
}
