package sqp

import (
	"bytes"
	"strings"
	"testing"
)

func countingObjective(n *int) Objective {
	return Objective{
		N: 2,
		F: func(x []float64) float64 {
			*n++
			return x[0]*x[0] + x[1]*x[1]
		},
		Grad: func(grad, x []float64) {
			grad[0] = 2 * x[0]
			grad[1] = 2 * x[1]
		},
	}
}

func TestObjectiveAdapter(t *testing.T) {
	calls := 0
	o := countingObjective(&calls)

	v, err := o.Value([]float64{1, 2})
	if err != nil || v[0] != 5 {
		t.Fatalf("Value = %v, %v; want [5], nil", v, err)
	}

	_, jv, err := o.Forward([]float64{1, 2}, []float64{1, 1})
	if err != nil || jv[0] != 6 {
		t.Errorf("Forward directional derivative = %v, want 6", jv)
	}

	_, grad, err := o.Reverse([]float64{1, 2}, []float64{1})
	if err != nil || grad[0] != 2 || grad[1] != 4 {
		t.Errorf("Reverse gradient = %v, want [2 4]", grad)
	}
}

func TestCachedFuncMemoizesValues(t *testing.T) {
	calls := 0
	c := NewCachedFunc(countingObjective(&calls))

	x := []float64{1, 2}
	v1, _ := c.Value(x)
	v2, _ := c.Value(x)
	if v1[0] != v2[0] {
		t.Errorf("cached value differs: %v vs %v", v1, v2)
	}
	if calls != 1 {
		t.Errorf("underlying evaluations = %v, want 1", calls)
	}

	c.Value([]float64{3, 4})
	if calls != 2 {
		t.Errorf("distinct point did not evaluate: calls = %v", calls)
	}
}

func TestCachedFuncParamFlushesCache(t *testing.T) {
	calls := 0
	c := NewCachedFunc(countingObjective(&calls))
	c.Value([]float64{1, 2})
	c.SetParam(nil)
	c.Value([]float64{1, 2})
	if calls != 2 {
		t.Errorf("cache survived a parameter change: calls = %v", calls)
	}
}

func TestTraceFunc(t *testing.T) {
	var buf bytes.Buffer
	calls := 0
	tf := &TraceFunc{Func: countingObjective(&calls), Name: "f", W: &buf}

	tf.Value([]float64{1, 2})
	tf.Value([]float64{0, 0})

	if tf.Count != 2 {
		t.Errorf("Count = %v, want 2", tf.Count)
	}
	if out := buf.String(); !strings.Contains(out, "f 1 ") || !strings.Contains(out, "f 2 ") {
		t.Errorf("trace output missing counts:\n%s", out)
	}
}
