package tensor

import (
	"math"
	"testing"
)

func tensorOf(t *testing.T, shape []int, data []float32) *Tensor {
	t.Helper()
	out, err := NewTensor(shape, Float32, data)
	if err != nil {
		t.Fatalf("Failed to create tensor: %v", err)
	}
	return out
}

func checkValues(t *testing.T, got *Tensor, expected []float32, tol float64) {
	t.Helper()
	data := got.Data.([]float32)
	if len(data) != len(expected) {
		t.Fatalf("Expected %d values, got %d", len(expected), len(data))
	}
	for i := range expected {
		if math.Abs(float64(data[i]-expected[i])) > tol {
			t.Errorf("value %d = %f, expected %f", i, data[i], expected[i])
		}
	}
}

func TestAdd(t *testing.T) {
	a := tensorOf(t, []int{2, 2}, []float32{1, 2, 3, 4})
	b := tensorOf(t, []int{2, 2}, []float32{5, 6, 7, 8})

	result, err := Add(a, b)
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	checkValues(t, result, []float32{6, 8, 10, 12}, 0)
}

func TestSub(t *testing.T) {
	a := tensorOf(t, []int{3}, []float32{5, 7, 9})
	b := tensorOf(t, []int{3}, []float32{1, 2, 3})

	result, err := Sub(a, b)
	if err != nil {
		t.Fatalf("Sub failed: %v", err)
	}
	checkValues(t, result, []float32{4, 5, 6}, 0)
}

func TestMul(t *testing.T) {
	a := tensorOf(t, []int{3}, []float32{1, 2, 3})
	b := tensorOf(t, []int{3}, []float32{4, 5, 6})

	result, err := Mul(a, b)
	if err != nil {
		t.Fatalf("Mul failed: %v", err)
	}
	checkValues(t, result, []float32{4, 10, 18}, 0)
}

func TestDiv(t *testing.T) {
	a := tensorOf(t, []int{3}, []float32{6, 9, 12})
	b := tensorOf(t, []int{3}, []float32{2, 3, 4})

	result, err := Div(a, b)
	if err != nil {
		t.Fatalf("Div failed: %v", err)
	}
	checkValues(t, result, []float32{3, 3, 3}, 1e-6)
}

func TestReLU(t *testing.T) {
	a := tensorOf(t, []int{4}, []float32{-2, -0.5, 0, 3})

	result, err := ReLU(a)
	if err != nil {
		t.Fatalf("ReLU failed: %v", err)
	}
	checkValues(t, result, []float32{0, 0, 0, 3}, 0)
}

func TestSigmoid(t *testing.T) {
	a := tensorOf(t, []int{3}, []float32{0, 100, -100})

	result, err := Sigmoid(a)
	if err != nil {
		t.Fatalf("Sigmoid failed: %v", err)
	}
	checkValues(t, result, []float32{0.5, 1, 0}, 1e-5)
}

func TestTanh(t *testing.T) {
	a := tensorOf(t, []int{2}, []float32{0, 100})

	result, err := Tanh(a)
	if err != nil {
		t.Fatalf("Tanh failed: %v", err)
	}
	checkValues(t, result, []float32{0, 1}, 1e-5)
}

func TestExpAndLog(t *testing.T) {
	a := tensorOf(t, []int{2}, []float32{0, 1})

	exp, err := Exp(a)
	if err != nil {
		t.Fatalf("Exp failed: %v", err)
	}
	checkValues(t, exp, []float32{1, float32(math.E)}, 1e-5)

	back, err := Log(exp)
	if err != nil {
		t.Fatalf("Log failed: %v", err)
	}
	checkValues(t, back, []float32{0, 1}, 1e-5)
}

func TestScaleAndAddScalar(t *testing.T) {
	a := tensorOf(t, []int{3}, []float32{1, 2, 3})

	scaled, err := Scale(a, 2)
	if err != nil {
		t.Fatalf("Scale failed: %v", err)
	}
	checkValues(t, scaled, []float32{2, 4, 6}, 0)

	shifted, err := AddScalar(a, 10)
	if err != nil {
		t.Fatalf("AddScalar failed: %v", err)
	}
	checkValues(t, shifted, []float32{11, 12, 13}, 0)
}

func TestBroadcastShapes(t *testing.T) {
	shape, err := BroadcastShapes([]int{4, 1}, []int{3})
	if err != nil {
		t.Fatalf("BroadcastShapes failed: %v", err)
	}
	if len(shape) != 2 || shape[0] != 4 || shape[1] != 3 {
		t.Errorf("Expected [4 3], got %v", shape)
	}

	if _, err := BroadcastShapes([]int{3}, []int{4}); err == nil {
		t.Error("Expected error for incompatible shapes")
	}
}

func TestBroadcastTensor(t *testing.T) {
	a := tensorOf(t, []int{1, 3}, []float32{1, 2, 3})

	expanded, err := BroadcastTensor(a, []int{2, 3})
	if err != nil {
		t.Fatalf("BroadcastTensor failed: %v", err)
	}
	checkValues(t, expanded, []float32{1, 2, 3, 1, 2, 3}, 0)
}
