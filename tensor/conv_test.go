package tensor

import (
	"math"
	"testing"
)

func TestConv2D(t *testing.T) {
	// 3x3 input of ones, 2x2 kernel of ones: every window sums to 4.
	x := tensorOf(t, []int{1, 1, 3, 3}, []float32{1, 1, 1, 1, 1, 1, 1, 1, 1})
	w := tensorOf(t, []int{1, 1, 2, 2}, []float32{1, 1, 1, 1})

	out, err := Conv2D(x, w, nil, 1, 0, 1)
	if err != nil {
		t.Fatalf("Conv2D failed: %v", err)
	}
	if out.Shape[2] != 2 || out.Shape[3] != 2 {
		t.Fatalf("Expected spatial output 2x2, got %v", out.Shape)
	}
	checkValues(t, out, []float32{4, 4, 4, 4}, 1e-6)
}

func TestConv2DStridePaddingBias(t *testing.T) {
	x := tensorOf(t, []int{1, 1, 4, 4}, []float32{
		1, 2, 3, 4,
		5, 6, 7, 8,
		9, 10, 11, 12,
		13, 14, 15, 16,
	})
	w := tensorOf(t, []int{1, 1, 3, 3}, []float32{0, 0, 0, 0, 1, 0, 0, 0, 0})
	b := tensorOf(t, []int{1}, []float32{100})

	// Identity kernel with padding 1 and stride 2 samples the corners of
	// the even grid.
	out, err := Conv2D(x, w, b, 2, 1, 1)
	if err != nil {
		t.Fatalf("Conv2D failed: %v", err)
	}
	if out.Shape[2] != 2 || out.Shape[3] != 2 {
		t.Fatalf("Expected spatial output 2x2, got %v", out.Shape)
	}
	checkValues(t, out, []float32{101, 103, 109, 111}, 1e-6)
}

func TestConv2DGroups(t *testing.T) {
	// Two channels, two groups: each output channel sees only its own input.
	x := tensorOf(t, []int{1, 2, 2, 2}, []float32{
		1, 1, 1, 1, // channel 0
		2, 2, 2, 2, // channel 1
	})
	w := tensorOf(t, []int{2, 1, 2, 2}, []float32{
		1, 1, 1, 1,
		1, 1, 1, 1,
	})

	out, err := Conv2D(x, w, nil, 1, 0, 2)
	if err != nil {
		t.Fatalf("Grouped Conv2D failed: %v", err)
	}
	checkValues(t, out, []float32{4, 8}, 1e-6)
}

func TestConv2DArgErrors(t *testing.T) {
	x := tensorOf(t, []int{1, 2, 3, 3}, make([]float32, 18))
	w := tensorOf(t, []int{1, 1, 2, 2}, []float32{1, 1, 1, 1})

	// Channel mismatch: weight expects 1 input channel, x has 2.
	if _, err := Conv2D(x, w, nil, 1, 0, 1); err == nil {
		t.Error("Expected error for channel mismatch")
	}
}

func TestConv2DBackwardShapes(t *testing.T) {
	x := tensorOf(t, []int{2, 3, 5, 5}, make([]float32, 150))
	w := tensorOf(t, []int{4, 3, 3, 3}, make([]float32, 108))

	out, err := Conv2D(x, w, nil, 1, 1, 1)
	if err != nil {
		t.Fatalf("Conv2D failed: %v", err)
	}

	gradOut, err := Ones(out.Shape, Float32)
	if err != nil {
		t.Fatalf("Failed to create gradient: %v", err)
	}

	gx, gw, gb, err := Conv2DBackward(x, w, gradOut, 1, 1, 1, true, true, true)
	if err != nil {
		t.Fatalf("Conv2DBackward failed: %v", err)
	}
	if !shapesEqual(gx.Shape, x.Shape) {
		t.Errorf("Input gradient shape %v, expected %v", gx.Shape, x.Shape)
	}
	if !shapesEqual(gw.Shape, w.Shape) {
		t.Errorf("Weight gradient shape %v, expected %v", gw.Shape, w.Shape)
	}
	if gb == nil || gb.Shape[0] != 4 {
		t.Errorf("Bias gradient missing or misshapen")
	}
}

func TestConv2DGradientValues(t *testing.T) {
	// Single pixel, 1x1 kernel: out = x*w, so dout/dx = w and dout/dw = x.
	x := leafOf(t, []int{1, 1, 1, 1}, []float32{3})
	w := leafOf(t, []int{1, 1, 1, 1}, []float32{5})

	out := Conv2DAutograd(x, w, nil, 1, 0, 1)
	if out.Data.([]float32)[0] != 15 {
		t.Fatalf("Conv output = %f, expected 15", out.Data.([]float32)[0])
	}

	loss := MeanAllAutograd(out)
	if err := loss.Backward(); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}

	if g := gradOf(t, x); g[0] != 5 {
		t.Errorf("Input grad = %f, expected 5", g[0])
	}
	if g := gradOf(t, w); g[0] != 3 {
		t.Errorf("Weight grad = %f, expected 3", g[0])
	}
}

func TestMaxPool2D(t *testing.T) {
	x := tensorOf(t, []int{1, 1, 4, 4}, []float32{
		1, 2, 5, 6,
		3, 4, 7, 8,
		9, 10, 13, 14,
		11, 12, 15, 16,
	})

	out, indices, err := MaxPool2D(x, 2, 2, 0)
	if err != nil {
		t.Fatalf("MaxPool2D failed: %v", err)
	}
	checkValues(t, out, []float32{4, 8, 12, 16}, 0)

	// The gradient flows back only to the argmax positions.
	gradOut := tensorOf(t, []int{1, 1, 2, 2}, []float32{1, 1, 1, 1})
	gx, err := MaxPool2DBackward(x.Shape, gradOut, indices)
	if err != nil {
		t.Fatalf("MaxPool2DBackward failed: %v", err)
	}
	gxData := gx.Data.([]float32)
	var nonZero int
	for _, g := range gxData {
		if g != 0 {
			nonZero++
		}
	}
	if nonZero != 4 {
		t.Errorf("Expected 4 non-zero input gradients, got %d", nonZero)
	}
	// Value 4 sits at flat position 5.
	if gxData[5] != 1 {
		t.Errorf("Gradient at argmax = %f, expected 1", gxData[5])
	}
}

func TestAvgPool2D(t *testing.T) {
	x := tensorOf(t, []int{1, 1, 2, 2}, []float32{1, 2, 3, 4})

	out, err := AvgPool2D(x, 2, 2, 0)
	if err != nil {
		t.Fatalf("AvgPool2D failed: %v", err)
	}
	checkValues(t, out, []float32{2.5}, 1e-6)

	gradOut := tensorOf(t, []int{1, 1, 1, 1}, []float32{1})
	gx, err := AvgPool2DBackward(x.Shape, gradOut, 2, 2, 0)
	if err != nil {
		t.Fatalf("AvgPool2DBackward failed: %v", err)
	}
	checkValues(t, gx, []float32{0.25, 0.25, 0.25, 0.25}, 1e-6)
}

func TestGlobalAvgPool2D(t *testing.T) {
	x := tensorOf(t, []int{1, 2, 2, 2}, []float32{
		1, 2, 3, 4, // channel 0: mean 2.5
		10, 20, 30, 40, // channel 1: mean 25
	})

	out, err := GlobalAvgPool2D(x)
	if err != nil {
		t.Fatalf("GlobalAvgPool2D failed: %v", err)
	}
	if out.Shape[2] != 1 || out.Shape[3] != 1 {
		t.Fatalf("Expected 1x1 spatial output, got %v", out.Shape)
	}
	checkValues(t, out, []float32{2.5, 25}, 1e-5)
}

func TestConv3D(t *testing.T) {
	// A single-tap temporal kernel of 1 must reproduce the input.
	data := []float32{1, 2, 3, 4, 5, 6, 7, 8}
	x := tensorOf(t, []int{1, 1, 2, 2, 2}, data)
	w := tensorOf(t, []int{1, 1, 1, 1, 1}, []float32{1})

	out, err := Conv3D(x, w, nil, [3]int{1, 1, 1}, [3]int{0, 0, 0}, 1)
	if err != nil {
		t.Fatalf("Conv3D failed: %v", err)
	}
	if !shapesEqual(out.Shape, x.Shape) {
		t.Fatalf("Expected shape %v, got %v", x.Shape, out.Shape)
	}
	checkValues(t, out, data, 1e-6)
}

func TestConv3DTemporalKernel(t *testing.T) {
	// One spatial pixel, 3 frames, a temporal kernel [1, 2, 4]: the single
	// valid output position is the weighted sum of the frames.
	x := tensorOf(t, []int{1, 1, 1, 1, 3}, []float32{1, 1, 1})
	w := tensorOf(t, []int{1, 1, 1, 1, 3}, []float32{1, 2, 4})

	out, err := Conv3D(x, w, nil, [3]int{1, 1, 1}, [3]int{0, 0, 0}, 1)
	if err != nil {
		t.Fatalf("Conv3D failed: %v", err)
	}
	if out.Shape[4] != 1 {
		t.Fatalf("Expected one temporal output, got %v", out.Shape)
	}
	checkValues(t, out, []float32{7}, 1e-6)
}

func TestConv3DBackwardShapes(t *testing.T) {
	x := tensorOf(t, []int{1, 2, 4, 4, 5}, make([]float32, 160))
	w := tensorOf(t, []int{3, 2, 3, 3, 2}, make([]float32, 108))

	out, err := Conv3D(x, w, nil, [3]int{1, 1, 1}, [3]int{1, 1, 0}, 1)
	if err != nil {
		t.Fatalf("Conv3D failed: %v", err)
	}

	gradOut, err := Ones(out.Shape, Float32)
	if err != nil {
		t.Fatalf("Failed to create gradient: %v", err)
	}

	gx, gw, _, err := Conv3DBackward(x, w, gradOut, [3]int{1, 1, 1}, [3]int{1, 1, 0}, 1, true, true, false)
	if err != nil {
		t.Fatalf("Conv3DBackward failed: %v", err)
	}
	if !shapesEqual(gx.Shape, x.Shape) {
		t.Errorf("Input gradient shape %v, expected %v", gx.Shape, x.Shape)
	}
	if !shapesEqual(gw.Shape, w.Shape) {
		t.Errorf("Weight gradient shape %v, expected %v", gw.Shape, w.Shape)
	}
}

func TestConvGradientCheck(t *testing.T) {
	// Numerical gradient check on a small convolution.
	xData := []float32{0.5, -0.3, 0.8, 0.1, -0.6, 0.9, 0.2, -0.4, 0.7}
	wData := []float32{0.3, -0.5, 0.2, 0.4}

	x := leafOf(t, []int{1, 1, 3, 3}, xData)
	w := leafOf(t, []int{1, 1, 2, 2}, wData)

	out := Conv2DAutograd(x, w, nil, 1, 0, 1)
	loss := MeanAllAutograd(out)
	if err := loss.Backward(); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}
	analytic := gradOf(t, w)

	const eps = 1e-3
	for i := range wData {
		perturbed := make([]float32, len(wData))

		copy(perturbed, wData)
		perturbed[i] += eps
		wPlus := tensorOf(t, []int{1, 1, 2, 2}, perturbed)
		outPlus, err := Conv2D(x, wPlus, nil, 1, 0, 1)
		if err != nil {
			t.Fatalf("Conv2D failed: %v", err)
		}
		lossPlus, _ := MeanAll(outPlus)

		copy(perturbed, wData)
		perturbed[i] -= eps
		wMinus := tensorOf(t, []int{1, 1, 2, 2}, perturbed)
		outMinus, err := Conv2D(x, wMinus, nil, 1, 0, 1)
		if err != nil {
			t.Fatalf("Conv2D failed: %v", err)
		}
		lossMinus, _ := MeanAll(outMinus)

		numeric := (lossPlus.Data.([]float32)[0] - lossMinus.Data.([]float32)[0]) / (2 * eps)
		if math.Abs(float64(analytic[i]-numeric)) > 1e-2 {
			t.Errorf("weight %d: analytic grad %f, numeric %f", i, analytic[i], numeric)
		}
	}
}
