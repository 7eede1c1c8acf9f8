package snn

import (
	"math"
	"math/rand"
	"testing"

	"github.com/tsawler/go-spike/tensor"
)

func testRng() *rand.Rand {
	return rand.New(rand.NewSource(42))
}

func randomClip(t *testing.T, shape []int, rng *rand.Rand) *tensor.Tensor {
	t.Helper()
	x, err := tensor.RandomUniform(shape, 0, 1, rng)
	if err != nil {
		t.Fatalf("Failed to create input: %v", err)
	}
	return x
}

func TestNewDelayConv2DDefaults(t *testing.T) {
	dc, err := NewDelayConv2D(DelayConv2DConfig{
		InChannels:        2,
		OutChannels:       4,
		DenseKernelSize:   3,
		DilatedKernelSize: 5,
		Version:           Gauss,
	}, testRng())
	if err != nil {
		t.Fatalf("NewDelayConv2D failed: %v", err)
	}

	// KernelCount, Stride and Groups default to 1.
	want := []int{4, 2, 1, 3, 3}
	for i, s := range dc.weight.Shape {
		if s != want[i] {
			t.Fatalf("weight shape %v, expected %v", dc.weight.Shape, want)
		}
	}

	// The spread starts at D/2 everywhere and is never learned.
	for _, v := range dc.spread.Data.([]float32) {
		if v != 2.5 {
			t.Errorf("initial spread = %f, expected 2.5", v)
		}
	}
	if dc.spread.RequiresGrad() {
		t.Error("spread must not require gradients")
	}

	// Without LearnDelay the taps sit at zero offset, frozen.
	for _, v := range dc.position.Data.([]float32) {
		if v != 0 {
			t.Errorf("frozen position = %f, expected 0", v)
		}
	}
	if dc.position.RequiresGrad() {
		t.Error("frozen positions must not require gradients")
	}
}

func TestNewDelayConv2DLearnDelay(t *testing.T) {
	dc, err := NewDelayConv2D(DelayConv2DConfig{
		InChannels:        1,
		OutChannels:       2,
		DenseKernelSize:   3,
		DilatedKernelSize: 4,
		LearnDelay:        true,
		Version:           Gauss,
	}, testRng())
	if err != nil {
		t.Fatalf("NewDelayConv2D failed: %v", err)
	}

	if !dc.position.RequiresGrad() {
		t.Error("learnable positions must require gradients")
	}
	// Initial positions are drawn inside the clamp window [-(D/2), D/2].
	for i, v := range dc.position.Data.([]float32) {
		if v < -2 || v > 2 {
			t.Errorf("position[%d] = %f outside [-2, 2]", i, v)
		}
	}
}

func TestNewDelayConv2DValidation(t *testing.T) {
	base := DelayConv2DConfig{
		InChannels:        2,
		OutChannels:       4,
		DenseKernelSize:   3,
		DilatedKernelSize: 5,
		Version:           Gauss,
	}

	cfg := base
	cfg.Version = "cubic"
	if _, err := NewDelayConv2D(cfg, testRng()); err == nil {
		t.Error("Expected error for unknown version")
	}

	cfg = base
	cfg.Groups = 3
	if _, err := NewDelayConv2D(cfg, testRng()); err == nil {
		t.Error("Expected error for channels not divisible by groups")
	}

	cfg = base
	cfg.OutChannels = 0
	if _, err := NewDelayConv2D(cfg, testRng()); err == nil {
		t.Error("Expected error for zero output channels")
	}

	if _, err := NewDelayConv2D(base, nil); err == nil {
		t.Error("Expected error for nil rng")
	}
}

func TestDelayConvForwardShape(t *testing.T) {
	rng := testRng()
	dc, err := NewDelayConv2D(DelayConv2DConfig{
		InChannels:        3,
		OutChannels:       5,
		DenseKernelSize:   3,
		DilatedKernelSize: 4,
		Stride:            2,
		SpatialPadding:    1,
		Version:           Gauss,
	}, rng)
	if err != nil {
		t.Fatalf("NewDelayConv2D failed: %v", err)
	}

	x := randomClip(t, []int{4, 2, 3, 8, 8}, rng)
	out, err := dc.Forward(x)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	// Time is preserved by the causal pad; space follows stride and padding.
	want := []int{4, 2, 5, 4, 4}
	for i, s := range out.Shape {
		if s != want[i] {
			t.Fatalf("output shape %v, expected %v", out.Shape, want)
		}
	}
}

func TestDelayConvInputValidation(t *testing.T) {
	rng := testRng()
	dc, err := NewDelayConv2D(DelayConv2DConfig{
		InChannels:        2,
		OutChannels:       2,
		DenseKernelSize:   1,
		DilatedKernelSize: 2,
		Version:           Gauss,
	}, rng)
	if err != nil {
		t.Fatalf("NewDelayConv2D failed: %v", err)
	}

	flat := randomClip(t, []int{2, 2, 4, 4}, rng)
	if _, err := dc.Forward(flat); err == nil {
		t.Error("Expected error for 4D input")
	}

	wrong := randomClip(t, []int{2, 1, 3, 4, 4}, rng)
	if _, err := dc.Forward(wrong); err == nil {
		t.Error("Expected error for channel mismatch")
	}
}

func TestDelayConvCausality(t *testing.T) {
	rng := testRng()
	dc, err := NewDelayConv2D(DelayConv2DConfig{
		InChannels:        2,
		OutChannels:       3,
		DenseKernelSize:   3,
		DilatedKernelSize: 4,
		SpatialPadding:    1,
		LearnDelay:        true,
		Version:           Gauss,
	}, rng)
	if err != nil {
		t.Fatalf("NewDelayConv2D failed: %v", err)
	}

	x := randomClip(t, []int{5, 1, 2, 6, 6}, rng)
	y, err := x.Clone()
	if err != nil {
		t.Fatalf("Clone failed: %v", err)
	}
	// Corrupt only the final frame.
	frame := y.NumElems / y.Shape[0]
	yData := y.Data.([]float32)
	for i := (y.Shape[0] - 1) * frame; i < y.NumElems; i++ {
		yData[i] += 10
	}

	outX, err := dc.Forward(x)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	outY, err := dc.Forward(y)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	// An output frame may depend on current and past input only, so every
	// frame before the corrupted one must match exactly.
	outFrame := outX.NumElems / outX.Shape[0]
	a := outX.Data.([]float32)
	b := outY.Data.([]float32)
	for i := 0; i < (outX.Shape[0]-1)*outFrame; i++ {
		if a[i] != b[i] {
			t.Fatalf("frame data diverged at flat index %d before the changed frame", i)
		}
	}
	// The final frame must see the change.
	var differs bool
	for i := (outX.Shape[0] - 1) * outFrame; i < outX.NumElems; i++ {
		if a[i] != b[i] {
			differs = true
			break
		}
	}
	if !differs {
		t.Error("final output frame ignored the changed input frame")
	}
}

func TestGaussSynthesisNormalized(t *testing.T) {
	weight, err := tensor.Ones([]int{2, 1, 1, 2, 2}, tensor.Float32)
	if err != nil {
		t.Fatalf("Failed to create weight: %v", err)
	}
	position, err := tensor.Zeros([]int{2, 1, 1, 2, 2}, tensor.Float32)
	if err != nil {
		t.Fatalf("Failed to create position: %v", err)
	}
	pData := position.Data.([]float32)
	for i := range pData {
		pData[i] = float32(i%5)/2 - 1 // spread the taps over [-1, 1]
	}

	const dlen = 5
	spread := make([]float32, weight.NumElems)
	for i := range spread {
		spread[i] = 1.2
	}

	op := &delayConvOp{version: Gauss, dilated: dlen, spread: spread}
	op.synthesize(weight, position)

	// Each relaxed tap is a probability distribution over the time slots.
	for w := 0; w < weight.NumElems; w++ {
		var sum float32
		for d := 0; d < dlen; d++ {
			sum += op.gauss[w*dlen+d]
		}
		if math.Abs(float64(sum)-1) > 1e-2 {
			t.Errorf("tap %d relaxation sums to %f, expected 1", w, sum)
		}
	}
}

func TestV1SynthesisTriangular(t *testing.T) {
	weight, err := tensor.Ones([]int{1, 1, 1, 1, 1}, tensor.Float32)
	if err != nil {
		t.Fatalf("Failed to create weight: %v", err)
	}
	position, err := tensor.Zeros([]int{1, 1, 1, 1, 1}, tensor.Float32)
	if err != nil {
		t.Fatalf("Failed to create position: %v", err)
	}

	op := &delayConvOp{version: V1, dilated: 3}
	op.synthesize(weight, position)

	// Offset 0 centers the tap on slot 1 of 3.
	want := []float32{0, 1, 0}
	for d, w := range want {
		if math.Abs(float64(op.gauss[d]-w)) > 1e-6 {
			t.Errorf("slot %d = %f, expected %f", d, op.gauss[d], w)
		}
	}

	// A half-slot offset splits the weight between the two neighbors.
	position.Data.([]float32)[0] = 0.5
	op = &delayConvOp{version: V1, dilated: 3}
	op.synthesize(weight, position)
	if math.Abs(float64(op.gauss[1]-0.5)) > 1e-6 || math.Abs(float64(op.gauss[2]-0.5)) > 1e-6 {
		t.Errorf("half-offset relaxation = %v, expected [0 0.5 0.5]", op.gauss)
	}
}

func TestDelayConvBackward(t *testing.T) {
	rng := testRng()
	dc, err := NewDelayConv2D(DelayConv2DConfig{
		InChannels:        1,
		OutChannels:       2,
		DenseKernelSize:   3,
		DilatedKernelSize: 3,
		SpatialPadding:    1,
		LearnDelay:        true,
		Version:           Gauss,
	}, rng)
	if err != nil {
		t.Fatalf("NewDelayConv2D failed: %v", err)
	}

	x := randomClip(t, []int{3, 2, 1, 4, 4}, rng)
	out, err := dc.Forward(x)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	loss := tensor.MeanAllAutograd(out)
	if err := loss.Backward(); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}

	if dc.weight.Grad() == nil {
		t.Fatal("Expected a weight gradient")
	}
	if dc.position.Grad() == nil {
		t.Fatal("Expected a position gradient")
	}
	for i, g := range dc.position.Grad().Data.([]float32) {
		if math.IsNaN(float64(g)) || math.IsInf(float64(g), 0) {
			t.Errorf("position grad[%d] = %f is not finite", i, g)
		}
	}
	if dc.spread.Grad() != nil {
		t.Error("Spread must never receive gradients")
	}
}

func TestClampParameters(t *testing.T) {
	dc, err := NewDelayConv2D(DelayConv2DConfig{
		InChannels:        1,
		OutChannels:       1,
		DenseKernelSize:   1,
		DilatedKernelSize: 5, // clamp window [-2, 2]
		LearnDelay:        true,
		Version:           Gauss,
	}, testRng())
	if err != nil {
		t.Fatalf("NewDelayConv2D failed: %v", err)
	}

	data := dc.position.Data.([]float32)
	data[0] = 7.5

	dc.ClampParameters()
	if data[0] != 2 {
		t.Errorf("position clamped to %f, expected 2", data[0])
	}

	data[0] = -3
	dc.ClampParameters()
	if data[0] != -2 {
		t.Errorf("position clamped to %f, expected -2", data[0])
	}

	data[0] = 1.5
	dc.ClampParameters()
	if data[0] != 1.5 {
		t.Errorf("in-window position moved to %f, expected 1.5", data[0])
	}
}

func TestDecreaseSig(t *testing.T) {
	newConv := func(version DelayVersion) *DelayConv2D {
		dc, err := NewDelayConv2D(DelayConv2DConfig{
			InChannels:        1,
			OutChannels:       1,
			DenseKernelSize:   1,
			DilatedKernelSize: 4, // sigma starts at 2
			Version:           version,
		}, testRng())
		if err != nil {
			t.Fatalf("NewDelayConv2D failed: %v", err)
		}
		return dc
	}

	dc := newConv(Gauss)
	if dc.CurrentSigma() != 2 {
		t.Fatalf("initial sigma = %f, expected 2", dc.CurrentSigma())
	}

	// 8 epochs anneal to the floor in 2 steps.
	dc.DecreaseSig(0, 8)
	first := dc.CurrentSigma()
	if first >= 2 {
		t.Fatalf("sigma = %f did not decrease", first)
	}
	dc.DecreaseSig(1, 8)
	second := dc.CurrentSigma()
	if math.Abs(float64(second)-0.23) > 1e-3 {
		t.Fatalf("sigma = %f after the schedule, expected 0.23", second)
	}

	// At or below the floor the schedule holds.
	dc.DecreaseSig(2, 8)
	third := dc.CurrentSigma()
	if third > second {
		t.Fatalf("sigma rose from %f to %f", second, third)
	}
	dc.DecreaseSig(3, 8)
	if dc.CurrentSigma() != third {
		t.Errorf("sigma changed after the schedule stopped: %f vs %f", dc.CurrentSigma(), third)
	}

	// Past the final epoch nothing moves.
	dc = newConv(Gauss)
	dc.DecreaseSig(8, 8)
	if dc.CurrentSigma() != 2 {
		t.Errorf("sigma = %f after the last epoch, expected 2", dc.CurrentSigma())
	}

	// Too few total epochs for a schedule.
	dc = newConv(Gauss)
	dc.DecreaseSig(0, 3)
	if dc.CurrentSigma() != 2 {
		t.Errorf("sigma = %f with a degenerate schedule, expected 2", dc.CurrentSigma())
	}

	// The triangular version has no spread at all.
	dc = newConv(V1)
	if dc.CurrentSigma() != 0 {
		t.Errorf("v1 sigma = %f, expected 0", dc.CurrentSigma())
	}
	dc.DecreaseSig(0, 8) // must not panic
}

func TestDelayConvParameters(t *testing.T) {
	dc, err := NewDelayConv2D(DelayConv2DConfig{
		InChannels:        1,
		OutChannels:       2,
		DenseKernelSize:   3,
		DilatedKernelSize: 4,
		Bias:              true,
		LearnDelay:        true,
		Version:           Gauss,
	}, testRng())
	if err != nil {
		t.Fatalf("NewDelayConv2D failed: %v", err)
	}

	roles := map[string]ParamRole{}
	for _, p := range dc.Parameters() {
		roles[p.Name] = p.Role
	}
	expected := map[string]ParamRole{
		"weight":   RoleWeight,
		"position": RolePosition,
		"spread":   RoleSpread,
		"bias":     RoleBias,
	}
	for name, role := range expected {
		got, ok := roles[name]
		if !ok {
			t.Errorf("missing parameter %q", name)
			continue
		}
		if got != role {
			t.Errorf("parameter %q has role %s, expected %s", name, got, role)
		}
	}
}
