package training

import (
	"math"
	"testing"

	"github.com/tsawler/go-spike/snn"
)

func singleGroup(lr, decay float64, params ...snn.Param) []*ParamGroup {
	return []*ParamGroup{{
		Name:        "default",
		LR:          lr,
		BaseLR:      lr,
		WeightDecay: decay,
		Params:      params,
	}}
}

func checkWeights(t *testing.T, p snn.Param, want []float32, tol float64) {
	t.Helper()
	got := p.Tensor.Data.([]float32)
	for i := range want {
		if math.Abs(float64(got[i]-want[i])) > tol {
			t.Errorf("weight[%d] = %f, expected %f", i, got[i], want[i])
		}
	}
}

func TestSGDVanillaStep(t *testing.T) {
	p := paramWithGrad(t, "w", []float32{1, 2}, []float32{0.5, -0.5})
	sgd, err := NewSGD(singleGroup(0.1, 0, p), SGDConfig{})
	if err != nil {
		t.Fatalf("NewSGD failed: %v", err)
	}

	if err := sgd.Step(); err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	checkWeights(t, p, []float32{0.95, 2.05}, 1e-6)
}

func TestSGDWeightDecay(t *testing.T) {
	// Effective gradient is g + decay*w = 0.5 + 0.1*1 = 0.6.
	p := paramWithGrad(t, "w", []float32{1}, []float32{0.5})
	sgd, err := NewSGD(singleGroup(0.1, 0.1, p), SGDConfig{})
	if err != nil {
		t.Fatalf("NewSGD failed: %v", err)
	}

	if err := sgd.Step(); err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	checkWeights(t, p, []float32{0.94}, 1e-6)
}

func TestSGDMomentum(t *testing.T) {
	p := paramWithGrad(t, "w", []float32{1}, []float32{0.5})
	sgd, err := NewSGD(singleGroup(0.1, 0, p), SGDConfig{Momentum: 0.9})
	if err != nil {
		t.Fatalf("NewSGD failed: %v", err)
	}

	// Step 1: velocity = 0.5, w = 1 - 0.05 = 0.95.
	if err := sgd.Step(); err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	checkWeights(t, p, []float32{0.95}, 1e-6)

	// Step 2 with the same gradient: velocity = 0.9*0.5 + 0.5 = 0.95.
	if err := sgd.Step(); err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	checkWeights(t, p, []float32{0.855}, 1e-6)
}

func TestSGDConfigValidation(t *testing.T) {
	p := paramWithGrad(t, "w", []float32{1}, []float32{0.5})

	if _, err := NewSGD(singleGroup(0.1, 0, p), SGDConfig{Momentum: 1}); err == nil {
		t.Error("Expected error for momentum of 1")
	}
	if _, err := NewSGD(singleGroup(0.1, 0, p), SGDConfig{Nesterov: true}); err == nil {
		t.Error("Expected error for nesterov without momentum")
	}
	if _, err := NewSGD(singleGroup(0.1, 0, p), SGDConfig{Momentum: 0.9, Dampening: 0.5, Nesterov: true}); err == nil {
		t.Error("Expected error for nesterov with dampening")
	}
}

func TestAdamFirstStep(t *testing.T) {
	// With bias correction the first Adam step moves each weight by roughly
	// lr in the direction opposite its gradient, regardless of magnitude.
	p := paramWithGrad(t, "w", []float32{1, 1}, []float32{0.5, -2})
	adam, err := NewAdam(singleGroup(0.01, 0, p), DefaultAdamConfig())
	if err != nil {
		t.Fatalf("NewAdam failed: %v", err)
	}

	if err := adam.Step(); err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	checkWeights(t, p, []float32{0.99, 1.01}, 1e-5)
}

func TestAdamConfigValidation(t *testing.T) {
	p := paramWithGrad(t, "w", []float32{1}, []float32{0.5})
	groups := singleGroup(0.01, 0, p)

	if _, err := NewAdam(groups, AdamConfig{Beta1: 1, Beta2: 0.999, Epsilon: 1e-8}); err == nil {
		t.Error("Expected error for beta1 of 1")
	}
	if _, err := NewAdam(groups, AdamConfig{Beta1: 0.9, Beta2: -0.1, Epsilon: 1e-8}); err == nil {
		t.Error("Expected error for negative beta2")
	}
	if _, err := NewAdam(groups, AdamConfig{Beta1: 0.9, Beta2: 0.999}); err == nil {
		t.Error("Expected error for zero epsilon")
	}
}

func TestOptimizerZeroGrad(t *testing.T) {
	p := paramWithGrad(t, "w", []float32{1}, []float32{0.5})
	adam, err := NewAdam(singleGroup(0.01, 0, p), DefaultAdamConfig())
	if err != nil {
		t.Fatalf("NewAdam failed: %v", err)
	}

	adam.ZeroGrad()
	for i, g := range p.Tensor.Grad().Data.([]float32) {
		if g != 0 {
			t.Errorf("grad[%d] = %f after ZeroGrad, expected 0", i, g)
		}
	}
}

func TestSGDStateDictRoundTrip(t *testing.T) {
	grads := []float32{0.5}
	pa := paramWithGrad(t, "w", []float32{1}, grads)
	a, err := NewSGD(singleGroup(0.1, 0, pa), SGDConfig{Momentum: 0.9})
	if err != nil {
		t.Fatalf("NewSGD failed: %v", err)
	}
	if err := a.Step(); err != nil {
		t.Fatalf("Step failed: %v", err)
	}

	state, err := a.StateDict()
	if err != nil {
		t.Fatalf("StateDict failed: %v", err)
	}
	if state.Type != "sgd" || state.Step != 1 {
		t.Fatalf("state type %q step %d, expected sgd/1", state.Type, state.Step)
	}

	// A fresh optimizer seeded with the snapshot and the same weights must
	// track the original exactly.
	pb := paramWithGrad(t, "w", []float32{1}, grads)
	copy(pb.Tensor.Data.([]float32), pa.Tensor.Data.([]float32))
	b, err := NewSGD(singleGroup(0.1, 0, pb), SGDConfig{Momentum: 0.9})
	if err != nil {
		t.Fatalf("NewSGD failed: %v", err)
	}
	if err := b.LoadStateDict(state); err != nil {
		t.Fatalf("LoadStateDict failed: %v", err)
	}

	if err := a.Step(); err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	if err := b.Step(); err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	wa := pa.Tensor.Data.([]float32)[0]
	wb := pb.Tensor.Data.([]float32)[0]
	if math.Abs(float64(wa-wb)) > 1e-6 {
		t.Errorf("restored optimizer diverged: %f vs %f", wb, wa)
	}
}

func TestAdamStateDictRoundTrip(t *testing.T) {
	grads := []float32{0.5, -0.25}
	pa := paramWithGrad(t, "w", []float32{1, 2}, grads)
	a, err := NewAdam(singleGroup(0.01, 0, pa), DefaultAdamConfig())
	if err != nil {
		t.Fatalf("NewAdam failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := a.Step(); err != nil {
			t.Fatalf("Step failed: %v", err)
		}
	}

	state, err := a.StateDict()
	if err != nil {
		t.Fatalf("StateDict failed: %v", err)
	}
	// Both moments for the single parameter.
	if len(state.State) != 2 {
		t.Fatalf("expected 2 state tensors, got %d", len(state.State))
	}

	pb := paramWithGrad(t, "w", []float32{1, 2}, grads)
	copy(pb.Tensor.Data.([]float32), pa.Tensor.Data.([]float32))
	b, err := NewAdam(singleGroup(0.01, 0, pb), DefaultAdamConfig())
	if err != nil {
		t.Fatalf("NewAdam failed: %v", err)
	}
	if err := b.LoadStateDict(state); err != nil {
		t.Fatalf("LoadStateDict failed: %v", err)
	}

	if err := a.Step(); err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	if err := b.Step(); err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	for i := range grads {
		wa := pa.Tensor.Data.([]float32)[i]
		wb := pb.Tensor.Data.([]float32)[i]
		if math.Abs(float64(wa-wb)) > 1e-6 {
			t.Errorf("weight %d diverged after restore: %f vs %f", i, wb, wa)
		}
	}
}

func TestLoadStateDictErrors(t *testing.T) {
	p := paramWithGrad(t, "w", []float32{1}, []float32{0.5})
	sgd, err := NewSGD(singleGroup(0.1, 0, p), SGDConfig{Momentum: 0.9})
	if err != nil {
		t.Fatalf("NewSGD failed: %v", err)
	}
	adam, err := NewAdam(singleGroup(0.01, 0, p), DefaultAdamConfig())
	if err != nil {
		t.Fatalf("NewAdam failed: %v", err)
	}

	adamState, err := adam.StateDict()
	if err != nil {
		t.Fatalf("StateDict failed: %v", err)
	}
	if err := sgd.LoadStateDict(adamState); err == nil {
		t.Error("Expected error loading adam state into sgd")
	}

	sgdState, err := sgd.StateDict()
	if err != nil {
		t.Fatalf("StateDict failed: %v", err)
	}

	// Unknown parameter name.
	sgdState.State[0].Name = "ghost"
	if err := sgd.LoadStateDict(sgdState); err == nil {
		t.Error("Expected error for unknown parameter in state")
	}
	sgdState.State[0].Name = "w"

	// Size mismatch.
	sgdState.State[0].Data = []float32{1, 2, 3}
	if err := sgd.LoadStateDict(sgdState); err == nil {
		t.Error("Expected error for moment size mismatch")
	}
	sgdState.State[0].Data = []float32{0.5}

	// Unknown state type.
	sgdState.State[0].StateType = "m"
	if err := sgd.LoadStateDict(sgdState); err == nil {
		t.Error("Expected error for an unknown state type")
	}
	sgdState.State[0].StateType = "velocity"

	// Group count mismatch.
	sgdState.Groups = nil
	if err := sgd.LoadStateDict(sgdState); err == nil {
		t.Error("Expected error for group count mismatch")
	}
}

func TestValidateGroups(t *testing.T) {
	if _, err := NewSGD(nil, SGDConfig{}); err == nil {
		t.Error("Expected error for empty groups")
	}

	nilParam := snn.Param{Name: "empty"}
	if _, err := NewSGD(singleGroup(0.1, 0, nilParam), SGDConfig{}); err == nil {
		t.Error("Expected error for a parameter with no tensor")
	}

	p := paramWithGrad(t, "dup", []float32{1}, []float32{0.5})
	groups := []*ParamGroup{
		{Name: "a", LR: 0.1, Params: []snn.Param{p}},
		{Name: "b", LR: 0.1, Params: []snn.Param{p}},
	}
	if _, err := NewSGD(groups, SGDConfig{}); err == nil {
		t.Error("Expected error for a parameter in two groups")
	}
}

func TestOptimizerNames(t *testing.T) {
	p := paramWithGrad(t, "w", []float32{1}, []float32{0.5})
	adam, err := NewAdam(singleGroup(0.01, 0, p), DefaultAdamConfig())
	if err != nil {
		t.Fatalf("NewAdam failed: %v", err)
	}
	sgd, err := NewSGD(singleGroup(0.1, 0, p), SGDConfig{})
	if err != nil {
		t.Fatalf("NewSGD failed: %v", err)
	}
	if adam.Name() != "adam" || sgd.Name() != "sgd" {
		t.Errorf("names %q/%q, expected adam/sgd", adam.Name(), sgd.Name())
	}
}
