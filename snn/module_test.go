package snn

import (
	"testing"

	"github.com/tsawler/go-spike/spike"
	"github.com/tsawler/go-spike/tensor"
)

func TestParamRoleString(t *testing.T) {
	cases := map[ParamRole]string{
		RoleWeight:       "weight",
		RoleBias:         "bias",
		RoleGain:         "gain",
		RoleShift:        "shift",
		RolePosition:     "position",
		RoleSpread:       "spread",
		RoleTimeConstant: "tau",
		RoleRunningStat:  "running_stat",
	}
	for role, want := range cases {
		if role.String() != want {
			t.Errorf("role %d String() = %q, expected %q", role, role.String(), want)
		}
	}
}

func TestSequentialParameterNames(t *testing.T) {
	rng := testRng()
	lin1, err := NewLinear(4, 8, rng)
	if err != nil {
		t.Fatalf("NewLinear failed: %v", err)
	}
	lin2, err := NewLinear(8, 2, rng)
	if err != nil {
		t.Fatalf("NewLinear failed: %v", err)
	}

	seq := NewSequential(lin1, NewLIFNode(spike.DefaultLIFConfig()), lin2)

	names := map[string]bool{}
	for _, p := range seq.Parameters() {
		names[p.Name] = true
	}
	// Children are addressed by index; the neuron in the middle has no
	// parameters but still consumes a slot.
	for _, want := range []string{"0.weight", "0.bias", "2.weight", "2.bias"} {
		if !names[want] {
			t.Errorf("missing parameter %q in %v", want, names)
		}
	}
	if len(names) != 4 {
		t.Errorf("expected 4 parameters, got %d", len(names))
	}
}

func TestSequentialForward(t *testing.T) {
	rng := testRng()
	lin, err := NewLinear(6, 3, rng)
	if err != nil {
		t.Fatalf("NewLinear failed: %v", err)
	}

	seq := NewSequential(NewSeqFlatten(), lin)
	x := randomClip(t, []int{2, 4, 1, 2, 3}, rng)

	out, err := seq.Forward(x)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	if len(out.Shape) != 3 || out.Shape[0] != 2 || out.Shape[1] != 4 || out.Shape[2] != 3 {
		t.Fatalf("output shape %v, expected [2 4 3]", out.Shape)
	}
}

func TestSequentialModePropagation(t *testing.T) {
	d, err := NewDropout(0.5, testRng())
	if err != nil {
		t.Fatalf("NewDropout failed: %v", err)
	}
	seq := NewSequential(NewSeqFlatten(), d)

	if !d.IsTraining() {
		t.Fatal("modules start in training mode")
	}
	seq.Eval()
	if d.IsTraining() {
		t.Error("Eval did not propagate to children")
	}
	seq.Train()
	if !d.IsTraining() {
		t.Error("Train did not propagate to children")
	}
}

func TestSequentialApplyVisitsAll(t *testing.T) {
	rng := testRng()
	lin, err := NewLinear(2, 2, rng)
	if err != nil {
		t.Fatalf("NewLinear failed: %v", err)
	}
	seq := NewSequential(NewSeqFlatten(), lin)

	var count int
	seq.Apply(func(Module) { count++ })
	// Two children plus the container itself.
	if count != 3 {
		t.Errorf("Apply visited %d modules, expected 3", count)
	}
}

func TestSequentialBuffers(t *testing.T) {
	bn, err := NewSeqBatchNorm2D(4)
	if err != nil {
		t.Fatalf("NewSeqBatchNorm2D failed: %v", err)
	}
	seq := NewSequential(NewSeqFlatten(), bn)

	names := map[string]bool{}
	for _, b := range seq.Buffers() {
		if b.Role != RoleRunningStat {
			t.Errorf("buffer %q has role %s, expected running_stat", b.Name, b.Role)
		}
		names[b.Name] = true
	}
	for _, want := range []string{"1.running_mean", "1.running_var"} {
		if !names[want] {
			t.Errorf("missing buffer %q in %v", want, names)
		}
	}
}

func TestModuleBuffersNilForPlainModules(t *testing.T) {
	if got := ModuleBuffers(NewSeqFlatten()); got != nil {
		t.Errorf("expected nil buffers, got %v", got)
	}
}

func TestSequentialChildAccess(t *testing.T) {
	flat := NewSeqFlatten()
	seq := NewSequential(flat)
	if seq.Len() != 1 {
		t.Fatalf("Len = %d, expected 1", seq.Len())
	}
	if seq.Child(0) != Module(flat) {
		t.Error("Child(0) did not return the first child")
	}
}

func TestSequentialForwardError(t *testing.T) {
	rng := testRng()
	lin, err := NewLinear(10, 2, rng)
	if err != nil {
		t.Fatalf("NewLinear failed: %v", err)
	}
	seq := NewSequential(NewSeqFlatten(), lin)

	// Flatten yields 6 features, the linear wants 10.
	x := randomClip(t, []int{2, 1, 1, 2, 3}, rng)
	if _, err := seq.Forward(x); err == nil {
		t.Error("Expected error from the mismatched child")
	}
}

func TestPLIFFactory(t *testing.T) {
	factory, err := NewPLIFFactory(2, spike.DefaultLIFConfig())
	if err != nil {
		t.Fatalf("NewPLIFFactory failed: %v", err)
	}

	// Each call builds an independent neuron with its own tau parameter.
	a := factory().(*ParametricLIFNode)
	b := factory().(*ParametricLIFNode)
	if a.w == b.w {
		t.Error("factory-built neurons share a tau parameter")
	}

	if _, err := NewPLIFFactory(1, spike.DefaultLIFConfig()); err == nil {
		t.Error("Expected error for init tau <= 1")
	}
}

func TestLIFNodeForward(t *testing.T) {
	n := NewLIFNode(spike.DefaultLIFConfig())
	x, err := tensor.Full([]int{3, 2}, 2, tensor.Float32)
	if err != nil {
		t.Fatalf("Failed to create input: %v", err)
	}

	out, err := n.Forward(x)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	for i, s := range out.Data.([]float32) {
		if s != 1 {
			t.Errorf("spike[%d] = %f, expected 1 for a suprathreshold drive", i, s)
		}
	}
	if n.Parameters() != nil {
		t.Error("plain LIF node must not expose parameters")
	}
}

func TestParametricLIFNodeTau(t *testing.T) {
	n, err := NewParametricLIFNode(4, spike.DefaultLIFConfig())
	if err != nil {
		t.Fatalf("NewParametricLIFNode failed: %v", err)
	}
	if tau := n.Tau(); tau < 3.99 || tau > 4.01 {
		t.Errorf("Tau() = %f, expected 4", tau)
	}

	params := n.Parameters()
	if len(params) != 1 || params[0].Role != RoleTimeConstant || params[0].Name != "w" {
		t.Errorf("unexpected parameters %v", params)
	}
	if !params[0].Tensor.RequiresGrad() {
		t.Error("tau parameter must require gradients")
	}
}

func TestSynapseFilterModule(t *testing.T) {
	f, err := NewSynapseFilter(2, true)
	if err != nil {
		t.Fatalf("NewSynapseFilter failed: %v", err)
	}
	if tau := f.Tau(); tau < 1.99 || tau > 2.01 {
		t.Errorf("Tau() = %f, expected 2", tau)
	}

	x, err := tensor.Ones([]int{3, 1}, tensor.Float32)
	if err != nil {
		t.Fatalf("Failed to create input: %v", err)
	}
	out, err := f.Forward(x)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	oData := out.Data.([]float32)
	if oData[0] != 0.5 || oData[1] != 0.75 || oData[2] != 0.875 {
		t.Errorf("filtered = %v, expected [0.5 0.75 0.875]", oData)
	}

	frozen, err := NewSynapseFilter(2, false)
	if err != nil {
		t.Fatalf("NewSynapseFilter failed: %v", err)
	}
	if frozen.Parameters()[0].Tensor.RequiresGrad() {
		t.Error("frozen filter tau must not require gradients")
	}
}
