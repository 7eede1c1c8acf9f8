package spike

import (
	"fmt"

	"github.com/goki/mat32"
	"github.com/tsawler/go-spike/tensor"
)

// LIFConfig holds the constants of leaky integrate-and-fire dynamics.
// Charge: h = v + (x - (v - VReset)) / Tau. Fire: spike when
// h >= VThreshold. Reset: v = spike*VReset + (1-spike)*h, with the spike
// treated as a constant during backpropagation when DetachReset is set.
type LIFConfig struct {
	Tau         float32 // membrane time constant, ignored by parametric nodes
	VThreshold  float32
	VReset      float32
	DetachReset bool
	Surrogate   SurrogateGradient
}

// DefaultLIFConfig matches the stock networks: tau 2, threshold 1, reset 0,
// detached reset, Erf surrogate.
func DefaultLIFConfig() LIFConfig {
	return LIFConfig{Tau: 2, VThreshold: 1, VReset: 0, DetachReset: true, Surrogate: NewErf()}
}

func sigmoid32(x float32) float32 {
	return 1 / (1 + mat32.Exp(-x))
}

// InitTauToW converts an initial membrane time constant into the raw
// parameter of a parametric node, so that sigmoid(w) == 1/initTau.
func InitTauToW(initTau float32) (float32, error) {
	if initTau <= 1 {
		return 0, fmt.Errorf("init tau must be > 1, got %v", initTau)
	}
	return -mat32.Log(initTau - 1), nil
}

func checkDynamicsInput(x *tensor.Tensor) error {
	if x.DType != tensor.Float32 {
		return fmt.Errorf("multi-step dynamics require Float32, got %s", x.DType)
	}
	if len(x.Shape) < 2 {
		return fmt.Errorf("multi-step input needs a leading time axis, got shape %v", x.Shape)
	}
	return nil
}

// lifOp runs the full multi-step dynamics in a single graph node so the
// backward pass can walk the stored per-step membrane values and spikes.
type lifOp struct {
	inputs     []*tensor.Tensor
	cfg        LIFConfig
	parametric bool

	steps    int
	stepSize int
	invTau   float32   // 1/tau, or sigmoid(w) when parametric
	h        []float32 // pre-reset membrane per step
	spikes   []float32
	vPrev    []float32 // membrane before each charge, kept for the tau gradient
}

func (op *lifOp) Forward(inputs ...*tensor.Tensor) *tensor.Tensor {
	x := inputs[0]
	op.inputs = inputs

	op.steps = x.Shape[0]
	op.stepSize = x.NumElems / op.steps

	invTau := 1 / op.cfg.Tau
	if op.parametric {
		wData := inputs[1].Data.([]float32)
		invTau = sigmoid32(wData[0])
	}
	op.invTau = invTau

	xData := x.Data.([]float32)
	op.h = make([]float32, x.NumElems)
	op.spikes = make([]float32, x.NumElems)
	if op.parametric {
		op.vPrev = make([]float32, x.NumElems)
	}

	// Fresh membrane every forward: one call covers one clip.
	v := make([]float32, op.stepSize)
	for i := range v {
		v[i] = op.cfg.VReset
	}

	vth := op.cfg.VThreshold
	vr := op.cfg.VReset

	for t := 0; t < op.steps; t++ {
		base := t * op.stepSize
		for i := 0; i < op.stepSize; i++ {
			if op.parametric {
				op.vPrev[base+i] = v[i]
			}
			h := v[i] + (xData[base+i]-(v[i]-vr))*invTau
			var s float32
			if h >= vth {
				s = 1
			}
			op.h[base+i] = h
			op.spikes[base+i] = s
			v[i] = s*vr + (1-s)*h
		}
	}

	outData := make([]float32, x.NumElems)
	copy(outData, op.spikes)
	result, err := tensor.NewTensor(x.Size(), tensor.Float32, outData)
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}

	result.SetCreator(op)
	requiresGrad := x.RequiresGrad()
	if op.parametric {
		requiresGrad = requiresGrad || inputs[1].RequiresGrad()
	}
	result.SetRequiresGrad(requiresGrad)

	return result
}

func (op *lifOp) Backward(gradOut *tensor.Tensor) []*tensor.Tensor {
	x := op.inputs[0]
	gData := gradOut.Data.([]float32)
	xData := x.Data.([]float32)

	gradX := make([]float32, x.NumElems)
	gV := make([]float32, op.stepSize)
	gInvTau := float32(0)

	vth := op.cfg.VThreshold
	vr := op.cfg.VReset

	for t := op.steps - 1; t >= 0; t-- {
		base := t * op.stepSize
		for i := 0; i < op.stepSize; i++ {
			h := op.h[base+i]
			s := op.spikes[base+i]
			surr := op.cfg.Surrogate.Grad(h - vth)

			// Gradient into the pre-reset membrane: the firing path through
			// the surrogate plus the reset path from the next step's charge.
			gh := gData[base+i] * surr
			if op.cfg.DetachReset {
				gh += gV[i] * (1 - s)
			} else {
				gh += gV[i] * ((1 - s) + (vr-h)*surr)
			}

			gradX[base+i] = gh * op.invTau
			if op.parametric {
				gInvTau += gh * (xData[base+i] - op.vPrev[base+i] + vr)
			}
			gV[i] = gh * (1 - op.invTau)
		}
	}

	var gradXT *tensor.Tensor
	if x.RequiresGrad() {
		var err error
		gradXT, err = tensor.NewTensor(x.Size(), tensor.Float32, gradX)
		if err != nil {
			panic(fmt.Sprintf("Backward pass failed: %v", err))
		}
	}

	if !op.parametric {
		return []*tensor.Tensor{gradXT}
	}

	// invTau = sigmoid(w), so d(invTau)/dw = invTau * (1 - invTau)
	gw := gInvTau * op.invTau * (1 - op.invTau)
	gradW, err := tensor.NewTensor([]int{1}, tensor.Float32, []float32{gw})
	if err != nil {
		panic(fmt.Sprintf("Backward pass failed: %v", err))
	}

	return []*tensor.Tensor{gradXT, gradW}
}

func (op *lifOp) Inputs() []*tensor.Tensor {
	return op.inputs
}

// MultiStepLIF drives x [T, ...] through leaky integrate-and-fire dynamics,
// treating the leading axis as time. The membrane starts at VReset; state
// never leaks between calls.
func MultiStepLIF(x *tensor.Tensor, cfg LIFConfig) (*tensor.Tensor, error) {
	if err := checkDynamicsInput(x); err != nil {
		return nil, err
	}
	if cfg.Tau <= 0 {
		return nil, fmt.Errorf("tau must be positive, got %v", cfg.Tau)
	}
	if cfg.Surrogate == nil {
		return nil, fmt.Errorf("surrogate gradient must not be nil")
	}

	op := &lifOp{cfg: cfg}
	return op.Forward(x), nil
}

// MultiStepParametricLIF is MultiStepLIF with a learnable inverse time
// constant sigmoid(w). w is a one-element tensor shared by every neuron of
// the layer; cfg.Tau is ignored.
func MultiStepParametricLIF(x, w *tensor.Tensor, cfg LIFConfig) (*tensor.Tensor, error) {
	if err := checkDynamicsInput(x); err != nil {
		return nil, err
	}
	if cfg.Surrogate == nil {
		return nil, fmt.Errorf("surrogate gradient must not be nil")
	}
	if w == nil || w.DType != tensor.Float32 || w.NumElems != 1 {
		return nil, fmt.Errorf("parametric node needs a one-element Float32 tau parameter")
	}

	op := &lifOp{cfg: cfg, parametric: true}
	return op.Forward(x, w), nil
}
