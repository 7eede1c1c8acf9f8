package spike

import (
	"fmt"

	"github.com/goki/mat32"
	"github.com/tsawler/go-spike/tensor"
)

// InitTauToFilterW converts an initial filter time constant into the raw
// parameter of a synapse filter, so that 1 + exp(w) == initTau.
func InitTauToFilterW(initTau float32) (float32, error) {
	if initTau <= 1 {
		return 0, fmt.Errorf("filter init tau must be > 1, got %v", initTau)
	}
	return mat32.Log(initTau - 1), nil
}

// synapseFilterOp unrolls y[t] = y[t-1] + (x[t] - y[t-1]) / tau over the
// leading time axis, with tau = 1 + exp(w) so the filter always smoothes.
type synapseFilterOp struct {
	inputs   []*tensor.Tensor // x, w
	steps    int
	stepSize int
	k        float32   // 1/tau
	y        []float32 // filtered values per step
}

func (op *synapseFilterOp) Forward(inputs ...*tensor.Tensor) *tensor.Tensor {
	x, w := inputs[0], inputs[1]
	op.inputs = inputs

	op.steps = x.Shape[0]
	op.stepSize = x.NumElems / op.steps

	wData := w.Data.([]float32)
	tau := 1 + mat32.Exp(wData[0])
	op.k = 1 / tau

	xData := x.Data.([]float32)
	op.y = make([]float32, x.NumElems)

	for t := 0; t < op.steps; t++ {
		base := t * op.stepSize
		for i := 0; i < op.stepSize; i++ {
			var prev float32
			if t > 0 {
				prev = op.y[base-op.stepSize+i]
			}
			op.y[base+i] = prev + (xData[base+i]-prev)*op.k
		}
	}

	outData := make([]float32, x.NumElems)
	copy(outData, op.y)
	result, err := tensor.NewTensor(x.Size(), tensor.Float32, outData)
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}

	result.SetCreator(op)
	result.SetRequiresGrad(x.RequiresGrad() || w.RequiresGrad())

	return result
}

func (op *synapseFilterOp) Backward(gradOut *tensor.Tensor) []*tensor.Tensor {
	x := op.inputs[0]
	gData := gradOut.Data.([]float32)
	xData := x.Data.([]float32)

	gradX := make([]float32, x.NumElems)
	carry := make([]float32, op.stepSize)
	gradK := float32(0)

	for t := op.steps - 1; t >= 0; t-- {
		base := t * op.stepSize
		for i := 0; i < op.stepSize; i++ {
			gy := gData[base+i] + carry[i]

			var prev float32
			if t > 0 {
				prev = op.y[base-op.stepSize+i]
			}

			gradX[base+i] = gy * op.k
			gradK += gy * (xData[base+i] - prev)
			carry[i] = gy * (1 - op.k)
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

	// k = 1/(1+exp(w)), so dk/dw = -k * (1 - k)
	gw := gradK * -op.k * (1 - op.k)
	gradW, err := tensor.NewTensor([]int{1}, tensor.Float32, []float32{gw})
	if err != nil {
		panic(fmt.Sprintf("Backward pass failed: %v", err))
	}

	return []*tensor.Tensor{gradXT, gradW}
}

func (op *synapseFilterOp) Inputs() []*tensor.Tensor {
	return op.inputs
}

// SynapseFilterForward low-pass filters x [T, ...] across time with the
// learnable time constant carried by w.
func SynapseFilterForward(x, w *tensor.Tensor) (*tensor.Tensor, error) {
	if err := checkDynamicsInput(x); err != nil {
		return nil, err
	}
	if w == nil || w.DType != tensor.Float32 || w.NumElems != 1 {
		return nil, fmt.Errorf("synapse filter needs a one-element Float32 tau parameter")
	}

	op := &synapseFilterOp{}
	return op.Forward(x, w), nil
}
