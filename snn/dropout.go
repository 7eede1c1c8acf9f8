package snn

import (
	"fmt"
	"math/rand"

	"github.com/tsawler/go-spike/tensor"
)

// dropoutOp zeroes a random subset of units and rescales the survivors by
// 1/(1-p). One mask is drawn per forward call and shared across every
// timestep, so a unit silenced for one frame stays silent for the whole
// clip.
type dropoutOp struct {
	inputs []*tensor.Tensor
	p      float32
	rng    *rand.Rand
	mask   []float32
}

func (op *dropoutOp) Forward(inputs ...*tensor.Tensor) *tensor.Tensor {
	if len(inputs) != 1 {
		panic("dropoutOp requires exactly 1 input")
	}

	x := inputs[0]
	op.inputs = inputs

	steps := x.Shape[0]
	stepSize := x.NumElems / steps
	scale := 1 / (1 - op.p)

	op.mask = make([]float32, stepSize)
	for i := range op.mask {
		if op.rng.Float32() >= op.p {
			op.mask[i] = scale
		}
	}

	result, err := tensor.Zeros(x.Shape, tensor.Float32)
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}

	xData := x.Data.([]float32)
	outData := result.Data.([]float32)
	for t := 0; t < steps; t++ {
		base := t * stepSize
		for i, m := range op.mask {
			if m != 0 {
				outData[base+i] = xData[base+i] * m
			}
		}
	}

	result.SetCreator(op)
	result.SetRequiresGrad(x.RequiresGrad())

	return result
}

func (op *dropoutOp) Backward(gradOut *tensor.Tensor) []*tensor.Tensor {
	x := op.inputs[0]

	grad, err := tensor.Zeros(x.Shape, tensor.Float32)
	if err != nil {
		panic(fmt.Sprintf("Backward pass failed: %v", err))
	}

	gData := gradOut.Data.([]float32)
	giData := grad.Data.([]float32)
	steps := x.Shape[0]
	for t := 0; t < steps; t++ {
		base := t * len(op.mask)
		for i, m := range op.mask {
			if m != 0 {
				giData[base+i] = gData[base+i] * m
			}
		}
	}

	return []*tensor.Tensor{grad}
}

func (op *dropoutOp) Inputs() []*tensor.Tensor {
	return op.inputs
}

// Dropout randomly silences units during training and passes activations
// through untouched during evaluation.
type Dropout struct {
	mode
	P   float32
	rng *rand.Rand
}

// NewDropout builds a dropout layer with drop probability p in [0, 1).
func NewDropout(p float32, rng *rand.Rand) (*Dropout, error) {
	if p < 0 || p >= 1 {
		return nil, fmt.Errorf("dropout probability must be in [0, 1), got %v", p)
	}
	if p > 0 && rng == nil {
		return nil, fmt.Errorf("rng must not be nil when dropout probability is %v", p)
	}
	return &Dropout{mode: mode{training: true}, P: p, rng: rng}, nil
}

func (d *Dropout) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if !d.training || d.P == 0 {
		return x, nil
	}
	if x.DType != tensor.Float32 {
		return nil, fmt.Errorf("Dropout requires Float32, got %s", x.DType)
	}
	if len(x.Shape) < 2 {
		return nil, fmt.Errorf("Dropout expects [T, B, ...], got shape %v", x.Shape)
	}

	op := &dropoutOp{p: d.P, rng: d.rng}
	return op.Forward(x), nil
}

func (d *Dropout) Parameters() []Param { return nil }

func (d *Dropout) Apply(fn func(Module)) { fn(d) }
