package tensor

import (
	"fmt"
)

// ReshapeOp implements the Operation interface for reshaping
type ReshapeOp struct {
	inputs     []*Tensor
	shape      []int
	inputShape []int
}

func (op *ReshapeOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("ReshapeOp requires exactly 1 input")
	}

	a := inputs[0]
	op.inputs = inputs
	op.inputShape = make([]int, len(a.Shape))
	copy(op.inputShape, a.Shape)

	result, err := Reshape(a, op.shape)
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}

	// Set autograd properties
	result.creator = op
	result.requiresGrad = a.requiresGrad

	return result
}

func (op *ReshapeOp) Backward(gradOut *Tensor) []*Tensor {
	// Gradient of a reshape is the gradient reshaped back
	grad, err := Reshape(gradOut, op.inputShape)
	if err != nil {
		panic(fmt.Sprintf("Backward pass failed: %v", err))
	}

	return []*Tensor{grad}
}

func (op *ReshapeOp) Inputs() []*Tensor {
	return op.inputs
}

// PermuteOp implements the Operation interface for axis reordering
type PermuteOp struct {
	inputs []*Tensor
	order  []int
}

func (op *PermuteOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("PermuteOp requires exactly 1 input")
	}

	a := inputs[0]
	op.inputs = inputs

	result, err := Permute(a, op.order)
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}

	// Set autograd properties
	result.creator = op
	result.requiresGrad = a.requiresGrad

	return result
}

func (op *PermuteOp) Backward(gradOut *Tensor) []*Tensor {
	// Gradient of a permute is the inverse permute
	grad, err := Permute(gradOut, inversePermutation(op.order))
	if err != nil {
		panic(fmt.Sprintf("Backward pass failed: %v", err))
	}

	return []*Tensor{grad}
}

func (op *PermuteOp) Inputs() []*Tensor {
	return op.inputs
}

// PadTimeOp implements the Operation interface for constant left-padding
// of the last axis
type PadTimeOp struct {
	inputs []*Tensor
	left   int
	value  float32
}

func (op *PadTimeOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("PadTimeOp requires exactly 1 input")
	}

	a := inputs[0]
	op.inputs = inputs

	result, err := PadLast(a, op.left, op.value)
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}

	// Set autograd properties
	result.creator = op
	result.requiresGrad = a.requiresGrad

	return result
}

func (op *PadTimeOp) Backward(gradOut *Tensor) []*Tensor {
	// The padded region receives no gradient; slice it off
	grad, err := unpadLast(gradOut, op.left)
	if err != nil {
		panic(fmt.Sprintf("Backward pass failed: %v", err))
	}

	return []*Tensor{grad}
}

func (op *PadTimeOp) Inputs() []*Tensor {
	return op.inputs
}

// MeanOp implements the Operation interface for the mean over one dimension
type MeanOp struct {
	inputs  []*Tensor
	dim     int
	keepDim bool
}

func (op *MeanOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("MeanOp requires exactly 1 input")
	}

	a := inputs[0]
	op.inputs = inputs

	result, err := Mean(a, op.dim, op.keepDim)
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}

	// Set autograd properties
	result.creator = op
	result.requiresGrad = a.requiresGrad

	return result
}

func (op *MeanOp) Backward(gradOut *Tensor) []*Tensor {
	a := op.inputs[0]
	n := a.Shape[op.dim]

	// Each input element contributed 1/n to the mean
	scaled, err := Scale(gradOut, 1/float32(n))
	if err != nil {
		panic(fmt.Sprintf("Backward pass failed: %v", err))
	}

	if !op.keepDim && len(a.Shape) > 1 {
		scaled, err = Unsqueeze(scaled, op.dim)
		if err != nil {
			panic(fmt.Sprintf("Failed to restore reduced dimension: %v", err))
		}
	}

	grad, err := BroadcastTensor(scaled, a.Shape)
	if err != nil {
		panic(fmt.Sprintf("Failed to broadcast gradient: %v", err))
	}

	return []*Tensor{grad}
}

func (op *MeanOp) Inputs() []*Tensor {
	return op.inputs
}

// SumOp implements the Operation interface for the sum over one dimension
type SumOp struct {
	inputs  []*Tensor
	dim     int
	keepDim bool
}

func (op *SumOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("SumOp requires exactly 1 input")
	}

	a := inputs[0]
	op.inputs = inputs

	result, err := Sum(a, op.dim, op.keepDim)
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}

	// Set autograd properties
	result.creator = op
	result.requiresGrad = a.requiresGrad

	return result
}

func (op *SumOp) Backward(gradOut *Tensor) []*Tensor {
	a := op.inputs[0]

	scaled := gradOut
	var err error
	if !op.keepDim && len(a.Shape) > 1 {
		scaled, err = Unsqueeze(gradOut, op.dim)
		if err != nil {
			panic(fmt.Sprintf("Failed to restore reduced dimension: %v", err))
		}
	}

	grad, err := BroadcastTensor(scaled, a.Shape)
	if err != nil {
		panic(fmt.Sprintf("Failed to broadcast gradient: %v", err))
	}

	return []*Tensor{grad}
}

func (op *SumOp) Inputs() []*Tensor {
	return op.inputs
}

// MeanAllOp implements the Operation interface for the mean over all elements
type MeanAllOp struct {
	inputs []*Tensor
}

func (op *MeanAllOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("MeanAllOp requires exactly 1 input")
	}

	a := inputs[0]
	op.inputs = inputs

	result, err := MeanAll(a)
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}

	// Set autograd properties
	result.creator = op
	result.requiresGrad = a.requiresGrad

	return result
}

func (op *MeanAllOp) Backward(gradOut *Tensor) []*Tensor {
	a := op.inputs[0]

	gradData := gradOut.Data.([]float32)
	g := gradData[0] / float32(a.NumElems)

	grad, err := Full(a.Shape, g, Float32)
	if err != nil {
		panic(fmt.Sprintf("Backward pass failed: %v", err))
	}

	return []*Tensor{grad}
}

func (op *MeanAllOp) Inputs() []*Tensor {
	return op.inputs
}

// ReshapeAutograd reshapes with automatic differentiation
func ReshapeAutograd(a *Tensor, shape []int) *Tensor {
	op := &ReshapeOp{shape: shape}
	return op.Forward(a)
}

// PermuteAutograd reorders axes with automatic differentiation
func PermuteAutograd(a *Tensor, order []int) *Tensor {
	op := &PermuteOp{order: order}
	return op.Forward(a)
}

// SqueezeAutograd removes a size-1 dimension with automatic differentiation
func SqueezeAutograd(a *Tensor, dim int) *Tensor {
	if dim < 0 || dim >= len(a.Shape) || a.Shape[dim] != 1 {
		panic(fmt.Sprintf("cannot squeeze dimension %d of shape %v", dim, a.Shape))
	}
	newShape := make([]int, 0, len(a.Shape)-1)
	for i, size := range a.Shape {
		if i != dim {
			newShape = append(newShape, size)
		}
	}
	return ReshapeAutograd(a, newShape)
}

// UnsqueezeAutograd inserts a size-1 dimension with automatic differentiation
func UnsqueezeAutograd(a *Tensor, dim int) *Tensor {
	if dim < 0 || dim > len(a.Shape) {
		panic(fmt.Sprintf("cannot unsqueeze at dimension %d of shape %v", dim, a.Shape))
	}
	newShape := make([]int, len(a.Shape)+1)
	copy(newShape[:dim], a.Shape[:dim])
	newShape[dim] = 1
	copy(newShape[dim+1:], a.Shape[dim:])
	return ReshapeAutograd(a, newShape)
}

// PadTimeAutograd left-pads the last axis with a constant, with automatic
// differentiation
func PadTimeAutograd(a *Tensor, left int, value float32) *Tensor {
	op := &PadTimeOp{left: left, value: value}
	return op.Forward(a)
}

// MeanAutograd computes the mean over one dimension with automatic
// differentiation
func MeanAutograd(a *Tensor, dim int, keepDim bool) *Tensor {
	op := &MeanOp{dim: dim, keepDim: keepDim}
	return op.Forward(a)
}

// SumAutograd computes the sum over one dimension with automatic
// differentiation
func SumAutograd(a *Tensor, dim int, keepDim bool) *Tensor {
	op := &SumOp{dim: dim, keepDim: keepDim}
	return op.Forward(a)
}

// MeanAllAutograd computes the mean over all elements with automatic
// differentiation
func MeanAllAutograd(a *Tensor) *Tensor {
	op := &MeanAllOp{}
	return op.Forward(a)
}
