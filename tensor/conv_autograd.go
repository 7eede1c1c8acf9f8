package tensor

import (
	"fmt"
)

// Conv2DOp implements the Operation interface for 2D convolution
type Conv2DOp struct {
	inputs  []*Tensor
	stride  int
	padding int
	groups  int
}

func (op *Conv2DOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 2 && len(inputs) != 3 {
		panic("Conv2DOp requires 2 inputs (x, weight) or 3 (x, weight, bias)")
	}

	x, weight := inputs[0], inputs[1]
	var bias *Tensor
	if len(inputs) == 3 {
		bias = inputs[2]
	}
	op.inputs = inputs

	result, err := Conv2D(x, weight, bias, op.stride, op.padding, op.groups)
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}

	// Set autograd properties
	result.creator = op
	result.requiresGrad = x.requiresGrad || weight.requiresGrad || (bias != nil && bias.requiresGrad)

	return result
}

func (op *Conv2DOp) Backward(gradOut *Tensor) []*Tensor {
	x, weight := op.inputs[0], op.inputs[1]
	hasBias := len(op.inputs) == 3

	needInput := x.requiresGrad
	needWeight := weight.requiresGrad
	needBias := hasBias && op.inputs[2].requiresGrad

	gradInput, gradWeight, gradBias, err := Conv2DBackward(x, weight, gradOut,
		op.stride, op.padding, op.groups, needInput, needWeight, needBias)
	if err != nil {
		panic(fmt.Sprintf("Backward pass failed: %v", err))
	}

	if hasBias {
		return []*Tensor{gradInput, gradWeight, gradBias}
	}
	return []*Tensor{gradInput, gradWeight}
}

func (op *Conv2DOp) Inputs() []*Tensor {
	return op.inputs
}

// MaxPool2DOp implements the Operation interface for max pooling
type MaxPool2DOp struct {
	inputs  []*Tensor
	kernel  int
	stride  int
	padding int
	indices []int32
}

func (op *MaxPool2DOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("MaxPool2DOp requires exactly 1 input")
	}

	x := inputs[0]
	op.inputs = inputs

	result, indices, err := MaxPool2D(x, op.kernel, op.stride, op.padding)
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}
	op.indices = indices

	// Set autograd properties
	result.creator = op
	result.requiresGrad = x.requiresGrad

	return result
}

func (op *MaxPool2DOp) Backward(gradOut *Tensor) []*Tensor {
	if op.indices == nil {
		panic("MaxPool2DOp: indices not stored for backward pass")
	}

	grad, err := MaxPool2DBackward(op.inputs[0].Shape, gradOut, op.indices)
	if err != nil {
		panic(fmt.Sprintf("Backward pass failed: %v", err))
	}

	return []*Tensor{grad}
}

func (op *MaxPool2DOp) Inputs() []*Tensor {
	return op.inputs
}

// AvgPool2DOp implements the Operation interface for average pooling
type AvgPool2DOp struct {
	inputs  []*Tensor
	kernel  int
	stride  int
	padding int
}

func (op *AvgPool2DOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("AvgPool2DOp requires exactly 1 input")
	}

	x := inputs[0]
	op.inputs = inputs

	result, err := AvgPool2D(x, op.kernel, op.stride, op.padding)
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}

	// Set autograd properties
	result.creator = op
	result.requiresGrad = x.requiresGrad

	return result
}

func (op *AvgPool2DOp) Backward(gradOut *Tensor) []*Tensor {
	grad, err := AvgPool2DBackward(op.inputs[0].Shape, gradOut, op.kernel, op.stride, op.padding)
	if err != nil {
		panic(fmt.Sprintf("Backward pass failed: %v", err))
	}

	return []*Tensor{grad}
}

func (op *AvgPool2DOp) Inputs() []*Tensor {
	return op.inputs
}

// GlobalAvgPool2DOp implements the Operation interface for global average
// pooling
type GlobalAvgPool2DOp struct {
	inputs []*Tensor
}

func (op *GlobalAvgPool2DOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("GlobalAvgPool2DOp requires exactly 1 input")
	}

	x := inputs[0]
	op.inputs = inputs

	result, err := GlobalAvgPool2D(x)
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}

	// Set autograd properties
	result.creator = op
	result.requiresGrad = x.requiresGrad

	return result
}

func (op *GlobalAvgPool2DOp) Backward(gradOut *Tensor) []*Tensor {
	grad, err := GlobalAvgPool2DBackward(op.inputs[0].Shape, gradOut)
	if err != nil {
		panic(fmt.Sprintf("Backward pass failed: %v", err))
	}

	return []*Tensor{grad}
}

func (op *GlobalAvgPool2DOp) Inputs() []*Tensor {
	return op.inputs
}

// Conv2DAutograd performs 2D convolution with automatic differentiation.
// Pass a nil bias for bias-free convolution.
func Conv2DAutograd(x, weight, bias *Tensor, stride, padding, groups int) *Tensor {
	op := &Conv2DOp{stride: stride, padding: padding, groups: groups}
	if bias == nil {
		return op.Forward(x, weight)
	}
	return op.Forward(x, weight, bias)
}

// MaxPool2DAutograd performs max pooling with automatic differentiation
func MaxPool2DAutograd(x *Tensor, kernel, stride, padding int) *Tensor {
	op := &MaxPool2DOp{kernel: kernel, stride: stride, padding: padding}
	return op.Forward(x)
}

// AvgPool2DAutograd performs average pooling with automatic differentiation
func AvgPool2DAutograd(x *Tensor, kernel, stride, padding int) *Tensor {
	op := &AvgPool2DOp{kernel: kernel, stride: stride, padding: padding}
	return op.Forward(x)
}

// GlobalAvgPool2DAutograd performs global average pooling with automatic
// differentiation
func GlobalAvgPool2DAutograd(x *Tensor) *Tensor {
	op := &GlobalAvgPool2DOp{}
	return op.Forward(x)
}
