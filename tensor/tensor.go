package tensor

import (
	"fmt"
)

type DType int

const (
	Float32 DType = iota
	Int32
)

func (d DType) String() string {
	switch d {
	case Float32:
		return "Float32"
	case Int32:
		return "Int32"
	default:
		return "Unknown"
	}
}

// Operation is a node in the autograd graph. Forward computes the output
// tensor and records the inputs; Backward receives the gradient of the loss
// with respect to the output and returns gradients aligned with Inputs().
// A nil entry in the returned slice means the corresponding input receives
// no gradient from this operation.
type Operation interface {
	Forward(...*Tensor) *Tensor
	Backward(gradOut *Tensor) []*Tensor
	Inputs() []*Tensor
}

type Tensor struct {
	Shape        []int
	Strides      []int
	DType        DType
	Data         interface{}
	NumElems     int
	requiresGrad bool
	grad         *Tensor
	creator      Operation
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v, dtype=%s, elements=%d)",
		t.Shape, t.DType, t.NumElems)
}

func (t *Tensor) RequiresGrad() bool {
	return t.requiresGrad
}

func (t *Tensor) SetRequiresGrad(requires bool) {
	t.requiresGrad = requires
}

func (t *Tensor) Grad() *Tensor {
	return t.grad
}

// SetCreator records op as the producer of this tensor in the autograd
// graph. Packages that implement custom Operations call this from their
// Forward before returning the result.
func (t *Tensor) SetCreator(op Operation) {
	t.creator = op
}

// Detach returns a tensor sharing the same data but cut off from the
// autograd graph.
func (t *Tensor) Detach() *Tensor {
	detached := &Tensor{
		Shape:    make([]int, len(t.Shape)),
		Strides:  make([]int, len(t.Strides)),
		DType:    t.DType,
		Data:     t.Data,
		NumElems: t.NumElems,
	}
	copy(detached.Shape, t.Shape)
	copy(detached.Strides, t.Strides)
	return detached
}

func calculateStrides(shape []int) []int {
	if len(shape) == 0 {
		return []int{}
	}

	strides := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= shape[i]
	}
	return strides
}

func calculateNumElements(shape []int) int {
	if len(shape) == 0 {
		return 0
	}

	elements := 1
	for _, dim := range shape {
		elements *= dim
	}
	return elements
}

func validateShape(shape []int) error {
	for i, dim := range shape {
		if dim <= 0 {
			return fmt.Errorf("invalid shape: dimension %d has size %d, must be positive", i, dim)
		}
	}
	return nil
}
