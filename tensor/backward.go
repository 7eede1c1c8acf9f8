package tensor

import (
	"fmt"
)

// Backward runs backpropagation from a scalar tensor, seeding the walk with
// a gradient of ones. Use BackwardWith to start from a non-scalar output.
func (t *Tensor) Backward() error {
	if t.NumElems != 1 {
		return fmt.Errorf("Backward without an explicit gradient requires a scalar tensor, got shape %v", t.Shape)
	}

	seed, err := Ones(t.Shape, t.DType)
	if err != nil {
		return fmt.Errorf("failed to create seed gradient: %v", err)
	}

	return t.BackwardWith(seed)
}

// BackwardWith runs backpropagation from t with an explicit output gradient.
// Gradients accumulate into every tensor on the graph that requires them, so
// parameter gradients add up across calls until cleared with ZeroGrad.
func (t *Tensor) BackwardWith(grad *Tensor) error {
	if !t.requiresGrad {
		return fmt.Errorf("cannot backpropagate from a tensor that does not require gradients")
	}
	if grad == nil {
		return fmt.Errorf("nil gradient")
	}
	if grad.DType != t.DType {
		return fmt.Errorf("gradient dtype %s does not match tensor dtype %s", grad.DType, t.DType)
	}
	if !shapesEqual(grad.Shape, t.Shape) {
		return fmt.Errorf("gradient shape %v does not match tensor shape %v", grad.Shape, t.Shape)
	}

	seed, err := grad.Clone()
	if err != nil {
		return fmt.Errorf("failed to clone seed gradient: %v", err)
	}
	if err := accumulateGrad(t, seed); err != nil {
		return err
	}

	// Reverse topological order guarantees every node has its full gradient
	// before its creator's Backward runs, which matters when a tensor feeds
	// more than one operation (residual connections).
	order := topologicalOrder(t)

	for i := len(order) - 1; i >= 0; i-- {
		node := order[i]
		if node.creator == nil || node.grad == nil {
			continue
		}

		inputs := node.creator.Inputs()
		grads := node.creator.Backward(node.grad)
		if len(grads) != len(inputs) {
			return fmt.Errorf("operation %T returned %d gradients for %d inputs", node.creator, len(grads), len(inputs))
		}

		for j, input := range inputs {
			if grads[j] == nil || input == nil || !input.requiresGrad {
				continue
			}
			if err := accumulateGrad(input, grads[j]); err != nil {
				return fmt.Errorf("operation %T: %v", node.creator, err)
			}
		}
	}

	return nil
}

// topologicalOrder performs an iterative depth-first postorder walk over the
// creator graph. Iterative rather than recursive: graphs unrolled across
// timesteps and eighteen layers get deep.
func topologicalOrder(root *Tensor) []*Tensor {
	type frame struct {
		node *Tensor
		next int
	}

	visited := make(map[*Tensor]bool)
	order := make([]*Tensor, 0, 64)
	stack := make([]frame, 0, 64)

	stack = append(stack, frame{node: root})
	visited[root] = true

	for len(stack) > 0 {
		f := &stack[len(stack)-1]

		if f.node.creator == nil {
			order = append(order, f.node)
			stack = stack[:len(stack)-1]
			continue
		}

		inputs := f.node.creator.Inputs()
		pushed := false
		for f.next < len(inputs) {
			in := inputs[f.next]
			f.next++
			if in == nil || visited[in] || !in.requiresGrad {
				continue
			}
			visited[in] = true
			stack = append(stack, frame{node: in})
			pushed = true
			break
		}
		if !pushed {
			order = append(order, f.node)
			stack = stack[:len(stack)-1]
		}
	}

	return order
}

// accumulateGrad adds g into the tensor's gradient, taking ownership of g
// when no gradient exists yet.
func accumulateGrad(t *Tensor, g *Tensor) error {
	if !shapesEqual(g.Shape, t.Shape) {
		return fmt.Errorf("gradient shape %v does not match tensor shape %v", g.Shape, t.Shape)
	}

	if t.grad == nil {
		t.grad = g
		return nil
	}

	sum, err := Add(t.grad, g)
	if err != nil {
		return fmt.Errorf("failed to accumulate gradient: %v", err)
	}
	t.grad = sum
	return nil
}
