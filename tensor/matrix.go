package tensor

import (
	"fmt"
)

func getIndex(indices []int, strides []int) int {
	index := 0
	for i, idx := range indices {
		index += idx * strides[i]
	}
	return index
}

func getIndicesFromLinear(linearIndex int, shape []int) []int {
	indices := make([]int, len(shape))
	for i := len(shape) - 1; i >= 0; i-- {
		indices[i] = linearIndex % shape[i]
		linearIndex /= shape[i]
	}
	return indices
}

func MatMul(t1, t2 *Tensor) (*Tensor, error) {
	if err := checkCompatibility(t1, t2); err != nil {
		return nil, err
	}

	if len(t1.Shape) < 2 || len(t2.Shape) < 2 {
		return nil, fmt.Errorf("matmul requires tensors with at least 2 dimensions")
	}

	shape1 := t1.Shape
	shape2 := t2.Shape

	rows1 := shape1[len(shape1)-2]
	cols1 := shape1[len(shape1)-1]
	rows2 := shape2[len(shape2)-2]
	cols2 := shape2[len(shape2)-1]

	if cols1 != rows2 {
		return nil, fmt.Errorf("incompatible dimensions for matmul: (%d, %d) x (%d, %d)", rows1, cols1, rows2, cols2)
	}

	outputShape := make([]int, len(shape1))
	copy(outputShape, shape1)
	outputShape[len(outputShape)-1] = cols2

	result, err := Zeros(outputShape, t1.DType)
	if err != nil {
		return nil, err
	}

	switch t1.DType {
	case Float32:
		data1 := t1.Data.([]float32)
		data2 := t2.Data.([]float32)
		resultData := result.Data.([]float32)

		for i := 0; i < rows1; i++ {
			for j := 0; j < cols2; j++ {
				var sum float32
				for k := 0; k < cols1; k++ {
					idx1 := i*cols1 + k
					idx2 := k*cols2 + j
					sum += data1[idx1] * data2[idx2]
				}
				resultIdx := i*cols2 + j
				resultData[resultIdx] = sum
			}
		}
	case Int32:
		data1 := t1.Data.([]int32)
		data2 := t2.Data.([]int32)
		resultData := result.Data.([]int32)

		for i := 0; i < rows1; i++ {
			for j := 0; j < cols2; j++ {
				var sum int32
				for k := 0; k < cols1; k++ {
					idx1 := i*cols1 + k
					idx2 := k*cols2 + j
					sum += data1[idx1] * data2[idx2]
				}
				resultIdx := i*cols2 + j
				resultData[resultIdx] = sum
			}
		}
	default:
		return nil, fmt.Errorf("unsupported dtype for MatMul: %s", t1.DType)
	}

	return result, nil
}

func Transpose(t *Tensor, dim0, dim1 int) (*Tensor, error) {
	if dim0 < 0 || dim0 >= len(t.Shape) {
		return nil, fmt.Errorf("dim0 %d out of range for tensor with %d dimensions", dim0, len(t.Shape))
	}
	if dim1 < 0 || dim1 >= len(t.Shape) {
		return nil, fmt.Errorf("dim1 %d out of range for tensor with %d dimensions", dim1, len(t.Shape))
	}

	order := make([]int, len(t.Shape))
	for i := range order {
		order[i] = i
	}
	order[dim0], order[dim1] = order[dim1], order[dim0]

	return Permute(t, order)
}

// Permute reorders the axes of a tensor. order must be a permutation of
// 0..rank-1; the element at output position (i0, i1, ...) is the input
// element at (i_order[0], i_order[1], ...).
func Permute(t *Tensor, order []int) (*Tensor, error) {
	if len(order) != len(t.Shape) {
		return nil, fmt.Errorf("permute order has %d entries for tensor with %d dimensions", len(order), len(t.Shape))
	}

	seen := make([]bool, len(order))
	for _, axis := range order {
		if axis < 0 || axis >= len(t.Shape) {
			return nil, fmt.Errorf("permute axis %d out of range for tensor with %d dimensions", axis, len(t.Shape))
		}
		if seen[axis] {
			return nil, fmt.Errorf("permute order %v repeats axis %d", order, axis)
		}
		seen[axis] = true
	}

	outputShape := make([]int, len(t.Shape))
	for i, axis := range order {
		outputShape[i] = t.Shape[axis]
	}

	result, err := Zeros(outputShape, t.DType)
	if err != nil {
		return nil, err
	}

	inCoords := make([]int, len(t.Shape))
	switch t.DType {
	case Float32:
		data := t.Data.([]float32)
		resultData := result.Data.([]float32)

		for outIdx := 0; outIdx < result.NumElems; outIdx++ {
			outCoords := getIndicesFromLinear(outIdx, outputShape)
			for i, axis := range order {
				inCoords[axis] = outCoords[i]
			}
			resultData[outIdx] = data[getIndex(inCoords, t.Strides)]
		}
	case Int32:
		data := t.Data.([]int32)
		resultData := result.Data.([]int32)

		for outIdx := 0; outIdx < result.NumElems; outIdx++ {
			outCoords := getIndicesFromLinear(outIdx, outputShape)
			for i, axis := range order {
				inCoords[axis] = outCoords[i]
			}
			resultData[outIdx] = data[getIndex(inCoords, t.Strides)]
		}
	default:
		return nil, fmt.Errorf("unsupported dtype for Permute: %s", t.DType)
	}

	return result, nil
}

// inversePermutation returns the order that undoes a permutation.
func inversePermutation(order []int) []int {
	inverse := make([]int, len(order))
	for i, axis := range order {
		inverse[axis] = i
	}
	return inverse
}

func Reshape(t *Tensor, newShape []int) (*Tensor, error) {
	if err := validateShape(newShape); err != nil {
		return nil, err
	}

	newNumElems := calculateNumElements(newShape)
	if newNumElems != t.NumElems {
		return nil, fmt.Errorf("cannot reshape tensor of size %d into shape %v (size %d)",
			t.NumElems, newShape, newNumElems)
	}

	newStrides := calculateStrides(newShape)

	result := &Tensor{
		Shape:        newShape,
		Strides:      newStrides,
		DType:        t.DType,
		NumElems:     t.NumElems,
		requiresGrad: t.requiresGrad,
	}

	switch t.DType {
	case Float32:
		data := t.Data.([]float32)
		newData := make([]float32, len(data))
		copy(newData, data)
		result.Data = newData
	case Int32:
		data := t.Data.([]int32)
		newData := make([]int32, len(data))
		copy(newData, data)
		result.Data = newData
	default:
		return nil, fmt.Errorf("unsupported dtype for Reshape: %s", t.DType)
	}

	return result, nil
}

func Flatten(t *Tensor) (*Tensor, error) {
	return Reshape(t, []int{t.NumElems})
}

func Squeeze(t *Tensor, dim int) (*Tensor, error) {
	if dim < 0 || dim >= len(t.Shape) {
		return nil, fmt.Errorf("dim %d out of range for tensor with %d dimensions", dim, len(t.Shape))
	}

	if t.Shape[dim] != 1 {
		return nil, fmt.Errorf("cannot squeeze dimension %d with size %d (must be 1)", dim, t.Shape[dim])
	}

	newShape := make([]int, 0, len(t.Shape)-1)
	for i, size := range t.Shape {
		if i != dim {
			newShape = append(newShape, size)
		}
	}

	return Reshape(t, newShape)
}

func Unsqueeze(t *Tensor, dim int) (*Tensor, error) {
	if dim < 0 || dim > len(t.Shape) {
		return nil, fmt.Errorf("dim %d out of range for unsqueeze operation", dim)
	}

	newShape := make([]int, len(t.Shape)+1)
	copy(newShape[:dim], t.Shape[:dim])
	newShape[dim] = 1
	copy(newShape[dim+1:], t.Shape[dim:])

	return Reshape(t, newShape)
}

func Sum(t *Tensor, dim int, keepDim bool) (*Tensor, error) {
	if dim < 0 || dim >= len(t.Shape) {
		return nil, fmt.Errorf("dim %d out of range for tensor with %d dimensions", dim, len(t.Shape))
	}

	var outputShape []int
	if keepDim {
		outputShape = make([]int, len(t.Shape))
		copy(outputShape, t.Shape)
		outputShape[dim] = 1
	} else {
		outputShape = make([]int, 0, len(t.Shape)-1)
		for i, size := range t.Shape {
			if i != dim {
				outputShape = append(outputShape, size)
			}
		}
		// Reducing a 1-D tensor leaves a single-element result.
		if len(outputShape) == 0 {
			outputShape = []int{1}
		}
	}

	result, err := Zeros(outputShape, t.DType)
	if err != nil {
		return nil, err
	}

	switch t.DType {
	case Float32:
		data := t.Data.([]float32)
		resultData := result.Data.([]float32)

		for i := 0; i < t.NumElems; i++ {
			indices := getIndicesFromLinear(i, t.Shape)

			var resultIndices []int
			if keepDim {
				resultIndices = make([]int, len(indices))
				copy(resultIndices, indices)
				resultIndices[dim] = 0
			} else {
				resultIndices = make([]int, 0, len(indices)-1)
				for j, idx := range indices {
					if j != dim {
						resultIndices = append(resultIndices, idx)
					}
				}
			}

			resultIdx := getIndex(resultIndices, result.Strides)
			resultData[resultIdx] += data[i]
		}
	case Int32:
		data := t.Data.([]int32)
		resultData := result.Data.([]int32)

		for i := 0; i < t.NumElems; i++ {
			indices := getIndicesFromLinear(i, t.Shape)

			var resultIndices []int
			if keepDim {
				resultIndices = make([]int, len(indices))
				copy(resultIndices, indices)
				resultIndices[dim] = 0
			} else {
				resultIndices = make([]int, 0, len(indices)-1)
				for j, idx := range indices {
					if j != dim {
						resultIndices = append(resultIndices, idx)
					}
				}
			}

			resultIdx := getIndex(resultIndices, result.Strides)
			resultData[resultIdx] += data[i]
		}
	default:
		return nil, fmt.Errorf("unsupported dtype for Sum: %s", t.DType)
	}

	return result, nil
}

func Mean(t *Tensor, dim int, keepDim bool) (*Tensor, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("Mean only supports Float32 dtype")
	}

	summed, err := Sum(t, dim, keepDim)
	if err != nil {
		return nil, err
	}

	return Scale(summed, 1.0/float32(t.Shape[dim]))
}

// MeanAll reduces a tensor to a single-element tensor holding the mean of
// all elements.
func MeanAll(t *Tensor) (*Tensor, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("MeanAll only supports Float32 dtype")
	}

	data := t.Data.([]float32)
	var sum float32
	for _, v := range data {
		sum += v
	}

	return NewTensor([]int{1}, Float32, []float32{sum / float32(t.NumElems)})
}

// PadLast left-pads the last axis with `left` constant entries of `value`.
// This is the causal padding used ahead of temporal convolution: with the
// time axis last, a left pad of (kernel extent - 1) means output step t can
// only see input steps <= t.
func PadLast(t *Tensor, left int, value float32) (*Tensor, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("PadLast only supports Float32 dtype")
	}
	if left < 0 {
		return nil, fmt.Errorf("pad amount must be non-negative, got %d", left)
	}
	if left == 0 {
		return t.Clone()
	}

	last := len(t.Shape) - 1
	outputShape := make([]int, len(t.Shape))
	copy(outputShape, t.Shape)
	outputShape[last] += left

	result, err := Zeros(outputShape, Float32)
	if err != nil {
		return nil, err
	}

	data := t.Data.([]float32)
	resultData := result.Data.([]float32)

	inLen := t.Shape[last]
	outLen := outputShape[last]
	rows := t.NumElems / inLen

	for r := 0; r < rows; r++ {
		base := r * outLen
		if value != 0 {
			for j := 0; j < left; j++ {
				resultData[base+j] = value
			}
		}
		copy(resultData[base+left:base+outLen], data[r*inLen:(r+1)*inLen])
	}

	return result, nil
}

// unpadLast drops `left` leading entries of the last axis, undoing PadLast.
func unpadLast(t *Tensor, left int) (*Tensor, error) {
	last := len(t.Shape) - 1
	if left < 0 || left >= t.Shape[last] {
		return nil, fmt.Errorf("unpad amount %d out of range for axis of size %d", left, t.Shape[last])
	}

	outputShape := make([]int, len(t.Shape))
	copy(outputShape, t.Shape)
	outputShape[last] -= left

	result, err := Zeros(outputShape, t.DType)
	if err != nil {
		return nil, err
	}

	data := t.Data.([]float32)
	resultData := result.Data.([]float32)

	inLen := t.Shape[last]
	outLen := outputShape[last]
	rows := t.NumElems / inLen

	for r := 0; r < rows; r++ {
		copy(resultData[r*outLen:(r+1)*outLen], data[r*inLen+left:(r+1)*inLen])
	}

	return result, nil
}
