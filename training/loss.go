package training

import (
	"fmt"
	"math"

	"github.com/tsawler/go-spike/tensor"
)

// crossEntropyOp fuses rate decoding and classification loss: logits
// [T, B, C] are averaged over the time axis, softmaxed per row, and scored
// against integer class labels with mean negative log likelihood. The
// backward pass spreads the softmax-minus-onehot gradient evenly back
// across the timesteps.
type crossEntropyOp struct {
	inputs  []*tensor.Tensor // logits
	labels  []int32
	probs   []float32 // softmax of the time-averaged logits, [B, C]
	steps   int
	batch   int
	classes int
}

func (op *crossEntropyOp) Forward(inputs ...*tensor.Tensor) *tensor.Tensor {
	logits := inputs[0]
	op.inputs = inputs

	op.steps = logits.Shape[0]
	op.batch = logits.Shape[1]
	op.classes = logits.Shape[2]

	data := logits.Data.([]float32)
	stepSize := op.batch * op.classes

	// Rate decoding: average the logits over time.
	avg := make([]float32, stepSize)
	for t := 0; t < op.steps; t++ {
		base := t * stepSize
		for i := 0; i < stepSize; i++ {
			avg[i] += data[base+i]
		}
	}
	invT := 1 / float32(op.steps)
	for i := range avg {
		avg[i] *= invT
	}

	// Row-wise softmax with max subtraction for numerical stability.
	op.probs = make([]float32, stepSize)
	for b := 0; b < op.batch; b++ {
		offset := b * op.classes

		maxVal := avg[offset]
		for c := 1; c < op.classes; c++ {
			if avg[offset+c] > maxVal {
				maxVal = avg[offset+c]
			}
		}

		var sum float32
		for c := 0; c < op.classes; c++ {
			e := float32(math.Exp(float64(avg[offset+c] - maxVal)))
			op.probs[offset+c] = e
			sum += e
		}

		for c := 0; c < op.classes; c++ {
			op.probs[offset+c] /= sum
		}
	}

	var totalLoss float32
	for b := 0; b < op.batch; b++ {
		prob := op.probs[b*op.classes+int(op.labels[b])]
		if prob < 1e-10 {
			prob = 1e-10
		}
		totalLoss += -float32(math.Log(float64(prob)))
	}
	totalLoss /= float32(op.batch)

	result, err := tensor.NewTensor([]int{1}, tensor.Float32, []float32{totalLoss})
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}

	result.SetCreator(op)
	result.SetRequiresGrad(logits.RequiresGrad())

	return result
}

func (op *crossEntropyOp) Backward(gradOut *tensor.Tensor) []*tensor.Tensor {
	logits := op.inputs[0]
	g0 := gradOut.Data.([]float32)[0]

	stepSize := op.batch * op.classes
	scale := g0 / (float32(op.batch) * float32(op.steps))

	// Gradient of the time-averaged row: (softmax - onehot) / batch. Every
	// timestep contributed 1/T of the average, so each receives that share.
	rowGrad := make([]float32, stepSize)
	for b := 0; b < op.batch; b++ {
		offset := b * op.classes
		target := int(op.labels[b])
		for c := 0; c < op.classes; c++ {
			g := op.probs[offset+c]
			if c == target {
				g -= 1
			}
			rowGrad[offset+c] = g * scale
		}
	}

	gradData := make([]float32, logits.NumElems)
	for t := 0; t < op.steps; t++ {
		copy(gradData[t*stepSize:(t+1)*stepSize], rowGrad)
	}

	gradLogits, err := tensor.NewTensor(logits.Size(), tensor.Float32, gradData)
	if err != nil {
		panic(fmt.Sprintf("Backward pass failed: %v", err))
	}

	return []*tensor.Tensor{gradLogits}
}

func (op *crossEntropyOp) Inputs() []*tensor.Tensor {
	return op.inputs
}

// CrossEntropyLoss computes the classification loss of time-major logits
// [T, B, nClass] against labels [B], returning a scalar tensor attached to
// the autograd graph.
func CrossEntropyLoss(logits, labels *tensor.Tensor) (*tensor.Tensor, error) {
	if err := checkLogitsAndLabels(logits, labels); err != nil {
		return nil, err
	}

	op := &crossEntropyOp{labels: labels.Data.([]int32)}
	return op.Forward(logits), nil
}

// Accuracy returns the fraction of samples whose time-averaged logits put
// the highest score on the true class.
func Accuracy(logits, labels *tensor.Tensor) (float64, error) {
	if err := checkLogitsAndLabels(logits, labels); err != nil {
		return 0, err
	}

	steps := logits.Shape[0]
	batch := logits.Shape[1]
	classes := logits.Shape[2]
	data := logits.Data.([]float32)
	labelData := labels.Data.([]int32)

	stepSize := batch * classes
	avg := make([]float32, stepSize)
	for t := 0; t < steps; t++ {
		base := t * stepSize
		for i := 0; i < stepSize; i++ {
			avg[i] += data[base+i]
		}
	}

	correct := 0
	for b := 0; b < batch; b++ {
		offset := b * classes
		best := 0
		for c := 1; c < classes; c++ {
			if avg[offset+c] > avg[offset+best] {
				best = c
			}
		}
		if int32(best) == labelData[b] {
			correct++
		}
	}

	return float64(correct) / float64(batch), nil
}

func checkLogitsAndLabels(logits, labels *tensor.Tensor) error {
	if logits == nil || labels == nil {
		return fmt.Errorf("logits and labels must not be nil")
	}
	if logits.DType != tensor.Float32 || labels.DType != tensor.Int32 {
		return fmt.Errorf("logits must be Float32 and labels must be Int32")
	}
	if len(logits.Shape) != 3 {
		return fmt.Errorf("logits must be 3D [steps, batch, classes], got shape %v", logits.Shape)
	}
	if len(labels.Shape) != 1 {
		return fmt.Errorf("labels must be 1D [batch], got shape %v", labels.Shape)
	}

	batch := logits.Shape[1]
	classes := logits.Shape[2]
	if labels.Shape[0] != batch {
		return fmt.Errorf("batch size mismatch: logits %d, labels %d", batch, labels.Shape[0])
	}

	for i, label := range labels.Data.([]int32) {
		if label < 0 || int(label) >= classes {
			return fmt.Errorf("label %d at index %d out of range [0, %d)", label, i, classes)
		}
	}

	return nil
}
