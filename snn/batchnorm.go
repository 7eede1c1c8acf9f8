package snn

import (
	"fmt"
	"math/rand"

	"github.com/goki/mat32"
	"github.com/tsawler/go-spike/tensor"
)

// batchNormOp normalizes x over every axis except the channel axis (axis 1)
// with the supplied per-channel statistics, then applies gain and shift.
// When batchStats is set the statistics were computed from x itself and the
// backward pass includes their dependence on the input; otherwise they are
// treated as constants.
type batchNormOp struct {
	inputs     []*tensor.Tensor // x, gain, shift
	mean       []float32
	invStd     []float32
	batchStats bool
	xhat       []float32
}

func newBatchNormOp(mean, invStd []float32, batchStats bool) *batchNormOp {
	return &batchNormOp{mean: mean, invStd: invStd, batchStats: batchStats}
}

func (op *batchNormOp) Forward(inputs ...*tensor.Tensor) *tensor.Tensor {
	if len(inputs) != 3 {
		panic("batchNormOp requires exactly 3 inputs (x, gain, shift)")
	}

	x, gain, shift := inputs[0], inputs[1], inputs[2]
	op.inputs = inputs

	channels := x.Shape[1]
	inner := x.NumElems / (x.Shape[0] * channels)

	result, err := tensor.Zeros(x.Shape, tensor.Float32)
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}

	xData := x.Data.([]float32)
	gData := gain.Data.([]float32)
	sData := shift.Data.([]float32)
	outData := result.Data.([]float32)
	op.xhat = make([]float32, x.NumElems)

	for i, v := range xData {
		ch := i / inner % channels
		xh := (v - op.mean[ch]) * op.invStd[ch]
		op.xhat[i] = xh
		outData[i] = gData[ch]*xh + sData[ch]
	}

	result.SetCreator(op)
	result.SetRequiresGrad(x.RequiresGrad() || gain.RequiresGrad() || shift.RequiresGrad())

	return result
}

func (op *batchNormOp) Backward(gradOut *tensor.Tensor) []*tensor.Tensor {
	x, gain := op.inputs[0], op.inputs[1]
	channels := x.Shape[1]
	inner := x.NumElems / (x.Shape[0] * channels)
	count := float32(x.Shape[0] * inner)

	gradData := gradOut.Data.([]float32)
	gainData := gain.Data.([]float32)

	sumDy := make([]float32, channels)
	sumDyXhat := make([]float32, channels)
	for i, g := range gradData {
		ch := i / inner % channels
		sumDy[ch] += g
		sumDyXhat[ch] += g * op.xhat[i]
	}

	gradX, err := tensor.Zeros(x.Shape, tensor.Float32)
	if err != nil {
		panic(fmt.Sprintf("Backward pass failed: %v", err))
	}
	gxData := gradX.Data.([]float32)

	if op.batchStats {
		for i, g := range gradData {
			ch := i / inner % channels
			gxData[i] = gainData[ch] * op.invStd[ch] * (g - (sumDy[ch]+op.xhat[i]*sumDyXhat[ch])/count)
		}
	} else {
		for i, g := range gradData {
			ch := i / inner % channels
			gxData[i] = g * gainData[ch] * op.invStd[ch]
		}
	}

	gradGain, err := tensor.NewTensor([]int{channels}, tensor.Float32, sumDyXhat)
	if err != nil {
		panic(fmt.Sprintf("Backward pass failed: %v", err))
	}
	gradShift, err := tensor.NewTensor([]int{channels}, tensor.Float32, sumDy)
	if err != nil {
		panic(fmt.Sprintf("Backward pass failed: %v", err))
	}

	return []*tensor.Tensor{gradX, gradGain, gradShift}
}

func (op *batchNormOp) Inputs() []*tensor.Tensor {
	return op.inputs
}

// channelStats computes the per-channel mean and biased variance of x over
// every axis except the channel axis.
func channelStats(x *tensor.Tensor) (mean, variance []float32) {
	channels := x.Shape[1]
	inner := x.NumElems / (x.Shape[0] * channels)
	count := float32(x.Shape[0] * inner)

	mean = make([]float32, channels)
	variance = make([]float32, channels)
	xData := x.Data.([]float32)

	for i, v := range xData {
		mean[i/inner%channels] += v
	}
	for ch := range mean {
		mean[ch] /= count
	}
	for i, v := range xData {
		ch := i / inner % channels
		d := v - mean[ch]
		variance[ch] += d * d
	}
	for ch := range variance {
		variance[ch] /= count
	}
	return mean, variance
}

// batchNormApply runs normalization on a folded [N, C, ...] tensor,
// updating the running statistics in place during training.
func batchNormApply(x, gain, shift, runningMean, runningVar *tensor.Tensor, eps, momentum float32, training bool) *tensor.Tensor {
	channels := x.Shape[1]
	rMean := runningMean.Data.([]float32)
	rVar := runningVar.Data.([]float32)

	var mean, invStd []float32
	batchStats := training

	if training {
		var variance []float32
		mean, variance = channelStats(x)

		count := float32(x.NumElems / channels)
		unbiased := float32(1)
		if count > 1 {
			unbiased = count / (count - 1)
		}
		for ch := 0; ch < channels; ch++ {
			rMean[ch] = (1-momentum)*rMean[ch] + momentum*mean[ch]
			rVar[ch] = (1-momentum)*rVar[ch] + momentum*variance[ch]*unbiased
		}

		invStd = make([]float32, channels)
		for ch, v := range variance {
			invStd[ch] = 1 / mat32.Sqrt(v+eps)
		}
	} else {
		mean = rMean
		invStd = make([]float32, channels)
		for ch, v := range rVar {
			invStd[ch] = 1 / mat32.Sqrt(v+eps)
		}
	}

	op := newBatchNormOp(mean, invStd, batchStats)
	return op.Forward(x, gain, shift)
}

// SeqBatchNorm2D normalizes [T, B, C, H, W] activations per channel, with
// statistics taken over the time, batch, and spatial axes together.
type SeqBatchNorm2D struct {
	mode
	Features int
	Eps      float32
	Momentum float32

	gain        *tensor.Tensor
	shift       *tensor.Tensor
	runningMean *tensor.Tensor
	runningVar  *tensor.Tensor
}

// newNormState allocates gain 1, shift 0, and fresh running statistics for
// a normalization layer over the given number of channels.
func newNormState(features int) (gain, shift, rMean, rVar *tensor.Tensor, err error) {
	if features < 1 {
		return nil, nil, nil, nil, fmt.Errorf("features must be >= 1, got %d", features)
	}

	gain, err = tensor.Ones([]int{features}, tensor.Float32)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	gain.SetRequiresGrad(true)

	shift, err = tensor.Zeros([]int{features}, tensor.Float32)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	shift.SetRequiresGrad(true)

	rMean, err = tensor.Zeros([]int{features}, tensor.Float32)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	rVar, err = tensor.Ones([]int{features}, tensor.Float32)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	return gain, shift, rMean, rVar, nil
}

// NewSeqBatchNorm2D builds a per-timestep batch normalization layer with
// gain 1, shift 0, and fresh running statistics.
func NewSeqBatchNorm2D(features int) (*SeqBatchNorm2D, error) {
	gain, shift, rMean, rVar, err := newNormState(features)
	if err != nil {
		return nil, err
	}
	return &SeqBatchNorm2D{
		mode:        mode{training: true},
		Features:    features,
		Eps:         1e-5,
		Momentum:    0.1,
		gain:        gain,
		shift:       shift,
		runningMean: rMean,
		runningVar:  rVar,
	}, nil
}

func (bn *SeqBatchNorm2D) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if len(x.Shape) != 5 {
		return nil, fmt.Errorf("SeqBatchNorm2D expects [T, B, C, H, W], got shape %v", x.Shape)
	}
	if x.Shape[2] != bn.Features {
		return nil, fmt.Errorf("SeqBatchNorm2D configured for %d channels, got %d", bn.Features, x.Shape[2])
	}

	folded, t, b, err := foldTime(x)
	if err != nil {
		return nil, err
	}
	out := batchNormApply(folded, bn.gain, bn.shift, bn.runningMean, bn.runningVar, bn.Eps, bn.Momentum, bn.training)
	return unfoldTime(out, t, b), nil
}

func (bn *SeqBatchNorm2D) Parameters() []Param {
	return []Param{
		{Name: "gain", Role: RoleGain, Tensor: bn.gain},
		{Name: "shift", Role: RoleShift, Tensor: bn.shift},
	}
}

func (bn *SeqBatchNorm2D) Buffers() []Param {
	return []Param{
		{Name: "running_mean", Role: RoleRunningStat, Tensor: bn.runningMean},
		{Name: "running_var", Role: RoleRunningStat, Tensor: bn.runningVar},
	}
}

func (bn *SeqBatchNorm2D) Apply(fn func(Module)) { fn(bn) }

// InitFanOut resets gain to 1 and shift to 0.
func (bn *SeqBatchNorm2D) InitFanOut(rng *rand.Rand) {
	fillConst(bn.gain, 1)
	fillConst(bn.shift, 0)
}

// BatchNorm1D normalizes [T, B, F] activations per feature, with
// statistics taken over the time and batch axes together.
type BatchNorm1D struct {
	mode
	Features int
	Eps      float32
	Momentum float32

	gain        *tensor.Tensor
	shift       *tensor.Tensor
	runningMean *tensor.Tensor
	runningVar  *tensor.Tensor
}

// NewBatchNorm1D builds a feature normalization layer with gain 1, shift 0,
// and fresh running statistics.
func NewBatchNorm1D(features int) (*BatchNorm1D, error) {
	gain, shift, rMean, rVar, err := newNormState(features)
	if err != nil {
		return nil, err
	}
	return &BatchNorm1D{
		mode:        mode{training: true},
		Features:    features,
		Eps:         1e-5,
		Momentum:    0.1,
		gain:        gain,
		shift:       shift,
		runningMean: rMean,
		runningVar:  rVar,
	}, nil
}

func (bn *BatchNorm1D) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if len(x.Shape) != 3 {
		return nil, fmt.Errorf("BatchNorm1D expects [T, B, F], got shape %v", x.Shape)
	}
	if x.Shape[2] != bn.Features {
		return nil, fmt.Errorf("BatchNorm1D configured for %d features, got %d", bn.Features, x.Shape[2])
	}

	folded, t, b, err := foldTime(x)
	if err != nil {
		return nil, err
	}
	out := batchNormApply(folded, bn.gain, bn.shift, bn.runningMean, bn.runningVar, bn.Eps, bn.Momentum, bn.training)
	return unfoldTime(out, t, b), nil
}

func (bn *BatchNorm1D) Parameters() []Param {
	return []Param{
		{Name: "gain", Role: RoleGain, Tensor: bn.gain},
		{Name: "shift", Role: RoleShift, Tensor: bn.shift},
	}
}

func (bn *BatchNorm1D) Buffers() []Param {
	return []Param{
		{Name: "running_mean", Role: RoleRunningStat, Tensor: bn.runningMean},
		{Name: "running_var", Role: RoleRunningStat, Tensor: bn.runningVar},
	}
}

func (bn *BatchNorm1D) Apply(fn func(Module)) { fn(bn) }

// InitFanOut resets gain to 1 and shift to 0.
func (bn *BatchNorm1D) InitFanOut(rng *rand.Rand) {
	fillConst(bn.gain, 1)
	fillConst(bn.shift, 0)
}
