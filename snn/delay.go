package snn

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/goki/mat32"
	"github.com/tsawler/go-spike/tensor"
)

// DelayVersion selects how a continuous tap position is relaxed onto the
// discrete temporal kernel.
type DelayVersion string

const (
	// Gauss spreads each tap as a normalized Gaussian whose width anneals
	// toward a near-discrete kernel over training.
	Gauss DelayVersion = "gauss"
	// V1 uses triangular interpolation between the two nearest taps.
	V1 DelayVersion = "v1"
)

// finalSigma is where the annealing schedule stops: narrow enough that the
// kernel is effectively one tap, wide enough to keep gradients alive.
const finalSigma = 0.23

// DelayConv2DConfig configures a spatio-temporal convolution with learnable
// synaptic delays.
type DelayConv2DConfig struct {
	InChannels        int
	OutChannels       int
	KernelCount       int // taps along time per weight element, default 1
	DenseKernelSize   int // spatial kernel size
	DilatedKernelSize int // temporal extent D of the synthesized kernel
	Stride            int
	SpatialPadding    int
	Groups            int
	Bias              bool
	LearnDelay        bool
	Version           DelayVersion
}

// DelayConv2D convolves [T, B, C, H, W] activations with a kernel whose
// temporal taps sit at learnable, continuous positions. Each weight element
// owns one position; the position is relaxed over the D discrete time slots
// (Gaussian or triangular), the relaxed kernel is convolved in 3D with the
// time axis last, and causality is kept by left-padding time by D-1 so an
// output frame only ever sees current and past input frames.
type DelayConv2D struct {
	mode
	Cfg DelayConv2DConfig

	sigInit  float32
	clampLim float32

	weight   *tensor.Tensor // [O, C/g, K, kh, kw]
	position *tensor.Tensor // same shape as weight
	spread   *tensor.Tensor // same shape, gauss only, never learned
	bias     *tensor.Tensor // [O] or nil
}

// NewDelayConv2D builds a delay convolution. Zero values for KernelCount,
// Stride, and Groups default to 1.
func NewDelayConv2D(cfg DelayConv2DConfig, rng *rand.Rand) (*DelayConv2D, error) {
	if cfg.KernelCount == 0 {
		cfg.KernelCount = 1
	}
	if cfg.Stride == 0 {
		cfg.Stride = 1
	}
	if cfg.Groups == 0 {
		cfg.Groups = 1
	}

	if cfg.InChannels < 1 || cfg.OutChannels < 1 {
		return nil, fmt.Errorf("channels must be >= 1, got in %d, out %d", cfg.InChannels, cfg.OutChannels)
	}
	if cfg.KernelCount < 1 || cfg.DenseKernelSize < 1 || cfg.DilatedKernelSize < 1 {
		return nil, fmt.Errorf("kernel sizes must be >= 1, got count %d, dense %d, dilated %d",
			cfg.KernelCount, cfg.DenseKernelSize, cfg.DilatedKernelSize)
	}
	if cfg.Stride < 1 || cfg.SpatialPadding < 0 {
		return nil, fmt.Errorf("stride must be >= 1 and padding >= 0, got stride %d, padding %d", cfg.Stride, cfg.SpatialPadding)
	}
	if cfg.InChannels%cfg.Groups != 0 || cfg.OutChannels%cfg.Groups != 0 {
		return nil, fmt.Errorf("channels (in %d, out %d) must be divisible by groups %d", cfg.InChannels, cfg.OutChannels, cfg.Groups)
	}
	if cfg.Version != Gauss && cfg.Version != V1 {
		return nil, fmt.Errorf("unknown delay version %q, want %q or %q", cfg.Version, Gauss, V1)
	}
	if rng == nil {
		return nil, fmt.Errorf("rng must not be nil")
	}

	dc := &DelayConv2D{
		mode:     mode{training: true},
		Cfg:      cfg,
		sigInit:  float32(cfg.DilatedKernelSize) / 2,
		clampLim: float32(cfg.DilatedKernelSize / 2),
	}

	shape := []int{cfg.OutChannels, cfg.InChannels / cfg.Groups, cfg.KernelCount, cfg.DenseKernelSize, cfg.DenseKernelSize}

	fanIn := cfg.InChannels / cfg.Groups * cfg.KernelCount * cfg.DenseKernelSize * cfg.DenseKernelSize
	bound := float32(1 / math.Sqrt(float64(fanIn)))
	w, err := tensor.RandomUniform(shape, -bound, bound, rng)
	if err != nil {
		return nil, err
	}
	w.SetRequiresGrad(true)
	dc.weight = w

	var pos *tensor.Tensor
	if cfg.LearnDelay {
		pos, err = tensor.RandomUniform(shape, -dc.clampLim, dc.clampLim, rng)
		if err != nil {
			return nil, err
		}
		pos.SetRequiresGrad(true)
	} else {
		pos, err = tensor.Zeros(shape, tensor.Float32)
		if err != nil {
			return nil, err
		}
	}
	dc.position = pos

	if cfg.Version == Gauss {
		spread, err := tensor.Full(shape, dc.sigInit, tensor.Float32)
		if err != nil {
			return nil, err
		}
		dc.spread = spread
	}

	if cfg.Bias {
		b, err := tensor.RandomUniform([]int{cfg.OutChannels}, -bound, bound, rng)
		if err != nil {
			return nil, err
		}
		b.SetRequiresGrad(true)
		dc.bias = b
	}

	return dc, nil
}

func (dc *DelayConv2D) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if len(x.Shape) != 5 {
		return nil, fmt.Errorf("DelayConv2D expects [T, B, C, H, W], got shape %v", x.Shape)
	}
	if x.Shape[2] != dc.Cfg.InChannels {
		return nil, fmt.Errorf("DelayConv2D configured for %d input channels, got %d", dc.Cfg.InChannels, x.Shape[2])
	}

	// Time goes last so the temporal kernel can slide over it with the 3D
	// convolution; the left pad keeps output frame t blind to frames after t.
	p := tensor.PermuteAutograd(x, []int{1, 2, 3, 4, 0})
	p = tensor.PadTimeAutograd(p, dc.Cfg.DilatedKernelSize-1, 0)

	op := &delayConvOp{
		version: dc.Cfg.Version,
		dilated: dc.Cfg.DilatedKernelSize,
		stride:  [3]int{dc.Cfg.Stride, dc.Cfg.Stride, 1},
		padding: [3]int{dc.Cfg.SpatialPadding, dc.Cfg.SpatialPadding, 0},
		groups:  dc.Cfg.Groups,
	}
	if dc.spread != nil {
		op.spread = dc.spread.Data.([]float32)
	}

	var out *tensor.Tensor
	if dc.bias != nil {
		out = op.Forward(p, dc.weight, dc.position, dc.bias)
	} else {
		out = op.Forward(p, dc.weight, dc.position)
	}

	return tensor.PermuteAutograd(out, []int{4, 0, 1, 2, 3}), nil
}

func (dc *DelayConv2D) Parameters() []Param {
	params := []Param{
		{Name: "weight", Role: RoleWeight, Tensor: dc.weight},
		{Name: "position", Role: RolePosition, Tensor: dc.position},
	}
	if dc.spread != nil {
		params = append(params, Param{Name: "spread", Role: RoleSpread, Tensor: dc.spread})
	}
	if dc.bias != nil {
		params = append(params, Param{Name: "bias", Role: RoleBias, Tensor: dc.bias})
	}
	return params
}

func (dc *DelayConv2D) Apply(fn func(Module)) { fn(dc) }

// InitFanOut redraws the weights from N(0, sqrt(2/n)) with n the full
// kernel volume (spatial taps times temporal taps) times the output
// channels, and zeroes the bias. Positions and spreads keep their
// constructor initialization.
func (dc *DelayConv2D) InitFanOut(rng *rand.Rand) {
	volume := dc.Cfg.DenseKernelSize * dc.Cfg.DenseKernelSize * dc.Cfg.KernelCount
	fillNormal(dc.weight, 0, fanOutStd(volume, dc.Cfg.OutChannels), rng)
	if dc.bias != nil {
		fillConst(dc.bias, 0)
	}
}

// ClampParameters clamps every tap position into the valid delay window
// [-(D/2), +(D/2)]. Values already inside the window are left untouched,
// and gradients are never modified.
func (dc *DelayConv2D) ClampParameters() {
	data := dc.position.Data.([]float32)
	for i, v := range data {
		if v < -dc.clampLim {
			data[i] = -dc.clampLim
		} else if v > dc.clampLim {
			data[i] = dc.clampLim
		}
	}
}

// DecreaseSig anneals the Gaussian spread one multiplicative step toward
// finalSigma, reaching it after totalEpochs/4 steps from the initial value.
// Once the spread is at or below finalSigma the schedule stops. No-op for
// the v1 version.
func (dc *DelayConv2D) DecreaseSig(epoch, totalEpochs int) {
	if dc.spread == nil {
		return
	}
	finalEpoch := totalEpochs / 4
	if finalEpoch < 1 {
		return
	}

	data := dc.spread.Data.([]float32)
	if epoch >= totalEpochs || data[0] <= finalSigma {
		return
	}

	alpha := mat32.Pow(finalSigma/dc.sigInit, 1/float32(finalEpoch))
	for i := range data {
		data[i] *= alpha
	}
}

// CurrentSigma reports the Gaussian spread, or 0 for the v1 version.
func (dc *DelayConv2D) CurrentSigma() float32 {
	if dc.spread == nil {
		return 0
	}
	return dc.spread.Data.([]float32)[0]
}

// SigmaReporter reports the current Gaussian spread so training logs can
// track the annealing schedule. Models without delay layers report 0.
type SigmaReporter interface {
	CurrentSigma() float32
}

// delayConvOp synthesizes the dilated temporal kernel from the dense
// weights and their tap positions, then runs the 3D convolution. Its
// backward pass routes the kernel gradient to both the weights and the
// positions; the spread is a constant and never receives gradients.
type delayConvOp struct {
	inputs  []*tensor.Tensor // x [B,C,H,W,Tp], weight, position, optional bias
	version DelayVersion
	dilated int
	stride  [3]int
	padding [3]int
	groups  int
	spread  []float32 // per weight element, gauss only

	gauss  []float32      // relaxation g(d) per weight element and time slot
	kernel *tensor.Tensor // synthesized [O, C/g, kh, kw, D]
}

func (op *delayConvOp) Forward(inputs ...*tensor.Tensor) *tensor.Tensor {
	if len(inputs) != 3 && len(inputs) != 4 {
		panic("delayConvOp requires 3 inputs (x, weight, position) or 4 (x, weight, position, bias)")
	}

	x, weight := inputs[0], inputs[1]
	var bias *tensor.Tensor
	if len(inputs) == 4 {
		bias = inputs[3]
	}
	op.inputs = inputs

	op.synthesize(weight, inputs[2])

	result, err := tensor.Conv3D(x, op.kernel, bias, op.stride, op.padding, op.groups)
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}

	result.SetCreator(op)
	requires := x.RequiresGrad() || weight.RequiresGrad() || inputs[2].RequiresGrad()
	if bias != nil {
		requires = requires || bias.RequiresGrad()
	}
	result.SetRequiresGrad(requires)

	return result
}

// synthesize relaxes each tap position over the D time slots and builds the
// dilated kernel, accumulating the KernelCount taps that share a spatial
// weight element.
func (op *delayConvOp) synthesize(weight, position *tensor.Tensor) {
	shape := weight.Shape // [O, C/g, K, kh, kw]
	taps := shape[2]
	spatial := shape[3] * shape[4]
	filters := shape[0] * shape[1]
	dlen := op.dilated
	center := float32(dlen-1) / 2

	wData := weight.Data.([]float32)
	pData := position.Data.([]float32)

	op.gauss = make([]float32, weight.NumElems*dlen)
	scratch := make([]float32, dlen)

	for w := 0; w < weight.NumElems; w++ {
		mu := pData[w] + center
		base := w * dlen
		switch op.version {
		case Gauss:
			sig := op.spread[w]
			sum := float32(1e-7)
			for d := 0; d < dlen; d++ {
				dd := float32(d) - mu
				scratch[d] = mat32.FastExp(-dd * dd / (2 * sig * sig))
				sum += scratch[d]
			}
			for d := 0; d < dlen; d++ {
				op.gauss[base+d] = scratch[d] / sum
			}
		case V1:
			for d := 0; d < dlen; d++ {
				if v := 1 - mat32.Abs(float32(d)-mu); v > 0 {
					op.gauss[base+d] = v
				}
			}
		}
	}

	kernel, err := tensor.Zeros([]int{shape[0], shape[1], shape[3], shape[4], dlen}, tensor.Float32)
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}
	kData := kernel.Data.([]float32)

	for f := 0; f < filters; f++ {
		for k := 0; k < taps; k++ {
			for s := 0; s < spatial; s++ {
				wIdx := (f*taps+k)*spatial + s
				wv := wData[wIdx]
				kBase := (f*spatial + s) * dlen
				gBase := wIdx * dlen
				for d := 0; d < dlen; d++ {
					kData[kBase+d] += wv * op.gauss[gBase+d]
				}
			}
		}
	}

	op.kernel = kernel
}

func (op *delayConvOp) Backward(gradOut *tensor.Tensor) []*tensor.Tensor {
	x, weight, position := op.inputs[0], op.inputs[1], op.inputs[2]
	var bias *tensor.Tensor
	if len(op.inputs) == 4 {
		bias = op.inputs[3]
	}

	needX := x.RequiresGrad()
	needW := weight.RequiresGrad()
	needP := position.RequiresGrad()
	needB := bias != nil && bias.RequiresGrad()
	needKernel := needW || needP

	gradX, gradKernel, gradBias, err := tensor.Conv3DBackward(x, op.kernel, gradOut,
		op.stride, op.padding, op.groups, needX, needKernel, needB)
	if err != nil {
		panic(fmt.Sprintf("Backward pass failed: %v", err))
	}

	var gradW, gradP *tensor.Tensor
	if needKernel {
		gradW, gradP, err = op.kernelGrads(weight, position, gradKernel, needW, needP)
		if err != nil {
			panic(fmt.Sprintf("Backward pass failed: %v", err))
		}
	}

	grads := []*tensor.Tensor{gradX, gradW, gradP}
	if bias != nil {
		grads = append(grads, gradBias)
	}
	return grads
}

// kernelGrads distributes the dilated-kernel gradient back to the dense
// weights and the tap positions through the relaxation.
func (op *delayConvOp) kernelGrads(weight, position, gradKernel *tensor.Tensor, needW, needP bool) (*tensor.Tensor, *tensor.Tensor, error) {
	shape := weight.Shape
	taps := shape[2]
	spatial := shape[3] * shape[4]
	filters := shape[0] * shape[1]
	dlen := op.dilated
	center := float32(dlen-1) / 2

	wData := weight.Data.([]float32)
	pData := position.Data.([]float32)
	gkData := gradKernel.Data.([]float32)

	var gwData, gpData []float32
	var gradW, gradP *tensor.Tensor
	var err error

	if needW {
		gradW, err = tensor.Zeros(shape, tensor.Float32)
		if err != nil {
			return nil, nil, err
		}
		gwData = gradW.Data.([]float32)
	}
	if needP {
		gradP, err = tensor.Zeros(shape, tensor.Float32)
		if err != nil {
			return nil, nil, err
		}
		gpData = gradP.Data.([]float32)
	}

	for f := 0; f < filters; f++ {
		for k := 0; k < taps; k++ {
			for s := 0; s < spatial; s++ {
				wIdx := (f*taps+k)*spatial + s
				kBase := (f*spatial + s) * dlen
				gBase := wIdx * dlen

				if needW {
					sum := float32(0)
					for d := 0; d < dlen; d++ {
						sum += gkData[kBase+d] * op.gauss[gBase+d]
					}
					gwData[wIdx] = sum
				}

				if needP {
					mu := pData[wIdx] + center
					wv := wData[wIdx]
					sum := float32(0)
					switch op.version {
					case Gauss:
						sig := op.spread[wIdx]
						invSig2 := 1 / (sig * sig)
						// d g(d)/d mu for the normalized Gaussian:
						// g(d) * ((d-mu)/sig^2 - sum_e g(e)*(e-mu)/sig^2)
						dot := float32(0)
						for e := 0; e < dlen; e++ {
							dot += op.gauss[gBase+e] * (float32(e) - mu) * invSig2
						}
						for d := 0; d < dlen; d++ {
							dg := op.gauss[gBase+d] * ((float32(d)-mu)*invSig2 - dot)
							sum += gkData[kBase+d] * wv * dg
						}
					case V1:
						for d := 0; d < dlen; d++ {
							diff := float32(d) - mu
							if diff > 0 && diff < 1 {
								sum += gkData[kBase+d] * wv
							} else if diff < 0 && diff > -1 {
								sum -= gkData[kBase+d] * wv
							}
						}
					}
					gpData[wIdx] = sum
				}
			}
		}
	}

	return gradW, gradP, nil
}

func (op *delayConvOp) Inputs() []*tensor.Tensor {
	return op.inputs
}
