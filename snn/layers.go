package snn

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/tsawler/go-spike/tensor"
)

// foldTime merges the time and batch axes so a per-frame layer can run once
// over the whole clip.
func foldTime(x *tensor.Tensor) (*tensor.Tensor, int, int, error) {
	if len(x.Shape) < 3 {
		return nil, 0, 0, fmt.Errorf("multi-step input must be at least 3D [T, B, ...], got shape %v", x.Shape)
	}
	t, b := x.Shape[0], x.Shape[1]
	folded := tensor.ReshapeAutograd(x, append([]int{t * b}, x.Shape[2:]...))
	return folded, t, b, nil
}

func unfoldTime(x *tensor.Tensor, t, b int) *tensor.Tensor {
	return tensor.ReshapeAutograd(x, append([]int{t, b}, x.Shape[1:]...))
}

// SeqConv2D applies the same 2D convolution to every timestep of a
// [T, B, C, H, W] activation by folding time into the batch axis.
type SeqConv2D struct {
	mode
	InChannels  int
	OutChannels int
	Kernel      int
	Stride      int
	Padding     int
	Groups      int

	weight *tensor.Tensor
	bias   *tensor.Tensor
}

// NewSeqConv2D builds a per-timestep convolution. Weights start from a
// uniform fan-in distribution; backbones typically reinitialize them
// through InitFanOut. Pass bias false for convolutions followed by
// normalization.
func NewSeqConv2D(inChannels, outChannels, kernel, stride, padding, groups int, bias bool, rng *rand.Rand) (*SeqConv2D, error) {
	if inChannels < 1 || outChannels < 1 {
		return nil, fmt.Errorf("channels must be >= 1, got in %d, out %d", inChannels, outChannels)
	}
	if kernel < 1 || stride < 1 {
		return nil, fmt.Errorf("kernel and stride must be >= 1, got kernel %d, stride %d", kernel, stride)
	}
	if groups < 1 {
		groups = 1
	}
	if inChannels%groups != 0 || outChannels%groups != 0 {
		return nil, fmt.Errorf("channels (in %d, out %d) must be divisible by groups %d", inChannels, outChannels, groups)
	}
	if rng == nil {
		return nil, fmt.Errorf("rng must not be nil")
	}

	c := &SeqConv2D{
		mode:        mode{training: true},
		InChannels:  inChannels,
		OutChannels: outChannels,
		Kernel:      kernel,
		Stride:      stride,
		Padding:     padding,
		Groups:      groups,
	}

	fanIn := inChannels / groups * kernel * kernel
	bound := float32(1 / math.Sqrt(float64(fanIn)))
	w, err := tensor.RandomUniform([]int{outChannels, inChannels / groups, kernel, kernel}, -bound, bound, rng)
	if err != nil {
		return nil, err
	}
	w.SetRequiresGrad(true)
	c.weight = w

	if bias {
		b, err := tensor.RandomUniform([]int{outChannels}, -bound, bound, rng)
		if err != nil {
			return nil, err
		}
		b.SetRequiresGrad(true)
		c.bias = b
	}

	return c, nil
}

func (c *SeqConv2D) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if len(x.Shape) != 5 {
		return nil, fmt.Errorf("SeqConv2D expects [T, B, C, H, W], got shape %v", x.Shape)
	}
	if x.Shape[2] != c.InChannels {
		return nil, fmt.Errorf("SeqConv2D configured for %d input channels, got %d", c.InChannels, x.Shape[2])
	}

	folded, t, b, err := foldTime(x)
	if err != nil {
		return nil, err
	}
	out := tensor.Conv2DAutograd(folded, c.weight, c.bias, c.Stride, c.Padding, c.Groups)
	return unfoldTime(out, t, b), nil
}

func (c *SeqConv2D) Parameters() []Param {
	params := []Param{{Name: "weight", Role: RoleWeight, Tensor: c.weight}}
	if c.bias != nil {
		params = append(params, Param{Name: "bias", Role: RoleBias, Tensor: c.bias})
	}
	return params
}

func (c *SeqConv2D) Apply(fn func(Module)) { fn(c) }

// InitFanOut redraws the weights from N(0, sqrt(2/n)) with n the kernel
// volume times the output channels, and zeroes the bias.
func (c *SeqConv2D) InitFanOut(rng *rand.Rand) {
	fillNormal(c.weight, 0, fanOutStd(c.Kernel*c.Kernel, c.OutChannels), rng)
	if c.bias != nil {
		fillConst(c.bias, 0)
	}
}

// SeqMaxPool2D max-pools every timestep of a [T, B, C, H, W] activation.
type SeqMaxPool2D struct {
	mode
	Kernel  int
	Stride  int
	Padding int
}

// NewSeqMaxPool2D builds a per-timestep max pool. A stride of 0 defaults to
// the kernel size.
func NewSeqMaxPool2D(kernel, stride, padding int) *SeqMaxPool2D {
	if stride == 0 {
		stride = kernel
	}
	return &SeqMaxPool2D{mode: mode{training: true}, Kernel: kernel, Stride: stride, Padding: padding}
}

func (p *SeqMaxPool2D) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if len(x.Shape) != 5 {
		return nil, fmt.Errorf("SeqMaxPool2D expects [T, B, C, H, W], got shape %v", x.Shape)
	}
	folded, t, b, err := foldTime(x)
	if err != nil {
		return nil, err
	}
	out := tensor.MaxPool2DAutograd(folded, p.Kernel, p.Stride, p.Padding)
	return unfoldTime(out, t, b), nil
}

func (p *SeqMaxPool2D) Parameters() []Param { return nil }

func (p *SeqMaxPool2D) Apply(fn func(Module)) { fn(p) }

// SeqAvgPool2D average-pools every timestep of a [T, B, C, H, W]
// activation.
type SeqAvgPool2D struct {
	mode
	Kernel  int
	Stride  int
	Padding int
}

// NewSeqAvgPool2D builds a per-timestep average pool. A stride of 0
// defaults to the kernel size.
func NewSeqAvgPool2D(kernel, stride, padding int) *SeqAvgPool2D {
	if stride == 0 {
		stride = kernel
	}
	return &SeqAvgPool2D{mode: mode{training: true}, Kernel: kernel, Stride: stride, Padding: padding}
}

func (p *SeqAvgPool2D) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if len(x.Shape) != 5 {
		return nil, fmt.Errorf("SeqAvgPool2D expects [T, B, C, H, W], got shape %v", x.Shape)
	}
	folded, t, b, err := foldTime(x)
	if err != nil {
		return nil, err
	}
	out := tensor.AvgPool2DAutograd(folded, p.Kernel, p.Stride, p.Padding)
	return unfoldTime(out, t, b), nil
}

func (p *SeqAvgPool2D) Parameters() []Param { return nil }

func (p *SeqAvgPool2D) Apply(fn func(Module)) { fn(p) }

// SeqGlobalAvgPool collapses the spatial axes of a [T, B, C, H, W]
// activation. The default output is [T, B, C]; KeepSpatial keeps the two
// singleton axes so 1x1 convolutions can consume the result.
type SeqGlobalAvgPool struct {
	mode
	KeepSpatial bool
}

// NewSeqGlobalAvgPool builds a per-timestep global average pool.
func NewSeqGlobalAvgPool(keepSpatial bool) *SeqGlobalAvgPool {
	return &SeqGlobalAvgPool{mode: mode{training: true}, KeepSpatial: keepSpatial}
}

func (p *SeqGlobalAvgPool) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if len(x.Shape) != 5 {
		return nil, fmt.Errorf("SeqGlobalAvgPool expects [T, B, C, H, W], got shape %v", x.Shape)
	}
	folded, t, b, err := foldTime(x)
	if err != nil {
		return nil, err
	}
	out := tensor.GlobalAvgPool2DAutograd(folded)
	if p.KeepSpatial {
		return unfoldTime(out, t, b), nil
	}
	return tensor.ReshapeAutograd(out, []int{t, b, out.Shape[1]}), nil
}

func (p *SeqGlobalAvgPool) Parameters() []Param { return nil }

func (p *SeqGlobalAvgPool) Apply(fn func(Module)) { fn(p) }

// SeqFlatten flattens everything after the batch axis, turning
// [T, B, C, H, W] into [T, B, C*H*W].
type SeqFlatten struct {
	mode
}

// NewSeqFlatten builds a per-timestep flatten.
func NewSeqFlatten() *SeqFlatten {
	return &SeqFlatten{mode: mode{training: true}}
}

func (f *SeqFlatten) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if len(x.Shape) < 3 {
		return nil, fmt.Errorf("SeqFlatten expects [T, B, ...], got shape %v", x.Shape)
	}
	features := 1
	for _, d := range x.Shape[2:] {
		features *= d
	}
	return tensor.ReshapeAutograd(x, []int{x.Shape[0], x.Shape[1], features}), nil
}

func (f *SeqFlatten) Parameters() []Param { return nil }

func (f *SeqFlatten) Apply(fn func(Module)) { fn(f) }

// Linear applies an affine map to the last axis. It accepts [N, F] or
// [T, B, F] inputs; the latter is folded through the batch axis. The weight
// is stored [in, out] so the forward pass is a single matmul.
type Linear struct {
	mode
	InFeatures  int
	OutFeatures int

	weight *tensor.Tensor
	bias   *tensor.Tensor
}

// NewLinear builds a fully connected layer with Xavier-uniform weights and
// zero bias.
func NewLinear(inFeatures, outFeatures int, rng *rand.Rand) (*Linear, error) {
	if inFeatures < 1 || outFeatures < 1 {
		return nil, fmt.Errorf("features must be >= 1, got in %d, out %d", inFeatures, outFeatures)
	}
	if rng == nil {
		return nil, fmt.Errorf("rng must not be nil")
	}

	bound := float32(math.Sqrt(6.0 / float64(inFeatures+outFeatures)))
	w, err := tensor.RandomUniform([]int{inFeatures, outFeatures}, -bound, bound, rng)
	if err != nil {
		return nil, err
	}
	w.SetRequiresGrad(true)

	b, err := tensor.Zeros([]int{outFeatures}, tensor.Float32)
	if err != nil {
		return nil, err
	}
	b.SetRequiresGrad(true)

	return &Linear{
		mode:        mode{training: true},
		InFeatures:  inFeatures,
		OutFeatures: outFeatures,
		weight:      w,
		bias:        b,
	}, nil
}

func (l *Linear) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	switch len(x.Shape) {
	case 2:
		if x.Shape[1] != l.InFeatures {
			return nil, fmt.Errorf("Linear configured for %d input features, got %d", l.InFeatures, x.Shape[1])
		}
		out := tensor.MatMulAutograd(x, l.weight)
		return tensor.AddAutograd(out, l.bias), nil
	case 3:
		if x.Shape[2] != l.InFeatures {
			return nil, fmt.Errorf("Linear configured for %d input features, got %d", l.InFeatures, x.Shape[2])
		}
		folded, t, b, err := foldTime(x)
		if err != nil {
			return nil, err
		}
		out := tensor.MatMulAutograd(folded, l.weight)
		out = tensor.AddAutograd(out, l.bias)
		return unfoldTime(out, t, b), nil
	default:
		return nil, fmt.Errorf("Linear expects [N, F] or [T, B, F], got shape %v", x.Shape)
	}
}

func (l *Linear) Parameters() []Param {
	return []Param{
		{Name: "weight", Role: RoleWeight, Tensor: l.weight},
		{Name: "bias", Role: RoleBias, Tensor: l.bias},
	}
}

func (l *Linear) Apply(fn func(Module)) { fn(l) }

// VotingLayer averages adjacent groups of k logits, turning a population
// vote over k units per class into one score per class.
type VotingLayer struct {
	mode
	K int
}

// NewVotingLayer builds a voting layer with group size k.
func NewVotingLayer(k int) (*VotingLayer, error) {
	if k < 1 {
		return nil, fmt.Errorf("voting group size must be >= 1, got %d", k)
	}
	return &VotingLayer{mode: mode{training: true}, K: k}, nil
}

func (v *VotingLayer) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	last := len(x.Shape) - 1
	if last < 0 || x.Shape[last]%v.K != 0 {
		return nil, fmt.Errorf("voting layer with group size %d cannot divide %d units", v.K, x.Shape[last])
	}
	grouped := make([]int, 0, len(x.Shape)+1)
	grouped = append(grouped, x.Shape[:last]...)
	grouped = append(grouped, x.Shape[last]/v.K, v.K)
	out := tensor.ReshapeAutograd(x, grouped)
	return tensor.MeanAutograd(out, len(grouped)-1, false), nil
}

func (v *VotingLayer) Parameters() []Param { return nil }

func (v *VotingLayer) Apply(fn func(Module)) { fn(v) }
