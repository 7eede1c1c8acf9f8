package snn

import (
	"fmt"
	"math/rand"

	"github.com/tsawler/go-spike/tensor"
)

// DelayHooks is the pair of per-epoch maintenance hooks implemented by
// models that carry delay convolutions. The trainer calls ClampParameters
// after every optimizer step and DecreaseSig once per epoch after the
// train phase. Models without delay layers implement both as no-ops.
type DelayHooks interface {
	ClampParameters()
	DecreaseSig(epoch, totalEpochs int)
}

func newConv3x3(inPlanes, outPlanes, stride int, rng *rand.Rand) (*SeqConv2D, error) {
	return NewSeqConv2D(inPlanes, outPlanes, 3, stride, 1, 1, false, rng)
}

func newConv1x1(inPlanes, outPlanes, stride int, rng *rand.Rand) (*SeqConv2D, error) {
	return NewSeqConv2D(inPlanes, outPlanes, 1, stride, 0, 1, false, rng)
}

func newDelayConv3x3(inPlanes, outPlanes, stride int, rng *rand.Rand) (*DelayConv2D, error) {
	return NewDelayConv2D(DelayConv2DConfig{
		InChannels:        inPlanes,
		OutChannels:       outPlanes,
		KernelCount:       1,
		DenseKernelSize:   3,
		DilatedKernelSize: 3,
		Stride:            stride,
		SpatialPadding:    1,
		LearnDelay:        true,
		Version:           Gauss,
	}, rng)
}

func newDelayConv1x1(inPlanes, outPlanes, stride int, rng *rand.Rand) (*DelayConv2D, error) {
	return NewDelayConv2D(DelayConv2DConfig{
		InChannels:        inPlanes,
		OutChannels:       outPlanes,
		KernelCount:       1,
		DenseKernelSize:   1,
		DilatedKernelSize: 3,
		Stride:            stride,
		LearnDelay:        true,
		Version:           Gauss,
	}, rng)
}

// BasicBlockConfig configures one residual block.
type BasicBlockConfig struct {
	InPlanes int
	Planes   int
	Stride   int
	Delayed  bool // delay convolutions on the main path and SE convs
	SE       bool // squeeze-excitation gate on the main path
	Neuron   SpikingNeuronFactory
	Rng      *rand.Rand
}

// BasicBlock is a spiking residual block: two 3x3 convolutions each
// followed by normalization and a spiking neuron, an optional
// squeeze-excitation gate, and a residual connection with no activation
// after the addition. The residual path gets a plain 1x1 convolution
// whenever the stride or the channel count changes.
type BasicBlock struct {
	mode
	InPlanes int
	Planes   int
	Stride   int
	SE       bool
	Delayed  bool

	conv1      Module
	bn1        *SeqBatchNorm2D
	spiking1   Module
	conv2      Module
	bn2        *SeqBatchNorm2D
	spiking2   Module
	downsample *Sequential

	gap      *SeqGlobalAvgPool
	conv3    Module
	spiking3 Module
	conv4    Module
	spiking4 Module

	delayConvs []*DelayConv2D
}

// NewBasicBlock builds a residual block. A zero Stride defaults to 1.
func NewBasicBlock(cfg BasicBlockConfig) (*BasicBlock, error) {
	if cfg.Stride == 0 {
		cfg.Stride = 1
	}
	if cfg.InPlanes < 1 || cfg.Planes < 1 {
		return nil, fmt.Errorf("planes must be >= 1, got in %d, out %d", cfg.InPlanes, cfg.Planes)
	}
	if cfg.Neuron == nil {
		return nil, fmt.Errorf("spiking neuron factory must not be nil")
	}
	if cfg.Rng == nil {
		return nil, fmt.Errorf("rng must not be nil")
	}

	b := &BasicBlock{
		mode:     mode{training: true},
		InPlanes: cfg.InPlanes,
		Planes:   cfg.Planes,
		Stride:   cfg.Stride,
		SE:       cfg.SE,
		Delayed:  cfg.Delayed,
	}

	conv3x3 := func(in, out, stride int) (Module, error) {
		if cfg.Delayed {
			dc, err := newDelayConv3x3(in, out, stride, cfg.Rng)
			if err != nil {
				return nil, err
			}
			b.delayConvs = append(b.delayConvs, dc)
			return dc, nil
		}
		return newConv3x3(in, out, stride, cfg.Rng)
	}
	conv1x1 := func(in, out int) (Module, error) {
		if cfg.Delayed {
			dc, err := newDelayConv1x1(in, out, 1, cfg.Rng)
			if err != nil {
				return nil, err
			}
			b.delayConvs = append(b.delayConvs, dc)
			return dc, nil
		}
		return newConv1x1(in, out, 1, cfg.Rng)
	}

	var err error
	if b.conv1, err = conv3x3(cfg.InPlanes, cfg.Planes, cfg.Stride); err != nil {
		return nil, err
	}
	if b.bn1, err = NewSeqBatchNorm2D(cfg.Planes); err != nil {
		return nil, err
	}
	b.spiking1 = cfg.Neuron()

	if b.conv2, err = conv3x3(cfg.Planes, cfg.Planes, 1); err != nil {
		return nil, err
	}
	if b.bn2, err = NewSeqBatchNorm2D(cfg.Planes); err != nil {
		return nil, err
	}
	b.spiking2 = cfg.Neuron()

	if cfg.Stride != 1 || cfg.InPlanes != cfg.Planes {
		dsConv, err := newConv1x1(cfg.InPlanes, cfg.Planes, cfg.Stride, cfg.Rng)
		if err != nil {
			return nil, err
		}
		dsBN, err := NewSeqBatchNorm2D(cfg.Planes)
		if err != nil {
			return nil, err
		}
		b.downsample = NewSequential(dsConv, dsBN, cfg.Neuron())
	}

	if cfg.SE {
		reduced := cfg.Planes / 16
		if reduced < 1 {
			return nil, fmt.Errorf("squeeze-excitation needs planes >= 16, got %d", cfg.Planes)
		}
		b.gap = NewSeqGlobalAvgPool(true)
		if b.conv3, err = conv1x1(cfg.Planes, reduced); err != nil {
			return nil, err
		}
		b.spiking3 = cfg.Neuron()
		if b.conv4, err = conv1x1(reduced, cfg.Planes); err != nil {
			return nil, err
		}
		b.spiking4 = cfg.Neuron()
	}

	return b, nil
}

func (b *BasicBlock) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	out, err := b.conv1.Forward(x)
	if err != nil {
		return nil, err
	}
	if out, err = b.bn1.Forward(out); err != nil {
		return nil, err
	}
	if out, err = b.spiking1.Forward(out); err != nil {
		return nil, err
	}
	if out, err = b.conv2.Forward(out); err != nil {
		return nil, err
	}
	if out, err = b.bn2.Forward(out); err != nil {
		return nil, err
	}
	if out, err = b.spiking2.Forward(out); err != nil {
		return nil, err
	}

	identity := x
	if b.downsample != nil {
		if identity, err = b.downsample.Forward(x); err != nil {
			return nil, err
		}
	}

	if b.SE {
		w, err := b.gap.Forward(out)
		if err != nil {
			return nil, err
		}
		if w, err = b.conv3.Forward(w); err != nil {
			return nil, err
		}
		if w, err = b.spiking3.Forward(w); err != nil {
			return nil, err
		}
		w = tensor.ReLUAutograd(w)
		if w, err = b.conv4.Forward(w); err != nil {
			return nil, err
		}
		w = tensor.SigmoidAutograd(w)
		if w, err = b.spiking4.Forward(w); err != nil {
			return nil, err
		}
		out = tensor.MulAutograd(out, w)
	}

	return tensor.AddAutograd(out, identity), nil
}

func (b *BasicBlock) children() []namedModule {
	kids := []namedModule{
		{"conv1", b.conv1}, {"bn1", b.bn1}, {"spiking1", b.spiking1},
		{"conv2", b.conv2}, {"bn2", b.bn2}, {"spiking2", b.spiking2},
	}
	if b.downsample != nil {
		kids = append(kids, namedModule{"downsample", b.downsample})
	}
	if b.SE {
		kids = append(kids,
			namedModule{"gap", b.gap},
			namedModule{"conv3", b.conv3}, namedModule{"spiking3", b.spiking3},
			namedModule{"conv4", b.conv4}, namedModule{"spiking4", b.spiking4},
		)
	}
	return kids
}

func (b *BasicBlock) Parameters() []Param {
	return collectParams(b.children())
}

func (b *BasicBlock) Buffers() []Param {
	return collectBuffers(b.children())
}

func (b *BasicBlock) Train() {
	b.mode.Train()
	for _, kid := range b.children() {
		kid.m.Train()
	}
}

func (b *BasicBlock) Eval() {
	b.mode.Eval()
	for _, kid := range b.children() {
		kid.m.Eval()
	}
}

func (b *BasicBlock) Apply(fn func(Module)) {
	for _, kid := range b.children() {
		kid.m.Apply(fn)
	}
	fn(b)
}

// ClampParameters clamps the tap positions of every delay convolution in
// the block. No-op when the block is not delayed.
func (b *BasicBlock) ClampParameters() {
	for _, dc := range b.delayConvs {
		dc.ClampParameters()
	}
}

// DecreaseSig anneals the Gaussian spread of every delay convolution in
// the block. No-op when the block is not delayed.
func (b *BasicBlock) DecreaseSig(epoch, totalEpochs int) {
	for _, dc := range b.delayConvs {
		dc.DecreaseSig(epoch, totalEpochs)
	}
}
