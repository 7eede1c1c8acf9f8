package snn

import (
	"fmt"
	"math/rand"

	"github.com/tsawler/go-spike/tensor"
)

// ResNetConfig configures the spiking ResNet18 backbone.
type ResNetConfig struct {
	InChannels  int // default 1 (grayscale mouth crops)
	NumClasses  int
	SE          bool
	DropoutRate float32 // default 0.5
	Neuron      SpikingNeuronFactory
	Rng         *rand.Rand
}

// ResNet is a spiking ResNet18 over event clips: a plain convolutional
// stem, four stages of delayed residual blocks, and a head that rate-codes
// the pooled features through a stateful synapse into class logits shaped
// [T, B, NumClasses].
type ResNet struct {
	mode
	NumClasses int

	conv1    *SeqConv2D
	bn1      *SeqBatchNorm2D
	spiking1 Module
	maxpool  *SeqMaxPool2D

	layer1 *Sequential
	layer2 *Sequential
	layer3 *Sequential
	layer4 *Sequential

	// Every residual block, in construction order. The epoch hooks
	// broadcast through this registry instead of rediscovering blocks by
	// reflection.
	blocks []*BasicBlock

	avgpool *SeqGlobalAvgPool
	bn2     *BatchNorm1D
	dropout *Dropout
	synapse *Sequential // Linear -> spiking -> SynapseFilter
	cls     *Linear
}

// NewResNet18 builds the [2, 2, 2, 2] spiking ResNet. Zero values for
// InChannels and DropoutRate default to 1 and 0.5.
func NewResNet18(cfg ResNetConfig) (*ResNet, error) {
	if cfg.InChannels == 0 {
		cfg.InChannels = 1
	}
	if cfg.DropoutRate == 0 {
		cfg.DropoutRate = 0.5
	}
	if cfg.NumClasses < 1 {
		return nil, fmt.Errorf("number of classes must be >= 1, got %d", cfg.NumClasses)
	}
	if cfg.Neuron == nil {
		return nil, fmt.Errorf("spiking neuron factory must not be nil")
	}
	if cfg.Rng == nil {
		return nil, fmt.Errorf("rng must not be nil")
	}

	r := &ResNet{mode: mode{training: true}, NumClasses: cfg.NumClasses}

	var err error
	base := 64
	if r.conv1, err = NewSeqConv2D(cfg.InChannels, base, 7, 2, 3, 1, false, cfg.Rng); err != nil {
		return nil, err
	}
	if r.bn1, err = NewSeqBatchNorm2D(base); err != nil {
		return nil, err
	}
	r.spiking1 = cfg.Neuron()
	r.maxpool = NewSeqMaxPool2D(3, 2, 1)

	inPlanes := base
	if r.layer1, err = r.makeStage(&inPlanes, base, 2, 1, cfg); err != nil {
		return nil, err
	}
	if r.layer2, err = r.makeStage(&inPlanes, 2*base, 2, 2, cfg); err != nil {
		return nil, err
	}
	if r.layer3, err = r.makeStage(&inPlanes, 4*base, 2, 2, cfg); err != nil {
		return nil, err
	}
	if r.layer4, err = r.makeStage(&inPlanes, 8*base, 2, 2, cfg); err != nil {
		return nil, err
	}

	r.avgpool = NewSeqGlobalAvgPool(false)
	if r.bn2, err = NewBatchNorm1D(8 * base); err != nil {
		return nil, err
	}
	if r.dropout, err = NewDropout(cfg.DropoutRate, cfg.Rng); err != nil {
		return nil, err
	}

	fc, err := NewLinear(8*base, 1024, cfg.Rng)
	if err != nil {
		return nil, err
	}
	filter, err := NewSynapseFilter(2, true)
	if err != nil {
		return nil, err
	}
	r.synapse = NewSequential(fc, cfg.Neuron(), filter)

	if r.cls, err = NewLinear(1024, cfg.NumClasses, cfg.Rng); err != nil {
		return nil, err
	}

	r.initParams(cfg.Rng)

	return r, nil
}

func (r *ResNet) makeStage(inPlanes *int, planes, blocks, stride int, cfg ResNetConfig) (*Sequential, error) {
	mods := make([]Module, 0, blocks)
	for i := 0; i < blocks; i++ {
		s := 1
		if i == 0 {
			s = stride
		}
		blk, err := NewBasicBlock(BasicBlockConfig{
			InPlanes: *inPlanes,
			Planes:   planes,
			Stride:   s,
			Delayed:  true,
			SE:       cfg.SE,
			Neuron:   cfg.Neuron,
			Rng:      cfg.Rng,
		})
		if err != nil {
			return nil, err
		}
		r.blocks = append(r.blocks, blk)
		mods = append(mods, blk)
		*inPlanes = planes
	}
	return NewSequential(mods...), nil
}

// initParams lets every module that knows its own fan-out initialization
// reinitialize itself.
func (r *ResNet) initParams(rng *rand.Rand) {
	r.Apply(func(m Module) {
		if fi, ok := m.(FanOutIniter); ok {
			fi.InitFanOut(rng)
		}
	})
}

func (r *ResNet) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	out, err := r.conv1.Forward(x)
	if err != nil {
		return nil, err
	}
	if out, err = r.bn1.Forward(out); err != nil {
		return nil, err
	}
	if out, err = r.spiking1.Forward(out); err != nil {
		return nil, err
	}
	if out, err = r.maxpool.Forward(out); err != nil {
		return nil, err
	}

	for _, stage := range []*Sequential{r.layer1, r.layer2, r.layer3, r.layer4} {
		if out, err = stage.Forward(out); err != nil {
			return nil, err
		}
	}

	if out, err = r.avgpool.Forward(out); err != nil {
		return nil, err
	}
	if out, err = r.bn2.Forward(out); err != nil {
		return nil, err
	}
	if out, err = r.dropout.Forward(out); err != nil {
		return nil, err
	}
	if out, err = r.synapse.Forward(out); err != nil {
		return nil, err
	}
	if out, err = r.dropout.Forward(out); err != nil {
		return nil, err
	}
	return r.cls.Forward(out)
}

func (r *ResNet) children() []namedModule {
	return []namedModule{
		{"conv1", r.conv1}, {"bn1", r.bn1}, {"spiking1", r.spiking1}, {"maxpool", r.maxpool},
		{"layer1", r.layer1}, {"layer2", r.layer2}, {"layer3", r.layer3}, {"layer4", r.layer4},
		{"avgpool", r.avgpool}, {"bn2", r.bn2}, {"dropout", r.dropout},
		{"synapse", r.synapse}, {"cls", r.cls},
	}
}

func (r *ResNet) Parameters() []Param {
	return collectParams(r.children())
}

func (r *ResNet) Buffers() []Param {
	return collectBuffers(r.children())
}

func (r *ResNet) Train() {
	r.mode.Train()
	for _, kid := range r.children() {
		kid.m.Train()
	}
}

func (r *ResNet) Eval() {
	r.mode.Eval()
	for _, kid := range r.children() {
		kid.m.Eval()
	}
}

func (r *ResNet) Apply(fn func(Module)) {
	for _, kid := range r.children() {
		kid.m.Apply(fn)
	}
	fn(r)
}

// ClampParameters clamps the tap positions of every delay convolution in
// the backbone.
func (r *ResNet) ClampParameters() {
	for _, b := range r.blocks {
		b.ClampParameters()
	}
}

// DecreaseSig anneals the Gaussian spreads of every delay convolution in
// the backbone.
func (r *ResNet) DecreaseSig(epoch, totalEpochs int) {
	for _, b := range r.blocks {
		b.DecreaseSig(epoch, totalEpochs)
	}
}

// CurrentSigma reports the spread of the first delay convolution; all
// spreads anneal in lockstep.
func (r *ResNet) CurrentSigma() float32 {
	for _, b := range r.blocks {
		for _, dc := range b.delayConvs {
			return dc.CurrentSigma()
		}
	}
	return 0
}
