package snn

import (
	"fmt"
	"math/rand"

	"github.com/tsawler/go-spike/tensor"
)

// SNNConfig configures the two plain convolutional baselines.
type SNNConfig struct {
	InChannels int // default 1
	InputSize  int // spatial side of the input frames, default 88
	NumClasses int
	Neuron     SpikingNeuronFactory
	Rng        *rand.Rand
}

func (c *SNNConfig) normalize() error {
	if c.InChannels == 0 {
		c.InChannels = 1
	}
	if c.InputSize == 0 {
		c.InputSize = 88
	}
	if c.NumClasses < 1 {
		return fmt.Errorf("number of classes must be >= 1, got %d", c.NumClasses)
	}
	if c.Neuron == nil {
		return fmt.Errorf("spiking neuron factory must not be nil")
	}
	if c.Rng == nil {
		return fmt.Errorf("rng must not be nil")
	}
	return nil
}

// spatialOut is the output side of a convolution or pooling window.
func spatialOut(size, kernel, stride, padding int) int {
	return (size+2*padding-kernel)/stride + 1
}

// SNN1 is a small spiking baseline: an aggressive input downsample, three
// plain convolution stages, and a fully connected head.
type SNN1 struct {
	mode
	NumClasses int

	down *Sequential
	head *Sequential
}

// NewSNN1 builds the three-stage baseline for the configured input size.
func NewSNN1(cfg SNNConfig) (*SNN1, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}

	size := spatialOut(cfg.InputSize, 4, 4, 0) // maxpool 4
	size = spatialOut(size, 3, 1, 0)           // conv 3x3
	size = spatialOut(size, 3, 1, 0)
	size = spatialOut(size, 2, 1, 0) // avgpool 2 stride 1
	size = spatialOut(size, 3, 1, 0)
	size = spatialOut(size, 2, 1, 0)
	if size < 1 {
		return nil, fmt.Errorf("input size %d is too small for the SNN1 stack", cfg.InputSize)
	}

	conv1, err := NewSeqConv2D(cfg.InChannels, 64, 3, 1, 0, 1, true, cfg.Rng)
	if err != nil {
		return nil, err
	}
	bn1, err := NewSeqBatchNorm2D(64)
	if err != nil {
		return nil, err
	}
	conv2, err := NewSeqConv2D(64, 128, 3, 1, 0, 1, true, cfg.Rng)
	if err != nil {
		return nil, err
	}
	bn2, err := NewSeqBatchNorm2D(128)
	if err != nil {
		return nil, err
	}
	conv3, err := NewSeqConv2D(128, 128, 3, 1, 0, 1, true, cfg.Rng)
	if err != nil {
		return nil, err
	}
	bn3, err := NewSeqBatchNorm2D(128)
	if err != nil {
		return nil, err
	}

	down := NewSequential(
		NewSeqMaxPool2D(4, 0, 0),
		conv1, bn1, cfg.Neuron(),
		conv2, bn2, cfg.Neuron(),
		NewSeqAvgPool2D(2, 1, 0),
		conv3, bn3, cfg.Neuron(),
		NewSeqAvgPool2D(2, 1, 0),
	)

	drop1, err := NewDropout(0.3, cfg.Rng)
	if err != nil {
		return nil, err
	}
	drop2, err := NewDropout(0.3, cfg.Rng)
	if err != nil {
		return nil, err
	}
	fc1, err := NewLinear(128*size*size, 256, cfg.Rng)
	if err != nil {
		return nil, err
	}
	fc2, err := NewLinear(256, cfg.NumClasses, cfg.Rng)
	if err != nil {
		return nil, err
	}

	head := NewSequential(NewSeqFlatten(), drop1, fc1, cfg.Neuron(), drop2, fc2)

	return &SNN1{
		mode:       mode{training: true},
		NumClasses: cfg.NumClasses,
		down:       down,
		head:       head,
	}, nil
}

func (s *SNN1) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	out, err := s.down.Forward(x)
	if err != nil {
		return nil, err
	}
	return s.head.Forward(out)
}

func (s *SNN1) children() []namedModule {
	return []namedModule{{"down", s.down}, {"head", s.head}}
}

func (s *SNN1) Parameters() []Param { return collectParams(s.children()) }

func (s *SNN1) Buffers() []Param { return collectBuffers(s.children()) }

func (s *SNN1) Train() {
	s.mode.Train()
	for _, kid := range s.children() {
		kid.m.Train()
	}
}

func (s *SNN1) Eval() {
	s.mode.Eval()
	for _, kid := range s.children() {
		kid.m.Eval()
	}
}

func (s *SNN1) Apply(fn func(Module)) {
	for _, kid := range s.children() {
		kid.m.Apply(fn)
	}
	fn(s)
}

// ClampParameters is a no-op: SNN1 carries no delay layers.
func (s *SNN1) ClampParameters() {}

// DecreaseSig is a no-op: SNN1 carries no delay layers.
func (s *SNN1) DecreaseSig(epoch, totalEpochs int) {}

// CurrentSigma reports 0: SNN1 carries no delay layers.
func (s *SNN1) CurrentSigma() float32 { return 0 }

// SNN2 is a deeper spiking baseline: six plain convolution stages that
// halve the resolution five times, then a fully connected head.
type SNN2 struct {
	mode
	NumClasses int

	encoder *Sequential
	head    *Sequential
}

// NewSNN2 builds the six-stage baseline for the configured input size.
func NewSNN2(cfg SNNConfig) (*SNN2, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}

	size := spatialOut(cfg.InputSize, 5, 1, 2)
	channels := []int{cfg.InChannels, 32, 64, 128, 256, 512, 1024}

	mods := make([]Module, 0, 18)
	for i := 0; i < len(channels)-1; i++ {
		stride := 2
		if i == 0 {
			stride = 1
		} else {
			size = spatialOut(size, 5, 2, 2)
		}

		conv, err := NewSeqConv2D(channels[i], channels[i+1], 5, stride, 2, 1, true, cfg.Rng)
		if err != nil {
			return nil, err
		}
		bn, err := NewSeqBatchNorm2D(channels[i+1])
		if err != nil {
			return nil, err
		}
		mods = append(mods, conv, bn, cfg.Neuron())
	}
	if size < 1 {
		return nil, fmt.Errorf("input size %d is too small for the SNN2 stack", cfg.InputSize)
	}
	encoder := NewSequential(mods...)

	drop1, err := NewDropout(0.4, cfg.Rng)
	if err != nil {
		return nil, err
	}
	drop2, err := NewDropout(0.4, cfg.Rng)
	if err != nil {
		return nil, err
	}
	fc1, err := NewLinear(1024*size*size, 512, cfg.Rng)
	if err != nil {
		return nil, err
	}
	fc2, err := NewLinear(512, cfg.NumClasses, cfg.Rng)
	if err != nil {
		return nil, err
	}

	head := NewSequential(NewSeqFlatten(), drop1, fc1, cfg.Neuron(), drop2, fc2)

	return &SNN2{
		mode:       mode{training: true},
		NumClasses: cfg.NumClasses,
		encoder:    encoder,
		head:       head,
	}, nil
}

func (s *SNN2) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	out, err := s.encoder.Forward(x)
	if err != nil {
		return nil, err
	}
	return s.head.Forward(out)
}

func (s *SNN2) children() []namedModule {
	return []namedModule{{"encoder", s.encoder}, {"head", s.head}}
}

func (s *SNN2) Parameters() []Param { return collectParams(s.children()) }

func (s *SNN2) Buffers() []Param { return collectBuffers(s.children()) }

func (s *SNN2) Train() {
	s.mode.Train()
	for _, kid := range s.children() {
		kid.m.Train()
	}
}

func (s *SNN2) Eval() {
	s.mode.Eval()
	for _, kid := range s.children() {
		kid.m.Eval()
	}
}

func (s *SNN2) Apply(fn func(Module)) {
	for _, kid := range s.children() {
		kid.m.Apply(fn)
	}
	fn(s)
}

// ClampParameters is a no-op: SNN2 carries no delay layers.
func (s *SNN2) ClampParameters() {}

// DecreaseSig is a no-op: SNN2 carries no delay layers.
func (s *SNN2) DecreaseSig(epoch, totalEpochs int) {}

// CurrentSigma reports 0: SNN2 carries no delay layers.
func (s *SNN2) CurrentSigma() float32 { return 0 }
