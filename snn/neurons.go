package snn

import (
	"fmt"

	"github.com/goki/mat32"
	"github.com/tsawler/go-spike/spike"
	"github.com/tsawler/go-spike/tensor"
)

// LIFNode runs multi-step leaky integrate-and-fire dynamics over [T, B, ...]
// activations. Membrane state lives only for the duration of one Forward
// call, so consecutive clips never leak charge into each other.
type LIFNode struct {
	mode
	Cfg spike.LIFConfig
}

// NewLIFNode builds a LIF neuron layer with the given dynamics.
func NewLIFNode(cfg spike.LIFConfig) *LIFNode {
	return &LIFNode{mode: mode{training: true}, Cfg: cfg}
}

func (n *LIFNode) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	return spike.MultiStepLIF(x, n.Cfg)
}

func (n *LIFNode) Parameters() []Param { return nil }

func (n *LIFNode) Apply(fn func(Module)) { fn(n) }

// ParametricLIFNode is a LIF neuron whose membrane time constant is
// learned. The raw parameter w maps to the leak via sigmoid(w) = 1/tau, so
// gradient steps can never push tau out of its valid range.
type ParametricLIFNode struct {
	mode
	Cfg spike.LIFConfig
	w   *tensor.Tensor
}

// NewParametricLIFNode builds a parametric LIF neuron whose time constant
// starts at initTau. initTau must be greater than 1.
func NewParametricLIFNode(initTau float32, cfg spike.LIFConfig) (*ParametricLIFNode, error) {
	w0, err := spike.InitTauToW(initTau)
	if err != nil {
		return nil, err
	}
	w, err := tensor.NewTensor([]int{1}, tensor.Float32, []float32{w0})
	if err != nil {
		return nil, err
	}
	w.SetRequiresGrad(true)
	return &ParametricLIFNode{mode: mode{training: true}, Cfg: cfg, w: w}, nil
}

func (n *ParametricLIFNode) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	return spike.MultiStepParametricLIF(x, n.w, n.Cfg)
}

func (n *ParametricLIFNode) Parameters() []Param {
	return []Param{{Name: "w", Role: RoleTimeConstant, Tensor: n.w}}
}

func (n *ParametricLIFNode) Apply(fn func(Module)) { fn(n) }

// Tau reports the current membrane time constant.
func (n *ParametricLIFNode) Tau() float32 {
	w := n.w.Data.([]float32)[0]
	return 1 + mat32.Exp(-w)
}

// SynapseFilter low-pass filters spike trains across time. The time
// constant is parameterized as tau = 1 + exp(w) so it stays above 1 no
// matter where the optimizer takes w.
type SynapseFilter struct {
	mode
	w *tensor.Tensor
}

// NewSynapseFilter builds a synaptic filter with time constant initTau,
// which must be greater than 1. When learnable is false the time constant
// stays fixed.
func NewSynapseFilter(initTau float32, learnable bool) (*SynapseFilter, error) {
	w0, err := spike.InitTauToFilterW(initTau)
	if err != nil {
		return nil, err
	}
	w, err := tensor.NewTensor([]int{1}, tensor.Float32, []float32{w0})
	if err != nil {
		return nil, err
	}
	w.SetRequiresGrad(learnable)
	return &SynapseFilter{mode: mode{training: true}, w: w}, nil
}

func (f *SynapseFilter) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	return spike.SynapseFilterForward(x, f.w)
}

func (f *SynapseFilter) Parameters() []Param {
	return []Param{{Name: "w", Role: RoleTimeConstant, Tensor: f.w}}
}

func (f *SynapseFilter) Apply(fn func(Module)) { fn(f) }

// Tau reports the current filter time constant.
func (f *SynapseFilter) Tau() float32 {
	w := f.w.Data.([]float32)[0]
	return 1 + mat32.Exp(w)
}

// NewLIFFactory returns a factory producing plain LIF neurons with the
// given dynamics.
func NewLIFFactory(cfg spike.LIFConfig) SpikingNeuronFactory {
	return func() Module { return NewLIFNode(cfg) }
}

// NewPLIFFactory returns a factory producing parametric LIF neurons whose
// time constants start at initTau. The initial value is validated once here
// so the factory itself cannot fail.
func NewPLIFFactory(initTau float32, cfg spike.LIFConfig) (SpikingNeuronFactory, error) {
	if _, err := spike.InitTauToW(initTau); err != nil {
		return nil, fmt.Errorf("plif factory: %w", err)
	}
	return func() Module {
		n, _ := NewParametricLIFNode(initTau, cfg)
		return n
	}, nil
}
