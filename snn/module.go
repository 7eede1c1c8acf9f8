// Package snn assembles spiking neural networks from modules that operate
// on multi-step activations shaped [T, B, ...]. Modules wrap the tensor
// autograd operations and the neuron dynamics from the spike package, and
// expose their learnable tensors as named, role-tagged parameters so the
// training policy can route them without parsing names.
package snn

import (
	"fmt"
	"math/rand"
	"strconv"

	"github.com/tsawler/go-spike/tensor"
)

// ParamRole identifies what a parameter does inside its module. Training
// policy decisions (learning-rate scaling, weight decay) key off the role
// rather than off substrings of the parameter name.
type ParamRole int

const (
	RoleWeight ParamRole = iota
	RoleBias
	RoleGain
	RoleShift
	RolePosition
	RoleSpread
	RoleTimeConstant
	// RoleRunningStat marks persistent buffers. It never appears in
	// Parameters(), only in Buffers().
	RoleRunningStat
)

func (r ParamRole) String() string {
	switch r {
	case RoleWeight:
		return "weight"
	case RoleBias:
		return "bias"
	case RoleGain:
		return "gain"
	case RoleShift:
		return "shift"
	case RolePosition:
		return "position"
	case RoleSpread:
		return "spread"
	case RoleTimeConstant:
		return "tau"
	case RoleRunningStat:
		return "running_stat"
	default:
		return "unknown"
	}
}

// Param couples a learnable tensor with its qualified name and role.
type Param struct {
	Name   string
	Role   ParamRole
	Tensor *tensor.Tensor
}

// Module is a network component. Forward consumes and produces multi-step
// activations; Parameters returns every learnable tensor reachable from the
// module, with names qualified by the path from the receiver.
type Module interface {
	Forward(x *tensor.Tensor) (*tensor.Tensor, error)
	Parameters() []Param
	Train()
	Eval()
	IsTraining() bool
	Apply(fn func(Module))
}

// SpikingNeuronFactory builds a fresh spiking neuron for one call site.
// Every layer that fires spikes calls the factory once, so each neuron owns
// its own parameters.
type SpikingNeuronFactory func() Module

// FanOutIniter is implemented by modules that reinitialize their own
// weights from the fan-out of their kernels. The backbone constructors walk
// the module tree and invoke it on everything that supports it.
type FanOutIniter interface {
	InitFanOut(rng *rand.Rand)
}

// Bufferer is implemented by modules that carry persistent state which is
// not learned, such as normalization running statistics. Containers
// aggregate their children's buffers under the same name prefixes as
// Parameters, so checkpoints can address every tensor by one namespace.
type Bufferer interface {
	Buffers() []Param
}

// ModuleBuffers returns m's buffers, or nil when it has none.
func ModuleBuffers(m Module) []Param {
	if b, ok := m.(Bufferer); ok {
		return b.Buffers()
	}
	return nil
}

// mode holds the train/eval flag for modules without children.
type mode struct {
	training bool
}

func (m *mode) Train() { m.training = true }

func (m *mode) Eval() { m.training = false }

func (m *mode) IsTraining() bool { return m.training }

// prefixParams qualifies child parameter names with the child's path
// segment.
func prefixParams(prefix string, params []Param) []Param {
	out := make([]Param, len(params))
	for i, p := range params {
		out[i] = Param{Name: prefix + p.Name, Role: p.Role, Tensor: p.Tensor}
	}
	return out
}

// namedModule pairs a child module with its path segment. Composite
// modules enumerate their children through it so Parameters, Buffers,
// Train, Eval, and Apply all walk the same tree.
type namedModule struct {
	name string
	m    Module
}

func collectParams(kids []namedModule) []Param {
	var params []Param
	for _, kid := range kids {
		params = append(params, prefixParams(kid.name+".", kid.m.Parameters())...)
	}
	return params
}

func collectBuffers(kids []namedModule) []Param {
	var bufs []Param
	for _, kid := range kids {
		bufs = append(bufs, prefixParams(kid.name+".", ModuleBuffers(kid.m))...)
	}
	return bufs
}

// Sequential chains modules, feeding each one's output to the next. Child
// parameter names are prefixed with the child's index, so a weight in the
// third child reports as "2.weight".
type Sequential struct {
	mode
	children []Module
}

// NewSequential builds a Sequential from the given modules.
func NewSequential(children ...Module) *Sequential {
	return &Sequential{mode: mode{training: true}, children: children}
}

func (s *Sequential) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	var err error
	for i, child := range s.children {
		x, err = child.Forward(x)
		if err != nil {
			return nil, fmt.Errorf("sequential child %d: %w", i, err)
		}
	}
	return x, nil
}

func (s *Sequential) Parameters() []Param {
	var params []Param
	for i, child := range s.children {
		params = append(params, prefixParams(strconv.Itoa(i)+".", child.Parameters())...)
	}
	return params
}

func (s *Sequential) Train() {
	s.mode.Train()
	for _, child := range s.children {
		child.Train()
	}
}

func (s *Sequential) Eval() {
	s.mode.Eval()
	for _, child := range s.children {
		child.Eval()
	}
}

func (s *Sequential) Apply(fn func(Module)) {
	for _, child := range s.children {
		child.Apply(fn)
	}
	fn(s)
}

func (s *Sequential) Buffers() []Param {
	var bufs []Param
	for i, child := range s.children {
		bufs = append(bufs, prefixParams(strconv.Itoa(i)+".", ModuleBuffers(child))...)
	}
	return bufs
}

// Len reports the number of children.
func (s *Sequential) Len() int { return len(s.children) }

// Child returns the i-th child module.
func (s *Sequential) Child(i int) Module { return s.children[i] }
