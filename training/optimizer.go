package training

import (
	"fmt"
	"math"
	"sync"

	"github.com/goki/mat32"

	"github.com/tsawler/go-spike/checkpoints"
	"github.com/tsawler/go-spike/snn"
	"github.com/tsawler/go-spike/tensor"
)

// Optimizer updates model parameters from accumulated gradients. All
// implementations work on parameter groups so the delay-position group can
// carry its own learning rate and decay, and serialize their moment state
// for checkpointing.
type Optimizer interface {
	Step() error // Updates model parameters based on gradients
	ZeroGrad()   // Resets gradients to zero for all parameters
	Groups() []*ParamGroup
	StateDict() (*checkpoints.OptimizerState, error)
	LoadStateDict(state *checkpoints.OptimizerState) error
	Name() string
}

// AdamConfig holds Adam hyperparameters. Learning rate and weight decay
// live on the parameter groups.
type AdamConfig struct {
	Beta1   float64
	Beta2   float64
	Epsilon float64
}

// DefaultAdamConfig returns the standard Adam hyperparameters.
func DefaultAdamConfig() AdamConfig {
	return AdamConfig{
		Beta1:   0.9,
		Beta2:   0.999,
		Epsilon: 1e-8,
	}
}

// Adam implements the Adam optimizer with bias-corrected moments. L2 weight
// decay is added to the gradient before the moment updates.
type Adam struct {
	config AdamConfig
	groups []*ParamGroup
	step   uint64
	m      map[string][]float32 // First moment estimates
	v      map[string][]float32 // Second moment estimates
	mutex  sync.Mutex
}

// NewAdam creates an Adam optimizer over the given parameter groups.
func NewAdam(groups []*ParamGroup, config AdamConfig) (*Adam, error) {
	if err := validateGroups(groups); err != nil {
		return nil, err
	}
	if config.Beta1 < 0 || config.Beta1 >= 1 {
		return nil, fmt.Errorf("beta1 must be in [0, 1), got %f", config.Beta1)
	}
	if config.Beta2 < 0 || config.Beta2 >= 1 {
		return nil, fmt.Errorf("beta2 must be in [0, 1), got %f", config.Beta2)
	}
	if config.Epsilon <= 0 {
		return nil, fmt.Errorf("epsilon must be positive, got %g", config.Epsilon)
	}

	adam := &Adam{
		config: config,
		groups: groups,
		m:      make(map[string][]float32),
		v:      make(map[string][]float32),
	}

	for _, p := range GroupParams(groups) {
		if p.Tensor.RequiresGrad() {
			adam.m[p.Name] = make([]float32, p.Tensor.NumElems)
			adam.v[p.Name] = make([]float32, p.Tensor.NumElems)
		}
	}

	return adam, nil
}

// Step performs a single optimization step.
func (adam *Adam) Step() error {
	adam.mutex.Lock()
	defer adam.mutex.Unlock()

	adam.step++

	// Bias correction factors
	bias1 := float32(1.0 - math.Pow(adam.config.Beta1, float64(adam.step)))
	bias2 := float32(1.0 - math.Pow(adam.config.Beta2, float64(adam.step)))

	beta1 := float32(adam.config.Beta1)
	beta2 := float32(adam.config.Beta2)
	eps := float32(adam.config.Epsilon)

	for _, group := range adam.groups {
		lr := float32(group.LR)
		decay := float32(group.WeightDecay)

		for _, p := range group.Params {
			if !p.Tensor.RequiresGrad() || p.Tensor.Grad() == nil {
				continue
			}

			weights, err := p.Tensor.GetFloat32Data()
			if err != nil {
				return fmt.Errorf("parameter %s: %v", p.Name, err)
			}
			grads, err := p.Tensor.Grad().GetFloat32Data()
			if err != nil {
				return fmt.Errorf("parameter %s gradient: %v", p.Name, err)
			}

			m := adam.m[p.Name]
			v := adam.v[p.Name]
			if m == nil || v == nil {
				m = make([]float32, len(weights))
				v = make([]float32, len(weights))
				adam.m[p.Name] = m
				adam.v[p.Name] = v
			}
			if len(m) != len(weights) || len(v) != len(weights) {
				return fmt.Errorf("parameter %s: moment size %d does not match %d elements", p.Name, len(m), len(weights))
			}

			for i := range weights {
				g := grads[i] + decay*weights[i]
				m[i] = beta1*m[i] + (1-beta1)*g
				v[i] = beta2*v[i] + (1-beta2)*g*g
				mHat := m[i] / bias1
				vHat := v[i] / bias2
				weights[i] -= lr * mHat / (mat32.Sqrt(vHat) + eps)
			}
		}
	}

	return nil
}

// ZeroGrad resets gradients to zero for all parameters.
func (adam *Adam) ZeroGrad() {
	tensor.ZeroGrad(paramTensors(adam.groups))
}

// Groups returns the parameter groups the optimizer updates.
func (adam *Adam) Groups() []*ParamGroup {
	return adam.groups
}

// Name identifies the optimizer type in checkpoints.
func (adam *Adam) Name() string {
	return "adam"
}

// StateDict snapshots the step counter, group hyperparameters, and moments.
func (adam *Adam) StateDict() (*checkpoints.OptimizerState, error) {
	adam.mutex.Lock()
	defer adam.mutex.Unlock()

	state := &checkpoints.OptimizerState{
		Type:   adam.Name(),
		Step:   adam.step,
		Groups: groupStates(adam.groups),
	}

	for _, p := range GroupParams(adam.groups) {
		if m, ok := adam.m[p.Name]; ok {
			state.State = append(state.State, momentTensor(p, "m", m))
		}
		if v, ok := adam.v[p.Name]; ok {
			state.State = append(state.State, momentTensor(p, "v", v))
		}
	}

	return state, nil
}

// LoadStateDict restores the optimizer from a checkpoint snapshot.
func (adam *Adam) LoadStateDict(state *checkpoints.OptimizerState) error {
	adam.mutex.Lock()
	defer adam.mutex.Unlock()

	if state.Type != adam.Name() {
		return fmt.Errorf("state is for optimizer %q, not %q", state.Type, adam.Name())
	}
	if err := restoreGroupStates(adam.groups, state.Groups); err != nil {
		return err
	}

	sizes := paramSizes(adam.groups)
	for _, st := range state.State {
		size, ok := sizes[st.Name]
		if !ok {
			return fmt.Errorf("optimizer state references unknown parameter %q", st.Name)
		}
		if len(st.Data) != size {
			return fmt.Errorf("parameter %q: stored moment has %d elements, want %d", st.Name, len(st.Data), size)
		}

		data := make([]float32, len(st.Data))
		copy(data, st.Data)

		switch st.StateType {
		case "m":
			adam.m[st.Name] = data
		case "v":
			adam.v[st.Name] = data
		default:
			return fmt.Errorf("unknown optimizer state type %q for parameter %q", st.StateType, st.Name)
		}
	}

	adam.step = state.Step
	return nil
}

// SGDConfig holds SGD hyperparameters. Learning rate and weight decay live
// on the parameter groups.
type SGDConfig struct {
	Momentum  float64
	Dampening float64
	Nesterov  bool
}

// DefaultSGDConfig returns SGD with standard momentum.
func DefaultSGDConfig() SGDConfig {
	return SGDConfig{
		Momentum: 0.9,
	}
}

// SGD implements stochastic gradient descent with optional momentum and
// Nesterov acceleration.
type SGD struct {
	config     SGDConfig
	groups     []*ParamGroup
	step       uint64
	velocities map[string][]float32
	mutex      sync.Mutex
}

// NewSGD creates an SGD optimizer over the given parameter groups.
func NewSGD(groups []*ParamGroup, config SGDConfig) (*SGD, error) {
	if err := validateGroups(groups); err != nil {
		return nil, err
	}
	if config.Momentum < 0 || config.Momentum >= 1 {
		return nil, fmt.Errorf("momentum must be in [0, 1), got %f", config.Momentum)
	}
	if config.Dampening < 0 || config.Dampening >= 1 {
		return nil, fmt.Errorf("dampening must be in [0, 1), got %f", config.Dampening)
	}
	if config.Nesterov && (config.Momentum == 0 || config.Dampening != 0) {
		return nil, fmt.Errorf("nesterov momentum requires momentum > 0 and zero dampening")
	}

	sgd := &SGD{
		config:     config,
		groups:     groups,
		velocities: make(map[string][]float32),
	}

	if config.Momentum > 0 {
		for _, p := range GroupParams(groups) {
			if p.Tensor.RequiresGrad() {
				sgd.velocities[p.Name] = make([]float32, p.Tensor.NumElems)
			}
		}
	}

	return sgd, nil
}

// Step performs a single optimization step.
func (sgd *SGD) Step() error {
	sgd.mutex.Lock()
	defer sgd.mutex.Unlock()

	sgd.step++

	momentum := float32(sgd.config.Momentum)
	dampening := float32(sgd.config.Dampening)

	for _, group := range sgd.groups {
		lr := float32(group.LR)
		decay := float32(group.WeightDecay)

		for _, p := range group.Params {
			if !p.Tensor.RequiresGrad() || p.Tensor.Grad() == nil {
				continue
			}

			weights, err := p.Tensor.GetFloat32Data()
			if err != nil {
				return fmt.Errorf("parameter %s: %v", p.Name, err)
			}
			grads, err := p.Tensor.Grad().GetFloat32Data()
			if err != nil {
				return fmt.Errorf("parameter %s gradient: %v", p.Name, err)
			}

			if momentum > 0 {
				velocity := sgd.velocities[p.Name]
				if velocity == nil {
					velocity = make([]float32, len(weights))
					sgd.velocities[p.Name] = velocity
				}
				if len(velocity) != len(weights) {
					return fmt.Errorf("parameter %s: velocity size %d does not match %d elements", p.Name, len(velocity), len(weights))
				}

				for i := range weights {
					g := grads[i] + decay*weights[i]
					velocity[i] = momentum*velocity[i] + (1-dampening)*g
					if sgd.config.Nesterov {
						g = g + momentum*velocity[i]
					} else {
						g = velocity[i]
					}
					weights[i] -= lr * g
				}
			} else {
				for i := range weights {
					g := grads[i] + decay*weights[i]
					weights[i] -= lr * g
				}
			}
		}
	}

	return nil
}

// ZeroGrad resets gradients to zero for all parameters.
func (sgd *SGD) ZeroGrad() {
	tensor.ZeroGrad(paramTensors(sgd.groups))
}

// Groups returns the parameter groups the optimizer updates.
func (sgd *SGD) Groups() []*ParamGroup {
	return sgd.groups
}

// Name identifies the optimizer type in checkpoints.
func (sgd *SGD) Name() string {
	return "sgd"
}

// StateDict snapshots the step counter, group hyperparameters, and momentum
// velocities.
func (sgd *SGD) StateDict() (*checkpoints.OptimizerState, error) {
	sgd.mutex.Lock()
	defer sgd.mutex.Unlock()

	state := &checkpoints.OptimizerState{
		Type:   sgd.Name(),
		Step:   sgd.step,
		Groups: groupStates(sgd.groups),
	}

	for _, p := range GroupParams(sgd.groups) {
		if velocity, ok := sgd.velocities[p.Name]; ok {
			state.State = append(state.State, momentTensor(p, "velocity", velocity))
		}
	}

	return state, nil
}

// LoadStateDict restores the optimizer from a checkpoint snapshot.
func (sgd *SGD) LoadStateDict(state *checkpoints.OptimizerState) error {
	sgd.mutex.Lock()
	defer sgd.mutex.Unlock()

	if state.Type != sgd.Name() {
		return fmt.Errorf("state is for optimizer %q, not %q", state.Type, sgd.Name())
	}
	if err := restoreGroupStates(sgd.groups, state.Groups); err != nil {
		return err
	}

	sizes := paramSizes(sgd.groups)
	for _, st := range state.State {
		size, ok := sizes[st.Name]
		if !ok {
			return fmt.Errorf("optimizer state references unknown parameter %q", st.Name)
		}
		if len(st.Data) != size {
			return fmt.Errorf("parameter %q: stored velocity has %d elements, want %d", st.Name, len(st.Data), size)
		}
		if st.StateType != "velocity" {
			return fmt.Errorf("unknown optimizer state type %q for parameter %q", st.StateType, st.Name)
		}

		data := make([]float32, len(st.Data))
		copy(data, st.Data)
		sgd.velocities[st.Name] = data
	}

	sgd.step = state.Step
	return nil
}

func validateGroups(groups []*ParamGroup) error {
	if len(groups) == 0 {
		return fmt.Errorf("optimizer needs at least one parameter group")
	}

	seen := make(map[string]bool)
	for _, g := range groups {
		for _, p := range g.Params {
			if p.Tensor == nil {
				return fmt.Errorf("parameter %q has no tensor", p.Name)
			}
			if seen[p.Name] {
				return fmt.Errorf("parameter %q appears in more than one group", p.Name)
			}
			seen[p.Name] = true
		}
	}
	return nil
}

func paramTensors(groups []*ParamGroup) []*tensor.Tensor {
	params := GroupParams(groups)
	out := make([]*tensor.Tensor, len(params))
	for i := range params {
		out[i] = params[i].Tensor
	}
	return out
}

func paramSizes(groups []*ParamGroup) map[string]int {
	sizes := make(map[string]int)
	for _, p := range GroupParams(groups) {
		sizes[p.Name] = p.Tensor.NumElems
	}
	return sizes
}

func groupStates(groups []*ParamGroup) []checkpoints.GroupState {
	out := make([]checkpoints.GroupState, len(groups))
	for i, g := range groups {
		out[i] = checkpoints.GroupState{
			LR:          g.LR,
			BaseLR:      g.BaseLR,
			WeightDecay: g.WeightDecay,
		}
	}
	return out
}

func restoreGroupStates(groups []*ParamGroup, states []checkpoints.GroupState) error {
	if len(states) != len(groups) {
		return fmt.Errorf("state has %d groups, optimizer has %d", len(states), len(groups))
	}
	for i, st := range states {
		groups[i].LR = st.LR
		groups[i].BaseLR = st.BaseLR
		groups[i].WeightDecay = st.WeightDecay
	}
	return nil
}

func momentTensor(p snn.Param, stateType string, data []float32) checkpoints.OptimizerTensor {
	stored := make([]float32, len(data))
	copy(stored, data)

	shape := make([]int, len(p.Tensor.Shape))
	copy(shape, p.Tensor.Shape)

	return checkpoints.OptimizerTensor{
		Name:      p.Name,
		Shape:     shape,
		Data:      stored,
		StateType: stateType,
	}
}
