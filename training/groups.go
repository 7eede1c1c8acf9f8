package training

import (
	"github.com/tsawler/go-spike/snn"
)

// ParamGroup is a set of parameters sharing learning rate and weight decay.
// LR is the rate the optimizer applies on the next Step; BaseLR is what the
// scheduler anneals from.
type ParamGroup struct {
	Name        string
	Params      []snn.Param
	LR          float64
	BaseLR      float64
	WeightDecay float64
}

// BuildParamGroups splits a model's parameters into the two groups the delay
// networks train with: synaptic positions and spreads at ten times the base
// learning rate with no weight decay, and everything else at the base rate
// with the given decay. Parameters that do not require gradients are frozen
// and belong to no group, so a frozen position can never receive the
// position-group treatment.
func BuildParamGroups(model snn.Module, baseLR, weightDecay float64) []*ParamGroup {
	base := &ParamGroup{
		Name:        "default",
		LR:          baseLR,
		BaseLR:      baseLR,
		WeightDecay: weightDecay,
	}
	position := &ParamGroup{
		Name:        "position",
		LR:          baseLR * 10,
		BaseLR:      baseLR * 10,
		WeightDecay: 0,
	}

	for _, p := range model.Parameters() {
		if !p.Tensor.RequiresGrad() {
			continue
		}
		switch p.Role {
		case snn.RolePosition, snn.RoleSpread:
			position.Params = append(position.Params, p)
		default:
			base.Params = append(base.Params, p)
		}
	}

	return []*ParamGroup{base, position}
}

// GroupParams flattens the groups' parameters into one slice, preserving
// group order.
func GroupParams(groups []*ParamGroup) []snn.Param {
	var out []snn.Param
	for _, g := range groups {
		out = append(out, g.Params...)
	}
	return out
}
