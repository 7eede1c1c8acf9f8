// Package spike implements the dynamics of spiking neurons as autograd
// operations: surrogate gradients for the non-differentiable firing step,
// multi-step leaky integrate-and-fire (plain and parametric) unrolled over
// the leading time axis, and a learnable first-order synapse filter.
package spike

import (
	"github.com/goki/mat32"
)

// SurrogateGradient supplies the derivative used in place of the Heaviside
// step during backpropagation. The argument is the membrane potential minus
// the firing threshold.
type SurrogateGradient interface {
	Grad(x float32) float32
	Name() string
}

// Erf is the gaussian-shaped surrogate: the step is relaxed to
// (1 + erf(alpha*x/sqrt(2)))/2, whose derivative is
// alpha/sqrt(2*pi) * exp(-(alpha*x)^2/2).
type Erf struct {
	Alpha float32
}

// NewErf returns the Erf surrogate with the standard sharpness of 2.
func NewErf() Erf {
	return Erf{Alpha: 2}
}

func (e Erf) Grad(x float32) float32 {
	ax := e.Alpha * x
	return e.Alpha / mat32.Sqrt(2*mat32.Pi) * mat32.FastExp(-ax*ax/2)
}

func (e Erf) Name() string {
	return "erf"
}

// ATan relaxes the step to an arctangent sigmoid with derivative
// alpha / (2 * (1 + (pi/2 * alpha * x)^2)).
type ATan struct {
	Alpha float32
}

// NewATan returns the ATan surrogate with the standard sharpness of 2.
func NewATan() ATan {
	return ATan{Alpha: 2}
}

func (a ATan) Grad(x float32) float32 {
	u := mat32.Pi / 2 * a.Alpha * x
	return a.Alpha / (2 * (1 + u*u))
}

func (a ATan) Name() string {
	return "atan"
}
