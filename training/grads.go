package training

import (
	"fmt"
	"math"

	"github.com/tsawler/go-spike/snn"
)

// ClipGradNorm rescales all gradients in place so their global L2 norm does
// not exceed maxNorm, and returns the norm measured before clipping.
// Parameters without gradients are skipped.
func ClipGradNorm(params []snn.Param, maxNorm float64) (float64, error) {
	if maxNorm <= 0 {
		return 0, fmt.Errorf("max norm must be positive, got %f", maxNorm)
	}

	var sumSq float64
	for _, p := range params {
		if !p.Tensor.RequiresGrad() || p.Tensor.Grad() == nil {
			continue
		}
		grads, err := p.Tensor.Grad().GetFloat32Data()
		if err != nil {
			return 0, fmt.Errorf("parameter %s gradient: %v", p.Name, err)
		}
		for _, g := range grads {
			sumSq += float64(g) * float64(g)
		}
	}

	totalNorm := math.Sqrt(sumSq)
	if totalNorm <= maxNorm {
		return totalNorm, nil
	}

	scale := float32(maxNorm / (totalNorm + 1e-6))
	for _, p := range params {
		if !p.Tensor.RequiresGrad() || p.Tensor.Grad() == nil {
			continue
		}
		grads, err := p.Tensor.Grad().GetFloat32Data()
		if err != nil {
			return 0, fmt.Errorf("parameter %s gradient: %v", p.Name, err)
		}
		for i := range grads {
			grads[i] *= scale
		}
	}

	return totalNorm, nil
}

// CheckFiniteGrads returns an error naming the first parameter whose
// gradient contains a NaN or Inf value. Running it after every backward
// pass catches diverging runs at the step that produced them.
func CheckFiniteGrads(params []snn.Param) error {
	for _, p := range params {
		if !p.Tensor.RequiresGrad() || p.Tensor.Grad() == nil {
			continue
		}
		grads, err := p.Tensor.Grad().GetFloat32Data()
		if err != nil {
			return fmt.Errorf("parameter %s gradient: %v", p.Name, err)
		}
		for _, g := range grads {
			v := float64(g)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("non-finite gradient in parameter %s", p.Name)
			}
		}
	}
	return nil
}
