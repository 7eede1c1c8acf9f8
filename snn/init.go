package snn

import (
	"math"
	"math/rand"

	"github.com/tsawler/go-spike/tensor"
)

// The fill helpers rewrite a parameter's data in place so tensors already
// registered with an optimizer or checkpoint stay valid.

func fillNormal(t *tensor.Tensor, mean, std float32, rng *rand.Rand) {
	data := t.Data.([]float32)
	for i := range data {
		data[i] = mean + std*float32(rng.NormFloat64())
	}
}

func fillConst(t *tensor.Tensor, value float32) {
	data := t.Data.([]float32)
	for i := range data {
		data[i] = value
	}
}

// fanOutStd is the weight scale used by the backbone initialization:
// N(0, sqrt(2/n)) with n the kernel volume times the output channels.
func fanOutStd(kernelVolume, outChannels int) float32 {
	return float32(math.Sqrt(2.0 / float64(kernelVolume*outChannels)))
}
