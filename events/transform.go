// Package events provides event-clip datasets for spiking network training:
// a deterministic synthetic generator and a frame-folder loader. An event
// clip is a [steps, channels, height, width] Float32 tensor with values in
// [0, 1].
package events

import (
	"fmt"
	"math/rand"

	"github.com/tsawler/go-spike/tensor"
)

// Transform maps one event clip to another. Datasets apply their transform
// after a clip is assembled and before it is returned.
type Transform func(clip *tensor.Tensor) (*tensor.Tensor, error)

// Compose chains transforms left to right.
func Compose(transforms ...Transform) Transform {
	return func(clip *tensor.Tensor) (*tensor.Tensor, error) {
		var err error
		for _, t := range transforms {
			clip, err = t(clip)
			if err != nil {
				return nil, err
			}
		}
		return clip, nil
	}
}

// CenterCrop returns a transform that crops every frame to height x width
// around the spatial center.
func CenterCrop(height, width int) Transform {
	return func(clip *tensor.Tensor) (*tensor.Tensor, error) {
		_, _, h, w, err := clipDims(clip)
		if err != nil {
			return nil, err
		}
		if height <= 0 || width <= 0 || height > h || width > w {
			return nil, fmt.Errorf("cannot crop %dx%d frames to %dx%d", h, w, height, width)
		}
		return cropClip(clip, (h-height)/2, (w-width)/2, height, width)
	}
}

// RandomCrop returns a transform that crops every frame to height x width at
// an offset drawn uniformly from the valid window. One offset is drawn per
// clip and applied to all of its frames.
func RandomCrop(height, width int, rng *rand.Rand) Transform {
	return func(clip *tensor.Tensor) (*tensor.Tensor, error) {
		if rng == nil {
			return nil, fmt.Errorf("random crop requires a random source")
		}
		_, _, h, w, err := clipDims(clip)
		if err != nil {
			return nil, err
		}
		if height <= 0 || width <= 0 || height > h || width > w {
			return nil, fmt.Errorf("cannot crop %dx%d frames to %dx%d", h, w, height, width)
		}
		top := rng.Intn(h - height + 1)
		left := rng.Intn(w - width + 1)
		return cropClip(clip, top, left, height, width)
	}
}

// clipDims validates an event clip and returns its dimensions.
func clipDims(clip *tensor.Tensor) (steps, channels, height, width int, err error) {
	if clip == nil {
		return 0, 0, 0, 0, fmt.Errorf("clip must not be nil")
	}
	if clip.DType != tensor.Float32 {
		return 0, 0, 0, 0, fmt.Errorf("clip must be Float32, got %v", clip.DType)
	}
	if len(clip.Shape) != 4 {
		return 0, 0, 0, 0, fmt.Errorf("clip must be 4D [steps, channels, height, width], got shape %v", clip.Shape)
	}
	return clip.Shape[0], clip.Shape[1], clip.Shape[2], clip.Shape[3], nil
}

// cropClip copies the window starting at (top, left) out of every frame.
func cropClip(clip *tensor.Tensor, top, left, height, width int) (*tensor.Tensor, error) {
	steps, channels, h, w, err := clipDims(clip)
	if err != nil {
		return nil, err
	}

	src, err := clip.GetFloat32Data()
	if err != nil {
		return nil, err
	}

	dst := make([]float32, steps*channels*height*width)
	for t := 0; t < steps; t++ {
		for c := 0; c < channels; c++ {
			srcPlane := (t*channels + c) * h * w
			dstPlane := (t*channels + c) * height * width
			for y := 0; y < height; y++ {
				srcRow := srcPlane + (top+y)*w + left
				dstRow := dstPlane + y*width
				copy(dst[dstRow:dstRow+width], src[srcRow:srcRow+width])
			}
		}
	}

	return tensor.NewTensor([]int{steps, channels, height, width}, tensor.Float32, dst)
}
