package events

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/tsawler/go-spike/tensor"
)

// Event rates for the mouth ring and the background.
const (
	ringWidth      = 0.18
	ringEventRate  = 0.9
	noiseEventRate = 0.01
)

// SyntheticConfig configures the synthetic mouth-movement generator.
type SyntheticConfig struct {
	Classes         int
	SamplesPerClass int
	T               int // frames per clip
	H               int
	W               int
	Seed            int64
}

// DefaultSyntheticConfig returns the settings the command-line trainer uses
// when no dataset root is given.
func DefaultSyntheticConfig() SyntheticConfig {
	return SyntheticConfig{
		Classes:         10,
		SamplesPerClass: 16,
		T:               30,
		H:               96,
		W:               96,
		Seed:            42,
	}
}

// SyntheticLipDataset generates binary event clips of a mouth-like ellipse
// ring that opens and closes. Each class has its own oscillation frequency
// and aperture, each sample its own phase, center jitter, and event noise.
// Clips are deterministic in (Seed, index), so two datasets built from the
// same config produce identical clips.
type SyntheticLipDataset struct {
	config    SyntheticConfig
	transform Transform
}

// NewSyntheticLipDataset creates a synthetic dataset.
func NewSyntheticLipDataset(config SyntheticConfig) (*SyntheticLipDataset, error) {
	if config.Classes <= 0 {
		return nil, fmt.Errorf("classes must be positive, got %d", config.Classes)
	}
	if config.SamplesPerClass <= 0 {
		return nil, fmt.Errorf("samples per class must be positive, got %d", config.SamplesPerClass)
	}
	if config.T <= 0 {
		return nil, fmt.Errorf("frames per clip must be positive, got %d", config.T)
	}
	if config.H <= 0 || config.W <= 0 {
		return nil, fmt.Errorf("frame size must be positive, got %dx%d", config.H, config.W)
	}
	return &SyntheticLipDataset{config: config}, nil
}

// WithTransform returns a copy of the dataset that applies the transform to
// every clip.
func (d *SyntheticLipDataset) WithTransform(t Transform) *SyntheticLipDataset {
	clone := *d
	clone.transform = t
	return &clone
}

// Len returns the number of clips.
func (d *SyntheticLipDataset) Len() int {
	return d.config.Classes * d.config.SamplesPerClass
}

// NumClasses returns the number of distinct labels.
func (d *SyntheticLipDataset) NumClasses() int {
	return d.config.Classes
}

// Get renders the clip at index along with its label.
func (d *SyntheticLipDataset) Get(index int) (*tensor.Tensor, *tensor.Tensor, error) {
	if index < 0 || index >= d.Len() {
		return nil, nil, fmt.Errorf("index %d out of range [0, %d)", index, d.Len())
	}

	class := index / d.config.SamplesPerClass
	rng := rand.New(rand.NewSource(d.config.Seed + int64(index)*7919))

	clip, err := d.renderClip(class, rng)
	if err != nil {
		return nil, nil, err
	}
	if d.transform != nil {
		clip, err = d.transform(clip)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to transform clip %d: %v", index, err)
		}
	}

	label, err := tensor.NewTensor([]int{1}, tensor.Int32, []int32{int32(class)})
	if err != nil {
		return nil, nil, err
	}

	return clip, label, nil
}

// renderClip draws one clip. The ring's vertical semi-axis follows a
// rectified sinusoid whose frequency and aperture identify the class;
// frequencies stay below T/2 cycles per clip so no class aliases into
// another.
func (d *SyntheticLipDataset) renderClip(class int, rng *rand.Rand) (*tensor.Tensor, error) {
	steps, height, width := d.config.T, d.config.H, d.config.W

	freq := 1.0 + 0.45*float64(class%12)
	baseAperture := 0.10 + 0.025*float64(class/12)
	amplitude := 0.08 + 0.015*float64(class%3)

	phase := rng.Float64() * 2 * math.Pi
	centerX := float64(width)/2 + (rng.Float64()-0.5)*0.06*float64(width)
	centerY := float64(height)/2 + (rng.Float64()-0.5)*0.06*float64(height)
	radiusX := 0.32 * float64(width)

	data := make([]float32, steps*height*width)
	for t := 0; t < steps; t++ {
		aperture := baseAperture + amplitude*math.Abs(math.Sin(2*math.Pi*freq*float64(t)/float64(steps)+phase))
		radiusY := aperture * float64(height)

		frame := data[t*height*width : (t+1)*height*width]
		for y := 0; y < height; y++ {
			dy := (float64(y) - centerY) / radiusY
			for x := 0; x < width; x++ {
				dx := (float64(x) - centerX) / radiusX
				q := math.Sqrt(dx*dx + dy*dy)
				switch {
				case math.Abs(q-1) <= ringWidth:
					if rng.Float64() < ringEventRate {
						frame[y*width+x] = 1
					}
				case rng.Float64() < noiseEventRate:
					frame[y*width+x] = 1
				}
			}
		}
	}

	return tensor.NewTensor([]int{steps, 1, height, width}, tensor.Float32, data)
}
