package events

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/anthonynsimon/bild/effect"
	"github.com/anthonynsimon/bild/imgio"
	"github.com/anthonynsimon/bild/transform"

	"github.com/tsawler/go-spike/tensor"
)

const defaultDecodeWorkers = 4

// FrameFolderDataset reads event clips stored as frame folders where each
// class subdirectory holds one directory per clip:
//
//	root/<class>/<sample>/frame_0001.png
//
// Frames are decoded in lexical order, grayscaled, resized to size x size,
// and normalized to [0, 1]. Clips shorter than steps are padded with empty
// frames, longer ones are truncated.
type FrameFolderDataset struct {
	sampleDirs []string
	labels     []int32
	classNames []string
	classToIdx map[string]int
	steps      int
	size       int
	workers    int
	transform  Transform
}

// NewFrameFolderDataset scans root for class and sample directories.
func NewFrameFolderDataset(root string, steps, size int) (*FrameFolderDataset, error) {
	if steps <= 0 {
		return nil, fmt.Errorf("steps must be positive, got %d", steps)
	}
	if size <= 0 {
		return nil, fmt.Errorf("frame size must be positive, got %d", size)
	}

	dataset := &FrameFolderDataset{
		classToIdx: make(map[string]int),
		steps:      steps,
		size:       size,
		workers:    defaultDecodeWorkers,
	}

	classes, err := filepath.Glob(filepath.Join(root, "*"))
	if err != nil {
		return nil, fmt.Errorf("failed to list classes: %w", err)
	}

	classIdx := 0
	for _, classPath := range classes {
		info, err := os.Stat(classPath)
		if err != nil || !info.IsDir() {
			continue
		}

		className := filepath.Base(classPath)
		dataset.classNames = append(dataset.classNames, className)
		dataset.classToIdx[className] = classIdx

		samples, err := filepath.Glob(filepath.Join(classPath, "*"))
		if err != nil {
			continue
		}
		for _, samplePath := range samples {
			info, err := os.Stat(samplePath)
			if err != nil || !info.IsDir() {
				continue
			}
			dataset.sampleDirs = append(dataset.sampleDirs, samplePath)
			dataset.labels = append(dataset.labels, int32(classIdx))
		}

		classIdx++
	}

	if len(dataset.sampleDirs) == 0 {
		return nil, fmt.Errorf("no sample directories found in %s", root)
	}

	return dataset, nil
}

// WithTransform returns a copy of the dataset that applies the transform to
// every clip.
func (d *FrameFolderDataset) WithTransform(t Transform) *FrameFolderDataset {
	clone := *d
	clone.transform = t
	return &clone
}

// WithWorkers returns a copy of the dataset that decodes frames with n
// concurrent workers.
func (d *FrameFolderDataset) WithWorkers(n int) *FrameFolderDataset {
	clone := *d
	if n <= 0 {
		n = 1
	}
	clone.workers = n
	return &clone
}

// Len returns the number of clips.
func (d *FrameFolderDataset) Len() int {
	return len(d.sampleDirs)
}

// NumClasses returns the number of classes.
func (d *FrameFolderDataset) NumClasses() int {
	return len(d.classNames)
}

// ClassNames returns the list of class names.
func (d *FrameFolderDataset) ClassNames() []string {
	return d.classNames
}

// ClassDistribution returns the number of clips per class.
func (d *FrameFolderDataset) ClassDistribution() map[string]int {
	dist := make(map[string]int)
	for _, label := range d.labels {
		className := d.classNames[label]
		dist[className]++
	}
	return dist
}

// Get decodes the clip at index along with its label.
func (d *FrameFolderDataset) Get(index int) (*tensor.Tensor, *tensor.Tensor, error) {
	if index < 0 || index >= len(d.sampleDirs) {
		return nil, nil, fmt.Errorf("index %d out of range [0, %d)", index, len(d.sampleDirs))
	}

	framePaths, err := filepath.Glob(filepath.Join(d.sampleDirs[index], "*.png"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list frames: %w", err)
	}
	if len(framePaths) == 0 {
		return nil, nil, fmt.Errorf("no frames found in %s", d.sampleDirs[index])
	}
	if len(framePaths) > d.steps {
		framePaths = framePaths[:d.steps]
	}

	frames, err := LoadFrames(framePaths, d.size, d.workers)
	if err != nil {
		return nil, nil, err
	}

	stepSize := d.size * d.size
	data := make([]float32, d.steps*stepSize)
	for t, frame := range frames {
		copy(data[t*stepSize:(t+1)*stepSize], frame)
	}

	clip, err := tensor.NewTensor([]int{d.steps, 1, d.size, d.size}, tensor.Float32, data)
	if err != nil {
		return nil, nil, err
	}
	if d.transform != nil {
		clip, err = d.transform(clip)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to transform clip %d: %v", index, err)
		}
	}

	label, err := tensor.NewTensor([]int{1}, tensor.Int32, []int32{d.labels[index]})
	if err != nil {
		return nil, nil, err
	}

	return clip, label, nil
}

// Split splits the dataset into train and test sets. A nil rng keeps the
// scan order; otherwise indices are shuffled first.
func (d *FrameFolderDataset) Split(trainRatio float64, rng *rand.Rand) (*FrameFolderDataset, *FrameFolderDataset) {
	n := len(d.sampleDirs)
	trainSize := int(float64(n) * trainRatio)

	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}
	if rng != nil {
		rng.Shuffle(n, func(i, j int) {
			indices[i], indices[j] = indices[j], indices[i]
		})
	}

	return d.Subset(indices[:trainSize]), d.Subset(indices[trainSize:])
}

// Subset creates a dataset holding only the clips at the given indices.
func (d *FrameFolderDataset) Subset(indices []int) *FrameFolderDataset {
	subset := &FrameFolderDataset{
		sampleDirs: make([]string, len(indices)),
		labels:     make([]int32, len(indices)),
		classNames: d.classNames,
		classToIdx: d.classToIdx,
		steps:      d.steps,
		size:       d.size,
		workers:    d.workers,
		transform:  d.transform,
	}

	for i, idx := range indices {
		subset.sampleDirs[i] = d.sampleDirs[idx]
		subset.labels[i] = d.labels[idx]
	}

	return subset
}

// String returns a summary of the dataset.
func (d *FrameFolderDataset) String() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("FrameFolderDataset: %d clips, %d classes\n", len(d.sampleDirs), len(d.classNames)))
	sb.WriteString("Class distribution:\n")

	dist := d.ClassDistribution()
	for _, className := range d.classNames {
		sb.WriteString(fmt.Sprintf("  %s: %d clips\n", className, dist[className]))
	}

	return sb.String()
}

// DecodeFrame reads one frame image, grayscales and resizes it, and returns
// size*size values in [0, 1].
func DecodeFrame(path string, size int) ([]float32, error) {
	img, err := imgio.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame %s: %v", path, err)
	}

	gray := effect.Grayscale(img)
	resized := transform.Resize(gray, size, size, transform.Linear)

	data := make([]float32, size*size)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			r, _, _, _ := resized.At(x, y).RGBA()
			value := float32(r) / 65535.0
			if value != value || value < 0 || value > 1 {
				value = 0
			}
			data[y*size+x] = value
		}
	}

	return data, nil
}

// LoadFrames decodes frames concurrently with a bounded worker pool. Results
// keep the order of paths.
func LoadFrames(paths []string, size, workers int) ([][]float32, error) {
	if workers <= 0 {
		workers = 1
	}

	results := make([][]float32, len(paths))
	errors := make([]error, len(paths))

	type job struct {
		index int
		path  string
	}

	jobs := make(chan job, len(paths))
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				frame, err := DecodeFrame(j.path, size)
				if err != nil {
					errors[j.index] = err
				} else {
					results[j.index] = frame
				}
			}
		}()
	}

	for i, path := range paths {
		jobs <- job{index: i, path: path}
	}
	close(jobs)

	wg.Wait()

	for i, err := range errors {
		if err != nil {
			return nil, fmt.Errorf("failed to decode frame %d: %v", i, err)
		}
	}

	return results, nil
}
