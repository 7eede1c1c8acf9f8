package training

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/tsawler/go-spike/tensor"
)

// Dataset is the source a DataLoader draws samples from. Get returns one
// event clip [T, C, H, W] Float32 and its class label as a one-element
// Int32 tensor.
type Dataset interface {
	Len() int
	Get(idx int) (clip *tensor.Tensor, label *tensor.Tensor, err error)
}

// DataLoader provides batching and shuffling over a Dataset. Clips are
// stacked time-major into [T, B, C, H, W], with the batch axis inserted
// after time so the multistep layers see one spatial batch per step. The
// final batch of an epoch may be smaller than the configured size.
type DataLoader struct {
	dataset   Dataset
	batchSize int
	shuffle   bool
	rng       *rand.Rand
	indices   []int
	position  int
	mutex     sync.Mutex
}

// NewDataLoader creates a DataLoader. Shuffling requires an explicit random
// source so epochs are reproducible from the run seed.
func NewDataLoader(dataset Dataset, batchSize int, shuffle bool, rng *rand.Rand) (*DataLoader, error) {
	if dataset == nil {
		return nil, fmt.Errorf("dataset must not be nil")
	}
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	if shuffle && rng == nil {
		return nil, fmt.Errorf("shuffling requires a random source")
	}

	indices := make([]int, dataset.Len())
	for i := range indices {
		indices[i] = i
	}

	return &DataLoader{
		dataset:   dataset,
		batchSize: batchSize,
		shuffle:   shuffle,
		rng:       rng,
		indices:   indices,
	}, nil
}

// Batch holds stacked clips [T, B, C, H, W] and labels [B].
type Batch struct {
	Data   *tensor.Tensor
	Labels *tensor.Tensor
}

// NumBatches returns the number of batches in an epoch.
func (dl *DataLoader) NumBatches() int {
	return (dl.dataset.Len() + dl.batchSize - 1) / dl.batchSize
}

// Reset rewinds the loader for a new epoch, reshuffling when enabled.
func (dl *DataLoader) Reset() {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()

	dl.position = 0

	if dl.shuffle {
		for i := len(dl.indices) - 1; i > 0; i-- {
			j := dl.rng.Intn(i + 1)
			dl.indices[i], dl.indices[j] = dl.indices[j], dl.indices[i]
		}
	}
}

// Next returns the next batch, or nil at the end of the epoch.
func (dl *DataLoader) Next() (*Batch, error) {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()

	if dl.position >= len(dl.indices) {
		return nil, nil // End of epoch
	}

	batchEnd := dl.position + dl.batchSize
	if batchEnd > len(dl.indices) {
		batchEnd = len(dl.indices)
	}

	batchIndices := dl.indices[dl.position:batchEnd]
	dl.position = batchEnd

	batch, err := dl.loadBatch(batchIndices)
	if err != nil {
		return nil, fmt.Errorf("failed to load batch: %v", err)
	}

	return batch, nil
}

// HasNext returns true if there are more batches in the current epoch.
func (dl *DataLoader) HasNext() bool {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()
	return dl.position < len(dl.indices)
}

// loadBatch loads the samples at the given indices and stacks them.
func (dl *DataLoader) loadBatch(indices []int) (*Batch, error) {
	if len(indices) == 0 {
		return nil, fmt.Errorf("empty batch indices")
	}
	batchSize := len(indices)

	firstClip, firstLabel, err := dl.dataset.Get(indices[0])
	if err != nil {
		return nil, fmt.Errorf("failed to load sample %d: %v", indices[0], err)
	}
	if err := checkClip(firstClip); err != nil {
		return nil, fmt.Errorf("sample %d: %v", indices[0], err)
	}

	steps := firstClip.Shape[0]
	stepSize := firstClip.NumElems / steps

	// [T, B, C, H, W]
	batchShape := []int{steps, batchSize, firstClip.Shape[1], firstClip.Shape[2], firstClip.Shape[3]}
	batchData, err := tensor.Zeros(batchShape, tensor.Float32)
	if err != nil {
		return nil, fmt.Errorf("failed to create batch data tensor: %v", err)
	}

	batchLabels, err := tensor.Zeros([]int{batchSize}, tensor.Int32)
	if err != nil {
		return nil, fmt.Errorf("failed to create batch labels tensor: %v", err)
	}

	for i, idx := range indices {
		clip, label := firstClip, firstLabel
		if i > 0 {
			clip, label, err = dl.dataset.Get(idx)
			if err != nil {
				return nil, fmt.Errorf("failed to load sample %d: %v", idx, err)
			}
		}

		if err := dl.copyClip(batchData, clip, i, batchSize, steps, stepSize); err != nil {
			return nil, fmt.Errorf("sample %d: %v", idx, err)
		}
		if err := dl.copyLabel(batchLabels, label, i); err != nil {
			return nil, fmt.Errorf("sample %d: %v", idx, err)
		}
	}

	return &Batch{
		Data:   batchData,
		Labels: batchLabels,
	}, nil
}

// copyClip interleaves one clip into the batch tensor: timestep t of sample
// i lands at row t*batchSize+i of the flattened [T*B, C*H*W] layout.
func (dl *DataLoader) copyClip(batchTensor, clip *tensor.Tensor, batchIndex, batchSize, steps, stepSize int) error {
	if err := checkClip(clip); err != nil {
		return err
	}
	if clip.Shape[0] != steps || clip.NumElems != steps*stepSize {
		return fmt.Errorf("clip shape %v does not match batch shape %v", clip.Shape, batchTensor.Shape)
	}
	for d := 1; d < 4; d++ {
		if clip.Shape[d] != batchTensor.Shape[d+1] {
			return fmt.Errorf("clip shape %v does not match batch shape %v", clip.Shape, batchTensor.Shape)
		}
	}

	batchData := batchTensor.Data.([]float32)
	clipData := clip.Data.([]float32)

	for t := 0; t < steps; t++ {
		src := t * stepSize
		dst := (t*batchSize + batchIndex) * stepSize
		copy(batchData[dst:dst+stepSize], clipData[src:src+stepSize])
	}

	return nil
}

func (dl *DataLoader) copyLabel(batchLabels, label *tensor.Tensor, batchIndex int) error {
	if label == nil || label.DType != tensor.Int32 || label.NumElems != 1 {
		return fmt.Errorf("label must be a one-element Int32 tensor")
	}
	batchLabels.Data.([]int32)[batchIndex] = label.Data.([]int32)[0]
	return nil
}

func checkClip(clip *tensor.Tensor) error {
	if clip == nil {
		return fmt.Errorf("clip must not be nil")
	}
	if clip.DType != tensor.Float32 {
		return fmt.Errorf("clip must be Float32, got %s", clip.DType)
	}
	if len(clip.Shape) != 4 {
		return fmt.Errorf("clip must be 4D [steps, channels, height, width], got shape %v", clip.Shape)
	}
	return nil
}

// SimpleDataset serves pre-built clips and labels from memory.
type SimpleDataset struct {
	clips  []*tensor.Tensor
	labels []*tensor.Tensor
}

// NewSimpleDataset creates a dataset over parallel clip and label slices.
func NewSimpleDataset(clips, labels []*tensor.Tensor) (*SimpleDataset, error) {
	if len(clips) != len(labels) {
		return nil, fmt.Errorf("clips and labels must have the same length: got %d and %d", len(clips), len(labels))
	}
	return &SimpleDataset{
		clips:  clips,
		labels: labels,
	}, nil
}

// Len returns the number of samples in the dataset.
func (ds *SimpleDataset) Len() int {
	return len(ds.clips)
}

// Get returns the sample at the given index.
func (ds *SimpleDataset) Get(idx int) (*tensor.Tensor, *tensor.Tensor, error) {
	if idx < 0 || idx >= len(ds.clips) {
		return nil, nil, fmt.Errorf("index %d out of range [0, %d)", idx, len(ds.clips))
	}
	return ds.clips[idx], ds.labels[idx], nil
}
