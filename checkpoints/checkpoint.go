// Package checkpoints persists and restores training runs: model weights
// and buffers, optimizer moments, scheduler position, and the best-epoch
// record, serialized as pretty-printed JSON. ONNX export lives in onnx.go.
package checkpoints

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/tsawler/go-spike/snn"
	"github.com/tsawler/go-spike/tensor"
)

// Checkpoint represents a complete training state: every named tensor of the
// model (parameters and running statistics), plus optimizer, scheduler, and
// best-epoch bookkeeping.
type Checkpoint struct {
	Epoch   int            `json:"epoch"`
	Weights []WeightTensor `json:"weights"`

	// Optimizer state (if available)
	Optimizer *OptimizerState `json:"optimizer_state,omitempty"`

	// Scheduler state (if available)
	Scheduler *SchedulerState `json:"scheduler_state,omitempty"`

	// Best validation epoch seen so far (if any)
	Best *BestEpoch `json:"best,omitempty"`

	// Metadata
	Metadata Metadata `json:"metadata"`
}

// WeightTensor represents a model tensor with its data. Role carries the
// parameter role string ("weight", "position", "running_stat", ...) so tools
// can filter without reconstructing the model.
type WeightTensor struct {
	Name         string    `json:"name"`
	Role         string    `json:"role"`
	Shape        []int     `json:"shape"`
	RequiresGrad bool      `json:"requires_grad"`
	Data         []float32 `json:"data"`
}

// OptimizerState captures optimizer-specific state (moments, velocity, step
// count) keyed by parameter name.
type OptimizerState struct {
	Type   string            `json:"type"` // "adam", "sgd"
	Step   uint64            `json:"step"`
	Groups []GroupState      `json:"groups"`
	State  []OptimizerTensor `json:"state_data"`
}

// GroupState records the hyperparameters of one parameter group.
type GroupState struct {
	LR          float64 `json:"lr"`
	BaseLR      float64 `json:"base_lr"`
	WeightDecay float64 `json:"weight_decay"`
}

// OptimizerTensor represents one optimizer state tensor, such as the first
// or second Adam moment of a parameter.
type OptimizerTensor struct {
	Name      string    `json:"name"`
	Shape     []int     `json:"shape"`
	Data      []float32 `json:"data"`
	StateType string    `json:"state_type"` // "m", "v", "velocity"
}

// SchedulerState records which scheduler produced the stored run and the
// last epoch it was applied to.
type SchedulerState struct {
	Name      string `json:"name"`
	LastEpoch int    `json:"last_epoch"`
}

// BestEpoch records the epoch with the highest test accuracy so far.
type BestEpoch struct {
	Epoch     int     `json:"epoch"`
	Accuracy  float64 `json:"accuracy"`
	ValLoss   float64 `json:"val_loss"`
	TrainLoss float64 `json:"train_loss"`
}

// Metadata contains checkpoint provenance.
type Metadata struct {
	Library   string    `json:"library"`
	Version   string    `json:"version"`
	CreatedAt time.Time `json:"created_at"`
}

// FromModel snapshots every parameter and buffer of the model into a new
// checkpoint. Data slices are copied, so later training steps do not mutate
// the snapshot.
func FromModel(model snn.Module, epoch int) (*Checkpoint, error) {
	named := append(model.Parameters(), snn.ModuleBuffers(model)...)

	weights := make([]WeightTensor, 0, len(named))
	for _, p := range named {
		data, err := p.Tensor.GetFloat32Data()
		if err != nil {
			return nil, fmt.Errorf("tensor %s: %v", p.Name, err)
		}

		shape := make([]int, len(p.Tensor.Shape))
		copy(shape, p.Tensor.Shape)
		stored := make([]float32, len(data))
		copy(stored, data)

		weights = append(weights, WeightTensor{
			Name:         p.Name,
			Role:         p.Role.String(),
			Shape:        shape,
			RequiresGrad: p.Tensor.RequiresGrad(),
			Data:         stored,
		})
	}

	return &Checkpoint{
		Epoch:   epoch,
		Weights: weights,
		Metadata: Metadata{
			Library:   "go-spike",
			Version:   "1.0.0",
			CreatedAt: time.Now(),
		},
	}, nil
}

// ApplyToModel restores the checkpoint's weights into the model. Tensors are
// matched by qualified name; the first missing tensor or shape mismatch
// aborts the restore. Data is copied in place, so optimizer and param-group
// references to the tensors stay valid.
func (c *Checkpoint) ApplyToModel(model snn.Module) error {
	byName := make(map[string]*WeightTensor, len(c.Weights))
	for i := range c.Weights {
		byName[c.Weights[i].Name] = &c.Weights[i]
	}

	named := append(model.Parameters(), snn.ModuleBuffers(model)...)
	used := make(map[string]bool, len(named))

	for _, p := range named {
		w, ok := byName[p.Name]
		if !ok {
			return fmt.Errorf("checkpoint is missing tensor %q", p.Name)
		}
		if !shapesEqual(w.Shape, p.Tensor.Shape) {
			return fmt.Errorf("tensor %q shape mismatch: checkpoint %v, model %v", p.Name, w.Shape, p.Tensor.Shape)
		}
		if p.Tensor.DType != tensor.Float32 {
			return fmt.Errorf("tensor %q: unsupported dtype %s", p.Name, p.Tensor.DType)
		}

		dst, err := p.Tensor.GetFloat32Data()
		if err != nil {
			return fmt.Errorf("tensor %q: %v", p.Name, err)
		}
		if len(w.Data) != len(dst) {
			return fmt.Errorf("tensor %q data length mismatch: checkpoint %d, model %d", p.Name, len(w.Data), len(dst))
		}
		copy(dst, w.Data)
		used[p.Name] = true
	}

	for _, w := range c.Weights {
		if !used[w.Name] {
			return fmt.Errorf("checkpoint tensor %q does not match any model tensor", w.Name)
		}
	}

	return nil
}

// Save writes the checkpoint to path as pretty-printed JSON.
func (c *Checkpoint) Save(path string) error {
	if c.Metadata.Library == "" {
		c.Metadata.Library = "go-spike"
		c.Metadata.Version = "1.0.0"
		c.Metadata.CreatedAt = time.Now()
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint file: %v", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")

	if err := encoder.Encode(c); err != nil {
		return fmt.Errorf("failed to encode checkpoint: %v", err)
	}

	return nil
}

// Load reads a checkpoint from path.
func Load(path string) (*Checkpoint, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint file: %v", err)
	}
	defer file.Close()

	var checkpoint Checkpoint
	decoder := json.NewDecoder(file)

	if err := decoder.Decode(&checkpoint); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %v", err)
	}

	return &checkpoint, nil
}

func shapesEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
