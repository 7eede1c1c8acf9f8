package checkpoints

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/tsawler/go-spike/snn"
)

// snapshotModel is a linear layer plus a normalization layer, so checkpoints
// cover both trainable parameters and running-statistic buffers.
func snapshotModel(t *testing.T, seed int64) snn.Module {
	t.Helper()
	linear, err := snn.NewLinear(4, 3, rand.New(rand.NewSource(seed)))
	if err != nil {
		t.Fatalf("NewLinear failed: %v", err)
	}
	bn, err := snn.NewBatchNorm1D(3)
	if err != nil {
		t.Fatalf("NewBatchNorm1D failed: %v", err)
	}
	return snn.NewSequential(linear, bn)
}

func firstWeightData(t *testing.T, model snn.Module) []float32 {
	t.Helper()
	params := model.Parameters()
	if len(params) == 0 {
		t.Fatal("model has no parameters")
	}
	return params[0].Tensor.Data.([]float32)
}

func TestFromModelSnapshotIsolated(t *testing.T) {
	model := snapshotModel(t, 1)
	ckpt, err := FromModel(model, 0)
	if err != nil {
		t.Fatalf("FromModel failed: %v", err)
	}

	// Parameters and buffers: weight, bias, gain, shift, and two stats.
	if len(ckpt.Weights) != 6 {
		t.Fatalf("checkpoint has %d tensors, expected 6", len(ckpt.Weights))
	}
	if ckpt.Metadata.Library != "go-spike" {
		t.Errorf("metadata library %q, expected go-spike", ckpt.Metadata.Library)
	}

	// Later training steps must not bleed into the snapshot.
	before := ckpt.Weights[0].Data[0]
	firstWeightData(t, model)[0] += 100
	if ckpt.Weights[0].Data[0] != before {
		t.Error("mutating the model changed the snapshot")
	}
}

func TestCheckpointSaveLoadRoundTrip(t *testing.T) {
	model := snapshotModel(t, 1)
	ckpt, err := FromModel(model, 7)
	if err != nil {
		t.Fatalf("FromModel failed: %v", err)
	}
	ckpt.Best = &BestEpoch{Epoch: 5, Accuracy: 0.75, ValLoss: 0.5, TrainLoss: 0.4}
	ckpt.Scheduler = &SchedulerState{Name: "CosineAnnealingLR", LastEpoch: 7}
	ckpt.Optimizer = &OptimizerState{
		Type:   "adam",
		Step:   42,
		Groups: []GroupState{{LR: 0.001, BaseLR: 0.001, WeightDecay: 1e-6}},
		State: []OptimizerTensor{
			{Name: "0.weight", Shape: []int{4, 3}, Data: make([]float32, 12), StateType: "m"},
		},
	}

	path := filepath.Join(t.TempDir(), "checkpoint.json")
	if err := ckpt.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.Epoch != 7 {
		t.Errorf("epoch = %d, expected 7", loaded.Epoch)
	}
	if len(loaded.Weights) != len(ckpt.Weights) {
		t.Fatalf("loaded %d tensors, expected %d", len(loaded.Weights), len(ckpt.Weights))
	}
	for i, w := range loaded.Weights {
		orig := ckpt.Weights[i]
		if w.Name != orig.Name || w.Role != orig.Role {
			t.Errorf("tensor %d: name/role %s/%s, expected %s/%s", i, w.Name, w.Role, orig.Name, orig.Role)
		}
		for j := range orig.Data {
			if w.Data[j] != orig.Data[j] {
				t.Fatalf("tensor %s: data[%d] = %f, expected %f", w.Name, j, w.Data[j], orig.Data[j])
			}
		}
	}
	if loaded.Best == nil || loaded.Best.Epoch != 5 || loaded.Best.Accuracy != 0.75 {
		t.Errorf("best record %+v, expected epoch 5 accuracy 0.75", loaded.Best)
	}
	if loaded.Scheduler == nil || loaded.Scheduler.Name != "CosineAnnealingLR" {
		t.Errorf("scheduler state %+v did not survive the round trip", loaded.Scheduler)
	}
	if loaded.Optimizer == nil || loaded.Optimizer.Type != "adam" || loaded.Optimizer.Step != 42 {
		t.Errorf("optimizer state %+v did not survive the round trip", loaded.Optimizer)
	}
}

func TestApplyToModel(t *testing.T) {
	source := snapshotModel(t, 1)
	// Make the source distinctive, including a buffer.
	firstWeightData(t, source)[0] = 123
	snn.ModuleBuffers(source)[0].Tensor.Data.([]float32)[0] = 0.5

	ckpt, err := FromModel(source, 0)
	if err != nil {
		t.Fatalf("FromModel failed: %v", err)
	}

	target := snapshotModel(t, 99)
	if err := ckpt.ApplyToModel(target); err != nil {
		t.Fatalf("ApplyToModel failed: %v", err)
	}

	if got := firstWeightData(t, target)[0]; got != 123 {
		t.Errorf("restored weight = %f, expected 123", got)
	}
	if got := snn.ModuleBuffers(target)[0].Tensor.Data.([]float32)[0]; got != 0.5 {
		t.Errorf("restored buffer = %f, expected 0.5", got)
	}

	// Restores copy in place, so existing references see the new values.
	params := target.Parameters()
	if params[0].Tensor.Data.([]float32)[0] != 123 {
		t.Error("restore did not write through the existing tensor")
	}
}

func TestApplyToModelErrors(t *testing.T) {
	model := snapshotModel(t, 1)
	ckpt, err := FromModel(model, 0)
	if err != nil {
		t.Fatalf("FromModel failed: %v", err)
	}

	// A different architecture cannot absorb the snapshot.
	wide, err := snn.NewLinear(4, 5, rand.New(rand.NewSource(2)))
	if err != nil {
		t.Fatalf("NewLinear failed: %v", err)
	}
	if err := ckpt.ApplyToModel(snn.NewSequential(wide)); err == nil {
		t.Error("Expected error applying to a mismatched architecture")
	}

	// A renamed tensor leaves the model missing one and the checkpoint
	// holding an orphan.
	ckpt.Weights[0].Name = "ghost.weight"
	if err := ckpt.ApplyToModel(model); err == nil {
		t.Error("Expected error for a checkpoint tensor the model does not have")
	}
}

func TestExportONNX(t *testing.T) {
	model := snapshotModel(t, 1)
	path := filepath.Join(t.TempDir(), "model.onnx")

	if err := ExportONNX(path, model, []int{1, 4}); err != nil {
		t.Fatalf("ExportONNX failed: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read export: %v", err)
	}
	if len(raw) == 0 {
		t.Fatal("export is empty")
	}

	// Walk the top-level ModelProto fields and check the essentials: the IR
	// version, the producer name, and the graph payload.
	fields := map[protowire.Number]bool{}
	var producer string
	var irVersion uint64
	b := raw
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			t.Fatalf("invalid protobuf tag at offset %d", len(raw)-len(b))
		}
		b = b[n:]
		fields[num] = true

		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				t.Fatal("invalid varint field")
			}
			if num == modelIrVersion {
				irVersion = v
			}
			b = b[n:]
		case protowire.BytesType:
			payload, n := protowire.ConsumeBytes(b)
			if n < 0 {
				t.Fatal("invalid bytes field")
			}
			if num == modelProducerName {
				producer = string(payload)
			}
			b = b[n:]
		default:
			t.Fatalf("unexpected wire type %v in model header", typ)
		}
	}

	if irVersion != 7 {
		t.Errorf("ir_version = %d, expected 7", irVersion)
	}
	if producer != "go-spike" {
		t.Errorf("producer = %q, expected go-spike", producer)
	}
	if !fields[modelGraph] || !fields[modelOpsetImport] {
		t.Error("export is missing the graph or opset field")
	}
}

func TestExportONNXValidation(t *testing.T) {
	model := snapshotModel(t, 1)
	path := filepath.Join(t.TempDir(), "model.onnx")

	if err := ExportONNX(path, model, nil); err == nil {
		t.Error("Expected error for an empty input shape")
	}
	if err := ExportONNX(path, snn.NewSequential(snn.NewSeqFlatten()), []int{1}); err == nil {
		t.Error("Expected error for a model with no tensors")
	}
}
