package training

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/tsawler/go-spike/snn"
	"github.com/tsawler/go-spike/tensor"
)

// tinyModel is a flatten-plus-linear head over [T, B, 1, 2, 2] clips, small
// enough to train for real inside a test.
func tinyModel(t *testing.T, seed int64) snn.Module {
	t.Helper()
	linear, err := snn.NewLinear(4, 2, rand.New(rand.NewSource(seed)))
	if err != nil {
		t.Fatalf("NewLinear failed: %v", err)
	}
	return snn.NewSequential(snn.NewSeqFlatten(), linear)
}

func tinyLoader(t *testing.T) *DataLoader {
	t.Helper()
	rng := rand.New(rand.NewSource(5))
	clips := make([]*tensor.Tensor, 4)
	labels := make([]*tensor.Tensor, 4)
	for i := range clips {
		data := make([]float32, 8)
		for j := range data {
			data[j] = rng.Float32()
		}
		clip, err := tensor.NewTensor([]int{2, 1, 2, 2}, tensor.Float32, data)
		if err != nil {
			t.Fatalf("Failed to create clip: %v", err)
		}
		clips[i] = clip
		labels[i] = labelsOf(t, []int32{int32(i % 2)})
	}
	ds, err := NewSimpleDataset(clips, labels)
	if err != nil {
		t.Fatalf("NewSimpleDataset failed: %v", err)
	}
	dl, err := NewDataLoader(ds, 2, false, nil)
	if err != nil {
		t.Fatalf("NewDataLoader failed: %v", err)
	}
	return dl
}

func tinyTrainer(t *testing.T, model snn.Module, config TrainerConfig, scheduler LRScheduler) *Trainer {
	t.Helper()
	groups := BuildParamGroups(model, config.LR, config.WeightDecay)
	opt, err := NewAdam(groups, DefaultAdamConfig())
	if err != nil {
		t.Fatalf("NewAdam failed: %v", err)
	}
	trainer, err := NewTrainer(model, opt, scheduler, config)
	if err != nil {
		t.Fatalf("NewTrainer failed: %v", err)
	}
	return trainer
}

func TestTrainerRunsAndCheckpoints(t *testing.T) {
	outDir := t.TempDir()
	config := TrainerConfig{
		Epochs:   2,
		LR:       0.01,
		ClipNorm: 1,
		OutDir:   outDir,
	}
	trainer := tinyTrainer(t, tinyModel(t, 1), config, &ConstantLR{})

	if err := trainer.Train(tinyLoader(t), tinyLoader(t)); err != nil {
		t.Fatalf("Train failed: %v", err)
	}

	for _, name := range []string{latestCheckpointName, bestCheckpointName, historyName, epochLogName} {
		if _, err := os.Stat(filepath.Join(outDir, name)); err != nil {
			t.Errorf("expected %s in the output directory: %v", name, err)
		}
	}

	history := trainer.History()
	if len(history.TrainLosses) != 2 || len(history.TestAccs) != 2 {
		t.Errorf("history has %d train losses and %d test accuracies, expected 2 each",
			len(history.TrainLosses), len(history.TestAccs))
	}
	if trainer.Best() == nil {
		t.Error("Best must be recorded after the first epoch")
	}
}

func TestTrainerResume(t *testing.T) {
	outDir := t.TempDir()
	config := TrainerConfig{
		Epochs: 2,
		LR:     0.01,
		OutDir: outDir,
	}
	first := tinyTrainer(t, tinyModel(t, 1), config, &ConstantLR{})
	if err := first.Train(tinyLoader(t), tinyLoader(t)); err != nil {
		t.Fatalf("Train failed: %v", err)
	}

	// A fresh run over the same directory picks up where the first stopped
	// and extends the history rather than restarting it.
	config.Epochs = 3
	config.Resume = true
	second := tinyTrainer(t, tinyModel(t, 2), config, &ConstantLR{})
	if err := second.Train(tinyLoader(t), tinyLoader(t)); err != nil {
		t.Fatalf("Resumed train failed: %v", err)
	}

	history := second.History()
	if len(history.TrainLosses) != 3 {
		t.Errorf("resumed history has %d train losses, expected 3", len(history.TrainLosses))
	}
	if second.Best() == nil {
		t.Error("resume must restore the best epoch record")
	}
}

func TestTrainerResumeSchedulerMismatch(t *testing.T) {
	outDir := t.TempDir()
	config := TrainerConfig{
		Epochs: 1,
		LR:     0.01,
		OutDir: outDir,
	}
	first := tinyTrainer(t, tinyModel(t, 1), config, &ConstantLR{})
	if err := first.Train(tinyLoader(t), tinyLoader(t)); err != nil {
		t.Fatalf("Train failed: %v", err)
	}

	config.Epochs = 2
	config.Resume = true
	second := tinyTrainer(t, tinyModel(t, 2), config, NewStepLR(10, 0.1))
	if err := second.Train(tinyLoader(t), tinyLoader(t)); err == nil {
		t.Error("Expected error resuming with a different scheduler")
	}
}

func TestNewTrainerValidation(t *testing.T) {
	model := tinyModel(t, 1)
	groups := BuildParamGroups(model, 0.01, 0)
	opt, err := NewAdam(groups, DefaultAdamConfig())
	if err != nil {
		t.Fatalf("NewAdam failed: %v", err)
	}
	valid := TrainerConfig{Epochs: 1, OutDir: t.TempDir()}

	if _, err := NewTrainer(nil, opt, &ConstantLR{}, valid); err == nil {
		t.Error("Expected error for nil model")
	}
	if _, err := NewTrainer(model, nil, &ConstantLR{}, valid); err == nil {
		t.Error("Expected error for nil optimizer")
	}
	if _, err := NewTrainer(model, opt, nil, valid); err == nil {
		t.Error("Expected error for nil scheduler without disabling scheduling")
	}

	noSched := valid
	noSched.DisableScheduler = true
	if _, err := NewTrainer(model, opt, nil, noSched); err != nil {
		t.Errorf("disabled scheduling must accept a nil scheduler: %v", err)
	}

	bad := valid
	bad.Epochs = 0
	if _, err := NewTrainer(model, opt, &ConstantLR{}, bad); err == nil {
		t.Error("Expected error for zero epochs")
	}
	bad = valid
	bad.OutDir = ""
	if _, err := NewTrainer(model, opt, &ConstantLR{}, bad); err == nil {
		t.Error("Expected error for empty output directory")
	}
}
