package training

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tsawler/go-spike/checkpoints"
	"github.com/tsawler/go-spike/snn"
)

// Files written into the output directory.
const (
	latestCheckpointName = "checkpoint_latest.json"
	bestCheckpointName   = "checkpoint_max.json"
	historyName          = "history.json"
	epochLogName         = "epoch_log.tsv"
)

// TrainerConfig holds configuration for a training run.
type TrainerConfig struct {
	Epochs           int
	LR               float64
	WeightDecay      float64
	ClipNorm         float64 // 0 disables gradient clipping
	OutDir           string
	Resume           bool
	Seed             int64
	DisableScheduler bool
}

// DefaultTrainerConfig returns the reference training settings.
func DefaultTrainerConfig() TrainerConfig {
	return TrainerConfig{
		Epochs:      100,
		LR:          1e-3,
		WeightDecay: 1e-6,
		OutDir:      "out",
	}
}

// History is the JSON training history written next to the checkpoints.
type History struct {
	TrainLosses []float64 `json:"train_losses"`
	TrainAccs   []float64 `json:"train_accuracies"`
	TestLosses  []float64 `json:"test_losses"`
	TestAccs    []float64 `json:"test_accuracies"`
	BestEpoch   int       `json:"best_epoch"`
}

// Trainer manages the training process: the per-epoch train and test
// phases, the delay-layer maintenance hooks, learning rate scheduling,
// checkpointing, and the history and epoch logs.
type Trainer struct {
	model     snn.Module
	optimizer Optimizer
	scheduler LRScheduler
	config    TrainerConfig

	history    History
	best       *checkpoints.BestEpoch
	log        *EpochLog
	startEpoch int
}

// NewTrainer creates a new Trainer. The scheduler may be nil only when the
// config disables scheduling.
func NewTrainer(model snn.Module, optimizer Optimizer, scheduler LRScheduler, config TrainerConfig) (*Trainer, error) {
	if model == nil {
		return nil, fmt.Errorf("model must not be nil")
	}
	if optimizer == nil {
		return nil, fmt.Errorf("optimizer must not be nil")
	}
	if scheduler == nil && !config.DisableScheduler {
		return nil, fmt.Errorf("scheduler must not be nil unless scheduling is disabled")
	}
	if config.Epochs <= 0 {
		return nil, fmt.Errorf("epochs must be positive, got %d", config.Epochs)
	}
	if config.OutDir == "" {
		return nil, fmt.Errorf("output directory must not be empty")
	}

	return &Trainer{
		model:     model,
		optimizer: optimizer,
		scheduler: scheduler,
		config:    config,
	}, nil
}

// Train runs the complete training loop. Each epoch trains over every batch,
// lowers the delay spread once, evaluates on the test loader, saves the
// latest checkpoint, saves the best checkpoint when test accuracy improves
// (or ties with a strictly lower test loss), and appends to the history and
// epoch logs.
func (t *Trainer) Train(trainLoader, testLoader *DataLoader) error {
	if trainLoader == nil || testLoader == nil {
		return fmt.Errorf("train and test loaders must not be nil")
	}

	if err := os.MkdirAll(t.config.OutDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %v", err)
	}

	if t.config.Resume {
		if err := t.resume(); err != nil {
			return fmt.Errorf("failed to resume: %v", err)
		}
	}

	t.log = NewEpochLog()
	if err := t.log.Open(filepath.Join(t.config.OutDir, epochLogName), t.startEpoch > 0); err != nil {
		return err
	}
	defer t.log.Close()

	if t.startEpoch > 0 {
		fmt.Printf("Resuming training at epoch %d of %d (seed %d)\n", t.startEpoch, t.config.Epochs, t.config.Seed)
	} else {
		fmt.Printf("Starting training for %d epochs (seed %d)\n", t.config.Epochs, t.config.Seed)
	}

	for epoch := t.startEpoch; epoch < t.config.Epochs; epoch++ {
		epochStart := time.Now()

		t.applySchedule(epoch)

		trainLoss, trainAcc, err := t.trainEpoch(trainLoader)
		if err != nil {
			return fmt.Errorf("training epoch %d failed: %v", epoch, err)
		}

		if hooks, ok := t.model.(snn.DelayHooks); ok {
			hooks.DecreaseSig(epoch, t.config.Epochs)
		}

		testLoss, testAcc, err := t.testEpoch(testLoader)
		if err != nil {
			return fmt.Errorf("test epoch %d failed: %v", epoch, err)
		}

		improved := t.best == nil || testAcc > t.best.Accuracy ||
			(testAcc == t.best.Accuracy && testLoss < t.best.ValLoss)
		if improved {
			t.best = &checkpoints.BestEpoch{
				Epoch:     epoch,
				Accuracy:  testAcc,
				ValLoss:   testLoss,
				TrainLoss: trainLoss,
			}
			t.history.BestEpoch = epoch
		}

		if err := t.saveCheckpoint(epoch, latestCheckpointName); err != nil {
			return fmt.Errorf("failed to save checkpoint: %v", err)
		}
		if improved {
			if err := t.saveCheckpoint(epoch, bestCheckpointName); err != nil {
				return fmt.Errorf("failed to save best checkpoint: %v", err)
			}
		}

		t.history.TrainLosses = append(t.history.TrainLosses, trainLoss)
		t.history.TrainAccs = append(t.history.TrainAccs, trainAcc)
		t.history.TestLosses = append(t.history.TestLosses, testLoss)
		t.history.TestAccs = append(t.history.TestAccs, testAcc)
		if err := t.saveHistory(); err != nil {
			return fmt.Errorf("failed to save history: %v", err)
		}

		t.log.Append(epoch, trainLoss, trainAcc, testLoss, testAcc, t.currentLR(), t.currentSigma())

		t.printEpochSummary(epoch, trainLoss, trainAcc, testLoss, testAcc, time.Since(epochStart))
	}

	return nil
}

// trainEpoch runs one training epoch and returns the sample-weighted mean
// loss and accuracy.
func (t *Trainer) trainEpoch(loader *DataLoader) (float64, float64, error) {
	t.model.Train()
	loader.Reset()

	params := GroupParams(t.optimizer.Groups())
	hooks, hasHooks := t.model.(snn.DelayHooks)

	var totalLoss float64
	var totalCorrect float64
	var totalSamples int

	for loader.HasNext() {
		batch, err := loader.Next()
		if err != nil {
			return 0, 0, err
		}
		if batch == nil {
			break
		}

		t.optimizer.ZeroGrad()

		output, err := t.model.Forward(batch.Data)
		if err != nil {
			return 0, 0, fmt.Errorf("forward pass failed: %v", err)
		}

		loss, err := CrossEntropyLoss(output, batch.Labels)
		if err != nil {
			return 0, 0, fmt.Errorf("loss computation failed: %v", err)
		}

		if err := loss.Backward(); err != nil {
			return 0, 0, fmt.Errorf("backward pass failed: %v", err)
		}

		if t.config.ClipNorm > 0 {
			if _, err := ClipGradNorm(params, t.config.ClipNorm); err != nil {
				return 0, 0, err
			}
		}
		if err := CheckFiniteGrads(params); err != nil {
			return 0, 0, err
		}

		if err := t.optimizer.Step(); err != nil {
			return 0, 0, fmt.Errorf("optimizer step failed: %v", err)
		}

		// Positions drift during the update; pull them back into the
		// kernel's reach before the next forward pass.
		if hasHooks {
			hooks.ClampParameters()
		}

		lossData, err := loss.GetFloat32Data()
		if err != nil {
			return 0, 0, fmt.Errorf("failed to read loss value: %v", err)
		}
		accuracy, err := Accuracy(output, batch.Labels)
		if err != nil {
			return 0, 0, err
		}

		batchSize := batch.Labels.Shape[0]
		totalLoss += float64(lossData[0]) * float64(batchSize)
		totalCorrect += accuracy * float64(batchSize)
		totalSamples += batchSize
	}

	if totalSamples == 0 {
		return 0, 0, fmt.Errorf("training loader produced no samples")
	}

	return totalLoss / float64(totalSamples), totalCorrect / float64(totalSamples), nil
}

// testEpoch evaluates the model without touching gradients.
func (t *Trainer) testEpoch(loader *DataLoader) (float64, float64, error) {
	t.model.Eval()
	loader.Reset()

	var totalLoss float64
	var totalCorrect float64
	var totalSamples int

	for loader.HasNext() {
		batch, err := loader.Next()
		if err != nil {
			return 0, 0, err
		}
		if batch == nil {
			break
		}

		output, err := t.model.Forward(batch.Data)
		if err != nil {
			return 0, 0, fmt.Errorf("test forward pass failed: %v", err)
		}

		loss, err := CrossEntropyLoss(output, batch.Labels)
		if err != nil {
			return 0, 0, fmt.Errorf("test loss computation failed: %v", err)
		}

		lossData, err := loss.GetFloat32Data()
		if err != nil {
			return 0, 0, fmt.Errorf("failed to read test loss value: %v", err)
		}
		accuracy, err := Accuracy(output, batch.Labels)
		if err != nil {
			return 0, 0, err
		}

		batchSize := batch.Labels.Shape[0]
		totalLoss += float64(lossData[0]) * float64(batchSize)
		totalCorrect += accuracy * float64(batchSize)
		totalSamples += batchSize
	}

	if totalSamples == 0 {
		return 0, 0, fmt.Errorf("test loader produced no samples")
	}

	return totalLoss / float64(totalSamples), totalCorrect / float64(totalSamples), nil
}

// applySchedule moves every group to its scheduled rate for the epoch.
func (t *Trainer) applySchedule(epoch int) {
	if t.scheduler == nil || t.config.DisableScheduler {
		return
	}
	for _, group := range t.optimizer.Groups() {
		group.LR = t.scheduler.LRAt(epoch, group.BaseLR)
	}
}

func (t *Trainer) saveCheckpoint(epoch int, name string) error {
	ckpt, err := checkpoints.FromModel(t.model, epoch)
	if err != nil {
		return err
	}

	optState, err := t.optimizer.StateDict()
	if err != nil {
		return err
	}
	ckpt.Optimizer = optState

	if t.scheduler != nil && !t.config.DisableScheduler {
		ckpt.Scheduler = &checkpoints.SchedulerState{
			Name:      t.scheduler.Name(),
			LastEpoch: epoch,
		}
	}
	ckpt.Best = t.best

	return ckpt.Save(filepath.Join(t.config.OutDir, name))
}

// resume restores the model, optimizer, best record, and history from the
// latest checkpoint in the output directory.
func (t *Trainer) resume() error {
	ckpt, err := checkpoints.Load(filepath.Join(t.config.OutDir, latestCheckpointName))
	if err != nil {
		return err
	}

	if err := ckpt.ApplyToModel(t.model); err != nil {
		return err
	}
	if ckpt.Optimizer != nil {
		if err := t.optimizer.LoadStateDict(ckpt.Optimizer); err != nil {
			return err
		}
	}
	if ckpt.Scheduler != nil && t.scheduler != nil && !t.config.DisableScheduler {
		if ckpt.Scheduler.Name != t.scheduler.Name() {
			return fmt.Errorf("checkpoint was trained with scheduler %q, run uses %q", ckpt.Scheduler.Name, t.scheduler.Name())
		}
	}

	t.best = ckpt.Best
	t.startEpoch = ckpt.Epoch + 1

	return t.loadHistory()
}

func (t *Trainer) saveHistory() error {
	file, err := os.Create(filepath.Join(t.config.OutDir, historyName))
	if err != nil {
		return fmt.Errorf("failed to create history file: %v", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")

	if err := encoder.Encode(&t.history); err != nil {
		return fmt.Errorf("failed to encode history: %v", err)
	}

	return nil
}

func (t *Trainer) loadHistory() error {
	file, err := os.Open(filepath.Join(t.config.OutDir, historyName))
	if err != nil {
		return fmt.Errorf("failed to open history file: %v", err)
	}
	defer file.Close()

	if err := json.NewDecoder(file).Decode(&t.history); err != nil {
		return fmt.Errorf("failed to decode history: %v", err)
	}

	return nil
}

// Best returns the best test epoch seen so far, or nil before the first
// completed epoch.
func (t *Trainer) Best() *checkpoints.BestEpoch {
	return t.best
}

// History returns the accumulated training history.
func (t *Trainer) History() History {
	return t.history
}

func (t *Trainer) currentLR() float64 {
	groups := t.optimizer.Groups()
	if len(groups) == 0 {
		return 0
	}
	return groups[0].LR
}

func (t *Trainer) currentSigma() float64 {
	if reporter, ok := t.model.(snn.SigmaReporter); ok {
		return float64(reporter.CurrentSigma())
	}
	return 0
}

// printEpochSummary prints a summary of the epoch results.
func (t *Trainer) printEpochSummary(epoch int, trainLoss, trainAcc, testLoss, testAcc float64, duration time.Duration) {
	fmt.Printf("Epoch %d/%d: ", epoch+1, t.config.Epochs)
	fmt.Printf("Train Loss=%.4f, Train Acc=%.2f%%", trainLoss, trainAcc*100)
	fmt.Printf(", Test Loss=%.4f, Test Acc=%.2f%%", testLoss, testAcc*100)
	fmt.Printf(", LR=%.6f, Sigma=%.4f, Time=%v\n", t.currentLR(), t.currentSigma(), duration)
}
