// Command lipread-train trains a spiking lip-reading network on event clips,
// either synthetic mouth movements or a frame-folder dataset.
package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/tsawler/go-spike/events"
	"github.com/tsawler/go-spike/snn"
	"github.com/tsawler/go-spike/spike"
	"github.com/tsawler/go-spike/training"
)

func main() {
	modelName := flag.String("model", "resnet18", "model architecture: resnet18, snn1, or snn2")
	steps := flag.Int("T", 30, "time steps per clip")
	batchSize := flag.Int("batch", 32, "batch size")
	epochs := flag.Int("epochs", 100, "number of training epochs")
	lr := flag.Float64("lr", 1e-3, "base learning rate")
	weightDecay := flag.Float64("wd", 1e-6, "weight decay for the default parameter group")
	optName := flag.String("opt", "adam", "optimizer: adam or sgd")
	schedName := flag.String("sched", "cosine", "learning rate schedule: cosine, step, or none")
	classes := flag.Int("classes", 10, "number of classes when generating synthetic clips")
	dataRoot := flag.String("data", "", "frame-folder dataset root; synthetic clips when empty")
	outDir := flag.String("out", "out", "output directory for checkpoints and logs")
	resume := flag.Bool("resume", false, "resume from the latest checkpoint in the output directory")
	seed := flag.Int64("seed", 42, "random seed")
	useSE := flag.Bool("se", false, "squeeze-excitation gating in the residual blocks")
	clipNorm := flag.Float64("clip", 0, "max gradient norm; 0 disables clipping")
	frameSize := flag.Int("size", 96, "frame size before cropping")
	cropSize := flag.Int("crop", 88, "crop size fed to the model")
	flag.Parse()

	rng := rand.New(rand.NewSource(*seed))

	trainSet, testSet, numClasses, err := buildDatasets(*dataRoot, *classes, *steps, *frameSize, *cropSize, *seed, rng)
	if err != nil {
		log.Fatalf("failed to build datasets: %v", err)
	}

	model, err := buildModel(*modelName, numClasses, *cropSize, *useSE, rng)
	if err != nil {
		log.Fatalf("failed to build model: %v", err)
	}

	groups := training.BuildParamGroups(model, *lr, *weightDecay)

	optimizer, err := buildOptimizer(*optName, groups)
	if err != nil {
		log.Fatalf("failed to build optimizer: %v", err)
	}
	scheduler, disableScheduler, err := buildScheduler(*schedName, *epochs)
	if err != nil {
		log.Fatalf("failed to build scheduler: %v", err)
	}

	trainLoader, err := training.NewDataLoader(trainSet, *batchSize, true, rng)
	if err != nil {
		log.Fatalf("failed to build train loader: %v", err)
	}
	testLoader, err := training.NewDataLoader(testSet, *batchSize, false, nil)
	if err != nil {
		log.Fatalf("failed to build test loader: %v", err)
	}

	fmt.Printf("Model: %s, classes: %d, T=%d, batch=%d, epochs=%d\n",
		*modelName, numClasses, *steps, *batchSize, *epochs)
	fmt.Printf("Optimizer: %s (lr=%g, wd=%g), schedule: %s\n",
		optimizer.Name(), *lr, *weightDecay, *schedName)
	fmt.Printf("Train: %d clips, test: %d clips (%dx%d frames cropped to %dx%d)\n",
		trainSet.Len(), testSet.Len(), *frameSize, *frameSize, *cropSize, *cropSize)
	for _, group := range groups {
		fmt.Printf("Parameter group %q: %d tensors, lr=%g, weight decay=%g\n",
			group.Name, len(group.Params), group.LR, group.WeightDecay)
	}

	config := training.TrainerConfig{
		Epochs:           *epochs,
		LR:               *lr,
		WeightDecay:      *weightDecay,
		ClipNorm:         *clipNorm,
		OutDir:           *outDir,
		Resume:           *resume,
		Seed:             *seed,
		DisableScheduler: disableScheduler,
	}

	trainer, err := training.NewTrainer(model, optimizer, scheduler, config)
	if err != nil {
		log.Fatalf("failed to build trainer: %v", err)
	}

	if err := trainer.Train(trainLoader, testLoader); err != nil {
		log.Fatalf("training failed: %v", err)
	}

	if best := trainer.Best(); best != nil {
		fmt.Printf("Best epoch %d: test accuracy %.2f%%, test loss %.4f\n",
			best.Epoch+1, best.Accuracy*100, best.ValLoss)
	}
}

// buildDatasets returns the train and test datasets plus the class count.
// With no root it generates synthetic clips; with a root holding train/ and
// test/ subdirectories it uses them as the split, otherwise it splits the
// scanned clips 80/20.
func buildDatasets(root string, classes, steps, frameSize, cropSize int, seed int64, rng *rand.Rand) (training.Dataset, training.Dataset, int, error) {
	trainCrop := events.RandomCrop(cropSize, cropSize, rng)
	testCrop := events.CenterCrop(cropSize, cropSize)

	if root == "" {
		trainCfg := events.SyntheticConfig{
			Classes:         classes,
			SamplesPerClass: 16,
			T:               steps,
			H:               frameSize,
			W:               frameSize,
			Seed:            seed,
		}
		testCfg := trainCfg
		testCfg.SamplesPerClass = 4
		testCfg.Seed = seed + 1

		trainSet, err := events.NewSyntheticLipDataset(trainCfg)
		if err != nil {
			return nil, nil, 0, err
		}
		testSet, err := events.NewSyntheticLipDataset(testCfg)
		if err != nil {
			return nil, nil, 0, err
		}
		return trainSet.WithTransform(trainCrop), testSet.WithTransform(testCrop), classes, nil
	}

	trainRoot := filepath.Join(root, "train")
	testRoot := filepath.Join(root, "test")
	if isDir(trainRoot) && isDir(testRoot) {
		trainSet, err := events.NewFrameFolderDataset(trainRoot, steps, frameSize)
		if err != nil {
			return nil, nil, 0, err
		}
		testSet, err := events.NewFrameFolderDataset(testRoot, steps, frameSize)
		if err != nil {
			return nil, nil, 0, err
		}
		fmt.Print(trainSet)
		return trainSet.WithTransform(trainCrop), testSet.WithTransform(testCrop), trainSet.NumClasses(), nil
	}

	dataset, err := events.NewFrameFolderDataset(root, steps, frameSize)
	if err != nil {
		return nil, nil, 0, err
	}
	fmt.Print(dataset)
	trainSet, testSet := dataset.Split(0.8, rng)
	return trainSet.WithTransform(trainCrop), testSet.WithTransform(testCrop), dataset.NumClasses(), nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func buildModel(name string, numClasses, inputSize int, useSE bool, rng *rand.Rand) (snn.Module, error) {
	neuron, err := snn.NewPLIFFactory(2, spike.DefaultLIFConfig())
	if err != nil {
		return nil, err
	}

	switch name {
	case "resnet18":
		return snn.NewResNet18(snn.ResNetConfig{
			NumClasses: numClasses,
			SE:         useSE,
			Neuron:     neuron,
			Rng:        rng,
		})
	case "snn1":
		return snn.NewSNN1(snn.SNNConfig{
			InputSize:  inputSize,
			NumClasses: numClasses,
			Neuron:     neuron,
			Rng:        rng,
		})
	case "snn2":
		return snn.NewSNN2(snn.SNNConfig{
			InputSize:  inputSize,
			NumClasses: numClasses,
			Neuron:     neuron,
			Rng:        rng,
		})
	default:
		return nil, fmt.Errorf("unknown model %q (want resnet18, snn1, or snn2)", name)
	}
}

func buildOptimizer(name string, groups []*training.ParamGroup) (training.Optimizer, error) {
	switch name {
	case "adam":
		return training.NewAdam(groups, training.DefaultAdamConfig())
	case "sgd":
		return training.NewSGD(groups, training.DefaultSGDConfig())
	default:
		return nil, fmt.Errorf("unknown optimizer %q (want adam or sgd)", name)
	}
}

func buildScheduler(name string, epochs int) (training.LRScheduler, bool, error) {
	switch name {
	case "cosine":
		return training.NewCosineAnnealingLR(epochs, 0), false, nil
	case "step":
		return training.NewStepLR(epochs/3, 0.1), false, nil
	case "none":
		return nil, true, nil
	default:
		return nil, false, fmt.Errorf("unknown schedule %q (want cosine, step, or none)", name)
	}
}
