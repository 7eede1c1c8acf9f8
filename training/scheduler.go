package training

import (
	"math"
)

// LRScheduler computes the learning rate for an epoch from a group's base
// rate. Schedulers are pure functions of the epoch, so resuming a run only
// needs the epoch counter.
type LRScheduler interface {
	LRAt(epoch int, baseLR float64) float64

	// Name returns the scheduler name for logging and checkpoints
	Name() string
}

// StepLR decays the learning rate by a multiplicative factor every Size
// epochs.
type StepLR struct {
	Size  int     // Epochs between LR reductions
	Gamma float64 // Multiplicative factor of LR decay
}

// NewStepLR creates a step learning rate scheduler.
func NewStepLR(size int, gamma float64) *StepLR {
	if size <= 0 {
		size = 30 // Default: reduce every 30 epochs
	}
	if gamma <= 0 || gamma >= 1 {
		gamma = 0.1 // Default: reduce by 10x
	}
	return &StepLR{
		Size:  size,
		Gamma: gamma,
	}
}

func (s *StepLR) LRAt(epoch int, baseLR float64) float64 {
	times := epoch / s.Size
	return baseLR * math.Pow(s.Gamma, float64(times))
}

func (s *StepLR) Name() string {
	return "StepLR"
}

// CosineAnnealingLR anneals the learning rate along a half cosine from the
// base rate down to EtaMin over TMax epochs.
type CosineAnnealingLR struct {
	TMax   int     // Maximum number of epochs
	EtaMin float64 // Minimum learning rate
}

// NewCosineAnnealingLR creates a cosine annealing scheduler over tMax epochs.
func NewCosineAnnealingLR(tMax int, etaMin float64) *CosineAnnealingLR {
	if tMax <= 0 {
		tMax = 100
	}
	if etaMin < 0 {
		etaMin = 0
	}
	return &CosineAnnealingLR{
		TMax:   tMax,
		EtaMin: etaMin,
	}
}

func (s *CosineAnnealingLR) LRAt(epoch int, baseLR float64) float64 {
	if epoch >= s.TMax {
		return s.EtaMin
	}

	return s.EtaMin + (baseLR-s.EtaMin)*(1+math.Cos(math.Pi*float64(epoch)/float64(s.TMax)))/2
}

func (s *CosineAnnealingLR) Name() string {
	return "CosineAnnealingLR"
}

// ConstantLR keeps the base learning rate for every epoch.
type ConstantLR struct{}

func (s *ConstantLR) LRAt(epoch int, baseLR float64) float64 {
	return baseLR
}

func (s *ConstantLR) Name() string {
	return "ConstantLR"
}
