package training

import (
	"math"
	"testing"
)

func TestStepLR(t *testing.T) {
	scheduler := NewStepLR(2, 0.1)
	baseLR := 0.1

	tests := []struct {
		epoch      int
		expectedLR float64
	}{
		{0, 0.1},    // Initial
		{1, 0.1},    // No change yet
		{2, 0.01},   // First reduction
		{3, 0.01},   // Same
		{4, 0.001},  // Second reduction
		{5, 0.001},  // Same
		{6, 0.0001}, // Third reduction
	}

	for _, tt := range tests {
		lr := scheduler.LRAt(tt.epoch, baseLR)
		if math.Abs(lr-tt.expectedLR) > 1e-8 {
			t.Errorf("Epoch %d: expected LR %f, got %f", tt.epoch, tt.expectedLR, lr)
		}
	}
}

func TestStepLRDefaults(t *testing.T) {
	scheduler := NewStepLR(0, 5)
	if scheduler.Size != 30 {
		t.Errorf("Expected default step size 30, got %d", scheduler.Size)
	}
	if scheduler.Gamma != 0.1 {
		t.Errorf("Expected default gamma 0.1, got %f", scheduler.Gamma)
	}
}

func TestCosineAnnealingLR(t *testing.T) {
	scheduler := NewCosineAnnealingLR(5, 0.0001)
	baseLR := 0.01

	// Test specific points in the cosine curve
	tests := []struct {
		epoch      int
		expectedLR float64
		tolerance  float64
	}{
		{0, 0.01, 1e-6},     // Initial (max)
		{5, 0.0001, 1e-6},   // Final (min)
		{2, 0.006580, 1e-6}, // Midpoint calculation
	}

	for _, tt := range tests {
		lr := scheduler.LRAt(tt.epoch, baseLR)
		if math.Abs(lr-tt.expectedLR) > tt.tolerance {
			t.Errorf("Epoch %d: expected LR %f, got %f", tt.epoch, tt.expectedLR, lr)
		}
	}

	// Test beyond TMax
	lr := scheduler.LRAt(10, baseLR)
	if lr != 0.0001 {
		t.Errorf("Beyond TMax: expected LR %f, got %f", 0.0001, lr)
	}
}

func TestCosineAnnealingLRMonotonic(t *testing.T) {
	scheduler := NewCosineAnnealingLR(100, 0)

	prev := math.Inf(1)
	for epoch := 0; epoch <= 100; epoch++ {
		lr := scheduler.LRAt(epoch, 0.001)
		if lr > prev {
			t.Errorf("Epoch %d: LR %g increased from %g", epoch, lr, prev)
		}
		prev = lr
	}
}

func TestSchedulerNames(t *testing.T) {
	tests := []struct {
		scheduler LRScheduler
		expected  string
	}{
		{NewStepLR(10, 0.1), "StepLR"},
		{NewCosineAnnealingLR(100, 0.0), "CosineAnnealingLR"},
		{&ConstantLR{}, "ConstantLR"},
	}

	for _, tt := range tests {
		if name := tt.scheduler.Name(); name != tt.expected {
			t.Errorf("Expected name %s, got %s", tt.expected, name)
		}
	}
}
