package training

import (
	"math/rand"
	"testing"

	"github.com/tsawler/go-spike/tensor"
)

// markedClip builds a [2, 1, 2, 2] clip whose every value encodes the sample
// and the timestep as sample*10 + t, so batch interleaving is checkable.
func markedClip(t *testing.T, sample int) *tensor.Tensor {
	t.Helper()
	data := make([]float32, 8)
	for step := 0; step < 2; step++ {
		for k := 0; k < 4; k++ {
			data[step*4+k] = float32(sample*10 + step)
		}
	}
	clip, err := tensor.NewTensor([]int{2, 1, 2, 2}, tensor.Float32, data)
	if err != nil {
		t.Fatalf("Failed to create clip: %v", err)
	}
	return clip
}

func markedDataset(t *testing.T, n int) *SimpleDataset {
	t.Helper()
	clips := make([]*tensor.Tensor, n)
	labels := make([]*tensor.Tensor, n)
	for i := 0; i < n; i++ {
		clips[i] = markedClip(t, i)
		labels[i] = labelsOf(t, []int32{int32(i)})
	}
	ds, err := NewSimpleDataset(clips, labels)
	if err != nil {
		t.Fatalf("NewSimpleDataset failed: %v", err)
	}
	return ds
}

func TestSimpleDataset(t *testing.T) {
	ds := markedDataset(t, 3)
	if ds.Len() != 3 {
		t.Errorf("Len = %d, expected 3", ds.Len())
	}

	if _, _, err := ds.Get(3); err == nil {
		t.Error("Expected error for index out of range")
	}
	if _, _, err := ds.Get(-1); err == nil {
		t.Error("Expected error for negative index")
	}

	clip := markedClip(t, 0)
	if _, err := NewSimpleDataset([]*tensor.Tensor{clip}, nil); err == nil {
		t.Error("Expected error for mismatched clip and label counts")
	}
}

func TestDataLoaderValidation(t *testing.T) {
	ds := markedDataset(t, 2)

	if _, err := NewDataLoader(nil, 2, false, nil); err == nil {
		t.Error("Expected error for nil dataset")
	}
	if _, err := NewDataLoader(ds, 0, false, nil); err == nil {
		t.Error("Expected error for zero batch size")
	}
	if _, err := NewDataLoader(ds, 2, true, nil); err == nil {
		t.Error("Expected error for shuffling without a random source")
	}
}

func TestDataLoaderBatchLayout(t *testing.T) {
	ds := markedDataset(t, 3)
	dl, err := NewDataLoader(ds, 3, false, nil)
	if err != nil {
		t.Fatalf("NewDataLoader failed: %v", err)
	}

	batch, err := dl.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}

	want := []int{2, 3, 1, 2, 2}
	for i, s := range batch.Data.Shape {
		if s != want[i] {
			t.Fatalf("batch shape %v, expected %v", batch.Data.Shape, want)
		}
	}

	// Row t*B+i of the flattened batch holds timestep t of sample i.
	data := batch.Data.Data.([]float32)
	for step := 0; step < 2; step++ {
		for i := 0; i < 3; i++ {
			row := step*3 + i
			expect := float32(i*10 + step)
			for k := 0; k < 4; k++ {
				if got := data[row*4+k]; got != expect {
					t.Fatalf("batch[row %d][%d] = %f, expected %f", row, k, got, expect)
				}
			}
		}
	}

	labels := batch.Labels.Data.([]int32)
	for i, l := range labels {
		if l != int32(i) {
			t.Errorf("label[%d] = %d, expected %d", i, l, i)
		}
	}
}

func TestDataLoaderEpochAndReset(t *testing.T) {
	ds := markedDataset(t, 5)
	dl, err := NewDataLoader(ds, 2, false, nil)
	if err != nil {
		t.Fatalf("NewDataLoader failed: %v", err)
	}

	if dl.NumBatches() != 3 {
		t.Errorf("NumBatches = %d, expected 3", dl.NumBatches())
	}

	sizes := []int{}
	for dl.HasNext() {
		batch, err := dl.Next()
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		sizes = append(sizes, batch.Data.Shape[1])
	}
	wantSizes := []int{2, 2, 1}
	if len(sizes) != 3 {
		t.Fatalf("got %d batches, expected 3", len(sizes))
	}
	for i := range wantSizes {
		if sizes[i] != wantSizes[i] {
			t.Errorf("batch %d size %d, expected %d", i, sizes[i], wantSizes[i])
		}
	}

	// Past the end Next signals the epoch boundary without error.
	batch, err := dl.Next()
	if err != nil || batch != nil {
		t.Fatalf("expected (nil, nil) at the end of the epoch, got %v, %v", batch, err)
	}

	dl.Reset()
	if !dl.HasNext() {
		t.Fatal("Reset did not rewind the loader")
	}
	first, err := dl.Next()
	if err != nil {
		t.Fatalf("Next failed after reset: %v", err)
	}
	if l := first.Labels.Data.([]int32)[0]; l != 0 {
		t.Errorf("unshuffled loader restarted at label %d, expected 0", l)
	}
}

func TestDataLoaderShuffleDeterminism(t *testing.T) {
	order := func(seed int64) []int32 {
		ds := markedDataset(t, 8)
		dl, err := NewDataLoader(ds, 1, true, rand.New(rand.NewSource(seed)))
		if err != nil {
			t.Fatalf("NewDataLoader failed: %v", err)
		}
		dl.Reset()
		var got []int32
		for dl.HasNext() {
			batch, err := dl.Next()
			if err != nil {
				t.Fatalf("Next failed: %v", err)
			}
			got = append(got, batch.Labels.Data.([]int32)[0])
		}
		return got
	}

	a := order(99)
	b := order(99)
	if len(a) != 8 || len(b) != 8 {
		t.Fatalf("epoch lengths %d and %d, expected 8", len(a), len(b))
	}

	seen := map[int32]bool{}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("same seed produced different orders: %v vs %v", a, b)
		}
		seen[a[i]] = true
	}
	if len(seen) != 8 {
		t.Errorf("shuffled epoch is not a permutation: %v", a)
	}
}

func TestDataLoaderRejectsBadClips(t *testing.T) {
	flat, err := tensor.NewTensor([]int{2, 4}, tensor.Float32, make([]float32, 8))
	if err != nil {
		t.Fatalf("Failed to create tensor: %v", err)
	}
	ds, err := NewSimpleDataset([]*tensor.Tensor{flat}, []*tensor.Tensor{labelsOf(t, []int32{0})})
	if err != nil {
		t.Fatalf("NewSimpleDataset failed: %v", err)
	}
	dl, err := NewDataLoader(ds, 1, false, nil)
	if err != nil {
		t.Fatalf("NewDataLoader failed: %v", err)
	}
	if _, err := dl.Next(); err == nil {
		t.Error("Expected error for a clip that is not 4D")
	}

	// A second sample with a different spatial shape cannot be stacked.
	big, err := tensor.NewTensor([]int{2, 1, 3, 3}, tensor.Float32, make([]float32, 18))
	if err != nil {
		t.Fatalf("Failed to create tensor: %v", err)
	}
	mixed, err := NewSimpleDataset(
		[]*tensor.Tensor{markedClip(t, 0), big},
		[]*tensor.Tensor{labelsOf(t, []int32{0}), labelsOf(t, []int32{1})},
	)
	if err != nil {
		t.Fatalf("NewSimpleDataset failed: %v", err)
	}
	dl, err = NewDataLoader(mixed, 2, false, nil)
	if err != nil {
		t.Fatalf("NewDataLoader failed: %v", err)
	}
	if _, err := dl.Next(); err == nil {
		t.Error("Expected error for mismatched clip shapes in one batch")
	}
}
