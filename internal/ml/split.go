package ml

import (
	"math"
	"math/rand"
)

// StratifiedSplit partitions sample indices into train and test sets,
// preserving the class ratio. Shuffling within each class uses the given
// seed so splits are reproducible.
func StratifiedSplit(y []int, testFraction float64, seed int64) (train, test []int) {
	rng := rand.New(rand.NewSource(seed))

	byClass := map[int][]int{}
	for i, label := range y {
		byClass[label] = append(byClass[label], i)
	}

	// Fixed class order keeps the rng stream stable across runs.
	for _, label := range []int{0, 1} {
		idx := byClass[label]
		if len(idx) == 0 {
			continue
		}
		rng.Shuffle(len(idx), func(a, b int) {
			idx[a], idx[b] = idx[b], idx[a]
		})

		nTest := int(math.Round(float64(len(idx)) * testFraction))
		if nTest >= len(idx) {
			nTest = len(idx) - 1
		}
		test = append(test, idx[:nTest]...)
		train = append(train, idx[nTest:]...)
	}
	return train, test
}

// Subset selects rows of X by index.
func Subset(X [][]float64, idx []int) [][]float64 {
	out := make([][]float64, len(idx))
	for i, j := range idx {
		out[i] = X[j]
	}
	return out
}

// SubsetLabels selects labels by index.
func SubsetLabels(y []int, idx []int) []int {
	out := make([]int, len(idx))
	for i, j := range idx {
		out[i] = y[j]
	}
	return out
}
