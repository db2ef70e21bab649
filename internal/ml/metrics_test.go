package ml

import (
	"math"
	"testing"
)

func TestEvaluatePerfectPredictions(t *testing.T) {
	actual := []int{1, 0, 1, 0}
	scores := []float64{0.9, 0.1, 0.8, 0.2}

	m := Evaluate(actual, scores)
	if m.Accuracy != 1.0 || m.Precision != 1.0 || m.Recall != 1.0 || m.F1 != 1.0 {
		t.Errorf("perfect predictions scored %+v", m)
	}
	if m.ROCAUC == nil || *m.ROCAUC != 1.0 {
		t.Errorf("ROC-AUC = %v, want 1.0", m.ROCAUC)
	}
}

func TestEvaluateZeroSafe(t *testing.T) {
	// Model never predicts positive: precision is 0, not an error.
	actual := []int{1, 1, 0, 0}
	scores := []float64{0.1, 0.2, 0.1, 0.2}

	m := Evaluate(actual, scores)
	if m.Precision != 0 {
		t.Errorf("precision = %v, want 0", m.Precision)
	}
	if m.Recall != 0 {
		t.Errorf("recall = %v, want 0", m.Recall)
	}
	if m.F1 != 0 {
		t.Errorf("f1 = %v, want 0", m.F1)
	}
	if m.Accuracy != 0.5 {
		t.Errorf("accuracy = %v, want 0.5", m.Accuracy)
	}
}

func TestROCAUCSingleClassUndefined(t *testing.T) {
	if _, ok := ROCAUC([]int{1, 1, 1}, []float64{0.1, 0.5, 0.9}); ok {
		t.Error("AUC defined for single-class labels")
	}

	m := Evaluate([]int{0, 0}, []float64{0.4, 0.6})
	if m.ROCAUC != nil {
		t.Errorf("ROC-AUC = %v, want nil for single-class test set", *m.ROCAUC)
	}
}

func TestROCAUCRandomScoresNearHalf(t *testing.T) {
	// All scores tied: AUC is exactly 0.5 by the rank-sum definition.
	auc, ok := ROCAUC([]int{1, 0, 1, 0}, []float64{0.5, 0.5, 0.5, 0.5})
	if !ok {
		t.Fatal("AUC should be defined")
	}
	if auc != 0.5 {
		t.Errorf("tied-score AUC = %v, want 0.5", auc)
	}
}

func TestROCAUCPartialOverlap(t *testing.T) {
	// One inversion among 2x2 pairs: AUC = 3/4.
	auc, ok := ROCAUC([]int{0, 1, 0, 1}, []float64{0.1, 0.4, 0.6, 0.9})
	if !ok {
		t.Fatal("AUC should be defined")
	}
	if math.Abs(auc-0.75) > 1e-9 {
		t.Errorf("AUC = %v, want 0.75", auc)
	}
}

func TestStratifiedSplitPreservesRatio(t *testing.T) {
	y := make([]int, 100)
	for i := 30; i < 100; i++ {
		y[i] = 1 // 30 negatives, 70 positives
	}

	train, test := StratifiedSplit(y, 0.3, 42)
	if len(train)+len(test) != 100 {
		t.Fatalf("split lost rows: %d + %d", len(train), len(test))
	}

	var testPos int
	for _, i := range test {
		testPos += y[i]
	}
	// 30% of 70 positives and 30% of 30 negatives.
	if testPos != 21 {
		t.Errorf("test positives = %d, want 21", testPos)
	}
	if len(test)-testPos != 9 {
		t.Errorf("test negatives = %d, want 9", len(test)-testPos)
	}
}

func TestStratifiedSplitReproducible(t *testing.T) {
	y := make([]int, 50)
	for i := 0; i < 25; i++ {
		y[i] = 1
	}

	train1, test1 := StratifiedSplit(y, 0.3, 42)
	train2, test2 := StratifiedSplit(y, 0.3, 42)

	if len(train1) != len(train2) || len(test1) != len(test2) {
		t.Fatal("split sizes differ across runs")
	}
	for i := range test1 {
		if test1[i] != test2[i] {
			t.Fatalf("test indices differ at %d: %d != %d", i, test1[i], test2[i])
		}
	}
	for i := range train1 {
		if train1[i] != train2[i] {
			t.Fatalf("train indices differ at %d", i)
		}
	}
}
