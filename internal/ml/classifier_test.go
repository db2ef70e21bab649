package ml

import (
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// separable returns a linearly separable dataset: positives have high
// amount/risk and both flags set.
func separable(n int) ([][]float64, []int) {
	X := make([][]float64, 0, n)
	y := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if i%2 == 0 {
			X = append(X, []float64{9000 + float64(10*i), 85 + float64(i%10), 1, 1})
			y = append(y, 1)
		} else {
			X = append(X, []float64{100 + float64(10*i), 5 + float64(i%10), 0, 0})
			y = append(y, 0)
		}
	}
	return X, y
}

func TestClassifiersSeparateClasses(t *testing.T) {
	X, y := separable(60)
	positive := []float64{9500, 92, 1, 1}
	negative := []float64{150, 8, 0, 0}

	for _, algo := range []string{
		domain.AlgoLogisticRegression,
		domain.AlgoRandomForest,
		domain.AlgoGradientBoost,
	} {
		t.Run(algo, func(t *testing.T) {
			clf, err := New(algo)
			if err != nil {
				t.Fatal(err)
			}
			if err := clf.Fit(X, y); err != nil {
				t.Fatalf("fit failed: %v", err)
			}

			pPos, err := clf.PredictProba(positive)
			if err != nil {
				t.Fatal(err)
			}
			pNeg, err := clf.PredictProba(negative)
			if err != nil {
				t.Fatal(err)
			}
			if pPos <= 0.5 {
				t.Errorf("positive sample scored %v, want > 0.5", pPos)
			}
			if pNeg >= 0.5 {
				t.Errorf("negative sample scored %v, want < 0.5", pNeg)
			}
		})
	}
}

func TestPredictBeforeFit(t *testing.T) {
	for _, algo := range []string{
		domain.AlgoLogisticRegression,
		domain.AlgoRandomForest,
		domain.AlgoGradientBoost,
	} {
		clf, err := New(algo)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := clf.PredictProba([]float64{1, 2, 3, 4}); err == nil {
			t.Errorf("%s: expected error predicting before fit", algo)
		}
	}
}

func TestUnknownAlgorithm(t *testing.T) {
	if _, err := New("svm"); err == nil {
		t.Fatal("expected error for unknown algorithm")
	}
}

func TestArtifactRoundTrip(t *testing.T) {
	X, y := separable(40)

	for _, algo := range []string{
		domain.AlgoLogisticRegression,
		domain.AlgoRandomForest,
		domain.AlgoGradientBoost,
	} {
		t.Run(algo, func(t *testing.T) {
			clf, err := New(algo)
			if err != nil {
				t.Fatal(err)
			}
			if err := clf.Fit(X, y); err != nil {
				t.Fatal(err)
			}

			data, err := Marshal(clf, time.Now())
			if err != nil {
				t.Fatalf("marshal failed: %v", err)
			}
			restored, err := Unmarshal(data)
			if err != nil {
				t.Fatalf("unmarshal failed: %v", err)
			}
			if restored.Algorithm() != algo {
				t.Errorf("restored algorithm = %q, want %q", restored.Algorithm(), algo)
			}

			// Restored model predicts identically without retraining.
			for _, x := range [][]float64{{9500, 92, 1, 1}, {150, 8, 0, 0}} {
				want, err := clf.PredictProba(x)
				if err != nil {
					t.Fatal(err)
				}
				got, err := restored.PredictProba(x)
				if err != nil {
					t.Fatalf("restored model cannot predict: %v", err)
				}
				if got != want {
					t.Errorf("restored prediction %v != original %v", got, want)
				}
			}
		})
	}
}

func TestCaseFeaturesNullFill(t *testing.T) {
	c := &domain.Case{RawFields: map[string]string{
		domain.FieldAmount:    "",
		domain.FieldRiskScore: "not-a-number",
	}}

	got := CaseFeatures(c)
	want := []float64{0, 0, 0, 0}
	if len(got) != len(want) {
		t.Fatalf("feature vector length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("feature[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestCaseFeaturesOrdering(t *testing.T) {
	c := &domain.Case{
		RawFields: map[string]string{
			domain.FieldAmount:    "9000",
			domain.FieldRiskScore: "90",
		},
		Verification: &domain.VerificationResult{PEPFlag: true, SanctionsHit: false},
	}

	got := CaseFeatures(c)
	want := []float64{9000, 90, 1, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("feature[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestForestDeterministicWithFixedSeed(t *testing.T) {
	X, y := separable(30)

	a := NewRandomForest()
	b := NewRandomForest()
	if err := a.Fit(X, y); err != nil {
		t.Fatal(err)
	}
	if err := b.Fit(X, y); err != nil {
		t.Fatal(err)
	}

	x := []float64{5000, 50, 1, 0}
	pa, _ := a.PredictProba(x)
	pb, _ := b.PredictProba(x)
	if pa != pb {
		t.Errorf("forest not reproducible with fixed seed: %v != %v", pa, pb)
	}
}
