package ml

import (
	"sort"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Evaluate computes zero-safe classification metrics at a 0.5 probability
// cutoff. Precision, recall and F1 are defined as 0 (never an error) when a
// class is absent from the predictions; ROC-AUC is nil when undefined.
func Evaluate(actual []int, scores []float64) domain.ModelMetrics {
	var tp, fp, tn, fn float64
	for i, a := range actual {
		predicted := scores[i] >= 0.5
		switch {
		case predicted && a == 1:
			tp++
		case predicted && a == 0:
			fp++
		case !predicted && a == 0:
			tn++
		default:
			fn++
		}
	}

	n := float64(len(actual))
	m := domain.ModelMetrics{}
	if n > 0 {
		m.Accuracy = (tp + tn) / n
	}
	if tp+fp > 0 {
		m.Precision = tp / (tp + fp)
	}
	if tp+fn > 0 {
		m.Recall = tp / (tp + fn)
	}
	if m.Precision+m.Recall > 0 {
		m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
	}
	if auc, ok := ROCAUC(actual, scores); ok {
		m.ROCAUC = &auc
	}
	return m
}

// ROCAUC computes the area under the ROC curve via the rank-sum statistic,
// averaging ranks over tied scores. Returns ok=false when the actual labels
// contain a single class, where AUC is undefined.
func ROCAUC(actual []int, scores []float64) (float64, bool) {
	var nPos, nNeg float64
	for _, a := range actual {
		if a == 1 {
			nPos++
		} else {
			nNeg++
		}
	}
	if nPos == 0 || nNeg == 0 {
		return 0, false
	}

	type pair struct {
		score float64
		label int
	}
	pairs := make([]pair, len(actual))
	for i := range actual {
		pairs[i] = pair{scores[i], actual[i]}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].score < pairs[j].score })

	// Sum the (tie-averaged) ranks of the positive class.
	var rankSum float64
	i := 0
	for i < len(pairs) {
		j := i
		for j < len(pairs) && pairs[j].score == pairs[i].score {
			j++
		}
		avgRank := float64(i+j+1) / 2 // ranks are 1-based
		for k := i; k < j; k++ {
			if pairs[k].label == 1 {
				rankSum += avgRank
			}
		}
		i = j
	}

	auc := (rankSum - nPos*(nPos+1)/2) / (nPos * nNeg)
	return auc, true
}
