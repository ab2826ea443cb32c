package metrics

import (
	"errors"
	"fmt"
	"sort"

	"veritect/internal/dataset"
)

// ErrSingleClass is returned by ranking metrics when the label set contains
// only one class, where AUC is undefined.
var ErrSingleClass = errors.New("metric undefined for a single-class label set")

// ConfusionMatrix counts outcomes at the 0.5 decision threshold, with fake as
// the positive class.
type ConfusionMatrix struct {
	TruePositives  int `json:"true_positives"`
	TrueNegatives  int `json:"true_negatives"`
	FalsePositives int `json:"false_positives"`
	FalseNegatives int `json:"false_negatives"`
}

// BinaryReport bundles every evaluation measure for one pass over a dataset.
type BinaryReport struct {
	Accuracy         float64         `json:"accuracy"`
	AUC              float64         `json:"auc"`
	Precision        float64         `json:"precision"`
	Recall           float64         `json:"recall"`
	F1               float64         `json:"f1"`
	AveragePrecision float64         `json:"average_precision"`
	Confusion        ConfusionMatrix `json:"confusion_matrix"`
	Samples          int             `json:"samples"`
}

// Evaluate computes the full report from fake-class scores and labels.
func Evaluate(scores []float64, labels []int) (*BinaryReport, error) {
	if len(scores) == 0 {
		return nil, fmt.Errorf("evaluate requires at least one sample")
	}
	if len(scores) != len(labels) {
		return nil, fmt.Errorf("%d scores for %d labels", len(scores), len(labels))
	}

	auc, err := AUC(scores, labels)
	if err != nil {
		return nil, err
	}
	ap, err := AveragePrecision(scores, labels)
	if err != nil {
		return nil, err
	}

	cm := Confusion(scores, labels)
	report := &BinaryReport{
		Accuracy:         float64(cm.TruePositives+cm.TrueNegatives) / float64(len(scores)),
		AUC:              auc,
		AveragePrecision: ap,
		Confusion:        cm,
		Samples:          len(scores),
	}
	if predicted := cm.TruePositives + cm.FalsePositives; predicted > 0 {
		report.Precision = float64(cm.TruePositives) / float64(predicted)
	}
	if actual := cm.TruePositives + cm.FalseNegatives; actual > 0 {
		report.Recall = float64(cm.TruePositives) / float64(actual)
	}
	if report.Precision+report.Recall > 0 {
		report.F1 = 2 * report.Precision * report.Recall / (report.Precision + report.Recall)
	}
	return report, nil
}

// Confusion thresholds scores at 0.5 and tallies the outcome counts.
func Confusion(scores []float64, labels []int) ConfusionMatrix {
	var cm ConfusionMatrix
	for i, score := range scores {
		predictedFake := score >= 0.5
		actualFake := labels[i] == dataset.LabelFake
		switch {
		case predictedFake && actualFake:
			cm.TruePositives++
		case predictedFake && !actualFake:
			cm.FalsePositives++
		case !predictedFake && actualFake:
			cm.FalseNegatives++
		default:
			cm.TrueNegatives++
		}
	}
	return cm
}

// AUC is the rank-based ROC area: the Mann-Whitney statistic computed from
// midranks, so tied scores contribute half credit.
func AUC(scores []float64, labels []int) (float64, error) {
	positives, negatives := classCounts(labels)
	if positives == 0 || negatives == 0 {
		return 0, ErrSingleClass
	}

	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return scores[order[a]] < scores[order[b]] })

	ranks := make([]float64, len(scores))
	for i := 0; i < len(order); {
		j := i
		for j < len(order) && scores[order[j]] == scores[order[i]] {
			j++
		}
		// midrank for the tie group spanning ranks i+1..j
		mid := float64(i+1+j) / 2
		for k := i; k < j; k++ {
			ranks[order[k]] = mid
		}
		i = j
	}

	rankSum := 0.0
	for i, label := range labels {
		if label == dataset.LabelFake {
			rankSum += ranks[i]
		}
	}
	p := float64(positives)
	n := float64(negatives)
	return (rankSum - p*(p+1)/2) / (p * n), nil
}

// AveragePrecision summarizes the precision-recall curve as the weighted mean
// of precision at each recall step.
func AveragePrecision(scores []float64, labels []int) (float64, error) {
	positives, negatives := classCounts(labels)
	if positives == 0 || negatives == 0 {
		return 0, ErrSingleClass
	}

	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return scores[order[a]] > scores[order[b]] })

	ap := 0.0
	tp := 0
	prevRecall := 0.0
	for rank, idx := range order {
		if labels[idx] == dataset.LabelFake {
			tp++
		}
		recall := float64(tp) / float64(positives)
		if recall > prevRecall {
			precision := float64(tp) / float64(rank+1)
			ap += (recall - prevRecall) * precision
			prevRecall = recall
		}
	}
	return ap, nil
}

func classCounts(labels []int) (positives, negatives int) {
	for _, label := range labels {
		if label == dataset.LabelFake {
			positives++
		} else {
			negatives++
		}
	}
	return positives, negatives
}
