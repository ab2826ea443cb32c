// Package metrics computes the binary evaluation measures reported after
// validation: accuracy, ROC AUC, precision, recall, F1, average precision,
// and the confusion matrix. Scores are fake-class probabilities; the positive
// class is fake.
package metrics
