// Package loss implements the training criteria: the per-logit binary
// criteria (focal and BCE) and the staged composite objective that adds
// orthogonality and temporal-consistency terms as training progresses. Every
// loss returns the analytic gradients the backward pass consumes.
package loss
