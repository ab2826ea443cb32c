// Package training drives the epoch loops: gradient-accumulated training
// over a dataset loader, forward-only validation, the fine-tuning unfreeze
// schedule, and the runner that ties the loops to configuration, run
// persistence, and checkpoints.
package training
