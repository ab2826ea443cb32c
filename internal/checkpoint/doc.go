// Package checkpoint persists and restores model and optimizer state as
// JSON. Loading tolerates the envelope layouts older runs produced and
// applies state partially, skipping tensors whose names or shapes no longer
// match the model.
package checkpoint
