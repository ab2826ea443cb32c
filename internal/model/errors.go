package model

import "errors"

var (
	// ErrShapeMismatch reports a tensor contract violation between components.
	// It is fatal for the batch; callers must not retry.
	ErrShapeMismatch = errors.New("shape mismatch")

	// ErrEmptyBatch reports a frame batch with no videos or no frames.
	ErrEmptyBatch = errors.New("empty frame batch")
)
