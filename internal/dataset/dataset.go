package dataset

import (
	"context"

	"veritect/internal/model"
)

// Label values for the binary classification task.
const (
	LabelReal = 0
	LabelFake = 1
)

// Batch pairs a frame batch with its order-aligned video labels.
type Batch struct {
	Frames model.FrameBatch
	Labels []int
}

// Loader yields batches for one pass over a dataset. Next returns (nil, nil)
// when the pass is exhausted; Reset rewinds for the next epoch.
type Loader interface {
	NumVideos() int
	NumBatches() int
	Next(ctx context.Context) (*Batch, error)
	Reset()
}
