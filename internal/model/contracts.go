package model

import (
	"context"

	"veritect/internal/nn"
)

// SpatialExtractor produces one spatial/frequency embedding per video.
// Implementations are opaque to the detector; only the tensor contract is
// fixed: Extract maps a [B,T,C,H,W] batch to [B][D] features.
type SpatialExtractor interface {
	// Extract returns one feature vector per video.
	Extract(ctx context.Context, frames FrameBatch) ([][]float64, error)

	// CloneTo returns an independent extractor whose parameters are a
	// value-copy of this one, placed on the named device. Clones are
	// transient: callers Release them after use.
	CloneTo(device string) (SpatialExtractor, error)

	// Release frees per-instance buffers. Canonical extractors treat it as
	// a no-op; shard clones drop their parameter copies.
	Release()
}

// TemporalOutput bundles the two products of temporal analysis.
type TemporalOutput struct {
	// Features is one temporal embedding per video, [B][D].
	Features [][]float64
	// Inconsistency holds per-video inconsistency score sequences, [B][T'].
	Inconsistency [][]float64
}

// TemporalAnalyzer scores temporal consistency for a frame sequence given the
// combined spatial embedding. It always sees the whole, unsharded batch.
type TemporalAnalyzer interface {
	Analyze(ctx context.Context, frames FrameBatch, spatial [][]float64) (TemporalOutput, error)
}

// TrainableModule is implemented by extractors that expose parameters to the
// optimizer and support named-group unfreezing.
type TrainableModule interface {
	Parameters() []*nn.Param
	// UnfreezeGroup marks the named parameter group trainable and reports
	// whether the group exists.
	UnfreezeGroup(name string) bool
}

// BatchAware is implemented by extractors that hold per-batch caches for the
// backward pass. The detector calls BeginBatch before each forward so stale
// caches never outlive their batch.
type BatchAware interface {
	BeginBatch()
}

// SpatialBackprop is implemented by spatial extractors that consume feature
// gradients from the loss stage.
type SpatialBackprop interface {
	FeatureBackward(grads [][]float64) error
}

// TemporalBackprop is implemented by temporal analyzers that consume feature
// and inconsistency gradients from the loss stage.
type TemporalBackprop interface {
	TemporalBackward(featureGrads, inconsistencyGrads [][]float64) error
}

// Output is the immutable result of one detector forward pass.
type Output struct {
	// Logits holds unnormalized class scores, [B][2]; index 1 is "fake".
	Logits [][]float64
	// SpatialFeats is the combined spatial embedding, [B][D].
	SpatialFeats [][]float64
	// TemporalFeats is the temporal embedding, [B][D].
	TemporalFeats [][]float64
	// Inconsistency holds the per-video inconsistency sequences, [B][T'].
	Inconsistency [][]float64
	// Gate holds the fusion weights, [B][2]; each row sums to 1.
	Gate [][]float64
}

// FakeProbabilities returns softmax(logits)[1] per video.
func (o *Output) FakeProbabilities() []float64 {
	probs := make([]float64, len(o.Logits))
	for i, row := range o.Logits {
		probs[i] = nn.Softmax(row)[1]
	}
	return probs
}
