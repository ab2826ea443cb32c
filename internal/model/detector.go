package model

import (
	"context"
	"fmt"
	"math/rand"

	"veritect/internal/nn"
)

// Config sets the detector head dimensions and the shard placement. The
// device list is fixed at construction: a single entry (or none) selects the
// unsharded path, more entries shard the temporal axis across them.
type Config struct {
	FeatureDim int
	HiddenDim  int
	Dropout    float64
	Devices    []string
}

// Detector fuses the spatial and temporal feature streams behind a learned
// two-way gate and classifies each video as real or fake.
type Detector struct {
	cfg      Config
	spatial  SpatialExtractor
	temporal TemporalAnalyzer

	gate    *nn.Linear // [2D] -> [2]
	hidden  *nn.Linear // [D] -> [H]
	dropout *nn.Dropout
	out     *nn.Linear // [H] -> [2]

	training bool
	cache    *forwardCache
}

// forwardCache keeps the per-sample intermediates one Backward call needs.
type forwardCache struct {
	concat    [][]float64
	gateProbs [][]float64
	fused     [][]float64
	hiddenPre [][]float64
	hiddenAct [][]float64
	dropped   [][]float64
	dropMasks [][]float64
}

// NewDetector builds a detector over the two extractors. The random source
// seeds head initialization and dropout.
func NewDetector(cfg Config, spatial SpatialExtractor, temporal TemporalAnalyzer, rng *rand.Rand) (*Detector, error) {
	if cfg.FeatureDim <= 0 || cfg.HiddenDim <= 0 {
		return nil, fmt.Errorf("detector dimensions must be positive, got D=%d H=%d", cfg.FeatureDim, cfg.HiddenDim)
	}
	if cfg.Dropout < 0 || cfg.Dropout >= 1 {
		return nil, fmt.Errorf("dropout rate %v out of range [0,1)", cfg.Dropout)
	}
	if spatial == nil || temporal == nil {
		return nil, fmt.Errorf("detector requires both extractors")
	}
	return &Detector{
		cfg:      cfg,
		spatial:  spatial,
		temporal: temporal,
		gate:     nn.NewLinear("fusion.gate", cfg.FeatureDim*2, 2, rng),
		hidden:   nn.NewLinear("classifier.hidden", cfg.FeatureDim, cfg.HiddenDim, rng),
		dropout:  nn.NewDropout(cfg.Dropout, rng),
		out:      nn.NewLinear("classifier.out", cfg.HiddenDim, 2, rng),
	}, nil
}

// SetTraining toggles training-time behavior (dropout).
func (d *Detector) SetTraining(training bool) { d.training = training }

// Devices returns the configured shard devices.
func (d *Detector) Devices() []string { return d.cfg.Devices }

// Forward runs feature extraction, fusion, and classification for one batch.
func (d *Detector) Forward(ctx context.Context, frames FrameBatch) (*Output, error) {
	if err := frames.Validate(); err != nil {
		return nil, err
	}
	if ba, ok := d.spatial.(BatchAware); ok {
		ba.BeginBatch()
	}
	if ba, ok := d.temporal.(BatchAware); ok {
		ba.BeginBatch()
	}

	spatialFeats, err := d.extractSpatial(ctx, frames)
	if err != nil {
		return nil, err
	}
	if err := checkFeatures("spatial", spatialFeats, frames.Videos, d.cfg.FeatureDim); err != nil {
		return nil, err
	}

	tout, err := d.temporal.Analyze(ctx, frames, spatialFeats)
	if err != nil {
		return nil, fmt.Errorf("temporal analysis: %w", err)
	}
	if err := checkFeatures("temporal", tout.Features, frames.Videos, d.cfg.FeatureDim); err != nil {
		return nil, err
	}
	if len(tout.Inconsistency) != frames.Videos {
		return nil, fmt.Errorf("%w: %d inconsistency rows for %d videos", ErrShapeMismatch, len(tout.Inconsistency), frames.Videos)
	}

	batch := frames.Videos
	dim := d.cfg.FeatureDim
	cache := &forwardCache{
		concat:    make([][]float64, batch),
		gateProbs: make([][]float64, batch),
		fused:     make([][]float64, batch),
		hiddenPre: make([][]float64, batch),
		hiddenAct: make([][]float64, batch),
		dropped:   make([][]float64, batch),
		dropMasks: make([][]float64, batch),
	}
	output := &Output{
		Logits:        make([][]float64, batch),
		SpatialFeats:  spatialFeats,
		TemporalFeats: tout.Features,
		Inconsistency: tout.Inconsistency,
		Gate:          make([][]float64, batch),
	}

	for b := 0; b < batch; b++ {
		concat := make([]float64, dim*2)
		copy(concat, spatialFeats[b])
		copy(concat[dim:], tout.Features[b])

		gateLogits, err := d.gate.Forward(concat)
		if err != nil {
			return nil, err
		}
		gate := nn.Softmax(gateLogits)

		fused := make([]float64, dim)
		for i := 0; i < dim; i++ {
			fused[i] = gate[0]*spatialFeats[b][i] + gate[1]*tout.Features[b][i]
		}

		pre, err := d.hidden.Forward(fused)
		if err != nil {
			return nil, err
		}
		act := nn.ReLU(pre)
		dropped := d.dropout.Forward(act, d.training)
		logits, err := d.out.Forward(dropped)
		if err != nil {
			return nil, err
		}

		cache.concat[b] = concat
		cache.gateProbs[b] = gate
		cache.fused[b] = fused
		cache.hiddenPre[b] = pre
		cache.hiddenAct[b] = act
		cache.dropped[b] = dropped
		cache.dropMasks[b] = d.dropout.Mask()
		output.Gate[b] = gate
		output.Logits[b] = logits
	}

	d.cache = cache
	return output, nil
}

// extractSpatial runs the spatial extractor, sharding the temporal axis
// across devices when more than one is configured. Shard embeddings are
// combined with an unweighted mean regardless of shard frame counts.
func (d *Detector) extractSpatial(ctx context.Context, frames FrameBatch) ([][]float64, error) {
	if len(d.cfg.Devices) <= 1 {
		feats, err := d.spatial.Extract(ctx, frames)
		if err != nil {
			return nil, fmt.Errorf("spatial extraction: %w", err)
		}
		return feats, nil
	}

	shards := PlanShards(frames.Frames, d.cfg.Devices)
	sums := make([][]float64, frames.Videos)
	for b := range sums {
		sums[b] = make([]float64, d.cfg.FeatureDim)
	}

	for _, shard := range shards {
		subset, err := frames.FrameRange(shard.Start, shard.End)
		if err != nil {
			return nil, err
		}
		clone, err := d.spatial.CloneTo(shard.Device)
		if err != nil {
			return nil, fmt.Errorf("clone spatial extractor to %s: %w", shard.Device, err)
		}
		feats, err := clone.Extract(ctx, subset)
		clone.Release()
		if err != nil {
			return nil, fmt.Errorf("spatial extraction on %s: %w", shard.Device, err)
		}
		if err := checkFeatures("spatial shard", feats, frames.Videos, d.cfg.FeatureDim); err != nil {
			return nil, err
		}
		for b := range sums {
			for i, v := range feats[b] {
				sums[b][i] += v
			}
		}
	}

	scale := 1 / float64(len(shards))
	for b := range sums {
		for i := range sums[b] {
			sums[b][i] *= scale
		}
	}
	return sums, nil
}

// BackwardInput carries the loss gradients consumed by Backward. Logits is
// required; the feature and inconsistency gradients may be nil when the
// corresponding loss terms were inactive.
type BackwardInput struct {
	Logits        [][]float64
	Spatial       [][]float64
	Temporal      [][]float64
	Inconsistency [][]float64
}

// Backward propagates loss gradients through the head, accumulating head
// parameter gradients and handing feature gradients to extractors that
// accept them. It must follow a Forward call on the same batch.
func (d *Detector) Backward(in BackwardInput) error {
	cache := d.cache
	if cache == nil {
		return fmt.Errorf("backward without a preceding forward pass")
	}
	batch := len(cache.fused)
	if len(in.Logits) != batch {
		return fmt.Errorf("%w: %d logit gradients for batch of %d", ErrShapeMismatch, len(in.Logits), batch)
	}

	dim := d.cfg.FeatureDim
	spatialGrads := make([][]float64, batch)
	temporalGrads := make([][]float64, batch)

	for b := 0; b < batch; b++ {
		dDropped, err := d.out.Backward(cache.dropped[b], in.Logits[b])
		if err != nil {
			return err
		}
		dAct := nn.ApplyMask(cache.dropMasks[b], dDropped)
		dPre := nn.ReLUBackward(cache.hiddenPre[b], dAct)
		dFused, err := d.hidden.Backward(cache.fused[b], dPre)
		if err != nil {
			return err
		}

		gate := cache.gateProbs[b]
		spatialVec := cache.concat[b][:dim]
		temporalVec := cache.concat[b][dim:]

		dSpatial := make([]float64, dim)
		dTemporal := make([]float64, dim)
		dGate := make([]float64, 2)
		for i := 0; i < dim; i++ {
			dSpatial[i] = gate[0] * dFused[i]
			dTemporal[i] = gate[1] * dFused[i]
			dGate[0] += dFused[i] * spatialVec[i]
			dGate[1] += dFused[i] * temporalVec[i]
		}

		dGateLogits := nn.SoftmaxBackward(gate, dGate)
		dConcat, err := d.gate.Backward(cache.concat[b], dGateLogits)
		if err != nil {
			return err
		}
		for i := 0; i < dim; i++ {
			dSpatial[i] += dConcat[i]
			dTemporal[i] += dConcat[dim+i]
		}
		if in.Spatial != nil {
			for i, g := range in.Spatial[b] {
				dSpatial[i] += g
			}
		}
		if in.Temporal != nil {
			for i, g := range in.Temporal[b] {
				dTemporal[i] += g
			}
		}
		spatialGrads[b] = dSpatial
		temporalGrads[b] = dTemporal
	}

	if bp, ok := d.spatial.(SpatialBackprop); ok {
		if err := bp.FeatureBackward(spatialGrads); err != nil {
			return fmt.Errorf("spatial backward: %w", err)
		}
	}
	if bp, ok := d.temporal.(TemporalBackprop); ok {
		if err := bp.TemporalBackward(temporalGrads, in.Inconsistency); err != nil {
			return fmt.Errorf("temporal backward: %w", err)
		}
	}
	return nil
}

// Parameters returns the head parameters plus any exposed by the extractors.
func (d *Detector) Parameters() []*nn.Param {
	params := make([]*nn.Param, 0, 8)
	params = append(params, d.gate.Params()...)
	params = append(params, d.hidden.Params()...)
	params = append(params, d.out.Params()...)
	if tm, ok := d.spatial.(TrainableModule); ok {
		params = append(params, tm.Parameters()...)
	}
	if tm, ok := d.temporal.(TrainableModule); ok {
		params = append(params, tm.Parameters()...)
	}
	return params
}

// Unfreeze marks the named extractor parameter groups trainable, returning
// the count of groups that were found.
func (d *Detector) Unfreeze(groups []string) int {
	applied := 0
	for _, group := range groups {
		if tm, ok := d.spatial.(TrainableModule); ok && tm.UnfreezeGroup(group) {
			applied++
			continue
		}
		if tm, ok := d.temporal.(TrainableModule); ok && tm.UnfreezeGroup(group) {
			applied++
		}
	}
	return applied
}

func checkFeatures(stage string, feats [][]float64, videos, dim int) error {
	if len(feats) != videos {
		return fmt.Errorf("%w: %s produced %d rows for %d videos", ErrShapeMismatch, stage, len(feats), videos)
	}
	for b, row := range feats {
		if len(row) != dim {
			return fmt.Errorf("%w: %s row %d has %d values, expected %d", ErrShapeMismatch, stage, b, len(row), dim)
		}
	}
	return nil
}
