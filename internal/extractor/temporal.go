package extractor

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"veritect/internal/model"
	"veritect/internal/nn"
)

// TemporalConfig shapes the frame-delta analyzer.
type TemporalConfig struct {
	FeatureDim int
}

// FrameDelta scores temporal consistency from inter-frame differences. Each
// adjacent frame pair yields difference statistics; a small learned gate maps
// them to a per-step inconsistency score, and the per-video aggregate joins
// the spatial embedding to form the temporal feature. The backbone starts
// frozen and is unfrozen for fine-tuning.
type FrameDelta struct {
	cfg TemporalConfig

	backbone *nn.Linear // [D+2] -> [D]
	head     *nn.Linear // [D] -> [D]
	incons   *nn.Linear // [2] -> [1]

	cache *temporalPass
}

type temporalPass struct {
	inputs [][]float64
	pre    [][]float64
	act    [][]float64

	stepStats [][][]float64 // [video][step][2]
	stepProbs [][]float64   // [video][step]
}

// NewFrameDelta builds the analyzer.
func NewFrameDelta(cfg TemporalConfig, rng *rand.Rand) (*FrameDelta, error) {
	if cfg.FeatureDim <= 0 {
		return nil, fmt.Errorf("temporal analyzer needs a positive feature dim")
	}
	f := &FrameDelta{
		cfg:      cfg,
		backbone: nn.NewLinear("temporal.backbone", cfg.FeatureDim+2, cfg.FeatureDim, rng),
		head:     nn.NewLinear("temporal.head", cfg.FeatureDim, cfg.FeatureDim, rng),
		incons:   nn.NewLinear("temporal.incons", 2, 1, rng),
	}
	f.backbone.W.Frozen = true
	f.backbone.B.Frozen = true
	return f, nil
}

// BeginBatch drops the previous batch's cache.
func (f *FrameDelta) BeginBatch() { f.cache = nil }

// Analyze produces temporal features and per-step inconsistency scores for
// the whole batch.
func (f *FrameDelta) Analyze(_ context.Context, frames model.FrameBatch, spatial [][]float64) (model.TemporalOutput, error) {
	if len(spatial) != frames.Videos {
		return model.TemporalOutput{}, fmt.Errorf("%w: %d spatial rows for %d videos", model.ErrShapeMismatch, len(spatial), frames.Videos)
	}
	steps := frames.Frames - 1
	if steps < 1 {
		return model.TemporalOutput{}, fmt.Errorf("%w: temporal analysis needs at least 2 frames", model.ErrEmptyBatch)
	}

	pass := &temporalPass{
		inputs:    make([][]float64, frames.Videos),
		pre:       make([][]float64, frames.Videos),
		act:       make([][]float64, frames.Videos),
		stepStats: make([][][]float64, frames.Videos),
		stepProbs: make([][]float64, frames.Videos),
	}
	out := model.TemporalOutput{
		Features:      make([][]float64, frames.Videos),
		Inconsistency: make([][]float64, frames.Videos),
	}

	for b := 0; b < frames.Videos; b++ {
		stats := make([][]float64, steps)
		probs := make([]float64, steps)
		means := make([]float64, steps)
		for t := 0; t < steps; t++ {
			meanAbs, maxAbs := deltaStats(frames, b, t+1)
			stats[t] = []float64{meanAbs, maxAbs}
			means[t] = meanAbs
			logit, err := f.incons.Forward(stats[t])
			if err != nil {
				return model.TemporalOutput{}, err
			}
			probs[t] = nn.Sigmoid(logit[0])
		}

		aggMean, aggStd := meanStd(means)
		input := make([]float64, f.cfg.FeatureDim+2)
		copy(input, spatial[b])
		input[f.cfg.FeatureDim] = aggMean
		input[f.cfg.FeatureDim+1] = aggStd

		pre, err := f.backbone.Forward(input)
		if err != nil {
			return model.TemporalOutput{}, err
		}
		act := nn.ReLU(pre)
		feat, err := f.head.Forward(act)
		if err != nil {
			return model.TemporalOutput{}, err
		}

		pass.inputs[b] = input
		pass.pre[b] = pre
		pass.act[b] = act
		pass.stepStats[b] = stats
		pass.stepProbs[b] = probs
		out.Features[b] = feat
		out.Inconsistency[b] = probs
	}

	f.cache = pass
	return out, nil
}

// TemporalBackward consumes the loss gradients for the temporal features and
// the inconsistency scores, accumulating into the analyzer's parameters.
// Gradients toward the spatial input and the raw frames are discarded.
func (f *FrameDelta) TemporalBackward(featureGrads, inconsistencyGrads [][]float64) error {
	pass := f.cache
	f.cache = nil
	if pass == nil {
		return fmt.Errorf("temporal backward without a recorded forward")
	}
	if len(featureGrads) != len(pass.inputs) {
		return fmt.Errorf("%w: %d gradient rows for %d cached videos", model.ErrShapeMismatch, len(featureGrads), len(pass.inputs))
	}

	for b, g := range featureGrads {
		dAct, err := f.head.Backward(pass.act[b], g)
		if err != nil {
			return err
		}
		dPre := nn.ReLUBackward(pass.pre[b], dAct)
		if _, err := f.backbone.Backward(pass.inputs[b], dPre); err != nil {
			return err
		}
	}

	if inconsistencyGrads == nil {
		return nil
	}
	for b, row := range inconsistencyGrads {
		for t, dProb := range row {
			if dProb == 0 {
				continue
			}
			prob := pass.stepProbs[b][t]
			dLogit := []float64{dProb * prob * (1 - prob)}
			if _, err := f.incons.Backward(pass.stepStats[b][t], dLogit); err != nil {
				return err
			}
		}
	}
	return nil
}

// Parameters exposes the analyzer weights to the optimizer.
func (f *FrameDelta) Parameters() []*nn.Param {
	params := append(f.backbone.Params(), f.head.Params()...)
	return append(params, f.incons.Params()...)
}

// UnfreezeGroup unlocks the backbone for fine-tuning.
func (f *FrameDelta) UnfreezeGroup(name string) bool {
	if name != GroupTemporalBackbone {
		return false
	}
	f.backbone.W.Frozen = false
	f.backbone.B.Frozen = false
	return true
}

// deltaStats returns the mean and max absolute difference between frame t and
// frame t-1 of one video.
func deltaStats(frames model.FrameBatch, video, t int) (meanAbs, maxAbs float64) {
	prev := frames.Frame(video, t-1)
	cur := frames.Frame(video, t)
	var sum float64
	for i := range cur {
		d := math.Abs(float64(cur[i]) - float64(prev[i]))
		sum += d
		if d > maxAbs {
			maxAbs = d
		}
	}
	return sum / float64(len(cur)), maxAbs
}

func meanStd(values []float64) (mean, std float64) {
	if len(values) == 0 {
		return 0, 0
	}
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	var variance float64
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(values))
	return mean, math.Sqrt(variance)
}
