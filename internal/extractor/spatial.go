package extractor

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"

	"veritect/internal/model"
	"veritect/internal/nn"
)

// Parameter group names accepted by UnfreezeGroup.
const (
	GroupSpatialFinal     = "spatial.final_block"
	GroupTemporalBackbone = "temporal.backbone"
)

// SpatialConfig shapes the pooled-projection extractor.
type SpatialConfig struct {
	Channels   int
	FeatureDim int
}

// PooledProjection embeds each video by pooling per-channel mean and standard
// deviation over all frames and pixels, then projecting through a two-layer
// stack. The final block starts frozen and is unfrozen for fine-tuning.
type PooledProjection struct {
	cfg    SpatialConfig
	device string

	stem  *nn.Linear // [2C] -> [D]
	final *nn.Linear // [D] -> [D]

	parent *PooledProjection

	mu     sync.Mutex
	passes []*spatialPass
}

// spatialPass caches one forward's intermediates for the backward pass. A
// sharded forward records one pass per shard.
type spatialPass struct {
	stats [][]float64
	pre   [][]float64
	act   [][]float64
}

// NewPooledProjection builds the canonical extractor on the default device.
func NewPooledProjection(cfg SpatialConfig, rng *rand.Rand) (*PooledProjection, error) {
	if cfg.Channels <= 0 || cfg.FeatureDim <= 0 {
		return nil, fmt.Errorf("spatial extractor needs positive channels and feature dim")
	}
	p := &PooledProjection{
		cfg:   cfg,
		stem:  nn.NewLinear("spatial.stem", cfg.Channels*2, cfg.FeatureDim, rng),
		final: nn.NewLinear("spatial.final_block", cfg.FeatureDim, cfg.FeatureDim, rng),
	}
	p.final.W.Frozen = true
	p.final.B.Frozen = true
	return p, nil
}

// Device reports where this instance is placed; empty for the canonical copy.
func (p *PooledProjection) Device() string { return p.device }

// BeginBatch drops caches left over from the previous batch.
func (p *PooledProjection) BeginBatch() {
	p.mu.Lock()
	p.passes = nil
	p.mu.Unlock()
}

// Extract pools channel statistics and projects them to one embedding per
// video.
func (p *PooledProjection) Extract(_ context.Context, frames model.FrameBatch) ([][]float64, error) {
	if frames.Channels != p.cfg.Channels {
		return nil, fmt.Errorf("%w: batch has %d channels, extractor expects %d", model.ErrShapeMismatch, frames.Channels, p.cfg.Channels)
	}
	if p.stem == nil {
		return nil, fmt.Errorf("extract on a released extractor")
	}

	pass := &spatialPass{
		stats: make([][]float64, frames.Videos),
		pre:   make([][]float64, frames.Videos),
		act:   make([][]float64, frames.Videos),
	}
	feats := make([][]float64, frames.Videos)
	for b := 0; b < frames.Videos; b++ {
		stats := channelStats(frames, b)
		pre, err := p.stem.Forward(stats)
		if err != nil {
			return nil, err
		}
		act := nn.ReLU(pre)
		out, err := p.final.Forward(act)
		if err != nil {
			return nil, err
		}
		pass.stats[b] = stats
		pass.pre[b] = pre
		pass.act[b] = act
		feats[b] = out
	}
	p.root().record(pass)
	return feats, nil
}

// CloneTo value-copies the extractor onto the named device. The clone reports
// its forward caches back to the canonical instance so gradients can be
// replayed there after the shards are combined.
func (p *PooledProjection) CloneTo(device string) (model.SpatialExtractor, error) {
	if p.stem == nil {
		return nil, fmt.Errorf("clone of a released extractor")
	}
	return &PooledProjection{
		cfg:    p.cfg,
		device: device,
		stem:   p.stem.Clone(),
		final:  p.final.Clone(),
		parent: p.root(),
	}, nil
}

// Release drops a shard clone's parameter copies. On the canonical instance
// it is a no-op.
func (p *PooledProjection) Release() {
	if p.parent == nil {
		return
	}
	p.stem = nil
	p.final = nil
}

// FeatureBackward replays the recorded forward passes against the loss
// gradient of the combined embedding. With S recorded shards the combined
// output is their mean, so each shard receives grads scaled by 1/S. Shard
// parameters are value-copies of the canonical ones, so the replay
// accumulates into the canonical gradients directly.
func (p *PooledProjection) FeatureBackward(grads [][]float64) error {
	root := p.root()
	root.mu.Lock()
	passes := root.passes
	root.passes = nil
	root.mu.Unlock()
	if len(passes) == 0 {
		return fmt.Errorf("spatial backward without a recorded forward")
	}

	scale := 1 / float64(len(passes))
	scaled := make([]float64, 0, len(grads[0]))
	for _, pass := range passes {
		if len(pass.stats) != len(grads) {
			return fmt.Errorf("%w: %d gradient rows for %d cached videos", model.ErrShapeMismatch, len(grads), len(pass.stats))
		}
		for b := range grads {
			scaled = scaled[:0]
			for _, g := range grads[b] {
				scaled = append(scaled, g*scale)
			}
			dAct, err := root.final.Backward(pass.act[b], scaled)
			if err != nil {
				return err
			}
			dPre := nn.ReLUBackward(pass.pre[b], dAct)
			if _, err := root.stem.Backward(pass.stats[b], dPre); err != nil {
				return err
			}
		}
	}
	return nil
}

// Parameters exposes the projection weights to the optimizer.
func (p *PooledProjection) Parameters() []*nn.Param {
	return append(p.stem.Params(), p.final.Params()...)
}

// UnfreezeGroup unlocks the final block for fine-tuning.
func (p *PooledProjection) UnfreezeGroup(name string) bool {
	if name != GroupSpatialFinal {
		return false
	}
	p.final.W.Frozen = false
	p.final.B.Frozen = false
	return true
}

func (p *PooledProjection) root() *PooledProjection {
	if p.parent != nil {
		return p.parent
	}
	return p
}

func (p *PooledProjection) record(pass *spatialPass) {
	p.mu.Lock()
	p.passes = append(p.passes, pass)
	p.mu.Unlock()
}

// channelStats returns per-channel mean and standard deviation over every
// frame and pixel of one video: [mean_0, std_0, mean_1, std_1, ...].
func channelStats(frames model.FrameBatch, video int) []float64 {
	stats := make([]float64, frames.Channels*2)
	pixels := frames.Height * frames.Width
	count := float64(frames.Frames * pixels)

	for c := 0; c < frames.Channels; c++ {
		var sum, sumSq float64
		for t := 0; t < frames.Frames; t++ {
			frame := frames.Frame(video, t)
			channel := frame[c*pixels : (c+1)*pixels]
			for _, v := range channel {
				f := float64(v)
				sum += f
				sumSq += f * f
			}
		}
		mean := sum / count
		variance := sumSq/count - mean*mean
		if variance < 0 {
			variance = 0
		}
		stats[c*2] = mean
		stats[c*2+1] = math.Sqrt(variance)
	}
	return stats
}
