package testsupport

import (
	"context"
	"errors"
	"sync"

	"veritect/internal/dataset"
	"veritect/internal/model"
)

// ShardCall records one Extract invocation seen by a FakeSpatial instance.
type ShardCall struct {
	Device string
	Frames int
}

// FakeSpatial is a scriptable spatial extractor. Feature returns one vector
// per video; when FeatureFn is set it takes precedence and may depend on the
// shard frame count.
type FakeSpatial struct {
	Dim       int
	Device    string
	FeatureFn func(device string, frames model.FrameBatch) [][]float64
	FailOn    string // device name whose extraction fails

	mu       sync.Mutex
	calls    []ShardCall
	released bool
	parent   *FakeSpatial
}

// Extract produces deterministic features and records the call on the
// canonical instance.
func (f *FakeSpatial) Extract(_ context.Context, frames model.FrameBatch) ([][]float64, error) {
	if f.FailOn != "" && f.Device == f.FailOn {
		return nil, errors.New("fake shard failure")
	}
	root := f
	if f.parent != nil {
		root = f.parent
	}
	root.mu.Lock()
	root.calls = append(root.calls, ShardCall{Device: f.Device, Frames: frames.Frames})
	root.mu.Unlock()

	if f.FeatureFn != nil {
		return f.FeatureFn(f.Device, frames), nil
	}
	feats := make([][]float64, frames.Videos)
	for b := range feats {
		feats[b] = make([]float64, f.Dim)
		for i := range feats[b] {
			feats[b][i] = float64(b + 1)
		}
	}
	return feats, nil
}

// CloneTo returns a shard instance that reports calls to the canonical fake.
func (f *FakeSpatial) CloneTo(device string) (model.SpatialExtractor, error) {
	return &FakeSpatial{
		Dim:       f.Dim,
		Device:    device,
		FeatureFn: f.FeatureFn,
		FailOn:    f.FailOn,
		parent:    f,
	}, nil
}

// Release marks the instance released.
func (f *FakeSpatial) Release() {
	f.mu.Lock()
	f.released = true
	f.mu.Unlock()
}

// Calls returns the recorded extraction calls in dispatch order.
func (f *FakeSpatial) Calls() []ShardCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ShardCall{}, f.calls...)
}

// FakeTemporal is a scriptable temporal analyzer.
type FakeTemporal struct {
	Dim           int
	Inconsistency func(video int, frames model.FrameBatch) []float64

	LastSpatial [][]float64
}

// Analyze echoes the spatial features as temporal features and produces the
// scripted inconsistency sequences (all zeros by default).
func (f *FakeTemporal) Analyze(_ context.Context, frames model.FrameBatch, spatial [][]float64) (model.TemporalOutput, error) {
	f.LastSpatial = spatial
	out := model.TemporalOutput{
		Features:      make([][]float64, frames.Videos),
		Inconsistency: make([][]float64, frames.Videos),
	}
	for b := 0; b < frames.Videos; b++ {
		out.Features[b] = make([]float64, f.Dim)
		copy(out.Features[b], spatial[b])
		if f.Inconsistency != nil {
			out.Inconsistency[b] = f.Inconsistency(b, frames)
		} else {
			out.Inconsistency[b] = make([]float64, frames.Frames-1)
		}
	}
	return out, nil
}

// FakeOptimizer counts Step and ZeroGrad calls.
type FakeOptimizer struct {
	Steps int
	Zeros int
}

func (f *FakeOptimizer) Step()     { f.Steps++ }
func (f *FakeOptimizer) ZeroGrad() { f.Zeros++ }

// SliceLoader serves a fixed list of batches, reporting a configurable video
// count so flush conditions can be tested independently of the batch list.
type SliceLoader struct {
	BatchList []dataset.Batch
	Videos    int

	next int
}

func (l *SliceLoader) NumVideos() int { return l.Videos }

func (l *SliceLoader) NumBatches() int { return len(l.BatchList) }

func (l *SliceLoader) Next(context.Context) (*dataset.Batch, error) {
	if l.next >= len(l.BatchList) {
		return nil, nil
	}
	batch := l.BatchList[l.next]
	l.next++
	return &batch, nil
}

func (l *SliceLoader) Reset() { l.next = 0 }
