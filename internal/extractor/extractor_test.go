package extractor_test

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"veritect/internal/extractor"
	"veritect/internal/model"
)

const dim = 6

func newSpatial(t *testing.T) *extractor.PooledProjection {
	t.Helper()
	p, err := extractor.NewPooledProjection(extractor.SpatialConfig{Channels: 2, FeatureDim: dim}, rand.New(rand.NewSource(3)))
	if err != nil {
		t.Fatalf("NewPooledProjection failed: %v", err)
	}
	return p
}

func newTemporal(t *testing.T) *extractor.FrameDelta {
	t.Helper()
	f, err := extractor.NewFrameDelta(extractor.TemporalConfig{FeatureDim: dim}, rand.New(rand.NewSource(3)))
	if err != nil {
		t.Fatalf("NewFrameDelta failed: %v", err)
	}
	return f
}

func frameBatch(videos, frames int) model.FrameBatch {
	batch := model.NewFrameBatch(videos, frames, 2, 3, 3)
	rng := rand.New(rand.NewSource(7))
	for i := range batch.Data {
		batch.Data[i] = float32(rng.NormFloat64())
	}
	return batch
}

func TestSpatialExtractShapeAndDeterminism(t *testing.T) {
	p := newSpatial(t)
	batch := frameBatch(3, 5)

	a, err := p.Extract(context.Background(), batch)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if len(a) != 3 || len(a[0]) != dim {
		t.Fatalf("unexpected feature shape %d x %d", len(a), len(a[0]))
	}
	p.BeginBatch()
	b, err := p.Extract(context.Background(), batch)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	for v := range a {
		for i := range a[v] {
			if a[v][i] != b[v][i] {
				t.Fatal("extraction is not deterministic")
			}
		}
	}
}

func TestSpatialRejectsChannelMismatch(t *testing.T) {
	p := newSpatial(t)
	batch := model.NewFrameBatch(1, 4, 3, 3, 3)
	if _, err := p.Extract(context.Background(), batch); err == nil {
		t.Fatal("expected channel mismatch error")
	}
}

func TestSpatialCloneIsIndependent(t *testing.T) {
	p := newSpatial(t)
	clone, err := p.CloneTo("gpu1")
	if err != nil {
		t.Fatalf("CloneTo failed: %v", err)
	}
	shard := clone.(*extractor.PooledProjection)
	if shard.Device() != "gpu1" {
		t.Fatalf("clone placed on %q", shard.Device())
	}

	// Same parameters, distinct storage.
	orig := p.Parameters()
	copied := shard.Parameters()
	for i := range orig {
		if &orig[i].Data[0] == &copied[i].Data[0] {
			t.Fatalf("clone shares storage for %s", orig[i].Name)
		}
		copied[i].Data[0] += 100
		if orig[i].Data[0] == copied[i].Data[0] {
			t.Fatalf("mutating clone changed canonical %s", orig[i].Name)
		}
		copied[i].Data[0] -= 100
	}

	shard.Release()
	if _, err := shard.Extract(context.Background(), frameBatch(1, 3)); err == nil {
		t.Fatal("expected extract on released clone to fail")
	}
}

func TestSpatialBackwardMatchesFiniteDifferences(t *testing.T) {
	p := newSpatial(t)
	batch := frameBatch(2, 4)

	grads := [][]float64{make([]float64, dim), make([]float64, dim)}
	for b := range grads {
		for i := range grads[b] {
			grads[b][i] = float64(b+1) * 0.3 * float64(i%3)
		}
	}
	// Scalar objective sum_b feats[b] . grads[b], so the parameter gradient
	// from FeatureBackward must match its finite difference.
	objective := func() float64 {
		p.BeginBatch()
		feats, err := p.Extract(context.Background(), batch)
		if err != nil {
			t.Fatalf("Extract failed: %v", err)
		}
		total := 0.0
		for b := range feats {
			for i := range feats[b] {
				total += feats[b][i] * grads[b][i]
			}
		}
		return total
	}

	objective()
	if err := p.FeatureBackward(grads); err != nil {
		t.Fatalf("FeatureBackward failed: %v", err)
	}

	stem := p.Parameters()[0]
	const h = 1e-6
	for _, idx := range []int{0, 3, 7} {
		analytic := stem.Grad[idx]
		stem.Data[idx] += h
		plus := objective()
		stem.Data[idx] -= 2 * h
		minus := objective()
		stem.Data[idx] += h
		numeric := (plus - minus) / (2 * h)
		if math.Abs(numeric-analytic) > 1e-5 {
			t.Fatalf("stem grad[%d]: analytic %v, numeric %v", idx, analytic, numeric)
		}
	}
}

func TestSpatialShardReplayMatchesSinglePass(t *testing.T) {
	// Two shards seeing the same frames average to the single-pass output, so
	// the replayed gradients must equal the single-pass gradients.
	batch := frameBatch(2, 4)
	grads := [][]float64{{1, 0, 0.5, 0, 0, 0}, {0, 1, 0, 0.5, 0, 0}}

	single := newSpatial(t)
	single.BeginBatch()
	if _, err := single.Extract(context.Background(), batch); err != nil {
		t.Fatal(err)
	}
	if err := single.FeatureBackward(grads); err != nil {
		t.Fatal(err)
	}

	sharded := newSpatial(t)
	sharded.BeginBatch()
	for _, device := range []string{"gpu0", "gpu1"} {
		clone, err := sharded.CloneTo(device)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := clone.Extract(context.Background(), batch); err != nil {
			t.Fatal(err)
		}
		clone.Release()
	}
	if err := sharded.FeatureBackward(grads); err != nil {
		t.Fatal(err)
	}

	singleParams := single.Parameters()
	shardedParams := sharded.Parameters()
	for i := range singleParams {
		for j := range singleParams[i].Grad {
			if math.Abs(singleParams[i].Grad[j]-shardedParams[i].Grad[j]) > 1e-12 {
				t.Fatalf("%s grad[%d] differs between single and sharded replay", singleParams[i].Name, j)
			}
		}
	}
}

func TestSpatialBackwardWithoutForwardFails(t *testing.T) {
	p := newSpatial(t)
	if err := p.FeatureBackward([][]float64{make([]float64, dim)}); err == nil {
		t.Fatal("expected error without a recorded forward")
	}
}

func TestSpatialUnfreeze(t *testing.T) {
	p := newSpatial(t)
	var frozen int
	for _, param := range p.Parameters() {
		if param.Frozen {
			frozen++
		}
	}
	if frozen != 2 {
		t.Fatalf("expected the final block (2 params) frozen, got %d", frozen)
	}
	if p.UnfreezeGroup("spatial.stem") {
		t.Fatal("unknown group reported as unfrozen")
	}
	if !p.UnfreezeGroup(extractor.GroupSpatialFinal) {
		t.Fatal("final block group not found")
	}
	for _, param := range p.Parameters() {
		if param.Frozen {
			t.Fatalf("%s still frozen after unfreeze", param.Name)
		}
	}
}

func TestTemporalAnalyzeShapes(t *testing.T) {
	f := newTemporal(t)
	batch := frameBatch(3, 5)
	spatial := make([][]float64, 3)
	for b := range spatial {
		spatial[b] = make([]float64, dim)
		for i := range spatial[b] {
			spatial[b][i] = float64(b) * 0.1
		}
	}

	out, err := f.Analyze(context.Background(), batch, spatial)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if len(out.Features) != 3 || len(out.Features[0]) != dim {
		t.Fatalf("unexpected feature shape")
	}
	for b, row := range out.Inconsistency {
		if len(row) != 4 {
			t.Fatalf("video %d has %d inconsistency steps, expected 4", b, len(row))
		}
		for _, score := range row {
			if score <= 0 || score >= 1 {
				t.Fatalf("inconsistency score %v outside (0,1)", score)
			}
		}
	}
}

func TestTemporalRejectsTooFewFrames(t *testing.T) {
	f := newTemporal(t)
	batch := frameBatch(1, 1)
	if _, err := f.Analyze(context.Background(), batch, [][]float64{make([]float64, dim)}); err == nil {
		t.Fatal("expected error for single-frame video")
	}
}

func TestTemporalBackwardAccumulates(t *testing.T) {
	f := newTemporal(t)
	batch := frameBatch(2, 4)
	spatial := [][]float64{make([]float64, dim), make([]float64, dim)}
	for b := range spatial {
		for i := range spatial[b] {
			spatial[b][i] = 0.5
		}
	}
	out, err := f.Analyze(context.Background(), batch, spatial)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	featureGrads := [][]float64{make([]float64, dim), make([]float64, dim)}
	inconsGrads := make([][]float64, 2)
	for b := range featureGrads {
		for i := range featureGrads[b] {
			featureGrads[b][i] = 0.2
		}
		inconsGrads[b] = make([]float64, len(out.Inconsistency[b]))
		for s := range inconsGrads[b] {
			inconsGrads[b][s] = 0.1
		}
	}
	if err := f.TemporalBackward(featureGrads, inconsGrads); err != nil {
		t.Fatalf("TemporalBackward failed: %v", err)
	}

	var nonZero int
	for _, param := range f.Parameters() {
		for _, g := range param.Grad {
			if g != 0 {
				nonZero++
				break
			}
		}
	}
	if nonZero < 4 {
		t.Fatalf("expected gradients on most parameter tensors, got %d", nonZero)
	}

	if err := f.TemporalBackward(featureGrads, nil); err == nil {
		t.Fatal("expected second backward to fail without a new forward")
	}
}

func TestTemporalUnfreeze(t *testing.T) {
	f := newTemporal(t)
	if f.UnfreezeGroup("nope") {
		t.Fatal("unknown group reported as unfrozen")
	}
	if !f.UnfreezeGroup(extractor.GroupTemporalBackbone) {
		t.Fatal("backbone group not found")
	}
	for _, param := range f.Parameters() {
		if param.Frozen {
			t.Fatalf("%s still frozen", param.Name)
		}
	}
}
