package model_test

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"veritect/internal/model"
	"veritect/internal/testsupport"
)

const testDim = 8

func newDetector(t *testing.T, deviceList []string, spatial *testsupport.FakeSpatial, temporal *testsupport.FakeTemporal) *model.Detector {
	t.Helper()
	if spatial == nil {
		spatial = &testsupport.FakeSpatial{Dim: testDim}
	}
	if temporal == nil {
		temporal = &testsupport.FakeTemporal{Dim: testDim}
	}
	det, err := model.NewDetector(model.Config{
		FeatureDim: testDim,
		HiddenDim:  16,
		Dropout:    0.5,
		Devices:    deviceList,
	}, spatial, temporal, rand.New(rand.NewSource(5)))
	if err != nil {
		t.Fatalf("NewDetector failed: %v", err)
	}
	return det
}

func testBatch(videos, frames int) model.FrameBatch {
	batch := model.NewFrameBatch(videos, frames, 2, 4, 4)
	for i := range batch.Data {
		batch.Data[i] = float32(i%17) / 17
	}
	return batch
}

func TestForwardGateWeightsSumToOne(t *testing.T) {
	spatial := &testsupport.FakeSpatial{Dim: testDim, FeatureFn: func(_ string, frames model.FrameBatch) [][]float64 {
		rng := rand.New(rand.NewSource(9))
		feats := make([][]float64, frames.Videos)
		for b := range feats {
			feats[b] = make([]float64, testDim)
			for i := range feats[b] {
				feats[b][i] = rng.NormFloat64() * 3
			}
		}
		return feats
	}}
	det := newDetector(t, nil, spatial, nil)

	out, err := det.Forward(context.Background(), testBatch(5, 6))
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	for b, gate := range out.Gate {
		sum := gate[0] + gate[1]
		if math.Abs(sum-1) > 1e-9 {
			t.Fatalf("video %d gate sums to %v", b, sum)
		}
		if gate[0] < 0 || gate[1] < 0 {
			t.Fatalf("video %d has negative gate weight %v", b, gate)
		}
	}
	if len(out.Logits) != 5 || len(out.Logits[0]) != 2 {
		t.Fatalf("unexpected logits shape: %d x %d", len(out.Logits), len(out.Logits[0]))
	}
}

func TestForwardShardedMatchesSingleForConstantFeatures(t *testing.T) {
	// A shard-size-independent extractor must produce identical embeddings
	// under either placement, since the mean over identical shard outputs is
	// the single-device output.
	single := newDetector(t, nil, &testsupport.FakeSpatial{Dim: testDim}, nil)
	sharded := newDetector(t, []string{"gpu0", "gpu1", "gpu2"}, &testsupport.FakeSpatial{Dim: testDim}, nil)

	batch := testBatch(3, 7)
	a, err := single.Forward(context.Background(), batch)
	if err != nil {
		t.Fatalf("single forward failed: %v", err)
	}
	b, err := sharded.Forward(context.Background(), batch)
	if err != nil {
		t.Fatalf("sharded forward failed: %v", err)
	}
	for v := range a.SpatialFeats {
		for i := range a.SpatialFeats[v] {
			if math.Abs(a.SpatialFeats[v][i]-b.SpatialFeats[v][i]) > 1e-12 {
				t.Fatalf("spatial feature mismatch at [%d][%d]", v, i)
			}
		}
	}
}

func TestShardedDispatchCoversAllFramesInOrder(t *testing.T) {
	spatial := &testsupport.FakeSpatial{Dim: testDim}
	det := newDetector(t, []string{"gpu0", "gpu1", "gpu2"}, spatial, nil)

	if _, err := det.Forward(context.Background(), testBatch(2, 8)); err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	calls := spatial.Calls()
	if len(calls) != 3 {
		t.Fatalf("expected 3 shard extractions, got %d", len(calls))
	}
	// 8 frames on 3 devices: sizes 3, 3, 2.
	expected := []testsupport.ShardCall{
		{Device: "gpu0", Frames: 3},
		{Device: "gpu1", Frames: 3},
		{Device: "gpu2", Frames: 2},
	}
	for i, call := range calls {
		if call != expected[i] {
			t.Fatalf("call %d = %+v, expected %+v", i, call, expected[i])
		}
	}
}

func TestShardCombinationIsOrderIndependent(t *testing.T) {
	// Features depend only on shard size, so reversing the device order
	// permutes shard processing without changing the combined mean.
	featureFn := func(_ string, frames model.FrameBatch) [][]float64 {
		feats := make([][]float64, frames.Videos)
		for b := range feats {
			feats[b] = make([]float64, testDim)
			for i := range feats[b] {
				feats[b][i] = float64(frames.Frames) * float64(i+1)
			}
		}
		return feats
	}
	forward := newDetector(t, []string{"gpu0", "gpu1", "gpu2"}, &testsupport.FakeSpatial{Dim: testDim, FeatureFn: featureFn}, nil)
	reversed := newDetector(t, []string{"gpu2", "gpu1", "gpu0"}, &testsupport.FakeSpatial{Dim: testDim, FeatureFn: featureFn}, nil)

	batch := testBatch(2, 7)
	a, err := forward.Forward(context.Background(), batch)
	if err != nil {
		t.Fatalf("forward order failed: %v", err)
	}
	b, err := reversed.Forward(context.Background(), batch)
	if err != nil {
		t.Fatalf("reversed order failed: %v", err)
	}
	for v := range a.SpatialFeats {
		for i := range a.SpatialFeats[v] {
			if math.Abs(a.SpatialFeats[v][i]-b.SpatialFeats[v][i]) > 1e-12 {
				t.Fatalf("mean embedding depends on shard order at [%d][%d]", v, i)
			}
		}
	}
}

func TestShardFailureIsFatalForBatch(t *testing.T) {
	spatial := &testsupport.FakeSpatial{Dim: testDim, FailOn: "gpu1"}
	det := newDetector(t, []string{"gpu0", "gpu1"}, spatial, nil)

	if _, err := det.Forward(context.Background(), testBatch(2, 6)); err == nil {
		t.Fatal("expected forward to fail when a shard fails")
	}
}

func TestTemporalAlwaysSeesFullBatchAndCombinedEmbedding(t *testing.T) {
	temporal := &testsupport.FakeTemporal{Dim: testDim}
	det := newDetector(t, []string{"gpu0", "gpu1"}, &testsupport.FakeSpatial{Dim: testDim}, temporal)

	out, err := det.Forward(context.Background(), testBatch(2, 6))
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	if len(temporal.LastSpatial) != 2 {
		t.Fatalf("temporal saw %d spatial rows", len(temporal.LastSpatial))
	}
	// The fake echoes spatial features; both must be the combined embedding.
	for b := range out.SpatialFeats {
		for i := range out.SpatialFeats[b] {
			if out.SpatialFeats[b][i] != temporal.LastSpatial[b][i] {
				t.Fatalf("temporal received uncombined embedding at [%d][%d]", b, i)
			}
		}
	}
}

func TestForwardRejectsWrongFeatureWidth(t *testing.T) {
	spatial := &testsupport.FakeSpatial{Dim: testDim, FeatureFn: func(_ string, frames model.FrameBatch) [][]float64 {
		feats := make([][]float64, frames.Videos)
		for b := range feats {
			feats[b] = make([]float64, testDim+1)
		}
		return feats
	}}
	det := newDetector(t, nil, spatial, nil)
	_, err := det.Forward(context.Background(), testBatch(2, 6))
	if err == nil {
		t.Fatal("expected shape mismatch error")
	}
}

func TestEvalForwardIsDeterministic(t *testing.T) {
	det := newDetector(t, nil, nil, nil)
	det.SetTraining(false)
	batch := testBatch(3, 6)

	a, err := det.Forward(context.Background(), batch)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	b, err := det.Forward(context.Background(), batch)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	for v := range a.Logits {
		for i := range a.Logits[v] {
			if a.Logits[v][i] != b.Logits[v][i] {
				t.Fatal("inference forward is not deterministic")
			}
		}
	}
}

func TestBackwardAccumulatesHeadGradients(t *testing.T) {
	det := newDetector(t, nil, nil, nil)
	det.SetTraining(true)
	out, err := det.Forward(context.Background(), testBatch(2, 6))
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	grads := make([][]float64, len(out.Logits))
	for b := range grads {
		grads[b] = []float64{0.5, -0.5}
	}
	if err := det.Backward(model.BackwardInput{Logits: grads}); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}

	var nonZero bool
	for _, p := range det.Parameters() {
		for _, g := range p.Grad {
			if g != 0 {
				nonZero = true
			}
		}
	}
	if !nonZero {
		t.Fatal("expected nonzero head gradients after backward")
	}
}

func TestBackwardWithoutForwardFails(t *testing.T) {
	det := newDetector(t, nil, nil, nil)
	if err := det.Backward(model.BackwardInput{Logits: [][]float64{{1, 0}}}); err == nil {
		t.Fatal("expected error for backward without forward")
	}
}
