package training

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"veritect/internal/dataset"
	"veritect/internal/logging"
	"veritect/internal/loss"
	"veritect/internal/metrics"
	"veritect/internal/model"
)

// Optimizer is the slice of the optimizer the epoch loop needs.
type Optimizer interface {
	Step()
	ZeroGrad()
}

// EpochStats summarizes one pass over a loader. Loss components are
// sample-weighted means; for training the total reflects the accumulation
// scaling actually applied to the gradients.
type EpochStats struct {
	Loss          float64
	Cls           float64
	Inconsistency float64
	Orthogonality float64
	Accuracy      float64
	AUC           float64
	Phase         loss.Phase
	Samples       int
	Batches       int
	Steps         int
}

// Trainer runs epochs of a detector against a criterion.
type Trainer struct {
	Detector   *model.Detector
	Criterion  loss.Criterion
	AccumSteps int
	MaxEpochs  int
	Logger     *slog.Logger

	// OnBatch, when set, is called after every processed batch with the
	// number of batches done and the total.
	OnBatch func(done, total int)
}

// TrainEpoch performs one gradient-accumulated training pass. The optimizer
// steps every AccumSteps batches; a trailing partial accumulation window is
// flushed when the dataset size is not a multiple of AccumSteps.
func (t *Trainer) TrainEpoch(ctx context.Context, loader dataset.Loader, opt Optimizer, epoch int) (EpochStats, error) {
	if t.AccumSteps <= 0 {
		return EpochStats{}, fmt.Errorf("accumulation steps must be positive, got %d", t.AccumSteps)
	}
	logger := t.epochLogger(epoch, "train")
	t.Detector.SetTraining(true)
	loader.Reset()
	// A previous epoch may have discarded a trailing accumulation window
	// without stepping; its gradients must not feed this epoch's first step.
	opt.ZeroGrad()

	stats := EpochStats{Phase: loss.PhaseFor(epoch, t.MaxEpochs)}
	scale := 1 / float64(t.AccumSteps)
	var scores []float64
	var labels []int
	total := loader.NumBatches()

	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		batch, err := loader.Next(ctx)
		if err != nil {
			return stats, fmt.Errorf("load batch %d: %w", stats.Batches, err)
		}
		if batch == nil {
			break
		}

		out, err := t.Detector.Forward(ctx, batch.Frames)
		if err != nil {
			return stats, fmt.Errorf("forward batch %d: %w", stats.Batches, err)
		}
		res, err := loss.Combined(out, batch.Labels, t.Criterion, epoch, t.MaxEpochs)
		if err != nil {
			return stats, fmt.Errorf("loss batch %d: %w", stats.Batches, err)
		}
		res.Scale(scale)
		if err := t.Detector.Backward(model.BackwardInput{
			Logits:        res.LogitGrad,
			Spatial:       res.SpatialGrad,
			Temporal:      res.TemporalGrad,
			Inconsistency: res.InconsistencyGrad,
		}); err != nil {
			return stats, fmt.Errorf("backward batch %d: %w", stats.Batches, err)
		}

		size := batch.Frames.Videos
		stats.Loss += res.Total * float64(size)
		stats.Cls += res.Diagnostics.Cls * float64(size)
		stats.Inconsistency += res.Diagnostics.Inconsistency * float64(size)
		stats.Orthogonality += res.Diagnostics.Orthogonality * float64(size)
		stats.Samples += size
		scores = append(scores, out.FakeProbabilities()...)
		labels = append(labels, batch.Labels...)

		stats.Batches++
		if stats.Batches%t.AccumSteps == 0 {
			opt.Step()
			opt.ZeroGrad()
			stats.Steps++
		}
		if t.OnBatch != nil {
			t.OnBatch(stats.Batches, total)
		}
	}

	if loader.NumVideos()%t.AccumSteps != 0 {
		opt.Step()
		opt.ZeroGrad()
		stats.Steps++
	}

	t.finishStats(&stats, scores, labels, logger)
	return stats, nil
}

// ValidateEpoch performs one forward-only pass. Scores come from the same
// criterion configured for validation; no gradients are produced.
func (t *Trainer) ValidateEpoch(ctx context.Context, loader dataset.Loader, epoch int) (EpochStats, error) {
	stats, _, _, err := t.evalPass(ctx, loader, epoch)
	return stats, err
}

// EvaluateReport performs one forward-only pass and computes the full binary
// evaluation report from the collected scores.
func (t *Trainer) EvaluateReport(ctx context.Context, loader dataset.Loader, epoch int) (*metrics.BinaryReport, EpochStats, error) {
	stats, scores, labels, err := t.evalPass(ctx, loader, epoch)
	if err != nil {
		return nil, stats, err
	}
	report, err := metrics.Evaluate(scores, labels)
	if err != nil {
		return nil, stats, fmt.Errorf("evaluate: %w", err)
	}
	return report, stats, nil
}

func (t *Trainer) evalPass(ctx context.Context, loader dataset.Loader, epoch int) (EpochStats, []float64, []int, error) {
	logger := t.epochLogger(epoch, "val")
	t.Detector.SetTraining(false)
	loader.Reset()

	stats := EpochStats{Phase: loss.PhaseFor(epoch, t.MaxEpochs)}
	var scores []float64
	var labels []int
	total := loader.NumBatches()

	for {
		if err := ctx.Err(); err != nil {
			return stats, nil, nil, err
		}
		batch, err := loader.Next(ctx)
		if err != nil {
			return stats, nil, nil, fmt.Errorf("load batch %d: %w", stats.Batches, err)
		}
		if batch == nil {
			break
		}

		out, err := t.Detector.Forward(ctx, batch.Frames)
		if err != nil {
			return stats, nil, nil, fmt.Errorf("forward batch %d: %w", stats.Batches, err)
		}
		res, err := loss.Combined(out, batch.Labels, t.Criterion, epoch, t.MaxEpochs)
		if err != nil {
			return stats, nil, nil, fmt.Errorf("loss batch %d: %w", stats.Batches, err)
		}

		size := batch.Frames.Videos
		stats.Loss += res.Total * float64(size)
		stats.Cls += res.Diagnostics.Cls * float64(size)
		stats.Inconsistency += res.Diagnostics.Inconsistency * float64(size)
		stats.Orthogonality += res.Diagnostics.Orthogonality * float64(size)
		stats.Samples += size
		scores = append(scores, out.FakeProbabilities()...)
		labels = append(labels, batch.Labels...)

		stats.Batches++
		if t.OnBatch != nil {
			t.OnBatch(stats.Batches, total)
		}
	}

	t.finishStats(&stats, scores, labels, logger)
	return stats, scores, labels, nil
}

// finishStats converts running sums to means and fills in accuracy and AUC.
// A single-class pass gets a chance-level AUC with a warning rather than an
// aborted epoch.
func (t *Trainer) finishStats(stats *EpochStats, scores []float64, labels []int, logger *slog.Logger) {
	if stats.Samples > 0 {
		n := float64(stats.Samples)
		stats.Loss /= n
		stats.Cls /= n
		stats.Inconsistency /= n
		stats.Orthogonality /= n
	}

	correct := 0
	for i, score := range scores {
		predicted := dataset.LabelReal
		if score >= 0.5 {
			predicted = dataset.LabelFake
		}
		if predicted == labels[i] {
			correct++
		}
	}
	if len(scores) > 0 {
		stats.Accuracy = float64(correct) / float64(len(scores))
	}

	auc, err := metrics.AUC(scores, labels)
	switch {
	case err == nil:
		stats.AUC = auc
	case errors.Is(err, metrics.ErrSingleClass):
		stats.AUC = 0.5
		logger.Warn("single-class pass, reporting chance-level AUC")
	}
}

func (t *Trainer) epochLogger(epoch int, split string) *slog.Logger {
	logger := t.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return logging.NewComponentLogger(logger, "trainer").With(
		logging.Int(logging.FieldEpoch, epoch),
		logging.String("split", split),
	)
}
