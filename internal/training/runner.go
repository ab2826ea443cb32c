package training

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/schollz/progressbar/v3"

	"veritect/internal/checkpoint"
	"veritect/internal/config"
	"veritect/internal/dataset"
	"veritect/internal/device"
	"veritect/internal/extractor"
	"veritect/internal/logging"
	"veritect/internal/loss"
	"veritect/internal/model"
	"veritect/internal/nn"
	"veritect/internal/runstore"
)

// discoverTimeout bounds the udev render-node crawl at startup.
const discoverTimeout = 2 * time.Second

// Runner wires configuration, data, model, and persistence into a full
// training run.
type Runner struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *runstore.Store

	// Devices overrides udev discovery when non-nil.
	Devices []string
	// Interactive enables the per-epoch progress bar.
	Interactive bool
}

// NewRunner builds a runner over an opened run store.
func NewRunner(cfg *config.Config, logger *slog.Logger, store *runstore.Store) *Runner {
	return &Runner{
		cfg:    cfg,
		logger: logging.NewComponentLogger(logger, "runner"),
		store:  store,
	}
}

// Summary reports the outcome of a completed run.
type Summary struct {
	RunID          string
	Epochs         int
	Devices        []string
	BestValAUC     float64
	BestEpoch      int
	BestCheckpoint string
	LastCheckpoint string
}

// Run executes the configured number of epochs. Only one run may hold the
// output directory at a time.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	cfg := r.cfg
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	lock := flock.New(filepath.Join(cfg.Paths.OutputDir, "veritect.lock"))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	if !ok {
		return nil, errors.New("another training run is already using this output directory")
	}
	defer func() { _ = lock.Unlock() }()

	devices := r.Devices
	if devices == nil {
		devices = device.Resolve(cfg.Training.Devices, device.Discover(r.logger, discoverTimeout))
	}
	r.logger.Info("devices resolved", logging.Any("devices", devices))

	det, trainLoader, valLoader, err := r.build(devices)
	if err != nil {
		return nil, err
	}
	opt := nn.NewAdam(det.Parameters(), cfg.Training.LearningRate, cfg.Training.WeightDecay)

	criterion, err := CriterionFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	trainer := &Trainer{
		Detector:   det,
		Criterion:  criterion,
		AccumSteps: cfg.Training.AccumSteps,
		MaxEpochs:  cfg.Training.Epochs,
		Logger:     r.logger,
	}
	// Validation scores epochs with the same criterion training uses; the
	// standalone eval command is where BCE takes over.
	validator := &Trainer{
		Detector:  det,
		Criterion: criterion,
		MaxEpochs: cfg.Training.Epochs,
		Logger:    r.logger,
	}

	configJSON, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	run, err := r.store.BeginRun(ctx, string(configJSON), devices)
	if err != nil {
		return nil, err
	}

	summary, err := r.epochs(ctx, run.ID, det, opt, trainer, validator, trainLoader, valLoader)
	if err != nil {
		if failErr := r.store.FailRun(context.WithoutCancel(ctx), run.ID, err.Error()); failErr != nil {
			r.logger.Warn("failed to record run failure", logging.Error(failErr))
		}
		return nil, err
	}
	if err := r.store.CompleteRun(ctx, run.ID); err != nil {
		return nil, err
	}
	summary.RunID = run.ID
	summary.Devices = devices
	return summary, nil
}

func (r *Runner) epochs(
	ctx context.Context,
	runID string,
	det *model.Detector,
	opt *nn.Adam,
	trainer, validator *Trainer,
	trainLoader, valLoader dataset.Loader,
) (*Summary, error) {
	cfg := r.cfg
	checkpointDir := filepath.Join(cfg.Paths.OutputDir, "checkpoints")
	summary := &Summary{
		Epochs:         cfg.Training.Epochs,
		BestCheckpoint: filepath.Join(checkpointDir, "best.json"),
		LastCheckpoint: filepath.Join(checkpointDir, "last.json"),
	}
	best := 0.0
	bestEpoch := -1
	unfrozen := false

	for epoch := 0; epoch < cfg.Training.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		lr := nn.CosineLR(cfg.Training.LearningRate, cfg.Training.MinLR, epoch, cfg.Training.Epochs)
		opt.SetLR(lr)

		if groups := FineTuneGroups(epoch, cfg.Training.Epochs); groups != nil && !unfrozen {
			applied := det.Unfreeze(groups)
			unfrozen = true
			r.logger.Info("fine-tuning stage reached, extractor blocks unfrozen",
				logging.Int(logging.FieldEpoch, epoch),
				logging.Int("groups", applied),
			)
		}

		bar := r.progressBar(trainer, trainLoader.NumBatches(), epoch)
		trainStats, err := trainer.TrainEpoch(ctx, trainLoader, opt, epoch)
		r.finishBar(trainer, bar)
		if err != nil {
			return nil, fmt.Errorf("train epoch %d: %w", epoch, err)
		}
		valStats, err := validator.ValidateEpoch(ctx, valLoader, epoch)
		if err != nil {
			return nil, fmt.Errorf("validate epoch %d: %w", epoch, err)
		}

		for _, rec := range []struct {
			split string
			stats EpochStats
		}{{"train", trainStats}, {"val", valStats}} {
			split, stats := rec.split, rec.stats
			if err := r.store.RecordEpoch(ctx, runID, runstore.EpochMetrics{
				Epoch:         epoch,
				Split:         split,
				Phase:         stats.Phase.String(),
				Loss:          stats.Loss,
				Cls:           stats.Cls,
				Inconsistency: stats.Inconsistency,
				Orthogonality: stats.Orthogonality,
				Accuracy:      stats.Accuracy,
				AUC:           stats.AUC,
				LearningRate:  lr,
			}); err != nil {
				return nil, err
			}
		}

		optState, err := json.Marshal(opt.State())
		if err != nil {
			return nil, fmt.Errorf("encode optimizer state: %w", err)
		}
		env := &checkpoint.Envelope{
			Epoch:          epoch,
			ModelState:     checkpoint.Capture(det.Parameters()),
			OptimizerState: optState,
			BestValAUC:     best,
		}
		if valStats.AUC > best {
			best = valStats.AUC
			bestEpoch = epoch
			env.BestValAUC = best
			if err := checkpoint.Save(summary.BestCheckpoint, env); err != nil {
				return nil, err
			}
			if err := r.store.UpdateBest(ctx, runID, best, epoch); err != nil {
				return nil, err
			}
		}
		if err := checkpoint.Save(summary.LastCheckpoint, env); err != nil {
			return nil, err
		}

		r.logger.Info("epoch complete",
			logging.Int(logging.FieldEpoch, epoch),
			logging.String(logging.FieldPhase, trainStats.Phase.String()),
			logging.Float64("train_loss", trainStats.Loss),
			logging.Float64("train_acc", trainStats.Accuracy),
			logging.Float64("val_loss", valStats.Loss),
			logging.Float64("val_acc", valStats.Accuracy),
			logging.Float64("val_auc", valStats.AUC),
			logging.Float64("lr", lr),
		)
	}

	summary.BestValAUC = best
	summary.BestEpoch = bestEpoch
	return summary, nil
}

// build assembles the detector and both loaders from configuration.
func (r *Runner) build(devices []string) (*model.Detector, dataset.Loader, dataset.Loader, error) {
	cfg := r.cfg
	det, err := NewDetectorFromConfig(cfg, devices)
	if err != nil {
		return nil, nil, nil, err
	}

	trainLoader, err := NewLoader(cfg, cfg.Dataset.TrainVideos, cfg.Training.Seed, true)
	if err != nil {
		return nil, nil, nil, err
	}
	valLoader, err := NewLoader(cfg, cfg.Dataset.ValVideos, cfg.Training.Seed+1, false)
	if err != nil {
		return nil, nil, nil, err
	}
	return det, trainLoader, valLoader, nil
}

func (r *Runner) progressBar(trainer *Trainer, batches, epoch int) *progressbar.ProgressBar {
	if !r.Interactive {
		return nil
	}
	bar := progressbar.NewOptions(batches,
		progressbar.OptionSetDescription(fmt.Sprintf("epoch %d/%d", epoch+1, r.cfg.Training.Epochs)),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
	trainer.OnBatch = func(done, total int) { _ = bar.Add(1) }
	return bar
}

func (r *Runner) finishBar(trainer *Trainer, bar *progressbar.ProgressBar) {
	if bar == nil {
		return
	}
	_ = bar.Finish()
	trainer.OnBatch = nil
}

// NewDetectorFromConfig assembles the detector with the reference extractors,
// seeded from the configured seed.
func NewDetectorFromConfig(cfg *config.Config, devices []string) (*model.Detector, error) {
	rng := rand.New(rand.NewSource(cfg.Training.Seed))

	spatial, err := extractor.NewPooledProjection(extractor.SpatialConfig{
		Channels:   cfg.Dataset.Channels,
		FeatureDim: cfg.Training.FeatureDim,
	}, rng)
	if err != nil {
		return nil, err
	}
	temporal, err := extractor.NewFrameDelta(extractor.TemporalConfig{
		FeatureDim: cfg.Training.FeatureDim,
	}, rng)
	if err != nil {
		return nil, err
	}
	return model.NewDetector(model.Config{
		FeatureDim: cfg.Training.FeatureDim,
		HiddenDim:  cfg.Training.HiddenDim,
		Dropout:    cfg.Training.Dropout,
		Devices:    devices,
	}, spatial, temporal, rng)
}

// NewLoader builds a dataset loader from configuration. Only the synthetic
// dataset kind is currently available.
func NewLoader(cfg *config.Config, videos int, seed int64, shuffle bool) (dataset.Loader, error) {
	switch cfg.Dataset.Kind {
	case "", "synthetic":
		return dataset.NewSynthetic(dataset.SyntheticOptions{
			Videos:    videos,
			BatchSize: cfg.Training.BatchSize,
			Frames:    cfg.Training.FrameCount,
			Channels:  cfg.Dataset.Channels,
			Height:    cfg.Dataset.FrameHeight,
			Width:     cfg.Dataset.FrameWidth,
			Seed:      seed,
			Shuffle:   shuffle,
		})
	default:
		return nil, fmt.Errorf("unknown dataset kind %q", cfg.Dataset.Kind)
	}
}

// CriterionFromConfig selects the training criterion.
func CriterionFromConfig(cfg *config.Config) (loss.Criterion, error) {
	switch cfg.Loss.Criterion {
	case "", "focal":
		return loss.NewBinaryFocal(cfg.Loss.FocalAlpha, cfg.Loss.FocalGamma), nil
	case "bce":
		return loss.BCEWithLogits{}, nil
	default:
		return nil, fmt.Errorf("unknown criterion %q", cfg.Loss.Criterion)
	}
}
