package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateTraining(); err != nil {
		return err
	}
	if err := c.validateLoss(); err != nil {
		return err
	}
	return c.validateDataset()
}

func (c *Config) validatePaths() error {
	if c.Paths.OutputDir == "" {
		return errors.New("paths.output_dir must be set")
	}
	return nil
}

func (c *Config) validateTraining() error {
	t := c.Training
	if t.Epochs <= 0 {
		return errors.New("training.epochs must be positive")
	}
	if t.BatchSize <= 0 {
		return errors.New("training.batch_size must be positive")
	}
	if t.AccumSteps <= 0 {
		return errors.New("training.accum_steps must be positive")
	}
	if t.LearningRate <= 0 {
		return errors.New("training.learning_rate must be positive")
	}
	if t.MinLR < 0 || t.MinLR > t.LearningRate {
		return errors.New("training.min_learning_rate must be in [0, learning_rate]")
	}
	if t.WeightDecay < 0 {
		return errors.New("training.weight_decay must not be negative")
	}
	if t.FeatureDim <= 0 {
		return errors.New("training.feature_dim must be positive")
	}
	if t.HiddenDim <= 0 {
		return errors.New("training.hidden_dim must be positive")
	}
	if t.FrameCount <= 1 {
		return errors.New("training.frame_count must be at least 2")
	}
	if t.Dropout < 0 || t.Dropout >= 1 {
		return errors.New("training.dropout must be in [0, 1)")
	}
	if t.Devices < 0 {
		return errors.New("training.devices must not be negative")
	}
	return nil
}

func (c *Config) validateLoss() error {
	switch c.Loss.Criterion {
	case "focal":
		if c.Loss.FocalAlpha <= 0 || c.Loss.FocalAlpha >= 1 {
			return errors.New("loss.focal_alpha must be in (0, 1)")
		}
		if c.Loss.FocalGamma < 0 {
			return errors.New("loss.focal_gamma must not be negative")
		}
	case "bce":
	default:
		return fmt.Errorf("loss.criterion: unsupported value %q", c.Loss.Criterion)
	}
	return nil
}

func (c *Config) validateDataset() error {
	d := c.Dataset
	switch d.Kind {
	case "synthetic":
	default:
		return fmt.Errorf("dataset.kind: unsupported value %q", d.Kind)
	}
	if d.TrainVideos <= 0 || d.ValVideos <= 0 {
		return errors.New("dataset.train_videos and dataset.val_videos must be positive")
	}
	if d.Channels <= 0 || d.FrameHeight <= 0 || d.FrameWidth <= 0 {
		return errors.New("dataset frame dimensions must be positive")
	}
	return nil
}
