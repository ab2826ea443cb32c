package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"veritect/internal/config"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the veritect configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newConfigShowCommand(ctx))
	cmd.AddCommand(newConfigInitCommand())
	return cmd
}

func newConfigShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "configuration loaded from %s\n", ctx.configPath)

			rows := [][2]string{
				{"paths.data_dir", cfg.Paths.DataDir},
				{"paths.output_dir", cfg.Paths.OutputDir},
				{"paths.log_dir", cfg.Paths.LogDir},
				{"training.epochs", strconv.Itoa(cfg.Training.Epochs)},
				{"training.batch_size", strconv.Itoa(cfg.Training.BatchSize)},
				{"training.accum_steps", strconv.Itoa(cfg.Training.AccumSteps)},
				{"training.learning_rate", strconv.FormatFloat(cfg.Training.LearningRate, 'e', 2, 64)},
				{"training.min_learning_rate", strconv.FormatFloat(cfg.Training.MinLR, 'e', 2, 64)},
				{"training.weight_decay", strconv.FormatFloat(cfg.Training.WeightDecay, 'e', 2, 64)},
				{"training.feature_dim", strconv.Itoa(cfg.Training.FeatureDim)},
				{"training.hidden_dim", strconv.Itoa(cfg.Training.HiddenDim)},
				{"training.frame_count", strconv.Itoa(cfg.Training.FrameCount)},
				{"training.dropout", strconv.FormatFloat(cfg.Training.Dropout, 'f', 2, 64)},
				{"training.seed", strconv.FormatInt(cfg.Training.Seed, 10)},
				{"training.devices", strconv.Itoa(cfg.Training.Devices)},
				{"loss.criterion", cfg.Loss.Criterion},
				{"loss.focal_alpha", strconv.FormatFloat(cfg.Loss.FocalAlpha, 'f', 2, 64)},
				{"loss.focal_gamma", strconv.FormatFloat(cfg.Loss.FocalGamma, 'f', 2, 64)},
				{"dataset.kind", cfg.Dataset.Kind},
				{"dataset.train_videos", strconv.Itoa(cfg.Dataset.TrainVideos)},
				{"dataset.val_videos", strconv.Itoa(cfg.Dataset.ValVideos)},
				{"dataset.channels", strconv.Itoa(cfg.Dataset.Channels)},
				{"dataset.frame_height", strconv.Itoa(cfg.Dataset.FrameHeight)},
				{"dataset.frame_width", strconv.Itoa(cfg.Dataset.FrameWidth)},
				{"logging.level", cfg.Logging.Level},
				{"logging.format", cfg.Logging.Format},
			}
			fmt.Fprintln(cmd.OutOrStdout(), kvTable("Setting", "Value", rows))
			return nil
		},
	}
}

func newConfigInitCommand() *cobra.Command {
	var pathFlag string

	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Write a sample configuration file",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			path := pathFlag
			if path == "" {
				defaultPath, err := config.DefaultConfigPath()
				if err != nil {
					return err
				}
				path = defaultPath
			}
			if err := config.WriteSample(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sample configuration written to %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringVar(&pathFlag, "path", "", "Destination path (defaults to the user config location)")
	return cmd
}
