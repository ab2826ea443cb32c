package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"veritect/internal/checkpoint"
	"veritect/internal/device"
	"veritect/internal/logging"
	"veritect/internal/loss"
	"veritect/internal/report"
	"veritect/internal/training"
)

func newEvalCommand(ctx *commandContext) *cobra.Command {
	var (
		checkpointFlag string
		splitFlag      string
		csvFlag        string
		jsonFlag       string
	)

	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Evaluate a checkpoint against a dataset split",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.logger()
			if err != nil {
				return err
			}

			path := checkpointFlag
			if path == "" {
				path = filepath.Join(cfg.Paths.OutputDir, "checkpoints", "best.json")
			}
			state, err := checkpoint.LoadModelState(path)
			if err != nil {
				return err
			}

			det, err := training.NewDetectorFromConfig(cfg, []string{device.FallbackDevice})
			if err != nil {
				return err
			}
			applied, skipped := checkpoint.Apply(state, det.Parameters())
			logger.Info("checkpoint loaded",
				logging.String("path", path),
				logging.Int("tensors_applied", applied),
				logging.Int("tensors_skipped", len(skipped)),
			)
			if len(skipped) > 0 {
				logger.Warn("some tensors were not restored", logging.Any("skipped", skipped))
			}

			var videos int
			var seed int64
			switch splitFlag {
			case "val":
				videos, seed = cfg.Dataset.ValVideos, cfg.Training.Seed+1
			case "train":
				videos, seed = cfg.Dataset.TrainVideos, cfg.Training.Seed
			default:
				return fmt.Errorf("unknown split %q (expected train or val)", splitFlag)
			}
			loader, err := training.NewLoader(cfg, videos, seed, false)
			if err != nil {
				return err
			}

			trainer := &training.Trainer{
				Detector:  det,
				Criterion: loss.BCEWithLogits{},
				MaxEpochs: cfg.Training.Epochs,
				Logger:    logger,
			}
			rep, stats, err := trainer.EvaluateReport(cmd.Context(), loader, cfg.Training.Epochs)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), report.RenderTable(rep))
			fmt.Fprintf(cmd.OutOrStdout(), "loss %.4f over %d videos\n", stats.Loss, stats.Samples)

			csvPath := csvFlag
			if csvPath == "" {
				csvPath = filepath.Join(cfg.Paths.OutputDir, "eval", "report.csv")
			}
			jsonPath := jsonFlag
			if jsonPath == "" {
				jsonPath = filepath.Join(cfg.Paths.OutputDir, "eval", "report.json")
			}
			if err := report.WriteCSV(csvPath, rep); err != nil {
				return err
			}
			if err := report.WriteJSON(jsonPath, rep); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "report written to %s and %s\n", csvPath, jsonPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&checkpointFlag, "checkpoint", "", "Checkpoint path (defaults to the best checkpoint)")
	cmd.Flags().StringVar(&splitFlag, "split", "val", "Dataset split to evaluate (train or val)")
	cmd.Flags().StringVar(&csvFlag, "csv", "", "CSV report path")
	cmd.Flags().StringVar(&jsonFlag, "json", "", "JSON report path")
	return cmd
}
