package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"veritect/internal/runstore"
	"veritect/internal/training"
)

func newTrainCommand(ctx *commandContext) *cobra.Command {
	var devicesFlag int

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Run a full training schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("devices") {
				cfg.Training.Devices = devicesFlag
			}
			logger, err := ctx.logger()
			if err != nil {
				return err
			}

			store, err := runstore.Open(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			runner := training.NewRunner(cfg, logger, store)
			runner.Interactive = isatty.IsTerminal(os.Stderr.Fd())

			summary, err := runner.Run(cmd.Context())
			if err != nil {
				return err
			}

			printer := message.NewPrinter(language.English)
			rows := [][2]string{
				{"Run", summary.RunID},
				{"Epochs", printer.Sprintf("%d", summary.Epochs)},
				{"Devices", strings.Join(summary.Devices, ", ")},
				{"Best val AUC", strconv.FormatFloat(summary.BestValAUC, 'f', 4, 64)},
				{"Best epoch", strconv.Itoa(summary.BestEpoch)},
				{"Best checkpoint", summary.BestCheckpoint},
				{"Last checkpoint", summary.LastCheckpoint},
			}
			fmt.Fprintln(cmd.OutOrStdout(), kvTable("Field", "Value", rows))
			return nil
		},
	}

	cmd.Flags().IntVar(&devicesFlag, "devices", 0, "Shard device count (0 discovers render nodes)")
	return cmd
}
