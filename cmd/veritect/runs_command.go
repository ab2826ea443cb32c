package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"veritect/internal/runstore"
)

func newRunsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect recorded training runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newRunsListCommand(ctx))
	cmd.AddCommand(newRunsShowCommand(ctx))
	return cmd
}

func newRunsListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List training runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := runstore.Open(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.ListRuns(cmd.Context())
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no runs recorded")
				return nil
			}

			rows := make([][]string, 0, len(runs))
			for _, run := range runs {
				rows = append(rows, []string{
					run.ID,
					string(run.Status),
					run.StartedAt.Local().Format(time.DateTime),
					strings.Join(run.Devices, ", "),
					strconv.FormatFloat(run.BestValAUC, 'f', 4, 64),
					strconv.Itoa(run.BestEpoch),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), listTable(
				[]string{"Run", "Status", "Started", "Devices", "Best AUC", "Best Epoch"},
				rows, 5, 6,
			))
			return nil
		},
	}
}

func newRunsShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run's epoch history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := runstore.Open(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			run, err := store.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if run == nil {
				return fmt.Errorf("run %s not found", args[0])
			}

			fmt.Fprintf(cmd.OutOrStdout(), "run %s (%s), started %s\n",
				run.ID, run.Status, run.StartedAt.Local().Format(time.DateTime))
			if run.ErrorMessage != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "error: %s\n", run.ErrorMessage)
			}

			history, err := store.EpochHistory(cmd.Context(), run.ID)
			if err != nil {
				return err
			}
			if len(history) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no epoch metrics recorded")
				return nil
			}

			rows := make([][]string, 0, len(history))
			for _, m := range history {
				rows = append(rows, []string{
					strconv.Itoa(m.Epoch),
					m.Split,
					m.Phase,
					strconv.FormatFloat(m.Loss, 'f', 4, 64),
					strconv.FormatFloat(m.Accuracy, 'f', 4, 64),
					strconv.FormatFloat(m.AUC, 'f', 4, 64),
					strconv.FormatFloat(m.LearningRate, 'e', 2, 64),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), listTable(
				[]string{"Epoch", "Split", "Phase", "Loss", "Accuracy", "AUC", "LR"},
				rows, 1, 4, 5, 6, 7,
			))
			return nil
		},
	}
}
