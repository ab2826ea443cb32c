package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"veritect/internal/device"
)

func newDevicesCommand(ctx *commandContext) *cobra.Command {
	var timeoutFlag time.Duration

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List GPU render nodes visible to training",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := ctx.logger()
			if err != nil {
				return err
			}

			discovered := device.Discover(logger, timeoutFlag)
			if len(discovered) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "no render nodes found; training will fall back to %s\n", device.FallbackDevice)
				return nil
			}

			rows := make([][]string, 0, len(discovered))
			for i, name := range discovered {
				rows = append(rows, []string{fmt.Sprintf("%d", i), name})
			}
			fmt.Fprintln(cmd.OutOrStdout(), listTable([]string{"#", "Device"}, rows, 1))
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeoutFlag, "timeout", 2*time.Second, "udev crawl timeout")
	return cmd
}
