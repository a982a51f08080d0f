package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lyzr/mediagrab/common/bootstrap"
)

var sweepCommand = &cobra.Command{
	Use:   "sweep",
	Short: "Prune the ledger, clean the download folder and resolve pending deliveries",
	RunE:  runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCommand)
}

func runSweep(cmd *cobra.Command, _ []string) error {
	ctx, stop := signalContext()
	defer stop()

	components, c, err := setup(ctx, bootstrap.WithoutTelemetry())
	if err != nil {
		return err
	}
	defer components.Shutdown(ctx)

	delivered, failed := c.Service.Recover(ctx)
	pruned := c.Ledger.Sweep(ctx)
	removed, err := c.Janitor.Sweep(time.Now())
	if err != nil {
		return fmt.Errorf("clean download folder: %w", err)
	}

	components.Logger.WithFields(map[string]any{
		"recovered":     delivered,
		"marked_failed": failed,
		"ledger_pruned": pruned,
		"files_removed": removed,
	}).Info("sweep complete")
	return nil
}
