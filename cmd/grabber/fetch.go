package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lyzr/mediagrab/common/bootstrap"
)

var fetchCommand = &cobra.Command{
	Use:   "fetch <url>",
	Short: "Acquire a single URL and deliver it",
	Long: `Runs one URL through the same pipeline as POST /v1/requests. Direct media and single-video
pages are downloaded and delivered; listings and multi-video pages are stored as a session
for the requester and printed.`,
	Args: cobra.ExactArgs(1),
	RunE: runFetch,
}

var fetchRequester string

func init() {
	fetchCommand.Flags().StringVarP(&fetchRequester, "requester", "r", "cli", "Requester id used for dedupe, sessions and delivery")
	rootCmd.AddCommand(fetchCommand)
}

func runFetch(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	components, c, err := setup(ctx, bootstrap.WithoutTelemetry())
	if err != nil {
		return err
	}
	defer components.Shutdown(ctx)

	res, err := c.Service.Submit(ctx, fetchRequester, args[0])
	if err != nil {
		return fmt.Errorf("fetch %s: %w", args[0], err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
