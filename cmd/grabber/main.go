// Command grabber fetches videos from web pages and hands them to a
// delivery sink.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lyzr/mediagrab/cmd/grabber/container"
	"github.com/lyzr/mediagrab/common/bootstrap"
)

const serviceName = "grabber"

var rootCmd = &cobra.Command{
	Use:   serviceName,
	Short: "Video acquisition service",
	Long: `grabber resolves web pages to playable media, downloads direct files and HLS playlists,
and delivers the results to an outbox directory or a webhook.

Configuration is read from the environment and an optional .env file.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// setup bootstraps components and the service container for a command
func setup(ctx context.Context, opts ...bootstrap.Option) (*bootstrap.Components, *container.Container, error) {
	components, err := bootstrap.Setup(ctx, serviceName, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to bootstrap %s: %w", serviceName, err)
	}

	c, err := container.NewContainer(ctx, components)
	if err != nil {
		components.Shutdown(context.Background())
		return nil, nil, fmt.Errorf("failed to initialize service container: %w", err)
	}
	return components, c, nil
}
