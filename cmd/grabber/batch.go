package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lyzr/mediagrab/common/bootstrap"
	"github.com/lyzr/mediagrab/common/models"
)

var batchCommand = &cobra.Command{
	Use:   "batch [url...]",
	Short: "Download and deliver a list of links",
	Long: `Processes links concurrently with the configured worker pool. Links come from arguments,
from --file (one per line, # comments allowed) or from the requester's session with --session.`,
	RunE: runBatch,
}

var (
	batchFile      string
	batchRequester string
	batchSession   bool
)

func init() {
	batchCommand.Flags().StringVarP(&batchFile, "file", "f", "", "File with one link per line (- for stdin)")
	batchCommand.Flags().StringVarP(&batchRequester, "requester", "r", "cli", "Requester id used for dedupe and delivery")
	batchCommand.Flags().BoolVar(&batchSession, "session", false, "Download every link in the requester's session")
	rootCmd.AddCommand(batchCommand)
}

func runBatch(cmd *cobra.Command, args []string) error {
	links := append([]string(nil), args...)
	if batchFile != "" {
		fromFile, err := readLinks(batchFile)
		if err != nil {
			return err
		}
		links = append(links, fromFile...)
	}

	ctx, stop := signalContext()
	defer stop()

	components, c, err := setup(ctx, bootstrap.WithoutTelemetry())
	if err != nil {
		return err
	}
	defer components.Shutdown(ctx)

	var sess *models.SessionEntry
	if batchSession {
		sess, err = c.Service.Session(ctx, batchRequester)
		if err != nil {
			return err
		}
		links = append(links, sess.Links...)
	}
	if len(links) == 0 {
		return fmt.Errorf("no links given")
	}

	result := c.Service.RunBatch(ctx, batchRequester, links, sess)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return err
	}
	if result.Failed > 0 {
		return fmt.Errorf("%d of %d links failed", result.Failed, result.Total)
	}
	return nil
}

func readLinks(path string) ([]string, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open links file: %w", err)
		}
		defer f.Close()
		r = f
	}
	return parseLinks(r)
}

// parseLinks returns non-empty, non-comment lines
func parseLinks(r io.Reader) ([]string, error) {
	var links []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		links = append(links, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read links: %w", err)
	}
	return links, nil
}
