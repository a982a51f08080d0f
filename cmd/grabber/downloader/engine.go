// Package downloader transfers resolved locators to local storage with
// size bounds, and removes everything it wrote when an attempt fails.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/lyzr/mediagrab/common/config"
	"github.com/lyzr/mediagrab/common/logger"
	"github.com/lyzr/mediagrab/common/metrics"
	"github.com/lyzr/mediagrab/common/models"
)

var (
	// ErrTooLarge means the transfer exceeded the configured maximum size
	ErrTooLarge = errors.New("file too large")
	// ErrTooSmall means the result is below the minimum size, usually an error page
	ErrTooSmall = errors.New("file too small")
	// ErrNotMedia means the server answered with an HTML document
	ErrNotMedia = errors.New("response is not media")
	// ErrNoSegments means no playlist segment could be retrieved
	ErrNoSegments = errors.New("no segments downloaded")
)

const partSuffix = ".part"

// Fetcher issues gated requests. The caller closes the response body.
type Fetcher interface {
	DoRequest(ctx context.Context, method, url string, body io.Reader) (*http.Response, error)
}

// PlanResolver produces a segment plan for a manifest URL
type PlanResolver interface {
	ResolvePlaylist(ctx context.Context, manifestURL string) ([]string, error)
}

// Options bounds a download
type Options struct {
	Dir                string
	MaxFileSize        int64
	MinFileSize        int64
	DownloadTimeout    time.Duration
	SegmentTimeout     time.Duration
	SegmentConcurrency int
	FilenameMaxLength  int
	ProgressStep       int // percent
}

// OptionsFrom maps acquisition config onto engine options
func OptionsFrom(cfg config.AcquisitionConfig) Options {
	return Options{
		Dir:                cfg.DownloadFolder,
		MaxFileSize:        cfg.MaxFileSize,
		MinFileSize:        cfg.MinFileSize,
		DownloadTimeout:    cfg.DownloadTimeout,
		SegmentTimeout:     cfg.SegmentTimeout,
		SegmentConcurrency: cfg.SegmentConcurrency,
		FilenameMaxLength:  cfg.FilenameMaxLength,
		ProgressStep:       cfg.ProgressStep,
	}
}

// Engine downloads direct files and HLS playlists
type Engine struct {
	client   Fetcher
	segments Fetcher
	plans    PlanResolver
	opts     Options
	log      logger.Interface
}

// New creates an engine. segments is the client used for playlist segments,
// typically one with a tighter redirect cap.
func New(client, segments Fetcher, plans PlanResolver, opts Options, log logger.Interface) *Engine {
	if segments == nil {
		segments = client
	}
	if opts.SegmentConcurrency <= 0 {
		opts.SegmentConcurrency = 4
	}
	if opts.FilenameMaxLength <= 0 {
		opts.FilenameMaxLength = DefaultFilenameMaxLength
	}
	return &Engine{client: client, segments: segments, plans: plans, opts: opts, log: log}
}

// Fetch downloads loc into the download folder
func (e *Engine) Fetch(ctx context.Context, loc models.Locator, title string) (*models.Artifact, error) {
	if err := os.MkdirAll(e.opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create download folder: %w", err)
	}

	started := time.Now()
	var (
		artifact *models.Artifact
		err      error
	)
	switch loc.Kind {
	case models.KindPlaylist:
		artifact, err = e.fetchPlaylist(ctx, loc, title)
	default:
		artifact, err = e.fetchDirect(ctx, loc, title)
	}

	if err != nil {
		metrics.RecordDownload(string(loc.Kind), metrics.OutcomeFailed, 0, started)
		e.log.Warn("download failed", "url", loc.URL, "kind", loc.Kind, "error", err)
		return nil, err
	}

	metrics.RecordDownload(string(loc.Kind), metrics.OutcomeSuccess, artifact.Size, started)
	e.log.Info("download complete",
		"url", loc.URL,
		"file", artifact.Filename,
		"size_mb", fmt.Sprintf("%.2f", artifact.SizeMB()),
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return artifact, nil
}

// Discard removes a delivered or abandoned artifact
func (e *Engine) Discard(a *models.Artifact) error {
	if a == nil || a.Path == "" {
		return nil
	}
	if err := os.Remove(a.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", a.Filename, err)
	}
	return nil
}

// meter counts bytes through to w and fails once more than max have passed
type meter struct {
	w       io.Writer
	n       int64
	max     int64
	total   int64 // declared length, 0 when unknown
	step    int64
	next    int64
	onStep  func(pct, written int64)
	counter func(delta int64) error
}

func (m *meter) Write(p []byte) (int, error) {
	if m.counter != nil {
		if err := m.counter(int64(len(p))); err != nil {
			return 0, err
		}
	}
	if m.max > 0 && m.n+int64(len(p)) > m.max {
		return 0, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, m.max)
	}
	n, err := m.w.Write(p)
	m.n += int64(n)

	if m.total > 0 && m.step > 0 && m.onStep != nil {
		pct := m.n * 100 / m.total
		for pct >= m.next && m.next <= 100 {
			m.onStep(m.next, m.n)
			m.next += m.step
		}
	}
	return n, err
}
