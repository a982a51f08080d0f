package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/lyzr/mediagrab/common/clients"
	"github.com/lyzr/mediagrab/common/metrics"
	"github.com/lyzr/mediagrab/common/models"
)

func (e *Engine) fetchPlaylist(ctx context.Context, loc models.Locator, title string) (*models.Artifact, error) {
	plan := loc.Segments
	if len(plan) == 0 {
		if e.plans == nil {
			return nil, fmt.Errorf("%w: no segment plan for %s", ErrNoSegments, loc.URL)
		}
		var err error
		plan, err = e.plans.ResolvePlaylist(ctx, loc.URL)
		if err != nil {
			return nil, err
		}
	}
	if len(plan) == 0 {
		return nil, fmt.Errorf("%w: empty plan for %s", ErrNoSegments, loc.URL)
	}

	scratch := filepath.Join(e.opts.Dir, "segments_"+uuid.NewString())
	if err := os.MkdirAll(scratch, 0o755); err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	e.log.Info("downloading playlist", "url", loc.URL, "segments", len(plan))

	var total atomic.Int64
	budget := func(delta int64) error {
		if e.opts.MaxFileSize > 0 && total.Add(delta) > e.opts.MaxFileSize {
			return fmt.Errorf("%w: playlist exceeds %d bytes", ErrTooLarge, e.opts.MaxFileSize)
		}
		return nil
	}

	fetched := make([]bool, len(plan))
	var failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.SegmentConcurrency)
	for i, segURL := range plan {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			err := e.fetchSegment(gctx, segURL, segmentPath(scratch, i), budget)
			switch {
			case err == nil:
				fetched[i] = true
				return nil
			case errors.Is(err, ErrTooLarge):
				return err
			case ctx.Err() != nil:
				return ctx.Err()
			default:
				failed.Add(1)
				metrics.RecordSegmentFailure()
				e.log.Warn("segment skipped", "index", i, "url", segURL, "error", err)
				return nil
			}
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	name := DeriveFilename(title, loc.URL, true, e.opts.FilenameMaxLength)
	finalPath := uniquePath(e.opts.Dir, name)

	size, count, err := concatSegments(finalPath, scratch, fetched)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, fmt.Errorf("%w: all %d segments failed", ErrNoSegments, len(plan))
	}

	e.log.Info("playlist assembled", "file", filepath.Base(finalPath), "segments", count, "skipped", failed.Load())
	return &models.Artifact{
		Path:      finalPath,
		Filename:  filepath.Base(finalPath),
		Size:      size,
		SourceURL: loc.URL,
		CreatedAt: time.Now(),
	}, nil
}

func (e *Engine) fetchSegment(ctx context.Context, segURL, dest string, budget func(int64) error) error {
	if e.opts.SegmentTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.SegmentTimeout)
		defer cancel()
	}

	resp, err := e.segments.DoRequest(ctx, http.MethodGet, segURL, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &clients.FetchError{URL: segURL, StatusCode: resp.StatusCode, Message: fmt.Sprintf("HTTP %d", resp.StatusCode)}
	}

	// bytes of a segment that does not land are returned to the budget
	var counted int64
	count := func(delta int64) error {
		counted += delta
		return budget(delta)
	}
	if _, err = writeAtomically(dest, resp.Body, &meter{counter: count}); err != nil {
		_ = budget(-counted)
		return err
	}
	return nil
}

func segmentPath(dir string, i int) string {
	return filepath.Join(dir, fmt.Sprintf("seg_%04d.ts", i))
}

// concatSegments appends the fetched segments to dest in plan order
func concatSegments(dest, scratch string, fetched []bool) (int64, int, error) {
	tmpPath := dest + partSuffix
	out, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, 0, fmt.Errorf("create %s: %w", filepath.Base(tmpPath), err)
	}

	fail := func(err error) (int64, int, error) {
		out.Close()
		os.Remove(tmpPath)
		return 0, 0, err
	}

	var size int64
	count := 0
	for i, ok := range fetched {
		if !ok {
			continue
		}
		n, err := appendFile(out, segmentPath(scratch, i))
		if err != nil {
			return fail(fmt.Errorf("append segment %d: %w", i, err))
		}
		size += n
		count++
	}

	if count == 0 {
		return fail(nil)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmpPath)
		return 0, 0, fmt.Errorf("close %s: %w", filepath.Base(dest), err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		os.Remove(tmpPath)
		return 0, 0, fmt.Errorf("rename %s: %w", filepath.Base(dest), err)
	}
	return size, count, nil
}

func appendFile(dst io.Writer, path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return io.Copy(dst, f)
}
