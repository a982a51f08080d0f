package downloader

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lyzr/mediagrab/common/clients"
	"github.com/lyzr/mediagrab/common/models"
)

func (e *Engine) fetchDirect(ctx context.Context, loc models.Locator, title string) (*models.Artifact, error) {
	if e.opts.DownloadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.DownloadTimeout)
		defer cancel()
	}

	resp, err := e.client.DoRequest(ctx, http.MethodGet, loc.URL, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &clients.FetchError{URL: loc.URL, StatusCode: resp.StatusCode, Message: fmt.Sprintf("HTTP %d", resp.StatusCode)}
	}
	if isHTML(resp.Header.Get("Content-Type")) {
		return nil, fmt.Errorf("%w: %s served %s", ErrNotMedia, loc.URL, resp.Header.Get("Content-Type"))
	}
	if e.opts.MaxFileSize > 0 && resp.ContentLength > e.opts.MaxFileSize {
		return nil, fmt.Errorf("%w: declared %d bytes, limit %d", ErrTooLarge, resp.ContentLength, e.opts.MaxFileSize)
	}

	name := DeriveFilename(title, loc.URL, false, e.opts.FilenameMaxLength)
	finalPath := uniquePath(e.opts.Dir, name)

	m := &meter{
		max:   e.opts.MaxFileSize,
		total: max(resp.ContentLength, 0),
		step:  int64(e.opts.ProgressStep),
		next:  int64(e.opts.ProgressStep),
		onStep: func(pct, written int64) {
			e.log.Debug("download progress", "file", filepath.Base(finalPath), "percent", pct, "bytes", written)
		},
	}
	size, err := writeAtomically(finalPath, resp.Body, m)
	if err != nil {
		return nil, err
	}

	if size < e.opts.MinFileSize {
		_ = os.Remove(finalPath)
		return nil, fmt.Errorf("%w: %d bytes, minimum %d", ErrTooSmall, size, e.opts.MinFileSize)
	}

	return &models.Artifact{
		Path:      finalPath,
		Filename:  filepath.Base(finalPath),
		Size:      size,
		SourceURL: loc.URL,
		CreatedAt: time.Now(),
	}, nil
}

// writeAtomically streams src through m into finalPath+".part" and renames it
// into place. The partial file is removed on every failure.
func writeAtomically(finalPath string, src io.Reader, m *meter) (int64, error) {
	tmpPath := finalPath + partSuffix
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", filepath.Base(tmpPath), err)
	}

	m.w = f
	if _, err := io.Copy(m, src); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return 0, fmt.Errorf("write %s: %w", filepath.Base(finalPath), err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("close %s: %w", filepath.Base(finalPath), err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("rename %s: %w", filepath.Base(finalPath), err)
	}
	return m.n, nil
}

func isHTML(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}
