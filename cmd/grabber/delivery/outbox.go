package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/lyzr/mediagrab/cmd/grabber/downloader"
	"github.com/lyzr/mediagrab/common/logger"
	"github.com/lyzr/mediagrab/common/models"
)

const notificationsFile = "notifications.log"

// OutboxSink delivers by moving artifacts into a per-recipient directory
type OutboxSink struct {
	dir     string
	maxSize int64
	log     logger.Interface
	now     func() time.Time
}

// NewOutboxSink creates an outbox rooted at dir
func NewOutboxSink(dir string, maxSize int64, log logger.Interface) *OutboxSink {
	return &OutboxSink{dir: dir, maxSize: maxSize, log: log, now: time.Now}
}

type sidecar struct {
	Metadata
	Filename    string    `json:"filename"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type"`
	DeliveredAt time.Time `json:"delivered_at"`
}

func (s *OutboxSink) recipientDir(recipient string) (string, error) {
	dir := filepath.Join(s.dir, downloader.SanitizeFilename(recipient, 64))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create outbox: %w", err)
	}
	return dir, nil
}

// Deliver moves the artifact and writes a JSON sidecar next to it
func (s *OutboxSink) Deliver(ctx context.Context, recipient string, a *models.Artifact, md Metadata) error {
	if s.maxSize > 0 && a.Size > s.maxSize {
		return fmt.Errorf("%w: %s is %d bytes, sink limit %d", ErrPermanent, a.Filename, a.Size, s.maxSize)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	dir, err := s.recipientDir(recipient)
	if err != nil {
		return err
	}

	dest := filepath.Join(dir, a.Filename)
	if err := moveFile(a.Path, dest); err != nil {
		return fmt.Errorf("move %s: %w", a.Filename, err)
	}

	meta, err := json.MarshalIndent(sidecar{
		Metadata:    md,
		Filename:    a.Filename,
		Size:        a.Size,
		ContentType: ContentType(a.Filename),
		DeliveredAt: s.now(),
	}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(dest+".json", meta, 0o644); err != nil {
		return fmt.Errorf("write sidecar: %w", err)
	}

	s.log.Info("artifact delivered to outbox", "recipient", recipient, "file", a.Filename, "index", md.Index, "total", md.Total)
	return nil
}

// Notify appends a timestamped line to the recipient's notification log
func (s *OutboxSink) Notify(ctx context.Context, recipient, text string) error {
	dir, err := s.recipientDir(recipient)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(filepath.Join(dir, notificationsFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open notifications: %w", err)
	}
	defer f.Close()

	_, err = fmt.Fprintf(f, "%s\t%s\n", s.now().UTC().Format(time.RFC3339), text)
	return err
}

// moveFile renames src to dst, copying when they are on different devices
func moveFile(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil || !errors.Is(err, syscall.EXDEV) {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return err
	}
	return os.Remove(src)
}
