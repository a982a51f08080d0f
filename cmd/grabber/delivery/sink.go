// Package delivery hands finished artifacts to a requester through a Sink.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/lyzr/mediagrab/common/models"
)

// ErrPermanent marks failures that retrying cannot fix
var ErrPermanent = errors.New("permanent delivery failure")

// Metadata describes an artifact's place in a request
type Metadata struct {
	Index     int    `json:"index"` // 1-based
	Total     int    `json:"total"`
	Title     string `json:"title,omitempty"`
	SourceURL string `json:"source_url"`
	Caption   string `json:"caption"`
}

// Sink transports artifacts and notices to a recipient
type Sink interface {
	Deliver(ctx context.Context, recipient string, artifact *models.Artifact, md Metadata) error
	Notify(ctx context.Context, recipient, text string) error
}

// StatusError is a non-2xx answer from a remote sink
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("sink answered HTTP %d: %s", e.Code, e.Body)
	}
	return fmt.Sprintf("sink answered HTTP %d", e.Code)
}

// IsTransient reports whether err is worth another attempt: timeouts,
// resets, truncated streams, and 5xx/429 answers
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, ErrPermanent) || errors.Is(err, context.Canceled) {
		return false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code == 429 || statusErr.Code >= 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF)
}

// Caption renders the text sent alongside an artifact
func Caption(filename string, size int64, index, total int) string {
	name := strings.TrimSuffix(filename, filepath.Ext(filename))
	sizeMB := float64(size) / 1024 / 1024
	if total > 1 {
		return fmt.Sprintf("%d/%d %s\n%.2fMB", index, total, name, sizeMB)
	}
	return fmt.Sprintf("%s\n%.2fMB", name, sizeMB)
}

var contentTypes = map[string]string{
	".mp4":  "video/mp4",
	".webm": "video/webm",
	".mkv":  "video/x-matroska",
	".avi":  "video/x-msvideo",
	".mov":  "video/quicktime",
	".flv":  "video/x-flv",
	".wmv":  "video/x-ms-wmv",
}

// ContentType maps a filename to its media type, defaulting to video/mp4
func ContentType(filename string) string {
	if ct, ok := contentTypes[strings.ToLower(filepath.Ext(filename))]; ok {
		return ct
	}
	return "video/mp4"
}
