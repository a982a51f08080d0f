package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/mediagrab/common/logger"
	"github.com/lyzr/mediagrab/common/models"
)

type scriptedSink struct {
	errs  []error
	calls int
}

func (s *scriptedSink) Deliver(ctx context.Context, recipient string, a *models.Artifact, md Metadata) error {
	s.calls++
	if s.calls <= len(s.errs) {
		return s.errs[s.calls-1]
	}
	return nil
}

func (s *scriptedSink) Notify(ctx context.Context, recipient, text string) error {
	return nil
}

func newRetrying(inner Sink) (*RetryingSink, *[]time.Duration) {
	var waits []time.Duration
	s := NewRetryingSink(inner, RetryPolicy{MaxAttempts: 3, Delay: 2 * time.Second}, logger.Discard())
	s.sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	return s, &waits
}

func writeArtifact(t *testing.T, dir, name string, size int) *models.Artifact {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(strings.Repeat("m", size)), 0o644))
	return &models.Artifact{Path: p, Filename: name, Size: int64(size), SourceURL: "https://a.example/v/1"}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"reset", fmt.Errorf("write: %w", syscall.ECONNRESET), true},
		{"deadline", context.DeadlineExceeded, true},
		{"unexpected eof", io.ErrUnexpectedEOF, true},
		{"server error", &StatusError{Code: 502}, true},
		{"throttled", &StatusError{Code: 429}, true},
		{"bad request", &StatusError{Code: 400}, false},
		{"permanent", fmt.Errorf("%w: too big", ErrPermanent), false},
		{"cancelled", context.Canceled, false},
		{"other", errors.New("malformed recipient"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestRetryingSinkRecoversFromTransient(t *testing.T) {
	inner := &scriptedSink{errs: []error{syscall.ECONNRESET, context.DeadlineExceeded}}
	s, waits := newRetrying(inner)

	err := s.Deliver(context.Background(), "alice", &models.Artifact{Filename: "a.mp4"}, Metadata{})
	require.NoError(t, err)
	assert.Equal(t, 3, inner.calls)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, *waits)
}

func TestRetryingSinkStopsOnPermanent(t *testing.T) {
	inner := &scriptedSink{errs: []error{fmt.Errorf("%w: too large", ErrPermanent)}}
	s, waits := newRetrying(inner)

	err := s.Deliver(context.Background(), "alice", &models.Artifact{Filename: "a.mp4"}, Metadata{})
	require.ErrorIs(t, err, ErrPermanent)
	assert.Equal(t, 1, inner.calls)
	assert.Empty(t, *waits)
}

func TestRetryingSinkGivesUp(t *testing.T) {
	inner := &scriptedSink{errs: []error{syscall.ECONNRESET, syscall.ECONNRESET, syscall.ECONNRESET, nil}}
	s, waits := newRetrying(inner)

	err := s.Deliver(context.Background(), "alice", &models.Artifact{Filename: "a.mp4"}, Metadata{})
	require.ErrorIs(t, err, syscall.ECONNRESET)
	assert.Equal(t, 3, inner.calls)
	assert.Len(t, *waits, 2)
}

func TestOutboxSink(t *testing.T) {
	ctx := context.Background()
	downloads := t.TempDir()
	outbox := t.TempDir()
	sink := NewOutboxSink(outbox, 1000, logger.Discard())

	a := writeArtifact(t, downloads, "clip.mp4", 100)
	md := Metadata{Index: 2, Total: 5, SourceURL: a.SourceURL, Caption: Caption(a.Filename, a.Size, 2, 5)}
	require.NoError(t, sink.Deliver(ctx, "alice", a, md))

	dest := filepath.Join(outbox, "alice", "clip.mp4")
	assert.FileExists(t, dest)
	assert.NoFileExists(t, filepath.Join(downloads, "clip.mp4"))

	raw, err := os.ReadFile(dest + ".json")
	require.NoError(t, err)
	var meta map[string]any
	require.NoError(t, json.Unmarshal(raw, &meta))
	assert.Equal(t, "video/mp4", meta["content_type"])
	assert.EqualValues(t, 2, meta["index"])

	big := writeArtifact(t, downloads, "big.mp4", 2000)
	err = sink.Deliver(ctx, "alice", big, Metadata{})
	require.ErrorIs(t, err, ErrPermanent)
	assert.FileExists(t, big.Path)

	require.NoError(t, sink.Notify(ctx, "alice", "batch done"))
	require.NoError(t, sink.Notify(ctx, "alice", "second"))
	log, err := os.ReadFile(filepath.Join(outbox, "alice", notificationsFile))
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(log), "\n"))
	assert.Contains(t, string(log), "batch done")
}

func TestWebhookSink(t *testing.T) {
	var got struct {
		recipient, caption, filename, contentType string
		body                                      string
	}
	status := http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		got.recipient = r.FormValue("recipient")
		got.caption = r.FormValue("caption")
		got.filename = r.FormValue("filename")
		f, hdr, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer f.Close()
		b, _ := io.ReadAll(f)
		got.body = string(b)
		got.contentType = hdr.Header.Get("Content-Type")
		w.WriteHeader(status)
	}))
	defer srv.Close()

	dir := t.TempDir()
	sink := NewWebhookSink(srv.URL, 5*time.Second, 0, logger.Discard())
	a := writeArtifact(t, dir, "clip.webm", 10)

	require.NoError(t, sink.Deliver(context.Background(), "alice", a, Metadata{Index: 1, Total: 1, Caption: "clip"}))
	assert.Equal(t, "alice", got.recipient)
	assert.Equal(t, "clip", got.caption)
	assert.Equal(t, "clip.webm", got.filename)
	assert.Equal(t, "video/webm", got.contentType)
	assert.Equal(t, "mmmmmmmmmm", got.body)

	status = http.StatusRequestEntityTooLarge
	err := sink.Deliver(context.Background(), "alice", a, Metadata{})
	require.ErrorIs(t, err, ErrPermanent)
	assert.False(t, IsTransient(err))

	status = http.StatusServiceUnavailable
	err = sink.Deliver(context.Background(), "alice", a, Metadata{})
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestCaption(t *testing.T) {
	assert.Equal(t, "3/10 My_Clip\n1.50MB", Caption("My_Clip.mp4", 1572864, 3, 10))
	assert.Equal(t, "solo\n0.00MB", Caption("solo.webm", 10, 1, 1))
}
