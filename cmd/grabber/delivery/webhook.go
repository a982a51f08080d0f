package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"strconv"
	"time"

	"github.com/lyzr/mediagrab/common/logger"
	"github.com/lyzr/mediagrab/common/models"
)

// WebhookSink posts artifacts as multipart uploads to an operator endpoint
type WebhookSink struct {
	url     string
	client  *http.Client
	maxSize int64
	log     logger.Interface
}

// NewWebhookSink creates a webhook sink; timeout bounds one upload attempt
func NewWebhookSink(url string, timeout time.Duration, maxSize int64, log logger.Interface) *WebhookSink {
	return &WebhookSink{
		url:     url,
		client:  &http.Client{Timeout: timeout},
		maxSize: maxSize,
		log:     log,
	}
}

// Deliver streams the file without buffering it in memory
func (s *WebhookSink) Deliver(ctx context.Context, recipient string, a *models.Artifact, md Metadata) error {
	if s.maxSize > 0 && a.Size > s.maxSize {
		return fmt.Errorf("%w: %s is %d bytes, sink limit %d", ErrPermanent, a.Filename, a.Size, s.maxSize)
	}

	f, err := os.Open(a.Path)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", ErrPermanent, a.Filename, err)
	}
	defer f.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeForm(mw, f, recipient, a, md))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, pr)
	if err != nil {
		pr.Close()
		return fmt.Errorf("%w: %v", ErrPermanent, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := s.client.Do(req)
	pr.Close()
	if err != nil {
		return fmt.Errorf("upload %s: %w", a.Filename, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return fmt.Errorf("upload %s: %w", a.Filename, err)
	}
	s.log.Info("artifact delivered to webhook", "recipient", recipient, "file", a.Filename, "status", resp.StatusCode)
	return nil
}

func writeForm(mw *multipart.Writer, f io.Reader, recipient string, a *models.Artifact, md Metadata) error {
	fields := map[string]string{
		"recipient":  recipient,
		"caption":    md.Caption,
		"filename":   a.Filename,
		"source_url": md.SourceURL,
		"index":      strconv.Itoa(md.Index),
		"total":      strconv.Itoa(md.Total),
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return err
		}
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, a.Filename))
	h.Set("Content-Type", ContentType(a.Filename))
	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, f); err != nil {
		return err
	}
	return mw.Close()
}

// Notify posts {"recipient","text"} as JSON
func (s *WebhookSink) Notify(ctx context.Context, recipient, text string) error {
	body, err := json.Marshal(map[string]string{"recipient": recipient, "text": text})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url+"/notify", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

// checkStatus maps 413 and other 4xx answers to permanent failures
func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	statusErr := &StatusError{Code: resp.StatusCode, Body: string(bytes.TrimSpace(snippet))}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return statusErr
	}
	return fmt.Errorf("%w: %w", ErrPermanent, statusErr)
}
