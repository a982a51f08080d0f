package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/lyzr/mediagrab/cmd/grabber/pipeline"
	"github.com/lyzr/mediagrab/common/logger"
	"github.com/lyzr/mediagrab/common/middleware"
	"github.com/lyzr/mediagrab/common/models"
)

// Service is what the HTTP surface needs from the pipeline
type Service interface {
	Submit(ctx context.Context, requester, rawURL string) (*pipeline.SubmitResult, error)
	Session(ctx context.Context, requester string) (*models.SessionEntry, error)
	EndSession(ctx context.Context, requester string) bool
	Select(ctx context.Context, requester string, indices []int) ([]string, error)
	StartDownload(ctx context.Context, requester string, all bool) (string, int, error)
	NextPage(ctx context.Context, requester string) (*models.SessionEntry, error)
	ActiveBatch(requester string) (string, bool)
}

// AcquisitionHandler handles URL submissions and session browsing
type AcquisitionHandler struct {
	svc Service
	log *logger.Logger
}

// NewAcquisitionHandler creates a new acquisition handler
func NewAcquisitionHandler(svc Service, log *logger.Logger) *AcquisitionHandler {
	return &AcquisitionHandler{svc: svc, log: log}
}

// SubmitRequest is the body of POST /v1/requests
type SubmitRequest struct {
	URL string `json:"url"`
}

// Submit accepts a URL from a requester
// POST /v1/requests
func (h *AcquisitionHandler) Submit(c echo.Context) error {
	requester := middleware.Requester(c)
	if requester == "" {
		return badRequest(c, "missing "+middleware.RequesterHeader+" header")
	}

	var req SubmitRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	req.URL = strings.TrimSpace(req.URL)
	if req.URL == "" {
		return badRequest(c, "url is required")
	}

	ctx := c.Request().Context()
	res, err := h.svc.Submit(ctx, requester, req.URL)
	if err != nil {
		h.log.WithContext(ctx).Warn("submission failed", "url", req.URL, "error", err)
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// SessionResponse wraps a session with its running batch, if any
type SessionResponse struct {
	*models.SessionEntry
	ActiveBatch string `json:"active_batch,omitempty"`
}

// GetSession returns the requester's current session
// GET /v1/sessions/:requester
func (h *AcquisitionHandler) GetSession(c echo.Context) error {
	requester := middleware.Requester(c)
	sess, err := h.svc.Session(c.Request().Context(), requester)
	if err != nil {
		return respondError(c, err)
	}
	active, _ := h.svc.ActiveBatch(requester)
	return c.JSON(http.StatusOK, SessionResponse{SessionEntry: sess, ActiveBatch: active})
}

// DeleteSession ends the requester's session
// DELETE /v1/sessions/:requester
func (h *AcquisitionHandler) DeleteSession(c echo.Context) error {
	if !h.svc.EndSession(c.Request().Context(), middleware.Requester(c)) {
		return respondError(c, pipeline.ErrNoSession)
	}
	return c.NoContent(http.StatusNoContent)
}

// SelectRequest is the body of POST /v1/sessions/:requester/selection
type SelectRequest struct {
	Indices []int `json:"indices"`
}

// Select stores which session entries to download
// POST /v1/sessions/:requester/selection
func (h *AcquisitionHandler) Select(c echo.Context) error {
	var req SelectRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if len(req.Indices) == 0 {
		return badRequest(c, "indices are required")
	}

	picked, err := h.svc.Select(c.Request().Context(), middleware.Requester(c), req.Indices)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"selected": picked,
		"count":    len(picked),
	})
}

// DownloadRequest is the body of POST /v1/sessions/:requester/download
type DownloadRequest struct {
	All bool `json:"all"`
}

// Download starts a batch over the selection or the whole session
// POST /v1/sessions/:requester/download
func (h *AcquisitionHandler) Download(c echo.Context) error {
	var req DownloadRequest
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&req); err != nil {
			return badRequest(c, "invalid request body")
		}
	}

	requester := middleware.Requester(c)
	ctx := c.Request().Context()
	batchID, items, err := h.svc.StartDownload(ctx, requester, req.All)
	if err != nil {
		return respondError(c, err)
	}

	h.log.WithContext(ctx).WithBatchID(batchID).Info("batch started", "items", items, "all", req.All)
	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"batch_id": batchID,
		"items":    items,
		"progress": pipeline.ProgressChannel(requester),
	})
}

// NextPage moves the session to the next listing page
// POST /v1/sessions/:requester/next
func (h *AcquisitionHandler) NextPage(c echo.Context) error {
	sess, err := h.svc.NextPage(c.Request().Context(), middleware.Requester(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, sess)
}
