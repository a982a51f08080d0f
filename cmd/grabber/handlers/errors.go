package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/lyzr/mediagrab/cmd/grabber/delivery"
	"github.com/lyzr/mediagrab/cmd/grabber/discovery"
	"github.com/lyzr/mediagrab/cmd/grabber/downloader"
	"github.com/lyzr/mediagrab/cmd/grabber/pipeline"
	"github.com/lyzr/mediagrab/cmd/grabber/resolver"
	"github.com/lyzr/mediagrab/cmd/grabber/security"
	"github.com/lyzr/mediagrab/common/clients"
)

// ErrorResponse is the JSON body of every failed call
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// statusFor maps a pipeline error onto an HTTP status and a stable code
func statusFor(err error) (int, string) {
	var fetchErr *clients.FetchError
	switch {
	case errors.Is(err, security.ErrBlocked):
		return http.StatusForbidden, "url_blocked"
	case errors.Is(err, pipeline.ErrNoSession), errors.Is(err, pipeline.ErrNoNextPage):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, pipeline.ErrBadSelection):
		return http.StatusBadRequest, "invalid_selection"
	case errors.Is(err, pipeline.ErrBusy):
		return http.StatusConflict, "batch_running"
	case errors.Is(err, discovery.ErrNoLinks),
		errors.Is(err, resolver.ErrNoMedia),
		errors.Is(err, resolver.ErrAllBlocked),
		errors.Is(err, resolver.ErrManifest):
		return http.StatusUnprocessableEntity, "no_media"
	case errors.Is(err, downloader.ErrTooLarge),
		errors.Is(err, downloader.ErrTooSmall),
		errors.Is(err, downloader.ErrNotMedia),
		errors.Is(err, downloader.ErrNoSegments):
		return http.StatusUnprocessableEntity, "unacceptable_media"
	case errors.As(err, &fetchErr), errors.Is(err, delivery.ErrPermanent):
		return http.StatusBadGateway, "upstream_failed"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func respondError(c echo.Context, err error) error {
	status, code := statusFor(err)
	return c.JSON(status, ErrorResponse{Error: code, Message: err.Error()})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "bad_request", Message: msg})
}
