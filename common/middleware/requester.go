package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/lyzr/mediagrab/common/clients"
	"github.com/lyzr/mediagrab/common/logger"
)

// RequesterHeader carries the requester identity on API calls
const RequesterHeader = "X-Requester-ID"

const requesterKey = "requester_id"

// ExtractRequester reads the requester from the :requester path param or the
// X-Requester-ID header and stores it on both the echo and request contexts
func ExtractRequester() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := strings.TrimSpace(c.Param("requester"))
			if id == "" {
				id = strings.TrimSpace(c.Request().Header.Get(RequesterHeader))
			}
			if id != "" {
				c.Set(requesterKey, id)
				ctx := clients.WithRequesterID(c.Request().Context(), id)
				ctx = logger.ContextWithRequester(ctx, id)
				c.SetRequest(c.Request().WithContext(ctx))
			}
			return next(c)
		}
	}
}

// Requester returns the id set by ExtractRequester
func Requester(c echo.Context) string {
	id, _ := c.Get(requesterKey).(string)
	return id
}
