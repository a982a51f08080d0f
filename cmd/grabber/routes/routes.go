package routes

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/lyzr/mediagrab/cmd/grabber/container"
	"github.com/lyzr/mediagrab/cmd/grabber/handlers"
	"github.com/lyzr/mediagrab/common/middleware"
	"github.com/lyzr/mediagrab/common/telemetry"
)

// RegisterHealthRoutes registers liveness and metrics endpoints
func RegisterHealthRoutes(e *echo.Echo, c *container.Container) {
	e.GET("/health", func(ctx echo.Context) error {
		if err := c.Components.Health(ctx.Request().Context()); err != nil {
			return ctx.JSON(http.StatusServiceUnavailable, map[string]string{
				"status": "degraded",
				"error":  err.Error(),
			})
		}
		return ctx.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": c.Components.Config.Service.Name,
		})
	})

	if c.Components.Config.Telemetry.EnableMetrics {
		e.GET("/metrics", echo.WrapHandler(telemetry.MetricsHandler()))
	}
}

// RegisterAcquisitionRoutes registers submission and session routes
func RegisterAcquisitionRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewAcquisitionHandler(c.Service, c.Components.Logger)

	mw := []echo.MiddlewareFunc{middleware.ExtractRequester()}
	if c.Limiter != nil {
		mw = append(mw, middleware.RequesterRateLimitMiddleware(c.Limiter, c.Components.Logger))
	}

	v1 := e.Group("/v1")
	{
		v1.POST("/requests", h.Submit, mw...) // POST /v1/requests

		sessions := v1.Group("/sessions/:requester", middleware.ExtractRequester())
		sessions.GET("", h.GetSession)                    // GET /v1/sessions/{requester}
		sessions.DELETE("", h.DeleteSession)              // DELETE /v1/sessions/{requester}
		sessions.POST("/selection", h.Select)             // POST /v1/sessions/{requester}/selection
		sessions.POST("/download", h.Download, mw[1:]...) // POST /v1/sessions/{requester}/download
		sessions.POST("/next", h.NextPage)                // POST /v1/sessions/{requester}/next
	}
}
