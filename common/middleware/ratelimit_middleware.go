package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/lyzr/mediagrab/common/logger"
	"github.com/lyzr/mediagrab/common/ratelimit"
)

// RequesterRateLimitMiddleware enforces the per-requester admission window.
// Requires ExtractRequester to run first; anonymous calls are not limited.
func RequesterRateLimitMiddleware(limiter ratelimit.Limiter, log logger.Interface) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			requester := Requester(c)
			if requester == "" {
				return next(c)
			}

			result, err := limiter.CheckRequesterLimit(c.Request().Context(), requester)
			if err != nil {
				// fail open
				log.Warn("rate limit check failed", "requester_id", requester, "error", err)
				return next(c)
			}

			if !result.Allowed {
				return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
					"error":   "rate_limit_exceeded",
					"message": "Too many requests. Please wait before trying again.",
					"details": map[string]interface{}{
						"requester_id":        requester,
						"limit":               result.Limit,
						"current_count":       result.CurrentCount,
						"retry_after_seconds": result.RetryAfterSeconds,
					},
				})
			}

			return next(c)
		}
	}
}
