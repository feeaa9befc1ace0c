// Package gateway holds the HTTP middleware shared by every route group: request ids, request
// logging, prometheus instrumentation, CORS, admin and JWT guards and rate limiting.
package gateway

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const RequestIDHeader = "X-Request-ID"

func RequestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		requestID := strings.TrimSpace(c.Get(RequestIDHeader))
		if requestID == "" || len(requestID) > 128 {
			requestID = uuid.NewString()
		}
		c.Locals("request_id", requestID)
		c.Set(RequestIDHeader, requestID)
		return c.Next()
	}
}

func RequestIDFromCtx(c *fiber.Ctx) string {
	if v := c.Locals("request_id"); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// Entry returns a log entry tagged with the request id and, when authenticated, the user id.
func Entry(c *fiber.Ctx, logger *logrus.Logger) *logrus.Entry {
	entry := logger.WithField("request_id", RequestIDFromCtx(c))
	if uid, ok := UserID(c); ok {
		entry = entry.WithField("user_id", uid)
	}
	return entry
}
