package gateway

import (
	"net/http"
	"strings"

	"github.com/adonese/bizpilot/fields"
	"github.com/gofiber/fiber/v2"
)

// Cors answers preflight requests and sets the allow-origin header on every response.
func Cors(cfg fields.CorsConfig) fiber.Handler {
	methods := strings.Join(cfg.AllowedMethods, ",")
	headers := strings.Join(cfg.AllowedHeaders, ",")
	return func(c *fiber.Ctx) error {
		origin := allowedOrigin(cfg.AllowedOrigins, c.Get("Origin"))
		if origin != "" {
			c.Set("Access-Control-Allow-Origin", origin)
			if origin != "*" {
				c.Set("Vary", "Origin")
			}
		}
		if c.Method() != http.MethodOptions {
			return c.Next()
		}
		c.Set("Access-Control-Allow-Methods", methods)
		c.Set("Access-Control-Allow-Headers", headers)
		c.Set("Allow", "HEAD,"+methods)
		return c.SendStatus(http.StatusNoContent)
	}
}

func allowedOrigin(allowed []string, origin string) string {
	for _, o := range allowed {
		if o == "*" {
			return "*"
		}
		if origin != "" && strings.EqualFold(o, origin) {
			return origin
		}
	}
	return ""
}
