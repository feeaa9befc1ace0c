package gateway

import (
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"
)

// AdminAuthConfig controls access to admin-only endpoints. PasswordHash is a bcrypt hash.
type AdminAuthConfig struct {
	Key          string
	User         string
	PasswordHash string
	Debug        bool
}

func (cfg AdminAuthConfig) configured() bool {
	return cfg.Key != "" || (cfg.User != "" && cfg.PasswordHash != "")
}

// RequireAdmin guards admin endpoints using X-Admin-Key or HTTP Basic auth.
// If Debug is true, the guard is bypassed.
func RequireAdmin(cfg AdminAuthConfig) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if cfg.Debug {
			return c.Next()
		}
		if !cfg.configured() {
			return c.Status(http.StatusServiceUnavailable).JSON(fiber.Map{
				"code":    "admin_auth_not_configured",
				"message": "admin auth not configured",
			})
		}

		if cfg.Key != "" {
			key := strings.TrimSpace(c.Get("X-Admin-Key"))
			if key != "" && subtle.ConstantTimeCompare([]byte(key), []byte(cfg.Key)) == 1 {
				return c.Next()
			}
		}
		if cfg.User != "" && cfg.PasswordHash != "" {
			if checkBasicAuth(c.Get("Authorization"), cfg.User, cfg.PasswordHash) {
				return c.Next()
			}
		}

		c.Set("WWW-Authenticate", `Basic realm="bizpilot"`)
		return c.Status(http.StatusUnauthorized).JSON(fiber.Map{
			"code":    "unauthorized",
			"message": "unauthorized",
		})
	}
}

// HashAdminPassword produces the value for ADMIN_PASSWORD_HASH.
func HashAdminPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(b), err
}

func checkBasicAuth(header, user, hash string) bool {
	if header == "" {
		return false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "basic" {
		return false
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(parts[1]))
	if err != nil {
		return false
	}
	creds := strings.SplitN(string(decoded), ":", 2)
	if len(creds) != 2 {
		return false
	}
	if subtle.ConstantTimeCompare([]byte(creds[0]), []byte(user)) != 1 {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(creds[1])) == nil
}
