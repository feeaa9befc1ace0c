package gateway

import (
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
)

func TestRequireAdmin(t *testing.T) {
	hash, err := HashAdminPassword("s3cret")
	if err != nil {
		t.Fatal(err)
	}
	basic := func(u, p string) string {
		return "Basic " + base64.StdEncoding.EncodeToString([]byte(u+":"+p))
	}

	tests := []struct {
		name    string
		cfg     AdminAuthConfig
		headers map[string]string
		want    int
	}{
		{"not configured", AdminAuthConfig{}, nil, http.StatusServiceUnavailable},
		{"debug bypass", AdminAuthConfig{Debug: true}, nil, http.StatusOK},
		{"key ok", AdminAuthConfig{Key: "k1"}, map[string]string{"X-Admin-Key": "k1"}, http.StatusOK},
		{"key wrong", AdminAuthConfig{Key: "k1"}, map[string]string{"X-Admin-Key": "k2"}, http.StatusUnauthorized},
		{"basic ok", AdminAuthConfig{User: "admin", PasswordHash: hash}, map[string]string{"Authorization": basic("admin", "s3cret")}, http.StatusOK},
		{"basic wrong password", AdminAuthConfig{User: "admin", PasswordHash: hash}, map[string]string{"Authorization": basic("admin", "nope")}, http.StatusUnauthorized},
		{"basic wrong user", AdminAuthConfig{User: "admin", PasswordHash: hash}, map[string]string{"Authorization": basic("root", "s3cret")}, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New()
			app.Get("/admin", RequireAdmin(tt.cfg), func(c *fiber.Ctx) error { return c.SendString("ok") })
			req := httptest.NewRequest(http.MethodGet, "/admin", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			res, err := app.Test(req)
			if err != nil {
				t.Fatal(err)
			}
			if res.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", res.StatusCode, tt.want)
			}
		})
	}
}
