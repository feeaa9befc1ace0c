package auth

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gateway "github.com/adonese/bizpilot/apigateway"
	"github.com/adonese/bizpilot/fields"
	"github.com/adonese/bizpilot/store/storetest"
	json "github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenHandler(t *testing.T) {
	st := storetest.New(t)
	db := storetest.Gorm(t, st)
	u := fields.User{Email: "qa@example.com", CreatedAt: time.Now().UTC()}
	require.NoError(t, db.Create(&u).Error)
	require.NoError(t, db.Create(&fields.Company{ComName: "Acme", ComCode: "ACME", ComIsActive: true}).Error)
	var acme fields.Company
	require.NoError(t, db.Where("com_code = ?", "ACME").First(&acme).Error)
	require.NoError(t, db.Create(&fields.UserDetail{UserID: u.ID, ComID: acme.ComID, UserRole: "QA", IsActive: true}).Error)

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	jwtAuth := gateway.NewJWTAuth("test-secret")
	svc := &Service{DB: db, Auth: jwtAuth, Logger: logger}
	app := fiber.New()
	svc.Mount(app.Group("/api/auth"), gateway.RequireAdmin(gateway.AdminAuthConfig{Key: "admin"}))

	post := func(body, key string) *http.Response {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/token", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		if key != "" {
			req.Header.Set("X-Admin-Key", key)
		}
		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		return resp
	}

	tests := []struct {
		name, body, key string
		want            int
	}{
		{"no admin key", `{"email":"qa@example.com"}`, "", http.StatusUnauthorized},
		{"bad email", `{"email":"nope"}`, "admin", http.StatusBadRequest},
		{"unknown user", `{"email":"ghost@example.com"}`, "admin", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, post(tt.body, tt.key).StatusCode)
		})
	}

	resp := post(`{"email":" QA@example.com "}`, "admin")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Authorization string `json:"authorization"`
		ComID         int64  `json:"com_id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, acme.ComID, out.ComID)

	claims, err := jwtAuth.VerifyJWT(out.Authorization)
	require.NoError(t, err)
	assert.Equal(t, u.ID, claims.UserID)
	assert.Equal(t, "qa@example.com", claims.Email)
	assert.Equal(t, acme.ComID, claims.ComID)
	assert.InDelta(t, time.Now().Add(3*time.Hour).Unix(), claims.ExpiresAt, 5)
}
