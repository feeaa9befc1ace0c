package gateway

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/adonese/bizpilot/fields"
	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestID(t *testing.T) {
	app := fiber.New()
	app.Use(RequestID())
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString(RequestIDFromCtx(c)) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	res, err := app.Test(req)
	require.NoError(t, err)
	generated := res.Header.Get(RequestIDHeader)
	assert.NotEmpty(t, generated)
	body, _ := io.ReadAll(res.Body)
	assert.Equal(t, generated, string(body))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	res, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, "abc-123", res.Header.Get(RequestIDHeader))
}

func TestCors(t *testing.T) {
	app := fiber.New()
	app.Use(Cors(fields.CorsConfig{
		AllowedOrigins: []string{"http://localhost:3000"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		AllowedMethods: []string{"GET", "POST"},
	}))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString("ok") })

	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	res, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, res.StatusCode)
	assert.Equal(t, "http://localhost:3000", res.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET,POST", res.Header.Get("Access-Control-Allow-Methods"))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "http://evil.example")
	res, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Empty(t, res.Header.Get("Access-Control-Allow-Origin"))
}

func rateLimitedApp(t *testing.T, client *redis.Client) *fiber.App {
	t.Helper()
	l, err := NewLimiter(2, client)
	require.NoError(t, err)
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	app := fiber.New()
	app.Use(RequestID(), RateLimit(l, logger))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString("ok") })
	return app
}

func TestRateLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	backends := map[string]*redis.Client{
		"memory": nil,
		"redis":  redis.NewClient(&redis.Options{Addr: mr.Addr()}),
	}
	for name, client := range backends {
		t.Run(name, func(t *testing.T) {
			app := rateLimitedApp(t, client)
			codes := []int{}
			for i := 0; i < 3; i++ {
				res, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
				require.NoError(t, err)
				codes = append(codes, res.StatusCode)
			}
			assert.Equal(t, []int{200, 200, 429}, codes)
		})
	}
}

func TestInstrumentationSkipsMetrics(t *testing.T) {
	app := fiber.New()
	app.Use(Instrumentation())
	app.Get("/ping", func(c *fiber.Ctx) error { return c.SendString("pong") })
	res, err := app.Test(httptest.NewRequest(http.MethodGet, "/ping", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestLogSampler(t *testing.T) {
	s := newLogSampler(LogSamplingConfig{Tick: 1 << 40, After: 1 << 30})
	assert.True(t, s.Allow(0))
	assert.False(t, s.Allow(0))
	assert.True(t, s.Allow(1<<31))
}
