package apperr

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
)

func TestWrapKeepsStatusAndCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(cause, ErrUpstream, "Ollama error: connection reset")

	if Status(err) != http.StatusInternalServerError {
		t.Errorf("Status() = %d", Status(err))
	}
	if !errors.Is(err, cause) {
		t.Errorf("errors.Is(cause) = false")
	}
	if !errors.Is(err, ErrUpstream) {
		t.Errorf("errors.Is(ErrUpstream) = false")
	}
	if Message(err) != "Ollama error: connection reset" {
		t.Errorf("Message() = %q", Message(err))
	}
}

func TestStatusOfPlainError(t *testing.T) {
	err := errors.New("boom")
	if Status(err) != http.StatusInternalServerError || Code(err) != "internal_error" {
		t.Errorf("Status/Code = %d/%s", Status(err), Code(err))
	}
}

func TestRespondEnvelopes(t *testing.T) {
	app := fiber.New()
	app.Get("/ok", func(c *fiber.Ctx) error {
		return RespondOK(c, WithFields(Newf(ErrInvalidCSV, "Missing columns: %v", []string{"qty"}), map[string]any{"missing": []string{"qty"}}))
	})
	app.Get("/success", func(c *fiber.Ctx) error {
		return RespondSuccess(c, Newf(ErrNotFound, "User story not found"))
	})

	tests := []struct {
		path       string
		wantStatus int
		wantBody   []string
	}{
		{"/ok", http.StatusBadRequest, []string{`"ok":false`, `"missing":["qty"]`, `Missing columns: [qty]`}},
		{"/success", http.StatusNotFound, []string{`"success":false`, `User story not found`}},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			res, err := app.Test(httptest.NewRequest(http.MethodGet, tt.path, nil))
			if err != nil {
				t.Fatalf("app.Test: %v", err)
			}
			if res.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", res.StatusCode, tt.wantStatus)
			}
			body, _ := io.ReadAll(res.Body)
			for _, want := range tt.wantBody {
				if !strings.Contains(string(body), want) {
					t.Errorf("body %s missing %s", body, want)
				}
			}
		})
	}
}
