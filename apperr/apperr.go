// Package apperr carries status-aware errors from services to HTTP handlers.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// Error represents a typed, status-aware application error.
type Error struct {
	Code    string         `json:"code"`
	Message string         `json:"message,omitempty"`
	Status  int            `json:"-"`
	Fields  map[string]any `json:"fields,omitempty"`
	Err     error          `json:"-"`
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	return "error"
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches on code so wrapped copies of a sentinel still compare equal.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Newf copies base with a formatted message.
func Newf(base *Error, format string, args ...any) *Error {
	if base == nil {
		base = ErrInternal
	}
	copy := *base
	copy.Message = fmt.Sprintf(format, args...)
	return &copy
}

func Wrap(err error, base *Error, message string) *Error {
	if err == nil {
		return nil
	}
	if base == nil {
		base = ErrInternal
	}
	copy := *base
	if message != "" {
		copy.Message = message
	}
	copy.Err = err
	return &copy
}

func WithFields(base *Error, fields map[string]any) *Error {
	if base == nil {
		return nil
	}
	copy := *base
	copy.Fields = fields
	return &copy
}

func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) && e != nil {
		return e, true
	}
	return nil, false
}

func Status(err error) int {
	if e, ok := As(err); ok && e.Status != 0 {
		return e.Status
	}
	return http.StatusInternalServerError
}

func Code(err error) string {
	if e, ok := As(err); ok && e.Code != "" {
		return e.Code
	}
	return "internal_error"
}

func Message(err error) string {
	if e, ok := As(err); ok {
		if e.Message != "" {
			return e.Message
		}
		if e.Err != nil {
			return e.Err.Error()
		}
		return e.Code
	}
	if err != nil {
		return err.Error()
	}
	return ""
}

// Payload renders err as {code, message, fields}.
func Payload(err error) map[string]any {
	if err == nil {
		return map[string]any{}
	}
	if e, ok := As(err); ok {
		payload := map[string]any{
			"code":    Code(e),
			"message": Message(e),
		}
		if len(e.Fields) > 0 {
			payload["fields"] = e.Fields
		}
		return payload
	}
	return map[string]any{
		"code":    "internal_error",
		"message": err.Error(),
	}
}

// Respond writes the {code, message} payload with the error's status.
func Respond(c *fiber.Ctx, err error) error {
	return c.Status(Status(err)).JSON(Payload(err))
}

// RespondOK writes {"ok": false, "error": msg} with the error's status. The csv, llm and ml
// routes keep this envelope.
func RespondOK(c *fiber.Ctx, err error) error {
	body := fiber.Map{"ok": false, "error": Message(err)}
	if e, ok := As(err); ok {
		for k, v := range e.Fields {
			body[k] = v
		}
	}
	return c.Status(Status(err)).JSON(body)
}

// RespondSuccess writes {"success": false, "error": msg}, used by the automation routes.
func RespondSuccess(c *fiber.Ctx, err error) error {
	return c.Status(Status(err)).JSON(fiber.Map{"success": false, "error": Message(err)})
}

var (
	ErrBadRequest   = New("bad_request", http.StatusBadRequest, "")
	ErrValidation   = New("validation_error", http.StatusBadRequest, "")
	ErrEmptyBody    = New("empty_body", http.StatusBadRequest, "request body is empty")
	ErrUnauthorized = New("unauthorized", http.StatusUnauthorized, "")
	ErrForbidden    = New("forbidden", http.StatusForbidden, "")
	ErrNotFound     = New("not_found", http.StatusNotFound, "")
	ErrConflict     = New("conflict", http.StatusConflict, "")
	ErrInternal     = New("internal_error", http.StatusInternalServerError, "")
	ErrUnavailable  = New("service_unavailable", http.StatusServiceUnavailable, "")
	ErrDatabase     = New("database_error", http.StatusInternalServerError, "")
	ErrTooMany      = New("rate_limited", http.StatusTooManyRequests, "too many requests")

	ErrNotReady    = New("not_ready", http.StatusBadRequest, "")
	ErrInvalidCSV  = New("invalid_csv", http.StatusBadRequest, "")
	ErrUpstream    = New("upstream_error", http.StatusInternalServerError, "")
	ErrModel       = New("model_error", http.StatusBadRequest, "")
	ErrNotionAuth  = New("notion_unauthorized", http.StatusUnauthorized, "")
	ErrNotionLimit = New("notion_rate_limited", http.StatusTooManyRequests, "Notion API rate limit exceeded")
)

// RespondError writes {"error": msg}, used by the email and report routes.
func RespondError(c *fiber.Ctx, err error) error {
	return c.Status(Status(err)).JSON(fiber.Map{"error": Message(err)})
}
