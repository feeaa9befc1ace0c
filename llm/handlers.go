package llm

import (
	"bufio"
	"context"
	"net/http"
	"strings"
	"time"

	gateway "github.com/adonese/bizpilot/apigateway"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

const streamTimeout = 10 * time.Minute

type chatRequest struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model"`
}

// Service exposes the chat client over HTTP.
type Service struct {
	Client *Client
	Logger *logrus.Logger
}

func (s *Service) parse(c *fiber.Ctx) (chatRequest, bool) {
	var req chatRequest
	// a malformed body is treated like an empty one
	_ = c.BodyParser(&req)
	req.Prompt = strings.TrimSpace(req.Prompt)
	return req, req.Prompt != ""
}

// Chat godoc
// @Summary single-shot chat completion
// @Router /api/llm/chat [post]
func (s *Service) Chat(c *fiber.Ctx) error {
	req, ok := s.parse(c)
	if !ok {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"ok": false, "error": "Missing 'prompt'"})
	}
	res := s.Client.Chat(c.UserContext(), req.Prompt, req.Model)
	if !res.OK {
		return c.Status(http.StatusInternalServerError).JSON(res)
	}
	return c.Status(http.StatusOK).JSON(res)
}

// ChatStream streams reply tokens as text/plain.
func (s *Service) ChatStream(c *fiber.Ctx) error {
	req, ok := s.parse(c)
	if !ok {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"ok": false, "error": "Missing 'prompt'"})
	}
	log := gateway.Entry(c, s.Logger).WithField("model", s.Client.ResolveModel(req.Model))
	c.Set(fiber.HeaderContentType, "text/plain; charset=utf-8")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	// the fiber ctx is released once the handler returns, so the stream owns its own context
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		ctx, cancel := context.WithTimeout(context.Background(), streamTimeout)
		defer cancel()
		fw := &flushWriter{w: w}
		if err := s.Client.Stream(ctx, req.Prompt, req.Model, fw); err != nil {
			log.WithError(err).Warn("stream ended with error")
		}
		_ = w.Flush()
	})
	return nil
}

type flushWriter struct {
	w *bufio.Writer
}

func (f *flushWriter) Write(p []byte) (int, error) {
	n, err := f.w.Write(p)
	if err != nil {
		return n, err
	}
	return n, f.w.Flush()
}
