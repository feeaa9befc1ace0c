// Package llm talks to an Ollama server through langchaingo. It backs the chat endpoints and is
// the text generator used by CSV insights and business automation.
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/adonese/bizpilot/fields"
	"github.com/sethvargo/go-retry"
	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/adonese/bizpilot/llm")

// ModelFactory builds a langchaingo model for the given model name.
type ModelFactory func(model string) (llms.Model, error)

// Result is the chat response envelope returned to HTTP clients.
type Result struct {
	OK           bool    `json:"ok"`
	Reply        string  `json:"reply,omitempty"`
	Model        string  `json:"model,omitempty"`
	ResponseTime float64 `json:"response_time,omitempty"`
	Error        string  `json:"error,omitempty"`
}

type Client struct {
	Host         string
	DefaultModel string

	logger   *logrus.Logger
	newModel ModelFactory
	backoff  func() retry.Backoff

	mu     sync.Mutex
	models map[string]llms.Model
}

type Option func(*Client)

// WithModelFactory replaces the Ollama model constructor. Tests use it to plug in fakes.
func WithModelFactory(f ModelFactory) Option {
	return func(c *Client) { c.newModel = f }
}

func WithBackoff(f func() retry.Backoff) Option {
	return func(c *Client) { c.backoff = f }
}

func New(host, defaultModel string, logger *logrus.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	c := &Client{
		Host:         host,
		DefaultModel: strings.TrimSpace(defaultModel),
		logger:       logger,
		models:       map[string]llms.Model{},
		backoff: func() retry.Backoff {
			return retry.WithMaxRetries(2, retry.NewExponential(500*time.Millisecond))
		},
	}
	c.newModel = c.ollamaModel
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) ollamaModel(model string) (llms.Model, error) {
	opts := []ollama.Option{ollama.WithModel(model)}
	if c.Host != "" {
		opts = append(opts, ollama.WithServerURL(c.Host))
	}
	return ollama.New(opts...)
}

// ResolveModel picks the request model, then the configured default, then llama3.
func (c *Client) ResolveModel(model string) string {
	if m := strings.TrimSpace(model); m != "" {
		return m
	}
	if c.DefaultModel != "" {
		return c.DefaultModel
	}
	return fields.DefaultChatModel
}

func (c *Client) model(name string) (llms.Model, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.models[name]; ok {
		return m, nil
	}
	m, err := c.newModel(name)
	if err != nil {
		return nil, err
	}
	c.models[name] = m
	return m, nil
}

// Complete sends a single user prompt and returns the full reply. Transport failures are
// retried; model errors are not.
func (c *Client) Complete(ctx context.Context, prompt, model string) (string, error) {
	name := c.ResolveModel(model)
	ctx, span := tracer.Start(ctx, "llm.complete", trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(attribute.String("llm.model", name), attribute.Int("llm.prompt_len", len(prompt)))
	defer span.End()

	start := time.Now()
	m, err := c.model(name)
	if err != nil {
		observe("complete", start, err)
		return "", err
	}
	var reply string
	err = retry.Do(ctx, c.backoff(), func(ctx context.Context) error {
		out, callErr := llms.GenerateFromSinglePrompt(ctx, m, prompt)
		if callErr != nil {
			if isTransportError(callErr) {
				c.logger.WithFields(logrus.Fields{"model": name, "host": c.Host}).WithError(callErr).Warn("ollama unreachable, retrying")
				return retry.RetryableError(callErr)
			}
			return callErr
		}
		reply = out
		return nil
	})
	observe("complete", start, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	c.logger.WithFields(logrus.Fields{
		"model":         name,
		"prompt_len":    len(prompt),
		"reply_len":     len(reply),
		"response_time": time.Since(start).Seconds(),
	}).Debug("ollama chat completed")
	return reply, nil
}

// Chat wraps Complete in the response envelope used by POST /api/llm/chat.
func (c *Client) Chat(ctx context.Context, prompt, model string) Result {
	name := c.ResolveModel(model)
	start := time.Now()
	reply, err := c.Complete(ctx, prompt, name)
	if err != nil {
		c.logger.WithFields(logrus.Fields{"model": name, "host": c.Host}).WithError(err).Error("ollama chat failed")
		return Result{OK: false, Error: fmt.Sprintf("Ollama error: %v", err)}
	}
	return Result{OK: true, Reply: reply, Model: name, ResponseTime: time.Since(start).Seconds()}
}

// Generate is the trimmed, default-model completion used for analysis prompts.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	out, err := c.Complete(ctx, prompt, "")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// Stream writes reply tokens to w as they arrive. Errors are written inline as
// "\n[ERROR] <err>" since the response status has already been sent.
func (c *Client) Stream(ctx context.Context, prompt, model string, w io.Writer) error {
	name := c.ResolveModel(model)
	ctx, span := tracer.Start(ctx, "llm.stream", trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(attribute.String("llm.model", name))
	defer span.End()

	start := time.Now()
	m, err := c.model(name)
	if err == nil {
		_, err = llms.GenerateFromSinglePrompt(ctx, m, prompt, llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
			if len(chunk) == 0 {
				return nil
			}
			_, werr := w.Write(chunk)
			return werr
		}))
	}
	observe("stream", start, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.WithField("model", name).WithError(err).Error("ollama stream failed")
		_, _ = fmt.Fprintf(w, "\n[ERROR] %v", err)
	}
	return err
}

func isTransportError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") || strings.Contains(msg, "connection reset")
}
