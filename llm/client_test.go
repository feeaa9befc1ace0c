package llm

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sethvargo/go-retry"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

// fakeModel replies with a fixed text, failing the first failures calls with err.
type fakeModel struct {
	reply    string
	err      error
	failures int
	calls    int
	prompts  []string
}

func (f *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.calls++
	for _, m := range messages {
		for _, p := range m.Parts {
			if tp, ok := p.(llms.TextContent); ok {
				f.prompts = append(f.prompts, tp.Text)
			}
		}
	}
	if f.err != nil && f.calls <= f.failures {
		return nil, f.err
	}
	opts := llms.CallOptions{}
	for _, o := range options {
		o(&opts)
	}
	if opts.StreamingFunc != nil {
		for _, tok := range strings.SplitAfter(f.reply, " ") {
			if err := opts.StreamingFunc(ctx, []byte(tok)); err != nil {
				return nil, err
			}
		}
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: f.reply}}}, nil
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newFakeClient(m *fakeModel, defaultModel string) (*Client, *[]string) {
	requested := []string{}
	c := New("http://ollama.test", defaultModel, quietLogger(),
		WithModelFactory(func(name string) (llms.Model, error) {
			requested = append(requested, name)
			return m, nil
		}),
		WithBackoff(func() retry.Backoff {
			return retry.WithMaxRetries(2, retry.NewConstant(time.Millisecond))
		}),
	)
	return c, &requested
}

func TestResolveModel(t *testing.T) {
	tests := []struct {
		name     string
		def      string
		req      string
		expected string
	}{
		{"request wins", "qwen2.5:7b", "mistral", "mistral"},
		{"configured default", "qwen2.5:7b", "  ", "qwen2.5:7b"},
		{"fallback", "", "", "llama3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New("", tt.def, quietLogger())
			assert.Equal(t, tt.expected, c.ResolveModel(tt.req))
		})
	}
}

func TestChat(t *testing.T) {
	m := &fakeModel{reply: "hello there"}
	c, requested := newFakeClient(m, "qwen2.5:7b")
	res := c.Chat(context.Background(), "hi", "")
	assert.True(t, res.OK)
	assert.Equal(t, "hello there", res.Reply)
	assert.Equal(t, "qwen2.5:7b", res.Model)
	assert.Equal(t, []string{"hi"}, m.prompts)

	// model instances are reused
	c.Chat(context.Background(), "again", "")
	assert.Equal(t, []string{"qwen2.5:7b"}, *requested)
}

func TestChatRetriesTransportErrors(t *testing.T) {
	m := &fakeModel{reply: "ok", err: syscall.ECONNREFUSED, failures: 2}
	c, _ := newFakeClient(m, "")
	res := c.Chat(context.Background(), "hi", "")
	assert.True(t, res.OK)
	assert.Equal(t, 3, m.calls)
}

func TestChatDoesNotRetryModelErrors(t *testing.T) {
	m := &fakeModel{err: errors.New("model 'nope' not found"), failures: 10}
	c, _ := newFakeClient(m, "")
	res := c.Chat(context.Background(), "hi", "nope")
	assert.False(t, res.OK)
	assert.Equal(t, 1, m.calls)
	assert.Equal(t, "Ollama error: model 'nope' not found", res.Error)
}

func TestStream(t *testing.T) {
	m := &fakeModel{reply: "one two three"}
	c, _ := newFakeClient(m, "")
	var buf bytes.Buffer
	require.NoError(t, c.Stream(context.Background(), "count", "", &buf))
	assert.Equal(t, "one two three", buf.String())

	bad := &fakeModel{err: errors.New("boom"), failures: 1}
	c, _ = newFakeClient(bad, "")
	buf.Reset()
	assert.Error(t, c.Stream(context.Background(), "count", "", &buf))
	assert.Equal(t, "\n[ERROR] boom", buf.String())
}

func TestGenerateTrims(t *testing.T) {
	c, _ := newFakeClient(&fakeModel{reply: "\n  insight  \n"}, "")
	out, err := c.Generate(context.Background(), "analyze")
	require.NoError(t, err)
	assert.Equal(t, "insight", out)
}

func TestChatHandlers(t *testing.T) {
	c, _ := newFakeClient(&fakeModel{reply: "streamed reply"}, "")
	svc := &Service{Client: c, Logger: quietLogger()}
	app := fiber.New()
	app.Post("/api/llm/chat", svc.Chat)
	app.Post("/api/llm/chat/stream", svc.ChatStream)

	tests := []struct {
		name     string
		path     string
		body     string
		wantCode int
		wantBody string
	}{
		{"missing prompt", "/api/llm/chat", `{"prompt":"  "}`, http.StatusBadRequest, `"Missing 'prompt'"`},
		{"bad json", "/api/llm/chat", `{`, http.StatusBadRequest, `"ok":false`},
		{"chat ok", "/api/llm/chat", `{"prompt":"hi"}`, http.StatusOK, `"reply":"streamed reply"`},
		{"stream missing prompt", "/api/llm/chat/stream", `{}`, http.StatusBadRequest, `"Missing 'prompt'"`},
		{"stream ok", "/api/llm/chat/stream", `{"prompt":"hi"}`, http.StatusOK, "streamed reply"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, tt.path, strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			res, err := app.Test(req, -1)
			require.NoError(t, err)
			assert.Equal(t, tt.wantCode, res.StatusCode)
			body, _ := io.ReadAll(res.Body)
			assert.Contains(t, string(body), tt.wantBody)
		})
	}
}
