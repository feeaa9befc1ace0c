package notion

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	json "github.com/goccy/go-json"
	"github.com/sethvargo/go-retry"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultBaseURL = "https://api.notion.com/v1"
	apiVersion     = "2022-06-28"
)

var tracer = otel.Tracer("github.com/adonese/bizpilot/notion")

// APIError is a non-2xx answer from the Notion API.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("notion: status %d", e.Status)
	}
	return fmt.Sprintf("notion: %s (%d): %s", e.Code, e.Status, e.Message)
}

// Client talks to the Notion REST API with one integration token.
type Client struct {
	http    *resty.Client
	logger  *logrus.Logger
	backoff func() retry.Backoff
}

// NewClient builds a client. backoff may be nil for the default of three attempts starting at
// one second.
func NewClient(baseURL, token string, logger *logrus.Logger, backoff func() retry.Backoff) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if backoff == nil {
		backoff = func() retry.Backoff {
			return retry.WithMaxRetries(2, retry.NewExponential(time.Second))
		}
	}
	h := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetAuthToken(token).
		SetHeader("Notion-Version", apiVersion).
		SetHeader("Content-Type", "application/json").
		SetTimeout(30 * time.Second).
		SetJSONMarshaler(json.Marshal).
		SetJSONUnmarshaler(json.Unmarshal)
	return &Client{http: h, logger: logger, backoff: backoff}
}

// do sends one request and returns the raw JSON body. Rate limited calls are retried.
func (c *Client) do(ctx context.Context, method, path string, body any) (gjson.Result, error) {
	ctx, span := tracer.Start(ctx, "notion."+strings.ToLower(method), trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(attribute.String("notion.path", path))
	defer span.End()

	var out gjson.Result
	err := retry.Do(ctx, c.backoff(), func(ctx context.Context) error {
		req := c.http.R().SetContext(ctx)
		if body != nil {
			req.SetBody(body)
		}
		resp, err := req.Execute(method, path)
		if err != nil {
			return err
		}
		if resp.StatusCode() >= 300 {
			apiErr := &APIError{Status: resp.StatusCode()}
			parsed := gjson.ParseBytes(resp.Body())
			apiErr.Code = parsed.Get("code").String()
			apiErr.Message = parsed.Get("message").String()
			if resp.StatusCode() == http.StatusTooManyRequests {
				c.logger.WithField("path", path).Warn("notion rate limited, retrying")
				return retry.RetryableError(apiErr)
			}
			return apiErr
		}
		out = gjson.ParseBytes(resp.Body())
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return gjson.Result{}, err
	}
	return out, nil
}

func (c *Client) CreatePage(ctx context.Context, page map[string]any) (string, error) {
	res, err := c.do(ctx, http.MethodPost, "/pages", page)
	if err != nil {
		return "", err
	}
	return res.Get("id").String(), nil
}

func (c *Client) CreateDatabase(ctx context.Context, db map[string]any) (string, error) {
	res, err := c.do(ctx, http.MethodPost, "/databases", db)
	if err != nil {
		return "", err
	}
	return res.Get("id").String(), nil
}

func (c *Client) AppendBlocks(ctx context.Context, blockID string, children []map[string]any) error {
	_, err := c.do(ctx, http.MethodPatch, "/blocks/"+blockID+"/children", map[string]any{"children": children})
	return err
}

// Page retrieves a page with its properties.
func (c *Client) Page(ctx context.Context, pageID string) (gjson.Result, error) {
	return c.do(ctx, http.MethodGet, "/pages/"+pageID, nil)
}

// Me returns the bot user the token belongs to.
func (c *Client) Me(ctx context.Context) (gjson.Result, error) {
	return c.do(ctx, http.MethodGet, "/users/me", nil)
}
