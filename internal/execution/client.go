// Package execution is the client of the external workflow engine. The
// engine speaks a Galaxy-style REST API: workflows are installed remotely,
// each analysis runs inside its own history, and datasets are uploaded to
// and downloaded from that history.
package execution

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/nishad/seqlims/internal/config"
	"github.com/nishad/seqlims/internal/errors"
	"github.com/nishad/seqlims/internal/logging"
)

// APIKeyHeader carries the engine API key on every request.
const APIKeyHeader = "x-api-key"

// Client talks to the workflow engine.
type Client struct {
	baseURL    *url.URL
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the client logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logging.OrNop(logger) }
}

// NewClient returns a client for the engine at cfg.EngineURL. Requests are
// throttled to cfg.RequestsPerSec (unlimited when zero).
func NewClient(cfg config.ExecutionConfig, opts ...Option) (*Client, error) {
	const op errors.Op = "execution.NewClient"

	if strings.TrimSpace(cfg.EngineURL) == "" {
		return nil, errors.E(op, errors.KindConfig, "execution engine URL is not set")
	}
	u, err := url.Parse(strings.TrimRight(cfg.EngineURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errors.E(op, errors.KindConfig, fmt.Sprintf("invalid execution engine URL %q", cfg.EngineURL))
	}

	limit := rate.Inf
	burst := 1
	if cfg.RequestsPerSec > 0 {
		limit = rate.Limit(cfg.RequestsPerSec)
		burst = int(cfg.RequestsPerSec)
		if burst < 1 {
			burst = 1
		}
	}

	c := &Client{
		baseURL:    u,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		limiter:    rate.NewLimiter(limit, burst),
		logger:     zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// URL returns the engine base URL.
func (c *Client) URL() string { return c.baseURL.String() }

func (c *Client) endpoint(parts ...string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.PathEscape(p)
	}
	return c.baseURL.String() + "/api/" + strings.Join(escaped, "/")
}

func (c *Client) newRequest(ctx context.Context, method, target string, body io.Reader, contentType string) (*http.Request, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	if c.apiKey != "" {
		req.Header.Set(APIKeyHeader, c.apiKey)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// doJSON sends in (if any) as JSON and decodes the response into out (if
// any). Non-2xx responses fail with KindExecutionManager, or KindNotFound
// for 404.
func (c *Client) doJSON(ctx context.Context, op errors.Op, method, target string, in, out interface{}) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return errors.E(op, errors.KindExecutionManager, err)
		}
		body = bytes.NewReader(b)
		contentType = "application/json"
	}
	req, err := c.newRequest(ctx, method, target, body, contentType)
	if err != nil {
		return errors.E(op, errors.KindExecutionManager, err)
	}
	return c.send(op, req, out)
}

func (c *Client) send(op errors.Op, req *http.Request, out interface{}) error {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.E(op, errors.KindExecutionManager, err, "engine request failed")
	}
	defer resp.Body.Close()

	c.logger.Debug("engine request",
		zap.String("method", req.Method),
		zap.String("path", req.URL.Path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)))

	if err := checkStatus(op, resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.E(op, errors.KindExecutionManager, err, "invalid engine response")
	}
	return nil
}

// engineError is the error body returned by the engine.
type engineError struct {
	Message string `json:"err_msg"`
	Code    int    `json:"err_code"`
}

func checkStatus(op errors.Op, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	msg := resp.Status
	var ee engineError
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if json.Unmarshal(raw, &ee) == nil && ee.Message != "" {
		msg = fmt.Sprintf("%s: %s", resp.Status, ee.Message)
	}
	if resp.StatusCode == http.StatusNotFound {
		return errors.E(op, errors.KindNotFound, msg)
	}
	return errors.E(op, errors.KindExecutionManager, msg)
}
