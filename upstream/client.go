// ABOUTME: HTTP client for the practice-management API with rate limiting and retries
// ABOUTME: Retries 429/5xx/network failures with Retry-After or exponential backoff plus jitter
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/oauth2"

	"github.com/harperreed/gestor/metrics"
	"github.com/harperreed/gestor/resolve"
)

const (
	DefaultUserAgent   = "gestor-neto-contabilidade/1.0"
	DefaultPageSize    = 100
	DefaultMaxAttempts = 7
	DefaultBaseBackoff = 2 * time.Second
	DefaultMaxJitter   = 500 * time.Millisecond
	DefaultTimeout     = 30 * time.Second

	bodyExcerptLimit = 400
)

// Config configures a Client. Zero values fall back to the defaults above.
type Config struct {
	BaseURL     string
	Token       string
	UserAgent   string
	PageSize    int
	MaxAttempts int
	BaseBackoff time.Duration
	MaxJitter   time.Duration
	Timeout     time.Duration

	// Limiter is shared by every client that draws from the same budget.
	// A nil Limiter means no spacing.
	Limiter   *Limiter
	Transport http.RoundTripper
	Logger    *log.Logger
}

// Client talks to the upstream JSON API.
type Client struct {
	http        *http.Client
	baseURL     *url.URL
	userAgent   string
	pageSize    int
	maxAttempts int
	baseBackoff time.Duration
	maxJitter   time.Duration
	limiter     *Limiter
	logger      *log.Logger

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(max time.Duration) time.Duration
	now    func() time.Time
}

// Request describes one logical call. Path is relative to the base URL.
type Request struct {
	Method string
	Path   string
	Query  url.Values
}

// Response is a successful (2xx) upstream response with its body read.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// NewClient builds a client. The bearer token is attached by an oauth2
// static token transport wrapped around cfg.Transport.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("API token is required")
	}

	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("failed to parse base URL: %w", err)
	}

	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	authed := &oauth2.Transport{
		Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token, TokenType: "Bearer"}),
		Base:   transport,
	}

	c := &Client{
		http:        &http.Client{Transport: authed, Timeout: orDuration(cfg.Timeout, DefaultTimeout)},
		baseURL:     base,
		userAgent:   cfg.UserAgent,
		pageSize:    cfg.PageSize,
		maxAttempts: cfg.MaxAttempts,
		baseBackoff: orDuration(cfg.BaseBackoff, DefaultBaseBackoff),
		maxJitter:   cfg.MaxJitter,
		limiter:     cfg.Limiter,
		logger:      cfg.Logger,
		sleep:       sleepContext,
		jitter:      randomJitter,
		now:         time.Now,
	}
	if c.userAgent == "" {
		c.userAgent = DefaultUserAgent
	}
	if c.pageSize <= 0 {
		c.pageSize = DefaultPageSize
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = DefaultMaxAttempts
	}
	if c.maxJitter < 0 {
		c.maxJitter = 0
	}
	if c.limiter == nil {
		c.limiter = NewLimiter(0, 0)
	}
	if c.logger == nil {
		c.logger = log.New(io.Discard)
	}

	return c, nil
}

// PageSize is the number of records requested per page.
func (c *Client) PageSize() int {
	return c.pageSize
}

// Do performs req, waiting for limiter admission before every attempt.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	target := c.url(req)
	endpoint := endpointLabel(req.Path)

	var lastErr error
	var lastCode int

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		resp, err := c.send(ctx, req.Method, target)
		var delay time.Duration
		var reason string

		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			metrics.UpstreamRequests.WithLabelValues(endpoint, "error").Inc()
			lastErr, lastCode = err, 0
			reason = "network"
			delay = c.backoff(attempt)
		} else {
			metrics.UpstreamRequests.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return resp, nil
			}
			if !retryable(resp.StatusCode) {
				return nil, &PermanentError{
					StatusCode: resp.StatusCode,
					URL:        target,
					Body:       excerpt(resp.Body),
				}
			}

			lastErr, lastCode = statusError(resp.StatusCode), resp.StatusCode
			reason = "5xx"
			if resp.StatusCode == http.StatusTooManyRequests {
				reason = "429"
			}
			delay = retryAfter(resp.Header, c.now())
			if delay <= 0 {
				delay = c.backoff(attempt)
			}
		}

		if attempt == c.maxAttempts {
			break
		}

		metrics.UpstreamRetries.WithLabelValues(reason).Inc()
		c.logger.Warn("upstream request failed, retrying",
			"url", target,
			"status", lastCode,
			"error", lastErr,
			"attempt", attempt,
			"max_attempts", c.maxAttempts,
			"wait", delay)

		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	return nil, &TransientError{
		StatusCode: lastCode,
		Attempts:   c.maxAttempts,
		Exhausted:  true,
		Err:        lastErr,
	}
}

// GetRecords performs a GET and decodes the body as a list of records.
func (c *Client) GetRecords(ctx context.Context, path string, query url.Values) ([]resolve.Record, error) {
	resp, err := c.Do(ctx, Request{Method: http.MethodGet, Path: path, Query: query})
	if err != nil {
		return nil, err
	}
	records, err := DecodeRecords(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return records, nil
}

func (c *Client) send(ctx context.Context, method, target string) (*Response, error) {
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", c.userAgent)

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer func() { _ = httpResp.Body.Close() }()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       body,
	}, nil
}

func (c *Client) url(req Request) string {
	ref := &url.URL{Path: strings.TrimLeft(req.Path, "/")}
	u := c.baseURL.ResolveReference(ref)
	if len(req.Query) > 0 {
		u.RawQuery = req.Query.Encode()
	}
	return u.String()
}

// backoff is base * 2^(attempt-1) plus jitter.
func (c *Client) backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 20 {
		attempt = 20
	}
	return c.baseBackoff*time.Duration(1<<(attempt-1)) + c.jitter(c.maxJitter)
}

// retryAfter reads a Retry-After header given in seconds or as an HTTP date.
// Zero means the header was absent or not positive.
func retryAfter(h http.Header, now time.Time) time.Duration {
	value := strings.TrimSpace(h.Get("Retry-After"))
	if value == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs * float64(time.Second))
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// DecodeRecords accepts the three shapes the upstream returns: a JSON array,
// an object wrapping an "items" array, or a single object. An empty body is
// an empty page. Non-object list elements are dropped.
func DecodeRecords(body []byte) ([]resolve.Record, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var payload any
	if err := dec.Decode(&payload); err != nil {
		return nil, err
	}

	switch v := payload.(type) {
	case []any:
		return toRecords(v), nil
	case map[string]any:
		if items, ok := v["items"]; ok {
			list, ok := items.([]any)
			if !ok {
				if items == nil {
					return nil, nil
				}
				return nil, errors.New("items is not a list")
			}
			return toRecords(list), nil
		}
		if len(v) == 0 {
			return nil, nil
		}
		return []resolve.Record{resolve.Record(v)}, nil
	case string:
		// The API answers some empty listings with a bare message string.
		return nil, nil
	}
	return nil, fmt.Errorf("unexpected payload type %T", payload)
}

func toRecords(list []any) []resolve.Record {
	records := make([]resolve.Record, 0, len(list))
	for _, item := range list {
		if obj, ok := item.(map[string]any); ok {
			records = append(records, resolve.Record(obj))
		}
	}
	return records
}

func endpointLabel(path string) string {
	path = strings.Trim(path, "/")
	if i := strings.Index(path, "/"); i >= 0 {
		return path[:i]
	}
	return path
}

func excerpt(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > bodyExcerptLimit {
		return s[:bodyExcerptLimit]
	}
	return s
}

func orDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}
