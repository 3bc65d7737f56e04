package carrier

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
)

const (
	maxAttempts       = 3
	defaultRetryDelay = time.Second
)

// Client talks to the carrier's private mobile API, emulating the
// official Android application. One Client is opened per logical
// session; cookies are never carried between independent sessions.
type Client struct {
	rest       *resty.Client
	proxies    *ProxyPool
	apiKey     string
	retryDelay time.Duration
	logger     *slog.Logger
}

// Options configures a carrier client.
type Options struct {
	BaseURL string
	APIKey  string
	Proxies *ProxyPool
	Timeout time.Duration
	Logger  *slog.Logger
}

// NewClient builds a gateway client with the fixed device-fingerprint
// header set. The proxy pool, when non-empty, is consulted once per
// attempt so retries can exit a bad egress.
func NewClient(opts Options) *Client {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	transport := &http.Transport{
		Proxy: func(*http.Request) (*url.URL, error) {
			return opts.Proxies.Pick(), nil
		},
	}

	// No cookie jar: session cookies travel only in the explicit
	// Cookie header, so independent calls never inherit a session.
	rest := resty.New().
		SetCookieJar(nil).
		SetBaseURL(opts.BaseURL).
		SetTimeout(timeout).
		SetTransport(transport).
		SetHeaders(map[string]string{
			"User-Agent":        "okhttp/5.0.0-alpha.2",
			"Content-Type":      "application/json",
			"X-ODP-API-KEY":     opts.APIKey,
			"X-OS-Version":      "11",
			"X-Device-Type":     "[Android][realme][RMX2189 11] [R]",
			"X-ODP-APP-VERSION": "4.2.4",
			"X-FROM-APP":        "odp",
			"X-ODP-CHANNEL":     "mobile",
			"X-SCREEN-TYPE":     "MOBILE",
			"Cache-Control":     "private, max-age=240",
		})

	return &Client{
		rest:       rest,
		proxies:    opts.Proxies,
		apiKey:     opts.APIKey,
		retryDelay: defaultRetryDelay,
		logger:     opts.Logger,
	}
}

// Response is the normalized result of a gateway call.
type Response struct {
	Status  int
	Headers http.Header
	Cookies []*http.Cookie
	Body    []byte
}

// DecodeJSON unmarshals the response body into v.
func (r *Response) DecodeJSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

// Text returns the raw response body as a string.
func (r *Response) Text() string {
	return string(r.Body)
}

// SessionCookie extracts the session cookie in name=value form,
// preferring parsed cookie jar entries and falling back to the raw
// Set-Cookie header with attributes stripped. An empty string means
// no cookie was issued.
func (r *Response) SessionCookie() string {
	for _, c := range r.Cookies {
		if c.Name != "" && c.Value != "" {
			return c.Name + "=" + c.Value
		}
	}
	raw := r.Headers.Get("Set-Cookie")
	if raw == "" {
		return ""
	}
	if i := strings.Index(raw, ";"); i >= 0 {
		raw = raw[:i]
	}
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "=") {
		return ""
	}
	return raw
}

// NewDeviceID generates a fresh random device identifier. The value
// stays stable for the lifetime of one login session.
func NewDeviceID() string {
	return uuid.NewString()
}

// Execute performs one gateway call. Per-request headers merge over the
// emulated-client defaults. Transport failures are retried up to
// maxAttempts with a short delay; non-2xx responses surface immediately
// as *StatusError without retry.
func (c *Client) Execute(ctx context.Context, method, path string, headers map[string]string, body any) (*Response, error) {
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		req := c.rest.R().SetContext(ctx)
		if len(headers) > 0 {
			req.SetHeaders(headers)
		}
		if body != nil {
			req.SetBody(body)
		}

		resp, err := req.Execute(method, path)
		if err != nil {
			lastErr = err
			c.logger.Warn("carrier request failed",
				"method", method, "path", path,
				"attempt", attempt, "proxied", c.proxies.Size() > 0)
			if attempt < maxAttempts {
				select {
				case <-ctx.Done():
					return nil, &TransportError{Attempts: attempt, Proxied: c.proxies.Size() > 0, Err: ctx.Err()}
				case <-time.After(c.retryDelay):
				}
			}
			continue
		}

		if resp.IsError() {
			return nil, &StatusError{Status: resp.StatusCode(), Body: string(resp.Body())}
		}

		return &Response{
			Status:  resp.StatusCode(),
			Headers: resp.Header(),
			Cookies: resp.Cookies(),
			Body:    resp.Body(),
		}, nil
	}

	return nil, &TransportError{Attempts: maxAttempts, Proxied: c.proxies.Size() > 0, Err: lastErr}
}
