// Package remote is the JSON-over-HTTP client for the workshop REST API.
package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// SessionCookie is the cookie carrying the session token.
const SessionCookie = "session"

// maxErrorBody caps the response body kept on a StatusError.
const maxErrorBody = 512

// Options configure a Client.
type Options struct {
	// BaseURL is the scheme and host, e.g. https://api.example.com.
	BaseURL string
	// HTTPClient overrides the transport. Its cookie jar is replaced when nil.
	HTTPClient *http.Client
	// SessionToken is sent as the session cookie when set.
	SessionToken string
	// DebugSubject is sent as X-Debug-Sub for servers running in dev mode.
	DebugSubject string
	// Timeout applies when HTTPClient is nil. Zero means 30s.
	Timeout time.Duration
}

// Client issues requests against the remote API. Every request carries the
// session cookie and a fresh X-Correlation-ID.
type Client struct {
	base       *url.URL
	httpClient *http.Client
	debugSub   string
}

// Request describes one HTTP call. URL may be relative to the base URL.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
}

// Response is a 2xx answer.
type Response struct {
	StatusCode int
	Body       []byte
}

// New returns a client for opts.BaseURL.
func New(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base url %q: scheme and host required", opts.BaseURL)
	}

	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	if hc.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, err
		}
		hc.Jar = jar
	}
	if opts.SessionToken != "" {
		hc.Jar.SetCookies(base, []*http.Cookie{{
			Name:  SessionCookie,
			Value: opts.SessionToken,
			Path:  "/",
		}})
	}

	return &Client{base: base, httpClient: hc, debugSub: opts.DebugSubject}, nil
}

// BaseURL returns the configured base URL.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// Resolve turns a path such as /api/clients/3 into an absolute URL.
func (c *Client) Resolve(ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return c.base.ResolveReference(u).String(), nil
}

// Do executes r. Transport failures come back as *NetworkError and non-2xx
// answers as *StatusError.
func (c *Client) Do(ctx context.Context, r Request) (*Response, error) {
	method := strings.ToUpper(r.Method)
	if method == "" {
		method = http.MethodGet
	}
	target, err := c.Resolve(r.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid request url %q: %w", r.URL, err)
	}

	correlationID := uuid.New().String()
	logger := log.With().
		Str("method", method).
		Str("url", target).
		Str("correlationId", correlationID).
		Logger()

	var body io.Reader
	if method != http.MethodGet && len(r.Body) > 0 {
		body = bytes.NewReader(r.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}
	if method != http.MethodGet {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Correlation-ID", correlationID)
	if c.debugSub != "" {
		req.Header.Set("X-Debug-Sub", c.debugSub)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)
	if err != nil {
		logger.Debug().Err(err).Dur("duration", duration).Msg("HTTP request failed")
		return nil, &NetworkError{Method: method, URL: target, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Method: method, URL: target, Err: err}
	}

	logger.Debug().
		Int("status", resp.StatusCode).
		Dur("duration", duration).
		Msg("HTTP request completed")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(data))
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		return nil, &StatusError{Method: method, URL: target, StatusCode: resp.StatusCode, Body: msg}
	}
	return &Response{StatusCode: resp.StatusCode, Body: data}, nil
}

// Ping checks that the API answers its health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Do(ctx, Request{Method: http.MethodGet, URL: "/healthz"})
	return err
}
