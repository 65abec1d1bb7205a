// Package http wraps net/http for calls to provider APIs. Every non-2xx
// response is classified into an AppError so callers can branch on the error
// type instead of status codes.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"area-engine/internal/common/errors"
)

const maxErrorBody = 4 << 10

// ClientConfig holds HTTP client settings.
type ClientConfig struct {
	Timeout             time.Duration
	MaxIdleConnsPerHost int
	Transport           http.RoundTripper
}

// ClientOption modifies a ClientConfig.
type ClientOption func(*ClientConfig)

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *ClientConfig) { c.Timeout = timeout }
}

func WithTransport(transport http.RoundTripper) ClientOption {
	return func(c *ClientConfig) { c.Transport = transport }
}

// NewHTTPClient builds an *http.Client with a pooled transport.
func NewHTTPClient(opts ...ClientOption) *http.Client {
	cfg := ClientConfig{Timeout: 30 * time.Second, MaxIdleConnsPerHost: 10}
	for _, opt := range opts {
		opt(&cfg)
	}

	transport := cfg.Transport
	if transport == nil {
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.MaxIdleConnsPerHost = cfg.MaxIdleConnsPerHost
		transport = t
	}
	return &http.Client{Timeout: cfg.Timeout, Transport: transport}
}

// Request describes one API call.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	// Body is JSON-encoded unless it is already an io.Reader.
	Body interface{}
}

// Response is a decoded API response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Decode unmarshals the response body into v.
func (r *Response) Decode(v interface{}) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return errors.InternalError("failed to decode provider response", err)
	}
	return nil
}

// APIClient issues JSON requests to a provider.
type APIClient struct {
	client    *http.Client
	userAgent string
}

func NewAPIClient(client *http.Client, userAgent string) *APIClient {
	if client == nil {
		client = NewHTTPClient()
	}
	return &APIClient{client: client, userAgent: userAgent}
}

// Do executes req. A non-2xx status returns both the response and an AppError
// built by errors.FromHTTPStatus; 429 responses carry Retry-After.
func (c *APIClient) Do(ctx context.Context, req Request) (*Response, error) {
	var body io.Reader
	switch b := req.Body.(type) {
	case nil:
	case io.Reader:
		body = b
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, errors.ValidationError("request body is not JSON serializable")
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, errors.ValidationError(fmt.Sprintf("invalid request: %v", err))
	}
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		httpReq.Header.Set("User-Agent", c.userAgent)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		var urlErr *url.Error
		if stderrors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return nil, errors.TransportError(fmt.Sprintf("%s %s failed", req.Method, redact(req.URL)), err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.TransportError("failed to read provider response", err)
	}

	out := &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return out, nil
	}

	appErr := errors.FromHTTPStatus(resp.StatusCode, errorMessage(resp.StatusCode, data))
	if resp.StatusCode == http.StatusTooManyRequests {
		appErr.RetryAfter = errors.ParseRetryAfter(resp.Header.Get("Retry-After"), 0)
	}
	return out, appErr
}

// errorMessage extracts a provider error message, falling back to the raw body.
func errorMessage(status int, body []byte) string {
	var parsed struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(body, &parsed) == nil {
		switch {
		case parsed.Message != "":
			return fmt.Sprintf("status %d: %s", status, parsed.Message)
		case parsed.Error != "":
			return fmt.Sprintf("status %d: %s", status, parsed.Error)
		}
	}
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	text := strings.TrimSpace(string(body))
	if text == "" {
		text = http.StatusText(status)
	}
	return fmt.Sprintf("status %d: %s", status, text)
}

// redact drops the query string, which may hold tokens.
func redact(rawURL string) string {
	if i := strings.IndexByte(rawURL, '?'); i >= 0 {
		return rawURL[:i]
	}
	return rawURL
}
