package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// StatusError is a non-2xx vendor response.
type StatusError struct {
	Method string
	URL    string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 300 {
		body = body[:300] + "..."
	}
	if body == "" {
		return fmt.Sprintf("%s %s: HTTP %d", e.Method, e.URL, e.Status)
	}
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.URL, e.Status, body)
}

// Unwrap classifies the status: 401/403 are authentication failures,
// 408/429/5xx are transient, any other 4xx is a vendor rejection.
func (e *StatusError) Unwrap() error {
	switch {
	case e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden:
		return ErrAuthentication
	case e.Status == http.StatusRequestTimeout || e.Status == http.StatusTooManyRequests || e.Status >= 500:
		return ErrTransient
	default:
		return ErrRemoteRejection
	}
}

// Request describes one vendor call. Body is JSON encoded unless it is an io.Reader.
type Request struct {
	Method        string
	URL           string
	Query         url.Values
	Header        http.Header
	Body          any
	ContentType   string
	ContentLength int64
}

// Client is a small JSON-over-HTTP helper shared by the vendor adapters.
type Client struct {
	http    *http.Client
	baseURL string
	token   string
	header  http.Header
}

// NewClient builds a client with a network-level timeout on every call.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Client{
		http:    &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		header:  make(http.Header),
	}
}

// WithHTTPClient swaps the underlying transport.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	cp := c.clone()
	cp.http = hc
	return cp
}

// WithBearer returns a copy that authenticates with token.
func (c *Client) WithBearer(token string) *Client {
	cp := c.clone()
	cp.token = token
	return cp
}

// WithHeader returns a copy that sends an extra header on every call.
func (c *Client) WithHeader(key, value string) *Client {
	cp := c.clone()
	cp.header.Set(key, value)
	return cp
}

// BaseURL returns the configured base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) clone() *Client {
	cp := *c
	cp.header = c.header.Clone()
	return &cp
}

// Do sends req and decodes a JSON response into out when out is non-nil.
// Network failures are reported as ErrTransient; the caller decides whether
// that is retryable (inside Poll) or a transfer failure.
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	target := req.URL
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		target = c.baseURL + "/" + strings.TrimLeft(target, "/")
	}
	if len(req.Query) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + req.Query.Encode()
	}

	var (
		body        io.Reader
		contentType = req.ContentType
	)
	switch b := req.Body.(type) {
	case nil:
	case io.Reader:
		body = b
	default:
		payload, err := json.Marshal(b)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(payload)
		if contentType == "" {
			contentType = "application/json"
		}
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	for key, values := range c.header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if req.ContentLength > 0 {
		httpReq.ContentLength = req.ContentLength
	}
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %s %s: %w", ErrTransient, method, redact(target), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Method: method, URL: redact(target), Status: resp.StatusCode, Body: string(data)}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode %s %s response: %w", method, redact(target), err)
	}
	return nil
}

func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.RawQuery = ""
	u.User = nil
	return u.String()
}
