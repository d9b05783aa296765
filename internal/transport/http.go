// Package transport is the net/http-based ports.HttpClient adapter:
// bounded retries with linear backoff and per-call timeouts. It does
// not implement a circuit breaker.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hivewarden-like/idpguard/internal/ports"
)

// Config tunes the client's defaults; per-call ports.RequestOptions
// override these.
type Config struct {
	DefaultTimeout time.Duration
	DefaultRetries int
	RetryDelay     time.Duration
}

// WithDefaults fills unset fields.
func (c Config) WithDefaults() Config {
	if c.DefaultTimeout == 0 {
		c.DefaultTimeout = 10 * time.Second
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = 200 * time.Millisecond
	}
	return c
}

// Client is a net/http-based ports.HttpClient.
type Client struct {
	http *http.Client
	cfg  Config
}

// New constructs a Client.
func New(cfg Config) *Client {
	cfg = cfg.WithDefaults()
	return &Client{http: &http.Client{}, cfg: cfg}
}

func (c *Client) do(ctx context.Context, method, rawURL string, opts ports.RequestOptions) (*ports.HTTPResponse, error) {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = c.cfg.DefaultTimeout
	}
	retries := opts.Retries
	if retries == 0 {
		retries = c.cfg.DefaultRetries
	}

	var body []byte
	contentType := ""
	switch {
	case opts.Form != nil:
		form := url.Values{}
		for k, v := range opts.Form {
			form.Set(k, v)
		}
		body = []byte(form.Encode())
		contentType = "application/x-www-form-urlencoded"
	case opts.JSONBody != nil:
		encoded, err := json.Marshal(opts.JSONBody)
		if err != nil {
			return nil, fmt.Errorf("transport: marshal json body: %w", err)
		}
		body = encoded
		contentType = "application/json"
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(c.cfg.RetryDelay * time.Duration(attempt)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		resp, err := c.attempt(ctx, method, rawURL, body, contentType, opts.Headers, timeout)
		if err == nil {
			if resp.Status >= 500 && attempt < retries {
				lastErr = fmt.Errorf("transport: server error %d", resp.Status)
				continue
			}
			return resp, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("transport: request failed after %d attempt(s): %w", retries+1, lastErr)
}

func (c *Client) attempt(ctx context.Context, method, rawURL string, body []byte, contentType string, headers map[string]string, timeout time.Duration) (*ports.HTTPResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(callCtx, method, rawURL, reader)
	if err != nil {
		return nil, fmt.Errorf("transport: build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transport: do request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("transport: read body: %w", err)
	}

	return &ports.HTTPResponse{
		Status:     resp.StatusCode,
		StatusText: resp.Status,
		Headers:    resp.Header,
		Data:       data,
	}, nil
}

// Get implements ports.HttpClient.
func (c *Client) Get(ctx context.Context, rawURL string, opts ports.RequestOptions) (*ports.HTTPResponse, error) {
	return c.do(ctx, http.MethodGet, rawURL, opts)
}

// Post implements ports.HttpClient.
func (c *Client) Post(ctx context.Context, rawURL string, opts ports.RequestOptions) (*ports.HTTPResponse, error) {
	return c.do(ctx, http.MethodPost, rawURL, opts)
}

// Put implements ports.HttpClient.
func (c *Client) Put(ctx context.Context, rawURL string, opts ports.RequestOptions) (*ports.HTTPResponse, error) {
	return c.do(ctx, http.MethodPut, rawURL, opts)
}

// Delete implements ports.HttpClient.
func (c *Client) Delete(ctx context.Context, rawURL string, opts ports.RequestOptions) (*ports.HTTPResponse, error) {
	return c.do(ctx, http.MethodDelete, rawURL, opts)
}

var _ ports.HttpClient = (*Client)(nil)
