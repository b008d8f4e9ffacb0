// Package remote implements a correction backend that calls another HTTP
// service speaking one of two JSON shapes:
//
//   - ShapeCheck:    POST {"text": "..."}   → {"corrected": "..."} (a VoxFix /api/check peer)
//   - ShapeProvider: POST {"prompt": "..."} → {"text": "..."}      (a /generate_response provider)
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/voxfix/internal/correction"
)

// Shape selects the request and response field names.
type Shape string

const (
	ShapeCheck    Shape = "check"
	ShapeProvider Shape = "provider"
)

const (
	defaultTimeout = 15 * time.Second
	maxErrorBody   = 512
)

// Option configures a [Client].
type Option func(*Client)

// WithShape selects the wire shape. Default: [ShapeCheck].
func WithShape(s Shape) Option {
	return func(c *Client) { c.shape = s }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithHeader adds a header to every request, e.g. an API key.
func WithHeader(key, value string) Option {
	return func(c *Client) { c.headers.Set(key, value) }
}

// Client is a [correction.Client] for a remote JSON endpoint.
type Client struct {
	url     string
	shape   Shape
	headers http.Header
	http    *http.Client
}

var _ correction.Client = (*Client)(nil)

// New returns a client posting to url.
func New(url string, opts ...Option) (*Client, error) {
	if url == "" {
		return nil, errors.New("remote: url is required")
	}
	c := &Client{
		url:     url,
		shape:   ShapeCheck,
		headers: http.Header{},
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	switch c.shape {
	case ShapeCheck, ShapeProvider:
	default:
		return nil, fmt.Errorf("remote: unknown shape %q", c.shape)
	}
	return c, nil
}

// fields returns the request and response keys for the shape.
func (c *Client) fields() (in, out string) {
	if c.shape == ShapeProvider {
		return "prompt", "text"
	}
	return "text", "corrected"
}

// Correct implements [correction.Client].
func (c *Client) Correct(ctx context.Context, text string) (string, error) {
	if err := correction.Validate(text); err != nil {
		return "", err
	}
	in, out := c.fields()

	body, err := json.Marshal(map[string]string{in: text})
	if err != nil {
		return "", fmt.Errorf("remote: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("remote: build request: %w", err)
	}
	for k, v := range c.headers {
		req.Header[k] = v
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", correction.Unavailable("remote", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", &correction.ServiceError{
			Backend:    "remote",
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%s", strings.TrimSpace(string(msg))),
		}
	}

	var payload map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", &correction.ServiceError{Backend: "remote", StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	raw, ok := payload[out]
	if !ok {
		return "", correction.ErrNoCorrectionReturned
	}
	var corrected string
	if err := json.Unmarshal(raw, &corrected); err != nil || strings.TrimSpace(corrected) == "" {
		return "", correction.ErrNoCorrectionReturned
	}
	return strings.TrimSpace(corrected), nil
}
