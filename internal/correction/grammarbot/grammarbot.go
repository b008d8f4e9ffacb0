// Package grammarbot implements a correction backend for the GrammarBot API
// published on RapidAPI.
//
// GrammarBot reports a list of matches, each with an offset, a length and
// candidate replacements. Only the first match's first replacement is
// applied; further matches are ignored. Offsets and lengths count UTF-16
// code units.
package grammarbot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/MrWong99/voxfix/internal/correction"
)

const (
	defaultEndpoint = "https://grammarbot.p.rapidapi.com/check"
	defaultHost     = "grammarbot.p.rapidapi.com"
	defaultLanguage = "en-US"
	defaultTimeout  = 15 * time.Second

	// maxErrorBody bounds how much of a failed response is kept.
	maxErrorBody = 512
)

// Option configures a [Client].
type Option func(*Client)

// WithEndpoint overrides the check URL.
func WithEndpoint(u string) Option {
	return func(c *Client) { c.endpoint = u }
}

// WithHost overrides the x-rapidapi-host header.
func WithHost(h string) Option {
	return func(c *Client) { c.host = h }
}

// WithLanguage sets the checked language. Default: "en-US".
func WithLanguage(lang string) Option {
	return func(c *Client) { c.language = lang }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// Client is a [correction.Client] for GrammarBot.
type Client struct {
	apiKey   string
	endpoint string
	host     string
	language string
	http     *http.Client
}

var _ correction.Client = (*Client)(nil)

// New returns a GrammarBot client authenticated with apiKey.
func New(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("grammarbot: api key is required")
	}
	c := &Client{
		apiKey:   apiKey,
		endpoint: defaultEndpoint,
		host:     defaultHost,
		language: defaultLanguage,
		http:     &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

type checkResponse struct {
	Matches []match `json:"matches"`
}

type match struct {
	Message      string `json:"message"`
	Offset       int    `json:"offset"`
	Length       int    `json:"length"`
	Replacements []struct {
		Value string `json:"value"`
	} `json:"replacements"`
}

// Correct implements [correction.Client]. Text without matches comes back
// unchanged.
func (c *Client) Correct(ctx context.Context, text string) (string, error) {
	if err := correction.Validate(text); err != nil {
		return "", err
	}

	form := url.Values{}
	form.Set("text", text)
	form.Set("language", c.language)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("grammarbot: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("x-rapidapi-key", c.apiKey)
	req.Header.Set("x-rapidapi-host", c.host)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", correction.Unavailable("grammarbot", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", &correction.ServiceError{
			Backend:    "grammarbot",
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%s", strings.TrimSpace(string(body))),
		}
	}

	var cr checkResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return "", &correction.ServiceError{Backend: "grammarbot", StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return applyFirst(text, cr.Matches), nil
}

// applyFirst replaces the span of the first match with its first
// replacement. Matches without replacements or with an out-of-range span
// leave text untouched.
func applyFirst(text string, matches []match) string {
	if len(matches) == 0 {
		return text
	}
	m := matches[0]
	if len(m.Replacements) == 0 {
		return text
	}

	units := utf16.Encode([]rune(text))
	if m.Offset < 0 || m.Length < 0 || m.Offset+m.Length > len(units) {
		return text
	}
	var sb strings.Builder
	sb.WriteString(string(utf16.Decode(units[:m.Offset])))
	sb.WriteString(m.Replacements[0].Value)
	sb.WriteString(string(utf16.Decode(units[m.Offset+m.Length:])))
	return sb.String()
}
