// Package mock provides a test double for correction.Client.
//
//	c := &mock.Client{Response: "He went home."}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxfix/internal/correction"
)

var _ correction.Client = (*Client)(nil)

// Client is a scripted correction.Client.
type Client struct {
	mu sync.Mutex

	// Response is returned when Err is nil.
	Response string

	// Err, if non-nil, is returned from Correct.
	Err error

	// Block, if non-nil, makes Correct wait until it is closed or ctx ends.
	Block chan struct{}

	// CorrectFunc, if set, overrides Response and Err.
	CorrectFunc func(ctx context.Context, text string) (string, error)

	Inputs []string
}

// Correct implements correction.Client.
func (c *Client) Correct(ctx context.Context, text string) (string, error) {
	c.mu.Lock()
	c.Inputs = append(c.Inputs, text)
	fn, resp, err, block := c.CorrectFunc, c.Response, c.Err, c.Block
	c.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if fn != nil {
		return fn(ctx, text)
	}
	if err != nil {
		return "", err
	}
	return resp, nil
}

// Calls returns a copy of the texts passed to Correct.
func (c *Client) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.Inputs...)
}
