// Package mock provides in-memory [audio.Source] and [audio.Sink]
// implementations for unit tests.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxfix/pkg/audio"
)

var (
	_ audio.Source = (*Source)(nil)
	_ audio.Sink   = (*Sink)(nil)
)

// Source replays Frames on every capture and then either closes the channel
// or, when Hold is set, keeps it open until the capture context ends.
type Source struct {
	mu sync.Mutex

	Frames     []audio.Frame
	Hold       bool
	CaptureErr error

	CaptureCount int
}

// Capture implements [audio.Source].
func (s *Source) Capture(ctx context.Context) (<-chan audio.Frame, error) {
	s.mu.Lock()
	s.CaptureCount++
	frames, hold, err := s.Frames, s.Hold, s.CaptureErr
	s.mu.Unlock()

	if err != nil {
		return nil, err
	}
	out := make(chan audio.Frame, len(frames))
	for _, f := range frames {
		out <- f
	}
	if !hold {
		close(out)
		return out, nil
	}
	go func() {
		<-ctx.Done()
		close(out)
	}()
	return out, nil
}

// Captures returns how many times Capture was called.
func (s *Source) Captures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CaptureCount
}

// Sink records every played frame.
type Sink struct {
	mu sync.Mutex

	// PlayErr, if non-nil, is returned by Play.
	PlayErr error

	// Block, if non-nil, makes Play wait until it is closed or ctx ends.
	Block chan struct{}

	frames []audio.Frame
}

// Play implements [audio.Sink].
func (s *Sink) Play(ctx context.Context, f audio.Frame) error {
	s.mu.Lock()
	block, err := s.Block, s.PlayErr
	s.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.frames = append(s.frames, f)
	s.mu.Unlock()
	return nil
}

// Frames returns a copy of the frames played so far.
func (s *Sink) Frames() []audio.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audio.Frame(nil), s.frames...)
}
