package audio

import (
	"context"
	"sync"
)

// Relay is a [Sink] that forwards frames to at most one attached listener.
// While nobody is attached, Play discards frames without blocking, so an
// utterance played to a disconnected client still completes.
//
// The zero value is ready to use.
type Relay struct {
	mu  sync.Mutex
	cur *attachment
}

type attachment struct {
	frames chan Frame
	done   chan struct{}
	once   sync.Once
}

func (a *attachment) detach() { a.once.Do(func() { close(a.done) }) }

var _ Sink = (*Relay)(nil)

// Attach makes the caller the listener and returns its frame channel plus a
// detach function. A previous listener is detached. The frame channel is
// never closed; stop reading once detach has been called.
func (r *Relay) Attach(buf int) (<-chan Frame, func()) {
	a := &attachment{
		frames: make(chan Frame, buf),
		done:   make(chan struct{}),
	}
	r.mu.Lock()
	prev := r.cur
	r.cur = a
	r.mu.Unlock()
	if prev != nil {
		prev.detach()
	}

	return a.frames, func() {
		a.detach()
		r.mu.Lock()
		if r.cur == a {
			r.cur = nil
		}
		r.mu.Unlock()
	}
}

// Attached reports whether a listener is attached.
func (r *Relay) Attached() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cur != nil
}

// Play implements [Sink]. It blocks while the listener's buffer is full.
func (r *Relay) Play(ctx context.Context, f Frame) error {
	r.mu.Lock()
	a := r.cur
	r.mu.Unlock()
	if a == nil {
		return nil
	}
	select {
	case a.frames <- f:
		return nil
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
