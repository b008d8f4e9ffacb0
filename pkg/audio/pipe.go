package audio

import (
	"context"
	"sync"
)

// Pipe is a [Source] fed by Push. Frames pushed while no capture is running
// are dropped. At most one capture runs at a time.
//
// The zero value is not usable; call [NewPipe].
type Pipe struct {
	mu     sync.Mutex
	out    chan Frame
	closed bool
	buf    int
}

var _ Source = (*Pipe)(nil)

// NewPipe returns a Pipe whose captures buffer up to buf frames.
func NewPipe(buf int) *Pipe {
	return &Pipe{buf: buf}
}

// Capture implements [Source].
func (p *Pipe) Capture(ctx context.Context) (<-chan Frame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		out := make(chan Frame)
		close(out)
		return out, nil
	}
	if p.out != nil {
		return nil, ErrSourceBusy
	}
	out := make(chan Frame, p.buf)
	p.out = out
	context.AfterFunc(ctx, func() { p.release(out) })
	return out, nil
}

// Push offers a frame to the running capture. It reports whether the frame
// was accepted; frames are dropped when nobody is capturing or the buffer is
// full.
func (p *Pipe) Push(f Frame) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.out == nil {
		return false
	}
	select {
	case p.out <- f:
		return true
	default:
		return false
	}
}

// Capturing reports whether a capture is running.
func (p *Pipe) Capturing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.out != nil
}

// Close ends any running capture and makes future captures return an
// already closed channel.
func (p *Pipe) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	if p.out != nil {
		close(p.out)
		p.out = nil
	}
}

func (p *Pipe) release(out chan Frame) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.out == out {
		close(out)
		p.out = nil
	}
}
