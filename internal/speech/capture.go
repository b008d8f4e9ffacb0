package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/voxfix/pkg/audio"
	"github.com/MrWong99/voxfix/pkg/provider/stt"
)

const (
	defaultCaptureLanguage = "en-US"
	defaultCaptureTimeout  = 15 * time.Second

	// endGrace is how long a capture waits for the recogniser once the
	// source has stopped delivering audio.
	endGrace = 3 * time.Second
)

// captureFormat is the PCM format handed to the recogniser.
var captureFormat = audio.Format{SampleRate: 16000, Channels: 1}

// CaptureState is the listening state of a [Capture].
type CaptureState int

const (
	// CaptureIdle means no capture is running.
	CaptureIdle CaptureState = iota
	// CaptureListening means a capture is running.
	CaptureListening
)

func (s CaptureState) String() string {
	if s == CaptureListening {
		return "listening"
	}
	return "idle"
}

// CaptureEventKind discriminates [CaptureEvent].
type CaptureEventKind int

const (
	// EventTranscript carries recognised text.
	EventTranscript CaptureEventKind = iota
	// EventCaptureError carries the failure reason.
	EventCaptureError
)

// CaptureEvent ends a capture.
type CaptureEvent struct {
	Kind   CaptureEventKind
	Text   string // EventTranscript
	Reason string // EventCaptureError
}

// CaptureOption configures a [Capture].
type CaptureOption func(*Capture)

// WithCaptureLanguage sets the recognition language. Defaults to "en-US".
func WithCaptureLanguage(lang string) CaptureOption {
	return func(c *Capture) {
		if lang != "" {
			c.language = lang
		}
	}
}

// WithCaptureTimeout bounds how long one capture may listen. Defaults to 15s;
// zero keeps the default.
func WithCaptureTimeout(d time.Duration) CaptureOption {
	return func(c *Capture) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithCaptureLogger sets the logger. Defaults to slog.Default().
func WithCaptureLogger(l *slog.Logger) CaptureOption {
	return func(c *Capture) { c.log = l }
}

// Capture is a one-shot speech-to-text adapter. It is safe for concurrent
// use.
type Capture struct {
	provider stt.Provider
	source   audio.Source
	language string
	timeout  time.Duration
	log      *slog.Logger
	events   chan CaptureEvent

	mu     sync.Mutex
	state  CaptureState
	gen    uint64
	cancel context.CancelFunc
	closed bool
}

// NewCapture returns a Capture over provider and source. Either may be nil,
// in which case Start reports [ErrCapabilityUnavailable].
func NewCapture(provider stt.Provider, source audio.Source, opts ...CaptureOption) *Capture {
	c := &Capture{
		provider: provider,
		source:   source,
		language: defaultCaptureLanguage,
		timeout:  defaultCaptureTimeout,
		log:      slog.Default(),
		events:   make(chan CaptureEvent, eventBuffer),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Available reports whether both a recogniser and a capture device are
// configured.
func (c *Capture) Available() bool {
	return c.provider != nil && c.source != nil
}

// Events returns the channel on which each capture's single outcome is
// delivered.
func (c *Capture) Events() <-chan CaptureEvent { return c.events }

// State returns the current listening state.
func (c *Capture) State() CaptureState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start begins listening and returns immediately. It is a no-op while a
// capture is already running. The capture is bound to ctx: cancelling it
// aborts the capture without an event.
func (c *Capture) Start(ctx context.Context) error {
	if !c.Available() {
		return ErrCapabilityUnavailable
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("speech: capture is closed")
	}
	if c.state == CaptureListening {
		return nil
	}

	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	c.gen++
	c.state = CaptureListening
	c.cancel = cancel
	go c.run(cctx, cancel, c.gen)
	return nil
}

// Cancel stops a running capture without emitting an event.
func (c *Capture) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

// Close cancels any running capture and rejects future Starts.
func (c *Capture) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
	c.closed = true
}

func (c *Capture) stopLocked() {
	if c.state != CaptureListening {
		return
	}
	c.gen++
	c.state = CaptureIdle
	c.cancel()
	c.cancel = nil
}

// finish publishes ev if gen is still the running capture.
func (c *Capture) finish(gen uint64, ev CaptureEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.state != CaptureListening {
		return
	}
	c.state = CaptureIdle
	c.cancel = nil
	select {
	case c.events <- ev:
	default:
		c.log.Warn("speech: capture event dropped, consumer not reading")
	}
}

func (c *Capture) run(ctx context.Context, cancel context.CancelFunc, gen uint64) {
	defer cancel()

	text, err := c.listen(ctx)
	switch {
	case err == nil:
		c.finish(gen, CaptureEvent{Kind: EventTranscript, Text: text})
	case errors.Is(err, context.Canceled):
		// Cancelled by Cancel, Close or the caller. No event.
	default:
		c.log.Debug("speech: capture failed", "err", err)
		c.finish(gen, CaptureEvent{Kind: EventCaptureError, Reason: err.Error()})
	}
}

// errNoSpeech is the outcome when nothing was recognised.
var errNoSpeech = errors.New("no speech recognized")

// listen runs one capture to its first non-empty final transcript.
func (c *Capture) listen(ctx context.Context) (string, error) {
	ctx, stop := context.WithCancel(ctx)
	frames, err := c.source.Capture(ctx)
	if err != nil {
		stop()
		return "", fmt.Errorf("audio capture: %w", err)
	}
	pcm := audio.ConvertStream(frames, captureFormat)
	defer func() {
		stop()
		audio.Drain(pcm)
	}()

	sess, err := c.provider.StartStream(ctx, stt.StreamConfig{
		SampleRate: captureFormat.SampleRate,
		Channels:   captureFormat.Channels,
		Language:   c.language,
	})
	if err != nil {
		return "", fmt.Errorf("recognizer: %w", err)
	}
	defer sess.Close()

	in, partials, finals := pcm, sess.Partials(), sess.Finals()
	var grace <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return "", errNoSpeech
			}
			return "", ctx.Err()

		case f, ok := <-in:
			if !ok {
				in = nil
				grace = time.After(endGrace)
				continue
			}
			if err := sess.SendAudio(f.Data); err != nil && !errors.Is(err, stt.ErrSessionClosed) {
				return "", fmt.Errorf("recognizer: %w", err)
			}

		case _, ok := <-partials:
			if !ok {
				partials = nil
			}

		case t, ok := <-finals:
			if !ok {
				if err := sess.Err(); err != nil {
					return "", fmt.Errorf("recognizer: %w", err)
				}
				return "", errNoSpeech
			}
			if text := strings.TrimSpace(t.Text); text != "" {
				return text, nil
			}

		case <-grace:
			return "", errNoSpeech
		}
	}
}
