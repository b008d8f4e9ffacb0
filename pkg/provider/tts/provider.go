// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A provider synthesises one utterance at a time and streams the result as
// 16-bit little-endian mono PCM on a [Stream]. Consumers read Stream.Audio
// until it is closed and then consult Stream.Err to learn whether synthesis
// completed.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"sync"
)

// Voice selects and shapes the synthesised voice.
type Voice struct {
	// ID is the provider-specific voice identifier. Empty selects the
	// provider default.
	ID string

	// Rate is the speaking-rate multiplier; 1 is normal speed. Providers clamp
	// it to the range they support.
	Rate float64

	// Pitch is the pitch multiplier; 1 is unchanged. Providers without a pitch
	// control ignore it.
	Pitch float64
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize starts speaking text with voice. A non-nil error means the
	// utterance could not be started; failures after that are reported by
	// the returned Stream. Cancelling ctx aborts synthesis.
	Synthesize(ctx context.Context, text string, voice Voice) (*Stream, error)
}

// Stream carries the PCM of one utterance from a provider to its consumer.
type Stream struct {
	// SampleRate of the PCM on Audio, in Hz.
	SampleRate int

	audio chan []byte
	once  sync.Once

	mu  sync.Mutex
	err error
}

// NewStream returns a Stream whose Audio channel buffers up to buf chunks.
// Providers call Send for each chunk and Finish exactly when done.
func NewStream(sampleRate, buf int) *Stream {
	return &Stream{SampleRate: sampleRate, audio: make(chan []byte, buf)}
}

// Audio returns the PCM chunks of the utterance. It is closed after Finish.
func (s *Stream) Audio() <-chan []byte { return s.audio }

// Send delivers one chunk. It reports false when ctx ends first.
func (s *Stream) Send(ctx context.Context, pcm []byte) bool {
	select {
	case s.audio <- pcm:
		return true
	case <-ctx.Done():
		return false
	}
}

// Finish closes Audio and records err as the outcome. Only the first call
// has any effect.
func (s *Stream) Finish(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.audio)
	})
}

// Err returns the error passed to Finish. It is meaningful once Audio has
// been closed.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
