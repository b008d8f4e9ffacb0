// Package audio defines the capture and playback device abstractions used by
// the speech adapters, plus PCM helpers.
//
// All PCM in VoxFix is signed 16-bit little-endian. A [Source] produces
// microphone frames on demand; a [Sink] consumes synthesised frames. The
// server backs both with a WebSocket so the browser remains the actual
// device; tests use the types in audio/mock.
package audio

import (
	"context"
	"errors"
)

// ErrSourceBusy is returned by [Source.Capture] while another capture on the
// same source is still running.
var ErrSourceBusy = errors.New("audio: source is already capturing")

// Format describes the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Frame is one chunk of PCM together with its format.
type Frame struct {
	Data       []byte
	SampleRate int
	Channels   int
}

// Format returns the frame's format.
func (f Frame) Format() Format {
	return Format{SampleRate: f.SampleRate, Channels: f.Channels}
}

// Source is a capture device.
type Source interface {
	// Capture starts delivering frames. The returned channel is closed when
	// ctx ends or the device stops producing audio.
	Capture(ctx context.Context) (<-chan Frame, error)
}

// Sink is a playback device.
type Sink interface {
	// Play writes one frame. It may block for flow control and must return
	// promptly once ctx ends.
	Play(ctx context.Context, f Frame) error
}
