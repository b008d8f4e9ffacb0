// Package stt defines the Provider interface for Speech-to-Text backends.
//
// A provider turns a stream of 16-bit little-endian PCM frames into
// transcripts. VoxFix captures one sentence at a time, so callers usually
// open a stream, feed microphone audio until the first final transcript
// arrives and close it again. Partials are only produced when
// StreamConfig.Interim is set.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
)

// ErrSessionClosed is returned by SessionHandle.SendAudio after Close.
var ErrSessionClosed = errors.New("stt: session is closed")

// StreamConfig describes the audio format and recognition hints for a new
// session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. VoxFix captures at 16000.
	SampleRate int

	// Channels is the number of interleaved channels. 1 = mono.
	Channels int

	// Language is the BCP-47 tag for recognition (e.g. "en-US"). Empty lets
	// the provider use its own default.
	Language string

	// Interim requests low-latency partial transcripts on Partials.
	Interim bool
}

// Transcript is a recognition result.
type Transcript struct {
	// Text is the recognised speech.
	Text string

	// IsFinal marks an authoritative result as opposed to an interim guess.
	IsFinal bool

	// Confidence in [0, 1]. Zero when the provider does not report it.
	Confidence float64
}

// SessionHandle is an open recognition stream.
//
// Callers must call Close when done. Partials and Finals are closed once the
// session ends, whether by Close or by a provider failure; Err then reports
// the failure, if any.
type SessionHandle interface {
	// SendAudio delivers a chunk of PCM audio matching the StreamConfig.
	SendAudio(chunk []byte) error

	// Partials emits interim transcripts. Never written to when
	// StreamConfig.Interim is false.
	Partials() <-chan Transcript

	// Finals emits authoritative transcripts.
	Finals() <-chan Transcript

	// Err returns the error that terminated the session, or nil.
	Err() error

	// Close terminates the session and releases its resources. Idempotent.
	Close() error
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// StartStream opens a new recognition session. The returned handle accepts
	// audio immediately.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
