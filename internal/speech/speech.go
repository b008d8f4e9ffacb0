// Package speech adapts the STT and TTS providers to the one-shot capture and
// single-utterance playback model of a correction session.
//
// [Capture] listens for exactly one sentence and reports it (or the reason it
// failed) as a [CaptureEvent]. [Playback] speaks one utterance at a time;
// starting a new one or calling Cancel silently supersedes the current one.
// Both adapters deliver events on a buffered channel and suppress events that
// belong to a superseded operation.
package speech

import "errors"

// ErrCapabilityUnavailable is returned when the host has no capture or
// synthesis capability configured (no provider or no device).
var ErrCapabilityUnavailable = errors.New("speech: capability unavailable")

// eventBuffer is the capacity of adapter event channels. Each operation emits
// at most two events.
const eventBuffer = 16
