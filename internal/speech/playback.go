package speech

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/MrWong99/voxfix/pkg/audio"
	"github.com/MrWong99/voxfix/pkg/provider/tts"
)

// PlaybackState is the speaking state of a [Playback].
type PlaybackState int

const (
	// PlaybackIdle means nothing is being spoken.
	PlaybackIdle PlaybackState = iota
	// PlaybackSpeaking means an utterance is active.
	PlaybackSpeaking
)

func (s PlaybackState) String() string {
	if s == PlaybackSpeaking {
		return "speaking"
	}
	return "idle"
}

// PlaybackEventKind discriminates [PlaybackEvent].
type PlaybackEventKind int

const (
	PlaybackStarted PlaybackEventKind = iota
	PlaybackEnded
	PlaybackFailed
)

func (k PlaybackEventKind) String() string {
	switch k {
	case PlaybackStarted:
		return "started"
	case PlaybackEnded:
		return "ended"
	case PlaybackFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// PlaybackEvent reports progress of one utterance. Every utterance that is
// not superseded yields PlaybackStarted followed by exactly one of
// PlaybackEnded or PlaybackFailed.
type PlaybackEvent struct {
	Kind      PlaybackEventKind
	Utterance uint64
	Reason    string // PlaybackFailed
}

// Params are the fixed synthesis parameters. Zero fields mean 1.
type Params struct {
	Rate   float64
	Pitch  float64
	Volume float64
}

func (p Params) withDefaults() Params {
	if p.Rate == 0 {
		p.Rate = 1
	}
	if p.Pitch == 0 {
		p.Pitch = 1
	}
	if p.Volume == 0 {
		p.Volume = 1
	}
	return p
}

// PlaybackOption configures a [Playback].
type PlaybackOption func(*Playback)

// WithParams sets the synthesis parameters.
func WithParams(p Params) PlaybackOption {
	return func(pb *Playback) { pb.params = p.withDefaults() }
}

// WithVoice selects the provider voice.
func WithVoice(id string) PlaybackOption {
	return func(pb *Playback) { pb.voiceID = id }
}

// WithIgnoredText makes Speak a no-op for the given texts, e.g. UI
// placeholders that must never be read aloud.
func WithIgnoredText(texts ...string) PlaybackOption {
	return func(pb *Playback) {
		for _, t := range texts {
			pb.ignored[strings.TrimSpace(t)] = struct{}{}
		}
	}
}

// WithPlaybackLogger sets the logger. Defaults to slog.Default().
func WithPlaybackLogger(l *slog.Logger) PlaybackOption {
	return func(pb *Playback) { pb.log = l }
}

// Playback is a single-utterance text-to-speech adapter. It is safe for
// concurrent use.
type Playback struct {
	provider tts.Provider
	sink     audio.Sink
	params   Params
	voiceID  string
	ignored  map[string]struct{}
	log      *slog.Logger
	events   chan PlaybackEvent

	root     context.Context
	stopRoot context.CancelFunc

	mu     sync.Mutex
	state  PlaybackState
	gen    uint64
	cancel context.CancelFunc
	closed bool
}

// NewPlayback returns a Playback over provider and sink. Either may be nil,
// in which case Speak reports [ErrCapabilityUnavailable].
func NewPlayback(provider tts.Provider, sink audio.Sink, opts ...PlaybackOption) *Playback {
	root, stop := context.WithCancel(context.Background())
	pb := &Playback{
		provider: provider,
		sink:     sink,
		params:   Params{}.withDefaults(),
		ignored:  map[string]struct{}{},
		log:      slog.Default(),
		events:   make(chan PlaybackEvent, eventBuffer),
		root:     root,
		stopRoot: stop,
	}
	for _, o := range opts {
		o(pb)
	}
	return pb
}

// Available reports whether both a synthesiser and an output device are
// configured.
func (pb *Playback) Available() bool {
	return pb.provider != nil && pb.sink != nil
}

// Events returns the playback event channel.
func (pb *Playback) Events() <-chan PlaybackEvent { return pb.events }

// State returns the current speaking state.
func (pb *Playback) State() PlaybackState {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	return pb.state
}

// Speak cancels any active utterance and starts speaking text. Blank text and
// ignored texts are no-ops. It returns the utterance number carried by the
// resulting events, or 0 when nothing was started.
func (pb *Playback) Speak(text string) (uint64, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, nil
	}
	if _, skip := pb.ignored[text]; skip {
		return 0, nil
	}
	if !pb.Available() {
		return 0, ErrCapabilityUnavailable
	}

	pb.mu.Lock()
	defer pb.mu.Unlock()
	if pb.closed {
		return 0, errors.New("speech: playback is closed")
	}
	pb.stopLocked()

	ctx, cancel := context.WithCancel(pb.root)
	pb.gen++
	pb.state = PlaybackSpeaking
	pb.cancel = cancel
	gen := pb.gen
	pb.emitLocked(PlaybackEvent{Kind: PlaybackStarted, Utterance: gen})
	go pb.run(ctx, cancel, gen, text)
	return gen, nil
}

// Cancel stops the active utterance, if any. No further event is delivered
// for it.
func (pb *Playback) Cancel() {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	pb.stopLocked()
}

// Close cancels playback and rejects future Speak calls.
func (pb *Playback) Close() {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	pb.stopLocked()
	pb.closed = true
	pb.stopRoot()
}

func (pb *Playback) stopLocked() {
	if pb.state != PlaybackSpeaking {
		return
	}
	pb.gen++
	pb.state = PlaybackIdle
	pb.cancel()
	pb.cancel = nil
}

func (pb *Playback) emitLocked(ev PlaybackEvent) {
	select {
	case pb.events <- ev:
	default:
		pb.log.Warn("speech: playback event dropped, consumer not reading", "kind", ev.Kind.String())
	}
}

// finish delivers the completion event for gen unless it was superseded.
func (pb *Playback) finish(gen uint64, err error) {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	if gen != pb.gen || pb.state != PlaybackSpeaking {
		return
	}
	pb.state = PlaybackIdle
	pb.cancel = nil
	if err != nil {
		pb.emitLocked(PlaybackEvent{Kind: PlaybackFailed, Utterance: gen, Reason: err.Error()})
		return
	}
	pb.emitLocked(PlaybackEvent{Kind: PlaybackEnded, Utterance: gen})
}

func (pb *Playback) run(ctx context.Context, cancel context.CancelFunc, gen uint64, text string) {
	defer cancel()

	err := pb.speak(ctx, text)
	if ctx.Err() != nil {
		return // superseded or closed
	}
	if err != nil {
		pb.log.Debug("speech: playback failed", "utterance", gen, "err", err)
	}
	pb.finish(gen, err)
}

func (pb *Playback) speak(ctx context.Context, text string) error {
	stream, err := pb.provider.Synthesize(ctx, text, tts.Voice{
		ID:    pb.voiceID,
		Rate:  pb.params.Rate,
		Pitch: pb.params.Pitch,
	})
	if err != nil {
		return err
	}

	for pcm := range stream.Audio() {
		frame := audio.Frame{
			Data:       audio.ApplyGain(pcm, pb.params.Volume),
			SampleRate: stream.SampleRate,
			Channels:   1,
		}
		if err := pb.sink.Play(ctx, frame); err != nil {
			go audio.Drain(stream.Audio())
			return err
		}
	}
	return stream.Err()
}
