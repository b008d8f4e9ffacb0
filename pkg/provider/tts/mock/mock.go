// Package mock provides a test double for the tts.Provider interface.
//
//	p := &mock.Provider{Chunks: [][]byte{{0, 1}, {2, 3}}}
//	stream, _ := p.Synthesize(ctx, "hello", tts.Voice{})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxfix/pkg/provider/tts"
)

var _ tts.Provider = (*Provider)(nil)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	Ctx   context.Context
	Text  string
	Voice tts.Voice
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// Chunks are emitted on every returned stream in order.
	Chunks [][]byte

	// SampleRate of returned streams. Defaults to 16000.
	SampleRate int

	// SynthesizeErr, if non-nil, is returned from Synthesize.
	SynthesizeErr error

	// StreamErr, if non-nil, is the outcome recorded on each stream.
	StreamErr error

	// Hold, if non-nil, delays finishing each stream until it is closed or
	// the call context ends. Chunks are sent before waiting.
	Hold chan struct{}

	Calls []SynthesizeCall
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.Voice) (*tts.Stream, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, SynthesizeCall{Ctx: ctx, Text: text, Voice: voice})
	chunks, rate, hold := p.Chunks, p.SampleRate, p.Hold
	synthErr, streamErr := p.SynthesizeErr, p.StreamErr
	p.mu.Unlock()

	if synthErr != nil {
		return nil, synthErr
	}
	if rate == 0 {
		rate = 16000
	}
	stream := tts.NewStream(rate, len(chunks))
	go func() {
		for _, c := range chunks {
			if !stream.Send(ctx, c) {
				stream.Finish(ctx.Err())
				return
			}
		}
		if hold != nil {
			select {
			case <-hold:
			case <-ctx.Done():
				stream.Finish(ctx.Err())
				return
			}
		}
		stream.Finish(streamErr)
	}()
	return stream, nil
}

// SynthesizeCalls returns a copy of the recorded invocations.
func (p *Provider) SynthesizeCalls() []SynthesizeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]SynthesizeCall(nil), p.Calls...)
}
