// Package openai provides a TTS provider backed by the OpenAI speech API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrWong99/voxfix/pkg/provider/tts"
)

const (
	defaultModel = "gpt-4o-mini-tts"
	defaultVoice = "alloy"

	// OpenAI's "pcm" response format is 24 kHz mono int16 LE.
	sampleRate = 24000
	chunkBytes = 4800 // 100 ms

	minSpeed = 0.25
	maxSpeed = 4.0
)

var _ tts.Provider = (*Provider)(nil)

// Option is a functional option for configuring the Provider.
type Option func(*Provider)

// WithModel sets the speech model.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithDefaultVoice sets the voice used when tts.Voice.ID is empty.
func WithDefaultVoice(voice string) Option {
	return func(p *Provider) { p.voice = voice }
}

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// Provider implements tts.Provider using POST /audio/speech.
type Provider struct {
	client  oai.Client
	model   string
	voice   string
	baseURL string
}

// New creates a Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai tts: apiKey must not be empty")
	}
	p := &Provider{model: defaultModel, voice: defaultVoice}
	for _, o := range opts {
		o(p)
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if p.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(p.baseURL))
	}
	p.client = oai.NewClient(reqOpts...)
	return p, nil
}

// Synthesize requests raw PCM for text and streams the response body in
// 100 ms chunks.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.Voice) (*tts.Stream, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("openai tts: text must not be empty")
	}

	resp, err := p.client.Audio.Speech.New(ctx, p.buildParams(text, voice))
	if err != nil {
		return nil, fmt.Errorf("openai tts: speech request: %w", err)
	}

	stream := tts.NewStream(sampleRate, 32)
	go func() {
		defer resp.Body.Close()
		stream.Finish(pump(ctx, resp.Body, stream))
	}()
	return stream, nil
}

func (p *Provider) buildParams(text string, voice tts.Voice) oai.AudioSpeechNewParams {
	id := voice.ID
	if id == "" {
		id = p.voice
	}
	params := oai.AudioSpeechNewParams{
		Input:          text,
		Model:          oai.SpeechModel(p.model),
		Voice:          oai.AudioSpeechNewParamsVoice(id),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
	}
	if voice.Rate > 0 {
		params.Speed = param.NewOpt(max(minSpeed, min(maxSpeed, voice.Rate)))
	}
	return params
}

// pump copies r to stream in whole-sample chunks.
func pump(ctx context.Context, r io.Reader, stream *tts.Stream) error {
	for {
		buf := make([]byte, chunkBytes)
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			n -= n % 2
			if !stream.Send(ctx, buf[:n]) {
				return ctx.Err()
			}
		}
		switch {
		case err == nil:
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			return nil
		default:
			return fmt.Errorf("openai tts: read audio: %w", err)
		}
	}
}
