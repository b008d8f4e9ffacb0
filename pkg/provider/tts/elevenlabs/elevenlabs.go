// Package elevenlabs provides a TTS provider backed by the ElevenLabs
// stream-input WebSocket API.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/coder/websocket"

	"github.com/MrWong99/voxfix/pkg/provider/tts"
)

const (
	defaultEndpoint = "wss://api.elevenlabs.io"
	defaultModel    = "eleven_flash_v2_5"
	defaultVoice    = "21m00Tcm4TlvDq8ikWAM" // "Rachel"
	outputFormat    = "pcm_16000"
	sampleRate      = 16000

	// ElevenLabs accepts speed in [0.7, 1.2].
	minSpeed = 0.7
	maxSpeed = 1.2
)

var _ tts.Provider = (*Provider)(nil)

// Option is a functional option for configuring the ElevenLabs Provider.
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithDefaultVoice sets the voice used when tts.Voice.ID is empty.
func WithDefaultVoice(id string) Option {
	return func(p *Provider) { p.voice = id }
}

// WithEndpoint overrides the WebSocket base URL.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) { p.endpoint = strings.TrimRight(endpoint, "/") }
}

// Provider implements tts.Provider backed by the ElevenLabs streaming API.
type Provider struct {
	apiKey   string
	endpoint string
	model    string
	voice    string
}

// New creates a new ElevenLabs Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		endpoint: defaultEndpoint,
		model:    defaultModel,
		voice:    defaultVoice,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// ── wire messages ──

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed,omitempty"`
}

// textMessage is the payload for every client frame. The first frame carries
// the credentials and voice settings; an empty Text ends the input.
type textMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key,omitempty"`
}

type audioMessage struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Synthesize opens a stream-input WebSocket for voice, sends text as a single
// utterance and streams the PCM reply.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.Voice) (*tts.Stream, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("elevenlabs: text must not be empty")
	}

	wsURL, err := p.streamURL(voice.ID)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: build URL: %w", err)
	}
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}

	frames := []textMessage{
		{Text: " ", VoiceSettings: settingsFor(voice), XiAPIKey: p.apiKey},
		{Text: text + " "},
		{Text: ""},
	}
	for _, f := range frames {
		data, _ := json.Marshal(f)
		if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
			conn.Close(websocket.StatusInternalError, "write failed")
			return nil, fmt.Errorf("elevenlabs: send text: %w", err)
		}
	}

	stream := tts.NewStream(sampleRate, 64)
	go func() {
		defer conn.CloseNow()
		err := receive(ctx, conn, stream)
		if err == nil {
			conn.Close(websocket.StatusNormalClosure, "done")
		}
		stream.Finish(err)
	}()
	return stream, nil
}

func (p *Provider) streamURL(voiceID string) (string, error) {
	if voiceID == "" {
		voiceID = p.voice
	}
	u, err := url.Parse(p.endpoint + "/v1/text-to-speech/" + url.PathEscape(voiceID) + "/stream-input")
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("model_id", p.model)
	q.Set("output_format", outputFormat)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func settingsFor(v tts.Voice) *voiceSettings {
	vs := &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75}
	if v.Rate > 0 {
		vs.Speed = max(minSpeed, min(maxSpeed, v.Rate))
	}
	return vs
}

// receive forwards decoded audio frames to stream until ElevenLabs marks the
// utterance final.
func receive(ctx context.Context, conn *websocket.Conn, stream *tts.Stream) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			return fmt.Errorf("elevenlabs: read: %w", err)
		}
		var msg audioMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Error != "" {
			return fmt.Errorf("elevenlabs: %s: %s", msg.Error, msg.Message)
		}
		if msg.Audio != "" {
			pcm, err := base64.StdEncoding.DecodeString(msg.Audio)
			if err != nil {
				return fmt.Errorf("elevenlabs: decode audio: %w", err)
			}
			if !stream.Send(ctx, pcm) {
				return ctx.Err()
			}
		}
		if msg.IsFinal {
			return nil
		}
	}
}

