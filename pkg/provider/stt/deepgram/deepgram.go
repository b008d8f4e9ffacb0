// Package deepgram implements [stt.Provider] on top of Deepgram's live
// transcription WebSocket (wss://api.deepgram.com/v1/listen).
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxfix/pkg/provider/stt"
)

const (
	defaultEndpoint   = "wss://api.deepgram.com/v1/listen"
	defaultModel      = "nova-3"
	defaultLanguage   = "en-US"
	defaultSampleRate = 16000

	// Deepgram drops idle streams after ~10s without audio or a KeepAlive.
	keepAliveInterval = 8 * time.Second
)

var (
	msgKeepAlive   = []byte(`{"type":"KeepAlive"}`)
	msgCloseStream = []byte(`{"type":"CloseStream"}`)
)

// Provider opens Deepgram streaming sessions.
type Provider struct {
	apiKey     string
	endpoint   string
	model      string
	language   string
	sampleRate int
}

var _ stt.Provider = (*Provider)(nil)

// Option configures a [Provider].
type Option func(*Provider)

// WithModel selects the Deepgram model. Default: nova-3.
func WithModel(model string) Option { return func(p *Provider) { p.model = model } }

// WithLanguage sets the language used when StreamConfig.Language is empty.
func WithLanguage(lang string) Option { return func(p *Provider) { p.language = lang } }

// WithSampleRate sets the rate used when StreamConfig.SampleRate is zero.
func WithSampleRate(hz int) Option { return func(p *Provider) { p.sampleRate = hz } }

// WithEndpoint points the provider at a self-hosted or proxied listener.
func WithEndpoint(endpoint string) Option { return func(p *Provider) { p.endpoint = endpoint } }

// New returns a Provider authenticating with apiKey.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: api key is required")
	}
	p := &Provider{
		apiKey:     apiKey,
		endpoint:   defaultEndpoint,
		model:      defaultModel,
		language:   defaultLanguage,
		sampleRate: defaultSampleRate,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// StartStream implements [stt.Provider]. ctx only bounds the handshake; the
// stream runs until Close or until Deepgram hangs up.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	target, err := p.streamURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("deepgram: %w", err)
	}
	conn, _, err := websocket.Dial(ctx, target, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": {"Token " + p.apiKey}},
	})
	if err != nil {
		return nil, fmt.Errorf("deepgram: connect: %w", err)
	}

	runCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	s := &stream{
		conn:     conn,
		interim:  cfg.Interim,
		stop:     stop,
		audio:    make(chan []byte, 256),
		partials: make(chan stt.Transcript, 16),
		finals:   make(chan stt.Transcript, 16),
		closing:  make(chan struct{}),
		finished: make(chan struct{}),
	}

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return s.receive(gctx) })
	g.Go(func() error { return s.send(gctx) })
	go s.finish(g)
	return s, nil
}

func (p *Provider) streamURL(cfg stt.StreamConfig) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", fmt.Errorf("endpoint %q: %w", p.endpoint, err)
	}
	lang, rate := cfg.Language, cfg.SampleRate
	if lang == "" {
		lang = p.language
	}
	if rate <= 0 {
		rate = p.sampleRate
	}

	q := u.Query()
	for k, v := range map[string]string{
		"model":           p.model,
		"language":        lang,
		"encoding":        "linear16",
		"sample_rate":     strconv.Itoa(rate),
		"punctuate":       "true",
		"interim_results": strconv.FormatBool(cfg.Interim),
	} {
		q.Set(k, v)
	}
	if cfg.Channels > 0 {
		q.Set("channels", strconv.Itoa(cfg.Channels))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// errHungUp ends the group when Deepgram closes the stream normally.
var errHungUp = errors.New("deepgram: stream ended")

// stream is one live session. receive and send run in an errgroup; finish
// closes the transcript channels once both have returned.
type stream struct {
	conn    *websocket.Conn
	interim bool
	stop    context.CancelFunc

	audio    chan []byte
	partials chan stt.Transcript
	finals   chan stt.Transcript

	closing   chan struct{}
	closeOnce sync.Once
	finished  chan struct{}
	err       error // written before finished is closed
}

func (s *stream) finish(g *errgroup.Group) {
	err := g.Wait()
	select {
	case <-s.closing:
		err = nil
	default:
		if errors.Is(err, errHungUp) {
			err = nil
		}
	}
	s.err = err
	close(s.finished)
	close(s.partials)
	close(s.finals)
}

func (s *stream) receive(ctx context.Context) error {
	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return errHungUp
			}
			return fmt.Errorf("deepgram: read: %w", err)
		}
		tr, ok := parseResults(data)
		if !ok {
			continue
		}

		dst := s.finals
		if !tr.IsFinal {
			if !s.interim {
				continue
			}
			dst = s.partials
		}
		select {
		case dst <- tr:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *stream) send(ctx context.Context) error {
	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()
	for {
		var (
			typ  = websocket.MessageBinary
			data []byte
		)
		select {
		case <-ctx.Done():
			return nil
		case data = <-s.audio:
			keepAlive.Reset(keepAliveInterval)
		case <-keepAlive.C:
			typ, data = websocket.MessageText, msgKeepAlive
		}
		if err := s.conn.Write(ctx, typ, data); err != nil {
			return fmt.Errorf("deepgram: write: %w", err)
		}
	}
}

// SendAudio queues a PCM chunk. It blocks while the send buffer is full.
func (s *stream) SendAudio(chunk []byte) error {
	select {
	case <-s.closing:
		return stt.ErrSessionClosed
	case <-s.finished:
		return stt.ErrSessionClosed
	default:
	}
	select {
	case s.audio <- chunk:
		return nil
	case <-s.closing:
		return stt.ErrSessionClosed
	case <-s.finished:
		return stt.ErrSessionClosed
	}
}

func (s *stream) Partials() <-chan stt.Transcript { return s.partials }

func (s *stream) Finals() <-chan stt.Transcript { return s.finals }

// Err reports why the stream died. It is nil while the stream runs and after
// a normal close.
func (s *stream) Err() error {
	select {
	case <-s.finished:
		return s.err
	default:
		return nil
	}
}

// Close asks Deepgram to flush, stops both loops and closes the socket.
func (s *stream) Close() error {
	s.closeOnce.Do(func() {
		close(s.closing)
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = s.conn.Write(ctx, websocket.MessageText, msgCloseStream)
		cancel()
		s.stop()
		<-s.finished
		_ = s.conn.Close(websocket.StatusNormalClosure, "")
	})
	return nil
}

// parseResults extracts the best alternative from a "Results" message.
// Anything else (Metadata, SpeechStarted, malformed JSON) is skipped.
func parseResults(data []byte) (stt.Transcript, bool) {
	var msg struct {
		Type    string `json:"type"`
		IsFinal bool   `json:"is_final"`
		Channel struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channel"`
	}
	if json.Unmarshal(data, &msg) != nil || msg.Type != "Results" {
		return stt.Transcript{}, false
	}
	alts := msg.Channel.Alternatives
	if len(alts) == 0 {
		return stt.Transcript{}, false
	}
	return stt.Transcript{Text: alts[0].Transcript, IsFinal: msg.IsFinal, Confidence: alts[0].Confidence}, true
}
