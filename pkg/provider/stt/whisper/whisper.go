// Package whisper provides an STT provider backed by a whisper.cpp HTTP
// server (the "whisper-server" binary, POST /inference).
//
// whisper.cpp transcribes whole clips, so the session buffers PCM, detects
// the end of an utterance with an RMS energy gate and submits each utterance
// as a WAV upload. A failed upload ends the session and is reported by Err.
//
//	p, _ := whisper.New("http://localhost:8080", whisper.WithSilenceThreshold(700*time.Millisecond))
//	h, _ := p.StartStream(ctx, stt.StreamConfig{SampleRate: 16000, Channels: 1})
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/voxfix/pkg/audio"
	"github.com/MrWong99/voxfix/pkg/provider/stt"
)

const (
	// silenceRMS is the energy (in int16 sample units) below which a chunk
	// counts as silence.
	silenceRMS = 300.0

	defaultLanguage         = "en"
	defaultSampleRate       = 16000
	defaultSilenceThreshold = 600 * time.Millisecond
	defaultMaxUtterance     = 15 * time.Second
)

var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel forwards a model name to the server. Empty uses the server's
// loaded model.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the default language hint.
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithSilenceThreshold sets how much trailing silence ends an utterance.
func WithSilenceThreshold(d time.Duration) Option {
	return func(p *Provider) { p.silence = d }
}

// WithMaxUtterance caps the buffered audio; longer speech is flushed early.
func WithMaxUtterance(d time.Duration) Option {
	return func(p *Provider) { p.maxUtterance = d }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// Provider implements stt.Provider against a whisper.cpp server.
type Provider struct {
	serverURL    string
	model        string
	language     string
	silence      time.Duration
	maxUtterance time.Duration
	httpClient   *http.Client
}

// New creates a Provider for the server at serverURL.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:    strings.TrimRight(serverURL, "/"),
		language:     defaultLanguage,
		silence:      defaultSilenceThreshold,
		maxUtterance: defaultMaxUtterance,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream implements [stt.Provider]. Nothing is sent to the server
// until the first utterance is complete.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: start stream: %w", err)
	}
	format := audio.Format{SampleRate: cfg.SampleRate, Channels: cfg.Channels}
	if format.SampleRate <= 0 {
		format.SampleRate = defaultSampleRate
	}
	if format.Channels <= 0 {
		format.Channels = 1
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &session{
		p:        p,
		format:   format,
		language: whisperLanguage(cfg.Language, p.language),
		interim:  cfg.Interim,
		cancel:   cancel,
		audio:    make(chan []byte, 256),
		partials: make(chan stt.Transcript, 8),
		finals:   make(chan stt.Transcript, 8),
		closing:  make(chan struct{}),
		ended:    make(chan struct{}),
		seg: segmenter{
			gap:      p.silence,
			maxBytes: int(p.maxUtterance.Seconds() * float64(format.BytesPerSecond())),
			format:   format,
		},
	}
	go s.run(runCtx)
	return s, nil
}

// whisperLanguage reduces a BCP-47 tag to the ISO 639-1 code whisper.cpp
// accepts ("en-US" -> "en").
func whisperLanguage(tag, fallback string) string {
	if tag == "" {
		tag = fallback
	}
	base, _, _ := strings.Cut(tag, "-")
	return strings.ToLower(base)
}

// segmenter splits a PCM stream into utterances at silence gaps.
type segmenter struct {
	gap      time.Duration
	maxBytes int
	format   audio.Format

	buf     []byte
	talking bool
	quiet   time.Duration
}

// push adds a chunk and returns a finished utterance, if any. Silence before
// the first loud chunk is dropped.
func (g *segmenter) push(chunk []byte) ([]byte, bool) {
	loud := audio.RMS(chunk) >= silenceRMS
	switch {
	case loud:
		g.talking, g.quiet = true, 0
	case !g.talking:
		return nil, false
	default:
		g.quiet += g.format.Duration(len(chunk))
	}
	g.buf = append(g.buf, chunk...)

	full := g.maxBytes > 0 && len(g.buf) >= g.maxBytes
	if !full && (loud || g.quiet < g.gap) {
		return nil, false
	}
	out := g.buf
	g.buf, g.talking, g.quiet = nil, false, 0
	return out, true
}

type session struct {
	p        *Provider
	format   audio.Format
	language string
	interim  bool
	cancel   context.CancelFunc
	seg      segmenter // owned by run

	audio    chan []byte
	partials chan stt.Transcript
	finals   chan stt.Transcript

	closing   chan struct{}
	closeOnce sync.Once
	ended     chan struct{}
	err       error // written before ended is closed
}

func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.closing:
		return stt.ErrSessionClosed
	case <-s.ended:
		return stt.ErrSessionClosed
	default:
	}
	select {
	case s.audio <- chunk:
		return nil
	case <-s.closing:
		return stt.ErrSessionClosed
	case <-s.ended:
		return stt.ErrSessionClosed
	}
}

func (s *session) Partials() <-chan stt.Transcript { return s.partials }

func (s *session) Finals() <-chan stt.Transcript { return s.finals }

func (s *session) Err() error {
	select {
	case <-s.ended:
		return s.err
	default:
		return nil
	}
}

// Close stops the session. Speech that has not been submitted is discarded.
func (s *session) Close() error {
	s.closeOnce.Do(func() {
		close(s.closing)
		s.cancel()
		<-s.ended
	})
	return nil
}

func (s *session) run(ctx context.Context) {
	var err error
	defer func() {
		select {
		case <-s.closing:
		default:
			s.err = err
		}
		close(s.ended)
		close(s.partials)
		close(s.finals)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case chunk := <-s.audio:
			pcm, ok := s.seg.push(chunk)
			if !ok {
				continue
			}
			var text string
			if text, err = s.transcribe(ctx, pcm); err != nil {
				return
			}
			if !s.publish(ctx, text) {
				return
			}
		}
	}
}

// publish emits text as an optional partial and a final. Empty results are
// dropped. It reports false once the session is stopping.
func (s *session) publish(ctx context.Context, text string) bool {
	if text = strings.TrimSpace(text); text == "" {
		return true
	}
	out := []stt.Transcript{{Text: text, IsFinal: true}}
	if s.interim {
		out = append([]stt.Transcript{{Text: text}}, out...)
	}
	for _, tr := range out {
		dst := s.finals
		if !tr.IsFinal {
			dst = s.partials
		}
		select {
		case dst <- tr:
		case <-ctx.Done():
			return false
		}
	}
	return true
}

// transcribe uploads one utterance to POST /inference as a WAV file.
func (s *session) transcribe(ctx context.Context, pcm []byte) (string, error) {
	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("file", "utterance.wav")
	if err == nil {
		_, err = part.Write(audio.EncodeWAV(pcm, s.format))
	}
	for _, kv := range [][2]string{
		{"language", s.language},
		{"model", s.p.model},
		{"response_format", "json"},
	} {
		if err == nil && kv[1] != "" {
			err = form.WriteField(kv[0], kv[1])
		}
	}
	if err == nil {
		err = form.Close()
	}
	if err != nil {
		return "", fmt.Errorf("whisper: build upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.p.serverURL+"/inference", &body)
	if err != nil {
		return "", fmt.Errorf("whisper: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := s.p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: inference: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("whisper: inference: HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(detail))
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("whisper: decode inference response: %w", err)
	}
	return out.Text, nil
}
