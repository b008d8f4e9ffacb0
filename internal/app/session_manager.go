package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/voxfix/internal/config"
	"github.com/MrWong99/voxfix/internal/correction"
	"github.com/MrWong99/voxfix/internal/feedback"
	"github.com/MrWong99/voxfix/internal/observe"
	"github.com/MrWong99/voxfix/internal/session"
	"github.com/MrWong99/voxfix/internal/speech"
	"github.com/MrWong99/voxfix/pkg/audio"
	"github.com/MrWong99/voxfix/pkg/provider/stt"
	"github.com/MrWong99/voxfix/pkg/provider/tts"
)

const (
	// micBuffer is the number of microphone frames a capture buffers.
	micBuffer = 64

	// noticeBuffer is the per-subscriber notice buffer.
	noticeBuffer = 32
)

// ErrSessionNotFound is returned for unknown or already closed session ids.
var ErrSessionNotFound = errors.New("app: session not found")

// Notice is one item of a session's outbound stream: either a controller
// event or a failed background history save.
type Notice struct {
	Event   *session.Event
	Failure *session.PersistFailure
}

// Session is a live [session.Controller] together with the audio devices
// the client feeds and drains over its WebSocket.
type Session struct {
	*session.Controller

	// Mic receives the client's microphone PCM.
	Mic *audio.Pipe

	// Speaker carries synthesised PCM back to the client.
	Speaker *audio.Relay

	now      func() time.Time
	lastUsed atomic.Int64
	holds    atomic.Int32

	mu     sync.Mutex
	subs   map[chan Notice]struct{}
	closed bool
	done   chan struct{}
}

// Subscribe returns a channel receiving every notice published after the
// call, plus a function that ends the subscription. The channel is closed
// when the subscription ends or the session closes. A subscriber that does
// not keep up misses notices.
func (s *Session) Subscribe() (<-chan Notice, func()) {
	ch := make(chan Notice, noticeBuffer)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if _, ok := s.subs[ch]; ok {
				delete(s.subs, ch)
				close(ch)
			}
		})
	}
}

func (s *Session) publish(n Notice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- n:
		default:
		}
	}
}

// fanOut relays controller output to subscribers until both controller
// channels are closed.
func (s *Session) fanOut(log *slog.Logger) {
	defer close(s.done)
	events, failures := s.Events(), s.PersistFailures()
	for events != nil || failures != nil {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			s.publish(Notice{Event: &ev})
		case f, ok := <-failures:
			if !ok {
				failures = nil
				continue
			}
			log.Warn("chat history not saved", "session_id", f.SessionID, "err", f.Err)
			s.publish(Notice{Failure: &f})
		}
	}

	s.mu.Lock()
	s.closed = true
	for ch := range s.subs {
		close(ch)
	}
	s.subs = nil
	s.mu.Unlock()
}

func (s *Session) touch(now time.Time) { s.lastUsed.Store(now.UnixNano()) }

// Touch marks the session as used, postponing its idle reaping.
func (s *Session) Touch() { s.touch(s.now()) }

// Hold keeps the session from being reaped until release is called, for
// example while a client is connected. Holds nest; release is idempotent
// and counts as a use.
func (s *Session) Hold() (release func()) {
	s.holds.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() {
			s.touch(s.now())
			s.holds.Add(-1)
		})
	}
}

func (s *Session) idle(cutoff time.Time) bool {
	return s.holds.Load() == 0 && time.Unix(0, s.lastUsed.Load()).Before(cutoff)
}

// SessionManagerConfig holds the dependencies shared by every session.
type SessionManagerConfig struct {
	Client     correction.Client
	STT        stt.Provider
	TTS        tts.Provider
	History    *session.HistoryGuard
	Classifier *feedback.Classifier
	Metrics    *observe.Metrics
	Logger     *slog.Logger

	Playback config.PlaybackConfig
	Capture  config.CaptureConfig

	// IdleTimeout closes sessions untouched for this long. Zero disables
	// reaping.
	IdleTimeout time.Duration
}

// SessionManager owns the live sessions. All methods are safe for
// concurrent use.
type SessionManager struct {
	cfg SessionManagerConfig
	log *slog.Logger
	now func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
	playback config.PlaybackConfig
	closed   bool
}

// NewSessionManager creates a SessionManager with the given dependencies.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Classifier == nil {
		cfg.Classifier = feedback.New()
	}
	return &SessionManager{
		cfg:      cfg,
		log:      cfg.Logger,
		now:      time.Now,
		sessions: make(map[string]*Session),
		playback: cfg.Playback,
	}
}

// SetPlayback changes the synthesis parameters of sessions created from now
// on. Running sessions keep theirs.
func (sm *SessionManager) SetPlayback(p config.PlaybackConfig) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.playback = p
}

// Create starts a session. A nil identity creates an anonymous session that
// corrects text but saves no history.
func (sm *SessionManager) Create(identity *session.Identity) (*Session, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.closed {
		return nil, session.ErrClosed
	}

	id := uuid.NewString()
	log := sm.log.With("session_id", id)
	s := &Session{
		Mic:     audio.NewPipe(micBuffer),
		Speaker: &audio.Relay{},
		now:     sm.now,
		subs:    make(map[chan Notice]struct{}),
		done:    make(chan struct{}),
	}

	capture := speech.NewCapture(sm.cfg.STT, s.Mic,
		speech.WithCaptureLanguage(sm.cfg.Capture.Language),
		speech.WithCaptureTimeout(sm.cfg.Capture.Timeout),
		speech.WithCaptureLogger(log),
	)
	playback := speech.NewPlayback(sm.cfg.TTS, s.Speaker,
		speech.WithParams(speech.Params{
			Rate:   sm.playback.Rate,
			Pitch:  sm.playback.Pitch,
			Volume: sm.playback.Volume,
		}),
		speech.WithVoice(sm.playback.Voice),
		speech.WithIgnoredText(session.InputPlaceholder, session.OutputPlaceholder),
		speech.WithPlaybackLogger(log),
	)

	opts := []session.Option{
		session.WithID(id),
		session.WithCapture(capture),
		session.WithPlayback(playback),
		session.WithClassifier(sm.cfg.Classifier),
		session.WithLogger(sm.log),
	}
	if sm.cfg.Metrics != nil {
		opts = append(opts, session.WithMetrics(sm.cfg.Metrics))
	}
	if identity != nil {
		opts = append(opts, session.WithIdentity(*identity))
		if sm.cfg.History != nil {
			opts = append(opts, session.WithHistory(sm.cfg.History))
		}
	}

	s.Controller = session.New(sm.cfg.Client, opts...)
	s.touch(sm.now())
	go s.fanOut(log)

	sm.sessions[id] = s
	if sm.cfg.Metrics != nil {
		sm.cfg.Metrics.ActiveSessions.Add(context.Background(), 1)
	}
	attrs := []any{"session_id", id}
	if identity != nil {
		attrs = append(attrs, "user_email", identity.Email)
	}
	sm.log.Info("session started", attrs...)
	return s, nil
}

// Get returns the live session with id and marks it as used.
func (sm *SessionManager) Get(id string) (*Session, error) {
	sm.mu.Lock()
	s, ok := sm.sessions[id]
	sm.mu.Unlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	s.touch(sm.now())
	return s, nil
}

// Remove closes and forgets the session with id.
func (sm *SessionManager) Remove(id string) error {
	sm.mu.Lock()
	s, ok := sm.sessions[id]
	delete(sm.sessions, id)
	sm.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	sm.closeSession(s, "closed")
	return nil
}

// Len returns the number of live sessions.
func (sm *SessionManager) Len() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.sessions)
}

// Reap closes every unheld session idle for longer than the idle timeout
// and returns how many were closed.
func (sm *SessionManager) Reap() int {
	if sm.cfg.IdleTimeout <= 0 {
		return 0
	}
	cutoff := sm.now().Add(-sm.cfg.IdleTimeout)

	sm.mu.Lock()
	var idle []*Session
	for id, s := range sm.sessions {
		if s.idle(cutoff) {
			idle = append(idle, s)
			delete(sm.sessions, id)
		}
	}
	sm.mu.Unlock()

	for _, s := range idle {
		sm.closeSession(s, "idle")
	}
	return len(idle)
}

// Run reaps idle sessions periodically until ctx is cancelled.
func (sm *SessionManager) Run(ctx context.Context) {
	if sm.cfg.IdleTimeout <= 0 {
		return
	}
	ticker := time.NewTicker(max(sm.cfg.IdleTimeout/4, time.Second))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := sm.Reap(); n > 0 {
				sm.log.Debug("reaped idle sessions", "count", n)
			}
		}
	}
}

// Close closes every session and rejects new ones. It waits for pending
// history saves.
func (sm *SessionManager) Close() error {
	sm.mu.Lock()
	sm.closed = true
	all := make([]*Session, 0, len(sm.sessions))
	for _, s := range sm.sessions {
		all = append(all, s)
	}
	sm.sessions = map[string]*Session{}
	sm.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range all {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sm.closeSession(s, "shutdown")
		}()
	}
	wg.Wait()
	return nil
}

func (sm *SessionManager) closeSession(s *Session, reason string) {
	s.Controller.Close()
	s.Mic.Close()
	<-s.done
	if sm.cfg.Metrics != nil {
		sm.cfg.Metrics.ActiveSessions.Add(context.Background(), -1)
	}
	sm.log.Info("session ended", "session_id", s.ID(), "reason", reason)
}
