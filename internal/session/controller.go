// Package session drives one user's correction pipeline.
//
// A [Controller] owns the session state machine:
//
//	Empty ──StartCapture──▶ Capturing ──transcript──▶ Correcting ──ok──▶ Corrected ◀──▶ Speaking
//	  │                         │                         │
//	  └────────Submit───────────┼─────────────────────────┘ error
//	                            └──────error──────▶ Failed ◀─────┘
//
// Every blocking step (capture, correction, history save, playback) runs on
// its own goroutine and re-enters the controller under its mutex. Results
// of superseded work are recognised by a generation counter and dropped.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/voxfix/internal/correction"
	"github.com/MrWong99/voxfix/internal/feedback"
	"github.com/MrWong99/voxfix/internal/history"
	"github.com/MrWong99/voxfix/internal/observe"
	"github.com/MrWong99/voxfix/internal/speech"
	"github.com/MrWong99/voxfix/pkg/textdiff"
)

const eventBuffer = 64

var (
	// ErrBusy rejects an operation while a capture or correction is running.
	ErrBusy = errors.New("session: busy")

	// ErrNotCorrected rejects playback when there is no current correction.
	ErrNotCorrected = errors.New("session: nothing to play")

	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("session: closed")
)

// Option configures a [Controller].
type Option func(*Controller)

// WithID sets the session id. Defaults to a random UUID.
func WithID(id string) Option {
	return func(c *Controller) { c.id = id }
}

// WithIdentity attaches the logged-in user. Only sessions with an identity
// save history.
func WithIdentity(id Identity) Option {
	return func(c *Controller) { c.identity = &id }
}

// WithHistory enables background history saves through g.
func WithHistory(g *HistoryGuard) Option {
	return func(c *Controller) { c.history = g }
}

// WithCapture sets the speech capture adapter. The controller takes
// ownership and closes it on Close.
func WithCapture(cp *speech.Capture) Option {
	return func(c *Controller) { c.capture = cp }
}

// WithPlayback sets the speech playback adapter. The controller takes
// ownership and closes it on Close.
func WithPlayback(pb *speech.Playback) Option {
	return func(c *Controller) { c.playback = pb }
}

// WithClassifier sets the change classifier used for rendered results.
func WithClassifier(cl *feedback.Classifier) Option {
	return func(c *Controller) { c.classifier = cl }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.log = l }
}

// Controller is one user session. All methods are safe for concurrent use.
type Controller struct {
	id         string
	identity   *Identity
	client     correction.Client
	history    *HistoryGuard
	capture    *speech.Capture
	playback   *speech.Playback
	classifier *feedback.Classifier
	metrics    *observe.Metrics
	log        *slog.Logger
	now        func() time.Time

	root     context.Context
	stopRoot context.CancelFunc
	events   chan Event
	failures chan PersistFailure
	wg       sync.WaitGroup

	mu            sync.Mutex
	state         State
	input         string
	output        Output
	result        *Result
	replay        bool
	gen           uint64
	cancelCorrect context.CancelFunc
	utterance     uint64
	closed        bool
}

// New returns a Controller in the Empty state that corrects text with client.
func New(client correction.Client, opts ...Option) *Controller {
	c := &Controller{
		client:     client,
		classifier: feedback.New(),
		log:        slog.Default(),
		now:        time.Now,
		events:     make(chan Event, eventBuffer),
		failures:   make(chan PersistFailure, eventBuffer),
		state:      Empty,
		input:      InputPlaceholder,
		output:     Placeholder{Message: OutputPlaceholder},
	}
	for _, o := range opts {
		o(c)
	}
	if c.id == "" {
		c.id = uuid.NewString()
	}
	c.log = c.log.With("session_id", c.id)
	c.root, c.stopRoot = context.WithCancel(context.Background())

	if c.capture != nil {
		c.wg.Add(1)
		go c.pumpCapture()
	}
	if c.playback != nil {
		c.wg.Add(1)
		go c.pumpPlayback()
	}
	return c
}

// ID returns the session id.
func (c *Controller) ID() string { return c.id }

// Identity returns the attached user, if any.
func (c *Controller) Identity() (Identity, bool) {
	if c.identity == nil {
		return Identity{}, false
	}
	return *c.identity, true
}

// Events delivers an [EventStateChanged] after every transition and an
// [EventHistorySaved] after every successful save. Events are dropped when
// the buffer is full; [Controller.Snapshot] is always current. The channel
// is closed by Close.
func (c *Controller) Events() <-chan Event { return c.events }

// PersistFailures delivers background save failures. It is closed by Close.
func (c *Controller) PersistFailures() <-chan PersistFailure { return c.failures }

// Snapshot returns the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Submit starts correcting text and returns without waiting for the
// result. It returns a [*correction.ValidationError] for blank text, leaving
// the state untouched, and [ErrBusy] while a capture or correction runs.
// Submitting while Speaking stops the playback first.
func (c *Controller) Submit(ctx context.Context, text string, source Source) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	switch c.state {
	case Capturing, Correcting:
		return ErrBusy
	}
	if err := correction.Validate(text); err != nil {
		return err
	}
	c.submitLocked(ctx, Request{RawText: text, Source: source, SubmittedAt: c.now()})
	return nil
}

func (c *Controller) submitLocked(ctx context.Context, req Request) {
	c.stopPlaybackLocked()
	c.gen++
	gen := c.gen

	cctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(c.root, cancel)
	c.cancelCorrect = func() {
		stop()
		cancel()
	}

	c.state = Correcting
	c.input = req.RawText
	if req.Source == Voice {
		c.input = youSaidPrefix + req.RawText
	}
	c.output = Placeholder{Message: OutputPlaceholder}
	c.result = nil
	c.replay = false
	c.emitLocked(Event{Kind: EventStateChanged})

	c.log.Debug("correction submitted", "source", req.Source.String(), "gen", gen)
	go c.correct(cctx, gen, req)
}

func (c *Controller) correct(ctx context.Context, gen uint64, req Request) {
	raw, err := c.client.Correct(ctx, req.RawText)

	// The diff is computed before taking the lock so that Clear and
	// Snapshot never wait on it.
	corrected := strings.TrimSpace(raw)
	var out Rendered
	if err == nil && corrected != "" {
		out = c.render(textdiff.Diff(req.RawText, corrected), corrected)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.closed {
		c.log.Debug("stale correction discarded", "gen", gen)
		return
	}
	c.cancelCorrect()
	c.cancelCorrect = nil

	switch {
	case err != nil:
		c.failLocked(failureFor(err))
		c.log.Info("correction failed", "err", err)
		return
	case corrected == "":
		c.failLocked(failureFor(correction.ErrNoCorrectionReturned))
		c.log.Info("correction failed", "err", "blank reply")
		return
	}

	c.result = &Result{OriginalText: req.RawText, CorrectedText: corrected, Diff: out.Diff}
	c.output = out
	c.state = Corrected
	c.emitLocked(Event{Kind: EventStateChanged})

	if c.identity != nil && c.history != nil {
		rec := history.Record{
			UserID:        c.identity.UserID,
			Email:         c.identity.Email,
			SessionID:     c.id,
			Input:         req.RawText,
			Output:        raw,
			CorrectedText: raw,
			Timestamp:     req.SubmittedAt,
		}
		c.wg.Add(1)
		go c.save(ctx, rec)
	}
}

func (c *Controller) render(segs []textdiff.Segment, corrected string) Rendered {
	return Rendered{
		Diff:          segs,
		CorrectedText: corrected,
		HTML:          textdiff.RenderCorrectedHTML(segs),
		Changes:       c.classifier.SummarizeSegments(segs).Changes,
	}
}

// save runs detached from the correction: its outcome never changes the
// session state.
func (c *Controller) save(ctx context.Context, rec history.Record) {
	defer c.wg.Done()

	saved, err := c.history.Save(ctx, rec)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if err != nil {
		select {
		case c.failures <- PersistFailure{SessionID: c.id, Input: rec.Input, Err: err}:
		default:
			c.log.Warn("persist failure dropped, consumer not reading")
		}
		return
	}
	c.emitLocked(Event{Kind: EventHistorySaved, RecordID: saved.ID})
}

func failureFor(err error) Failure {
	var ve *correction.ValidationError
	switch {
	case errors.As(err, &ve):
		return Failure{Kind: FailureValidation, Message: StatusEmptySentence}
	case errors.Is(err, correction.ErrNoCorrectionReturned):
		return Failure{Kind: FailureNoCorrection, Message: StatusNoCorrection}
	default:
		return Failure{Kind: FailureService, Message: StatusServiceFailed}
	}
}

func (c *Controller) failLocked(f Failure) {
	c.state = Failed
	c.output = f
	c.result = nil
	c.replay = false
	c.emitLocked(Event{Kind: EventStateChanged})
}

// StartCapture begins a one-shot voice capture whose transcript is then
// submitted. It is a no-op while already capturing and returns [ErrBusy]
// while correcting. A host without capture moves the session to Failed and
// returns [speech.ErrCapabilityUnavailable].
func (c *Controller) StartCapture(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	switch c.state {
	case Capturing:
		return nil
	case Correcting:
		return ErrBusy
	}
	c.stopPlaybackLocked()

	if c.capture == nil || !c.capture.Available() {
		c.failLocked(Failure{Kind: FailureUnavailable, Message: StatusNoRecognition})
		return speech.ErrCapabilityUnavailable
	}
	if err := c.capture.Start(context.WithoutCancel(ctx)); err != nil {
		c.failLocked(Failure{Kind: FailureCapture, Message: StatusCaptureFailed})
		return fmt.Errorf("session: start capture: %w", err)
	}

	c.state = Capturing
	c.input = StatusListening
	c.output = Placeholder{Message: OutputPlaceholder}
	c.result = nil
	c.replay = false
	c.emitLocked(Event{Kind: EventStateChanged})
	return nil
}

func (c *Controller) pumpCapture() {
	defer c.wg.Done()
	for {
		select {
		case <-c.root.Done():
			return
		case ev := <-c.capture.Events():
			c.onCapture(ev)
		}
	}
}

func (c *Controller) onCapture(ev speech.CaptureEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.state != Capturing {
		return
	}
	switch ev.Kind {
	case speech.EventTranscript:
		c.record("capture", "transcript")
		c.submitLocked(c.root, Request{RawText: ev.Text, Source: Voice, SubmittedAt: c.now()})
	case speech.EventCaptureError:
		c.record("capture", "error")
		c.log.Info("capture failed", "reason", ev.Reason)
		c.input = InputPlaceholder
		c.failLocked(Failure{Kind: FailureCapture, Message: StatusCaptureFailed})
	}
}

// RequestPlayback speaks the current correction. It is allowed only while
// Corrected and returns [speech.ErrCapabilityUnavailable] when the host
// cannot synthesise speech.
func (c *Controller) RequestPlayback() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.state != Corrected || c.result == nil {
		return ErrNotCorrected
	}
	if c.playback == nil || !c.playback.Available() {
		return speech.ErrCapabilityUnavailable
	}
	id, err := c.playback.Speak(c.result.CorrectedText)
	if err != nil {
		return fmt.Errorf("session: playback: %w", err)
	}
	if id == 0 {
		return nil
	}
	c.utterance = id
	c.state = Speaking
	c.emitLocked(Event{Kind: EventStateChanged})
	return nil
}

func (c *Controller) pumpPlayback() {
	defer c.wg.Done()
	for {
		select {
		case <-c.root.Done():
			return
		case ev := <-c.playback.Events():
			c.onPlayback(ev)
		}
	}
}

func (c *Controller) onPlayback(ev speech.PlaybackEvent) {
	if ev.Kind == speech.PlaybackStarted {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || ev.Utterance != c.utterance {
		return
	}
	c.utterance = 0
	if ev.Kind == speech.PlaybackFailed {
		c.record("playback", "failed")
		c.log.Info("playback failed", "reason", ev.Reason)
	} else {
		c.record("playback", "ended")
	}
	if c.state == Speaking {
		c.state = Corrected
		c.emitLocked(Event{Kind: EventStateChanged})
	}
}

// stopPlaybackLocked cancels an active utterance. A Speaking session falls
// back to Corrected without emitting.
func (c *Controller) stopPlaybackLocked() {
	if c.utterance == 0 {
		return
	}
	c.playback.Cancel()
	c.utterance = 0
	if c.state == Speaking {
		c.state = Corrected
	}
}

// detachLocked abandons any in-flight correction, capture and playback.
func (c *Controller) detachLocked() {
	c.gen++
	if c.cancelCorrect != nil {
		c.cancelCorrect()
		c.cancelCorrect = nil
	}
	if c.capture != nil {
		c.capture.Cancel()
	}
	c.stopPlaybackLocked()
}

// Clear resets the session to Empty from any state. An in-flight correction
// is abandoned and its result discarded. History is not touched.
func (c *Controller) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.detachLocked()
	c.state = Empty
	c.input = InputPlaceholder
	c.output = Placeholder{Message: OutputPlaceholder}
	c.result = nil
	c.replay = false
	c.emitLocked(Event{Kind: EventStateChanged})
}

// LoadHistoryItem displays rec as the current correction without calling
// the correction service or saving history. The session ends up Corrected,
// so the replayed sentence can be played back.
func (c *Controller) LoadHistoryItem(rec history.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.detachLocked()

	corrected := strings.TrimSpace(rec.CorrectedText)
	if corrected == "" {
		corrected = strings.TrimSpace(rec.Output)
	}
	segs := textdiff.Diff(rec.Input, corrected)
	c.state = Corrected
	c.input = rec.Input
	c.result = &Result{OriginalText: rec.Input, CorrectedText: corrected, Diff: segs}
	c.output = c.render(segs, corrected)
	c.replay = true
	c.emitLocked(Event{Kind: EventStateChanged})
	return nil
}

// Close tears the session down: capture and playback are stopped and
// closed, pending saves are awaited and both channels are closed. It is
// idempotent.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.detachLocked()
	c.closed = true
	c.mu.Unlock()

	c.stopRoot()
	if c.capture != nil {
		c.capture.Close()
	}
	if c.playback != nil {
		c.playback.Close()
	}
	c.wg.Wait()
	close(c.events)
	close(c.failures)
}

func (c *Controller) snapshotLocked() Snapshot {
	s := Snapshot{
		ID:       c.id,
		State:    c.state,
		Input:    c.input,
		Output:   c.output,
		Identity: c.identity,
		Replay:   c.replay,
	}
	if c.result != nil {
		r := *c.result
		s.Result = &r
	}
	return s
}

func (c *Controller) emitLocked(ev Event) {
	ev.Snapshot = c.snapshotLocked()
	select {
	case c.events <- ev:
	default:
		c.log.Warn("session event dropped, consumer not reading", "kind", ev.Kind.String())
	}
}

func (c *Controller) record(kind, outcome string) {
	if c.metrics != nil {
		c.metrics.RecordSpeech(context.Background(), kind, outcome)
	}
}
