package session_test

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/voxfix/internal/correction"
	correctionmock "github.com/MrWong99/voxfix/internal/correction/mock"
	"github.com/MrWong99/voxfix/internal/history"
	"github.com/MrWong99/voxfix/internal/history/memory"
	"github.com/MrWong99/voxfix/internal/session"
	"github.com/MrWong99/voxfix/internal/speech"
	"github.com/MrWong99/voxfix/pkg/audio"
	audiomock "github.com/MrWong99/voxfix/pkg/audio/mock"
	"github.com/MrWong99/voxfix/pkg/provider/stt"
	sttmock "github.com/MrWong99/voxfix/pkg/provider/stt/mock"
	ttsmock "github.com/MrWong99/voxfix/pkg/provider/tts/mock"
	"github.com/MrWong99/voxfix/pkg/textdiff"
)

var ann = session.Identity{UserID: "u-1", Email: "ann@example.com", Name: "Ann"}

func newController(t *testing.T, client correction.Client, opts ...session.Option) *session.Controller {
	t.Helper()
	c := session.New(client, opts...)
	t.Cleanup(c.Close)
	return c
}

func nextEvent(t *testing.T, c *session.Controller) session.Event {
	t.Helper()
	select {
	case ev, ok := <-c.Events():
		if !ok {
			t.Fatal("events channel closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for session event")
		return session.Event{}
	}
}

// waitState consumes events until one reports state.
func waitState(t *testing.T, c *session.Controller, state session.State) session.Snapshot {
	t.Helper()
	for {
		ev := nextEvent(t, c)
		if ev.Kind == session.EventStateChanged && ev.Snapshot.State == state {
			return ev.Snapshot
		}
	}
}

func noEvent(t *testing.T, c *session.Controller) {
	t.Helper()
	select {
	case ev := <-c.Events():
		t.Errorf("unexpected event %s: state %s", ev.Kind, ev.Snapshot.State)
	case <-time.After(100 * time.Millisecond):
	}
}

// flakyStore fails or stalls appends on demand.
type flakyStore struct {
	*memory.Store
	err   error
	block chan struct{}
}

func (f *flakyStore) Append(ctx context.Context, rec history.Record) (history.Record, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return history.Record{}, history.Fail("append", ctx.Err())
		}
	}
	if f.err != nil {
		return history.Record{}, history.Fail("append", f.err)
	}
	return f.Store.Append(ctx, rec)
}

func TestSubmit_EndToEnd(t *testing.T) {
	t.Parallel()

	store := memory.New()
	client := &correctionmock.Client{Response: "He went to school yesterday"}
	c := newController(t, client,
		session.WithIdentity(ann),
		session.WithHistory(session.NewHistoryGuard(store, time.Second, nil)),
	)

	if err := c.Submit(context.Background(), "He go to school yesterday", session.Text); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if snap := waitState(t, c, session.Correcting); snap.Input != "He go to school yesterday" {
		t.Errorf("correcting input = %q", snap.Input)
	}
	snap := waitState(t, c, session.Corrected)

	wantDiff := []textdiff.Segment{
		{Text: "He ", Kind: textdiff.Unchanged},
		{Text: "go", Kind: textdiff.Removed},
		{Text: "went", Kind: textdiff.Inserted},
		{Text: " to school yesterday", Kind: textdiff.Unchanged},
	}
	out, ok := snap.Output.(session.Rendered)
	if !ok {
		t.Fatalf("output = %T, want Rendered", snap.Output)
	}
	if !reflect.DeepEqual(out.Diff, wantDiff) {
		t.Errorf("diff = %#v", out.Diff)
	}
	if out.HTML != "He <mark>went</mark> to school yesterday" {
		t.Errorf("html = %q", out.HTML)
	}
	if out.Text() != "Corrected: He went to school yesterday" {
		t.Errorf("output text = %q", out.Text())
	}
	if len(out.Changes) != 1 || out.Changes[0].Original != "go" {
		t.Errorf("changes = %+v", out.Changes)
	}
	if snap.Result == nil || snap.Result.CorrectedText != "He went to school yesterday" {
		t.Errorf("result = %+v", snap.Result)
	}

	saved := nextEvent(t, c)
	if saved.Kind != session.EventHistorySaved || saved.RecordID == "" {
		t.Fatalf("event = %+v, want history saved", saved)
	}
	list, err := store.ListByUser(context.Background(), ann.Email)
	if err != nil || len(list) != 1 {
		t.Fatalf("ListByUser = %v, %v", list, err)
	}
	rec := list[0]
	if rec.ID != saved.RecordID || rec.CorrectedText != "He went to school yesterday" ||
		rec.Output != rec.CorrectedText || rec.SessionID != c.ID() || rec.UserID != ann.UserID {
		t.Errorf("saved record = %+v", rec)
	}
	if got := client.Calls(); len(got) != 1 {
		t.Errorf("client calls = %v", got)
	}
}

func TestSubmit_EmptyIsValidationError(t *testing.T) {
	t.Parallel()

	client := &correctionmock.Client{Response: "x"}
	c := newController(t, client)

	for _, text := range []string{"", "   \t\n"} {
		err := c.Submit(context.Background(), text, session.Text)
		var ve *correction.ValidationError
		if !errors.As(err, &ve) {
			t.Errorf("Submit(%q) = %v, want ValidationError", text, err)
		}
	}
	if calls := client.Calls(); len(calls) != 0 {
		t.Errorf("client called %d times", len(calls))
	}
	if snap := c.Snapshot(); snap.State != session.Empty || snap.Input != session.InputPlaceholder {
		t.Errorf("snapshot = %+v, want untouched Empty", snap)
	}
	noEvent(t, c)
}

func TestSubmit_BusyWhileCorrecting(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	client := &correctionmock.Client{Response: "Fine.", Block: block}
	c := newController(t, client)

	if err := c.Submit(context.Background(), "first", session.Text); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := c.Submit(context.Background(), "second", session.Text); !errors.Is(err, session.ErrBusy) {
		t.Errorf("second Submit = %v, want ErrBusy", err)
	}
	if err := c.StartCapture(context.Background()); !errors.Is(err, session.ErrBusy) {
		t.Errorf("StartCapture = %v, want ErrBusy", err)
	}
	close(block)
	waitState(t, c, session.Corrected)

	if calls := client.Calls(); len(calls) != 1 || calls[0] != "first" {
		t.Errorf("client calls = %v, want [first]", calls)
	}
}

func TestSubmit_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		err     error
		kind    session.FailureKind
		message string
	}{
		{"service", &correction.ServiceError{Backend: "remote", StatusCode: 500, Err: errors.New("boom")},
			session.FailureService, session.StatusServiceFailed},
		{"no correction", correction.ErrNoCorrectionReturned,
			session.FailureNoCorrection, session.StatusNoCorrection},
		{"unclassified", errors.New("dial tcp: refused"),
			session.FailureService, session.StatusServiceFailed},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			client := &correctionmock.Client{Err: tc.err}
			c := newController(t, client)

			if err := c.Submit(context.Background(), "He go", session.Text); err != nil {
				t.Fatalf("Submit: %v", err)
			}
			snap := waitState(t, c, session.Failed)
			f, ok := snap.Output.(session.Failure)
			if !ok || f.Kind != tc.kind || f.Message != tc.message {
				t.Errorf("output = %#v, want Failure{%s, %q}", snap.Output, tc.kind, tc.message)
			}
			if snap.Result != nil {
				t.Errorf("result = %+v, want nil", snap.Result)
			}

			// Failed behaves like Empty for the next submission.
			client.Err = nil
			client.Response = "He goes."
			if err := c.Submit(context.Background(), "He go", session.Text); err != nil {
				t.Fatalf("resubmit: %v", err)
			}
			waitState(t, c, session.Corrected)
		})
	}
}

func TestSubmit_WithoutIdentitySavesNothing(t *testing.T) {
	t.Parallel()

	store := memory.New()
	c := newController(t, &correctionmock.Client{Response: "Fine."},
		session.WithHistory(session.NewHistoryGuard(store, time.Second, nil)))

	if err := c.Submit(context.Background(), "fine", session.Text); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitState(t, c, session.Corrected)
	noEvent(t, c)
	if store.Len() != 0 {
		t.Errorf("store has %d records, want 0", store.Len())
	}
}

func TestSubmit_BlankReplyIsNoCorrection(t *testing.T) {
	t.Parallel()

	store := memory.New()
	c := newController(t, &correctionmock.Client{Response: " \n\t "},
		session.WithIdentity(ann),
		session.WithHistory(session.NewHistoryGuard(store, time.Second, nil)))

	if err := c.Submit(context.Background(), "He go", session.Text); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	snap := waitState(t, c, session.Failed)
	f, ok := snap.Output.(session.Failure)
	if !ok || f.Kind != session.FailureNoCorrection || f.Message != session.StatusNoCorrection {
		t.Errorf("output = %#v, want no-correction failure", snap.Output)
	}
	if snap.Result != nil {
		t.Errorf("result = %+v, want nil", snap.Result)
	}
	noEvent(t, c)
	if store.Len() != 0 {
		t.Errorf("store has %d records, want 0", store.Len())
	}
}

func TestSubmit_PersistsServiceReply(t *testing.T) {
	t.Parallel()

	store := memory.New()
	c := newController(t, &correctionmock.Client{Response: "  He went.\n"},
		session.WithIdentity(ann),
		session.WithHistory(session.NewHistoryGuard(store, time.Second, nil)))

	if err := c.Submit(context.Background(), "He go.", session.Text); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	snap := waitState(t, c, session.Corrected)
	if snap.Result == nil || snap.Result.CorrectedText != "He went." {
		t.Errorf("result = %+v, want trimmed text", snap.Result)
	}
	if ev := nextEvent(t, c); ev.Kind != session.EventHistorySaved {
		t.Fatalf("event = %+v, want history saved", ev)
	}
	list, err := store.ListByUser(context.Background(), ann.Email)
	if err != nil || len(list) != 1 {
		t.Fatalf("ListByUser = %v, %v", list, err)
	}
	if rec := list[0]; rec.Output != "  He went.\n" || rec.CorrectedText != rec.Output {
		t.Errorf("saved output = %q, corrected = %q", rec.Output, rec.CorrectedText)
	}
}

func TestSubmit_PersistFailureIsSeparate(t *testing.T) {
	t.Parallel()

	store := &flakyStore{Store: memory.New(), err: errors.New("connection refused")}
	guard := session.NewHistoryGuard(store, time.Second, nil)
	c := newController(t, &correctionmock.Client{Response: "Fine."},
		session.WithIdentity(ann), session.WithHistory(guard))

	if err := c.Submit(context.Background(), "fine", session.Text); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitState(t, c, session.Corrected)

	select {
	case pf := <-c.PersistFailures():
		var pe *history.PersistenceError
		if pf.SessionID != c.ID() || pf.Input != "fine" || !errors.As(pf.Err, &pe) {
			t.Errorf("persist failure = %+v", pf)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no persist failure reported")
	}
	if snap := c.Snapshot(); snap.State != session.Corrected {
		t.Errorf("state = %s, want corrected", snap.State)
	}
	if !guard.IsDegraded() || guard.Failures() != 1 {
		t.Errorf("guard degraded=%v failures=%d", guard.IsDegraded(), guard.Failures())
	}
}

func TestSubmit_SlowSaveDoesNotBlockResult(t *testing.T) {
	t.Parallel()

	store := &flakyStore{Store: memory.New(), block: make(chan struct{})}
	c := newController(t, &correctionmock.Client{Response: "Fine."},
		session.WithIdentity(ann),
		session.WithHistory(session.NewHistoryGuard(store, 5*time.Second, nil)))

	if err := c.Submit(context.Background(), "fine", session.Text); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitState(t, c, session.Corrected)

	close(store.block)
	if ev := nextEvent(t, c); ev.Kind != session.EventHistorySaved {
		t.Errorf("event = %s, want history saved", ev.Kind)
	}
}

func TestClear_DiscardsInFlightCorrection(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	client := &correctionmock.Client{
		CorrectFunc: func(ctx context.Context, text string) (string, error) {
			<-release
			return "Late answer.", nil
		},
	}
	c := newController(t, client)

	if err := c.Submit(context.Background(), "late", session.Text); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitState(t, c, session.Correcting)

	c.Clear()
	snap := waitState(t, c, session.Empty)
	if snap.Input != session.InputPlaceholder || snap.Output.Text() != session.OutputPlaceholder {
		t.Errorf("cleared snapshot = %+v", snap)
	}
	close(release)
	noEvent(t, c)
	if snap := c.Snapshot(); snap.State != session.Empty {
		t.Errorf("state = %s after late result, want empty", snap.State)
	}
}

func newPlayback(provider *ttsmock.Provider, sink *audiomock.Sink) *speech.Playback {
	return speech.NewPlayback(provider, sink, speech.WithIgnoredText(session.OutputPlaceholder))
}

func corrected(t *testing.T, c *session.Controller) {
	t.Helper()
	if err := c.Submit(context.Background(), "He go", session.Text); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitState(t, c, session.Corrected)
}

func TestRequestPlayback(t *testing.T) {
	t.Parallel()

	hold := make(chan struct{})
	provider := &ttsmock.Provider{Chunks: [][]byte{{1, 0, 2, 0}}, Hold: hold}
	sink := &audiomock.Sink{}
	c := newController(t, &correctionmock.Client{Response: "He goes."},
		session.WithPlayback(newPlayback(provider, sink)))

	if err := c.RequestPlayback(); !errors.Is(err, session.ErrNotCorrected) {
		t.Errorf("RequestPlayback while empty = %v, want ErrNotCorrected", err)
	}

	corrected(t, c)
	if err := c.RequestPlayback(); err != nil {
		t.Fatalf("RequestPlayback: %v", err)
	}
	waitState(t, c, session.Speaking)
	if err := c.RequestPlayback(); !errors.Is(err, session.ErrNotCorrected) {
		t.Errorf("RequestPlayback while speaking = %v, want ErrNotCorrected", err)
	}

	close(hold)
	snap := waitState(t, c, session.Corrected)
	if snap.Result == nil || snap.Result.CorrectedText != "He goes." {
		t.Errorf("result changed by playback: %+v", snap.Result)
	}
	calls := provider.SynthesizeCalls()
	if len(calls) != 1 || calls[0].Text != "He goes." {
		t.Errorf("synthesize calls = %+v", calls)
	}
	if len(sink.Frames()) == 0 {
		t.Error("no audio reached the sink")
	}
}

func TestRequestPlayback_Unavailable(t *testing.T) {
	t.Parallel()

	c := newController(t, &correctionmock.Client{Response: "He goes."})
	corrected(t, c)
	if err := c.RequestPlayback(); !errors.Is(err, speech.ErrCapabilityUnavailable) {
		t.Errorf("RequestPlayback = %v, want ErrCapabilityUnavailable", err)
	}
	if snap := c.Snapshot(); snap.State != session.Corrected {
		t.Errorf("state = %s, want corrected", snap.State)
	}
}

func TestClear_WhileSpeaking(t *testing.T) {
	t.Parallel()

	provider := &ttsmock.Provider{Chunks: [][]byte{{1, 0}}, Hold: make(chan struct{})}
	c := newController(t, &correctionmock.Client{Response: "He goes."},
		session.WithPlayback(newPlayback(provider, &audiomock.Sink{})))

	corrected(t, c)
	if err := c.RequestPlayback(); err != nil {
		t.Fatalf("RequestPlayback: %v", err)
	}
	waitState(t, c, session.Speaking)

	c.Clear()
	snap := waitState(t, c, session.Empty)
	if snap.Input != session.InputPlaceholder || snap.Output.Text() != session.OutputPlaceholder {
		t.Errorf("cleared snapshot = %+v", snap)
	}
	noEvent(t, c)
}

func TestSubmit_WhileSpeakingStopsPlayback(t *testing.T) {
	t.Parallel()

	provider := &ttsmock.Provider{Chunks: [][]byte{{1, 0}}, Hold: make(chan struct{})}
	c := newController(t, &correctionmock.Client{Response: "He goes."},
		session.WithPlayback(newPlayback(provider, &audiomock.Sink{})))

	corrected(t, c)
	if err := c.RequestPlayback(); err != nil {
		t.Fatalf("RequestPlayback: %v", err)
	}
	waitState(t, c, session.Speaking)

	if err := c.Submit(context.Background(), "She go", session.Text); err != nil {
		t.Fatalf("Submit while speaking: %v", err)
	}
	waitState(t, c, session.Corrected)
	noEvent(t, c)
}

func captureWith(sess *sttmock.Session) *speech.Capture {
	source := &audiomock.Source{
		Hold:   true,
		Frames: []audio.Frame{{Data: []byte{1, 0, 2, 0}, SampleRate: 16000, Channels: 1}},
	}
	return speech.NewCapture(&sttmock.Provider{Session: sess}, source)
}

func TestStartCapture_Transcript(t *testing.T) {
	t.Parallel()

	sess := sttmock.NewSession()
	sess.Emit(stt.Transcript{Text: "he go to school", IsFinal: true})
	client := &correctionmock.Client{Response: "He goes to school."}
	c := newController(t, client, session.WithCapture(captureWith(sess)))

	if err := c.StartCapture(context.Background()); err != nil {
		t.Fatalf("StartCapture: %v", err)
	}
	if snap := waitState(t, c, session.Capturing); snap.Input != session.StatusListening {
		t.Errorf("capturing input = %q", snap.Input)
	}
	if snap := waitState(t, c, session.Correcting); snap.Input != "You said: he go to school" {
		t.Errorf("correcting input = %q", snap.Input)
	}
	waitState(t, c, session.Corrected)
	if calls := client.Calls(); len(calls) != 1 || calls[0] != "he go to school" {
		t.Errorf("client calls = %v", calls)
	}
}

func TestStartCapture_Unavailable(t *testing.T) {
	t.Parallel()

	c := newController(t, &correctionmock.Client{})
	if err := c.StartCapture(context.Background()); !errors.Is(err, speech.ErrCapabilityUnavailable) {
		t.Fatalf("StartCapture = %v, want ErrCapabilityUnavailable", err)
	}
	snap := waitState(t, c, session.Failed)
	if f, ok := snap.Output.(session.Failure); !ok || f.Kind != session.FailureUnavailable || f.Message != session.StatusNoRecognition {
		t.Errorf("output = %#v", snap.Output)
	}
}

func TestStartCapture_Error(t *testing.T) {
	t.Parallel()

	sess := sttmock.NewSession()
	sess.End(errors.New("socket reset"))
	client := &correctionmock.Client{}
	c := newController(t, client, session.WithCapture(captureWith(sess)))

	if err := c.StartCapture(context.Background()); err != nil {
		t.Fatalf("StartCapture: %v", err)
	}
	snap := waitState(t, c, session.Failed)
	if f, ok := snap.Output.(session.Failure); !ok || f.Kind != session.FailureCapture {
		t.Errorf("output = %#v", snap.Output)
	}
	if snap.Input != session.InputPlaceholder {
		t.Errorf("input = %q", snap.Input)
	}
	if len(client.Calls()) != 0 {
		t.Error("failed capture reached the correction client")
	}
}

func TestStartCapture_BusyAndClear(t *testing.T) {
	t.Parallel()

	c := newController(t, &correctionmock.Client{}, session.WithCapture(captureWith(sttmock.NewSession())))

	if err := c.StartCapture(context.Background()); err != nil {
		t.Fatalf("StartCapture: %v", err)
	}
	waitState(t, c, session.Capturing)
	if err := c.StartCapture(context.Background()); err != nil {
		t.Errorf("second StartCapture = %v, want no-op", err)
	}
	if err := c.Submit(context.Background(), "typed", session.Text); !errors.Is(err, session.ErrBusy) {
		t.Errorf("Submit while capturing = %v, want ErrBusy", err)
	}

	c.Clear()
	waitState(t, c, session.Empty)
	noEvent(t, c)
}

func TestLoadHistoryItem(t *testing.T) {
	t.Parallel()

	store := memory.New()
	client := &correctionmock.Client{}
	c := newController(t, client,
		session.WithIdentity(ann),
		session.WithHistory(session.NewHistoryGuard(store, time.Second, nil)))

	err := c.LoadHistoryItem(history.Record{
		Input:         "He go to school yesterday",
		Output:        "He went to school yesterday",
		CorrectedText: "He went to school yesterday",
	})
	if err != nil {
		t.Fatalf("LoadHistoryItem: %v", err)
	}
	snap := waitState(t, c, session.Corrected)
	if !snap.Replay || snap.Input != "He go to school yesterday" {
		t.Errorf("snapshot = %+v", snap)
	}
	if out, ok := snap.Output.(session.Rendered); !ok || out.CorrectedText != "He went to school yesterday" {
		t.Errorf("output = %#v", snap.Output)
	}
	noEvent(t, c)
	if len(client.Calls()) != 0 || store.Len() != 0 {
		t.Errorf("replay issued %d calls and %d saves", len(client.Calls()), store.Len())
	}
}

func TestClose(t *testing.T) {
	t.Parallel()

	c := session.New(&correctionmock.Client{Block: make(chan struct{})})
	if err := c.Submit(context.Background(), "pending", session.Text); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	c.Close()
	c.Close()

	for range c.Events() {
	}
	if _, ok := <-c.PersistFailures(); ok {
		t.Error("persist failures channel still open")
	}
	if err := c.Submit(context.Background(), "x", session.Text); !errors.Is(err, session.ErrClosed) {
		t.Errorf("Submit after Close = %v", err)
	}
	if err := c.StartCapture(context.Background()); !errors.Is(err, session.ErrClosed) {
		t.Errorf("StartCapture after Close = %v", err)
	}
	if err := c.RequestPlayback(); !errors.Is(err, session.ErrClosed) {
		t.Errorf("RequestPlayback after Close = %v", err)
	}
}

func TestSnapshot_JSON(t *testing.T) {
	t.Parallel()

	c := newController(t, &correctionmock.Client{Response: "He went."})
	corrected(t, c)

	data, err := json.Marshal(c.Snapshot())
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	for _, want := range []string{`"state":"corrected"`, `"type":"rendered"`, `"correctedText":"He went."`, `"kind":"inserted"`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("snapshot JSON %s lacks %s", data, want)
		}
	}

	data, err = json.Marshal(session.Failure{Kind: session.FailureService, Message: "x"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if got, want := string(data), `{"type":"failure","kind":"service","message":"x"}`; got != want {
		t.Errorf("failure JSON = %s, want %s", got, want)
	}
}
