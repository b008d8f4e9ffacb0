package whisper_test

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/voxfix/pkg/provider/stt"
	"github.com/MrWong99/voxfix/pkg/provider/stt/whisper"
)

// newServer answers POST /inference with text and counts requests.
func newServer(t *testing.T, text string, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/inference" {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if r.FormValue("language") != "en" {
			http.Error(w, "bad language "+r.FormValue("language"), http.StatusBadRequest)
			return
		}
		if calls != nil {
			calls.Add(1)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": text})
	}))
	t.Cleanup(srv.Close)
	return srv
}

// speech returns 16 kHz sine-wave PCM well above the silence gate.
func speech(samples int) []byte {
	buf := make([]byte, samples*2)
	for i := range samples {
		v := int16(10_000 * math.Sin(2*math.Pi*440*float64(i)/16000))
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return buf
}

func silence(samples int) []byte { return make([]byte, samples*2) }

var cfg = stt.StreamConfig{SampleRate: 16000, Channels: 1, Language: "en-US"}

func start(t *testing.T, p *whisper.Provider, c stt.StreamConfig) stt.SessionHandle {
	t.Helper()
	h, err := p.StartStream(context.Background(), c)
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func TestNew_EmptyServerURL(t *testing.T) {
	t.Parallel()
	if _, err := whisper.New(""); err == nil {
		t.Fatal("expected error for empty serverURL")
	}
}

func TestStartStream_CancelledContext(t *testing.T) {
	t.Parallel()
	p, _ := whisper.New("http://localhost:1")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.StartStream(ctx, cfg); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestSilenceOnly_NoRequest(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := newServer(t, "unexpected", &calls)

	p, _ := whisper.New(srv.URL, whisper.WithSilenceThreshold(50*time.Millisecond))
	h := start(t, p, cfg)
	_ = h.SendAudio(silence(16000))
	time.Sleep(150 * time.Millisecond)
	_ = h.Close()

	if n := calls.Load(); n != 0 {
		t.Errorf("inference called %d times for silence-only audio", n)
	}
}

func TestUtterance_Final(t *testing.T) {
	t.Parallel()
	srv := newServer(t, " He go to school yesterday ", nil)

	p, _ := whisper.New(srv.URL, whisper.WithSilenceThreshold(100*time.Millisecond))
	h := start(t, p, cfg)

	if err := h.SendAudio(speech(1600)); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	if err := h.SendAudio(silence(1600)); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}

	select {
	case tr := <-h.Finals():
		if tr.Text != "He go to school yesterday" || !tr.IsFinal {
			t.Errorf("final = %+v", tr)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for final")
	}
	select {
	case tr := <-h.Partials():
		t.Errorf("unexpected partial %q without Interim", tr.Text)
	default:
	}
}

func TestUtterance_InterimPartial(t *testing.T) {
	t.Parallel()
	srv := newServer(t, "hello", nil)

	p, _ := whisper.New(srv.URL, whisper.WithSilenceThreshold(100*time.Millisecond))
	c := cfg
	c.Interim = true
	h := start(t, p, c)
	_ = h.SendAudio(speech(1600))
	_ = h.SendAudio(silence(1600))

	select {
	case tr := <-h.Partials():
		if tr.Text != "hello" || tr.IsFinal {
			t.Errorf("partial = %+v", tr)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for partial")
	}
}

func TestMaxUtterance_ForcesFlush(t *testing.T) {
	t.Parallel()
	srv := newServer(t, "long sentence", nil)

	p, _ := whisper.New(srv.URL,
		whisper.WithSilenceThreshold(time.Minute),
		whisper.WithMaxUtterance(200*time.Millisecond),
	)
	h := start(t, p, cfg)
	_ = h.SendAudio(speech(3360))

	select {
	case tr := <-h.Finals():
		if tr.Text != "long sentence" {
			t.Errorf("final = %q", tr.Text)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for forced flush")
	}
}

func TestServerError_EndsSession(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	p, _ := whisper.New(srv.URL, whisper.WithSilenceThreshold(100*time.Millisecond))
	h := start(t, p, cfg)
	_ = h.SendAudio(speech(1600))
	_ = h.SendAudio(silence(1600))

	select {
	case _, ok := <-h.Finals():
		if ok {
			t.Fatal("received transcript from failing server")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("session did not end after server error")
	}
	if h.Err() == nil {
		t.Error("Err() = nil after server error")
	}
}

func TestClose(t *testing.T) {
	t.Parallel()
	srv := newServer(t, "", nil)
	p, _ := whisper.New(srv.URL)
	h := start(t, p, cfg)

	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, ok := <-h.Finals(); ok {
		t.Error("Finals still open after Close")
	}
	if err := h.SendAudio(speech(10)); !errors.Is(err, stt.ErrSessionClosed) {
		t.Errorf("SendAudio after Close = %v, want ErrSessionClosed", err)
	}
	if h.Err() != nil {
		t.Errorf("Err() = %v after clean Close", h.Err())
	}
}
