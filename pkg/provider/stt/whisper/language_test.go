package whisper

import (
	"testing"
	"time"

	"github.com/MrWong99/voxfix/pkg/audio"
)

func TestWhisperLanguage(t *testing.T) {
	tests := map[[2]string]string{
		{"en-US", "de"}: "en",
		{"", "de"}:      "de",
		{"EN", ""}:      "en",
	}
	for in, want := range tests {
		if got := whisperLanguage(in[0], in[1]); got != want {
			t.Errorf("whisperLanguage(%q, %q) = %q, want %q", in[0], in[1], got, want)
		}
	}
}

func TestSegmenter(t *testing.T) {
	loud := make([]byte, 3200) // 100ms at 16 kHz mono
	for i := 0; i < len(loud); i += 2 {
		loud[i+1] = 0x20 // 8192
	}
	quiet := make([]byte, 3200)

	g := segmenter{gap: 200 * time.Millisecond, format: audio.Format{SampleRate: 16000, Channels: 1}}
	if _, ok := g.push(quiet); ok {
		t.Fatal("leading silence produced an utterance")
	}
	if _, ok := g.push(loud); ok {
		t.Fatal("speech without trailing gap produced an utterance")
	}
	if _, ok := g.push(quiet); ok {
		t.Fatal("flushed before the gap elapsed")
	}
	out, ok := g.push(quiet)
	if !ok || len(out) != 3*3200 {
		t.Fatalf("push = %d bytes, %v; want 9600 bytes", len(out), ok)
	}
	if _, ok := g.push(quiet); ok {
		t.Error("segmenter did not reset after flush")
	}
}
