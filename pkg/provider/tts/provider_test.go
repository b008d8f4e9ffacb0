package tts_test

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/voxfix/pkg/provider/tts"
)

func TestStream_DeliversThenFinishes(t *testing.T) {
	t.Parallel()

	s := tts.NewStream(16000, 2)
	ctx := context.Background()
	if !s.Send(ctx, []byte{1, 2}) || !s.Send(ctx, []byte{3, 4}) {
		t.Fatal("Send reported false on a live stream")
	}
	boom := errors.New("boom")
	s.Finish(boom)
	s.Finish(nil) // ignored

	var n int
	for range s.Audio() {
		n++
	}
	if n != 2 {
		t.Errorf("received %d chunks, want 2", n)
	}
	if !errors.Is(s.Err(), boom) {
		t.Errorf("Err() = %v, want boom", s.Err())
	}
}

func TestStream_SendRespectsContext(t *testing.T) {
	t.Parallel()

	s := tts.NewStream(16000, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if s.Send(ctx, []byte{0}) {
		t.Error("Send on unbuffered stream with cancelled ctx reported true")
	}
}
