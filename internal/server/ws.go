package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/voxfix/internal/app"
	"github.com/MrWong99/voxfix/internal/observe"
	"github.com/MrWong99/voxfix/internal/session"
	"github.com/MrWong99/voxfix/pkg/audio"
)

const (
	// micSampleRate is the format clients must send: 16 kHz mono s16le.
	micSampleRate = 16000

	// speakerBuffer is the number of synthesised frames queued per socket.
	speakerBuffer = 32

	// writeTimeout bounds a single WebSocket write.
	writeTimeout = 10 * time.Second

	// maxMessageBytes caps inbound microphone frames.
	maxMessageBytes = 64 << 10
)

// Message types sent to WebSocket clients as JSON text frames.
const (
	msgState          = "state"
	msgHistorySaved   = "history_saved"
	msgPersistFailure = "persist_failure"
)

type wsMessage struct {
	Type     string            `json:"type"`
	Snapshot *session.Snapshot `json:"snapshot,omitempty"`
	RecordID string            `json:"recordId,omitempty"`
	Error    string            `json:"error,omitempty"`
}

func noticeMessage(n app.Notice) wsMessage {
	switch {
	case n.Failure != nil:
		return wsMessage{Type: msgPersistFailure, Error: "Failed to save chat history"}
	case n.Event.Kind == session.EventHistorySaved:
		return wsMessage{Type: msgHistorySaved, RecordID: n.Event.RecordID}
	default:
		snap := n.Event.Snapshot
		return wsMessage{Type: msgState, Snapshot: &snap}
	}
}

// handleWebSocket streams a session to one client. Text frames out carry
// session notices, binary frames out carry synthesised PCM and binary frames
// in are microphone PCM for the running capture. A new socket for the same
// session takes over the speaker from the previous one.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request, sess *app.Session) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:     s.origins,
		InsecureSkipVerify: len(s.origins) == 0,
	})
	if err != nil {
		observe.Logger(r.Context()).Debug("websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(maxMessageBytes)

	log := observe.Logger(r.Context()).With("session_id", sess.ID())
	log.Debug("websocket connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	release := sess.Hold()
	defer release()

	notices, unsubscribe := sess.Subscribe()
	defer unsubscribe()
	frames, detach := sess.Speaker.Attach(speakerBuffer)
	defer detach()

	readErr := make(chan error, 1)
	go func() {
		defer cancel()
		readErr <- readMic(ctx, conn, sess)
	}()

	err = writeLoop(ctx, conn, sess, notices, frames)
	cancel()
	if rerr := <-readErr; err == nil {
		err = rerr
	}

	switch status := websocket.CloseStatus(err); {
	case err == nil, errors.Is(err, context.Canceled),
		status == websocket.StatusNormalClosure, status == websocket.StatusGoingAway:
		log.Debug("websocket closed")
	default:
		log.Info("websocket closed with error", "err", err)
	}
}

// writeLoop sends the current snapshot, then notices and speaker audio
// until ctx ends or the session closes.
func writeLoop(ctx context.Context, conn *websocket.Conn, sess *app.Session, notices <-chan app.Notice, frames <-chan audio.Frame) error {
	snap := sess.Snapshot()
	if err := writeJSONFrame(ctx, conn, wsMessage{Type: msgState, Snapshot: &snap}); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n, ok := <-notices:
			if !ok {
				return conn.Close(websocket.StatusNormalClosure, "session ended")
			}
			if err := writeJSONFrame(ctx, conn, noticeMessage(n)); err != nil {
				return err
			}
			sess.Touch()
		case f := <-frames:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Write(wctx, websocket.MessageBinary, f.Data)
			cancel()
			if err != nil {
				return err
			}
			sess.Touch()
		}
	}
}

func writeJSONFrame(ctx context.Context, conn *websocket.Conn, m wsMessage) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, m)
}

// readMic pushes inbound binary frames to the session's mic. Frames arriving
// while no capture runs are dropped; text frames are ignored. Every frame
// counts as use of the session.
func readMic(ctx context.Context, conn *websocket.Conn, sess *app.Session) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		sess.Touch()
		if typ != websocket.MessageBinary || len(data) == 0 {
			continue
		}
		sess.Mic.Push(audio.Frame{Data: data, SampleRate: micSampleRate, Channels: 1})
	}
}
