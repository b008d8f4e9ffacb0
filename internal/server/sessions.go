package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/MrWong99/voxfix/internal/app"
	"github.com/MrWong99/voxfix/internal/correction"
	"github.com/MrWong99/voxfix/internal/history"
	"github.com/MrWong99/voxfix/internal/observe"
	"github.com/MrWong99/voxfix/internal/session"
	"github.com/MrWong99/voxfix/internal/speech"
)

type sessionHandler func(w http.ResponseWriter, r *http.Request, s *app.Session)

// withSession resolves the {id} path value to a live session.
func (s *Server) withSession(h sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := s.deps.Sessions.Get(r.PathValue("id"))
		if err != nil {
			writeJSON(w, http.StatusNotFound, apiError{Error: "Session not found"})
			return
		}
		h(w, r, sess)
	}
}

type createSessionResponse struct {
	SessionID string           `json:"sessionId"`
	Snapshot  session.Snapshot `json:"snapshot"`
}

// handleCreateSession starts a session. The body is optional; when it
// carries an identity, corrections are saved to that user's history.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var id session.Identity
	if err := decodeJSON(w, r, &id); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "Invalid request body"})
		return
	}

	var identity *session.Identity
	switch {
	case id.UserID == "" && id.Email == "":
	case id.UserID == "" || id.Email == "":
		writeJSON(w, http.StatusBadRequest, apiError{Error: "userId and email are both required"})
		return
	default:
		identity = &id
	}

	sess, err := s.deps.Sessions.Create(identity)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, apiError{Error: "Server is shutting down"})
		return
	}
	writeJSON(w, http.StatusCreated, createSessionResponse{SessionID: sess.ID(), Snapshot: sess.Snapshot()})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Sessions.Remove(r.PathValue("id")); err != nil {
		writeJSON(w, http.StatusNotFound, apiError{Error: "Session not found"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, _ *http.Request, sess *app.Session) {
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

type submitRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request, sess *app.Session) {
	var req submitRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "Invalid request body"})
		return
	}
	// The correction outlives the request; the controller detaches it from
	// the request context.
	if err := sess.Submit(r.Context(), req.Text, session.Text); err != nil {
		s.writeSessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, sess.Snapshot())
}

func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request, sess *app.Session) {
	if err := sess.StartCapture(r.Context()); err != nil {
		s.writeSessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, sess.Snapshot())
}

func (s *Server) handlePlayback(w http.ResponseWriter, r *http.Request, sess *app.Session) {
	if err := sess.RequestPlayback(); err != nil {
		s.writeSessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, sess.Snapshot())
}

func (s *Server) handleClear(w http.ResponseWriter, _ *http.Request, sess *app.Session) {
	sess.Clear()
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

type loadRequest struct {
	Record history.Record `json:"record"`
}

func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request, sess *app.Session) {
	var req loadRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "Invalid request body"})
		return
	}
	rec := req.Record
	if strings.TrimSpace(rec.Input) == "" || (rec.CorrectedText == "" && rec.Output == "") {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "record needs input and correctedText"})
		return
	}
	if err := sess.LoadHistoryItem(rec); err != nil {
		s.writeSessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

// writeSessionError maps controller errors to responses. The body message
// is the status line the session would show.
func (s *Server) writeSessionError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *correction.ValidationError
	switch {
	case errors.Is(err, correction.ErrTooLong):
		writeJSON(w, http.StatusRequestEntityTooLarge, apiError{Error: session.StatusTooLong})
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, apiError{Error: session.StatusEmptySentence})
	case errors.Is(err, session.ErrBusy):
		writeJSON(w, http.StatusConflict, apiError{Error: "Session is busy"})
	case errors.Is(err, session.ErrNotCorrected):
		writeJSON(w, http.StatusConflict, apiError{Error: "Nothing to play yet"})
	case errors.Is(err, speech.ErrCapabilityUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, apiError{Error: "Speech is not available on this server"})
	case errors.Is(err, session.ErrClosed):
		writeJSON(w, http.StatusNotFound, apiError{Error: "Session not found"})
	default:
		observe.Logger(r.Context()).Warn("session request failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, apiError{Error: session.StatusCaptureFailed})
	}
}
