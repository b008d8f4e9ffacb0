package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/MrWong99/voxfix/internal/account"
	"github.com/MrWong99/voxfix/internal/correction"
	"github.com/MrWong99/voxfix/internal/history"
	"github.com/MrWong99/voxfix/internal/observe"
)

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req account.SignupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, message{Msg: "Invalid request body"})
		return
	}

	_, err := s.deps.Accounts.Signup(r.Context(), req)
	var ve *account.ValidationError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, message{Msg: "User registered successfully"})
	case errors.As(err, &ve) && ve.Field == "confirmPassword":
		writeJSON(w, http.StatusBadRequest, message{Msg: "Passwords do not match!"})
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, message{Msg: fmt.Sprintf("Invalid %s: %s", ve.Field, ve.Reason)})
	case errors.Is(err, account.ErrUserExists):
		writeJSON(w, http.StatusBadRequest, message{Msg: "User already exists!"})
	default:
		observe.Logger(r.Context()).Error("signup failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, message{Msg: "Server error"})
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Msg    string `json:"msg"`
	Email  string `json:"email"`
	UserID string `json:"userId"`
	Name   string `json:"name"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, message{Msg: "Invalid request body"})
		return
	}

	u, err := s.deps.Accounts.Login(r.Context(), req.Email, req.Password)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, loginResponse{
			Msg:    "Login successful",
			Email:  u.Email,
			UserID: u.ID,
			Name:   u.Name,
		})
	case errors.Is(err, account.ErrInvalidCredentials):
		writeJSON(w, http.StatusBadRequest, message{Msg: "Invalid email or password!"})
	default:
		observe.Logger(r.Context()).Error("login failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, message{Msg: "Server error"})
	}
}

// chatOutput accepts the output either as a string or as an object carrying
// the displayed text in plainText.
type chatOutput string

func (o *chatOutput) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '{' {
		var obj struct {
			PlainText string `json:"plainText"`
		}
		if err := json.Unmarshal(b, &obj); err != nil {
			return err
		}
		*o = chatOutput(obj.PlainText)
		return nil
	}
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return err
	}
	*o = chatOutput(str)
	return nil
}

type saveChatRequest struct {
	UserID        string     `json:"userId"`
	Email         string     `json:"email"`
	SessionID     string     `json:"sessionId"`
	Input         string     `json:"input"`
	Output        chatOutput `json:"output"`
	CorrectedText string     `json:"correctedText"`
}

func (s *Server) handleSaveChat(w http.ResponseWriter, r *http.Request) {
	var req saveChatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, message{Msg: "Invalid request body"})
		return
	}

	_, err := s.deps.History.Append(r.Context(), history.Record{
		UserID:        req.UserID,
		Email:         req.Email,
		SessionID:     req.SessionID,
		Input:         req.Input,
		Output:        string(req.Output),
		CorrectedText: req.CorrectedText,
	})
	if err != nil {
		observe.Logger(r.Context()).Warn("saving chat failed", "user_email", req.Email, "err", err)
		writeJSON(w, http.StatusInternalServerError, message{Msg: "Failed to save chat history"})
		return
	}
	writeJSON(w, http.StatusOK, message{Msg: "Chat saved successfully"})
}

func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	recs, err := s.deps.History.ListByUser(r.Context(), r.PathValue("email"))
	if err != nil {
		observe.Logger(r.Context()).Error("listing chat history failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, message{Msg: "Failed to fetch chat history"})
		return
	}
	if recs == nil {
		recs = []history.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleDeleteHistory(w http.ResponseWriter, r *http.Request) {
	err := s.deps.History.DeleteOne(r.Context(), r.PathValue("id"))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, message{Msg: "Chat history deleted successfully"})
	case errors.Is(err, history.ErrInvalidID):
		writeJSON(w, http.StatusBadRequest, message{Msg: "Invalid chat history ID"})
	case errors.Is(err, history.ErrNotFound):
		writeJSON(w, http.StatusNotFound, message{Msg: "Chat history item not found"})
	default:
		observe.Logger(r.Context()).Error("deleting chat history failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, message{Msg: "Failed to delete chat history"})
	}
}

type clearResponse struct {
	Msg          string `json:"msg"`
	DeletedCount int    `json:"deletedCount"`
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	n, err := s.deps.History.DeleteAllForUser(r.Context(), r.PathValue("email"))
	if err != nil {
		observe.Logger(r.Context()).Error("clearing chat history failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, message{Msg: "Failed to delete chat history"})
		return
	}
	writeJSON(w, http.StatusOK, clearResponse{Msg: "All chat history deleted successfully", DeletedCount: n})
}

type checkRequest struct {
	Text string `json:"text"`
}

type checkResponse struct {
	Corrected string `json:"corrected"`
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "Invalid request body"})
		return
	}

	corrected, err := s.deps.Corrector.Correct(r.Context(), req.Text)
	var ve *correction.ValidationError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, checkResponse{Corrected: corrected})
	case errors.Is(err, correction.ErrTooLong):
		writeJSON(w, http.StatusRequestEntityTooLarge, apiError{Error: "Text too long"})
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, apiError{Error: "No text provided"})
	default:
		observe.Logger(r.Context()).Warn("grammar check failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, apiError{Error: "Grammar API request failed"})
	}
}

type generateRequest struct {
	Prompt string `json:"prompt"`
}

type generateResponse struct {
	Text string `json:"text"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := decodeJSON(w, r, &req); err != nil || strings.TrimSpace(req.Prompt) == "" {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "No input provided"})
		return
	}
	if s.generate == nil {
		writeJSON(w, http.StatusServiceUnavailable, apiError{Error: "No language model configured"})
		return
	}

	text, err := s.generate.Correct(r.Context(), req.Prompt)
	if err != nil {
		observe.Logger(r.Context()).Warn("generate response failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, apiError{Error: "Failed to generate response", Details: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, generateResponse{Text: text})
}
