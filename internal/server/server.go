// Package server exposes VoxFix over HTTP.
//
// It serves three groups of routes on one [http.ServeMux]:
//
//	POST   /signup, /login                      accounts
//	POST   /api/save-chat                       history
//	GET    /api/chat-history/{email}
//	DELETE /api/chat-history/{id}
//	DELETE /api/chat-history/user/{email}
//	POST   /api/check, /generate_response       stateless correction
//	       /api/sessions/...                    live sessions and their WebSocket
//
// plus the health probes and, when configured, /metrics. Every route runs
// behind [observe.Middleware].
package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/MrWong99/voxfix/internal/account"
	"github.com/MrWong99/voxfix/internal/app"
	"github.com/MrWong99/voxfix/internal/correction"
	"github.com/MrWong99/voxfix/internal/correction/llmcorrect"
	"github.com/MrWong99/voxfix/internal/health"
	"github.com/MrWong99/voxfix/internal/history"
	"github.com/MrWong99/voxfix/internal/observe"
	"github.com/MrWong99/voxfix/pkg/provider/llm"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// Deps are the subsystems the routes call into. Accounts, History,
// Corrector and Sessions are required.
type Deps struct {
	Accounts  *account.Service
	History   history.Store
	Corrector correction.Client
	Sessions  *app.SessionManager

	// LLM backs /generate_response. When nil the route answers 503.
	LLM llm.Provider

	Health  *health.Handler
	Metrics *observe.Metrics

	// MetricsHandler is mounted at /metrics when non-nil.
	MetricsHandler http.Handler
}

// Server holds the routes. Create it with [New].
type Server struct {
	deps     Deps
	generate correction.Client
	origins  []string
	mux      *http.ServeMux
}

// Option configures a [Server].
type Option func(*Server)

// WithAllowedOrigins sets the origins allowed for CORS requests and
// WebSocket upgrades, as host patterns understood by path.Match
// ("app.example.com", "*.example.com"). The default allows any origin.
func WithAllowedOrigins(patterns ...string) Option {
	return func(s *Server) { s.origins = patterns }
}

// New builds the route table.
func New(d Deps, opts ...Option) *Server {
	s := &Server{
		deps: d,
		mux:  http.NewServeMux(),
	}
	for _, o := range opts {
		o(s)
	}
	if d.LLM != nil {
		s.generate = llmcorrect.New(d.LLM)
	}
	if s.deps.Metrics == nil {
		s.deps.Metrics = observe.DefaultMetrics()
	}

	s.mux.HandleFunc("POST /signup", s.handleSignup)
	s.mux.HandleFunc("POST /login", s.handleLogin)
	s.mux.HandleFunc("POST /api/save-chat", s.handleSaveChat)
	s.mux.HandleFunc("GET /api/chat-history/{email}", s.handleListHistory)
	s.mux.HandleFunc("DELETE /api/chat-history/{id}", s.handleDeleteHistory)
	s.mux.HandleFunc("DELETE /api/chat-history/user/{email}", s.handleClearHistory)
	s.mux.HandleFunc("POST /api/check", s.handleCheck)
	s.mux.HandleFunc("POST /generate_response", s.handleGenerate)

	s.mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	s.mux.HandleFunc("GET /api/sessions/{id}", s.withSession(s.handleSnapshot))
	s.mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDeleteSession)
	s.mux.HandleFunc("POST /api/sessions/{id}/submit", s.withSession(s.handleSubmit))
	s.mux.HandleFunc("POST /api/sessions/{id}/capture", s.withSession(s.handleCapture))
	s.mux.HandleFunc("POST /api/sessions/{id}/playback", s.withSession(s.handlePlayback))
	s.mux.HandleFunc("POST /api/sessions/{id}/clear", s.withSession(s.handleClear))
	s.mux.HandleFunc("POST /api/sessions/{id}/load", s.withSession(s.handleLoad))
	s.mux.HandleFunc("GET /api/sessions/{id}/ws", s.withSession(s.handleWebSocket))

	if d.Health != nil {
		d.Health.Register(s.mux)
	}
	if d.MetricsHandler != nil {
		s.mux.Handle("GET /metrics", d.MetricsHandler)
	}
	return s
}

// Handler returns the complete handler chain.
func (s *Server) Handler() http.Handler {
	return observe.Middleware(s.deps.Metrics)(s.cors(s.mux))
}

// cors answers preflight requests and sets the allow-origin header on
// responses to allowed origins.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
			if r.Method == http.MethodOptions {
				h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Content-Type, traceparent")
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	if len(s.origins) == 0 {
		return true
	}
	host := origin
	if _, after, ok := strings.Cut(origin, "://"); ok {
		host = after
	}
	for _, p := range s.origins {
		if matchHost(p, host) {
			return true
		}
	}
	return false
}

// message is the {"msg": ...} body the account and history routes answer
// with.
type message struct {
	Msg string `json:"msg"`
}

// apiError is the {"error": ...} body of the correction routes.
type apiError struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON reads r's body into v. An empty body leaves v untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// matchHost reports whether host matches pattern, case-insensitively.
func matchHost(pattern, host string) bool {
	ok, err := path.Match(strings.ToLower(pattern), strings.ToLower(host))
	return err == nil && ok
}
