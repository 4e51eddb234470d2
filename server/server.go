// Package server exposes the admin console HTTP API: agent records and the
// tool configuration sessions the browser front-end drives.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/aviary-labs/voxadmin/toolcfg"
)

// SaveObserver receives save outcomes for instrumentation.
type SaveObserver interface {
	ObserveSave(kind toolcfg.Kind, err error)
}

// ServerConfig configures a Server instance.
type ServerConfig struct {
	Store          AgentStore
	Gateway        toolcfg.Gateway
	Sessions       *SessionManager
	WebhookBaseURL string
	SaveObserver   SaveObserver
	CORSOrigin     string
	MaxBody        int64
	Logger         *slog.Logger
}

// Server is the admin console HTTP API server.
type Server struct {
	store          AgentStore
	gateway        toolcfg.Gateway
	sessions       *SessionManager
	webhookBaseURL string
	saveObserver   SaveObserver
	corsOrigin     string
	maxBody        int64
	logger         *slog.Logger
}

// NewServer creates a new Server with the given configuration.
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	corsOrigin := cfg.CORSOrigin
	if corsOrigin == "" {
		corsOrigin = "*"
	}
	maxBody := cfg.MaxBody
	if maxBody <= 0 {
		maxBody = 1 << 20 // 1 MB default
	}
	sessions := cfg.Sessions
	if sessions == nil {
		sessions = NewSessionManager(DefaultSessionTTL)
	}
	return &Server{
		store:          cfg.Store,
		gateway:        cfg.Gateway,
		sessions:       sessions,
		webhookBaseURL: cfg.WebhookBaseURL,
		saveObserver:   cfg.SaveObserver,
		corsOrigin:     corsOrigin,
		maxBody:        maxBody,
		logger:         logger,
	}
}

// Sessions exposes the session manager for lifecycle wiring (expiry sweeps).
func (s *Server) Sessions() *SessionManager {
	return s.sessions
}

// Handler returns an http.Handler with all routes and middleware wired.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	var handler http.Handler = mux
	handler = s.corsMiddleware(handler)
	handler = s.maxBodyMiddleware(handler)

	return handler
}

// RegisterRoutes mounts console API routes onto an existing mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("GET /api/agents", s.handleListAgents)
	mux.HandleFunc("POST /api/agents", s.handleCreateAgent)
	mux.HandleFunc("GET /api/agents/{id}", s.handleGetAgent)
	mux.HandleFunc("PUT /api/agents/{id}", s.handleUpdateAgent)
	mux.HandleFunc("DELETE /api/agents/{id}", s.handleDeleteAgent)

	mux.HandleFunc("GET /api/agents/{id}/tool-options", s.handleToolOptions)
	mux.HandleFunc("DELETE /api/agents/{id}/tools/{tool_id}", s.handleDetachTool)
	mux.HandleFunc("DELETE /api/agents/{id}/built-ins/{system_type}", s.handleRemoveBuiltIn)

	mux.HandleFunc("POST /api/agents/{id}/sessions", s.handleOpenSession)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("POST /api/sessions/{id}/variant", s.handleSelectVariant)
	mux.HandleFunc("PUT /api/sessions/{id}/fields", s.handleUpdateFields)
	mux.HandleFunc("POST /api/sessions/{id}/save", s.handleSaveSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleCloseSession)

	mux.HandleFunc("GET /api/sample-schema", s.handleSampleSchema)
}

// --- Middleware ---

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.corsOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) maxBodyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
		next.ServeHTTP(w, r)
	})
}

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// apiError is the standard error envelope.
type apiError struct {
	Error apiErrorBody `json:"error"`
}

type apiErrorBody struct {
	Code        string               `json:"code"`
	Message     string               `json:"message"`
	Diagnostics []toolcfg.Diagnostic `json:"diagnostics,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, message string, diags ...toolcfg.Diagnostic) {
	body := apiError{
		Error: apiErrorBody{
			Code:    code,
			Message: message,
		},
	}
	if len(diags) > 0 {
		body.Error.Diagnostics = diags
	}
	writeJSON(w, status, body)
}
