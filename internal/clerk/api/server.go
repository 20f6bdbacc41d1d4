// Package api exposes the assistant and the execution engine over a small
// JSON HTTP surface.
//
// Routes:
//
//	POST   /v1/messages                 — handle a chat message
//	POST   /v1/executions/{id}/confirm  — confirm or reject a pending action
//	GET    /v1/executions/{id}          — fetch an execution
//	DELETE /v1/executions/{id}          — cancel a not-yet-executing action
//	GET    /v1/stats                    — execution statistics
//	GET    /healthz                     — liveness
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bitmerchant/clerk/common/trace"
	"github.com/bitmerchant/clerk/internal/clerk/assistant"
	"github.com/bitmerchant/clerk/internal/clerk/engine"
	"github.com/bitmerchant/clerk/internal/clerk/safety"
)

// maxBodyBytes caps request bodies; chat messages are short.
const maxBodyBytes = 64 * 1024

// Server handles the HTTP routes.
type Server struct {
	assistant *assistant.Assistant
	engine    *engine.Engine
	store     safety.StoreInfo
	perms     map[string]struct{}
}

// New creates a Server. perms is the permission grant applied to every
// request; the API carries no user directory of its own.
func New(a *assistant.Assistant, eng *engine.Engine, store safety.StoreInfo, perms []string) *Server {
	return &Server{
		assistant: a,
		engine:    eng,
		store:     store,
		perms:     safety.Permissions(perms...),
	}
}

// Handler returns the routed handler with tracing and logging applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/messages", s.handleMessage)
	mux.HandleFunc("POST /v1/executions/{id}/confirm", s.handleConfirm)
	mux.HandleFunc("GET /v1/executions/{id}", s.handleGet)
	mux.HandleFunc("DELETE /v1/executions/{id}", s.handleCancel)
	mux.HandleFunc("GET /v1/stats", s.handleStats)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return s.withTrace(mux)
}

// withTrace attaches a trace ID to every request (honouring an incoming
// X-Trace-ID) and logs the request line.
func (s *Server) withTrace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Trace-ID")
		if id == "" {
			id = trace.GenerateID()
		}
		ctx := trace.WithTraceID(r.Context(), id)
		w.Header().Set("X-Trace-ID", id)

		start := time.Now()
		next.ServeHTTP(w, r.WithContext(ctx))
		slog.Info("http request",
			"method", r.Method, "path", r.URL.Path,
			"trace_id", id, "duration", time.Since(start))
	})
}

// messageRequest is the body of POST /v1/messages.
type messageRequest struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.UserID == "" {
		s.writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	reply, err := s.assistant.HandleMessage(r.Context(), req.Message, safety.ExecutionContext{
		UserID:      req.UserID,
		SessionID:   req.SessionID,
		Store:       s.store,
		Permissions: s.perms,
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "internal error")
		slog.Error("handle message", "err", err, "trace_id", trace.FromContext(r.Context()))
		return
	}
	s.writeJSON(w, http.StatusOK, reply)
}

// confirmRequest is the body of POST /v1/executions/{id}/confirm.
type confirmRequest struct {
	Confirmed bool `json:"confirmed"`
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if !s.decode(w, r, &req) {
		return
	}

	reply, err := s.assistant.Confirm(r.Context(), r.PathValue("id"), req.Confirmed)
	if errors.Is(err, engine.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "execution not found")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "internal error")
		slog.Error("confirm execution", "err", err)
		return
	}
	s.writeJSON(w, http.StatusOK, reply)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	ex, err := s.engine.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, engine.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "execution not found")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "internal error")
		slog.Error("get execution", "err", err)
		return
	}
	s.writeJSON(w, http.StatusOK, ex)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	cancelled, err := s.engine.Cancel(r.Context(), r.PathValue("id"))
	if errors.Is(err, engine.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "execution not found")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "internal error")
		slog.Error("cancel execution", "err", err)
		return
	}
	if !cancelled {
		s.writeError(w, http.StatusConflict, "execution can no longer be cancelled")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"cancelled": true})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.Stats(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "internal error")
		slog.Error("execution stats", "err", err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decode reads a JSON body into v, replying 400 on malformed input.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		msg := "malformed JSON body"
		if strings.Contains(err.Error(), "request body too large") {
			msg = "request body too large"
		}
		s.writeError(w, http.StatusBadRequest, msg)
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "err", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
