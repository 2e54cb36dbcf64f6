// Package server exposes the HTTP ingest boundary: audio packets in,
// session control, and the usual ops endpoints.
//
// The audio source — a device relay or mobile client — posts base64-encoded
// compressed packets addressed to a session identifier. The first packet for
// an identifier creates the session.
package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/auricle-audio/auricle/internal/health"
	"github.com/auricle-audio/auricle/internal/observe"
	"github.com/auricle-audio/auricle/internal/session"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// maxPacketBytes bounds one ingest request body. Device packets are a few
// hundred bytes; anything near this limit is a misbehaving client.
const maxPacketBytes = 1 << 20

// Server routes ingest and ops HTTP traffic onto a session Registry.
type Server struct {
	registry *session.Registry
	health   *health.Handler
}

// New creates a Server over the given registry and health handler.
func New(registry *session.Registry, h *health.Handler) *Server {
	return &Server{registry: registry, health: h}
}

// Handler returns the fully routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /stream/audio", s.handleAudio)
	mux.HandleFunc("POST /sessions/{id}/flush", s.handleFlush)
	mux.HandleFunc("DELETE /sessions/{id}", s.handleDisconnect)
	mux.HandleFunc("GET /sessions", s.handleList)
	mux.Handle("GET /metrics", promhttp.Handler())
	s.health.Register(mux)

	return observe.Middleware(observe.DefaultMetrics())(mux)
}

// audioRequest is the ingest body posted by the audio source.
type audioRequest struct {
	// AudioData is the base64-encoded compressed audio packet.
	AudioData string `json:"audioData"`

	// SessionID addresses the packet to a session.
	SessionID string `json:"sessionId"`
}

func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	var req audioRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPacketBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "sessionId is required")
		return
	}
	packet, err := base64.StdEncoding.DecodeString(req.AudioData)
	if err != nil {
		writeError(w, http.StatusBadRequest, "audioData is not valid base64")
		return
	}

	sess, err := s.registry.GetOrCreate(req.SessionID)
	if err != nil {
		observe.Logger(r.Context()).Error("server: session creation failed",
			"session_id", req.SessionID,
			"err", err,
		)
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	if err := sess.HandleAudio(r.Context(), packet); err != nil {
		if errors.Is(err, session.ErrTerminated) {
			// The session is gone; the caller must start a new one.
			writeError(w, http.StatusGone, "session terminated after repeated upstream failures")
			return
		}
		observe.Logger(r.Context()).Warn("server: audio packet not delivered upstream",
			"session_id", req.SessionID,
			"err", err,
		)
		writeError(w, http.StatusBadGateway, "upstream delivery failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleFlush(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess := s.registry.Get(id)
	if sess == nil {
		writeError(w, http.StatusNotFound, "no such session")
		return
	}
	text := sess.Flush()
	writeJSON(w, http.StatusOK, map[string]string{"text": text})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.registry.Remove(id, "disconnect") {
		writeError(w, http.StatusNotFound, "no such session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.List())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
