// ABOUTME: HTTP handlers for the relay's five endpoints
// ABOUTME: SSE event streams, message forwarding, internal push, and the Telegram relay

package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/vargolabs/archie-relay/internal/auth"
)

// messageRequest is the JSON request body for POST /message.
type messageRequest struct {
	Message        string `json:"message"`
	UseCompletions bool   `json:"useCompletions"`
	SystemPrompt   string `json:"systemPrompt"`
}

// messageResponse is the JSON response for POST /message.
type messageResponse struct {
	Status string          `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
	Reply  string          `json:"reply,omitempty"`
}

// pushRequest is the JSON request body for POST /push and /relay/vargo.
type pushRequest struct {
	Message string `json:"message"`
}

// pushEvent is broadcast verbatim to every open event stream.
type pushEvent struct {
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// streamBufferSize is the per-connection event buffer. A stream that
// falls this far behind starts dropping events.
const streamBufferSize = 64

// handleEvents handles GET /events. It registers the caller as a live
// stream and serves broadcasts plus keep-alive comments until the
// client disconnects or a write fails.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	// All writes to w happen on this goroutine; emits go through the
	// buffered channel so broadcasts never block on a slow client.
	events := make(chan string, streamBufferSize)
	id := s.registry.Register(func(payload string) error {
		select {
		case events <- payload:
			return nil
		default:
			return errors.New("stream buffer full")
		}
	})
	defer s.registry.Unregister(id)

	var email string
	if ident := auth.FromContext(r.Context()); ident != nil {
		email = ident.Email
	}
	s.logger.Info("event stream opened", "conn_id", id, "identity", email)
	defer s.logger.Info("event stream closed", "conn_id", id)

	if _, err := io.WriteString(w, ": connected\n\n"); err != nil {
		return
	}
	flusher.Flush()

	keepAlive := time.NewTicker(s.keepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case <-keepAlive.C:
			if _, err := io.WriteString(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()

		case payload := <-events:
			if _, err := io.WriteString(w, "data: "+payload+"\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// handleMessage handles POST /message by forwarding to the backend.
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow() {
		s.writeError(w, http.StatusTooManyRequests, "rate limited")
		return
	}

	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		s.writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	if req.UseCompletions {
		reply, err := s.backend.Complete(r.Context(), req.Message, req.SystemPrompt)
		if err != nil {
			s.logger.Error("completion failed", "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to communicate with backend")
			return
		}
		s.writeJSON(w, http.StatusOK, messageResponse{Status: "success", Reply: reply})
		return
	}

	result, err := s.backend.Send(r.Context(), req.Message)
	if err != nil {
		s.logger.Error("message forward failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to communicate with backend")
		return
	}
	s.writeJSON(w, http.StatusOK, messageResponse{Status: "success", Result: result})
}

// handlePush handles POST /push from the trusted local backend process.
// The payload is stamped and broadcast to every open event stream.
func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	var req pushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		s.writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	payload, err := json.Marshal(pushEvent{
		Message:   req.Message,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.registry.Broadcast(string(payload))
	s.logger.Debug("push broadcast", "streams", s.registry.Count())

	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handleRelay handles POST /relay/vargo, forwarding to Telegram.
func (s *Server) handleRelay(w http.ResponseWriter, r *http.Request) {
	if !s.relay.Configured() {
		s.writeError(w, http.StatusInternalServerError, "relay not configured")
		return
	}

	var req pushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		s.writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	if err := s.relay.Relay(r.Context(), req.Message); err != nil {
		s.logger.Error("relay failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to relay message")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

// handleHealth handles GET /healthz.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"connections": s.registry.Count(),
	})
}

// writeJSON writes a JSON response with the given status.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to write response", "error", err)
	}
}

// writeError writes a structured JSON error body. Messages are generic;
// internal detail never leaves the process.
func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
