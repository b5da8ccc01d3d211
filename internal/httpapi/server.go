package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/andresmarpz/sandcastle-sub001/internal/event"
	"github.com/andresmarpz/sandcastle-sub001/internal/hub"
)

type server struct {
	logger *log.Logger
	hub    *hub.Hub
}

const maxRequestBytes int64 = 1 << 20

func NewServer(logger *log.Logger, addr string, h *hub.Hub) *http.Server {
	s := &server{
		logger: logger,
		hub:    h,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /v1/sessions/{id}/messages", s.handleSendMessage)
	mux.HandleFunc("GET /v1/sessions/{id}/state", s.handleGetState)
	mux.HandleFunc("POST /v1/sessions/{id}/interrupt", s.handleInterrupt)
	mux.HandleFunc("DELETE /v1/sessions/{id}/queue/{messageID}", s.handleDequeue)
	mux.HandleFunc("DELETE /v1/sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("POST /v1/sessions/{id}/approvals/{approvalID}", s.handleApproval)
	mux.HandleFunc("GET /v1/sessions/{id}/events", s.handleEvents)

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type sendMessageBody struct {
	Content         string       `json:"content"`
	ClientMessageID string       `json:"client_message_id"`
	Parts           []event.Part `json:"parts,omitempty"`
}

func (s *server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	defer r.Body.Close()
	var body sendMessageBody
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		http.Error(w, fmt.Sprintf("invalid json: %v", err), http.StatusBadRequest)
		return
	}
	if dec.More() {
		http.Error(w, "invalid json: trailing content", http.StatusBadRequest)
		return
	}

	result, err := s.hub.SendMessage(r.Context(), sessionID, body.Content, body.ClientMessageID, body.Parts)
	if err != nil {
		switch {
		case errors.Is(err, hub.ErrEmptyMessage):
			http.Error(w, "message content is required", http.StatusBadRequest)
		case errors.Is(err, hub.ErrQueueFull):
			http.Error(w, "session queue full", http.StatusTooManyRequests)
		case errors.Is(err, hub.ErrShuttingDown):
			http.Error(w, "shutting down", http.StatusServiceUnavailable)
		default:
			s.logger.Printf("send message failed session_id=%s err=%v", sessionID, err)
			http.Error(w, "failed to accept message", http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusAccepted, result)
}

func (s *server) handleGetState(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	snap, err := s.hub.GetState(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, hub.ErrNotFound) {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		s.logger.Printf("get state failed session_id=%s err=%v", sessionID, err)
		http.Error(w, "failed to read state", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *server) handleInterrupt(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	interrupted, err := s.hub.Interrupt(r.Context(), sessionID)
	if err != nil {
		s.logger.Printf("interrupt failed session_id=%s err=%v", sessionID, err)
		http.Error(w, "interrupt failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"interrupted": interrupted})
}

func (s *server) handleDequeue(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	messageID := r.PathValue("messageID")

	removed, err := s.hub.DequeueMessage(r.Context(), sessionID, messageID)
	if err != nil {
		s.logger.Printf("dequeue failed session_id=%s message_id=%s err=%v", sessionID, messageID, err)
		http.Error(w, "dequeue failed", http.StatusInternalServerError)
		return
	}
	if !removed {
		http.Error(w, "queued message not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": true})
}

func (s *server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	if err := s.hub.DeleteSession(r.Context(), sessionID); err != nil {
		s.logger.Printf("delete session failed session_id=%s err=%v", sessionID, err)
		http.Error(w, "delete failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type approvalBody struct {
	Approved bool   `json:"approved"`
	Feedback string `json:"feedback"`
}

func (s *server) handleApproval(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	approvalID := r.PathValue("approvalID")

	defer r.Body.Close()
	var body approvalBody
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		http.Error(w, fmt.Sprintf("invalid json: %v", err), http.StatusBadRequest)
		return
	}

	approved, err := s.hub.RespondToApproval(r.Context(), sessionID, approvalID, body.Approved, body.Feedback)
	if err != nil {
		if errors.Is(err, hub.ErrNotFound) {
			http.Error(w, "approval not found", http.StatusNotFound)
			return
		}
		s.logger.Printf("approval failed session_id=%s approval_id=%s err=%v", sessionID, approvalID, err)
		http.Error(w, "approval failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"approved": approved})
}

// handleEvents upgrades to a websocket and streams the session's events:
// the initial state snapshot plus replay first, then the live tail.
func (s *server) handleEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	upgrader := websocket.Upgrader{CheckOrigin: isWebSocketOriginAllowed}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("events ws upgrade failed session_id=%s err=%v", sessionID, err)
		return
	}
	defer conn.Close()

	ctx := r.Context()
	sub, err := s.hub.Subscribe(ctx, sessionID)
	if err != nil {
		_ = conn.WriteJSON(map[string]any{"error": "subscribe failed"})
		return
	}

	// Drain client frames so pings and close frames are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				_ = conn.Close()
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub.Events():
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "subscription closed"),
					time.Now().Add(time.Second))
				return
			}
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func isWebSocketOriginAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	parsedOrigin, err := url.Parse(origin)
	if err != nil || strings.TrimSpace(parsedOrigin.Host) == "" {
		return false
	}
	return strings.EqualFold(parsedOrigin.Host, r.Host)
}
