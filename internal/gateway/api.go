// ABOUTME: HTTP handlers for session creation, pairing, status, send, and logout.
// ABOUTME: Translates controller errors into the JSON error taxonomy and status codes.

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/wamux/wamux/internal/session"
)

// CreateSessionRequest is the JSON request body for POST /create-session.
type CreateSessionRequest struct {
	SessionID string `json:"sessionId"`
}

// CreateSessionResponse is the JSON response for POST /create-session.
type CreateSessionResponse struct {
	Success   bool   `json:"success"`
	SessionID string `json:"sessionId"`
	Message   string `json:"message,omitempty"`
}

// SendMessageRequest is the JSON request body for POST /send-message/{sessionID}.
type SendMessageRequest struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

// SendMessageResponse is the JSON response for POST /send-message/{sessionID}.
type SendMessageResponse struct {
	Success  bool        `json:"success"`
	Response MessageInfo `json:"response"`
}

// MessageInfo describes the delivered message.
type MessageInfo struct {
	ID string `json:"id"`
}

// handleCreateSession handles POST /create-session.
// Creation is fire-and-forget: the adapter initializes asynchronously and
// the caller polls /status or subscribes to /ws to learn of readiness.
// Creating an id that already exists is an informational no-op.
func (g *Gateway) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.SessionID == "" {
		g.sendJSONError(w, http.StatusBadRequest, "sessionId is required")
		return
	}

	created, err := g.controller.Create(r.Context(), req.SessionID)
	if err != nil {
		g.logger.Error("create session failed", "session_id", req.SessionID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	resp := CreateSessionResponse{Success: true, SessionID: req.SessionID}
	if !created {
		resp.Message = "session already exists"
	}
	g.writeJSON(w, http.StatusOK, resp)
}

// handleQR handles GET /qr/{sessionID}. Rate limited per session.
func (g *Gateway) handleQR(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionID")

	if g.limiter != nil && !g.limiter.Allow(sessionID) {
		g.sendJSONError(w, http.StatusTooManyRequests,
			"too many qr requests for this session, retry in a minute")
		return
	}

	qr, err := g.controller.QR(sessionID)
	switch {
	case errors.Is(err, session.ErrNotFound):
		g.sendJSONError(w, http.StatusNotFound, "session not found")
		return
	case errors.Is(err, session.ErrNoQR):
		g.sendJSONError(w, http.StatusNotFound, "qr code not available yet")
		return
	case err != nil:
		g.logger.Error("qr lookup failed", "session_id", sessionID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.writeJSON(w, http.StatusOK, map[string]string{"qr": qr})
}

// handleStatus handles GET /status/{sessionID}.
func (g *Gateway) handleStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionID")

	ready, err := g.controller.Status(sessionID)
	if errors.Is(err, session.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		g.logger.Error("status lookup failed", "session_id", sessionID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.writeJSON(w, http.StatusOK, map[string]bool{"ready": ready})
}

// handleSendMessage handles POST /send-message/{sessionID}.
// The send blocks for the protocol round-trip; adapter failures surface
// as 500 without removing the session.
func (g *Gateway) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionID")

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	msgID, err := g.controller.Send(r.Context(), sessionID, req.Phone, req.Message)
	switch {
	case errors.Is(err, session.ErrNotFound):
		g.sendJSONError(w, http.StatusNotFound, "session not found")
		return
	case errors.Is(err, session.ErrNotReady):
		g.sendJSONError(w, http.StatusForbidden, "session not ready")
		return
	case errors.Is(err, session.ErrInvalidRecipient):
		g.sendJSONError(w, http.StatusBadRequest, "phone must contain only digits")
		return
	case err != nil:
		g.logger.Error("send message failed",
			"session_id", sessionID,
			"error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to send message")
		return
	}

	g.writeJSON(w, http.StatusOK, SendMessageResponse{
		Success:  true,
		Response: MessageInfo{ID: msgID},
	})
}

// handleLogout handles GET /logout/{sessionID}. A teardown failure keeps
// the session registered so the caller can retry.
func (g *Gateway) handleLogout(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionID")

	err := g.controller.Logout(r.Context(), sessionID)
	switch {
	case errors.Is(err, session.ErrNotFound):
		g.sendJSONError(w, http.StatusNotFound, "session not found")
		return
	case err != nil:
		g.logger.Error("logout failed", "session_id", sessionID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to log out session")
		return
	}

	g.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleListSessions handles GET /sessions.
func (g *Gateway) handleListSessions(w http.ResponseWriter, r *http.Request) {
	g.writeJSON(w, http.StatusOK, map[string][]session.Info{
		"sessions": g.controller.List(),
	})
}

// handleHealth handles GET /healthz.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	g.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Error("encoding response failed", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": message}); err != nil {
		g.logger.Error("encoding error response failed", "error", err)
	}
}
