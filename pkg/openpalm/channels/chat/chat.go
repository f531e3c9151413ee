// Package chat implements the generic signed-payload webhook adapter
// (POST /inbound), the simplest possible channel adapter shape.
package chat

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/itlackey/openpalm/pkg/openpalm/channels"
	"github.com/itlackey/openpalm/pkg/openpalm/payload"
)

type inboundRequest struct {
	UserID   string         `json:"userId"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata"`
}

// Handler implements channels.Handler for the generic webhook surface.
type Handler struct{}

func New() *Handler { return &Handler{} }

func (h *Handler) Handle(r *http.Request) channels.HandlerResult {
	if r.Method != http.MethodPost {
		return errResult(http.StatusMethodNotAllowed, "method not allowed")
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return errResult(http.StatusBadRequest, "failed to read body")
	}
	var req inboundRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return errResult(http.StatusBadRequest, "invalid request body")
	}
	if req.UserID == "" || req.Text == "" {
		return errResult(http.StatusBadRequest, "userId and text are required")
	}

	return channels.HandlerResult{
		OK: true,
		Payload: payload.SignedChannelPayload{
			UserID:   req.UserID,
			Channel:  "chat",
			Text:     req.Text,
			Metadata: req.Metadata,
		},
	}
}

func errResult(status int, msg string) channels.HandlerResult {
	return channels.HandlerResult{OK: false, Status: status, Body: map[string]any{"error": msg}}
}

func (h *Handler) WriteReply(w http.ResponseWriter, hint any, answer, requestID, sessionID, userID string) {
	writeJSON(w, http.StatusOK, map[string]any{
		"answer":    answer,
		"requestId": requestID,
		"sessionId": sessionID,
		"userId":    userID,
	})
}

func (h *Handler) WriteUpstreamError(w http.ResponseWriter, hint any, status int, reason string) {
	writeJSON(w, status, map[string]any{"error": reason})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
