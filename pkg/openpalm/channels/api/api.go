// Package api implements the OpenAI-compatible channel adapter
// (POST /v1/chat/completions).
package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/itlackey/openpalm/pkg/openpalm/channels"
	"github.com/itlackey/openpalm/pkg/openpalm/payload"
)

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Handler implements channels.Handler for the OpenAI-compatible surface.
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
	var req chatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return errResult(http.StatusBadRequest, "invalid request body")
	}

	text, ok := lastUserText(req.Messages)
	if !ok || strings.TrimSpace(text) == "" {
		return errResult(http.StatusBadRequest, "messages must include a non-empty user message")
	}

	model := req.Model
	if model == "" {
		model = "default"
	}
	userID := r.Header.Get("X-Session-ID")
	if userID == "" {
		userID = "api-client"
	}

	return channels.HandlerResult{
		OK: true,
		Payload: payload.SignedChannelPayload{
			UserID:   userID,
			Channel:  "api",
			Text:     text,
			Metadata: map[string]any{"model": model},
		},
		ProtocolHint: model,
	}
}

// lastUserText scans messages newest-to-oldest, accepting the first entry
// with role="user" and either a string content or an array of {type:"text"}
// parts joined with newlines.
func lastUserText(msgs []chatMessage) (string, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m.Role != "user" {
			continue
		}
		var s string
		if err := json.Unmarshal(m.Content, &s); err == nil {
			return s, true
		}
		var parts []contentPart
		if err := json.Unmarshal(m.Content, &parts); err == nil {
			var b strings.Builder
			for j, p := range parts {
				if p.Type != "text" {
					continue
				}
				if j > 0 && b.Len() > 0 {
					b.WriteString("\n")
				}
				b.WriteString(p.Text)
			}
			return b.String(), true
		}
		return "", false
	}
	return "", false
}

func errResult(status int, msg string) channels.HandlerResult {
	return channels.HandlerResult{
		OK:     false,
		Status: status,
		Body:   map[string]any{"error": map[string]any{"message": msg, "type": "invalid_request_error"}},
	}
}

func (h *Handler) WriteReply(w http.ResponseWriter, hint any, answer, requestID, sessionID, userID string) {
	model, _ := hint.(string)
	resp := map[string]any{
		"id":      "chatcmpl-" + uuid.NewString(),
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   model,
		"choices": []map[string]any{
			{
				"index": 0,
				"message": map[string]any{
					"role":    "assistant",
					"content": answer,
				},
				"finish_reason": "stop",
			},
		},
		"usage": map[string]any{
			"prompt_tokens":     0,
			"completion_tokens": 0,
			"total_tokens":      0,
		},
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) WriteUpstreamError(w http.ResponseWriter, hint any, status int, reason string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{"message": reason, "type": "upstream_error"},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
