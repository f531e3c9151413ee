// Package a2a implements the Agent-to-Agent JSON-RPC 2.0 channel adapter.
package a2a

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/itlackey/openpalm/pkg/openpalm/channels"
	"github.com/itlackey/openpalm/pkg/openpalm/payload"
)

// AgentCard describes the well-known agent card served at
// /.well-known/agent.json.
type AgentCard struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	URL         string   `json:"url"`
	Version     string   `json:"version"`
	Skills      []string `json:"skills"`
}

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  rpcParams       `json:"params"`
}

type rpcParams struct {
	ID       string         `json:"id"`
	Message  rpcMessage     `json:"message"`
	Metadata map[string]any `json:"metadata"`
}

type rpcMessage struct {
	Parts []rpcPart `json:"parts"`
}

type rpcPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// protocolHint threads the JSON-RPC id and task id through to the reply.
type protocolHint struct {
	RPCID  json.RawMessage
	TaskID string
}

// Handler implements channels.Handler for the A2A JSON-RPC surface.
type Handler struct {
	Card AgentCard
}

func New(card AgentCard) *Handler { return &Handler{Card: card} }

// ServeAgentCard serves GET /.well-known/agent.json. Wire this separately
// from the signed-payload mux, since it never reaches the guardian.
func (h *Handler) ServeAgentCard(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(h.Card)
}

func (h *Handler) Handle(r *http.Request) channels.HandlerResult {
	if r.Method != http.MethodPost {
		return rpcErrResult(nil, -32600, "method not allowed")
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return rpcErrResult(nil, -32700, "failed to read body")
	}
	var req rpcRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return rpcErrResult(nil, -32700, "parse error")
	}
	if req.Method != "tasks/send" {
		return rpcErrResult(req.ID, -32601, "method not found")
	}

	text := joinText(req.Params.Message.Parts)
	if text == "" {
		return rpcErrResult(req.ID, -32602, "invalid params: empty message")
	}

	taskID := req.Params.ID
	if taskID == "" {
		taskID = uuidLike(req.ID)
	}

	metadata := map[string]any{"rpcId": string(req.ID), "taskId": taskID}
	for k, v := range req.Params.Metadata {
		metadata[k] = v
	}

	userID, _ := metadata["userId"].(string)
	if userID == "" {
		userID = "a2a-client"
	}

	return channels.HandlerResult{
		OK: true,
		Payload: payload.SignedChannelPayload{
			UserID:   userID,
			Channel:  "a2a",
			Text:     text,
			Metadata: metadata,
		},
		ProtocolHint: protocolHint{RPCID: req.ID, TaskID: taskID},
	}
}

func joinText(parts []rpcPart) string {
	var out string
	for i, p := range parts {
		if p.Type != "text" {
			continue
		}
		if i > 0 && out != "" {
			out += "\n"
		}
		out += p.Text
	}
	return out
}

func uuidLike(rpcID json.RawMessage) string {
	if len(rpcID) == 0 {
		return "task"
	}
	return "task-" + string(rpcID)
}

func rpcErrResult(id json.RawMessage, code int, message string) channels.HandlerResult {
	return channels.HandlerResult{
		OK:     false,
		Status: http.StatusOK, // JSON-RPC reports errors in-body, not via HTTP status
		Body: map[string]any{
			"jsonrpc": "2.0",
			"id":      rawOrNull(id),
			"error":   map[string]any{"code": code, "message": message},
		},
	}
}

func rawOrNull(id json.RawMessage) any {
	if len(id) == 0 {
		return nil
	}
	var v any
	_ = json.Unmarshal(id, &v)
	return v
}

func (h *Handler) WriteReply(w http.ResponseWriter, hint any, answer, requestID, sessionID, userID string) {
	ph, _ := hint.(protocolHint)
	resp := map[string]any{
		"jsonrpc": "2.0",
		"id":      rawOrNull(ph.RPCID),
		"result": map[string]any{
			"id":     ph.TaskID,
			"status": map[string]any{"state": "completed"},
			"artifacts": []map[string]any{
				{"parts": []map[string]any{{"type": "text", "text": answer}}},
			},
		},
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) WriteUpstreamError(w http.ResponseWriter, hint any, status int, reason string) {
	ph, _ := hint.(protocolHint)
	writeJSON(w, http.StatusOK, map[string]any{
		"jsonrpc": "2.0",
		"id":      rawOrNull(ph.RPCID),
		"error":   map[string]any{"code": -32000, "message": reason},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
