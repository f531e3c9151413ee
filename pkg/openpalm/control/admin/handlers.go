package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// mutation wraps a handler body that may fail, capturing requestId/actor/
// callerType and auditing the outcome whether it succeeds or fails. fn returns the HTTP status and response body to write, or an
// error to report as a 500 with the error's message as reason.
func (s *Server) mutation(w http.ResponseWriter, r *http.Request, action string, fn func(ctx context.Context) (int, any, error)) {
	requestID := uuid.NewString()
	actor, callerType := actorFrom(r)
	w.Header().Set("x-request-id", requestID)

	status, body, err := fn(r.Context())

	event := map[string]any{
		"requestId":  requestID,
		"actor":      actor,
		"callerType": callerType,
		"action":     action,
		"ok":         err == nil,
	}
	if err != nil {
		event["error"] = err.Error()
	}
	s.audit.Record(event)

	if s.syncHook != nil && err == nil {
		hookCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if hookErr := s.syncHook(hookCtx, action); hookErr != nil {
			s.audit.Record(map[string]any{
				"requestId": requestID,
				"action":    "sync_hook",
				"ok":        false,
				"error":     hookErr.Error(),
			})
		}
		cancel()
	}

	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"requestId": requestID, "error": err.Error()})
		return
	}
	writeJSON(w, status, body)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"service": "admin",
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// handleSetup sets the admin token on first boot, or requires the current
// token thereafter (enforced by the authenticate middleware — by the time
// this runs past that gate with a non-empty current token, the caller
// already proved they hold it).
func (s *Server) handleSetup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method_not_allowed"})
		return
	}
	var req struct {
		AdminToken string `json:"adminToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_json"})
		return
	}
	if req.AdminToken == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "admin_token_missing"})
		return
	}

	s.mutation(w, r, "setup", func(ctx context.Context) (int, any, error) {
		if err := s.tokens.SetToken(req.AdminToken); err != nil {
			return 0, nil, err
		}
		return http.StatusOK, map[string]string{"status": "ok"}, nil
	})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	reader, ok := s.audit.(interface{ Events() ([]map[string]any, error) })
	if !ok {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "audit_read_unsupported"})
		return
	}
	events, err := reader.Events()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	limit := len(events)
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 && n < limit {
			limit = n
		}
	}
	if limit < len(events) {
		events = events[len(events)-limit:]
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleAutomations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method_not_allowed"})
		return
	}
	writeJSON(w, http.StatusOK, s.automations.List())
}

func (s *Server) handleAutomationByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/automations/")
	name, action, hasAction := strings.Cut(rest, "/")

	if hasAction && action == "run" {
		if r.Method != http.MethodPost {
			writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method_not_allowed"})
			return
		}
		s.mutation(w, r, "automation.run", func(ctx context.Context) (int, any, error) {
			if err := s.automations.RunNow(name); err != nil {
				return 0, nil, err
			}
			return http.StatusOK, map[string]string{"status": "triggered"}, nil
		})
		return
	}

	switch r.Method {
	case http.MethodGet:
		a, ok := s.automations.Get(name)
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"automation": a,
			"log":        s.automations.ExecutionLog(name),
		})
	case http.MethodPatch:
		s.handleAutomationPatch(w, r, name)
	case http.MethodDelete:
		s.handleAutomationDelete(w, r, name)
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method_not_allowed"})
	}
}

func (s *Server) handleChannelInstall(w http.ResponseWriter, r *http.Request) {
	s.channelMutation(w, r, "channels.install", s.channels.Install)
}

func (s *Server) handleChannelUninstall(w http.ResponseWriter, r *http.Request) {
	s.channelMutation(w, r, "channels.uninstall", s.channels.Uninstall)
}

func (s *Server) channelMutation(w http.ResponseWriter, r *http.Request, action string, fn func(ctx context.Context, channel string) error) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method_not_allowed"})
		return
	}
	var req struct {
		Channel string `json:"channel"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Channel == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "channel_missing"})
		return
	}

	s.mutation(w, r, action, func(ctx context.Context) (int, any, error) {
		if err := fn(ctx, req.Channel); err != nil {
			return 0, nil, err
		}
		return http.StatusOK, map[string]string{"status": "ok", "channel": req.Channel}, nil
	})
}

func (s *Server) handleArtifactsManifest(w http.ResponseWriter, r *http.Request) {
	data, err := s.artifacts.Manifest()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

func (s *Server) handleArtifactByName(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/artifacts/")
	if name == "" || name == "manifest" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "artifact_name_missing"})
		return
	}
	data, err := s.artifacts.Artifact(name)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found"})
		return
	}
	_, _ = w.Write(data)
}

func (s *Server) handleSpec(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method_not_allowed"})
		return
	}
	spec, err := s.spec.Load()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, spec)
}
