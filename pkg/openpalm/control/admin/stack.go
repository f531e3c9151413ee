package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/itlackey/openpalm/pkg/openpalm/control/automation"
	"github.com/itlackey/openpalm/pkg/openpalm/control/secrets"
	"github.com/itlackey/openpalm/pkg/openpalm/control/spec"
)

// connectionKeys is the allow-list for POST /connections: only these keys
// may be written into the secrets file through the connections surface.
// Everything else requires the bulk secrets editor.
var connectionKeys = map[string]bool{
	"DISCORD_BOT_TOKEN":    true,
	"TELEGRAM_BOT_TOKEN":   true,
	"ASSISTANT_URL":        true,
	"ASSISTANT_BASIC_AUTH": true,
	"OPENMEMORY_URL":       true,
	"OPENMEMORY_API_KEY":   true,
	"OPENAI_API_KEY":       true,
	"ANTHROPIC_API_KEY":    true,
}

// handleStackInstall re-renders and stages artifacts from the current spec,
// then brings the whole stack up.
func (s *Server) handleStackInstall(w http.ResponseWriter, r *http.Request) {
	s.stackApply(w, r, "install")
}

// handleStackUpdate is install's idempotent sibling: re-stage and re-up the
// already-installed stack after a spec or template change.
func (s *Server) handleStackUpdate(w http.ResponseWriter, r *http.Request) {
	s.stackApply(w, r, "update")
}

func (s *Server) stackApply(w http.ResponseWriter, r *http.Request, action string) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method_not_allowed"})
		return
	}
	if s.stager == nil || s.runtime == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "stack_ops_unsupported"})
		return
	}

	s.mutation(w, r, action, func(ctx context.Context) (int, any, error) {
		current, err := s.spec.Load()
		if err != nil {
			return 0, nil, fmt.Errorf("loading spec: %w", err)
		}
		if err := s.stager.Stage(ctx, current); err != nil {
			return 0, nil, fmt.Errorf("staging artifacts: %w", err)
		}
		if err := s.runtime.UpAll(ctx); err != nil {
			return 0, nil, fmt.Errorf("starting stack: %w", err)
		}
		return http.StatusOK, map[string]string{"status": "ok"}, nil
	})
}

func (s *Server) handleStackUninstall(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method_not_allowed"})
		return
	}
	if s.runtime == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "stack_ops_unsupported"})
		return
	}

	s.mutation(w, r, "uninstall", func(ctx context.Context) (int, any, error) {
		if err := s.runtime.Down(ctx); err != nil {
			return 0, nil, fmt.Errorf("stopping stack: %w", err)
		}
		return http.StatusOK, map[string]string{"status": "ok"}, nil
	})
}

func (s *Server) handleContainersList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method_not_allowed"})
		return
	}
	if s.runtime == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "stack_ops_unsupported"})
		return
	}
	containers, err := s.runtime.List(r.Context())
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"containers": containers})
}

func (s *Server) handleContainerUp(w http.ResponseWriter, r *http.Request) {
	s.containerMutation(w, r, "containers.up", func(ctx context.Context, service string) error {
		if service == "" {
			return s.runtime.UpAll(ctx)
		}
		return s.runtime.Up(ctx, service)
	})
}

func (s *Server) handleContainerDown(w http.ResponseWriter, r *http.Request) {
	s.containerMutation(w, r, "containers.down", func(ctx context.Context, service string) error {
		if service == "" {
			return s.runtime.Down(ctx)
		}
		return s.runtime.Stop(ctx, service)
	})
}

func (s *Server) handleContainerRestart(w http.ResponseWriter, r *http.Request) {
	s.containerMutation(w, r, "containers.restart", func(ctx context.Context, service string) error {
		if service == "" {
			return fmt.Errorf("service_missing")
		}
		return s.runtime.Restart(ctx, service)
	})
}

func (s *Server) containerMutation(w http.ResponseWriter, r *http.Request, action string, fn func(ctx context.Context, service string) error) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method_not_allowed"})
		return
	}
	if s.runtime == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "stack_ops_unsupported"})
		return
	}

	var req struct {
		Service string `json:"service"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	s.mutation(w, r, action, func(ctx context.Context) (int, any, error) {
		if err := fn(ctx, req.Service); err != nil {
			return 0, nil, err
		}
		return http.StatusOK, map[string]string{"status": "ok", "service": req.Service}, nil
	})
}

// handleConnections merges allow-listed connection credentials into the
// secrets file, preserving its structure. A single disallowed key rejects
// the whole request before anything is written.
func (s *Server) handleConnections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method_not_allowed"})
		return
	}
	if s.secretsFile == "" {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "connections_unsupported"})
		return
	}

	var req map[string]string
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_json"})
		return
	}
	for key := range req {
		if !connectionKeys[key] {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "key_not_allowed", "key": key})
			return
		}
	}

	s.mutation(w, r, "connections", func(ctx context.Context) (int, any, error) {
		updates := make([]secrets.Update, 0, len(req))
		for key, value := range req {
			updates = append(updates, secrets.Update{Key: key, Value: value, Uncomment: true})
		}

		s.secretsMu.Lock()
		defer s.secretsMu.Unlock()

		raw, err := os.ReadFile(s.secretsFile)
		if err != nil && !os.IsNotExist(err) {
			return 0, nil, fmt.Errorf("reading secrets file: %w", err)
		}
		merged, err := secrets.Merge(string(raw), updates, "connections")
		if err != nil {
			return 0, nil, err
		}
		if err := os.WriteFile(s.secretsFile, []byte(merged), 0o600); err != nil {
			return 0, nil, fmt.Errorf("writing secrets file: %w", err)
		}
		return http.StatusOK, map[string]any{"status": "ok", "updated": len(updates)}, nil
	})
}

// automationUpdate is the PATCH /automations/{id} request body; it carries
// the full descriptor, which is rewritten as the file's new content.
type automationUpdate struct {
	Name        string      `json:"name" yaml:"name"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
	Schedule    string      `json:"schedule" yaml:"schedule"`
	Timezone    string      `json:"timezone,omitempty" yaml:"timezone,omitempty"`
	Enabled     bool        `json:"enabled" yaml:"enabled"`
	Action      spec.Action `json:"action" yaml:"action"`
	OnFailure   string      `json:"on_failure,omitempty" yaml:"on_failure,omitempty"`
}

// validAutomationFile guards the {id} path segment against traversal: it
// must be a bare *.yml file name.
func validAutomationFile(name string) bool {
	return name != "" &&
		strings.HasSuffix(name, ".yml") &&
		filepath.Base(name) == name &&
		!strings.ContainsAny(name, "/\\")
}

func (s *Server) handleAutomationPatch(w http.ResponseWriter, r *http.Request, name string) {
	if s.automationsDir == "" || s.reloadAutomations == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "automation_edit_unsupported"})
		return
	}
	if !validAutomationFile(name) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_automation_id"})
		return
	}

	var req automationUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_json"})
		return
	}
	if err := automation.ValidateSchedule(req.Schedule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	s.mutation(w, r, "automation.update", func(ctx context.Context) (int, any, error) {
		data, err := yaml.Marshal(req)
		if err != nil {
			return 0, nil, fmt.Errorf("marshaling automation: %w", err)
		}
		if err := os.WriteFile(filepath.Join(s.automationsDir, name), data, 0o644); err != nil {
			return 0, nil, fmt.Errorf("writing automation: %w", err)
		}
		if err := s.reloadAutomations(); err != nil {
			return 0, nil, fmt.Errorf("reloading scheduler: %w", err)
		}
		return http.StatusOK, map[string]string{"status": "ok", "automation": name}, nil
	})
}

func (s *Server) handleAutomationDelete(w http.ResponseWriter, r *http.Request, name string) {
	if s.automationsDir == "" || s.reloadAutomations == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "automation_edit_unsupported"})
		return
	}
	if !validAutomationFile(name) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_automation_id"})
		return
	}
	if _, ok := s.automations.Get(name); !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found"})
		return
	}

	s.mutation(w, r, "automation.delete", func(ctx context.Context) (int, any, error) {
		if err := os.Remove(filepath.Join(s.automationsDir, name)); err != nil && !os.IsNotExist(err) {
			return 0, nil, fmt.Errorf("removing automation: %w", err)
		}
		if err := s.reloadAutomations(); err != nil {
			return 0, nil, fmt.Errorf("reloading scheduler: %w", err)
		}
		return http.StatusOK, map[string]string{"status": "ok", "automation": name}, nil
	})
}
