// Package spec defines the declarative stack configuration the control
// plane renders into artifacts and the admin API mutates.
package spec

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// AccessScope selects the bind-address policy for rendered artifacts.
type AccessScope string

const (
	ScopeHost   AccessScope = "host"
	ScopeLAN    AccessScope = "lan"
	ScopePublic AccessScope = "public"
)

// Service is a core service enabled in the stack.
type Service struct {
	Name    string            `yaml:"name"`
	Enabled bool              `yaml:"enabled"`
	Status  string            `yaml:"status"` // "running", "stopped", etc.
	Env     map[string]string `yaml:"env,omitempty"`
}

// Channel is an installed channel adapter instance.
type Channel struct {
	Name   string            `yaml:"name"`
	Env    map[string]string `yaml:"env,omitempty"`
	Status string            `yaml:"status"`
}

// ActionType tags the three supported automation action kinds.
type ActionType string

const (
	ActionAPI   ActionType = "api"
	ActionHTTP  ActionType = "http"
	ActionShell ActionType = "shell"
)

// Action is the tagged-variant payload an automation dispatches on fire.
type Action struct {
	Type ActionType `yaml:"type"`

	// api: path under the admin port.
	Path string `yaml:"path,omitempty"`

	// http: full URL.
	URL string `yaml:"url,omitempty"`

	// api/http.
	Method string `yaml:"method,omitempty"`
	Body   string `yaml:"body,omitempty"`

	// shell: argv[0] is the program, argv[1:] are arguments. Never
	// shell-interpolated.
	Command []string `yaml:"command,omitempty"`

	TimeoutSeconds int `yaml:"timeout,omitempty"`
}

// Automation is a scheduled job descriptor loaded from a YAML file in
// <state>/automations/.
type Automation struct {
	FileName    string `yaml:"-"`
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
	Schedule    string `yaml:"schedule"`
	Timezone    string `yaml:"timezone,omitempty"`
	Enabled     bool   `yaml:"enabled"`
	Action      Action `yaml:"action"`
	OnFailure   string `yaml:"on_failure,omitempty"`
}

// StackSpec is the full declarative configuration for an OpenPalm stack.
type StackSpec struct {
	Services     []Service    `yaml:"services"`
	Channels     []Channel    `yaml:"channels"`
	Automations  []Automation `yaml:"automations,omitempty"`
	AccessScope  AccessScope  `yaml:"accessScope"`
	IngressPort  int          `yaml:"ingressPort"`
}

// Default returns a StackSpec with sane defaults: host-only access and the
// conventional port 80 ingress.
func Default() StackSpec {
	return StackSpec{
		AccessScope: ScopeHost,
		IngressPort: 80,
	}
}

// Validate checks structural invariants independent of rendering.
func (s *StackSpec) Validate() error {
	switch s.AccessScope {
	case ScopeHost, ScopeLAN, ScopePublic:
	default:
		return fmt.Errorf("invalid_access_scope")
	}
	if s.IngressPort < 1 || s.IngressPort > 65535 {
		return fmt.Errorf("invalid_ingress_port")
	}
	seen := make(map[string]bool, len(s.Channels))
	for _, c := range s.Channels {
		if seen[c.Name] {
			return fmt.Errorf("duplicate_channel: %s", c.Name)
		}
		seen[c.Name] = true
	}
	return nil
}

// Channel returns the channel named name, if installed.
func (s *StackSpec) Channel(name string) (Channel, bool) {
	for _, c := range s.Channels {
		if c.Name == name {
			return c, true
		}
	}
	return Channel{}, false
}

// AddChannel appends a new channel, or returns an error if already present.
func (s *StackSpec) AddChannel(c Channel) error {
	if _, ok := s.Channel(c.Name); ok {
		return fmt.Errorf("channel %q already installed", c.Name)
	}
	s.Channels = append(s.Channels, c)
	return nil
}

// RemoveChannel deletes the channel named name, if present.
func (s *StackSpec) RemoveChannel(name string) error {
	for i, c := range s.Channels {
		if c.Name == name {
			s.Channels = append(s.Channels[:i], s.Channels[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("channel %q not installed", name)
}

// Load reads and parses a stack spec YAML file.
func Load(path string) (StackSpec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return StackSpec{}, fmt.Errorf("reading stack spec: %w", err)
	}
	var s StackSpec
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return StackSpec{}, fmt.Errorf("parsing stack spec: %w", err)
	}
	return s, nil
}

// Save serializes the spec as YAML to path.
func Save(path string, s StackSpec) error {
	raw, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshaling stack spec: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("writing stack spec: %w", err)
	}
	return nil
}
