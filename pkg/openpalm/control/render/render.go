// Package render implements the artifact renderer: it compiles
// a StackSpec plus built-in service templates into the deployable
// artifact set — docker-compose.yml, caddy.json, per-service env files,
// and a manifest.json recording each artifact's SHA-256.
package render

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/itlackey/openpalm/pkg/openpalm/control/spec"
)

// Artifact is one rendered file: its logical name and raw bytes.
type Artifact struct {
	Name  string
	Bytes []byte
}

// ManifestEntry records one artifact's integrity metadata.
type ManifestEntry struct {
	Name        string `json:"name"`
	SHA256      string `json:"sha256"`
	GeneratedAt string `json:"generatedAt"`
	Bytes       int    `json:"bytes"`
}

// RenderResult is the full set of rendered artifacts plus their manifest.
type RenderResult struct {
	ComposeFile   Artifact
	ProxyConfig   Artifact
	PerServiceEnv []Artifact
	Manifest      Artifact
}

type composeService struct {
	Image       string            `yaml:"image,omitempty"`
	Build       string            `yaml:"build,omitempty"`
	EnvFile     []string          `yaml:"env_file,omitempty"`
	Environment map[string]string `yaml:"environment,omitempty"`
	Ports       []string          `yaml:"ports,omitempty"`
	DependsOn   []string          `yaml:"depends_on,omitempty"`
	Restart     string            `yaml:"restart,omitempty"`
}

type composeFile struct {
	Version  string                    `yaml:"version"`
	Services map[string]composeService `yaml:"services"`
}

type caddyRoute struct {
	Match  []map[string][]string `json:"match"`
	Handle []map[string]any      `json:"handle"`
}

type caddyConfig struct {
	Apps struct {
		HTTP struct {
			Servers map[string]struct {
				Listen []string     `json:"listen"`
				Routes []caddyRoute `json:"routes"`
			} `json:"servers"`
		} `json:"http"`
	} `json:"apps"`
}

// bindAddress resolves the bind address for an access scope.
func bindAddress(scope spec.AccessScope) string {
	if scope == spec.ScopeHost {
		return "127.0.0.1"
	}
	return "0.0.0.0"
}

// Render compiles s into the full deployable artifact set. now is passed in
// (not read from the clock) so generation is deterministic and testable.
func Render(s spec.StackSpec, now time.Time) (RenderResult, error) {
	if err := s.Validate(); err != nil {
		return RenderResult{}, err
	}

	compose, err := renderCompose(s)
	if err != nil {
		return RenderResult{}, err
	}
	proxy, err := renderCaddy(s)
	if err != nil {
		return RenderResult{}, err
	}
	envFiles := renderEnvFiles(s)

	manifest, err := renderManifest(compose, proxy, envFiles, now)
	if err != nil {
		return RenderResult{}, err
	}

	return RenderResult{
		ComposeFile:   compose,
		ProxyConfig:   proxy,
		PerServiceEnv: envFiles,
		Manifest:      manifest,
	}, nil
}

func renderCompose(s spec.StackSpec) (Artifact, error) {
	cf := composeFile{Version: "3.8", Services: map[string]composeService{}}

	bind := bindAddress(s.AccessScope)

	cf.Services["guardian"] = composeService{
		Image:   "openpalm/guardian:latest",
		EnvFile: []string{"guardian.env"},
		Ports:   []string{fmt.Sprintf("%s:8090:8090", bind)},
		Restart: "unless-stopped",
	}
	cf.Services["admin"] = composeService{
		Image:     "openpalm/admin:latest",
		EnvFile:   []string{"admin.env"},
		Ports:     []string{fmt.Sprintf("%s:8092:8092", bind)},
		DependsOn: []string{"guardian"},
		Restart:   "unless-stopped",
	}

	names := make([]string, 0, len(s.Channels))
	for _, c := range s.Channels {
		names = append(names, c.Name)
	}
	sort.Strings(names)
	for _, name := range names {
		svc := "channel-" + name
		cf.Services[svc] = composeService{
			Image:     fmt.Sprintf("openpalm/channel-%s:latest", name),
			EnvFile:   []string{svc + ".env"},
			DependsOn: []string{"guardian"},
			Restart:   "unless-stopped",
		}
	}

	raw, err := yaml.Marshal(cf)
	if err != nil {
		return Artifact{}, fmt.Errorf("rendering compose file: %w", err)
	}
	return Artifact{Name: "docker-compose.yml", Bytes: raw}, nil
}

func renderCaddy(s spec.StackSpec) (Artifact, error) {
	var cfg caddyConfig
	listen := fmt.Sprintf(":%d", s.IngressPort)

	server := struct {
		Listen []string     `json:"listen"`
		Routes []caddyRoute `json:"routes"`
	}{Listen: []string{listen}}

	server.Routes = append(server.Routes,
		caddyRoute{
			Match:  []map[string][]string{{"path": {"/v1/*"}}},
			Handle: []map[string]any{{"handler": "reverse_proxy", "upstream": "channel-api:8080"}},
		},
		caddyRoute{
			Match:  []map[string][]string{{"path": {"/a2a/*"}}},
			Handle: []map[string]any{{"handler": "reverse_proxy", "upstream": "channel-a2a:8080"}},
		},
		caddyRoute{
			Match:  []map[string][]string{{"path": {"/chat/*"}}},
			Handle: []map[string]any{{"handler": "reverse_proxy", "upstream": "channel-chat:8080"}},
		},
		caddyRoute{
			Match:  []map[string][]string{{"path": {"/admin/*"}}},
			Handle: []map[string]any{{"handler": "reverse_proxy", "upstream": "admin:8092"}},
		},
		caddyRoute{
			Match:  []map[string][]string{{"path": {"/health"}}},
			Handle: []map[string]any{{"handler": "reverse_proxy", "upstream": "guardian:8090"}},
		},
	)

	cfg.Apps.HTTP.Servers = map[string]struct {
		Listen []string     `json:"listen"`
		Routes []caddyRoute `json:"routes"`
	}{"openpalm": server}

	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return Artifact{}, fmt.Errorf("rendering caddy config: %w", err)
	}
	return Artifact{Name: "caddy.json", Bytes: raw}, nil
}

func renderEnvFiles(s spec.StackSpec) []Artifact {
	bind := bindAddress(s.AccessScope)
	var out []Artifact

	out = append(out, envArtifact("guardian.env", map[string]string{
		"GUARDIAN_LISTEN_ADDR": bind + ":8090",
	}))
	out = append(out, envArtifact("admin.env", map[string]string{
		"ADMIN_LISTEN_ADDR": bind + ":8092",
		"GUARDIAN_URL":      "http://guardian:8090",
	}))

	names := make([]string, 0, len(s.Channels))
	chByName := map[string]spec.Channel{}
	for _, c := range s.Channels {
		names = append(names, c.Name)
		chByName[c.Name] = c
	}
	sort.Strings(names)
	for _, name := range names {
		ch := chByName[name]
		env := map[string]string{
			"GUARDIAN_URL": "http://guardian:8090",
		}
		for k, v := range ch.Env {
			env[k] = v
		}
		out = append(out, envArtifact("channel-"+name+".env", env))
	}
	return out
}

func envArtifact(name string, vars map[string]string) Artifact {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf []byte
	for _, k := range keys {
		buf = append(buf, []byte(fmt.Sprintf("%s=%s\n", k, vars[k]))...)
	}
	return Artifact{Name: name, Bytes: buf}
}

func renderManifest(compose, proxy Artifact, envFiles []Artifact, now time.Time) (Artifact, error) {
	all := append([]Artifact{compose, proxy}, envFiles...)
	entries := make([]ManifestEntry, 0, len(all))
	ts := now.UTC().Format(time.RFC3339)
	for _, a := range all {
		sum := sha256.Sum256(a.Bytes)
		entries = append(entries, ManifestEntry{
			Name:        a.Name,
			SHA256:      hex.EncodeToString(sum[:]),
			GeneratedAt: ts,
			Bytes:       len(a.Bytes),
		})
	}
	raw, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return Artifact{}, fmt.Errorf("rendering manifest: %w", err)
	}
	return Artifact{Name: "manifest.json", Bytes: raw}, nil
}
