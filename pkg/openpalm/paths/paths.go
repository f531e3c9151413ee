// Package paths resolves the directories OpenPalm's processes read and
// write: configHome (spec, secrets, channel definitions) and stateHome
// (rendered artifacts, snapshots, automations, audit log).
package paths

import (
	"os"
	"path/filepath"
)

const (
	configHomeEnv = "OPENPALM_CONFIG_HOME"
	stateHomeEnv  = "OPENPALM_STATE_HOME"
)

// ConfigHome resolves <configHome>, defaulting to
// $XDG_CONFIG_HOME/openpalm or ~/.config/openpalm.
func ConfigHome() string {
	if v := os.Getenv(configHomeEnv); v != "" {
		return v
	}
	return filepath.Join(userConfigDir(), "openpalm")
}

// StateHome resolves <stateHome>, defaulting to
// $XDG_STATE_HOME/openpalm or ~/.local/state/openpalm.
func StateHome() string {
	if v := os.Getenv(stateHomeEnv); v != "" {
		return v
	}
	return filepath.Join(userStateDir(), "openpalm")
}

func userConfigDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config")
}

func userStateDir() string {
	if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
		return xdg
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "state")
}

// SecretsFile is <configHome>/secrets.env, the canonical env-style secret
// store.
func SecretsFile() string {
	return filepath.Join(ConfigHome(), "secrets.env")
}

// StackSpecFile is <configHome>/openpalm.yaml, the declarative stack spec.
func StackSpecFile() string {
	return filepath.Join(ConfigHome(), "openpalm.yaml")
}

// ChannelsDir is <configHome>/channels, holding per-channel template/config
// overlays (<name>.yml, <name>.caddy).
func ChannelsDir() string {
	return filepath.Join(ConfigHome(), "channels")
}

// ArtifactsDir is <stateHome>/artifacts, the live rendered-artifact
// directory (compose file, manifest, per-service env files).
func ArtifactsDir() string {
	return filepath.Join(StateHome(), "artifacts")
}

// ArtifactsPendingDir is the staging directory artifacts are rendered into
// before the atomic swap.
func ArtifactsPendingDir() string {
	return filepath.Join(StateHome(), "artifacts.pending")
}

// ChannelsStateDir is <stateHome>/channels, the rendered per-access-scope
// Caddy snippets (distinct from ConfigHome's channel source overlays).
func ChannelsStateDir() string {
	return filepath.Join(StateHome(), "channels")
}

// ChannelsStatePendingDir is the staging counterpart of ChannelsStateDir.
func ChannelsStatePendingDir() string {
	return filepath.Join(StateHome(), "channels.pending")
}

// CaddyfilePath is the live rendered Caddy config.
func CaddyfilePath() string {
	return filepath.Join(StateHome(), "Caddyfile")
}

// CaddyfilePendingPath is the staging counterpart of CaddyfilePath.
func CaddyfilePendingPath() string {
	return filepath.Join(StateHome(), "Caddyfile.pending")
}

// SnapshotsDir is <stateHome>/snapshots, holding up to N timestamped
// recovery copies of prior live state.
func SnapshotsDir() string {
	return filepath.Join(StateHome(), "snapshots")
}

// ConfigBackupsDir is <stateHome>/config-backups, holding install/uninstall
// rollback intents and file copies.
func ConfigBackupsDir() string {
	return filepath.Join(StateHome(), "config-backups")
}

// AutomationsDir is <stateHome>/automations, holding the per-automation
// YAML descriptors the scheduler reads at startup.
func AutomationsDir() string {
	return filepath.Join(StateHome(), "automations")
}

// AuditLogPath is the append-only JSON-lines audit file.
func AuditLogPath() string {
	return filepath.Join(StateHome(), "audit.jsonl")
}

// EnsureDirs creates configHome and stateHome (and their well-known
// subdirectories) if missing. Intended for first-boot and process startup.
func EnsureDirs() error {
	dirs := []string{
		ConfigHome(),
		ChannelsDir(),
		StateHome(),
		ArtifactsDir(),
		ChannelsStateDir(),
		SnapshotsDir(),
		ConfigBackupsDir(),
		AutomationsDir(),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return err
		}
	}
	return nil
}
