// Package channelmgr implements channel install/uninstall:
// a config-backup intent is recorded before any file is touched, so a
// failed re-stage can always roll back to the exact pre-change bytes.
package channelmgr

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/itlackey/openpalm/pkg/openpalm/control/runtime"
	"github.com/itlackey/openpalm/pkg/openpalm/control/spec"
	"github.com/itlackey/openpalm/pkg/openpalm/crypto"
)

// SpecStore loads and persists the stack spec under a lock the caller holds
// for the duration of Install/Uninstall.
type SpecStore interface {
	Load() (spec.StackSpec, error)
	Save(spec.StackSpec) error
}

// Stager re-renders and atomically swaps in artifacts derived from the
// current spec. It returns an error if rendering or the swap failed; the
// live state is guaranteed untouched on error.
type Stager interface {
	Stage(ctx context.Context, s spec.StackSpec) error
}

// Runner starts/stops the compose service backing a channel.
type Runner interface {
	Up(ctx context.Context, service string) error
	Stop(ctx context.Context, service string) error
}

// TemplateSource resolves the two files a newly installed channel needs:
// the channel YAML overlay and its Caddy route fragment.
type TemplateSource interface {
	ChannelYAML(channel string) ([]byte, error)
	ChannelCaddy(channel string) ([]byte, error)
}

// Manager coordinates install/uninstall against configDir (where channel
// overlay files live) and backupsDir (where intents + backed-up bytes are
// staged per channel).
type Manager struct {
	configDir    string
	backupsDir   string
	specs        SpecStore
	stager       Stager
	runner       Runner
	templates    TemplateSource
	masterSecret string
	now          func() time.Time
}

// New constructs a Manager. now defaults to time.Now.
func New(configDir, backupsDir string, specs SpecStore, stager Stager, runner Runner, templates TemplateSource) *Manager {
	return &Manager{
		configDir:  configDir,
		backupsDir: backupsDir,
		specs:      specs,
		stager:     stager,
		runner:     runner,
		templates:  templates,
		now:        time.Now,
	}
}

// SetMasterSecret switches channel secret generation from random to
// HKDF-derived: with a master secret configured, a channel gets the same
// shared secret every time it is installed.
func (m *Manager) SetMasterSecret(secret string) {
	m.masterSecret = secret
}

func (m *Manager) channelSecret(channel string) (string, error) {
	if m.masterSecret != "" {
		return crypto.DeriveSecret(m.masterSecret, channel)
	}
	return crypto.GenerateSecret(32)
}

type intent struct {
	Action    string    `json:"action"`
	Channel   string    `json:"channel"`
	Timestamp time.Time `json:"timestamp"`
}

func (m *Manager) intentPath(channel string) string {
	return filepath.Join(m.backupsDir, channel, "intent.json")
}

func (m *Manager) backupDir(channel string) string {
	return filepath.Join(m.backupsDir, channel)
}

func (m *Manager) channelYAMLPath(channel string) string {
	return filepath.Join(m.configDir, "channels", channel+".yml")
}

func (m *Manager) channelCaddyPath(channel string) string {
	return filepath.Join(m.configDir, "channels", channel+".caddy")
}

func (m *Manager) recordIntent(action, channel string) error {
	dir := m.backupDir(channel)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating backup dir: %w", err)
	}
	it := intent{Action: action, Channel: channel, Timestamp: m.now().UTC()}
	data, err := json.MarshalIndent(it, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling intent: %w", err)
	}
	if err := os.WriteFile(m.intentPath(channel), data, 0o644); err != nil {
		return fmt.Errorf("writing intent: %w", err)
	}
	return nil
}

func (m *Manager) clearBackup(channel string) error {
	return os.RemoveAll(m.backupDir(channel))
}

// Install records an intent, copies the channel template files into
// configDir, adds the channel plus a fresh secret to the spec, re-stages
// artifacts, and (on success) starts the channel service.
// On stage failure the newly installed files are removed and the prior
// spec is restored; the backup intent survives so an operator can inspect
// what happened.
func (m *Manager) Install(ctx context.Context, channel string) error {
	if err := m.recordIntent("install", channel); err != nil {
		return err
	}

	yamlBytes, err := m.templates.ChannelYAML(channel)
	if err != nil {
		return fmt.Errorf("resolving channel template: %w", err)
	}
	caddyBytes, err := m.templates.ChannelCaddy(channel)
	if err != nil {
		return fmt.Errorf("resolving channel caddy fragment: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(m.configDir, "channels"), 0o755); err != nil {
		return fmt.Errorf("creating channels dir: %w", err)
	}
	if err := os.WriteFile(m.channelYAMLPath(channel), yamlBytes, 0o644); err != nil {
		return fmt.Errorf("writing channel yaml: %w", err)
	}
	if err := os.WriteFile(m.channelCaddyPath(channel), caddyBytes, 0o644); err != nil {
		m.removeChannelFiles(channel)
		return fmt.Errorf("writing channel caddy fragment: %w", err)
	}

	before, err := m.specs.Load()
	if err != nil {
		m.removeChannelFiles(channel)
		return fmt.Errorf("loading spec: %w", err)
	}

	secret, err := m.channelSecret(channel)
	if err != nil {
		m.removeChannelFiles(channel)
		return fmt.Errorf("generating channel secret: %w", err)
	}

	after := before
	after.Channels = append([]spec.Channel{}, before.Channels...)
	after.Services = append([]spec.Service{}, before.Services...)
	if err := after.AddChannel(spec.Channel{
		Name:   channel,
		Status: "stopped",
		Env:    map[string]string{"SHARED_SECRET": secret},
	}); err != nil {
		m.removeChannelFiles(channel)
		return fmt.Errorf("adding channel to spec: %w", err)
	}
	after.Services = append(after.Services, spec.Service{
		Name:    "channel-" + channel,
		Enabled: true,
		Status:  "stopped",
	})

	if err := m.specs.Save(after); err != nil {
		m.removeChannelFiles(channel)
		return fmt.Errorf("saving spec: %w", err)
	}

	if err := m.stager.Stage(ctx, after); err != nil {
		// Rollback: delete the newly installed files, restore previous spec.
		m.removeChannelFiles(channel)
		if rerr := m.specs.Save(before); rerr != nil {
			return fmt.Errorf("staging failed (%v) and rollback save failed: %w", err, rerr)
		}
		return fmt.Errorf("staging artifacts: %w", err)
	}

	if err := m.clearBackup(channel); err != nil {
		return fmt.Errorf("clearing install backup: %w", err)
	}

	if err := m.runner.Up(ctx, "channel-"+channel); err != nil {
		return fmt.Errorf("starting channel service: %w", err)
	}
	return nil
}

func (m *Manager) removeChannelFiles(channel string) {
	_ = os.Remove(m.channelYAMLPath(channel))
	_ = os.Remove(m.channelCaddyPath(channel))
}

// Uninstall records an intent and backs up the channel's files, deletes
// them from configDir, removes the channel from the spec, re-stages
// artifacts, and (on success) stops the channel service and clears the
// backup. On stage failure the backed-up files and prior spec
// are restored and the backup is retained (not cleared).
func (m *Manager) Uninstall(ctx context.Context, channel string) error {
	if err := m.recordIntent("uninstall", channel); err != nil {
		return err
	}

	yamlBytes, yamlErr := os.ReadFile(m.channelYAMLPath(channel))
	caddyBytes, caddyErr := os.ReadFile(m.channelCaddyPath(channel))
	if yamlErr != nil && !os.IsNotExist(yamlErr) {
		return fmt.Errorf("reading channel yaml: %w", yamlErr)
	}
	if caddyErr != nil && !os.IsNotExist(caddyErr) {
		return fmt.Errorf("reading channel caddy fragment: %w", caddyErr)
	}
	if yamlErr == nil {
		if err := os.WriteFile(filepath.Join(m.backupDir(channel), channel+".yml"), yamlBytes, 0o644); err != nil {
			return fmt.Errorf("backing up channel yaml: %w", err)
		}
	}
	if caddyErr == nil {
		if err := os.WriteFile(filepath.Join(m.backupDir(channel), channel+".caddy"), caddyBytes, 0o644); err != nil {
			return fmt.Errorf("backing up channel caddy fragment: %w", err)
		}
	}

	m.removeChannelFiles(channel)

	before, err := m.specs.Load()
	if err != nil {
		m.restoreChannelFiles(channel, yamlErr == nil, caddyErr == nil)
		return fmt.Errorf("loading spec: %w", err)
	}

	after := before
	after.Channels = append([]spec.Channel{}, before.Channels...)
	after.Services = append([]spec.Service{}, before.Services...)
	if err := after.RemoveChannel(channel); err != nil {
		m.restoreChannelFiles(channel, yamlErr == nil, caddyErr == nil)
		return fmt.Errorf("removing channel from spec: %w", err)
	}
	after.Services = removeService(after.Services, "channel-"+channel)

	if err := m.specs.Save(after); err != nil {
		m.restoreChannelFiles(channel, yamlErr == nil, caddyErr == nil)
		return fmt.Errorf("saving spec: %w", err)
	}

	if err := m.stager.Stage(ctx, after); err != nil {
		m.restoreChannelFiles(channel, yamlErr == nil, caddyErr == nil)
		if rerr := m.specs.Save(before); rerr != nil {
			return fmt.Errorf("staging failed (%v) and rollback save failed: %w", err, rerr)
		}
		return fmt.Errorf("staging artifacts: %w", err)
	}

	if err := m.clearBackup(channel); err != nil {
		return fmt.Errorf("clearing uninstall backup: %w", err)
	}

	if err := m.runner.Stop(ctx, "channel-"+channel); err != nil {
		return fmt.Errorf("stopping channel service: %w", err)
	}
	return nil
}

func (m *Manager) restoreChannelFiles(channel string, hadYAML, hadCaddy bool) {
	if hadYAML {
		if data, err := os.ReadFile(filepath.Join(m.backupDir(channel), channel+".yml")); err == nil {
			_ = os.MkdirAll(filepath.Join(m.configDir, "channels"), 0o755)
			_ = os.WriteFile(m.channelYAMLPath(channel), data, 0o644)
		}
	}
	if hadCaddy {
		if data, err := os.ReadFile(filepath.Join(m.backupDir(channel), channel+".caddy")); err == nil {
			_ = os.MkdirAll(filepath.Join(m.configDir, "channels"), 0o755)
			_ = os.WriteFile(m.channelCaddyPath(channel), data, 0o644)
		}
	}
}

func removeService(services []spec.Service, name string) []spec.Service {
	out := make([]spec.Service, 0, len(services))
	for _, s := range services {
		if s.Name != name {
			out = append(out, s)
		}
	}
	return out
}

// CleanupStaleConfigBackups runs startup recovery: for each
// channel backup recorded with action=uninstall whose file is now missing
// from configDir (i.e. the process crashed between delete and re-stage), it
// restores the backed-up bytes and returns the channels it restored so the
// caller can audit startup.stale_backup.
func CleanupStaleConfigBackups(configDir, backupsDir string) ([]string, error) {
	entries, err := os.ReadDir(backupsDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config backups dir: %w", err)
	}

	var restored []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		channel := e.Name()
		intentPath := filepath.Join(backupsDir, channel, "intent.json")
		data, err := os.ReadFile(intentPath)
		if err != nil {
			continue
		}
		var it intent
		if err := json.Unmarshal(data, &it); err != nil {
			continue
		}
		if it.Action != "uninstall" {
			continue
		}

		yamlBackup := filepath.Join(backupsDir, channel, channel+".yml")
		yamlTarget := filepath.Join(configDir, "channels", channel+".yml")
		if _, err := os.Stat(yamlTarget); os.IsNotExist(err) {
			if data, rerr := os.ReadFile(yamlBackup); rerr == nil {
				_ = os.MkdirAll(filepath.Join(configDir, "channels"), 0o755)
				if werr := os.WriteFile(yamlTarget, data, 0o644); werr == nil {
					restored = append(restored, channel)
				}
			}
		}

		caddyBackup := filepath.Join(backupsDir, channel, channel+".caddy")
		caddyTarget := filepath.Join(configDir, "channels", channel+".caddy")
		if _, err := os.Stat(caddyTarget); os.IsNotExist(err) {
			if data, rerr := os.ReadFile(caddyBackup); rerr == nil {
				_ = os.MkdirAll(filepath.Join(configDir, "channels"), 0o755)
				_ = os.WriteFile(caddyTarget, data, 0o644)
			}
		}
	}
	return dedupe(restored), nil
}

func dedupe(in []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

var _ Runner = (*runtime.Runner)(nil)
