package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadSecretsEnvMissingFileIsNotError(t *testing.T) {
	t.Parallel()
	if err := LoadSecretsEnv(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("LoadSecretsEnv() error = %v, want nil for missing file", err)
	}
}

func TestLoadSecretsEnvLoadsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "secrets.env")
	writeFile(t, path, "OPENPALM_TEST_SECRET=abc123\n")

	if err := LoadSecretsEnv(path); err != nil {
		t.Fatalf("LoadSecretsEnv() error = %v", err)
	}
	t.Cleanup(func() { t.Setenv("OPENPALM_TEST_SECRET", "") })
	if got := envOr("OPENPALM_TEST_SECRET", ""); got != "abc123" {
		t.Fatalf("env var = %q, want abc123", got)
	}
}

func TestLoadGuardianConfigDefaults(t *testing.T) {
	cfg := LoadGuardianConfig()
	if cfg.ListenAddr != ":8090" {
		t.Fatalf("ListenAddr = %q, want :8090", cfg.ListenAddr)
	}
	if cfg.CreateTimeout != 10*time.Second {
		t.Fatalf("CreateTimeout = %v, want 10s", cfg.CreateTimeout)
	}
}

func TestLoadChannelConfigRequiresSecret(t *testing.T) {
	_, err := LoadChannelConfig("nosecretchannel", ":9000")
	if err == nil {
		t.Fatalf("LoadChannelConfig() error = nil, want error for missing secret")
	}
}

func TestLoadChannelConfigReadsUppercasedSecretVar(t *testing.T) {
	t.Setenv("CHANNEL_DISCORD_SECRET", "s3cret")
	cfg, err := LoadChannelConfig("discord", ":9001")
	if err != nil {
		t.Fatalf("LoadChannelConfig() error = %v", err)
	}
	if cfg.SharedSecret != "s3cret" {
		t.Fatalf("SharedSecret = %q, want s3cret", cfg.SharedSecret)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing test file: %v", err)
	}
}
