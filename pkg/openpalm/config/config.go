// Package config loads process configuration for the guardian, channel
// adapters, and admin binaries from environment variables, seeded from
// <configHome>/secrets.env via godotenv at startup.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// LoadSecretsEnv loads secretsPath into the process environment without
// overwriting variables already set (the secrets file is a default source,
// not an override — whether the secrets file wins over process env is
// decided one level up, by the caller deciding load order; a
// variable explicitly set in the process environment before this call wins
// here since godotenv.Load never overwrites existing keys).
func LoadSecretsEnv(secretsPath string) error {
	if _, err := os.Stat(secretsPath); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(secretsPath); err != nil {
		return fmt.Errorf("loading secrets env: %w", err)
	}
	return nil
}

// GuardianConfig is the guardian process's environment-derived configuration.
type GuardianConfig struct {
	ListenAddr        string
	AssistantBaseURL  string
	AssistantAuthUser string
	AssistantAuthPass string
	CreateTimeout     time.Duration
	MessageTimeout    time.Duration
	AuditLogPath      string
}

// LoadGuardianConfig reads the guardian's configuration from the process
// environment (after LoadSecretsEnv has seeded it).
func LoadGuardianConfig() GuardianConfig {
	return GuardianConfig{
		ListenAddr:        envOr("GUARDIAN_LISTEN_ADDR", ":8090"),
		AssistantBaseURL:  envOr("ASSISTANT_BASE_URL", "http://localhost:8091"),
		AssistantAuthUser: os.Getenv("ASSISTANT_AUTH_USER"),
		AssistantAuthPass: os.Getenv("ASSISTANT_AUTH_PASS"),
		CreateTimeout:     envDuration("ASSISTANT_CREATE_TIMEOUT", 10*time.Second),
		MessageTimeout:    envDuration("ASSISTANT_MESSAGE_TIMEOUT", 120*time.Second),
		AuditLogPath:      os.Getenv("OPENPALM_AUDIT_LOG_PATH"),
	}
}

// ChannelConfig is a channel adapter process's environment-derived
// configuration. name picks the per-adapter shared secret env var
// (CHANNEL_<NAME>_SECRET).
type ChannelConfig struct {
	Name           string
	ListenAddr     string
	SharedSecret   string
	GuardianURL    string
	AuthToken      string
	ForwardTimeout time.Duration
}

// LoadChannelConfig reads a channel adapter's configuration for the given
// channel name.
func LoadChannelConfig(name, defaultListenAddr string) (ChannelConfig, error) {
	secretVar := fmt.Sprintf("CHANNEL_%s_SECRET", upperSnake(name))
	secret := os.Getenv(secretVar)
	if secret == "" {
		return ChannelConfig{}, fmt.Errorf("%s is required", secretVar)
	}
	return ChannelConfig{
		Name:           name,
		ListenAddr:     envOr("CHANNEL_LISTEN_ADDR", defaultListenAddr),
		SharedSecret:   secret,
		GuardianURL:    envOr("GUARDIAN_URL", "http://localhost:8090"),
		AuthToken:      os.Getenv("CHANNEL_AUTH_TOKEN"),
		ForwardTimeout: envDuration("CHANNEL_FORWARD_TIMEOUT", 120*time.Second),
	}, nil
}

// AdminConfig is the admin process's environment-derived configuration.
type AdminConfig struct {
	ListenAddr  string
	AdminToken  string
	GuardianURL string
}

// LoadAdminConfig reads the admin process's configuration.
func LoadAdminConfig() AdminConfig {
	return AdminConfig{
		ListenAddr:  envOr("ADMIN_LISTEN_ADDR", ":8092"),
		AdminToken:  os.Getenv("ADMIN_TOKEN"),
		GuardianURL: envOr("GUARDIAN_URL", "http://localhost:8090"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func upperSnake(s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}
