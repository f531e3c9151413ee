package secrets

import (
	"fmt"

	"github.com/zalando/go-keyring"
)

const (
	keyringService  = "openpalm"
	keyringAdminKey = "admin_token"
)

// StoreAdminToken saves the admin token in the OS keyring instead of
// plaintext secrets.env.
func StoreAdminToken(token string) error {
	if err := keyring.Set(keyringService, keyringAdminKey, token); err != nil {
		return fmt.Errorf("storing admin token in keyring: %w", err)
	}
	return nil
}

// LoadAdminToken reads the admin token from the OS keyring. Returns "" if
// not present or the keyring backend is unavailable (e.g. headless Linux
// with no Secret Service).
func LoadAdminToken() string {
	val, err := keyring.Get(keyringService, keyringAdminKey)
	if err != nil {
		return ""
	}
	return val
}

// DeleteAdminToken removes the admin token from the OS keyring.
func DeleteAdminToken() error {
	return keyring.Delete(keyringService, keyringAdminKey)
}

// KeyringAvailable probes the OS keyring with a throwaway write+delete.
func KeyringAvailable() bool {
	const probeKey = "__openpalm_probe__"
	if err := keyring.Set(keyringService, probeKey, "probe"); err != nil {
		return false
	}
	_ = keyring.Delete(keyringService, probeKey)
	return true
}
