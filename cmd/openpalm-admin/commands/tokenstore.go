package commands

import (
	"os"
	"sync"

	"github.com/itlackey/openpalm/pkg/openpalm/control/secrets"
	"github.com/itlackey/openpalm/pkg/openpalm/paths"
)

// keyringTokenStore stores the admin token in the OS keyring when
// available, falling back to <configHome>/secrets.env otherwise.
type keyringTokenStore struct {
	mu          sync.RWMutex
	useKeyring  bool
	cachedToken string
}

func newTokenStore() *keyringTokenStore {
	s := &keyringTokenStore{useKeyring: secrets.KeyringAvailable()}
	if s.useKeyring {
		s.cachedToken = secrets.LoadAdminToken()
	} else {
		s.cachedToken = os.Getenv("ADMIN_TOKEN")
	}
	return s
}

func (s *keyringTokenStore) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cachedToken
}

func (s *keyringTokenStore) SetToken(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.useKeyring {
		if err := secrets.StoreAdminToken(token); err != nil {
			return err
		}
		s.cachedToken = token
		return nil
	}

	raw, err := os.ReadFile(paths.SecretsFile())
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	merged, err := secrets.Merge(string(raw), []secrets.Update{{Key: "ADMIN_TOKEN", Value: token, Uncomment: true}}, "")
	if err != nil {
		return err
	}
	if err := os.WriteFile(paths.SecretsFile(), []byte(merged), 0o600); err != nil {
		return err
	}
	s.cachedToken = token
	return os.Setenv("ADMIN_TOKEN", token)
}
