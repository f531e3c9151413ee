package secrets

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// SeedProcessEnv loads path into the current process environment. This is
// the one read-only path in this package that uses godotenv: it discards
// comments and ordering, which is fine here because nothing downstream
// round-trips the file — it only ever reads key/value pairs into os.Environ.
// The structure-preserving Merge in merge.go is what the admin API's write path
// uses instead.
func SeedProcessEnv(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("seeding process env from %s: %w", path, err)
	}
	return nil
}
