package secrets

import (
	"fmt"
	"strings"
)

// maxRawBytes bounds bulk secrets editing.
const maxRawBytes = 64 * 1024

// ValidateRaw enforces the bulk read/write invariants: size ≤ 64 KiB, every
// non-comment line contains "=", and every key matches
// [A-Za-z_][A-Za-z0-9_]*.
func ValidateRaw(raw string) error {
	if len(raw) > maxRawBytes {
		return fmt.Errorf("secrets file exceeds %d bytes", maxRawBytes)
	}
	for i, line := range splitLines(raw) {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		idx := strings.Index(trimmed, "=")
		if idx <= 0 {
			return fmt.Errorf("line %d: missing '='", i+1)
		}
		key := strings.TrimSpace(trimmed[:idx])
		if !keyPattern.MatchString(key) {
			return fmt.Errorf("line %d: invalid key %q", i+1, key)
		}
	}
	return nil
}
