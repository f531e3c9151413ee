// Package secrets implements the structure-preserving .env merge contract
// for .env files, plus raw bulk read/write and optional OS-keyring storage
// for the admin token.
package secrets

import (
	"fmt"
	"regexp"
	"strings"
)

var keyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Update is one key/value pair to apply. Uncomment, when true, activates a
// matching commented-out `#KEY=...` line instead of leaving it untouched
// and appending a new one.
type Update struct {
	Key       string
	Value     string
	Uncomment bool
}

// Merge rewrites raw's matching lines in place — preserving comments, blank
// lines, and key order — applying each update, and appends any update whose
// key isn't found. section, if non-empty, is written as a "# <section>"
// header before appended keys.
func Merge(raw string, updates []Update, section string) (string, error) {
	for _, u := range updates {
		if !keyPattern.MatchString(u.Key) {
			return "", fmt.Errorf("invalid key %q", u.Key)
		}
	}

	lines := splitLines(raw)
	applied := make(map[string]bool, len(updates))

	for i, line := range lines {
		key, isComment, ok := parseKeyLine(line)
		if !ok {
			continue
		}
		for _, u := range updates {
			if applied[u.Key] || u.Key != key {
				continue
			}
			if isComment && !u.Uncomment {
				continue
			}
			lines[i] = u.Key + "=" + formatValue(u.Value)
			applied[u.Key] = true
		}
	}

	var toAppend []Update
	for _, u := range updates {
		if !applied[u.Key] {
			toAppend = append(toAppend, u)
		}
	}

	if len(toAppend) == 0 {
		return joinLines(lines), nil
	}

	out := lines
	if section != "" {
		out = append(out, "# "+section)
	}
	for _, u := range toAppend {
		out = append(out, u.Key+"="+formatValue(u.Value))
	}
	return joinLines(out), nil
}

// parseKeyLine extracts a line's key, reporting whether it (possibly
// commented-out) is a key=value assignment at all.
func parseKeyLine(line string) (key string, isComment bool, ok bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return "", false, false
	}
	candidate := trimmed
	if strings.HasPrefix(candidate, "#") {
		isComment = true
		candidate = strings.TrimSpace(strings.TrimPrefix(candidate, "#"))
	}
	idx := strings.Index(candidate, "=")
	if idx <= 0 {
		return "", false, false
	}
	k := strings.TrimSpace(candidate[:idx])
	if !keyPattern.MatchString(k) {
		return "", false, false
	}
	return k, isComment, true
}

// formatValue quotes value when it contains characters unsafe for
// unquoted .env syntax, preferring single quotes (literal) over double
// quotes (which need \n/\r escaping).
func formatValue(value string) string {
	if !needsQuoting(value) {
		return value
	}
	if !strings.ContainsAny(value, "'\n\r") {
		return "'" + value + "'"
	}
	escaped := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, "\r", `\r`).Replace(value)
	return `"` + escaped + `"`
}

func needsQuoting(value string) bool {
	if value == "" {
		return false
	}
	if strings.TrimSpace(value) != value {
		return true
	}
	return strings.ContainsAny(value, "#'\"\\\n\r=")
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(strings.TrimRight(s, "\n"), "\n")
}

func joinLines(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}

// Parse reads a rendered .env-style string into a key/value map, used to
// verify the round-trip invariant parse(merge(raw, updates)) =
// parse(raw) ∪ updates.
func Parse(raw string) map[string]string {
	out := map[string]string{}
	for _, line := range splitLines(raw) {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		idx := strings.Index(trimmed, "=")
		if idx <= 0 {
			continue
		}
		key := strings.TrimSpace(trimmed[:idx])
		val := trimmed[idx+1:]
		out[key] = unquote(val)
	}
	return out
}

func unquote(val string) string {
	if len(val) >= 2 && val[0] == '\'' && val[len(val)-1] == '\'' {
		return val[1 : len(val)-1]
	}
	if len(val) >= 2 && val[0] == '"' && val[len(val)-1] == '"' {
		inner := val[1 : len(val)-1]
		return strings.NewReplacer(`\n`, "\n", `\r`, "\r", `\"`, `"`, `\\`, `\`).Replace(inner)
	}
	return val
}
