package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

// envVarPattern matches ${VAR}, ${VAR:-default}, ${VAR:?error}, and bare
// $VAR references inside configuration text.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::(-|\?)([^}]*))?\}|\$([A-Z_][A-Z0-9_]*)`)

// ExpandEnv replaces ${VAR}, ${VAR:-default}, ${VAR:?error}, and $VAR
// references in input with the corresponding environment variable values.
// A ${VAR:?msg} whose VAR is unset produces an error.
func ExpandEnv(input string) (string, error) {
	var firstErr error
	result := envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		sub := envVarPattern.FindStringSubmatch(match)
		varName, modifier, modValue, bareVar := sub[1], sub[2], sub[3], sub[4]

		if bareVar != "" {
			if val, ok := os.LookupEnv(bareVar); ok {
				return val
			}
			return match
		}

		if val, ok := os.LookupEnv(varName); ok {
			return val
		}

		switch modifier {
		case "-":
			return modValue
		case "?":
			if firstErr == nil {
				msg := modValue
				if msg == "" {
					msg = "required environment variable not set"
				}
				firstErr = fmt.Errorf("%s: %s", varName, msg)
			}
			return match
		default:
			return match
		}
	})
	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// IsEnvReference reports whether value is a literal ${VAR}-style reference
// rather than a resolved secret, useful when deciding whether to overwrite
// a config value from the environment.
func IsEnvReference(value string) bool {
	return strings.HasPrefix(value, "${") && strings.HasSuffix(value, "}")
}
