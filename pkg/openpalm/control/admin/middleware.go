package admin

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"
)

// compareTokens performs a timing-safe comparison by hashing both inputs
// with SHA-256 before ConstantTimeCompare, so the result doesn't leak the
// provided token's length relative to the real one.
func compareTokens(a, b string) bool {
	ha := sha256.Sum256([]byte(a))
	hb := sha256.Sum256([]byte(b))
	return subtle.ConstantTimeCompare(ha[:], hb[:]) == 1
}

// securityHeaders adds the standard defensive headers to every response.
func (s *Server) securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// authenticate requires x-admin-token to match the configured admin token.
// /health is always open. /setup is open only until the token is first set
// (the first-boot exception).
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		current := s.tokens.Token()
		if r.URL.Path == "/setup" && current == "" {
			next.ServeHTTP(w, r)
			return
		}

		provided := r.Header.Get("x-admin-token")
		if current == "" || provided == "" || !compareTokens(provided, current) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_admin_token"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// actorFrom derives the actor and callerType for audit records: actor comes
// from x-requested-by (or "anonymous"); callerType is inferred from the
// presence of a User-Agent recognizable as a browser versus a script/cli.
func actorFrom(r *http.Request) (actor, callerType string) {
	actor = r.Header.Get("x-requested-by")
	if actor == "" {
		actor = "anonymous"
	}
	ua := strings.ToLower(r.Header.Get("User-Agent"))
	switch {
	case strings.Contains(ua, "mozilla") || strings.Contains(ua, "webkit"):
		callerType = "browser"
	case ua == "":
		callerType = "unknown"
	default:
		callerType = "script"
	}
	return actor, callerType
}
