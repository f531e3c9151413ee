// Package guardian implements the trust boundary every channel adapter
// forwards into: signature verification, replay protection, rate limiting,
// auditing, and forwarding the accepted message on to the assistant backend.
package guardian

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/itlackey/openpalm/pkg/openpalm/crypto"
	"github.com/itlackey/openpalm/pkg/openpalm/payload"
)

// maxBodyBytes bounds inbound /channel/inbound requests, mirroring the
// channel adapters' own 1 MiB cap.
const maxBodyBytes = 1 << 20

const (
	nonceWindow       = 5 * time.Minute
	userRateLimit     = 120
	userRateWindow    = time.Minute
	channelRateLimit  = 200
	channelRateWindow = time.Minute
)

// SecretStore resolves a channel name to its shared HMAC secret.
type SecretStore interface {
	Lookup(channel string) (secret string, ok bool)
}

// Assistant is the subset of assistant.Client the guardian depends on.
type Assistant interface {
	CreateSession(ctx context.Context, title string) (string, error)
	SendMessage(ctx context.Context, sessionID, text string) (string, error)
}

// Auditor records accepted, denied, and errored inbound events. Implemented
// by control/audit.Writer; kept as a narrow interface here so the guardian
// package has no build dependency on the control plane.
type Auditor interface {
	Record(event map[string]any)
}

// Config configures a Guardian.
type Config struct {
	Secrets   SecretStore
	Assistant Assistant
	Auditor   Auditor
	Logger    *slog.Logger
}

// Guardian verifies, rate-limits, and forwards signed channel payloads.
type Guardian struct {
	secrets   SecretStore
	assistant Assistant
	auditor   Auditor
	logger    *slog.Logger

	nonces *nonceCache
	rates  *rateLimiter

	now func() time.Time
}

func New(cfg Config) *Guardian {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Guardian{
		secrets:   cfg.Secrets,
		assistant: cfg.Assistant,
		auditor:   cfg.Auditor,
		logger:    logger.With("component", "guardian"),
		nonces:    newNonceCache(nonceWindow),
		rates:     newRateLimiter(),
		now:       time.Now,
	}
}

// Mux builds the guardian's HTTP routes.
func (g *Guardian) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/channel/inbound", g.handleInbound)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "not_found"})
	})
	return mux
}

func (g *Guardian) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"service": "guardian",
		"time":    g.now().UTC().Format(time.RFC3339),
	})
}

// errKind classifies a pipeline failure into its HTTP status and machine
// readable reason.
type errKind struct {
	status int
	reason string
}

func (g *Guardian) handleInbound(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	w.Header().Set("x-request-id", requestID)

	if r.Method != http.MethodPost {
		writeErr(w, requestID, errKind{http.StatusMethodNotAllowed, "method_not_allowed"})
		return
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		writeErr(w, requestID, errKind{http.StatusBadRequest, "invalid_json"})
		return
	}
	if len(raw) > maxBodyBytes {
		writeErr(w, requestID, errKind{http.StatusRequestEntityTooLarge, "body_too_large"})
		return
	}

	// Step 1: parse.
	p, err := payload.Unmarshal(raw)
	if err != nil {
		writeErr(w, requestID, errKind{http.StatusBadRequest, "invalid_json"})
		return
	}

	// Step 2: validate payload.
	if err := p.Validate(); err != nil {
		writeErr(w, requestID, errKind{http.StatusBadRequest, err.Error()})
		return
	}

	// Step 3: look up channel secret.
	secret, ok := g.secrets.Lookup(p.Channel)
	if !ok {
		g.audit("denied", p, requestID, "channel_not_configured")
		writeErr(w, requestID, errKind{http.StatusForbidden, "channel_not_configured"})
		return
	}

	// Step 4: verify signature.
	sig := r.Header.Get("x-channel-signature")
	if !crypto.Verify([]byte(secret), raw, sig) {
		g.audit("denied", p, requestID, "invalid_signature")
		writeErr(w, requestID, errKind{http.StatusForbidden, "invalid_signature"})
		return
	}

	// Step 5: nonce/timestamp replay check.
	now := g.now()
	ts := time.UnixMilli(p.Timestamp)
	if !g.nonces.CheckAndInsert(p.Nonce, ts, now) {
		g.audit("denied", p, requestID, "replay_detected")
		writeErr(w, requestID, errKind{http.StatusConflict, "replay_detected"})
		return
	}

	// Step 6: rate limit both axes. Both buckets are counted even when the
	// other axis already denied, so per-channel accounting stays accurate
	// under multi-user load.
	userOK := g.rates.Allow(userKey(p.UserID), userRateLimit, userRateWindow, now)
	channelOK := g.rates.Allow(channelKey(p.Channel), channelRateLimit, channelRateWindow, now)
	if !userOK || !channelOK {
		g.audit("denied", p, requestID, "rate_limited")
		writeErr(w, requestID, errKind{http.StatusTooManyRequests, "rate_limited"})
		return
	}

	// Step 7: forward to assistant.
	ctx := r.Context()
	sessionID, err := g.assistant.CreateSession(ctx, fmt.Sprintf("%s:%s", p.Channel, p.UserID))
	if err != nil {
		g.logger.Error("create session failed", "error", err, "channel", p.Channel)
		g.auditErr(p, requestID, err)
		writeErr(w, requestID, errKind{http.StatusBadGateway, "assistant_unavailable"})
		return
	}

	// Step 8: audit the accepted inbound, now that its session id is known.
	g.auditOK(p, requestID, sessionID)

	answer, err := g.assistant.SendMessage(ctx, sessionID, p.Text)
	if err != nil {
		g.logger.Error("send message failed", "error", err, "channel", p.Channel, "sessionId", sessionID)
		g.auditErr(p, requestID, err)
		writeErr(w, requestID, errKind{http.StatusBadGateway, "assistant_unavailable"})
		return
	}

	// Step 9: return.
	writeJSON(w, http.StatusOK, map[string]any{
		"requestId": requestID,
		"sessionId": sessionID,
		"answer":    answer,
		"userId":    p.UserID,
	})
}

func (g *Guardian) audit(status string, p payload.SignedChannelPayload, requestID, reason string) {
	if g.auditor == nil {
		return
	}
	event := map[string]any{
		"status":    status,
		"requestId": requestID,
		"channel":   p.Channel,
		"userId":    p.UserID,
	}
	if reason != "" {
		event["reason"] = reason
	}
	g.auditor.Record(event)
}

func (g *Guardian) auditOK(p payload.SignedChannelPayload, requestID, sessionID string) {
	if g.auditor == nil {
		return
	}
	g.auditor.Record(map[string]any{
		"status":    "ok",
		"requestId": requestID,
		"sessionId": sessionID,
		"channel":   p.Channel,
		"userId":    p.UserID,
	})
}

func (g *Guardian) auditErr(p payload.SignedChannelPayload, requestID string, err error) {
	if g.auditor == nil {
		return
	}
	g.auditor.Record(map[string]any{
		"status":    "error",
		"channel":   p.Channel,
		"userId":    p.UserID,
		"requestId": requestID,
		"reason":    err.Error(),
	})
}

func writeErr(w http.ResponseWriter, requestID string, k errKind) {
	writeJSON(w, k.status, map[string]any{"error": k.reason, "requestId": requestID})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
