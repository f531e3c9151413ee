// Package channels provides the common adapter framework every external
// protocol (OpenAI-compatible, A2A, chat webhook, Discord, Telegram) builds
// on: request parsing down to a signed channel payload, then sign-and-
// forward to the guardian, then translate the reply into the adapter's
// native response shape.
package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/itlackey/openpalm/pkg/openpalm/crypto"
	"github.com/itlackey/openpalm/pkg/openpalm/payload"
)

// maxBodyBytes caps inbound request bodies at 1 MiB.
const maxBodyBytes = 1 << 20

// HandlerResult is what a protocol-specific Handle implementation returns.
type HandlerResult struct {
	// OK, when true, carries Payload forward to be signed and forwarded.
	OK bool

	// Payload is the normalized signed channel payload (nonce/timestamp
	// not yet set — Base fills those in before signing).
	Payload payload.SignedChannelPayload

	// ProtocolHint carries adapter-specific data threaded through to the
	// reply translator (e.g. the A2A JSON-RPC request id, or the OpenAI
	// model string).
	ProtocolHint any

	// Status/Body are used when OK is false to short-circuit with a
	// protocol-appropriate error response.
	Status int
	Body   any
}

// Handler is implemented once per external protocol.
type Handler interface {
	// Handle parses r into a HandlerResult. It must not write to w; Base
	// owns all response writing.
	Handle(r *http.Request) HandlerResult

	// WriteReply translates the guardian's reply ("answer" text plus the
	// original ProtocolHint) into the protocol's native success envelope.
	WriteReply(w http.ResponseWriter, hint any, answer, requestID, sessionID, userID string)

	// WriteUpstreamError translates a guardian failure (5xx, timeout, or
	// transport error) into the protocol's native error envelope.
	WriteUpstreamError(w http.ResponseWriter, hint any, status int, reason string)
}

// Config configures a Base adapter instance.
type Config struct {
	// Name identifies the adapter and is sent as payload.Channel.
	Name string

	// SharedSecret signs outgoing payloads to the guardian. Refusing to
	// start with an empty secret is the caller's responsibility.
	SharedSecret string

	// GuardianURL is the base URL of the guardian (e.g. http://guardian:8090).
	GuardianURL string

	// AuthToken, when non-empty, requires `Authorization: Bearer <token>`
	// on inbound requests.
	AuthToken string

	// ForwardTimeout bounds the adapter→guardian round trip. Defaults to
	// 120s, sized for slow LLM inference.
	ForwardTimeout time.Duration
}

// Base implements the responsibilities shared by every channel adapter.
type Base struct {
	cfg        Config
	handler    Handler
	logger     *slog.Logger
	httpClient *http.Client
	now        func() time.Time
	newNonce   func() string
}

// New constructs a Base adapter. It panics if cfg.SharedSecret is empty —
// callers must check that at startup and exit(1), rather
// than silently running unauthenticated.
func New(cfg Config, h Handler, logger *slog.Logger) *Base {
	if cfg.SharedSecret == "" {
		panic(fmt.Sprintf("channel %q: shared secret is required", cfg.Name))
	}
	if cfg.ForwardTimeout <= 0 {
		cfg.ForwardTimeout = 120 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Base{
		cfg:        cfg,
		handler:    h,
		logger:     logger.With("component", "channel", "channel", cfg.Name),
		httpClient: &http.Client{Timeout: cfg.ForwardTimeout},
		now:        time.Now,
		newNonce:   func() string { return uuid.NewString() },
	}
}

// Mux builds the adapter's HTTP routes.
func (b *Base) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", b.handleHealth)
	mux.Handle("/", b.authMiddleware(http.HandlerFunc(b.handleInbound)))
	return mux
}

func (b *Base) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"service": b.cfg.Name,
		"time":    b.now().UTC().Format(time.RFC3339),
	})
}

// authMiddleware enforces optional bearer-token auth when a token is
// configured.
func (b *Base) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if b.cfg.AuthToken == "" {
			next.ServeHTTP(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || token != b.cfg.AuthToken {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (b *Base) handleInbound(w http.ResponseWriter, r *http.Request) {
	// Read the whole body once, bounded at maxBodyBytes, then hand the
	// handler a fresh reader over the same bytes. This lets us peek the
	// "stream" flag without letting a streaming request's handler read
	// past the size cap.
	if r.Body != nil {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "failed to read body"})
			return
		}
		if len(body) > maxBodyBytes {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]any{"error": "request body too large"})
			return
		}
		if isStreamingBody(body) {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "streaming not supported"})
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
	}

	result := b.handler.Handle(r)
	if !result.OK {
		status := result.Status
		if status == 0 {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, result.Body)
		return
	}

	stamped := result.Payload.WithStamp(b.newNonce(), b.now())
	stamped.Channel = b.cfg.Name
	raw, err := stamped.Marshal()
	if err != nil {
		b.logger.Error("marshal signed payload", "error", err)
		b.handler.WriteUpstreamError(w, result.ProtocolHint, http.StatusInternalServerError, "internal error")
		return
	}

	answer, requestID, sessionID, userID, status, reason := b.forward(r.Context(), raw)
	if status != http.StatusOK {
		b.handler.WriteUpstreamError(w, result.ProtocolHint, status, reason)
		return
	}
	b.handler.WriteReply(w, result.ProtocolHint, answer, requestID, sessionID, userID)
}

type guardianResponse struct {
	RequestID string `json:"requestId"`
	SessionID string `json:"sessionId"`
	Answer    string `json:"answer"`
	UserID    string `json:"userId"`
	Error     string `json:"error"`
}

// forward signs raw and POSTs it to the guardian's /channel/inbound.
func (b *Base) forward(ctx context.Context, raw []byte) (answer, requestID, sessionID, userID string, status int, reason string) {
	sig := crypto.Sign([]byte(b.cfg.SharedSecret), raw)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(b.cfg.GuardianURL, "/")+"/channel/inbound", bytes.NewReader(raw))
	if err != nil {
		return "", "", "", "", http.StatusBadGateway, "assistant_unavailable"
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-channel-signature", sig)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		b.logger.Error("forward to guardian failed", "error", err)
		return "", "", "", "", http.StatusBadGateway, "assistant_unavailable"
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", "", "", "", http.StatusBadGateway, "assistant_unavailable"
	}

	var gr guardianResponse
	_ = json.Unmarshal(body, &gr)

	if resp.StatusCode >= 500 {
		reason := gr.Error
		if reason == "" {
			reason = "assistant_unavailable"
		}
		return "", "", "", "", resp.StatusCode, reason
	}
	if resp.StatusCode != http.StatusOK {
		reason := gr.Error
		if reason == "" {
			reason = "request_rejected"
		}
		return "", "", "", "", resp.StatusCode, reason
	}
	return gr.Answer, gr.RequestID, gr.SessionID, gr.UserID, http.StatusOK, ""
}

func isStreamingBody(body []byte) bool {
	var peek struct {
		Stream bool `json:"stream"`
	}
	_ = json.Unmarshal(body, &peek)
	return peek.Stream
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
