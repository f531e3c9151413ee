package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/itlackey/openpalm/pkg/openpalm/crypto"
	"github.com/itlackey/openpalm/pkg/openpalm/payload"
)

// GuardianForwarder signs and posts a channel payload to the guardian on
// behalf of adapters that don't fit Base's synchronous request/response
// shape — a persistent gateway connection (Discord) or a long-poll loop
// (Telegram) receives a message on its own goroutine, forwards it here, and
// relays the answer back through its own native send call rather than an
// HTTP response writer.
type GuardianForwarder struct {
	SharedSecret string
	GuardianURL  string
	Client       *http.Client
	Now          func() time.Time
	NewNonce     func() string
}

// NewGuardianForwarder builds a GuardianForwarder with sane defaults for
// the HTTP client, clock, and nonce source.
func NewGuardianForwarder(sharedSecret, guardianURL string, timeout time.Duration) *GuardianForwarder {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &GuardianForwarder{
		SharedSecret: sharedSecret,
		GuardianURL:  guardianURL,
		Client:       &http.Client{Timeout: timeout},
		Now:          time.Now,
		NewNonce:     func() string { return uuid.NewString() },
	}
}

// Forward stamps p with a fresh nonce/timestamp, signs it, and posts it to
// the guardian's /channel/inbound. On a non-200 response the guardian's
// error reason is returned as err.
func (g *GuardianForwarder) Forward(ctx context.Context, p payload.SignedChannelPayload) (answer, requestID, sessionID, userID string, err error) {
	stamped := p.WithStamp(g.NewNonce(), g.Now())
	raw, err := stamped.Marshal()
	if err != nil {
		return "", "", "", "", err
	}

	sig := crypto.Sign([]byte(g.SharedSecret), raw)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(g.GuardianURL, "/")+"/channel/inbound", bytes.NewReader(raw))
	if err != nil {
		return "", "", "", "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-channel-signature", sig)

	resp, err := g.Client.Do(req)
	if err != nil {
		return "", "", "", "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", "", "", "", err
	}

	var gr struct {
		RequestID string `json:"requestId"`
		SessionID string `json:"sessionId"`
		Answer    string `json:"answer"`
		UserID    string `json:"userId"`
		Error     string `json:"error"`
	}
	_ = json.Unmarshal(body, &gr)

	if resp.StatusCode != http.StatusOK {
		reason := gr.Error
		if reason == "" {
			reason = "request_rejected"
		}
		return "", "", "", "", &forwardError{status: resp.StatusCode, reason: reason}
	}
	return gr.Answer, gr.RequestID, gr.SessionID, gr.UserID, nil
}

type forwardError struct {
	status int
	reason string
}

func (e *forwardError) Error() string { return e.reason }

// Status returns the guardian's HTTP status code for a forward failure.
func (e *forwardError) Status() int { return e.status }
