// Package payload defines the signed channel payload — the single wire
// contract between channel adapters and the guardian.
package payload

import (
	"encoding/json"
	"fmt"
	"time"
)

// SignedChannelPayload is the canonical message shape every channel adapter
// normalizes its inbound request into before signing and forwarding it to
// the guardian.
type SignedChannelPayload struct {
	UserID    string         `json:"userId"`
	Channel   string         `json:"channel"`
	Text      string         `json:"text"`
	Metadata  map[string]any `json:"metadata"`
	Nonce     string         `json:"nonce"`
	Timestamp int64          `json:"timestamp"`
}

// Validate checks that all primary fields of the wire contract are present
// and non-empty. It does not check timestamp skew or nonce uniqueness —
// those are the guardian's replay-check responsibility, not a structural
// validity concern.
func (p *SignedChannelPayload) Validate() error {
	switch {
	case p.UserID == "":
		return fmt.Errorf("userId_missing")
	case p.Channel == "":
		return fmt.Errorf("channel_missing")
	case p.Text == "":
		return fmt.Errorf("text_missing")
	case p.Nonce == "":
		return fmt.Errorf("nonce_missing")
	case p.Timestamp == 0:
		return fmt.Errorf("timestamp_missing")
	}
	return nil
}

// WithStamp returns a copy of p with a fresh nonce and the current wall
// clock timestamp (milliseconds) applied, as required of every channel
// adapter before signing.
func (p SignedChannelPayload) WithStamp(nonce string, now time.Time) SignedChannelPayload {
	p.Nonce = nonce
	p.Timestamp = now.UnixMilli()
	return p
}

// Marshal serializes the payload once; the returned bytes are what must be
// signed and what must be sent as the request body — never re-marshaled,
// since map key ordering or float formatting differences between two
// encodes of the "same" payload would make sign-then-resend non-deterministic.
func (p SignedChannelPayload) Marshal() ([]byte, error) {
	return json.Marshal(p)
}

// Unmarshal parses raw JSON bytes into a SignedChannelPayload without
// performing Validate; callers decide when structural validation happens.
func Unmarshal(raw []byte) (SignedChannelPayload, error) {
	var p SignedChannelPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("invalid_json")
	}
	return p, nil
}
