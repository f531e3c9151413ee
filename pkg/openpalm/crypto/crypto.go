// Package crypto implements the HMAC signing primitives that anchor the
// trust boundary between channel adapters and the guardian.
package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Sign returns the lowercase hex HMAC-SHA256 digest of message under secret.
func Sign(secret, message []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(message)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether provided is the valid hex HMAC-SHA256 signature of
// message under secret. It never returns true for an empty secret, and
// performs a constant-time comparison once both signatures are decoded and
// equal-length, so that a wrong-but-well-formed signature takes the same
// time to reject regardless of which bytes differ.
func Verify(secret, message []byte, provided string) bool {
	if len(secret) == 0 || provided == "" {
		return false
	}
	want, err := hex.DecodeString(Sign(secret, message))
	if err != nil {
		return false
	}
	got, err := hex.DecodeString(provided)
	if err != nil {
		return false
	}
	if len(want) != len(got) {
		return false
	}
	return subtle.ConstantTimeCompare(want, got) == 1
}

// GenerateSecret returns a fresh high-entropy shared secret as lowercase hex,
// suitable for a newly installed channel. bytesLen sets the secret's byte
// length before hex-encoding; 32 (256 bits) is used when bytes <= 0.
func GenerateSecret(bytesLen int) (string, error) {
	if bytesLen <= 0 {
		bytesLen = 32
	}
	buf := make([]byte, bytesLen)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// DeriveSecret deterministically derives a 256-bit channel secret from a
// master secret via HKDF-SHA256, keyed by the channel name. Stacks that
// configure a master secret get reproducible per-channel secrets, so a
// reinstalled channel keeps its credentials.
func DeriveSecret(master, channel string) (string, error) {
	if master == "" {
		return "", fmt.Errorf("empty master secret")
	}
	if channel == "" {
		return "", fmt.Errorf("empty channel name")
	}
	r := hkdf.New(sha256.New, []byte(master), nil, []byte("openpalm/channel/"+channel))
	buf := make([]byte, 32)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("deriving secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
