package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"strings"
)

// HMACEnvKey names the env var holding the token HMAC secret.
// #nosec G101 -- env var name, not a credential.
const HMACEnvKey = "HUB_TOKEN_HMAC_KEY"

// MinKeyBytes is the smallest HMAC key accepted in enforced mode.
const MinKeyBytes = 32

var (
	ErrHMACKeyMissing  = errors.New("token: " + HMACEnvKey + " is not set")
	ErrHMACKeyTooShort = errors.New("token: " + HMACEnvKey + " is shorter than the minimum")
)

// Hasher turns plain opaque tokens into their stored form.
// The zero value hashes with plain SHA-256.
type Hasher struct {
	key []byte
}

// NewHasher returns a Hasher. An empty key selects SHA-256 mode.
func NewHasher(key []byte) Hasher {
	if len(key) == 0 {
		return Hasher{}
	}
	cp := make([]byte, len(key))
	copy(cp, key)
	return Hasher{key: cp}
}

// HasherFromEnv builds a Hasher from HUB_TOKEN_HMAC_KEY.
//
// With requireHMAC set, a missing or short key is an error. Otherwise a missing
// key falls back to SHA-256 mode.
func HasherFromEnv(requireHMAC bool) (Hasher, error) {
	raw := strings.TrimSpace(os.Getenv(HMACEnvKey))
	switch {
	case raw == "" && requireHMAC:
		return Hasher{}, ErrHMACKeyMissing
	case raw == "":
		return Hasher{}, nil
	case requireHMAC && len(raw) < MinKeyBytes:
		return Hasher{}, ErrHMACKeyTooShort
	}
	return NewHasher([]byte(raw)), nil
}

// Keyed reports whether the hasher runs in HMAC mode.
func (h Hasher) Keyed() bool { return len(h.key) > 0 }

// Hash returns the hex digest stored for s.
func (h Hasher) Hash(s string) string {
	if len(h.key) == 0 {
		return HashSHA256Hex(s)
	}
	return HashHMACSHA256Hex(s, h.key)
}

// Equal compares a plain token against a stored digest in constant time.
func (h Hasher) Equal(plain, storedHex string) bool {
	return hmac.Equal([]byte(h.Hash(plain)), []byte(strings.ToLower(storedHex)))
}

// HashSHA256Hex returns a SHA-256 hex digest of s.
func HashSHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HashHMACSHA256Hex returns an HMAC-SHA256 hex digest of s using key.
func HashHMACSHA256Hex(s string, key []byte) string {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write([]byte(s))
	return hex.EncodeToString(m.Sum(nil))
}
