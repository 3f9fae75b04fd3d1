package app

import (
	"errors"

	"hub/cmd/security/token"
)

// ValidateSecurityConfig enforces the token hashing policy at startup and
// returns the hasher every token store shares.
//
// Fail-fast: with RequireTokenHMAC a missing or short key stops the server
// instead of silently falling back to plain SHA-256.
func ValidateSecurityConfig(cfg Config) (token.Hasher, error) {
	h, err := token.HasherFromEnv(cfg.RequireTokenHMAC)
	if err != nil {
		switch {
		case errors.Is(err, token.ErrHMACKeyMissing):
			return token.Hasher{}, errors.New("security policy: HUB_REQUIRE_TOKEN_HMAC=true but HUB_TOKEN_HMAC_KEY is missing")
		case errors.Is(err, token.ErrHMACKeyTooShort):
			return token.Hasher{}, errors.New("security policy: HUB_REQUIRE_TOKEN_HMAC=true but HUB_TOKEN_HMAC_KEY is too short (min 32 bytes)")
		default:
			return token.Hasher{}, err
		}
	}

	if cfg.RequireTokenHMAC && !h.Keyed() {
		return token.Hasher{}, errors.New("security policy: HUB_REQUIRE_TOKEN_HMAC=true but token hasher is not in HMAC mode")
	}
	return h, nil
}
