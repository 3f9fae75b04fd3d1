package session

import (
	"os"
	"strconv"
	"time"
)

// Config defines runtime configuration for the session subsystem.
type Config struct {
	// Issuer is the "iss" claim of access tokens.
	Issuer string

	AccessTokenTTL time.Duration

	// Refresh token TTL policies per platform.
	RefreshTTLWeb         time.Duration
	RefreshTTLNative      time.Duration
	RefreshTTLNativeShort time.Duration

	// RefreshMinInterval is the minimum age of a session before it may be
	// rotated again. Zero disables the check.
	RefreshMinInterval time.Duration

	// ClockSkew is the allowed time skew during token validation.
	ClockSkew time.Duration

	// RefreshTokenBytes is the entropy of opaque refresh tokens.
	RefreshTokenBytes int

	// PasetoV4SecretKeyHex is the hex-encoded Ed25519 secret key used to
	// sign PASETO v4.public access tokens.
	PasetoV4SecretKeyHex string
}

// DefaultConfig returns a secure default configuration suitable for development.
func DefaultConfig() Config {
	return Config{
		Issuer:                "hub",
		AccessTokenTTL:        15 * time.Minute,
		RefreshTTLWeb:         7 * 24 * time.Hour,
		RefreshTTLNative:      60 * 24 * time.Hour,
		RefreshTTLNativeShort: 14 * 24 * time.Hour,
		RefreshMinInterval:    2 * time.Second,
		ClockSkew:             30 * time.Second,
		RefreshTokenBytes:     32,
	}
}

type envDuration struct {
	key       string
	dst       func(*Config) *time.Duration
	allowZero bool
}

var durationOverrides = []envDuration{
	{"HUB_AUTH_ACCESS_TTL", func(c *Config) *time.Duration { return &c.AccessTokenTTL }, false},
	{"HUB_AUTH_REFRESH_TTL_WEB", func(c *Config) *time.Duration { return &c.RefreshTTLWeb }, false},
	{"HUB_AUTH_REFRESH_TTL_NATIVE", func(c *Config) *time.Duration { return &c.RefreshTTLNative }, false},
	{"HUB_AUTH_REFRESH_TTL_NATIVE_SHORT", func(c *Config) *time.Duration { return &c.RefreshTTLNativeShort }, false},
	{"HUB_AUTH_REFRESH_MIN_INTERVAL", func(c *Config) *time.Duration { return &c.RefreshMinInterval }, true},
	{"HUB_AUTH_CLOCK_SKEW", func(c *Config) *time.Duration { return &c.ClockSkew }, true},
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Required:
//   - HUB_PASETO_V4_SECRET_KEY_HEX
//
// Optional (Go duration strings unless noted):
//   - HUB_AUTH_ISSUER
//   - HUB_AUTH_ACCESS_TTL
//   - HUB_AUTH_REFRESH_TTL_WEB
//   - HUB_AUTH_REFRESH_TTL_NATIVE
//   - HUB_AUTH_REFRESH_TTL_NATIVE_SHORT
//   - HUB_AUTH_REFRESH_MIN_INTERVAL
//   - HUB_AUTH_CLOCK_SKEW
//   - HUB_AUTH_REFRESH_TOKEN_BYTES (integer, 32..64)
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	return LoadConfigFromEnvOr("")
}

// LoadConfigFromEnvOr is LoadConfigFromEnv with a fallback signing key used
// when HUB_PASETO_V4_SECRET_KEY_HEX is unset.
func LoadConfigFromEnvOr(fallbackKeyHex string) (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("HUB_AUTH_ISSUER"); v != "" {
		cfg.Issuer = v
	}

	for _, o := range durationOverrides {
		v := os.Getenv(o.key)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 || (d == 0 && !o.allowZero) {
			return Config{}, ErrConfig
		}
		*o.dst(&cfg) = d
	}

	if v := os.Getenv("HUB_AUTH_REFRESH_TOKEN_BYTES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 32 || n > 64 {
			return Config{}, ErrConfig
		}
		cfg.RefreshTokenBytes = n
	}

	cfg.PasetoV4SecretKeyHex = os.Getenv("HUB_PASETO_V4_SECRET_KEY_HEX")
	if cfg.PasetoV4SecretKeyHex == "" {
		cfg.PasetoV4SecretKeyHex = fallbackKeyHex
	}
	if cfg.PasetoV4SecretKeyHex == "" {
		return Config{}, ErrConfig
	}

	// Native "short" must not exceed native "long".
	if cfg.RefreshTTLNative < cfg.RefreshTTLNativeShort {
		return Config{}, ErrConfig
	}

	return cfg, nil
}
