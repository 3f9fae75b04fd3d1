package password

import (
	"fmt"
	"math"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// Argon2idParams controls Argon2id hashing cost. MemoryKiB is in KiB.
type Argon2idParams struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Policy controls password validation.
type Policy struct {
	MinLength      int
	MaxLength      int
	RejectVeryWeak bool
}

// Config is the single configuration surface for this package.
type Config struct {
	Params Argon2idParams
	Policy Policy
}

// DefaultConfig returns the baseline cost and policy for hub accounts.
func DefaultConfig() Config {
	lanes := runtime.NumCPU()
	if lanes < 1 {
		lanes = 1
	}
	if lanes > 4 {
		lanes = 4
	}

	return Config{
		Params: Argon2idParams{
			MemoryKiB:   64 * 1024,
			Iterations:  3,
			Parallelism: uint8(lanes), // #nosec G115 -- clamped to [1..4].
			SaltLength:  16,
			KeyLength:   32,
		},
		Policy: Policy{
			MinLength:      10,
			MaxLength:      256,
			RejectVeryWeak: true,
		},
	}
}

// envU32 describes one bounded unsigned env override.
type envU32 struct {
	key      string
	min, max uint32
	set      func(*Config, uint32) error
}

var paramOverrides = []envU32{
	{"HUB_ARGON2_MEMORY_KIB", 8 * 1024, 1024 * 1024, func(c *Config, v uint32) error { c.Params.MemoryKiB = v; return nil }},
	{"HUB_ARGON2_ITERATIONS", 1, 20, func(c *Config, v uint32) error { c.Params.Iterations = v; return nil }},
	{"HUB_ARGON2_PARALLELISM", 1, 64, func(c *Config, v uint32) error {
		if v > math.MaxUint8 {
			return fmt.Errorf("out of range [1..%d]", math.MaxUint8)
		}
		c.Params.Parallelism = uint8(v)
		return nil
	}},
	{"HUB_ARGON2_SALT_LEN", 8, 64, func(c *Config, v uint32) error { c.Params.SaltLength = v; return nil }},
	{"HUB_ARGON2_KEY_LEN", 16, 64, func(c *Config, v uint32) error { c.Params.KeyLength = v; return nil }},
	{"HUB_PASSWORD_MIN_LEN", 1, 1024, func(c *Config, v uint32) error { c.Policy.MinLength = int(v); return nil }},
	{"HUB_PASSWORD_MAX_LEN", 1, 4096, func(c *Config, v uint32) error { c.Policy.MaxLength = int(v); return nil }},
}

// FromEnv loads Config from HUB_ARGON2_* and HUB_PASSWORD_* variables on top of DefaultConfig.
// Out-of-range values are errors rather than silently clamped.
func FromEnv() (Config, error) {
	cfg := DefaultConfig()

	for _, o := range paramOverrides {
		raw, ok := os.LookupEnv(o.key)
		if !ok {
			continue
		}
		v, err := parseU32(raw, o.min, o.max)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", o.key, err)
		}
		if err := o.set(&cfg, v); err != nil {
			return Config{}, fmt.Errorf("%s: %w", o.key, err)
		}
	}

	if raw, ok := os.LookupEnv("HUB_PASSWORD_REJECT_VERY_WEAK"); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return Config{}, fmt.Errorf("HUB_PASSWORD_REJECT_VERY_WEAK: %w", err)
		}
		cfg.Policy.RejectVeryWeak = b
	}

	if cfg.Policy.MinLength > cfg.Policy.MaxLength {
		return Config{}, fmt.Errorf("password policy invalid: min_len(%d) > max_len(%d)",
			cfg.Policy.MinLength, cfg.Policy.MaxLength)
	}
	return cfg, nil
}

func parseU32(s string, minVal, maxVal uint32) (uint32, error) {
	u64, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("not an unsigned integer")
	}
	u := uint32(u64)
	if u < minVal || u > maxVal {
		return 0, fmt.Errorf("out of range [%d..%d]", minVal, maxVal)
	}
	return u, nil
}
