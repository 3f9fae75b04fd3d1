package password

import (
	"os"
	"testing"
)

func TestFromEnv_Defaults(t *testing.T) {
	unsetAll(t)

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv error: %v", err)
	}

	def := DefaultConfig()
	if cfg.Policy != def.Policy {
		t.Fatalf("policy mismatch: %+v vs %+v", cfg.Policy, def.Policy)
	}
	if cfg.Params.MemoryKiB != def.Params.MemoryKiB {
		t.Fatalf("memory mismatch")
	}
}

func TestFromEnv_Override(t *testing.T) {
	t.Setenv("HUB_PASSWORD_MIN_LEN", "12")
	t.Setenv("HUB_PASSWORD_MAX_LEN", "200")
	t.Setenv("HUB_PASSWORD_REJECT_VERY_WEAK", "false")
	t.Setenv("HUB_ARGON2_MEMORY_KIB", "32768")
	t.Setenv("HUB_ARGON2_ITERATIONS", "4")
	t.Setenv("HUB_ARGON2_PARALLELISM", "2")
	t.Setenv("HUB_ARGON2_SALT_LEN", "24")
	t.Setenv("HUB_ARGON2_KEY_LEN", "32")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv error: %v", err)
	}

	if cfg.Policy.MinLength != 12 || cfg.Policy.MaxLength != 200 || cfg.Policy.RejectVeryWeak {
		t.Fatalf("policy override failed: %+v", cfg.Policy)
	}
	if cfg.Params.MemoryKiB != 32768 || cfg.Params.Iterations != 4 || cfg.Params.Parallelism != 2 {
		t.Fatalf("argon2 override failed: %+v", cfg.Params)
	}
	if cfg.Params.SaltLength != 24 || cfg.Params.KeyLength != 32 {
		t.Fatalf("len override failed: %+v", cfg.Params)
	}
}

func TestFromEnv_Invalid(t *testing.T) {
	cases := map[string]map[string]string{
		"min above max":   {"HUB_PASSWORD_MIN_LEN": "20", "HUB_PASSWORD_MAX_LEN": "10"},
		"memory too low":  {"HUB_ARGON2_MEMORY_KIB": "16"},
		"not a number":    {"HUB_ARGON2_ITERATIONS": "many"},
		"bad weak toggle": {"HUB_PASSWORD_REJECT_VERY_WEAK": "perhaps"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			unsetAll(t)
			for k, v := range env {
				t.Setenv(k, v)
			}
			if _, err := FromEnv(); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func unsetAll(t *testing.T) {
	t.Helper()
	keys := []string{"HUB_PASSWORD_REJECT_VERY_WEAK"}
	for _, o := range paramOverrides {
		keys = append(keys, o.key)
	}
	for _, k := range keys {
		t.Setenv(k, "x") // registers restore on cleanup
		if err := os.Unsetenv(k); err != nil {
			t.Fatalf("unset %s: %v", k, err)
		}
	}
}
