package authapi

import (
	"net/http"
	"testing"
	"time"
)

func TestLoadConfigFromEnv_CookieGuardrails(t *testing.T) {
	t.Setenv("HUB_AUTH_REFRESH_COOKIE_NAME", "hub_token")
	t.Setenv("HUB_AUTH_CSRF_COOKIE_NAME", "hub_token")
	t.Setenv("HUB_AUTH_ACCESS_COOKIE_NAME", "hub_token")
	t.Setenv("HUB_AUTH_COOKIE_SAMESITE", "none")
	t.Setenv("HUB_AUTH_COOKIE_SECURE", "false")

	cfg := LoadConfigFromEnv()

	if cfg.CSRFCookieName == cfg.RefreshCookieName {
		t.Fatalf("csrf cookie name must differ from refresh cookie name")
	}
	if cfg.AccessCookieName == cfg.RefreshCookieName || cfg.AccessCookieName == cfg.CSRFCookieName {
		t.Fatalf("access cookie name must be distinct, got %q", cfg.AccessCookieName)
	}
	if cfg.CookieSameSite != http.SameSiteNoneMode {
		t.Fatalf("expected SameSite=None, got %v", cfg.CookieSameSite)
	}
	if !cfg.CookieSecure {
		t.Fatalf("SameSite=None requires Secure=true")
	}
}

func TestLoadConfigFromEnv_InviteClamps(t *testing.T) {
	t.Setenv("HUB_AUTH_INVITE_TTL", "72h")
	t.Setenv("HUB_AUTH_INVITE_TTL_MAX", "24h")
	t.Setenv("HUB_AUTH_INVITE_MAX_USES", "50")
	t.Setenv("HUB_AUTH_INVITE_MAX_USES_MAX", "10")
	t.Setenv("HUB_AUTH_LOGIN_IP_MAX", "-3")

	cfg := LoadConfigFromEnv()

	if cfg.InviteTTL != 24*time.Hour {
		t.Fatalf("invite ttl=%v want clamp to max", cfg.InviteTTL)
	}
	if cfg.InviteMaxUses != 10 {
		t.Fatalf("invite max uses=%d want 10", cfg.InviteMaxUses)
	}
	if cfg.LoginIPMax != 20 {
		t.Fatalf("invalid value should fall back to default, got %d", cfg.LoginIPMax)
	}
}

func TestParseSameSite(t *testing.T) {
	tests := []struct {
		in   string
		want http.SameSite
	}{
		{in: "strict", want: http.SameSiteStrictMode},
		{in: "lax", want: http.SameSiteLaxMode},
		{in: "none", want: http.SameSiteNoneMode},
		{in: "default", want: http.SameSiteDefaultMode},
		{in: "unknown", want: http.SameSiteLaxMode},
	}

	for _, tc := range tests {
		got := parseSameSite(tc.in)
		if got != tc.want {
			t.Fatalf("parseSameSite(%q)=%v, want %v", tc.in, got, tc.want)
		}
	}
}
