package authapi

import (
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config controls auth API behavior and security defaults.
type Config struct {
	InviteTTL        time.Duration
	InviteMaxTTL     time.Duration
	InviteMaxUses    int
	InviteMaxUsesMax int

	TrustProxy   bool
	MaxBodyBytes int64

	LoginIPMax      int
	LoginIPWindow   time.Duration
	LoginUserMax    int
	LoginUserWindow time.Duration

	LockoutShortThreshold  int
	LockoutShortDuration   time.Duration
	LockoutLongThreshold   int
	LockoutLongDuration    time.Duration
	LockoutSevereThreshold int
	LockoutSevereDuration  time.Duration

	EnableCaptcha bool

	// Web clients keep the refresh token in an HttpOnly cookie and prove
	// intent on refresh with a double-submit CSRF token.
	WebRefreshCookieEnabled bool
	RefreshCookieName       string
	CSRFCookieName          string
	CSRFHeaderName          string
	// AccessCookieName carries the access token for server-rendered pages
	// gated on the session.
	AccessCookieName string
	CookiePath       string
	CookieDomain     string
	CookieSecure     bool
	CookieSameSite   http.SameSite
}

// LoadConfigFromEnv loads auth config from environment variables with safe defaults.
func LoadConfigFromEnv() Config {
	cfg := Config{
		InviteTTL:               envDuration("HUB_AUTH_INVITE_TTL", 7*24*time.Hour),
		InviteMaxTTL:            envDuration("HUB_AUTH_INVITE_TTL_MAX", 30*24*time.Hour),
		InviteMaxUses:           envInt("HUB_AUTH_INVITE_MAX_USES", 1),
		InviteMaxUsesMax:        envInt("HUB_AUTH_INVITE_MAX_USES_MAX", 25),
		TrustProxy:              envBool("HUB_AUTH_TRUST_PROXY", false),
		MaxBodyBytes:            envInt64("HUB_AUTH_MAX_BODY_BYTES", 1<<20),
		LoginIPMax:              envInt("HUB_AUTH_LOGIN_IP_MAX", 20),
		LoginIPWindow:           envDuration("HUB_AUTH_LOGIN_IP_WINDOW", 5*time.Minute),
		LoginUserMax:            envInt("HUB_AUTH_LOGIN_USER_MAX", 5),
		LoginUserWindow:         envDuration("HUB_AUTH_LOGIN_USER_WINDOW", 15*time.Minute),
		LockoutShortThreshold:   envInt("HUB_AUTH_LOGIN_LOCKOUT_SHORT_THRESHOLD", 5),
		LockoutShortDuration:    envDuration("HUB_AUTH_LOGIN_LOCKOUT_SHORT_DURATION", 5*time.Minute),
		LockoutLongThreshold:    envInt("HUB_AUTH_LOGIN_LOCKOUT_LONG_THRESHOLD", 10),
		LockoutLongDuration:     envDuration("HUB_AUTH_LOGIN_LOCKOUT_LONG_DURATION", 30*time.Minute),
		LockoutSevereThreshold:  envInt("HUB_AUTH_LOGIN_LOCKOUT_SEVERE_THRESHOLD", 20),
		LockoutSevereDuration:   envDuration("HUB_AUTH_LOGIN_LOCKOUT_SEVERE_DURATION", 2*time.Hour),
		EnableCaptcha:           envBool("HUB_AUTH_CAPTCHA", false),
		WebRefreshCookieEnabled: envBool("HUB_AUTH_WEB_COOKIES", true),
		RefreshCookieName:       envString("HUB_AUTH_REFRESH_COOKIE_NAME", "hub_refresh_token"),
		CSRFCookieName:          envString("HUB_AUTH_CSRF_COOKIE_NAME", "hub_csrf_token"),
		CSRFHeaderName:          envString("HUB_AUTH_CSRF_HEADER_NAME", "X-CSRF-Token"),
		AccessCookieName:        envString("HUB_AUTH_ACCESS_COOKIE_NAME", "hub_access_token"),
		CookiePath:              envString("HUB_AUTH_COOKIE_PATH", "/"),
		CookieDomain:            envString("HUB_AUTH_COOKIE_DOMAIN", ""),
		CookieSecure:            envBool("HUB_AUTH_COOKIE_SECURE", true),
		CookieSameSite:          parseSameSite(envString("HUB_AUTH_COOKIE_SAMESITE", "lax")),
	}

	if cfg.InviteTTL > cfg.InviteMaxTTL {
		cfg.InviteTTL = cfg.InviteMaxTTL
	}
	if cfg.InviteMaxUses > cfg.InviteMaxUsesMax {
		cfg.InviteMaxUses = cfg.InviteMaxUsesMax
	}

	// Browsers drop SameSite=None cookies without Secure.
	if cfg.CookieSameSite == http.SameSiteNoneMode {
		cfg.CookieSecure = true
	}
	if cfg.CSRFCookieName == cfg.RefreshCookieName {
		cfg.CSRFCookieName = cfg.RefreshCookieName + "_csrf"
	}
	if cfg.AccessCookieName == cfg.RefreshCookieName || cfg.AccessCookieName == cfg.CSRFCookieName {
		cfg.AccessCookieName = cfg.RefreshCookieName + "_access"
	}

	return cfg
}

func parseSameSite(v string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	case "default":
		return http.SameSiteDefaultMode
	default:
		return http.SameSiteLaxMode
	}
}

func envString(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
