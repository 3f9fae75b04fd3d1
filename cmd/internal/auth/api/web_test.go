package authapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"hub/cmd/internal/auth/session"
)

func webTestConfig() Config {
	return Config{
		WebRefreshCookieEnabled: true,
		RefreshCookieName:       "hub_refresh_token",
		CSRFCookieName:          "hub_csrf_token",
		CSRFHeaderName:          "X-CSRF-Token",
		AccessCookieName:        "hub_access_token",
		CookiePath:              "/",
		CookieSecure:            true,
		CookieSameSite:          http.SameSiteLaxMode,
	}
}

func TestShouldUseWebCookieTransport(t *testing.T) {
	h := &Handler{cfg: Config{WebRefreshCookieEnabled: true}}
	if !h.shouldUseWebCookieTransport(session.PlatformWeb) {
		t.Fatalf("expected web cookie transport enabled for web platform")
	}
	if h.shouldUseWebCookieTransport(session.PlatformIOS) {
		t.Fatalf("expected web cookie transport disabled for non-web platform")
	}
}

func TestSetWebSessionCookies(t *testing.T) {
	h := &Handler{cfg: webTestConfig()}

	rr := httptest.NewRecorder()
	now := time.Now().UTC()
	csrf, err := h.setWebSessionCookies(rr, session.Issued{
		AccessToken:  "access-123",
		AccessExp:    now.Add(15 * time.Minute),
		RefreshToken: "refresh-token-123",
		RefreshExp:   now.Add(30 * time.Minute),
	})
	if err != nil {
		t.Fatalf("setWebSessionCookies: %v", err)
	}
	if csrf == "" {
		t.Fatalf("expected csrf token")
	}

	byName := map[string]*http.Cookie{}
	for _, c := range rr.Result().Cookies() {
		byName[c.Name] = c
	}
	if len(byName) != 3 {
		t.Fatalf("expected 3 cookies, got %d", len(byName))
	}
	if c := byName["hub_refresh_token"]; c == nil || !c.HttpOnly || c.Value != "refresh-token-123" {
		t.Fatalf("refresh cookie: %+v", c)
	}
	if c := byName["hub_csrf_token"]; c == nil || c.HttpOnly || c.Value != csrf {
		t.Fatalf("csrf cookie must be readable by scripts: %+v", c)
	}
	if c := byName["hub_access_token"]; c == nil || !c.HttpOnly || c.Value != "access-123" {
		t.Fatalf("access cookie: %+v", c)
	}
}

func TestClearWebSessionCookies(t *testing.T) {
	h := &Handler{cfg: webTestConfig()}
	rr := httptest.NewRecorder()
	h.clearWebSessionCookies(rr)

	cookies := rr.Result().Cookies()
	if len(cookies) != 3 {
		t.Fatalf("expected 3 expired cookies, got %d", len(cookies))
	}
	for _, c := range cookies {
		if c.MaxAge >= 0 {
			t.Fatalf("cookie %s not expired: MaxAge=%d", c.Name, c.MaxAge)
		}
	}
}

func TestCSRFDoubleSubmitValidation(t *testing.T) {
	h := &Handler{cfg: webTestConfig()}

	req := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
	req.AddCookie(&http.Cookie{Name: "hub_csrf_token", Value: "csrf-abc"})
	req.Header.Set("X-CSRF-Token", "csrf-abc")

	if !h.csrfDoubleSubmitValid(req) {
		t.Fatalf("expected csrf validation success")
	}

	req.Header.Set("X-CSRF-Token", "csrf-def")
	if h.csrfDoubleSubmitValid(req) {
		t.Fatalf("expected csrf validation failure on mismatch")
	}
}

func TestRefreshTokenFromCookie(t *testing.T) {
	h := &Handler{cfg: webTestConfig()}

	req := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
	req.AddCookie(&http.Cookie{Name: "hub_refresh_token", Value: "tok-123"})

	token, ok := h.refreshTokenFromCookie(req)
	if !ok {
		t.Fatalf("expected cookie token to be found")
	}
	if token != "tok-123" {
		t.Fatalf("unexpected cookie token: %q", token)
	}
	if _, ok := h.accessTokenFromCookie(req); ok {
		t.Fatalf("access cookie absent, expected miss")
	}
}
