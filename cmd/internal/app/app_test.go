package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRuntimeBaseURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{name: "explicit localhost", in: "127.0.0.1:8080", want: "http://127.0.0.1:8080"},
		{name: "bind all v4", in: "0.0.0.0:8080", want: "http://127.0.0.1:8080"},
		{name: "bind all v6", in: "[::]:9090", want: "http://127.0.0.1:9090"},
		{name: "ipv6 host", in: "[2001:db8::1]:9090", want: "http://[2001:db8::1]:9090"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := runtimeBaseURL(tc.in)
			if got != tc.want {
				t.Fatalf("runtimeBaseURL(%q)=%q want=%q", tc.in, got, tc.want)
			}
		})
	}
}

func TestWSBaseURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{in: "http://127.0.0.1:8080", want: "ws://127.0.0.1:8080"},
		{in: "https://hub.example.com", want: "wss://hub.example.com"},
		{in: "127.0.0.1:8080", want: "ws://127.0.0.1:8080"},
	}

	for _, tc := range cases {
		got := wsBaseURL(tc.in)
		if got != tc.want {
			t.Fatalf("wsBaseURL(%q)=%q want=%q", tc.in, got, tc.want)
		}
	}
}

const (
	ownerEmail    = "owner@marquente.test"
	ownerPassword = "tide-pools-at-dawn-2026"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newDevApp builds the server on memory stores with cheap password hashing.
func newDevApp(t *testing.T) *App {
	t.Helper()
	t.Setenv("HUB_PASETO_V4_SECRET_KEY_HEX", "")
	t.Setenv("HUB_TOKEN_HMAC_KEY", "")
	t.Setenv("HUB_ARGON2_MEMORY_KIB", "8192")
	t.Setenv("HUB_ARGON2_ITERATIONS", "1")

	cfg := DefaultConfig()
	cfg.DevMode = true
	cfg.HTTPAddr = "127.0.0.1:0"
	cfg.BootstrapOwnerEmail = ownerEmail
	cfg.BootstrapOwnerPassword = ownerPassword

	a, err := New(context.Background(), cfg, discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(a.Close)
	return a
}

type httpClient struct {
	t     *testing.T
	base  string
	token string
}

func (c httpClient) do(method, path string, body any) (*http.Response, []byte) {
	c.t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, c.base+path, rd)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	hc := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
	res, err := hc.Do(req)
	if err != nil {
		c.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer res.Body.Close()
	out, err := io.ReadAll(res.Body)
	if err != nil {
		c.t.Fatalf("read body: %v", err)
	}
	return res, out
}

func TestApp_DevModeEndToEnd(t *testing.T) {
	a := newDevApp(t)
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)

	anon := httpClient{t: t, base: srv.URL}

	res, body := anon.do(http.MethodGet, "/healthz", nil)
	if res.StatusCode != http.StatusOK || string(body) != "ok\n" {
		t.Fatalf("healthz status=%d body=%q", res.StatusCode, body)
	}
	if got := res.Header.Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("security headers missing: %q", got)
	}

	res, _ = anon.do(http.MethodGet, "/readyz", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("readyz status=%d", res.StatusCode)
	}

	res, _ = anon.do(http.MethodGet, "/api/projects", nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous api status=%d, want 401", res.StatusCode)
	}

	res, _ = anon.do(http.MethodGet, "/dashboard", nil)
	if res.StatusCode != http.StatusSeeOther || res.Header.Get("Location") != "/login?next=%2Fdashboard" {
		t.Fatalf("anonymous dashboard status=%d location=%q", res.StatusCode, res.Header.Get("Location"))
	}

	res, body = anon.do(http.MethodPost, "/auth/login", map[string]any{
		"email":    ownerEmail,
		"password": ownerPassword,
		"platform": "desktop",
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("login status=%d body=%s", res.StatusCode, body)
	}
	var login struct {
		User struct {
			Role string `json:"role"`
		} `json:"user"`
		Session struct {
			AccessToken string `json:"access_token"`
		} `json:"session"`
	}
	if err := json.Unmarshal(body, &login); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	if login.User.Role != "owner" || login.Session.AccessToken == "" {
		t.Fatalf("unexpected login response: %s", body)
	}

	owner := httpClient{t: t, base: srv.URL, token: login.Session.AccessToken}

	res, body = owner.do(http.MethodGet, "/auth/session", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("session status=%d body=%s", res.StatusCode, body)
	}

	res, body = owner.do(http.MethodPost, "/api/categories", map[string]string{"name": "Events", "color": "#ff7f50"})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create category status=%d body=%s", res.StatusCode, body)
	}

	res, body = owner.do(http.MethodGet, "/api/stats/overview", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("overview status=%d body=%s", res.StatusCode, body)
	}

	res, _ = owner.do(http.MethodGet, "/dashboard", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dashboard status=%d", res.StatusCode)
	}

	res, body = anon.do(http.MethodGet, "/metrics", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("metrics status=%d", res.StatusCode)
	}
	for _, want := range []string{
		`hub_auth_events_total{action="auth.login.success"} 1`,
		`hub_gate_transitions_total{to="authenticated"}`,
		`hub_gate_transitions_total{to="unauthenticated"}`,
		`hub_http_requests_total{code="200",method="GET",route="GET /healthz"} 1`,
		`hub_gate_active 0`,
		`hub_stream_connections 0`,
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("metrics missing %q", want)
		}
	}
}

func TestApp_ServeStopsOnCancel(t *testing.T) {
	a := newDevApp(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, ln) }()

	c := httpClient{t: t, base: "http://" + ln.Addr().String()}
	deadline := time.Now().Add(5 * time.Second)
	for {
		conn, err := net.DialTimeout("tcp", ln.Addr().String(), 200*time.Millisecond)
		if err == nil {
			conn.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server did not come up: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}
	if res, _ := c.do(http.MethodGet, "/healthz", nil); res.StatusCode != http.StatusOK {
		t.Fatalf("healthz status=%d", res.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Serve did not return after cancel")
	}
}

func TestNew_RequiresDatabaseOutsideDevMode(t *testing.T) {
	t.Setenv("HUB_PASETO_V4_SECRET_KEY_HEX", "")
	cfg := DefaultConfig()
	if _, err := New(context.Background(), cfg, discardLogger()); err == nil {
		t.Fatalf("expected an error without a database outside dev mode")
	}
}
