package authapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"hub/cmd/identity"
	"hub/cmd/internal/auth/events"
	"hub/cmd/internal/auth/session"
	"hub/cmd/internal/httpjson"
	"hub/cmd/internal/invite"
	"hub/cmd/security/password"
)

const testPassword = "Very-Strong-Password-1!"

type authFixture struct {
	srv      *httptest.Server
	users    *identity.Service
	sessions *session.Service
	broker   *events.Broker

	mu     sync.Mutex
	audits []string
}

func testAuthConfig() Config {
	return Config{
		InviteTTL:               24 * time.Hour,
		InviteMaxTTL:            48 * time.Hour,
		InviteMaxUses:           1,
		InviteMaxUsesMax:        5,
		MaxBodyBytes:            1 << 16,
		LoginIPMax:              50,
		LoginIPWindow:           5 * time.Minute,
		LoginUserMax:            50,
		LoginUserWindow:         15 * time.Minute,
		LockoutShortThreshold:   3,
		LockoutShortDuration:    5 * time.Minute,
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

func testPasswordConfig() password.Config {
	cfg := password.DefaultConfig()
	cfg.Params.MemoryKiB = 8 * 1024
	cfg.Params.Iterations = 1
	cfg.Params.Parallelism = 1
	return cfg
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	scfg := session.DefaultConfig()
	scfg.PasetoV4SecretKeyHex = session.GenerateSecretKeyHex()
	scfg.RefreshMinInterval = 0
	tokens, err := session.NewPasetoV4PublicManager(scfg)
	if err != nil {
		t.Fatalf("tokens: %v", err)
	}

	f := &authFixture{broker: events.NewBroker(log)}
	f.users = identity.NewService(identity.NewMemoryStore(), testPasswordConfig(), identity.WithLogger(log))
	f.sessions = session.NewService(scfg, session.NewMemoryStore(), tokens, session.WithEvents(f.broker), session.WithLogger(log))
	invites, err := invite.NewService(invite.NewMemoryStore(), invite.WithLogger(log))
	if err != nil {
		t.Fatalf("invites: %v", err)
	}

	h, err := NewHandler(log, testAuthConfig(), f.users, f.sessions, invites,
		WithAuditHook(func(action string) {
			f.mu.Lock()
			f.audits = append(f.audits, action)
			f.mu.Unlock()
		}))
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	mux := http.NewServeMux()
	h.Register(mux)
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *authFixture) mustRegister(t *testing.T, email string, role identity.Role) identity.User {
	t.Helper()
	u, err := f.users.Register(context.Background(), identity.RegisterInput{
		Email:       email,
		DisplayName: email,
		Role:        role,
		Password:    testPassword,
	})
	if err != nil {
		t.Fatalf("register %s: %v", email, err)
	}
	return u
}

type reqOpt func(*http.Request)

func withBearer(tok string) reqOpt {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+tok) }
}

func withCookies(cs ...*http.Cookie) reqOpt {
	return func(r *http.Request) {
		for _, c := range cs {
			if c != nil {
				r.AddCookie(c)
			}
		}
	}
}

func withHeader(k, v string) reqOpt {
	return func(r *http.Request) { r.Header.Set(k, v) }
}

func (f *authFixture) do(t *testing.T, method, path string, payload any, opts ...reqOpt) *http.Response {
	t.Helper()
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, o := range opts {
		o(req)
	}
	res, err := f.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { _ = res.Body.Close() })
	return res
}

func decodeBody[T any](t *testing.T, res *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(res.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func cookieByName(cookies []*http.Cookie, name string) *http.Cookie {
	for _, c := range cookies {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func (f *authFixture) mustLogin(t *testing.T, email, platform string) (loginResponse, *http.Response) {
	t.Helper()
	res := f.do(t, http.MethodPost, "/auth/login", loginRequest{Email: email, Password: testPassword, Platform: platform})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("login %s: status %d", email, res.StatusCode)
	}
	return decodeBody[loginResponse](t, res), res
}

func TestAuthAPI_LoginFailure_NoEnumeration(t *testing.T) {
	f := newAuthFixture(t)
	f.mustRegister(t, "ana@marquente.dev", identity.RoleMember)

	resA := f.do(t, http.MethodPost, "/auth/login", loginRequest{Email: "nobody@marquente.dev", Password: testPassword})
	resB := f.do(t, http.MethodPost, "/auth/login", loginRequest{Email: "ana@marquente.dev", Password: "Wrong-Password-1!"})
	if resA.StatusCode != http.StatusUnauthorized || resB.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401/401, got %d/%d", resA.StatusCode, resB.StatusCode)
	}
	errA := decodeBody[httpjson.ErrorBody](t, resA)
	errB := decodeBody[httpjson.ErrorBody](t, resB)
	if errA != errB {
		t.Fatalf("error bodies differ: %+v vs %+v", errA, errB)
	}
}

func TestAuthAPI_LoginLockout(t *testing.T) {
	f := newAuthFixture(t)
	f.mustRegister(t, "ana@marquente.dev", identity.RoleMember)

	for i := 0; i < 3; i++ {
		res := f.do(t, http.MethodPost, "/auth/login", loginRequest{Email: "ana@marquente.dev", Password: "Wrong-Password-1!"})
		if res.StatusCode != http.StatusUnauthorized {
			t.Fatalf("attempt %d: status %d", i, res.StatusCode)
		}
	}

	// The correct password is refused while locked out.
	res := f.do(t, http.MethodPost, "/auth/login", loginRequest{Email: "ANA@marquente.dev", Password: testPassword})
	if res.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", res.StatusCode)
	}
	if res.Header.Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
	if got := decodeBody[httpjson.ErrorBody](t, res).Error.Code; got != "rate_limited" {
		t.Fatalf("code=%q", got)
	}
}

func TestAuthAPI_SessionEndpointFollowsLogout(t *testing.T) {
	f := newAuthFixture(t)
	u := f.mustRegister(t, "ana@marquente.dev", identity.RoleMember)

	res := f.do(t, http.MethodGet, "/auth/session", nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous session: %d", res.StatusCode)
	}

	login, _ := f.mustLogin(t, "ana@marquente.dev", "ios")
	if login.Session.RefreshToken == "" {
		t.Fatalf("native login must return the refresh token in the body")
	}

	res = f.do(t, http.MethodGet, "/auth/session", nil, withBearer(login.Session.AccessToken))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("session: %d", res.StatusCode)
	}
	cur := decodeBody[currentSessionResponse](t, res)
	if cur.Session.UserID != u.ID || cur.Session.SessionID != login.Session.SessionID {
		t.Fatalf("unexpected session: %+v", cur.Session)
	}

	got := make(chan events.Reason, 4)
	sub := f.broker.Subscribe(u.ID, func(ev events.Event) { got <- ev.Reason })
	defer sub.Release()

	res = f.do(t, http.MethodPost, "/auth/logout", nil, withBearer(login.Session.AccessToken))
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("logout: %d", res.StatusCode)
	}
	select {
	case reason := <-got:
		if reason != events.ReasonLogout {
			t.Fatalf("expected logout event, got %q", reason)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no session event after logout")
	}

	res = f.do(t, http.MethodGet, "/auth/session", nil, withBearer(login.Session.AccessToken))
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("session after logout: %d", res.StatusCode)
	}
}

func TestAuthAPI_RefreshReuseDetected_RevokesAll(t *testing.T) {
	f := newAuthFixture(t)
	f.mustRegister(t, "ana@marquente.dev", identity.RoleMember)

	login, _ := f.mustLogin(t, "ana@marquente.dev", "android")
	other, _ := f.mustLogin(t, "ana@marquente.dev", "desktop")

	res := f.do(t, http.MethodPost, "/auth/refresh", refreshRequest{RefreshToken: login.Session.RefreshToken, Platform: "android"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("refresh: %d", res.StatusCode)
	}
	rotated := decodeBody[refreshResponse](t, res)
	if rotated.Session.SessionID == login.Session.SessionID || rotated.Session.RefreshToken == "" {
		t.Fatalf("expected a new session, got %+v", rotated.Session)
	}

	res = f.do(t, http.MethodPost, "/auth/refresh", refreshRequest{RefreshToken: login.Session.RefreshToken, Platform: "android"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("reuse: %d", res.StatusCode)
	}
	if got := decodeBody[httpjson.ErrorBody](t, res).Error.Code; got != "refresh_reuse_detected" {
		t.Fatalf("code=%q", got)
	}

	for _, tok := range []string{rotated.Session.AccessToken, other.Session.AccessToken} {
		res := f.do(t, http.MethodGet, "/me", nil, withBearer(tok))
		if res.StatusCode != http.StatusUnauthorized {
			t.Fatalf("expected every session revoked, /me=%d", res.StatusCode)
		}
	}
}

func TestAuthAPI_LogoutAll(t *testing.T) {
	f := newAuthFixture(t)
	f.mustRegister(t, "ana@marquente.dev", identity.RoleMember)

	a, _ := f.mustLogin(t, "ana@marquente.dev", "ios")
	b, _ := f.mustLogin(t, "ana@marquente.dev", "desktop")

	res := f.do(t, http.MethodGet, "/me", nil, withBearer(b.Session.AccessToken))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("/me: %d", res.StatusCode)
	}
	if me := decodeBody[meResponse](t, res); me.User.Email != "ana@marquente.dev" {
		t.Fatalf("unexpected user: %+v", me.User)
	}

	res = f.do(t, http.MethodPost, "/auth/logout_all", nil, withBearer(a.Session.AccessToken))
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("logout_all: %d", res.StatusCode)
	}
	res = f.do(t, http.MethodGet, "/me", nil, withBearer(b.Session.AccessToken))
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("other device still signed in: %d", res.StatusCode)
	}
}

func TestAuthAPI_WebCookieCSRFRefreshFlow(t *testing.T) {
	f := newAuthFixture(t)
	f.mustRegister(t, "ana@marquente.dev", identity.RoleMember)

	login, res := f.mustLogin(t, "ana@marquente.dev", "web")
	if login.Session.RefreshToken != "" {
		t.Fatalf("web login must not expose the refresh token in JSON")
	}
	refresh := cookieByName(res.Cookies(), "hub_refresh_token")
	csrf := cookieByName(res.Cookies(), "hub_csrf_token")
	access := cookieByName(res.Cookies(), "hub_access_token")
	if refresh == nil || csrf == nil || access == nil {
		t.Fatalf("expected refresh, csrf and access cookies")
	}

	// The access cookie alone authenticates reads.
	res = f.do(t, http.MethodGet, "/auth/session", nil, withCookies(access))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("session via cookie: %d", res.StatusCode)
	}

	res = f.do(t, http.MethodPost, "/auth/refresh", nil, withCookies(refresh, csrf))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("refresh without csrf header: %d", res.StatusCode)
	}

	res = f.do(t, http.MethodPost, "/auth/refresh", nil, withCookies(refresh, csrf), withHeader("X-CSRF-Token", csrf.Value))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("refresh with csrf: %d", res.StatusCode)
	}
	if body := decodeBody[refreshResponse](t, res); body.Session.RefreshToken != "" {
		t.Fatalf("cookie refresh must not expose the refresh token")
	}
	newCSRF := cookieByName(res.Cookies(), "hub_csrf_token")
	newAccess := cookieByName(res.Cookies(), "hub_access_token")
	if newCSRF == nil || newAccess == nil {
		t.Fatalf("expected rotated cookies")
	}

	// Cookie-authenticated logout needs the CSRF header too.
	res = f.do(t, http.MethodPost, "/auth/logout", nil, withCookies(newAccess, newCSRF))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("logout without csrf: %d", res.StatusCode)
	}
	res = f.do(t, http.MethodPost, "/auth/logout", nil, withCookies(newAccess, newCSRF), withHeader("X-CSRF-Token", newCSRF.Value))
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("logout with csrf: %d", res.StatusCode)
	}
	if c := cookieByName(res.Cookies(), "hub_access_token"); c == nil || c.MaxAge >= 0 {
		t.Fatalf("expected access cookie cleared")
	}
}

func TestAuthAPI_InviteSignupFlow(t *testing.T) {
	f := newAuthFixture(t)
	f.mustRegister(t, "owner@marquente.dev", identity.RoleOwner)
	f.mustRegister(t, "member@marquente.dev", identity.RoleMember)

	owner, _ := f.mustLogin(t, "owner@marquente.dev", "desktop")
	member, _ := f.mustLogin(t, "member@marquente.dev", "desktop")

	res := f.do(t, http.MethodPost, "/auth/invites/create", inviteCreateRequest{}, withBearer(member.Session.AccessToken))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("member invite: %d", res.StatusCode)
	}
	res = f.do(t, http.MethodPost, "/auth/invites/create", inviteCreateRequest{Role: identity.RoleOwner}, withBearer(owner.Session.AccessToken))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("owner-role invite: %d", res.StatusCode)
	}

	res = f.do(t, http.MethodPost, "/auth/invites/create", inviteCreateRequest{Role: identity.RoleAdmin, MaxUses: 99}, withBearer(owner.Session.AccessToken))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("create invite: %d", res.StatusCode)
	}
	created := decodeBody[inviteCreateResponse](t, res)
	if created.InviteToken == "" || created.Role != identity.RoleAdmin || created.MaxUses != 5 {
		t.Fatalf("unexpected invite: %+v", created)
	}

	weak := f.do(t, http.MethodPost, "/auth/invites/consume", inviteConsumeRequest{
		InviteToken: created.InviteToken, Email: "bia@marquente.dev", Password: "short",
	})
	if weak.StatusCode != http.StatusBadRequest {
		t.Fatalf("weak password consume: %d", weak.StatusCode)
	}

	res = f.do(t, http.MethodPost, "/auth/invites/consume", inviteConsumeRequest{
		InviteToken: created.InviteToken,
		Email:       "bia@marquente.dev",
		DisplayName: "Bia",
		Password:    testPassword,
		Platform:    "ios",
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("consume: %d", res.StatusCode)
	}
	consumed := decodeBody[inviteConsumeResponse](t, res)
	if consumed.User.Role != identity.RoleAdmin || consumed.InviteID != created.InviteID || consumed.Session.AccessToken == "" {
		t.Fatalf("unexpected consume response: %+v", consumed)
	}

	dup := f.do(t, http.MethodPost, "/auth/invites/consume", inviteConsumeRequest{
		InviteToken: created.InviteToken, Email: "bia@marquente.dev", Password: testPassword,
	})
	if dup.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate email consume: %d", dup.StatusCode)
	}

	bad := f.do(t, http.MethodPost, "/auth/invites/consume", inviteConsumeRequest{
		InviteToken: "not-a-real-invite", Email: "cai@marquente.dev", Password: testPassword,
	})
	if bad.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown invite: %d", bad.StatusCode)
	}
	if got := decodeBody[httpjson.ErrorBody](t, bad).Error.Code; got != "invalid_invite" {
		t.Fatalf("code=%q", got)
	}

	if _, res := f.mustLogin(t, "bia@marquente.dev", "ios"); res.StatusCode != http.StatusOK {
		t.Fatalf("new member cannot log in")
	}

	wantAudits := map[string]bool{auditInviteCreated: false, auditInviteConsumed: false, auditLoginSuccess: false}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.audits {
		if _, ok := wantAudits[a]; ok {
			wantAudits[a] = true
		}
	}
	for a, seen := range wantAudits {
		if !seen {
			t.Fatalf("audit %q not recorded", a)
		}
	}
}

func TestAuthAPI_RejectsBadRequests(t *testing.T) {
	f := newAuthFixture(t)

	cases := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"login missing password", http.MethodPost, "/auth/login", map[string]string{"email": "a@b.c"}, http.StatusBadRequest},
		{"login unknown field", http.MethodPost, "/auth/login", map[string]string{"username": "ana"}, http.StatusBadRequest},
		{"refresh without token", http.MethodPost, "/auth/refresh", map[string]string{}, http.StatusBadRequest},
		{"consume without invite", http.MethodPost, "/auth/invites/consume", map[string]string{"email": "a@b.c", "password": testPassword}, http.StatusBadRequest},
		{"logout anonymous", http.MethodPost, "/auth/logout", nil, http.StatusUnauthorized},
		{"login wrong method", http.MethodGet, "/auth/login", nil, http.StatusMethodNotAllowed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := f.do(t, tc.method, tc.path, tc.body)
			if res.StatusCode != tc.want {
				t.Fatalf("status=%d want %d", res.StatusCode, tc.want)
			}
		})
	}
}
