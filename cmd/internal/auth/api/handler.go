package authapi

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"hub/cmd/identity"
	"hub/cmd/internal/auth/session"
	"hub/cmd/internal/httpjson"
	"hub/cmd/internal/invite"
)

// Users is the slice of the identity service the auth endpoints need.
type Users interface {
	Authenticate(ctx context.Context, email, plain string) (identity.User, error)
	Register(ctx context.Context, in identity.RegisterInput) (identity.User, error)
	GetUser(ctx context.Context, id string) (identity.User, error)
}

// Sessions is the slice of the session service the auth endpoints need.
type Sessions interface {
	IssueSession(ctx context.Context, now time.Time, userID string, dev session.DeviceContext) (session.Issued, error)
	ValidateAccessToken(ctx context.Context, tok string, now time.Time) (session.AccessClaims, error)
	RotateRefresh(ctx context.Context, now time.Time, refreshTokenPlain string, dev session.DeviceContext) (session.Issued, error)
	RevokeSession(ctx context.Context, now time.Time, sessionID string) error
	RevokeAll(ctx context.Context, now time.Time, userID string) error
}

// Invites creates and redeems team invites.
type Invites interface {
	CreateInvite(ctx context.Context, in invite.CreateInput) (invite.Invite, string, error)
	Redeem(ctx context.Context, plain string, create invite.CreateUserFunc) (invite.Invite, string, error)
}

// Handler wires HTTP auth endpoints to identity, session and invite services.
type Handler struct {
	log *slog.Logger
	cfg Config
	now func() time.Time

	users    Users
	sessions Sessions
	invites  Invites

	captcha  CaptchaVerifier
	throttle *loginThrottle
	onAudit  AuditHook
}

// HandlerOption configures optional auth handler dependencies.
type HandlerOption func(*Handler)

// WithCaptchaVerifier overrides the default no-op captcha verifier.
func WithCaptchaVerifier(verifier CaptchaVerifier) HandlerOption {
	return func(h *Handler) {
		if verifier != nil {
			h.captcha = verifier
		}
	}
}

// WithAuditHook registers fn to observe every audit action.
func WithAuditHook(fn AuditHook) HandlerOption {
	return func(h *Handler) { h.onAudit = fn }
}

func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHandler constructs an auth Handler.
func NewHandler(log *slog.Logger, cfg Config, users Users, sessions Sessions, invites Invites, opts ...HandlerOption) (*Handler, error) {
	if users == nil || sessions == nil || invites == nil {
		return nil, errors.New("auth: missing dependency")
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}

	h := &Handler{
		log:      log,
		cfg:      cfg,
		now:      time.Now,
		users:    users,
		sessions: sessions,
		invites:  invites,
		captcha:  NoopCaptchaVerifier{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}

	horizon := cfg.LoginIPWindow
	for _, d := range []time.Duration{cfg.LoginUserWindow, cfg.LockoutShortDuration, cfg.LockoutLongDuration, cfg.LockoutSevereDuration} {
		if d > horizon {
			horizon = d
		}
	}
	h.throttle = newLoginThrottle(horizon)
	return h, nil
}

// Register wires auth routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /auth/login", h.handleLogin)
	mux.HandleFunc("POST /auth/refresh", h.handleRefresh)
	mux.HandleFunc("POST /auth/logout", h.handleLogout)
	mux.HandleFunc("POST /auth/logout_all", h.handleLogoutAll)
	mux.HandleFunc("GET /auth/session", h.handleSession)
	mux.HandleFunc("POST /auth/invites/create", h.handleInviteCreate)
	mux.HandleFunc("POST /auth/invites/consume", h.handleInviteConsume)
	mux.HandleFunc("GET /me", h.handleMe)
}

// ---- handlers ----

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpjson.Decode(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		httpjson.WriteError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	email := identity.NormalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		httpjson.WriteError(w, http.StatusBadRequest, "invalid_request", "email and password are required")
		return
	}

	ctx := r.Context()
	now := h.now().UTC()
	ip := clientIP(r, h.cfg.TrustProxy)
	ua := strings.TrimSpace(r.UserAgent())
	ipKey, userKey := throttleKeys(ip, email)

	// Throttle before touching the password hash.
	if blocked, retryAfter := h.checkLoginIPThrottle(ipKey, now); blocked {
		h.audit(ctx, auditLoginRateLimited, ip, ua, "identifier", email, "retry_after_s", retrySeconds(retryAfter))
		writeRateLimited(w, retryAfter, "rate_limited", "too many attempts")
		return
	}
	if blocked, retryAfter := h.checkLoginUserThrottle(userKey, now); blocked {
		h.audit(ctx, auditLoginRateLimited, ip, ua, "identifier", email, "retry_after_s", retrySeconds(retryAfter))
		writeRateLimited(w, retryAfter, "rate_limited", "too many attempts")
		return
	}
	if err := h.enforceCaptcha(ctx, req.Captcha, ip); err != nil {
		h.writeCaptchaError(w, "auth.login.captcha.fail", err)
		return
	}

	user, err := h.users.Authenticate(ctx, email, req.Password)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidCredentials) {
			h.throttle.record(now, ipKey, userKey)
			h.audit(ctx, auditLoginFailed, ip, ua, "identifier", email)
			httpjson.WriteError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
			return
		}
		h.log.Error("auth.login.fail", "err", err)
		httpjson.WriteError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	h.throttle.reset(userKey)

	dev := session.DeviceContext{
		Platform:   session.ParsePlatform(strings.ToLower(strings.TrimSpace(req.Platform))),
		RememberMe: req.RememberMe,
		UserAgent:  ua,
		IP:         ip,
	}
	issued, err := h.sessions.IssueSession(ctx, now, user.ID, dev)
	if err != nil {
		h.log.Error("auth.login.issue_session.fail", "err", err)
		httpjson.WriteError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	h.audit(ctx, auditLoginSuccess, ip, ua, "user_id", user.ID, "session_id", issued.SessionID)

	respSession, ok := h.deliverSession(w, issued, dev.Platform, false)
	if !ok {
		return
	}
	httpjson.Write(w, http.StatusOK, loginResponse{User: newUserResponse(user), Session: respSession})
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if r.ContentLength != 0 {
		if err := httpjson.Decode(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
			httpjson.WriteError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
			return
		}
	}
	refreshToken := strings.TrimSpace(req.RefreshToken)
	fromCookie := false
	if refreshToken == "" {
		if cookieToken, ok := h.refreshTokenFromCookie(r); ok {
			fromCookie = true
			refreshToken = cookieToken
		}
	}
	if refreshToken == "" {
		httpjson.WriteError(w, http.StatusBadRequest, "invalid_request", "refresh_token is required")
		return
	}
	if fromCookie && !h.csrfDoubleSubmitValid(r) {
		httpjson.WriteError(w, http.StatusForbidden, "csrf_invalid", "missing or invalid csrf token")
		return
	}

	ctx := r.Context()
	now := h.now().UTC()
	ip := clientIP(r, h.cfg.TrustProxy)
	ua := strings.TrimSpace(r.UserAgent())

	platform := session.ParsePlatform(strings.ToLower(strings.TrimSpace(req.Platform)))
	if fromCookie {
		platform = session.PlatformWeb
	}
	dev := session.DeviceContext{Platform: platform, RememberMe: req.RememberMe, UserAgent: ua, IP: ip}

	issued, err := h.sessions.RotateRefresh(ctx, now, refreshToken, dev)
	if err != nil {
		var rlErr session.RefreshRateLimitError
		switch {
		case errors.As(err, &rlErr):
			h.audit(ctx, auditRefreshLimited, ip, ua, "session_id", rlErr.SessionID, "retry_after_s", retrySeconds(rlErr.RetryAfter))
			writeRateLimited(w, rlErr.RetryAfter, "refresh_rate_limited", "refresh attempted too frequently")
		case errors.Is(err, session.ErrRefreshReuseDetected):
			h.audit(ctx, auditRefreshReuse, ip, ua)
			h.clearWebSessionCookies(w)
			httpjson.WriteError(w, http.StatusUnauthorized, "refresh_reuse_detected", "refresh token reuse detected")
		case session.IsUnauthenticated(err):
			h.clearWebSessionCookies(w)
			httpjson.WriteError(w, http.StatusUnauthorized, "session_not_active", "session not active")
		default:
			h.log.Error("auth.refresh.fail", "err", err)
			httpjson.WriteError(w, http.StatusInternalServerError, "server_error", "internal error")
		}
		return
	}
	h.audit(ctx, auditRefreshSuccess, ip, ua, "user_id", issued.UserID, "session_id", issued.SessionID)

	respSession, ok := h.deliverSession(w, issued, platform, fromCookie)
	if !ok {
		return
	}
	httpjson.Write(w, http.StatusOK, refreshResponse{Session: respSession})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.requireAuth(w, r, true)
	if !ok {
		return
	}

	ctx := r.Context()
	if err := h.sessions.RevokeSession(ctx, h.now().UTC(), claims.SessionID); err != nil {
		h.log.Error("auth.logout.fail", "err", err)
		httpjson.WriteError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.audit(ctx, auditLogout, clientIP(r, h.cfg.TrustProxy), strings.TrimSpace(r.UserAgent()),
		"user_id", claims.UserID, "session_id", claims.SessionID)
	h.clearWebSessionCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.requireAuth(w, r, true)
	if !ok {
		return
	}

	ctx := r.Context()
	if err := h.sessions.RevokeAll(ctx, h.now().UTC(), claims.UserID); err != nil {
		h.log.Error("auth.logout_all.fail", "err", err)
		httpjson.WriteError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.audit(ctx, auditLogoutAll, clientIP(r, h.cfg.TrustProxy), strings.TrimSpace(r.UserAgent()), "user_id", claims.UserID)
	h.clearWebSessionCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

// handleSession answers "what is the current session" for the caller's
// access token: 200 with the session, or 401 when there is none.
func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.requireAuth(w, r, false)
	if !ok {
		return
	}
	var resp currentSessionResponse
	resp.Session.UserID = claims.UserID
	resp.Session.SessionID = claims.SessionID
	resp.Session.ExpiresAt = claims.ExpiresAt
	httpjson.Write(w, http.StatusOK, resp)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.requireAuth(w, r, false)
	if !ok {
		return
	}

	u, err := h.users.GetUser(r.Context(), claims.UserID)
	if err != nil {
		if identity.IsNotFound(err) {
			httpjson.WriteError(w, http.StatusUnauthorized, "not_found", "user not found")
			return
		}
		h.log.Error("auth.me.fail", "err", err)
		httpjson.WriteError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	httpjson.Write(w, http.StatusOK, meResponse{User: newUserResponse(u)})
}

func (h *Handler) handleInviteCreate(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.requireAuth(w, r, true)
	if !ok {
		return
	}

	var req inviteCreateRequest
	if r.ContentLength != 0 {
		if err := httpjson.Decode(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
			httpjson.WriteError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
			return
		}
	}

	ctx := r.Context()
	inviter, err := h.users.GetUser(ctx, claims.UserID)
	if err != nil {
		if identity.IsNotFound(err) {
			httpjson.WriteError(w, http.StatusUnauthorized, "not_found", "user not found")
			return
		}
		h.log.Error("auth.invite.create.fail", "err", err)
		httpjson.WriteError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	if !inviter.Role.CanInvite() {
		httpjson.WriteError(w, http.StatusForbidden, "forbidden", "only owners and admins can invite")
		return
	}

	ttl := h.cfg.InviteTTL
	if req.ExpiresInSeconds > 0 {
		ttl = time.Duration(req.ExpiresInSeconds) * time.Second
	}
	if h.cfg.InviteMaxTTL > 0 && ttl > h.cfg.InviteMaxTTL {
		ttl = h.cfg.InviteMaxTTL
	}
	maxUses := h.cfg.InviteMaxUses
	if req.MaxUses > 0 {
		maxUses = req.MaxUses
	}
	if h.cfg.InviteMaxUsesMax > 0 && maxUses > h.cfg.InviteMaxUsesMax {
		maxUses = h.cfg.InviteMaxUsesMax
	}

	inv, plain, err := h.invites.CreateInvite(ctx, invite.CreateInput{
		CreatedBy: &claims.UserID,
		Role:      req.Role,
		TTL:       ttl,
		MaxUses:   maxUses,
		Note:      req.Note,
	})
	if err != nil {
		if errors.Is(err, invite.ErrInvalidInput) {
			httpjson.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		h.log.Error("auth.invite.create.fail", "err", err)
		httpjson.WriteError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.audit(ctx, auditInviteCreated, clientIP(r, h.cfg.TrustProxy), strings.TrimSpace(r.UserAgent()),
		"user_id", claims.UserID, "invite_id", inv.ID, "role", inv.Role)
	httpjson.Write(w, http.StatusOK, inviteCreateResponse{
		InviteID:    inv.ID,
		InviteToken: plain,
		Role:        inv.Role,
		MaxUses:     inv.MaxUses,
		ExpiresAt:   inv.ExpiresAt,
	})
}

func (h *Handler) handleInviteConsume(w http.ResponseWriter, r *http.Request) {
	var req inviteConsumeRequest
	if err := httpjson.Decode(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		httpjson.WriteError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	tok := strings.TrimSpace(req.InviteToken)
	if tok == "" {
		httpjson.WriteError(w, http.StatusBadRequest, "invalid_request", "invite_token is required")
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		httpjson.WriteError(w, http.StatusBadRequest, "invalid_request", "email and password are required")
		return
	}

	ctx := r.Context()
	now := h.now().UTC()
	ip := clientIP(r, h.cfg.TrustProxy)
	ua := strings.TrimSpace(r.UserAgent())
	if err := h.enforceCaptcha(ctx, req.Captcha, ip); err != nil {
		h.writeCaptchaError(w, "auth.invite.consume.captcha.fail", err)
		return
	}

	var user identity.User
	inv, _, err := h.invites.Redeem(ctx, tok, func(ctx context.Context, role identity.Role) (string, error) {
		u, err := h.users.Register(ctx, identity.RegisterInput{
			Email:       req.Email,
			DisplayName: req.DisplayName,
			Role:        role,
			Password:    req.Password,
		})
		if err != nil {
			return "", err
		}
		user = u
		return u.ID, nil
	})
	if err != nil {
		switch {
		case identity.IsConflict(err):
			httpjson.WriteError(w, http.StatusConflict, "conflict", "email already exists")
		case identity.IsInvalidInput(err):
			httpjson.WriteError(w, http.StatusBadRequest, "invalid_request", "invalid input")
		case errors.Is(err, invite.ErrNotActive), errors.Is(err, invite.ErrNotFound):
			httpjson.WriteError(w, http.StatusBadRequest, "invalid_invite", "invalid or expired invite")
		default:
			h.log.Error("auth.invite.consume.fail", "err", err)
			httpjson.WriteError(w, http.StatusInternalServerError, "server_error", "internal error")
		}
		return
	}

	dev := session.DeviceContext{
		Platform:   session.ParsePlatform(strings.ToLower(strings.TrimSpace(req.Platform))),
		RememberMe: req.RememberMe,
		UserAgent:  ua,
		IP:         ip,
	}
	issued, err := h.sessions.IssueSession(ctx, now, user.ID, dev)
	if err != nil {
		h.log.Error("auth.invite.consume.issue_session.fail", "err", err)
		httpjson.WriteError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	h.audit(ctx, auditInviteConsumed, ip, ua, "user_id", user.ID, "invite_id", inv.ID, "role", user.Role)

	respSession, ok := h.deliverSession(w, issued, dev.Platform, false)
	if !ok {
		return
	}
	httpjson.Write(w, http.StatusOK, inviteConsumeResponse{
		User:     newUserResponse(user),
		Session:  respSession,
		InviteID: inv.ID,
	})
}

// ---- helpers ----

// deliverSession moves the refresh token into cookies for web clients and
// strips it from the JSON body.
func (h *Handler) deliverSession(w http.ResponseWriter, issued session.Issued, platform session.Platform, force bool) (sessionResponse, bool) {
	resp := newSessionResponse(issued)
	if !force && !h.shouldUseWebCookieTransport(platform) {
		return resp, true
	}
	if _, err := h.setWebSessionCookies(w, issued); err != nil {
		h.log.Error("auth.web_cookie.fail", "err", err)
		httpjson.WriteError(w, http.StatusInternalServerError, "server_error", "internal error")
		return sessionResponse{}, false
	}
	resp.RefreshToken = ""
	return resp, true
}

// requireAuth validates the bearer token or, for browsers, the access
// cookie. Cookie-authenticated state changes must pass the CSRF check.
func (h *Handler) requireAuth(w http.ResponseWriter, r *http.Request, mutating bool) (session.AccessClaims, bool) {
	tok := bearerToken(r)
	if tok == "" {
		if c, ok := h.accessTokenFromCookie(r); ok {
			if mutating && !h.csrfDoubleSubmitValid(r) {
				httpjson.WriteError(w, http.StatusForbidden, "csrf_invalid", "missing or invalid csrf token")
				return session.AccessClaims{}, false
			}
			tok = c
		}
	}
	if tok == "" {
		httpjson.WriteError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return session.AccessClaims{}, false
	}
	claims, err := h.sessions.ValidateAccessToken(r.Context(), tok, h.now().UTC())
	if err != nil {
		if !session.IsUnauthenticated(err) {
			h.log.Error("auth.validate.fail", "err", err)
		}
		httpjson.WriteError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
		return session.AccessClaims{}, false
	}
	return claims, true
}

func (h *Handler) writeCaptchaError(w http.ResponseWriter, event string, err error) {
	if errors.Is(err, ErrCaptchaRequired) || errors.Is(err, ErrCaptchaInvalid) {
		httpjson.WriteError(w, http.StatusForbidden, "captcha_invalid", "captcha verification failed")
		return
	}
	h.log.Error(event, "err", err)
	httpjson.WriteError(w, http.StatusServiceUnavailable, "server_busy", "please retry later")
}

func throttleKeys(ip net.IP, email string) (string, string) {
	ipKey := ""
	if ip != nil {
		ipKey = "ip:" + ip.String()
	}
	return ipKey, "user:" + email
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return ""
	}
	parts := strings.SplitN(raw, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func clientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

func parseForwardedIP(raw string) net.IP {
	if raw == "" {
		return nil
	}
	for _, p := range strings.Split(raw, ",") {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}
