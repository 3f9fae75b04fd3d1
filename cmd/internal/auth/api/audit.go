package authapi

import (
	"context"
	"log/slog"
	"net"
	"time"
)

// Audit actions. They double as the label of the auth events metric.
const (
	auditLoginSuccess     = "auth.login.success"
	auditLoginFailed      = "auth.login.failed"
	auditLoginRateLimited = "auth.login.rate_limited"
	auditRefreshSuccess   = "auth.refresh.success"
	auditRefreshReuse     = "auth.refresh.reuse_detected"
	auditRefreshLimited   = "auth.refresh.rate_limited"
	auditLogout           = "auth.logout"
	auditLogoutAll        = "auth.logout_all"
	auditInviteCreated    = "auth.invite.created"
	auditInviteConsumed   = "auth.invite.consumed"
)

// AuditHook observes every audit action, e.g. to count them.
type AuditHook func(action string)

func (h *Handler) audit(ctx context.Context, action string, ip net.IP, ua string, attrs ...any) {
	if h.onAudit != nil {
		h.onAudit(action)
	}
	args := make([]any, 0, len(attrs)+6)
	args = append(args, "action", action)
	if ip != nil {
		args = append(args, "ip", ip.String())
	}
	if ua != "" {
		args = append(args, "user_agent", ua)
	}
	args = append(args, attrs...)

	level := slog.LevelInfo
	switch action {
	case auditLoginFailed, auditLoginRateLimited, auditRefreshLimited:
		level = slog.LevelWarn
	case auditRefreshReuse:
		level = slog.LevelError
	}
	h.log.Log(ctx, level, "auth.audit", args...)
}

func retrySeconds(d time.Duration) int64 { return int64(d.Seconds()) }
