package authapi

import (
	"context"
	"errors"
	"net"
	"strings"
)

var (
	// ErrCaptchaRequired indicates captcha is enabled but token is missing.
	ErrCaptchaRequired = errors.New("captcha token required")
	// ErrCaptchaInvalid indicates captcha verification failed.
	ErrCaptchaInvalid = errors.New("captcha invalid")
)

// CaptchaVerifier verifies user-provided captcha tokens on login and signup.
type CaptchaVerifier interface {
	Verify(ctx context.Context, token string, ip net.IP) error
}

// NoopCaptchaVerifier accepts every token.
type NoopCaptchaVerifier struct{}

func (NoopCaptchaVerifier) Verify(_ context.Context, _ string, _ net.IP) error { return nil }

func (h *Handler) enforceCaptcha(ctx context.Context, token string, ip net.IP) error {
	if h == nil || !h.cfg.EnableCaptcha {
		return nil
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrCaptchaRequired
	}
	if h.captcha == nil {
		return errors.New("captcha verifier not configured")
	}
	if err := h.captcha.Verify(ctx, token, ip); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return ErrCaptchaInvalid
	}
	return nil
}
