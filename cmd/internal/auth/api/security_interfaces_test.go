package authapi

import (
	"context"
	"errors"
	"net"
	"testing"
)

func TestEnforceCaptcha_DisabledBypassesVerification(t *testing.T) {
	h := &Handler{
		cfg:     Config{EnableCaptcha: false},
		captcha: &captchaVerifierStub{err: errors.New("should not be called")},
	}

	if err := h.enforceCaptcha(context.Background(), "", nil); err != nil {
		t.Fatalf("expected nil when captcha disabled, got %v", err)
	}
}

func TestEnforceCaptcha_EnabledMissingToken(t *testing.T) {
	h := &Handler{
		cfg:     Config{EnableCaptcha: true},
		captcha: NoopCaptchaVerifier{},
	}

	err := h.enforceCaptcha(context.Background(), "   ", nil)
	if !errors.Is(err, ErrCaptchaRequired) {
		t.Fatalf("expected ErrCaptchaRequired, got %v", err)
	}
}

func TestEnforceCaptcha_EnabledInvalidToken(t *testing.T) {
	stub := &captchaVerifierStub{err: errors.New("provider rejected")}
	h := &Handler{
		cfg:     Config{EnableCaptcha: true},
		captcha: stub,
	}

	err := h.enforceCaptcha(context.Background(), "token-1", net.ParseIP("127.0.0.1"))
	if !errors.Is(err, ErrCaptchaInvalid) {
		t.Fatalf("expected ErrCaptchaInvalid, got %v", err)
	}
	if stub.calls != 1 {
		t.Fatalf("expected verifier to be called once, got %d", stub.calls)
	}
}

func TestEnforceCaptcha_ContextErrorsPassThrough(t *testing.T) {
	h := &Handler{
		cfg:     Config{EnableCaptcha: true},
		captcha: &captchaVerifierStub{err: context.DeadlineExceeded},
	}

	if err := h.enforceCaptcha(context.Background(), "token-1", nil); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}

func TestEnforceCaptcha_EnabledValidToken(t *testing.T) {
	stub := &captchaVerifierStub{}
	ip := net.ParseIP("127.0.0.1")
	h := &Handler{
		cfg:     Config{EnableCaptcha: true},
		captcha: stub,
	}

	if err := h.enforceCaptcha(context.Background(), " token-ok ", ip); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if stub.lastToken != "token-ok" {
		t.Fatalf("expected trimmed token, got %q", stub.lastToken)
	}
	if stub.lastIP == nil || !stub.lastIP.Equal(ip) {
		t.Fatalf("expected ip=%v got=%v", ip, stub.lastIP)
	}
}

type captchaVerifierStub struct {
	calls     int
	lastToken string
	lastIP    net.IP
	err       error
}

func (s *captchaVerifierStub) Verify(_ context.Context, token string, ip net.IP) error {
	s.calls++
	s.lastToken = token
	s.lastIP = ip
	return s.err
}
