package authapi

import (
	"time"

	"hub/cmd/identity"
	"hub/cmd/internal/auth/session"
)

type loginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"remember_me"`
	Platform   string `json:"platform"`
	Captcha    string `json:"captcha,omitempty"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
	RememberMe   bool   `json:"remember_me"`
	Platform     string `json:"platform"`
}

type inviteCreateRequest struct {
	Role             identity.Role `json:"role"`
	ExpiresInSeconds int64         `json:"expires_in_seconds"`
	MaxUses          int           `json:"max_uses"`
	Note             *string       `json:"note"`
}

type inviteConsumeRequest struct {
	InviteToken string `json:"invite_token"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Password    string `json:"password"`
	RememberMe  bool   `json:"remember_me"`
	Platform    string `json:"platform"`
	Captcha     string `json:"captcha,omitempty"`
}

type userResponse struct {
	ID          string        `json:"id"`
	Email       string        `json:"email"`
	DisplayName string        `json:"display_name"`
	Role        identity.Role `json:"role"`
	CreatedAt   time.Time     `json:"created_at"`
}

func newUserResponse(u identity.User) userResponse {
	return userResponse{ID: u.ID, Email: u.Email, DisplayName: u.DisplayName, Role: u.Role, CreatedAt: u.CreatedAt}
}

type sessionResponse struct {
	SessionID        string    `json:"session_id"`
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token,omitempty"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// newSessionResponse copies issued tokens for the body. Web clients get the
// refresh token blanked by the caller since it travels in a cookie.
func newSessionResponse(in session.Issued) sessionResponse {
	return sessionResponse{
		SessionID:        in.SessionID,
		AccessToken:      in.AccessToken,
		AccessExpiresAt:  in.AccessExp,
		RefreshToken:     in.RefreshToken,
		RefreshExpiresAt: in.RefreshExp,
	}
}

// currentSessionResponse is the HTTP form of "get current session": it
// never carries tokens.
type currentSessionResponse struct {
	Session struct {
		UserID    string    `json:"user_id"`
		SessionID string    `json:"session_id"`
		ExpiresAt time.Time `json:"expires_at"`
	} `json:"session"`
}

type loginResponse struct {
	User    userResponse    `json:"user"`
	Session sessionResponse `json:"session"`
}

type refreshResponse struct {
	Session sessionResponse `json:"session"`
}

type meResponse struct {
	User userResponse `json:"user"`
}

type inviteCreateResponse struct {
	InviteID    string        `json:"invite_id"`
	InviteToken string        `json:"invite_token"`
	Role        identity.Role `json:"role"`
	MaxUses     int           `json:"max_uses"`
	ExpiresAt   time.Time     `json:"expires_at"`
}

type inviteConsumeResponse struct {
	User     userResponse    `json:"user"`
	Session  sessionResponse `json:"session"`
	InviteID string          `json:"invite_id"`
}
