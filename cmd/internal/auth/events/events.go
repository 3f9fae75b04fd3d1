// Package events carries session change notifications from the session
// service to whoever watches a user's sessions (gates, WebSocket streams).
package events

import (
	"context"
	"time"
)

// Reason names why a session changed.
type Reason string

const (
	ReasonLogin         Reason = "login"
	ReasonRefresh       Reason = "refresh"
	ReasonLogout        Reason = "logout"
	ReasonLogoutAll     Reason = "logout_all"
	ReasonReuseDetected Reason = "reuse_detected"
	ReasonExpired       Reason = "expired"
)

// SessionInfo describes a live session carried by an event.
type SessionInfo struct {
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Event is one session change for a user.
//
// SessionID names the affected session; empty means every session of the
// user. Session is the session that exists after the change (the new one on
// login and refresh) and is nil when the change ends a session.
type Event struct {
	UserID    string       `json:"user_id"`
	SessionID string       `json:"session_id,omitempty"`
	Session   *SessionInfo `json:"session,omitempty"`
	Reason    Reason       `json:"reason"`
	At        time.Time    `json:"at"`
	Origin    string       `json:"origin,omitempty"`
}

// Targets reports whether the event concerns sessionID.
func (e Event) Targets(sessionID string) bool {
	return e.SessionID == "" || e.SessionID == sessionID
}

// Publisher emits session change events.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Subscription is a registered listener. Release is idempotent.
type Subscription interface {
	Release()
}

// Subscriber registers per-user listeners.
type Subscriber interface {
	Subscribe(userID string, fn func(Event)) Subscription
}

// NoopPublisher drops every event.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, Event) error { return nil }
