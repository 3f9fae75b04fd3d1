// Package source adapts the session service and the event broker into a
// gate.Source for one access token.
package source

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"hub/cmd/internal/auth/events"
	"hub/cmd/internal/auth/session"
	"hub/cmd/internal/gate"
)

// Sessions is the part of session.Service a Source needs.
type Sessions interface {
	ParseAccessToken(tok string, now time.Time) (session.AccessClaims, error)
	ValidateAccessToken(ctx context.Context, tok string, now time.Time) (session.AccessClaims, error)
}

// Source answers for the session behind one access token and follows it
// through refresh rotations.
type Source struct {
	sessions Sessions
	broker   events.Subscriber
	token    string
	now      func() time.Time

	// identity parsed from the token; empty when the token is unusable
	userID string

	mu      sync.Mutex
	tracked string
	// ended is set once the tracked session is gone; the next login of the
	// same user is adopted.
	ended bool
}

var _ gate.Source = (*Source)(nil)

func New(sessions Sessions, broker events.Subscriber, accessToken string, now func() time.Time) *Source {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	s := &Source{
		sessions: sessions,
		broker:   broker,
		token:    strings.TrimSpace(accessToken),
		now:      now,
	}
	if s.token != "" {
		if claims, err := sessions.ParseAccessToken(s.token, now()); err == nil {
			s.userID = claims.UserID
			s.tracked = claims.SessionID
		}
	}
	return s
}

// UserID is the token's user, or "" when the token did not parse.
func (s *Source) UserID() string { return s.userID }

// CurrentSession validates the token against the session store. A missing,
// revoked or expired session is absence, not an error.
func (s *Source) CurrentSession(ctx context.Context) (*gate.Session, error) {
	if s.userID == "" {
		return nil, nil
	}
	claims, err := s.sessions.ValidateAccessToken(ctx, s.token, s.now())
	if err != nil {
		if session.IsUnauthenticated(err) {
			s.mu.Lock()
			s.ended = true
			s.mu.Unlock()
			return nil, nil
		}
		return nil, err
	}
	return &gate.Session{UserID: claims.UserID, SessionID: claims.SessionID, ExpiresAt: claims.ExpiresAt}, nil
}

// OnSessionChanged subscribes to the user's events. Events about other
// sessions of the same user are ignored while the tracked session is alive; a
// refresh of the tracked session moves tracking to its successor. After the
// tracked session ends, a login of the user is adopted as the new one.
func (s *Source) OnSessionChanged(fn func(*gate.Session)) gate.Subscription {
	if s.userID == "" || s.broker == nil {
		return gate.SubscriptionFunc(func() {})
	}
	sub := s.broker.Subscribe(s.userID, func(ev events.Event) {
		next, ok := s.follow(ev)
		if ok {
			fn(next)
		}
	})
	return sub
}

func (s *Source) follow(ev events.Event) (*gate.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	adopt := s.ended && ev.Reason == events.ReasonLogin && ev.Session != nil
	if !adopt && !ev.Targets(s.tracked) {
		return nil, false
	}
	if ev.Session == nil {
		s.ended = true
		return nil, true
	}
	s.tracked = ev.Session.SessionID
	s.ended = false
	return &gate.Session{
		UserID:    ev.Session.UserID,
		SessionID: ev.Session.SessionID,
		ExpiresAt: ev.Session.ExpiresAt,
	}, true
}

// Tracked returns the session ID currently followed.
func (s *Source) Tracked() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracked
}

// TokenFunc extracts an access token from a request.
type TokenFunc func(r *http.Request) string

// BearerToken reads "Authorization: Bearer <token>".
func BearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}

// CookieToken reads the named cookie.
func CookieToken(name string) TokenFunc {
	return func(r *http.Request) string {
		c, err := r.Cookie(name)
		if err != nil {
			return ""
		}
		return c.Value
	}
}

// FirstToken tries each extractor in order.
func FirstToken(fns ...TokenFunc) TokenFunc {
	return func(r *http.Request) string {
		for _, fn := range fns {
			if t := fn(r); t != "" {
				return t
			}
		}
		return ""
	}
}

// Func builds a gate.SourceFunc for Middleware.
func Func(sessions Sessions, broker events.Subscriber, now func() time.Time, token TokenFunc) gate.SourceFunc {
	return func(r *http.Request) gate.Source {
		return New(sessions, broker, token(r), now)
	}
}
