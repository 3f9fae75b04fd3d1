package gate

import (
	"fmt"
	"time"
)

// Session is the gate's read-only copy of an authenticated session.
// Only its presence drives gate behavior.
type Session struct {
	UserID    string
	SessionID string
	ExpiresAt time.Time
}

// State is the gate state. The zero value is Pending.
type State uint8

const (
	Pending State = iota
	Unauthenticated
	Authenticated
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Unauthenticated:
		return "unauthenticated"
	case Authenticated:
		return "authenticated"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func stateFor(s *Session) State {
	if s == nil {
		return Unauthenticated
	}
	return Authenticated
}

// Outcome is what a gate renders for its current state.
type Outcome uint8

const (
	Loading Outcome = iota
	Redirect
	Content
)

func (o Outcome) String() string {
	switch o {
	case Loading:
		return "loading"
	case Redirect:
		return "redirect"
	case Content:
		return "content"
	default:
		return fmt.Sprintf("outcome(%d)", uint8(o))
	}
}

// RenderState is the rendering policy: a pure function of state.
func RenderState(s State) Outcome {
	switch s {
	case Authenticated:
		return Content
	case Unauthenticated:
		return Redirect
	default:
		return Loading
	}
}
