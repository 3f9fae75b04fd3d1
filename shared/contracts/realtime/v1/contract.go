// Package v1 defines the hub session stream protocol, version 1.
//
// The package is shared between the server and clients (including the smoke
// tool) so the wire format has a single source.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is embedded into every envelope.
const Version = "v1"

// Subprotocol is negotiated during the WebSocket handshake.
const Subprotocol = "hub.session.v1"

// Type constants (wire-stable).
const (
	// TypeHello authenticates the stream (client -> server).
	TypeHello = "hello"
	// TypeHelloAck acknowledges hello (server -> client).
	TypeHelloAck = "hello.ack"
	// TypeSessionState reports the gate state (server -> client), once right
	// after hello.ack and again on every transition.
	TypeSessionState = "session.state"
	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

// Session states as they appear on the wire.
const (
	StatePending         = "pending"
	StateUnauthenticated = "unauthenticated"
	StateAuthenticated   = "authenticated"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	switch e.Type {
	case "":
		return errors.New("missing field: type")
	case TypeHello, TypeHelloAck, TypeSessionState, TypeError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// HelloPayload carries the access token the stream is gated on.
type HelloPayload struct {
	Token string `json:"token"`
}

type HelloAckPayload struct {
	ConnectionID string `json:"connection_id"`
}

// SessionStatePayload mirrors the gate. RedirectTo and Replace are set only
// for unauthenticated: the client navigates there replacing the current
// history entry.
type SessionStatePayload struct {
	State      string     `json:"state"`
	UserID     string     `json:"user_id,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	RedirectTo string     `json:"redirect_to,omitempty"`
	Replace    bool       `json:"replace,omitempty"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
