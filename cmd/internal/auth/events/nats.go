package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"hub/cmd/identity/ids"
)

// SubjectPrefix is the NATS subject namespace for session changes.
// Events for user U travel on "hub.session.changed.U".
const SubjectPrefix = "hub.session.changed"

// Subject returns the NATS subject for userID.
func Subject(userID string) string {
	return SubjectPrefix + "." + subjectToken(userID)
}

func subjectToken(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, s)
}

// NATSBridge publishes local events to NATS and replays events from other
// instances into the local broker. Events carry the instance origin so an
// instance never re-delivers its own publications.
type NATSBridge struct {
	conn   *nats.Conn
	local  *Broker
	origin string
	log    *slog.Logger

	sub       *nats.Subscription
	closeOnce sync.Once
}

// Connect dials NATS with reconnects enabled. Extra options are appended.
func Connect(url string, opts ...nats.Option) (*nats.Conn, error) {
	defaults := []nats.Option{
		nats.Name("hub"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	}
	nc, err := nats.Connect(url, append(defaults, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return nc, nil
}

// NewNATSBridge subscribes to every user's subject on nc and feeds remote
// events into local.
func NewNATSBridge(nc *nats.Conn, local *Broker, log *slog.Logger) (*NATSBridge, error) {
	if nc == nil || local == nil {
		return nil, fmt.Errorf("events: nats bridge needs a connection and a broker")
	}
	if log == nil {
		log = slog.Default()
	}
	b := &NATSBridge{
		conn:   nc,
		local:  local,
		origin: ids.MustULID(time.Now()),
		log:    log,
	}

	sub, err := nc.Subscribe(SubjectPrefix+".*", b.onMessage)
	if err != nil {
		return nil, fmt.Errorf("subscribing to %s.*: %w", SubjectPrefix, err)
	}
	if err := nc.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("flushing subscription: %w", err)
	}
	b.sub = sub
	return b, nil
}

// Origin is the instance identifier stamped on published events.
func (b *NATSBridge) Origin() string { return b.origin }

// Publish delivers ev locally, then forwards it to other instances.
func (b *NATSBridge) Publish(ctx context.Context, ev Event) error {
	ev.Origin = b.origin
	_ = b.local.Publish(ctx, ev)

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	if err := b.conn.Publish(Subject(ev.UserID), data); err != nil {
		return fmt.Errorf("publishing event: %w", err)
	}
	return nil
}

func (b *NATSBridge) onMessage(msg *nats.Msg) {
	var ev Event
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		b.log.Warn("auth.event.nats.decode_fail", "subject", msg.Subject, "err", err)
		return
	}
	if ev.Origin == b.origin {
		return
	}
	_ = b.local.Publish(context.Background(), ev)
}

// Close unsubscribes. The NATS connection belongs to the caller.
func (b *NATSBridge) Close() error {
	var err error
	b.closeOnce.Do(func() {
		if b.sub != nil {
			err = b.sub.Unsubscribe()
		}
	})
	return err
}
