package events

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Broker fans events out to in-process subscribers keyed by user ID.
//
// Callbacks run on the publishing goroutine, outside the broker lock, and
// must not block. A callback may release its own subscription.
type Broker struct {
	mu     sync.RWMutex
	byUser map[string]map[uint64]*brokerSub
	nextID uint64

	log *slog.Logger

	delivered atomic.Uint64
}

type brokerSub struct {
	broker   *Broker
	id       uint64
	userID   string
	fn       func(Event)
	released atomic.Bool
	once     sync.Once
}

func (s *brokerSub) Release() {
	s.once.Do(func() {
		s.released.Store(true)
		s.broker.remove(s)
	})
}

func NewBroker(log *slog.Logger) *Broker {
	if log == nil {
		log = slog.Default()
	}
	return &Broker{
		byUser: make(map[string]map[uint64]*brokerSub),
		log:    log,
	}
}

// Subscribe registers fn for events of userID.
func (b *Broker) Subscribe(userID string, fn func(Event)) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &brokerSub{broker: b, id: b.nextID, userID: userID, fn: fn}
	set := b.byUser[userID]
	if set == nil {
		set = make(map[uint64]*brokerSub)
		b.byUser[userID] = set
	}
	set[sub.id] = sub
	return sub
}

func (b *Broker) remove(sub *brokerSub) {
	b.mu.Lock()
	defer b.mu.Unlock()

	set := b.byUser[sub.userID]
	if set == nil {
		return
	}
	delete(set, sub.id)
	if len(set) == 0 {
		delete(b.byUser, sub.userID)
	}
}

// Publish delivers ev to the current subscribers of ev.UserID.
func (b *Broker) Publish(_ context.Context, ev Event) error {
	b.mu.RLock()
	set := b.byUser[ev.UserID]
	subs := make([]*brokerSub, 0, len(set))
	for _, s := range set {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		if s.released.Load() {
			continue
		}
		s.fn(ev)
		b.delivered.Add(1)
	}

	b.log.Debug("auth.event.publish",
		"user_id", ev.UserID,
		"session_id", ev.SessionID,
		"reason", string(ev.Reason),
		"subscribers", len(subs),
	)
	return nil
}

// Subscribers returns the number of live subscriptions for userID.
func (b *Broker) Subscribers(userID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.byUser[userID])
}

// Delivered returns the total number of callback invocations so far.
func (b *Broker) Delivered() uint64 { return b.delivered.Load() }
