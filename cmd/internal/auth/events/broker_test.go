package events

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestBroker_DeliversToUserOnly(t *testing.T) {
	b := NewBroker(nil)

	var got []Event
	subA := b.Subscribe("user-a", func(ev Event) { got = append(got, ev) })
	defer subA.Release()
	subB := b.Subscribe("user-b", func(Event) { t.Fatalf("user-b must not receive user-a events") })
	defer subB.Release()

	ev := Event{UserID: "user-a", SessionID: "s1", Reason: ReasonLogout, At: time.Now()}
	if err := b.Publish(context.Background(), ev); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(got) != 1 || got[0].SessionID != "s1" {
		t.Fatalf("got %+v", got)
	}
}

func TestBroker_ReleaseIsIdempotent(t *testing.T) {
	b := NewBroker(nil)

	calls := 0
	sub := b.Subscribe("u", func(Event) { calls++ })
	if n := b.Subscribers("u"); n != 1 {
		t.Fatalf("subscribers=%d, want 1", n)
	}

	sub.Release()
	sub.Release()
	if n := b.Subscribers("u"); n != 0 {
		t.Fatalf("subscribers=%d after release, want 0", n)
	}

	_ = b.Publish(context.Background(), Event{UserID: "u", Reason: ReasonLogoutAll})
	if calls != 0 {
		t.Fatalf("released subscription was called %d times", calls)
	}
}

func TestBroker_CallbackMayReleaseItself(t *testing.T) {
	b := NewBroker(nil)

	var sub Subscription
	calls := 0
	sub = b.Subscribe("u", func(Event) {
		calls++
		sub.Release()
	})

	_ = b.Publish(context.Background(), Event{UserID: "u", Reason: ReasonExpired})
	_ = b.Publish(context.Background(), Event{UserID: "u", Reason: ReasonExpired})
	if calls != 1 {
		t.Fatalf("calls=%d, want 1", calls)
	}
}

func TestBroker_ConcurrentSubscribePublish(t *testing.T) {
	b := NewBroker(nil)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			sub := b.Subscribe("u", func(Event) {})
			sub.Release()
		}()
		go func() {
			defer wg.Done()
			_ = b.Publish(context.Background(), Event{UserID: "u", Reason: ReasonRefresh})
		}()
	}
	wg.Wait()

	if n := b.Subscribers("u"); n != 0 {
		t.Fatalf("subscribers=%d, want 0", n)
	}
}

func TestEvent_Targets(t *testing.T) {
	cases := []struct {
		name string
		ev   Event
		sid  string
		want bool
	}{
		{"all sessions", Event{UserID: "u"}, "s1", true},
		{"same session", Event{UserID: "u", SessionID: "s1"}, "s1", true},
		{"other session", Event{UserID: "u", SessionID: "s2"}, "s1", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.ev.Targets(tc.sid); got != tc.want {
				t.Fatalf("Targets(%q)=%v, want %v", tc.sid, got, tc.want)
			}
		})
	}
}
