package events

import (
	"context"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
)

func startTestNATS(t *testing.T) string {
	t.Helper()
	opts := &natsserver.Options{Host: "127.0.0.1", Port: -1}
	srv, err := natsserver.NewServer(opts)
	if err != nil {
		t.Fatalf("starting embedded NATS: %v", err)
	}
	srv.Start()
	t.Cleanup(srv.Shutdown)
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("embedded NATS not ready")
	}
	return srv.ClientURL()
}

func newTestBridge(t *testing.T, url string) (*NATSBridge, *Broker) {
	t.Helper()
	nc, err := Connect(url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(nc.Close)

	local := NewBroker(nil)
	br, err := NewNATSBridge(nc, local, nil)
	if err != nil {
		t.Fatalf("NewNATSBridge: %v", err)
	}
	t.Cleanup(func() { _ = br.Close() })
	return br, local
}

func TestNATSBridge_CrossInstanceDelivery(t *testing.T) {
	url := startTestNATS(t)

	pubBridge, pubLocal := newTestBridge(t, url)
	_, subLocal := newTestBridge(t, url)

	remote := make(chan Event, 4)
	subLocal.Subscribe("01HUSER", func(ev Event) { remote <- ev })

	localCount := 0
	pubLocal.Subscribe("01HUSER", func(Event) { localCount++ })

	ev := Event{
		UserID:    "01HUSER",
		SessionID: "01HOLD",
		Session:   &SessionInfo{UserID: "01HUSER", SessionID: "01HNEW"},
		Reason:    ReasonRefresh,
		At:        time.Now().UTC(),
	}
	if err := pubBridge.Publish(context.Background(), ev); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case got := <-remote:
		if got.Reason != ReasonRefresh || got.Session == nil || got.Session.SessionID != "01HNEW" {
			t.Fatalf("unexpected remote event: %+v", got)
		}
		if got.Origin != pubBridge.Origin() {
			t.Fatalf("origin=%q, want %q", got.Origin, pubBridge.Origin())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for remote delivery")
	}

	// The publishing instance sees the event once (locally), never an echo.
	time.Sleep(100 * time.Millisecond)
	if localCount != 1 {
		t.Fatalf("local deliveries=%d, want 1", localCount)
	}
}

func TestNATSBridge_CloseStopsRemoteDelivery(t *testing.T) {
	url := startTestNATS(t)

	pubBridge, _ := newTestBridge(t, url)
	subBridge, subLocal := newTestBridge(t, url)

	got := make(chan Event, 1)
	subLocal.Subscribe("u1", func(ev Event) { got <- ev })

	if err := subBridge.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := subBridge.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	_ = pubBridge.Publish(context.Background(), Event{UserID: "u1", Reason: ReasonLogout})

	select {
	case ev := <-got:
		t.Fatalf("unexpected delivery after close: %+v", ev)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestSubject_SanitizesTokens(t *testing.T) {
	if got := Subject("a.b*c>d"); got != "hub.session.changed.a_b_c_d" {
		t.Fatalf("Subject=%q", got)
	}
}
