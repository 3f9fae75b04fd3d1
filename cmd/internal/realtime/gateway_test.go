package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/goleak"

	"hub/cmd/internal/gate"
	v1 "hub/shared/contracts/realtime/v1"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeSource blocks CurrentSession until the test answers through results.
type fakeSource struct {
	results  chan *gate.Session
	calls    atomic.Int32
	releases atomic.Int32

	mu sync.Mutex
	fn func(*gate.Session)
}

func newFakeSource() *fakeSource {
	return &fakeSource{results: make(chan *gate.Session, 1)}
}

func (f *fakeSource) CurrentSession(ctx context.Context) (*gate.Session, error) {
	f.calls.Add(1)
	select {
	case s := <-f.results:
		return s, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeSource) OnSessionChanged(fn func(*gate.Session)) gate.Subscription {
	f.mu.Lock()
	f.fn = fn
	f.mu.Unlock()
	return gate.SubscriptionFunc(func() {
		f.releases.Add(1)
		f.mu.Lock()
		f.fn = nil
		f.mu.Unlock()
	})
}

func (f *fakeSource) emit(s *gate.Session) {
	f.mu.Lock()
	fn := f.fn
	f.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

type harness struct {
	srv    *httptest.Server
	src    *fakeSource
	gw     *Gateway
	tokens chan string
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	cfg := DefaultConfig()
	cfg.OriginRequired = false
	if mutate != nil {
		mutate(&cfg)
	}

	h := &harness{src: newFakeSource(), tokens: make(chan string, 4)}
	h.gw = NewGateway(nil, cfg, func(token string) gate.Source {
		h.tokens <- token
		return h.src
	}, gate.WithLoginPath("/login"))
	h.srv = httptest.NewServer(h.gw)
	t.Cleanup(h.srv.Close)
	return h
}

func (h *harness) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(h.srv.URL, "http")
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{Subprotocols: []string{v1.Subprotocol}})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, typ string, payload any) {
	t.Helper()
	raw, _ := json.Marshal(payload)
	b, _ := json.Marshal(v1.Envelope{V: v1.Version, Type: typ, ID: "c1", TS: time.Now().UTC(), Payload: raw})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		t.Fatalf("write %s: %v", typ, err)
	}
}

func recv(t *testing.T, conn *websocket.Conn, wantType string, dst any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read (want %s): %v", wantType, err)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.Type != wantType {
		t.Fatalf("got %s (%s), want %s", env.Type, env.Payload, wantType)
	}
	if dst != nil {
		if err := json.Unmarshal(env.Payload, dst); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestGateway_StreamsGateTransitions(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.dial(t)

	send(t, conn, v1.TypeHello, v1.HelloPayload{Token: "tok-1"})

	var ack v1.HelloAckPayload
	recv(t, conn, v1.TypeHelloAck, &ack)
	if len(ack.ConnectionID) != 26 {
		t.Fatalf("connection id = %q", ack.ConnectionID)
	}
	if tok := <-h.tokens; tok != "tok-1" {
		t.Fatalf("source built for %q", tok)
	}

	var st v1.SessionStatePayload
	recv(t, conn, v1.TypeSessionState, &st)
	if st.State != v1.StatePending {
		t.Fatalf("first state = %s, want pending", st.State)
	}

	h.src.results <- &gate.Session{UserID: "u1", SessionID: "s1", ExpiresAt: time.Now().Add(time.Hour)}
	recv(t, conn, v1.TypeSessionState, &st)
	if st.State != v1.StateAuthenticated || st.UserID != "u1" || st.RedirectTo != "" {
		t.Fatalf("state = %+v", st)
	}

	h.src.emit(nil)
	recv(t, conn, v1.TypeSessionState, &st)
	if st.State != v1.StateUnauthenticated || st.RedirectTo != "/login" || !st.Replace {
		t.Fatalf("state = %+v", st)
	}

	_ = conn.Close(websocket.StatusNormalClosure, "")
	eventually(t, "subscription release", func() bool { return h.src.releases.Load() == 1 })
	eventually(t, "stream close", func() bool { return h.gw.Active() == 0 })

	if calls := h.src.calls.Load(); calls != 1 {
		t.Fatalf("CurrentSession calls = %d, want 1", calls)
	}
}

func TestGateway_DisconnectWhilePendingReleasesOnce(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.dial(t)

	send(t, conn, v1.TypeHello, v1.HelloPayload{Token: "tok"})
	recv(t, conn, v1.TypeHelloAck, nil)
	recv(t, conn, v1.TypeSessionState, nil)

	_ = conn.CloseNow()
	eventually(t, "subscription release", func() bool { return h.src.releases.Load() == 1 })

	// A late answer lands on an unmounted gate and changes nothing.
	h.src.results <- &gate.Session{UserID: "late"}
	time.Sleep(20 * time.Millisecond)
	if r := h.src.releases.Load(); r != 1 {
		t.Fatalf("releases = %d, want exactly 1", r)
	}
}

func TestGateway_HelloRequiredFirst(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.dial(t)

	send(t, conn, v1.TypeSessionState, v1.SessionStatePayload{State: "authenticated"})

	var e v1.ErrorPayload
	recv(t, conn, v1.TypeError, &e)
	if e.Code != "hello_required" {
		t.Fatalf("error code = %q", e.Code)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	if websocket.CloseStatus(err) != websocket.StatusPolicyViolation {
		t.Fatalf("expected policy violation close, got %v", err)
	}
	if h.src.releases.Load() != 0 || h.src.calls.Load() != 0 {
		t.Fatalf("no gate should be mounted before hello")
	}
}

func TestGateway_HelloTimeout(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.HelloTimeout = 50 * time.Millisecond })
	conn := h.dial(t)

	var e v1.ErrorPayload
	recv(t, conn, v1.TypeError, &e)
	if e.Code != "hello_timeout" {
		t.Fatalf("error code = %q", e.Code)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	if websocket.CloseStatus(err) != websocket.StatusPolicyViolation {
		t.Fatalf("expected policy violation close after hello_timeout, got %v", err)
	}
	if h.src.calls.Load() != 0 {
		t.Fatalf("no gate should be mounted without hello")
	}
}

func TestGateway_HelloBeforeDeadlineKeepsStream(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.HelloTimeout = 100 * time.Millisecond })
	conn := h.dial(t)

	send(t, conn, v1.TypeHello, v1.HelloPayload{Token: "tok"})
	recv(t, conn, v1.TypeHelloAck, nil)
	recv(t, conn, v1.TypeSessionState, nil)

	// Past the hello deadline the stream is still served.
	time.Sleep(200 * time.Millisecond)
	send(t, conn, v1.TypeHello, v1.HelloPayload{Token: "again"})
	var e v1.ErrorPayload
	recv(t, conn, v1.TypeError, &e)
	if e.Code != "already_authenticated" {
		t.Fatalf("error code = %q, want already_authenticated", e.Code)
	}
}

func TestGateway_SecondHelloRejected(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.dial(t)

	send(t, conn, v1.TypeHello, v1.HelloPayload{Token: "tok"})
	recv(t, conn, v1.TypeHelloAck, nil)
	recv(t, conn, v1.TypeSessionState, nil)

	send(t, conn, v1.TypeHello, v1.HelloPayload{Token: "other"})
	var e v1.ErrorPayload
	recv(t, conn, v1.TypeError, &e)
	if e.Code != "already_authenticated" {
		t.Fatalf("error code = %q", e.Code)
	}
	if len(h.tokens) != 1 {
		t.Fatalf("second hello must not mount another gate")
	}
}

func TestGateway_RateLimited(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.RateEvents = 2 })
	conn := h.dial(t)

	send(t, conn, v1.TypeHello, v1.HelloPayload{Token: "tok"})
	recv(t, conn, v1.TypeHelloAck, nil)
	recv(t, conn, v1.TypeSessionState, nil)

	send(t, conn, v1.TypeError, v1.ErrorPayload{Code: "x"})
	recv(t, conn, v1.TypeError, nil) // unsupported
	send(t, conn, v1.TypeError, v1.ErrorPayload{Code: "x"})

	var e v1.ErrorPayload
	recv(t, conn, v1.TypeError, &e)
	if e.Code != "rate_limited" {
		t.Fatalf("error code = %q", e.Code)
	}
	eventually(t, "subscription release", func() bool { return h.src.releases.Load() == 1 })
}

func TestGateway_RejectsMissingSubprotocol(t *testing.T) {
	h := newHarness(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(h.srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	_, _, err = conn.Read(ctx)
	if websocket.CloseStatus(err) != websocket.StatusProtocolError {
		t.Fatalf("expected protocol error close, got %v", err)
	}
}

func TestGateway_EnforceOrigin(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AllowedOrigins = []string{"https://hub.example.com", "http://localhost:5173"}
	gw := NewGateway(nil, cfg, nil)

	for _, tc := range []struct {
		origin string
		ok     bool
	}{
		{"", false},
		{"https://hub.example.com", true},
		{"http://hub.example.com:8443", true},
		{"http://localhost:3000", true},
		{"https://evil.example.com", false},
	} {
		r := httptest.NewRequest(http.MethodGet, "/ws/session", nil)
		if tc.origin != "" {
			r.Header.Set("Origin", tc.origin)
		}
		err := gw.enforceOrigin(r)
		if tc.ok != (err == nil) {
			t.Fatalf("origin %q: err=%v, want ok=%v", tc.origin, err, tc.ok)
		}
	}

	want := []string{"hub.example.com", "hub.example.com:*", "localhost", "localhost:*"}
	got := originPatterns(cfg.AllowedOrigins)
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("patterns = %v, want %v", got, want)
	}
}
