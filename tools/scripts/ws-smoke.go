// Package main provides a CI-friendly smoke test for the hub session stream.
//
// It validates:
//   - login over HTTP
//   - handshake + subprotocol selection
//   - hello/ack and the initial session.state (authenticated)
//   - an unknown token yields unauthenticated with a replace redirect
//   - logout is pushed to the open stream as unauthenticated
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"

	v1 "hub/shared/contracts/realtime/v1"
)

const maxReadBytes = 1 << 20 // 1MiB

type smokeClient struct {
	name         string
	conn         *websocket.Conn
	connectionID string

	inbox chan v1.Envelope
	errCh chan error
}

func main() {
	var (
		baseURL  = flag.String("base", "http://127.0.0.1:8080", "hub base URL")
		origin   = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		email    = flag.String("email", os.Getenv("HUB_SMOKE_EMAIL"), "account email")
		password = flag.String("password", os.Getenv("HUB_SMOKE_PASSWORD"), "account password")
		timeout  = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose  = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	base, err := validateBaseURL(*baseURL)
	if err != nil {
		fatalf("invalid -base: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}
	if *email == "" || *password == "" {
		fatalf("-email and -password (or HUB_SMOKE_EMAIL / HUB_SMOKE_PASSWORD) are required")
	}

	root := context.Background()
	wsURL := streamURL(base)

	token, sessionID := mustLogin(root, base, *email, *password, *timeout)
	if *verbose {
		fmt.Printf("logged in: session=%s\n", sessionID)
	}

	a := mustConnect(root, "A", wsURL, *origin, token, *timeout)
	defer closeWS(a.conn)
	st := a.mustReadState(root, *timeout)
	if st.State != v1.StateAuthenticated {
		fatalf("initial state (A): got=%q want=%q", st.State, v1.StateAuthenticated)
	}

	anon := mustConnect(root, "anon", wsURL, *origin, "not-a-token", *timeout)
	defer closeWS(anon.conn)
	st = anon.mustReadState(root, *timeout)
	if st.State != v1.StateUnauthenticated || st.RedirectTo == "" || !st.Replace {
		fatalf("anonymous state: got=%+v want unauthenticated with replace redirect", st)
	}

	mustLogout(root, base, token, *timeout)
	st = a.mustReadState(root, *timeout)
	if st.State != v1.StateUnauthenticated {
		fatalf("state after logout (A): got=%q want=%q", st.State, v1.StateUnauthenticated)
	}

	fmt.Printf("OK: session=%s connection=%s redirect=%s\n", sessionID, a.connectionID, st.RedirectTo)
}

func validateBaseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return nil, errors.New("missing host")
	}
	return u, nil
}

func streamURL(base *url.URL) string {
	u := *base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/session"
	return u.String()
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func mustLogin(parent context.Context, base *url.URL, email, password string, stepTimeout time.Duration) (token, sessionID string) {
	body := mustJSON(map[string]string{"email": email, "password": password, "platform": "desktop"})
	res := mustHTTP(parent, http.MethodPost, base.JoinPath("/auth/login").String(), "", body, stepTimeout)
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		fatalf("login: status=%d", res.StatusCode)
	}

	var out struct {
		Session struct {
			SessionID   string `json:"session_id"`
			AccessToken string `json:"access_token"`
		} `json:"session"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		fatalf("decode login response: %v", err)
	}
	if out.Session.AccessToken == "" {
		fatalf("login response missing access_token")
	}
	return out.Session.AccessToken, out.Session.SessionID
}

func mustLogout(parent context.Context, base *url.URL, token string, stepTimeout time.Duration) {
	res := mustHTTP(parent, http.MethodPost, base.JoinPath("/auth/logout").String(), token, nil, stepTimeout)
	defer res.Body.Close()
	if res.StatusCode != http.StatusNoContent {
		fatalf("logout: status=%d", res.StatusCode)
	}
}

func mustHTTP(parent context.Context, method, target, token string, body []byte, stepTimeout time.Duration) *http.Response {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
	if err != nil {
		fatalf("build %s %s: %v", method, target, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("%s %s: %v", method, target, err)
	}
	// The body is read after the step context is gone; buffer it now.
	data, err := io.ReadAll(res.Body)
	_ = res.Body.Close()
	if err != nil {
		fatalf("%s %s: read body: %v", method, target, err)
	}
	res.Body = io.NopCloser(bytes.NewReader(data))
	return res
}

func mustConnect(parent context.Context, name, wsURL, origin, token string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	if err != nil {
		fatalf("connect %s: %v", name, err)
	}

	assertSubprotocol(resp, v1.Subprotocol)

	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:  name,
		conn:  conn,
		inbox: make(chan v1.Envelope, 64),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()

	hello := v1.Envelope{
		V:       v1.Version,
		Type:    v1.TypeHello,
		ID:      fmt.Sprintf("%s-hello", name),
		TS:      time.Now().UTC(),
		Payload: mustJSON(v1.HelloPayload{Token: token}),
	}
	mustWriteWithTimeout(parent, conn, hello, stepTimeout)

	ack := c.mustReadUntilType(parent, v1.TypeHelloAck, stepTimeout)

	var p v1.HelloAckPayload
	if err := json.Unmarshal(ack.Payload, &p); err != nil {
		fatalf("unmarshal hello.ack payload (%s): %v", name, err)
	}
	if strings.TrimSpace(p.ConnectionID) == "" {
		fatalf("hello.ack missing connection_id (%s)", name)
	}
	c.connectionID = p.ConnectionID

	return c
}

func assertSubprotocol(resp *http.Response, want string) {
	if resp == nil {
		return
	}
	got := strings.TrimSpace(resp.Header.Get("Sec-WebSocket-Protocol"))
	if got != want {
		fatalf("subprotocol mismatch: got=%q want=%q", got, want)
	}
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				c.fail(err)
				return
			}
			if mt != websocket.MessageText {
				c.fail(fmt.Errorf("unsupported message type: %v", mt))
				return
			}

			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				c.fail(fmt.Errorf("bad json: %w", err))
				return
			}
			if err := env.Validate(); err != nil {
				c.fail(fmt.Errorf("bad envelope: %w", err))
				return
			}

			select {
			case c.inbox <- env:
			default:
				c.fail(errors.New("inbox overflow: consumer too slow"))
				return
			}
		}
	}()
}

func (c *smokeClient) fail(err error) {
	select {
	case c.errCh <- err:
	default:
	}
}

// mustReadState skips pending states: the stream reports every transition
// and the first report may precede the session check.
func (c *smokeClient) mustReadState(parent context.Context, stepTimeout time.Duration) v1.SessionStatePayload {
	for {
		env := c.mustReadUntilType(parent, v1.TypeSessionState, stepTimeout)
		var p v1.SessionStatePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			fatalf("unmarshal session.state payload (%s): %v", c.name, err)
		}
		if p.State != v1.StatePending {
			return p
		}
	}
}

func (c *smokeClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q (%s): %v", wantType, c.name, ctx.Err())
		case err := <-c.errCh:
			fatalf("connection error while waiting for %q (%s): %v", wantType, c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			if env.Type == wantType {
				return env
			}
			if env.Type == v1.TypeError {
				var ep v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
			}
			fatalf("unexpected envelope type (%s): got=%q want=%q", c.name, env.Type, wantType)
		}
	}
}

func mustWriteWithTimeout(parent context.Context, conn *websocket.Conn, env v1.Envelope, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal envelope: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed: %v", err)
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
