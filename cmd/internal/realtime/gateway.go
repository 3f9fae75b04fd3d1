// Package realtime serves the session stream: a WebSocket over which the
// server pushes the state of a session gate mounted for the connection.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"hub/cmd/identity/ids"
	"hub/cmd/internal/gate"
	v1 "hub/shared/contracts/realtime/v1"
)

const (
	wsCloseGrace      = 1 * time.Second
	wsMaxPingFailures = 3
)

// SourceFactory builds the gate source for the access token sent in hello.
type SourceFactory func(token string) gate.Source

// Gateway is the session stream endpoint.
//
// It enforces origin policy, subprotocol selection, rate limits and
// heartbeats. After hello it mounts one gate for the connection and unmounts
// it when the connection ends, whichever side ends it.
type Gateway struct {
	log      *slog.Logger
	cfg      Config
	sources  SourceFactory
	gateOpts []gate.Option
	patterns []string

	active atomic.Int64
}

func NewGateway(log *slog.Logger, cfg Config, sources SourceFactory, gateOpts ...gate.Option) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.normalized()
	return &Gateway{
		log:      log,
		cfg:      cfg,
		sources:  sources,
		gateOpts: gateOpts,
		patterns: originPatterns(cfg.AllowedOrigins),
	}
}

// Active is the number of open streams.
func (g *Gateway) Active() int64 { return g.active.Load() }

// ServeHTTP upgrades the request and runs the stream until either side ends it.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{v1.Subprotocol},
		OriginPatterns:     g.patterns,
		InsecureSkipVerify: g.cfg.DevInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != v1.Subprotocol {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", v1.Subprotocol)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	g.active.Add(1)
	defer g.active.Add(-1)

	client := newStreamConn(ids.MustULID(time.Now()), g.cfg.SendQueueSize)
	log := g.log.With("conn_id", client.ID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var (
		closeOnce sync.Once
		mounted   atomic.Pointer[gate.Gate]
	)

	// shutdown is idempotent. It does NOT close client.Send.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			if gt := mounted.Load(); gt != nil {
				gt.Unmount()
			}
			client.Close()
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case env := <-client.Send:
				if err := writeEnvelope(ctx, conn, env, g.cfg.WriteTimeout); err != nil {
					log.Info("ws.write.fail", "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		g.heartbeat(ctx, conn, client, log, shutdown)
	}()

	forwardDone := make(chan struct{})
	rl := NewRateLimiter(g.cfg.RateEvents, g.cfg.RateWindow)

	// The hello deadline runs on its own timer: an expired read context
	// closes the connection before the error frame could be written.
	var helloSeen atomic.Bool
	helloTimer := time.AfterFunc(g.cfg.HelloTimeout, func() {
		if helloSeen.Load() || ctx.Err() != nil {
			return
		}
		log.Info("ws.hello.timeout", "timeout", g.cfg.HelloTimeout.String())
		g.writeErrorNow(ctx, conn, "hello_timeout", "hello not received in time")
		shutdown(websocket.StatusPolicyViolation, "hello timeout")
	})
	defer helloTimer.Stop()

readLoop:
	for {
		readCtx, readCancel := ctx, context.CancelFunc(func() {})
		if mounted.Load() != nil {
			readCtx, readCancel = context.WithTimeout(ctx, g.cfg.ReadIdleTimeout)
		}
		env, err := readEnvelope(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
				break readLoop
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
				break readLoop
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
				break readLoop
			case readErrBadJSON:
				g.trySendError(ctx, client, "bad_json", "invalid JSON")
				continue readLoop
			default:
				log.Info("ws.read.fail", "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				break readLoop
			}
		}

		if !rl.Allow(time.Now().UTC()) {
			g.writeErrorNow(ctx, conn, "rate_limited", "too many events")
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		if err := env.Validate(); err != nil {
			g.trySendError(ctx, client, "bad_envelope", err.Error())
			continue readLoop
		}

		switch {
		case env.Type == v1.TypeHello && mounted.Load() == nil:
			helloSeen.Store(true)
			helloTimer.Stop()
			gt, err := g.onHello(ctx, client, env)
			if err != nil {
				g.writeErrorNow(ctx, conn, "hello_failed", err.Error())
				shutdown(websocket.StatusPolicyViolation, "hello failed")
				break readLoop
			}
			mounted.Store(gt)
			// A concurrent shutdown may have missed the gate.
			select {
			case <-client.Done():
				gt.Unmount()
			default:
			}
			go func() {
				defer close(forwardDone)
				g.forward(ctx, client, gt, log, shutdown)
			}()

		case env.Type == v1.TypeHello:
			g.trySendError(ctx, client, "already_authenticated", "hello already received")

		case mounted.Load() == nil:
			g.writeErrorNow(ctx, conn, "hello_required", "send hello first")
			shutdown(websocket.StatusPolicyViolation, "hello required")
			break readLoop

		default:
			g.trySendError(ctx, client, "unsupported", fmt.Sprintf("unsupported type: %s", env.Type))
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone
	if gt := mounted.Load(); gt != nil {
		gt.Unmount()
		<-forwardDone
		select {
		case <-gt.Settled():
		case <-time.After(wsCloseGrace):
			log.Warn("ws.gate.unsettled", "grace", wsCloseGrace.String())
		}
	}

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
}

func (g *Gateway) heartbeat(ctx context.Context, conn *websocket.Conn, client *streamConn, log *slog.Logger, shutdown func(websocket.StatusCode, string)) {
	t := time.NewTicker(g.cfg.HeartbeatEvery)
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-client.Done():
			return
		case <-t.C:
			hbCtx, hbCancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
			err := conn.Ping(hbCtx)
			hbCancel()

			if err != nil {
				failures++
				log.Info("ws.ping.fail", "failures", failures, "err", err)
				if failures >= wsMaxPingFailures {
					shutdown(websocket.StatusGoingAway, "heartbeat failed")
					return
				}
				continue
			}
			failures = 0
		}
	}
}

// onHello mounts the connection's gate and acknowledges. The gate decides
// authentication: an empty or bad token simply resolves to unauthenticated.
func (g *Gateway) onHello(ctx context.Context, client *streamConn, env v1.Envelope) (*gate.Gate, error) {
	var p v1.HelloPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return nil, fmt.Errorf("invalid payload: %w", err)
	}
	token := strings.TrimSpace(p.Token)
	if len(token) > maxTokenBytes {
		return nil, errors.New("token too large")
	}

	gt := gate.Mount(ctx, g.sources(token), g.gateOpts...)

	ack, err := newEnvelope(v1.TypeHelloAck, v1.HelloAckPayload{ConnectionID: client.ID}, time.Now().UTC())
	if err != nil || !g.enqueue(ctx, client, ack) {
		gt.Unmount()
		return nil, errors.New("backpressure: hello.ack")
	}
	return gt, nil
}

// forward pushes the current state once and then on every transition, until
// the gate is unmounted.
func (g *Gateway) forward(ctx context.Context, client *streamConn, gt *gate.Gate, log *slog.Logger, shutdown func(websocket.StatusCode, string)) {
	last := ""
	push := func() bool {
		p := statePayload(gt)
		if p.State == last {
			return true
		}
		env, err := newEnvelope(v1.TypeSessionState, p, time.Now().UTC())
		if err != nil {
			log.Error("ws.state.encode_fail", "err", err)
			return false
		}
		if !g.enqueue(ctx, client, env) {
			return false
		}
		last = p.State
		log.Debug("ws.state.push", "state", p.State)
		return true
	}

	if !push() {
		shutdown(websocket.StatusTryAgainLater, "send queue full")
		return
	}
	for range gt.Changes() {
		if !push() {
			shutdown(websocket.StatusTryAgainLater, "send queue full")
			return
		}
	}
}

func statePayload(gt *gate.Gate) v1.SessionStatePayload {
	switch gt.State() {
	case gate.Authenticated:
		p := v1.SessionStatePayload{State: v1.StateAuthenticated}
		if s := gt.Session(); s != nil {
			p.UserID = s.UserID
			if !s.ExpiresAt.IsZero() {
				exp := s.ExpiresAt
				p.ExpiresAt = &exp
			}
		}
		return p
	case gate.Unauthenticated:
		return v1.SessionStatePayload{
			State:      v1.StateUnauthenticated,
			RedirectTo: gt.LoginPath(),
			Replace:    true,
		}
	}
	return v1.SessionStatePayload{State: v1.StatePending}
}

func (g *Gateway) trySendError(ctx context.Context, client *streamConn, code, msg string) {
	env, err := newEnvelope(v1.TypeError, v1.ErrorPayload{Code: code, Message: msg}, time.Now().UTC())
	if err != nil {
		return
	}
	_ = g.enqueue(ctx, client, env)
}

// writeErrorNow writes an error frame directly, bypassing the queue, so it
// lands before a policy close that follows it.
func (g *Gateway) writeErrorNow(ctx context.Context, conn *websocket.Conn, code, msg string) {
	env, err := newEnvelope(v1.TypeError, v1.ErrorPayload{Code: code, Message: msg}, time.Now().UTC())
	if err != nil {
		return
	}
	_ = writeEnvelope(ctx, conn, env, g.cfg.WriteTimeout)
}

func (g *Gateway) enqueue(ctx context.Context, client *streamConn, env v1.Envelope) bool {
	select {
	case <-ctx.Done():
		return false
	case <-client.Done():
		return false
	case client.Send <- env:
		return true
	default:
		return false
	}
}
