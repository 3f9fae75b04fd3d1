package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"hub/cmd/identity"
	authapi "hub/cmd/internal/auth/api"
	"hub/cmd/internal/auth/events"
	"hub/cmd/internal/auth/session"
	"hub/cmd/internal/auth/source"
	"hub/cmd/internal/board"
	"hub/cmd/internal/dashboard"
	"hub/cmd/internal/export"
	"hub/cmd/internal/gate"
	"hub/cmd/internal/invite"
	"hub/cmd/internal/realtime"
	"hub/cmd/security/password"
)

// App is the assembled hub server.
type App struct {
	cfg Config
	log Logger

	handler  http.Handler
	metrics  *Metrics
	stores   *stores
	sessions *session.Service
	stream   *realtime.Gateway
	exporter *export.Scheduler

	closers []func()
}

// New wires stores, services and HTTP routes. Close releases what New opened
// when Run is never called.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	a := &App{cfg: cfg, log: log, metrics: NewMetrics()}
	ready := false
	defer func() {
		if !ready {
			a.Close()
		}
	}()

	hasher, err := ValidateSecurityConfig(cfg)
	if err != nil {
		return nil, err
	}

	a.stores, err = openStores(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.stores.Close)

	broker := events.NewBroker(log)
	publisher, err := a.eventPublisher(broker)
	if err != nil {
		return nil, err
	}

	scfg, err := a.sessionConfig()
	if err != nil {
		return nil, err
	}
	tokens, err := session.NewPasetoV4PublicManager(scfg)
	if err != nil {
		return nil, fmt.Errorf("access tokens: %w", err)
	}
	a.sessions = session.NewService(scfg, a.stores.sessions, tokens,
		session.WithHasher(hasher),
		session.WithEvents(publisher),
		session.WithLogger(log),
	)

	pwcfg, err := password.FromEnv()
	if err != nil {
		return nil, fmt.Errorf("password config: %w", err)
	}
	users := identity.NewService(a.stores.users, pwcfg, identity.WithLogger(log))
	if err := bootstrapOwner(ctx, cfg, users, log); err != nil {
		return nil, err
	}

	invites, err := invite.NewService(a.stores.invites, invite.WithHasher(hasher), invite.WithLogger(log))
	if err != nil {
		return nil, err
	}

	authCfg := authapi.LoadConfigFromEnv()
	authH, err := authapi.NewHandler(log, authCfg, users, a.sessions, invites,
		authapi.WithAuditHook(a.metrics.AuthEvent),
	)
	if err != nil {
		return nil, err
	}

	tokenFn := source.FirstToken(source.BearerToken, source.CookieToken(authCfg.AccessCookieName))
	sources := source.Func(a.sessions, broker, time.Now, tokenFn)
	mwOpts := middlewareOptions(cfg, log, a.metrics)

	a.stream = realtime.NewGateway(log, realtime.ConfigFromEnv(), func(tok string) gate.Source {
		return source.New(a.sessions, broker, tok, time.Now)
	}, gateOptions(cfg, log, a.metrics)...)
	a.metrics.WatchStreams(a.stream.Active)

	boardSvc := board.NewService(a.stores.board, board.WithLogger(log))

	mux := http.NewServeMux()
	registerHTTP(mux, log, cfg, routes{
		auth:      authH,
		dashboard: dashboard.NewHandler(boardSvc, log),
		stream:    a.stream,
		api:       gate.Middleware(sources, gate.APIRenderer{}, mwOpts...),
		page:      gate.Middleware(sources, gate.HTMLRenderer{}, mwOpts...),
		metrics:   a.metrics,
		stores:    a.stores,
	})
	a.handler = WithRequestLogging(WithRecover(WithSecurityHeaders(WithCORS(mux, cfg, log)), log), log, a.metrics)

	if cfg.ExportEnabled() {
		dest, err := export.NewS3Destination(ctx, export.S3Config{
			Bucket:   cfg.ExportBucket,
			Key:      cfg.ExportKey,
			Region:   cfg.ExportRegion,
			Endpoint: cfg.ExportEndpoint,
		})
		if err != nil {
			return nil, fmt.Errorf("export destination: %w", err)
		}
		a.exporter = export.NewScheduler(a.stores.board, []export.Destination{dest}, cfg.ExportInterval, log)
	}

	ready = true
	return a, nil
}

// eventPublisher returns the broker itself, or a NATS bridge in front of it
// when HUB_NATS_URL is set.
func (a *App) eventPublisher(broker *events.Broker) (events.Publisher, error) {
	if a.cfg.NATSURL == "" {
		return broker, nil
	}
	nc, err := events.Connect(a.cfg.NATSURL)
	if err != nil {
		return nil, fmt.Errorf("nats: %w", err)
	}
	a.closers = append(a.closers, nc.Close)

	bridge, err := events.NewNATSBridge(nc, broker, a.log)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() { _ = bridge.Close() })
	a.log.Info("auth.events.nats", "url", a.cfg.NATSURL, "origin", bridge.Origin())
	return bridge, nil
}

// sessionConfig loads the session settings. Only dev mode may fall back to
// an ephemeral signing key.
func (a *App) sessionConfig() (session.Config, error) {
	if strings.TrimSpace(os.Getenv("HUB_PASETO_V4_SECRET_KEY_HEX")) != "" || !a.cfg.DevMode {
		cfg, err := session.LoadConfigFromEnv()
		if err != nil {
			return session.Config{}, fmt.Errorf("session config: %w", err)
		}
		return cfg, nil
	}
	a.log.Warn("auth.key.ephemeral", "reason", "HUB_PASETO_V4_SECRET_KEY_HEX not set; tokens do not survive a restart")
	cfg, err := session.LoadConfigFromEnvOr(session.GenerateSecretKeyHex())
	if err != nil {
		return session.Config{}, fmt.Errorf("session config: %w", err)
	}
	return cfg, nil
}

// bootstrapOwner creates the first owner account on an empty hub so there is
// someone to hand out invites.
func bootstrapOwner(ctx context.Context, cfg Config, users *identity.Service, log Logger) error {
	if cfg.BootstrapOwnerEmail == "" {
		return nil
	}
	existing, err := users.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap owner: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}
	u, err := users.Register(ctx, identity.RegisterInput{
		Email:       cfg.BootstrapOwnerEmail,
		DisplayName: "Owner",
		Role:        identity.RoleOwner,
		Password:    cfg.BootstrapOwnerPassword,
	})
	if err != nil {
		return fmt.Errorf("bootstrap owner: %w", err)
	}
	log.Info("identity.bootstrap_owner", "user_id", u.ID, "email", u.Email)
	return nil
}

// Handler is the fully wrapped HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Run serves HTTP and the background jobs until ctx is canceled or one of
// them fails, then shuts down gracefully and releases resources.
func (a *App) Run(ctx context.Context) error {
	defer a.Close()

	ln, err := net.Listen("tcp", a.cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.cfg.HTTPAddr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener. It does not call Close.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		base := runtimeBaseURL(ln.Addr().String())
		a.log.Info("server.start",
			"addr", ln.Addr().String(),
			"base_url", base,
			"session_stream", wsBaseURL(base)+"/ws/session",
			"db", a.stores.dbEnabled(),
			"export", a.exporter != nil,
		)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
		defer cancel()
		a.log.Info("server.shutdown.start")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error("server.shutdown.fail", "err", err)
			return err
		}
		a.log.Info("server.shutdown.done")
		return nil
	})

	g.Go(func() error {
		a.sweepSessions(gctx)
		return nil
	})

	if a.exporter != nil {
		g.Go(func() error { return a.exporter.Run(gctx) })
	}

	return g.Wait()
}

// sweepSessions revokes sessions whose refresh window closed, so that their
// gates hear about it instead of waiting for the next request.
func (a *App) sweepSessions(ctx context.Context) {
	interval := nonZeroDuration(a.cfg.SessionSweepInterval, time.Minute)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := a.sessions.ExpireDue(ctx, now)
			if err != nil {
				if ctx.Err() == nil {
					a.log.Error("session.expire.fail", "err", err)
				}
				continue
			}
			if n > 0 {
				a.log.Info("session.expire", "count", n)
			}
		}
	}
}

// Close releases resources in reverse order of acquisition. Safe to call twice.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// runtimeBaseURL turns a listen address into a URL a local client can dial.
func runtimeBaseURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func wsBaseURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return "ws://" + base
	}
}
