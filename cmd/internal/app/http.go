package app

import (
	"net/http"
	"time"

	authapi "hub/cmd/internal/auth/api"
	"hub/cmd/internal/dashboard"
	"hub/cmd/internal/gate"
	"hub/cmd/internal/realtime"
)

// routes is everything registerHTTP mounts.
type routes struct {
	auth      *authapi.Handler
	dashboard *dashboard.Handler
	stream    *realtime.Gateway
	api       func(http.Handler) http.Handler
	page      func(http.Handler) http.Handler
	metrics   *Metrics
	stores    *stores
}

func registerHTTP(mux *http.ServeMux, log Logger, cfg Config, rt routes) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		dbEnabled := rt.stores.dbEnabled()
		if cfg.ReadinessRequireDB && !dbEnabled {
			http.Error(w, "db not configured", http.StatusServiceUnavailable)
			return
		}

		if dbEnabled {
			if err := rt.stores.ping(r.Context()); err != nil {
				http.Error(w, "db not ready", http.StatusServiceUnavailable)
				log.Info("readyz.db.not_ready", "err", err)
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	if cfg.MetricsEnabled && rt.metrics != nil {
		mux.Handle("GET "+cfg.MetricsPath, rt.metrics.Handler())
	}

	rt.auth.Register(mux)
	rt.dashboard.Register(mux, rt.api, rt.page)
	mux.Handle("GET /ws/session", rt.stream)

	// The root is the dashboard behind the gate.
	mux.Handle("GET /{$}", rt.page(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
	})))
}

// gateOptions are shared by the HTTP middlewares and the session stream.
func gateOptions(cfg Config, log Logger, metrics *Metrics) []gate.Option {
	opts := []gate.Option{
		gate.WithLoginPath(cfg.LoginPath),
		gate.WithResolveTimeout(cfg.GateResolveTimeout),
		gate.WithLogger(log),
	}
	if metrics != nil {
		opts = append(opts, gate.WithObserver(metrics))
	}
	return opts
}

func middlewareOptions(cfg Config, log Logger, metrics *Metrics) []gate.Option {
	return append(gateOptions(cfg, log, metrics), gate.WithRenderBudget(nonZeroDuration(cfg.GateRenderBudget, 2*time.Second)))
}
