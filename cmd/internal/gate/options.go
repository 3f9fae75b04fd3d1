package gate

import (
	"log/slog"
	"time"
)

const (
	DefaultResolveTimeout = 10 * time.Second
	DefaultLoginPath      = "/login"
)

// Observer receives gate lifecycle callbacks. Implementations must be safe
// for concurrent use and must not call back into the gate.
type Observer interface {
	Mounted()
	Transition(from, to State)
	Unmounted(final State)
}

type options struct {
	resolveTimeout time.Duration
	loginPath      string
	log            *slog.Logger
	observer       Observer
	renderBudget   time.Duration
}

func defaultOptions() options {
	return options{
		resolveTimeout: DefaultResolveTimeout,
		loginPath:      DefaultLoginPath,
		log:            slog.Default(),
	}
}

type Option func(*options)

// WithResolveTimeout bounds how long the initial session check may stay
// unanswered before the gate settles on Unauthenticated.
func WithResolveTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.resolveTimeout = d
		}
	}
}

// WithLoginPath sets the login entry point used for redirects.
func WithLoginPath(p string) Option {
	return func(o *options) {
		if p != "" {
			o.loginPath = p
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

func WithObserver(obs Observer) Option {
	return func(o *options) { o.observer = obs }
}

// WithRenderBudget caps how long Middleware waits for the gate to resolve
// before answering with the loading outcome. Zero waits for resolution,
// which the resolve timeout bounds.
func WithRenderBudget(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.renderBudget = d
		}
	}
}
