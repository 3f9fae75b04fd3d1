package gate

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrUnmounted is returned by Wait when the gate is unmounted before it
// resolves.
var ErrUnmounted = errors.New("gate: unmounted")

// Gate is one mounted session gate. It is safe for concurrent use.
type Gate struct {
	opts options

	mu        sync.Mutex
	state     State
	session   *Session
	unmounted bool

	changes  chan State
	resolved chan struct{}
	done     chan struct{}

	sub         Subscription
	releaseOnce sync.Once
	cancel      context.CancelFunc
	timer       *time.Timer
	settled     chan struct{}
}

// Mount activates a gate over src: it registers one change subscription and
// then starts one asynchronous CurrentSession call. The gate must be
// released with Unmount.
func Mount(ctx context.Context, src Source, opts ...Option) *Gate {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	rctx, cancel := context.WithCancel(ctx)
	g := &Gate{
		opts:     o,
		changes:  make(chan State, 1),
		resolved: make(chan struct{}),
		done:     make(chan struct{}),
		cancel:   cancel,
		settled:  make(chan struct{}),
	}
	if o.observer != nil {
		o.observer.Mounted()
	}

	g.sub = src.OnSessionChanged(g.notify)

	g.mu.Lock()
	if !g.unmounted && g.state == Pending {
		g.timer = time.AfterFunc(o.resolveTimeout, g.resolveTimedOut)
	}
	g.mu.Unlock()

	go g.resolve(rctx, src)
	return g
}

func (g *Gate) resolve(ctx context.Context, src Source) {
	defer close(g.settled)
	s, err := src.CurrentSession(ctx)
	if err != nil {
		if ctx.Err() == nil {
			g.opts.log.Warn("gate.resolve.fail", "err", err)
		}
		s = nil
	}
	g.apply(s, true)
}

func (g *Gate) resolveTimedOut() {
	g.opts.log.Warn("gate.resolve.timeout", "timeout", g.opts.resolveTimeout.String())
	g.apply(nil, true)
	g.cancel()
}

// notify is the change subscription callback.
func (g *Gate) notify(s *Session) { g.apply(s, false) }

// apply writes a new state. Change notifications always win; the initial
// resolution only lands while the gate is still Pending, so a notification
// that arrived first is never overwritten by an older answer.
func (g *Gate) apply(s *Session, initial bool) {
	g.mu.Lock()
	if g.unmounted || (initial && g.state != Pending) {
		g.mu.Unlock()
		return
	}

	prev := g.state
	next := stateFor(s)
	g.state = next
	g.session = cloneSession(s)

	if prev == Pending {
		close(g.resolved)
		if g.timer != nil {
			g.timer.Stop()
		}
	}
	if prev != next {
		select {
		case <-g.changes:
		default:
		}
		g.changes <- next
		// Under the lock so a concurrent Unmount reports Unmounted after it.
		if g.opts.observer != nil {
			g.opts.observer.Transition(prev, next)
		}
	}
	g.mu.Unlock()

	if prev != next {
		g.opts.log.Debug("gate.state", "from", prev.String(), "to", next.String(), "initial", initial)
	}
}

// State returns the current gate state.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Session returns a copy of the cached session, or nil.
func (g *Gate) Session() *Session {
	g.mu.Lock()
	defer g.mu.Unlock()
	return cloneSession(g.session)
}

// Render returns the outcome for the current state.
func (g *Gate) Render() Outcome { return RenderState(g.State()) }

// LoginPath is the redirect target for the Redirect outcome.
func (g *Gate) LoginPath() string { return g.opts.loginPath }

// Changes delivers state transitions. Only the latest undelivered state is
// kept. The channel is closed by Unmount.
func (g *Gate) Changes() <-chan State { return g.changes }

// Settled is closed once the initial CurrentSession call has returned and its
// answer was applied or dropped. Unmount cancels the call but does not wait
// for it.
func (g *Gate) Settled() <-chan struct{} { return g.settled }

// Done is closed by Unmount.
func (g *Gate) Done() <-chan struct{} { return g.done }

// Wait blocks until the gate leaves Pending, ctx ends or the gate is
// unmounted.
func (g *Gate) Wait(ctx context.Context) (State, error) {
	select {
	case <-g.resolved:
		return g.State(), nil
	default:
	}
	select {
	case <-g.resolved:
		return g.State(), nil
	case <-g.done:
		return g.State(), ErrUnmounted
	case <-ctx.Done():
		return g.State(), ctx.Err()
	}
}

// Unmount releases the change subscription and discards the state. It is
// idempotent; after it returns no further state writes happen.
func (g *Gate) Unmount() {
	g.mu.Lock()
	if g.unmounted {
		g.mu.Unlock()
		return
	}
	g.unmounted = true
	final := g.state
	if g.timer != nil {
		g.timer.Stop()
	}
	close(g.done)
	close(g.changes)
	g.mu.Unlock()

	g.cancel()
	g.releaseOnce.Do(func() {
		if g.sub != nil {
			g.sub.Release()
		}
	})

	if g.opts.observer != nil {
		g.opts.observer.Unmounted(final)
	}
}

func cloneSession(s *Session) *Session {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}
