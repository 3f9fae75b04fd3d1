package gate

import "context"

// Subscription is a registered change listener. Release is idempotent.
type Subscription interface {
	Release()
}

// SubscriptionFunc adapts a function to Subscription. It does not dedupe
// calls itself; the gate releases exactly once.
type SubscriptionFunc func()

func (f SubscriptionFunc) Release() { f() }

// Source supplies the current session and notifies session changes.
//
// CurrentSession is called once per mount and should honor ctx. fn passed
// to OnSessionChanged receives the new session, or nil when there is none,
// and must not block.
type Source interface {
	CurrentSession(ctx context.Context) (*Session, error)
	OnSessionChanged(fn func(*Session)) Subscription
}
