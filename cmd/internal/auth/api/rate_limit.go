package authapi

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"hub/cmd/internal/httpjson"
)

type lockoutTier struct {
	Threshold int
	Duration  time.Duration
}

// loginThrottle remembers recent login failures per key ("ip:<addr>",
// "user:<email>") in process. Entries older than horizon are pruned on access.
type loginThrottle struct {
	mu       sync.Mutex
	failures map[string][]time.Time
	horizon  time.Duration
}

func newLoginThrottle(horizon time.Duration) *loginThrottle {
	if horizon <= 0 {
		horizon = time.Hour
	}
	return &loginThrottle{failures: make(map[string][]time.Time), horizon: horizon}
}

// recent returns the failures for key newest first.
func (t *loginThrottle) recent(key string, now time.Time) []time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	kept := t.prune(key, now)
	out := make([]time.Time, len(kept))
	for i := range kept {
		out[i] = kept[len(kept)-1-i]
	}
	return out
}

func (t *loginThrottle) record(now time.Time, keys ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, key := range keys {
		if key == "" {
			continue
		}
		t.failures[key] = append(t.prune(key, now), now)
	}
}

func (t *loginThrottle) reset(key string) {
	t.mu.Lock()
	delete(t.failures, key)
	t.mu.Unlock()
}

// prune must be called with mu held.
func (t *loginThrottle) prune(key string, now time.Time) []time.Time {
	list := t.failures[key]
	cut := now.Add(-t.horizon)
	i := 0
	for i < len(list) && !list[i].After(cut) {
		i++
	}
	list = list[i:]
	if len(list) == 0 {
		delete(t.failures, key)
		return nil
	}
	t.failures[key] = list
	return list
}

func (h *Handler) checkLoginIPThrottle(ipKey string, now time.Time) (bool, time.Duration) {
	if ipKey == "" || h.cfg.LoginIPMax <= 0 {
		return false, 0
	}
	return evaluateWindowThrottle(now, h.throttle.recent(ipKey, now), h.cfg.LoginIPMax, h.cfg.LoginIPWindow)
}

func (h *Handler) checkLoginUserThrottle(userKey string, now time.Time) (bool, time.Duration) {
	if userKey == "" {
		return false, 0
	}
	failures := h.throttle.recent(userKey, now)
	if blocked, retry := evaluateProgressiveLockout(now, failures, h.lockoutTiers()); blocked {
		return blocked, retry
	}
	if h.cfg.LoginUserMax <= 0 {
		return false, 0
	}
	return evaluateWindowThrottle(now, failures, h.cfg.LoginUserMax, h.cfg.LoginUserWindow)
}

// lockoutTiers lists the configured tiers, most severe first.
func (h *Handler) lockoutTiers() []lockoutTier {
	var tiers []lockoutTier
	for _, t := range []lockoutTier{
		{h.cfg.LockoutSevereThreshold, h.cfg.LockoutSevereDuration},
		{h.cfg.LockoutLongThreshold, h.cfg.LockoutLongDuration},
		{h.cfg.LockoutShortThreshold, h.cfg.LockoutShortDuration},
	} {
		if t.Threshold > 0 && t.Duration > 0 {
			tiers = append(tiers, t)
		}
	}
	return tiers
}

// evaluateWindowThrottle blocks once max failures fall inside window. The
// retry delay lasts until the oldest counted failure leaves the window.
func evaluateWindowThrottle(now time.Time, failures []time.Time, max int, window time.Duration) (bool, time.Duration) {
	if max <= 0 || window <= 0 {
		return false, 0
	}
	cut := now.Add(-window)
	count := 0
	var oldest time.Time
	for _, f := range failures {
		if !f.After(cut) {
			continue
		}
		count++
		if oldest.IsZero() || f.Before(oldest) {
			oldest = f
		}
	}
	if count < max {
		return false, 0
	}
	return true, oldest.Add(window).Sub(now)
}

// evaluateProgressiveLockout applies the first tier whose threshold is
// reached. The lockout runs from the most recent failure.
func evaluateProgressiveLockout(now time.Time, failures []time.Time, tiers []lockoutTier) (bool, time.Duration) {
	if len(failures) == 0 {
		return false, 0
	}
	latest := failures[0]
	for _, f := range failures[1:] {
		if f.After(latest) {
			latest = f
		}
	}
	for _, tier := range tiers {
		if tier.Threshold <= 0 || len(failures) < tier.Threshold {
			continue
		}
		until := latest.Add(tier.Duration)
		if !until.After(now) {
			return false, 0
		}
		return true, until.Sub(now)
	}
	return false, 0
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration, code, msg string) {
	if retryAfter > 0 {
		secs := int64((retryAfter + time.Second - 1) / time.Second)
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
	httpjson.WriteError(w, http.StatusTooManyRequests, code, msg)
}
