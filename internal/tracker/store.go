package tracker

import (
	"context"
	"time"
)

// Scopes partition the counter and lockout keyspace.
const (
	ScopeReferralIP    = "referral_ip"
	ScopeReferrer      = "referrer"
	ScopeLoginIP       = "login_ip"
	ScopeLoginUser     = "login_user"
	ScopeLoginFailures = "login_failures"
)

// CounterStore keeps sliding-window hit counters keyed by scope and subject.
// Hit must record and count atomically.
type CounterStore interface {
	Hit(ctx context.Context, scope, subject string, window time.Duration, now time.Time) (int64, error)
	Count(ctx context.Context, scope, subject string, window time.Duration, now time.Time) (int64, error)
	Reset(ctx context.Context, scope, subject string) error
}

// LockStore keeps expiring lockouts.
type LockStore interface {
	Lock(ctx context.Context, scope, subject string, until time.Time) error
	LockedUntil(ctx context.Context, scope, subject string, now time.Time) (time.Time, bool, error)
	Clear(ctx context.Context, scope, subject string) error
}

// Tracker is the generic record-and-check primitive over a CounterStore.
type Tracker struct {
	store CounterStore
	now   func() time.Time
}

func New(store CounterStore) *Tracker {
	return &Tracker{store: store, now: time.Now}
}

// RecordAndCheck records one occurrence and reports whether the rolling count
// within window has reached threshold.
func (t *Tracker) RecordAndCheck(ctx context.Context, scope, subject string, window time.Duration, threshold int64) (int64, bool, error) {
	count, err := t.store.Hit(ctx, scope, subject, window, t.now())
	if err != nil {
		return 0, false, err
	}
	return count, threshold > 0 && count >= threshold, nil
}
