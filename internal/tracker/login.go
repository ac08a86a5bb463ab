package tracker

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/angelmondragon/credits-backend/internal/alerts"
	"github.com/angelmondragon/credits-backend/pkg/config"
	"github.com/angelmondragon/credits-backend/pkg/logger"
	"github.com/angelmondragon/credits-backend/pkg/metrics"
)

const policyLogin = "login"

// Lockout is an active login block. The zero value means not locked.
type Lockout struct {
	Scope string
	Until time.Time
}

func (l Lockout) Active() bool {
	return !l.Until.IsZero()
}

// RetryAfter is the remaining lockout duration, rounded up to whole seconds.
func (l Lockout) RetryAfter(now time.Time) time.Duration {
	if !l.Active() || !l.Until.After(now) {
		return 0
	}
	d := l.Until.Sub(now)
	if rem := d % time.Second; rem != 0 {
		d += time.Second - rem
	}
	return d
}

type lockoutRule struct {
	scope     string
	threshold int64
	step      time.Duration
	max       time.Duration
}

// duration grows by one step for every failure past the threshold, up to max.
func (r lockoutRule) duration(count int64) time.Duration {
	if r.threshold <= 0 || count < r.threshold {
		return 0
	}
	steps := count - r.threshold + 1
	ceiling := r.max
	if ceiling <= 0 {
		ceiling = time.Duration(math.MaxInt64)
	}
	// clamp before multiplying so a huge failure count cannot wrap negative.
	if r.step > 0 && steps > int64(ceiling/r.step) {
		return ceiling
	}
	return min(r.step*time.Duration(steps), ceiling)
}

type LoginGuardParams struct {
	Counters CounterStore
	Locks    LockStore
	Config   config.LoginProtectionConfig
	Alerts   alerts.Raiser
	Logger   *logger.Logger
	Metrics  *metrics.DomainMetrics
}

// LoginGuard applies per-IP and per-username failure windows with escalating
// lockouts. Administrators get their own, stricter rules.
type LoginGuard struct {
	counters CounterStore
	locks    LockStore
	cfg      config.LoginProtectionConfig
	alerts   alerts.Raiser
	logg     *logger.Logger
	metrics  *metrics.DomainMetrics
	now      func() time.Time
}

func NewLoginGuard(p LoginGuardParams) *LoginGuard {
	logg := p.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	cfg := p.Config
	if cfg.Window <= 0 {
		cfg.Window = 5 * time.Minute
	}
	if cfg.SuccessLookback <= 0 {
		cfg.SuccessLookback = 30 * time.Minute
	}
	return &LoginGuard{
		counters: p.Counters,
		locks:    p.Locks,
		cfg:      cfg,
		alerts:   p.Alerts,
		logg:     logg,
		metrics:  p.Metrics,
		now:      time.Now,
	}
}

func (g *LoginGuard) rules(admin bool) (ip, user lockoutRule) {
	if admin {
		return lockoutRule{ScopeLoginIP, int64(g.cfg.AdminIPThreshold), g.cfg.AdminIPStep, g.cfg.AdminIPMax},
			lockoutRule{ScopeLoginUser, int64(g.cfg.AdminUserThreshold), g.cfg.AdminUserStep, g.cfg.AdminUserMax}
	}
	return lockoutRule{ScopeLoginIP, int64(g.cfg.IPThreshold), g.cfg.IPLockoutStep, g.cfg.IPLockoutMax},
		lockoutRule{ScopeLoginUser, int64(g.cfg.UserThreshold), g.cfg.UserLockoutStep, g.cfg.UserLockoutMax}
}

// Check returns the longest active lockout for the username or IP.
// Store failures are logged and treated as not locked.
func (g *LoginGuard) Check(ctx context.Context, username, ip string) Lockout {
	now := g.now().UTC()
	var out Lockout
	for _, key := range []struct{ scope, subject string }{
		{ScopeLoginIP, normalizeIP(ip)},
		{ScopeLoginUser, normalizeUsername(username)},
	} {
		if key.subject == "" {
			continue
		}
		until, locked, err := g.locks.LockedUntil(ctx, key.scope, key.subject, now)
		if err != nil {
			g.logg.Error(ctx, "lockout lookup failed", err)
			continue
		}
		if locked && until.After(out.Until) {
			out = Lockout{Scope: key.scope, Until: until}
		}
	}
	if out.Active() {
		g.metrics.TrackerDecision(policyLogin, "locked")
	}
	return out
}

// RecordFailure counts a failed attempt and applies lockouts once a rule's
// threshold is reached. admin selects the stricter rules.
func (g *LoginGuard) RecordFailure(ctx context.Context, username, ip string, admin bool) Lockout {
	now := g.now().UTC()
	username = normalizeUsername(username)
	ip = normalizeIP(ip)
	ipRule, userRule := g.rules(admin)

	if username != "" {
		if _, err := g.counters.Hit(ctx, ScopeLoginFailures, username, g.cfg.SuccessLookback, now); err != nil {
			g.logg.Error(ctx, "failed to record login failure history", err)
		}
	}

	var out Lockout
	for _, target := range []struct {
		rule    lockoutRule
		subject string
	}{
		{ipRule, ip},
		{userRule, username},
	} {
		if target.subject == "" {
			continue
		}
		count, err := g.counters.Hit(ctx, target.rule.scope, target.subject, g.cfg.Window, now)
		if err != nil {
			g.logg.Error(ctx, "login failure counter unavailable", err)
			continue
		}
		d := target.rule.duration(count)
		if d <= 0 {
			continue
		}
		until := now.Add(d)
		if err := g.locks.Lock(ctx, target.rule.scope, target.subject, until); err != nil {
			g.logg.Error(ctx, "failed to store lockout", err)
			continue
		}
		logCtx := g.logg.WithFields(ctx, map[string]any{
			"scope":    target.rule.scope,
			"subject":  target.subject,
			"failures": count,
			"lockout":  d.String(),
		})
		g.logg.Warn(logCtx, "login lockout applied")
		g.metrics.TrackerDecision(policyLogin, "lockout")
		if count == target.rule.threshold && g.alerts != nil {
			g.alerts.Raise(ctx, alerts.Event{
				Kind:    alerts.KindFailedAuthBurst,
				Subject: username,
				IP:      ip,
				Count:   count,
				Admin:   admin,
			})
		}
		if until.After(out.Until) {
			out = Lockout{Scope: target.rule.scope, Until: until}
		}
	}
	return out
}

// RecordSuccess raises a suspicious_login alert when the success follows enough
// recent failures, then clears the username's failure windows.
func (g *LoginGuard) RecordSuccess(ctx context.Context, username, ip string) {
	now := g.now().UTC()
	username = normalizeUsername(username)
	if username == "" {
		return
	}
	recent, err := g.counters.Count(ctx, ScopeLoginFailures, username, g.cfg.SuccessLookback, now)
	if err != nil {
		g.logg.Error(ctx, "failed to read login failure history", err)
	}
	if g.cfg.SuspiciousSuccessMin > 0 && recent >= int64(g.cfg.SuspiciousSuccessMin) {
		g.metrics.TrackerDecision(policyLogin, "suspicious_success")
		if g.alerts != nil {
			g.alerts.Raise(ctx, alerts.Event{
				Kind:    alerts.KindSuspiciousLogin,
				Subject: username,
				IP:      normalizeIP(ip),
				Count:   recent,
			})
		}
	}
	for _, scope := range []string{ScopeLoginUser, ScopeLoginFailures} {
		if err := g.counters.Reset(ctx, scope, username); err != nil {
			g.logg.Error(ctx, "failed to reset login counters", err)
		}
	}
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}
