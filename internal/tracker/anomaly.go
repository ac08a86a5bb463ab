package tracker

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/credits-backend/internal/alerts"
	"github.com/angelmondragon/credits-backend/pkg/logger"
	"github.com/angelmondragon/credits-backend/pkg/metrics"
)

const (
	policySuspiciousRate  = "suspicious_rate"
	policyAutomatedClient = "automated_client"
)

type SuspiciousRateParams struct {
	Counters  CounterStore
	Repo      Repository
	Alerts    alerts.Raiser
	Logger    *logger.Logger
	Metrics   *metrics.DomainMetrics
	Threshold int
	Window    time.Duration
}

// SuspiciousRate flags referrers creating referrals faster than the threshold.
// It is advisory only and never blocks.
type SuspiciousRate struct {
	counters  CounterStore
	repo      Repository
	alerts    alerts.Raiser
	logg      *logger.Logger
	metrics   *metrics.DomainMetrics
	threshold int64
	window    time.Duration
	now       func() time.Time
}

func NewSuspiciousRate(p SuspiciousRateParams) *SuspiciousRate {
	logg := p.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	window := p.Window
	if window <= 0 {
		window = time.Hour
	}
	return &SuspiciousRate{
		counters:  p.Counters,
		repo:      p.Repo,
		alerts:    p.Alerts,
		logg:      logg,
		metrics:   p.Metrics,
		threshold: int64(p.Threshold),
		window:    window,
		now:       time.Now,
	}
}

// RateDecision reports the referrer's count inside the window.
type RateDecision struct {
	Count      int64
	Suspicious bool
}

// Record counts a committed referral for referrerID. At or above the threshold
// the referrer's referrals inside the window are flagged; the alert fires once,
// when the threshold is first reached.
func (s *SuspiciousRate) Record(ctx context.Context, referrerID uuid.UUID) RateDecision {
	if s.threshold <= 0 {
		return RateDecision{}
	}
	ctx = s.logg.WithField(ctx, "referrer_id", referrerID.String())
	now := s.now().UTC()

	count, err := s.counters.Hit(ctx, ScopeReferrer, referrerID.String(), s.window, now)
	if err != nil {
		s.logg.Error(ctx, "referral rate counter unavailable, treating as not suspicious", err)
		s.metrics.TrackerDecision(policySuspiciousRate, "degraded")
		return RateDecision{}
	}
	if count < s.threshold {
		s.metrics.TrackerDecision(policySuspiciousRate, "normal")
		return RateDecision{Count: count}
	}

	if _, err := s.repo.FlagReferrerSince(ctx, referrerID, now.Add(-s.window)); err != nil {
		s.logg.Error(ctx, "failed to flag suspicious referrals", err)
	}
	s.metrics.TrackerDecision(policySuspiciousRate, "suspicious")
	s.logg.Warn(s.logg.WithField(ctx, "count", count), "suspicious referral rate")
	if count == s.threshold && s.alerts != nil {
		referrer := referrerID
		s.alerts.Raise(ctx, alerts.Event{
			Kind:      alerts.KindSuspiciousRate,
			AccountID: &referrer,
			Subject:   referrerID.String(),
			Count:     count,
		})
	}
	return RateDecision{Count: count, Suspicious: true}
}

// AutomatedClient matches user agents against known automation signatures.
type AutomatedClient struct {
	signatures []string
	metrics    *metrics.DomainMetrics
}

func NewAutomatedClient(signatures []string, m *metrics.DomainMetrics) *AutomatedClient {
	clean := make([]string, 0, len(signatures))
	for _, sig := range signatures {
		sig = strings.ToLower(strings.TrimSpace(sig))
		if sig != "" {
			clean = append(clean, sig)
		}
	}
	return &AutomatedClient{signatures: clean, metrics: m}
}

// Detect reports whether userAgent looks automated and which signature matched.
// An empty user agent always counts as automated.
func (a *AutomatedClient) Detect(userAgent string) (bool, string) {
	agent := strings.ToLower(strings.TrimSpace(userAgent))
	if agent == "" {
		a.metrics.TrackerDecision(policyAutomatedClient, "empty")
		return true, "empty"
	}
	for _, sig := range a.signatures {
		if strings.Contains(agent, sig) {
			a.metrics.TrackerDecision(policyAutomatedClient, "matched")
			return true, sig
		}
	}
	return false, ""
}
