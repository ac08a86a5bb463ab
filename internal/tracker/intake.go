package tracker

import (
	"context"
	"time"

	"github.com/angelmondragon/credits-backend/internal/alerts"
	pkgerrors "github.com/angelmondragon/credits-backend/pkg/errors"
	"github.com/angelmondragon/credits-backend/pkg/logger"
	"github.com/angelmondragon/credits-backend/pkg/metrics"
)

// Intake rejection reasons surfaced to the registering user.
const (
	ReasonIPBlocked         = "ip_blocked"
	ReasonMaxReferralsPerIP = "max_referrals_per_ip"
)

const policyReferralIntake = "referral_intake"

// IntakeDecision is the outcome of one referral attempt from an IP.
type IntakeDecision struct {
	Allowed bool
	Reason  string
	Count   int64
	// Blocked is true when this attempt triggered the automatic block.
	Blocked bool
}

// Err converts a rejection into the typed error returned to callers.
func (d IntakeDecision) Err() error {
	switch {
	case d.Allowed:
		return nil
	case d.Reason == ReasonIPBlocked:
		return pkgerrors.New(pkgerrors.CodeForbidden, "referrals from this address are blocked").WithReason(ReasonIPBlocked)
	default:
		return pkgerrors.New(pkgerrors.CodeRateLimit, "too many referrals from this address").WithReason(ReasonMaxReferralsPerIP)
	}
}

// IntakeParams configures ReferralIntake.
type IntakeParams struct {
	Counters             CounterStore
	Repo                 Repository
	BlockList            *BlockList
	Alerts               alerts.Raiser
	Logger               *logger.Logger
	Metrics              *metrics.DomainMetrics
	MaxPerIP             int
	Window               time.Duration
	FlagPendingOnIPBlock bool
}

// ReferralIntake throttles referral creation per source IP. Attempts past
// MaxPerIP are refused; reaching twice that blocks the IP permanently.
type ReferralIntake struct {
	counters    CounterStore
	repo        Repository
	blocks      *BlockList
	alerts      alerts.Raiser
	logg        *logger.Logger
	metrics     *metrics.DomainMetrics
	maxPerIP    int64
	window      time.Duration
	flagPending bool
	now         func() time.Time
}

func NewReferralIntake(p IntakeParams) *ReferralIntake {
	logg := p.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	window := p.Window
	if window <= 0 {
		window = 24 * time.Hour
	}
	maxPerIP := int64(p.MaxPerIP)
	if maxPerIP <= 0 {
		maxPerIP = 5
	}
	return &ReferralIntake{
		counters:    p.Counters,
		repo:        p.Repo,
		blocks:      p.BlockList,
		alerts:      p.Alerts,
		logg:        logg,
		metrics:     p.Metrics,
		maxPerIP:    maxPerIP,
		window:      window,
		flagPending: p.FlagPendingOnIPBlock,
		now:         time.Now,
	}
}

// Check records one attempt from ip and decides whether it may create a referral.
// Storage failures degrade towards allowing the attempt.
func (i *ReferralIntake) Check(ctx context.Context, ip string) IntakeDecision {
	ip = normalizeIP(ip)
	if ip == "" {
		return IntakeDecision{Allowed: true}
	}
	ctx = i.logg.WithField(ctx, "ip", ip)
	now := i.now().UTC()

	blocked, err := i.blocks.IsBlocked(ctx, ip)
	if err != nil {
		i.logg.Error(ctx, "ip block lookup failed, continuing", err)
	}
	if blocked {
		i.metrics.TrackerDecision(policyReferralIntake, ReasonIPBlocked)
		i.logg.Warn(ctx, "referral attempt from blocked ip")
		return IntakeDecision{Reason: ReasonIPBlocked}
	}

	count, err := i.counters.Hit(ctx, ScopeReferralIP, ip, i.window, now)
	if err != nil {
		i.logg.Error(ctx, "referral ip counter unavailable, falling back to stored referrals", err)
		stored, dbErr := i.repo.CountReferralsFromIP(ctx, ip, now.Add(-i.window))
		if dbErr != nil {
			i.logg.Error(ctx, "referral ip fallback count failed", dbErr)
		}
		count = stored + 1
	}
	if err := i.repo.RecordAttempt(ctx, ip, now); err != nil {
		i.logg.Error(ctx, "failed to update referral ip log", err)
	}

	decision := IntakeDecision{Allowed: true, Count: count}
	switch {
	case count >= 2*i.maxPerIP:
		decision = IntakeDecision{Reason: ReasonMaxReferralsPerIP, Count: count, Blocked: true}
		i.autoBlock(ctx, ip, count)
	case count > i.maxPerIP:
		decision = IntakeDecision{Reason: ReasonMaxReferralsPerIP, Count: count}
		i.logg.Warn(ctx, "referral ip limit reached")
	}

	outcome := "allowed"
	if !decision.Allowed {
		outcome = decision.Reason
	}
	i.metrics.TrackerDecision(policyReferralIntake, outcome)
	return decision
}

func (i *ReferralIntake) autoBlock(ctx context.Context, ip string, count int64) {
	if err := i.blocks.Block(ctx, ip, "automatic: referral volume"); err != nil {
		i.logg.Error(ctx, "failed to block ip", err)
		return
	}
	i.logg.Warn(ctx, "ip blocked for referral volume")
	if i.flagPending {
		flagged, err := i.repo.FlagPendingFromIP(ctx, ip)
		if err != nil {
			i.logg.Error(ctx, "failed to flag pending referrals from blocked ip", err)
		} else if flagged > 0 {
			i.logg.Warn(i.logg.WithField(ctx, "flagged", flagged), "pending referrals from blocked ip flagged")
		}
	}
	if i.alerts != nil {
		i.alerts.Raise(ctx, alerts.Event{Kind: alerts.KindIPAutoBlock, IP: ip, Count: count})
	}
}
