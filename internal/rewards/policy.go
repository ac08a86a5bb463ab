package rewards

import (
	"time"

	"github.com/angelmondragon/credits-backend/pkg/config"
	"github.com/angelmondragon/credits-backend/pkg/db/models"
)

// Policy applies the referral income caps. A cap <= 0 means unlimited.
type Policy struct {
	MonthlyCap int64
	TotalCap   int64
	Milestones map[int]int64
}

func PolicyFromConfig(cfg config.ReferralConfig) Policy {
	milestones := make(map[int]int64, len(cfg.Milestones))
	for count, bonus := range cfg.Milestones {
		milestones[count] = bonus
	}
	return Policy{
		MonthlyCap: cfg.MonthlyCap,
		TotalCap:   cfg.TotalCap,
		Milestones: milestones,
	}
}

// ResetMonthIfNeeded zeroes the monthly counter the first time it is consulted in a
// new calendar month (UTC). It mutates acct; persisting it is the caller's job.
func ResetMonthIfNeeded(acct *models.Account, now time.Time) bool {
	now = now.UTC()
	if !acct.LastMonthlyReset.IsZero() {
		lastYear, lastMonth, _ := acct.LastMonthlyReset.UTC().Date()
		year, month, _ := now.Date()
		if lastYear == year && lastMonth == month {
			return false
		}
	}
	acct.MonthlyReferralPoints = 0
	acct.LastMonthlyReset = now
	return true
}

// EvaluateReferralReward caps proposed against the total cap first, then the
// monthly cap. Crossing either boundary grants the remaining headroom.
func (p Policy) EvaluateReferralReward(acct *models.Account, proposed int64, now time.Time) Outcome {
	ResetMonthIfNeeded(acct, now)
	if proposed <= 0 {
		return Blocked(BlockNoReward)
	}

	amount := proposed
	if p.TotalCap > 0 {
		if acct.TotalReferralPoints >= p.TotalCap {
			return Blocked(BlockTotalLimit)
		}
		if headroom := p.TotalCap - acct.TotalReferralPoints; amount > headroom {
			amount = headroom
		}
	}
	if p.MonthlyCap > 0 && acct.MonthlyReferralPoints+amount > p.MonthlyCap {
		headroom := p.MonthlyCap - acct.MonthlyReferralPoints
		if headroom <= 0 {
			return Blocked(BlockMonthlyLimit)
		}
		amount = headroom
	}
	return Granted(amount)
}

// Milestone is a bonus triggered at an exact verified-referral count.
type Milestone struct {
	Threshold int
	Outcome   Outcome
}

// EvaluateMilestoneBonus fires only when TotalReferrals equals a configured
// threshold. Counts skipped over by a multi-step change never fire.
func (p Policy) EvaluateMilestoneBonus(acct *models.Account, now time.Time) (Milestone, bool) {
	bonus, ok := p.Milestones[acct.TotalReferrals]
	if !ok {
		return Milestone{}, false
	}
	return Milestone{
		Threshold: acct.TotalReferrals,
		Outcome:   p.EvaluateReferralReward(acct, bonus, now),
	}, true
}

// Record adds credited referral income to both counters.
func Record(acct *models.Account, amount int64) {
	acct.MonthlyReferralPoints += amount
	acct.TotalReferralPoints += amount
}

// Revert removes reversed referral income, never going below zero.
func Revert(acct *models.Account, amount int64) {
	acct.MonthlyReferralPoints = max(acct.MonthlyReferralPoints-amount, 0)
	acct.TotalReferralPoints = max(acct.TotalReferralPoints-amount, 0)
}
