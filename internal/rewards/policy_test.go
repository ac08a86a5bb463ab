package rewards

import (
	"testing"
	"time"

	"github.com/angelmondragon/credits-backend/pkg/config"
	"github.com/angelmondragon/credits-backend/pkg/db/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, time.March, 14, 12, 0, 0, 0, time.UTC)

func account(monthly, total int64, referrals int) *models.Account {
	return &models.Account{
		MonthlyReferralPoints: monthly,
		TotalReferralPoints:   total,
		TotalReferrals:        referrals,
		LastMonthlyReset:      now.AddDate(0, 0, -3),
	}
}

func TestEvaluateReferralReward_MonthlyPartialGrant(t *testing.T) {
	policy := Policy{MonthlyCap: 500, TotalCap: 5000}

	got := policy.EvaluateReferralReward(account(480, 480, 0), 50, now)
	amount, ok := got.Granted()
	require.True(t, ok)
	assert.EqualValues(t, 20, amount)

	got = policy.EvaluateReferralReward(account(500, 500, 0), 50, now)
	reason, blocked := got.Blocked()
	require.True(t, blocked)
	assert.Equal(t, BlockMonthlyLimit, reason)
}

func TestEvaluateReferralReward_TotalCapPartialThenBlocked(t *testing.T) {
	policy := Policy{MonthlyCap: 500, TotalCap: 1000}
	acct := account(0, 990, 0)

	got := policy.EvaluateReferralReward(acct, 20, now)
	amount, ok := got.Granted()
	require.True(t, ok)
	assert.EqualValues(t, 10, amount)
	Record(acct, amount)

	got = policy.EvaluateReferralReward(acct, 20, now)
	reason, blocked := got.Blocked()
	require.True(t, blocked)
	assert.Equal(t, BlockTotalLimit, reason)
	assert.Equal(t, "blocked(total_limit)", got.String())
}

func TestEvaluateReferralReward_UnderCapsGrantsFullAmount(t *testing.T) {
	got := Policy{MonthlyCap: 500, TotalCap: 5000}.EvaluateReferralReward(account(100, 100, 0), 50, now)
	assert.Equal(t, "granted(50)", got.String())
}

func TestEvaluateReferralReward_ZeroCapsAreUnlimited(t *testing.T) {
	got := Policy{}.EvaluateReferralReward(account(1_000_000, 9_000_000, 0), 50, now)
	amount, ok := got.Granted()
	require.True(t, ok)
	assert.EqualValues(t, 50, amount)
}

func TestEvaluateReferralReward_NonPositiveProposal(t *testing.T) {
	reason, blocked := Policy{}.EvaluateReferralReward(account(0, 0, 0), 0, now).Blocked()
	require.True(t, blocked)
	assert.Equal(t, BlockNoReward, reason)
}

func TestEvaluateReferralReward_ResetsOnNewMonth(t *testing.T) {
	acct := account(500, 500, 0)
	acct.LastMonthlyReset = time.Date(2026, time.February, 27, 0, 0, 0, 0, time.UTC)

	got := Policy{MonthlyCap: 500, TotalCap: 5000}.EvaluateReferralReward(acct, 50, now)
	amount, ok := got.Granted()
	require.True(t, ok)
	assert.EqualValues(t, 50, amount)
	assert.EqualValues(t, 0, acct.MonthlyReferralPoints)
	assert.Equal(t, now, acct.LastMonthlyReset)
	assert.EqualValues(t, 500, acct.TotalReferralPoints)
}

func TestResetMonthIfNeeded_SameMonthDifferentYear(t *testing.T) {
	acct := account(10, 10, 0)
	acct.LastMonthlyReset = now.AddDate(-1, 0, 0)
	assert.True(t, ResetMonthIfNeeded(acct, now))
	assert.False(t, ResetMonthIfNeeded(acct, now.Add(time.Hour)))
}

func TestEvaluateMilestoneBonus_ExactMatchOnly(t *testing.T) {
	policy := Policy{MonthlyCap: 500, TotalCap: 5000, Milestones: map[int]int64{5: 100, 10: 250}}

	milestone, ok := policy.EvaluateMilestoneBonus(account(0, 0, 5), now)
	require.True(t, ok)
	assert.Equal(t, 5, milestone.Threshold)
	amount, granted := milestone.Outcome.Granted()
	require.True(t, granted)
	assert.EqualValues(t, 100, amount)

	_, ok = policy.EvaluateMilestoneBonus(account(0, 0, 6), now)
	assert.False(t, ok)
	_, ok = policy.EvaluateMilestoneBonus(account(0, 0, 4), now)
	assert.False(t, ok)
}

func TestEvaluateMilestoneBonus_RespectsCaps(t *testing.T) {
	policy := Policy{MonthlyCap: 500, TotalCap: 5000, Milestones: map[int]int64{10: 250}}

	milestone, ok := policy.EvaluateMilestoneBonus(account(400, 400, 10), now)
	require.True(t, ok)
	amount, granted := milestone.Outcome.Granted()
	require.True(t, granted)
	assert.EqualValues(t, 100, amount)
}

func TestRevert_FloorsAtZero(t *testing.T) {
	acct := account(20, 30, 1)
	Revert(acct, 50)
	assert.EqualValues(t, 0, acct.MonthlyReferralPoints)
	assert.EqualValues(t, 0, acct.TotalReferralPoints)
}

func TestPolicyFromConfig_CopiesMilestones(t *testing.T) {
	cfg := config.ReferralConfig{MonthlyCap: 500, TotalCap: 5000, Milestones: map[int]int64{5: 100}}
	policy := PolicyFromConfig(cfg)
	cfg.Milestones[5] = 1

	assert.EqualValues(t, 500, policy.MonthlyCap)
	assert.EqualValues(t, 100, policy.Milestones[5])
}
