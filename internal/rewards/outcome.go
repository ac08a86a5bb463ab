package rewards

import "fmt"

// BlockReason explains why a reward was withheld entirely.
type BlockReason string

const (
	BlockTotalLimit   BlockReason = "total_limit"
	BlockMonthlyLimit BlockReason = "monthly_limit"
	BlockNoReward     BlockReason = "no_reward"
)

// Outcome is either Granted(amount) with amount > 0 or Blocked(reason).
type Outcome struct {
	amount int64
	reason BlockReason
}

func Granted(amount int64) Outcome {
	return Outcome{amount: amount}
}

func Blocked(reason BlockReason) Outcome {
	return Outcome{reason: reason}
}

// Granted returns the amount to credit when the outcome is a grant.
func (o Outcome) Granted() (int64, bool) {
	if o.reason != "" || o.amount <= 0 {
		return 0, false
	}
	return o.amount, true
}

// Blocked returns the blocking reason when nothing may be credited.
func (o Outcome) Blocked() (BlockReason, bool) {
	if _, ok := o.Granted(); ok {
		return "", false
	}
	if o.reason == "" {
		return BlockNoReward, true
	}
	return o.reason, true
}

func (o Outcome) String() string {
	if amount, ok := o.Granted(); ok {
		return fmt.Sprintf("granted(%d)", amount)
	}
	reason, _ := o.Blocked()
	return fmt.Sprintf("blocked(%s)", reason)
}
