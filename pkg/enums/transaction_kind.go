package enums

import "fmt"

// TransactionKind classifies every ledger entry. The set is closed; new kinds
// need a migration and a Direction case.
type TransactionKind string

const (
	TransactionKindCompetitionReward         TransactionKind = "competition_reward"
	TransactionKindReferralReward            TransactionKind = "referral_reward"
	TransactionKindMilestoneReward           TransactionKind = "milestone_reward"
	TransactionKindWelcomeBonus              TransactionKind = "welcome_bonus"
	TransactionKindRewardRedemption          TransactionKind = "reward_redemption"
	TransactionKindReferralRejectionReversal TransactionKind = "referral_rejection_reversal"
	TransactionKindAdminAdjustment           TransactionKind = "admin_adjustment"
	TransactionKindPurchase                  TransactionKind = "purchase"
	TransactionKindTransferIn                TransactionKind = "transfer_in"
	TransactionKindTransferOut               TransactionKind = "transfer_out"
)

var validTransactionKinds = []TransactionKind{
	TransactionKindCompetitionReward,
	TransactionKindReferralReward,
	TransactionKindMilestoneReward,
	TransactionKindWelcomeBonus,
	TransactionKindRewardRedemption,
	TransactionKindReferralRejectionReversal,
	TransactionKindAdminAdjustment,
	TransactionKindPurchase,
	TransactionKindTransferIn,
	TransactionKindTransferOut,
}

// TransactionKinds returns every known kind in declaration order.
func TransactionKinds() []TransactionKind {
	out := make([]TransactionKind, len(validTransactionKinds))
	copy(out, validTransactionKinds)
	return out
}

// Direction states which way a kind may move a balance.
type Direction int

const (
	DirectionNone Direction = iota
	DirectionCredit
	DirectionDebit
	DirectionEither
)

// Direction reports the balance movement allowed for the kind.
func (k TransactionKind) Direction() Direction {
	switch k {
	case TransactionKindCompetitionReward,
		TransactionKindReferralReward,
		TransactionKindMilestoneReward,
		TransactionKindWelcomeBonus,
		TransactionKindPurchase,
		TransactionKindTransferIn:
		return DirectionCredit
	case TransactionKindRewardRedemption,
		TransactionKindReferralRejectionReversal,
		TransactionKindTransferOut:
		return DirectionDebit
	case TransactionKindAdminAdjustment:
		return DirectionEither
	default:
		return DirectionNone
	}
}

// AllowsCredit reports whether entries of this kind may increase a balance.
func (k TransactionKind) AllowsCredit() bool {
	d := k.Direction()
	return d == DirectionCredit || d == DirectionEither
}

// AllowsDebit reports whether entries of this kind may decrease a balance.
func (k TransactionKind) AllowsDebit() bool {
	d := k.Direction()
	return d == DirectionDebit || d == DirectionEither
}

// IsReferralIncome marks kinds that count toward referral caps.
func (k TransactionKind) IsReferralIncome() bool {
	return k == TransactionKindReferralReward || k == TransactionKindMilestoneReward
}

func (k TransactionKind) IsValid() bool {
	for _, candidate := range validTransactionKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// ParseTransactionKind converts raw input into TransactionKind.
func ParseTransactionKind(value string) (TransactionKind, error) {
	for _, candidate := range validTransactionKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid transaction kind %q", value)
}
