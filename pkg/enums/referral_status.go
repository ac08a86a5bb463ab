package enums

import "fmt"

// ReferralStatus tracks a referral through pending → verified | rejected.
type ReferralStatus string

const (
	ReferralStatusPending  ReferralStatus = "pending"
	ReferralStatusVerified ReferralStatus = "verified"
	ReferralStatusRejected ReferralStatus = "rejected"
)

var validReferralStatuses = []ReferralStatus{
	ReferralStatusPending,
	ReferralStatusVerified,
	ReferralStatusRejected,
}

func (s ReferralStatus) IsValid() bool {
	for _, candidate := range validReferralStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further verification may happen.
func (s ReferralStatus) IsTerminal() bool {
	return s == ReferralStatusVerified || s == ReferralStatusRejected
}

func ParseReferralStatus(value string) (ReferralStatus, error) {
	for _, candidate := range validReferralStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid referral status %q", value)
}

// Verification methods recorded on verified referrals.
const (
	VerificationMethodDirect   = "direct_registration"
	VerificationMethodActivity = "activity_participation"
	VerificationMethodAdmin    = "admin_review"
)

// Rejection reasons written by automated flows.
const (
	RejectionReasonDeadline       = "verification_deadline_expired"
	RejectionReasonMissingAccount = "referred_account_missing"
)
