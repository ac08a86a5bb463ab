package controllers

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/credits-backend/internal/referrals"
	"github.com/angelmondragon/credits-backend/pkg/db/models"
	"github.com/angelmondragon/credits-backend/pkg/enums"
)

// Wire representations. Models never reach the response encoder directly so
// password hashes and internal columns stay server side.

type AccountView struct {
	ID                    uuid.UUID         `json:"id"`
	Username              string            `json:"username"`
	Email                 string            `json:"email"`
	Role                  enums.AccountRole `json:"role"`
	Balance               int64             `json:"balance"`
	ReferralCode          string            `json:"referral_code"`
	ReferralCodeExpiresAt *time.Time        `json:"referral_code_expires_at,omitempty"`
	ReferredByID          *uuid.UUID        `json:"referred_by_id,omitempty"`
	TotalReferrals        int               `json:"total_referrals"`
	MonthlyReferralPoints int64             `json:"monthly_referral_points"`
	TotalReferralPoints   int64             `json:"total_referral_points"`
	CreatedAt             time.Time         `json:"created_at"`
}

func accountView(a *models.Account) *AccountView {
	if a == nil {
		return nil
	}
	return &AccountView{
		ID:                    a.ID,
		Username:              a.Username,
		Email:                 a.Email,
		Role:                  a.Role,
		Balance:               a.Balance,
		ReferralCode:          a.ReferralCode,
		ReferralCodeExpiresAt: a.ReferralCodeExpiresAt,
		ReferredByID:          a.ReferredByID,
		TotalReferrals:        a.TotalReferrals,
		MonthlyReferralPoints: a.MonthlyReferralPoints,
		TotalReferralPoints:   a.TotalReferralPoints,
		CreatedAt:             a.CreatedAt,
	}
}

type EntryView struct {
	ID           int64                 `json:"id"`
	AccountID    uuid.UUID             `json:"account_id"`
	Amount       int64                 `json:"amount"`
	BalanceAfter int64                 `json:"balance_after"`
	Kind         enums.TransactionKind `json:"kind"`
	RelatedID    *uuid.UUID            `json:"related_id,omitempty"`
	Reason       string                `json:"reason"`
	ActorID      *uuid.UUID            `json:"actor_id,omitempty"`
	CreatedAt    time.Time             `json:"created_at"`
}

func entryView(e *models.LedgerEntry) *EntryView {
	if e == nil {
		return nil
	}
	return &EntryView{
		ID:           e.ID,
		AccountID:    e.AccountID,
		Amount:       e.Amount,
		BalanceAfter: e.BalanceAfter,
		Kind:         e.Kind,
		RelatedID:    e.RelatedID,
		Reason:       e.Reason,
		ActorID:      e.ActorID,
		CreatedAt:    e.CreatedAt,
	}
}

func entryViews(entries []models.LedgerEntry) []*EntryView {
	out := make([]*EntryView, 0, len(entries))
	for i := range entries {
		out = append(out, entryView(&entries[i]))
	}
	return out
}

type ReferralView struct {
	ID                 uuid.UUID            `json:"id"`
	ReferrerID         uuid.UUID            `json:"referrer_id"`
	ReferredID         uuid.UUID            `json:"referred_id"`
	Status             enums.ReferralStatus `json:"status"`
	RewardPaid         bool                 `json:"reward_paid"`
	RewardAmount       int64                `json:"reward_amount"`
	ReversedAmount     int64                `json:"reversed_amount"`
	RewardBlockReason  *string              `json:"reward_block_reason,omitempty"`
	VerifiedAt         *time.Time           `json:"verified_at,omitempty"`
	VerificationMethod *string              `json:"verification_method,omitempty"`
	RejectionReason    *string              `json:"rejection_reason,omitempty"`
	RejectedAt         *time.Time           `json:"rejected_at,omitempty"`
	IsSuspicious       bool                 `json:"is_suspicious"`
	CreatedAt          time.Time            `json:"created_at"`
}

func referralView(r *models.Referral) *ReferralView {
	if r == nil {
		return nil
	}
	return &ReferralView{
		ID:                 r.ID,
		ReferrerID:         r.ReferrerID,
		ReferredID:         r.ReferredID,
		Status:             r.Status,
		RewardPaid:         r.RewardPaid,
		RewardAmount:       r.RewardAmount,
		ReversedAmount:     r.ReversedAmount,
		RewardBlockReason:  r.RewardBlockReason,
		VerifiedAt:         r.VerifiedAt,
		VerificationMethod: r.VerificationMethod,
		RejectionReason:    r.RejectionReason,
		RejectedAt:         r.RejectedAt,
		IsSuspicious:       r.IsSuspicious,
		CreatedAt:          r.CreatedAt,
	}
}

func referralViews(items []models.Referral) []*ReferralView {
	out := make([]*ReferralView, 0, len(items))
	for i := range items {
		out = append(out, referralView(&items[i]))
	}
	return out
}

type TransitionView struct {
	Referral       *ReferralView `json:"referral"`
	Changed        bool          `json:"changed"`
	RewardEntry    *EntryView    `json:"reward_entry,omitempty"`
	MilestoneEntry *EntryView    `json:"milestone_entry,omitempty"`
	WelcomeEntry   *EntryView    `json:"welcome_entry,omitempty"`
	ReversalEntry  *EntryView    `json:"reversal_entry,omitempty"`
	BlockReason    string        `json:"block_reason,omitempty"`
	Shortfall      int64         `json:"shortfall,omitempty"`
}

func transitionView(t *referrals.TransitionResult) *TransitionView {
	if t == nil {
		return nil
	}
	return &TransitionView{
		Referral:       referralView(t.Referral),
		Changed:        t.Changed,
		RewardEntry:    entryView(t.RewardEntry),
		MilestoneEntry: entryView(t.MilestoneEntry),
		WelcomeEntry:   entryView(t.WelcomeEntry),
		ReversalEntry:  entryView(t.ReversalEntry),
		BlockReason:    string(t.BlockReason),
		Shortfall:      t.Shortfall,
	}
}

type NotificationView struct {
	ID               uuid.UUID              `json:"id"`
	Type             enums.NotificationType `json:"type"`
	Severity         enums.Severity         `json:"severity"`
	Title            string                 `json:"title"`
	Message          string                 `json:"message"`
	RelatedAccountID *uuid.UUID             `json:"related_account_id,omitempty"`
	IsRead           bool                   `json:"is_read"`
	ReadAt           *time.Time             `json:"read_at,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
}

func notificationViews(items []models.AdminNotification) []NotificationView {
	out := make([]NotificationView, 0, len(items))
	for _, n := range items {
		out = append(out, NotificationView{
			ID:               n.ID,
			Type:             n.Type,
			Severity:         n.Severity,
			Title:            n.Title,
			Message:          n.Message,
			RelatedAccountID: n.RelatedAccountID,
			IsRead:           n.IsRead,
			ReadAt:           n.ReadAt,
			CreatedAt:        n.CreatedAt,
		})
	}
	return out
}

type BlockedIPView struct {
	IP            string     `json:"ip"`
	ReferralCount int        `json:"referral_count"`
	FirstSeen     time.Time  `json:"first_seen"`
	LastSeen      time.Time  `json:"last_seen"`
	BlockedAt     *time.Time `json:"blocked_at,omitempty"`
	BlockReason   *string    `json:"block_reason,omitempty"`
}

func blockedIPViews(rows []models.ReferralIPLog) []BlockedIPView {
	out := make([]BlockedIPView, 0, len(rows))
	for _, row := range rows {
		out = append(out, BlockedIPView{
			IP:            row.IP,
			ReferralCount: row.ReferralCount,
			FirstSeen:     row.FirstSeen,
			LastSeen:      row.LastSeen,
			BlockedAt:     row.BlockedAt,
			BlockReason:   row.BlockReason,
		})
	}
	return out
}
