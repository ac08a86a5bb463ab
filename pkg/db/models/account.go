package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/credits-backend/pkg/enums"
)

// Account is the credit-holding identity. Balance and the referral counters
// are written only by the ledger and referral services.
type Account struct {
	ID                    uuid.UUID         `gorm:"type:uuid;primaryKey"`
	Username              string            `gorm:"type:text;not null;uniqueIndex"`
	Email                 string            `gorm:"type:text;not null;uniqueIndex"`
	PasswordHash          string            `gorm:"column:password_hash;not null"`
	Role                  enums.AccountRole `gorm:"type:text;not null"`
	Balance               int64             `gorm:"not null;default:0;check:chk_accounts_balance_non_negative,balance >= 0"`
	ReferralCode          string            `gorm:"type:text;not null;uniqueIndex"`
	ReferralCodeExpiresAt *time.Time        `gorm:"column:referral_code_expires_at"`
	ReferredByID          *uuid.UUID        `gorm:"type:uuid;column:referred_by_id"`
	TotalReferrals        int               `gorm:"not null;default:0"`
	MonthlyReferralPoints int64             `gorm:"not null;default:0"`
	TotalReferralPoints   int64             `gorm:"not null;default:0"`
	LastMonthlyReset      time.Time         `gorm:"column:last_monthly_reset;not null"`
	CreatedAt             time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

func (a *Account) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Role == "" {
		a.Role = enums.AccountRoleUser
	}
	if a.LastMonthlyReset.IsZero() {
		a.LastMonthlyReset = time.Now().UTC()
	}
	return nil
}

// ReferralCodeExpired reports whether the account's code can no longer be used at now.
func (a *Account) ReferralCodeExpired(now time.Time) bool {
	return a.ReferralCodeExpiresAt != nil && !now.Before(*a.ReferralCodeExpiresAt)
}
