package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/credits-backend/pkg/enums"
)

// Referral records one account introducing another.
type Referral struct {
	ID                 uuid.UUID            `gorm:"type:uuid;primaryKey"`
	ReferrerID         uuid.UUID            `gorm:"type:uuid;not null;uniqueIndex:idx_referrals_pair,priority:1;index:idx_referrals_referrer_created,priority:1"`
	ReferredID         uuid.UUID            `gorm:"type:uuid;not null;uniqueIndex:idx_referrals_pair,priority:2;index:idx_referrals_referred"`
	Status             enums.ReferralStatus `gorm:"type:text;not null;index:idx_referrals_status_created,priority:1"`
	RewardPaid         bool                 `gorm:"not null;default:false"`
	RewardAmount       int64                `gorm:"not null;default:0"`
	ReversedAmount     int64                `gorm:"not null;default:0"`
	RewardBlockReason  *string              `gorm:"column:reward_block_reason"`
	IsVerified         bool                 `gorm:"not null;default:false"`
	VerifiedAt         *time.Time           `gorm:"column:verified_at"`
	VerificationMethod *string              `gorm:"column:verification_method"`
	RejectionReason    *string              `gorm:"column:rejection_reason"`
	RejectedAt         *time.Time           `gorm:"column:rejected_at"`
	IsSuspicious       bool                 `gorm:"not null;default:false"`
	OriginIP           *string              `gorm:"column:origin_ip;index:idx_referrals_origin_ip"`
	OriginClient       *string              `gorm:"column:origin_client"`
	CreatedAt          time.Time            `gorm:"column:created_at;autoCreateTime;index:idx_referrals_status_created,priority:2;index:idx_referrals_referrer_created,priority:2"`
	UpdatedAt          time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

func (r *Referral) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.Status == "" {
		r.Status = enums.ReferralStatusPending
	}
	return nil
}
