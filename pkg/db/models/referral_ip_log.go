package models

import "time"

// ReferralIPLog aggregates referral intake per source address.
type ReferralIPLog struct {
	IP            string     `gorm:"column:ip;primaryKey"`
	ReferralCount int        `gorm:"not null;default:0"`
	FirstSeen     time.Time  `gorm:"column:first_seen;not null"`
	LastSeen      time.Time  `gorm:"column:last_seen;not null"`
	IsBlocked     bool       `gorm:"not null;default:false;index:idx_referral_ip_logs_blocked"`
	BlockedAt     *time.Time `gorm:"column:blocked_at"`
	BlockReason   *string    `gorm:"column:block_reason"`
}
