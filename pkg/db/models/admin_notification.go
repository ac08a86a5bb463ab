package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/credits-backend/pkg/enums"
)

// AdminNotification is an operator-facing alert awaiting delivery or review.
type AdminNotification struct {
	ID               uuid.UUID              `gorm:"type:uuid;primaryKey"`
	Type             enums.NotificationType `gorm:"type:text;not null"`
	Severity         enums.Severity         `gorm:"type:text;not null"`
	Title            string                 `gorm:"type:text;not null"`
	Message          string                 `gorm:"type:text;not null"`
	RelatedAccountID *uuid.UUID             `gorm:"type:uuid;column:related_account_id"`
	IsRead           bool                   `gorm:"not null;default:false"`
	ReadAt           *time.Time             `gorm:"column:read_at"`
	CreatedAt        time.Time              `gorm:"column:created_at;autoCreateTime;index:idx_admin_notifications_created_at"`
}

func (n *AdminNotification) BeforeCreate(tx *gorm.DB) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	return nil
}
