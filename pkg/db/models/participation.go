package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Participation is written by the competitions side whenever an account takes part in an activity.
type Participation struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	AccountID  uuid.UUID `gorm:"type:uuid;not null;index:idx_participations_account_id"`
	Activity   string    `gorm:"type:text;not null"`
	OccurredAt time.Time `gorm:"column:occurred_at;not null"`
}

func (p *Participation) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
