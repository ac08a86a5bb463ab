package activity

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/credits-backend/internal/repo"
	"github.com/angelmondragon/credits-backend/pkg/db/models"
)

// Repository reads and writes qualifying participation records.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Record(ctx context.Context, participation *models.Participation) error
	HasParticipated(ctx context.Context, accountID uuid.UUID, since time.Time) (bool, error)
}

type repository struct {
	repo.Base
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{Base: r.Bind(tx)}
}

func (r *repository) Record(ctx context.Context, participation *models.Participation) error {
	return r.DB(ctx).Create(participation).Error
}

// HasParticipated reports any participation at or after since; a zero since means ever.
func (r *repository) HasParticipated(ctx context.Context, accountID uuid.UUID, since time.Time) (bool, error) {
	q := r.DB(ctx).Model(&models.Participation{}).Where("account_id = ?", accountID)
	if !since.IsZero() {
		q = q.Where("occurred_at >= ?", since)
	}
	var count int64
	if err := q.Limit(1).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}
