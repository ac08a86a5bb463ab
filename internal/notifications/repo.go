package notifications

import (
	"context"
	"time"

	"github.com/angelmondragon/credits-backend/internal/repo"
	"github.com/angelmondragon/credits-backend/pkg/db/models"
	"github.com/angelmondragon/credits-backend/pkg/enums"
	"github.com/angelmondragon/credits-backend/pkg/pagination"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository exposes persistence helpers for admin notifications.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, notification *models.AdminNotification) error
	List(ctx context.Context, params listParams) ([]models.AdminNotification, *pagination.Cursor, error)
	MarkRead(ctx context.Context, notificationID uuid.UUID, now time.Time) (markResult, error)
	MarkAllRead(ctx context.Context, now time.Time) (int64, error)
	CountUnread(ctx context.Context) (int64, error)
	DeleteReadBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type repositoryImpl struct {
	repo.Base
}

// NewRepository returns a notifications repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{Base: repo.NewBase(db)}
}

type listParams struct {
	Limit      int
	Cursor     *pagination.Cursor
	UnreadOnly bool
	Type       *enums.NotificationType
	AccountID  *uuid.UUID
}

type markResult struct {
	Updated bool
	Found   bool
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{Base: r.Bind(tx)}
}

func (r *repositoryImpl) Create(ctx context.Context, notification *models.AdminNotification) error {
	return r.DB(ctx).Create(notification).Error
}

func (r *repositoryImpl) List(ctx context.Context, params listParams) ([]models.AdminNotification, *pagination.Cursor, error) {
	normalized := pagination.NormalizeLimit(params.Limit)
	query := r.DB(ctx).Model(&models.AdminNotification{})
	if params.UnreadOnly {
		query = query.Where("is_read = ?", false)
	}
	if params.Type != nil {
		query = query.Where("type = ?", *params.Type)
	}
	if params.AccountID != nil {
		query = query.Where("related_account_id = ?", *params.AccountID)
	}
	if params.Cursor != nil {
		query = query.Where("(created_at < ?) OR (created_at = ? AND id < ?)",
			params.Cursor.CreatedAt, params.Cursor.CreatedAt, params.Cursor.ID)
	}

	var rows []models.AdminNotification
	if err := query.Order("created_at DESC, id DESC").Limit(normalized + 1).Find(&rows).Error; err != nil {
		return nil, nil, err
	}

	page, next := pagination.Trim(rows, normalized, func(n models.AdminNotification) pagination.Cursor {
		return pagination.Cursor{CreatedAt: n.CreatedAt, ID: n.ID}
	})
	return page, next, nil
}

func (r *repositoryImpl) MarkRead(ctx context.Context, notificationID uuid.UUID, now time.Time) (markResult, error) {
	result := r.DB(ctx).
		Model(&models.AdminNotification{}).
		Where("id = ? AND is_read = ?", notificationID, false).
		Updates(map[string]any{"is_read": true, "read_at": now})
	if result.Error != nil {
		return markResult{}, result.Error
	}
	if result.RowsAffected > 0 {
		return markResult{Updated: true, Found: true}, nil
	}

	var count int64
	if err := r.DB(ctx).
		Model(&models.AdminNotification{}).
		Where("id = ?", notificationID).
		Count(&count).Error; err != nil {
		return markResult{}, err
	}
	return markResult{Found: count > 0}, nil
}

func (r *repositoryImpl) MarkAllRead(ctx context.Context, now time.Time) (int64, error) {
	result := r.DB(ctx).
		Model(&models.AdminNotification{}).
		Where("is_read = ?", false).
		Updates(map[string]any{"is_read": true, "read_at": now})
	return result.RowsAffected, result.Error
}

func (r *repositoryImpl) CountUnread(ctx context.Context) (int64, error) {
	var count int64
	err := r.DB(ctx).Model(&models.AdminNotification{}).Where("is_read = ?", false).Count(&count).Error
	return count, err
}

// DeleteReadBefore purges acknowledged notifications; unread ones are always kept.
func (r *repositoryImpl) DeleteReadBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.DB(ctx).
		Where("is_read = ? AND created_at < ?", true, cutoff).
		Delete(&models.AdminNotification{})
	return result.RowsAffected, result.Error
}
