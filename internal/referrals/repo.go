package referrals

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/credits-backend/internal/repo"
	"github.com/angelmondragon/credits-backend/pkg/db/models"
	"github.com/angelmondragon/credits-backend/pkg/enums"
	"github.com/angelmondragon/credits-backend/pkg/pagination"
)

// Repository persists referrals. Rows are created pending and only ever move
// forward through SaveTransition.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, referral *models.Referral) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Referral, error)
	LockByID(ctx context.Context, id uuid.UUID) (*models.Referral, error)
	FindPendingByReferred(ctx context.Context, referredID uuid.UUID) (*models.Referral, error)
	SaveTransition(ctx context.Context, referral *models.Referral) error
	List(ctx context.Context, params listParams) ([]models.Referral, *pagination.Cursor, error)
	ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Referral, error)
}

type repository struct {
	repo.Base
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

type listParams struct {
	ReferrerID *uuid.UUID
	Status     *enums.ReferralStatus
	Suspicious *bool
	Cursor     *pagination.Cursor
	Limit      int
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{Base: r.Bind(tx)}
}

func (r *repository) Create(ctx context.Context, referral *models.Referral) error {
	return r.DB(ctx).Create(referral).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Referral, error) {
	var referral models.Referral
	if err := r.DB(ctx).First(&referral, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &referral, nil
}

func (r *repository) LockByID(ctx context.Context, id uuid.UUID) (*models.Referral, error) {
	var referral models.Referral
	if err := r.Locked(ctx).First(&referral, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &referral, nil
}

func (r *repository) FindPendingByReferred(ctx context.Context, referredID uuid.UUID) (*models.Referral, error) {
	var referral models.Referral
	if err := r.DB(ctx).
		Where("referred_id = ? AND status = ?", referredID, enums.ReferralStatusPending).
		Order("created_at ASC").
		First(&referral).Error; err != nil {
		return nil, err
	}
	return &referral, nil
}

// SaveTransition writes the lifecycle columns only.
func (r *repository) SaveTransition(ctx context.Context, referral *models.Referral) error {
	return r.DB(ctx).
		Model(&models.Referral{}).
		Where("id = ?", referral.ID).
		Updates(map[string]any{
			"status":              referral.Status,
			"reward_paid":         referral.RewardPaid,
			"reward_amount":       referral.RewardAmount,
			"reversed_amount":     referral.ReversedAmount,
			"reward_block_reason": referral.RewardBlockReason,
			"is_verified":         referral.IsVerified,
			"verified_at":         referral.VerifiedAt,
			"verification_method": referral.VerificationMethod,
			"rejection_reason":    referral.RejectionReason,
			"rejected_at":         referral.RejectedAt,
		}).Error
}

func (r *repository) List(ctx context.Context, params listParams) ([]models.Referral, *pagination.Cursor, error) {
	limit := pagination.NormalizeLimit(params.Limit)
	q := r.DB(ctx).Model(&models.Referral{})
	if params.ReferrerID != nil {
		q = q.Where("referrer_id = ?", *params.ReferrerID)
	}
	if params.Status != nil {
		q = q.Where("status = ?", *params.Status)
	}
	if params.Suspicious != nil {
		q = q.Where("is_suspicious = ?", *params.Suspicious)
	}
	if params.Cursor != nil {
		q = q.Where("(created_at < ?) OR (created_at = ? AND id < ?)",
			params.Cursor.CreatedAt, params.Cursor.CreatedAt, params.Cursor.ID)
	}

	var rows []models.Referral
	if err := q.Order("created_at DESC, id DESC").Limit(limit + 1).Find(&rows).Error; err != nil {
		return nil, nil, err
	}
	page, next := pagination.Trim(rows, limit, func(r models.Referral) pagination.Cursor {
		return pagination.Cursor{CreatedAt: r.CreatedAt, ID: r.ID}
	})
	return page, next, nil
}

func (r *repository) ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Referral, error) {
	var rows []models.Referral
	err := r.DB(ctx).
		Where("status = ? AND created_at < ?", enums.ReferralStatusPending, cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
