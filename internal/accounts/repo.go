package accounts

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/credits-backend/internal/repo"
	"github.com/angelmondragon/credits-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/credits-backend/pkg/errors"
)

// Repository persists accounts. Balance and referral counters are only
// written through the narrow update helpers below.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, account *models.Account) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
	FindByUsername(ctx context.Context, username string) (*models.Account, error)
	FindByReferralCode(ctx context.Context, code string) (*models.Account, error)
	LockByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
	CompareAndSetBalance(ctx context.Context, id uuid.UUID, expected, next int64) error
	SaveReferralCounters(ctx context.Context, account *models.Account) error
	SetReferredBy(ctx context.Context, id, referrerID uuid.UUID) (bool, error)
	UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string) error
	ListActiveSince(ctx context.Context, since time.Time, limit int) ([]uuid.UUID, error)
}

type repository struct {
	repo.Base
}

// NewRepository returns an account repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{Base: r.Bind(tx)}
}

func (r *repository) Create(ctx context.Context, account *models.Account) error {
	return r.DB(ctx).Create(account).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	var account models.Account
	if err := r.DB(ctx).First(&account, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *repository) FindByUsername(ctx context.Context, username string) (*models.Account, error) {
	var account models.Account
	if err := r.DB(ctx).First(&account, "username = ?", username).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *repository) FindByReferralCode(ctx context.Context, code string) (*models.Account, error) {
	var account models.Account
	if err := r.DB(ctx).First(&account, "referral_code = ?", code).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *repository) LockByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	var account models.Account
	if err := r.Locked(ctx).First(&account, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

// CompareAndSetBalance writes next only when the stored balance still equals expected.
func (r *repository) CompareAndSetBalance(ctx context.Context, id uuid.UUID, expected, next int64) error {
	result := r.DB(ctx).
		Model(&models.Account{}).
		Where("id = ? AND balance = ?", id, expected).
		Updates(map[string]any{"balance": next})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeConcurrency, "account balance changed concurrently")
	}
	return nil
}

func (r *repository) SaveReferralCounters(ctx context.Context, account *models.Account) error {
	return r.DB(ctx).
		Model(&models.Account{}).
		Where("id = ?", account.ID).
		Updates(map[string]any{
			"total_referrals":         account.TotalReferrals,
			"monthly_referral_points": account.MonthlyReferralPoints,
			"total_referral_points":   account.TotalReferralPoints,
			"last_monthly_reset":      account.LastMonthlyReset,
		}).Error
}

// SetReferredBy records the referrer once; it reports false when the account was already referred.
func (r *repository) SetReferredBy(ctx context.Context, id, referrerID uuid.UUID) (bool, error) {
	result := r.DB(ctx).
		Model(&models.Account{}).
		Where("id = ? AND referred_by_id IS NULL", id).
		Update("referred_by_id", referrerID)
	return result.RowsAffected > 0, result.Error
}

func (r *repository) UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string) error {
	return r.DB(ctx).
		Model(&models.Account{}).
		Where("id = ?", id).
		Update("password_hash", hash).Error
}

// ListActiveSince returns accounts with ledger activity at or after since.
func (r *repository) ListActiveSince(ctx context.Context, since time.Time, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.DB(ctx).
		Model(&models.LedgerEntry{}).
		Distinct("account_id").
		Where("created_at >= ?", since).
		Limit(limit).
		Pluck("account_id", &ids).Error
	return ids, err
}
