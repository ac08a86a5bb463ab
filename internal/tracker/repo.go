package tracker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/credits-backend/internal/repo"
	"github.com/angelmondragon/credits-backend/pkg/db/models"
	"github.com/angelmondragon/credits-backend/pkg/enums"
)

// Repository persists the per-IP referral log and applies retroactive
// suspicion flags to referrals.
type Repository interface {
	FindByIP(ctx context.Context, ip string) (*models.ReferralIPLog, error)
	RecordAttempt(ctx context.Context, ip string, now time.Time) error
	Block(ctx context.Context, ip, reason string, now time.Time) error
	Unblock(ctx context.Context, ip string) (bool, error)
	ListBlocked(ctx context.Context, limit int) ([]models.ReferralIPLog, error)
	CountReferralsFromIP(ctx context.Context, ip string, since time.Time) (int64, error)
	FlagPendingFromIP(ctx context.Context, ip string) (int64, error)
	FlagReferrerSince(ctx context.Context, referrerID uuid.UUID, since time.Time) (int64, error)
	PurgeIdleBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type repository struct {
	repo.Base
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) FindByIP(ctx context.Context, ip string) (*models.ReferralIPLog, error) {
	var log models.ReferralIPLog
	if err := r.DB(ctx).First(&log, "ip = ?", ip).Error; err != nil {
		return nil, err
	}
	return &log, nil
}

func (r *repository) RecordAttempt(ctx context.Context, ip string, now time.Time) error {
	row := models.ReferralIPLog{IP: ip, ReferralCount: 1, FirstSeen: now, LastSeen: now}
	return r.DB(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "ip"}},
		DoUpdates: clause.Assignments(map[string]any{
			"referral_count": gorm.Expr("referral_ip_logs.referral_count + 1"),
			"last_seen":      now,
		}),
	}).Create(&row).Error
}

func (r *repository) Block(ctx context.Context, ip, reason string, now time.Time) error {
	row := models.ReferralIPLog{
		IP:          ip,
		FirstSeen:   now,
		LastSeen:    now,
		IsBlocked:   true,
		BlockedAt:   &now,
		BlockReason: &reason,
	}
	return r.DB(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "ip"}},
		DoUpdates: clause.Assignments(map[string]any{
			"is_blocked":   true,
			"blocked_at":   now,
			"block_reason": reason,
			"last_seen":    now,
		}),
	}).Create(&row).Error
}

func (r *repository) Unblock(ctx context.Context, ip string) (bool, error) {
	result := r.DB(ctx).
		Model(&models.ReferralIPLog{}).
		Where("ip = ? AND is_blocked = ?", ip, true).
		Updates(map[string]any{"is_blocked": false, "blocked_at": nil, "block_reason": nil})
	return result.RowsAffected > 0, result.Error
}

func (r *repository) ListBlocked(ctx context.Context, limit int) ([]models.ReferralIPLog, error) {
	var rows []models.ReferralIPLog
	err := r.DB(ctx).
		Where("is_blocked = ?", true).
		Order("blocked_at DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *repository) CountReferralsFromIP(ctx context.Context, ip string, since time.Time) (int64, error) {
	var count int64
	err := r.DB(ctx).
		Model(&models.Referral{}).
		Where("origin_ip = ? AND created_at >= ?", ip, since).
		Count(&count).Error
	return count, err
}

func (r *repository) FlagPendingFromIP(ctx context.Context, ip string) (int64, error) {
	result := r.DB(ctx).
		Model(&models.Referral{}).
		Where("origin_ip = ? AND status = ? AND is_suspicious = ?", ip, enums.ReferralStatusPending, false).
		Update("is_suspicious", true)
	return result.RowsAffected, result.Error
}

func (r *repository) FlagReferrerSince(ctx context.Context, referrerID uuid.UUID, since time.Time) (int64, error) {
	result := r.DB(ctx).
		Model(&models.Referral{}).
		Where("referrer_id = ? AND created_at >= ? AND is_suspicious = ?", referrerID, since, false).
		Update("is_suspicious", true)
	return result.RowsAffected, result.Error
}

// PurgeIdleBefore drops unblocked IP rows last seen before cutoff. Blocked
// rows stay until an admin unblocks them.
func (r *repository) PurgeIdleBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.DB(ctx).
		Where("is_blocked = ? AND last_seen < ?", false, cutoff).
		Delete(&models.ReferralIPLog{})
	return result.RowsAffected, result.Error
}
