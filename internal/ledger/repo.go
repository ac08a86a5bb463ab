package ledger

import (
	"context"
	"time"

	"github.com/angelmondragon/credits-backend/internal/repo"
	"github.com/angelmondragon/credits-backend/pkg/db/models"
	"github.com/angelmondragon/credits-backend/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository manages persistence for ledger entries. Entries are insert-only.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Append(ctx context.Context, entry *models.LedgerEntry) error
	List(ctx context.Context, query historyQuery) ([]models.LedgerEntry, error)
	SumByAccount(ctx context.Context, accountID uuid.UUID) (int64, error)
	LastByAccount(ctx context.Context, accountID uuid.UUID) (*models.LedgerEntry, error)
}

type repository struct {
	repo.Base
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

type historyQuery struct {
	AccountID *uuid.UUID
	Kind      *enums.TransactionKind
	From      *time.Time
	To        *time.Time
	BeforeID  int64
	Limit     int
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{Base: r.Bind(tx)}
}

func (r *repository) Append(ctx context.Context, entry *models.LedgerEntry) error {
	return r.DB(ctx).Create(entry).Error
}

// List returns entries newest first; the caller asks for one extra row to detect another page.
func (r *repository) List(ctx context.Context, query historyQuery) ([]models.LedgerEntry, error) {
	q := r.DB(ctx).Model(&models.LedgerEntry{})
	if query.AccountID != nil {
		q = q.Where("account_id = ?", *query.AccountID)
	}
	if query.Kind != nil {
		q = q.Where("kind = ?", *query.Kind)
	}
	if query.From != nil {
		q = q.Where("created_at >= ?", *query.From)
	}
	if query.To != nil {
		q = q.Where("created_at < ?", *query.To)
	}
	if query.BeforeID > 0 {
		q = q.Where("id < ?", query.BeforeID)
	}

	var entries []models.LedgerEntry
	if err := q.Order("id DESC").Limit(query.Limit).Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repository) SumByAccount(ctx context.Context, accountID uuid.UUID) (int64, error) {
	var total int64
	err := r.DB(ctx).
		Model(&models.LedgerEntry{}).
		Where("account_id = ?", accountID).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total).Error
	return total, err
}

// LastByAccount returns nil when the account has no entries yet.
func (r *repository) LastByAccount(ctx context.Context, accountID uuid.UUID) (*models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	if err := r.DB(ctx).
		Where("account_id = ?", accountID).
		Order("id DESC").
		Limit(1).
		Find(&entries).Error; err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return &entries[0], nil
}
