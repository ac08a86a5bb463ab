package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/credits-backend/pkg/enums"
)

// ErrImmutableEntry is returned when something tries to rewrite ledger history.
var ErrImmutableEntry = errors.New("ledger entries are immutable")

// LedgerEntry is one signed balance movement. BalanceAfter snapshots the
// account balance at commit time.
type LedgerEntry struct {
	ID           int64                 `gorm:"primaryKey;autoIncrement"`
	AccountID    uuid.UUID             `gorm:"type:uuid;not null;index:idx_ledger_entries_account_id"`
	Amount       int64                 `gorm:"not null"`
	BalanceAfter int64                 `gorm:"column:balance_after;not null"`
	Kind         enums.TransactionKind `gorm:"type:text;not null;index:idx_ledger_entries_kind"`
	RelatedID    *uuid.UUID            `gorm:"type:uuid;column:related_id"`
	Reason       string                `gorm:"type:text;not null"`
	OriginIP     *string               `gorm:"column:origin_ip"`
	OriginClient *string               `gorm:"column:origin_client"`
	ActorID      *uuid.UUID            `gorm:"type:uuid;column:actor_id"`
	CreatedAt    time.Time             `gorm:"column:created_at;autoCreateTime;index:idx_ledger_entries_created_at"`
}

func (e *LedgerEntry) BeforeUpdate(tx *gorm.DB) error {
	return ErrImmutableEntry
}

func (e *LedgerEntry) BeforeDelete(tx *gorm.DB) error {
	return ErrImmutableEntry
}
