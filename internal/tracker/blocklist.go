package tracker

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/credits-backend/pkg/db"
	"github.com/angelmondragon/credits-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/credits-backend/pkg/errors"
	"github.com/angelmondragon/credits-backend/pkg/logger"
	"github.com/angelmondragon/credits-backend/pkg/pagination"
)

// BlockList manages permanent referral-intake blocks per IP.
type BlockList struct {
	repo     Repository
	counters CounterStore
	logg     *logger.Logger
	now      func() time.Time
}

func NewBlockList(repo Repository, counters CounterStore, logg *logger.Logger) *BlockList {
	if logg == nil {
		logg = logger.Nop()
	}
	return &BlockList{repo: repo, counters: counters, logg: logg, now: time.Now}
}

func (b *BlockList) IsBlocked(ctx context.Context, ip string) (bool, error) {
	row, err := b.repo.FindByIP(ctx, normalizeIP(ip))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, db.MapError(err, "lookup ip block")
	}
	return row.IsBlocked, nil
}

func (b *BlockList) Block(ctx context.Context, ip, reason string) error {
	ip = normalizeIP(ip)
	if ip == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "ip is required")
	}
	if strings.TrimSpace(reason) == "" {
		reason = "manual"
	}
	if err := b.repo.Block(ctx, ip, reason, b.now().UTC()); err != nil {
		return db.MapError(err, "block ip")
	}
	return nil
}

// Unblock lifts the block and clears the intake window so the next attempt starts fresh.
func (b *BlockList) Unblock(ctx context.Context, ip string) error {
	ip = normalizeIP(ip)
	if ip == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "ip is required")
	}
	found, err := b.repo.Unblock(ctx, ip)
	if err != nil {
		return db.MapError(err, "unblock ip")
	}
	if !found {
		return pkgerrors.New(pkgerrors.CodeNotFound, "ip is not blocked")
	}
	if b.counters != nil {
		if err := b.counters.Reset(ctx, ScopeReferralIP, ip); err != nil {
			b.logg.Error(b.logg.WithField(ctx, "ip", ip), "failed to reset referral ip counter after unblock", err)
		}
	}
	return nil
}

func (b *BlockList) ListBlocked(ctx context.Context, limit int) ([]models.ReferralIPLog, error) {
	rows, err := b.repo.ListBlocked(ctx, pagination.NormalizeLimit(limit))
	if err != nil {
		return nil, db.MapError(err, "list blocked ips")
	}
	return rows, nil
}

func normalizeIP(ip string) string {
	return strings.ToLower(strings.TrimSpace(ip))
}
