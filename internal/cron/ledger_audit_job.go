package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/credits-backend/internal/alerts"
	"github.com/angelmondragon/credits-backend/internal/ledger"
	"github.com/angelmondragon/credits-backend/pkg/logger"
)

const (
	defaultAuditLookback = 2 * time.Hour
	auditBatchLimit      = 1000
)

type activeAccountLister interface {
	ListActiveSince(ctx context.Context, since time.Time, limit int) ([]uuid.UUID, error)
}

type reconciler interface {
	Reconcile(ctx context.Context, accountID uuid.UUID) (*ledger.Reconciliation, error)
}

type LedgerAuditJobParams struct {
	Logger   *logger.Logger
	Accounts activeAccountLister
	Ledger   reconciler
	Alerts   alerts.Raiser
	Lookback time.Duration
}

func NewLedgerAuditJob(params LedgerAuditJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Accounts == nil {
		return nil, fmt.Errorf("account repository required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if params.Alerts == nil {
		return nil, fmt.Errorf("alert raiser required")
	}
	lookback := params.Lookback
	if lookback <= 0 {
		lookback = defaultAuditLookback
	}
	return &ledgerAuditJob{
		logg:     params.Logger,
		accounts: params.Accounts,
		ledger:   params.Ledger,
		alerts:   params.Alerts,
		lookback: lookback,
		now:      time.Now,
	}, nil
}

// ledgerAuditJob checks balance == Σ entries for every account touched inside
// the lookback window and raises a critical alert for each disagreement.
type ledgerAuditJob struct {
	logg     *logger.Logger
	accounts activeAccountLister
	ledger   reconciler
	alerts   alerts.Raiser
	lookback time.Duration
	now      func() time.Time
}

func (j *ledgerAuditJob) Name() string { return "ledger-audit" }

func (j *ledgerAuditJob) Run(ctx context.Context) error {
	since := j.now().UTC().Add(-j.lookback)
	ids, err := j.accounts.ListActiveSince(ctx, since, auditBatchLimit)
	if err != nil {
		return fmt.Errorf("list active accounts: %w", err)
	}

	var errs error
	mismatches := 0
	for _, id := range ids {
		rec, err := j.ledger.Reconcile(ctx, id)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("reconcile %s: %w", id, err))
			continue
		}
		if rec.Consistent {
			continue
		}
		mismatches++
		accountID := id
		j.alerts.Raise(ctx, alerts.Event{
			Kind:      alerts.KindLedgerMismatch,
			AccountID: &accountID,
			Amount:    rec.Difference(),
			Detail:    fmt.Sprintf("balance %d, entry sum %d", rec.Balance, rec.EntrySum),
		})
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"accounts":   len(ids),
		"mismatches": mismatches,
		"since":      since,
	}), "ledger audit complete")
	return errs
}
