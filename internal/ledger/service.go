package ledger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/credits-backend/internal/accounts"
	"github.com/angelmondragon/credits-backend/internal/alerts"
	"github.com/angelmondragon/credits-backend/pkg/config"
	"github.com/angelmondragon/credits-backend/pkg/db"
	"github.com/angelmondragon/credits-backend/pkg/db/models"
	"github.com/angelmondragon/credits-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/credits-backend/pkg/errors"
	"github.com/angelmondragon/credits-backend/pkg/logger"
	"github.com/angelmondragon/credits-backend/pkg/metrics"
	"github.com/angelmondragon/credits-backend/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service is the only writer of account balances. Every mutation updates the
// balance and appends its entry in one transaction.
type Service interface {
	// WithTx binds the ledger to a caller-owned transaction.
	WithTx(tx *gorm.DB) Service
	Credit(ctx context.Context, m Mutation) (*models.LedgerEntry, error)
	Debit(ctx context.Context, m Mutation) (*models.LedgerEntry, error)
	Transfer(ctx context.Context, input TransferInput) (*TransferResult, error)
	AdminFundedCredit(ctx context.Context, input FundedCreditInput) (*FundedCreditResult, error)
	AdminAdjust(ctx context.Context, input AdjustInput) (*models.LedgerEntry, error)
	CreditPurchase(ctx context.Context, input PurchaseInput) (*models.LedgerEntry, error)
	History(ctx context.Context, filter HistoryFilter) (*HistoryPage, error)
	Balance(ctx context.Context, accountID uuid.UUID) (int64, error)
	Reconcile(ctx context.Context, accountID uuid.UUID) (*Reconciliation, error)
}

// Origin describes where a mutation came from.
type Origin struct {
	IP     string
	Client string
}

// Mutation is a single-account credit or debit. Amount is always positive.
type Mutation struct {
	AccountID uuid.UUID
	Amount    int64
	Kind      enums.TransactionKind
	RelatedID *uuid.UUID
	Reason    string
	ActorID   *uuid.UUID
	Origin    Origin
}

type TransferInput struct {
	FromAccountID uuid.UUID
	ToAccountID   uuid.UUID
	Amount        int64
	Reason        string
	ActorID       *uuid.UUID
	Origin        Origin
}

// TransferResult holds the linked pair of entries.
type TransferResult struct {
	Out *models.LedgerEntry
	In  *models.LedgerEntry
}

// FundedCreditInput credits an account out of a pool account. A zero
// PoolAccountID uses the configured promotional pool.
type FundedCreditInput struct {
	AccountID     uuid.UUID
	PoolAccountID uuid.UUID
	Amount        int64
	Kind          enums.TransactionKind
	Reason        string
	ActorID       *uuid.UUID
}

type FundedCreditResult struct {
	PoolEntry *models.LedgerEntry
	Entry     *models.LedgerEntry
}

// AdjustInput is a signed administrative correction.
type AdjustInput struct {
	AccountID uuid.UUID
	Amount    int64
	Reason    string
	AdminID   uuid.UUID
	Origin    Origin
}

// PurchaseInput is a payment already verified by the payment provider.
type PurchaseInput struct {
	AccountID  uuid.UUID
	AmountPaid decimal.Decimal
	Currency   string
	PaymentRef string
	ActorID    *uuid.UUID
}

type HistoryFilter struct {
	AccountID *uuid.UUID
	Kind      string
	From      *time.Time
	To        *time.Time
	Limit     int
	Cursor    string
}

type HistoryPage struct {
	Entries []models.LedgerEntry
	Cursor  string
}

// Reconciliation compares the stored balance with the entry history.
type Reconciliation struct {
	AccountID        uuid.UUID
	Balance          int64
	EntrySum         int64
	LastBalanceAfter int64
	Consistent       bool
}

func (r Reconciliation) Difference() int64 {
	return r.Balance - r.EntrySum
}

// Params wires the ledger dependencies. Alerts, Logger and Metrics are optional.
type Params struct {
	DB       txRunner
	Accounts accounts.Repository
	Entries  Repository
	Config   config.LedgerConfig
	Alerts   alerts.Raiser
	Logger   *logger.Logger
	Metrics  *metrics.DomainMetrics
}

type service struct {
	db       txRunner
	tx       *gorm.DB
	accounts accounts.Repository
	entries  Repository
	cfg      config.LedgerConfig
	alerts   alerts.Raiser
	logg     *logger.Logger
	metrics  *metrics.DomainMetrics
	now      func() time.Time
}

var defaultCreditsPerUnit = decimal.NewFromInt(100)

// NewService wires a ledger service with the provided dependencies.
func NewService(p Params) (Service, error) {
	if p.DB == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if p.Accounts == nil {
		return nil, fmt.Errorf("account repository required")
	}
	if p.Entries == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	cfg := p.Config
	if !cfg.CreditsPerUnit.IsPositive() {
		cfg.CreditsPerUnit = defaultCreditsPerUnit
	}
	if cfg.HistoryMaxLimit <= 0 {
		cfg.HistoryMaxLimit = pagination.MaxLimit
	}
	logg := p.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{
		db:       p.DB,
		accounts: p.Accounts,
		entries:  p.Entries,
		cfg:      cfg,
		alerts:   p.Alerts,
		logg:     logg,
		metrics:  p.Metrics,
		now:      time.Now,
	}, nil
}

func (s *service) WithTx(tx *gorm.DB) Service {
	if tx == nil {
		return s
	}
	clone := *s
	clone.tx = tx
	return &clone
}

type unit struct {
	accounts accounts.Repository
	entries  Repository
}

// run executes fn in the bound transaction, or in a fresh one.
func (s *service) run(ctx context.Context, fn func(u unit) error) error {
	if s.tx != nil {
		return fn(unit{accounts: s.accounts.WithTx(s.tx), entries: s.entries.WithTx(s.tx)})
	}
	return s.db.WithTx(ctx, func(tx *gorm.DB) error {
		return fn(unit{accounts: s.accounts.WithTx(tx), entries: s.entries.WithTx(tx)})
	})
}

func (s *service) Credit(ctx context.Context, m Mutation) (*models.LedgerEntry, error) {
	if err := validateMutation(m, enums.DirectionCredit); err != nil {
		return nil, err
	}
	var entry *models.LedgerEntry
	err := s.run(ctx, func(u unit) error {
		var err error
		entry, err = s.apply(ctx, u, m, m.Amount)
		return err
	})
	return s.finish(ctx, "credit", m.Kind, m.Amount, entry, err)
}

func (s *service) Debit(ctx context.Context, m Mutation) (*models.LedgerEntry, error) {
	if err := validateMutation(m, enums.DirectionDebit); err != nil {
		return nil, err
	}
	var entry *models.LedgerEntry
	err := s.run(ctx, func(u unit) error {
		var err error
		entry, err = s.apply(ctx, u, m, -m.Amount)
		return err
	})
	return s.finish(ctx, "debit", m.Kind, -m.Amount, entry, err)
}

func (s *service) Transfer(ctx context.Context, input TransferInput) (*TransferResult, error) {
	if input.FromAccountID == uuid.Nil || input.ToAccountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "source and destination accounts are required")
	}
	if input.FromAccountID == input.ToAccountID {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cannot transfer to the same account")
	}
	if input.Amount <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		reason = "transfer"
	}

	from, to := input.FromAccountID, input.ToAccountID
	result := &TransferResult{}
	err := s.run(ctx, func(u unit) error {
		if err := lockInOrder(ctx, u, from, to); err != nil {
			return err
		}
		var err error
		result.Out, err = s.apply(ctx, u, Mutation{
			AccountID: from,
			Amount:    input.Amount,
			Kind:      enums.TransactionKindTransferOut,
			RelatedID: &to,
			Reason:    reason,
			ActorID:   input.ActorID,
			Origin:    input.Origin,
		}, -input.Amount)
		if err != nil {
			return err
		}
		result.In, err = s.apply(ctx, u, Mutation{
			AccountID: to,
			Amount:    input.Amount,
			Kind:      enums.TransactionKindTransferIn,
			RelatedID: &from,
			Reason:    reason,
			ActorID:   input.ActorID,
			Origin:    input.Origin,
		}, input.Amount)
		return err
	})
	if _, err := s.finish(ctx, "transfer", enums.TransactionKindTransferOut, -input.Amount, result.Out, err); err != nil {
		return nil, err
	}
	s.finish(ctx, "transfer", enums.TransactionKindTransferIn, input.Amount, result.In, nil)
	return result, nil
}

func (s *service) AdminFundedCredit(ctx context.Context, input FundedCreditInput) (*FundedCreditResult, error) {
	pool := input.PoolAccountID
	if pool == uuid.Nil {
		pool = s.cfg.PoolAccountID
	}
	if pool == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "promotional pool account is not configured")
	}
	if pool == input.AccountID {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "pool account cannot fund itself")
	}
	m := Mutation{
		AccountID: input.AccountID,
		Amount:    input.Amount,
		Kind:      input.Kind,
		RelatedID: &pool,
		Reason:    input.Reason,
		ActorID:   input.ActorID,
	}
	if err := validateMutation(m, enums.DirectionCredit); err != nil {
		return nil, err
	}
	recipient := input.AccountID

	result := &FundedCreditResult{}
	err := s.run(ctx, func(u unit) error {
		if err := lockInOrder(ctx, u, pool, recipient); err != nil {
			return err
		}
		var err error
		result.PoolEntry, err = s.apply(ctx, u, Mutation{
			AccountID: pool,
			Amount:    input.Amount,
			Kind:      enums.TransactionKindAdminAdjustment,
			RelatedID: &recipient,
			Reason:    fmt.Sprintf("funds %s: %s", input.Kind, m.Reason),
			ActorID:   input.ActorID,
		}, -input.Amount)
		if err != nil {
			if pkgerrors.IsCode(err, pkgerrors.CodeInsufficientBalance) {
				return pkgerrors.Wrap(pkgerrors.CodeInsufficientBalance, err, "promotional pool balance is insufficient").
					WithReason("pool_insufficient")
			}
			return err
		}
		result.Entry, err = s.apply(ctx, u, m, input.Amount)
		return err
	})
	if _, err := s.finish(ctx, "funded_credit", input.Kind, input.Amount, result.Entry, err); err != nil {
		return nil, err
	}
	s.finish(ctx, "funded_credit", enums.TransactionKindAdminAdjustment, -input.Amount, result.PoolEntry, nil)
	return result, nil
}

// AdminAdjust raises the large adjustment alert after commit. A service bound to
// an outer transaction leaves alerting to the owner of that transaction.
func (s *service) AdminAdjust(ctx context.Context, input AdjustInput) (*models.LedgerEntry, error) {
	if input.AdminID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "admin identity missing")
	}
	if input.Amount == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "adjustment amount must be non-zero")
	}
	if strings.TrimSpace(input.Reason) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "adjustment reason is required")
	}

	admin := input.AdminID
	m := Mutation{
		AccountID: input.AccountID,
		Amount:    abs(input.Amount),
		Kind:      enums.TransactionKindAdminAdjustment,
		Reason:    input.Reason,
		ActorID:   &admin,
		Origin:    input.Origin,
	}
	var (
		entry *models.LedgerEntry
		err   error
	)
	if input.Amount > 0 {
		entry, err = s.Credit(ctx, m)
	} else {
		entry, err = s.Debit(ctx, m)
	}
	if err != nil {
		return nil, err
	}

	if s.alerts != nil && s.tx == nil {
		account := input.AccountID
		s.alerts.Raise(ctx, alerts.Event{
			Kind:      alerts.KindLargeAdminAdjustment,
			AccountID: &account,
			Subject:   admin.String(),
			Amount:    input.Amount,
			Detail:    input.Reason,
		})
	}
	return entry, nil
}

// CreditPurchase converts a verified payment into credits. The payment is
// first settled to the currency's minor units, then converted rounding down.
func (s *service) CreditPurchase(ctx context.Context, input PurchaseInput) (*models.LedgerEntry, error) {
	ref := strings.TrimSpace(input.PaymentRef)
	if ref == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment reference is required")
	}
	currency, err := enums.ParseCurrency(input.Currency)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unsupported currency")
	}
	paid := currency.Settle(input.AmountPaid)
	if !paid.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount paid must be positive")
	}
	credits := paid.Mul(s.cfg.CreditsPerUnit).Floor().IntPart()
	if credits <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment is too small to convert into credits")
	}
	return s.Credit(ctx, Mutation{
		AccountID: input.AccountID,
		Amount:    credits,
		Kind:      enums.TransactionKindPurchase,
		Reason:    fmt.Sprintf("purchase %s: %s %s", ref, paid.StringFixed(currency.MinorUnits()), currency),
		ActorID:   input.ActorID,
	})
}

func (s *service) History(ctx context.Context, filter HistoryFilter) (*HistoryPage, error) {
	query := historyQuery{
		AccountID: filter.AccountID,
		From:      filter.From,
		To:        filter.To,
	}
	if filter.Kind != "" {
		kind, err := enums.ParseTransactionKind(filter.Kind)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid transaction kind")
		}
		query.Kind = &kind
	}
	if filter.From != nil && filter.To != nil && !filter.From.Before(*filter.To) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "from must be before to")
	}
	beforeID, err := pagination.ParseSequenceCursor(filter.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	query.BeforeID = beforeID

	limit := filter.Limit
	if limit <= 0 {
		limit = pagination.DefaultLimit
	}
	if limit > s.cfg.HistoryMaxLimit {
		limit = s.cfg.HistoryMaxLimit
	}
	query.Limit = limit + 1

	entries, err := s.entriesRepo().List(ctx, query)
	if err != nil {
		return nil, db.MapError(err, "list ledger entries")
	}
	page := &HistoryPage{Entries: entries}
	if len(entries) > limit {
		page.Entries = entries[:limit]
		page.Cursor = pagination.EncodeSequenceCursor(page.Entries[limit-1].ID)
	}
	return page, nil
}

func (s *service) Balance(ctx context.Context, accountID uuid.UUID) (int64, error) {
	if accountID == uuid.Nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	repo := s.accounts
	if s.tx != nil {
		repo = repo.WithTx(s.tx)
	}
	account, err := repo.FindByID(ctx, accountID)
	if err != nil {
		return 0, accountError(err)
	}
	return account.Balance, nil
}

// Reconcile reads the balance and the entry sum in one transaction.
func (s *service) Reconcile(ctx context.Context, accountID uuid.UUID) (*Reconciliation, error) {
	if accountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	result := &Reconciliation{AccountID: accountID}
	err := s.run(ctx, func(u unit) error {
		account, err := u.accounts.FindByID(ctx, accountID)
		if err != nil {
			return accountError(err)
		}
		sum, err := u.entries.SumByAccount(ctx, accountID)
		if err != nil {
			return err
		}
		last, err := u.entries.LastByAccount(ctx, accountID)
		if err != nil {
			return err
		}
		result.Balance = account.Balance
		result.EntrySum = sum
		if last != nil {
			result.LastBalanceAfter = last.BalanceAfter
		}
		result.Consistent = result.Balance == result.EntrySum && result.LastBalanceAfter == result.Balance
		return nil
	})
	if err != nil {
		return nil, db.MapError(err, "reconcile account")
	}
	return result, nil
}

func (s *service) entriesRepo() Repository {
	if s.tx != nil {
		return s.entries.WithTx(s.tx)
	}
	return s.entries
}

// apply locks the account, checks the resulting balance, moves it with a
// compare-and-set and appends the entry.
func (s *service) apply(ctx context.Context, u unit, m Mutation, signed int64) (*models.LedgerEntry, error) {
	account, err := u.accounts.LockByID(ctx, m.AccountID)
	if err != nil {
		return nil, accountError(err)
	}
	if signed > 0 && account.Balance > math.MaxInt64-signed {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount too large").
			WithDetails(map[string]any{"balance": account.Balance, "requested": signed})
	}
	next := account.Balance + signed
	if next < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInsufficientBalance, "insufficient balance").
			WithDetails(map[string]any{"balance": account.Balance, "requested": -signed})
	}
	if err := u.accounts.CompareAndSetBalance(ctx, account.ID, account.Balance, next); err != nil {
		return nil, err
	}

	reason := strings.TrimSpace(m.Reason)
	if reason == "" {
		reason = string(m.Kind)
	}
	entry := &models.LedgerEntry{
		AccountID:    account.ID,
		Amount:       signed,
		BalanceAfter: next,
		Kind:         m.Kind,
		RelatedID:    m.RelatedID,
		Reason:       reason,
		OriginIP:     optional(m.Origin.IP),
		OriginClient: optional(m.Origin.Client),
		ActorID:      m.ActorID,
		CreatedAt:    s.now().UTC(),
	}
	if err := u.entries.Append(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// finish maps the error, then logs and counts the operation.
func (s *service) finish(ctx context.Context, op string, kind enums.TransactionKind, amount int64, entry *models.LedgerEntry, err error) (*models.LedgerEntry, error) {
	if err != nil {
		err = db.MapError(err, op+" failed")
		outcome := metrics.OutcomeFailed
		logCtx := s.logg.WithFields(ctx, map[string]any{"operation": op, "kind": string(kind), "amount": amount})
		switch {
		case pkgerrors.IsCode(err, pkgerrors.CodeInsufficientBalance),
			pkgerrors.IsCode(err, pkgerrors.CodeNotFound),
			pkgerrors.IsCode(err, pkgerrors.CodeValidation):
			outcome = metrics.OutcomeRejected
			s.logg.Warn(logCtx, "ledger mutation rejected")
		default:
			s.logg.Error(logCtx, "ledger mutation failed", err)
		}
		s.metrics.LedgerOperation(op, string(kind), outcome, amount)
		return nil, err
	}
	if entry == nil {
		return nil, nil
	}
	s.metrics.LedgerOperation(op, string(kind), metrics.OutcomeApplied, amount)
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"account_id":    entry.AccountID.String(),
		"kind":          string(entry.Kind),
		"amount":        entry.Amount,
		"entry_id":      entry.ID,
		"balance_after": entry.BalanceAfter,
	})
	s.logg.Info(logCtx, "ledger entry appended")
	return entry, nil
}

// lockInOrder takes both row locks in id order so opposing transfers cannot deadlock.
func lockInOrder(ctx context.Context, u unit, a, b uuid.UUID) error {
	first, second := a, b
	if bytes.Compare(a[:], b[:]) > 0 {
		first, second = b, a
	}
	for _, id := range []uuid.UUID{first, second} {
		if _, err := u.accounts.LockByID(ctx, id); err != nil {
			return accountError(err)
		}
	}
	return nil
}

func validateMutation(m Mutation, direction enums.Direction) error {
	if m.AccountID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	if m.Amount <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	if !m.Kind.IsValid() {
		return pkgerrors.Newf(pkgerrors.CodeValidation, "invalid transaction kind %q", m.Kind)
	}
	switch direction {
	case enums.DirectionCredit:
		if !m.Kind.AllowsCredit() {
			return pkgerrors.Newf(pkgerrors.CodeValidation, "%s entries cannot credit an account", m.Kind)
		}
	case enums.DirectionDebit:
		if !m.Kind.AllowsDebit() {
			return pkgerrors.Newf(pkgerrors.CodeValidation, "%s entries cannot debit an account", m.Kind)
		}
	}
	return nil
}

func accountError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "account not found")
	}
	return err
}

func optional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
