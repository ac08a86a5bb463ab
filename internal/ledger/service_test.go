package ledger

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/credits-backend/internal/accounts"
	"github.com/angelmondragon/credits-backend/internal/alerts"
	"github.com/angelmondragon/credits-backend/pkg/config"
	"github.com/angelmondragon/credits-backend/pkg/db"
	"github.com/angelmondragon/credits-backend/pkg/db/dbtest"
	"github.com/angelmondragon/credits-backend/pkg/db/models"
	"github.com/angelmondragon/credits-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/credits-backend/pkg/errors"
)

type recordingRaiser struct {
	mu     sync.Mutex
	events []alerts.Event
}

func (r *recordingRaiser) Raise(_ context.Context, ev alerts.Event) alerts.Decision {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return alerts.Decide(alerts.Policy{LargeAdjustmentThreshold: 1000}, ev)
}

type fixture struct {
	client *db.Client
	svc    Service
	raiser *recordingRaiser
}

func newFixture(t *testing.T, cfg config.LedgerConfig) fixture {
	t.Helper()
	client := dbtest.Open(t)
	raiser := &recordingRaiser{}
	svc, err := NewService(Params{
		DB:       client,
		Accounts: accounts.NewRepository(client.DB()),
		Entries:  NewRepository(client.DB()),
		Config:   cfg,
		Alerts:   raiser,
	})
	require.NoError(t, err)
	return fixture{client: client, svc: svc, raiser: raiser}
}

func (f fixture) account(t *testing.T, balance int64) uuid.UUID {
	t.Helper()
	id := uuid.New()
	acct := &models.Account{
		ID:           id,
		Username:     "user-" + id.String()[:8],
		Email:        id.String()[:8] + "@example.com",
		PasswordHash: "hash",
		ReferralCode: id.String()[:8],
	}
	require.NoError(t, f.client.DB().Create(acct).Error)
	if balance > 0 {
		_, err := f.svc.Credit(context.Background(), Mutation{
			AccountID: id,
			Amount:    balance,
			Kind:      enums.TransactionKindCompetitionReward,
			Reason:    "seed",
		})
		require.NoError(t, err)
	}
	return id
}

func (f fixture) withConfig(t *testing.T, cfg config.LedgerConfig) fixture {
	t.Helper()
	svc, err := NewService(Params{
		DB:       f.client,
		Accounts: accounts.NewRepository(f.client.DB()),
		Entries:  NewRepository(f.client.DB()),
		Config:   cfg,
		Alerts:   f.raiser,
	})
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f fixture) assertInvariant(t *testing.T, id uuid.UUID) int64 {
	t.Helper()
	rec, err := f.svc.Reconcile(context.Background(), id)
	require.NoError(t, err)
	require.True(t, rec.Consistent, "balance %d, entries %d", rec.Balance, rec.EntrySum)
	return rec.Balance
}

func TestCredit_AppendsEntryWithBalanceSnapshot(t *testing.T) {
	f := newFixture(t, config.LedgerConfig{})
	id := f.account(t, 0)
	actor := uuid.New()

	entry, err := f.svc.Credit(context.Background(), Mutation{
		AccountID: id,
		Amount:    40,
		Kind:      enums.TransactionKindCompetitionReward,
		Reason:    "weekly quiz",
		ActorID:   &actor,
		Origin:    Origin{IP: "198.51.100.7", Client: "web"},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 40, entry.Amount)
	assert.EqualValues(t, 40, entry.BalanceAfter)
	require.NotNil(t, entry.OriginIP)
	assert.Equal(t, "198.51.100.7", *entry.OriginIP)

	entry, err = f.svc.Credit(context.Background(), Mutation{AccountID: id, Amount: 2, Kind: enums.TransactionKindCompetitionReward})
	require.NoError(t, err)
	assert.EqualValues(t, 42, entry.BalanceAfter)
	assert.Equal(t, string(enums.TransactionKindCompetitionReward), entry.Reason)
	assert.EqualValues(t, 42, f.assertInvariant(t, id))
}

func TestMutation_Validation(t *testing.T) {
	f := newFixture(t, config.LedgerConfig{})
	id := f.account(t, 10)
	ctx := context.Background()

	_, err := f.svc.Credit(ctx, Mutation{AccountID: id, Amount: 0, Kind: enums.TransactionKindPurchase})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = f.svc.Debit(ctx, Mutation{AccountID: id, Amount: 5, Kind: enums.TransactionKindPurchase})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = f.svc.Credit(ctx, Mutation{AccountID: id, Amount: 5, Kind: enums.TransactionKindReferralRejectionReversal})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = f.svc.Credit(ctx, Mutation{AccountID: id, Amount: 5, Kind: "bonus"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = f.svc.Credit(ctx, Mutation{AccountID: uuid.New(), Amount: 5, Kind: enums.TransactionKindPurchase})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestCredit_RejectsBalanceOverflow(t *testing.T) {
	f := newFixture(t, config.LedgerConfig{})
	id := f.account(t, 10)

	_, err := f.svc.Credit(context.Background(), Mutation{AccountID: id, Amount: math.MaxInt64, Kind: enums.TransactionKindCompetitionReward})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "got %v", err)
	assert.EqualValues(t, 10, f.assertInvariant(t, id))

	entry, err := f.svc.Credit(context.Background(), Mutation{AccountID: id, Amount: math.MaxInt64 - 10, Kind: enums.TransactionKindCompetitionReward})
	require.NoError(t, err)
	assert.EqualValues(t, int64(math.MaxInt64), entry.BalanceAfter)
}

func TestDebit_InsufficientBalanceLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t, config.LedgerConfig{})
	id := f.account(t, 30)

	_, err := f.svc.Debit(context.Background(), Mutation{AccountID: id, Amount: 31, Kind: enums.TransactionKindRewardRedemption})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientBalance))
	assert.EqualValues(t, 30, f.assertInvariant(t, id))

	entry, err := f.svc.Debit(context.Background(), Mutation{AccountID: id, Amount: 30, Kind: enums.TransactionKindRewardRedemption})
	require.NoError(t, err)
	assert.EqualValues(t, -30, entry.Amount)
	assert.EqualValues(t, 0, entry.BalanceAfter)
}

func TestConcurrentDebits_NeverOverdraw(t *testing.T) {
	f := newFixture(t, config.LedgerConfig{})
	id := f.account(t, 100)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Debit(context.Background(), Mutation{AccountID: id, Amount: 10, Kind: enums.TransactionKindRewardRedemption})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientBalance), "unexpected error: %v", err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)
	assert.EqualValues(t, 0, f.assertInvariant(t, id))
}

func TestConcurrentMixedOperations_KeepInvariant(t *testing.T) {
	f := newFixture(t, config.LedgerConfig{})
	a := f.account(t, 50)
	b := f.account(t, 50)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			_, _ = f.svc.Transfer(context.Background(), TransferInput{FromAccountID: a, ToAccountID: b, Amount: 7})
		}()
		go func() {
			defer wg.Done()
			_, _ = f.svc.Transfer(context.Background(), TransferInput{FromAccountID: b, ToAccountID: a, Amount: 5})
		}()
		go func() {
			defer wg.Done()
			_, _ = f.svc.Credit(context.Background(), Mutation{AccountID: a, Amount: 1, Kind: enums.TransactionKindCompetitionReward})
		}()
	}
	wg.Wait()

	total := f.assertInvariant(t, a) + f.assertInvariant(t, b)
	assert.EqualValues(t, 110, total)
}

func TestTransfer_LinkedPair(t *testing.T) {
	f := newFixture(t, config.LedgerConfig{})
	from := f.account(t, 25)
	to := f.account(t, 0)

	result, err := f.svc.Transfer(context.Background(), TransferInput{FromAccountID: from, ToAccountID: to, Amount: 25, Reason: "gift"})
	require.NoError(t, err)
	assert.Equal(t, enums.TransactionKindTransferOut, result.Out.Kind)
	assert.Equal(t, enums.TransactionKindTransferIn, result.In.Kind)
	require.NotNil(t, result.Out.RelatedID)
	require.NotNil(t, result.In.RelatedID)
	assert.Equal(t, to, *result.Out.RelatedID)
	assert.Equal(t, from, *result.In.RelatedID)
	assert.EqualValues(t, 0, f.assertInvariant(t, from))
	assert.EqualValues(t, 25, f.assertInvariant(t, to))
}

func TestTransfer_OverdrawNeverCreditsDestination(t *testing.T) {
	f := newFixture(t, config.LedgerConfig{})
	from := f.account(t, 10)
	to := f.account(t, 3)

	_, err := f.svc.Transfer(context.Background(), TransferInput{FromAccountID: from, ToAccountID: to, Amount: 11})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientBalance))
	assert.EqualValues(t, 10, f.assertInvariant(t, from))
	assert.EqualValues(t, 3, f.assertInvariant(t, to))

	_, err = f.svc.Transfer(context.Background(), TransferInput{FromAccountID: from, ToAccountID: uuid.New(), Amount: 1})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
	assert.EqualValues(t, 10, f.assertInvariant(t, from))

	_, err = f.svc.Transfer(context.Background(), TransferInput{FromAccountID: from, ToAccountID: from, Amount: 1})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestAdminFundedCredit(t *testing.T) {
	f := newFixture(t, config.LedgerConfig{})
	pool := f.account(t, 100)
	recipient := f.account(t, 0)
	f = f.withConfig(t, config.LedgerConfig{PoolAccountID: pool})

	result, err := f.svc.AdminFundedCredit(context.Background(), FundedCreditInput{
		AccountID: recipient,
		Amount:    60,
		Kind:      enums.TransactionKindWelcomeBonus,
		Reason:    "welcome",
	})
	require.NoError(t, err)
	assert.Equal(t, enums.TransactionKindAdminAdjustment, result.PoolEntry.Kind)
	assert.Equal(t, enums.TransactionKindWelcomeBonus, result.Entry.Kind)
	assert.Equal(t, pool, *result.Entry.RelatedID)
	assert.EqualValues(t, 40, f.assertInvariant(t, pool))
	assert.EqualValues(t, 60, f.assertInvariant(t, recipient))

	_, err = f.svc.AdminFundedCredit(context.Background(), FundedCreditInput{
		AccountID: recipient,
		Amount:    41,
		Kind:      enums.TransactionKindWelcomeBonus,
	})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientBalance))
	assert.Equal(t, "pool_insufficient", pkgerrors.Reason(err))
	assert.EqualValues(t, 40, f.assertInvariant(t, pool))
	assert.EqualValues(t, 60, f.assertInvariant(t, recipient))
}

func TestAdminFundedCredit_RequiresPool(t *testing.T) {
	f := newFixture(t, config.LedgerConfig{})
	recipient := f.account(t, 0)

	_, err := f.svc.AdminFundedCredit(context.Background(), FundedCreditInput{AccountID: recipient, Amount: 5, Kind: enums.TransactionKindWelcomeBonus})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestAdminAdjust_RaisesLargeAdjustmentAlert(t *testing.T) {
	f := newFixture(t, config.LedgerConfig{})
	id := f.account(t, 5000)
	admin := uuid.New()

	entry, err := f.svc.AdminAdjust(context.Background(), AdjustInput{AccountID: id, Amount: -1500, Reason: "chargeback", AdminID: admin})
	require.NoError(t, err)
	assert.EqualValues(t, -1500, entry.Amount)
	require.NotNil(t, entry.ActorID)
	assert.Equal(t, admin, *entry.ActorID)

	_, err = f.svc.AdminAdjust(context.Background(), AdjustInput{AccountID: id, Amount: 10, Reason: "goodwill", AdminID: admin})
	require.NoError(t, err)

	require.Len(t, f.raiser.events, 2)
	assert.True(t, alerts.Decide(alerts.Policy{LargeAdjustmentThreshold: 1000}, f.raiser.events[0]).Raise)
	assert.False(t, alerts.Decide(alerts.Policy{LargeAdjustmentThreshold: 1000}, f.raiser.events[1]).Raise)

	_, err = f.svc.AdminAdjust(context.Background(), AdjustInput{AccountID: id, Amount: 10, AdminID: admin})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestCreditPurchase_FloorsConversion(t *testing.T) {
	f := newFixture(t, config.LedgerConfig{CreditsPerUnit: decimal.NewFromInt(100)})
	id := f.account(t, 0)

	entry, err := f.svc.CreditPurchase(context.Background(), PurchaseInput{
		AccountID:  id,
		AmountPaid: decimal.RequireFromString("1.239"),
		Currency:   "usd",
		PaymentRef: "pi_123",
	})
	require.NoError(t, err)
	assert.EqualValues(t, 123, entry.Amount)
	assert.Equal(t, enums.TransactionKindPurchase, entry.Kind)
	assert.Contains(t, entry.Reason, "pi_123")
	assert.Contains(t, entry.Reason, "1.23 USD")

	_, err = f.svc.CreditPurchase(context.Background(), PurchaseInput{AccountID: id, AmountPaid: decimal.RequireFromString("0.009"), Currency: "USD", PaymentRef: "pi_124"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestHistory_PaginatesAndFilters(t *testing.T) {
	f := newFixture(t, config.LedgerConfig{})
	id := f.account(t, 0)
	other := f.account(t, 9)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := f.svc.Credit(ctx, Mutation{AccountID: id, Amount: int64(i + 1), Kind: enums.TransactionKindCompetitionReward})
		require.NoError(t, err)
	}
	_, err := f.svc.Debit(ctx, Mutation{AccountID: id, Amount: 1, Kind: enums.TransactionKindRewardRedemption})
	require.NoError(t, err)

	page, err := f.svc.History(ctx, HistoryFilter{AccountID: &id, Limit: 4})
	require.NoError(t, err)
	require.Len(t, page.Entries, 4)
	require.NotEmpty(t, page.Cursor)
	assert.Equal(t, enums.TransactionKindRewardRedemption, page.Entries[0].Kind)

	next, err := f.svc.History(ctx, HistoryFilter{AccountID: &id, Limit: 4, Cursor: page.Cursor})
	require.NoError(t, err)
	require.Len(t, next.Entries, 2)
	assert.Empty(t, next.Cursor)
	assert.Less(t, next.Entries[0].ID, page.Entries[3].ID)

	redemptions, err := f.svc.History(ctx, HistoryFilter{AccountID: &id, Kind: "reward_redemption"})
	require.NoError(t, err)
	require.Len(t, redemptions.Entries, 1)

	all, err := f.svc.History(ctx, HistoryFilter{})
	require.NoError(t, err)
	assert.Len(t, all.Entries, 7)
	for _, entry := range all.Entries {
		assert.Contains(t, []uuid.UUID{id, other}, entry.AccountID)
	}

	_, err = f.svc.History(ctx, HistoryFilter{Kind: "bogus"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	_, err = f.svc.History(ctx, HistoryFilter{Cursor: "not-a-cursor"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestWithTx_RollsBackWithCaller(t *testing.T) {
	f := newFixture(t, config.LedgerConfig{})
	id := f.account(t, 10)

	err := f.client.WithTx(context.Background(), func(tx *gorm.DB) error {
		if _, err := f.svc.WithTx(tx).Credit(context.Background(), Mutation{AccountID: id, Amount: 90, Kind: enums.TransactionKindCompetitionReward}); err != nil {
			return err
		}
		return pkgerrors.New(pkgerrors.CodeStateConflict, "abort")
	})
	require.Error(t, err)
	assert.EqualValues(t, 10, f.assertInvariant(t, id))
}

func TestReconcile_DetectsDrift(t *testing.T) {
	f := newFixture(t, config.LedgerConfig{})
	id := f.account(t, 10)

	require.NoError(t, f.client.DB().Model(&models.Account{}).Where("id = ?", id).Update("balance", 12).Error)

	rec, err := f.svc.Reconcile(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, rec.Consistent)
	assert.EqualValues(t, 2, rec.Difference())
}

func TestLedgerEntries_AreImmutable(t *testing.T) {
	f := newFixture(t, config.LedgerConfig{})
	id := f.account(t, 10)

	var entry models.LedgerEntry
	require.NoError(t, f.client.DB().First(&entry, "account_id = ?", id).Error)
	err := f.client.DB().Model(&entry).Update("amount", 99).Error
	assert.ErrorIs(t, err, models.ErrImmutableEntry)
	assert.ErrorIs(t, f.client.DB().Delete(&entry).Error, models.ErrImmutableEntry)
}
