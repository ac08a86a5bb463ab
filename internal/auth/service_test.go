package auth

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/credits-backend/internal/accounts"
	"github.com/angelmondragon/credits-backend/internal/activity"
	"github.com/angelmondragon/credits-backend/internal/ledger"
	"github.com/angelmondragon/credits-backend/internal/referrals"
	"github.com/angelmondragon/credits-backend/internal/rewards"
	"github.com/angelmondragon/credits-backend/internal/tracker"
	pkgAuth "github.com/angelmondragon/credits-backend/pkg/auth"
	"github.com/angelmondragon/credits-backend/pkg/config"
	"github.com/angelmondragon/credits-backend/pkg/db"
	"github.com/angelmondragon/credits-backend/pkg/db/dbtest"
	"github.com/angelmondragon/credits-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/credits-backend/pkg/errors"
	"github.com/angelmondragon/credits-backend/pkg/security"
)

var testJWT = config.JWTConfig{Secret: "secret", Issuer: "credits", ExpirationMinutes: 30}

var testPassword = config.PasswordConfig{
	ArgonMemoryKB:    1024,
	ArgonTime:        1,
	ArgonParallelism: 1,
	ArgonSaltLen:     16,
	ArgonKeyLen:      32,
}

type harness struct {
	client   *db.Client
	accounts accounts.Service
	ledger   ledger.Service
	svc      Service
}

func newHarness(t *testing.T, signupBonus int64, pool bool) harness {
	t.Helper()
	client := dbtest.Open(t)
	accountsRepo := accounts.NewRepository(client.DB())
	accountSvc, err := accounts.NewService(accountsRepo)
	require.NoError(t, err)
	ledgerSvc, err := ledger.NewService(ledger.Params{
		DB:       client,
		Accounts: accountsRepo,
		Entries:  ledger.NewRepository(client.DB()),
	})
	require.NoError(t, err)
	activitySvc, err := activity.NewService(activity.NewRepository(client.DB()))
	require.NoError(t, err)

	refCfg := config.ReferralConfig{
		RewardPerReferral: 50,
		WelcomeBonus:      25,
		SignupBonus:       signupBonus,
		VerificationDays:  7,
	}
	referralSvc, err := referrals.NewService(referrals.Params{
		DB:       client,
		Repo:     referrals.NewRepository(client.DB()),
		Accounts: accountsRepo,
		Ledger:   ledgerSvc,
		Activity: activitySvc,
		Policy:   rewards.PolicyFromConfig(refCfg),
		Config:   refCfg,
	})
	require.NoError(t, err)

	var poolID uuid.UUID
	if pool {
		acct, err := accountSvc.Create(context.Background(), accounts.CreateInput{
			Username:     "promotions",
			Email:        "promotions@example.com",
			PasswordHash: "unused",
			Role:         enums.AccountRoleAdmin,
		})
		require.NoError(t, err)
		poolID = acct.ID
	}

	guard := tracker.NewLoginGuard(tracker.LoginGuardParams{
		Counters: tracker.NewMemoryStore(),
		Locks:    tracker.NewMemoryLocks(),
		Config: config.LoginProtectionConfig{
			Window:               5 * time.Minute,
			SuccessLookback:      30 * time.Minute,
			SuspiciousSuccessMin: 3,
			IPThreshold:          5,
			IPLockoutStep:        10 * time.Minute,
			IPLockoutMax:         time.Hour,
			UserThreshold:        3,
			UserLockoutStep:      5 * time.Minute,
			UserLockoutMax:       30 * time.Minute,
			AdminIPThreshold:     3,
			AdminIPStep:          30 * time.Minute,
			AdminIPMax:           4 * time.Hour,
			AdminUserThreshold:   2,
			AdminUserStep:        20 * time.Minute,
			AdminUserMax:         2 * time.Hour,
		},
	})

	svc, err := NewService(ServiceParams{
		Accounts:       accountSvc,
		Ledger:         ledgerSvc,
		Referrals:      referralSvc,
		Guard:          guard,
		JWTConfig:      testJWT,
		PasswordConfig: testPassword,
		ReferralConfig: refCfg,
		PoolAccountID:  poolID,
	})
	require.NoError(t, err)
	return harness{client: client, accounts: accountSvc, ledger: ledgerSvc, svc: svc}
}

func (h harness) register(t *testing.T, username, code string) *RegisterResponse {
	t.Helper()
	resp, err := h.svc.Register(context.Background(), RegisterRequest{
		Username:     username,
		Email:        username + "@example.com",
		Password:     "correct horse",
		ReferralCode: code,
		OriginIP:     "198.51.100.9",
		UserAgent:    "Mozilla/5.0",
	})
	require.NoError(t, err)
	return resp
}

func (h harness) balance(t *testing.T, id uuid.UUID) int64 {
	t.Helper()
	balance, err := h.ledger.Balance(context.Background(), id)
	require.NoError(t, err)
	return balance
}

func TestRegister_WithReferralCode(t *testing.T) {
	h := newHarness(t, 10, false)
	referrer := h.register(t, "alice", "")
	require.NotNil(t, referrer.SignupBonus)
	assert.EqualValues(t, 10, referrer.SignupBonus.Amount)

	friend := h.register(t, "bob", referrer.Account.ReferralCode)
	require.NotNil(t, friend.Referral)
	assert.Empty(t, friend.ReferralRejection)
	assert.Equal(t, enums.ReferralStatusVerified, friend.Referral.Status)

	assert.EqualValues(t, 60, h.balance(t, referrer.Account.ID))
	assert.EqualValues(t, 35, h.balance(t, friend.Account.ID))

	ok, err := security.VerifyPassword("correct horse", friend.Account.PasswordHash)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRegister_RefusedReferralDoesNotBlockSignup(t *testing.T) {
	h := newHarness(t, 0, false)

	resp := h.register(t, "carol", "NOSUCHCODE")
	assert.Nil(t, resp.Referral)
	assert.Equal(t, referrals.ReasonInvalidCode, resp.ReferralRejection)
	assert.Nil(t, resp.SignupBonus)

	stored, err := h.accounts.Get(context.Background(), resp.Account.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.ReferredByID)
}

func TestRegister_DuplicateUsername(t *testing.T) {
	h := newHarness(t, 0, false)
	h.register(t, "dave", "")

	_, err := h.svc.Register(context.Background(), RegisterRequest{
		Username: "dave",
		Email:    "other@example.com",
		Password: "another secret",
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
}

func TestRegister_EmptyPoolSkipsSignupBonus(t *testing.T) {
	h := newHarness(t, 10, true)

	resp := h.register(t, "erin", "")
	assert.Nil(t, resp.SignupBonus)
	assert.Zero(t, h.balance(t, resp.Account.ID))
}

func TestLogin_IssuesToken(t *testing.T) {
	h := newHarness(t, 0, false)
	registered := h.register(t, "frank", "")

	resp, err := h.svc.Login(context.Background(), LoginRequest{Username: "frank", Password: "correct horse", IP: "203.0.113.1"})
	require.NoError(t, err)
	assert.True(t, resp.ExpiresAt.After(time.Now()))

	claims, err := pkgAuth.ParseAccessToken(testJWT, resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, registered.Account.ID, claims.AccountID)
	assert.Equal(t, enums.AccountRoleUser, claims.Role)
	assert.Equal(t, "frank", claims.Username)
}

func TestLogin_UnknownUser(t *testing.T) {
	h := newHarness(t, 0, false)

	_, err := h.svc.Login(context.Background(), LoginRequest{Username: "ghost", Password: "whatever", IP: "203.0.113.2"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized))
}

func TestLogin_LocksOutAfterRepeatedFailures(t *testing.T) {
	h := newHarness(t, 0, false)
	h.register(t, "grace", "")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := h.svc.Login(ctx, LoginRequest{Username: "grace", Password: "wrong", IP: "203.0.113.3"})
		require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized), "attempt %d", i+1)
	}

	_, err := h.svc.Login(ctx, LoginRequest{Username: "grace", Password: "wrong", IP: "203.0.113.3"})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeRateLimit))
	details, ok := pkgerrors.As(err).Details().(map[string]any)
	require.True(t, ok)
	assert.Equal(t, tracker.ScopeLoginUser, details["scope"])
	retry, ok := details["retry_after_seconds"].(int64)
	require.True(t, ok)
	assert.InDelta(t, 300, retry, 1)

	_, err = h.svc.Login(ctx, LoginRequest{Username: "grace", Password: "correct horse", IP: "203.0.113.4"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeRateLimit), "lockout holds for the right password too")
}

func TestLogin_AdminThresholdIsStricter(t *testing.T) {
	h := newHarness(t, 0, false)
	hash, err := security.HashPassword("admin secret", testPassword)
	require.NoError(t, err)
	_, err = h.accounts.Create(context.Background(), accounts.CreateInput{
		Username:     "root",
		Email:        "root@example.com",
		PasswordHash: hash,
		Role:         enums.AccountRoleAdmin,
	})
	require.NoError(t, err)

	_, err = h.svc.Login(context.Background(), LoginRequest{Username: "root", Password: "nope", IP: "203.0.113.5"})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized))
	_, err = h.svc.Login(context.Background(), LoginRequest{Username: "root", Password: "nope", IP: "203.0.113.5"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeRateLimit))
}

func TestLogin_UpgradesWeakHash(t *testing.T) {
	h := newHarness(t, 0, false)
	weak := testPassword
	weak.ArgonMemoryKB = 512
	hash, err := security.HashPassword("old secret", weak)
	require.NoError(t, err)
	acct, err := h.accounts.Create(context.Background(), accounts.CreateInput{
		Username:     "henry",
		Email:        "henry@example.com",
		PasswordHash: hash,
	})
	require.NoError(t, err)

	_, err = h.svc.Login(context.Background(), LoginRequest{Username: "henry", Password: "old secret", IP: "203.0.113.6"})
	require.NoError(t, err)

	stored, err := h.accounts.Get(context.Background(), acct.ID)
	require.NoError(t, err)
	assert.NotEqual(t, hash, stored.PasswordHash)
	assert.False(t, security.NeedsRehash(stored.PasswordHash, testPassword))
	ok, err := security.VerifyPassword("old secret", stored.PasswordHash)
	require.NoError(t, err)
	assert.True(t, ok)
}
