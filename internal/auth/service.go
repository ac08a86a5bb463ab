package auth

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/credits-backend/internal/accounts"
	"github.com/angelmondragon/credits-backend/internal/ledger"
	"github.com/angelmondragon/credits-backend/internal/referrals"
	"github.com/angelmondragon/credits-backend/internal/tracker"
	pkgAuth "github.com/angelmondragon/credits-backend/pkg/auth"
	"github.com/angelmondragon/credits-backend/pkg/config"
	"github.com/angelmondragon/credits-backend/pkg/db/models"
	"github.com/angelmondragon/credits-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/credits-backend/pkg/errors"
	"github.com/angelmondragon/credits-backend/pkg/logger"
	"github.com/angelmondragon/credits-backend/pkg/security"
)

const invalidCredentialsMessage = "invalid credentials"

// Service defines the behavior needed by the auth controller.
type Service interface {
	Register(ctx context.Context, req RegisterRequest) (*RegisterResponse, error)
	Login(ctx context.Context, req LoginRequest) (*LoginResponse, error)
}

type loginGuard interface {
	Check(ctx context.Context, username, ip string) tracker.Lockout
	RecordFailure(ctx context.Context, username, ip string, admin bool) tracker.Lockout
	RecordSuccess(ctx context.Context, username, ip string)
}

type referralCreator interface {
	Create(ctx context.Context, input referrals.CreateInput) (*models.Referral, error)
}

// ServiceParams bundles the dependencies required to build an auth service.
type ServiceParams struct {
	Accounts       accounts.Service
	Ledger         ledger.Service
	Referrals      referralCreator
	Guard          loginGuard
	JWTConfig      config.JWTConfig
	PasswordConfig config.PasswordConfig
	ReferralConfig config.ReferralConfig
	PoolAccountID  uuid.UUID
	Logger         *logger.Logger
}

type service struct {
	accounts    accounts.Service
	ledger      ledger.Service
	referrals   referralCreator
	guard       loginGuard
	jwtCfg      config.JWTConfig
	passwordCfg config.PasswordConfig
	referralCfg config.ReferralConfig
	poolID      uuid.UUID
	logg        *logger.Logger
	now         func() time.Time
}

// NewService constructs the auth service with the provided dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Accounts == nil {
		return nil, fmt.Errorf("account service is required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger service is required")
	}
	if params.Referrals == nil {
		return nil, fmt.Errorf("referral service is required")
	}
	if params.Guard == nil {
		return nil, fmt.Errorf("login guard is required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{
		accounts:    params.Accounts,
		ledger:      params.Ledger,
		referrals:   params.Referrals,
		guard:       params.Guard,
		jwtCfg:      params.JWTConfig,
		passwordCfg: params.PasswordConfig,
		referralCfg: params.ReferralConfig,
		poolID:      params.PoolAccountID,
		logg:        logg,
		now:         time.Now,
	}, nil
}

func (s *service) Register(ctx context.Context, req RegisterRequest) (*RegisterResponse, error) {
	if strings.TrimSpace(req.Password) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "password is required")
	}
	passwordHash, err := security.HashPassword(req.Password, s.passwordCfg)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "hash password")
	}

	account, err := s.accounts.Create(ctx, accounts.CreateInput{
		Username:        req.Username,
		Email:           req.Email,
		PasswordHash:    passwordHash,
		Role:            enums.AccountRoleUser,
		ReferralCodeTTL: s.referralCfg.CodeTTL,
	})
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithField(ctx, "account_id", account.ID.String())
	resp := &RegisterResponse{Account: account}

	resp.SignupBonus = s.grantSignupBonus(ctx, account.ID)

	if code := strings.TrimSpace(req.ReferralCode); code != "" {
		referral, err := s.referrals.Create(ctx, referrals.CreateInput{
			Code:       code,
			ReferredID: account.ID,
			OriginIP:   req.OriginIP,
			UserAgent:  req.UserAgent,
		})
		if err != nil {
			resp.ReferralRejection = rejectionReason(err)
			s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
				"referral_code": code,
				"reason":        resp.ReferralRejection,
			}), "referral code refused at registration")
		} else {
			resp.Referral = referral
		}
	}

	s.logg.Info(ctx, "account registered")
	return resp, nil
}

// grantSignupBonus never fails the registration; a short pool or a ledger
// error only costs the new account its bonus.
func (s *service) grantSignupBonus(ctx context.Context, accountID uuid.UUID) *models.LedgerEntry {
	amount := s.referralCfg.SignupBonus
	if amount <= 0 {
		return nil
	}
	if s.poolID != uuid.Nil {
		funded, err := s.ledger.AdminFundedCredit(ctx, ledger.FundedCreditInput{
			AccountID:     accountID,
			PoolAccountID: s.poolID,
			Amount:        amount,
			Kind:          enums.TransactionKindWelcomeBonus,
			Reason:        "signup bonus",
		})
		if err != nil {
			s.bonusFailed(ctx, err)
			return nil
		}
		return funded.Entry
	}
	entry, err := s.ledger.Credit(ctx, ledger.Mutation{
		AccountID: accountID,
		Amount:    amount,
		Kind:      enums.TransactionKindWelcomeBonus,
		Reason:    "signup bonus",
	})
	if err != nil {
		s.bonusFailed(ctx, err)
		return nil
	}
	return entry
}

func (s *service) bonusFailed(ctx context.Context, err error) {
	if pkgerrors.IsCode(err, pkgerrors.CodeInsufficientBalance) {
		s.logg.Warn(ctx, "promotional pool too low, signup bonus skipped")
		return
	}
	s.logg.Error(ctx, "signup bonus failed", err)
}

func (s *service) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, invalidCredentialsMessage)
	}
	ctx = s.logg.WithFields(ctx, map[string]any{"username": username, "ip": req.IP})

	if lock := s.guard.Check(ctx, username, req.IP); lock.Active() {
		return nil, s.lockedOut(lock)
	}

	account, err := s.accounts.GetByUsername(ctx, username)
	if err != nil {
		if !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			return nil, err
		}
		return nil, s.failed(ctx, username, req.IP, false)
	}

	valid, err := security.VerifyPassword(req.Password, account.PasswordHash)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "verify password")
	}
	if !valid {
		return nil, s.failed(ctx, username, req.IP, account.Role == enums.AccountRoleAdmin)
	}

	s.guard.RecordSuccess(ctx, username, req.IP)
	s.upgradeHash(ctx, account.ID, req.Password, account.PasswordHash)

	now := s.now().UTC()
	token, err := pkgAuth.MintAccessToken(s.jwtCfg, now, pkgAuth.Principal{
		AccountID: account.ID,
		Username:  account.Username,
		Role:      account.Role,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mint jwt")
	}
	s.logg.Info(s.logg.WithField(ctx, "account_id", account.ID.String()), "login succeeded")
	return &LoginResponse{
		AccessToken: token,
		ExpiresAt:   now.Add(s.jwtCfg.Expiration()),
		Account:     account,
	}, nil
}

// upgradeHash re-encodes the password when the stored hash predates the
// configured Argon2 costs. Failures only cost a retry on the next login.
func (s *service) upgradeHash(ctx context.Context, accountID uuid.UUID, password, stored string) {
	if !security.NeedsRehash(stored, s.passwordCfg) {
		return
	}
	hash, err := security.HashPassword(password, s.passwordCfg)
	if err == nil {
		err = s.accounts.UpdatePasswordHash(ctx, accountID, hash)
	}
	if err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "password rehash failed")
		return
	}
	s.logg.Info(ctx, "password hash upgraded")
}

func (s *service) failed(ctx context.Context, username, ip string, admin bool) error {
	if lock := s.guard.RecordFailure(ctx, username, ip, admin); lock.Active() {
		return s.lockedOut(lock)
	}
	return pkgerrors.New(pkgerrors.CodeUnauthorized, invalidCredentialsMessage)
}

func (s *service) lockedOut(lock tracker.Lockout) error {
	retry := lock.RetryAfter(s.now())
	return pkgerrors.New(pkgerrors.CodeRateLimit, "too many failed login attempts").
		WithReason("login_locked").
		WithDetail("scope", lock.Scope).
		WithDetail("retry_after_seconds", int64(math.Ceil(retry.Seconds())))
}

func rejectionReason(err error) string {
	if reason := pkgerrors.Reason(err); reason != "" {
		return reason
	}
	if typed := pkgerrors.As(err); typed != nil {
		return strings.ToLower(string(typed.Code()))
	}
	return "unavailable"
}
